package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"

	"github.com/confide-dev/confide"
)

const facebookUserInfoURL = "https://graph.facebook.com/me?fields=id,name,email"

// NewFacebook builds the Facebook provider. Empty arguments fall back to
// the OAUTH2_FACEBOOK_* environment variables.
func NewFacebook(clientID, clientSecret, callbackURL string) *Provider {
	if clientID == "" {
		clientID = strings.TrimSpace(os.Getenv("OAUTH2_FACEBOOK_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_FACEBOOK_CLIENT_SECRET"))
	}
	if callbackURL == "" {
		callbackURL = strings.TrimSpace(os.Getenv("OAUTH2_FACEBOOK_CALLBACK_URL"))
	}

	return NewProvider("facebook", oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  callbackURL,
		Scopes:       []string{"public_profile", "email"},
		Endpoint:     facebook.Endpoint,
	}, facebookUserInfo)
}

func facebookUserInfo(ctx context.Context, token *oauth2.Token) (*confide.Assertion, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, facebookUserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	response, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed getting user info from facebook: %w", err)
	}
	defer response.Body.Close()
	contents, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed read response: %w", err)
	}

	var info struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(contents, &info); err != nil {
		return nil, fmt.Errorf("failed to parse user info: %w", err)
	}

	return &confide.Assertion{
		Subject:     info.ID,
		DisplayName: info.Name,
		Email:       info.Email,
	}, nil
}

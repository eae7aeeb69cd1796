package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Iemontine/microblog/apperr"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

// Profile is everything the core learns about a provider-authenticated visitor.
type Profile struct {
	Subject string
	Name    string
	Email   string
}

// Provider is an OAuth2 identity provider.
type Provider interface {
	// AuthCodeURL is the consent page the visitor is sent to.
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for the visitor's profile.
	// Failures are apperr.UpstreamProvider.
	Exchange(ctx context.Context, code string) (*Profile, error)
}

// GoogleProvider signs visitors in with Google.
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
}

func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
		},
		userInfoURL: googleUserInfoURL,
	}
}

func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*Profile, error) {
	if code == "" {
		return nil, apperr.New(apperr.UpstreamProvider, "missing authorization code")
	}

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamProvider, err, "authorization code exchange failed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamProvider, err, "build profile request")
	}
	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamProvider, err, "profile fetch failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.UpstreamProvider, "profile fetch returned %s", resp.Status)
	}

	var info struct {
		Sub   string `json:"sub"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, apperr.Wrap(apperr.UpstreamProvider, err, "decode profile")
	}
	if info.Sub == "" {
		return nil, apperr.Wrap(apperr.UpstreamProvider, fmt.Errorf("empty subject"), "profile has no subject")
	}

	return &Profile{Subject: info.Sub, Name: info.Name, Email: info.Email}, nil
}

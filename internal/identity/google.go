package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"campushub/api/internal/store"
)

// GoogleConfig holds the OAuth client settings. The endpoint URLs are
// overridable so tests can point at a local server.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// GoogleClient performs the authorization-code exchange against Google
// and fetches the profile of the consenting user.
type GoogleClient struct {
	config GoogleConfig
	client *http.Client
}

func NewGoogleClient(config GoogleConfig) *GoogleClient {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	return &GoogleClient{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Configured reports whether OAuth credentials are present.
func (g *GoogleClient) Configured() bool {
	return g.config.ClientID != "" && g.config.ClientSecret != ""
}

// AuthCodeURL builds the consent-screen redirect for the given state.
func (g *GoogleClient) AuthCodeURL(state string) string {
	query := url.Values{}
	query.Set("client_id", g.config.ClientID)
	query.Set("redirect_uri", g.config.RedirectURL)
	query.Set("response_type", "code")
	query.Set("scope", "openid email profile")
	query.Set("state", state)
	return g.config.AuthURL + "?" + query.Encode()
}

// GoogleUser is the subset of the userinfo response we care about.
type GoogleUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
}

// Exchange trades an authorization code for the user's identity.
func (g *GoogleClient) Exchange(ctx context.Context, code string) (GoogleUser, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", g.config.ClientID)
	form.Set("client_secret", g.config.ClientSecret)
	form.Set("redirect_uri", g.config.RedirectURL)
	form.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return GoogleUser{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return GoogleUser{}, fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return GoogleUser{}, fmt.Errorf("token exchange status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return GoogleUser{}, fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return GoogleUser{}, fmt.Errorf("token response missing access_token")
	}

	return g.fetchUser(ctx, token.AccessToken)
}

func (g *GoogleClient) fetchUser(ctx context.Context, accessToken string) (GoogleUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.config.UserInfoURL, nil)
	if err != nil {
		return GoogleUser{}, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return GoogleUser{}, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return GoogleUser{}, fmt.Errorf("userinfo status %d", resp.StatusCode)
	}

	var user GoogleUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return GoogleUser{}, fmt.Errorf("decode userinfo: %w", err)
	}
	if user.Email == "" {
		return GoogleUser{}, fmt.Errorf("userinfo missing email")
	}
	return user, nil
}

// SignInWithGoogle completes the OAuth callback: exchange the code,
// then find or create the matching profile.
func (s *Service) SignInWithGoogle(ctx context.Context, google *GoogleClient, code string) (store.Profile, error) {
	user, err := google.Exchange(ctx, code)
	if err != nil {
		return store.Profile{}, fmt.Errorf("google sign-in: %w", err)
	}
	if !user.VerifiedEmail {
		return store.Profile{}, ErrEmailNotVerified
	}
	return s.ensureVerifiedProfile(ctx, normalizeEmail(user.Email))
}

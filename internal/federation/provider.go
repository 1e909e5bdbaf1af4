// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package federation runs the OAuth2 authorization-code handshake with
// external identity providers and turns the result into an
// auth.FederatedProfile. It never touches accounts or sessions.
package federation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
	"golang.org/x/oauth2"

	"github.com/holomush/secrets/internal/auth"
	"github.com/holomush/secrets/internal/config"
)

// maxUserinfoBytes bounds the userinfo document read from a provider.
const maxUserinfoBytes = 1 << 20

// Provider is one configured OAuth2 identity provider.
type Provider struct {
	name        string
	oauth       *oauth2.Config
	userinfoURL string
	httpClient  *http.Client
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithHTTPClient sets the client used for token exchange and userinfo.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// NewProvider creates a Provider whose callback is redirectURL.
func NewProvider(name string, cfg config.ProviderConfig, redirectURL string, opts ...ProviderOption) (*Provider, error) {
	if name == "" {
		return nil, oops.Code("FEDERATION_INVALID_CONFIG").Errorf("provider name is required")
	}
	if cfg.ClientID == "" || cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.UserinfoURL == "" {
		return nil, oops.Code("FEDERATION_INVALID_CONFIG").
			With("provider", name).
			Errorf("client_id, auth_url, token_url and userinfo_url are required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}

	p := &Provider{
		name: name,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			RedirectURL: redirectURL,
			Scopes:      scopes,
		},
		userinfoURL: cfg.UserinfoURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the provider's configured name.
func (p *Provider) Name() string {
	return p.name
}

// AuthCodeURL returns the provider URL to send the browser to. verifier is
// the PKCE code verifier; only its S256 challenge leaves the server here.
func (p *Provider) AuthCodeURL(state, verifier string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
}

// Authenticate exchanges the callback code and fetches the user's profile.
func (p *Provider) Authenticate(ctx context.Context, code, verifier string) (auth.FederatedProfile, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return auth.FederatedProfile{}, oops.Code("FEDERATION_EXCHANGE_FAILED").
			With("provider", p.name).
			Wrap(err)
	}
	return p.fetchProfile(ctx, token)
}

// userinfo is the subset of an OIDC userinfo document that is used.
type userinfo struct {
	Subject       string       `json:"sub"`
	ID            json.Number  `json:"id"`
	Email         string       `json:"email"`
	EmailVerified flexibleBool `json:"email_verified"`
	Name          string       `json:"name"`
	Picture       string       `json:"picture"`
	Locale        string       `json:"locale"`
}

func (p *Provider) fetchProfile(ctx context.Context, token *oauth2.Token) (auth.FederatedProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userinfoURL, nil)
	if err != nil {
		return auth.FederatedProfile{}, oops.Code("FEDERATION_USERINFO_FAILED").With("provider", p.name).Wrap(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return auth.FederatedProfile{}, oops.Code("FEDERATION_USERINFO_FAILED").With("provider", p.name).Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return auth.FederatedProfile{}, oops.Code("FEDERATION_USERINFO_FAILED").
			With("provider", p.name).
			With("status", resp.StatusCode).
			Errorf("userinfo endpoint returned %d", resp.StatusCode)
	}

	var info userinfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserinfoBytes)).Decode(&info); err != nil {
		return auth.FederatedProfile{}, oops.Code("FEDERATION_USERINFO_INVALID").With("provider", p.name).Wrap(err)
	}

	subject := info.Subject
	if subject == "" {
		subject = info.ID.String()
	}
	if subject == "" {
		return auth.FederatedProfile{}, oops.Code("FEDERATION_USERINFO_INVALID").
			With("provider", p.name).
			Errorf("userinfo has no subject")
	}

	attrs := map[string]string{}
	if info.Picture != "" {
		attrs["picture"] = info.Picture
	}
	if info.Locale != "" {
		attrs["locale"] = info.Locale
	}

	return auth.FederatedProfile{
		Provider:      p.name,
		Subject:       subject,
		Email:         info.Email,
		EmailVerified: bool(info.EmailVerified),
		DisplayName:   info.Name,
		Attributes:    attrs,
	}, nil
}

// flexibleBool accepts true, "true" and similar, since some providers send
// email_verified as a string.
type flexibleBool bool

func (b *flexibleBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*b = false
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return oops.Code("FEDERATION_USERINFO_INVALID").With("email_verified", s).Wrap(err)
	}
	*b = flexibleBool(v)
	return nil
}

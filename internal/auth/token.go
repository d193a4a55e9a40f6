// Package auth supplies the Google OAuth access tokens the Gmail transport
// sends with. Tokens are captured by the upstream login flow and stored per
// user; this package refreshes them and persists the result.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/sendquill/sendquill/internal/config"
	"github.com/sendquill/sendquill/internal/pkg/logger"
	"github.com/sendquill/sendquill/internal/service/sending"
)

// GmailSendScope is the only scope the sender needs.
const GmailSendScope = "https://www.googleapis.com/auth/gmail.send"

// ErrNoToken is returned by a TokenStore when the user never connected Google.
var ErrNoToken = errors.New("no oauth token stored for user")

// TokenStore persists OAuth tokens per user.
type TokenStore interface {
	GetToken(ctx context.Context, userID string) (*oauth2.Token, error)
	SaveToken(ctx context.Context, userID string, tok *oauth2.Token) error
}

// TokenProvider resolves a valid access token for a user, refreshing it
// against Google when it has expired.
type TokenProvider struct {
	oauth      *oauth2.Config
	store      TokenStore
	httpClient *http.Client
}

// NewTokenProvider builds a provider for the configured Google OAuth client.
func NewTokenProvider(cfg config.GoogleConfig, store TokenStore) *TokenProvider {
	return NewTokenProviderWithEndpoint(cfg, store, google.Endpoint)
}

// NewTokenProviderWithEndpoint is NewTokenProvider with an explicit token
// endpoint.
func NewTokenProviderWithEndpoint(cfg config.GoogleConfig, store TokenStore, endpoint oauth2.Endpoint) *TokenProvider {
	return &TokenProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{GmailSendScope},
			Endpoint:     endpoint,
		},
		store: store,
	}
}

// WithHTTPClient sets the client used for refresh calls.
func (p *TokenProvider) WithHTTPClient(c *http.Client) *TokenProvider {
	p.httpClient = c
	return p
}

// AccessToken returns a currently valid access token for userID. A missing
// token or a rejected refresh wraps sending.ErrAuthExpired.
func (p *TokenProvider) AccessToken(ctx context.Context, userID string) (string, error) {
	stored, err := p.store.GetToken(ctx, userID)
	if errors.Is(err, ErrNoToken) {
		return "", fmt.Errorf("%w: google account not connected", sending.ErrAuthExpired)
	}
	if err != nil {
		return "", fmt.Errorf("load token: %w", err)
	}

	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}
	fresh, err := p.oauth.TokenSource(ctx, stored).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return "", fmt.Errorf("%w: refresh rejected: %s", sending.ErrAuthExpired, re.ErrorCode)
		}
		return "", fmt.Errorf("%w: refresh token: %v", sending.ErrAuthExpired, err)
	}

	if fresh.AccessToken != stored.AccessToken {
		// Google may omit the refresh token on refresh responses.
		if fresh.RefreshToken == "" {
			fresh.RefreshToken = stored.RefreshToken
		}
		if err := p.store.SaveToken(ctx, userID, fresh); err != nil {
			logger.Warn("persist refreshed token failed", "user_id", userID, "error", err)
		} else {
			logger.Debug("oauth token refreshed", "user_id", userID, "expiry", fresh.Expiry)
		}
	}
	return fresh.AccessToken, nil
}

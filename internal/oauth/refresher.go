// Package oauth trades stored refresh tokens for short-lived access tokens
// via the standard OAuth 2.0 refresh-token grant.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2/google"
)

// ErrInvalidGrant marks a permanently revoked refresh token. Callers disable
// the credential instead of retrying.
var ErrInvalidGrant = errors.New("oauth: invalid_grant")

// Material is the decrypted token material for one refresh attempt.
type Material struct {
	RefreshToken string
	// ClientID/ClientSecret override the system defaults when the upload
	// carried its own OAuth client.
	ClientID     string
	ClientSecret string
}

// Token is a freshly minted access token.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

type RefresherOption func(*Refresher)

type Refresher struct {
	clientID     string
	clientSecret string
	tokenURL     string
	httpClient   *http.Client
	now          func() time.Time
}

// NewRefresher creates a refresher with the system default OAuth client.
func NewRefresher(clientID, clientSecret string, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     google.Endpoint.TokenURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// WithTokenURL overrides the token endpoint.
func WithTokenURL(tokenURL string) RefresherOption {
	return func(r *Refresher) {
		if tokenURL != "" {
			r.tokenURL = tokenURL
		}
	}
}

// WithHTTPClient overrides the HTTP client used for the grant.
func WithHTTPClient(client *http.Client) RefresherOption {
	return func(r *Refresher) {
		if client != nil {
			r.httpClient = client
		}
	}
}

// WithNowFunc overrides the clock (testing).
func WithNowFunc(now func() time.Time) RefresherOption {
	return func(r *Refresher) {
		if now != nil {
			r.now = now
		}
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Refresh performs the refresh-token grant. The credential's own OAuth client
// wins over the system default when both halves are present.
func (r *Refresher) Refresh(ctx context.Context, m Material) (*Token, error) {
	if m.RefreshToken == "" {
		return nil, fmt.Errorf("oauth: no refresh token available")
	}

	clientID, clientSecret := r.clientID, r.clientSecret
	if m.ClientID != "" && m.ClientSecret != "" {
		clientID, clientSecret = m.ClientID, m.ClientSecret
	}
	if strings.TrimSpace(clientID) == "" || strings.TrimSpace(clientSecret) == "" {
		return nil, fmt.Errorf("oauth: client credentials not configured")
	}

	data := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"refresh_token": {m.RefreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("oauth: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth: refresh token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if strings.Contains(string(body), "invalid_grant") {
			log.WithField("status", resp.StatusCode).Warn("refresh token revoked")
			return nil, ErrInvalidGrant
		}
		return nil, fmt.Errorf("oauth: token refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("oauth: decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("oauth: empty access token in response")
	}

	tok := &Token{AccessToken: tr.AccessToken}
	if tr.ExpiresIn > 0 {
		tok.ExpiresAt = r.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok, nil
}

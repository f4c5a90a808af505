// Package auth resolves bearer credentials to verified identities by asking
// the identity service who the token belongs to.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"docingest/internal/config"
)

var (
	// ErrUnauthorized means the credential is missing, malformed, expired or unknown.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnavailable means the identity service could not answer.
	ErrUnavailable = errors.New("identity service unavailable")
)

// Identity is a principal vouched for by the identity service.
type Identity struct {
	UserID string
	Email  string
}

// Verifier turns an opaque credential into an Identity.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

// HTTPVerifier calls GET {base}/auth/v1/user with the caller's bearer token.
type HTTPVerifier struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	precheck bool
	now      func() time.Time
}

// NewHTTPVerifier builds a verifier against the configured identity service.
func NewHTTPVerifier(cfg config.AuthConfig) (*HTTPVerifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("identity service url is required")
	}
	return &HTTPVerifier{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		precheck: cfg.JWTPrecheck,
		now:      time.Now,
	}, nil
}

var _ Verifier = (*HTTPVerifier)(nil)

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Verify never derives identity from the token itself; the precheck only
// rejects tokens that cannot possibly be valid before spending a round trip.
func (v *HTTPVerifier) Verify(ctx context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, fmt.Errorf("%w: missing credential", ErrUnauthorized)
	}
	if v.precheck {
		if err := v.checkShape(credential); err != nil {
			return Identity{}, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")
	if v.apiKey != "" {
		req.Header.Set("apikey", v.apiKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Identity{}, fmt.Errorf("%w: identity service rejected token (%d)", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Identity{}, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	var u userResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&u); err != nil {
		return Identity{}, fmt.Errorf("%w: decode user: %v", ErrUnavailable, err)
	}
	if strings.TrimSpace(u.ID) == "" {
		return Identity{}, fmt.Errorf("%w: no user for token", ErrUnauthorized)
	}
	return Identity{UserID: u.ID, Email: u.Email}, nil
}

func (v *HTTPVerifier) checkShape(token string) error {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return fmt.Errorf("%w: malformed token", ErrUnauthorized)
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(v.now()) {
		return fmt.Errorf("%w: token expired", ErrUnauthorized)
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value.
// The scheme is matched case-insensitively; anything else yields "".
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

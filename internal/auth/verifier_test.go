package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docingest/internal/config"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "attacker-controlled-subject",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("not-the-real-secret"))
	require.NoError(t, err)
	return s
}

func newVerifier(t *testing.T, handler http.HandlerFunc, precheck bool) (*HTTPVerifier, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	v, err := NewHTTPVerifier(config.AuthConfig{
		URL:         srv.URL + "/",
		APIKey:      "anon-key",
		Timeout:     2 * time.Second,
		JWTPrecheck: precheck,
	})
	require.NoError(t, err)
	return v, &calls
}

func TestHTTPVerifier_Verify(t *testing.T) {
	ctx := context.Background()
	valid := signedToken(t, time.Now().Add(time.Hour))

	t.Run("identity comes from the service, not the token", func(t *testing.T) {
		v, calls := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/auth/v1/user", r.URL.Path)
			assert.Equal(t, "Bearer "+valid, r.Header.Get("Authorization"))
			assert.Equal(t, "anon-key", r.Header.Get("apikey"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"user-123","email":"a@example.com"}`))
		}, true)

		id, err := v.Verify(ctx, valid)
		require.NoError(t, err)
		assert.Equal(t, "user-123", id.UserID)
		assert.Equal(t, "a@example.com", id.Email)
		assert.EqualValues(t, 1, atomic.LoadInt32(calls))
	})

	t.Run("rejected token", func(t *testing.T) {
		v, _ := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}, true)

		_, err := v.Verify(ctx, valid)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("empty identity is a rejection", func(t *testing.T) {
		v, _ := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":""}`))
		}, true)

		_, err := v.Verify(ctx, valid)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("service error is unavailable", func(t *testing.T) {
		v, _ := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}, true)

		_, err := v.Verify(ctx, valid)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.NotErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("garbage body is unavailable", func(t *testing.T) {
		v, _ := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}, true)

		_, err := v.Verify(ctx, valid)
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("missing credential never calls out", func(t *testing.T) {
		v, calls := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {}, true)

		_, err := v.Verify(ctx, "")
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.EqualValues(t, 0, atomic.LoadInt32(calls))
	})

	t.Run("malformed token rejected by precheck", func(t *testing.T) {
		v, calls := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {}, true)

		_, err := v.Verify(ctx, "definitely-not-a-jwt")
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.EqualValues(t, 0, atomic.LoadInt32(calls))
	})

	t.Run("expired token rejected by precheck", func(t *testing.T) {
		v, calls := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {}, true)

		_, err := v.Verify(ctx, signedToken(t, time.Now().Add(-time.Minute)))
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.EqualValues(t, 0, atomic.LoadInt32(calls))
	})

	t.Run("opaque tokens allowed without precheck", func(t *testing.T) {
		v, calls := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":"user-9"}`))
		}, false)

		id, err := v.Verify(ctx, "opaque-session-token")
		require.NoError(t, err)
		assert.Equal(t, "user-9", id.UserID)
		assert.EqualValues(t, 1, atomic.LoadInt32(calls))
	})
}

func TestNewHTTPVerifier_RequiresURL(t *testing.T) {
	_, err := NewHTTPVerifier(config.AuthConfig{})
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"BEARER   abc  ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"Bearer ", ""},
		{"", ""},
		{"abc", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BearerToken(tt.header), "header %q", tt.header)
	}
}

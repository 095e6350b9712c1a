package auth

import (
	"chat-sync/errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestTokens_Roundtrip(t *testing.T) {
	req := require.New(t)
	tokens := NewTokens("secret", time.Hour)

	token, err := tokens.GenerateToken(Identity{UserID: "u1", Username: "alice"})
	req.NoError(err)

	identity, err := tokens.Resolve(token)
	req.NoError(err)
	req.Equal(Identity{UserID: "u1", Username: "alice"}, identity)
}

func TestTokens_Resolve_Rejections(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	other, err := NewTokens("another secret", time.Hour).GenerateToken(Identity{UserID: "u1"})
	require.NoError(t, err)
	expired := NewTokens("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.GenerateToken(Identity{UserID: "u1"})
	require.NoError(t, err)
	anonymous, err := tokens.GenerateToken(Identity{})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", other},
		{"expired", old},
		{"no user id", anonymous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tokens.Resolve(tt.token)
			require.ErrorIs(t, err, errors.ErrUnauthorized)
		})
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens := NewTokens("secret", time.Hour)
	token, err := tokens.GenerateToken(Identity{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	router := gin.New()
	router.Use(Middleware(tokens))
	router.GET("/me", func(c *gin.Context) {
		identity, ok := IdentityFrom(c.Request.Context())
		if !ok {
			c.Status(http.StatusTeapot)
			return
		}
		c.String(http.StatusOK, identity.UserID)
	})
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"valid token", "/me", "Bearer " + token, http.StatusOK},
		{"missing token", "/me", "", http.StatusUnauthorized},
		{"not a bearer", "/me", "Basic " + token, http.StatusUnauthorized},
		{"public path", "/healthz", "", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, r)
			req.Equal(tt.status, w.Code)
			if tt.status == http.StatusOK {
				req.Equal("u1", w.Body.String())
			}
		})
	}
}

package auth

import (
	"chat-sync/errors"
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type contextKey string

const identityKey contextKey = "identity"

// Paths reachable without a bearer token. The websocket endpoint
// authenticates through its own handshake frame.
var publicPaths = map[string]struct{}{
	"/healthz": {},
	"/ws":      {},
}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFrom returns the identity stored by the middleware, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok && identity.UserID != ""
}

// Middleware resolves the Authorization header and injects the identity
// into the request context. Requests without a valid token are refused.
func Middleware(resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := publicPaths[c.FullPath()]; ok {
			c.Next()
			return
		}
		identity, err := resolver.Resolve(BearerToken(c.GetHeader("Authorization")))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errors.ErrUnauthorized.Error()})
			return
		}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), identity))
		c.Next()
	}
}

// BearerToken extracts the token of a "Bearer <token>" header value.
func BearerToken(header string) string {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

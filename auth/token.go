package auth

import (
	"chat-sync/errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "chat-sync"

// Identity is who a request or a socket acts as.
type Identity struct {
	UserID   string
	Username string
}

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// IdentityResolver turns a bearer token into an identity.
type IdentityResolver interface {
	Resolve(token string) (Identity, error)
}

// Tokens signs and checks HS256 tokens with a shared secret.
type Tokens struct {
	secret   []byte
	duration time.Duration
	now      func() time.Time
}

func NewTokens(secret string, duration time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), duration: duration, now: time.Now}
}

// GenerateToken creates a signed JWT for identity.
func (t *Tokens) GenerateToken(identity Identity) (string, error) {
	now := t.now()
	claims := &CustomClaims{
		UserID:   identity.UserID,
		Username: identity.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(t.duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// ValidateToken parses and validates the signature and expiration of a JWT string.
func (t *Tokens) ValidateToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrSignatureInvalid
}

// Resolve returns ErrUnauthorized for any token that does not carry a user id.
func (t *Tokens) Resolve(token string) (Identity, error) {
	if token == "" {
		return Identity{}, errors.ErrUnauthorized
	}
	claims, err := t.ValidateToken(token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", errors.ErrUnauthorized, err)
	}
	if claims.UserID == "" {
		return Identity{}, errors.ErrUnauthorized
	}
	return Identity{UserID: claims.UserID, Username: claims.Username}, nil
}

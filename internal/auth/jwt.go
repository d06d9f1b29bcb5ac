// Package auth verifies the JWT presented on the WebSocket upgrade and
// extracts the user id the connection acts as.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fefudrive/tripchat/internal/protocol"
)

var (
	ErrMissingToken = errors.New("auth: missing token")
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrExpiredToken = errors.New("auth: token has expired")
)

// Claims are the JWT claims issued by the ride-share API. userId may be a
// number or a string.
type Claims struct {
	UserID protocol.ID `json:"userId"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier. An empty secret disables authentication.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Enabled reports whether upgrades must carry a token.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Authenticate returns the user id of the request's token. When
// authentication is disabled it returns an empty id and no error.
func (v *Verifier) Authenticate(r *http.Request) (string, error) {
	if !v.Enabled() {
		return "", nil
	}
	token := TokenFromRequest(r)
	if token == "" {
		return "", ErrMissingToken
	}
	claims, err := v.Validate(token)
	if err != nil {
		return "", err
	}
	return claims.UserID.String(), nil
}

// Validate parses the token and checks its signature, expiry and user id.
func (v *Verifier) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Sign issues a token for userID valid for ttl.
func (v *Verifier) Sign(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: protocol.ID(userID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// TokenFromRequest reads the token from the "token" query parameter or an
// "Authorization: Bearer" header.
func TokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

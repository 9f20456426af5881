package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("unauthorized")

// Identity is the authenticated user behind a connection or request.
type Identity struct {
	UserID string `json:"_id"`
	Email  string `json:"email"`
}

// Anonymous is used when authentication is disabled.
var Anonymous = Identity{UserID: "anonymous", Email: "anonymous@localhost"}

type Claims struct {
	UserID string `json:"_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Validator resolves bearer tokens into identities.
type Validator interface {
	Validate(token string) (Identity, error)
}

// HMACValidator validates HS256 tokens signed with a shared secret.
type HMACValidator struct {
	secret []byte
}

func NewHMACValidator(secret string) *HMACValidator {
	return &HMACValidator{secret: []byte(secret)}
}

func (v *HMACValidator) Validate(token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	if len(v.secret) == 0 {
		return Identity{}, fmt.Errorf("%w: no signing secret configured", ErrUnauthorized)
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Email == "" {
		return Identity{}, fmt.Errorf("%w: token has no email", ErrUnauthorized)
	}
	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	return Identity{UserID: id, Email: claims.Email}, nil
}

// Sign mints an HS256 token for id, valid for ttl.
func (v *HMACValidator) Sign(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: id.UserID,
		Email:  id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// AllowAll accepts any token, returning Anonymous.
type AllowAll struct{}

func (AllowAll) Validate(string) (Identity, error) { return Anonymous, nil }

// TokenFromRequest extracts a token from the "token" query parameter or an
// "Authorization: Bearer" header.
func TokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

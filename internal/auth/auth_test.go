package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndValidate(t *testing.T) {
	v := NewHMACValidator("s3cret")
	token, err := v.Sign(Identity{UserID: "u1", Email: "a@example.com"}, time.Hour)
	require.NoError(t, err)

	id, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u1", Email: "a@example.com"}, id)
}

func TestValidateRejects(t *testing.T) {
	v := NewHMACValidator("s3cret")

	_, err := v.Validate("")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = v.Validate("not-a-jwt")
	assert.ErrorIs(t, err, ErrUnauthorized)

	other, err := NewHMACValidator("different").Sign(Identity{UserID: "u1", Email: "a@example.com"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Validate(other)
	assert.ErrorIs(t, err, ErrUnauthorized)

	expired, err := v.Sign(Identity{UserID: "u1", Email: "a@example.com"}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Validate(expired)
	assert.ErrorIs(t, err, ErrUnauthorized)

	noEmail, err := v.Sign(Identity{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Validate(noEmail)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidateRejectsOtherAlgorithms(t *testing.T) {
	v := NewHMACValidator("s3cret")
	tok := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: "u1", Email: "a@example.com"})
	signed, err := tok.SignedString([]byte("s3cret"))
	require.NoError(t, err)

	_, err = v.Validate(signed)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidateWithoutSecret(t *testing.T) {
	_, err := NewHMACValidator("").Validate("x.y.z")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=abc", nil)
	assert.Equal(t, "abc", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer xyz")
	assert.Equal(t, "xyz", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Basic xyz")
	assert.Equal(t, "", TokenFromRequest(r))
}

func TestAllowAll(t *testing.T) {
	id, err := AllowAll{}.Validate("")
	require.NoError(t, err)
	assert.Equal(t, Anonymous, id)
}

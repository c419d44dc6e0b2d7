package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

func TestInspect(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	no := false
	raw := sign(t, Claims{
		Name:  "Chad",
		Video: &VideoGrant{Room: "chad", RoomJoin: true, CanPublish: &no},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "chad",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})

	g, err := Inspect(raw)
	require.NoError(t, err)
	assert.Equal(t, "chad", g.Identity)
	assert.Equal(t, "Chad", g.Name)
	assert.Equal(t, "chad", g.Room)
	assert.False(t, g.CanPublish)
	assert.True(t, g.ExpiresAt.Equal(exp))
	assert.False(t, g.Expired(time.Now()))
	assert.True(t, g.Expired(exp))
}

func TestInspect_ExpiredTokenStillReadable(t *testing.T) {
	raw := sign(t, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "old",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}})
	g, err := Inspect(raw)
	require.NoError(t, err)
	assert.Equal(t, "old", g.Identity)
	assert.True(t, g.Expired(time.Now()))
	assert.True(t, g.CanPublish)
}

func TestInspect_Errors(t *testing.T) {
	_, err := Inspect("")
	assert.Error(t, err)
	_, err = Inspect("not.a.jwt")
	assert.Error(t, err)
}

func TestResolve_Fallbacks(t *testing.T) {
	g, err := Resolve("")
	assert.Error(t, err)
	assert.Regexp(t, `^user-[0-9a-f]{8}$`, g.Identity)
	assert.Regexp(t, `^playground-[0-9a-f]{8}$`, g.Room)

	g, err = Resolve(sign(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "me"}}))
	require.NoError(t, err)
	assert.Equal(t, "me", g.Identity)
	assert.NotEmpty(t, g.Room)
}

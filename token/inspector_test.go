package token

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Unix(1_700_000_000, 0)

func mint(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return signed
}

func expiringIn(t *testing.T, d time.Duration) string {
	t.Helper()
	return mint(t, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(fixedNow.Add(d)),
	})
}

func TestClassify(t *testing.T) {
	inspector := NewInspector(2*time.Minute, WithClock(func() time.Time { return fixedNow }))

	tests := []struct {
		name  string
		token string
		want  Status
	}{
		{name: "valid for an hour", token: expiringIn(t, time.Hour), want: Valid},
		{name: "exactly at threshold is valid", token: expiringIn(t, 2*time.Minute), want: Valid},
		{name: "expires in 30s with 120s threshold", token: expiringIn(t, 30*time.Second), want: ExpiringSoon},
		{name: "expires now", token: expiringIn(t, 0), want: Expired},
		{name: "expired an hour ago", token: expiringIn(t, -time.Hour), want: Expired},
		{name: "empty", token: "", want: Malformed},
		{name: "not a jwt", token: "opaque-session-token", want: Malformed},
		{name: "garbage payload", token: "aGVhZGVy.!!!.c2ln", want: Malformed},
		{
			name:  "missing exp",
			token: mint(t, jwt.RegisteredClaims{Subject: "user-42"}),
			want:  Malformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, inspector.Classify(tt.token))
		})
	}
}

func TestClassify_IndependentOfCallOrder(t *testing.T) {
	inspector := NewInspector(time.Minute, WithClock(func() time.Time { return fixedNow }))
	expired := expiringIn(t, -5*time.Second)
	valid := expiringIn(t, time.Hour)

	for range 5 {
		assert.Equal(t, Expired, inspector.Classify(expired))
		assert.Equal(t, Valid, inspector.Classify(valid))
	}
}

func TestClassify_FollowsClock(t *testing.T) {
	now := fixedNow
	inspector := NewInspector(time.Minute, WithClock(func() time.Time { return now }))
	tok := expiringIn(t, 10*time.Minute)

	assert.Equal(t, Valid, inspector.Classify(tok))

	now = fixedNow.Add(9*time.Minute + 30*time.Second)
	assert.Equal(t, ExpiringSoon, inspector.Classify(tok))

	now = fixedNow.Add(10 * time.Minute)
	assert.Equal(t, Expired, inspector.Classify(tok))
}

func TestDecode(t *testing.T) {
	inspector := NewInspector(time.Minute)

	claims, err := inspector.Decode(expiringIn(t, time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.Subject)
	assert.True(t, claims.ExpiresAt.Equal(fixedNow.Add(time.Hour)))

	// Unsigned tokens decode too: the signature is never checked client side.
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"exp":1700003600,"sub":"svc"}`))
	claims, err = inspector.Decode("eyJhbGciOiJIUzI1NiJ9." + payload + ".sig")
	require.NoError(t, err)
	assert.Equal(t, "svc", claims.Subject)

	_, err = inspector.Decode("nope")
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestStatusUsable(t *testing.T) {
	assert.True(t, Valid.Usable())
	assert.True(t, ExpiringSoon.Usable())
	assert.False(t, Expired.Usable())
	assert.False(t, Malformed.Usable())
	assert.Equal(t, "expiring_soon", ExpiringSoon.String())
}

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestSigner_IssueAndVerify(t *testing.T) {
	s := NewSigner(testSecret, "roomrelay")

	token, err := s.Issue("user-1", time.Hour)
	require.NoError(t, err)

	subject, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", subject)
}

func TestSigner_Rejects(t *testing.T) {
	s := NewSigner(testSecret, "roomrelay")

	expired := NewSigner(testSecret, "roomrelay")
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, err := expired.Issue("user-1", time.Hour)
	require.NoError(t, err)

	otherKey, err := NewSigner("other-secret", "roomrelay").Issue("user-1", time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewSigner(testSecret, "someone-else").Issue("user-1", time.Hour)
	require.NoError(t, err)

	noSubject, err := s.Issue("", time.Hour)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "user-1",
		Issuer:  "roomrelay",
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":      expiredToken,
		"wrong key":    otherKey,
		"wrong issuer": otherIssuer,
		"no subject":   noSubject,
		"no expiry":    noExpiry,
		"garbage":      "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestSigner_NoSecret(t *testing.T) {
	s := NewSigner("", "roomrelay")

	_, err := s.Issue("user-1", time.Hour)
	assert.ErrorIs(t, err, ErrNoSecret)

	token, err := NewSigner(testSecret, "roomrelay").Issue("user-1", time.Hour)
	require.NoError(t, err)
	_, err = s.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSigner_VerifyRequest(t *testing.T) {
	s := NewSigner(testSecret, "roomrelay")
	token, err := s.Issue("user-1", time.Hour)
	require.NoError(t, err)

	t.Run("bearer header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
		r.Header.Set("Authorization", "Bearer "+token)
		subject, err := s.VerifyRequest(r)
		require.NoError(t, err)
		assert.Equal(t, "user-1", subject)
	})

	t.Run("raw header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
		r.Header.Set("Authorization", token)
		subject, err := s.VerifyRequest(r)
		require.NoError(t, err)
		assert.Equal(t, "user-1", subject)
	})

	t.Run("query parameter", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws?token="+token, http.NoBody)
		subject, err := s.VerifyRequest(r)
		require.NoError(t, err)
		assert.Equal(t, "user-1", subject)
	})

	t.Run("missing", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
		_, err := s.VerifyRequest(r)
		assert.ErrorIs(t, err, ErrMissingToken)
	})
}

func TestParseUsers(t *testing.T) {
	users := ParseUsers(" alice=Alice Liddell, bob ,=nobody,,carol=")
	assert.Equal(t, []User{
		{ID: "alice", Name: "Alice Liddell"},
		{ID: "bob", Name: "bob"},
		{ID: "carol", Name: "carol"},
	}, users)
}

func TestGate_Authenticate(t *testing.T) {
	s := NewSigner(testSecret, "roomrelay")
	alice, err := s.Issue("alice", time.Hour)
	require.NoError(t, err)
	mallory, err := s.Issue("mallory", time.Hour)
	require.NoError(t, err)

	request := func(token string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
		r.Header.Set("Authorization", "Bearer "+token)
		return r
	}

	t.Run("without user directory", func(t *testing.T) {
		p, err := NewGate(s, nil).Authenticate(request(mallory))
		require.NoError(t, err)
		assert.Equal(t, "mallory", p.Subject())
		assert.Nil(t, p.User)
	})

	store := NewMemoryUserStore(User{ID: "alice", Name: "Alice"})
	gate := NewGate(s, store)

	t.Run("known user", func(t *testing.T) {
		p, err := gate.Authenticate(request(alice))
		require.NoError(t, err)
		require.NotNil(t, p.User)
		assert.Equal(t, "Alice", p.User.Name)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := gate.Authenticate(request(mallory))
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("invalid token", func(t *testing.T) {
		_, err := gate.Authenticate(request("bogus"))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	store.Put(User{ID: "mallory", Name: "Mallory"})
	u, err := store.UserByID(context.Background(), "mallory")
	require.NoError(t, err)
	assert.Equal(t, "Mallory", u.Name)
}

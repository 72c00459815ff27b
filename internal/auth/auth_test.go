package auth_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovasilenko/coin-auctions/internal/auth"
)

func newKeyPair(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return key, pubPEM
}

func signToken(t *testing.T, key *rsa.PrivateKey, sub string, role string, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub":   sub,
		"name":  "alice",
		"email": "alice@example.com",
		"role":  role,
		"exp":   expiresAt.Unix(),
	})
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestVerify(t *testing.T) {
	key, pubPEM := newKeyPair(t)
	verifier, err := auth.NewVerifier(pubPEM)
	require.NoError(t, err)

	userID := uuid.New()

	t.Run("valid token", func(t *testing.T) {
		token := signToken(t, key, userID.String(), "bidder", time.Now().Add(time.Hour))
		identity, err := verifier.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, userID, identity.UserID)
		assert.Equal(t, "alice", identity.DisplayName)
		assert.Equal(t, "alice@example.com", identity.Email)
		assert.False(t, identity.IsAdmin())
	})

	t.Run("admin role", func(t *testing.T) {
		token := signToken(t, key, userID.String(), auth.RoleAdmin, time.Now().Add(time.Hour))
		identity, err := verifier.Verify(token)
		require.NoError(t, err)
		assert.True(t, identity.IsAdmin())
	})

	t.Run("expired token", func(t *testing.T) {
		token := signToken(t, key, userID.String(), "bidder", time.Now().Add(-time.Minute))
		_, err := verifier.Verify(token)
		assert.Error(t, err)
	})

	t.Run("token signed by a different key", func(t *testing.T) {
		otherKey, _ := newKeyPair(t)
		token := signToken(t, otherKey, userID.String(), "bidder", time.Now().Add(time.Hour))
		_, err := verifier.Verify(token)
		assert.Error(t, err)
	})

	t.Run("non-uuid subject", func(t *testing.T) {
		token := signToken(t, key, "not-a-uuid", "bidder", time.Now().Add(time.Hour))
		_, err := verifier.Verify(token)
		assert.Error(t, err)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := verifier.Verify("not.a.token")
		assert.Error(t, err)
	})
}

func TestNewVerifierRejectsBadKeys(t *testing.T) {
	_, err := auth.NewVerifier([]byte("not a pem block"))
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	key, pubPEM := newKeyPair(t)
	verifier, err := auth.NewVerifier(pubPEM)
	require.NoError(t, err)

	userID := uuid.New()

	var seen auth.Identity
	handler := auth.Middleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid bearer token passes identity through", func(t *testing.T) {
		token := signToken(t, key, userID.String(), "bidder", time.Now().Add(time.Hour))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, userID, seen.UserID)
	})

	t.Run("missing header is unauthorized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed token is unauthorized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireAdmin(t *testing.T) {
	handler := auth.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("admin allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: uuid.New(), Role: auth.RoleAdmin}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("bidder forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: uuid.New(), Role: "bidder"}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("anonymous forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

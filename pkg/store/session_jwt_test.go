package store

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"afggram/pkg/domain"
)

var testUser = domain.User{ID: "user-1", Role: domain.RoleAdmin}

func TestJWTSessionStoreRoundTripCarriesRole(t *testing.T) {
	s := newTestSessionStore(t, JWTConfig{}, NewMemoryTokenRevoker())

	token, err := s.NewSession(testUser)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	sess, err := s.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sess.UserID != "user-1" || sess.Role != domain.RoleAdmin {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if sess.ExpiresAt.Sub(sess.IssuedAt) != defaultJWTTTL {
		t.Fatalf("unexpected lifetime: %v", sess.ExpiresAt.Sub(sess.IssuedAt))
	}
}

func TestJWTSessionStoreEnforcesAudience(t *testing.T) {
	key := newTestKey(t)
	signing, _ := NewJWTSessionStoreWithKey(key, JWTConfig{Audience: "aud-a"}, nil)
	verify, _ := NewJWTSessionStoreWithKey(key, JWTConfig{Audience: "aud-b"}, nil)

	token, err := signing.NewSession(testUser)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, err := verify.Verify(token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected audience mismatch, got %v", err)
	}
}

func TestJWTSessionStoreRevokesByJTI(t *testing.T) {
	s := newTestSessionStore(t, JWTConfig{}, NewMemoryTokenRevoker())

	token, err := s.NewSession(testUser)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, err := s.Verify(token); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected revoked token, got %v", err)
	}
}

func TestJWTSessionStoreRevokesByUserCutoff(t *testing.T) {
	s := newTestSessionStore(t, JWTConfig{}, NewMemoryTokenRevoker())
	issued := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }

	token, err := s.NewSession(testUser)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.RevokeUserSessions(testUser.ID, issued.Add(time.Second)); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	if _, err := s.Verify(token); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected user-revoked token, got %v", err)
	}

	s.now = func() time.Time { return issued.Add(time.Minute) }
	fresh, err := s.NewSession(testUser)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, err := s.Verify(fresh); err != nil {
		t.Fatalf("token issued after cutoff rejected: %v", err)
	}
}

func TestJWTSessionStoreRejectsExpired(t *testing.T) {
	s := newTestSessionStore(t, JWTConfig{TTL: time.Minute, Leeway: time.Second}, nil)
	start := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return start }
	token, err := s.NewSession(testUser)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s.now = func() time.Time { return start.Add(2 * time.Minute) }
	if _, err := s.Verify(token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestJWTSessionStoreFromPEMAndJWKS(t *testing.T) {
	privatePath, publicPath := writeRSAKeyPairFiles(t, "active")
	s, err := NewJWTSessionStore(JWTConfig{
		PrivateKeyPath: privatePath,
		PublicKeyPath:  publicPath,
		KeyID:          "kid-active",
		TTL:            time.Minute,
	}, NewMemoryTokenRevoker())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	token, err := s.NewSession(testUser)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, err := s.Verify(token); err != nil {
		t.Fatalf("verify: %v", err)
	}

	keys := s.JWKS()
	if len(keys) != 1 || keys[0].Kid != "kid-active" {
		t.Fatalf("unexpected jwks: %+v", keys)
	}
	if keys[0].Kty != "RSA" || keys[0].Use != "sig" || keys[0].Alg != "RS256" || keys[0].N == "" || keys[0].E == "" {
		t.Fatalf("unexpected jwk fields: %+v", keys[0])
	}
}

func TestJWTSessionStoreVerifiesPreviousKeyDuringRotation(t *testing.T) {
	oldPrivate, oldPublic := writeRSAKeyPairFiles(t, "old")
	newPrivate, newPublic := writeRSAKeyPairFiles(t, "new")

	oldStore, err := NewJWTSessionStore(JWTConfig{PrivateKeyPath: oldPrivate, PublicKeyPath: oldPublic, KeyID: "kid-old"}, nil)
	if err != nil {
		t.Fatalf("old store: %v", err)
	}
	oldToken, err := oldStore.NewSession(testUser)
	if err != nil {
		t.Fatalf("old token: %v", err)
	}

	rotated, err := NewJWTSessionStore(JWTConfig{
		PrivateKeyPath: newPrivate,
		PublicKeyPath:  newPublic,
		KeyID:          "kid-new",
		VerifyKeyFiles: map[string]string{"kid-old": oldPublic},
	}, nil)
	if err != nil {
		t.Fatalf("rotated store: %v", err)
	}
	if _, err := rotated.Verify(oldToken); err != nil {
		t.Fatalf("verify old token: %v", err)
	}
	if n := len(rotated.JWKS()); n != 2 {
		t.Fatalf("expected 2 jwks entries, got %d", n)
	}

	unrotated, err := NewJWTSessionStore(JWTConfig{PrivateKeyPath: newPrivate, KeyID: "kid-new"}, nil)
	if err != nil {
		t.Fatalf("unrotated store: %v", err)
	}
	if _, err := unrotated.Verify(oldToken); err == nil {
		t.Fatalf("expected unknown kid to fail")
	}
}

func TestJWTSessionStoreRejectsMalformedClaims(t *testing.T) {
	key := newTestKey(t)
	s, _ := NewJWTSessionStoreWithKey(key, JWTConfig{}, nil)
	now := time.Now().UTC()
	base := jwt.RegisteredClaims{
		Subject:   "user-x",
		Issuer:    defaultJWTIssuer,
		Audience:  jwt.ClaimStrings{defaultJWTAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		ID:        "jti-x",
	}

	cases := map[string]func(*jwt.RegisteredClaims, *jwt.Token){
		"future iat":  func(c *jwt.RegisteredClaims, _ *jwt.Token) { c.IssuedAt = jwt.NewNumericDate(now.Add(2 * time.Minute)) },
		"missing jti": func(c *jwt.RegisteredClaims, _ *jwt.Token) { c.ID = "" },
		"missing kid": func(_ *jwt.RegisteredClaims, tok *jwt.Token) { delete(tok.Header, "kid") },
	}
	for name, mutate := range cases {
		claims := base
		tok := jwt.New(jwt.SigningMethodRS256)
		tok.Header["kid"] = defaultJWTKeyID
		mutate(&claims, tok)
		tok.Claims = claims
		signed, err := tok.SignedString(key)
		if err != nil {
			t.Fatalf("%s: sign: %v", name, err)
		}
		if _, err := s.Verify(signed); !errors.Is(err, ErrInvalidSession) {
			t.Fatalf("%s: expected ErrInvalidSession, got %v", name, err)
		}
	}
}

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return key
}

func newTestSessionStore(t *testing.T, cfg JWTConfig, revoker TokenRevoker) *JWTSessionStore {
	t.Helper()
	s, err := NewJWTSessionStoreWithKey(newTestKey(t), cfg, revoker)
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	return s
}

func writeRSAKeyPairFiles(t *testing.T, prefix string) (string, string) {
	t.Helper()
	key := newTestKey(t)
	dir := t.TempDir()
	privatePath := filepath.Join(dir, prefix+"-private.pem")
	publicPath := filepath.Join(dir, prefix+"-public.pem")

	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	if err := os.WriteFile(publicPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER}), 0o644); err != nil {
		t.Fatalf("write public key: %v", err)
	}
	return privatePath, publicPath
}

func TestJWTSessionStoreCutoffWithinSameSecond(t *testing.T) {
	s := newTestSessionStore(t, JWTConfig{}, NewMemoryTokenRevoker())
	base := time.Date(2025, 5, 1, 9, 0, 0, 100, time.UTC)
	s.now = func() time.Time { return base }
	old, err := s.NewSession(testUser)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.RevokeUserSessions(testUser.ID, base.Add(time.Millisecond)); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	s.now = func() time.Time { return base.Add(2 * time.Millisecond) }
	fresh, err := s.NewSession(testUser)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, err := s.Verify(old); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("old token should be revoked, got %v", err)
	}
	if _, err := s.Verify(fresh); err != nil {
		t.Fatalf("fresh token in the same second rejected: %v", err)
	}
}

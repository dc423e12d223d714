package store

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"afggram/pkg/domain"
)

const (
	defaultJWTIssuer   = "afggram-api"
	defaultJWTAudience = "afggram-web"
	defaultJWTKeyID    = "afggram-active"
	defaultJWTTTL      = 15 * time.Minute
	defaultJWTLeeway   = 30 * time.Second
)

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrSessionRevoked = errors.New("session revoked")
)

// Session is what a verified access token says about its bearer.
type Session struct {
	UserID    string
	Role      domain.UserRole
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SessionStore issues and verifies access tokens.
type SessionStore interface {
	NewSession(user domain.User) (string, error)
	Verify(token string) (Session, error)
	DeleteSession(token string) error
	RevokeUserSessions(userID string, since time.Time) error
}

// JWTConfig describes signing keys and claim validation.
// When PrivateKeyPath is empty an ephemeral key is generated.
type JWTConfig struct {
	PrivateKeyPath string
	PublicKeyPath  string
	KeyID          string
	// VerifyKeyFiles maps kid to a public key path, for keys being rotated out.
	VerifyKeyFiles map[string]string
	TTL            time.Duration
	Issuer         string
	Audience       string
	Leeway         time.Duration
}

type sessionClaims struct {
	Role string `json:"role,omitempty"`
	// IssuedAtNano is compared against user cutoffs; iat only has second precision.
	IssuedAtNano int64 `json:"iat_ns,omitempty"`
	jwt.RegisteredClaims
}

func (c sessionClaims) issuedAt() time.Time {
	if c.IssuedAtNano > 0 {
		return time.Unix(0, c.IssuedAtNano).UTC()
	}
	return c.IssuedAt.Time.UTC()
}

// JWTSessionStore signs RS256 tokens with a kid header and publishes JWKS.
type JWTSessionStore struct {
	cfg       JWTConfig
	revoker   TokenRevoker
	signer    *rsa.PrivateKey
	verifiers map[string]*rsa.PublicKey
	now       func() time.Time
}

// NewJWTSessionStore loads keys from cfg.
func NewJWTSessionStore(cfg JWTConfig, revoker TokenRevoker) (*JWTSessionStore, error) {
	var (
		key *rsa.PrivateKey
		err error
	)
	if strings.TrimSpace(cfg.PrivateKeyPath) == "" {
		key, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("generate jwt key: %w", err)
		}
	} else {
		key, err = loadRSAPrivateKeyFromPEMFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load jwt private key: %w", err)
		}
	}
	s, err := NewJWTSessionStoreWithKey(key, cfg, revoker)
	if err != nil {
		return nil, err
	}
	if path := strings.TrimSpace(cfg.PublicKeyPath); path != "" {
		pub, err := loadRSAPublicKeyFromPEMFile(path)
		if err != nil {
			return nil, fmt.Errorf("load jwt public key: %w", err)
		}
		s.verifiers[s.cfg.KeyID] = pub
	}
	for kid, path := range cfg.VerifyKeyFiles {
		kid, path = strings.TrimSpace(kid), strings.TrimSpace(path)
		if kid == "" || path == "" || kid == s.cfg.KeyID {
			continue
		}
		pub, err := loadRSAPublicKeyFromPEMFile(path)
		if err != nil {
			return nil, fmt.Errorf("load verify key %q: %w", kid, err)
		}
		s.verifiers[kid] = pub
	}
	return s, nil
}

// NewJWTSessionStoreWithKey builds a store around an in-memory signing key.
func NewJWTSessionStoreWithKey(key *rsa.PrivateKey, cfg JWTConfig, revoker TokenRevoker) (*JWTSessionStore, error) {
	if key == nil {
		return nil, errors.New("jwt signing key required")
	}
	cfg = normalizeJWTConfig(cfg)
	return &JWTSessionStore{
		cfg:       cfg,
		revoker:   revoker,
		signer:    key,
		verifiers: map[string]*rsa.PublicKey{cfg.KeyID: &key.PublicKey},
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// TTL is the access-token lifetime.
func (s *JWTSessionStore) TTL() time.Duration {
	return s.cfg.TTL
}

// NewSession signs a token for user.
func (s *JWTSessionStore) NewSession(user domain.User) (string, error) {
	if strings.TrimSpace(user.ID) == "" {
		return "", errors.New("session subject required")
	}
	now := s.now()
	claims := sessionClaims{
		Role:         string(user.Role),
		IssuedAtNano: now.UnixNano(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.cfg.Issuer,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        randomTokenID(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.cfg.KeyID
	return token.SignedString(s.signer)
}

// Verify checks signature, claims and revocation.
func (s *JWTSessionStore) Verify(token string) (Session, error) {
	claims, err := s.parse(token)
	if err != nil {
		return Session{}, err
	}
	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(claims.ID)
		if err != nil {
			return Session{}, err
		}
		if revoked {
			return Session{}, ErrSessionRevoked
		}
		cutoff, err := s.revoker.RevokedAfter(claims.Subject)
		if err != nil {
			return Session{}, err
		}
		if !cutoff.IsZero() && !claims.issuedAt().After(cutoff) {
			return Session{}, ErrSessionRevoked
		}
	}
	return Session{
		UserID:    claims.Subject,
		Role:      domain.UserRole(claims.Role),
		TokenID:   claims.ID,
		IssuedAt:  claims.IssuedAt.Time.UTC(),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

// DeleteSession revokes the token's jti until it would have expired.
// Tokens that no longer verify are ignored.
func (s *JWTSessionStore) DeleteSession(token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.parse(token)
	if err != nil {
		return nil
	}
	return s.revoker.Revoke(claims.ID, claims.ExpiresAt.Time.Sub(s.now()))
}

// RevokeUserSessions invalidates every token issued to userID up to since.
func (s *JWTSessionStore) RevokeUserSessions(userID string, since time.Time) error {
	if s.revoker == nil {
		return nil
	}
	return s.revoker.RevokeUser(userID, since)
}

// JWKS returns the verification keys, sorted by kid.
func (s *JWTSessionStore) JWKS() []JWK {
	kids := make([]string, 0, len(s.verifiers))
	for kid := range s.verifiers {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	out := make([]JWK, 0, len(kids))
	for _, kid := range kids {
		pub := s.verifiers[kid]
		out = append(out, JWK{
			Kty: "RSA",
			Use: "sig",
			Kid: kid,
			Alg: jwt.SigningMethodRS256.Alg(),
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return out
}

func (s *JWTSessionStore) parse(token string) (sessionClaims, error) {
	var claims sessionClaims
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrInvalidSession
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		pub, ok := s.verifiers[strings.TrimSpace(kid)]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return pub, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.cfg.Leeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return claims, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if claims.ID == "" || claims.Subject == "" || claims.IssuedAt == nil {
		return claims, fmt.Errorf("%w: missing jti, sub or iat", ErrInvalidSession)
	}
	return claims, nil
}

func normalizeJWTConfig(cfg JWTConfig) JWTConfig {
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	if cfg.Issuer == "" {
		cfg.Issuer = defaultJWTIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = defaultJWTAudience
	}
	if cfg.KeyID == "" {
		cfg.KeyID = defaultJWTKeyID
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultJWTTTL
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = defaultJWTLeeway
	}
	return cfg
}

func loadRSAPrivateKeyFromPEMFile(path string) (*rsa.PrivateKey, error) {
	block, err := readPEMBlock(path)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return key, nil
}

func loadRSAPublicKeyFromPEMFile(path string) (*rsa.PublicKey, error) {
	block, err := readPEMBlock(path)
	if err != nil {
		return nil, err
	}
	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if pub, ok := parsed.(*rsa.PublicKey); ok {
			return pub, nil
		}
		return nil, errors.New("public key is not rsa")
	}
	if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
		if pub, ok := cert.PublicKey.(*rsa.PublicKey); ok {
			return pub, nil
		}
		return nil, errors.New("certificate key is not rsa")
	}
	return nil, errors.New("unrecognized rsa public key")
}

func readPEMBlock(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: no pem block", path)
	}
	return block, nil
}

func randomTokenID() string {
	var buf [12]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf[:])
}

package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenReplay means an already-rotated token was presented;
	// the whole family is revoked when this happens.
	ErrRefreshTokenReplay = errors.New("refresh token replay detected")
)

// RefreshTokenStore issues opaque refresh tokens grouped in rotation families.
type RefreshTokenStore interface {
	NewToken(ctx context.Context, userID string) (string, error)
	RotateToken(ctx context.Context, token string) (userID, next string, err error)
	DeleteToken(ctx context.Context, token string) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
}

type refreshFamily struct {
	userID  string
	current string
	expiry  time.Time
	hashes  []string
}

// MemoryRefreshTokenStore keeps families in-process.
type MemoryRefreshTokenStore struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	families map[string]*refreshFamily     // family id -> family
	byHash   map[string]string             // token hash -> family id
	byUser   map[string]map[string]struct{} // user id -> family ids
}

func NewMemoryRefreshTokenStore(ttl time.Duration) *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{
		ttl:      ttl,
		now:      time.Now,
		families: make(map[string]*refreshFamily),
		byHash:   make(map[string]string),
		byUser:   make(map[string]map[string]struct{}),
	}
}

func (s *MemoryRefreshTokenStore) NewToken(_ context.Context, userID string) (string, error) {
	token, hash, err := newRefreshToken()
	if err != nil {
		return "", err
	}
	familyID, err := randomHex(16)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.families[familyID] = &refreshFamily{
		userID:  userID,
		current: hash,
		expiry:  s.now().Add(s.ttl),
		hashes:  []string{hash},
	}
	s.byHash[hash] = familyID
	if s.byUser[userID] == nil {
		s.byUser[userID] = make(map[string]struct{})
	}
	s.byUser[userID][familyID] = struct{}{}
	return token, nil
}

func (s *MemoryRefreshTokenStore) RotateToken(_ context.Context, token string) (string, string, error) {
	hash := refreshTokenHash(token)
	s.mu.Lock()
	defer s.mu.Unlock()

	familyID, ok := s.byHash[hash]
	if !ok {
		return "", "", ErrInvalidRefreshToken
	}
	family := s.families[familyID]
	if family == nil || s.now().After(family.expiry) {
		s.dropFamilyLocked(familyID)
		return "", "", ErrInvalidRefreshToken
	}
	if family.current != hash {
		s.dropFamilyLocked(familyID)
		return "", "", ErrRefreshTokenReplay
	}
	next, nextHash, err := newRefreshToken()
	if err != nil {
		return "", "", err
	}
	family.current = nextHash
	family.expiry = s.now().Add(s.ttl)
	family.hashes = append(family.hashes, nextHash)
	s.byHash[nextHash] = familyID
	return family.userID, next, nil
}

func (s *MemoryRefreshTokenStore) DeleteToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if familyID, ok := s.byHash[refreshTokenHash(token)]; ok {
		s.dropFamilyLocked(familyID)
	}
	return nil
}

func (s *MemoryRefreshTokenStore) RevokeUserRefreshTokens(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for familyID := range s.byUser[userID] {
		s.dropFamilyLocked(familyID)
	}
	return nil
}

func (s *MemoryRefreshTokenStore) dropFamilyLocked(familyID string) {
	family := s.families[familyID]
	if family == nil {
		return
	}
	for _, h := range family.hashes {
		delete(s.byHash, h)
	}
	delete(s.families, familyID)
	if fams := s.byUser[family.userID]; fams != nil {
		delete(fams, familyID)
		if len(fams) == 0 {
			delete(s.byUser, family.userID)
		}
	}
}

// RedisRefreshTokenStore keeps families in Redis:
//
//	<prefix>:token:<hash>        -> family id
//	<prefix>:family:<id>         -> hash {userId, current}
//	<prefix>:family:<id>:tokens  -> set of hashes
//	<prefix>:user:<id>           -> set of family ids
type RedisRefreshTokenStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisRefreshTokenStore(client *redis.Client, ttl time.Duration) *RedisRefreshTokenStore {
	return &RedisRefreshTokenStore{client: client, ttl: ttl, prefix: "afggram:refresh"}
}

func (s *RedisRefreshTokenStore) NewToken(ctx context.Context, userID string) (string, error) {
	token, hash, err := newRefreshToken()
	if err != nil {
		return "", err
	}
	familyID, err := randomHex(16)
	if err != nil {
		return "", err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.writeCurrent(ctx, pipe, familyID, userID, hash)
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisRefreshTokenStore) writeCurrent(ctx context.Context, pipe redis.Pipeliner, familyID, userID, hash string) {
	pipe.Set(ctx, s.tokenKey(hash), familyID, s.ttl)
	pipe.HSet(ctx, s.familyKey(familyID), "userId", userID, "current", hash)
	pipe.Expire(ctx, s.familyKey(familyID), s.ttl)
	pipe.SAdd(ctx, s.familyTokensKey(familyID), hash)
	pipe.Expire(ctx, s.familyTokensKey(familyID), s.ttl)
	pipe.SAdd(ctx, s.userKey(userID), familyID)
	pipe.Expire(ctx, s.userKey(userID), s.ttl)
}

// RotateToken swaps the family's current token under WATCH so that two
// concurrent rotations of the same token cannot both succeed.
func (s *RedisRefreshTokenStore) RotateToken(ctx context.Context, token string) (string, string, error) {
	hash := refreshTokenHash(token)
	familyID, err := s.client.Get(ctx, s.tokenKey(hash)).Result()
	if errors.Is(err, redis.Nil) {
		return "", "", ErrInvalidRefreshToken
	}
	if err != nil {
		return "", "", err
	}
	familyKey := s.familyKey(familyID)

	for {
		var userID, next string
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			fields, err := tx.HGetAll(ctx, familyKey).Result()
			if err != nil {
				return err
			}
			userID = fields["userId"]
			switch {
			case userID == "" || fields["current"] == "":
				return ErrInvalidRefreshToken
			case fields["current"] != hash:
				return ErrRefreshTokenReplay
			}
			var nextHash string
			next, nextHash, err = newRefreshToken()
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				s.writeCurrent(ctx, pipe, familyID, userID, nextHash)
				return nil
			})
			return err
		}, familyKey)

		switch {
		case errors.Is(err, redis.TxFailedErr):
			if ctx.Err() != nil {
				return "", "", ctx.Err()
			}
			continue
		case errors.Is(err, ErrInvalidRefreshToken), errors.Is(err, ErrRefreshTokenReplay):
			_ = s.dropFamily(ctx, familyID, userID)
			return "", "", err
		case err != nil:
			return "", "", err
		}
		return userID, next, nil
	}
}

func (s *RedisRefreshTokenStore) DeleteToken(ctx context.Context, token string) error {
	familyID, err := s.client.Get(ctx, s.tokenKey(refreshTokenHash(token))).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.dropFamily(ctx, familyID, "")
}

func (s *RedisRefreshTokenStore) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	familyIDs, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, familyID := range familyIDs {
		if err := s.dropFamily(ctx, familyID, userID); err != nil {
			return err
		}
	}
	return s.client.Del(ctx, s.userKey(userID)).Err()
}

func (s *RedisRefreshTokenStore) dropFamily(ctx context.Context, familyID, userID string) error {
	if userID == "" {
		var err error
		userID, err = s.client.HGet(ctx, s.familyKey(familyID), "userId").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
	}
	hashes, err := s.client.SMembers(ctx, s.familyTokensKey(familyID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, h := range hashes {
			pipe.Del(ctx, s.tokenKey(h))
		}
		pipe.Del(ctx, s.familyTokensKey(familyID), s.familyKey(familyID))
		if userID != "" {
			pipe.SRem(ctx, s.userKey(userID), familyID)
		}
		return nil
	})
	return err
}

func (s *RedisRefreshTokenStore) tokenKey(hash string) string {
	return s.prefix + ":token:" + hash
}

func (s *RedisRefreshTokenStore) familyKey(id string) string {
	return s.prefix + ":family:" + id
}

func (s *RedisRefreshTokenStore) familyTokensKey(id string) string {
	return s.prefix + ":family:" + id + ":tokens"
}

func (s *RedisRefreshTokenStore) userKey(id string) string {
	return s.prefix + ":user:" + id
}

func newRefreshToken() (token, hash string, err error) {
	token, err = randomHex(32)
	if err != nil {
		return "", "", err
	}
	return token, refreshTokenHash(token), nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func refreshTokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

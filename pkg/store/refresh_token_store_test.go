package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func refreshStores(t *testing.T) map[string]RefreshTokenStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]RefreshTokenStore{
		"memory": NewMemoryRefreshTokenStore(time.Minute),
		"redis":  NewRedisRefreshTokenStore(client, time.Minute),
	}
}

func TestRefreshTokenStoreRotateAndDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range refreshStores(t) {
		t.Run(name, func(t *testing.T) {
			token, err := s.NewToken(ctx, "user-1")
			if err != nil {
				t.Fatalf("new token: %v", err)
			}
			userID, next, err := s.RotateToken(ctx, token)
			if err != nil {
				t.Fatalf("rotate: %v", err)
			}
			if userID != "user-1" || next == "" || next == token {
				t.Fatalf("unexpected rotation: user=%q next=%q", userID, next)
			}
			if err := s.DeleteToken(ctx, next); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, _, err := s.RotateToken(ctx, next); !errors.Is(err, ErrInvalidRefreshToken) {
				t.Fatalf("expected invalid token after delete, got %v", err)
			}
		})
	}
}

func TestRefreshTokenStoreDetectsReplay(t *testing.T) {
	ctx := context.Background()
	for name, s := range refreshStores(t) {
		t.Run(name, func(t *testing.T) {
			token, err := s.NewToken(ctx, "user-2")
			if err != nil {
				t.Fatalf("new token: %v", err)
			}
			_, next, err := s.RotateToken(ctx, token)
			if err != nil {
				t.Fatalf("rotate: %v", err)
			}
			if _, _, err := s.RotateToken(ctx, token); !errors.Is(err, ErrRefreshTokenReplay) {
				t.Fatalf("expected replay, got %v", err)
			}
			if _, _, err := s.RotateToken(ctx, next); !errors.Is(err, ErrInvalidRefreshToken) {
				t.Fatalf("expected family revoked after replay, got %v", err)
			}
		})
	}
}

func TestRefreshTokenStoreRevokeUser(t *testing.T) {
	ctx := context.Background()
	for name, s := range refreshStores(t) {
		t.Run(name, func(t *testing.T) {
			t1, _ := s.NewToken(ctx, "user-3")
			t2, _ := s.NewToken(ctx, "user-3")
			other, _ := s.NewToken(ctx, "user-4")

			if err := s.RevokeUserRefreshTokens(ctx, "user-3"); err != nil {
				t.Fatalf("revoke: %v", err)
			}
			for _, tok := range []string{t1, t2} {
				if _, _, err := s.RotateToken(ctx, tok); !errors.Is(err, ErrInvalidRefreshToken) {
					t.Fatalf("expected invalid after user revoke, got %v", err)
				}
			}
			if _, _, err := s.RotateToken(ctx, other); err != nil {
				t.Fatalf("other user's token revoked: %v", err)
			}
		})
	}
}

func TestMemoryRefreshTokenStoreExpires(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRefreshTokenStore(time.Minute)
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	token, err := s.NewToken(ctx, "user-5")
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, _, err := s.RotateToken(ctx, token); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected expired token, got %v", err)
	}
}

func TestRedisRefreshTokenStoreConcurrentRotateRevokesFamily(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := NewRedisRefreshTokenStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)

	token, err := s.NewToken(ctx, "user-6")
	if err != nil {
		t.Fatalf("new token: %v", err)
	}

	const workers = 2
	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	issued := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, next, err := s.RotateToken(ctx, token)
			if err == nil {
				issued <- next
			}
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	close(issued)

	var successes, replays int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrRefreshTokenReplay):
			replays++
		default:
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}
	if successes != 1 || replays != 1 {
		t.Fatalf("expected one success and one replay, got %d/%d", successes, replays)
	}
	for next := range issued {
		if _, _, err := s.RotateToken(ctx, next); !errors.Is(err, ErrInvalidRefreshToken) {
			t.Fatalf("expected family revoked after race, got %v", err)
		}
	}
}

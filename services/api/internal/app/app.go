package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"afggram/internal/util"
	"afggram/pkg/notify"
	"afggram/pkg/queue"
	"afggram/pkg/realtime"
	"afggram/pkg/storage"
	"afggram/pkg/store"
)

// Config holds runtime configuration for the core application. Injected
// dependencies win over the connection settings.
type Config struct {
	DatabaseURL         string
	Redis               *redis.Client
	SessionTTL          time.Duration
	RefreshTTL          time.Duration
	JWTPrivateKeyPath   string
	JWTPublicKeyPath    string
	JWTKeyID            string
	JWTVerifyPublicKeys map[string]string
	JWTIssuer           string
	JWTAudience         string
	JWTLeeway           time.Duration
	QueueName           string

	Store         store.Store
	Sessions      store.SessionStore
	RefreshTokens store.RefreshTokenStore
	Jobs          queue.Enqueuer
	Events        realtime.Publisher
	// Sockets, when set, has live sockets closed as soon as their
	// credentials are revoked.
	Sockets   SocketCloser
	Media     *storage.Uploader
	Now       func() time.Time
	NewRoomID func() string
}

// SocketCloser drops realtime connections whose credentials were revoked.
type SocketCloser interface {
	DisconnectUser(userID string) int
	DisconnectToken(tokenID string) int
}

// App is the core application service wiring together storage and domain logic.
type App struct {
	store         store.Store
	sessions      store.SessionStore
	refreshTokens store.RefreshTokenStore
	jobs          queue.Enqueuer
	events        realtime.Publisher
	sockets       SocketCloser
	media         *storage.Uploader
	now           func() time.Time
	newRoomID     func() string
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewRoomID == nil {
		cfg.NewRoomID = func() string { return uuid.NewString() }
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
		if cfg.Redis != nil {
			revoker = store.NewRedisTokenRevoker(cfg.Redis, cfg.RefreshTTL)
		}
		jwtStore, err := store.NewJWTSessionStore(store.JWTConfig{
			PrivateKeyPath: cfg.JWTPrivateKeyPath,
			PublicKeyPath:  cfg.JWTPublicKeyPath,
			KeyID:          cfg.JWTKeyID,
			VerifyKeyFiles: cfg.JWTVerifyPublicKeys,
			TTL:            cfg.SessionTTL,
			Issuer:         cfg.JWTIssuer,
			Audience:       cfg.JWTAudience,
			Leeway:         cfg.JWTLeeway,
		}, revoker)
		if err != nil {
			return nil, fmt.Errorf("init jwt session store: %w", err)
		}
		sessionStore = jwtStore
	}

	refreshStore := cfg.RefreshTokens
	if refreshStore == nil {
		if cfg.Redis != nil {
			refreshStore = store.NewRedisRefreshTokenStore(cfg.Redis, cfg.RefreshTTL)
		} else {
			refreshStore = store.NewMemoryRefreshTokenStore(cfg.RefreshTTL)
		}
	}

	events := cfg.Events
	if events == nil {
		events = realtime.NewMemoryBroker()
	}

	jobs := cfg.Jobs
	if jobs == nil {
		if cfg.Redis != nil {
			q, err := queue.NewRedisJobQueue(cfg.Redis, queue.RedisQueueConfig{Stream: cfg.QueueName, Group: "worker"})
			if err != nil {
				return nil, fmt.Errorf("init job queue: %w", err)
			}
			jobs = q
		} else {
			jobs = queue.NewMemoryQueue(notify.Handler(dataStore, events))
		}
	}

	return &App{
		store:         dataStore,
		sessions:      sessionStore,
		refreshTokens: refreshStore,
		jobs:          jobs,
		events:        events,
		sockets:       cfg.Sockets,
		media:         cfg.Media,
		now:           cfg.Now,
		newRoomID:     cfg.NewRoomID,
	}, nil
}

// Ping reports whether the store is reachable, when it can tell.
func (a *App) Ping(ctx context.Context) error {
	if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (a *App) clock() time.Time {
	return a.now().UTC()
}

// publish emits a change event. Failures are logged; the write already happened.
func (a *App) publish(ctx context.Context, table string, typ realtime.EventType, record, old any) {
	ev, err := realtime.NewEvent(table, typ, record, old, a.clock())
	if err == nil {
		err = a.events.Publish(ctx, ev)
	}
	if err != nil {
		util.LoggerFromContext(ctx).Warn("realtime_publish_failed", "table", table, "type", string(typ), "err", err)
	}
}

// notify enqueues a notification job. Failures are logged and swallowed.
func (a *App) notify(ctx context.Context, req notify.Request) {
	req.At = a.clock()
	if err := notify.Enqueue(ctx, a.jobs, req); err != nil {
		util.LoggerFromContext(ctx).Warn("notification_enqueue_failed", "kind", string(req.Kind), "user_id", req.UserID, "err", err)
	}
}

// storeErr maps store sentinels to app errors, keeping the detail.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %s", ErrConflict, op)
	case errors.Is(err, store.ErrInvalidTransition):
		return fmt.Errorf("%w: %s", ErrAlreadyReviewed, op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func trimmed(s string, maxRunes int) (string, bool) {
	s = strings.TrimSpace(s)
	return s, len([]rune(s)) <= maxRunes
}

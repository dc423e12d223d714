package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"afggram/internal/metrics"
	"afggram/internal/ratelimit"
	"afggram/internal/util"
	"afggram/pkg/domain"
	"afggram/pkg/realtime"
	"afggram/services/api/internal/app"
	"afggram/services/api/internal/security"
)

const maxJSONBody = 1 << 20

// Config wires required dependencies for the HTTP server. Without Redis the
// rate limits and the security alerter are disabled.
type Config struct {
	App            *app.App
	Hub            *realtime.Hub
	Redis          *redis.Client
	AllowedOrigins []string
	TrustedProxies *util.TrustedProxies

	SignupRateLimitPerMinute     int
	LoginRateLimitPerMinute      int
	RefreshRateLimitPerMinute    int
	PasswordRateLimitPerMinute   int
	WithdrawalRateLimitPerMinute int
	UploadRateLimitPerMinute     int
	MaxUploadBytes               int64
	// MediaDir, when set, is served under /media/ for the local file store.
	MediaDir string
}

// Server exposes the HTTP API.
type Server struct {
	app            *app.App
	hub            *realtime.Hub
	router         *mux.Router
	allowedOrigins []string
	trusted        *util.TrustedProxies
	alerter        *security.AuditAlerter
	maxUploadBytes int64
	mediaDir       string

	signupLimiter     *ratelimit.FixedWindowLimiter
	loginLimiter      *ratelimit.FixedWindowLimiter
	refreshLimiter    *ratelimit.FixedWindowLimiter
	passwordLimiter   *ratelimit.FixedWindowLimiter
	withdrawalLimiter *ratelimit.FixedWindowLimiter
	uploadLimiter     *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	s := &Server{
		app:            cfg.App,
		hub:            cfg.Hub,
		router:         mux.NewRouter(),
		allowedOrigins: cfg.AllowedOrigins,
		trusted:        cfg.TrustedProxies,
		alerter:        security.NewAuditAlerter(cfg.Redis, ""),
		maxUploadBytes: normalizeMaxBytes(cfg.MaxUploadBytes),
		mediaDir:       strings.TrimSpace(cfg.MediaDir),
	}
	if cfg.Redis != nil {
		newLimiter := func(name string, limit, def int) (*ratelimit.FixedWindowLimiter, error) {
			if limit <= 0 {
				limit = def
			}
			limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "afggram:api:ratelimit:"+name, limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		var err error
		if s.signupLimiter, err = newLimiter("signup", cfg.SignupRateLimitPerMinute, 5); err != nil {
			return nil, err
		}
		if s.loginLimiter, err = newLimiter("login", cfg.LoginRateLimitPerMinute, 10); err != nil {
			return nil, err
		}
		if s.refreshLimiter, err = newLimiter("refresh", cfg.RefreshRateLimitPerMinute, 20); err != nil {
			return nil, err
		}
		if s.passwordLimiter, err = newLimiter("password", cfg.PasswordRateLimitPerMinute, 10); err != nil {
			return nil, err
		}
		if s.withdrawalLimiter, err = newLimiter("withdrawal", cfg.WithdrawalRateLimitPerMinute, 5); err != nil {
			return nil, err
		}
		if s.uploadLimiter, err = newLimiter("upload", cfg.UploadRateLimitPerMinute, 30); err != nil {
			return nil, err
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog("api",
			util.WithSecurityHeaders(
				util.WithCORS(s.allowedOrigins, s.router))))
}

func (s *Server) routes() {
	r := s.router
	r.Use(metrics.Middleware)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		methodNotAllowed(w)
	})

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	// auth
	r.HandleFunc("/api/auth/signup", s.handleSignup).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/jwks", s.handleJWKS).Methods(http.MethodGet)
	r.HandleFunc("/.well-known/jwks.json", s.handleJWKS).Methods(http.MethodGet)

	// users
	r.Handle("/api/users/me", s.authenticated(s.handleMe)).Methods(http.MethodGet, http.MethodPatch)
	r.Handle("/api/users/me/password", s.authenticated(s.handleChangePassword)).Methods(http.MethodPost)
	r.Handle("/api/users/me/presence", s.authenticated(s.handlePresence)).Methods(http.MethodPost)
	r.Handle("/api/users", s.authenticated(s.handleSearchUsers)).Methods(http.MethodGet)
	r.Handle("/api/users/{username}", s.authenticated(s.handleProfile)).Methods(http.MethodGet)
	r.Handle("/api/users/{username}/posts", s.authenticated(s.handleUserPosts)).Methods(http.MethodGet)
	r.Handle("/api/users/{username}/follow", s.authenticated(s.handleFollow)).Methods(http.MethodPost, http.MethodDelete)
	r.Handle("/api/users/{username}/followers", s.authenticated(s.handleFollowers)).Methods(http.MethodGet)
	r.Handle("/api/users/{username}/following", s.authenticated(s.handleFollowing)).Methods(http.MethodGet)

	// posts
	r.Handle("/api/feed", s.authenticated(s.handleFeed)).Methods(http.MethodGet)
	r.Handle("/api/posts", s.authenticated(s.handleCreatePost)).Methods(http.MethodPost)
	r.Handle("/api/posts/{id}", s.authenticated(s.handleGetPost)).Methods(http.MethodGet)
	r.Handle("/api/posts/{id}", s.authenticated(s.handleDeletePost)).Methods(http.MethodDelete)
	r.Handle("/api/posts/{id}/comments", s.authenticated(s.handleComments)).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/api/posts/{id}/like", s.authenticated(s.handleLike)).Methods(http.MethodPost, http.MethodDelete)
	r.Handle("/api/comments/{id}", s.authenticated(s.handleDeleteComment)).Methods(http.MethodDelete)

	// earnings
	r.Handle("/api/tasks", s.authenticated(s.handleTasks)).Methods(http.MethodGet)
	r.Handle("/api/tasks/{id}", s.authenticated(s.handleTask)).Methods(http.MethodGet)
	r.Handle("/api/tasks/{id}/submissions", s.authenticated(s.handleSubmitTask)).Methods(http.MethodPost)
	r.Handle("/api/submissions", s.authenticated(s.handleMySubmissions)).Methods(http.MethodGet)
	r.Handle("/api/wallet", s.authenticated(s.handleWallet)).Methods(http.MethodGet)
	r.Handle("/api/withdrawals", s.authenticated(s.handleMyWithdrawals)).Methods(http.MethodGet)
	r.Handle("/api/withdrawals", s.authenticated(s.handleRequestWithdrawal)).Methods(http.MethodPost)

	// messaging
	r.Handle("/api/conversations", s.authenticated(s.handleConversations)).Methods(http.MethodGet)
	r.Handle("/api/conversations/{id}/messages", s.authenticated(s.handleListMessages)).Methods(http.MethodGet)
	r.Handle("/api/conversations/{id}/read", s.authenticated(s.handleMarkRead)).Methods(http.MethodPost)
	r.Handle("/api/messages", s.authenticated(s.handleSendMessage)).Methods(http.MethodPost)
	r.Handle("/api/messages/{id}/view", s.authenticated(s.handleViewMessage)).Methods(http.MethodPost)

	// live and calls
	r.Handle("/api/live", s.authenticated(s.handleListLive)).Methods(http.MethodGet)
	r.Handle("/api/live", s.authenticated(s.handleStartLive)).Methods(http.MethodPost)
	r.Handle("/api/live/{id}/heartbeat", s.authenticated(s.handleLiveHeartbeat)).Methods(http.MethodPost)
	r.Handle("/api/live/{id}", s.authenticated(s.handleEndLive)).Methods(http.MethodDelete)
	r.Handle("/api/calls", s.authenticated(s.handleStartCall)).Methods(http.MethodPost)

	// support, notifications, media, realtime
	r.Handle("/api/support/tickets", s.authenticated(s.handleMyTickets)).Methods(http.MethodGet)
	r.Handle("/api/support/tickets", s.authenticated(s.handleOpenTicket)).Methods(http.MethodPost)
	r.Handle("/api/notifications", s.authenticated(s.handleNotifications)).Methods(http.MethodGet)
	r.Handle("/api/notifications/read", s.authenticated(s.handleReadNotifications)).Methods(http.MethodPost)
	r.Handle("/api/notifications/counts", s.authenticated(s.handleCounts)).Methods(http.MethodGet)
	r.Handle("/api/media", s.authenticated(s.handleUploadMedia)).Methods(http.MethodPost)
	r.HandleFunc("/api/realtime", s.handleRealtime).Methods(http.MethodGet)
	if s.mediaDir != "" {
		r.PathPrefix("/media/").Handler(http.FileServer(http.Dir(s.mediaDir))).Methods(http.MethodGet, http.MethodHead)
	}

	// admin
	r.Handle("/api/admin/users", s.adminOnly(s.handleAdminUsers)).Methods(http.MethodGet)
	r.Handle("/api/admin/users/{id}", s.adminOnly(s.handleAdminUserByID)).Methods(http.MethodPatch)
	r.Handle("/api/admin/tasks", s.adminOnly(s.handleAdminTasks)).Methods(http.MethodGet)
	r.Handle("/api/admin/tasks", s.adminOnly(s.handleAdminCreateTask)).Methods(http.MethodPost)
	r.Handle("/api/admin/tasks/{id}", s.adminOnly(s.handleAdminUpdateTask)).Methods(http.MethodPatch)
	r.Handle("/api/admin/submissions", s.adminOnly(s.handleAdminSubmissions)).Methods(http.MethodGet)
	r.Handle("/api/admin/submissions/{id}/review", s.adminOnly(s.handleAdminReviewSubmission)).Methods(http.MethodPost)
	r.Handle("/api/admin/withdrawals", s.adminOnly(s.handleAdminWithdrawals)).Methods(http.MethodGet)
	r.Handle("/api/admin/withdrawals/{id}/review", s.adminOnly(s.handleAdminReviewWithdrawal)).Methods(http.MethodPost)
	r.Handle("/api/admin/support/tickets", s.adminOnly(s.handleAdminTickets)).Methods(http.MethodGet)
	r.Handle("/api/admin/support/tickets/{id}/reply", s.adminOnly(s.handleAdminReplyTicket)).Methods(http.MethodPost)
	r.Handle("/api/admin/support/tickets/{id}/close", s.adminOnly(s.handleAdminCloseTicket)).Methods(http.MethodPost)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.app.Ping(ctx); err != nil {
		util.LoggerFromContext(r.Context()).Error("health_check_failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			s.audit(r, "api.auth.authorize", "fail")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", user.ID))
		next(w, r.WithContext(ctx), user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if user.Role != domain.RoleAdmin {
			s.audit(r, "api.admin.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		s.audit(r, "api.admin.authorize", "success", "user_id", user.ID)
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	return s.app.UserFromToken(token)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := s.clientIP(r)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)

	result, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security_alert_observe_failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
}

// allowRate applies limiter to path|ip. A nil limiter allows everything.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + s.clientIP(r)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trusted)
}

// decodeJSON reads a bounded JSON body. An empty body is allowed when
// allowEmpty is set.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(dst)
	if allowEmpty && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 25 << 20
	}
	return value
}

func listResponse[T any](items []T) map[string]any {
	if items == nil {
		items = []T{}
	}
	return map[string]any{"items": items, "count": len(items)}
}

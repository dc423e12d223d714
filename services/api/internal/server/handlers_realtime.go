package server

import (
	"errors"
	"net/http"
	"strings"

	"afggram/pkg/domain"
	"afggram/pkg/realtime"
)

const multipartMemory = 8 << 20

type readNotificationsRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request, user domain.User) {
	items, err := s.app.Notifications(user.ID, queryInt(r, "limit"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(items))
}

// handleReadNotifications marks the given ids read, or all of them when
// the body is empty.
func (s *Server) handleReadNotifications(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req readNotificationsRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	n, err := s.app.MarkNotificationsRead(user.ID, req.IDs)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request, user domain.User) {
	counts, err := s.app.Counts(r.Context(), user.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleUploadMedia(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !s.allowRate(w, r, s.uploadLimiter, "too many uploads") {
		s.audit(r, "api.media.upload", "rate_limited", "user_id", user.ID)
		return
	}
	// Headroom for multipart boundaries and headers.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeErrorCode(w, http.StatusRequestEntityTooLarge, "file too large", "MEDIA_TOO_LARGE")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart form required")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	media, err := s.app.UploadMedia(r.Context(), user.ID, file, header.Size)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, media)
}

// handleRealtime authenticates with ?token= since browsers cannot set
// headers on a WebSocket handshake. The bearer header also works.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "realtime unavailable")
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token, _ = bearerToken(r)
	}
	user, sess, ok := s.app.VerifySession(token)
	if token == "" || !ok {
		s.audit(r, "api.realtime.authorize", "fail")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	s.audit(r, "api.realtime.authorize", "success", "user_id", user.ID)
	s.app.TouchPresence(r.Context(), user.ID)
	s.hub.ServeWS(w, r, realtime.Session{
		UserID:    user.ID,
		TokenID:   sess.TokenID,
		ExpiresAt: sess.ExpiresAt,
		Valid: func() bool {
			_, _, ok := s.app.VerifySession(token)
			return ok
		},
	})
}

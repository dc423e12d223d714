package server

import (
	"errors"
	"net/http"
	"strings"

	"afggram/internal/util"
	"afggram/pkg/auth"
	"afggram/pkg/payout"
	"afggram/pkg/storage"
	"afggram/services/api/internal/app"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorCode(w, status, msg, errorCodeForStatus(status, msg))
}

func writeErrorCode(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
	})
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// Order matters: the first match wins.
var errorMappings = []errorMapping{
	{app.ErrInvalidCredentials, http.StatusUnauthorized, "AUTH_INVALID_CREDENTIALS"},
	{app.ErrInvalidRefreshToken, http.StatusUnauthorized, "AUTH_INVALID_REFRESH_TOKEN"},
	{app.ErrEmailAlreadyExists, http.StatusConflict, "AUTH_EMAIL_EXISTS"},
	{app.ErrUsernameTaken, http.StatusConflict, "AUTH_USERNAME_TAKEN"},
	{app.ErrInvalidUsername, http.StatusBadRequest, "AUTH_INVALID_USERNAME"},
	{app.ErrEmailAndPasswordRequired, http.StatusBadRequest, "AUTH_CREDENTIALS_REQUIRED"},
	{app.ErrRefreshTokenRequired, http.StatusBadRequest, "AUTH_REFRESH_TOKEN_REQUIRED"},
	{app.ErrCurrentPasswordRequired, http.StatusBadRequest, "AUTH_PASSWORD_REQUIRED"},
	{app.ErrNewPasswordRequired, http.StatusBadRequest, "AUTH_PASSWORD_REQUIRED"},
	{app.ErrSamePassword, http.StatusBadRequest, "AUTH_SAME_PASSWORD"},
	{auth.ErrWeakPassword, http.StatusBadRequest, "AUTH_WEAK_PASSWORD"},
	{app.ErrCannotChangeOwnRole, http.StatusForbidden, "ADMIN_SELF_ROLE_CHANGE"},
	{app.ErrCannotDisableSelf, http.StatusForbidden, "ADMIN_SELF_DISABLE"},
	{app.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{app.ErrMediaNotOwned, http.StatusForbidden, "MEDIA_NOT_OWNED"},
	{app.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{app.ErrAlreadySubmitted, http.StatusConflict, "TASK_ALREADY_SUBMITTED"},
	{app.ErrTaskInactive, http.StatusConflict, "TASK_INACTIVE"},
	{app.ErrAlreadyReviewed, http.StatusConflict, "ALREADY_REVIEWED"},
	{app.ErrBalanceChanged, http.StatusConflict, "WALLET_BALANCE_CHANGED"},
	{app.ErrAlreadyLive, http.StatusConflict, "LIVE_ALREADY_STARTED"},
	{app.ErrAlreadyViewed, http.StatusGone, "MESSAGE_ALREADY_VIEWED"},
	{app.ErrTicketClosed, http.StatusConflict, "TICKET_CLOSED"},
	{app.ErrConflict, http.StatusConflict, "CONFLICT"},
	{app.ErrMessageEmpty, http.StatusBadRequest, "MESSAGE_EMPTY"},
	{app.ErrCannotSelf, http.StatusBadRequest, "SELF_TARGET"},
	{app.ErrInvalid, http.StatusBadRequest, "INVALID_REQUEST"},
	{storage.ErrTooLarge, http.StatusRequestEntityTooLarge, "MEDIA_TOO_LARGE"},
	{storage.ErrUnsupportedType, http.StatusUnsupportedMediaType, "MEDIA_UNSUPPORTED_TYPE"},
	{storage.ErrEmptyFile, http.StatusBadRequest, "MEDIA_EMPTY"},
	{app.ErrMediaUnavailable, http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE"},
}

// writeAppError maps domain errors to a status and stable code. Payout
// rejections are 422 with the rejection code; unknown errors are logged and
// reported as internal.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var rej *payout.Rejection
	if errors.As(err, &rej) {
		writeErrorCode(w, http.StatusUnprocessableEntity, rej.Message, rej.Code)
		return
	}
	if errors.Is(err, app.ErrUserDisabled) {
		writeErrorCode(w, http.StatusUnauthorized, app.ErrInvalidCredentials.Error(), "AUTH_INVALID_CREDENTIALS")
		return
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			writeErrorCode(w, m.status, err.Error(), m.code)
			return
		}
	}
	util.LoggerFromContext(r.Context()).Error("request_failed", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func errorCodeForStatus(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "invalid json body":
		return "INVALID_REQUEST"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	case strings.HasPrefix(message, "too many"):
		return "RATE_LIMITED"
	}

	switch status {
	case http.StatusBadRequest:
		return "INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

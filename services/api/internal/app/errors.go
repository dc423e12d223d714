package app

import "errors"

var (
	// ErrInvalidCredentials is shown to end users and must not enable account enumeration.
	ErrInvalidCredentials = errors.New("Incorrect email address or password")

	// ErrUserDisabled should generally NOT be exposed to clients.
	ErrUserDisabled = errors.New("user disabled")

	ErrEmailAndPasswordRequired = errors.New("email and password required")
	ErrEmailAlreadyExists       = errors.New("email already exists")
	ErrInvalidUsername          = errors.New("username must be 3-30 letters, digits, dots or underscores")
	ErrUsernameTaken            = errors.New("username already taken")

	ErrRefreshTokenRequired = errors.New("refresh token required")
	ErrInvalidRefreshToken  = errors.New("invalid refresh token")

	ErrCurrentPasswordRequired = errors.New("current password required")
	ErrNewPasswordRequired     = errors.New("new password required")
	ErrSamePassword            = errors.New("new password must differ from current password")

	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrInvalid   = errors.New("invalid request")
	ErrConflict  = errors.New("conflict")

	ErrCannotChangeOwnRole = errors.New("cannot change own role")
	ErrCannotDisableSelf   = errors.New("cannot disable self")

	ErrAlreadySubmitted = errors.New("you already have a pending or approved submission for this task")
	ErrTaskInactive     = errors.New("task is not active")
	ErrAlreadyReviewed  = errors.New("already reviewed")
	ErrBalanceChanged   = errors.New("balance no longer covers this withdrawal")

	ErrAlreadyLive      = errors.New("you are already live")
	ErrMessageEmpty     = errors.New("message needs content or media")
	ErrAlreadyViewed    = errors.New("view-once message already opened")
	ErrCannotSelf       = errors.New("cannot do this to yourself")
	ErrMediaNotOwned    = errors.New("media must be uploaded by you")
	ErrMediaUnavailable = errors.New("media uploads are not configured")
	ErrTicketClosed     = errors.New("ticket is closed")
)

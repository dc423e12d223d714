package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"afggram/internal/util"
	"afggram/pkg/auth"
	"afggram/pkg/domain"
	"afggram/pkg/store"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._]{3,30}$`)

// SignUp registers a user. The first account becomes admin.
func (a *App) SignUp(ctx context.Context, email, password, username string) (domain.User, string, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	username = strings.TrimSpace(username)
	if email == "" || password == "" {
		return domain.User{}, "", "", ErrEmailAndPasswordRequired
	}
	if !strings.Contains(email, "@") {
		return domain.User{}, "", "", fmt.Errorf("%w: email", ErrInvalid)
	}
	if !usernamePattern.MatchString(username) {
		return domain.User{}, "", "", ErrInvalidUsername
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", "", err
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", "", ErrEmailAlreadyExists
	}
	taken, err := a.store.HasUsername(username)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("check username: %w", err)
	}
	if taken {
		return domain.User{}, "", "", ErrUsernameTaken
	}
	count, err := a.store.UserCount()
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("count users: %w", err)
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("hash password: %w", err)
	}
	role := domain.RoleUser
	if count == 0 {
		role = domain.RoleAdmin
	}
	now := a.clock()
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: passwordHash,
		Username:     username,
		DisplayName:  username,
		Role:         role,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.User{}, "", "", a.signupConflict(email)
		}
		return domain.User{}, "", "", fmt.Errorf("save user: %w", err)
	}
	if role == domain.RoleAdmin {
		user, err = a.settleFirstAdmin(user)
		if err != nil {
			return domain.User{}, "", "", err
		}
	}
	return a.issueUserTokens(ctx, user)
}

// signupConflict names the column a concurrent signup won.
func (a *App) signupConflict(email string) error {
	if exists, err := a.store.HasUserEmail(email); err == nil && exists {
		return ErrEmailAlreadyExists
	}
	return ErrUsernameTaken
}

// settleFirstAdmin demotes an admin grant that raced with another first
// signup. An older admin, ordered by creation time then id, keeps the role.
func (a *App) settleFirstAdmin(user domain.User) (domain.User, error) {
	users, err := a.store.ListUsers()
	if err != nil {
		return domain.User{}, fmt.Errorf("list users: %w", err)
	}
	older := false
	for _, u := range users {
		if u.ID == user.ID || u.Role != domain.RoleAdmin {
			continue
		}
		if u.CreatedAt.Before(user.CreatedAt) || (u.CreatedAt.Equal(user.CreatedAt) && u.ID < user.ID) {
			older = true
			break
		}
	}
	if !older {
		return user, nil
	}
	user.Role = domain.RoleUser
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("demote user: %w", err)
	}
	return user, nil
}

// Login validates credentials and issues a token pair.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, string, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, "", "", ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", "", ErrInvalidCredentials
	}
	if user.Status == domain.StatusDisabled {
		return domain.User{}, "", "", ErrUserDisabled
	}
	return a.issueUserTokens(ctx, user)
}

func (a *App) issueUserTokens(ctx context.Context, user domain.User) (domain.User, string, string, error) {
	accessToken, err := a.sessions.NewSession(user)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("issue access token: %w", err)
	}
	refreshToken, err := a.refreshTokens.NewToken(ctx, user.ID)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("issue refresh token: %w", err)
	}
	return user, accessToken, refreshToken, nil
}

// UserFromToken resolves an active user from an access token.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	user, _, ok := a.VerifySession(token)
	return user, ok
}

// VerifySession resolves an active user and the token's session claims.
func (a *App) VerifySession(token string) (domain.User, store.Session, bool) {
	sess, err := a.sessions.Verify(token)
	if err != nil {
		return domain.User{}, store.Session{}, false
	}
	user, found, err := a.store.GetUserByID(sess.UserID)
	if err != nil || !found {
		return domain.User{}, store.Session{}, false
	}
	if user.Status == domain.StatusDisabled {
		return domain.User{}, store.Session{}, false
	}
	return user, sess, true
}

// Logout invalidates the access token and the optional refresh token.
func (a *App) Logout(ctx context.Context, accessToken, refreshToken string) error {
	sess, verifyErr := a.sessions.Verify(accessToken)
	if err := a.sessions.DeleteSession(accessToken); err != nil {
		return err
	}
	if verifyErr == nil && a.sockets != nil {
		a.sockets.DisconnectToken(sess.TokenID)
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	return a.refreshTokens.DeleteToken(ctx, refreshToken)
}

// Refresh rotates the refresh token and issues a new pair.
func (a *App) Refresh(ctx context.Context, refreshToken string) (domain.User, string, string, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return domain.User{}, "", "", ErrRefreshTokenRequired
	}
	userID, next, err := a.refreshTokens.RotateToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, store.ErrInvalidRefreshToken) || errors.Is(err, store.ErrRefreshTokenReplay) {
			return domain.User{}, "", "", ErrInvalidRefreshToken
		}
		return domain.User{}, "", "", fmt.Errorf("rotate refresh token: %w", err)
	}
	user, found, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("fetch user: %w", err)
	}
	if !found || user.Status == domain.StatusDisabled {
		_ = a.refreshTokens.DeleteToken(ctx, next)
		return domain.User{}, "", "", ErrInvalidRefreshToken
	}
	accessToken, err := a.sessions.NewSession(user)
	if err != nil {
		_ = a.refreshTokens.DeleteToken(ctx, next)
		return domain.User{}, "", "", fmt.Errorf("issue access token: %w", err)
	}
	return user, accessToken, next, nil
}

// ChangePassword verifies the current password, stores the new hash and
// revokes every outstanding token of the user.
func (a *App) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return ErrNewPasswordRequired
	}
	if strings.TrimSpace(currentPassword) == "" {
		return ErrCurrentPasswordRequired
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: user", ErrNotFound)
	}
	if !auth.CheckPassword(currentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	if currentPassword == newPassword {
		return ErrSamePassword
	}
	passwordHash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = a.clock()
	if err := a.store.SaveUser(user); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := a.revokeAllUserTokens(ctx, userID); err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	return nil
}

// JWKS returns public signing keys when the session store publishes them.
func (a *App) JWKS() []store.JWK {
	provider, ok := a.sessions.(interface{ JWKS() []store.JWK })
	if !ok {
		return nil
	}
	return provider.JWKS()
}

// revokeAllUserTokens cuts off sessions issued before now. Access tokens
// carry wall-clock issue times, so the cutoff ignores the injected clock.
func (a *App) revokeAllUserTokens(ctx context.Context, userID string) error {
	if err := a.sessions.RevokeUserSessions(userID, time.Now().UTC()); err != nil {
		return err
	}
	if a.sockets != nil {
		a.sockets.DisconnectUser(userID)
	}
	return a.refreshTokens.RevokeUserRefreshTokens(ctx, userID)
}

// ListUsers returns every account for the admin console.
func (a *App) ListUsers() ([]domain.User, error) {
	return a.store.ListUsers()
}

// UserUpdate is a partial admin edit of an account.
type UserUpdate struct {
	Role     *domain.UserRole
	Status   *domain.UserStatus
	Verified *bool
}

// AdminUpdateUser changes role, status or the verified badge. Admins cannot
// demote or disable themselves. Disabling revokes the user's tokens.
func (a *App) AdminUpdateUser(ctx context.Context, adminID, userID string, upd UserUpdate) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, fmt.Errorf("%w: user", ErrNotFound)
	}
	if upd.Role != nil {
		switch *upd.Role {
		case domain.RoleUser, domain.RoleAdmin:
		default:
			return domain.User{}, fmt.Errorf("%w: role", ErrInvalid)
		}
		if userID == adminID && *upd.Role != user.Role {
			return domain.User{}, ErrCannotChangeOwnRole
		}
		user.Role = *upd.Role
	}
	disabling := false
	if upd.Status != nil {
		switch *upd.Status {
		case domain.StatusActive, domain.StatusDisabled:
		default:
			return domain.User{}, fmt.Errorf("%w: status", ErrInvalid)
		}
		if userID == adminID && *upd.Status == domain.StatusDisabled {
			return domain.User{}, ErrCannotDisableSelf
		}
		disabling = user.Status != domain.StatusDisabled && *upd.Status == domain.StatusDisabled
		user.Status = *upd.Status
	}
	if upd.Verified != nil {
		user.Verified = *upd.Verified
	}
	user.UpdatedAt = a.clock()
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	if disabling {
		if err := a.revokeAllUserTokens(ctx, userID); err != nil {
			return domain.User{}, fmt.Errorf("revoke user tokens: %w", err)
		}
	}
	return user, nil
}

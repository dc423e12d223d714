package app

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"afggram/internal/util"
	"afggram/pkg/domain"
)

const (
	maxDisplayName = 50
	maxBio         = 300
	maxURL         = 2048
)

// ProfileUpdate is a partial edit of the caller's own profile.
type ProfileUpdate struct {
	DisplayName *string
	Bio         *string
	AvatarURL   *string
}

// Profile is a public user page.
type Profile struct {
	User        domain.User         `json:"user"`
	Stats       domain.ProfileStats `json:"stats"`
	IsFollowing bool                `json:"isFollowing"`
	IsMe        bool                `json:"isMe"`
}

// UpdateMe edits display name, bio and avatar.
func (a *App) UpdateMe(userID string, upd ProfileUpdate) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, fmt.Errorf("%w: user", ErrNotFound)
	}
	if upd.DisplayName != nil {
		name, fits := trimmed(*upd.DisplayName, maxDisplayName)
		if !fits || name == "" {
			return domain.User{}, fmt.Errorf("%w: displayName", ErrInvalid)
		}
		user.DisplayName = name
	}
	if upd.Bio != nil {
		bio, fits := trimmed(*upd.Bio, maxBio)
		if !fits {
			return domain.User{}, fmt.Errorf("%w: bio", ErrInvalid)
		}
		user.Bio = bio
	}
	if upd.AvatarURL != nil {
		avatar, fits := trimmed(*upd.AvatarURL, maxURL)
		if !fits {
			return domain.User{}, fmt.Errorf("%w: avatarUrl", ErrInvalid)
		}
		if avatar != "" && a.media != nil && !a.media.OwnedBy(avatar, userID) {
			return domain.User{}, ErrMediaNotOwned
		}
		user.AvatarURL = avatar
	}
	user.UpdatedAt = a.clock()
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("update profile: %w", err)
	}
	return user, nil
}

// Profile loads a user by username with counters and the viewer's follow state.
func (a *App) Profile(ctx context.Context, viewerID, username string) (Profile, error) {
	user, err := a.userByUsername(username)
	if err != nil {
		return Profile{}, err
	}
	out := Profile{User: user.Public(), IsMe: user.ID == viewerID}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := a.store.CountPostsByAuthor(user.ID)
		out.Stats.Posts = n
		return err
	})
	g.Go(func() error {
		n, err := a.store.CountFollowers(user.ID)
		out.Stats.Followers = n
		return err
	})
	g.Go(func() error {
		n, err := a.store.CountFollowing(user.ID)
		out.Stats.Following = n
		return err
	})
	if viewerID != "" && viewerID != user.ID {
		g.Go(func() error {
			following, err := a.store.IsFollowing(viewerID, user.ID)
			out.IsFollowing = following
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Profile{}, fmt.Errorf("profile stats: %w", err)
	}
	return out, nil
}

// SearchUsers matches usernames and display names.
func (a *App) SearchUsers(query string, limit int) ([]domain.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.User{}, nil
	}
	users, err := a.store.SearchUsers(query, clampLimit(limit, 20, 50))
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	for i := range users {
		users[i] = users[i].Public()
	}
	return users, nil
}

// TouchPresence records a heartbeat. Failures are logged, never returned.
func (a *App) TouchPresence(ctx context.Context, userID string) {
	if err := a.store.TouchPresence(userID, a.clock()); err != nil {
		util.LoggerFromContext(ctx).Warn("presence_update_failed", "user_id", userID, "err", err)
	}
}

func (a *App) userByUsername(username string) (domain.User, error) {
	user, ok, err := a.store.GetUserByUsername(strings.TrimSpace(username))
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok || user.Status == domain.StatusDisabled {
		return domain.User{}, fmt.Errorf("%w: user", ErrNotFound)
	}
	return user, nil
}

// publicUsers resolves ids to public profiles, skipping unknown ids.
func (a *App) publicUsers(ids []string) (map[string]domain.User, error) {
	users, err := a.store.GetUsersByIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}
	for id, u := range users {
		users[id] = u.Public()
	}
	return users, nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"afggram/internal/util"
	"afggram/pkg/domain"
	"afggram/pkg/notify"
	"afggram/pkg/realtime"
	"afggram/pkg/store"
)

const maxLiveTitle = 100

// LiveView is a live session with its host.
type LiveView struct {
	domain.LiveSession
	Host domain.User `json:"host"`
}

// StartLive opens a broadcast room for hostID and tells their followers.
func (a *App) StartLive(ctx context.Context, hostID, title string) (domain.LiveSession, error) {
	title, fits := trimmed(title, maxLiveTitle)
	if !fits {
		return domain.LiveSession{}, fmt.Errorf("%w: title too long", ErrInvalid)
	}
	now := a.clock()
	session := domain.LiveSession{
		ID:          util.NewID(),
		HostID:      hostID,
		Title:       title,
		RoomID:      a.newRoomID(),
		StartedAt:   now,
		HeartbeatAt: now,
	}
	if err := a.store.CreateLiveSession(session); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.LiveSession{}, ErrAlreadyLive
		}
		return domain.LiveSession{}, storeErr("start live", err)
	}
	a.publish(ctx, realtime.TableLiveSessions, realtime.Insert, session, nil)

	followers, err := a.store.ListFollowers(hostID)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("live_followers_failed", "host_id", hostID, "err", err)
		return session, nil
	}
	for _, followerID := range followers {
		a.notify(ctx, notify.Request{
			UserID:   followerID,
			ActorID:  hostID,
			Kind:     domain.NotifyLive,
			EntityID: session.ID,
			Data:     map[string]string{"roomId": session.RoomID},
		})
	}
	return session, nil
}

// HeartbeatLive keeps the host's session from being swept.
func (a *App) HeartbeatLive(hostID, id string) error {
	session, err := a.liveSession(id)
	if err != nil {
		return err
	}
	if session.HostID != hostID {
		return ErrForbidden
	}
	if err := a.store.HeartbeatLiveSession(id, a.clock()); err != nil {
		return storeErr("heartbeat live", err)
	}
	return nil
}

// EndLive deletes the session. The host or an admin may end it.
func (a *App) EndLive(ctx context.Context, actor domain.User, id string) error {
	session, err := a.liveSession(id)
	if err != nil {
		return err
	}
	if session.HostID != actor.ID && actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	if err := a.store.DeleteLiveSession(id); err != nil {
		return storeErr("end live", err)
	}
	a.publish(ctx, realtime.TableLiveSessions, realtime.Delete, nil, session)
	return nil
}

// ListLive returns current broadcasts, newest first.
func (a *App) ListLive() ([]LiveView, error) {
	sessions, err := a.store.ListLiveSessions()
	if err != nil {
		return nil, fmt.Errorf("list live: %w", err)
	}
	hostIDs := make([]string, 0, len(sessions))
	for _, s := range sessions {
		hostIDs = append(hostIDs, s.HostID)
	}
	hosts, err := a.publicUsers(hostIDs)
	if err != nil {
		return nil, err
	}
	out := make([]LiveView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, LiveView{LiveSession: s, Host: hosts[s.HostID]})
	}
	return out, nil
}

// StartCall creates a one-to-one room and rings the callee over the change feed.
func (a *App) StartCall(ctx context.Context, callerID, to string, video bool) (domain.Call, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return domain.Call{}, fmt.Errorf("%w: callee required", ErrInvalid)
	}
	if to == callerID {
		return domain.Call{}, ErrCannotSelf
	}
	callee, ok, err := a.store.GetUserByID(to)
	if err != nil {
		return domain.Call{}, fmt.Errorf("fetch callee: %w", err)
	}
	if !ok || callee.Status == domain.StatusDisabled {
		return domain.Call{}, fmt.Errorf("%w: callee", ErrNotFound)
	}
	call := domain.Call{
		ID:        util.NewID(),
		CallerID:  callerID,
		CalleeID:  callee.ID,
		RoomID:    a.newRoomID(),
		Video:     video,
		CreatedAt: a.clock(),
	}
	a.publish(ctx, realtime.TableCalls, realtime.Insert, call, nil)
	return call, nil
}

func (a *App) liveSession(id string) (domain.LiveSession, error) {
	session, ok, err := a.store.GetLiveSession(id)
	if err != nil {
		return domain.LiveSession{}, fmt.Errorf("fetch live session: %w", err)
	}
	if !ok {
		return domain.LiveSession{}, fmt.Errorf("%w: live session", ErrNotFound)
	}
	return session, nil
}

// Package notify turns notification jobs into stored rows and change events.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"afggram/internal/util"
	"afggram/pkg/domain"
	"afggram/pkg/queue"
	"afggram/pkg/realtime"
	"afggram/pkg/store"
)

// JobKind is the queue kind for notification jobs.
const JobKind = "notification.create"

// Request is the job payload. ID is chosen by the producer so a retried job
// stores the row once.
type Request struct {
	ID       string                  `json:"id"`
	UserID   string                  `json:"userId"`
	ActorID  string                  `json:"actorId,omitempty"`
	Kind     domain.NotificationKind `json:"kind"`
	EntityID string                  `json:"entityId,omitempty"`
	Data     map[string]string       `json:"data,omitempty"`
	At       time.Time               `json:"at"`
}

// Enqueue schedules req, filling ID and At when empty. Self-notifications are dropped.
func Enqueue(ctx context.Context, q queue.Enqueuer, req Request) error {
	if q == nil || req.UserID == "" || req.UserID == req.ActorID {
		return nil
	}
	if req.ID == "" {
		req.ID = util.NewID()
	}
	if req.At.IsZero() {
		req.At = time.Now().UTC()
	}
	if _, err := q.Enqueue(ctx, JobKind, req); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// Handler persists notification jobs and publishes a notifications INSERT.
func Handler(notifications store.NotificationStore, pub realtime.Publisher) queue.Handler {
	return func(ctx context.Context, job queue.Job) error {
		var req Request
		if err := job.Decode(&req); err != nil {
			return err
		}
		if strings.TrimSpace(req.UserID) == "" || req.Kind == "" {
			return queue.Permanent(errors.New("notification requires userId and kind"))
		}
		n := domain.Notification{
			ID:        req.ID,
			UserID:    req.UserID,
			ActorID:   req.ActorID,
			Kind:      req.Kind,
			EntityID:  req.EntityID,
			Data:      req.Data,
			CreatedAt: req.At.UTC(),
		}
		if n.ID == "" {
			n.ID = job.ID
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = time.Now().UTC()
		}
		if err := notifications.CreateNotification(n); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return nil
			}
			return fmt.Errorf("store notification: %w", err)
		}
		if pub == nil {
			return nil
		}
		ev, err := realtime.NewEvent(realtime.TableNotifications, realtime.Insert, n, nil, n.CreatedAt)
		if err != nil {
			return queue.Permanent(err)
		}
		if err := pub.Publish(ctx, ev); err != nil {
			util.LoggerFromContext(ctx).Warn("notification_publish_failed", "notification_id", n.ID, "err", err)
		}
		return nil
	}
}

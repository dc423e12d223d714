package app

import (
	"fmt"

	"afggram/pkg/domain"
)

// Notifications lists the caller's notifications, newest first.
func (a *App) Notifications(userID string, limit int) ([]domain.Notification, error) {
	list, err := a.store.ListNotifications(userID, clampLimit(limit, 50, 200))
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return list, nil
}

// MarkNotificationsRead marks ids read, or everything unread when ids is empty.
func (a *App) MarkNotificationsRead(userID string, ids []string) (int, error) {
	n, err := a.store.MarkNotificationsRead(userID, ids, a.clock())
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return n, nil
}

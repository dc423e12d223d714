// Package realtime carries row-change events from writers to WebSocket subscribers.
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
)

// ParseEventType accepts INSERT, UPDATE, DELETE or "*" (returned as "").
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(strings.ToUpper(strings.TrimSpace(s))); t {
	case "", "*":
		return "", nil
	case Insert, Update, Delete:
		return t, nil
	default:
		return "", fmt.Errorf("unknown event type %q", s)
	}
}

// Tables that emit events.
const (
	TablePosts         = "posts"
	TableComments      = "comments"
	TableLikes         = "likes"
	TableLiveSessions  = "live_sessions"
	TableMessages      = "messages"
	TableNotifications = "notifications"
	TableCalls         = "calls"
	TableFollows       = "follows"
	TableConversations = "conversations"
)

// Event describes one row change. Record and Old are the JSON form of the row.
type Event struct {
	Table           string         `json:"table"`
	Type            EventType      `json:"type"`
	Record          map[string]any `json:"record,omitempty"`
	Old             map[string]any `json:"old,omitempty"`
	CommitTimestamp time.Time      `json:"commitTimestamp"`
}

// NewEvent converts record and old (either may be nil) to their JSON maps.
func NewEvent(table string, typ EventType, record, old any, at time.Time) (Event, error) {
	ev := Event{Table: table, Type: typ, CommitTimestamp: at.UTC()}
	var err error
	if ev.Record, err = toMap(record); err != nil {
		return Event{}, fmt.Errorf("encode %s record: %w", table, err)
	}
	if ev.Old, err = toMap(old); err != nil {
		return Event{}, fmt.Errorf("encode %s old record: %w", table, err)
	}
	return ev, nil
}

func toMap(v any) (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// row is the record filters match against; deletes only carry Old.
func (e Event) row() map[string]any {
	if e.Record != nil {
		return e.Record
	}
	return e.Old
}

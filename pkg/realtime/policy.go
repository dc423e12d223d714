package realtime

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrUnknownTable = errors.New("unknown table")
	ErrForbidden    = errors.New("subscription not allowed")
)

// Subscription is one client subscription on a connection.
type Subscription struct {
	ID     string
	Table  string
	Event  EventType
	Filter Filter
}

// Matches reports whether ev should be delivered to s.
func (s Subscription) Matches(ev Event) bool {
	if s.Table != ev.Table {
		return false
	}
	if s.Event != "" && s.Event != ev.Type {
		return false
	}
	return s.Filter.Match(ev.row())
}

// Policy decides which tables a user may watch. Private tables map to the
// columns that must be filtered on the caller's own id.
type Policy struct {
	Public  []string
	Private map[string][]string
}

func DefaultPolicy() Policy {
	return Policy{
		Public: []string{TablePosts, TableComments, TableLikes, TableLiveSessions, TableFollows},
		Private: map[string][]string{
			TableMessages:      {"receiverId", "senderId"},
			TableNotifications: {"userId"},
			TableCalls:         {"calleeId", "callerId"},
		},
	}
}

// Authorize checks sub against the policy for userID.
func (p Policy) Authorize(userID string, sub Subscription) error {
	if slices.Contains(p.Public, sub.Table) {
		return nil
	}
	cols, ok := p.Private[sub.Table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, sub.Table)
	}
	if sub.Filter.IsZero() || !slices.Contains(cols, sub.Filter.Column) || sub.Filter.Value != userID {
		return fmt.Errorf("%w: %s requires a filter on your own id", ErrForbidden, sub.Table)
	}
	return nil
}

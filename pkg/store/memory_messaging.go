package store

import (
	"fmt"
	"time"

	"afggram/pkg/domain"
)

func (m *MemoryStore) GetOrCreateConversation(userA, userB string, at time.Time) (domain.Conversation, error) {
	a, b := orderedPair(userA, userB)
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.pairs[[2]string{a, b}]; ok {
		return m.conversations[id], nil
	}
	return m.newConversationLocked(a, b, at), nil
}

func (m *MemoryStore) GetConversation(id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	return c, ok, nil
}

func (m *MemoryStore) ListConversations(userID string) ([]domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.conversations, func(c domain.Conversation) bool { return c.Has(userID) },
		func(a, b domain.Conversation) bool {
			switch {
			case a.LastMessageAt == nil && b.LastMessageAt == nil:
				return a.CreatedAt.After(b.CreatedAt)
			case a.LastMessageAt == nil:
				return false
			case b.LastMessageAt == nil:
				return true
			}
			return a.LastMessageAt.After(*b.LastMessageAt)
		}), nil
}

func (m *MemoryStore) CreateMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", msg.ConversationID, ErrNotFound)
	}
	at := msg.CreatedAt.UTC()
	c.LastMessageAt = &at
	m.conversations[c.ID] = c
	m.messages[msg.ID] = msg
	return nil
}

func (m *MemoryStore) GetMessage(id string) (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	return msg, ok, nil
}

func (m *MemoryStore) ListMessages(conversationID string, now time.Time, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := sortedValues(m.messages, func(msg domain.Message) bool {
		return msg.ConversationID == conversationID && !msg.Expired(now)
	}, func(a, b domain.Message) bool { return a.CreatedAt.Before(b.CreatedAt) })
	if len(res) > limit {
		res = res[len(res)-limit:]
	}
	return res, nil
}

func (m *MemoryStore) MarkConversationRead(conversationID, readerID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at = at.UTC()
	n := 0
	for id, msg := range m.messages {
		if msg.ConversationID == conversationID && msg.ReceiverID == readerID && msg.ReadAt == nil {
			msg.ReadAt = &at
			m.messages[id] = msg
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) MarkMessageViewed(id string, at time.Time) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return domain.Message{}, ErrNotFound
	}
	if msg.ViewedAt != nil {
		return domain.Message{}, fmt.Errorf("%w: message already viewed", ErrInvalidTransition)
	}
	at = at.UTC()
	msg.ViewedAt = &at
	if msg.ReadAt == nil {
		msg.ReadAt = &at
	}
	m.messages[id] = msg
	return msg, nil
}

func (m *MemoryStore) UnreadMessageCount(userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, msg := range m.messages {
		if msg.ReceiverID == userID && msg.ReadAt == nil {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) UnreadByConversation(userID string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int)
	for _, msg := range m.messages {
		if msg.ReceiverID == userID && msg.ReadAt == nil {
			out[msg.ConversationID]++
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteExpiredMessages(now time.Time) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []domain.Message
	for id, msg := range m.messages {
		if msg.Expired(now) {
			removed = append(removed, msg)
			delete(m.messages, id)
		}
	}
	return removed, nil
}

func (m *MemoryStore) CreateLiveSession(l domain.LiveSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.live {
		if existing.HostID == l.HostID {
			return fmt.Errorf("%w: host already live", ErrConflict)
		}
	}
	m.live[l.ID] = l
	return nil
}

func (m *MemoryStore) GetLiveSession(id string) (domain.LiveSession, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.live[id]
	return l, ok, nil
}

func (m *MemoryStore) ListLiveSessions() ([]domain.LiveSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.live, nil, func(a, b domain.LiveSession) bool {
		return a.StartedAt.After(b.StartedAt)
	}), nil
}

func (m *MemoryStore) HeartbeatLiveSession(id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.live[id]
	if !ok {
		return ErrNotFound
	}
	l.HeartbeatAt = at.UTC()
	m.live[id] = l
	return nil
}

func (m *MemoryStore) DeleteLiveSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live[id]; !ok {
		return ErrNotFound
	}
	delete(m.live, id)
	return nil
}

func (m *MemoryStore) DeleteStaleLiveSessions(before time.Time) ([]domain.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []domain.LiveSession
	for id, l := range m.live {
		if l.HeartbeatAt.Before(before) {
			removed = append(removed, l)
			delete(m.live, id)
		}
	}
	return removed, nil
}

func (m *MemoryStore) CreateTicket(t domain.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets[t.ID] = t
	return nil
}

func (m *MemoryStore) GetTicket(id string) (domain.Ticket, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickets[id]
	return t, ok, nil
}

func (m *MemoryStore) ListTicketsByUser(userID string) ([]domain.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.tickets, func(t domain.Ticket) bool { return t.UserID == userID },
		func(a, b domain.Ticket) bool { return a.CreatedAt.After(b.CreatedAt) }), nil
}

func (m *MemoryStore) ListTickets(status domain.TicketStatus) ([]domain.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.tickets, func(t domain.Ticket) bool { return status == "" || t.Status == status },
		func(a, b domain.Ticket) bool { return a.CreatedAt.Before(b.CreatedAt) }), nil
}

func (m *MemoryStore) ReplyTicket(id, reply, adminID string, at time.Time) (domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return domain.Ticket{}, ErrNotFound
	}
	if t.Status == domain.TicketClosed {
		return domain.Ticket{}, fmt.Errorf("%w: ticket is closed", ErrInvalidTransition)
	}
	t.Reply = reply
	t.RepliedBy = adminID
	t.Status = domain.TicketAnswered
	t.UpdatedAt = at.UTC()
	m.tickets[id] = t
	return t, nil
}

func (m *MemoryStore) CloseTicket(id string, at time.Time) (domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return domain.Ticket{}, ErrNotFound
	}
	if t.Status == domain.TicketClosed {
		return domain.Ticket{}, fmt.Errorf("%w: ticket is closed", ErrInvalidTransition)
	}
	t.Status = domain.TicketClosed
	t.UpdatedAt = at.UTC()
	m.tickets[id] = t
	return t, nil
}

func (m *MemoryStore) CreateNotification(n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[n.ID]; ok {
		return ErrConflict
	}
	m.notifications[n.ID] = n
	return nil
}

func (m *MemoryStore) ListNotifications(userID string, limit int) ([]domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := sortedValues(m.notifications, func(n domain.Notification) bool { return n.UserID == userID },
		func(a, b domain.Notification) bool { return a.CreatedAt.After(b.CreatedAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) UnreadNotificationCount(userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, note := range m.notifications {
		if note.UserID == userID && note.ReadAt == nil {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) MarkNotificationsRead(userID string, ids []string, at time.Time) (int, error) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	at = at.UTC()
	n := 0
	for id, note := range m.notifications {
		if note.UserID != userID || note.ReadAt != nil {
			continue
		}
		if _, ok := want[id]; len(ids) > 0 && !ok {
			continue
		}
		note.ReadAt = &at
		m.notifications[id] = note
		n++
	}
	return n, nil
}

package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"afggram/internal/util"
	"afggram/pkg/domain"
)

// GetOrCreateConversation returns the conversation for an unordered pair.
func (s *GormStore) GetOrCreateConversation(userA, userB string, at time.Time) (domain.Conversation, error) {
	a, b := orderedPair(userA, userB)
	model := ConversationModel{ID: util.NewID(), UserA: a, UserB: b, CreatedAt: at.UTC()}
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_a"}, {Name: "user_b"}},
		DoNothing: true,
	}).Create(&model).Error; err != nil {
		return domain.Conversation{}, err
	}
	var existing ConversationModel
	if err := s.db.Where("user_a = ? AND user_b = ?", a, b).First(&existing).Error; err != nil {
		return domain.Conversation{}, translate(err)
	}
	return conversationFromModel(existing), nil
}

func (s *GormStore) GetConversation(id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	ok, err := first(s.db, &model, "id = ?", id)
	return conversationFromModel(model), ok, err
}

func (s *GormStore) ListConversations(userID string) ([]domain.Conversation, error) {
	var models []ConversationModel
	if err := s.db.Where("user_a = ? OR user_b = ?", userID, userID).
		Order("last_message_at DESC NULLS LAST").
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return mapModels(models, conversationFromModel), nil
}

func (s *GormStore) CreateMessage(m domain.Message) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		model := messageToModel(m)
		if err := tx.Create(&model).Error; err != nil {
			return translate(err)
		}
		res := tx.Model(&ConversationModel{}).Where("id = ?", m.ConversationID).
			UpdateColumn("last_message_at", m.CreatedAt.UTC())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("conversation %s: %w", m.ConversationID, ErrNotFound)
		}
		return nil
	})
}

func (s *GormStore) GetMessage(id string) (domain.Message, bool, error) {
	var model MessageModel
	ok, err := first(s.db, &model, "id = ?", id)
	return messageFromModel(model), ok, err
}

func (s *GormStore) ListMessages(conversationID string, now time.Time, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	var models []MessageModel
	if err := s.db.Where("conversation_id = ?", conversationID).
		Where("expires_at IS NULL OR expires_at > ?", now.UTC()).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msgs = append(msgs, messageFromModel(models[i]))
	}
	return msgs, nil
}

func (s *GormStore) MarkConversationRead(conversationID, readerID string, at time.Time) (int, error) {
	res := s.db.Model(&MessageModel{}).
		Where("conversation_id = ? AND receiver_id = ? AND read_at IS NULL", conversationID, readerID).
		UpdateColumn("read_at", at.UTC())
	return int(res.RowsAffected), res.Error
}

func (s *GormStore) MarkMessageViewed(id string, at time.Time) (domain.Message, error) {
	var model MessageModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		ok, err := first(forUpdate(tx), &model, "id = ?", id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		if model.ViewedAt != nil {
			return fmt.Errorf("%w: message already viewed", ErrInvalidTransition)
		}
		at = at.UTC()
		model.ViewedAt = &at
		updates := map[string]any{"viewed_at": at}
		if model.ReadAt == nil {
			model.ReadAt = &at
			updates["read_at"] = at
		}
		return tx.Model(&MessageModel{}).Where("id = ?", id).UpdateColumns(updates).Error
	})
	if err != nil {
		return domain.Message{}, err
	}
	return messageFromModel(model), nil
}

func (s *GormStore) UnreadMessageCount(userID string) (int, error) {
	var count int64
	err := s.db.Model(&MessageModel{}).
		Where("receiver_id = ? AND read_at IS NULL", userID).
		Count(&count).Error
	return int(count), err
}

func (s *GormStore) UnreadByConversation(userID string) (map[string]int, error) {
	var rows []struct {
		ConversationID string
		Unread         int
	}
	if err := s.db.Model(&MessageModel{}).
		Select("conversation_id, COUNT(*) AS unread").
		Where("receiver_id = ? AND read_at IS NULL", userID).
		Group("conversation_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.ConversationID] = row.Unread
	}
	return out, nil
}

// DeleteExpiredMessages removes and returns messages whose expiry has passed.
func (s *GormStore) DeleteExpiredMessages(now time.Time) ([]domain.Message, error) {
	var models []MessageModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Returning{}).
			Where("expires_at IS NOT NULL AND expires_at <= ?", now.UTC()).
			Delete(&models).Error; err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mapModels(models, messageFromModel), nil
}

func (s *GormStore) CreateLiveSession(l domain.LiveSession) error {
	model := liveSessionToModel(l)
	return translate(s.db.Create(&model).Error)
}

func (s *GormStore) GetLiveSession(id string) (domain.LiveSession, bool, error) {
	var model LiveSessionModel
	ok, err := first(s.db, &model, "id = ?", id)
	return liveSessionFromModel(model), ok, err
}

func (s *GormStore) ListLiveSessions() ([]domain.LiveSession, error) {
	var models []LiveSessionModel
	if err := s.db.Order("started_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	return mapModels(models, liveSessionFromModel), nil
}

func (s *GormStore) HeartbeatLiveSession(id string, at time.Time) error {
	res := s.db.Model(&LiveSessionModel{}).Where("id = ?", id).UpdateColumn("heartbeat_at", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeleteLiveSession(id string) error {
	res := s.db.Delete(&LiveSessionModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeleteStaleLiveSessions(before time.Time) ([]domain.LiveSession, error) {
	var models []LiveSessionModel
	if err := s.db.Clauses(clause.Returning{}).
		Where("heartbeat_at < ?", before.UTC()).
		Delete(&models).Error; err != nil {
		return nil, err
	}
	return mapModels(models, liveSessionFromModel), nil
}

func (s *GormStore) CreateTicket(t domain.Ticket) error {
	model := ticketToModel(t)
	return translate(s.db.Create(&model).Error)
}

func (s *GormStore) GetTicket(id string) (domain.Ticket, bool, error) {
	var model TicketModel
	ok, err := first(s.db, &model, "id = ?", id)
	return ticketFromModel(model), ok, err
}

func (s *GormStore) ListTicketsByUser(userID string) ([]domain.Ticket, error) {
	var models []TicketModel
	if err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	return mapModels(models, ticketFromModel), nil
}

func (s *GormStore) ListTickets(status domain.TicketStatus) ([]domain.Ticket, error) {
	query := s.db.Order("created_at ASC")
	if status != "" {
		query = query.Where("status = ?", string(status))
	}
	var models []TicketModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return mapModels(models, ticketFromModel), nil
}

func (s *GormStore) ReplyTicket(id, reply, adminID string, at time.Time) (domain.Ticket, error) {
	return s.updateTicket(id, func(t *TicketModel) error {
		if t.Status == string(domain.TicketClosed) {
			return fmt.Errorf("%w: ticket is closed", ErrInvalidTransition)
		}
		t.Reply = reply
		t.RepliedBy = adminID
		t.Status = string(domain.TicketAnswered)
		t.UpdatedAt = at.UTC()
		return nil
	})
}

func (s *GormStore) CloseTicket(id string, at time.Time) (domain.Ticket, error) {
	return s.updateTicket(id, func(t *TicketModel) error {
		if t.Status == string(domain.TicketClosed) {
			return fmt.Errorf("%w: ticket is closed", ErrInvalidTransition)
		}
		t.Status = string(domain.TicketClosed)
		t.UpdatedAt = at.UTC()
		return nil
	})
}

func (s *GormStore) updateTicket(id string, mutate func(*TicketModel) error) (domain.Ticket, error) {
	var model TicketModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		ok, err := first(forUpdate(tx), &model, "id = ?", id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		if err := mutate(&model); err != nil {
			return err
		}
		return tx.Model(&TicketModel{}).Where("id = ?", id).Updates(map[string]any{
			"reply":      model.Reply,
			"replied_by": model.RepliedBy,
			"status":     model.Status,
			"updated_at": model.UpdatedAt,
		}).Error
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	return ticketFromModel(model), nil
}

func (s *GormStore) CreateNotification(n domain.Notification) error {
	model, err := notificationToModel(n)
	if err != nil {
		return err
	}
	return translate(s.db.Create(&model).Error)
}

func (s *GormStore) ListNotifications(userID string, limit int) ([]domain.Notification, error) {
	query := s.db.Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []NotificationModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return mapModels(models, notificationFromModel), nil
}

func (s *GormStore) UnreadNotificationCount(userID string) (int, error) {
	var count int64
	err := s.db.Model(&NotificationModel{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Count(&count).Error
	return int(count), err
}

func (s *GormStore) MarkNotificationsRead(userID string, ids []string, at time.Time) (int, error) {
	query := s.db.Model(&NotificationModel{}).Where("user_id = ? AND read_at IS NULL", userID)
	if len(ids) > 0 {
		query = query.Where("id IN ?", ids)
	}
	res := query.UpdateColumn("read_at", at.UTC())
	return int(res.RowsAffected), res.Error
}

func orderedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{ID: m.ID, UserA: m.UserA, UserB: m.UserB, LastMessageAt: m.LastMessageAt, CreatedAt: m.CreatedAt}
}

func messageToModel(m domain.Message) MessageModel {
	return MessageModel{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		MediaURL:       m.MediaURL,
		MediaType:      m.MediaType,
		ViewOnce:       m.ViewOnce,
		ViewedAt:       m.ViewedAt,
		ExpiresAt:      m.ExpiresAt,
		ReadAt:         m.ReadAt,
		CreatedAt:      m.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		MediaURL:       m.MediaURL,
		MediaType:      m.MediaType,
		ViewOnce:       m.ViewOnce,
		ViewedAt:       m.ViewedAt,
		ExpiresAt:      m.ExpiresAt,
		ReadAt:         m.ReadAt,
		CreatedAt:      m.CreatedAt,
	}
}

func liveSessionToModel(l domain.LiveSession) LiveSessionModel {
	return LiveSessionModel{ID: l.ID, HostID: l.HostID, Title: l.Title, RoomID: l.RoomID, StartedAt: l.StartedAt, HeartbeatAt: l.HeartbeatAt}
}

func liveSessionFromModel(m LiveSessionModel) domain.LiveSession {
	return domain.LiveSession{ID: m.ID, HostID: m.HostID, Title: m.Title, RoomID: m.RoomID, StartedAt: m.StartedAt, HeartbeatAt: m.HeartbeatAt}
}

func ticketToModel(t domain.Ticket) TicketModel {
	return TicketModel{
		ID:        t.ID,
		UserID:    t.UserID,
		Subject:   t.Subject,
		Body:      t.Body,
		Status:    string(t.Status),
		Reply:     t.Reply,
		RepliedBy: t.RepliedBy,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func ticketFromModel(m TicketModel) domain.Ticket {
	return domain.Ticket{
		ID:        m.ID,
		UserID:    m.UserID,
		Subject:   m.Subject,
		Body:      m.Body,
		Status:    domain.TicketStatus(m.Status),
		Reply:     m.Reply,
		RepliedBy: m.RepliedBy,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func notificationToModel(n domain.Notification) (NotificationModel, error) {
	var data []byte
	if len(n.Data) > 0 {
		var err error
		if data, err = json.Marshal(n.Data); err != nil {
			return NotificationModel{}, fmt.Errorf("encode notification data: %w", err)
		}
	}
	return NotificationModel{
		ID:        n.ID,
		UserID:    n.UserID,
		ActorID:   n.ActorID,
		Kind:      string(n.Kind),
		EntityID:  n.EntityID,
		Data:      data,
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
	}, nil
}

func notificationFromModel(m NotificationModel) domain.Notification {
	var data map[string]string
	if len(m.Data) > 0 {
		_ = json.Unmarshal(m.Data, &data)
	}
	return domain.Notification{
		ID:        m.ID,
		UserID:    m.UserID,
		ActorID:   m.ActorID,
		Kind:      domain.NotificationKind(m.Kind),
		EntityID:  m.EntityID,
		Data:      data,
		ReadAt:    m.ReadAt,
		CreatedAt: m.CreatedAt,
	}
}

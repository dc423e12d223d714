package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"afggram/internal/util"
	"afggram/pkg/domain"
	"afggram/pkg/notify"
	"afggram/pkg/realtime"
	"afggram/pkg/store"
)

const (
	maxMessageContent = 4000
	maxMessageTTL     = 7 * 24 * time.Hour
)

// ConversationView is a conversation from one participant's side.
type ConversationView struct {
	domain.Conversation
	Peer   domain.User `json:"peer"`
	Unread int         `json:"unread"`
}

// MessageInput is a message being sent.
type MessageInput struct {
	To               string
	Content          string
	MediaURL         string
	MediaType        string
	ViewOnce         bool
	ExpiresInSeconds int
}

// Conversations lists the caller's conversations, most recent first.
func (a *App) Conversations(userID string) ([]ConversationView, error) {
	convs, err := a.store.ListConversations(userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	unread, err := a.store.UnreadByConversation(userID)
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	peerIDs := make([]string, 0, len(convs))
	for _, c := range convs {
		peerIDs = append(peerIDs, c.Peer(userID))
	}
	peers, err := a.publicUsers(peerIDs)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationView, 0, len(convs))
	for _, c := range convs {
		out = append(out, ConversationView{Conversation: c, Peer: peers[c.Peer(userID)], Unread: unread[c.ID]})
	}
	return out, nil
}

// SendMessage delivers a message, creating the conversation on first contact.
func (a *App) SendMessage(ctx context.Context, senderID string, in MessageInput) (domain.Message, error) {
	to := strings.TrimSpace(in.To)
	if to == "" {
		return domain.Message{}, fmt.Errorf("%w: recipient required", ErrInvalid)
	}
	if to == senderID {
		return domain.Message{}, ErrCannotSelf
	}
	content, fits := trimmed(in.Content, maxMessageContent)
	if !fits {
		return domain.Message{}, fmt.Errorf("%w: message too long", ErrInvalid)
	}
	mediaURL := strings.TrimSpace(in.MediaURL)
	if content == "" && mediaURL == "" {
		return domain.Message{}, ErrMessageEmpty
	}
	if in.ViewOnce && mediaURL == "" {
		return domain.Message{}, fmt.Errorf("%w: view-once messages need media", ErrInvalid)
	}
	if in.ExpiresInSeconds < 0 || time.Duration(in.ExpiresInSeconds)*time.Second > maxMessageTTL {
		return domain.Message{}, fmt.Errorf("%w: expiresInSeconds out of range", ErrInvalid)
	}
	if err := a.checkMedia(senderID, mediaURL); err != nil {
		return domain.Message{}, err
	}
	recipient, ok, err := a.store.GetUserByID(to)
	if err != nil {
		return domain.Message{}, fmt.Errorf("fetch recipient: %w", err)
	}
	if !ok || recipient.Status == domain.StatusDisabled {
		return domain.Message{}, fmt.Errorf("%w: recipient", ErrNotFound)
	}

	now := a.clock()
	conv, err := a.store.GetOrCreateConversation(senderID, recipient.ID, now)
	if err != nil {
		return domain.Message{}, storeErr("open conversation", err)
	}
	msg := domain.Message{
		ID:             util.NewID(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     recipient.ID,
		Content:        content,
		MediaURL:       mediaURL,
		MediaType:      in.MediaType,
		ViewOnce:       in.ViewOnce,
		CreatedAt:      now,
	}
	if in.ExpiresInSeconds > 0 {
		expires := now.Add(time.Duration(in.ExpiresInSeconds) * time.Second)
		msg.ExpiresAt = &expires
	}
	if err := a.store.CreateMessage(msg); err != nil {
		return domain.Message{}, storeErr("create message", err)
	}
	a.publish(ctx, realtime.TableMessages, realtime.Insert, msg, nil)
	a.notify(ctx, notify.Request{
		UserID:   recipient.ID,
		ActorID:  senderID,
		Kind:     domain.NotifyMessage,
		EntityID: conv.ID,
	})
	return msg, nil
}

// ListMessages returns the newest messages of a conversation, oldest first.
// Expired messages are skipped and opened view-once media is withheld from
// the receiver.
func (a *App) ListMessages(viewerID, conversationID string, limit int) ([]domain.Message, error) {
	if _, err := a.conversationFor(viewerID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := a.store.ListMessages(conversationID, a.clock(), clampLimit(limit, 50, 200))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	for i := range msgs {
		msgs[i] = withholdConsumed(msgs[i], viewerID)
	}
	return msgs, nil
}

func withholdConsumed(msg domain.Message, viewerID string) domain.Message {
	if msg.Consumed() && msg.ReceiverID == viewerID {
		msg.MediaURL = ""
		msg.MediaType = ""
	}
	return msg
}

// MarkRead marks every message the caller received in a conversation as read.
func (a *App) MarkRead(viewerID, conversationID string) (int, error) {
	if _, err := a.conversationFor(viewerID, conversationID); err != nil {
		return 0, err
	}
	n, err := a.store.MarkConversationRead(conversationID, viewerID, a.clock())
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return n, nil
}

// ViewMessage opens a view-once message. Only the receiver may open it, once.
func (a *App) ViewMessage(ctx context.Context, viewerID, messageID string) (domain.Message, error) {
	msg, ok, err := a.store.GetMessage(messageID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("fetch message: %w", err)
	}
	now := a.clock()
	if !ok || !msg.ViewOnce || msg.ReceiverID != viewerID || msg.Expired(now) {
		return domain.Message{}, fmt.Errorf("%w: message", ErrNotFound)
	}
	viewed, err := a.store.MarkMessageViewed(messageID, now)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return domain.Message{}, ErrAlreadyViewed
		}
		return domain.Message{}, storeErr("view message", err)
	}
	a.publish(ctx, realtime.TableMessages, realtime.Update, withholdConsumed(viewed, viewed.ReceiverID), nil)
	return viewed, nil
}

// Counts returns the unread badges.
func (a *App) Counts(ctx context.Context, userID string) (domain.Counts, error) {
	var out domain.Counts
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := a.store.UnreadMessageCount(userID)
		out.Messages = n
		return err
	})
	g.Go(func() error {
		n, err := a.store.UnreadNotificationCount(userID)
		out.Notifications = n
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Counts{}, fmt.Errorf("unread counts: %w", err)
	}
	return out, nil
}

func (a *App) conversationFor(userID, conversationID string) (domain.Conversation, error) {
	conv, ok, err := a.store.GetConversation(conversationID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("fetch conversation: %w", err)
	}
	if !ok || !conv.Has(userID) {
		return domain.Conversation{}, fmt.Errorf("%w: conversation", ErrNotFound)
	}
	return conv, nil
}

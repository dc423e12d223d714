// Package domain defines the entities shared by the API and the worker.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusDisabled UserStatus = "disabled"
)

// User is an account together with its public profile and wallet balance.
type User struct {
	ID           string          `json:"id"`
	Email        string          `json:"email,omitempty"`
	PasswordHash string          `json:"-"`
	Username     string          `json:"username"`
	DisplayName  string          `json:"displayName"`
	Bio          string          `json:"bio,omitempty"`
	AvatarURL    string          `json:"avatarUrl,omitempty"`
	Role         UserRole        `json:"role"`
	Status       UserStatus      `json:"status"`
	Verified     bool            `json:"verified"`
	Balance      decimal.Decimal `json:"balance"`
	LastSeenAt   *time.Time      `json:"lastSeenAt,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Public strips private fields for display to other users.
func (u User) Public() User {
	u.Email = ""
	u.Balance = decimal.Zero
	return u
}

// ProfileStats are the counters shown on a profile page.
type ProfileStats struct {
	Posts     int `json:"posts"`
	Followers int `json:"followers"`
	Following int `json:"following"`
}

type Post struct {
	ID            string    `json:"id"`
	AuthorID      string    `json:"authorId"`
	Content       string    `json:"content"`
	MediaURL      string    `json:"mediaUrl,omitempty"`
	MediaType     string    `json:"mediaType,omitempty"`
	LikesCount    int       `json:"likesCount"`
	CommentsCount int       `json:"commentsCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type Like struct {
	PostID    string    `json:"postId"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Follow struct {
	FollowerID string    `json:"followerId"`
	FolloweeID string    `json:"followeeId"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Task struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Link        string          `json:"link,omitempty"`
	Reward      decimal.Decimal `json:"reward"`
	Active      bool            `json:"active"`
	CreatedBy   string          `json:"createdBy"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ReviewStatus is shared by submissions and withdrawals.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// ParseReviewStatus accepts the three review states.
func ParseReviewStatus(raw string) (ReviewStatus, bool) {
	switch ReviewStatus(raw) {
	case ReviewPending, ReviewApproved, ReviewRejected:
		return ReviewStatus(raw), true
	}
	return "", false
}

type Submission struct {
	ID         string       `json:"id"`
	TaskID     string       `json:"taskId"`
	UserID     string       `json:"userId"`
	Proof      string       `json:"proof"`
	ProofURL   string       `json:"proofUrl,omitempty"`
	Status     ReviewStatus `json:"status"`
	ReviewNote string       `json:"reviewNote,omitempty"`
	ReviewedBy string       `json:"reviewedBy,omitempty"`
	ReviewedAt *time.Time   `json:"reviewedAt,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// PayoutMethod is a mobile-money provider.
type PayoutMethod string

const (
	MethodMTN    PayoutMethod = "mtn"
	MethodAirtel PayoutMethod = "airtel"
)

type Withdrawal struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	Amount     decimal.Decimal `json:"amount"`
	Fee        decimal.Decimal `json:"fee"`
	Total      decimal.Decimal `json:"total"`
	Method     PayoutMethod    `json:"method"`
	Phone      string          `json:"phone"`
	Status     ReviewStatus    `json:"status"`
	ReviewNote string          `json:"reviewNote,omitempty"`
	ReviewedBy string          `json:"reviewedBy,omitempty"`
	ReviewedAt *time.Time      `json:"reviewedAt,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Wallet summarizes a user's funds.
type Wallet struct {
	Balance   decimal.Decimal `json:"balance"`
	Pending   decimal.Decimal `json:"pending"`
	Available decimal.Decimal `json:"available"`
}

// Conversation is a sender/receiver pair. UserA sorts before UserB.
type Conversation struct {
	ID            string     `json:"id"`
	UserA         string     `json:"userA"`
	UserB         string     `json:"userB"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Peer returns the other participant.
func (c Conversation) Peer(userID string) string {
	if c.UserA == userID {
		return c.UserB
	}
	return c.UserA
}

// Has reports whether userID participates in the conversation.
func (c Conversation) Has(userID string) bool {
	return c.UserA == userID || c.UserB == userID
}

type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	ReceiverID     string     `json:"receiverId"`
	Content        string     `json:"content,omitempty"`
	MediaURL       string     `json:"mediaUrl,omitempty"`
	MediaType      string     `json:"mediaType,omitempty"`
	ViewOnce       bool       `json:"viewOnce"`
	ViewedAt       *time.Time `json:"viewedAt,omitempty"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Expired reports whether a disappearing message is past its expiry.
func (m Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !now.Before(*m.ExpiresAt)
}

// Consumed reports whether a view-once message was already opened.
func (m Message) Consumed() bool {
	return m.ViewOnce && m.ViewedAt != nil
}

type LiveSession struct {
	ID          string    `json:"id"`
	HostID      string    `json:"hostId"`
	Title       string    `json:"title"`
	RoomID      string    `json:"roomId"`
	StartedAt   time.Time `json:"startedAt"`
	HeartbeatAt time.Time `json:"heartbeatAt"`
}

// Call is a one-to-one RTC invitation. It is not persisted.
type Call struct {
	ID        string    `json:"id"`
	CallerID  string    `json:"callerId"`
	CalleeID  string    `json:"calleeId"`
	RoomID    string    `json:"roomId"`
	Video     bool      `json:"video"`
	CreatedAt time.Time `json:"createdAt"`
}

type TicketStatus string

const (
	TicketOpen     TicketStatus = "open"
	TicketAnswered TicketStatus = "answered"
	TicketClosed   TicketStatus = "closed"
)

type Ticket struct {
	ID        string       `json:"id"`
	UserID    string       `json:"userId"`
	Subject   string       `json:"subject"`
	Body      string       `json:"body"`
	Status    TicketStatus `json:"status"`
	Reply     string       `json:"reply,omitempty"`
	RepliedBy string       `json:"repliedBy,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type NotificationKind string

const (
	NotifyLike             NotificationKind = "like"
	NotifyComment          NotificationKind = "comment"
	NotifyFollow           NotificationKind = "follow"
	NotifyMessage          NotificationKind = "message"
	NotifySubmissionReview NotificationKind = "submission_review"
	NotifyWithdrawalReview NotificationKind = "withdrawal_review"
	NotifyTicketReply      NotificationKind = "ticket_reply"
	NotifyLive             NotificationKind = "live"
)

type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	ActorID   string            `json:"actorId,omitempty"`
	Kind      NotificationKind  `json:"kind"`
	EntityID  string            `json:"entityId,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	ReadAt    *time.Time        `json:"readAt,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Counts are the unread badges shown in the navigation bar.
type Counts struct {
	Messages      int `json:"messages"`
	Notifications int `json:"notifications"`
}

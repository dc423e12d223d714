package store

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// GORM models used for persistence. Money columns are numeric so balances
// never pass through floating point.
type UserModel struct {
	ID           string          `gorm:"primaryKey"`
	Email        string          `gorm:"uniqueIndex;not null"`
	PasswordHash string          `gorm:"not null"`
	Username     string          `gorm:"uniqueIndex;not null"`
	DisplayName  string          `gorm:"not null;default:''"`
	Bio          string          `gorm:"type:text"`
	AvatarURL    string
	Role         string          `gorm:"not null"`
	Status       string          `gorm:"not null;default:'active'"`
	Verified     bool            `gorm:"not null;default:false"`
	Balance      decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	LastSeenAt   *time.Time
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type PostModel struct {
	ID            string `gorm:"primaryKey"`
	AuthorID      string `gorm:"not null;index:idx_post_author_created,priority:1"`
	Content       string `gorm:"type:text;not null"`
	MediaURL      string
	MediaType     string
	LikesCount    int       `gorm:"not null;default:0"`
	CommentsCount int       `gorm:"not null;default:0"`
	CreatedAt     time.Time `gorm:"not null;index:idx_post_author_created,priority:2"`
	UpdatedAt     time.Time
}

type CommentModel struct {
	ID        string    `gorm:"primaryKey"`
	PostID    string    `gorm:"not null;index"`
	AuthorID  string    `gorm:"not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type LikeModel struct {
	PostID    string    `gorm:"primaryKey"`
	UserID    string    `gorm:"primaryKey;index"`
	CreatedAt time.Time `gorm:"not null"`
}

type FollowModel struct {
	FollowerID string    `gorm:"primaryKey"`
	FolloweeID string    `gorm:"primaryKey;index"`
	CreatedAt  time.Time `gorm:"not null"`
}

type TaskModel struct {
	ID          string `gorm:"primaryKey"`
	Title       string `gorm:"not null"`
	Description string `gorm:"type:text"`
	Link        string
	Reward      decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Active      bool            `gorm:"not null;index"`
	CreatedBy   string
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time
}

type SubmissionModel struct {
	ID         string `gorm:"primaryKey"`
	TaskID     string `gorm:"not null;index:idx_submission_task_user,priority:1"`
	UserID     string `gorm:"not null;index:idx_submission_task_user,priority:2"`
	Proof      string `gorm:"type:text"`
	ProofURL   string
	Status     string `gorm:"not null;index"`
	ReviewNote string
	ReviewedBy string
	ReviewedAt *time.Time
	CreatedAt  time.Time `gorm:"not null"`
}

type WithdrawalModel struct {
	ID         string          `gorm:"primaryKey"`
	UserID     string          `gorm:"not null;index"`
	Amount     decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Fee        decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Total      decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Method     string          `gorm:"not null"`
	Phone      string          `gorm:"not null"`
	Status     string          `gorm:"not null;index"`
	ReviewNote string
	ReviewedBy string
	ReviewedAt *time.Time
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time
}

type ConversationModel struct {
	ID            string `gorm:"primaryKey"`
	UserA         string `gorm:"not null;uniqueIndex:idx_conversation_pair,priority:1"`
	UserB         string `gorm:"not null;uniqueIndex:idx_conversation_pair,priority:2;index"`
	LastMessageAt *time.Time
	CreatedAt     time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID             string `gorm:"primaryKey"`
	ConversationID string `gorm:"not null;index"`
	SenderID       string `gorm:"not null"`
	ReceiverID     string `gorm:"not null;index"`
	Content        string `gorm:"type:text"`
	MediaURL       string
	MediaType      string
	ViewOnce       bool `gorm:"not null;default:false"`
	ViewedAt       *time.Time
	ExpiresAt      *time.Time `gorm:"index"`
	ReadAt         *time.Time
	CreatedAt      time.Time `gorm:"not null;index"`
}

type LiveSessionModel struct {
	ID          string    `gorm:"primaryKey"`
	HostID      string    `gorm:"not null;uniqueIndex"`
	Title       string    `gorm:"not null"`
	RoomID      string    `gorm:"not null"`
	StartedAt   time.Time `gorm:"not null"`
	HeartbeatAt time.Time `gorm:"not null;index"`
}

type TicketModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index"`
	Subject   string `gorm:"not null"`
	Body      string `gorm:"type:text;not null"`
	Status    string `gorm:"not null;index"`
	Reply     string `gorm:"type:text"`
	RepliedBy string
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

type NotificationModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index"`
	ActorID   string
	Kind      string         `gorm:"not null"`
	EntityID  string
	Data      datatypes.JSON `gorm:"type:jsonb"`
	ReadAt    *time.Time
	CreatedAt time.Time `gorm:"not null;index"`
}

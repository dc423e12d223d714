package store

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"afggram/pkg/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// Store is the full persistence surface used by the services.
type Store interface {
	UserStore
	PostStore
	FollowStore
	TaskStore
	WalletStore
	MessageStore
	LiveStore
	TicketStore
	NotificationStore
}

type UserStore interface {
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	HasUsername(username string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	GetUserByUsername(username string) (domain.User, bool, error)
	GetUsersByIDs(ids []string) (map[string]domain.User, error)
	ListUsers() ([]domain.User, error)
	SearchUsers(query string, limit int) ([]domain.User, error)
	UserCount() (int, error)
	TouchPresence(userID string, at time.Time) error
}

// PostStore covers posts and the rows hanging off them.
// Like and comment counters never go below zero.
type PostStore interface {
	CreatePost(domain.Post) error
	GetPost(id string) (domain.Post, bool, error)
	DeletePost(id string) error
	ListPostsByAuthors(authorIDs []string, before time.Time, limit int) ([]domain.Post, error)
	CountPostsByAuthor(authorID string) (int, error)

	AddComment(domain.Comment) error
	GetComment(id string) (domain.Comment, bool, error)
	ListComments(postID string) ([]domain.Comment, error)
	DeleteComment(id string) error

	// LikePost reports whether a row was added and the resulting count.
	LikePost(postID, userID string, at time.Time) (bool, int, error)
	UnlikePost(postID, userID string) (bool, int, error)
	LikedPosts(userID string, postIDs []string) (map[string]bool, error)
}

type FollowStore interface {
	Follow(followerID, followeeID string, at time.Time) (bool, error)
	Unfollow(followerID, followeeID string) (bool, error)
	IsFollowing(followerID, followeeID string) (bool, error)
	ListFollowers(userID string) ([]string, error)
	ListFollowing(userID string) ([]string, error)
	CountFollowers(userID string) (int, error)
	CountFollowing(userID string) (int, error)
}

// Review is an administrator decision on a pending row.
type Review struct {
	Approve    bool
	Note       string
	ReviewerID string
	At         time.Time
}

// Status returns the review outcome as a status.
func (r Review) Status() domain.ReviewStatus {
	if r.Approve {
		return domain.ReviewApproved
	}
	return domain.ReviewRejected
}

type TaskStore interface {
	SaveTask(domain.Task) error
	GetTask(id string) (domain.Task, bool, error)
	ListTasks(activeOnly bool) ([]domain.Task, error)

	// CreateSubmission fails with ErrConflict while the user has a pending
	// or approved submission for the same task.
	CreateSubmission(domain.Submission) error
	GetSubmission(id string) (domain.Submission, bool, error)
	ListSubmissionsByUser(userID string) ([]domain.Submission, error)
	// ListSubmissions filters by status; an empty status lists everything.
	ListSubmissions(status domain.ReviewStatus) ([]domain.Submission, error)
	// ReviewSubmission credits the task reward on approval.
	ReviewSubmission(id string, review Review) (domain.Submission, error)
}

type WalletStore interface {
	PendingWithdrawalTotal(userID string) (decimal.Decimal, error)
	// CreateWithdrawal fails with ErrInsufficientBalance when the balance
	// minus other pending totals no longer covers w.Total.
	CreateWithdrawal(w domain.Withdrawal) error
	GetWithdrawal(id string) (domain.Withdrawal, bool, error)
	ListWithdrawalsByUser(userID string) ([]domain.Withdrawal, error)
	ListWithdrawals(status domain.ReviewStatus) ([]domain.Withdrawal, error)
	// ReviewWithdrawal deducts the total from the balance on approval.
	ReviewWithdrawal(id string, review Review) (domain.Withdrawal, error)
}

type MessageStore interface {
	GetOrCreateConversation(userA, userB string, at time.Time) (domain.Conversation, error)
	GetConversation(id string) (domain.Conversation, bool, error)
	ListConversations(userID string) ([]domain.Conversation, error)

	CreateMessage(domain.Message) error
	GetMessage(id string) (domain.Message, bool, error)
	// ListMessages returns the newest limit messages, oldest first, skipping
	// messages expired at now.
	ListMessages(conversationID string, now time.Time, limit int) ([]domain.Message, error)
	MarkConversationRead(conversationID, readerID string, at time.Time) (int, error)
	// MarkMessageViewed fails with ErrInvalidTransition when the message was
	// already viewed.
	MarkMessageViewed(id string, at time.Time) (domain.Message, error)
	UnreadMessageCount(userID string) (int, error)
	UnreadByConversation(userID string) (map[string]int, error)
	DeleteExpiredMessages(now time.Time) ([]domain.Message, error)
}

type LiveStore interface {
	// CreateLiveSession fails with ErrConflict when the host is already live.
	CreateLiveSession(domain.LiveSession) error
	GetLiveSession(id string) (domain.LiveSession, bool, error)
	ListLiveSessions() ([]domain.LiveSession, error)
	HeartbeatLiveSession(id string, at time.Time) error
	DeleteLiveSession(id string) error
	DeleteStaleLiveSessions(before time.Time) ([]domain.LiveSession, error)
}

type TicketStore interface {
	CreateTicket(domain.Ticket) error
	GetTicket(id string) (domain.Ticket, bool, error)
	ListTicketsByUser(userID string) ([]domain.Ticket, error)
	ListTickets(status domain.TicketStatus) ([]domain.Ticket, error)
	ReplyTicket(id, reply, adminID string, at time.Time) (domain.Ticket, error)
	CloseTicket(id string, at time.Time) (domain.Ticket, error)
}

type NotificationStore interface {
	CreateNotification(domain.Notification) error
	ListNotifications(userID string, limit int) ([]domain.Notification, error)
	UnreadNotificationCount(userID string) (int, error)
	// MarkNotificationsRead marks ids, or every unread row when ids is empty.
	MarkNotificationsRead(userID string, ids []string, at time.Time) (int, error)
}

// JWK represents a JSON Web Key entry used by JWKS endpoints.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

package store

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"afggram/pkg/domain"
)

var t0 = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func seededStore(t *testing.T) *MemoryStore {
	t.Helper()
	m := NewMemoryStore()
	for i, name := range []string{"alice", "bob"} {
		u := domain.User{
			ID:        "user-" + name,
			Email:     name + "@example.com",
			Username:  name,
			Role:      domain.RoleUser,
			Status:    domain.StatusActive,
			CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		}
		if err := m.SaveUser(u); err != nil {
			t.Fatalf("save user: %v", err)
		}
	}
	return m
}

func TestMemorySaveUserRejectsTakenUsername(t *testing.T) {
	m := seededStore(t)
	err := m.SaveUser(domain.User{ID: "user-x", Email: "x@example.com", Username: "ALICE"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if ok, _ := m.HasUsername("Alice"); !ok {
		t.Fatalf("expected case-insensitive username lookup")
	}
}

func TestMemorySaveUserKeepsBalance(t *testing.T) {
	m := seededStore(t)
	if err := m.SetBalance("user-alice", decimal.NewFromInt(500)); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	u, _, _ := m.GetUserByID("user-alice")
	u.Bio = "hello"
	u.Balance = decimal.Zero
	if err := m.SaveUser(u); err != nil {
		t.Fatalf("save user: %v", err)
	}
	got, _, _ := m.GetUserByID("user-alice")
	if !got.Balance.Equal(decimal.NewFromInt(500)) || got.Bio != "hello" {
		t.Fatalf("unexpected user after update: %+v", got)
	}
}

func TestMemoryLikesAreIdempotent(t *testing.T) {
	m := seededStore(t)
	_ = m.CreatePost(domain.Post{ID: "p1", AuthorID: "user-alice", CreatedAt: t0})

	added, count, err := m.LikePost("p1", "user-bob", t0)
	if err != nil || !added || count != 1 {
		t.Fatalf("first like: added=%v count=%d err=%v", added, count, err)
	}
	added, count, _ = m.LikePost("p1", "user-bob", t0)
	if added || count != 1 {
		t.Fatalf("second like: added=%v count=%d", added, count)
	}
	removed, count, _ := m.UnlikePost("p1", "user-bob")
	if !removed || count != 0 {
		t.Fatalf("unlike: removed=%v count=%d", removed, count)
	}
	removed, count, _ = m.UnlikePost("p1", "user-bob")
	if removed || count != 0 {
		t.Fatalf("second unlike: removed=%v count=%d", removed, count)
	}
	if _, _, err := m.LikePost("missing", "user-bob", t0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryCommentCounter(t *testing.T) {
	m := seededStore(t)
	_ = m.CreatePost(domain.Post{ID: "p1", AuthorID: "user-alice", CreatedAt: t0})
	_ = m.AddComment(domain.Comment{ID: "c1", PostID: "p1", AuthorID: "user-bob", CreatedAt: t0})
	_ = m.AddComment(domain.Comment{ID: "c2", PostID: "p1", AuthorID: "user-bob", CreatedAt: t0.Add(time.Second)})

	p, _, _ := m.GetPost("p1")
	if p.CommentsCount != 2 {
		t.Fatalf("comments = %d", p.CommentsCount)
	}
	_ = m.DeleteComment("c1")
	p, _, _ = m.GetPost("p1")
	if p.CommentsCount != 1 {
		t.Fatalf("comments after delete = %d", p.CommentsCount)
	}
	if err := m.AddComment(domain.Comment{ID: "c3", PostID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryFeedPaging(t *testing.T) {
	m := seededStore(t)
	for i := 0; i < 5; i++ {
		_ = m.CreatePost(domain.Post{ID: string(rune('a' + i)), AuthorID: "user-alice", CreatedAt: t0.Add(time.Duration(i) * time.Minute)})
	}
	_ = m.CreatePost(domain.Post{ID: "other", AuthorID: "user-carol", CreatedAt: t0})

	page, _ := m.ListPostsByAuthors([]string{"user-alice"}, time.Time{}, 2)
	if len(page) != 2 || page[0].ID != "e" || page[1].ID != "d" {
		t.Fatalf("unexpected first page: %+v", page)
	}
	page, _ = m.ListPostsByAuthors([]string{"user-alice"}, page[1].CreatedAt, 10)
	if len(page) != 3 || page[0].ID != "c" {
		t.Fatalf("unexpected second page: %+v", page)
	}
}

func TestMemorySubmissionRetryRules(t *testing.T) {
	m := seededStore(t)
	_ = m.SaveTask(domain.Task{ID: "task-1", Reward: decimal.NewFromInt(250), Active: true, CreatedAt: t0})

	sub := domain.Submission{ID: "s1", TaskID: "task-1", UserID: "user-bob", Status: domain.ReviewPending, CreatedAt: t0}
	if err := m.CreateSubmission(sub); err != nil {
		t.Fatalf("create: %v", err)
	}
	sub.ID = "s2"
	if err := m.CreateSubmission(sub); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict while pending, got %v", err)
	}

	if _, err := m.ReviewSubmission("s1", Review{Approve: false, At: t0}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := m.CreateSubmission(sub); err != nil {
		t.Fatalf("retry after rejection: %v", err)
	}
	if _, err := m.ReviewSubmission("s2", Review{Approve: true, ReviewerID: "admin", At: t0}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	u, _, _ := m.GetUserByID("user-bob")
	if !u.Balance.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("balance = %s", u.Balance)
	}
	sub.ID = "s3"
	if err := m.CreateSubmission(sub); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict after approval, got %v", err)
	}
	if _, err := m.ReviewSubmission("s2", Review{Approve: false, At: t0}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMemoryWithdrawalLifecycle(t *testing.T) {
	m := seededStore(t)
	_ = m.SetBalance("user-bob", decimal.NewFromInt(2500))
	w := domain.Withdrawal{
		ID: "w1", UserID: "user-bob",
		Amount: decimal.NewFromInt(1000), Fee: decimal.NewFromInt(100), Total: decimal.NewFromInt(1100),
		Status: domain.ReviewPending, CreatedAt: t0,
	}
	if err := m.CreateWithdrawal(w); err != nil {
		t.Fatalf("first withdrawal: %v", err)
	}
	w.ID = "w2"
	if err := m.CreateWithdrawal(w); err != nil {
		t.Fatalf("second withdrawal: %v", err)
	}
	w.ID = "w3"
	if err := m.CreateWithdrawal(w); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected pending totals to count against balance, got %v", err)
	}
	pending, _ := m.PendingWithdrawalTotal("user-bob")
	if !pending.Equal(decimal.NewFromInt(2200)) {
		t.Fatalf("pending = %s", pending)
	}

	got, err := m.ReviewWithdrawal("w1", Review{Approve: true, ReviewerID: "admin", At: t0})
	if err != nil || got.Status != domain.ReviewApproved {
		t.Fatalf("approve: %+v %v", got, err)
	}
	u, _, _ := m.GetUserByID("user-bob")
	if !u.Balance.Equal(decimal.NewFromInt(1400)) {
		t.Fatalf("balance after approval = %s", u.Balance)
	}
	if _, err := m.ReviewWithdrawal("w2", Review{Approve: false, At: t0}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	u, _, _ = m.GetUserByID("user-bob")
	if !u.Balance.Equal(decimal.NewFromInt(1400)) {
		t.Fatalf("rejection changed balance: %s", u.Balance)
	}
	if _, err := m.ReviewWithdrawal("w1", Review{Approve: true, At: t0}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMemoryConversationsAndMessages(t *testing.T) {
	m := seededStore(t)
	c1, _ := m.GetOrCreateConversation("user-bob", "user-alice", t0)
	c2, _ := m.GetOrCreateConversation("user-alice", "user-bob", t0)
	if c1.ID != c2.ID || c1.UserA != "user-alice" {
		t.Fatalf("expected one ordered conversation, got %+v %+v", c1, c2)
	}

	expiry := t0.Add(time.Minute)
	msgs := []domain.Message{
		{ID: "m1", ConversationID: c1.ID, SenderID: "user-alice", ReceiverID: "user-bob", Content: "hi", CreatedAt: t0},
		{ID: "m2", ConversationID: c1.ID, SenderID: "user-alice", ReceiverID: "user-bob", Content: "poof", ExpiresAt: &expiry, CreatedAt: t0.Add(time.Second)},
		{ID: "m3", ConversationID: c1.ID, SenderID: "user-alice", ReceiverID: "user-bob", MediaURL: "u", ViewOnce: true, CreatedAt: t0.Add(2 * time.Second)},
	}
	for _, msg := range msgs {
		if err := m.CreateMessage(msg); err != nil {
			t.Fatalf("create message: %v", err)
		}
	}
	if n, _ := m.UnreadMessageCount("user-bob"); n != 3 {
		t.Fatalf("unread = %d", n)
	}
	list, _ := m.ListMessages(c1.ID, t0.Add(2*time.Minute), 10)
	if len(list) != 2 || list[0].ID != "m1" || list[1].ID != "m3" {
		t.Fatalf("expected expired message hidden, got %+v", list)
	}

	if _, err := m.MarkMessageViewed("m3", t0); err != nil {
		t.Fatalf("view: %v", err)
	}
	if _, err := m.MarkMessageViewed("m3", t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected second view to fail, got %v", err)
	}
	if n, _ := m.MarkConversationRead(c1.ID, "user-bob", t0); n != 2 {
		t.Fatalf("marked = %d", n)
	}
	removed, _ := m.DeleteExpiredMessages(t0.Add(2 * time.Minute))
	if len(removed) != 1 || removed[0].ID != "m2" {
		t.Fatalf("removed = %+v", removed)
	}
}

func TestMemoryLiveSessionPerHost(t *testing.T) {
	m := seededStore(t)
	if err := m.CreateLiveSession(domain.LiveSession{ID: "l1", HostID: "user-alice", StartedAt: t0, HeartbeatAt: t0}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.CreateLiveSession(domain.LiveSession{ID: "l2", HostID: "user-alice", StartedAt: t0, HeartbeatAt: t0}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	_ = m.CreateLiveSession(domain.LiveSession{ID: "l3", HostID: "user-bob", StartedAt: t0, HeartbeatAt: t0.Add(time.Minute)})
	stale, _ := m.DeleteStaleLiveSessions(t0.Add(30 * time.Second))
	if len(stale) != 1 || stale[0].ID != "l1" {
		t.Fatalf("stale = %+v", stale)
	}
}

func TestMemoryTicketTransitions(t *testing.T) {
	m := seededStore(t)
	_ = m.CreateTicket(domain.Ticket{ID: "t1", UserID: "user-bob", Status: domain.TicketOpen, CreatedAt: t0})
	got, err := m.ReplyTicket("t1", "on it", "admin", t0)
	if err != nil || got.Status != domain.TicketAnswered {
		t.Fatalf("reply: %+v %v", got, err)
	}
	if _, err := m.CloseTicket("t1", t0); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := m.ReplyTicket("t1", "again", "admin", t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMemoryMarkNotificationsRead(t *testing.T) {
	m := seededStore(t)
	for _, id := range []string{"n1", "n2", "n3"} {
		_ = m.CreateNotification(domain.Notification{ID: id, UserID: "user-bob", Kind: domain.NotifyLike, CreatedAt: t0})
	}
	if n, _ := m.MarkNotificationsRead("user-bob", []string{"n1"}, t0); n != 1 {
		t.Fatalf("marked = %d", n)
	}
	if n, _ := m.UnreadNotificationCount("user-bob"); n != 2 {
		t.Fatalf("unread = %d", n)
	}
	if n, _ := m.MarkNotificationsRead("user-bob", nil, t0); n != 2 {
		t.Fatalf("marked all = %d", n)
	}
}

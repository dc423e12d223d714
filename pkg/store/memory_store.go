package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"afggram/internal/util"
	"afggram/pkg/domain"
)

type likeKey struct{ postID, userID string }

type followKey struct{ follower, followee string }

// MemoryStore keeps everything in-process. It backs tests and local runs.
type MemoryStore struct {
	mu sync.RWMutex

	users    map[string]domain.User
	email    map[string]string // email -> user ID
	username map[string]string // lower(username) -> user ID

	posts    map[string]domain.Post
	comments map[string]domain.Comment
	likes    map[likeKey]time.Time
	follows  map[followKey]time.Time

	tasks       map[string]domain.Task
	submissions map[string]domain.Submission
	withdrawals map[string]domain.Withdrawal

	conversations map[string]domain.Conversation
	pairs         map[[2]string]string // ordered pair -> conversation ID
	messages      map[string]domain.Message

	live          map[string]domain.LiveSession
	tickets       map[string]domain.Ticket
	notifications map[string]domain.Notification
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		email:         make(map[string]string),
		username:      make(map[string]string),
		posts:         make(map[string]domain.Post),
		comments:      make(map[string]domain.Comment),
		likes:         make(map[likeKey]time.Time),
		follows:       make(map[followKey]time.Time),
		tasks:         make(map[string]domain.Task),
		submissions:   make(map[string]domain.Submission),
		withdrawals:   make(map[string]domain.Withdrawal),
		conversations: make(map[string]domain.Conversation),
		pairs:         make(map[[2]string]string),
		messages:      make(map[string]domain.Message),
		live:          make(map[string]domain.LiveSession),
		tickets:       make(map[string]domain.Ticket),
		notifications: make(map[string]domain.Notification),
	}
}

func sortedValues[K comparable, V any](m map[K]V, keep func(V) bool, less func(a, b V) bool) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// SaveUser registers or updates a user. The stored balance is kept on update.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.email[u.Email]; ok && id != u.ID {
		return fmt.Errorf("%w: email taken", ErrConflict)
	}
	if id, ok := m.username[strings.ToLower(u.Username)]; ok && id != u.ID {
		return fmt.Errorf("%w: username taken", ErrConflict)
	}
	if prev, ok := m.users[u.ID]; ok {
		u.Balance = prev.Balance
		u.LastSeenAt = prev.LastSeenAt
		delete(m.email, prev.Email)
		delete(m.username, strings.ToLower(prev.Username))
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	m.username[strings.ToLower(u.Username)] = u.ID
	return nil
}

func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

func (m *MemoryStore) HasUsername(username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.username[strings.ToLower(username)]
	return ok, nil
}

func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[m.email[email]]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[m.username[strings.ToLower(username)]]
	return u, ok, nil
}

func (m *MemoryStore) GetUsersByIDs(ids []string) (map[string]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.User, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.users, nil, func(a, b domain.User) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	}), nil
}

func (m *MemoryStore) SearchUsers(query string, limit int) ([]domain.User, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := sortedValues(m.users, func(u domain.User) bool {
		return u.Status == domain.StatusActive &&
			(strings.Contains(strings.ToLower(u.Username), q) || strings.Contains(strings.ToLower(u.DisplayName), q))
	}, func(a, b domain.User) bool { return a.Username < b.Username })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) UserCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *MemoryStore) TouchPresence(userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	u.LastSeenAt = &at
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) CreatePost(p domain.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[p.ID]; ok {
		return ErrConflict
	}
	m.posts[p.ID] = p
	return nil
}

func (m *MemoryStore) GetPost(id string) (domain.Post, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.posts[id]
	return p, ok, nil
}

func (m *MemoryStore) DeletePost(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[id]; !ok {
		return ErrNotFound
	}
	delete(m.posts, id)
	for cid, c := range m.comments {
		if c.PostID == id {
			delete(m.comments, cid)
		}
	}
	for k := range m.likes {
		if k.postID == id {
			delete(m.likes, k)
		}
	}
	return nil
}

func (m *MemoryStore) ListPostsByAuthors(authorIDs []string, before time.Time, limit int) ([]domain.Post, error) {
	if len(authorIDs) == 0 || limit <= 0 {
		return []domain.Post{}, nil
	}
	authors := make(map[string]struct{}, len(authorIDs))
	for _, id := range authorIDs {
		authors[id] = struct{}{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := sortedValues(m.posts, func(p domain.Post) bool {
		_, ok := authors[p.AuthorID]
		return ok && (before.IsZero() || p.CreatedAt.Before(before))
	}, func(a, b domain.Post) bool { return a.CreatedAt.After(b.CreatedAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) CountPostsByAuthor(authorID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.posts {
		if p.AuthorID == authorID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) AddComment(c domain.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[c.PostID]
	if !ok {
		return ErrNotFound
	}
	p.CommentsCount++
	m.posts[c.PostID] = p
	m.comments[c.ID] = c
	return nil
}

func (m *MemoryStore) GetComment(id string) (domain.Comment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.comments[id]
	return c, ok, nil
}

func (m *MemoryStore) ListComments(postID string) ([]domain.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.comments, func(c domain.Comment) bool { return c.PostID == postID },
		func(a, b domain.Comment) bool { return a.CreatedAt.Before(b.CreatedAt) }), nil
}

func (m *MemoryStore) DeleteComment(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.comments, id)
	if p, ok := m.posts[c.PostID]; ok {
		p.CommentsCount = max(p.CommentsCount-1, 0)
		m.posts[c.PostID] = p
	}
	return nil
}

func (m *MemoryStore) LikePost(postID, userID string, at time.Time) (bool, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok {
		return false, 0, ErrNotFound
	}
	key := likeKey{postID, userID}
	if _, liked := m.likes[key]; liked {
		return false, p.LikesCount, nil
	}
	m.likes[key] = at
	p.LikesCount++
	m.posts[postID] = p
	return true, p.LikesCount, nil
}

func (m *MemoryStore) UnlikePost(postID, userID string) (bool, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok {
		return false, 0, ErrNotFound
	}
	key := likeKey{postID, userID}
	if _, liked := m.likes[key]; !liked {
		return false, p.LikesCount, nil
	}
	delete(m.likes, key)
	p.LikesCount = max(p.LikesCount-1, 0)
	m.posts[postID] = p
	return true, p.LikesCount, nil
}

func (m *MemoryStore) LikedPosts(userID string, postIDs []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(postIDs))
	for _, id := range postIDs {
		if _, ok := m.likes[likeKey{id, userID}]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (m *MemoryStore) Follow(followerID, followeeID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := followKey{followerID, followeeID}
	if _, ok := m.follows[key]; ok {
		return false, nil
	}
	m.follows[key] = at
	return true, nil
}

func (m *MemoryStore) Unfollow(followerID, followeeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := followKey{followerID, followeeID}
	if _, ok := m.follows[key]; !ok {
		return false, nil
	}
	delete(m.follows, key)
	return true, nil
}

func (m *MemoryStore) IsFollowing(followerID, followeeID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.follows[followKey{followerID, followeeID}]
	return ok, nil
}

func (m *MemoryStore) listFollows(match func(followKey) (string, bool)) []string {
	type row struct {
		id string
		at time.Time
	}
	rows := make([]row, 0)
	for k, at := range m.follows {
		if id, ok := match(k); ok {
			rows = append(rows, row{id, at})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].at.After(rows[j].at) })
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.id)
	}
	return ids
}

func (m *MemoryStore) ListFollowers(userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listFollows(func(k followKey) (string, bool) { return k.follower, k.followee == userID }), nil
}

func (m *MemoryStore) ListFollowing(userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listFollows(func(k followKey) (string, bool) { return k.followee, k.follower == userID }), nil
}

func (m *MemoryStore) CountFollowers(userID string) (int, error) {
	ids, err := m.ListFollowers(userID)
	return len(ids), err
}

func (m *MemoryStore) CountFollowing(userID string) (int, error) {
	ids, err := m.ListFollowing(userID)
	return len(ids), err
}

func (m *MemoryStore) SaveTask(t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.tasks[t.ID]; ok {
		t.CreatedAt = prev.CreatedAt
		t.CreatedBy = prev.CreatedBy
	}
	m.tasks[t.ID] = t
	return nil
}

func (m *MemoryStore) GetTask(id string) (domain.Task, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	return t, ok, nil
}

func (m *MemoryStore) ListTasks(activeOnly bool) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.tasks, func(t domain.Task) bool { return !activeOnly || t.Active },
		func(a, b domain.Task) bool { return a.CreatedAt.After(b.CreatedAt) }), nil
}

func (m *MemoryStore) CreateSubmission(sub domain.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[sub.UserID]; !ok {
		return ErrNotFound
	}
	for _, existing := range m.submissions {
		if existing.TaskID == sub.TaskID && existing.UserID == sub.UserID &&
			existing.Status != domain.ReviewRejected {
			return fmt.Errorf("%w: submission already open for task", ErrConflict)
		}
	}
	m.submissions[sub.ID] = sub
	return nil
}

func (m *MemoryStore) GetSubmission(id string) (domain.Submission, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.submissions[id]
	return s, ok, nil
}

func (m *MemoryStore) ListSubmissionsByUser(userID string) ([]domain.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.submissions, func(s domain.Submission) bool { return s.UserID == userID },
		func(a, b domain.Submission) bool { return a.CreatedAt.After(b.CreatedAt) }), nil
}

func (m *MemoryStore) ListSubmissions(status domain.ReviewStatus) ([]domain.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.submissions, func(s domain.Submission) bool { return status == "" || s.Status == status },
		func(a, b domain.Submission) bool { return a.CreatedAt.Before(b.CreatedAt) }), nil
}

func (m *MemoryStore) ReviewSubmission(id string, review Review) (domain.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[id]
	if !ok {
		return domain.Submission{}, ErrNotFound
	}
	if sub.Status != domain.ReviewPending {
		return domain.Submission{}, fmt.Errorf("%w: submission is %s", ErrInvalidTransition, sub.Status)
	}
	at := review.At.UTC()
	if review.Approve {
		task, ok := m.tasks[sub.TaskID]
		if !ok {
			return domain.Submission{}, fmt.Errorf("task %s: %w", sub.TaskID, ErrNotFound)
		}
		if u, ok := m.users[sub.UserID]; ok {
			u.Balance = u.Balance.Add(task.Reward)
			u.UpdatedAt = at
			m.users[sub.UserID] = u
		}
	}
	sub.Status = review.Status()
	sub.ReviewNote = review.Note
	sub.ReviewedBy = review.ReviewerID
	sub.ReviewedAt = &at
	m.submissions[id] = sub
	return sub, nil
}

func (m *MemoryStore) pendingTotalLocked(userID string) decimal.Decimal {
	total := decimal.Zero
	for _, w := range m.withdrawals {
		if w.UserID == userID && w.Status == domain.ReviewPending {
			total = total.Add(w.Total)
		}
	}
	return total
}

func (m *MemoryStore) PendingWithdrawalTotal(userID string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pendingTotalLocked(userID), nil
}

func (m *MemoryStore) CreateWithdrawal(w domain.Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[w.UserID]
	if !ok {
		return ErrNotFound
	}
	if u.Balance.Sub(m.pendingTotalLocked(w.UserID)).LessThan(w.Total) {
		return ErrInsufficientBalance
	}
	m.withdrawals[w.ID] = w
	return nil
}

func (m *MemoryStore) GetWithdrawal(id string) (domain.Withdrawal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.withdrawals[id]
	return w, ok, nil
}

func (m *MemoryStore) ListWithdrawalsByUser(userID string) ([]domain.Withdrawal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.withdrawals, func(w domain.Withdrawal) bool { return w.UserID == userID },
		func(a, b domain.Withdrawal) bool { return a.CreatedAt.After(b.CreatedAt) }), nil
}

func (m *MemoryStore) ListWithdrawals(status domain.ReviewStatus) ([]domain.Withdrawal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.withdrawals, func(w domain.Withdrawal) bool { return status == "" || w.Status == status },
		func(a, b domain.Withdrawal) bool { return a.CreatedAt.Before(b.CreatedAt) }), nil
}

func (m *MemoryStore) ReviewWithdrawal(id string, review Review) (domain.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return domain.Withdrawal{}, ErrNotFound
	}
	if w.Status != domain.ReviewPending {
		return domain.Withdrawal{}, fmt.Errorf("%w: withdrawal is %s", ErrInvalidTransition, w.Status)
	}
	at := review.At.UTC()
	if review.Approve {
		u, ok := m.users[w.UserID]
		if !ok {
			return domain.Withdrawal{}, fmt.Errorf("user %s: %w", w.UserID, ErrNotFound)
		}
		if u.Balance.LessThan(w.Total) {
			return domain.Withdrawal{}, ErrInsufficientBalance
		}
		u.Balance = u.Balance.Sub(w.Total)
		u.UpdatedAt = at
		m.users[w.UserID] = u
	}
	w.Status = review.Status()
	w.ReviewNote = review.Note
	w.ReviewedBy = review.ReviewerID
	w.ReviewedAt = &at
	w.UpdatedAt = at
	m.withdrawals[id] = w
	return w, nil
}

// SetBalance overwrites a user's balance, for seeding wallets.
func (m *MemoryStore) SetBalance(userID string, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Balance = balance
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) newConversationLocked(a, b string, at time.Time) domain.Conversation {
	c := domain.Conversation{ID: util.NewID(), UserA: a, UserB: b, CreatedAt: at.UTC()}
	m.conversations[c.ID] = c
	m.pairs[[2]string{a, b}] = c.ID
	return c
}

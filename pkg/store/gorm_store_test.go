package store

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"afggram/pkg/domain"
)

func newMockGormStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open gorm: %v", err)
	}
	return NewGormStoreWithDB(gdb), mock
}

func TestGormPendingWithdrawalTotal(t *testing.T) {
	s, mock := newMockGormStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(SUM(total), 0) FROM "withdrawal_models"`)).
		WithArgs("user-1", "pending").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("1650.50"))

	total, err := s.PendingWithdrawalTotal("user-1")
	if err != nil {
		t.Fatalf("pending total: %v", err)
	}
	if !total.Equal(decimal.RequireFromString("1650.5")) {
		t.Fatalf("total = %s", total)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGormCreateWithdrawalRechecksBalanceUnderLock(t *testing.T) {
	s, mock := newMockGormStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "user_models" WHERE id = \$1 .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow("user-1", "2000"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(SUM(total), 0) FROM "withdrawal_models"`)).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("1100"))
	mock.ExpectRollback()

	err := s.CreateWithdrawal(domain.Withdrawal{
		ID:     "w-2",
		UserID: "user-1",
		Amount: decimal.NewFromInt(1000),
		Fee:    decimal.NewFromInt(100),
		Total:  decimal.NewFromInt(1100),
		Status: domain.ReviewPending,
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGormReviewWithdrawalOnlyLeavesPending(t *testing.T) {
	s, mock := newMockGormStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "withdrawal_models" WHERE id = \$1 .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status", "total"}).
			AddRow("w-1", "user-1", "approved", "1100"))
	mock.ExpectRollback()

	_, err := s.ReviewWithdrawal("w-1", Review{Approve: false, ReviewerID: "admin", At: time.Now()})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGormLikePostTwiceKeepsCount(t *testing.T) {
	s, mock := newMockGormStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "post_models" WHERE id = \$1 .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "likes_count"}).AddRow("post-1", 3))
	mock.ExpectExec(`INSERT INTO "like_models" .*ON CONFLICT DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	added, count, err := s.LikePost("post-1", "user-1", time.Now())
	if err != nil {
		t.Fatalf("like: %v", err)
	}
	if added || count != 3 {
		t.Fatalf("expected no-op like with count 3, got added=%v count=%d", added, count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGormAddCommentMissingPost(t *testing.T) {
	s, mock := newMockGormStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "post_models" SET "comments_count"=comments_count + 1`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.AddComment(domain.Comment{ID: "c-1", PostID: "missing", AuthorID: "user-1", Content: "hi"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

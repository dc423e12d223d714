package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"afggram/pkg/domain"
)

const migrateLockID int64 = 42174217

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore opens the DB and runs auto-migrations under an advisory lock.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, migrate); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreWithDB wraps an already-open handle and skips migrations.
func NewGormStoreWithDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func migrate(tx *gorm.DB) error {
	if err := tx.AutoMigrate(
		&UserModel{},
		&PostModel{}, &CommentModel{}, &LikeModel{}, &FollowModel{},
		&TaskModel{}, &SubmissionModel{}, &WithdrawalModel{},
		&ConversationModel{}, &MessageModel{},
		&LiveSessionModel{}, &TicketModel{}, &NotificationModel{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := tx.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_name = 'post_models' AND constraint_name = 'post_counters_non_negative'
			) THEN
				ALTER TABLE post_models
				ADD CONSTRAINT post_counters_non_negative CHECK (likes_count >= 0 AND comments_count >= 0);
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_name = 'user_models' AND constraint_name = 'user_balance_non_negative'
			) THEN
				ALTER TABLE user_models
				ADD CONSTRAINT user_balance_non_negative CHECK (balance >= 0);
			END IF;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("ensure check constraints: %w", err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Ping checks connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func forUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// first loads one row and reports whether it existed.
func first[M any](db *gorm.DB, dest *M, conds ...any) (bool, error) {
	if err := db.First(dest, conds...).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// SaveUser inserts or updates a user. Balance is only written on insert;
// later changes go through reviews.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return translate(s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email", "password_hash", "username", "display_name", "bio", "avatar_url",
			"role", "status", "verified", "updated_at",
		}),
	}).Create(&model).Error)
}

func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error
	return count > 0, err
}

func (s *GormStore) HasUsername(username string) (bool, error) {
	var count int64
	err := s.db.Model(&UserModel{}).Where("lower(username) = lower(?)", username).Count(&count).Error
	return count > 0, err
}

func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	ok, err := first(s.db.Where("email = ?", email), &model)
	return userFromModel(model), ok, err
}

func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	ok, err := first(s.db, &model, "id = ?", id)
	return userFromModel(model), ok, err
}

func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	var model UserModel
	ok, err := first(s.db.Where("lower(username) = lower(?)", username), &model)
	return userFromModel(model), ok, err
}

func (s *GormStore) GetUsersByIDs(ids []string) (map[string]domain.User, error) {
	out := make(map[string]domain.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var models []UserModel
	if err := s.db.Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		out[m.ID] = userFromModel(m)
	}
	return out, nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return mapModels(models, userFromModel), nil
}

// SearchUsers matches usernames and display names by substring.
func (s *GormStore) SearchUsers(query string, limit int) ([]domain.User, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	var models []UserModel
	if err := s.db.
		Where("status = ?", string(domain.StatusActive)).
		Where("username ILIKE ? OR display_name ILIKE ?", pattern, pattern).
		Order("username ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return mapModels(models, userFromModel), nil
}

func (s *GormStore) UserCount() (int, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *GormStore) TouchPresence(userID string, at time.Time) error {
	res := s.db.Model(&UserModel{}).Where("id = ?", userID).UpdateColumn("last_seen_at", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func mapModels[M, T any](models []M, fn func(M) T) []T {
	out := make([]T, 0, len(models))
	for _, m := range models {
		out = append(out, fn(m))
	}
	return out
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Username:     u.Username,
		DisplayName:  u.DisplayName,
		Bio:          u.Bio,
		AvatarURL:    u.AvatarURL,
		Role:         string(u.Role),
		Status:       string(u.Status),
		Verified:     u.Verified,
		Balance:      u.Balance,
		LastSeenAt:   u.LastSeenAt,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	status := domain.UserStatus(m.Status)
	if status == "" {
		status = domain.StatusActive
	}
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Username:     m.Username,
		DisplayName:  m.DisplayName,
		Bio:          m.Bio,
		AvatarURL:    m.AvatarURL,
		Role:         domain.UserRole(m.Role),
		Status:       status,
		Verified:     m.Verified,
		Balance:      m.Balance,
		LastSeenAt:   m.LastSeenAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

package store

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"afggram/pkg/domain"
)

var openSubmissionStatuses = []string{string(domain.ReviewPending), string(domain.ReviewApproved)}

func (s *GormStore) SaveTask(t domain.Task) error {
	model := taskToModel(t)
	return translate(s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "description", "link", "reward", "active", "updated_at"}),
	}).Create(&model).Error)
}

func (s *GormStore) GetTask(id string) (domain.Task, bool, error) {
	var model TaskModel
	ok, err := first(s.db, &model, "id = ?", id)
	return taskFromModel(model), ok, err
}

func (s *GormStore) ListTasks(activeOnly bool) ([]domain.Task, error) {
	query := s.db.Order("created_at DESC")
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var models []TaskModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return mapModels(models, taskFromModel), nil
}

// CreateSubmission serializes on the submitter's row so two concurrent
// submissions for the same task cannot both pass the open-submission check.
func (s *GormStore) CreateSubmission(sub domain.Submission) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var user UserModel
		ok, err := first(forUpdate(tx), &user, "id = ?", sub.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		var open int64
		if err := tx.Model(&SubmissionModel{}).
			Where("task_id = ? AND user_id = ? AND status IN ?", sub.TaskID, sub.UserID, openSubmissionStatuses).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return fmt.Errorf("%w: submission already open for task", ErrConflict)
		}
		model := submissionToModel(sub)
		return translate(tx.Create(&model).Error)
	})
}

func (s *GormStore) GetSubmission(id string) (domain.Submission, bool, error) {
	var model SubmissionModel
	ok, err := first(s.db, &model, "id = ?", id)
	return submissionFromModel(model), ok, err
}

func (s *GormStore) ListSubmissionsByUser(userID string) ([]domain.Submission, error) {
	var models []SubmissionModel
	if err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	return mapModels(models, submissionFromModel), nil
}

func (s *GormStore) ListSubmissions(status domain.ReviewStatus) ([]domain.Submission, error) {
	query := s.db.Order("created_at ASC")
	if status != "" {
		query = query.Where("status = ?", string(status))
	}
	var models []SubmissionModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return mapModels(models, submissionFromModel), nil
}

func (s *GormStore) ReviewSubmission(id string, review Review) (domain.Submission, error) {
	var out SubmissionModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		ok, err := first(forUpdate(tx), &out, "id = ?", id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		if out.Status != string(domain.ReviewPending) {
			return fmt.Errorf("%w: submission is %s", ErrInvalidTransition, out.Status)
		}
		at := review.At.UTC()
		out.Status = string(review.Status())
		out.ReviewNote = review.Note
		out.ReviewedBy = review.ReviewerID
		out.ReviewedAt = &at
		if err := tx.Model(&SubmissionModel{}).Where("id = ?", id).Updates(map[string]any{
			"status":      out.Status,
			"review_note": out.ReviewNote,
			"reviewed_by": out.ReviewedBy,
			"reviewed_at": at,
		}).Error; err != nil {
			return err
		}
		if !review.Approve {
			return nil
		}
		var task TaskModel
		ok, err = first(tx, &task, "id = ?", out.TaskID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("task %s: %w", out.TaskID, ErrNotFound)
		}
		return tx.Model(&UserModel{}).Where("id = ?", out.UserID).Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", task.Reward),
			"updated_at": at,
		}).Error
	})
	if err != nil {
		return domain.Submission{}, err
	}
	return submissionFromModel(out), nil
}

func (s *GormStore) PendingWithdrawalTotal(userID string) (decimal.Decimal, error) {
	return pendingWithdrawalTotal(s.db, userID)
}

func pendingWithdrawalTotal(tx *gorm.DB, userID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := tx.Model(&WithdrawalModel{}).
		Select("COALESCE(SUM(total), 0)").
		Where("user_id = ? AND status = ?", userID, string(domain.ReviewPending)).
		Row().Scan(&total)
	return total, err
}

func (s *GormStore) CreateWithdrawal(w domain.Withdrawal) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var user UserModel
		ok, err := first(forUpdate(tx), &user, "id = ?", w.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		pending, err := pendingWithdrawalTotal(tx, w.UserID)
		if err != nil {
			return err
		}
		if user.Balance.Sub(pending).LessThan(w.Total) {
			return ErrInsufficientBalance
		}
		model := withdrawalToModel(w)
		return translate(tx.Create(&model).Error)
	})
}

func (s *GormStore) GetWithdrawal(id string) (domain.Withdrawal, bool, error) {
	var model WithdrawalModel
	ok, err := first(s.db, &model, "id = ?", id)
	return withdrawalFromModel(model), ok, err
}

func (s *GormStore) ListWithdrawalsByUser(userID string) ([]domain.Withdrawal, error) {
	var models []WithdrawalModel
	if err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	return mapModels(models, withdrawalFromModel), nil
}

func (s *GormStore) ListWithdrawals(status domain.ReviewStatus) ([]domain.Withdrawal, error) {
	query := s.db.Order("created_at ASC")
	if status != "" {
		query = query.Where("status = ?", string(status))
	}
	var models []WithdrawalModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return mapModels(models, withdrawalFromModel), nil
}

func (s *GormStore) ReviewWithdrawal(id string, review Review) (domain.Withdrawal, error) {
	var out WithdrawalModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		ok, err := first(forUpdate(tx), &out, "id = ?", id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		if out.Status != string(domain.ReviewPending) {
			return fmt.Errorf("%w: withdrawal is %s", ErrInvalidTransition, out.Status)
		}
		at := review.At.UTC()
		if review.Approve {
			var user UserModel
			ok, err := first(forUpdate(tx), &user, "id = ?", out.UserID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("user %s: %w", out.UserID, ErrNotFound)
			}
			if user.Balance.LessThan(out.Total) {
				return ErrInsufficientBalance
			}
			if err := tx.Model(&UserModel{}).Where("id = ?", out.UserID).Updates(map[string]any{
				"balance":    user.Balance.Sub(out.Total),
				"updated_at": at,
			}).Error; err != nil {
				return err
			}
		}
		out.Status = string(review.Status())
		out.ReviewNote = review.Note
		out.ReviewedBy = review.ReviewerID
		out.ReviewedAt = &at
		out.UpdatedAt = at
		return tx.Model(&WithdrawalModel{}).Where("id = ?", id).Updates(map[string]any{
			"status":      out.Status,
			"review_note": out.ReviewNote,
			"reviewed_by": out.ReviewedBy,
			"reviewed_at": at,
			"updated_at":  at,
		}).Error
	})
	if err != nil {
		return domain.Withdrawal{}, err
	}
	return withdrawalFromModel(out), nil
}

func taskToModel(t domain.Task) TaskModel {
	return TaskModel{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Link:        t.Link,
		Reward:      t.Reward,
		Active:      t.Active,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func taskFromModel(m TaskModel) domain.Task {
	return domain.Task{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		Link:        m.Link,
		Reward:      m.Reward,
		Active:      m.Active,
		CreatedBy:   m.CreatedBy,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func submissionToModel(s domain.Submission) SubmissionModel {
	return SubmissionModel{
		ID:         s.ID,
		TaskID:     s.TaskID,
		UserID:     s.UserID,
		Proof:      s.Proof,
		ProofURL:   s.ProofURL,
		Status:     string(s.Status),
		ReviewNote: s.ReviewNote,
		ReviewedBy: s.ReviewedBy,
		ReviewedAt: s.ReviewedAt,
		CreatedAt:  s.CreatedAt,
	}
}

func submissionFromModel(m SubmissionModel) domain.Submission {
	return domain.Submission{
		ID:         m.ID,
		TaskID:     m.TaskID,
		UserID:     m.UserID,
		Proof:      m.Proof,
		ProofURL:   m.ProofURL,
		Status:     domain.ReviewStatus(m.Status),
		ReviewNote: m.ReviewNote,
		ReviewedBy: m.ReviewedBy,
		ReviewedAt: m.ReviewedAt,
		CreatedAt:  m.CreatedAt,
	}
}

func withdrawalToModel(w domain.Withdrawal) WithdrawalModel {
	return WithdrawalModel{
		ID:         w.ID,
		UserID:     w.UserID,
		Amount:     w.Amount,
		Fee:        w.Fee,
		Total:      w.Total,
		Method:     string(w.Method),
		Phone:      w.Phone,
		Status:     string(w.Status),
		ReviewNote: w.ReviewNote,
		ReviewedBy: w.ReviewedBy,
		ReviewedAt: w.ReviewedAt,
		CreatedAt:  w.CreatedAt,
		UpdatedAt:  w.UpdatedAt,
	}
}

func withdrawalFromModel(m WithdrawalModel) domain.Withdrawal {
	return domain.Withdrawal{
		ID:         m.ID,
		UserID:     m.UserID,
		Amount:     m.Amount,
		Fee:        m.Fee,
		Total:      m.Total,
		Method:     domain.PayoutMethod(m.Method),
		Phone:      m.Phone,
		Status:     domain.ReviewStatus(m.Status),
		ReviewNote: m.ReviewNote,
		ReviewedBy: m.ReviewedBy,
		ReviewedAt: m.ReviewedAt,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

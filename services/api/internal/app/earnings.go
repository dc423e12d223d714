package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"afggram/internal/metrics"
	"afggram/internal/util"
	"afggram/pkg/domain"
	"afggram/pkg/notify"
	"afggram/pkg/payout"
	"afggram/pkg/store"
)

const (
	maxTaskTitle       = 120
	maxTaskDescription = 2000
	maxProof           = 1000
)

// TaskInput creates a task. Fields left nil keep their value on update.
type TaskInput struct {
	Title       *string
	Description *string
	Link        *string
	Reward      *decimal.Decimal
	Active      *bool
}

// ListTasks returns active tasks, or every task when all is set.
func (a *App) ListTasks(all bool) ([]domain.Task, error) {
	tasks, err := a.store.ListTasks(!all)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// GetTask loads a task. Inactive tasks are hidden from non-admins.
func (a *App) GetTask(viewer domain.User, id string) (domain.Task, error) {
	task, ok, err := a.store.GetTask(id)
	if err != nil {
		return domain.Task{}, fmt.Errorf("fetch task: %w", err)
	}
	if !ok || (!task.Active && viewer.Role != domain.RoleAdmin) {
		return domain.Task{}, fmt.Errorf("%w: task", ErrNotFound)
	}
	return task, nil
}

// CreateTask adds a task. Title and a positive reward are required.
func (a *App) CreateTask(adminID string, in TaskInput) (domain.Task, error) {
	now := a.clock()
	task := domain.Task{
		ID:        util.NewID(),
		Active:    true,
		CreatedBy: adminID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Title == nil || in.Reward == nil {
		return domain.Task{}, fmt.Errorf("%w: title and reward required", ErrInvalid)
	}
	if err := applyTaskInput(&task, in); err != nil {
		return domain.Task{}, err
	}
	if err := a.store.SaveTask(task); err != nil {
		return domain.Task{}, storeErr("save task", err)
	}
	return task, nil
}

// UpdateTask edits a task in place.
func (a *App) UpdateTask(id string, in TaskInput) (domain.Task, error) {
	task, ok, err := a.store.GetTask(id)
	if err != nil {
		return domain.Task{}, fmt.Errorf("fetch task: %w", err)
	}
	if !ok {
		return domain.Task{}, fmt.Errorf("%w: task", ErrNotFound)
	}
	if err := applyTaskInput(&task, in); err != nil {
		return domain.Task{}, err
	}
	task.UpdatedAt = a.clock()
	if err := a.store.SaveTask(task); err != nil {
		return domain.Task{}, storeErr("save task", err)
	}
	return task, nil
}

func applyTaskInput(task *domain.Task, in TaskInput) error {
	if in.Title != nil {
		title, fits := trimmed(*in.Title, maxTaskTitle)
		if title == "" || !fits {
			return fmt.Errorf("%w: title must be 1-%d characters", ErrInvalid, maxTaskTitle)
		}
		task.Title = title
	}
	if in.Description != nil {
		desc, fits := trimmed(*in.Description, maxTaskDescription)
		if !fits {
			return fmt.Errorf("%w: description too long", ErrInvalid)
		}
		task.Description = desc
	}
	if in.Link != nil {
		link, fits := trimmed(*in.Link, maxURL)
		if !fits {
			return fmt.Errorf("%w: link too long", ErrInvalid)
		}
		task.Link = link
	}
	if in.Reward != nil {
		if !in.Reward.IsPositive() {
			return fmt.Errorf("%w: reward must be positive", ErrInvalid)
		}
		task.Reward = *in.Reward
	}
	if in.Active != nil {
		task.Active = *in.Active
	}
	return nil
}

// SubmitTask records proof of completion for review.
func (a *App) SubmitTask(userID, taskID, proof, proofURL string) (domain.Submission, error) {
	task, ok, err := a.store.GetTask(taskID)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("fetch task: %w", err)
	}
	if !ok {
		return domain.Submission{}, fmt.Errorf("%w: task", ErrNotFound)
	}
	if !task.Active {
		return domain.Submission{}, ErrTaskInactive
	}
	proof, fits := trimmed(proof, maxProof)
	if !fits || (proof == "" && strings.TrimSpace(proofURL) == "") {
		return domain.Submission{}, fmt.Errorf("%w: proof required", ErrInvalid)
	}
	proofURL = strings.TrimSpace(proofURL)
	if err := a.checkMedia(userID, proofURL); err != nil {
		return domain.Submission{}, err
	}
	sub := domain.Submission{
		ID:        util.NewID(),
		TaskID:    taskID,
		UserID:    userID,
		Proof:     proof,
		ProofURL:  proofURL,
		Status:    domain.ReviewPending,
		CreatedAt: a.clock(),
	}
	if err := a.store.CreateSubmission(sub); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Submission{}, ErrAlreadySubmitted
		}
		return domain.Submission{}, storeErr("create submission", err)
	}
	return sub, nil
}

// MySubmissions lists the caller's submissions, newest first.
func (a *App) MySubmissions(userID string) ([]domain.Submission, error) {
	subs, err := a.store.ListSubmissionsByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return subs, nil
}

// ListSubmissions is the admin review queue, oldest first.
func (a *App) ListSubmissions(status domain.ReviewStatus) ([]domain.Submission, error) {
	subs, err := a.store.ListSubmissions(status)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return subs, nil
}

// ReviewSubmission approves or rejects a pending submission. Approval credits
// the task reward.
func (a *App) ReviewSubmission(ctx context.Context, adminID, id string, approve bool, note string) (domain.Submission, error) {
	note, _ = trimmed(note, maxProof)
	sub, err := a.store.ReviewSubmission(id, store.Review{Approve: approve, Note: note, ReviewerID: adminID, At: a.clock()})
	if err != nil {
		return domain.Submission{}, storeErr("review submission", err)
	}
	metrics.Review("submission", approve)
	a.notify(ctx, notify.Request{
		UserID:   sub.UserID,
		ActorID:  adminID,
		Kind:     domain.NotifySubmissionReview,
		EntityID: sub.ID,
		Data:     map[string]string{"status": string(sub.Status), "taskId": sub.TaskID},
	})
	return sub, nil
}

// WithdrawalInput is the raw form a user submits.
type WithdrawalInput struct {
	Amount string
	Method string
	Phone  string
}

// Wallet reports balance, pending withdrawals and what is available.
func (a *App) Wallet(userID string) (domain.Wallet, error) {
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.Wallet{}, fmt.Errorf("%w: user", ErrNotFound)
	}
	pending, err := a.store.PendingWithdrawalTotal(userID)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("pending withdrawals: %w", err)
	}
	return domain.Wallet{
		Balance:   user.Balance,
		Pending:   pending,
		Available: user.Balance.Sub(pending),
	}, nil
}

// RequestWithdrawal validates the request against the available balance and
// stores it as pending. Validation failures come back as *payout.Rejection.
func (a *App) RequestWithdrawal(ctx context.Context, userID string, in WithdrawalInput) (domain.Withdrawal, error) {
	wallet, err := a.Wallet(userID)
	if err != nil {
		return domain.Withdrawal{}, err
	}
	method, ok := payout.ParseMethod(strings.ToLower(strings.TrimSpace(in.Method)))
	if !ok {
		method = domain.PayoutMethod(in.Method)
	}
	req := payout.Request{Amount: in.Amount, Method: method, Phone: strings.TrimSpace(in.Phone)}
	now := a.clock()
	quote, err := payout.Validate(req, wallet.Available, now)
	if err != nil {
		var rej *payout.Rejection
		if errors.As(err, &rej) {
			metrics.WithdrawalRequest(rej.Code)
		}
		return domain.Withdrawal{}, err
	}
	w := domain.Withdrawal{
		ID:        util.NewID(),
		UserID:    userID,
		Amount:    quote.Amount,
		Fee:       quote.Fee,
		Total:     quote.Total,
		Method:    req.Method,
		Phone:     req.Phone,
		Status:    domain.ReviewPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateWithdrawal(w); err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			metrics.WithdrawalRequest(payout.CodeInsufficientBalance)
			return domain.Withdrawal{}, &payout.Rejection{
				Code:    payout.CodeInsufficientBalance,
				Message: fmt.Sprintf("Insufficient balance. You need %s RWF (including 10%% fee).", quote.Total.String()),
			}
		}
		return domain.Withdrawal{}, storeErr("create withdrawal", err)
	}
	metrics.WithdrawalRequest("accepted")
	util.LoggerFromContext(ctx).Info("withdrawal_requested", "user_id", userID, "withdrawal_id", w.ID, "total", w.Total.String())
	return w, nil
}

// MyWithdrawals lists the caller's withdrawals, newest first.
func (a *App) MyWithdrawals(userID string) ([]domain.Withdrawal, error) {
	ws, err := a.store.ListWithdrawalsByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	return ws, nil
}

// ListWithdrawals is the admin payout queue, oldest first.
func (a *App) ListWithdrawals(status domain.ReviewStatus) ([]domain.Withdrawal, error) {
	ws, err := a.store.ListWithdrawals(status)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	return ws, nil
}

// ReviewWithdrawal approves or rejects a pending withdrawal. Approval deducts
// the total and fails when the balance no longer covers it.
func (a *App) ReviewWithdrawal(ctx context.Context, adminID, id string, approve bool, note string) (domain.Withdrawal, error) {
	note, _ = trimmed(note, maxProof)
	w, err := a.store.ReviewWithdrawal(id, store.Review{Approve: approve, Note: note, ReviewerID: adminID, At: a.clock()})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			return domain.Withdrawal{}, ErrBalanceChanged
		}
		return domain.Withdrawal{}, storeErr("review withdrawal", err)
	}
	metrics.Review("withdrawal", approve)
	a.notify(ctx, notify.Request{
		UserID:   w.UserID,
		ActorID:  adminID,
		Kind:     domain.NotifyWithdrawalReview,
		EntityID: w.ID,
		Data:     map[string]string{"status": string(w.Status), "amount": w.Amount.String()},
	})
	return w, nil
}

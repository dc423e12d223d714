package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"afggram/pkg/domain"
	"afggram/pkg/payout"
	"afggram/services/api/internal/app"
)

type taskRequest struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Link        *string          `json:"link"`
	Reward      *decimal.Decimal `json:"reward"`
	Active      *bool            `json:"active"`
}

func (t taskRequest) input() app.TaskInput {
	return app.TaskInput{
		Title:       t.Title,
		Description: t.Description,
		Link:        t.Link,
		Reward:      t.Reward,
		Active:      t.Active,
	}
}

type submissionRequest struct {
	Proof    string `json:"proof"`
	ProofURL string `json:"proofUrl"`
}

type reviewRequest struct {
	Approve *bool  `json:"approve"`
	Note    string `json:"note"`
}

// withdrawalRequest accepts the amount as a JSON number or string. It stays
// raw so that payout validation decides how a bad amount is rejected.
type withdrawalRequest struct {
	Amount json.RawMessage `json:"amount"`
	Method string          `json:"method"`
	Phone  string          `json:"phone"`
}

func (w withdrawalRequest) amount() string {
	raw := bytes.TrimSpace(w.Amount)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request, _ domain.User) {
	tasks, err := s.app.ListTasks(false)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(tasks))
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request, user domain.User) {
	task, err := s.app.GetTask(user, mux.Vars(r)["id"])
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req submissionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sub, err := s.app.SubmitTask(user.ID, mux.Vars(r)["id"], req.Proof, req.ProofURL)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleMySubmissions(w http.ResponseWriter, r *http.Request, user domain.User) {
	subs, err := s.app.MySubmissions(user.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(subs))
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request, user domain.User) {
	wallet, err := s.app.Wallet(user.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (s *Server) handleMyWithdrawals(w http.ResponseWriter, r *http.Request, user domain.User) {
	ws, err := s.app.MyWithdrawals(user.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(ws))
}

func (s *Server) handleRequestWithdrawal(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !s.allowRate(w, r, s.withdrawalLimiter, "too many withdrawal requests") {
		s.audit(r, "api.withdrawal.request", "rate_limited", "user_id", user.ID)
		return
	}
	var req withdrawalRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	withdrawal, err := s.app.RequestWithdrawal(r.Context(), user.ID, app.WithdrawalInput{
		Amount: req.amount(),
		Method: req.Method,
		Phone:  req.Phone,
	})
	if err != nil {
		var rej *payout.Rejection
		if errors.As(err, &rej) {
			s.audit(r, "api.withdrawal.request", "fail", "user_id", user.ID, "reason", rej.Code)
		}
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, withdrawal)
}

// admin handlers
func (s *Server) handleAdminTasks(w http.ResponseWriter, r *http.Request, _ domain.User) {
	tasks, err := s.app.ListTasks(true)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(tasks))
}

func (s *Server) handleAdminCreateTask(w http.ResponseWriter, r *http.Request, admin domain.User) {
	var req taskRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	task, err := s.app.CreateTask(admin.ID, req.input())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleAdminUpdateTask(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req taskRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	task, err := s.app.UpdateTask(mux.Vars(r)["id"], req.input())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleAdminSubmissions(w http.ResponseWriter, r *http.Request, _ domain.User) {
	status, ok := reviewStatusQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	subs, err := s.app.ListSubmissions(status)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(subs))
}

func (s *Server) handleAdminReviewSubmission(w http.ResponseWriter, r *http.Request, admin domain.User) {
	req, ok := decodeReview(w, r)
	if !ok {
		return
	}
	sub, err := s.app.ReviewSubmission(r.Context(), admin.ID, mux.Vars(r)["id"], *req.Approve, req.Note)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleAdminWithdrawals(w http.ResponseWriter, r *http.Request, _ domain.User) {
	status, ok := reviewStatusQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	ws, err := s.app.ListWithdrawals(status)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(ws))
}

func (s *Server) handleAdminReviewWithdrawal(w http.ResponseWriter, r *http.Request, admin domain.User) {
	req, ok := decodeReview(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	withdrawal, err := s.app.ReviewWithdrawal(r.Context(), admin.ID, id, *req.Approve, req.Note)
	if err != nil {
		s.audit(r, "api.admin.withdrawal.review", "fail", "user_id", admin.ID, "withdrawal_id", id, "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.admin.withdrawal.review", "success", "user_id", admin.ID, "withdrawal_id", id, "status", string(withdrawal.Status))
	writeJSON(w, http.StatusOK, withdrawal)
}

func decodeReview(w http.ResponseWriter, r *http.Request) (reviewRequest, bool) {
	var req reviewRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	if req.Approve == nil {
		writeError(w, http.StatusBadRequest, "approve is required")
		return req, false
	}
	return req, true
}

func reviewStatusQuery(r *http.Request) (domain.ReviewStatus, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("status"))
	if raw == "" {
		return "", true
	}
	return domain.ParseReviewStatus(raw)
}

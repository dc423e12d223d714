package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"afggram/pkg/domain"
)

type startLiveRequest struct {
	Title string `json:"title"`
}

type startCallRequest struct {
	To    string `json:"to"`
	Video bool   `json:"video"`
}

type ticketRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type ticketReplyRequest struct {
	Reply string `json:"reply"`
}

func (s *Server) handleListLive(w http.ResponseWriter, r *http.Request, _ domain.User) {
	sessions, err := s.app.ListLive()
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(sessions))
}

func (s *Server) handleStartLive(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req startLiveRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := s.app.StartLive(r.Context(), user.ID, req.Title)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLiveHeartbeat(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.HeartbeatLive(user.ID, mux.Vars(r)["id"]); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEndLive(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.EndLive(r.Context(), user, mux.Vars(r)["id"]); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req startCallRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	call, err := s.app.StartCall(r.Context(), user.ID, req.To, req.Video)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, call)
}

func (s *Server) handleMyTickets(w http.ResponseWriter, r *http.Request, user domain.User) {
	tickets, err := s.app.MyTickets(user.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(tickets))
}

func (s *Server) handleOpenTicket(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req ticketRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ticket, err := s.app.OpenTicket(user.ID, req.Subject, req.Body)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (s *Server) handleAdminTickets(w http.ResponseWriter, r *http.Request, _ domain.User) {
	status := domain.TicketStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	tickets, err := s.app.ListTickets(status)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(tickets))
}

func (s *Server) handleAdminReplyTicket(w http.ResponseWriter, r *http.Request, admin domain.User) {
	var req ticketReplyRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ticket, err := s.app.ReplyTicket(r.Context(), admin.ID, mux.Vars(r)["id"], req.Reply)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (s *Server) handleAdminCloseTicket(w http.ResponseWriter, r *http.Request, _ domain.User) {
	ticket, err := s.app.CloseTicket(mux.Vars(r)["id"])
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"afggram/pkg/domain"
	"afggram/services/api/internal/app"
)

type sendMessageRequest struct {
	To               string `json:"to"`
	Content          string `json:"content"`
	MediaURL         string `json:"mediaUrl"`
	MediaType        string `json:"mediaType"`
	ViewOnce         bool   `json:"viewOnce"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, user domain.User) {
	convs, err := s.app.Conversations(user.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(convs))
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, user domain.User) {
	msgs, err := s.app.ListMessages(user.ID, mux.Vars(r)["id"], queryInt(r, "limit"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(msgs))
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, user domain.User) {
	n, err := s.app.MarkRead(user.ID, mux.Vars(r)["id"])
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	msg, err := s.app.SendMessage(r.Context(), user.ID, app.MessageInput{
		To:               req.To,
		Content:          req.Content,
		MediaURL:         req.MediaURL,
		MediaType:        req.MediaType,
		ViewOnce:         req.ViewOnce,
		ExpiresInSeconds: req.ExpiresInSeconds,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleViewMessage(w http.ResponseWriter, r *http.Request, user domain.User) {
	msg, err := s.app.ViewMessage(r.Context(), user.ID, mux.Vars(r)["id"])
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

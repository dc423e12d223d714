package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"afggram/pkg/domain"
	"afggram/services/api/internal/app"
)

type createPostRequest struct {
	Content   string `json:"content"`
	MediaURL  string `json:"mediaUrl"`
	MediaType string `json:"mediaType"`
}

type commentRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request, user domain.User) {
	before, ok := queryTime(r, "before")
	if !ok {
		writeError(w, http.StatusBadRequest, "before must be an RFC 3339 timestamp")
		return
	}
	posts, err := s.app.Feed(user.ID, before, queryInt(r, "limit"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(posts))
}

func (s *Server) handleUserPosts(w http.ResponseWriter, r *http.Request, user domain.User) {
	before, ok := queryTime(r, "before")
	if !ok {
		writeError(w, http.StatusBadRequest, "before must be an RFC 3339 timestamp")
		return
	}
	posts, err := s.app.UserPosts(user.ID, mux.Vars(r)["username"], before, queryInt(r, "limit"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(posts))
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req createPostRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	post, err := s.app.CreatePost(r.Context(), user.ID, app.PostInput{
		Content:   req.Content,
		MediaURL:  strings.TrimSpace(req.MediaURL),
		MediaType: strings.TrimSpace(req.MediaType),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request, user domain.User) {
	post, err := s.app.GetPost(user.ID, mux.Vars(r)["id"])
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.DeletePost(r.Context(), user, mux.Vars(r)["id"]); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComments(w http.ResponseWriter, r *http.Request, user domain.User) {
	postID := mux.Vars(r)["id"]
	if r.Method == http.MethodGet {
		comments, err := s.app.ListComments(postID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, listResponse(comments))
		return
	}
	var req commentRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	comment, err := s.app.AddComment(r.Context(), user.ID, postID, req.Content)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.DeleteComment(r.Context(), user, mux.Vars(r)["id"]); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request, user domain.User) {
	postID := mux.Vars(r)["id"]
	var (
		state app.LikeState
		err   error
	)
	if r.Method == http.MethodPost {
		state, err = s.app.LikePost(r.Context(), user.ID, postID)
	} else {
		state, err = s.app.UnlikePost(r.Context(), user.ID, postID)
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request, user domain.User) {
	username := mux.Vars(r)["username"]
	var err error
	if r.Method == http.MethodPost {
		err = s.app.Follow(r.Context(), user.ID, username)
	} else {
		err = s.app.Unfollow(r.Context(), user.ID, username)
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"following": r.Method == http.MethodPost})
}

func (s *Server) handleFollowers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	users, err := s.app.Followers(mux.Vars(r)["username"])
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(users))
}

func (s *Server) handleFollowing(w http.ResponseWriter, r *http.Request, _ domain.User) {
	users, err := s.app.Following(mux.Vars(r)["username"])
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(users))
}

func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(name)))
	if err != nil {
		return 0
	}
	return n
}

// queryTime parses an optional RFC 3339 query value. Absent means zero.
func queryTime(r *http.Request, name string) (time.Time, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

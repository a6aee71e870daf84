package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type sessionInfo struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

type messageInfo struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type sessionDetail struct {
	sessionInfo
	Messages []messageInfo `json:"messages"`
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, errors.New("not authenticated"))
		return
	}

	sessions, err := s.chats.SessionsByUser(r.Context(), sess.UserID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	infos := make([]sessionInfo, 0, len(sessions))
	for _, cs := range sessions {
		infos = append(infos, sessionInfo{ID: cs.ID, Title: cs.Title, LastUpdatedAt: cs.LastUpdatedAt})
	}
	s.respondJSON(w, http.StatusOK, infos)
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, errors.New("not authenticated"))
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	cs, err := s.chats.SessionByID(r.Context(), sessionID, sess.UserID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if cs == nil {
		s.respondError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}

	messages, err := s.chats.MessagesBySession(r.Context(), cs.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	detail := sessionDetail{
		sessionInfo: sessionInfo{ID: cs.ID, Title: cs.Title, LastUpdatedAt: cs.LastUpdatedAt},
		Messages:    make([]messageInfo, 0, len(messages)),
	}
	for _, m := range messages {
		detail.Messages = append(detail.Messages, messageInfo{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	s.respondJSON(w, http.StatusOK, detail)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, errors.New("not authenticated"))
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	deleted, err := s.chats.DeleteSession(r.Context(), sessionID, sess.UserID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if !deleted {
		s.respondError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	s.debugf("deleted session %s for user %d", sessionID, sess.UserID)
	s.respondJSON(w, http.StatusNoContent, nil)
}

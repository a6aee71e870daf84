package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/chat"
)

type initiateRequest struct {
	SessionID   string `json:"session_id"`
	UserMessage string `json:"user_message"`
}

type initiateResponse struct {
	SessionID     string `json:"session_id"`
	UserMessageID int64  `json:"user_message_id"`
	StreamID      string `json:"stream_id"`
}

func (s *Server) handleChatInitiate(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, errors.New("not authenticated"))
		return
	}
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.chat.Initiate(r.Context(), sess.UserID, req.SessionID, req.UserMessage)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			s.respondError(w, http.StatusBadRequest, errors.New("user message required"))
		case errors.Is(err, chat.ErrModelNotReady):
			s.respondError(w, http.StatusServiceUnavailable, errors.New("model not loaded"))
		case errors.Is(err, chat.ErrSessionNotFound):
			s.respondError(w, http.StatusNotFound, errors.New("session not found"))
		default:
			s.respondError(w, http.StatusInternalServerError, err)
		}
		return
	}

	s.debugf("initiated stream %s for session %s (user %d)", res.StreamHandle, res.SessionID, sess.UserID)
	s.respondJSON(w, http.StatusOK, initiateResponse{
		SessionID:     res.SessionID,
		UserMessageID: res.UserMessageID,
		StreamID:      res.StreamHandle,
	})
}

// handleChatStream opens the SSE leg of the two-phase chat protocol. Once the
// headers are written every failure travels in-band as a terminal
// "[ERROR] ..." data event, so the only non-200 statuses are the up-front
// model and handle checks.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if !s.chat.ModelLoaded() {
		s.respondError(w, http.StatusServiceUnavailable, errors.New("model not loaded yet"))
		return
	}

	streamID := chi.URLParam(r, "streamID")
	sc, err := s.chat.Claim(streamID)
	if err != nil {
		s.respondError(w, http.StatusNotFound, errors.New("stream session not found or expired"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if s.metrics != nil {
		s.metrics.RecordStreamStart()
		defer s.metrics.RecordStreamEnd()
	}

	start := time.Now()
	var relayed int64
	sink := chat.SinkFunc(func(fragment string) error {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", fragment); err != nil {
			return err
		}
		flusher.Flush()
		if s.metrics != nil && relayed == 0 {
			s.metrics.RecordFirstFragment(time.Since(start))
		}
		relayed++
		return nil
	})

	if err := s.chat.Stream(r.Context(), sc, sink); err != nil {
		s.debugf("stream %s: client gone after %d fragments: %v", streamID, relayed, err)
		return
	}
	s.debugf("stream %s finished: %d fragments in %v", streamID, relayed, time.Since(start))
}

// Package chat orchestrates streaming chat turns: it accepts a user message,
// prepares a one-time stream handle, and relays generated fragments to the
// caller while persisting the finished assistant turn.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/chatstore"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/ledger"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/model"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/prompt"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/streamreg"
)

var (
	// ErrModelNotReady rejects chats while the model is not loaded.
	ErrModelNotReady = errors.New("chat: model not loaded")
	// ErrSessionNotFound covers sessions that do not exist or belong to
	// another user.
	ErrSessionNotFound = errors.New("chat: session not found")
	// ErrStreamNotFound covers unknown, expired or already-claimed handles.
	ErrStreamNotFound = errors.New("chat: stream session not found or expired")
	// ErrEmptyMessage rejects blank user messages.
	ErrEmptyMessage = errors.New("chat: message required")
)

// titleRuneLimit bounds session titles derived from the first message.
const titleRuneLimit = 50

// Generator produces fragment streams for conversation windows.
// *model.Runtime is the production implementation.
type Generator interface {
	Generate(ctx context.Context, window []chatstore.Message) (<-chan model.Fragment, error)
	Loaded() bool
	Model() string
}

// Sink receives relayed fragments. Write returns an error once the client
// is gone; the relay stops but accumulated text is kept.
type Sink interface {
	Write(fragment string) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(fragment string) error

// Write calls f.
func (f SinkFunc) Write(fragment string) error { return f(fragment) }

// Recorder counts generation outcomes. *metrics.Collector satisfies it.
type Recorder interface {
	RecordGeneration(outcome string, fragments, outputChars int64, duration time.Duration)
	RecordQueueRejection()
}

// Config tunes the orchestrator.
type Config struct {
	MaxTurns     int           // exchanges replayed to the model (default 5)
	StallTimeout time.Duration // max wait between fragments (default 5m)
	Yield        time.Duration // cooperative pause after each relay (default 10ms)
	Metrics      Recorder      // optional
	Logger       *log.Logger
}

// InitiateResult identifies the accepted message and the one-time handle the
// client must open the stream with.
type InitiateResult struct {
	SessionID     string
	UserMessageID int64
	StreamHandle  string
}

// Service wires the stream registry, the model runtime, conversation
// persistence and the usage ledger into the two-phase chat protocol.
type Service struct {
	cfg     Config
	runtime Generator
	store   chatstore.Store
	reg     *streamreg.Registry
	usage   ledger.Store
	metrics Recorder
	logger  *log.Logger
}

// NewService validates dependencies and returns the orchestrator.
func NewService(cfg Config, runtime Generator, store chatstore.Store, reg *streamreg.Registry, usage ledger.Store) (*Service, error) {
	if runtime == nil {
		return nil, errors.New("chat: generator required")
	}
	if store == nil {
		return nil, errors.New("chat: chat store required")
	}
	if reg == nil {
		return nil, errors.New("chat: stream registry required")
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = prompt.DefaultMaxTurns
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = 5 * time.Minute
	}
	if cfg.Yield < 0 {
		cfg.Yield = 0
	} else if cfg.Yield == 0 {
		cfg.Yield = 10 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Service{
		cfg:     cfg,
		runtime: runtime,
		store:   store,
		reg:     reg,
		usage:   usage,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}, nil
}

// ModelLoaded reports whether the runtime can serve generations.
func (s *Service) ModelLoaded() bool { return s.runtime.Loaded() }

// Initiate records the user turn and registers a generation context. An
// empty sessionID starts a new session titled from the message; an existing
// sessionID must belong to userID.
func (s *Service) Initiate(ctx context.Context, userID int64, sessionID, message string) (InitiateResult, error) {
	if strings.TrimSpace(message) == "" {
		return InitiateResult{}, ErrEmptyMessage
	}
	if !s.runtime.Loaded() {
		return InitiateResult{}, ErrModelNotReady
	}

	var sess *chatstore.Session
	var err error
	if sessionID != "" {
		sess, err = s.store.SessionByID(ctx, sessionID, userID)
		if err != nil {
			return InitiateResult{}, fmt.Errorf("chat: load session: %w", err)
		}
		if sess == nil {
			return InitiateResult{}, ErrSessionNotFound
		}
	} else {
		sess, err = s.store.CreateSession(ctx, userID, sessionTitle(message))
		if err != nil {
			return InitiateResult{}, fmt.Errorf("chat: create session: %w", err)
		}
	}

	userMsg, err := s.store.AppendMessage(ctx, sess.ID, chatstore.RoleUser, message)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("chat: append user message: %w", err)
	}

	history, err := s.store.MessagesBySession(ctx, sess.ID)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("chat: load history: %w", err)
	}

	handle := s.reg.Register(streamreg.Context{
		Window:    prompt.Window(history, s.cfg.MaxTurns),
		UserID:    userID,
		SessionID: sess.ID,
	})

	return InitiateResult{
		SessionID:     sess.ID,
		UserMessageID: userMsg.ID,
		StreamHandle:  handle,
	}, nil
}

// Claim removes and returns the context for a one-time handle.
func (s *Service) Claim(handle string) (streamreg.Context, error) {
	sc, ok := s.reg.Consume(handle)
	if !ok {
		return streamreg.Context{}, ErrStreamNotFound
	}
	return sc, nil
}

// Stream generates a completion for a claimed context and relays each
// fragment to the sink as it arrives. In-stream failures are delivered as a
// terminal error fragment, never as a return status. After the relay the
// assistant turn is persisted in its own transaction unless the stream ended
// with an error sentinel or produced nothing. The returned error is the sink
// write failure, if any.
func (s *Service) Stream(ctx context.Context, sc streamreg.Context, sink Sink) error {
	start := time.Now()
	outcome := ledger.OutcomeComplete
	sawError := false
	var assembled strings.Builder
	var fragments int64
	var sinkErr error

	frags, err := s.runtime.Generate(ctx, sc.Window)
	if err != nil {
		sawError = true
		reason := "generation unavailable"
		switch {
		case errors.Is(err, model.ErrBusy):
			reason = "server is busy, please try again shortly"
			if s.metrics != nil {
				s.metrics.RecordQueueRejection()
			}
		case errors.Is(err, model.ErrNotLoaded):
			reason = "model not loaded"
		default:
			s.logger.Printf("[ERROR] chat: start generation for session %s: %v", sc.SessionID, err)
		}
		_ = sink.Write(model.ErrorPrefix + reason)
		s.record(sc, start, fragments, 0, ledger.OutcomeError)
		return nil
	}

relay:
	for {
		select {
		case fragment, ok := <-frags:
			if !ok {
				break relay
			}
			if model.IsErrorFragment(fragment) {
				sawError = true
				_ = sink.Write(fragment)
				break relay
			}
			if err := sink.Write(fragment); err != nil {
				sinkErr = err
				break relay
			}
			assembled.WriteString(fragment)
			fragments++
			if s.cfg.Yield > 0 {
				time.Sleep(s.cfg.Yield)
			}
		case <-time.After(s.cfg.StallTimeout):
			sawError = true
			s.logger.Printf("[ERROR] chat: generation stalled for session %s after %v", sc.SessionID, s.cfg.StallTimeout)
			_ = sink.Write(model.ErrorPrefix + "generation timed out")
			break relay
		case <-ctx.Done():
			break relay
		}
	}

	text := assembled.String()
	switch {
	case sawError:
		outcome = ledger.OutcomeError
	case sinkErr != nil || ctx.Err() != nil:
		outcome = ledger.OutcomeDisconnect
	case strings.TrimSpace(text) == "":
		outcome = ledger.OutcomeEmpty
	}

	// The response is persisted in a fresh transaction, decoupled from the
	// request context so a disconnect still keeps the partial text.
	if !sawError && strings.TrimSpace(text) != "" {
		if _, err := s.store.AppendMessage(context.Background(), sc.SessionID, chatstore.RoleAssistant, text); err != nil {
			s.logger.Printf("[CRITICAL] chat: failed to persist assistant response for session %s: %v", sc.SessionID, err)
		}
	}

	s.record(sc, start, fragments, int64(utf8.RuneCountInString(text)), outcome)
	return sinkErr
}

// record writes the generation usage entry; the ledger must never break the
// stream path.
func (s *Service) record(sc streamreg.Context, start time.Time, fragments, chars int64, outcome ledger.Outcome) {
	if s.metrics != nil {
		s.metrics.RecordGeneration(string(outcome), fragments, chars, time.Since(start))
	}
	if s.usage == nil {
		return
	}
	entry := ledger.Entry{
		UserID:      sc.UserID,
		SessionID:   sc.SessionID,
		Model:       s.runtime.Model(),
		Fragments:   fragments,
		OutputChars: chars,
		DurationMs:  time.Since(start).Milliseconds(),
		Outcome:     outcome,
	}
	if err := s.usage.Record(context.Background(), entry); err != nil {
		s.logger.Printf("[WARN] chat: record usage for session %s: %v", sc.SessionID, err)
	}
}

// sessionTitle derives a session title from the first message.
func sessionTitle(message string) string {
	runes := []rune(strings.TrimSpace(message))
	if len(runes) > titleRuneLimit {
		return string(runes[:titleRuneLimit])
	}
	return string(runes)
}

package model

import (
	"context"
	"sync"
	"time"
)

var _ Engine = (*ScriptedEngine)(nil)

// ScriptedEngine replays a fixed sequence of pieces. It stands in for the
// real engine in demos, load tests and anywhere weights are unavailable.
type ScriptedEngine struct {
	Pieces    []string      // emitted in order
	PieceWait time.Duration // optional pacing between pieces
	LoadErr   error         // returned by Load when set
	GenErr    error         // returned after the pieces are exhausted

	mu      sync.Mutex
	loaded  bool
	prompts []string
}

// NewScriptedEngine returns an engine that emits the given pieces.
func NewScriptedEngine(pieces ...string) *ScriptedEngine {
	return &ScriptedEngine{Pieces: pieces}
}

func (e *ScriptedEngine) Load() error {
	if e.LoadErr != nil {
		return e.LoadErr
	}
	e.mu.Lock()
	e.loaded = true
	e.mu.Unlock()
	return nil
}

func (e *ScriptedEngine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

// Generate emits the scripted pieces, honoring ctx cancellation and early
// stops from emit. The prompt is recorded for later inspection.
func (e *ScriptedEngine) Generate(ctx context.Context, prompt string, params Params, emit func(piece string) bool) error {
	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return ErrNotLoaded
	}
	e.prompts = append(e.prompts, prompt)
	pieces := e.Pieces
	wait := e.PieceWait
	e.mu.Unlock()

	for _, piece := range pieces {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !emit(piece) {
			return nil
		}
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return e.GenErr
}

func (e *ScriptedEngine) Close() error {
	e.mu.Lock()
	e.loaded = false
	e.mu.Unlock()
	return nil
}

// Prompts returns the prompts passed to Generate, in call order.
func (e *ScriptedEngine) Prompts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.prompts))
	copy(out, e.prompts)
	return out
}

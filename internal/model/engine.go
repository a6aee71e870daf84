// Package model wraps a locally hosted causal language model behind a
// queueing runtime that streams generated text as UTF-8 safe fragments.
package model

import (
	"context"
	"strings"
)

// Params carries the sampling settings for one generation run.
type Params struct {
	Temperature   float32
	TopP          float32
	TopK          int
	RepeatPenalty float32
	MaxTokens     int
}

// DefaultParams returns the sampling settings the chat product ships with.
func DefaultParams() Params {
	return Params{
		Temperature:   0.6,
		TopP:          0.9,
		TopK:          50,
		RepeatPenalty: 1.25,
		MaxTokens:     300,
	}
}

// EngineConfig describes where the weights live and how to size the context.
type EngineConfig struct {
	ModelPath   string
	AdapterPath string // optional LoRA adapter applied at load time
	ContextSize int
	GPULayers   int
	Threads     int
}

// Engine abstracts the token producer. Generate calls emit once per raw
// piece in generation order; emit returning false stops the run early.
type Engine interface {
	Load() error
	Loaded() bool
	Generate(ctx context.Context, prompt string, params Params, emit func(piece string) bool) error
	Close() error
}

// ErrorPrefix marks a terminal error fragment. It flows to clients verbatim
// as the last streamed event of a failed generation.
const ErrorPrefix = "[ERROR] "

// IsErrorFragment reports whether a fragment is a terminal error event.
func IsErrorFragment(fragment string) bool {
	return strings.HasPrefix(fragment, "[ERROR]")
}

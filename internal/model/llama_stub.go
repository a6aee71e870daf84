//go:build !llama

package model

import (
	"context"
	"errors"
)

var errLlamaUnavailable = errors.New("model: llama.cpp not available in this build (rebuild with -tags llama)")

var _ Engine = (*LlamaEngine)(nil)

// LlamaEngine placeholder for builds without the llama.cpp binding.
type LlamaEngine struct {
	cfg EngineConfig
}

// NewLlamaEngine creates the placeholder engine. Load always fails.
func NewLlamaEngine(cfg EngineConfig) *LlamaEngine {
	return &LlamaEngine{cfg: cfg}
}

func (e *LlamaEngine) Load() error {
	return errLlamaUnavailable
}

func (e *LlamaEngine) Loaded() bool {
	return false
}

func (e *LlamaEngine) Generate(ctx context.Context, prompt string, params Params, emit func(piece string) bool) error {
	return errLlamaUnavailable
}

func (e *LlamaEngine) Close() error {
	return nil
}

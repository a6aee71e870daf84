//go:build llama

package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-skynet/go-llama.cpp"
)

var _ Engine = (*LlamaEngine)(nil)

// LlamaEngine runs a GGUF model through llama.cpp. A single instance owns
// one model; calls are serialized by the runtime's worker.
type LlamaEngine struct {
	cfg   EngineConfig
	mu    sync.Mutex
	model *llama.LLama
}

// NewLlamaEngine creates an engine for the given weights. The model is not
// loaded until Load is called.
func NewLlamaEngine(cfg EngineConfig) *LlamaEngine {
	return &LlamaEngine{cfg: cfg}
}

// Load maps the model into memory and applies the LoRA adapter if one is
// configured.
func (e *LlamaEngine) Load() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		return nil
	}
	if e.cfg.ModelPath == "" {
		return errors.New("model: model path required")
	}

	contextSize := e.cfg.ContextSize
	if contextSize <= 0 {
		contextSize = 4096
	}
	options := []llama.ModelOption{
		llama.SetContext(contextSize),
		llama.SetGPULayers(e.cfg.GPULayers),
	}
	if e.cfg.AdapterPath != "" {
		options = append(options,
			llama.SetLoraAdapter(e.cfg.AdapterPath),
			llama.SetLoraBase(e.cfg.ModelPath),
		)
	}

	model, err := llama.New(e.cfg.ModelPath, options...)
	if err != nil {
		return fmt.Errorf("model: llama.New failed: %w", err)
	}
	e.model = model
	return nil
}

// Loaded reports whether the weights are resident.
func (e *LlamaEngine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model != nil
}

// Generate runs one prediction, forwarding each produced piece to emit.
// Cancelling ctx or returning false from emit stops the prediction.
func (e *LlamaEngine) Generate(ctx context.Context, prompt string, params Params, emit func(piece string) bool) error {
	e.mu.Lock()
	model := e.model
	e.mu.Unlock()
	if model == nil {
		return errors.New("model: engine not loaded")
	}

	options := []llama.PredictOption{
		llama.SetTemperature(params.Temperature),
		llama.SetTopP(params.TopP),
		llama.SetTopK(params.TopK),
		llama.SetPenalty(params.RepeatPenalty),
		llama.SetTokens(params.MaxTokens),
		llama.SetTokenCallback(func(piece string) bool {
			if ctx.Err() != nil {
				return false
			}
			return emit(piece)
		}),
	}
	if e.cfg.Threads > 0 {
		options = append(options, llama.SetThreads(e.cfg.Threads))
	}

	if _, err := model.Predict(prompt, options...); err != nil {
		return fmt.Errorf("model: predict: %w", err)
	}
	return ctx.Err()
}

// Close frees the native model.
func (e *LlamaEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
	return nil
}

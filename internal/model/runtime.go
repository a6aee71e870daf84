package model

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/chatstore"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/prompt"
)

// Fragment is one streamed piece of assistant output. A failed generation
// delivers exactly one terminal fragment carrying the ErrorPrefix sentinel.
type Fragment = string

var (
	// ErrBusy is returned when the generation queue is full.
	ErrBusy = errors.New("model: generation queue full")
	// ErrNotLoaded is returned when the engine has no weights resident.
	ErrNotLoaded = errors.New("model: engine not loaded")
)

// fragmentBuffer bounds each job's output channel.
const fragmentBuffer = 10

// RuntimeConfig configures the generation runtime.
type RuntimeConfig struct {
	ModelPath   string          // required; weights the engine was built for
	AdapterPath string          // optional LoRA adapter; must exist when set
	ModelName   string          // reported in health and usage records
	Template    prompt.Template // chat template used to render windows
	Params      Params          // zero value means DefaultParams
	QueueDepth  int             // pending job limit (default 8)
	Logger      *log.Logger
}

type job struct {
	ctx    context.Context
	prompt string
	out    chan Fragment
}

// Runtime owns the engine and serializes generation jobs through a single
// worker goroutine. Callers receive a bounded fragment channel per job.
type Runtime struct {
	engine    Engine
	cfg       RuntimeConfig
	jobs      chan *job
	stop      chan struct{}
	wg        conc.WaitGroup
	closeOnce sync.Once
	logger    *log.Logger
}

// NewRuntime validates the configuration, loads the engine and starts the
// worker. A missing model path, or a configured adapter path that does not
// exist on disk, is a constructor error: the process must not serve without
// its model.
func NewRuntime(cfg RuntimeConfig, engine Engine) (*Runtime, error) {
	if engine == nil {
		return nil, errors.New("model: engine required")
	}
	if cfg.ModelPath == "" {
		return nil, errors.New("model: model path required")
	}
	if cfg.AdapterPath != "" {
		if _, err := os.Stat(cfg.AdapterPath); err != nil {
			return nil, fmt.Errorf("model: adapter path %s: %w", cfg.AdapterPath, err)
		}
	}
	if cfg.Params == (Params{}) {
		cfg.Params = DefaultParams()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 8
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	if err := engine.Load(); err != nil {
		return nil, fmt.Errorf("model: load engine: %w", err)
	}

	r := &Runtime{
		engine: engine,
		cfg:    cfg,
		jobs:   make(chan *job, cfg.QueueDepth),
		stop:   make(chan struct{}),
		logger: cfg.Logger,
	}
	r.wg.Go(r.worker)
	r.logger.Printf("[INFO] model: runtime ready model=%s queue_depth=%d", cfg.ModelName, cfg.QueueDepth)
	return r, nil
}

// Loaded reports whether the engine can serve generations.
func (r *Runtime) Loaded() bool {
	return r.engine.Loaded()
}

// Model returns the configured model name.
func (r *Runtime) Model() string {
	return r.cfg.ModelName
}

// Pending returns the number of queued jobs not yet picked up.
func (r *Runtime) Pending() int {
	return len(r.jobs)
}

// Generate renders the window through the chat template and submits it to
// the worker. The returned channel is closed when the run ends; a full queue
// fails fast with ErrBusy.
func (r *Runtime) Generate(ctx context.Context, window []chatstore.Message) (<-chan Fragment, error) {
	if !r.engine.Loaded() {
		return nil, ErrNotLoaded
	}
	select {
	case <-r.stop:
		return nil, ErrNotLoaded
	default:
	}

	j := &job{
		ctx:    ctx,
		prompt: r.cfg.Template.Render(window),
		out:    make(chan Fragment, fragmentBuffer),
	}
	select {
	case r.jobs <- j:
		return j.out, nil
	default:
		return nil, ErrBusy
	}
}

func (r *Runtime) worker() {
	for {
		select {
		case j := <-r.jobs:
			r.run(j)
		case <-r.stop:
			// Fail jobs still queued before returning.
			for {
				select {
				case j := <-r.jobs:
					select {
					case j.out <- ErrorPrefix + "server shutting down":
					default:
					}
					close(j.out)
				default:
					return
				}
			}
		}
	}
}

// run executes one generation on the engine, emitting UTF-8 safe fragments.
func (r *Runtime) run(j *job) {
	defer close(j.out)

	var dec streamDecoder
	emit := func(piece string) bool {
		text := dec.push(piece)
		if text == "" {
			return j.ctx.Err() == nil
		}
		select {
		case j.out <- text:
			return true
		case <-j.ctx.Done():
			return false
		case <-r.stop:
			return false
		}
	}

	var genErr error
	var catcher panics.Catcher
	catcher.Try(func() {
		genErr = r.engine.Generate(j.ctx, j.prompt, r.cfg.Params, emit)
	})

	if rec := catcher.Recovered(); rec != nil {
		r.logger.Printf("[ERROR] model: generation panic: %v", rec.Value)
		r.fail(j, "generation failed unexpectedly")
		return
	}
	if genErr != nil {
		if j.ctx.Err() != nil || errors.Is(genErr, context.Canceled) {
			return
		}
		r.logger.Printf("[ERROR] model: generation failed: %v", genErr)
		r.fail(j, genErr.Error())
		return
	}
	if n := dec.pending(); n > 0 {
		r.logger.Printf("[WARN] model: dropped %d trailing bytes without a rune boundary", n)
	}
}

// fail delivers the terminal error fragment unless the consumer is gone.
func (r *Runtime) fail(j *job, reason string) {
	select {
	case j.out <- ErrorPrefix + reason:
	case <-j.ctx.Done():
	case <-r.stop:
	}
}

// Close stops the worker, fails queued jobs and releases the engine.
func (r *Runtime) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stop)
		if rec := r.wg.WaitAndRecover(); rec != nil {
			r.logger.Printf("[ERROR] model: worker panicked: %v", rec.Value)
		}
		err = r.engine.Close()
	})
	return err
}

package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rfqflow/rfqflow/pkg/rfqflow"
	"github.com/rfqflow/rfqflow/pkg/rfqflow/checkpoint"
	"github.com/rfqflow/rfqflow/pkg/rfqflow/config"
)

// Engine-level sentinel errors.
var (
	// ErrNoSuchThread is returned when a thread ID is unknown. An unknown
	// thread is never silently recreated.
	ErrNoSuchThread = errors.New("negotiation: no such thread")

	// ErrConversationClosed is returned when resuming a thread whose
	// conversation has ended.
	ErrConversationClosed = errors.New("negotiation: conversation already closed")
)

// TurnResult is what a caller gets back after each engine run: the full
// transcript and whether the conversation has ended.
type TurnResult struct {
	ThreadID   string
	Transcript []Turn
	Ended      bool
}

// thread tracks per-thread coordination state. Its mutex serializes runs on
// the same thread; the token binds the next resume to the latest suspension.
type thread struct {
	mu    sync.Mutex
	token string
	ended bool
}

// Engine drives negotiation threads over the compiled graph. Each thread is
// fully isolated: concurrent runs on different threads proceed in parallel,
// while runs on the same thread are serialized.
type Engine struct {
	graph  *rfqflow.CompiledGraph[State]
	store  checkpoint.Store
	logger *slog.Logger

	mu      sync.Mutex
	threads map[string]*thread
}

// EngineOption configures the Engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	logger            *slog.Logger
	capabilityTimeout GraphOption
	err               error
}

// WithEngineLogger sets the logger used for all runs.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(c *engineConfig) { c.logger = logger }
}

// WithEngineConfig applies file-based settings. Recognized keys, under the
// "negotiation" section: capability_timeout. A malformed section or a
// non-positive timeout fails NewEngine rather than silently running on
// defaults.
func WithEngineConfig(cfg config.Config) EngineOption {
	return func(c *engineConfig) {
		if cfg.Has("negotiation") {
			if err := cfg.RequireSections("negotiation"); err != nil {
				c.err = err
				return
			}
		}
		section := cfg.Sub("negotiation")
		if section.Has("capability_timeout") {
			d := section.Duration("capability_timeout", -1)
			if d <= 0 {
				c.err = fmt.Errorf("negotiation config: invalid capability_timeout %v",
					section.Any("capability_timeout", nil))
				return
			}
			c.capabilityTimeout = WithCapabilityTimeout(d)
		}
	}
}

// NewEngine compiles the negotiation graph over the given capabilities and
// checkpoint store.
func NewEngine(caps Capabilities, store checkpoint.Store, opts ...EngineOption) (*Engine, error) {
	cfg := engineConfig{
		logger:            slog.Default(),
		capabilityTimeout: WithCapabilityTimeout(DefaultCapabilityTimeout),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.err != nil {
		return nil, cfg.err
	}

	graph, err := NewGraph(caps, cfg.capabilityTimeout)
	if err != nil {
		return nil, fmt.Errorf("compile negotiation graph: %w", err)
	}

	return &Engine{
		graph:   graph,
		store:   store,
		logger:  cfg.logger,
		threads: make(map[string]*thread),
	}, nil
}

// StartThread creates a new thread seeded with the builder profile and runs
// the graph until the first suspend point.
func (e *Engine) StartThread(ctx context.Context, profile BuilderProfile) (*TurnResult, error) {
	threadID := uuid.New().String()
	th := &thread{}
	th.mu.Lock()
	defer th.mu.Unlock()

	e.mu.Lock()
	e.threads[threadID] = th
	e.mu.Unlock()

	initial := State{
		BuilderInfo: &profile,
		ChatHistory: []Turn{},
	}

	res, err := e.graph.Run(e.runContext(ctx, threadID), initial,
		rfqflow.WithCheckpointing(e.store),
		rfqflow.WithRunThreadID(threadID))
	if err != nil {
		e.mu.Lock()
		delete(e.threads, threadID)
		e.mu.Unlock()
		return nil, err
	}

	e.recordOutcome(th, res)
	return &TurnResult{
		ThreadID:   threadID,
		Transcript: res.State.ChatHistory,
		Ended:      res.State.ConversationEnded,
	}, nil
}

// ResumeThread feeds the buyer's next message (or "" to simply continue) into
// a suspended thread and runs until the next suspend point or a terminal
// node. Concurrent resumes on the same thread are serialized.
func (e *Engine) ResumeThread(ctx context.Context, threadID, message string) (*TurnResult, error) {
	th, err := e.lookupThread(threadID)
	if err != nil {
		return nil, err
	}

	th.mu.Lock()
	defer th.mu.Unlock()

	if th.ended {
		return nil, ErrConversationClosed
	}

	opts := []rfqflow.ResumeOption[State]{
		rfqflow.WithStateOverride(func(s State) State {
			s.PendingUserMessage = message
			return s
		}),
		rfqflow.WithStateValidation(func(s State) error {
			if s.ConversationEnded {
				return ErrConversationClosed
			}
			return nil
		}),
	}
	if th.token != "" {
		opts = append(opts, rfqflow.WithToken[State](th.token))
	}

	res, err := e.graph.Resume(e.runContext(ctx, threadID), e.store, threadID, opts...)
	if errors.Is(err, rfqflow.ErrRunCompleted) || errors.Is(err, ErrConversationClosed) {
		th.ended = true
		return nil, ErrConversationClosed
	}
	if err != nil {
		return nil, err
	}

	e.recordOutcome(th, res)
	return &TurnResult{
		ThreadID:   threadID,
		Transcript: res.State.ChatHistory,
		Ended:      res.State.ConversationEnded,
	}, nil
}

// ResetThread discards a thread's checkpoints. A new conversation starts
// under a new thread ID via StartThread.
func (e *Engine) ResetThread(ctx context.Context, threadID string) error {
	th, err := e.lookupThread(threadID)
	if err != nil {
		return err
	}

	th.mu.Lock()
	defer th.mu.Unlock()

	if err := e.store.Clear(threadID); err != nil {
		return fmt.Errorf("clear thread checkpoints: %w", err)
	}

	e.mu.Lock()
	delete(e.threads, threadID)
	e.mu.Unlock()
	return nil
}

// History returns the transcript from the thread's latest checkpoint.
func (e *Engine) History(ctx context.Context, threadID string) ([]Turn, error) {
	if _, err := e.lookupThread(threadID); err != nil {
		return nil, err
	}

	state, err := e.latestState(threadID)
	if err != nil {
		return nil, err
	}
	return state.ChatHistory, nil
}

// lookupThread finds the coordination entry for a thread, recovering it from
// the checkpoint store after a process restart. Unknown threads are an error.
func (e *Engine) lookupThread(threadID string) (*thread, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if th, ok := e.threads[threadID]; ok {
		return th, nil
	}

	state, err := e.latestState(threadID)
	if err != nil {
		return nil, err
	}

	th := &thread{ended: state.ConversationEnded}
	e.threads[threadID] = th
	return th, nil
}

func (e *Engine) latestState(threadID string) (*State, error) {
	data, err := e.store.LoadLatest(threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, ErrNoSuchThread
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}

	var state State
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}

func (e *Engine) runContext(ctx context.Context, threadID string) rfqflow.Context {
	return rfqflow.NewContext(ctx,
		rfqflow.WithLogger(e.logger),
		rfqflow.WithThreadID(threadID))
}

func (e *Engine) recordOutcome(th *thread, res rfqflow.Result[State]) {
	th.ended = res.State.ConversationEnded
	if res.Suspended() {
		th.token = res.Suspension.Token
	} else {
		th.token = ""
	}
}

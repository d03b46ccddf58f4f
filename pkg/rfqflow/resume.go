package rfqflow

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rfqflow/rfqflow/pkg/rfqflow/checkpoint"
)

// Resume continues execution of a thread from its latest checkpoint.
//
// The state is deserialized from the checkpoint, optionally modified
// via WithStateOverride and validated via WithStateValidation, and
// execution continues at the node recorded as the checkpoint's
// continuation point. When that node is a suspend node (the common
// case), it executes exactly once before the suspend check applies
// again, so a thread suspended at an input node consumes the injected
// input and moves on.
//
// Returns ErrNoCheckpoints if the thread has no checkpoint,
// ErrRunCompleted if the thread already ran to END, and
// ErrTokenMismatch if a token supplied via WithToken does not match
// the latest checkpoint.
//
// Example:
//
//	res, err := compiled.Resume(ctx, store, threadID,
//	    rfqflow.WithStateOverride(func(s State) State {
//	        s.PendingUserMessage = &msg
//	        return s
//	    }),
//	    rfqflow.WithToken[State](token))
func (cg *CompiledGraph[S]) Resume(ctx Context, store checkpoint.Store, threadID string, opts ...ResumeOption[S]) (Result[S], error) {
	var zero Result[S]

	if ctx == nil {
		return zero, ErrNilContext
	}
	if store == nil {
		return zero, fmt.Errorf("resume requires a checkpoint store")
	}
	if threadID == "" {
		return zero, ErrThreadIDRequired
	}

	var cfg resumeConfig[S]
	for _, opt := range opts {
		opt(&cfg)
	}

	data, err := store.LoadLatest(threadID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return zero, fmt.Errorf("%w: thread %s", ErrNoCheckpoints, threadID)
		}
		return zero, fmt.Errorf("loading checkpoint for thread %s: %w", threadID, err)
	}

	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		return zero, fmt.Errorf("decoding checkpoint for thread %s: %w", threadID, err)
	}
	if cp.Version != checkpoint.Version {
		return zero, fmt.Errorf("%w: checkpoint version %d, expected %d",
			ErrCheckpointVersionMismatch, cp.Version, checkpoint.Version)
	}

	if cp.NextNode == END {
		return zero, fmt.Errorf("%w: thread %s", ErrRunCompleted, threadID)
	}

	if cfg.token != "" {
		tokThread, tokSeq, tokNode, err := parseToken(cfg.token)
		if err != nil {
			return zero, fmt.Errorf("%w: %v", ErrTokenMismatch, err)
		}
		if tokThread != threadID || tokSeq != cp.Sequence || tokNode != cp.NextNode {
			return zero, fmt.Errorf("%w: token does not match latest checkpoint for thread %s",
				ErrTokenMismatch, threadID)
		}
	}

	startNode := cp.NextNode
	if startNode == "" || !cg.HasNode(startNode) {
		return zero, fmt.Errorf("%w: %q", ErrInvalidResumeNode, startNode)
	}

	var state S
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	if cfg.stateOverride != nil {
		state = cfg.stateOverride(state)
	}
	if cfg.validateState != nil {
		if err := cfg.validateState(state); err != nil {
			return zero, fmt.Errorf("state validation failed for thread %s: %w", threadID, err)
		}
	}

	runCfg := defaultRunConfig()
	for _, opt := range cfg.runOpts {
		opt(&runCfg)
	}
	runCfg.checkpointStore = store
	runCfg.threadID = threadID
	runCfg.sequence = cp.Sequence
	runCfg.resuming = true
	runCfg.prevNode = cp.NodeID

	return cg.instrumentedRun(ctx, state, startNode, threadID, &runCfg)
}

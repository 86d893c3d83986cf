package timelock

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUnknownTarget indicates a call to an address with no registered
	// target
	ErrUnknownTarget = errors.New("unknown call target")

	// ErrTargetRegistered indicates the address already has a target
	ErrTargetRegistered = errors.New("target already registered")
)

// Target is a destination for timelock sub-calls. Snapshot captures the
// target's state and returns a function restoring it, which gives the
// router its all-or-nothing guarantee over batches.
type Target interface {
	Call(sender string, value uint64, data []byte) error
	Snapshot() func()
}

// Router resolves call targets by address and dispatches batches
// atomically: every involved target is snapshotted up front and restored in
// reverse order if any sub-call fails, so a failed batch leaves no partial
// state behind.
type Router struct {
	targets map[string]Target
	mutex   sync.RWMutex
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{targets: make(map[string]Target)}
}

// Register binds a target to an address.
func (r *Router) Register(address string, target Target) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.targets[address]; exists {
		return fmt.Errorf("%w: %s", ErrTargetRegistered, address)
	}
	r.targets[address] = target
	return nil
}

// Dispatch executes calls in order on behalf of sender. Targets are
// resolved before any call runs, so an unknown address fails the batch
// without side effects.
func (r *Router) Dispatch(sender string, calls []Call) error {
	if len(calls) == 0 {
		return ErrEmptyBatch
	}

	r.mutex.RLock()
	resolved := make([]Target, len(calls))
	distinct := make([]Target, 0, len(calls))
	seen := make(map[string]bool, len(calls))
	for i, call := range calls {
		target, exists := r.targets[call.Target]
		if !exists {
			r.mutex.RUnlock()
			return fmt.Errorf("%w: %s", ErrUnknownTarget, call.Target)
		}
		resolved[i] = target
		if !seen[call.Target] {
			seen[call.Target] = true
			distinct = append(distinct, target)
		}
	}
	r.mutex.RUnlock()

	restores := make([]func(), 0, len(distinct))
	for _, target := range distinct {
		restores = append(restores, target.Snapshot())
	}

	for i, call := range calls {
		if err := resolved[i].Call(sender, call.Value, call.Data); err != nil {
			for j := len(restores) - 1; j >= 0; j-- {
				restores[j]()
			}
			return fmt.Errorf("call %d to %s failed: %w", i, call.Target, err)
		}
	}
	return nil
}

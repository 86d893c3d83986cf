package timelock

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"agora/pkg/chain"
	"agora/pkg/checkpoint"
	"agora/pkg/modules"
	"go.uber.org/zap"
)

// Status is the lifecycle state of a timelock operation.
type Status int

const (
	StatusUnset Status = iota
	StatusScheduled
	StatusExecuted
	StatusCanceled
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusUnset:
		return "unset"
	case StatusScheduled:
		return "scheduled"
	case StatusExecuted:
		return "executed"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

var (
	// ErrNotModule indicates the scheduling caller is not an enabled module
	ErrNotModule = errors.New("caller is not an enabled module")

	// ErrNotCanceler indicates the caller lacks the canceler role
	ErrNotCanceler = errors.New("caller is not a canceler")

	// ErrNotSelf indicates a privileged self-call from a foreign caller
	ErrNotSelf = errors.New("caller is not the executor itself")

	// ErrDelayTooShort indicates a delay below the configured minimum
	ErrDelayTooShort = errors.New("delay is below the minimum delay")

	// ErrOperationExists indicates the operation id is already in use
	ErrOperationExists = errors.New("operation already scheduled")

	// ErrOperationNotScheduled indicates the operation is not in the
	// scheduled state
	ErrOperationNotScheduled = errors.New("operation is not scheduled")

	// ErrTooEarly indicates execution before the delay has elapsed
	ErrTooEarly = errors.New("operation delay has not elapsed")

	// ErrOperationExpired indicates execution after the grace period
	ErrOperationExpired = errors.New("operation grace period has expired")

	// ErrPredecessorNotExecuted indicates a missing or unexecuted
	// predecessor operation
	ErrPredecessorNotExecuted = errors.New("predecessor operation not executed")

	// ErrBadCommand indicates a malformed self-call command payload
	ErrBadCommand = errors.New("malformed executor command")
)

// Operation is a scheduled batch of calls waiting behind the timelock
// delay.
type Operation struct {
	ID          string
	Calls       []Call
	Predecessor string
	Salt        string
	ScheduledAt uint64
	Delay       uint64
	Status      Status
}

// ExecutableAt returns the first timepoint at which the operation may run.
func (op *Operation) ExecutableAt() uint64 {
	return op.ScheduledAt + op.Delay
}

// Self-call command opcodes. Command payloads are a 1-byte opcode followed
// by fixed-width arguments.
const (
	opSetMinDelay     = 0x01 // 8-byte big-endian delay
	opEnableModule    = 0x02 // 20-byte module address
	opDisableModule   = 0x03 // 20-byte predecessor + 20-byte module address
	opAddCanceler     = 0x04 // 20-byte address
	opRemoveCanceler  = 0x05 // 20-byte address
	opSetGracePeriod  = 0x06 // 8-byte big-endian grace period
)

// Executor schedules approved operations behind a minimum delay and runs
// them atomically inside the execution window. Scheduling is gated on the
// module registry; privileged configuration changes only go through
// executed operations that call back into the executor's own address.
type Executor struct {
	address     string
	clock       chain.Clock
	registry    *modules.Registry
	router      *Router
	minDelay    *checkpoint.Store
	gracePeriod uint64
	cancelers   map[string]bool
	ops         map[string]*Operation
	logger      *zap.Logger
	mutex       sync.Mutex
}

// NewExecutor creates an executor and registers it on the router under its
// own address so scheduled operations can target its configuration
// commands.
func NewExecutor(
	address string,
	clock chain.Clock,
	registry *modules.Registry,
	router *Router,
	minDelay uint64,
	gracePeriod uint64,
	cancelers []string,
	logger *zap.Logger,
) (*Executor, error) {
	if !chain.ValidAddress(address) {
		return nil, chain.ErrInvalidAddress
	}
	e := &Executor{
		address:     address,
		clock:       clock,
		registry:    registry,
		router:      router,
		minDelay:    checkpoint.NewStore(0),
		gracePeriod: gracePeriod,
		cancelers:   make(map[string]bool),
		ops:         make(map[string]*Operation),
		logger:      logger,
	}
	e.minDelay.SeedIfEmpty(minDelay)
	for _, canceler := range cancelers {
		e.cancelers[canceler] = true
	}
	if err := router.Register(address, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Address returns the executor's own address.
func (e *Executor) Address() string {
	return e.address
}

// MinDelay returns the minimum delay in effect at the current timepoint.
func (e *Executor) MinDelay() uint64 {
	return e.minDelay.Lookup(e.clock.Now())
}

// GracePeriod returns the execution window length after the delay elapses.
func (e *Executor) GracePeriod() uint64 {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	return e.gracePeriod
}

// IsCanceler checks whether an address holds the canceler role.
func (e *Executor) IsCanceler(address string) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	return e.cancelers[address]
}

// Schedule queues a batch of calls behind the timelock. The caller must be
// an enabled module and delay must meet the current minimum. The operation
// id is derived from the calls, predecessor and salt, so scheduling the
// same content twice fails until the salt changes.
func (e *Executor) Schedule(caller string, calls []Call, predecessor, salt string, delay uint64) (string, error) {
	if !e.registry.IsEnabled(caller) {
		return "", ErrNotModule
	}
	if minDelay := e.MinDelay(); delay < minDelay {
		return "", fmt.Errorf("%w: %d < %d", ErrDelayTooShort, delay, minDelay)
	}
	id, err := HashOperation(calls, predecessor, salt)
	if err != nil {
		return "", err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if op, exists := e.ops[id]; exists && op.Status != StatusUnset {
		return "", fmt.Errorf("%w: %s", ErrOperationExists, id)
	}
	now := e.clock.Now()
	e.ops[id] = &Operation{
		ID:          id,
		Calls:       append([]Call(nil), calls...),
		Predecessor: predecessor,
		Salt:        salt,
		ScheduledAt: now,
		Delay:       delay,
		Status:      StatusScheduled,
	}
	e.logger.Info("operation scheduled",
		zap.String("operation", id),
		zap.String("module", caller),
		zap.Uint64("scheduledAt", now),
		zap.Uint64("executableAt", now+delay),
		zap.Int("calls", len(calls)),
	)
	return id, nil
}

// Execute runs a scheduled operation. It fails before the delay elapses,
// after the grace period expires, or while a declared predecessor has not
// executed. The status flips to executed before any sub-call runs, so a
// sub-call re-entering Execute for the same id is rejected; if the batch
// fails the status is restored to scheduled and no sub-call effects remain.
func (e *Executor) Execute(id string) error {
	e.mutex.Lock()
	op, exists := e.ops[id]
	if !exists || op.Status != StatusScheduled {
		e.mutex.Unlock()
		return fmt.Errorf("%w: %s", ErrOperationNotScheduled, id)
	}
	now := e.clock.Now()
	if now < op.ExecutableAt() {
		e.mutex.Unlock()
		return fmt.Errorf("%w: executable at %d, now %d", ErrTooEarly, op.ExecutableAt(), now)
	}
	if now > op.ExecutableAt()+e.gracePeriod {
		e.mutex.Unlock()
		return fmt.Errorf("%w: expired at %d, now %d", ErrOperationExpired, op.ExecutableAt()+e.gracePeriod, now)
	}
	if op.Predecessor != "" {
		pred, exists := e.ops[op.Predecessor]
		if !exists || pred.Status != StatusExecuted {
			e.mutex.Unlock()
			return fmt.Errorf("%w: %s", ErrPredecessorNotExecuted, op.Predecessor)
		}
	}
	op.Status = StatusExecuted
	calls := append([]Call(nil), op.Calls...)
	e.mutex.Unlock()

	if err := e.router.Dispatch(e.address, calls); err != nil {
		e.mutex.Lock()
		op.Status = StatusScheduled
		e.mutex.Unlock()
		e.logger.Warn("operation batch failed",
			zap.String("operation", id),
			zap.Error(err),
		)
		return err
	}
	e.logger.Info("operation executed",
		zap.String("operation", id),
		zap.Uint64("timepoint", now),
	)
	return nil
}

// Cancel aborts a pending operation. Only cancelers may cancel; an
// operation that already executed cannot be canceled.
func (e *Executor) Cancel(caller, id string) error {
	if !e.IsCanceler(caller) {
		return ErrNotCanceler
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	op, exists := e.ops[id]
	if !exists || op.Status != StatusScheduled {
		return fmt.Errorf("%w: %s", ErrOperationNotScheduled, id)
	}
	op.Status = StatusCanceled
	e.logger.Info("operation canceled",
		zap.String("operation", id),
		zap.String("canceler", caller),
	)
	return nil
}

// Status returns the lifecycle state of an operation id.
func (e *Executor) Status(id string) Status {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if op, exists := e.ops[id]; exists {
		return op.Status
	}
	return StatusUnset
}

// Operation returns a copy of an operation's record.
func (e *Executor) Operation(id string) (Operation, bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	op, exists := e.ops[id]
	if !exists {
		return Operation{}, false
	}
	copied := *op
	copied.Calls = append([]Call(nil), op.Calls...)
	return copied, true
}

// ExpiresAt returns the last timepoint at which an operation may execute.
func (e *Executor) ExpiresAt(id string) (uint64, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	op, exists := e.ops[id]
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrOperationNotScheduled, id)
	}
	return op.ExecutableAt() + e.gracePeriod, nil
}

// IsReady checks whether an operation is inside its execution window.
func (e *Executor) IsReady(id string) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	op, exists := e.ops[id]
	if !exists || op.Status != StatusScheduled {
		return false
	}
	now := e.clock.Now()
	return now >= op.ExecutableAt() && now <= op.ExecutableAt()+e.gracePeriod
}

// Call dispatches a self-call configuration command. Only the executor's
// own address may invoke these, which guarantees every configuration change
// went through a scheduled and executed operation.
func (e *Executor) Call(sender string, value uint64, data []byte) error {
	if sender != e.address {
		return ErrNotSelf
	}
	if len(data) == 0 {
		return ErrBadCommand
	}
	arg := data[1:]
	switch data[0] {
	case opSetMinDelay:
		if len(arg) != 8 {
			return ErrBadCommand
		}
		return e.minDelay.Push(e.clock.Now(), binary.BigEndian.Uint64(arg))
	case opSetGracePeriod:
		if len(arg) != 8 {
			return ErrBadCommand
		}
		e.mutex.Lock()
		e.gracePeriod = binary.BigEndian.Uint64(arg)
		e.mutex.Unlock()
		return nil
	case opEnableModule:
		module, err := chain.AddressFromBytes(arg)
		if err != nil {
			return ErrBadCommand
		}
		return e.registry.Add(module)
	case opDisableModule:
		if len(arg) != 2*chain.AddressLength {
			return ErrBadCommand
		}
		prev, err := chain.AddressFromBytes(arg[:chain.AddressLength])
		if err != nil {
			return ErrBadCommand
		}
		module, err := chain.AddressFromBytes(arg[chain.AddressLength:])
		if err != nil {
			return ErrBadCommand
		}
		return e.registry.Remove(prev, module)
	case opAddCanceler:
		canceler, err := chain.AddressFromBytes(arg)
		if err != nil {
			return ErrBadCommand
		}
		e.mutex.Lock()
		e.cancelers[canceler] = true
		e.mutex.Unlock()
		return nil
	case opRemoveCanceler:
		canceler, err := chain.AddressFromBytes(arg)
		if err != nil {
			return ErrBadCommand
		}
		e.mutex.Lock()
		delete(e.cancelers, canceler)
		e.mutex.Unlock()
		return nil
	default:
		return fmt.Errorf("%w: opcode %d", ErrBadCommand, data[0])
	}
}

// Snapshot captures the executor's mutable state for batch rollback:
// operation statuses, the canceler set, the module list and the minimum
// delay in effect at the current timepoint.
func (e *Executor) Snapshot() func() {
	e.mutex.Lock()
	statuses := make(map[string]Status, len(e.ops))
	for id, op := range e.ops {
		statuses[id] = op.Status
	}
	cancelers := make(map[string]bool, len(e.cancelers))
	for addr, ok := range e.cancelers {
		cancelers[addr] = ok
	}
	gracePeriod := e.gracePeriod
	e.mutex.Unlock()

	restoreRegistry := e.registry.Snapshot()
	now := e.clock.Now()
	minDelay := e.minDelay.Lookup(now)

	return func() {
		restoreRegistry()
		// A same-key push rewinds any minDelay change made within this
		// timepoint.
		_ = e.minDelay.Push(now, minDelay)

		e.mutex.Lock()
		defer e.mutex.Unlock()

		e.cancelers = cancelers
		e.gracePeriod = gracePeriod
		for id, status := range statuses {
			if op, exists := e.ops[id]; exists {
				op.Status = status
			}
		}
		for id := range e.ops {
			if _, existed := statuses[id]; !existed {
				delete(e.ops, id)
			}
		}
	}
}

// SetMinDelayCommand encodes a self-call payload updating the minimum
// delay.
func SetMinDelayCommand(delay uint64) []byte {
	data := make([]byte, 9)
	data[0] = opSetMinDelay
	binary.BigEndian.PutUint64(data[1:], delay)
	return data
}

// SetGracePeriodCommand encodes a self-call payload updating the grace
// period.
func SetGracePeriodCommand(gracePeriod uint64) []byte {
	data := make([]byte, 9)
	data[0] = opSetGracePeriod
	binary.BigEndian.PutUint64(data[1:], gracePeriod)
	return data
}

// EnableModuleCommand encodes a self-call payload enabling a module.
func EnableModuleCommand(module string) ([]byte, error) {
	addr, err := chain.AddressBytes(module)
	if err != nil {
		return nil, err
	}
	return append([]byte{opEnableModule}, addr...), nil
}

// DisableModuleCommand encodes a self-call payload disabling a module.
func DisableModuleCommand(prev, module string) ([]byte, error) {
	prevBytes, err := chain.AddressBytes(prev)
	if err != nil {
		return nil, err
	}
	addr, err := chain.AddressBytes(module)
	if err != nil {
		return nil, err
	}
	data := append([]byte{opDisableModule}, prevBytes...)
	return append(data, addr...), nil
}

// AddCancelerCommand encodes a self-call payload granting the canceler
// role.
func AddCancelerCommand(address string) ([]byte, error) {
	addr, err := chain.AddressBytes(address)
	if err != nil {
		return nil, err
	}
	return append([]byte{opAddCanceler}, addr...), nil
}

// RemoveCancelerCommand encodes a self-call payload revoking the canceler
// role.
func RemoveCancelerCommand(address string) ([]byte, error) {
	addr, err := chain.AddressBytes(address)
	if err != nil {
		return nil, err
	}
	return append([]byte{opRemoveCanceler}, addr...), nil
}

package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-hostext/errors"
)

// contendedThreshold is the wait after which an acquisition is logged.
const contendedThreshold = 10 * time.Millisecond

// ExecutionLock is the interpreter's single-threaded access token.
// Reentrancy is handled by With through the context, not by the lock itself.
type ExecutionLock struct {
	mu           sync.Mutex
	acquisitions atomic.Uint64
	held         atomic.Bool
}

// NewExecutionLock creates an unlocked execution lock.
func NewExecutionLock() *ExecutionLock {
	return &ExecutionLock{}
}

func (l *ExecutionLock) acquire() {
	start := time.Now()
	l.mu.Lock()
	l.held.Store(true)
	l.acquisitions.Add(1)
	if wait := time.Since(start); wait > contendedThreshold {
		Logger().Debug("execution lock contended", zap.Duration("wait", wait))
	}
}

func (l *ExecutionLock) release() {
	l.held.Store(false)
	l.mu.Unlock()
}

// Held reports whether any scope currently holds the lock.
func (l *ExecutionLock) Held() bool {
	return l.held.Load()
}

// Acquisitions returns how many times the lock was actually taken.
// Reentrant scopes do not count.
func (l *ExecutionLock) Acquisitions() uint64 {
	return l.acquisitions.Load()
}

// Interpreter is a borrowed handle to the host's interpreter.
// The host creates it once; extension code only receives it.
type Interpreter struct {
	runtime wazero.Runtime
	lock    *ExecutionLock
	name    string
}

// NewInterpreter wraps a host-owned runtime and its lock.
// Only the host that created the runtime should call this.
func NewInterpreter(name string, rt wazero.Runtime, lock *ExecutionLock) *Interpreter {
	if lock == nil {
		lock = NewExecutionLock()
	}
	return &Interpreter{runtime: rt, lock: lock, name: name}
}

// Name identifies the interpreter in logs.
func (it *Interpreter) Name() string {
	return it.name
}

// Lock returns the interpreter's execution lock.
func (it *Interpreter) Lock() *ExecutionLock {
	return it.lock
}

// Scope is an active, lock-holding window onto the interpreter.
type Scope struct {
	it       *Interpreter
	released atomic.Bool
}

// Valid reports whether the scope still holds the lock.
func (s *Scope) Valid() bool {
	return s != nil && !s.released.Load()
}

// Runtime returns the interpreter runtime, or nil once the scope is released.
func (s *Scope) Runtime() wazero.Runtime {
	if !s.Valid() {
		return nil
	}
	return s.it.runtime
}

// Interpreter returns the interpreter this scope belongs to.
func (s *Scope) Interpreter() *Interpreter {
	return s.it
}

type scopeKey struct {
	it *Interpreter
}

// ScopeFrom returns the active scope carried by ctx for it.
func ScopeFrom(ctx context.Context, it *Interpreter) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey{it}).(*Scope)
	if !ok || !s.Valid() {
		return nil, false
	}
	return s, true
}

// Held reports whether ctx carries an active scope for it.
func Held(ctx context.Context, it *Interpreter) bool {
	_, ok := ScopeFrom(ctx, it)
	return ok
}

// Require returns a not_in_scope error unless ctx holds it.
func Require(ctx context.Context, it *Interpreter, op string) error {
	if !Held(ctx, it) {
		return errors.NotInScope(errors.PhaseBridge, op)
	}
	return nil
}

// With runs op while holding the interpreter's execution lock.
// Errors from op are returned unchanged; panics propagate after the lock
// is released.
func With(ctx context.Context, it *Interpreter, op func(ctx context.Context) error) error {
	if it == nil {
		return errors.InvalidInput(errors.PhaseBridge, "nil interpreter")
	}
	if Held(ctx, it) {
		return op(ctx)
	}

	it.lock.acquire()
	s := &Scope{it: it}
	defer func() {
		s.released.Store(true)
		it.lock.release()
	}()

	return op(context.WithValue(ctx, scopeKey{it}, s))
}

// Call is With for operations that produce a value.
func Call[T any](ctx context.Context, it *Interpreter, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := With(ctx, it, func(ctx context.Context) error {
		v, err := op(ctx)
		out = v
		return err
	})
	return out, err
}

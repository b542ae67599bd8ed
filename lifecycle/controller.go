package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-hostext/bridge"
	"github.com/wippyai/wasm-hostext/errors"
	"github.com/wippyai/wasm-hostext/host"
	"github.com/wippyai/wasm-hostext/namespace"
	"github.com/wippyai/wasm-hostext/registry"
)

// NamespaceResolver returns the host's namespace for name, creating it if
// needed. It is called with the execution lock held.
type NamespaceResolver interface {
	ResolveNamespace(ctx context.Context, name string) (*namespace.Namespace, error)
}

// Env is everything the controller borrows from the host.
type Env struct {
	Interpreter *bridge.Interpreter
	Resolver    NamespaceResolver
	// Pinner defaults to SelfPinner.
	Pinner Pinner
}

// Option configures a Controller.
type Option func(*Controller)

// WithNamespace sets the namespace to install into. Default "ext".
func WithNamespace(name string) Option {
	return func(c *Controller) { c.nsName = name }
}

// WithPolicy sets the failure policy. Default PolicyDegraded.
func WithPolicy(p Policy) Option {
	return func(c *Controller) { c.policy = p }
}

// WithModuleName sets the name the host knows the extension by.
func WithModuleName(name string) Option {
	return func(c *Controller) { c.name = name }
}

// WithObserver registers fn for every state transition. Observers run on the
// event goroutine and must not block.
func WithObserver(fn func(Transition)) Option {
	return func(c *Controller) {
		if fn != nil {
			c.observers = append(c.observers, fn)
		}
	}
}

// Controller drives the extension from load to Ready. Its only input is the
// host's interpreter-initialized event.
type Controller struct {
	env       Env
	reg       *registry.Registry
	report    *registry.Report
	err       error
	observers []func(Transition)
	name      string
	nsName    string
	pin       Pin
	events    atomic.Int32
	mu        sync.RWMutex
	policy    Policy
	state     State
	pinState  PinState
}

// New creates a controller in AwaitingHostEvent.
func New(env Env, reg *registry.Registry, opts ...Option) *Controller {
	c := &Controller{
		env:    env,
		reg:    reg,
		name:   "hostext",
		nsName: namespace.DefaultName,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.env.Pinner == nil {
		c.env.Pinner = SelfPinner{}
	}
	return c
}

// Name returns the module name.
func (c *Controller) Name() string {
	return c.name
}

// Policy returns the failure policy.
func (c *Controller) Policy() Policy {
	return c.policy
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// PinState returns whether the module pinned itself.
func (c *Controller) PinState() PinState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pinState
}

// Pinned reports whether the module is pinned.
func (c *Controller) Pinned() bool {
	return c.PinState() == Pinned
}

// Pin returns the pin details once pinned.
func (c *Controller) Pin() Pin {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pin
}

// Report returns the registration report, or nil before registration.
func (c *Controller) Report() *registry.Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.report
}

// Err returns why the controller failed, if it did.
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Events returns how many interpreter-initialized events were received.
func (c *Controller) Events() int {
	return int(c.events.Load())
}

// CanUnload returns a pinned error once the module is pinned.
func (c *Controller) CanUnload() error {
	if c.Pinned() {
		return errors.Pinned(c.name)
	}
	return nil
}

// OnInterpreterInitialized handles the host event. Only the first call does
// anything; later calls, concurrent or nested, log a reentrant event and
// return ErrAlreadyRegistered. Panics never reach the host.
func (c *Controller) OnInterpreterInitialized(ctx context.Context) (err error) {
	if n := c.events.Add(1); n > 1 {
		reentrant := errors.ReentrantEvent(string(host.EventInterpreterInitialized), int(n))
		Logger().Warn("host event received again",
			zap.String("module", c.name),
			zap.Error(reentrant))
		return errors.AlreadyRegistered(reentrant.Detail)
	}

	defer func() {
		if p := recover(); p != nil {
			err = errors.Wrap(errors.PhaseLifecycle, errors.KindRegistration,
				fmt.Errorf("panic: %v", p), "event handler panicked")
			c.fail(err)
		}
	}()

	if c.env.Interpreter == nil || c.env.Resolver == nil || c.reg == nil {
		err = errors.InvalidInput(errors.PhaseLifecycle, "controller needs an interpreter, a resolver and a registry")
		c.fail(err)
		return err
	}

	c.transition(StatePinning, nil)
	pin, err := c.env.Pinner.Pin(ctx)
	if err != nil {
		if !errors.IsKind(err, errors.KindPinFailure) {
			err = errors.PinFailure("pinner failed", err)
		}
		c.mu.Lock()
		c.pinState = PinFailed
		c.mu.Unlock()
		Logger().Error("module pin failed", zap.String("module", c.name), zap.Error(err))
		c.fail(err)
		return err
	}
	c.mu.Lock()
	c.pin = pin
	c.pinState = Pinned
	c.mu.Unlock()
	Logger().Info("module pinned",
		zap.String("module", c.name),
		zap.String("path", pin.Path),
		zap.Bool("static", pin.Static))

	c.transition(StateRegistering, nil)
	var regErr error
	err = bridge.With(ctx, c.env.Interpreter, func(ctx context.Context) error {
		ns, err := c.env.Resolver.ResolveNamespace(ctx, c.nsName)
		if err != nil {
			return err
		}
		report, rerr := c.reg.RegisterAll(ctx, ns)
		c.mu.Lock()
		c.report = report
		c.mu.Unlock()
		if report == nil {
			return rerr
		}
		regErr = rerr
		return nil
	})
	if err != nil {
		Logger().Error("namespace unavailable",
			zap.String("module", c.name),
			zap.String("namespace", c.nsName),
			zap.Error(err))
		c.fail(err)
		return err
	}

	report := c.Report()
	if regErr != nil {
		if c.policy == PolicyStrict || len(report.Installed) == 0 {
			Logger().Error("registration failed",
				zap.String("module", c.name),
				zap.Stringer("policy", c.policy),
				zap.Error(regErr))
			c.fail(regErr)
			return regErr
		}
		Logger().Warn("namespace degraded",
			zap.String("module", c.name),
			zap.Strings("installed", report.Installed),
			zap.Int("failed", len(report.Failed)),
			zap.Error(regErr))
	}

	c.transition(StateReady, nil)
	return nil
}

func (c *Controller) fail(err error) {
	c.transition(StateFailed, err)
}

func (c *Controller) transition(to State, err error) {
	c.mu.Lock()
	from := c.state
	c.state = to
	if err != nil {
		c.err = err
	}
	tr := Transition{From: from, To: to, Pin: c.pinState, Err: err}
	c.mu.Unlock()

	Logger().Debug("lifecycle transition",
		zap.String("module", c.name),
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	for _, fn := range c.observers {
		fn(tr)
	}
}

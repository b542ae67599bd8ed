package host

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-hostext/bridge"
	"github.com/wippyai/wasm-hostext/errors"
	"github.com/wippyai/wasm-hostext/namespace"
)

// Event is a host lifecycle signal.
type Event string

// EventInterpreterInitialized fires once the interpreter can accept
// extension surface.
const EventInterpreterInitialized Event = "interpreter-initialized"

// Extension is a loaded native extension module as the host sees it.
type Extension interface {
	Name() string
	// CanUnload returns an error while the module must stay resident.
	CanUnload() error
}

// Config configures the host interpreter.
type Config struct {
	Stdout io.Writer
	Stderr io.Writer
	// Name identifies the interpreter in logs. Default "host".
	Name string
	// MemoryLimitPages caps guest memory (64 KiB pages). 0 keeps the wazero
	// default.
	MemoryLimitPages uint32
	// WASI instantiates wasi_snapshot_preview1 for guests that need it.
	WASI bool
}

// One interpreter per process.
var (
	liveMu sync.Mutex
	live   *Host
)

type binding struct {
	mod     api.Module
	version uint64
}

// Host owns the process's only interpreter and the namespaces bound into it.
type Host struct {
	rt         wazero.Runtime
	it         *bridge.Interpreter
	cfg        Config
	subs       map[Event][]func(context.Context) error
	namespaces map[string]*namespace.Namespace
	bound      map[string]binding
	exts       map[string]Extension
	nsOrder    []string
	extOrder   []string
	mu         sync.Mutex
	started    atomic.Bool
	closed     atomic.Bool
}

// New creates the process's interpreter. It fails with already_exists while
// another Host is open.
func New(ctx context.Context, cfg Config) (*Host, error) {
	liveMu.Lock()
	defer liveMu.Unlock()

	if live != nil {
		return nil, errors.New(errors.PhaseHost, errors.KindAlreadyExists).
			Detail("interpreter %q is already running in this process", live.it.Name()).
			Build()
	}
	if cfg.Name == "" {
		cfg.Name = "host"
	}

	rcfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		rcfg = rcfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rcfg)

	if cfg.WASI {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			_ = rt.Close(ctx)
			return nil, errors.Wrap(errors.PhaseHost, errors.KindInvalidInput, err, "instantiate WASI")
		}
	}

	h := &Host{
		rt:         rt,
		it:         bridge.NewInterpreter(cfg.Name, rt, nil),
		cfg:        cfg,
		subs:       make(map[Event][]func(context.Context) error),
		namespaces: make(map[string]*namespace.Namespace),
		bound:      make(map[string]binding),
		exts:       make(map[string]Extension),
	}
	live = h

	Logger().Info("interpreter created",
		zap.String("name", cfg.Name),
		zap.Uint32("memory_limit_pages", cfg.MemoryLimitPages),
		zap.Bool("wasi", cfg.WASI))
	return h, nil
}

// Interpreter returns the handle extensions use to reach the interpreter.
func (h *Host) Interpreter() *bridge.Interpreter {
	return h.it
}

// Subscribe registers fn for ev. Subscribers run in registration order.
func (h *Host) Subscribe(ev Event, fn func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[ev] = append(h.subs[ev], fn)
}

// Start signals EventInterpreterInitialized. It runs once per host.
func (h *Host) Start(ctx context.Context) error {
	if h.closed.Load() {
		return errors.InvalidInput(errors.PhaseHost, "host is closed")
	}
	if !h.started.CompareAndSwap(false, true) {
		return errors.New(errors.PhaseHost, errors.KindAlreadyExists).
			Detail("host already started").
			Build()
	}
	return h.Emit(ctx, EventInterpreterInitialized)
}

// Emit delivers ev to its subscribers and returns their combined errors.
// Start is the normal way to fire EventInterpreterInitialized; Emit exists
// for hosts that re-signal.
func (h *Host) Emit(ctx context.Context, ev Event) error {
	h.mu.Lock()
	subs := append([]func(context.Context) error(nil), h.subs[ev]...)
	h.mu.Unlock()

	Logger().Debug("host event", zap.String("event", string(ev)), zap.Int("subscribers", len(subs)))

	var combined error
	for _, fn := range subs {
		combined = multierr.Append(combined, deliver(ctx, fn))
	}
	return combined
}

func deliver(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Wrap(errors.PhaseHost, errors.KindInvalidInput,
				fmt.Errorf("panic: %v", p), "event subscriber panicked")
		}
	}()
	return fn(ctx)
}

// ResolveNamespace returns the namespace called name, creating it on first
// use. The caller must hold the execution lock.
func (h *Host) ResolveNamespace(ctx context.Context, name string) (*namespace.Namespace, error) {
	if err := bridge.Require(ctx, h.it, "resolve namespace"); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errors.InvalidInput(errors.PhaseHost, "empty namespace name")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if ns, ok := h.namespaces[name]; ok {
		return ns, nil
	}
	ns := namespace.New(name, h.it)
	h.namespaces[name] = ns
	h.nsOrder = append(h.nsOrder, name)
	Logger().Debug("namespace created", zap.String("namespace", name))
	return ns, nil
}

// Namespace returns an existing namespace.
func (h *Host) Namespace(name string) (*namespace.Namespace, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ns, ok := h.namespaces[name]
	return ns, ok
}

// Namespaces returns every namespace in creation order.
func (h *Host) Namespaces() []*namespace.Namespace {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*namespace.Namespace, len(h.nsOrder))
	for i, name := range h.nsOrder {
		out[i] = h.namespaces[name]
	}
	return out
}

// Instantiate binds every namespace into the runtime, then compiles and
// instantiates a guest. An empty name instantiates an anonymous module.
func (h *Host) Instantiate(ctx context.Context, name string, wasm []byte) (api.Module, error) {
	return bridge.Call(ctx, h.it, func(ctx context.Context) (api.Module, error) {
		if err := h.bindNamespaces(ctx); err != nil {
			return nil, err
		}

		compiled, err := h.rt.CompileModule(ctx, wasm)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseHost, errors.KindInvalidInput, err, "compile guest")
		}

		modConfig := wazero.NewModuleConfig().WithName(name)
		if h.cfg.Stdout != nil {
			modConfig = modConfig.WithStdout(h.cfg.Stdout)
		}
		if h.cfg.Stderr != nil {
			modConfig = modConfig.WithStderr(h.cfg.Stderr)
		}
		mod, err := h.rt.InstantiateModule(ctx, compiled, modConfig)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseHost, errors.KindInvalidInput, err, "instantiate guest")
		}
		Logger().Debug("guest instantiated", zap.String("name", name))
		return mod, nil
	})
}

// bindNamespaces (re)binds namespaces that changed since they were last
// bound. A rebind affects guests instantiated afterwards.
func (h *Host) bindNamespaces(ctx context.Context) error {
	for _, ns := range h.Namespaces() {
		h.mu.Lock()
		b, ok := h.bound[ns.Name()]
		h.mu.Unlock()
		if ok && b.version == ns.Version() {
			continue
		}
		if ok {
			if err := b.mod.Close(ctx); err != nil {
				return errors.Wrap(errors.PhaseHost, errors.KindInvalidInput, err, "close stale namespace "+ns.Name())
			}
		}
		mod, err := ns.Bind(ctx, h.rt)
		if err != nil {
			return err
		}
		h.mu.Lock()
		h.bound[ns.Name()] = binding{mod: mod, version: ns.Version()}
		h.mu.Unlock()
	}
	return nil
}

// Call invokes a guest export under the execution lock. Traps come back as
// trap errors.
func (h *Host) Call(ctx context.Context, mod api.Module, export string, params ...uint64) ([]uint64, error) {
	return bridge.Call(ctx, h.it, func(ctx context.Context) ([]uint64, error) {
		fn := mod.ExportedFunction(export)
		if fn == nil {
			return nil, errors.NotFound(errors.PhaseHost, "export", export)
		}
		res, err := fn.Call(ctx, params...)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseHost, errors.KindTrap, err, "call "+export)
		}
		return res, nil
	})
}

// Load records an extension module as resident.
func (h *Host) Load(ext Extension) error {
	if ext == nil {
		return errors.InvalidInput(errors.PhaseHost, "nil extension")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	name := ext.Name()
	if _, ok := h.exts[name]; ok {
		return errors.New(errors.PhaseHost, errors.KindAlreadyExists).
			Detail("extension %q already loaded", name).
			Build()
	}
	h.exts[name] = ext
	h.extOrder = append(h.extOrder, name)
	Logger().Info("extension loaded", zap.String("extension", name))
	return nil
}

// Extensions returns loaded extensions in load order.
func (h *Host) Extensions() []Extension {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Extension, len(h.extOrder))
	for i, name := range h.extOrder {
		out[i] = h.exts[name]
	}
	return out
}

// Unload removes an extension unless it refuses. Pinned modules always
// refuse.
func (h *Host) Unload(_ context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ext, ok := h.exts[name]
	if !ok {
		return errors.NotFound(errors.PhaseHost, "extension", name)
	}
	if err := ext.CanUnload(); err != nil {
		Logger().Warn("unload refused", zap.String("extension", name), zap.Error(err))
		return err
	}

	delete(h.exts, name)
	for i, n := range h.extOrder {
		if n == name {
			h.extOrder = append(h.extOrder[:i], h.extOrder[i+1:]...)
			break
		}
	}
	Logger().Info("extension unloaded", zap.String("extension", name))
	return nil
}

// Close shuts the interpreter down and frees the process slot.
func (h *Host) Close(ctx context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := bridge.With(ctx, h.it, func(ctx context.Context) error {
		return h.rt.Close(ctx)
	})

	liveMu.Lock()
	if live == h {
		live = nil
	}
	liveMu.Unlock()

	Logger().Info("interpreter closed", zap.String("name", h.cfg.Name))
	return err
}

package namespace

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-hostext/bridge"
	"github.com/wippyai/wasm-hostext/convert"
	"github.com/wippyai/wasm-hostext/errors"
)

// DefaultName is the reserved extension namespace.
const DefaultName = "ext"

// invokeMemoryLimit bounds the scratch memory of a direct Invoke.
const invokeMemoryLimit = 64 << 20

// Namespace is a host-owned, ordered set of capabilities. Mutations require
// an active bridge scope for the owning interpreter. Read accessors are not
// synchronized; use them inside a scope or after registration has finished.
type Namespace struct {
	owner   *bridge.Interpreter
	objects *convert.Objects
	caps    map[string]Capability
	funcs   map[string]*Func
	name    string
	order   []string
	exports []string
	version uint64
}

// New creates an empty namespace owned by it.
func New(name string, it *bridge.Interpreter) *Namespace {
	return &Namespace{
		name:    name,
		owner:   it,
		objects: convert.NewObjects(nil),
		caps:    make(map[string]Capability),
		funcs:   make(map[string]*Func),
	}
}

// Name returns the namespace name guests import from.
func (ns *Namespace) Name() string {
	return ns.name
}

// Owner returns the interpreter the namespace belongs to.
func (ns *Namespace) Owner() *bridge.Interpreter {
	return ns.owner
}

// Objects returns the store backing class instances.
func (ns *Namespace) Objects() *convert.Objects {
	return ns.objects
}

// Version increments on every successful Install.
func (ns *Namespace) Version() uint64 {
	return ns.version
}

// Install adds c. Installing a name that already exists fails with a
// name_collision error and leaves the namespace unchanged. A Class is
// installed with all its functions or not at all.
func (ns *Namespace) Install(ctx context.Context, c Capability) error {
	if err := bridge.Require(ctx, ns.owner, "namespace install"); err != nil {
		return err
	}
	if c == nil {
		return errors.InvalidInput(errors.PhaseRegister, "nil capability")
	}

	name := c.CapabilityName()
	if _, exists := ns.caps[name]; exists {
		return errors.NameCollision(ns.name, name)
	}

	funcs, err := c.exports(ns)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(funcs))
	for _, f := range funcs {
		if _, exists := ns.funcs[f.Name]; exists {
			return errors.NameCollision(ns.name, f.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return errors.NameCollision(ns.name, f.Name)
		}
		seen[f.Name] = struct{}{}
	}

	ns.caps[name] = c
	ns.order = append(ns.order, name)
	for _, f := range funcs {
		ns.funcs[f.Name] = f
		ns.exports = append(ns.exports, f.Name)
	}
	ns.version++

	Logger().Debug("capability installed",
		zap.String("namespace", ns.name),
		zap.String("name", name),
		zap.Int("exports", len(funcs)))
	return nil
}

// Lookup returns the capability installed under name.
func (ns *Namespace) Lookup(name string) (Capability, bool) {
	c, ok := ns.caps[name]
	return c, ok
}

// Func returns the exported function with the given import name.
func (ns *Namespace) Func(name string) (*Func, bool) {
	f, ok := ns.funcs[name]
	return f, ok
}

// Names returns capability names in installation order.
func (ns *Namespace) Names() []string {
	return append([]string(nil), ns.order...)
}

// Exports returns every exported function in installation order.
func (ns *Namespace) Exports() []*Func {
	out := make([]*Func, len(ns.exports))
	for i, name := range ns.exports {
		out[i] = ns.funcs[name]
	}
	return out
}

// Len returns the number of installed capabilities.
func (ns *Namespace) Len() int {
	return len(ns.order)
}

// Invoke calls an exported function from native code. Arguments cross the
// same conversion boundary a guest call does, so handlers always see the
// declared Go types and results are range checked.
func (ns *Namespace) Invoke(ctx context.Context, name string, args ...any) ([]any, error) {
	return bridge.Call(ctx, ns.owner, func(ctx context.Context) ([]any, error) {
		f, ok := ns.funcs[name]
		if !ok {
			return nil, errors.NotFound(errors.PhaseHost, "function", ns.name+"."+name)
		}
		mem := convert.NewGrowableMemory(4096, invokeMemoryLimit)
		conv := convert.New(mem, mem)

		flat, err := conv.LowerAll(f.Params, args)
		if err != nil {
			return nil, err
		}
		out, err := f.call(ctx, conv, flat)
		if err != nil {
			return nil, err
		}
		return conv.LiftAll(f.Results, out)
	})
}

// Bind instantiates the namespace in rt as a host module named after it.
// Guests import its functions by their export names.
func (ns *Namespace) Bind(ctx context.Context, rt wazero.Runtime) (api.Module, error) {
	if err := bridge.Require(ctx, ns.owner, "namespace bind"); err != nil {
		return nil, err
	}

	builder := rt.NewHostModuleBuilder(ns.name)
	for _, name := range ns.exports {
		f := ns.funcs[name]
		params, err := convert.FlattenTypes(f.Params)
		if err != nil {
			return nil, err
		}
		results, err := convert.FlattenTypes(f.Results)
		if err != nil {
			return nil, err
		}
		builder.NewFunctionBuilder().
			WithGoModuleFunction(ns.hostFunc(f, len(params)), params, results).
			Export(f.Name)
	}

	mod, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindInvalidInput, err, "bind namespace "+ns.name)
	}
	Logger().Debug("namespace bound",
		zap.String("namespace", ns.name),
		zap.Int("exports", len(ns.exports)))
	return mod, nil
}

// hostFunc adapts f to wazero. Errors become traps in the calling guest.
func (ns *Namespace) hostFunc(f *Func, nparams int) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		out, err := bridge.Call(ctx, ns.owner, func(ctx context.Context) ([]uint64, error) {
			conv := convert.New(convert.WrapMemory(mod.Memory()), convert.FindAllocator(ctx, mod))
			return f.call(ctx, conv, stack[:nparams])
		})
		if err != nil {
			Logger().Debug("host function failed",
				zap.String("namespace", ns.name),
				zap.String("func", f.Name),
				zap.Error(err))
			panic(err)
		}
		copy(stack, out)
	}
}

package namespace

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-hostext/bridge"
	hosterrors "github.com/wippyai/wasm-hostext/errors"
	"github.com/wippyai/wasm-hostext/resource"
)

// addGuest imports ext.add (i32, i32) -> i32 and exports run, which calls it.
var addGuest = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type: (i32, i32) -> i32
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	// import "ext" "add"
	0x02, 0x0b, 0x01, 0x03, 'e', 'x', 't', 0x03, 'a', 'd', 'd', 0x00, 0x00,
	// func run: type 0
	0x03, 0x02, 0x01, 0x00,
	// export "run" = func 1
	0x07, 0x07, 0x01, 0x03, 'r', 'u', 'n', 0x00, 0x01,
	// run: local.get 0, local.get 1, call 0
	0x0a, 0x0a, 0x01, 0x08, 0x00, 0x20, 0x00, 0x20, 0x01, 0x10, 0x00, 0x0b,
}

func addFunc() *Func {
	return &Func{
		Name:       "add",
		Params:     []wit.Type{wit.S32{}, wit.S32{}},
		ParamNames: []string{"a", "b"},
		Results:    []wit.Type{wit.S32{}},
		Handler: func(_ context.Context, args []any) ([]any, error) {
			// Widened so that an out-of-range sum fails lowering.
			return []any{int64(args[0].(int32)) + int64(args[1].(int32))}, nil
		},
	}
}

func greetFunc() *Func {
	return &Func{
		Name:    "greet",
		Params:  []wit.Type{wit.String{}},
		Results: []wit.Type{wit.String{}},
		Handler: func(_ context.Context, args []any) ([]any, error) {
			return []any{"hello, " + args[0].(string)}, nil
		},
	}
}

type counter struct {
	n       int64
	dropped *bool
}

func (c *counter) Drop() { *c.dropped = true }

func counterClass(dropped *bool) *Class {
	return &Class{
		Name:   "counter",
		Params: []wit.Type{wit.S64{}},
		New: func(_ context.Context, args []any) (any, error) {
			return &counter{n: args[0].(int64), dropped: dropped}, nil
		},
		Methods: []Method{
			{
				Name: "incr",
				Handler: func(_ context.Context, self any, _ []any) ([]any, error) {
					self.(*counter).n++
					return nil, nil
				},
			},
			{
				Name:    "get",
				Results: []wit.Type{wit.S64{}},
				Handler: func(_ context.Context, self any, _ []any) ([]any, error) {
					return []any{self.(*counter).n}, nil
				},
			},
		},
	}
}

func newTestNamespace(t *testing.T) (*Namespace, *bridge.Interpreter) {
	t.Helper()
	it := bridge.NewInterpreter("test", nil, nil)
	return New(DefaultName, it), it
}

func install(t *testing.T, ns *Namespace, caps ...Capability) {
	t.Helper()
	err := bridge.With(context.Background(), ns.Owner(), func(ctx context.Context) error {
		for _, c := range caps {
			if err := ns.Install(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
}

func TestInstall_RequiresScope(t *testing.T) {
	ns, _ := newTestNamespace(t)

	err := ns.Install(context.Background(), addFunc())
	if !errors.Is(err, &hosterrors.Error{Phase: hosterrors.PhaseBridge, Kind: hosterrors.KindNotInScope}) {
		t.Fatalf("err = %v, want not_in_scope", err)
	}
	if ns.Len() != 0 {
		t.Errorf("Len = %d after rejected install", ns.Len())
	}
}

func TestInstall_Order(t *testing.T) {
	ns, _ := newTestNamespace(t)
	install(t, ns, greetFunc(), addFunc())

	names := ns.Names()
	if len(names) != 2 || names[0] != "greet" || names[1] != "add" {
		t.Errorf("Names = %v", names)
	}
	if _, ok := ns.Lookup("add"); !ok {
		t.Error("Lookup(add) failed")
	}
	if ns.Version() != 2 {
		t.Errorf("Version = %d, want 2", ns.Version())
	}
}

func TestInstall_Collision(t *testing.T) {
	ns, it := newTestNamespace(t)
	install(t, ns, addFunc())

	err := bridge.With(context.Background(), it, func(ctx context.Context) error {
		return ns.Install(ctx, addFunc())
	})
	if !errors.Is(err, &hosterrors.Error{Phase: hosterrors.PhaseRegister, Kind: hosterrors.KindNameCollision}) {
		t.Fatalf("err = %v, want name_collision", err)
	}
	if ns.Len() != 1 {
		t.Errorf("Len = %d, want 1", ns.Len())
	}
}

func TestInstall_ClassIsAtomic(t *testing.T) {
	ns, it := newTestNamespace(t)
	squatter := greetFunc()
	squatter.Name = "[method]counter.get"
	install(t, ns, squatter)

	var dropped bool
	err := bridge.With(context.Background(), it, func(ctx context.Context) error {
		return ns.Install(ctx, counterClass(&dropped))
	})
	if !errors.Is(err, &hosterrors.Error{Phase: hosterrors.PhaseRegister, Kind: hosterrors.KindNameCollision}) {
		t.Fatalf("err = %v, want name_collision", err)
	}
	if _, ok := ns.Func("[constructor]counter"); ok {
		t.Error("constructor installed despite collision")
	}
	if ns.Len() != 1 || len(ns.Exports()) != 1 {
		t.Errorf("Len = %d, exports = %d", ns.Len(), len(ns.Exports()))
	}
}

func TestInstall_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cap  Capability
	}{
		{"empty name", &Func{Handler: addFunc().Handler}},
		{"no handler", &Func{Name: "x"}},
		{"param names mismatch", &Func{Name: "x", Handler: addFunc().Handler, Params: []wit.Type{wit.S32{}}, ParamNames: []string{"a", "b"}}},
		{"unsupported type", &Func{Name: "x", Handler: addFunc().Handler, Params: []wit.Type{&wit.TypeDef{Kind: &wit.Variant{}}}}},
		{"class without constructor", &Class{Name: "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ns, it := newTestNamespace(t)
			err := bridge.With(context.Background(), it, func(ctx context.Context) error {
				return ns.Install(ctx, tt.cap)
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if ns.Len() != 0 {
				t.Errorf("Len = %d", ns.Len())
			}
		})
	}
}

func TestInvoke(t *testing.T) {
	ns, _ := newTestNamespace(t)
	install(t, ns, addFunc(), greetFunc())
	ctx := context.Background()

	out, err := ns.Invoke(ctx, "add", 2, 3)
	if err != nil {
		t.Fatalf("Invoke(add): %v", err)
	}
	if out[0] != int32(5) {
		t.Errorf("add = %#v, want int32(5)", out[0])
	}

	out, err = ns.Invoke(ctx, "greet", "wasm")
	if err != nil || out[0] != "hello, wasm" {
		t.Errorf("greet = %v, %v", out, err)
	}

	_, err = ns.Invoke(ctx, "add", int64(1)<<40, 0)
	if !errors.Is(err, &hosterrors.Error{Phase: hosterrors.PhaseConvert, Kind: hosterrors.KindOverflow}) {
		t.Errorf("argument overflow err = %v", err)
	}

	_, err = ns.Invoke(ctx, "add", int32(math.MaxInt32), 1)
	if !errors.Is(err, &hosterrors.Error{Phase: hosterrors.PhaseConvert, Kind: hosterrors.KindOverflow}) {
		t.Errorf("result overflow err = %v", err)
	}

	_, err = ns.Invoke(ctx, "missing")
	if !errors.Is(err, &hosterrors.Error{Phase: hosterrors.PhaseHost, Kind: hosterrors.KindNotFound}) {
		t.Errorf("missing err = %v", err)
	}
}

func TestClass_Lifecycle(t *testing.T) {
	ns, _ := newTestNamespace(t)
	var dropped bool
	install(t, ns, counterClass(&dropped))
	ctx := context.Background()

	want := []string{"[constructor]counter", "[method]counter.incr", "[method]counter.get", "[resource-drop]counter"}
	exports := ns.Exports()
	if len(exports) != len(want) {
		t.Fatalf("exports = %d, want %d", len(exports), len(want))
	}
	for i, f := range exports {
		if f.Name != want[i] {
			t.Errorf("export[%d] = %q, want %q", i, f.Name, want[i])
		}
	}

	out, err := ns.Invoke(ctx, "[constructor]counter", int64(10))
	if err != nil {
		t.Fatalf("constructor: %v", err)
	}
	h := out[0].(resource.Handle)

	for i := 0; i < 3; i++ {
		if _, err := ns.Invoke(ctx, "[method]counter.incr", h); err != nil {
			t.Fatalf("incr: %v", err)
		}
	}
	out, err = ns.Invoke(ctx, "[method]counter.get", h)
	if err != nil || out[0] != int64(13) {
		t.Fatalf("get = %v, %v", out, err)
	}

	if _, err := ns.Invoke(ctx, "[resource-drop]counter", h); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if !dropped {
		t.Error("native destructor did not run")
	}
	if ns.Objects().Len() != 0 {
		t.Errorf("objects = %d after drop", ns.Objects().Len())
	}
	if _, err := ns.Invoke(ctx, "[method]counter.get", h); err == nil {
		t.Error("method on dropped handle succeeded")
	}
}

func TestSignature(t *testing.T) {
	var dropped bool
	ns, _ := newTestNamespace(t)
	install(t, ns, addFunc(), counterClass(&dropped))

	tests := map[string]string{
		"add":                    "add(a: s32, b: s32) -> s32",
		"[constructor]counter":   "[constructor]counter(s64) -> own<counter>",
		"[method]counter.incr":   "[method]counter.incr(borrow<counter>)",
		"[resource-drop]counter": "[resource-drop]counter(own<counter>)",
	}
	for name, want := range tests {
		f, ok := ns.Func(name)
		if !ok {
			t.Fatalf("Func(%q) missing", name)
		}
		if got := f.Signature(); got != want {
			t.Errorf("Signature = %q, want %q", got, want)
		}
	}
}

func TestBind_GuestCallsHostFunction(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	it := bridge.NewInterpreter("test", rt, nil)
	ns := New(DefaultName, it)

	if _, err := ns.Bind(ctx, rt); err == nil {
		t.Fatal("Bind outside a scope succeeded")
	}

	var reentered bool
	add := addFunc()
	inner := add.Handler
	add.Handler = func(ctx context.Context, args []any) ([]any, error) {
		reentered = bridge.Held(ctx, it)
		return inner(ctx, args)
	}

	err := bridge.With(ctx, it, func(ctx context.Context) error {
		if err := ns.Install(ctx, add); err != nil {
			return err
		}
		if _, err := ns.Bind(ctx, rt); err != nil {
			return err
		}
		mod, err := rt.Instantiate(ctx, addGuest)
		if err != nil {
			return fmt.Errorf("instantiate guest: %w", err)
		}

		res, err := mod.ExportedFunction("run").Call(ctx, api.EncodeI32(-2), api.EncodeI32(7))
		if err != nil {
			return err
		}
		if got := api.DecodeI32(res[0]); got != 5 {
			return fmt.Errorf("run = %d, want 5", got)
		}

		if _, err := mod.ExportedFunction("run").Call(ctx, api.EncodeI32(math.MaxInt32), 1); err == nil {
			return fmt.Errorf("overflowing result did not trap")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reentered {
		t.Error("host function did not run inside the caller's scope")
	}
	if n := it.Lock().Acquisitions(); n != 1 {
		t.Errorf("lock acquired %d times, want 1", n)
	}
}

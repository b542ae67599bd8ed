package host

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-hostext/bridge"
	hosterrors "github.com/wippyai/wasm-hostext/errors"
	"github.com/wippyai/wasm-hostext/namespace"
)

// addGuest imports ext.add (i32, i32) -> i32 and exports run, which calls it.
var addGuest = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x02, 0x0b, 0x01, 0x03, 'e', 'x', 't', 0x03, 'a', 'd', 'd', 0x00, 0x00,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 'r', 'u', 'n', 0x00, 0x01,
	0x0a, 0x0a, 0x01, 0x08, 0x00, 0x20, 0x00, 0x20, 0x01, 0x10, 0x00, 0x0b,
}

func newHost(t *testing.T) *Host {
	t.Helper()
	h, err := New(context.Background(), Config{Name: t.Name()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	return h
}

func installAdd(t *testing.T, h *Host) {
	t.Helper()
	err := bridge.With(context.Background(), h.Interpreter(), func(ctx context.Context) error {
		ns, err := h.ResolveNamespace(ctx, namespace.DefaultName)
		if err != nil {
			return err
		}
		return ns.Install(ctx, &namespace.Func{
			Name:    "add",
			Params:  []wit.Type{wit.S32{}, wit.S32{}},
			Results: []wit.Type{wit.S32{}},
			Handler: func(_ context.Context, args []any) ([]any, error) {
				return []any{args[0].(int32) + args[1].(int32)}, nil
			},
		})
	})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
}

func TestNew_OneInterpreterPerProcess(t *testing.T) {
	ctx := context.Background()
	h, err := New(ctx, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = New(ctx, Config{})
	if !errors.Is(err, &hosterrors.Error{Phase: hosterrors.PhaseHost, Kind: hosterrors.KindAlreadyExists}) {
		t.Fatalf("second New err = %v, want already_exists", err)
	}

	if err := h.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}

	h2, err := New(ctx, Config{})
	if err != nil {
		t.Fatalf("New after Close: %v", err)
	}
	_ = h2.Close(ctx)
}

func TestStart_FiresOnce(t *testing.T) {
	h := newHost(t)
	ctx := context.Background()

	var calls atomic.Int32
	h.Subscribe(EventInterpreterInitialized, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.Start(ctx); err == nil {
		t.Error("second Start succeeded")
	}
	if calls.Load() != 1 {
		t.Errorf("subscriber ran %d times after Start, want 1", calls.Load())
	}

	if err := h.Emit(ctx, EventInterpreterInitialized); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Emit did not reach subscriber")
	}
}

func TestEmit_CombinesErrorsAndRecovers(t *testing.T) {
	h := newHost(t)
	boom := errors.New("boom")

	var after bool
	h.Subscribe(EventInterpreterInitialized, func(context.Context) error { panic("subscriber bug") })
	h.Subscribe(EventInterpreterInitialized, func(context.Context) error { return boom })
	h.Subscribe(EventInterpreterInitialized, func(context.Context) error { after = true; return nil })

	err := h.Start(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want it to include boom", err)
	}
	if !after {
		t.Error("failing subscriber stopped later ones")
	}
}

func TestResolveNamespace(t *testing.T) {
	h := newHost(t)
	ctx := context.Background()

	if _, err := h.ResolveNamespace(ctx, "ext"); !hosterrors.IsKind(err, hosterrors.KindNotInScope) {
		t.Fatalf("unlocked resolve err = %v", err)
	}

	var first, second *namespace.Namespace
	err := bridge.With(ctx, h.Interpreter(), func(ctx context.Context) error {
		var err error
		if first, err = h.ResolveNamespace(ctx, "ext"); err != nil {
			return err
		}
		second, err = h.ResolveNamespace(ctx, "ext")
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("ResolveNamespace created a second namespace")
	}
	if ns, ok := h.Namespace("ext"); !ok || ns != first {
		t.Error("Namespace lookup failed")
	}
	if first.Owner() != h.Interpreter() {
		t.Error("namespace not owned by the host interpreter")
	}
}

func TestInstantiateAndCall(t *testing.T) {
	h := newHost(t)
	ctx := context.Background()
	installAdd(t, h)

	mod, err := h.Instantiate(ctx, "guest", addGuest)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}

	res, err := h.Call(ctx, mod, "run", api.EncodeI32(20), api.EncodeI32(22))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := api.DecodeI32(res[0]); got != 42 {
		t.Errorf("run = %d, want 42", got)
	}

	sig, err := CoreSignature(mod.ExportedFunction("run").Definition())
	if err != nil {
		t.Fatalf("CoreSignature: %v", err)
	}
	out, err := h.Invoke(ctx, mod, "run", sig, -1, int8(-2))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out[0] != int32(-3) {
		t.Errorf("Invoke = %#v, want int32(-3)", out[0])
	}

	if _, err := h.Call(ctx, mod, "missing"); !hosterrors.IsKind(err, hosterrors.KindNotFound) {
		t.Errorf("missing export err = %v", err)
	}

	badSig := Signature{Params: []wit.Type{wit.S64{}, wit.S32{}}, Results: []wit.Type{wit.S32{}}}
	if _, err := h.Invoke(ctx, mod, "run", badSig, 1, 2); !hosterrors.IsKind(err, hosterrors.KindTypeMismatch) {
		t.Errorf("signature mismatch err = %v", err)
	}
}

func TestInstantiate_RebindsChangedNamespace(t *testing.T) {
	h := newHost(t)
	ctx := context.Background()
	installAdd(t, h)

	if _, err := h.Instantiate(ctx, "first", addGuest); err != nil {
		t.Fatalf("first Instantiate: %v", err)
	}

	err := bridge.With(ctx, h.Interpreter(), func(ctx context.Context) error {
		ns, _ := h.ResolveNamespace(ctx, namespace.DefaultName)
		return ns.Install(ctx, &namespace.Func{
			Name:    "noop",
			Handler: func(context.Context, []any) ([]any, error) { return nil, nil },
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	mod, err := h.Instantiate(ctx, "second", addGuest)
	if err != nil {
		t.Fatalf("second Instantiate: %v", err)
	}
	res, err := h.Call(ctx, mod, "run", 1, 2)
	if err != nil || api.DecodeI32(res[0]) != 3 {
		t.Errorf("run = %v, %v", res, err)
	}
}

func TestInstantiate_MissingImport(t *testing.T) {
	h := newHost(t)
	if _, err := h.Instantiate(context.Background(), "guest", addGuest); err == nil {
		t.Fatal("guest with an unresolved import instantiated")
	}
	if h.Interpreter().Lock().Held() {
		t.Error("lock held after failed instantiate")
	}
}

type fakeExtension struct {
	err  error
	name string
}

func (f *fakeExtension) Name() string     { return f.name }
func (f *fakeExtension) CanUnload() error { return f.err }

func TestLoadUnload(t *testing.T) {
	h := newHost(t)
	ctx := context.Background()

	free := &fakeExtension{name: "free"}
	pinned := &fakeExtension{name: "pinned", err: hosterrors.Pinned("pinned")}

	if err := h.Load(free); err != nil {
		t.Fatal(err)
	}
	if err := h.Load(pinned); err != nil {
		t.Fatal(err)
	}
	if err := h.Load(free); !hosterrors.IsKind(err, hosterrors.KindAlreadyExists) {
		t.Errorf("duplicate Load err = %v", err)
	}

	if err := h.Unload(ctx, "free"); err != nil {
		t.Errorf("Unload(free): %v", err)
	}
	if err := h.Unload(ctx, "pinned"); !errors.Is(err, hosterrors.ErrPinned) {
		t.Errorf("Unload(pinned) err = %v, want ErrPinned", err)
	}
	if err := h.Unload(ctx, "nope"); !hosterrors.IsKind(err, hosterrors.KindNotFound) {
		t.Errorf("Unload(nope) err = %v", err)
	}

	exts := h.Extensions()
	if len(exts) != 1 || exts[0].Name() != "pinned" {
		t.Errorf("extensions = %v", exts)
	}
}

func TestConfig_MemoryLimit(t *testing.T) {
	ctx := context.Background()
	h, err := New(ctx, Config{MemoryLimitPages: 1, WASI: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close(ctx)

	// (memory 2) exceeds the one page limit.
	big := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x05, 0x03, 0x01, 0x00, 0x02,
	}
	if _, err := h.Instantiate(ctx, "big", big); err == nil {
		t.Error("memory above the configured limit was accepted")
	}
}

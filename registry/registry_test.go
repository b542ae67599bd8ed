package registry

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-hostext/bridge"
	hosterrors "github.com/wippyai/wasm-hostext/errors"
	"github.com/wippyai/wasm-hostext/namespace"
)

func newNamespace() *namespace.Namespace {
	return namespace.New(namespace.DefaultName, bridge.NewInterpreter("test", nil, nil))
}

func constFunc(name string, v int32) *namespace.Func {
	return &namespace.Func{
		Name:    name,
		Results: []wit.Type{wit.S32{}},
		Handler: func(context.Context, []any) ([]any, error) {
			return []any{v}, nil
		},
	}
}

func failing(name string, err error) *EntryFunc {
	return NewEntry(name, func(context.Context, *namespace.Namespace) error {
		return err
	})
}

func TestRegisterAll_InstallsInOrder(t *testing.T) {
	ns := newNamespace()
	reg := New(
		Capabilities("a", constFunc("one", 1)),
		Capabilities("b", constFunc("two", 2), constFunc("three", 3)),
	)

	report, err := reg.RegisterAll(context.Background(), ns)
	if err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	if got := strings.Join(report.Installed, ","); got != "a,b" {
		t.Errorf("installed = %s", got)
	}
	if got := strings.Join(ns.Names(), ","); got != "one,two,three" {
		t.Errorf("namespace = %s", got)
	}
	if report.Degraded() || report.Total() != 2 {
		t.Errorf("report = %+v", report)
	}
	if reg.Report() != report {
		t.Error("Report() does not return the completed report")
	}
}

func TestRegisterAll_SecondCallRejected(t *testing.T) {
	ns := newNamespace()
	var runs atomic.Int32
	reg := New(NewEntry("counted", func(ctx context.Context, ns *namespace.Namespace) error {
		runs.Add(1)
		return ns.Install(ctx, constFunc("f", 1))
	}))

	first, err := reg.RegisterAll(context.Background(), ns)
	if err != nil {
		t.Fatalf("first RegisterAll: %v", err)
	}
	before := ns.Len()

	second, err := reg.RegisterAll(context.Background(), ns)
	if !errors.Is(err, hosterrors.ErrAlreadyRegistered) {
		t.Fatalf("second err = %v, want ErrAlreadyRegistered", err)
	}
	if second != first {
		t.Error("second call should return the original report")
	}
	if runs.Load() != 1 {
		t.Errorf("entry ran %d times", runs.Load())
	}
	if ns.Len() != before {
		t.Errorf("namespace size changed: %d -> %d", before, ns.Len())
	}
}

func TestRegisterAll_PartialFailure(t *testing.T) {
	ns := newNamespace()
	boom := errors.New("boom")
	reg := New(
		Capabilities("A", constFunc("a", 1)),
		failing("B", boom),
		Capabilities("C", constFunc("c", 3)),
	)

	report, err := reg.RegisterAll(context.Background(), ns)
	if err == nil {
		t.Fatal("expected registration error")
	}

	var regErr *hosterrors.RegistrationError
	if !errors.As(err, &regErr) {
		t.Fatalf("err type = %T", err)
	}
	if regErr.Len() != 1 || regErr.Entries[0].Name != "B" || regErr.Entries[0].Index != 1 {
		t.Errorf("failures = %+v", regErr.Entries)
	}
	if !errors.Is(err, boom) {
		t.Error("entry cause not reachable through errors.Is")
	}
	if !errors.Is(err, &hosterrors.Error{Phase: hosterrors.PhaseRegister, Kind: hosterrors.KindRegistration}) {
		t.Error("registration kind not matched")
	}

	if got := strings.Join(ns.Names(), ","); got != "a,c" {
		t.Errorf("namespace = %s, want a,c", got)
	}
	if got := strings.Join(report.Installed, ","); got != "A,C" {
		t.Errorf("installed = %s", got)
	}
	if !report.Degraded() {
		t.Error("report should be degraded")
	}
}

func TestRegisterAll_CollisionIsEntryFailure(t *testing.T) {
	ns := newNamespace()
	reg := New(
		Capabilities("first", constFunc("dup", 1)),
		Capabilities("second", constFunc("dup", 2)),
	)

	report, err := reg.RegisterAll(context.Background(), ns)
	if !errors.Is(err, &hosterrors.Error{Phase: hosterrors.PhaseRegister, Kind: hosterrors.KindNameCollision}) {
		t.Fatalf("err = %v, want name collision", err)
	}
	if len(report.Failed) != 1 || report.Failed[0].Name != "second" {
		t.Errorf("failed = %+v", report.Failed)
	}

	out, err := ns.Invoke(context.Background(), "dup")
	if err != nil || out[0] != int32(1) {
		t.Errorf("dup = %v, %v; first installation must win", out, err)
	}
}

func TestRegisterAll_RecoversPanics(t *testing.T) {
	ns := newNamespace()
	reg := New(
		NewEntry("panics", func(context.Context, *namespace.Namespace) error {
			panic("installer bug")
		}),
		Capabilities("after", constFunc("ok", 1)),
		nil,
	)

	report, err := reg.RegisterAll(context.Background(), ns)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(report.Failed) != 2 {
		t.Fatalf("failed = %d, want 2", len(report.Failed))
	}
	if !strings.Contains(report.Failed[0].Error(), "installer bug") {
		t.Errorf("panic not reported: %v", report.Failed[0])
	}
	if len(report.Installed) != 1 || report.Installed[0] != "after" {
		t.Errorf("installed = %v", report.Installed)
	}
	if ns.Owner().Lock().Held() {
		t.Error("lock still held after panic")
	}
}

func TestRegisterAll_RunsUnderLock(t *testing.T) {
	ns := newNamespace()
	var held bool
	reg := New(NewEntry("probe", func(ctx context.Context, ns *namespace.Namespace) error {
		held = bridge.Held(ctx, ns.Owner())
		return nil
	}))

	if _, err := reg.RegisterAll(context.Background(), ns); err != nil {
		t.Fatal(err)
	}
	if !held {
		t.Error("entry ran outside the execution lock")
	}
	if reg.Len() != 1 || reg.Entries()[0].Name() != "probe" {
		t.Error("entries not preserved")
	}
}

func TestRegisterAll_NilNamespace(t *testing.T) {
	reg := New()
	if _, err := reg.RegisterAll(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
	// A rejected call does not consume the registry.
	if _, err := reg.RegisterAll(context.Background(), newNamespace()); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
}

package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tetratelabs/wazero"

	hosterrors "github.com/wippyai/wasm-hostext/errors"
)

func newTestInterpreter() *Interpreter {
	return NewInterpreter("test", nil, nil)
}

func TestWith_HoldsLock(t *testing.T) {
	it := newTestInterpreter()
	ctx := context.Background()

	if Held(ctx, it) {
		t.Fatal("background context should not hold a scope")
	}

	err := With(ctx, it, func(ctx context.Context) error {
		if !Held(ctx, it) {
			t.Error("op context should hold the scope")
		}
		if !it.Lock().Held() {
			t.Error("lock should be held inside op")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
	if it.Lock().Held() {
		t.Error("lock should be released after With")
	}
}

func TestWith_Reentrant(t *testing.T) {
	it := newTestInterpreter()
	ctx := context.Background()

	done := make(chan struct{})
	var depth int

	go func() {
		defer close(done)
		_ = With(ctx, it, func(ctx context.Context) error {
			depth++
			return With(ctx, it, func(ctx context.Context) error {
				depth++
				return With(ctx, it, func(ctx context.Context) error {
					depth++
					return nil
				})
			})
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("nested With deadlocked")
	}

	if depth != 3 {
		t.Errorf("depth = %d, want 3", depth)
	}
	if got := it.Lock().Acquisitions(); got != 1 {
		t.Errorf("acquisitions = %d, want 1", got)
	}
}

func TestWith_ReleasesOnError(t *testing.T) {
	it := newTestInterpreter()
	want := errors.New("op failed")

	err := With(context.Background(), it, func(ctx context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
	if it.Lock().Held() {
		t.Fatal("lock still held after op error")
	}

	// Lock must be acquirable again.
	if err := With(context.Background(), it, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("second With: %v", err)
	}
}

func TestWith_ReleasesOnPanic(t *testing.T) {
	it := newTestInterpreter()

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("panic should propagate to the caller")
			}
		}()
		_ = With(context.Background(), it, func(ctx context.Context) error {
			panic("boom")
		})
	}()

	if it.Lock().Held() {
		t.Fatal("lock still held after panic")
	}
}

func TestScope_InvalidAfterRelease(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	it := NewInterpreter("test", rt, nil)

	var escaped *Scope
	var escapedCtx context.Context
	err := With(ctx, it, func(ctx context.Context) error {
		s, ok := ScopeFrom(ctx, it)
		if !ok {
			t.Fatal("ScopeFrom should find the active scope")
		}
		if s.Runtime() == nil {
			t.Error("Runtime should be available inside the scope")
		}
		if s.Interpreter() != it {
			t.Error("scope should belong to it")
		}
		escaped = s
		escapedCtx = ctx
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}

	if escaped.Valid() {
		t.Error("scope should be invalid after release")
	}
	if escaped.Runtime() != nil {
		t.Error("Runtime should be nil after release")
	}
	if Held(escapedCtx, it) {
		t.Error("escaped context should not count as holding the lock")
	}
}

func TestWith_ScopesArePerInterpreter(t *testing.T) {
	a := newTestInterpreter()
	b := newTestInterpreter()

	err := With(context.Background(), a, func(ctx context.Context) error {
		if Held(ctx, b) {
			t.Error("scope of a must not satisfy b")
		}
		return With(ctx, b, func(ctx context.Context) error {
			if !Held(ctx, a) || !Held(ctx, b) {
				t.Error("both scopes should be held")
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
	if b.Lock().Acquisitions() != 1 {
		t.Errorf("b acquisitions = %d, want 1", b.Lock().Acquisitions())
	}
}

func TestWith_MutualExclusion(t *testing.T) {
	it := newTestInterpreter()
	ctx := context.Background()

	var inside atomic.Int32
	var overlap atomic.Bool
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = With(ctx, it, func(context.Context) error {
					if inside.Add(1) > 1 {
						overlap.Store(true)
					}
					time.Sleep(10 * time.Microsecond)
					inside.Add(-1)
					return nil
				})
			}
		}()
	}
	wg.Wait()

	if overlap.Load() {
		t.Fatal("two ops ran under the lock at the same time")
	}
	if got := it.Lock().Acquisitions(); got != 16*50 {
		t.Errorf("acquisitions = %d, want %d", got, 16*50)
	}
}

func TestCall(t *testing.T) {
	it := newTestInterpreter()

	v, err := Call(context.Background(), it, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("Call = %d, %v", v, err)
	}

	want := errors.New("bad")
	_, err = Call(context.Background(), it, func(ctx context.Context) (string, error) {
		return "", want
	})
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestRequire(t *testing.T) {
	it := newTestInterpreter()

	err := Require(context.Background(), it, "install")
	if !errors.Is(err, &hosterrors.Error{Phase: hosterrors.PhaseBridge, Kind: hosterrors.KindNotInScope}) {
		t.Fatalf("err = %v, want not_in_scope", err)
	}

	_ = With(context.Background(), it, func(ctx context.Context) error {
		if err := Require(ctx, it, "install"); err != nil {
			t.Errorf("Require inside scope: %v", err)
		}
		return nil
	})
}

func TestWith_NilInterpreter(t *testing.T) {
	err := With(context.Background(), nil, func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for nil interpreter")
	}
}

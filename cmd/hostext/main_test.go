package main

import (
	"context"
	"testing"

	"github.com/wippyai/wasm-hostext/config"
	"github.com/wippyai/wasm-hostext/errors"
	"github.com/wippyai/wasm-hostext/host"
	"github.com/wippyai/wasm-hostext/lifecycle"
)

func TestFormatResults(t *testing.T) {
	tests := []struct {
		out  []any
		want string
	}{
		{nil, "()"},
		{[]any{int32(42)}, "42"},
		{[]any{"a", uint32(1)}, "(a, 1)"},
	}
	for _, tt := range tests {
		if got := formatResults(tt.out); got != tt.want {
			t.Errorf("formatResults(%v) = %q, want %q", tt.out, got, tt.want)
		}
	}
}

func TestLoadExtensions(t *testing.T) {
	ctx := context.Background()
	h, err := host.New(ctx, host.Config{Name: "cli-test"})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close(ctx)

	cfg, err := config.LoadBytes([]byte(`extension "demo" { entries = ["text"] }`), "cli.hcl")
	if err != nil {
		t.Fatal(err)
	}
	ctrls, err := loadExtensions(h, cfg, false)
	if err != nil {
		t.Fatalf("loadExtensions: %v", err)
	}
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ctrls[0].State() != lifecycle.StateReady {
		t.Errorf("state = %v, err = %v", ctrls[0].State(), ctrls[0].Err())
	}
	ns, _ := h.Namespace(cfg.Namespace)
	if names := ns.Names(); len(names) != 2 || names[0] != "greet" {
		t.Errorf("names = %v", names)
	}

	bad, _ := config.LoadBytes([]byte(`extension "nope" {}`), "bad.hcl")
	if _, err := loadExtensions(h, bad, false); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("unknown extension err = %v", err)
	}
}

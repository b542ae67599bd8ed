// Package demo is a small extension payload: integer math, text helpers and
// a counter class. The CLI loads it and tests use it as a realistic
// extension.
package demo

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"unicode/utf8"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-hostext/convert"
	"github.com/wippyai/wasm-hostext/errors"
	"github.com/wippyai/wasm-hostext/namespace"
	"github.com/wippyai/wasm-hostext/registry"
)

// Entries returns every demo entry in declaration order.
func Entries() []registry.Entry {
	return []registry.Entry{Math(), Text(), Counter()}
}

// Select returns the named entries in the order given.
func Select(names ...string) ([]registry.Entry, error) {
	if len(names) == 0 {
		return Entries(), nil
	}
	byName := make(map[string]registry.Entry)
	for _, e := range Entries() {
		byName[e.Name()] = e
	}
	out := make([]registry.Entry, 0, len(names))
	for _, name := range names {
		e, ok := byName[name]
		if !ok {
			return nil, errors.NotFound(errors.PhaseConfig, "demo entry", name)
		}
		out = append(out, e)
	}
	return out, nil
}

// PointType is record { x: s32, y: s32 }.
var PointType = convert.RecordType(
	wit.Field{Name: "x", Type: wit.S32{}},
	wit.Field{Name: "y", Type: wit.S32{}},
)

// Math installs add, mul64 and midpoint.
func Math() registry.Entry {
	return registry.Capabilities("math",
		&namespace.Func{
			Name:       "add",
			Params:     []wit.Type{wit.S32{}, wit.S32{}},
			ParamNames: []string{"a", "b"},
			Results:    []wit.Type{wit.S32{}},
			Handler: func(_ context.Context, args []any) ([]any, error) {
				// Lowering rejects a sum outside s32.
				return []any{int64(args[0].(int32)) + int64(args[1].(int32))}, nil
			},
		},
		&namespace.Func{
			Name:       "mul64",
			Params:     []wit.Type{wit.S64{}, wit.S64{}},
			ParamNames: []string{"a", "b"},
			Results:    []wit.Type{wit.S64{}},
			Handler: func(_ context.Context, args []any) ([]any, error) {
				a, b := args[0].(int64), args[1].(int64)
				p, ok := mul64(a, b)
				if !ok {
					return nil, errors.Overflow(errors.PhaseConvert, []string{"mul64"},
						fmt.Sprintf("%d * %d", a, b), "s64")
				}
				return []any{p}, nil
			},
		},
		&namespace.Func{
			Name:       "midpoint",
			Params:     []wit.Type{PointType, PointType},
			ParamNames: []string{"a", "b"},
			Results:    []wit.Type{PointType},
			Handler: func(_ context.Context, args []any) ([]any, error) {
				a, b := args[0].(convert.Record), args[1].(convert.Record)
				mid := func(k string) int32 {
					return int32((int64(a[k].(int32)) + int64(b[k].(int32))) / 2)
				}
				return []any{convert.Record{"x": mid("x"), "y": mid("y")}}, nil
			},
		},
	)
}

func mul64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	p := a * b
	if p/b != a {
		return 0, false
	}
	return p, true
}

// Text installs greet and len.
func Text() registry.Entry {
	return registry.Capabilities("text",
		&namespace.Func{
			Name:       "greet",
			Params:     []wit.Type{wit.String{}},
			ParamNames: []string{"name"},
			Results:    []wit.Type{wit.String{}},
			Handler: func(_ context.Context, args []any) ([]any, error) {
				return []any{"hello, " + args[0].(string)}, nil
			},
		},
		&namespace.Func{
			Name:       "len",
			Params:     []wit.Type{wit.String{}},
			ParamNames: []string{"s"},
			Results:    []wit.Type{wit.U32{}},
			Handler: func(_ context.Context, args []any) ([]any, error) {
				return []any{utf8.RuneCountInString(args[0].(string))}, nil
			},
		},
	)
}

var liveCounters atomic.Int64

// LiveCounters returns how many counters have not been dropped.
func LiveCounters() int64 {
	return liveCounters.Load()
}

type counter struct {
	n       int64
	dropped atomic.Bool
}

func (c *counter) Drop() {
	if c.dropped.CompareAndSwap(false, true) {
		liveCounters.Add(-1)
	}
}

// Counter installs the counter class: a constructor taking the start value,
// incr(by) returning the new value, and get.
func Counter() registry.Entry {
	return registry.Capabilities("counter", &namespace.Class{
		Name:       "counter",
		Params:     []wit.Type{wit.S64{}},
		ParamNames: []string{"start"},
		New: func(_ context.Context, args []any) (any, error) {
			liveCounters.Add(1)
			return &counter{n: args[0].(int64)}, nil
		},
		Methods: []namespace.Method{
			{
				Name:       "incr",
				Params:     []wit.Type{wit.S64{}},
				ParamNames: []string{"by"},
				Results:    []wit.Type{wit.S64{}},
				Handler: func(_ context.Context, self any, args []any) ([]any, error) {
					c := self.(*counter)
					n, ok := add64(c.n, args[0].(int64))
					if !ok {
						return nil, errors.Overflow(errors.PhaseConvert, []string{"counter", "incr"},
							fmt.Sprintf("%d + %d", c.n, args[0].(int64)), "s64")
					}
					c.n = n
					return []any{n}, nil
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
	})
}

func add64(a, b int64) (int64, bool) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, false
	}
	return s, true
}

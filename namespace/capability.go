package namespace

import (
	"context"
	"fmt"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-hostext/convert"
	"github.com/wippyai/wasm-hostext/errors"
	"github.com/wippyai/wasm-hostext/resource"
)

// Capability is something an extension installs into a namespace: a Func or
// a Class.
type Capability interface {
	CapabilityName() string
	exports(ns *Namespace) ([]*Func, error)
}

// Handler implements a Func. Args arrive as the exact Go types of the
// declared parameters (int32 for s32, string for string, ...). Results are
// lowered against the declared result types.
type Handler func(ctx context.Context, args []any) ([]any, error)

// Func is a callable exposed to the interpreter.
type Func struct {
	Handler    Handler
	Name       string
	Params     []wit.Type
	ParamNames []string
	Results    []wit.Type
}

func (f *Func) CapabilityName() string { return f.Name }

func (f *Func) exports(*Namespace) ([]*Func, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	return []*Func{f}, nil
}

func (f *Func) validate() error {
	if f.Name == "" {
		return errors.InvalidInput(errors.PhaseRegister, "func name is empty")
	}
	if f.Handler == nil {
		return errors.InvalidInput(errors.PhaseRegister, fmt.Sprintf("func %q has no handler", f.Name))
	}
	if len(f.ParamNames) != 0 && len(f.ParamNames) != len(f.Params) {
		return errors.InvalidInput(errors.PhaseRegister,
			fmt.Sprintf("func %q: %d param names for %d params", f.Name, len(f.ParamNames), len(f.Params)))
	}
	if _, err := convert.FlattenTypes(f.Params); err != nil {
		return err
	}
	if _, err := convert.FlattenTypes(f.Results); err != nil {
		return err
	}
	return nil
}

// call lifts flat params, runs the handler and lowers its results.
func (f *Func) call(ctx context.Context, conv *convert.Converter, flat []uint64) ([]uint64, error) {
	args, err := conv.LiftAll(f.Params, flat)
	if err != nil {
		return nil, err
	}
	out, err := f.Handler(ctx, args)
	if err != nil {
		return nil, err
	}
	return conv.LowerAll(f.Results, out)
}

// Signature renders f as "name(a: s32, b: s32) -> s32".
func (f *Func) Signature() string {
	var b strings.Builder
	b.WriteString(f.Name)
	b.WriteByte('(')
	for i, p := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		if i < len(f.ParamNames) {
			b.WriteString(f.ParamNames[i])
			b.WriteString(": ")
		}
		b.WriteString(convert.TypeName(p))
	}
	b.WriteByte(')')
	switch len(f.Results) {
	case 0:
	case 1:
		b.WriteString(" -> ")
		b.WriteString(convert.TypeName(f.Results[0]))
	default:
		names := make([]string, len(f.Results))
		for i, r := range f.Results {
			names[i] = convert.TypeName(r)
		}
		b.WriteString(" -> (")
		b.WriteString(strings.Join(names, ", "))
		b.WriteByte(')')
	}
	return b.String()
}

// Method is a function on a Class instance.
type Method struct {
	Handler    func(ctx context.Context, self any, args []any) ([]any, error)
	Name       string
	Params     []wit.Type
	ParamNames []string
	Results    []wit.Type
}

// Class exposes a native type as an interpreter resource. Installing it
// exports "[constructor]name", "[method]name.m" for each method and
// "[resource-drop]name". The guest owns the handle the constructor returns;
// dropping it destroys the native object (see resource.Dropper).
type Class struct {
	New        func(ctx context.Context, args []any) (any, error)
	Name       string
	Params     []wit.Type
	ParamNames []string
	Methods    []Method
}

func (c *Class) CapabilityName() string { return c.Name }

func (c *Class) exports(ns *Namespace) ([]*Func, error) {
	if c.Name == "" {
		return nil, errors.InvalidInput(errors.PhaseRegister, "class name is empty")
	}
	if c.New == nil {
		return nil, errors.InvalidInput(errors.PhaseRegister, fmt.Sprintf("class %q has no constructor", c.Name))
	}

	objects := ns.objects
	typeID := objects.TypeID(c.Name)
	res := convert.ResourceType(c.Name)

	funcs := make([]*Func, 0, len(c.Methods)+2)
	funcs = append(funcs, &Func{
		Name:       "[constructor]" + c.Name,
		Params:     c.Params,
		ParamNames: c.ParamNames,
		Results:    []wit.Type{convert.OwnType(res)},
		Handler: func(ctx context.Context, args []any) ([]any, error) {
			obj, err := c.New(ctx, args)
			if err != nil {
				return nil, err
			}
			h, err := objects.Own(typeID, obj)
			if err != nil {
				return nil, err
			}
			return []any{h}, nil
		},
	})

	for _, m := range c.Methods {
		if m.Handler == nil {
			return nil, errors.InvalidInput(errors.PhaseRegister,
				fmt.Sprintf("method %s.%s has no handler", c.Name, m.Name))
		}
		var names []string
		if len(m.ParamNames) > 0 {
			names = append([]string{"self"}, m.ParamNames...)
		}
		funcs = append(funcs, &Func{
			Name:       "[method]" + c.Name + "." + m.Name,
			Params:     append([]wit.Type{convert.BorrowType(res)}, m.Params...),
			ParamNames: names,
			Results:    m.Results,
			Handler: func(ctx context.Context, args []any) ([]any, error) {
				self, release, err := objects.Borrow(args[0].(resource.Handle), typeID)
				if err != nil {
					return nil, err
				}
				defer release()
				return m.Handler(ctx, self, args[1:])
			},
		})
	}

	funcs = append(funcs, &Func{
		Name:   "[resource-drop]" + c.Name,
		Params: []wit.Type{convert.OwnType(res)},
		Handler: func(_ context.Context, args []any) ([]any, error) {
			return nil, objects.Drop(args[0].(resource.Handle), typeID)
		},
	})

	for _, f := range funcs {
		if err := f.validate(); err != nil {
			return nil, err
		}
	}
	return funcs, nil
}

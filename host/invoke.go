package host

import (
	"context"
	"fmt"
	"slices"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-hostext/bridge"
	"github.com/wippyai/wasm-hostext/convert"
	"github.com/wippyai/wasm-hostext/errors"
)

// Signature is the WIT view of a guest export.
type Signature struct {
	Params  []wit.Type
	Results []wit.Type
}

// CoreSignature reads a signature off a core function: i32 as s32, i64 as
// s64, f32 and f64 as themselves.
func CoreSignature(def api.FunctionDefinition) (Signature, error) {
	params, err := witTypes(def.ParamTypes())
	if err != nil {
		return Signature{}, err
	}
	results, err := witTypes(def.ResultTypes())
	if err != nil {
		return Signature{}, err
	}
	return Signature{Params: params, Results: results}, nil
}

func witTypes(vts []api.ValueType) ([]wit.Type, error) {
	out := make([]wit.Type, len(vts))
	for i, vt := range vts {
		switch vt {
		case api.ValueTypeI32:
			out[i] = wit.S32{}
		case api.ValueTypeI64:
			out[i] = wit.S64{}
		case api.ValueTypeF32:
			out[i] = wit.F32{}
		case api.ValueTypeF64:
			out[i] = wit.F64{}
		default:
			return nil, errors.Unsupported(errors.PhaseHost, "value type "+api.ValueTypeName(vt))
		}
	}
	return out, nil
}

// Invoke calls a guest export with Go values. Arguments and results cross
// the conversion boundary using the guest's memory and allocator.
func (h *Host) Invoke(ctx context.Context, mod api.Module, export string, sig Signature, args ...any) ([]any, error) {
	return bridge.Call(ctx, h.it, func(ctx context.Context) ([]any, error) {
		fn := mod.ExportedFunction(export)
		if fn == nil {
			return nil, errors.NotFound(errors.PhaseHost, "export", export)
		}
		if err := checkSignature(export, fn.Definition(), sig); err != nil {
			return nil, err
		}

		conv := convert.New(convert.WrapMemory(mod.Memory()), convert.FindAllocator(ctx, mod))
		flat, err := conv.LowerAll(sig.Params, args)
		if err != nil {
			return nil, err
		}
		res, err := fn.Call(ctx, flat...)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseHost, errors.KindTrap, err, "call "+export)
		}
		return conv.LiftAll(sig.Results, res)
	})
}

func checkSignature(export string, def api.FunctionDefinition, sig Signature) error {
	params, err := convert.FlattenTypes(sig.Params)
	if err != nil {
		return err
	}
	results, err := convert.FlattenTypes(sig.Results)
	if err != nil {
		return err
	}
	if !slices.Equal(params, def.ParamTypes()) || !slices.Equal(results, def.ResultTypes()) {
		return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Detail("%s: signature %s does not match export %s", export, sigString(params, results),
				sigString(def.ParamTypes(), def.ResultTypes())).
			Build()
	}
	return nil
}

func sigString(params, results []api.ValueType) string {
	name := func(vts []api.ValueType) []string {
		out := make([]string, len(vts))
		for i, vt := range vts {
			out[i] = api.ValueTypeName(vt)
		}
		return out
	}
	return fmt.Sprintf("%v -> %v", name(params), name(results))
}

package config

import (
	"fmt"
	"math"
	"math/big"
	"unicode/utf8"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	ctyconvert "github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-hostext/convert"
	"github.com/wippyai/wasm-hostext/errors"
	"github.com/wippyai/wasm-hostext/resource"
)

// ParseArg evaluates expr as an HCL expression and converts the result to
// the Go value the conversion boundary expects for t: int32 for s32,
// convert.Record for records, resource.Handle for handles.
//
// For string and char parameters an expression that does not evaluate is
// taken literally, so -arg world works as well as -arg '"world"'.
func ParseArg(expr string, t wit.Type) (any, error) {
	val, err := eval(expr)
	if err != nil {
		if isText(t) {
			return fromCty(cty.StringVal(expr), t, nil)
		}
		return nil, err
	}
	return fromCty(val, t, nil)
}

// ParseArgs converts one expression per parameter type.
func ParseArgs(exprs []string, ts []wit.Type) ([]any, error) {
	if len(exprs) != len(ts) {
		return nil, errors.InvalidInput(errors.PhaseConfig,
			fmt.Sprintf("got %d arguments, want %d", len(exprs), len(ts)))
	}
	out := make([]any, len(exprs))
	for i, expr := range exprs {
		v, err := ParseArg(expr, ts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func eval(expr string) (cty.Value, error) {
	e, diags := hclsyntax.ParseExpression([]byte(expr), "arg", hcl.InitialPos)
	if diags.HasErrors() {
		return cty.NilVal, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, diags,
			fmt.Sprintf("parse argument %q", expr))
	}
	val, diags := e.Value(nil)
	if diags.HasErrors() {
		return cty.NilVal, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, diags,
			fmt.Sprintf("evaluate argument %q", expr))
	}
	return val, nil
}

func isText(t wit.Type) bool {
	switch t.(type) {
	case wit.String, wit.Char:
		return true
	}
	return false
}

func fromCty(val cty.Value, t wit.Type, path []string) (any, error) {
	if val.IsNull() || !val.IsWhollyKnown() {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path(path...).
			WitType(convert.TypeName(t)).
			Detail("argument is null").
			Build()
	}

	switch t := t.(type) {
	case wit.Bool:
		var b bool
		if err := primitive(val, cty.Bool, &b, t, path); err != nil {
			return nil, err
		}
		return b, nil

	case wit.S8, wit.U8, wit.S16, wit.U16, wit.S32, wit.U32, wit.S64, wit.U64:
		return intArg(val, t, path)

	case wit.F32:
		f, err := floatArg(val, t, path)
		if err != nil {
			return nil, err
		}
		if math.Abs(f) > math.MaxFloat32 {
			return nil, errors.Overflow(errors.PhaseConfig, path, f, "f32")
		}
		return float32(f), nil

	case wit.F64:
		return floatArg(val, t, path)

	case wit.Char:
		var s string
		if err := primitive(val, cty.String, &s, t, path); err != nil {
			return nil, err
		}
		if utf8.RuneCountInString(s) != 1 {
			return nil, errors.InvalidInput(errors.PhaseConfig,
				fmt.Sprintf("char argument %q must be exactly one character", s))
		}
		r, _ := utf8.DecodeRuneInString(s)
		return r, nil

	case wit.String:
		var s string
		if err := primitive(val, cty.String, &s, t, path); err != nil {
			return nil, err
		}
		return s, nil

	case *wit.TypeDef:
		switch kind := t.Kind.(type) {
		case *wit.Record:
			return recordArg(val, t, kind, path)
		case *wit.Own, *wit.Borrow:
			n, err := intArg(val, wit.U32{}, path)
			if err != nil {
				return nil, err
			}
			return resource.Handle(n.(uint32)), nil
		case wit.Type:
			return fromCty(val, kind, path)
		}
	}
	return nil, errors.Unsupported(errors.PhaseConfig, convert.TypeName(t))
}

func primitive(val cty.Value, want cty.Type, dst any, t wit.Type, path []string) error {
	conv, err := ctyconvert.Convert(val, want)
	if err != nil {
		return mismatch(val, t, path)
	}
	if err := gocty.FromCtyValue(conv, dst); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindTypeMismatch, err,
			fmt.Sprintf("argument for %s", convert.TypeName(t)))
	}
	return nil
}

// floatArg rounds to the nearest float64.
func floatArg(val cty.Value, t wit.Type, path []string) (float64, error) {
	num, err := ctyconvert.Convert(val, cty.Number)
	if err != nil {
		return 0, mismatch(val, t, path)
	}
	f, _ := num.AsBigFloat().Float64()
	if math.IsInf(f, 0) {
		return 0, errors.Overflow(errors.PhaseConfig, path, num.AsBigFloat().String(), convert.TypeName(t))
	}
	return f, nil
}

var (
	maxU64 = new(big.Int).SetUint64(math.MaxUint64)
	zero   = big.NewInt(0)
)

func intBounds(t wit.Type) (lo, hi *big.Int) {
	switch t.(type) {
	case wit.S8:
		return big.NewInt(math.MinInt8), big.NewInt(math.MaxInt8)
	case wit.U8:
		return zero, big.NewInt(math.MaxUint8)
	case wit.S16:
		return big.NewInt(math.MinInt16), big.NewInt(math.MaxInt16)
	case wit.U16:
		return zero, big.NewInt(math.MaxUint16)
	case wit.S32:
		return big.NewInt(math.MinInt32), big.NewInt(math.MaxInt32)
	case wit.U32:
		return zero, big.NewInt(math.MaxUint32)
	case wit.S64:
		return big.NewInt(math.MinInt64), big.NewInt(math.MaxInt64)
	default:
		return zero, maxU64
	}
}

func intArg(val cty.Value, t wit.Type, path []string) (any, error) {
	num, err := ctyconvert.Convert(val, cty.Number)
	if err != nil {
		return nil, mismatch(val, t, path)
	}
	bf := num.AsBigFloat()
	if !bf.IsInt() {
		return nil, errors.New(errors.PhaseConfig, errors.KindTypeMismatch).
			Path(path...).
			WitType(convert.TypeName(t)).
			Value(bf.String()).
			Detail("%s is not a whole number", bf.String()).
			Build()
	}
	n, _ := bf.Int(nil)
	lo, hi := intBounds(t)
	if n.Cmp(lo) < 0 || n.Cmp(hi) > 0 {
		return nil, errors.Overflow(errors.PhaseConfig, path, n.String(), convert.TypeName(t))
	}

	switch t.(type) {
	case wit.S8:
		return int8(n.Int64()), nil
	case wit.U8:
		return uint8(n.Uint64()), nil
	case wit.S16:
		return int16(n.Int64()), nil
	case wit.U16:
		return uint16(n.Uint64()), nil
	case wit.S32:
		return int32(n.Int64()), nil
	case wit.U32:
		return uint32(n.Uint64()), nil
	case wit.S64:
		return n.Int64(), nil
	default:
		return n.Uint64(), nil
	}
}

func recordArg(val cty.Value, t *wit.TypeDef, rec *wit.Record, path []string) (any, error) {
	ty := val.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, mismatch(val, t, path)
	}
	attrs := val.AsValueMap()

	out := make(convert.Record, len(rec.Fields))
	for _, f := range rec.Fields {
		fv, ok := attrs[f.Name]
		if !ok {
			return nil, errors.FieldMissing(errors.PhaseConfig, path, f.Name)
		}
		v, err := fromCty(fv, f.Type, append(path[:len(path):len(path)], f.Name))
		if err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	if len(attrs) != len(rec.Fields) {
		for name := range attrs {
			if _, ok := out[name]; !ok {
				return nil, errors.FieldUnknown(errors.PhaseConfig, path, name)
			}
		}
	}
	return out, nil
}

func mismatch(val cty.Value, t wit.Type, path []string) error {
	return errors.TypeMismatch(errors.PhaseConfig, path, val.Type().FriendlyName(), convert.TypeName(t))
}

package convert

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	hostext "github.com/wippyai/wasm-hostext"
	"github.com/wippyai/wasm-hostext/errors"
)

type Memory = hostext.Memory
type Allocator = hostext.Allocator

// MemorySizer is implemented by memories that report their size.
type MemorySizer = hostext.MemorySizer

// Record is the Go form of a WIT record.
type Record map[string]any

// FlatCount returns how many stack slots t occupies.
func FlatCount(t wit.Type) (int, error) {
	switch t := t.(type) {
	case wit.Bool, wit.S8, wit.U8, wit.S16, wit.U16, wit.S32, wit.U32,
		wit.S64, wit.U64, wit.F32, wit.F64, wit.Char:
		return 1, nil
	case wit.String:
		return 2, nil
	case *wit.TypeDef:
		switch kind := t.Kind.(type) {
		case *wit.Record:
			n := 0
			for _, f := range kind.Fields {
				fc, err := FlatCount(f.Type)
				if err != nil {
					return 0, err
				}
				n += fc
			}
			return n, nil
		case *wit.Own, *wit.Borrow:
			return 1, nil
		case wit.Type:
			return FlatCount(kind)
		}
	}
	return 0, unsupported(t)
}

// ValueTypes returns the wazero core value types for t, in slot order.
func ValueTypes(t wit.Type) ([]api.ValueType, error) {
	return appendValueTypes(nil, t)
}

// FlattenTypes returns the concatenated core value types of ts.
func FlattenTypes(ts []wit.Type) ([]api.ValueType, error) {
	var out []api.ValueType
	for _, t := range ts {
		var err error
		out, err = appendValueTypes(out, t)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func appendValueTypes(dst []api.ValueType, t wit.Type) ([]api.ValueType, error) {
	switch t := t.(type) {
	case wit.Bool, wit.S8, wit.U8, wit.S16, wit.U16, wit.S32, wit.U32, wit.Char:
		return append(dst, api.ValueTypeI32), nil
	case wit.S64, wit.U64:
		return append(dst, api.ValueTypeI64), nil
	case wit.F32:
		return append(dst, api.ValueTypeF32), nil
	case wit.F64:
		return append(dst, api.ValueTypeF64), nil
	case wit.String:
		return append(dst, api.ValueTypeI32, api.ValueTypeI32), nil
	case *wit.TypeDef:
		switch kind := t.Kind.(type) {
		case *wit.Record:
			var err error
			for _, f := range kind.Fields {
				if dst, err = appendValueTypes(dst, f.Type); err != nil {
					return nil, err
				}
			}
			return dst, nil
		case *wit.Own, *wit.Borrow:
			return append(dst, api.ValueTypeI32), nil
		case wit.Type:
			return appendValueTypes(dst, kind)
		}
	}
	return nil, unsupported(t)
}

// TypeName renders t for messages and listings.
func TypeName(t wit.Type) string {
	switch v := t.(type) {
	case wit.Bool:
		return "bool"
	case wit.U8:
		return "u8"
	case wit.S8:
		return "s8"
	case wit.U16:
		return "u16"
	case wit.S16:
		return "s16"
	case wit.U32:
		return "u32"
	case wit.S32:
		return "s32"
	case wit.U64:
		return "u64"
	case wit.S64:
		return "s64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.Char:
		return "char"
	case wit.String:
		return "string"
	case *wit.TypeDef:
		if v.Name != nil {
			return *v.Name
		}
		switch kind := v.Kind.(type) {
		case *wit.Record:
			parts := make([]string, len(kind.Fields))
			for i, f := range kind.Fields {
				parts[i] = f.Name + ": " + TypeName(f.Type)
			}
			return "record { " + strings.Join(parts, ", ") + " }"
		case *wit.Own:
			return "own<" + handleTarget(kind.Type) + ">"
		case *wit.Borrow:
			return "borrow<" + handleTarget(kind.Type) + ">"
		case wit.Type:
			return TypeName(kind)
		}
		return "typedef"
	case nil:
		return "<nil>"
	}
	return fmt.Sprintf("%T", t)
}

func handleTarget(td *wit.TypeDef) string {
	if td == nil || td.Name == nil {
		return "resource"
	}
	return *td.Name
}

// RecordType builds an anonymous record type from name/type pairs.
func RecordType(fields ...wit.Field) *wit.TypeDef {
	return &wit.TypeDef{Kind: &wit.Record{Fields: fields}}
}

// ResourceType builds a named resource type.
func ResourceType(name string) *wit.TypeDef {
	return &wit.TypeDef{Name: &name, Kind: &wit.Resource{}}
}

// OwnType builds own<res>.
func OwnType(res *wit.TypeDef) *wit.TypeDef {
	return &wit.TypeDef{Kind: &wit.Own{Type: res}}
}

// BorrowType builds borrow<res>.
func BorrowType(res *wit.TypeDef) *wit.TypeDef {
	return &wit.TypeDef{Kind: &wit.Borrow{Type: res}}
}

func unsupported(t wit.Type) error {
	return errors.New(errors.PhaseConvert, errors.KindUnsupported).
		WitType(TypeName(t)).
		Detail("unsupported WIT type %T", t).
		Build()
}

// fieldName maps a Go struct field to its WIT record field name.
// Handles acronyms: UserID -> user-id, HTTPServer -> http-server
func fieldName(goName, tag string) string {
	if tag != "" {
		return tag
	}
	runes := []rune(goName)
	var b strings.Builder
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if !unicode.IsUpper(r) {
			b.WriteRune(r)
			continue
		}
		end := i + 1
		for end < len(runes) && unicode.IsUpper(runes[end]) {
			end++
		}
		// Last uppercase before lowercase starts the next word
		if end > i+1 && end < len(runes) && unicode.IsLower(runes[end]) {
			end--
		}
		if i > 0 {
			b.WriteByte('-')
		}
		for j := i; j < end; j++ {
			b.WriteRune(unicode.ToLower(runes[j]))
		}
		i = end - 1
	}
	return b.String()
}

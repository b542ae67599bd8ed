package convert

import (
	"math"
	"reflect"
	"strconv"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-hostext/errors"
	"github.com/wippyai/wasm-hostext/resource"
)

// Converter maps values across the boundary. Memory and allocator are only
// needed for strings and may be nil otherwise.
type Converter struct {
	mem   Memory
	alloc Allocator
}

// New creates a converter over interpreter memory.
func New(mem Memory, alloc Allocator) *Converter {
	return &Converter{mem: mem, alloc: alloc}
}

// Lower converts a Go value to stack slots for t.
func (c *Converter) Lower(t wit.Type, v any) ([]uint64, error) {
	n, err := FlatCount(t)
	if err != nil {
		return nil, err
	}
	flat := make([]uint64, 0, n)
	return c.lower(flat, t, v, nil)
}

// LowerAll lowers each value with its type and concatenates the slots.
func (c *Converter) LowerAll(ts []wit.Type, vs []any) ([]uint64, error) {
	if len(ts) != len(vs) {
		return nil, errors.InvalidInput(errors.PhaseConvert,
			"expected "+strconv.Itoa(len(ts))+" values, got "+strconv.Itoa(len(vs)))
	}
	var flat []uint64
	for i, t := range ts {
		var err error
		flat, err = c.lower(flat, t, vs[i], []string{strconv.Itoa(i)})
		if err != nil {
			return nil, err
		}
	}
	return flat, nil
}

func (c *Converter) lower(dst []uint64, t wit.Type, v any, path []string) ([]uint64, error) {
	switch t := t.(type) {
	case wit.Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch(path, v, t)
		}
		if b {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil

	case wit.S8, wit.U8, wit.S16, wit.U16, wit.S32, wit.U32, wit.S64, wit.U64:
		slot, err := lowerInt(t, v, path)
		if err != nil {
			return nil, err
		}
		return append(dst, slot), nil

	case wit.F32:
		switch f := v.(type) {
		case float32:
			return append(dst, api.EncodeF32(f)), nil
		case float64:
			f32 := float32(f)
			if !math.IsNaN(f) && float64(f32) != f {
				return nil, errors.Overflow(errors.PhaseConvert, path, f, "f32")
			}
			return append(dst, api.EncodeF32(f32)), nil
		}
		return nil, mismatch(path, v, t)

	case wit.F64:
		switch f := v.(type) {
		case float32:
			return append(dst, api.EncodeF64(float64(f))), nil
		case float64:
			return append(dst, api.EncodeF64(f)), nil
		}
		return nil, mismatch(path, v, t)

	case wit.Char:
		r, ok := v.(rune)
		if !ok {
			return nil, mismatch(path, v, t)
		}
		if !utf8.ValidRune(r) {
			return nil, errors.New(errors.PhaseConvert, errors.KindInvalidUTF8).
				Path(path...).
				Value(r).
				Detail("%U is not a Unicode scalar value", r).
				Build()
		}
		return append(dst, api.EncodeU32(uint32(r))), nil

	case wit.String:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(path, v, t)
		}
		ptr, n, err := c.lowerString(s, path)
		if err != nil {
			return nil, err
		}
		return append(dst, api.EncodeU32(ptr), api.EncodeU32(n)), nil

	case *wit.TypeDef:
		switch kind := t.Kind.(type) {
		case *wit.Record:
			return c.lowerRecord(dst, t, kind, v, path)
		case *wit.Own, *wit.Borrow:
			h, err := lowerHandle(t, v, path)
			if err != nil {
				return nil, err
			}
			return append(dst, api.EncodeU32(uint32(h))), nil
		case wit.Type:
			return c.lower(dst, kind, v, path)
		}
	}
	return nil, unsupported(t)
}

// intBounds returns the magnitude limits for negative and positive values.
func intBounds(t wit.Type) (negMax, posMax uint64) {
	switch t.(type) {
	case wit.S8:
		return 1 << 7, 1<<7 - 1
	case wit.S16:
		return 1 << 15, 1<<15 - 1
	case wit.S32:
		return 1 << 31, 1<<31 - 1
	case wit.S64:
		return 1 << 63, 1<<63 - 1
	case wit.U8:
		return 0, math.MaxUint8
	case wit.U16:
		return 0, math.MaxUint16
	case wit.U32:
		return 0, math.MaxUint32
	}
	return 0, math.MaxUint64
}

func lowerInt(t wit.Type, v any, path []string) (uint64, error) {
	rv := reflect.ValueOf(v)
	var neg bool
	var mag uint64

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		if n < 0 {
			neg = true
			mag = uint64(-(n + 1)) + 1
		} else {
			mag = uint64(n)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		mag = rv.Uint()
	default:
		return 0, mismatch(path, v, t)
	}

	negMax, posMax := intBounds(t)
	if (neg && mag > negMax) || (!neg && mag > posMax) {
		return 0, errors.Overflow(errors.PhaseConvert, path, v, TypeName(t))
	}

	switch t.(type) {
	case wit.S8, wit.S16, wit.S32:
		n := int64(mag)
		if neg {
			n = -n
		}
		return api.EncodeI32(int32(n)), nil
	case wit.U8, wit.U16, wit.U32:
		return api.EncodeU32(uint32(mag)), nil
	case wit.S64:
		n := int64(mag)
		if neg {
			n = -n
		}
		return uint64(n), nil
	}
	return mag, nil
}

func (c *Converter) lowerString(s string, path []string) (uint32, uint32, error) {
	if !utf8.ValidString(s) {
		return 0, 0, errors.InvalidUTF8(errors.PhaseConvert, path, []byte(s))
	}
	if uint64(len(s)) > math.MaxUint32 {
		return 0, 0, errors.Overflow(errors.PhaseConvert, path, len(s), "string length")
	}
	if len(s) == 0 {
		return 0, 0, nil
	}
	if c.mem == nil || c.alloc == nil {
		return 0, 0, errors.New(errors.PhaseConvert, errors.KindAllocation).
			Path(path...).
			Detail("string requires interpreter memory").
			Build()
	}

	n := uint32(len(s))
	ptr, err := c.alloc.Alloc(n, 1)
	if err != nil {
		return 0, 0, errors.AllocationFailed(errors.PhaseConvert, n, 1, err)
	}
	if err := c.mem.Write(ptr, []byte(s)); err != nil {
		c.alloc.Free(ptr, n, 1)
		return 0, 0, errors.New(errors.PhaseConvert, errors.KindOutOfBounds).
			Path(path...).
			Cause(err).
			Build()
	}
	return ptr, n, nil
}

func (c *Converter) lowerRecord(dst []uint64, t *wit.TypeDef, r *wit.Record, v any, path []string) ([]uint64, error) {
	fields, err := recordFields(t, r, v, path)
	if err != nil {
		return nil, err
	}
	for _, f := range r.Fields {
		dst, err = c.lower(dst, f.Type, fields[f.Name], subPath(path, f.Name))
		if err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// recordFields normalizes a record value to a field map and checks it
// against the record's field set.
func recordFields(t *wit.TypeDef, r *wit.Record, v any, path []string) (map[string]any, error) {
	var fields map[string]any
	switch rv := v.(type) {
	case Record:
		fields = rv
	case map[string]any:
		fields = rv
	default:
		val := reflect.ValueOf(v)
		if val.Kind() == reflect.Pointer && !val.IsNil() {
			val = val.Elem()
		}
		if val.Kind() != reflect.Struct {
			return nil, mismatch(path, v, t)
		}
		fields = make(map[string]any, val.NumField())
		typ := val.Type()
		for i := 0; i < typ.NumField(); i++ {
			sf := typ.Field(i)
			if !sf.IsExported() || sf.Tag.Get("wit") == "-" {
				continue
			}
			fields[fieldName(sf.Name, sf.Tag.Get("wit"))] = val.Field(i).Interface()
		}
	}

	known := make(map[string]struct{}, len(r.Fields))
	for _, f := range r.Fields {
		known[f.Name] = struct{}{}
		if _, ok := fields[f.Name]; !ok {
			return nil, errors.FieldMissing(errors.PhaseConvert, path, f.Name)
		}
	}
	if len(fields) != len(known) {
		for name := range fields {
			if _, ok := known[name]; !ok {
				return nil, errors.FieldUnknown(errors.PhaseConvert, path, name)
			}
		}
	}
	return fields, nil
}

func lowerHandle(t wit.Type, v any, path []string) (resource.Handle, error) {
	var h resource.Handle
	switch hv := v.(type) {
	case resource.Handle:
		h = hv
	case uint32:
		h = resource.Handle(hv)
	default:
		return 0, mismatch(path, v, t)
	}
	if h == 0 {
		return 0, errors.New(errors.PhaseConvert, errors.KindInvalidInput).
			Path(path...).
			WitType(TypeName(t)).
			Detail("handle 0 is invalid").
			Build()
	}
	return h, nil
}

func subPath(path []string, name string) []string {
	p := make([]string, len(path), len(path)+1)
	copy(p, path)
	return append(p, name)
}

func mismatch(path []string, v any, t wit.Type) error {
	goType := "<nil>"
	if v != nil {
		goType = reflect.TypeOf(v).String()
	}
	return errors.TypeMismatch(errors.PhaseConvert, path, goType, TypeName(t))
}

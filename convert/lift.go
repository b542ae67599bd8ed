package convert

import (
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-hostext/errors"
	"github.com/wippyai/wasm-hostext/resource"
)

// Lift converts stack slots for t back to a Go value.
func (c *Converter) Lift(t wit.Type, flat []uint64) (any, error) {
	v, n, err := c.lift(t, flat, nil)
	if err != nil {
		return nil, err
	}
	if n != len(flat) {
		return nil, errors.New(errors.PhaseConvert, errors.KindInvalidInput).
			WitType(TypeName(t)).
			Detail("%d slots left over", len(flat)-n).
			Build()
	}
	return v, nil
}

// LiftAll lifts consecutive values of ts from flat.
func (c *Converter) LiftAll(ts []wit.Type, flat []uint64) ([]any, error) {
	out := make([]any, len(ts))
	offset := 0
	for i, t := range ts {
		v, n, err := c.lift(t, flat[offset:], []string{strconv.Itoa(i)})
		if err != nil {
			return nil, err
		}
		out[i] = v
		offset += n
	}
	if offset != len(flat) {
		return nil, errors.InvalidInput(errors.PhaseConvert,
			strconv.Itoa(len(flat)-offset)+" slots left over")
	}
	return out, nil
}

func (c *Converter) lift(t wit.Type, flat []uint64, path []string) (any, int, error) {
	need, err := FlatCount(t)
	if err != nil {
		return nil, 0, err
	}
	if len(flat) < need {
		return nil, 0, errors.New(errors.PhaseConvert, errors.KindOutOfBounds).
			Path(path...).
			WitType(TypeName(t)).
			Detail("need %d slots, have %d", need, len(flat)).
			Build()
	}

	switch t := t.(type) {
	case wit.Bool:
		return api.DecodeU32(flat[0]) != 0, 1, nil

	case wit.S8:
		n := api.DecodeI32(flat[0])
		if n < math.MinInt8 || n > math.MaxInt8 {
			return nil, 0, errors.Overflow(errors.PhaseConvert, path, n, "s8")
		}
		return int8(n), 1, nil

	case wit.U8:
		n := api.DecodeU32(flat[0])
		if n > math.MaxUint8 {
			return nil, 0, errors.Overflow(errors.PhaseConvert, path, n, "u8")
		}
		return uint8(n), 1, nil

	case wit.S16:
		n := api.DecodeI32(flat[0])
		if n < math.MinInt16 || n > math.MaxInt16 {
			return nil, 0, errors.Overflow(errors.PhaseConvert, path, n, "s16")
		}
		return int16(n), 1, nil

	case wit.U16:
		n := api.DecodeU32(flat[0])
		if n > math.MaxUint16 {
			return nil, 0, errors.Overflow(errors.PhaseConvert, path, n, "u16")
		}
		return uint16(n), 1, nil

	case wit.S32:
		return api.DecodeI32(flat[0]), 1, nil

	case wit.U32:
		return api.DecodeU32(flat[0]), 1, nil

	case wit.S64:
		return int64(flat[0]), 1, nil

	case wit.U64:
		return flat[0], 1, nil

	case wit.F32:
		return api.DecodeF32(flat[0]), 1, nil

	case wit.F64:
		return api.DecodeF64(flat[0]), 1, nil

	case wit.Char:
		r := rune(api.DecodeU32(flat[0]))
		if !utf8.ValidRune(r) {
			return nil, 0, errors.New(errors.PhaseConvert, errors.KindInvalidUTF8).
				Path(path...).
				Value(api.DecodeU32(flat[0])).
				Detail("%#x is not a Unicode scalar value", api.DecodeU32(flat[0])).
				Build()
		}
		return r, 1, nil

	case wit.String:
		s, err := c.liftString(api.DecodeU32(flat[0]), api.DecodeU32(flat[1]), path)
		if err != nil {
			return nil, 0, err
		}
		return s, 2, nil

	case *wit.TypeDef:
		switch kind := t.Kind.(type) {
		case *wit.Record:
			rec := make(Record, len(kind.Fields))
			offset := 0
			for _, f := range kind.Fields {
				v, n, err := c.lift(f.Type, flat[offset:], subPath(path, f.Name))
				if err != nil {
					return nil, 0, err
				}
				rec[f.Name] = v
				offset += n
			}
			return rec, offset, nil
		case *wit.Own, *wit.Borrow:
			h := resource.Handle(api.DecodeU32(flat[0]))
			if h == 0 {
				return nil, 0, errors.New(errors.PhaseConvert, errors.KindInvalidInput).
					Path(path...).
					WitType(TypeName(t)).
					Detail("handle 0 is invalid").
					Build()
			}
			return h, 1, nil
		case wit.Type:
			return c.lift(kind, flat, path)
		}
	}
	return nil, 0, unsupported(t)
}

func (c *Converter) liftString(ptr, n uint32, path []string) (string, error) {
	if n == 0 {
		return "", nil
	}
	if c.mem == nil {
		return "", errors.New(errors.PhaseConvert, errors.KindOutOfBounds).
			Path(path...).
			Detail("string requires interpreter memory").
			Build()
	}
	if uint64(ptr)+uint64(n) > math.MaxUint32 {
		return "", errors.OutOfBounds(errors.PhaseConvert, path, ptr, n)
	}
	data, err := c.mem.Read(ptr, n)
	if err != nil {
		return "", errors.New(errors.PhaseConvert, errors.KindOutOfBounds).
			Path(path...).
			Cause(err).
			Build()
	}
	if !utf8.Valid(data) {
		return "", errors.InvalidUTF8(errors.PhaseConvert, path, data)
	}
	// Memory views alias interpreter memory; copy before it can change.
	return string(data), nil
}

// Package convert is the boundary between native Go values and their
// interpreter-side representation.
//
// The interpreter represents values as flat stack slots (uint64, one per
// core value) plus linear memory for variable-size data. Types are WIT types
// from go.bytecodealliance.org/wit:
//
//	c := convert.New(mem, alloc)
//
//	flat, err := c.Lower(wit.S32{}, 42)   // Go -> interpreter
//	v, err := c.Lift(wit.S32{}, flat)      // interpreter -> Go, v == int32(42)
//
// # Supported Types
//
//	bool, s8..s64, u8..u64, f32, f64, char, string
//	record        (Record, map[string]any, or a struct when lowering)
//	own<T>        resource.Handle
//	borrow<T>     resource.Handle
//
// # Guarantees
//
// Lowering accepts any Go integer kind and checks the target range. A value
// that does not fit is a KindOverflow error, never truncated. A float64 that
// loses precision as f32 is also KindOverflow. Strings must be valid UTF-8
// in both directions (KindInvalidUTF8). Lifting a narrow integer whose slot
// holds an out-of-range value is KindOverflow as well.
//
// Lift returns the exact Go type for each WIT type: int8 for s8, uint32 for
// u32, rune for char, Record for records, and so on. Lowering that result
// again yields the same slots.
//
// # Memory
//
// Strings need interpreter memory. GuestMemory and GuestAllocator adapt a
// wazero module; LinearMemory is an in-process implementation used when no
// guest is involved.
package convert

package codec

import "github.com/canonabi/cabihost/abi"

// FlatVal is one core WebAssembly value in a flattened parameter or
// result list. Bits always holds the value's raw bit pattern regardless
// of Kind, so widening/narrowing between the i32/i64/f32/f64 slot kinds
// is a matter of reinterpreting Bits, never a numeric conversion.
type FlatVal struct {
	Kind abi.FlatKind
	Bits uint64
}

func FlatI32(v uint32) FlatVal { return FlatVal{Kind: abi.FlatI32, Bits: uint64(v)} }
func FlatI64(v uint64) FlatVal { return FlatVal{Kind: abi.FlatI64, Bits: v} }
func FlatF32(bits uint32) FlatVal { return FlatVal{Kind: abi.FlatF32, Bits: uint64(bits)} }
func FlatF64(bits uint64) FlatVal { return FlatVal{Kind: abi.FlatF64, Bits: bits} }

// WidenTo implements the variant flat-join widening rule from spec.md
// section 4.3: f32 into an i32 slot is a bit-reinterpret, i32 into an
// i64 slot zero-extends, f64 into an i64 slot bit-reinterprets, and a
// narrower-than-i64 float widens the same way composed through i32.
func WidenTo(v FlatVal, join abi.FlatKind) FlatVal {
	if v.Kind == join {
		return v
	}
	switch join {
	case abi.FlatI32:
		return FlatVal{Kind: abi.FlatI32, Bits: v.Bits & 0xFFFF_FFFF}
	case abi.FlatI64:
		return FlatVal{Kind: abi.FlatI64, Bits: v.Bits}
	default:
		return FlatVal{Kind: join, Bits: v.Bits}
	}
}

// CoerceFrom is WidenTo's inverse: given a value already in its joined
// slot kind, reinterpret it as the case's actual want kind. This is the
// "coerce iterator" spec.md section 4.3 describes for lifting.
func CoerceFrom(v FlatVal, want abi.FlatKind) FlatVal {
	if v.Kind == want {
		return v
	}
	switch want {
	case abi.FlatI32, abi.FlatF32:
		return FlatVal{Kind: want, Bits: v.Bits & 0xFFFF_FFFF}
	default:
		return FlatVal{Kind: want, Bits: v.Bits}
	}
}

// FlatWriter accumulates the flat slot sequence lower_flat emits.
type FlatWriter struct {
	vals []FlatVal
}

// Emit appends v verbatim.
func (w *FlatWriter) Emit(v FlatVal) {
	w.vals = append(w.vals, v)
}

// EmitJoined widens v to join's kind before appending, for variant
// payload slots.
func (w *FlatWriter) EmitJoined(v FlatVal, join abi.FlatKind) {
	w.Emit(WidenTo(v, join))
}

// Pad emits a zero value of the given kind, for a case shorter than the
// variant's joined flat shape.
func (w *FlatWriter) Pad(join abi.FlatKind) {
	w.Emit(FlatVal{Kind: join})
}

// Values returns the accumulated slot sequence.
func (w *FlatWriter) Values() []FlatVal {
	return w.vals
}

// FlatReader is the pull-iterator lift_flat consumes incoming flat
// slots from.
type FlatReader struct {
	vals []FlatVal
	pos  int
}

// NewFlatReader wraps vals for sequential consumption.
func NewFlatReader(vals []FlatVal) *FlatReader {
	return &FlatReader{vals: vals}
}

// Next returns the next slot verbatim.
func (r *FlatReader) Next() (FlatVal, bool) {
	if r.pos >= len(r.vals) {
		return FlatVal{}, false
	}
	v := r.vals[r.pos]
	r.pos++
	return v, true
}

// NextAs reads the next slot and coerces it to want's kind, for a
// variant case narrower than the joined flat shape.
func (r *FlatReader) NextAs(want abi.FlatKind) (FlatVal, bool) {
	v, ok := r.Next()
	if !ok {
		return FlatVal{}, false
	}
	return CoerceFrom(v, want), true
}

// Remaining reports how many slots are left unconsumed.
func (r *FlatReader) Remaining() int {
	return len(r.vals) - r.pos
}

package codec

import (
	"math"
	"testing"

	"github.com/canonabi/cabihost/abi"
)

func TestStoreLoadPrimitivesRoundTrip(t *testing.T) {
	ctx, _ := newTestContext(EncodingUTF8)
	enc := NewEncoder(ctx)
	dec := NewDecoder(ctx)

	tests := []struct {
		d *abi.Descriptor
		v any
	}{
		{abi.Bool(), true},
		{abi.U8(), byte(200)},
		{abi.S8(), int8(-5)},
		{abi.U32(), uint32(123456)},
		{abi.S64(), int64(-99)},
		{abi.F32(), float32(3.5)},
		{abi.F64(), float64(2.25)},
		{abi.Char(), rune('Z')},
	}
	for _, tt := range tests {
		enc.Store(tt.d, tt.v, 0)
		got := dec.Load(tt.d, 0)
		if got != tt.v {
			t.Errorf("round trip %v: got %v, want %v", tt.d.Kind, got, tt.v)
		}
	}
}

func TestStoreLoadNaNCanonicalizes(t *testing.T) {
	ctx, _ := newTestContext(EncodingUTF8)
	enc := NewEncoder(ctx)
	dec := NewDecoder(ctx)

	nonCanonical := math.Float32frombits(0x7FA00001)
	enc.Store(abi.F32(), nonCanonical, 0)
	got := dec.Load(abi.F32(), 0).(float32)
	if math.Float32bits(got) != 0x7FC00000 {
		t.Fatalf("loaded NaN bits = %#x, want canonical 0x7FC00000", math.Float32bits(got))
	}
}

func TestStoreLoadRecord(t *testing.T) {
	ctx, _ := newTestContext(EncodingUTF8)
	enc := NewEncoder(ctx)
	dec := NewDecoder(ctx)

	rec := abi.Record(
		abi.Field{Name: "a", Type: abi.U8()},
		abi.Field{Name: "b", Type: abi.U32()},
	)
	enc.Store(rec, []any{byte(9), uint32(777)}, 0)
	got := dec.Load(rec, 0).([]any)
	if got[0] != byte(9) || got[1] != uint32(777) {
		t.Fatalf("record round trip = %v", got)
	}
}

func TestStoreLoadVariantBothCases(t *testing.T) {
	ctx, _ := newTestContext(EncodingUTF8)
	enc := NewEncoder(ctx)
	dec := NewDecoder(ctx)

	v := abi.Variant(abi.Case{Name: "ok", Type: abi.U32()}, abi.Case{Name: "err", Type: abi.U32()})

	enc.Store(v, Variant{Case: 0, Val: uint32(5)}, 0)
	got := dec.Load(v, 0).(Variant)
	if got.Case != 0 || got.Val != uint32(5) {
		t.Fatalf("variant case 0 round trip = %+v", got)
	}

	enc.Store(v, Variant{Case: 1, Val: uint32(6)}, 0)
	got = dec.Load(v, 0).(Variant)
	if got.Case != 1 || got.Val != uint32(6) {
		t.Fatalf("variant case 1 round trip = %+v", got)
	}
}

func TestStoreLoadListAllocatesAndRoundTrips(t *testing.T) {
	ctx, _ := newTestContext(EncodingUTF8)
	enc := NewEncoder(ctx)
	dec := NewDecoder(ctx)

	list := abi.List(abi.U32())
	ptr := enc.Lower(list, []any{uint32(1), uint32(2), uint32(3)})
	got := dec.Load(list, ptr).([]any)
	if len(got) != 3 || got[1] != uint32(2) {
		t.Fatalf("list round trip = %v", got)
	}
}

func TestStoreLoadStringUTF8RoundTrips(t *testing.T) {
	ctx, _ := newTestContext(EncodingUTF8)
	enc := NewEncoder(ctx)
	dec := NewDecoder(ctx)

	ptr := enc.Lower(abi.String(), "hello, world")
	got := dec.Load(abi.String(), ptr).(string)
	if got != "hello, world" {
		t.Fatalf("string round trip = %q", got)
	}
}

func TestStoreLoadEnumAndFlags(t *testing.T) {
	ctx, _ := newTestContext(EncodingUTF8)
	enc := NewEncoder(ctx)
	dec := NewDecoder(ctx)

	en := abi.Enum("red", "green", "blue")
	enc.Store(en, uint32(2), 0)
	if got := dec.Load(en, 0).(uint32); got != 2 {
		t.Fatalf("enum round trip = %d, want 2", got)
	}

	fl := abi.Flags("a", "b", "c")
	enc.Store(fl, uint64(0b101), 0)
	if got := dec.Load(fl, 0).(uint64); got != 0b101 {
		t.Fatalf("flags round trip = %b, want 101", got)
	}
}

package abi

import "testing"

func TestPrimitiveSizes(t *testing.T) {
	tests := []struct {
		d     *Descriptor
		name  string
		size  uint32
		align uint32
	}{
		{Bool(), "bool", 1, 1},
		{U8(), "u8", 1, 1},
		{S8(), "s8", 1, 1},
		{U16(), "u16", 2, 2},
		{S16(), "s16", 2, 2},
		{U32(), "u32", 4, 4},
		{S32(), "s32", 4, 4},
		{U64(), "u64", 8, 8},
		{S64(), "s64", 8, 8},
		{F32(), "f32", 4, 4},
		{F64(), "f64", 8, 8},
		{Char(), "char", 4, 4},
		{String(), "string", 8, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.d.Size != tt.size {
				t.Errorf("Size = %d, want %d", tt.d.Size, tt.size)
			}
			if tt.d.Align != tt.align {
				t.Errorf("Align = %d, want %d", tt.d.Align, tt.align)
			}
		})
	}
}

func TestRecordLayout(t *testing.T) {
	// record { a: u8, b: u32, c: u8 } -> offsets 0, 4, 8; size 12, align 4
	rec := Record(
		Field{Name: "a", Type: U8()},
		Field{Name: "b", Type: U32()},
		Field{Name: "c", Type: U8()},
	)
	if rec.Align != 4 {
		t.Fatalf("align = %d, want 4", rec.Align)
	}
	if rec.Size != 12 {
		t.Fatalf("size = %d, want 12", rec.Size)
	}
	wantOffsets := []uint32{0, 4, 8}
	for i, f := range rec.Fields {
		if f.Offset != wantOffsets[i] {
			t.Errorf("field %d offset = %d, want %d", i, f.Offset, wantOffsets[i])
		}
	}
}

func TestVariantDiscriminantWidth(t *testing.T) {
	tests := []struct {
		name     string
		numCases int
		want     uint32
	}{
		{"tiny", 2, 1},
		{"byte-max", 256, 1},
		{"needs-two-bytes", 257, 2},
		{"word-max", 65536, 2},
		{"needs-four-bytes", 65537, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DiscriminantSize(tt.numCases); got != tt.want {
				t.Errorf("DiscriminantSize(%d) = %d, want %d", tt.numCases, got, tt.want)
			}
		})
	}
}

func TestVariantFlatJoin(t *testing.T) {
	// variant { ok(f32), err(u32) }: discriminant i32, payload join(f32,i32) = i32
	v := Variant(Case{Name: "ok", Type: F32()}, Case{Name: "err", Type: U32()})
	if len(v.Flat) != 2 {
		t.Fatalf("flat len = %d, want 2", len(v.Flat))
	}
	if v.Flat[0] != FlatI32 {
		t.Errorf("discriminant slot = %s, want i32", v.Flat[0])
	}
	if v.Flat[1] != FlatI32 {
		t.Errorf("joined payload slot = %s, want i32 (f32<>i32 widen)", v.Flat[1])
	}
}

func TestVariantFlatJoinMismatchWidensToI64(t *testing.T) {
	v := Variant(Case{Name: "a", Type: U64()}, Case{Name: "b", Type: F32()})
	if v.Flat[1] != FlatI64 {
		t.Errorf("joined slot = %s, want i64 (u64<>f32 widen)", v.Flat[1])
	}
}

func TestOptionIsVariantShaped(t *testing.T) {
	o := Option(U32())
	if o.Kind != KindOption {
		t.Fatalf("kind = %s, want option", o.Kind)
	}
	// none, some(u32): discriminant(1 byte) aligned up to 4, + u32 payload = 8, align 4
	if o.Align != 4 || o.Size != 8 {
		t.Errorf("size/align = %d/%d, want 8/4", o.Size, o.Align)
	}
}

func TestResultDistinctFromUnitRecord(t *testing.T) {
	okOnly := Result(U32(), nil)
	errOnly := Result(nil, U32())
	bothUnit := Result(nil, nil)

	if okOnly.Kind != KindResult || errOnly.Kind != KindResult || bothUnit.Kind != KindResult {
		t.Fatal("Result() must report KindResult regardless of which side is unit")
	}
	if len(okOnly.Cases) != 2 || len(errOnly.Cases) != 2 {
		t.Fatal("result must keep both cases even when one side carries no payload")
	}
}

func TestFlagsWidth(t *testing.T) {
	tests := []struct {
		name   string
		labels int
		size   uint32
	}{
		{"up-to-8", 5, 1},
		{"up-to-16", 16, 2},
		{"up-to-32", 32, 4},
		{"needs-two-words", 40, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			labels := make([]string, tt.labels)
			for i := range labels {
				labels[i] = "f"
			}
			f := Flags(labels...)
			if f.Size != tt.size {
				t.Errorf("size = %d, want %d", f.Size, tt.size)
			}
		})
	}
}

func TestListAndHandleShapes(t *testing.T) {
	l := List(U8())
	if l.Size != 8 || l.Align != 4 || len(l.Flat) != 2 {
		t.Errorf("list shape wrong: size=%d align=%d flat=%v", l.Size, l.Align, l.Flat)
	}

	own := Own(7)
	if own.Kind != KindOwn || own.TypeID != 7 || own.Size != 4 {
		t.Errorf("own handle shape wrong: %+v", own)
	}

	borrow := Borrow(9)
	if borrow.Kind != KindBorrow || borrow.TypeID != 9 {
		t.Errorf("borrow handle shape wrong: %+v", borrow)
	}
}

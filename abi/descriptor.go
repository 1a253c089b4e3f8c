package abi

// Field describes one record or tuple field. Name is empty for tuple
// elements (tuples are unlabeled).
type Field struct {
	Type   *Descriptor
	Name   string
	Offset uint32
}

// Case describes one variant or enum case. Type is nil for enum cases
// and for variant cases with no payload (spec's result<_,_> etc.).
type Case struct {
	Type *Descriptor
	Name string
}

// Descriptor is the compile-time-known shape of a single Canonical ABI
// type: byte size, alignment, and the ordered flat-slot sequence used on
// the core function boundary, plus whatever kind-specific structure
// (fields, cases, element type) the codec needs to recurse.
type Descriptor struct {
	Elem      *Descriptor // list/option element
	Fields    []Field     // record/tuple
	Cases     []Case      // variant/enum; result is modeled as a 2-case variant (ok, err)
	Flat      []FlatKind
	Kind      Kind
	Size      uint32
	Align     uint32
	NumLabels int    // flags
	TypeID    uint32 // own/borrow: stable id of the referenced resource type
}

// AlignTo rounds offset up to the next multiple of align. align must be
// a power of two; align==0 is treated as 1.
func AlignTo(offset, align uint32) uint32 {
	if align <= 1 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}

// DiscriminantSize returns the byte width of a variant/enum discriminant
// for the given case count, per spec section 4.1: 1 byte for <=256
// cases, 2 for <=65536, 4 otherwise.
func DiscriminantSize(numCases int) uint32 {
	switch {
	case numCases <= 1<<8:
		return 1
	case numCases <= 1<<16:
		return 2
	default:
		return 4
	}
}

func discriminantFlat(numCases int) FlatKind {
	if DiscriminantSize(numCases) <= 4 {
		return FlatI32
	}
	return FlatI32 // discriminants never exceed 32 bits per the Canonical ABI
}

var primitiveDescriptors = map[Kind]*Descriptor{
	KindBool:   {Kind: KindBool, Size: 1, Align: 1, Flat: []FlatKind{FlatI32}},
	KindU8:     {Kind: KindU8, Size: 1, Align: 1, Flat: []FlatKind{FlatI32}},
	KindS8:     {Kind: KindS8, Size: 1, Align: 1, Flat: []FlatKind{FlatI32}},
	KindU16:    {Kind: KindU16, Size: 2, Align: 2, Flat: []FlatKind{FlatI32}},
	KindS16:    {Kind: KindS16, Size: 2, Align: 2, Flat: []FlatKind{FlatI32}},
	KindU32:    {Kind: KindU32, Size: 4, Align: 4, Flat: []FlatKind{FlatI32}},
	KindS32:    {Kind: KindS32, Size: 4, Align: 4, Flat: []FlatKind{FlatI32}},
	KindU64:    {Kind: KindU64, Size: 8, Align: 8, Flat: []FlatKind{FlatI64}},
	KindS64:    {Kind: KindS64, Size: 8, Align: 8, Flat: []FlatKind{FlatI64}},
	KindF32:    {Kind: KindF32, Size: 4, Align: 4, Flat: []FlatKind{FlatF32}},
	KindF64:    {Kind: KindF64, Size: 8, Align: 8, Flat: []FlatKind{FlatF64}},
	KindChar:   {Kind: KindChar, Size: 4, Align: 4, Flat: []FlatKind{FlatI32}},
	KindString: {Kind: KindString, Size: 8, Align: 4, Flat: []FlatKind{FlatI32, FlatI32}},
}

func Bool() *Descriptor   { return primitiveDescriptors[KindBool] }
func U8() *Descriptor     { return primitiveDescriptors[KindU8] }
func S8() *Descriptor     { return primitiveDescriptors[KindS8] }
func U16() *Descriptor    { return primitiveDescriptors[KindU16] }
func S16() *Descriptor    { return primitiveDescriptors[KindS16] }
func U32() *Descriptor    { return primitiveDescriptors[KindU32] }
func S32() *Descriptor    { return primitiveDescriptors[KindS32] }
func U64() *Descriptor    { return primitiveDescriptors[KindU64] }
func S64() *Descriptor    { return primitiveDescriptors[KindS64] }
func F32() *Descriptor    { return primitiveDescriptors[KindF32] }
func F64() *Descriptor    { return primitiveDescriptors[KindF64] }
func Char() *Descriptor   { return primitiveDescriptors[KindChar] }
func String() *Descriptor { return primitiveDescriptors[KindString] }

// List builds a list<elem> descriptor: {ptr: i32, len: i32}, size 8 align 4.
func List(elem *Descriptor) *Descriptor {
	return &Descriptor{Kind: KindList, Elem: elem, Size: 8, Align: 4, Flat: []FlatKind{FlatI32, FlatI32}}
}

// Tuple builds a tuple descriptor: fields laid out back to back, each at
// its own alignment, overall size rounded up to the max field alignment.
func Tuple(elems ...*Descriptor) *Descriptor {
	fields := make([]Field, len(elems))
	for i, e := range elems {
		fields[i] = Field{Type: e}
	}
	return record(KindTuple, fields)
}

// Record builds a record descriptor from named fields in declaration order.
func Record(fields ...Field) *Descriptor {
	return record(KindRecord, fields)
}

func record(kind Kind, fields []Field) *Descriptor {
	if len(fields) == 0 {
		return &Descriptor{Kind: kind, Size: 0, Align: 1}
	}
	maxAlign := uint32(1)
	offset := uint32(0)
	var flat []FlatKind
	out := make([]Field, len(fields))
	for i, f := range fields {
		offset = AlignTo(offset, f.Type.Align)
		out[i] = Field{Type: f.Type, Name: f.Name, Offset: offset}
		if f.Type.Align > maxAlign {
			maxAlign = f.Type.Align
		}
		offset += f.Type.Size
		flat = append(flat, f.Type.Flat...)
	}
	size := AlignTo(offset, maxAlign)
	return &Descriptor{Kind: kind, Fields: out, Size: size, Align: maxAlign, Flat: flat}
}

// Variant builds a variant<case0, case1, ...> descriptor. The discriminant
// occupies DiscriminantSize(len(cases)) bytes; the payload region is sized
// to the largest case and aligned to the strictest case alignment; the
// flat layout is [discriminant, join(case flats)...] per spec section 4.1.
func Variant(cases ...Case) *Descriptor {
	discSize := DiscriminantSize(len(cases))
	maxAlign := discSize
	maxSize := uint32(0)
	var joined []FlatKind
	for _, c := range cases {
		if c.Type == nil {
			continue
		}
		if c.Type.Align > maxAlign {
			maxAlign = c.Type.Align
		}
		if c.Type.Size > maxSize {
			maxSize = c.Type.Size
		}
		joined = joinFlats(joined, c.Type.Flat)
	}
	payloadOffset := AlignTo(discSize, maxAlign)
	size := AlignTo(payloadOffset+maxSize, maxAlign)
	flat := append([]FlatKind{discriminantFlat(len(cases))}, joined...)
	return &Descriptor{Kind: KindVariant, Cases: append([]Case(nil), cases...), Size: size, Align: maxAlign, Flat: flat}
}

// joinFlats widens dst in place against src per JoinFlat, padding either
// side with implicit zero slots when shorter (spec section 4.3: "missing
// trailing slots are padded with zero").
func joinFlats(dst, src []FlatKind) []FlatKind {
	n := len(dst)
	if len(src) > n {
		n = len(src)
	}
	out := make([]FlatKind, n)
	for i := 0; i < n; i++ {
		switch {
		case i < len(dst) && i < len(src):
			out[i] = JoinFlat(dst[i], src[i])
		case i < len(dst):
			out[i] = dst[i]
		default:
			out[i] = src[i]
		}
	}
	return out
}

// Enum builds an enum descriptor: a discriminant with no payload.
func Enum(labels ...string) *Descriptor {
	size := DiscriminantSize(len(labels))
	cases := make([]Case, len(labels))
	for i, l := range labels {
		cases[i] = Case{Name: l}
	}
	return &Descriptor{Kind: KindEnum, Cases: cases, Size: size, Align: size, Flat: []FlatKind{FlatI32}}
}

// Option builds option<t> = variant{none, some(t)}.
func Option(t *Descriptor) *Descriptor {
	d := Variant(Case{Name: "none"}, Case{Name: "some", Type: t})
	d.Kind = KindOption
	d.Elem = t
	return d
}

// unitDescriptor is a zero-size tuple descriptor. Result does not use it:
// a missing result side is a Case with a nil Type.
var unitDescriptor = &Descriptor{Kind: KindTuple, Size: 0, Align: 1}

// Result builds result<ok,err> = variant{ok(ok), err(err)}. Either side
// may be nil, representing the `_` unit placeholder - the two are kept
// distinct from each other and from a genuine zero-field record so a
// consumer can tell result<_,E>, result<T,_> and result<_,_> apart
// (spec section 9 Design Notes).
func Result(ok, err *Descriptor) *Descriptor {
	okCase := Case{Name: "ok", Type: ok}
	errCase := Case{Name: "err", Type: err}
	d := Variant(okCase, errCase)
	d.Kind = KindResult
	return d
}

// Flags builds a flags descriptor: 1/2/4 bytes for up to 8/16/32 labels,
// additional u32 words beyond that, packed LSB-first in declaration order.
func Flags(labels ...string) *Descriptor {
	n := len(labels)
	var size, align uint32
	switch {
	case n == 0:
		size, align = 0, 1
	case n <= 8:
		size, align = 1, 1
	case n <= 16:
		size, align = 2, 2
	case n <= 32:
		size, align = 4, 4
	default:
		words := uint32((n + 31) / 32)
		size, align = words*4, 4
	}
	flat := []FlatKind{FlatI32}
	return &Descriptor{Kind: KindFlags, Size: size, Align: align, NumLabels: n, Flat: flat}
}

// Own builds an own<typeID> handle descriptor: a single i32 handle index.
func Own(typeID uint32) *Descriptor {
	return &Descriptor{Kind: KindOwn, Size: 4, Align: 4, Flat: []FlatKind{FlatI32}, TypeID: typeID}
}

// Borrow builds a borrow<typeID> handle descriptor: a single i32 handle index.
func Borrow(typeID uint32) *Descriptor {
	return &Descriptor{Kind: KindBorrow, Size: 4, Align: 4, Flat: []FlatKind{FlatI32}, TypeID: typeID}
}

// Package abi describes the Component Model's value-type catalog: the
// static, compile-time-known shape of every Canonical ABI type - byte
// size, alignment, and flattened core-value-type sequence.
//
// A Descriptor is a closed sum type (a tagged struct, not an interface
// hierarchy) per the design note in the upstream specification: the
// behavioral contract - sizes, alignments, flat layouts - is normative,
// the mechanism used to dispatch over it is not. Every other package in
// this module (codec, instance, task, hostabi) is driven by Descriptors.
package abi

// Kind discriminates the closed set of Canonical ABI type shapes.
type Kind uint8

const (
	KindBool Kind = iota
	KindU8
	KindS8
	KindU16
	KindS16
	KindU32
	KindS32
	KindU64
	KindS64
	KindF32
	KindF64
	KindChar
	KindString
	KindList
	KindTuple
	KindRecord
	KindVariant
	KindEnum
	KindOption
	KindResult
	KindFlags
	KindOwn
	KindBorrow
)

var kindNames = [...]string{
	KindBool:    "bool",
	KindU8:      "u8",
	KindS8:      "s8",
	KindU16:     "u16",
	KindS16:     "s16",
	KindU32:     "u32",
	KindS32:     "s32",
	KindU64:     "u64",
	KindS64:     "s64",
	KindF32:     "f32",
	KindF64:     "f64",
	KindChar:    "char",
	KindString:  "string",
	KindList:    "list",
	KindTuple:   "tuple",
	KindRecord:  "record",
	KindVariant: "variant",
	KindEnum:    "enum",
	KindOption:  "option",
	KindResult:  "result",
	KindFlags:   "flags",
	KindOwn:     "own",
	KindBorrow:  "borrow",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsPrimitive reports whether k is laid out as a single scalar with no
// recursive sub-descriptors (bool .. char).
func (k Kind) IsPrimitive() bool {
	return k <= KindChar
}

// FlatKind is one of the four WebAssembly core value kinds used on the
// function-call boundary (spec section 4.1 / glossary "flat slots").
type FlatKind uint8

const (
	FlatI32 FlatKind = iota
	FlatI64
	FlatF32
	FlatF64
)

func (f FlatKind) String() string {
	switch f {
	case FlatI32:
		return "i32"
	case FlatI64:
		return "i64"
	case FlatF32:
		return "f32"
	case FlatF64:
		return "f64"
	default:
		return "unknown"
	}
}

// JoinFlat widens two flat slot kinds that occupy the same position in a
// variant's joined flat layout (spec section 4.1): equal kinds stay
// equal, {i32,f32} widen to i32, any other mismatch widens to i64.
func JoinFlat(a, b FlatKind) FlatKind {
	if a == b {
		return a
	}
	if (a == FlatI32 && b == FlatF32) || (a == FlatF32 && b == FlatI32) {
		return FlatI32
	}
	return FlatI64
}

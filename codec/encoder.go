package codec

import (
	"encoding/binary"
	"math"

	"github.com/canonabi/cabihost/abi"
	cerr "github.com/canonabi/cabihost/errors"
	"github.com/canonabi/cabihost/instance"
)

// Encoder implements the memory-mode writer, store(cx, value, ptr), and
// the flat-mode writer, lower_flat(cx, value).
type Encoder struct {
	ctx    *Context
	allocs AllocationList
}

// NewEncoder creates an encoder bound to ctx.
func NewEncoder(ctx *Context) *Encoder {
	return &Encoder{ctx: ctx}
}

func (e *Encoder) checkBounds(ptr, size, align uint32) {
	mem := e.ctx.bytes()
	cerr.TrapIf(e.ctx.Trap, align != 0 && ptr%align != 0, cerr.PhaseMemory, cerr.KindMisaligned, "unaligned store")
	cerr.TrapIf(e.ctx.Trap, uint64(ptr)+uint64(size) > uint64(len(mem)), cerr.PhaseMemory, cerr.KindOutOfBounds, "store out of bounds")
}

// Lower allocates d.Size bytes (align d.Align) and stores v into it,
// returning the pointer. Used when a value must cross by memory rather
// than by flat slots (e.g. list/string elements, oversized results).
//
// If a nested Store panics partway through a record/variant/list (a host
// embedder whose trap callback itself unwinds the call, the common case
// outside unit tests), every block this Lower allocated is rolled back
// before the panic continues, so a trap mid-encode never leaks guest
// memory.
func (e *Encoder) Lower(d *abi.Descriptor, v any) uint32 {
	mark := len(e.allocs.allocs)
	ptr, err := e.allocs.Alloc(e.ctx, d.Align, d.Size)
	cerr.TrapIf(e.ctx.Trap, err != nil, cerr.PhaseEncode, cerr.KindAllocation, "realloc failed during lower")

	defer func() {
		if r := recover(); r != nil {
			tail := AllocationList{allocs: e.allocs.allocs[mark:]}
			tail.Rollback(e.ctx)
			e.allocs.allocs = e.allocs.allocs[:mark]
			panic(r)
		}
	}()
	e.Store(d, v, ptr)
	return ptr
}

// Store writes v's canonical-ABI byte layout at ptr.
func (e *Encoder) Store(d *abi.Descriptor, v any, ptr uint32) {
	e.checkBounds(ptr, d.Size, d.Align)
	mem := e.ctx.bytes()

	switch d.Kind {
	case abi.KindBool:
		b := byte(0)
		if v.(bool) {
			b = 1
		}
		mem[ptr] = b
	case abi.KindU8:
		mem[ptr] = v.(byte)
	case abi.KindS8:
		mem[ptr] = byte(v.(int8))
	case abi.KindU16:
		binary.LittleEndian.PutUint16(mem[ptr:], v.(uint16))
	case abi.KindS16:
		binary.LittleEndian.PutUint16(mem[ptr:], uint16(v.(int16)))
	case abi.KindU32:
		binary.LittleEndian.PutUint32(mem[ptr:], v.(uint32))
	case abi.KindS32:
		binary.LittleEndian.PutUint32(mem[ptr:], uint32(v.(int32)))
	case abi.KindU64:
		binary.LittleEndian.PutUint64(mem[ptr:], v.(uint64))
	case abi.KindS64:
		binary.LittleEndian.PutUint64(mem[ptr:], uint64(v.(int64)))
	case abi.KindF32:
		bits := math.Float32bits(v.(float32))
		binary.LittleEndian.PutUint32(mem[ptr:], CanonicalizeF32Bits(bits))
	case abi.KindF64:
		bits := math.Float64bits(v.(float64))
		binary.LittleEndian.PutUint64(mem[ptr:], CanonicalizeF64Bits(bits))
	case abi.KindChar:
		r := v.(rune)
		ValidateChar(e.ctx.Trap, r)
		binary.LittleEndian.PutUint32(mem[ptr:], uint32(r))
	case abi.KindString:
		e.storeString(v.(string), ptr)
	case abi.KindList:
		e.storeList(d, v.([]any), ptr)
	case abi.KindRecord, abi.KindTuple:
		e.storeRecord(d, v.([]any), ptr)
	case abi.KindVariant, abi.KindOption, abi.KindResult:
		e.storeVariant(d, v.(Variant), ptr)
	case abi.KindEnum:
		e.storeEnum(d, v.(uint32), ptr)
	case abi.KindFlags:
		e.storeFlags(d, v.(uint64), ptr)
	case abi.KindOwn:
		h := e.lowerOwn(d.TypeID, v.(uint32))
		binary.LittleEndian.PutUint32(mem[ptr:], uint32(h))
	case abi.KindBorrow:
		h := e.lowerBorrow(d.TypeID, v.(uint32))
		binary.LittleEndian.PutUint32(mem[ptr:], uint32(h))
	default:
		cerr.TrapIf(e.ctx.Trap, true, cerr.PhaseEncode, cerr.KindUnsupported, "unsupported descriptor kind for store")
	}
}

func (e *Encoder) storeString(s string, ptr uint32) {
	var data []byte
	var tagged uint32

	switch e.ctx.Opts.StringEncoding {
	case EncodingUTF8:
		data = []byte(s)
		tagged = uint32(len(data))
		cerr.TrapIf(e.ctx.Trap, len(data) > MaxStringBytes, cerr.PhaseEncode, cerr.KindOverflow, "string exceeds maximum encoded length")
	default:
		data, tagged = EncodeLatin1UTF16Adaptive(e.ctx.Trap, s)
	}

	dataPtr := uint32(0)
	if len(data) > 0 {
		p, err := e.allocs.Alloc(e.ctx, 1, uint32(len(data)))
		cerr.TrapIf(e.ctx.Trap, err != nil, cerr.PhaseEncode, cerr.KindAllocation, "realloc failed for string bytes")
		copy(e.ctx.bytes()[p:], data)
		dataPtr = p
	}

	mem := e.ctx.bytes()
	binary.LittleEndian.PutUint32(mem[ptr:], dataPtr)
	binary.LittleEndian.PutUint32(mem[ptr+4:], tagged)
}

func (e *Encoder) storeList(d *abi.Descriptor, items []any, ptr uint32) {
	n := uint32(len(items))
	dataPtr := uint32(0)
	if n > 0 {
		total := n * d.Elem.Size
		p, err := e.allocs.Alloc(e.ctx, d.Elem.Align, total)
		cerr.TrapIf(e.ctx.Trap, err != nil, cerr.PhaseEncode, cerr.KindAllocation, "realloc failed for list elements")
		dataPtr = p
		for i, item := range items {
			e.Store(d.Elem, item, p+uint32(i)*d.Elem.Size)
		}
	}
	mem := e.ctx.bytes()
	binary.LittleEndian.PutUint32(mem[ptr:], dataPtr)
	binary.LittleEndian.PutUint32(mem[ptr+4:], n)
}

func (e *Encoder) storeRecord(d *abi.Descriptor, fields []any, ptr uint32) {
	for i, f := range d.Fields {
		e.Store(f.Type, fields[i], ptr+f.Offset)
	}
}

func (e *Encoder) storeVariant(d *abi.Descriptor, val Variant, ptr uint32) {
	cerr.TrapIf(e.ctx.Trap, int(val.Case) >= len(d.Cases), cerr.PhaseEncode, cerr.KindInvalidVariant, "variant case index out of range")

	discSize := abi.DiscriminantSize(len(d.Cases))
	mem := e.ctx.bytes()
	switch discSize {
	case 1:
		mem[ptr] = byte(val.Case)
	case 2:
		binary.LittleEndian.PutUint16(mem[ptr:], uint16(val.Case))
	default:
		binary.LittleEndian.PutUint32(mem[ptr:], val.Case)
	}

	c := d.Cases[val.Case]
	if c.Type == nil {
		return
	}
	payloadOff := abi.AlignTo(discSize, d.Align)
	e.Store(c.Type, val.Val, ptr+payloadOff)
}

func (e *Encoder) storeEnum(d *abi.Descriptor, label uint32, ptr uint32) {
	cerr.TrapIf(e.ctx.Trap, int(label) >= len(d.Cases), cerr.PhaseEncode, cerr.KindInvalidEnum, "enum label out of range")
	mem := e.ctx.bytes()
	switch abi.DiscriminantSize(len(d.Cases)) {
	case 1:
		mem[ptr] = byte(label)
	case 2:
		binary.LittleEndian.PutUint16(mem[ptr:], uint16(label))
	default:
		binary.LittleEndian.PutUint32(mem[ptr:], label)
	}
}

func (e *Encoder) storeFlags(d *abi.Descriptor, bits uint64, ptr uint32) {
	mem := e.ctx.bytes()
	switch d.Size {
	case 1:
		mem[ptr] = byte(bits)
	case 2:
		binary.LittleEndian.PutUint16(mem[ptr:], uint16(bits))
	case 4:
		binary.LittleEndian.PutUint32(mem[ptr:], uint32(bits))
	default:
		// more than 32 labels: packed as consecutive u32 words, LSB-first.
		for off := uint32(0); off < d.Size; off += 4 {
			binary.LittleEndian.PutUint32(mem[ptr+off:], uint32(bits>>(off*8)))
		}
	}
}

// lowerOwn inserts a fresh own handle for rep into typeID's table in the
// callee's instance, the mirror of liftOwn (spec.md section 4.5: lowering
// an own<T> value always creates a new handle).
func (e *Encoder) lowerOwn(typeID uint32, rep uint32) instance.Handle {
	table := e.ctx.Instance.HandleTables.TableFor(typeID)
	cerr.TrapIf(e.ctx.Trap, table == nil, cerr.PhaseHandle, cerr.KindNotFound, "no handle table registered for resource type")
	if table == nil {
		return 0
	}
	return table.NewOwn(rep)
}

// lowerBorrow inserts a borrow handle for rep scoped to this call, the
// mirror of liftBorrow.
func (e *Encoder) lowerBorrow(typeID uint32, rep uint32) instance.Handle {
	table := e.ctx.Instance.HandleTables.TableFor(typeID)
	cerr.TrapIf(e.ctx.Trap, table == nil, cerr.PhaseHandle, cerr.KindNotFound, "no handle table registered for resource type")
	if table == nil {
		return 0
	}
	return table.NewBorrow(rep, e.ctx.Scope)
}

// LowerFlat emits v's flat slot sequence for d into w.
func (e *Encoder) LowerFlat(d *abi.Descriptor, v any, w *FlatWriter) {
	switch d.Kind {
	case abi.KindBool:
		b := uint32(0)
		if v.(bool) {
			b = 1
		}
		w.Emit(FlatI32(b))
	case abi.KindU8, abi.KindU16, abi.KindU32, abi.KindEnum:
		w.Emit(FlatI32(toUint32(v)))
	case abi.KindS8, abi.KindS16, abi.KindS32:
		w.Emit(FlatI32(toUint32(v)))
	case abi.KindU64, abi.KindS64:
		w.Emit(FlatI64(toUint64(v)))
	case abi.KindF32:
		w.Emit(FlatF32(CanonicalizeF32Bits(math.Float32bits(v.(float32)))))
	case abi.KindF64:
		w.Emit(FlatF64(CanonicalizeF64Bits(math.Float64bits(v.(float64)))))
	case abi.KindChar:
		r := v.(rune)
		ValidateChar(e.ctx.Trap, r)
		w.Emit(FlatI32(uint32(r)))
	case abi.KindString:
		ptr := e.Lower(d, v)
		mem := e.ctx.bytes()
		w.Emit(FlatI32(binary.LittleEndian.Uint32(mem[ptr:])))
		w.Emit(FlatI32(binary.LittleEndian.Uint32(mem[ptr+4:])))
	case abi.KindList:
		ptr := e.Lower(d, v)
		mem := e.ctx.bytes()
		w.Emit(FlatI32(binary.LittleEndian.Uint32(mem[ptr:])))
		w.Emit(FlatI32(binary.LittleEndian.Uint32(mem[ptr+4:])))
	case abi.KindRecord, abi.KindTuple:
		fields := v.([]any)
		for i, f := range d.Fields {
			e.LowerFlat(f.Type, fields[i], w)
		}
	case abi.KindVariant, abi.KindOption, abi.KindResult:
		e.lowerVariantFlat(d, v.(Variant), w)
	case abi.KindFlags:
		w.Emit(FlatI32(uint32(v.(uint64))))
	case abi.KindOwn:
		w.Emit(FlatI32(uint32(e.lowerOwn(d.TypeID, v.(uint32)))))
	case abi.KindBorrow:
		w.Emit(FlatI32(uint32(e.lowerBorrow(d.TypeID, v.(uint32)))))
	default:
		cerr.TrapIf(e.ctx.Trap, true, cerr.PhaseEncode, cerr.KindUnsupported, "unsupported descriptor kind for lower_flat")
	}
}

func (e *Encoder) lowerVariantFlat(d *abi.Descriptor, val Variant, w *FlatWriter) {
	cerr.TrapIf(e.ctx.Trap, int(val.Case) >= len(d.Cases), cerr.PhaseEncode, cerr.KindInvalidVariant, "variant case index out of range")
	w.Emit(FlatI32(val.Case))

	c := d.Cases[val.Case]
	joined := d.Flat[1:]
	if c.Type == nil {
		for _, j := range joined {
			w.Pad(j)
		}
		return
	}

	caseWriter := &FlatWriter{}
	e.LowerFlat(c.Type, val.Val, caseWriter)
	caseVals := caseWriter.Values()
	for i, j := range joined {
		if i < len(caseVals) {
			w.EmitJoined(caseVals[i], j)
		} else {
			w.Pad(j)
		}
	}
}

func toUint32(v any) uint32 {
	switch x := v.(type) {
	case byte:
		return uint32(x)
	case uint16:
		return uint32(x)
	case uint32:
		return x
	case int8:
		return uint32(x)
	case int16:
		return uint32(x)
	case int32:
		return uint32(x)
	default:
		return 0
	}
}

func toUint64(v any) uint64 {
	switch x := v.(type) {
	case uint64:
		return x
	case int64:
		return uint64(x)
	default:
		return 0
	}
}

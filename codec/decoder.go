package codec

import (
	"encoding/binary"
	"math"

	"github.com/canonabi/cabihost/abi"
	cerr "github.com/canonabi/cabihost/errors"
	"github.com/canonabi/cabihost/instance"
)

// Decoder implements the memory-mode reader, load(cx, ptr), and the
// flat-mode reader, lift_flat(cx, iter).
type Decoder struct {
	ctx *Context
}

// NewDecoder creates a decoder bound to ctx.
func NewDecoder(ctx *Context) *Decoder {
	return &Decoder{ctx: ctx}
}

func (d *Decoder) checkBounds(ptr, size, align uint32) {
	mem := d.ctx.bytes()
	cerr.TrapIf(d.ctx.Trap, align != 0 && ptr%align != 0, cerr.PhaseMemory, cerr.KindMisaligned, "unaligned load")
	cerr.TrapIf(d.ctx.Trap, uint64(ptr)+uint64(size) > uint64(len(mem)), cerr.PhaseMemory, cerr.KindOutOfBounds, "load out of bounds")
}

// Load reads desc's canonical-ABI byte layout at ptr.
func (d *Decoder) Load(desc *abi.Descriptor, ptr uint32) any {
	d.checkBounds(ptr, desc.Size, desc.Align)
	mem := d.ctx.bytes()

	switch desc.Kind {
	case abi.KindBool:
		return mem[ptr] != 0
	case abi.KindU8:
		return mem[ptr]
	case abi.KindS8:
		return int8(mem[ptr])
	case abi.KindU16:
		return binary.LittleEndian.Uint16(mem[ptr:])
	case abi.KindS16:
		return int16(binary.LittleEndian.Uint16(mem[ptr:]))
	case abi.KindU32:
		return binary.LittleEndian.Uint32(mem[ptr:])
	case abi.KindS32:
		return int32(binary.LittleEndian.Uint32(mem[ptr:]))
	case abi.KindU64:
		return binary.LittleEndian.Uint64(mem[ptr:])
	case abi.KindS64:
		return int64(binary.LittleEndian.Uint64(mem[ptr:]))
	case abi.KindF32:
		bits := CanonicalizeF32Bits(binary.LittleEndian.Uint32(mem[ptr:]))
		return math.Float32frombits(bits)
	case abi.KindF64:
		bits := CanonicalizeF64Bits(binary.LittleEndian.Uint64(mem[ptr:]))
		return math.Float64frombits(bits)
	case abi.KindChar:
		r := rune(binary.LittleEndian.Uint32(mem[ptr:]))
		ValidateChar(d.ctx.Trap, r)
		return r
	case abi.KindString:
		return d.loadString(ptr)
	case abi.KindList:
		return d.loadList(desc, ptr)
	case abi.KindRecord, abi.KindTuple:
		return d.loadRecord(desc, ptr)
	case abi.KindVariant, abi.KindOption, abi.KindResult:
		return d.loadVariant(desc, ptr)
	case abi.KindEnum:
		return d.loadDiscriminant(desc, ptr)
	case abi.KindFlags:
		return d.loadFlags(desc, ptr)
	case abi.KindOwn:
		mem := d.ctx.bytes()
		h := instance.Handle(binary.LittleEndian.Uint32(mem[ptr:]))
		return d.liftOwn(desc.TypeID, h)
	case abi.KindBorrow:
		mem := d.ctx.bytes()
		h := instance.Handle(binary.LittleEndian.Uint32(mem[ptr:]))
		return d.liftBorrow(desc.TypeID, h)
	default:
		cerr.TrapIf(d.ctx.Trap, true, cerr.PhaseDecode, cerr.KindUnsupported, "unsupported descriptor kind for load")
		return nil
	}
}

func (d *Decoder) loadString(ptr uint32) string {
	mem := d.ctx.bytes()
	dataPtr := binary.LittleEndian.Uint32(mem[ptr:])
	tagged := binary.LittleEndian.Uint32(mem[ptr+4:])

	if d.ctx.Opts.StringEncoding == EncodingUTF8 {
		n := tagged
		d.checkBounds(dataPtr, n, 1)
		return string(d.ctx.bytes()[dataPtr : dataPtr+n])
	}

	n, isUTF16 := UntagCodeUnits(tagged)
	byteLen := n
	if isUTF16 {
		byteLen = n * 2
	}
	d.checkBounds(dataPtr, byteLen, 1)
	return DecodeLatin1UTF16Adaptive(d.ctx.Trap, d.ctx.bytes()[dataPtr:dataPtr+byteLen], tagged)
}

func (d *Decoder) loadList(desc *abi.Descriptor, ptr uint32) []any {
	mem := d.ctx.bytes()
	dataPtr := binary.LittleEndian.Uint32(mem[ptr:])
	n := binary.LittleEndian.Uint32(mem[ptr+4:])

	out := make([]any, n)
	for i := uint32(0); i < n; i++ {
		out[i] = d.Load(desc.Elem, dataPtr+i*desc.Elem.Size)
	}
	return out
}

func (d *Decoder) loadRecord(desc *abi.Descriptor, ptr uint32) []any {
	out := make([]any, len(desc.Fields))
	for i, f := range desc.Fields {
		out[i] = d.Load(f.Type, ptr+f.Offset)
	}
	return out
}

func (d *Decoder) loadDiscriminant(desc *abi.Descriptor, ptr uint32) uint32 {
	mem := d.ctx.bytes()
	switch abi.DiscriminantSize(len(desc.Cases)) {
	case 1:
		return uint32(mem[ptr])
	case 2:
		return uint32(binary.LittleEndian.Uint16(mem[ptr:]))
	default:
		return binary.LittleEndian.Uint32(mem[ptr:])
	}
}

func (d *Decoder) loadVariant(desc *abi.Descriptor, ptr uint32) Variant {
	disc := d.loadDiscriminant(desc, ptr)
	cerr.TrapIf(d.ctx.Trap, int(disc) >= len(desc.Cases), cerr.PhaseDecode, cerr.KindInvalidVariant, "variant discriminant out of range")

	c := desc.Cases[disc]
	if c.Type == nil {
		return Variant{Case: disc}
	}
	discSize := abi.DiscriminantSize(len(desc.Cases))
	payloadOff := abi.AlignTo(discSize, desc.Align)
	return Variant{Case: disc, Val: d.Load(c.Type, ptr+payloadOff)}
}

func (d *Decoder) loadFlags(desc *abi.Descriptor, ptr uint32) uint64 {
	mem := d.ctx.bytes()
	switch desc.Size {
	case 1:
		return uint64(mem[ptr])
	case 2:
		return uint64(binary.LittleEndian.Uint16(mem[ptr:]))
	case 4:
		return uint64(binary.LittleEndian.Uint32(mem[ptr:]))
	default:
		var bits uint64
		for off := uint32(0); off < desc.Size && off < 8; off += 4 {
			bits |= uint64(binary.LittleEndian.Uint32(mem[ptr+off:])) << (off * 8)
		}
		return bits
	}
}

// LiftFlat consumes desc's flat slot sequence from r and reconstructs
// its host value.
func (d *Decoder) LiftFlat(desc *abi.Descriptor, r *FlatReader) any {
	switch desc.Kind {
	case abi.KindBool:
		v, _ := r.NextAs(abi.FlatI32)
		return uint32(v.Bits) != 0
	case abi.KindU8:
		v, _ := r.NextAs(abi.FlatI32)
		return byte(v.Bits)
	case abi.KindS8:
		v, _ := r.NextAs(abi.FlatI32)
		return int8(v.Bits)
	case abi.KindU16:
		v, _ := r.NextAs(abi.FlatI32)
		return uint16(v.Bits)
	case abi.KindS16:
		v, _ := r.NextAs(abi.FlatI32)
		return int16(v.Bits)
	case abi.KindU32, abi.KindEnum:
		v, _ := r.NextAs(abi.FlatI32)
		return uint32(v.Bits)
	case abi.KindS32:
		v, _ := r.NextAs(abi.FlatI32)
		return int32(v.Bits)
	case abi.KindU64:
		v, _ := r.NextAs(abi.FlatI64)
		return v.Bits
	case abi.KindS64:
		v, _ := r.NextAs(abi.FlatI64)
		return int64(v.Bits)
	case abi.KindF32:
		v, _ := r.NextAs(abi.FlatF32)
		return math.Float32frombits(CanonicalizeF32Bits(uint32(v.Bits)))
	case abi.KindF64:
		v, _ := r.NextAs(abi.FlatF64)
		return math.Float64frombits(CanonicalizeF64Bits(v.Bits))
	case abi.KindChar:
		v, _ := r.NextAs(abi.FlatI32)
		rn := rune(uint32(v.Bits))
		ValidateChar(d.ctx.Trap, rn)
		return rn
	case abi.KindString:
		ptrV, _ := r.NextAs(abi.FlatI32)
		lenV, _ := r.NextAs(abi.FlatI32)
		return d.stringFromParts(uint32(ptrV.Bits), uint32(lenV.Bits))
	case abi.KindList:
		ptrV, _ := r.NextAs(abi.FlatI32)
		lenV, _ := r.NextAs(abi.FlatI32)
		n := uint32(lenV.Bits)
		out := make([]any, n)
		for i := uint32(0); i < n; i++ {
			out[i] = d.Load(desc.Elem, uint32(ptrV.Bits)+i*desc.Elem.Size)
		}
		return out
	case abi.KindRecord, abi.KindTuple:
		out := make([]any, len(desc.Fields))
		for i, f := range desc.Fields {
			out[i] = d.LiftFlat(f.Type, r)
		}
		return out
	case abi.KindVariant, abi.KindOption, abi.KindResult:
		return d.liftVariantFlat(desc, r)
	case abi.KindFlags:
		v, _ := r.NextAs(abi.FlatI32)
		return uint64(v.Bits)
	case abi.KindOwn:
		v, _ := r.NextAs(abi.FlatI32)
		return d.liftOwn(desc.TypeID, instance.Handle(uint32(v.Bits)))
	case abi.KindBorrow:
		v, _ := r.NextAs(abi.FlatI32)
		return d.liftBorrow(desc.TypeID, instance.Handle(uint32(v.Bits)))
	default:
		cerr.TrapIf(d.ctx.Trap, true, cerr.PhaseDecode, cerr.KindUnsupported, "unsupported descriptor kind for lift_flat")
		return nil
	}
}

// liftOwn removes h from typeID's handle table, transferring ownership
// of the underlying resource to the callee (spec.md section 4.5: lifting
// an own<T> value consumes the handle). Returns the freed rep.
func (d *Decoder) liftOwn(typeID uint32, h instance.Handle) uint32 {
	table := d.ctx.Instance.HandleTables.TableFor(typeID)
	if table == nil {
		cerr.TrapIf(d.ctx.Trap, true, cerr.PhaseHandle, cerr.KindNotFound, "no handle table registered for resource type")
		return 0
	}
	return table.RemoveOwn(d.ctx.Trap, h)
}

// liftBorrow lends h for the duration of this call: the lender's lend
// count is incremented and the scope's borrow count tracks the loan, both
// released by Context.ExitCall (spec.md section 4.5).
func (d *Decoder) liftBorrow(typeID uint32, h instance.Handle) uint32 {
	table := d.ctx.Instance.HandleTables.TableFor(typeID)
	if table == nil {
		cerr.TrapIf(d.ctx.Trap, true, cerr.PhaseHandle, cerr.KindNotFound, "no handle table registered for resource type")
		return 0
	}
	el := table.Lend(d.ctx.Trap, h)
	d.ctx.addLender(el)
	d.ctx.Scope.IncBorrow()
	return table.Rep(d.ctx.Trap, h)
}

func (d *Decoder) stringFromParts(ptr, tagged uint32) string {
	if d.ctx.Opts.StringEncoding == EncodingUTF8 {
		d.checkBounds(ptr, tagged, 1)
		return string(d.ctx.bytes()[ptr : ptr+tagged])
	}
	n, isUTF16 := UntagCodeUnits(tagged)
	byteLen := n
	if isUTF16 {
		byteLen = n * 2
	}
	d.checkBounds(ptr, byteLen, 1)
	return DecodeLatin1UTF16Adaptive(d.ctx.Trap, d.ctx.bytes()[ptr:ptr+byteLen], tagged)
}

func (d *Decoder) liftVariantFlat(desc *abi.Descriptor, r *FlatReader) Variant {
	discV, _ := r.NextAs(abi.FlatI32)
	disc := uint32(discV.Bits)
	cerr.TrapIf(d.ctx.Trap, int(disc) >= len(desc.Cases), cerr.PhaseDecode, cerr.KindInvalidVariant, "variant discriminant out of range")

	joined := desc.Flat[1:]
	c := desc.Cases[disc]
	if c.Type == nil {
		for range joined {
			r.Next()
		}
		return Variant{Case: disc}
	}

	caseFlat := c.Type.Flat
	vals := make([]FlatVal, len(caseFlat))
	for i := range joined {
		v, _ := r.Next()
		if i < len(caseFlat) {
			vals[i] = CoerceFrom(v, caseFlat[i])
		}
	}
	sub := NewFlatReader(vals)
	return Variant{Case: disc, Val: d.LiftFlat(c.Type, sub)}
}

package abi

import (
	"fmt"

	"go.bytecodealliance.org/wit"
)

// FromWIT builds a Descriptor from an already-parsed wit.Type. This
// module does not parse WIT text or binary component sections itself -
// that grammar parser and code generator are external collaborators
// (spec section 1) - but the generated glue a real WIT-aware toolchain
// emits hands this runtime wit.Type values, and turning those into the
// Descriptors every other package here consumes is the one piece of the
// "WIT-facing surface" (spec section 6) this module owns.
//
// Resource handle type defs (own<T>/borrow<T>) are deliberately not
// resolved here: the stable resource-type id a handle descriptor needs
// (abi.Own/abi.Borrow) lives in the embedder's type registry, not in the
// WIT AST, so generated glue constructs those descriptors directly
// rather than through FromWIT.
type WITResolver struct {
	cache map[*wit.TypeDef]*Descriptor
}

func NewWITResolver() *WITResolver {
	return &WITResolver{cache: make(map[*wit.TypeDef]*Descriptor)}
}

func (r *WITResolver) FromWIT(t wit.Type) (*Descriptor, error) {
	switch v := t.(type) {
	case wit.Bool:
		return Bool(), nil
	case wit.U8:
		return U8(), nil
	case wit.S8:
		return S8(), nil
	case wit.U16:
		return U16(), nil
	case wit.S16:
		return S16(), nil
	case wit.U32:
		return U32(), nil
	case wit.S32:
		return S32(), nil
	case wit.U64:
		return U64(), nil
	case wit.S64:
		return S64(), nil
	case wit.F32:
		return F32(), nil
	case wit.F64:
		return F64(), nil
	case wit.Char:
		return Char(), nil
	case wit.String:
		return String(), nil
	case *wit.TypeDef:
		return r.fromTypeDef(v)
	default:
		return nil, fmt.Errorf("abi: unsupported wit.Type %T", t)
	}
}

func (r *WITResolver) fromTypeDef(t *wit.TypeDef) (*Descriptor, error) {
	if cached, ok := r.cache[t]; ok {
		return cached, nil
	}

	var (
		d   *Descriptor
		err error
	)

	switch kind := t.Kind.(type) {
	case *wit.Record:
		d, err = r.fromRecord(kind)
	case *wit.Variant:
		d, err = r.fromVariant(kind)
	case *wit.Enum:
		labels := make([]string, len(kind.Cases))
		for i, c := range kind.Cases {
			labels[i] = c.Name
		}
		d = Enum(labels...)
	case *wit.List:
		elem, e := r.FromWIT(kind.Type)
		if e != nil {
			return nil, e
		}
		d = List(elem)
	case *wit.Option:
		elem, e := r.FromWIT(kind.Type)
		if e != nil {
			return nil, e
		}
		d = Option(elem)
	case *wit.Result:
		d, err = r.fromResult(kind)
	case *wit.Tuple:
		elems := make([]*Descriptor, len(kind.Types))
		for i, et := range kind.Types {
			elems[i], err = r.FromWIT(et)
			if err != nil {
				return nil, err
			}
		}
		d = Tuple(elems...)
	case *wit.Flags:
		labels := make([]string, len(kind.Flags))
		for i, f := range kind.Flags {
			labels[i] = f.Name
		}
		d = Flags(labels...)
	case wit.Type:
		d, err = r.FromWIT(kind)
	default:
		return nil, fmt.Errorf("abi: unsupported wit.TypeDef kind %T", t.Kind)
	}
	if err != nil {
		return nil, err
	}

	r.cache[t] = d
	return d, nil
}

func (r *WITResolver) fromRecord(rec *wit.Record) (*Descriptor, error) {
	fields := make([]Field, len(rec.Fields))
	for i, f := range rec.Fields {
		ft, err := r.FromWIT(f.Type)
		if err != nil {
			return nil, err
		}
		fields[i] = Field{Name: f.Name, Type: ft}
	}
	return Record(fields...), nil
}

func (r *WITResolver) fromVariant(v *wit.Variant) (*Descriptor, error) {
	cases := make([]Case, len(v.Cases))
	for i, c := range v.Cases {
		var ct *Descriptor
		if c.Type != nil {
			var err error
			ct, err = r.FromWIT(c.Type)
			if err != nil {
				return nil, err
			}
		}
		cases[i] = Case{Name: c.Name, Type: ct}
	}
	return Variant(cases...), nil
}

func (r *WITResolver) fromResult(res *wit.Result) (*Descriptor, error) {
	var ok, errD *Descriptor
	var err error
	if res.OK != nil {
		ok, err = r.FromWIT(res.OK)
		if err != nil {
			return nil, err
		}
	}
	if res.Err != nil {
		errD, err = r.FromWIT(res.Err)
		if err != nil {
			return nil, err
		}
	}
	return Result(ok, errD), nil
}

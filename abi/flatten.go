package abi

// Function-flattening thresholds, spec section 4.1.
const (
	MaxFlatParams      = 16
	MaxFlatResults     = 1
	MaxFlatAsyncParams = 4
)

// CoreSignature is the flattened core WebAssembly signature a canon
// lift/lower decision computes for a component-level function.
type CoreSignature struct {
	Params        []FlatKind
	Results       []FlatKind
	ParamsByPtr   bool // params collapsed to a single i32 memory pointer
	ResultsByPtr  bool // lift: results decoded from memory via a single i32 pointer
	ResultsOutPtr bool // lower: an i32 out-pointer was appended to Params
}

func flattenAll(ds []*Descriptor) []FlatKind {
	var out []FlatKind
	for _, d := range ds {
		out = append(out, d.Flat...)
	}
	return out
}

// FlattenSync computes the core signature for a synchronous function,
// spec section 4.1: oversized params collapse to a single i32 pointer;
// for lifts an oversized result collapses to an i32 pointer (read back
// from memory by the caller); for lowers an oversized result instead
// appends an i32 out-pointer parameter and yields no flat results.
func FlattenSync(params, results []*Descriptor, isLift bool) CoreSignature {
	var sig CoreSignature

	flatParams := flattenAll(params)
	if len(flatParams) > MaxFlatParams {
		sig.Params = []FlatKind{FlatI32}
		sig.ParamsByPtr = true
	} else {
		sig.Params = flatParams
	}

	flatResults := flattenAll(results)
	if len(flatResults) > MaxFlatResults {
		if isLift {
			sig.Results = []FlatKind{FlatI32}
			sig.ResultsByPtr = true
		} else {
			sig.Params = append(sig.Params, FlatI32)
			sig.Results = nil
			sig.ResultsOutPtr = true
		}
	} else {
		sig.Results = flatResults
	}

	return sig
}

// FlattenAsync computes the core signature for an asynchronous function,
// spec section 4.1. On the lift side: one i32 result if a callback is
// registered, otherwise no results. On the lower side: params cap at
// MaxFlatAsyncParams: if there are any declared results, an i32
// out-pointer is appended to params and the core result is a single i32;
// otherwise there are zero flat results.
func FlattenAsync(params, results []*Descriptor, isLift, hasCallback bool) CoreSignature {
	var sig CoreSignature

	if isLift {
		flatParams := flattenAll(params)
		if len(flatParams) > MaxFlatParams {
			sig.Params = []FlatKind{FlatI32}
			sig.ParamsByPtr = true
		} else {
			sig.Params = flatParams
		}
		if hasCallback {
			sig.Results = []FlatKind{FlatI32}
		}
		return sig
	}

	flatParams := flattenAll(params)
	if len(flatParams) > MaxFlatAsyncParams {
		sig.Params = []FlatKind{FlatI32}
		sig.ParamsByPtr = true
	} else {
		sig.Params = flatParams
	}
	if len(results) > 0 {
		sig.Params = append(sig.Params, FlatI32)
		sig.ResultsOutPtr = true
		sig.Results = []FlatKind{FlatI32}
	}
	return sig
}

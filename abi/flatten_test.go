package abi

import "testing"

func manyU32(n int) []*Descriptor {
	out := make([]*Descriptor, n)
	for i := range out {
		out[i] = U32()
	}
	return out
}

func TestFlattenSyncParamsCollapseToPointer(t *testing.T) {
	sig := FlattenSync(manyU32(17), nil, true)
	if !sig.ParamsByPtr {
		t.Fatal("expected params to collapse to a memory pointer past MaxFlatParams")
	}
	if len(sig.Params) != 1 || sig.Params[0] != FlatI32 {
		t.Errorf("params = %v, want single i32", sig.Params)
	}
}

func TestFlattenSyncLiftOversizedResultUsesPointer(t *testing.T) {
	results := []*Descriptor{Record(Field{Type: U64()}, Field{Type: U64()})}
	sig := FlattenSync(nil, results, true)
	if !sig.ResultsByPtr {
		t.Fatal("lift with oversized result should collapse results to a pointer")
	}
	if len(sig.Results) != 1 || sig.Results[0] != FlatI32 {
		t.Errorf("results = %v, want single i32", sig.Results)
	}
}

func TestFlattenSyncLowerOversizedResultAppendsOutPtr(t *testing.T) {
	results := []*Descriptor{Record(Field{Type: U64()}, Field{Type: U64()})}
	sig := FlattenSync([]*Descriptor{U32()}, results, false)
	if !sig.ResultsOutPtr {
		t.Fatal("lower with oversized result should append an out-pointer param")
	}
	if len(sig.Results) != 0 {
		t.Errorf("results = %v, want none (written through out-pointer)", sig.Results)
	}
	if sig.Params[len(sig.Params)-1] != FlatI32 {
		t.Errorf("last param = %s, want i32 out-pointer", sig.Params[len(sig.Params)-1])
	}
}

func TestFlattenAsyncLiftNoResultsWithoutCallback(t *testing.T) {
	sig := FlattenAsync([]*Descriptor{U32()}, []*Descriptor{U32()}, true, false)
	if len(sig.Results) != 0 {
		t.Errorf("results = %v, want none when no callback is registered", sig.Results)
	}
}

func TestFlattenAsyncLiftOneResultWithCallback(t *testing.T) {
	sig := FlattenAsync([]*Descriptor{U32()}, []*Descriptor{U32()}, true, true)
	if len(sig.Results) != 1 || sig.Results[0] != FlatI32 {
		t.Errorf("results = %v, want single i32 when callback registered", sig.Results)
	}
}

func TestFlattenAsyncLowerCapsParamsAndAddsOutPtr(t *testing.T) {
	sig := FlattenAsync(manyU32(5), []*Descriptor{U32()}, false, false)
	if !sig.ParamsByPtr {
		t.Fatal("expected params to collapse past MaxFlatAsyncParams")
	}
	if !sig.ResultsOutPtr || len(sig.Results) != 1 {
		t.Errorf("expected a single i32 out-pointer result, got %v", sig.Results)
	}
}

func TestFlattenAsyncLowerNoResultsNoOutPtr(t *testing.T) {
	sig := FlattenAsync([]*Descriptor{U32()}, nil, false, false)
	if sig.ResultsOutPtr {
		t.Fatal("no declared results should not append an out-pointer")
	}
	if len(sig.Results) != 0 {
		t.Errorf("results = %v, want none", sig.Results)
	}
}

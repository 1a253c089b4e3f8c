package codec

import (
	"testing"

	cerr "github.com/canonabi/cabihost/errors"
)

func TestEncoderCheckBoundsTrapsOnMisalignment(t *testing.T) {
	ctx, _ := newTestContext(EncodingUTF8)
	var trapped *cerr.Trap
	ctx.Trap = func(tr *cerr.Trap) { trapped = tr }
	enc := NewEncoder(ctx)

	enc.checkBounds(3, 4, 4)
	if trapped == nil || trapped.Err.Kind != cerr.KindMisaligned {
		t.Fatalf("expected misaligned trap, got %v", trapped)
	}
}

func TestEncoderCheckBoundsTrapsOnOutOfBounds(t *testing.T) {
	ctx, mem := newTestContext(EncodingUTF8)
	var trapped *cerr.Trap
	ctx.Trap = func(tr *cerr.Trap) { trapped = tr }
	enc := NewEncoder(ctx)

	enc.checkBounds(uint32(len(mem.buf)), 8, 0)
	if trapped == nil || trapped.Err.Kind != cerr.KindOutOfBounds {
		t.Fatalf("expected out of bounds trap, got %v", trapped)
	}
}

func TestEncoderCheckBoundsAllowsAlignedInBoundsAccess(t *testing.T) {
	ctx, _ := newTestContext(EncodingUTF8)
	var trapped *cerr.Trap
	ctx.Trap = func(tr *cerr.Trap) { trapped = tr }
	enc := NewEncoder(ctx)

	enc.checkBounds(8, 4, 4)
	if trapped != nil {
		t.Fatalf("aligned in-bounds access should not trap, got %v", trapped)
	}
}

func TestDecoderCheckBoundsTrapsOnMisalignment(t *testing.T) {
	ctx, _ := newTestContext(EncodingUTF8)
	var trapped *cerr.Trap
	ctx.Trap = func(tr *cerr.Trap) { trapped = tr }
	dec := NewDecoder(ctx)

	dec.checkBounds(5, 8, 8)
	if trapped == nil || trapped.Err.Kind != cerr.KindMisaligned {
		t.Fatalf("expected misaligned trap, got %v", trapped)
	}
}

func TestDecoderCheckBoundsTrapsOnOutOfBounds(t *testing.T) {
	ctx, mem := newTestContext(EncodingUTF8)
	var trapped *cerr.Trap
	ctx.Trap = func(tr *cerr.Trap) { trapped = tr }
	dec := NewDecoder(ctx)

	dec.checkBounds(uint32(len(mem.buf))-2, 8, 0)
	if trapped == nil || trapped.Err.Kind != cerr.KindOutOfBounds {
		t.Fatalf("expected out of bounds trap, got %v", trapped)
	}
}

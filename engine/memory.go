// Package engine wires this module's codec/instance/hostabi/task layers
// to a concrete wazero runtime: it adapts wazero's api.Memory and
// cabi_realloc export to the codec package's Memory/Allocator
// interfaces, builds a TrapFunc that turns a Canonical ABI trap into a
// recorded diagnostic plus a Go panic wazero converts into a call
// error, and registers hostabi.Builtins as a wazero host module.
package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	cerr "github.com/canonabi/cabihost/errors"
)

// Memory adapts a wazero api.Memory to codec.Memory. Grounded on
// linker/internal/memory/wrapper.go's Wrapper, generalized from that
// package's granular ReadU8/ReadU16/... accessors to the single
// whole-buffer Bytes() (codec.Memory's sole requirement) the codec's own
// bounds-checked load/store paths expect to index into directly, since
// spec.md section 6 has the core re-read this slice on every access
// rather than cache pointers across calls.
type Memory struct {
	Mem api.Memory
}

// WrapMemory adapts mem, or returns nil if mem is nil (mirroring the
// teacher's WrapMemory nil-safety for an uninstantiated module).
func WrapMemory(mem api.Memory) *Memory {
	if mem == nil {
		return nil
	}
	return &Memory{Mem: mem}
}

// Bytes returns the live backing slice for the memory's current size.
// wazero's Read(0, Size()) aliases the runtime's own linear memory
// buffer rather than copying it, so growth between calls is observed by
// re-calling Bytes, never by retaining an old slice.
func (m *Memory) Bytes() []byte {
	b, ok := m.Mem.Read(0, m.Mem.Size())
	if !ok {
		return nil
	}
	return b
}

// Allocator adapts a wazero cabi_realloc export to codec.Allocator.
// Grounded on linker/internal/memory/wrapper.go's AllocatorWrapper.
type Allocator struct {
	Ctx context.Context
	Fn  api.Function
}

// WrapAllocator adapts fn, or returns nil if fn is nil.
func WrapAllocator(ctx context.Context, fn api.Function) *Allocator {
	if fn == nil {
		return nil
	}
	return &Allocator{Ctx: ctx, Fn: fn}
}

// Realloc calls cabi_realloc(oldPtr, oldSize, align, newSize) and
// returns the new pointer.
func (a *Allocator) Realloc(oldPtr, oldSize, align, newSize uint32) (uint32, error) {
	results, err := a.Fn.Call(a.Ctx, uint64(oldPtr), uint64(oldSize), uint64(align), uint64(newSize))
	if err != nil {
		return 0, fmt.Errorf("cabi_realloc call failed: %w", err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("cabi_realloc returned no result")
	}
	return uint32(results[0]), nil
}

// NewTrapFunc builds a cerr.TrapFunc that records the most recent trap
// for diagnostics and then panics with it, so the codec's own
// rollback-on-panic machinery (Encoder.Lower) and wazero's panic-to-
// error conversion at the host/guest boundary both see a real unwind
// (cerr.TrapIf itself returns normally after calling a non-nil fn, so
// the unwind has to come from fn). The returned getter reads back
// the last trap recorded on this call, e.g. for logging after recovery.
func NewTrapFunc() (trap cerr.TrapFunc, lastTrap func() *cerr.Trap) {
	var last *cerr.Trap
	trap = func(tr *cerr.Trap) {
		last = tr
		Logger().Sugar().Warnw("canonical abi trap", "phase", tr.Err.Phase, "kind", tr.Err.Kind, "detail", tr.Err.Detail)
		panic(tr)
	}
	lastTrap = func() *cerr.Trap { return last }
	return trap, lastTrap
}

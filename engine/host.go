package engine

import (
	"context"
	"fmt"
	"runtime"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	cerr "github.com/canonabi/cabihost/errors"
	"github.com/canonabi/cabihost/hostabi"
	"github.com/canonabi/cabihost/instance"
	"github.com/canonabi/cabihost/task"
)

// builtinsContextKey and taskContextKey let a bound host function
// recover the Builtins/Task it should act on, mirroring the teacher's
// instanceContextKey/WithInstance/InstanceFromContext pattern in
// linker/instance.go, generalized from one Instance-shaped value to the
// two independent values a Canonical ABI call needs (the instance's
// Builtins, and the specific Task the active guest call belongs to).
type builtinsContextKey struct{}
type taskContextKey struct{}

// WithBuiltins attaches b to ctx for host functions invoked under it.
func WithBuiltins(ctx context.Context, b *hostabi.Builtins) context.Context {
	return context.WithValue(ctx, builtinsContextKey{}, b)
}

// BuiltinsFromContext recovers the Builtins attached by WithBuiltins,
// or nil if none is present.
func BuiltinsFromContext(ctx context.Context) *hostabi.Builtins {
	b, _ := ctx.Value(builtinsContextKey{}).(*hostabi.Builtins)
	return b
}

// WithTask attaches the Task driving the current guest call to ctx.
func WithTask(ctx context.Context, t *task.Task) context.Context {
	return context.WithValue(ctx, taskContextKey{}, t)
}

// TaskFromContext recovers the Task attached by WithTask, or nil.
func TaskFromContext(ctx context.Context) *task.Task {
	t, _ := ctx.Value(taskContextKey{}).(*task.Task)
	return t
}

func i32Fn(fn func(ctx context.Context, mod api.Module, args []uint32) []uint64) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		args := make([]uint32, len(stack))
		for i, v := range stack {
			args[i] = uint32(v)
		}
		for i, r := range fn(ctx, mod, args) {
			stack[i] = r
		}
	}
}

func exportI32Fn(hb wazero.HostModuleBuilder, name string, paramCount, resultCount int, fn func(ctx context.Context, mod api.Module, args []uint32) []uint64) {
	params := make([]api.ValueType, paramCount)
	results := make([]api.ValueType, resultCount)
	for i := range params {
		params[i] = api.ValueTypeI32
	}
	for i := range results {
		results[i] = api.ValueTypeI32
	}
	hb.NewFunctionBuilder().WithGoModuleFunction(i32Fn(fn), params, results).Export(name)
}

// RegisterResourceType binds resource.new/drop/rep for one resource
// type under namePrefix+".new"/".drop"/".rep", each call resolving its
// Builtins from context and operating on the fixed typeID closed over
// here - per spec.md section 6, a distinct host import exists per
// resource type, so typeID is a registration-time constant rather than
// a guest-supplied argument.
func RegisterResourceType(hb wazero.HostModuleBuilder, namePrefix string, typeID uint32) {
	exportI32Fn(hb, namePrefix+".new", 1, 1, func(ctx context.Context, _ api.Module, args []uint32) []uint64 {
		h := BuiltinsFromContext(ctx).ResourceNew(typeID, args[0])
		return []uint64{uint64(h)}
	})
	exportI32Fn(hb, namePrefix+".drop", 1, 0, func(ctx context.Context, _ api.Module, args []uint32) []uint64 {
		BuiltinsFromContext(ctx).ResourceDrop(typeID, instance.Handle(args[0]))
		return nil
	})
	exportI32Fn(hb, namePrefix+".rep", 1, 1, func(ctx context.Context, _ api.Module, args []uint32) []uint64 {
		rep := BuiltinsFromContext(ctx).ResourceRep(typeID, instance.Handle(args[0]))
		return []uint64{uint64(rep)}
	})
}

// stackValue converts one wazero stack slot to the any the hostabi
// layer expects, given the core value type it was declared with.
func stackValue(vt api.ValueType, raw uint64) any {
	switch vt {
	case api.ValueTypeI64:
		return raw
	case api.ValueTypeF32:
		return api.DecodeF32(raw)
	case api.ValueTypeF64:
		return api.DecodeF64(raw)
	default:
		return uint32(raw)
	}
}

// RegisterTaskReturn binds task.return under name with the given
// flattened result-value types. The actual flattened shape of
// task.return's values is a function of the exported function's result
// type (spec.md section 4.1's flattening rules), which only a WIT-aware
// code generator determines - out of this module's scope per DESIGN.md
// - so paramTypes is supplied by the caller at registration time.
func RegisterTaskReturn(hb wazero.HostModuleBuilder, name string, paramTypes []api.ValueType) {
	hb.NewFunctionBuilder().WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, _ api.Module, stack []uint64) {
		values := make([]any, len(paramTypes))
		for i, vt := range paramTypes {
			values[i] = stackValue(vt, stack[i])
		}
		BuiltinsFromContext(ctx).TaskReturn(TaskFromContext(ctx), values)
	}), paramTypes, nil).Export(name)
}

// RegisterTaskCancel binds task.cancel.
func RegisterTaskCancel(hb wazero.HostModuleBuilder, name string) {
	hb.NewFunctionBuilder().WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, _ api.Module, _ []uint64) {
		BuiltinsFromContext(ctx).TaskCancel(TaskFromContext(ctx))
	}), nil, nil).Export(name)
}

// RegisterYield binds yield: cancellable/inEventLoopCallback are fixed
// at registration time since they depend on the calling function's own
// async/sync and callback-vs-export context, not a guest argument.
func RegisterYield(hb wazero.HostModuleBuilder, name string, cancellable, inEventLoopCallback bool) {
	exportI32Fn(hb, name, 0, 1, func(ctx context.Context, _ api.Module, _ []uint32) []uint64 {
		cancelled := BuiltinsFromContext(ctx).Yield(TaskFromContext(ctx), cancellable, inEventLoopCallback)
		if cancelled {
			return []uint64{1}
		}
		return []uint64{0}
	})
}

// RegisterBackpressure binds backpressure.set/inc/dec.
func RegisterBackpressure(hb wazero.HostModuleBuilder, setName, incName, decName string) {
	exportI32Fn(hb, setName, 1, 0, func(ctx context.Context, _ api.Module, args []uint32) []uint64 {
		BuiltinsFromContext(ctx).BackpressureSet(args[0] != 0)
		return nil
	})
	exportI32Fn(hb, incName, 0, 0, func(ctx context.Context, _ api.Module, _ []uint32) []uint64 {
		BuiltinsFromContext(ctx).BackpressureInc()
		return nil
	})
	exportI32Fn(hb, decName, 0, 0, func(ctx context.Context, _ api.Module, _ []uint32) []uint64 {
		BuiltinsFromContext(ctx).BackpressureDec()
		return nil
	})
}

// packEvent writes an Event's index and payload as two consecutive u32
// words at out in the calling module's memory; the event code is the
// wait/poll binding's return value. When no event was found both words
// are written as zero.
func packEvent(mem api.Memory, out uint32, ev instance.Event, found bool) {
	if !found {
		mem.WriteUint32Le(out, 0)
		mem.WriteUint32Le(out+4, 0)
		return
	}
	mem.WriteUint32Le(out, ev.Index)
	mem.WriteUint32Le(out+4, ev.Payload)
}

// RegisterWaitableSet binds waitable-set.new/wait/poll/drop and
// waitable.join. waitName is the *synchronous* binding: a sync-context
// waitable-set.wait genuinely blocks the calling thread until a member
// waitable has a pending event, which this implements by parking the Go
// goroutine the wazero call itself runs on rather than returning control
// to an event loop. The suspend-then-finish two-step hostabi.Builtins
// exposes (WaitableSetWait/WaitableSetFinishWait) is for the
// async-context case, where a suspended export unwinds back to the host
// between the two steps; wiring that path through a real resume
// trampoline belongs to whatever constructs the runtime around this host
// module, not to this registration helper, so it is not bound here.
func RegisterWaitableSet(hb wazero.HostModuleBuilder, newName, waitName, pollName, dropName, joinName string) {
	exportI32Fn(hb, newName, 0, 1, func(ctx context.Context, _ api.Module, _ []uint32) []uint64 {
		idx := BuiltinsFromContext(ctx).WaitableSetNew()
		return []uint64{uint64(idx)}
	})
	exportI32Fn(hb, waitName, 2, 1, func(ctx context.Context, mod api.Module, args []uint32) []uint64 {
		b := BuiltinsFromContext(ctx)
		tsk := TaskFromContext(ctx)
		ev, ok := b.WaitableSetWait(tsk, instance.Index(args[0]))
		for !ok {
			runtime.Gosched()
			if !tsk.Thread.Ready() {
				continue
			}
			ev, ok = b.WaitableSetFinishWait(instance.Index(args[0]))
		}
		packEvent(mod.Memory(), args[1], ev, ok)
		return []uint64{uint64(ev.Code)}
	})
	exportI32Fn(hb, pollName, 2, 1, func(ctx context.Context, mod api.Module, args []uint32) []uint64 {
		ev, ok := BuiltinsFromContext(ctx).WaitableSetPoll(instance.Index(args[0]))
		packEvent(mod.Memory(), args[1], ev, ok)
		return []uint64{uint64(ev.Code)}
	})
	exportI32Fn(hb, dropName, 1, 0, func(ctx context.Context, _ api.Module, args []uint32) []uint64 {
		BuiltinsFromContext(ctx).WaitableSetDrop(instance.Index(args[0]))
		return nil
	})
	exportI32Fn(hb, joinName, 2, 0, func(ctx context.Context, _ api.Module, args []uint32) []uint64 {
		BuiltinsFromContext(ctx).WaitableJoin(instance.Index(args[0]), instance.Index(args[1]))
		return nil
	})
}

// RegisterContextLocal binds context.get/set.
func RegisterContextLocal(hb wazero.HostModuleBuilder, getName, setName string) {
	exportI32Fn(hb, getName, 1, 1, func(ctx context.Context, _ api.Module, args []uint32) []uint64 {
		v := BuiltinsFromContext(ctx).ContextGet(TaskFromContext(ctx), args[0])
		return []uint64{uint64(v)}
	})
	exportI32Fn(hb, setName, 2, 0, func(ctx context.Context, _ api.Module, args []uint32) []uint64 {
		BuiltinsFromContext(ctx).ContextSet(TaskFromContext(ctx), args[0], args[1])
		return nil
	})
}

// RegisterErrorContext binds error-context.new/debug-message/drop.
// new/debug-message read and write the guest's declared string
// encoding directly through the calling module's memory, the same
// shape the codec package's own string path uses (ptr, tagged length).
func RegisterErrorContext(hb wazero.HostModuleBuilder, newName, debugMessageName, dropName string, decodeMessage func(mem api.Memory, ptr, taggedUnits uint32) (string, error), encodeMessage func(mem api.Memory, realloc api.Function, s string) (ptr, taggedUnits uint32, err error)) {
	exportI32Fn(hb, newName, 2, 1, func(ctx context.Context, mod api.Module, args []uint32) []uint64 {
		msg, err := decodeMessage(mod.Memory(), args[0], args[1])
		if err != nil {
			panic(fmt.Errorf("error-context.new: %w", err))
		}
		idx := BuiltinsFromContext(ctx).ErrorContextNew(msg)
		return []uint64{uint64(idx)}
	})
	exportI32Fn(hb, debugMessageName, 2, 0, func(ctx context.Context, mod api.Module, args []uint32) []uint64 {
		msg := BuiltinsFromContext(ctx).ErrorContextDebugMessage(instance.Index(args[0]))
		ptr, taggedUnits, err := encodeMessage(mod.Memory(), nil, msg)
		if err != nil {
			panic(fmt.Errorf("error-context.debug-message: %w", err))
		}
		mod.Memory().WriteUint32Le(args[1], ptr)
		mod.Memory().WriteUint32Le(args[1]+4, taggedUnits)
		return nil
	})
	exportI32Fn(hb, dropName, 1, 0, func(ctx context.Context, _ api.Module, args []uint32) []uint64 {
		BuiltinsFromContext(ctx).ErrorContextDrop(instance.Index(args[0]))
		return nil
	})
}

// writeElems blits each byte slice in elems into mem starting at offset,
// one after another, and is shared by stream.read and future.read's
// copyOut callbacks.
func writeElems(mem api.Memory, offset uint32, elems [][]byte) {
	for _, e := range elems {
		mem.Write(offset, e)
		offset += uint32(len(e))
	}
}

// readElems reads count elemSize-byte elements out of mem starting at
// ptr, trapping through trap on an out-of-bounds read.
func readElems(mem api.Memory, trap cerr.TrapFunc, ptr, elemSize, count uint32) [][]byte {
	elems := make([][]byte, count)
	offset := ptr
	for i := range elems {
		b, ok := mem.Read(offset, elemSize)
		cerr.TrapIf(trap, !ok, cerr.PhaseMemory, cerr.KindOutOfBounds, "stream/future write: out-of-bounds read")
		elems[i] = append([]byte(nil), b...)
		offset += elemSize
	}
	return elems
}

// RegisterStream binds stream.new/read/write/cancel-read/cancel-write/
// drop-readable/drop-writable under namePrefix, for one stream element
// shape. Per spec.md section 6's table, stream.new takes no guest
// argument and stream.read/write take no sync flag - both are a
// function of the exported function's declared element type and async
// mode, so elemSize/elemAlign/typeID and readWriteSync are registration-
// time constants, the same boundary RegisterResourceType draws for
// typeID. stream.cancel-read/cancel-write do take an explicit sync
// argument per that same table, so it is read off the guest stack there
// instead.
func RegisterStream(hb wazero.HostModuleBuilder, namePrefix string, elemSize, elemAlign, typeID uint32, readWriteSync bool) {
	hb.NewFunctionBuilder().WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, _ api.Module, stack []uint64) {
		r, w := BuiltinsFromContext(ctx).StreamNew(elemSize, elemAlign, typeID)
		stack[0] = uint64(w)<<32 | uint64(r)
	}), nil, []api.ValueType{api.ValueTypeI64}).Export(namePrefix + ".new")

	exportI32Fn(hb, namePrefix+".read", 3, 1, func(ctx context.Context, mod api.Module, args []uint32) []uint64 {
		b := BuiltinsFromContext(ctx)
		ev, blocked := b.StreamRead(instance.Index(args[0]), readWriteSync, args[2], func(elems [][]byte) {
			writeElems(mod.Memory(), args[1], elems)
		})
		if blocked {
			return []uint64{uint64(instance.PackPayload(instance.StatusBlocked, 0))}
		}
		return []uint64{uint64(ev.Payload)}
	})
	exportI32Fn(hb, namePrefix+".write", 3, 1, func(ctx context.Context, mod api.Module, args []uint32) []uint64 {
		b := BuiltinsFromContext(ctx)
		elems := readElems(mod.Memory(), b.Trap, args[1], elemSize, args[2])
		ev := b.StreamWrite(instance.Index(args[0]), elems)
		return []uint64{uint64(ev.Payload)}
	})
	exportI32Fn(hb, namePrefix+".cancel-read", 2, 1, func(ctx context.Context, _ api.Module, args []uint32) []uint64 {
		ev := BuiltinsFromContext(ctx).StreamCancelRead(instance.Index(args[0]), args[1] != 0)
		return []uint64{uint64(ev.Payload)}
	})
	exportI32Fn(hb, namePrefix+".cancel-write", 2, 1, func(ctx context.Context, _ api.Module, args []uint32) []uint64 {
		ev := BuiltinsFromContext(ctx).StreamCancelWrite(instance.Index(args[0]), args[1] != 0)
		return []uint64{uint64(ev.Payload)}
	})
	exportI32Fn(hb, namePrefix+".drop-readable", 1, 0, func(ctx context.Context, _ api.Module, args []uint32) []uint64 {
		BuiltinsFromContext(ctx).StreamDropReadable(instance.Index(args[0]))
		return nil
	})
	exportI32Fn(hb, namePrefix+".drop-writable", 1, 0, func(ctx context.Context, _ api.Module, args []uint32) []uint64 {
		BuiltinsFromContext(ctx).StreamDropWritable(instance.Index(args[0]))
		return nil
	})
}

// RegisterFuture binds future.new/read/write/cancel-read/cancel-write/
// drop-readable/drop-writable under namePrefix, the one-shot analog of
// RegisterStream: future.read/write move exactly one elemSize-byte
// value rather than a guest-supplied count.
func RegisterFuture(hb wazero.HostModuleBuilder, namePrefix string, elemSize, elemAlign, typeID uint32, readWriteSync bool) {
	hb.NewFunctionBuilder().WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, _ api.Module, stack []uint64) {
		r, w := BuiltinsFromContext(ctx).FutureNew(elemSize, elemAlign, typeID)
		stack[0] = uint64(w)<<32 | uint64(r)
	}), nil, []api.ValueType{api.ValueTypeI64}).Export(namePrefix + ".new")

	exportI32Fn(hb, namePrefix+".read", 2, 1, func(ctx context.Context, mod api.Module, args []uint32) []uint64 {
		b := BuiltinsFromContext(ctx)
		ev, blocked := b.FutureRead(instance.Index(args[0]), readWriteSync, func(elems [][]byte) {
			writeElems(mod.Memory(), args[1], elems)
		})
		if blocked {
			return []uint64{uint64(instance.PackPayload(instance.StatusBlocked, 0))}
		}
		return []uint64{uint64(ev.Payload)}
	})
	exportI32Fn(hb, namePrefix+".write", 2, 1, func(ctx context.Context, mod api.Module, args []uint32) []uint64 {
		b := BuiltinsFromContext(ctx)
		elems := readElems(mod.Memory(), b.Trap, args[1], elemSize, 1)
		ev := b.FutureWrite(instance.Index(args[0]), elems[0])
		return []uint64{uint64(ev.Payload)}
	})
	exportI32Fn(hb, namePrefix+".cancel-read", 2, 1, func(ctx context.Context, _ api.Module, args []uint32) []uint64 {
		ev := BuiltinsFromContext(ctx).FutureCancelRead(instance.Index(args[0]), args[1] != 0)
		return []uint64{uint64(ev.Payload)}
	})
	exportI32Fn(hb, namePrefix+".cancel-write", 2, 1, func(ctx context.Context, _ api.Module, args []uint32) []uint64 {
		ev := BuiltinsFromContext(ctx).FutureCancelWrite(instance.Index(args[0]), args[1] != 0)
		return []uint64{uint64(ev.Payload)}
	})
	exportI32Fn(hb, namePrefix+".drop-readable", 1, 0, func(ctx context.Context, _ api.Module, args []uint32) []uint64 {
		BuiltinsFromContext(ctx).FutureDropReadable(instance.Index(args[0]))
		return nil
	})
	exportI32Fn(hb, namePrefix+".drop-writable", 1, 0, func(ctx context.Context, _ api.Module, args []uint32) []uint64 {
		BuiltinsFromContext(ctx).FutureDropWritable(instance.Index(args[0]))
		return nil
	})
}

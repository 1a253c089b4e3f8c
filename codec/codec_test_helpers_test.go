package codec

import (
	"github.com/canonabi/cabihost/instance"
)

type fakeMemory struct {
	buf []byte
}

func (m *fakeMemory) Bytes() []byte { return m.buf }

type bumpAllocator struct {
	mem  *fakeMemory
	next uint32
}

func alignUp(v, align uint32) uint32 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

func (a *bumpAllocator) Realloc(oldPtr, oldSize, align, newSize uint32) (uint32, error) {
	if newSize == 0 {
		return 0, nil
	}
	ptr := alignUp(a.next, align)
	end := ptr + newSize
	if end > uint32(len(a.mem.buf)) {
		grown := make([]byte, end)
		copy(grown, a.mem.buf)
		a.mem.buf = grown
	}
	a.next = end
	return ptr, nil
}

func newTestContext(enc StringEncoding) (*Context, *fakeMemory) {
	mem := &fakeMemory{buf: make([]byte, 4096)}
	alloc := &bumpAllocator{mem: mem, next: 4096}
	opts := CanonicalOptions{Options: Options{StringEncoding: enc, Memory: mem, Allocator: alloc}}
	return NewContext(opts, nil, instance.NewComponentInstance()), mem
}

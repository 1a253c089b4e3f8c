package codec

import (
	"sync"

	"go.uber.org/zap"

	cerr "github.com/canonabi/cabihost/errors"
	"github.com/canonabi/cabihost/instance"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the codec package's logger, a no-op until SetLogger is
// called.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the codec package's logger.
func SetLogger(l *zap.Logger) {
	logger = l
}

// StringEncoding names the guest's declared string encoding, which
// selects between the codec's UTF-8 path and its Latin-1/UTF-16
// adaptive codec.
type StringEncoding int

const (
	EncodingUTF8 StringEncoding = iota
	EncodingUTF16
	EncodingLatin1UTF16
)

// Memory is the engine's view of one call's linear memory: a byte
// slice that must be re-read on every access since realloc may grow it
// between calls (spec.md section 6: "the core never caches pointers
// across calls").
type Memory interface {
	Bytes() []byte
}

// Allocator performs guest-side allocation via the component's declared
// realloc export. oldPtr/oldSize/align describe the block being resized
// (oldSize 0 for a fresh allocation); newSize is the requested size.
type Allocator interface {
	Realloc(oldPtr, oldSize, align, newSize uint32) (uint32, error)
}

// Transcoder converts string bytes between two encodings. Options
// carries it for the embedder, but the codec's own string store/load
// paths never call it: UTF-8 strings are copied byte-for-byte and other
// encodings go through EncodeLatin1UTF16Adaptive/DecodeLatin1UTF16Adaptive.
type Transcoder interface {
	Transcode(dst []byte, src []byte, srcEnc, dstEnc StringEncoding) (written int, err error)
}

// Options is the embedder-supplied LiftLowerOptions: the guest's
// declared string encoding plus its Memory/Allocator/Transcoder.
type Options struct {
	StringEncoding StringEncoding
	Memory         Memory
	Allocator      Allocator
	Transcoder     Transcoder
}

// CanonicalOptions extends Options with the canon lift/lower attributes
// that only apply to function calls (spec.md section 3).
type CanonicalOptions struct {
	Options
	Async            bool
	PostReturn       func() error
	Callback         func(event uint32) (uint32, error)
	AlwaysTaskReturn bool
}

// Context is the per-call LiftLowerContext: the active options, the
// trap callback, the owning instance, and the borrow-scope bookkeeping
// that exit_call (spec.md section 5) must reconcile before returning.
type Context struct {
	Opts     CanonicalOptions
	Trap     cerr.TrapFunc
	Instance *instance.ComponentInstance
	Scope    *instance.Scope
	Lenders  []*instance.HandleElement
}

// NewContext creates a call context with a fresh borrow scope.
func NewContext(opts CanonicalOptions, trap cerr.TrapFunc, inst *instance.ComponentInstance) *Context {
	return &Context{
		Opts:     opts,
		Trap:     trap,
		Instance: inst,
		Scope:    instance.NewScope(),
	}
}

// ExitCall asserts the scope is empty of outstanding borrows and
// releases every recorded lender, per spec.md section 5's exit_call.
// Must run on every exit path of a lift/lower call.
func (c *Context) ExitCall() {
	for _, l := range c.Lenders {
		l.Unlend(c.Trap)
	}
	c.Lenders = nil
	c.Scope.AssertEmpty(c.Trap)
}

// addLender records that rep was lent from table/handle so ExitCall can
// release it later.
func (c *Context) addLender(el *instance.HandleElement) {
	c.Lenders = append(c.Lenders, el)
}

func (c *Context) bytes() []byte {
	return c.Opts.Memory.Bytes()
}

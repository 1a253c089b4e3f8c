package codec

// Variant is the host-side representation of a variant, option, or
// result value: a case index plus its payload (nil when the case
// carries none).
type Variant struct {
	Case uint32
	Val  any
}

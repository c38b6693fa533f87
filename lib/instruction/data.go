package instruction

// Data is a key or value as referenced by the wire layout: either inline bytes
// or a reference into the attachment table of the owning buffer.
type Data struct {
	inline    []byte
	ref       uint32
	outOfLine bool
}

// Inline returns inline data.
func Inline(b []byte) Data {
	return Data{inline: b}
}

// OutOfLine returns a reference to attachment ref.
func OutOfLine(ref uint32) Data {
	return Data{ref: ref, outOfLine: true}
}

// IsOutOfLine reports whether d references an attachment.
func (d Data) IsOutOfLine() bool {
	return d.outOfLine
}

// Ref returns the attachment index of out-of-line data.
func (d Data) Ref() uint32 {
	return d.ref
}

// Bytes returns the inline bytes (nil for out-of-line data).
func (d Data) Bytes() []byte {
	return d.inline
}

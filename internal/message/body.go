package message

import "io"

// BodyKind tags which representation a Body carries.
type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyBytes
	BodyStream
)

// StreamBody is an owned, seekable handle plus the number of bytes
// remaining to read from it, counted from the handle's current
// position. It exclusively owns Reader (SPEC_FULL.md §3 "Ownership");
// the codec or its caller is responsible for closing it exactly once.
type StreamBody struct {
	Reader io.ReadSeekCloser
	Length int64
}

// Body is the Bytes/Stream tagged variant from SPEC_FULL.md §3.
type Body struct {
	Kind   BodyKind
	Bytes  []byte
	Stream StreamBody
}

// NoBody is the zero-length, body-less value.
var NoBody = Body{Kind: BodyNone}

// NewBytesBody wraps b as a Bytes body.
func NewBytesBody(b []byte) Body {
	return Body{Kind: BodyBytes, Bytes: b}
}

// NewStreamBody wraps an owned reader of known length as a Stream body.
func NewStreamBody(r io.ReadSeekCloser, length int64) Body {
	return Body{Kind: BodyStream, Stream: StreamBody{Reader: r, Length: length}}
}

// Len returns the body's length in bytes, however it is represented.
func (b Body) Len() int64 {
	switch b.Kind {
	case BodyBytes:
		return int64(len(b.Bytes))
	case BodyStream:
		return b.Stream.Length
	default:
		return 0
	}
}

// Close releases the underlying stream handle, if any. Safe to call on
// any Body kind.
func (b Body) Close() error {
	if b.Kind == BodyStream && b.Stream.Reader != nil {
		return b.Stream.Reader.Close()
	}
	return nil
}

// Seek repositions a Stream body at offset from its start and shortens
// its remaining Length accordingly; it is a no-op (returns an error) on
// a Bytes or None body since those have no independent cursor to move —
// callers slice Bytes bodies directly instead.
func (b *Body) Seek(offset int64) error {
	if b.Kind != BodyStream {
		return io.ErrUnexpectedEOF
	}
	if _, err := b.Stream.Reader.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	b.Stream.Length -= offset
	return nil
}

// Slice trims a Bytes body to [low:high); it is the Bytes-kind
// counterpart to Seek.
func (b *Body) Slice(low, high int64) {
	b.Bytes = b.Bytes[low:high]
}

package utils

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// MaxLookahead is the largest number of bytes a BoundaryReader holds
// back while testing for a boundary.
const MaxLookahead = MaxBoundaryLen + 3

// BoundaryReader reads from a stream up to, and not including, a MIME
// boundary. The boundary is given with its leading dashes.
//
// MapServer does not reliably emit the newline that RFC 2046 puts in
// front of a boundary, so by default no newline is expected. Setting
// Strict makes the preceding LF part of the delimiter.
type BoundaryReader struct {
	src   *bufio.Reader
	delim []byte

	// bytes read from src that are not yet emitted; they are examined
	// again before anything new is read
	look []byte

	done   bool
	srcErr error
}

// NewBoundaryReader returns a reader that stops at boundary, or reads
// to the end of r if boundary is empty.
func NewBoundaryReader(r io.Reader, boundary string, strict bool) (*BoundaryReader, error) {
	if len(boundary) > MaxBoundaryLen+2 {
		return nil, fmt.Errorf("boundary too long: %d bytes", len(boundary))
	}
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	delim := []byte(boundary)
	if strict && len(delim) > 0 {
		delim = append([]byte{'\n'}, delim...)
	}
	return &BoundaryReader{
		src:   br,
		delim: delim,
		look:  make([]byte, 0, MaxLookahead),
	}, nil
}

// Done reports whether the boundary or the end of the stream was reached.
func (b *BoundaryReader) Done() bool {
	return b.done
}

func (b *BoundaryReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(b.delim) == 0 {
		return b.readPlain(p)
	}

	n := 0
	for n < len(p) && !b.done {
		c, ok := b.next()
		if !ok {
			b.done = true
			break
		}
		if c == b.delim[0] && b.matchRest() {
			b.done = true
			break
		}
		p[n] = c
		n++
	}

	if n == 0 && b.done {
		return 0, b.endErr()
	}
	return n, nil
}

func (b *BoundaryReader) readPlain(p []byte) (int, error) {
	if b.done {
		return 0, b.endErr()
	}
	n, err := b.src.Read(p)
	if err != nil {
		b.srcErr = err
		b.done = true
		if n > 0 {
			return n, nil
		}
		return 0, b.endErr()
	}
	return n, nil
}

func (b *BoundaryReader) endErr() error {
	if b.srcErr != nil && b.srcErr != io.EOF {
		return b.srcErr
	}
	return io.EOF
}

func (b *BoundaryReader) next() (byte, bool) {
	if len(b.look) > 0 {
		c := b.look[0]
		copy(b.look, b.look[1:])
		b.look = b.look[:len(b.look)-1]
		return c, true
	}
	if b.srcErr != nil {
		return 0, false
	}
	c, err := b.src.ReadByte()
	if err != nil {
		b.srcErr = err
		return 0, false
	}
	return c, true
}

// matchRest is called after the first delimiter byte has been taken.
// On a match the delimiter bytes are dropped; otherwise they stay in
// the look-ahead.
func (b *BoundaryReader) matchRest() bool {
	need := len(b.delim) - 1
	for len(b.look) < need && b.srcErr == nil {
		c, err := b.src.ReadByte()
		if err != nil {
			b.srcErr = err
			break
		}
		b.look = append(b.look, c)
	}
	if len(b.look) < need || !bytes.Equal(b.look[:need], b.delim[1:]) {
		return false
	}
	b.look = b.look[:copy(b.look, b.look[need:])]
	return true
}

// Remaining returns a reader positioned right after the boundary.
func (b *BoundaryReader) Remaining() io.Reader {
	if len(b.look) == 0 {
		return b.src
	}
	return io.MultiReader(bytes.NewReader(append([]byte(nil), b.look...)), b.src)
}

package utils

import (
	"bytes"
	"fmt"
	"io"
)

// ChunkSize is the read size used when loading binary payloads.
const ChunkSize = 4096

// LoadBinary reads r to the end into one buffer. It returns nil when
// the stream is empty.
func LoadBinary(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, ChunkSize)
	total := 0
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			total += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, WrapError(ErrDataLoad, err)
		}
	}

	if buf.Len() != total {
		panic(fmt.Sprintf("binary load: assembled %d bytes, read %d", buf.Len(), total))
	}
	if total == 0 {
		return nil, nil
	}
	return buf.Bytes(), nil
}

// LoadBinaryPart reads r up to the given MIME boundary.
func LoadBinaryPart(r io.Reader, boundary string) ([]byte, error) {
	br, err := NewBoundaryReader(r, boundary, false)
	if err != nil {
		return nil, WrapError(ErrParseMixedOutput, err)
	}
	return LoadBinary(br)
}

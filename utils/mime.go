package utils

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// MaxBoundaryLen is the longest MIME boundary allowed by RFC 2046,
// not counting the leading dashes.
const MaxBoundaryLen = 70

const blanks = " \t\r\n"

// SkipBlanks returns s without leading spaces, tabs, CRs and LFs.
func SkipBlanks(s string) string {
	return strings.TrimLeft(s, blanks)
}

// NextToken skips blanks and returns the next blank-delimited token
// together with the rest of the string.
func NextToken(s string) (string, string) {
	s = SkipBlanks(s)
	end := strings.IndexAny(s, blanks)
	if end < 0 {
		return s, ""
	}
	return s[:end], s[end:]
}

func isBoundaryChar(c byte) bool {
	switch {
	case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	}
	return strings.IndexByte("'()+_,-./:=? ", c) >= 0
}

// ScanBoundaryID extracts the boundary parameter of a multipart
// content-type value. Quotes around the value are removed and
// trailing spaces are not part of the boundary.
func ScanBoundaryID(contentType string) (string, bool) {
	idx := strings.Index(strings.ToLower(contentType), "boundary=")
	if idx < 0 {
		return "", false
	}
	s := contentType[idx+len("boundary="):]
	quoted := strings.HasPrefix(s, "\"")
	if quoted {
		s = s[1:]
	}

	n := 0
	for n < len(s) && isBoundaryChar(s[n]) {
		if !quoted && s[n] == ' ' {
			break
		}
		n++
	}
	id := strings.TrimRight(s[:n], " ")
	if len(id) == 0 || len(id) > MaxBoundaryLen {
		return "", false
	}
	return id, true
}

// BoundaryDelimiter returns the delimiter line prefix for a boundary id.
func BoundaryDelimiter(id string) string {
	return "--" + id
}

// IsEndBoundary reports whether line is the closing delimiter.
func IsEndBoundary(line, delim string) bool {
	return strings.HasPrefix(line, delim+"--")
}

// SeekToBoundary consumes r up to and including the next line starting
// with delim. It reports whether the delimiter found was the closing one.
// io.EOF is returned when no delimiter line is left.
func SeekToBoundary(r *bufio.Reader, delim string) (bool, error) {
	d := []byte(delim)
	atLineStart := true
	for {
		raw, err := r.ReadSlice('\n')
		if atLineStart && bytes.HasPrefix(raw, d) {
			end := IsEndBoundary(string(raw), delim)
			for err == bufio.ErrBufferFull {
				_, err = r.ReadSlice('\n')
			}
			if err != nil && err != io.EOF {
				return end, err
			}
			return end, nil
		}
		if err == bufio.ErrBufferFull {
			atLineStart = false
			continue
		}
		if err != nil {
			return false, err
		}
		atLineStart = true
	}
}

// ReadParts walks the parts of a multipart body and calls fn with the
// headers and content of each part. The content of a part ends right
// before the next delimiter; a missing CRLF before the delimiter is
// tolerated, a present one is kept in the content.
func ReadParts(body io.Reader, contentType string, fn func(h *HeaderValues, content []byte) error) error {
	id, ok := ScanBoundaryID(contentType)
	if !ok {
		return NewError(ErrParseMixedOutput, "no boundary in content type")
	}
	delim := BoundaryDelimiter(id)
	r := bufio.NewReader(body)

	end, err := SeekToBoundary(r, delim)
	if err != nil {
		return WrapError(ErrParseMixedOutput, err)
	}
	for !end {
		h, err := ReadHeaders(r, MaxHeaderBlockLen)
		if err != nil {
			return err
		}
		content, err := LoadBinaryPart(r, delim)
		if err != nil {
			return err
		}
		if err := fn(h, content); err != nil {
			return err
		}

		tail, err := r.ReadString('\n')
		end = err != nil || strings.HasPrefix(tail, "--")
	}
	return nil
}

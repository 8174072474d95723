package utils

import (
	"bufio"
	"io"
	"strings"
)

// MaxHeaderBlockLen bounds the HTTP-style header block of a backend
// response. Real MapServer responses are far smaller.
const MaxHeaderBlockLen = 2560

const (
	HeaderContentType = iota
	HeaderDescription
	HeaderID
	HeaderTransferEncoding
	numHeaders
)

var headerKeys = [numHeaders]string{
	"Content-type:",
	"Content-Description:",
	"Content-ID:",
	"Content-Transfer-Encoding:",
}

const headerTrimSet = " \t\r\n"

// HeaderValues holds the known MIME header values of one response or
// multipart part. The first occurrence of a header wins.
type HeaderValues struct {
	values  [numHeaders]string
	present [numHeaders]bool
}

func (h *HeaderValues) Get(key int) (string, bool) {
	if key < 0 || key >= numHeaders {
		return "", false
	}
	return h.values[key], h.present[key]
}

func (h *HeaderValues) ContentType() string      { return h.values[HeaderContentType] }
func (h *HeaderValues) Description() string      { return h.values[HeaderDescription] }
func (h *HeaderValues) ID() string               { return h.values[HeaderID] }
func (h *HeaderValues) TransferEncoding() string { return h.values[HeaderTransferEncoding] }

func (h *HeaderValues) HasContentType() bool {
	return h.present[HeaderContentType] && len(h.values[HeaderContentType]) > 0
}

func (h *HeaderValues) parseLine(line string) {
	for i, key := range headerKeys {
		if len(line) < len(key) || !strings.EqualFold(line[:len(key)], key) {
			continue
		}
		if !h.present[i] {
			h.values[i] = strings.Trim(line[len(key):], headerTrimSet)
			h.present[i] = true
		}
		return
	}
}

func isBlankLine(line string) bool {
	return len(strings.TrimRight(line, "\r\n")) == 0
}

// ReadHeaders reads header lines from r up to and including the first
// blank line. Bytes after the blank line are left unread in r. The
// block must fit within limit bytes; a limit <= 0 means unbounded.
func ReadHeaders(r *bufio.Reader, limit int) (*HeaderValues, error) {
	h := &HeaderValues{}
	consumed := 0
	for {
		raw, err := r.ReadSlice('\n')
		consumed += len(raw)
		if limit > 0 && consumed > limit {
			return nil, NewError(ErrContentHeaders, "header block exceeds limit")
		}
		if err == bufio.ErrBufferFull {
			return nil, NewError(ErrContentHeaders, "header line too long")
		}

		line := string(raw)
		if err == nil && isBlankLine(line) {
			return h, nil
		}
		if len(line) > 0 {
			h.parseLine(line)
		}

		if err == io.EOF {
			return h, nil
		}
		if err != nil {
			return nil, WrapError(ErrContentHeaders, err)
		}
	}
}

// ParseHeaderBlock parses an in-memory header blob.
func ParseHeaderBlock(blob string) *HeaderValues {
	h, err := ReadHeaders(bufio.NewReader(strings.NewReader(blob)), 0)
	if err != nil {
		return &HeaderValues{}
	}
	return h
}

// ContentType is the classification of a backend content-type value.
type ContentType int

const (
	ContentUnknown ContentType = iota
	ContentXML
	ContentMixed
	ContentTIFF
	ContentSEXML
)

func (c ContentType) String() string {
	switch c {
	case ContentXML:
		return "xml"
	case ContentMixed:
		return "mixed"
	case ContentTIFF:
		return "tiff"
	case ContentSEXML:
		return "sexml"
	}
	return "unknown"
}

// checked in order, first prefix match wins
var contentTypePrefixes = []struct {
	prefix string
	ct     ContentType
}{
	{"text/xml", ContentXML},
	{"multipart/mixed", ContentMixed},
	{"image/tiff", ContentTIFF},
	{"application/vnd.ogc.se_xml", ContentSEXML},
}

// ClassifyContentType matches the content-type value, after leading
// blanks, case-sensitively against the known types.
func ClassifyContentType(value string) ContentType {
	value = SkipBlanks(value)
	for _, p := range contentTypePrefixes {
		if strings.HasPrefix(value, p.prefix) {
			return p.ct
		}
	}
	return ContentUnknown
}

// IsTextType reports whether content of this type can be dumped to a log.
func IsTextType(value string) bool {
	value = strings.ToLower(SkipBlanks(value))
	return strings.HasPrefix(value, "text/") || strings.Contains(value, "xml")
}

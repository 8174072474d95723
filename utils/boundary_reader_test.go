package utils

import (
	"io"
	"io/ioutil"
	"strings"
	"testing"
)

func readAllBytewise(r io.Reader) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		sb.Write(buf[:n])
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
	}
}

func TestBoundaryReader(t *testing.T) {
	cases := []struct {
		input    string
		boundary string
		strict   bool
		content  string
		rest     string
	}{
		{"hello world--abc rest", "--abc", false, "hello world", " rest"},
		{"a--ab--abcZ", "--abc", false, "a--ab", "Z"},
		{"---abc!", "--abc", false, "-", "!"},
		{"no delimiter --ab", "--abc", false, "no delimiter --ab", ""},
		{"--abc", "--abc", false, "", ""},
		{"data--abc\n--abc\r\n", "--abc", true, "data--abc", "\r\n"},
		{"plain stream", "", false, "plain stream", ""},
	}

	for _, c := range cases {
		br, err := NewBoundaryReader(strings.NewReader(c.input), c.boundary, c.strict)
		if err != nil {
			t.Errorf("NewBoundaryReader(%q) failed: %v", c.boundary, err)
			continue
		}
		content, err := ioutil.ReadAll(br)
		if err != nil {
			t.Errorf("read of %q failed: %v", c.input, err)
			continue
		}
		if string(content) != c.content {
			t.Errorf("content of %q failed. Expecting %q, actual: %q", c.input, c.content, content)
		}
		if !br.Done() {
			t.Errorf("reader of %q should be done", c.input)
		}
		if len(c.boundary) == 0 {
			continue
		}
		rest, _ := ioutil.ReadAll(br.Remaining())
		if string(rest) != c.rest {
			t.Errorf("remaining of %q failed. Expecting %q, actual: %q", c.input, c.rest, rest)
		}
	}
}

func TestBoundaryReaderSmallReads(t *testing.T) {
	input := "--x--xy--xyz-" + strings.Repeat("payload-", 100) + "--xyz tail"
	br, err := NewBoundaryReader(strings.NewReader(input), "--xyz", false)
	if err != nil {
		t.Errorf("NewBoundaryReader failed: %v", err)
		return
	}
	content, err := readAllBytewise(br)
	if err != nil {
		t.Errorf("bytewise read failed: %v", err)
		return
	}
	expected := input[:strings.LastIndex(input, "--xyz")]
	expected = expected[:strings.Index(expected, "--xyz")]
	if content != expected {
		t.Errorf("bytewise read failed. Expecting %q, actual: %q", expected, content)
	}
}

func TestBoundaryReaderLookaheadBound(t *testing.T) {
	boundary := "--" + strings.Repeat("b", MaxBoundaryLen)
	input := boundary[:len(boundary)-1] + "X" + boundary + "tail"
	br, err := NewBoundaryReader(strings.NewReader(input), boundary, false)
	if err != nil {
		t.Errorf("NewBoundaryReader with a %d byte boundary failed: %v", len(boundary), err)
		return
	}
	content, _ := ioutil.ReadAll(br)
	if string(content) != boundary[:len(boundary)-1]+"X" {
		t.Errorf("long boundary failed, actual: %q", content)
	}
	if cap(br.look) > MaxLookahead {
		t.Errorf("look-ahead grew to %d bytes, limit is %d", cap(br.look), MaxLookahead)
	}

	if _, err := NewBoundaryReader(strings.NewReader(""), boundary+"b", false); err == nil {
		t.Errorf("boundary longer than %d bytes should be rejected", MaxBoundaryLen)
	}
}

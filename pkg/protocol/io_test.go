package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

type shortWriter struct {
	w   io.Writer
	max int
}

func (s *shortWriter) Write(p []byte) (int, error) {
	if len(p) > s.max {
		p = p[:s.max]
	}
	return s.w.Write(p)
}

func TestWriteFullRetriesShortWrites(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFull(&shortWriter{w: &buf, max: 3}, []byte("hello world")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.String() != "hello world" {
		t.Fatalf("expected full write, got %q", buf.String())
	}
	if err := WriteFull(&shortWriter{w: &buf, max: 0}, []byte("x")); !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("expected ErrShortWrite, got %v", err)
	}
}

func TestReadMessageIsBounded(t *testing.T) {
	long := strings.Repeat("a", MessageBufferSize+10)
	r := strings.NewReader(long)

	first, err := ReadMessage(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != MessageBufferSize {
		t.Fatalf("expected %d bytes, got %d", MessageBufferSize, len(first))
	}
	second, err := ReadMessage(r)
	if err != nil || len(second) != 10 {
		t.Fatalf("expected remaining 10 bytes, got %d (%v)", len(second), err)
	}
	if _, err := ReadMessage(r); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

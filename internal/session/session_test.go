package session

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type stubCloser struct {
	mu     sync.Mutex
	closed int
}

func (s *stubCloser) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func TestRegistry_Add(t *testing.T) {
	reg := NewRegistry()
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000}

	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s := reg.Add(&stubCloser{}, addr, "tcp")
		if ids[s.ID] {
			t.Errorf("Duplicate session ID: %s", s.ID)
		}
		ids[s.ID] = true

		if _, err := uuid.Parse(s.ID); err != nil {
			t.Errorf("Session ID %q is not a UUID: %v", s.ID, err)
		}
		if s.RemoteAddr != "127.0.0.1:4000" || s.Transport != "tcp" {
			t.Errorf("unexpected session %+v", s)
		}
		if s.StartedAt.IsZero() {
			t.Error("StartedAt should not be zero")
		}
	}
	if reg.Count() != 100 {
		t.Fatalf("Count = %d, want 100", reg.Count())
	}
}

func TestRegistry_Remove(t *testing.T) {
	reg := NewRegistry()
	s := reg.Add(&stubCloser{}, nil, "ws")

	if got := reg.List(); len(got) != 1 || got[0] != s {
		t.Fatalf("List = %+v", got)
	}
	if s.RemoteAddr != "" {
		t.Fatalf("expected empty remote addr, got %q", s.RemoteAddr)
	}
	if !reg.Remove(s.ID) {
		t.Fatal("Remove should report the session was present")
	}
	if reg.Remove(s.ID) {
		t.Fatal("second Remove should report absence")
	}
	if reg.Count() != 0 {
		t.Fatal("session should be gone")
	}
}

func TestRegistry_ListOldestFirst(t *testing.T) {
	reg := NewRegistry()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	first := reg.Add(&stubCloser{}, nil, "tcp")
	now = now.Add(time.Second)
	second := reg.Add(&stubCloser{}, nil, "quic")

	list := reg.List()
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatalf("unexpected order %+v", list)
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	reg := NewRegistry()
	a, b := &stubCloser{}, &stubCloser{}
	reg.Add(a, nil, "tcp")
	reg.Add(b, nil, "tcp")

	if n := reg.CloseAll(); n != 2 {
		t.Fatalf("CloseAll = %d, want 2", n)
	}
	if a.closed != 1 || b.closed != 1 {
		t.Fatalf("expected each conn closed once, got %d and %d", a.closed, b.closed)
	}
	// sessions stay until their workers remove them
	if reg.Count() != 2 {
		t.Fatalf("Count = %d, want 2", reg.Count())
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := reg.Add(&stubCloser{}, nil, "tcp")
			reg.List()
			reg.Remove(s.ID)
		}()
	}
	wg.Wait()
	if reg.Count() != 0 {
		t.Fatalf("Count = %d, want 0", reg.Count())
	}
}

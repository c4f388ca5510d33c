package idgen

import (
	"strings"
	"sync"
	"testing"
)

func TestCompact_LengthAndAlphabet(t *testing.T) {
	gen := Compact()
	for range 100 {
		id := gen()
		if len(id) != 22 {
			t.Fatalf("Compact: got length %d for %q", len(id), id)
		}
		if strings.ContainsAny(id, "+/=") {
			t.Fatalf("Compact: not URL-safe/unpadded: %q", id)
		}
	}
}

func TestCompact_RoundTrip(t *testing.T) {
	id := Compact()()
	u, err := ParseCompact(id)
	if err != nil {
		t.Fatalf("ParseCompact(%q): %v", id, err)
	}
	if u.Version() != 4 {
		t.Fatalf("version = %d, want 4", u.Version())
	}
}

func TestCompact_Uniqueness(t *testing.T) {
	gen := Compact()
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := gen()
		if _, ok := seen[id]; ok {
			t.Fatalf("Compact: duplicate at iteration %d: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestParseCompact_Invalid(t *testing.T) {
	if _, err := ParseCompact("not base64!"); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := ParseCompact("AAAA"); err == nil {
		t.Fatal("expected length error")
	}
}

func TestNanoID_Length(t *testing.T) {
	for _, length := range []int{8, 12, 16, 24} {
		if id := NanoID(length)(); len(id) != length {
			t.Fatalf("NanoID(%d): got length %d", length, len(id))
		}
	}
}

func TestRequestID_Short(t *testing.T) {
	a, b := RequestID(), RequestID()
	if len(a) != 12 || a == b {
		t.Fatalf("RequestID: got %q and %q", a, b)
	}
}

func TestSequential(t *testing.T) {
	gen := Sequential("24/12345/FUL")
	for _, want := range []string{"24/12345/FUL_1", "24/12345/FUL_2", "24/12345/FUL_3"} {
		if got := gen(); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestSequential_Concurrent(t *testing.T) {
	gen := Sequential("app")
	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := gen()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != 50 {
		t.Fatalf("got %d distinct ids, want 50", len(seen))
	}
}

func TestNew_UsesDefault(t *testing.T) {
	old := Default
	defer func() { Default = old }()
	Default = func() string { return "fixed" }
	if got := New(); got != "fixed" {
		t.Fatalf("New() = %q", got)
	}
}

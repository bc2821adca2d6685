package procspawn

import "testing"

func TestSegmentBytesRoundTrip(t *testing.T) {
	s := NewSegment([]byte("hello world"))
	if got := string(s.Bytes()); got != "hello world" {
		t.Fatalf("got %q", got)
	}
	if s.Size() != 11 {
		t.Fatalf("got size %d, want 11", s.Size())
	}
}

func TestSegmentMutationIsolation(t *testing.T) {
	src := []byte("abc")
	s := NewSegment(src)
	src[0] = 'z'
	if string(s.Bytes()) != "abc" {
		t.Fatalf("segment observed caller mutation: %q", s.Bytes())
	}
}

func TestConsolidateSingleNonEmptyReturnsSameSegment(t *testing.T) {
	a := NewSegment([]byte("only"))
	empty := NewSegment(nil)
	got, err := Consolidate(nil, empty, a, nil)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if got != a {
		t.Fatalf("expected Consolidate to return the same segment pointer when only one is non-empty")
	}
}

func TestConsolidateMultipleJoinsInOrder(t *testing.T) {
	a := NewSegment([]byte("foo"))
	b := NewSegment([]byte("bar"))
	c := NewSegment([]byte("baz"))
	got, err := Consolidate(a, b, c)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if got.Size() != 9 {
		t.Fatalf("got size %d, want 9", got.Size())
	}
	if string(got.Bytes()) != "foobarbaz" {
		t.Fatalf("got %q", got.Bytes())
	}
}

func TestConsolidateAllEmptyReturnsEmptySegment(t *testing.T) {
	got, err := Consolidate(nil, NewSegment(nil), NewSegment([]byte{}))
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if got.Size() != 0 {
		t.Fatalf("got size %d, want 0", got.Size())
	}
}

func TestSegmentEqualAndHash(t *testing.T) {
	a, err := Consolidate(NewSegment([]byte("fo")), NewSegment([]byte("o")))
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	b := NewSegment([]byte("foo"))
	if !a.Equal(b) {
		t.Fatalf("expected consolidated segment to equal a leaf segment with the same bytes")
	}
	if a.Hash() != b.Hash() {
		t.Fatalf("expected equal segments to hash equal")
	}
}

func TestSegmentGetAndContains(t *testing.T) {
	s, err := Consolidate(NewSegment([]byte("ab")), NewSegment([]byte("cd")))
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if s.Get(0) != 'a' || s.Get(3) != 'd' {
		t.Fatalf("Get returned wrong bytes")
	}
	if !s.Contains('c') || s.Contains('z') {
		t.Fatalf("Contains misbehaved")
	}
}

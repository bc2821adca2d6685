package procspawn

import (
	"errors"
	"math"
)

// Segment is an immutable, length-exact byte segment, or a consolidation
// ("rope") of segments. It never exposes a mutable backing array.
type Segment struct {
	// leaf holds the bytes directly when this Segment is not a
	// consolidation of other segments.
	leaf []byte
	// parts holds the underlying segments when this Segment is a
	// consolidated view; leaf is nil in that case.
	parts []*Segment
	size  int

	utf8Cached  bool
	utf8Value   string
	hashCached  bool
	hashValue   uint64
}

// NewSegment copies b into a new leaf Segment. The caller's slice is never
// retained.
func NewSegment(b []byte) *Segment {
	cp := make([]byte, len(b))
	copy(cp, b)
	return &Segment{leaf: cp, size: len(cp)}
}

// Size returns the total number of bytes in the segment.
func (s *Segment) Size() int {
	if s == nil {
		return 0
	}
	return s.size
}

// Get returns the byte at index, panicking if index is out of range, same
// as a slice index expression.
func (s *Segment) Get(index int) byte {
	if s.leaf != nil {
		return s.leaf[index]
	}
	for _, p := range s.parts {
		if index < p.size {
			return p.Get(index)
		}
		index -= p.size
	}
	panic("procspawn: Segment.Get: index out of range")
}

// Contains reports whether b appears as a byte in the segment.
func (s *Segment) Contains(b byte) bool {
	if s == nil {
		return false
	}
	if s.leaf != nil {
		for _, c := range s.leaf {
			if c == b {
				return true
			}
		}
		return false
	}
	for _, p := range s.parts {
		if p.Contains(b) {
			return true
		}
	}
	return false
}

// Iterator returns a function that yields successive bytes of the segment;
// it returns (0, false) once exhausted.
func (s *Segment) Iterator() func() (byte, bool) {
	bs := s.Bytes()
	i := 0
	return func() (byte, bool) {
		if i >= len(bs) {
			return 0, false
		}
		b := bs[i]
		i++
		return b, true
	}
}

// Bytes materializes the segment's contents into a fresh slice.
func (s *Segment) Bytes() []byte {
	if s == nil {
		return nil
	}
	out := make([]byte, s.size)
	s.CopyInto(out, 0, 0, s.size)
	return out
}

// CopyInto copies s[indexStart:indexEnd) into dest starting at destOffset.
func (s *Segment) CopyInto(dest []byte, destOffset, indexStart, indexEnd int) {
	if s == nil || indexStart >= indexEnd {
		return
	}
	if s.leaf != nil {
		copy(dest[destOffset:], s.leaf[indexStart:indexEnd])
		return
	}
	pos := 0
	written := 0
	for _, p := range s.parts {
		partStart := pos
		partEnd := pos + p.size
		pos = partEnd

		lo := max(indexStart, partStart)
		hi := min(indexEnd, partEnd)
		if lo >= hi {
			continue
		}
		p.CopyInto(dest, destOffset+written, lo-partStart, hi-partStart)
		written += hi - lo
	}
}

// UTF8 decodes the segment as UTF-8, caching the result.
func (s *Segment) UTF8() string {
	if s.utf8Cached {
		return s.utf8Value
	}
	s.utf8Value = string(s.Bytes())
	s.utf8Cached = true
	return s.utf8Value
}

// Equal reports value equality over bytes.
func (s *Segment) Equal(o *Segment) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil {
		return false
	}
	if s.size != o.size {
		return false
	}
	return string(s.Bytes()) == string(o.Bytes())
}

// Hash returns a cached FNV-1a hash of the segment's bytes.
func (s *Segment) Hash() uint64 {
	if s.hashCached {
		return s.hashValue
	}
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for _, b := range s.Bytes() {
		h ^= uint64(b)
		h *= prime64
	}
	s.hashValue = h
	s.hashCached = true
	return h
}

// ErrSegmentOverflow is returned by Consolidate when the sum of segment
// sizes would exceed math.MaxInt32.
var ErrSegmentOverflow = errors.New("procspawn: consolidated segment size overflows int32")

// Consolidate collapses a sequence of segments (any of which may be nil or
// empty) into a single logical segment without per-byte copying.
//
// A sequence containing exactly one non-empty, non-nil segment returns
// that same segment unchanged (no allocation); one with none returns a
// new empty segment. Otherwise Consolidate returns a segmented view
// backing the non-empty segments in order.
func Consolidate(segs ...*Segment) (*Segment, error) {
	var nonEmpty []*Segment
	var total int64
	for _, s := range segs {
		if s == nil || s.size == 0 {
			continue
		}
		nonEmpty = append(nonEmpty, s)
		total += int64(s.size)
	}
	if total > math.MaxInt32 {
		return nil, ErrSegmentOverflow
	}
	switch len(nonEmpty) {
	case 0:
		return &Segment{leaf: []byte{}, size: 0}, nil
	case 1:
		return nonEmpty[0], nil
	default:
		return &Segment{parts: nonEmpty, size: int(total)}, nil
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Package rangeset implements a sorted, disjoint set of half-open byte
// intervals. It is the single source of truth the download coordinator
// consults for what has been requested and what has actually landed on
// disk; nothing in this repository tracks download progress any other way.
package rangeset

import "sort"

// Range is a half-open byte interval [Start, End).
type Range struct {
	Start int64
	End   int64
}

// Length returns End - Start.
func (r Range) Length() int64 {
	return r.End - r.Start
}

func (r Range) empty() bool {
	return r.Start >= r.End
}

// Set maintains a sorted, non-overlapping, non-touching list of ranges.
// The zero value is an empty set ready to use.
type Set struct {
	items []Range
}

// New returns an empty Set.
func New() *Set {
	return &Set{}
}

// Clone returns an independent copy of s.
func (s *Set) Clone() *Set {
	out := &Set{items: make([]Range, len(s.items))}
	copy(out.items, s.items)
	return out
}

// IsEmpty reports whether the set has no members.
func (s *Set) IsEmpty() bool {
	return len(s.items) == 0
}

// Items returns a copy of the members in ascending start order.
func (s *Set) Items() []Range {
	out := make([]Range, len(s.items))
	copy(out, s.items)
	return out
}

// Add merges r into the set. Ranges that touch at endpoints (a.End ==
// b.Start) are merged, not just ranges that overlap. An empty r is a no-op.
func (s *Set) Add(r Range) {
	if r.empty() {
		return
	}

	if len(s.items) == 0 {
		s.items = append(s.items, r)
		return
	}

	// Find the first member that could touch or overlap r: one whose End
	// reaches at least r.Start (touching counts, hence >= not >).
	i := sort.Search(len(s.items), func(j int) bool {
		return s.items[j].End >= r.Start
	})

	merged := r
	j := i
	for j < len(s.items) && s.items[j].Start <= merged.End {
		if s.items[j].Start < merged.Start {
			merged.Start = s.items[j].Start
		}
		if s.items[j].End > merged.End {
			merged.End = s.items[j].End
		}
		j++
	}

	out := make([]Range, 0, len(s.items)-(j-i)+1)
	out = append(out, s.items[:i]...)
	out = append(out, merged)
	out = append(out, s.items[j:]...)
	s.items = out
}

// AddSet merges every member of other into s.
func (s *Set) AddSet(other *Set) {
	for _, r := range other.items {
		s.Add(r)
	}
}

// Subtract removes r ∩ s from the set. It may split an existing member into
// two. An empty r is a no-op.
func (s *Set) Subtract(r Range) {
	if r.empty() || len(s.items) == 0 {
		return
	}

	out := make([]Range, 0, len(s.items)+1)
	for _, m := range s.items {
		if m.End <= r.Start || m.Start >= r.End {
			// No overlap at all.
			out = append(out, m)
			continue
		}

		// r punches a hole: keep the left remainder, if any.
		if m.Start < r.Start {
			out = append(out, Range{Start: m.Start, End: r.Start})
		}
		// Keep the right remainder, if any.
		if m.End > r.End {
			out = append(out, Range{Start: r.End, End: m.End})
		}
		// Otherwise m is fully consumed by r and contributes nothing.
	}
	s.items = out
}

// SubtractSet removes every member of other from s.
func (s *Set) SubtractSet(other *Set) {
	for _, r := range other.items {
		s.Subtract(r)
	}
}

// Union returns a new set containing every byte covered by s or other.
func (s *Set) Union(other *Set) *Set {
	out := s.Clone()
	out.AddSet(other)
	return out
}

// Difference returns a new set containing bytes covered by s but not other.
func (s *Set) Difference(other *Set) *Set {
	out := s.Clone()
	out.SubtractSet(other)
	return out
}

// Intersection returns a new set containing bytes covered by both s and
// other, via a two-pointer sweep over both sorted member lists.
func (s *Set) Intersection(other *Set) *Set {
	out := &Set{}
	i, j := 0, 0
	for i < len(s.items) && j < len(other.items) {
		a, b := s.items[i], other.items[j]

		start := a.Start
		if b.Start > start {
			start = b.Start
		}
		end := a.End
		if b.End < end {
			end = b.End
		}
		if start < end {
			out.items = append(out.items, Range{Start: start, End: end})
		}

		if a.End < b.End {
			i++
		} else {
			j++
		}
	}
	return out
}

// Contains reports whether value falls inside some member.
func (s *Set) Contains(value int64) bool {
	return s.ContainedLengthFrom(value) > 0
}

// ContainedLengthFrom returns m.End - value for the member m that contains
// value, or 0 if no member contains it. Readers use this to learn how many
// contiguous bytes are available starting at their cursor.
func (s *Set) ContainedLengthFrom(value int64) int64 {
	i := sort.Search(len(s.items), func(j int) bool {
		return s.items[j].End > value
	})
	if i >= len(s.items) {
		return 0
	}
	m := s.items[i]
	if m.Start > value {
		return 0
	}
	return m.End - value
}

// FindMissing returns the sub-ranges of [start, end) not covered by s, in
// ascending order.
func (s *Set) FindMissing(start, end int64) []Range {
	if start >= end {
		return nil
	}
	if len(s.items) == 0 {
		return []Range{{Start: start, End: end}}
	}

	var missing []Range
	pos := start

	i := sort.Search(len(s.items), func(j int) bool {
		return s.items[j].End > start
	})

	for ; i < len(s.items) && pos < end; i++ {
		item := s.items[i]
		if item.Start > pos {
			gapEnd := item.Start
			if gapEnd > end {
				gapEnd = end
			}
			missing = append(missing, Range{Start: pos, End: gapEnd})
		}
		if item.End > pos {
			pos = item.End
		}
	}

	if pos < end {
		missing = append(missing, Range{Start: pos, End: end})
	}

	return missing
}

// TotalLength returns the sum of every member's length.
func (s *Set) TotalLength() int64 {
	var total int64
	for _, r := range s.items {
		total += r.Length()
	}
	return total
}

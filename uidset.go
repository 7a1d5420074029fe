package imap

import (
	"sort"
	"strconv"
	"strings"
)

// UIDRange is an inclusive [Start, End] range of UIDs.
type UIDRange struct {
	Start, End UID
}

// UIDSet is an ordered collection of UIDs, stored as a set of disjoint,
// sorted ranges so it can be encoded compactly as an IMAP sequence set
// (e.g. "3,5,7" or "1:1000,2000").
type UIDSet struct {
	ranges []UIDRange
}

// Add inserts uid into the set, merging it into an adjacent range if possible.
func (s *UIDSet) Add(uid UID) {
	for i := range s.ranges {
		r := &s.ranges[i]
		if uid >= r.Start && uid <= r.End {
			return
		}
		if uid+1 == r.Start {
			r.Start = uid
			s.mergeAt(i)
			return
		}
		if r.End+1 == uid {
			r.End = uid
			s.mergeAt(i)
			return
		}
	}
	s.ranges = append(s.ranges, UIDRange{Start: uid, End: uid})
	sort.Slice(s.ranges, func(i, j int) bool { return s.ranges[i].Start < s.ranges[j].Start })
}

func (s *UIDSet) mergeAt(i int) {
	sort.Slice(s.ranges, func(a, b int) bool { return s.ranges[a].Start < s.ranges[b].Start })
	merged := s.ranges[:0]
	for _, r := range s.ranges {
		if len(merged) > 0 && r.Start <= merged[len(merged)-1].End+1 {
			if r.End > merged[len(merged)-1].End {
				merged[len(merged)-1].End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	s.ranges = merged
}

// Empty reports whether the set contains no UIDs.
func (s *UIDSet) Empty() bool { return len(s.ranges) == 0 }

// Ranges returns the disjoint, sorted ranges backing the set.
func (s *UIDSet) Ranges() []UIDRange { return s.ranges }

// String renders the set using IMAP sequence-set syntax.
func (s *UIDSet) String() string {
	parts := make([]string, 0, len(s.ranges))
	for _, r := range s.ranges {
		if r.Start == r.End {
			parts = append(parts, strconv.FormatUint(uint64(r.Start), 10))
		} else {
			parts = append(parts, strconv.FormatUint(uint64(r.Start), 10)+":"+strconv.FormatUint(uint64(r.End), 10))
		}
	}
	return strings.Join(parts, ",")
}

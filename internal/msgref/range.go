// Package msgref parses message links and range expressions into message IDs.
package msgref

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrTooManyIDs is returned by ParseLimit when an expression expands past the cap.
var ErrTooManyIDs = errors.New("range expression selects too many messages")

// DefaultMaxIDs caps expressions parsed without an explicit bound.
const DefaultMaxIDs = 100000

// Span is an inclusive range of message ids
type Span struct {
	Min int // lowest message id
	Max int // highest message id
}

// Len returns the number of ids covered by the span
func (s Span) Len() int {
	return s.Max - s.Min + 1
}

// Extend expands the span to include new min/max values
func (s *Span) Extend(newMin, newMax int) {
	if newMin < s.Min {
		s.Min = newMin
	}
	if newMax > s.Max {
		s.Max = newMax
	}
}

// Spans returns the components of a range expression in input order.
// "N" becomes {N,N}; "N-M" and "M-N" both become {min,max}.
// Tokens that are not numbers or number pairs are skipped.
func Spans(raw string) []Span {
	var out []Span
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if lo, hi, ok := strings.Cut(part, "-"); ok {
			a, errA := parseID(lo)
			b, errB := parseID(hi)
			if errA != nil || errB != nil {
				continue
			}
			if a > b {
				a, b = b, a
			}
			out = append(out, Span{Min: a, Max: b})
			continue
		}

		id, err := parseID(part)
		if err != nil {
			continue
		}
		out = append(out, Span{Min: id, Max: id})
	}
	return out
}

// Parse turns a range expression ("18", "10-16", "1,4,5-10") into an
// ascending, duplicate-free list of message ids. Returns nil when nothing
// parses or the expression selects more than DefaultMaxIDs ids.
func Parse(raw string) []int {
	ids, _ := ParseLimit(raw, 0)
	return ids
}

// ParseLimit is Parse with an upper bound on the number of selected ids.
// max <= 0 means DefaultMaxIDs.
func ParseLimit(raw string, max int) ([]int, error) {
	spans := merge(Spans(raw))
	if len(spans) == 0 {
		return nil, nil
	}
	if max <= 0 {
		max = DefaultMaxIDs
	}

	total := 0
	for _, s := range spans {
		// compare before adding so huge spans cannot wrap
		if s.Max-s.Min >= max-total {
			return nil, fmt.Errorf("%w: more than %d", ErrTooManyIDs, max)
		}
		total += s.Len()
	}

	ids := make([]int, 0, total)
	for _, s := range spans {
		for id := s.Min; id <= s.Max; id++ {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// merge sorts spans and joins overlapping or adjacent ones
func merge(spans []Span) []Span {
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Min < spans[j].Min })

	out := []Span{spans[0]}
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s.Min-1 <= last.Max {
			last.Extend(s.Min, s.Max)
			continue
		}
		out = append(out, s)
	}
	return out
}

// parseID accepts only plain positive decimal numbers; message ids start at 1
func parseID(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if id < 1 {
		return 0, strconv.ErrRange
	}
	return id, nil
}

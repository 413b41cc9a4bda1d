// pkg/binance/streamset.go
package binance

import (
	"sort"
	"strings"
	"sync"
)

// StreamSet is the desired subscription state. It is independent of what the
// remote end has acknowledged: a reconnect re-seeds the URL with the full set.
type StreamSet struct {
	mu      sync.RWMutex
	streams map[string]struct{}
}

// NewStreamSet returns a set seeded with the normalized streams.
func NewStreamSet(streams ...string) *StreamSet {
	s := &StreamSet{streams: make(map[string]struct{})}
	s.Add(streams...)
	return s
}

// Add inserts streams and returns only those that were not present yet,
// in the order given.
func (s *StreamSet) Add(streams ...string) []string {
	in := normalizeStreams(streams)
	s.mu.Lock()
	defer s.mu.Unlock()

	added := make([]string, 0, len(in))
	for _, st := range in {
		if _, ok := s.streams[st]; ok {
			continue
		}
		s.streams[st] = struct{}{}
		added = append(added, st)
	}
	return added
}

// Remove deletes streams and returns only those that were present.
func (s *StreamSet) Remove(streams ...string) []string {
	in := normalizeStreams(streams)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make([]string, 0, len(in))
	for _, st := range in {
		if _, ok := s.streams[st]; !ok {
			continue
		}
		delete(s.streams, st)
		removed = append(removed, st)
	}
	return removed
}

// Contains reports whether stream (any case) is desired.
func (s *StreamSet) Contains(stream string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.streams[strings.ToLower(strings.TrimSpace(stream))]
	return ok
}

// Len returns the number of streams.
func (s *StreamSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams)
}

// Snapshot returns a sorted copy of the set.
func (s *StreamSet) Snapshot() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.streams))
	for st := range s.streams {
		out = append(out, st)
	}
	s.mu.RUnlock()

	sort.Strings(out)
	return out
}

// normalizeStreams lowercases, drops blanks and collapses duplicates while
// keeping first-occurrence order.
func normalizeStreams(streams []string) []string {
	out := make([]string, 0, len(streams))
	seen := make(map[string]struct{}, len(streams))
	for _, st := range streams {
		st = strings.ToLower(strings.TrimSpace(st))
		if st == "" {
			continue
		}
		if _, dup := seen[st]; dup {
			continue
		}
		seen[st] = struct{}{}
		out = append(out, st)
	}
	return out
}

// endpointURL appends ?streams=a/b/c to base. The streams must already be
// sorted (StreamSet.Snapshot).
func endpointURL(base string, sorted []string) string {
	if len(sorted) == 0 {
		return base
	}
	return base + "?streams=" + strings.Join(sorted, "/")
}

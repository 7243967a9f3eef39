// Package history keeps a bounded, per-channel log of recent messages used as
// conversation context. It is memory-resident and reset on restart.
package history

import "sync"

// Capacity is the maximum number of entries kept per channel.
const Capacity = 100

type Entry struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}

// ring is a fixed-capacity FIFO; the oldest entry is overwritten when full.
type ring struct {
	buf   [Capacity]Entry
	start int
	n     int
}

func (r *ring) push(e Entry) {
	if r.n < Capacity {
		r.buf[(r.start+r.n)%Capacity] = e
		r.n++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % Capacity
}

func (r *ring) entries() []Entry {
	out := make([]Entry, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%Capacity]
	}
	return out
}

// Store maps channel IDs to their history buffers. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	channels map[string]*ring
}

func NewStore() *Store {
	return &Store{channels: make(map[string]*ring)}
}

// Append records a message for channelID, evicting the oldest entry once the
// channel holds Capacity entries.
func (s *Store) Append(channelID, author, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.channels[channelID]
	if !ok {
		r = &ring{}
		s.channels[channelID] = r
	}
	r.push(Entry{Author: author, Content: content})
}

// Get returns a chronological copy of the channel's history, oldest first.
// An unseen channel yields an empty slice.
func (s *Store) Get(channelID string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.channels[channelID]
	if !ok {
		return []Entry{}
	}
	return r.entries()
}

// Last returns the most recent entry for channelID.
func (s *Store) Last(channelID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.channels[channelID]
	if !ok || r.n == 0 {
		return Entry{}, false
	}
	return r.buf[(r.start+r.n-1)%Capacity], true
}

// Len returns the number of entries held for channelID.
func (s *Store) Len(channelID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.channels[channelID]; ok {
		return r.n
	}
	return 0
}

// Sizes returns the entry count of every known channel.
func (s *Store) Sizes() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.channels))
	for id, r := range s.channels {
		out[id] = r.n
	}
	return out
}

// Package logring implements the bounded output history and live
// broadcast fan-out for a single session's PTY byte stream.
//
// A Ring combines three things a naive implementation would keep
// separate: a capped in-memory window for "snapshot then tail" replay,
// a persistent append-only log file, and a set of live subscriber
// channels that never block an append. Slow subscribers fall behind
// and receive a Gap instead of stalling the writer.
package logring

import (
	"os"
	"sync"
	"time"
)

// DefaultCapacity is the default maximum number of retained entries,
// matching the spec's default max_log_lines.
const DefaultCapacity = 10000

// defaultBroadcastBuffer is the fixed per-subscriber channel capacity
// before a subscriber is considered behind.
const defaultBroadcastBuffer = 1024

// Entry is one append: a single PTY read, not line-delimited and not
// UTF-8 validated.
type Entry struct {
	Sequence    uint64
	MonotonicTS int64
	Bytes       []byte
}

// Gap is a synthetic event telling a subscriber how many entries it
// missed between the last entry it received and the next one.
type Gap struct {
	Missed uint64
}

// Item is delivered to subscribers: exactly one of Entry or Gap is set.
type Item struct {
	Entry *Entry
	Gap   *Gap
}

// Ring is the bounded history plus broadcast fan-out for one session.
type Ring struct {
	mu       sync.Mutex
	cap      int
	nextSeq  uint64
	first    uint64 // sequence of the oldest retained entry, 0 if ring empty
	entries  []Entry
	subs     map[uint64]*subscriber
	nextSub  uint64
	file     *os.File
	start    time.Time
}

// New creates a Ring with the given capacity (entry count) and an
// optional persistent log file. If file is nil, appends are not
// persisted (useful in tests).
func New(capacity int, file *os.File) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		cap:   capacity,
		subs:  make(map[uint64]*subscriber),
		file:  file,
		start: time.Now(),
	}
}

type subscriber struct {
	ch         chan Item
	missed     uint64
	pendingGap bool
}

// Append assigns the next sequence number, stores the entry, evicts
// the oldest entry past capacity, writes bytes to the persistent log
// file, and publishes to every live subscriber. Append never blocks on
// a slow subscriber and never fails because of one.
func (r *Ring) Append(b []byte) uint64 {
	stored := make([]byte, len(b))
	copy(stored, b)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSeq++
	seq := r.nextSeq
	entry := Entry{
		Sequence:    seq,
		MonotonicTS: time.Since(r.start).Nanoseconds(),
		Bytes:       stored,
	}

	r.entries = append(r.entries, entry)
	if r.first == 0 {
		r.first = seq
	}
	if len(r.entries) > r.cap {
		r.entries = r.entries[1:]
		r.first = r.entries[0].Sequence
	}

	if r.file != nil {
		// Persistence failures are logged by the caller's supervisor,
		// not surfaced here: the in-memory ring remains authoritative.
		_, _ = r.file.Write(stored)
	}

	r.publishLocked(entry)
	return seq
}

func (r *Ring) publishLocked(entry Entry) {
	for _, s := range r.subs {
		if s.pendingGap {
			select {
			case s.ch <- Item{Gap: &Gap{Missed: s.missed}}:
				s.pendingGap = false
				s.missed = 0
			default:
				s.missed++
				continue
			}
		}

		item := entry
		select {
		case s.ch <- Item{Entry: &item}:
		default:
			s.missed++
			s.pendingGap = true
		}
	}
}

// Snapshot returns the first retained sequence (0 if the ring is
// empty) and a copy of the currently retained window, atomic with
// respect to concurrent appends.
func (r *Ring) Snapshot() (firstAvailable uint64, entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return r.first, out
}

// LastSequence returns the most recently assigned sequence number, 0
// if nothing has been appended yet.
func (r *Ring) LastSequence() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextSeq
}

// Subscription is a live view onto a Ring's append stream.
type Subscription struct {
	ring *Ring
	id   uint64
	ch   chan Item
}

// Subscribe opens a live subscription. The caller must call Close
// when done to release the subscriber slot.
func (r *Ring) Subscribe() *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSub++
	id := r.nextSub
	s := &subscriber{ch: make(chan Item, defaultBroadcastBuffer)}
	r.subs[id] = s

	return &Subscription{ring: r, id: id, ch: s.ch}
}

// C returns the channel of delivered items. Closed when the
// subscription is closed. If a gap marker is pending and the channel
// has room again, C enqueues it first, so a subscriber that drains its
// backlog learns of the missed entries without waiting for another
// append.
func (s *Subscription) C() <-chan Item {
	s.ring.mu.Lock()
	defer s.ring.mu.Unlock()

	if sub, ok := s.ring.subs[s.id]; ok && sub.pendingGap {
		select {
		case sub.ch <- Item{Gap: &Gap{Missed: sub.missed}}:
			sub.pendingGap = false
			sub.missed = 0
		default:
		}
	}
	return s.ch
}

// Close releases the subscriber slot.
func (s *Subscription) Close() {
	s.ring.mu.Lock()
	defer s.ring.mu.Unlock()

	if _, ok := s.ring.subs[s.id]; ok {
		delete(s.ring.subs, s.id)
		close(s.ch)
	}
}

// Package update implements the piggybacked-update dissemination buffer:
// a bounded, priority-ordered queue of membership assertions waiting to be
// attached to outgoing messages.
package update

import (
	"math"
	"sort"

	"swim/internal/peer"
)

// Record is one dissemination-buffer entry: an assertion about a peer's
// status as of a given sequence, plus how many outbound messages have
// already carried it.
type Record struct {
	ID       peer.ID
	Sequence uint64
	Status   peer.Status
	Count    int

	// Host and Port are optional and only meaningful for updates that also
	// bootstrap an unknown peer (see the wire package); the buffer itself
	// never reads them.
	Host string
	Port int
}

// Buffer is the bounded, priority-ordered dissemination queue described in
// the protocol: entries are evicted once carried on `limit` outgoing
// messages, where limit grows with the (logarithm of the) size of the peer
// table, per the SWIM paper's infection-style analysis.
//
// Buffer is owned by the engine's single event loop and, like the rest of
// the engine's mutable state, is never touched from any other goroutine.
type Buffer struct {
	rec []Record
	// DisseminationFactor is the k in limit = round(ln(N+1) * k).
	DisseminationFactor float64
	// MaxPerMessage caps how many updates Take returns at once.
	MaxPerMessage int
}

// New constructs an empty buffer with the given dissemination factor and
// per-message cap.
func New(disseminationFactor float64, maxPerMessage int) *Buffer {
	return &Buffer{
		DisseminationFactor: disseminationFactor,
		MaxPerMessage:       maxPerMessage,
	}
}

// Add appends an update to the buffer with its dissemination count reset to
// zero. Duplicate assertions about the same peer are allowed; they age out
// independently of one another.
func (b *Buffer) Add(id peer.ID, sequence uint64, status peer.Status) {
	b.AddBootstrap(id, sequence, status, "", 0)
}

// AddBootstrap is Add plus an address hint, used when disseminating an
// update about a peer the recipient may not yet know.
func (b *Buffer) AddBootstrap(id peer.ID, sequence uint64, status peer.Status, host string, port int) {
	b.rec = append(b.rec, Record{ID: id, Sequence: sequence, Status: status, Host: host, Port: port})
}

// Limit returns round(ln(peerCount+1) * disseminationFactor), recomputed
// fresh against the current peer-table size on every call.
func (b *Buffer) Limit(peerCount int) int {
	return int(math.Round(math.Log(float64(peerCount)+1) * b.DisseminationFactor))
}

// Take returns up to MaxPerMessage updates to piggyback on an outbound
// message: entries with count >= limit are evicted first, the remainder
// sorted by count ascending (ties broken by insertion order), and the
// least-disseminated min(MaxPerMessage, len) are returned with their count
// incremented.
func (b *Buffer) Take(peerCount int) []Record {
	limit := b.Limit(peerCount)

	live := b.rec[:0]
	for _, r := range b.rec {
		if r.Count < limit {
			live = append(live, r)
		}
	}
	b.rec = live

	idx := make([]int, len(b.rec))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return b.rec[idx[i]].Count < b.rec[idx[j]].Count })

	n := b.MaxPerMessage
	if n > len(idx) {
		n = len(idx)
	}

	out := make([]Record, n)
	for i := 0; i < n; i++ {
		b.rec[idx[i]].Count++
		out[i] = b.rec[idx[i]]
	}
	return out
}

// Len reports the number of live entries currently buffered.
func (b *Buffer) Len() int { return len(b.rec) }

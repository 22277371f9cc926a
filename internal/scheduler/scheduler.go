// Package scheduler implements the protocol-period driver: round-robin
// peer selection over an externally-owned array, reshuffling the array in
// place with Fisher-Yates whenever the round wraps. Grounded on the
// round-robin-with-reshuffle tick in other_examples/dkmccandless-swim's
// memberList.
package scheduler

import "math/rand"

// Scheduler owns only the traversal index; the peer array itself belongs
// to, and is mutated in place by, the caller (the engine), since the spec
// describes "the ordered peer array" as part of engine state, not
// scheduler state.
type Scheduler struct {
	// Len reports the current size of the peer array.
	Len func() int
	// Swap exchanges the peers at positions i and j, used by the shuffle.
	Swap func(i, j int)
	// Probe is invoked with the index of the peer selected for this
	// period.
	Probe func(index int)

	rng       *rand.Rand
	nextIndex int
}

// New constructs a scheduler. rng defaults to a fresh source seeded with 1
// if nil; tests should always supply a seeded one for determinism.
func New(rng *rand.Rand, length func() int, swap func(i, j int), probe func(index int)) *Scheduler {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Scheduler{Len: length, Swap: swap, Probe: probe, rng: rng}
}

// Tick runs one protocol period: probe the peer at nextIndex, then advance;
// on wraparound, reset nextIndex to zero and reshuffle the array.
func (s *Scheduler) Tick() {
	n := s.Len()
	if n == 0 {
		return
	}
	if s.nextIndex >= n {
		s.nextIndex = 0
	}
	s.Probe(s.nextIndex)
	s.nextIndex++
	if s.nextIndex >= n {
		s.nextIndex = 0
		s.shuffle(n)
	}
}

func (s *Scheduler) shuffle(n int) {
	s.rng.Shuffle(n, func(i, j int) { s.Swap(i, j) })
}

// NextIndex exposes the current traversal position, primarily for tests.
func (s *Scheduler) NextIndex() int { return s.nextIndex }

package update

import (
	"testing"

	"swim/internal/peer"
)

// Scenario 1 from the spec: N=20 peers, limit = round(ln(21)*3) = 9.
// Buffer = six entries with counts {limit-3, limit-2, limit-1, limit-1,
// limit-1, limit}. Take() must evict the count=limit entry, return the
// remaining five in ascending-count order, each incremented by one.
func TestTakeEvictionAndOrdering(t *testing.T) {
	b := New(3, 6)
	const peerCount = 20
	limit := b.Limit(peerCount)
	if limit != 9 {
		t.Fatalf("expected limit 9, got %d", limit)
	}

	counts := []int{limit - 3, limit - 2, limit - 1, limit - 1, limit - 1, limit}
	for i, c := range counts {
		b.rec = append(b.rec, Record{ID: peer.ID(i), Sequence: 1, Status: peer.StatusAlive, Count: c})
	}

	taken := b.Take(peerCount)
	if len(taken) != 5 {
		t.Fatalf("expected 5 live entries after evicting count=limit, got %d", len(taken))
	}
	for i := 1; i < len(taken); i++ {
		if taken[i-1].Count > taken[i].Count {
			t.Fatalf("expected ascending count order, got %v", taken)
		}
	}
	for i, rec := range taken {
		if rec.Count != counts[i]+1 {
			t.Fatalf("expected entry %d count %d, got %d", i, counts[i]+1, rec.Count)
		}
	}
	if b.Len() != 5 {
		t.Fatalf("expected 5 entries to remain buffered, got %d", b.Len())
	}
}

func TestTakeCapsAtMaxPerMessage(t *testing.T) {
	b := New(3, 6)
	for i := 0; i < 20; i++ {
		b.Add(peer.ID(i), 1, peer.StatusAlive)
	}
	taken := b.Take(100)
	if len(taken) > 6 {
		t.Fatalf("expected at most 6 updates, got %d", len(taken))
	}
}

func TestAddResetsCountToZero(t *testing.T) {
	b := New(3, 6)
	b.Add(1, 5, peer.StatusSuspect)
	if b.rec[0].Count != 0 {
		t.Fatalf("expected freshly added record to start at count 0, got %d", b.rec[0].Count)
	}
}

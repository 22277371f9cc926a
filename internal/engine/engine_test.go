package engine

import (
	"context"
	"testing"
	"time"

	"swim/internal/peer"
	"swim/internal/transport"
	"swim/internal/wire"
)

func newTestEngine(t *testing.T, net *transport.MemoryNetwork, id peer.ID, host string, port int) *Engine {
	t.Helper()
	e := New(Config{
		SelfID:         id,
		ProtocolPeriod: time.Hour, // never ticks on its own in these tests
		ProbeTimeout:   30 * time.Millisecond,
		SuspectTimeout: 50 * time.Millisecond,
		Transport:      net.New(host, port),
	})
	if err := e.Init(nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	return e
}

func syncPost(e *Engine, f func()) {
	done := make(chan struct{})
	e.Post(func() { f(); close(done) })
	<-done
}

// Scenario 4/5: a gossiped suspect update appends a dissemination entry
// and arms the suspect timer; a subsequent alive update at a higher
// sequence revives the peer and appends again.
func TestApplyUpdatesSuspectThenAlive(t *testing.T) {
	net := transport.NewMemoryNetwork()
	e := newTestEngine(t, net, 1, "a", 1)

	syncPost(e, func() {
		e.AddPeer(PeerInfo{ID: 2, Host: "b", Port: 1})
		e.applyUpdates([]wire.Update{{ID: 2, Sequence: 5, Status: wire.UpdateStatus(peer.StatusSuspect)}})
	})
	var status peer.Status
	var bufLen int
	syncPost(e, func() {
		status = e.peers[2].Status()
		bufLen = e.buffer.Len()
	})
	if status != peer.StatusSuspect {
		t.Fatalf("expected suspect, got %s", status)
	}
	if bufLen != 1 {
		t.Fatalf("expected 1 buffered update, got %d", bufLen)
	}

	syncPost(e, func() {
		e.applyUpdates([]wire.Update{{ID: 2, Sequence: 6, Status: wire.UpdateStatus(peer.StatusAlive)}})
	})
	syncPost(e, func() {
		status = e.peers[2].Status()
		bufLen = e.buffer.Len()
	})
	if status != peer.StatusAlive {
		t.Fatalf("expected alive, got %s", status)
	}
	if bufLen != 2 {
		t.Fatalf("expected 2 buffered updates after revival, got %d", bufLen)
	}
}

// Scenario 6: a gossiped suspicion about this node at its own current
// sequence triggers self-refutation: sequence advances and an alive
// assertion is buffered, rather than the node ever transitioning status
// (a node has no peer.Peer for itself to transition).
func TestSelfRefutation(t *testing.T) {
	net := transport.NewMemoryNetwork()
	e := newTestEngine(t, net, 1, "a", 1)

	var signals []Signal
	e.OnSignal(func(s Signal) { signals = append(signals, s) })

	syncPost(e, func() {
		e.applyUpdates([]wire.Update{{ID: 1, Sequence: 0, Status: wire.UpdateStatus(peer.StatusSuspect)}})
	})

	var seq uint64
	var bufLen int
	syncPost(e, func() {
		seq = e.selfSeq
		bufLen = e.buffer.Len()
	})
	if seq != 1 {
		t.Fatalf("expected self sequence to advance to 1, got %d", seq)
	}
	if bufLen != 1 {
		t.Fatalf("expected a refutation update buffered, got %d", bufLen)
	}

	found := false
	for _, s := range signals {
		if s.Kind == SelfRefuted {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a SelfRefuted signal")
	}
}

// A self-update at a stale sequence (not the node's current sequence)
// must not trigger refutation: it is gossip about a refutation that
// already happened, or about a future the node hasn't reached yet.
func TestSelfUpdateAtWrongSequenceIgnored(t *testing.T) {
	net := transport.NewMemoryNetwork()
	e := newTestEngine(t, net, 1, "a", 1)

	syncPost(e, func() {
		e.applyUpdates([]wire.Update{{ID: 1, Sequence: 7, Status: wire.UpdateStatus(peer.StatusSuspect)}})
	})

	var seq uint64
	syncPost(e, func() { seq = e.selfSeq })
	if seq != 0 {
		t.Fatalf("expected self sequence to remain 0, got %d", seq)
	}
}

func TestUnrecognizedStatusSignaled(t *testing.T) {
	net := transport.NewMemoryNetwork()
	e := newTestEngine(t, net, 1, "a", 1)

	var signals []Signal
	e.OnSignal(func(s Signal) { signals = append(signals, s) })

	syncPost(e, func() {
		e.applyUpdates([]wire.Update{{ID: 2, Sequence: 1, Status: "zombie"}})
	})

	if len(signals) != 1 || signals[0].Kind != UnrecognizedStatus {
		t.Fatalf("expected one UnrecognizedStatus signal, got %+v", signals)
	}
	syncPost(e, func() {
		if _, ok := e.peers[2]; ok {
			t.Fatal("an all-unrecognized update should never register a peer")
		}
	})
}

// End-to-end over two in-process engines: a direct ping from A produces
// an ack from B, observed by A as a direct observation.
func TestPingAckRoundTripObservesPeer(t *testing.T) {
	net := transport.NewMemoryNetwork()
	a := newTestEngine(t, net, 1, "a", 1)
	b := newTestEngine(t, net, 2, "b", 1)
	defer a.Teardown()
	defer b.Teardown()

	syncPost(a, func() { a.AddPeer(PeerInfo{ID: 2, Host: "b", Port: 1}) })
	syncPost(b, func() { b.AddPeer(PeerInfo{ID: 1, Host: "a", Port: 1}) })

	var target *peer.Peer
	syncPost(a, func() { target = a.peers[2] })
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	a.Post(func() { a.driver.Probe(ctx, target) })

	// Wait past the 30ms probe timeout: without an ack, A has no indirect
	// candidate and suspects B, so alive after this point means the ack
	// arrived.
	time.Sleep(90 * time.Millisecond)

	deadline := time.After(time.Second)
	for {
		var status peer.Status
		syncPost(a, func() { status = target.Status() })
		if status == peer.StatusAlive {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for ack, last status %s", status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

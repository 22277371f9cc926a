package probe

import (
	"context"
	"testing"
	"time"

	"swim/internal/peer"
	"swim/internal/wire"
)

// loopHost is a minimal single-threaded event loop standing in for the
// engine's mailbox, so timer callbacks and test-driven calls are
// serialized exactly as the spec requires.
type loopHost struct {
	mailbox chan func()
	self    peer.ID
	peers   map[peer.ID]*peer.Peer
}

func newLoopHost(self peer.ID) *loopHost {
	h := &loopHost{mailbox: make(chan func(), 16), self: self, peers: make(map[peer.ID]*peer.Peer)}
	go func() {
		for f := range h.mailbox {
			f()
		}
	}()
	return h
}

func (h *loopHost) Post(f func())        { h.mailbox <- f }
func (h *loopHost) SelfID() peer.ID      { return h.self }
func (h *loopHost) TakeUpdates() []wire.Update { return nil }
func (h *loopHost) RandomAlivePeerExcept(except peer.ID) (*peer.Peer, bool) {
	for id, p := range h.peers {
		if id != except && p.IsAlive() {
			return p, true
		}
	}
	return nil, false
}
func (h *loopHost) ReportTransportError(to peer.ID, err error) {}

func (h *loopHost) schedule(d time.Duration, f func()) *time.Timer {
	return time.AfterFunc(d, func() { h.Post(f) })
}

type fakeTransport struct {
	sent chan wire.Message
}

func newFakeTransport() *fakeTransport { return &fakeTransport{sent: make(chan wire.Message, 16)} }

func (f *fakeTransport) Send(ctx context.Context, host string, port int, payload []byte) error {
	msg, err := wire.Decode(payload)
	if err != nil {
		return err
	}
	f.sent <- msg
	return nil
}
func (f *fakeTransport) Listen(h func(payload []byte, host string, port int)) error { return nil }
func (f *fakeTransport) LocalAddr() (string, int)                                   { return "test", 0 }
func (f *fakeTransport) Close() error                                               { return nil }

func waitMsg(t *testing.T, ch chan wire.Message, want wire.Command) wire.Message {
	select {
	case m := <-ch:
		if m.Command != want {
			t.Fatalf("expected command %s, got %s", want, m.Command)
		}
		return m
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
	return wire.Message{}
}

// Scenario 2: ping success. ACK arrives before tau; peer stays alive.
func TestProbeSucceedsOnDirectAck(t *testing.T) {
	host := newLoopHost(1)
	target := peer.New(2, "p", 1, 50*time.Millisecond, host.schedule, nil)
	host.peers[2] = target

	tr := newFakeTransport()
	d := New(Config{ProbeTimeout: 100 * time.Millisecond}, tr, host, nil)

	host.Post(func() { d.Probe(context.Background(), target) })
	waitMsg(t, tr.sent, wire.CommandPing)

	done := make(chan struct{})
	host.Post(func() {
		d.ResolveAck(2)
		close(done)
	})
	<-done

	time.Sleep(10 * time.Millisecond)
	if target.Status() != peer.StatusAlive {
		t.Fatalf("expected target to remain alive, got %s", target.Status())
	}
}

// Scenario 3: ping fails, escalates to indirect probe; if the relay never
// relays an ack, target becomes suspect.
func TestProbeEscalatesAndSuspectsOnDoubleTimeout(t *testing.T) {
	host := newLoopHost(1)
	target := peer.New(2, "target", 1, 200*time.Millisecond, host.schedule, nil)
	relay := peer.New(3, "relay", 1, 200*time.Millisecond, host.schedule, nil)
	host.peers[2] = target
	host.peers[3] = relay

	tr := newFakeTransport()
	d := New(Config{ProbeTimeout: 30 * time.Millisecond}, tr, host, nil)

	host.Post(func() { d.Probe(context.Background(), target) })
	waitMsg(t, tr.sent, wire.CommandPing)
	waitMsg(t, tr.sent, wire.CommandPingReq)

	deadline := time.After(2 * time.Second)
	for target.Status() != peer.StatusSuspect {
		select {
		case <-deadline:
			t.Fatalf("expected target to become suspect, got %s", target.Status())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

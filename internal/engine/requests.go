package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"swim/internal/peer"
	"swim/internal/wire"
)

// PeerIDs returns every currently-registered peer id. Safe to call from
// any goroutine.
func (e *Engine) PeerIDs() []peer.ID {
	done := make(chan struct{})
	var ids []peer.ID
	e.Post(func() {
		ids = make([]peer.ID, 0, len(e.peers))
		for id := range e.peers {
			ids = append(ids, id)
		}
		close(done)
	})
	<-done
	return ids
}

// PeerStatus synchronously queries id's locally-known status. ok is
// false if id has never been registered. Safe to call from any
// goroutine; it hops onto the event loop and back.
func (e *Engine) PeerStatus(id peer.ID) (status peer.Status, ok bool) {
	done := make(chan struct{})
	e.Post(func() {
		if p, exists := e.peers[id]; exists {
			status, ok = p.Status(), true
		}
		close(done)
	})
	<-done
	return status, ok
}

// RequestState sends a state-req to id and waits for the reply, for
// tests that need to read another engine's full peer table rather than
// wait for gossip convergence. Returns ErrUnknownPeer if id was never
// registered, or ctx's error if it is canceled first.
func (e *Engine) RequestState(ctx context.Context, id peer.ID) ([]wire.Update, error) {
	ch := make(chan []wire.Update, 1)
	errCh := make(chan error, 1)
	e.Post(func() {
		p, ok := e.peers[id]
		if !ok {
			e.emit(Signal{Kind: PeerNotFound, PeerID: id, Err: errors.Wrapf(ErrUnknownPeer, "state-req target %d", id)})
			errCh <- ErrUnknownPeer
			return
		}
		e.stateWaiters[id] = ch
		e.send(wire.Message{Command: wire.CommandStateReq, SenderID: int(e.selfID)}, p.Host, p.Port)
	})
	select {
	case err := <-errCh:
		return nil, err
	case state := <-ch:
		return state, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EventReq asks id to tell us when name next fires locally on it, and
// blocks until that reply arrives or timeout elapses. It is the
// engine's half of the test-only event/event-req wire commands.
func (e *Engine) EventReq(ctx context.Context, id peer.ID, name string, timeout time.Duration) error {
	ch := make(chan struct{})
	errCh := make(chan error, 1)
	e.Post(func() {
		p, ok := e.peers[id]
		if !ok {
			e.emit(Signal{Kind: PeerNotFound, PeerID: id, Err: errors.Wrapf(ErrUnknownPeer, "event-req target %d", id)})
			errCh <- ErrUnknownPeer
			return
		}
		e.eventReqWaiters[eventReqKey(id, name)] = ch
		e.send(wire.Message{Command: wire.CommandEventReq, SenderID: int(e.selfID), EventName: name}, p.Host, p.Port)
	})
	select {
	case err := <-errCh:
		return err
	case <-ch:
		return nil
	case <-time.After(timeout):
		e.Post(func() { delete(e.eventReqWaiters, eventReqKey(id, name)) })
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

package engine

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"swim/internal/peer"
	"swim/internal/wire"
)

// handleInbound is the transport's Handler. It only ever does one thing
// off the event loop: marshal the work back onto it.
func (e *Engine) handleInbound(payload []byte, host string, port int) {
	e.Post(func() { e.dispatch(payload, host, port) })
}

func (e *Engine) dispatch(payload []byte, host string, port int) {
	msg, err := wire.Decode(payload)
	if err != nil {
		e.logger.Warn("dropping malformed datagram", zap.Error(err))
		e.emit(Signal{Kind: ParseFailed, Err: err})
		return
	}
	e.dispatchMessage(msg, host, port)
}

func (e *Engine) dispatchMessage(msg wire.Message, host string, port int) {
	senderID := peer.ID(msg.SenderID)
	var sender *peer.Peer
	if senderID != e.selfID {
		sender = e.peers[senderID]
		if sender == nil {
			sender, _ = e.AddPeer(PeerInfo{ID: senderID, Host: host, Port: port})
		}
	}

	e.applyUpdates(msg.Updates)

	switch msg.Command {
	case wire.CommandPing:
		if sender != nil {
			sender.Observe()
		}
		e.sendAck(host, port)
	case wire.CommandAck:
		if sender != nil {
			sender.Observe()
		}
		e.driver.ResolveAck(senderID)
	case wire.CommandPingReq:
		if sender != nil {
			sender.Observe()
		}
		e.handlePingReq(msg, host, port)
	case wire.CommandEvent:
		e.handleEvent(senderID, msg)
	case wire.CommandEventReq:
		e.handleEventReq(msg, host, port)
	case wire.CommandStateReq:
		e.handleStateReq(host, port)
	case wire.CommandState:
		e.handleState(senderID, msg)
	default:
		err := errors.Wrapf(ErrUnknownCommand, "command %q from peer %d", msg.Command, senderID)
		e.logger.Warn("unrecognized command", zap.String("command", string(msg.Command)))
		e.emit(Signal{Kind: UnrecognizedCommand, PeerID: senderID, Command: string(msg.Command), Err: err})
	}
}

// applyUpdates folds every piggybacked assertion into the peer table (or,
// for an assertion about the local node, into self-refutation), skipping
// and signaling any status value outside the three the protocol defines.
func (e *Engine) applyUpdates(updates []wire.Update) {
	for _, u := range updates {
		status := peer.Status(u.Status)
		switch status {
		case peer.StatusAlive, peer.StatusSuspect, peer.StatusDown:
		default:
			err := errors.Wrapf(ErrUnknownStatus, "status %q for peer %d", u.Status, u.ID)
			e.logger.Warn("unrecognized status in update", zap.String("status", string(u.Status)))
			e.emit(Signal{Kind: UnrecognizedStatus, PeerID: peer.ID(u.ID), Err: err})
			continue
		}

		id := peer.ID(u.ID)
		if id == e.selfID {
			e.handleSelfUpdate(u.Sequence, status)
			continue
		}

		p := e.peers[id]
		if p == nil {
			if u.Host == "" {
				continue
			}
			p, _ = e.AddPeer(PeerInfo{ID: id, Host: u.Host, Port: u.Port})
		}
		p.HandleUpdate(u.Sequence, status)
	}
}

// handleSelfUpdate implements self-refutation: a gossiped suspicion about
// this node, at the sequence it itself last advertised, is answered by
// bumping the sequence and re-asserting alive, overriding whatever the
// gossiped update said. An update at any other sequence, older or newer,
// or with any status other than suspect, is ignored.
func (e *Engine) handleSelfUpdate(sequence uint64, status peer.Status) {
	if status != peer.StatusSuspect || sequence != e.selfSeq {
		return
	}
	e.selfSeq++
	e.buffer.Add(e.selfID, e.selfSeq, peer.StatusAlive)
	e.logger.Info("refuting suspicion", zap.Uint64("sequence", e.selfSeq))
	e.emit(Signal{Kind: SelfRefuted, PeerID: e.selfID, Sequence: e.selfSeq})
}

func (e *Engine) sendAck(host string, port int) {
	msg := wire.Message{Command: wire.CommandAck, SenderID: int(e.selfID), Updates: e.TakeUpdates()}
	e.send(msg, host, port)
}

func (e *Engine) handlePingReq(msg wire.Message, requesterHost string, requesterPort int) {
	targetID := peer.ID(msg.TargetID)
	target := e.peers[targetID]
	if target == nil && msg.TargetAddress != "" {
		target, _ = e.AddPeer(PeerInfo{ID: targetID, Host: msg.TargetAddress, Port: msg.TargetPort})
	}
	if target == nil {
		err := errors.Wrapf(ErrUnknownPeer, "ping-req target %d", msg.TargetID)
		e.logger.Warn("ping-req for unknown peer", zap.Int("target_id", msg.TargetID))
		e.emit(Signal{Kind: PeerNotFound, PeerID: peer.ID(msg.TargetID), Err: err})
		return
	}
	e.driver.RelayProbe(context.Background(), target, func(alive bool) {
		if alive {
			e.sendAck(requesterHost, requesterPort)
		}
	})
}

// handleEvent and handleEventReq back the optional, test-only
// observability commands: a peer can ask to be told when a named event
// next fires locally, and is answered with an event message when it
// does. This is unrelated to the typed Signal bus the engine itself
// uses internally.
func (e *Engine) handleEvent(senderID peer.ID, msg wire.Message) {
	key := eventReqKey(senderID, msg.EventName)
	if ch, ok := e.eventReqWaiters[key]; ok {
		close(ch)
		delete(e.eventReqWaiters, key)
	}
}

func (e *Engine) handleEventReq(msg wire.Message, host string, port int) {
	name := msg.EventName
	e.localEventListeners[name] = append(e.localEventListeners[name], func() {
		reply := wire.Message{Command: wire.CommandEvent, SenderID: int(e.selfID), EventName: name}
		e.send(reply, host, port)
	})
}

// FireLocalEvent runs and clears every one-shot listener registered for
// name via an inbound event-req. Engine-internal production code never
// calls this; it exists so tests (and, if wired up, a future admin
// surface) can trigger named checkpoints.
func (e *Engine) FireLocalEvent(name string) {
	for _, f := range e.localEventListeners[name] {
		f()
	}
	delete(e.localEventListeners, name)
}

func (e *Engine) handleStateReq(host string, port int) {
	state := make([]wire.Update, 0, len(e.peers)+1)
	state = append(state, wire.Update{ID: int(e.selfID), Sequence: e.selfSeq, Status: wire.UpdateStatus(peer.StatusAlive)})
	for _, p := range e.peers {
		state = append(state, wire.Update{ID: int(p.ID), Sequence: p.Sequence(), Status: wire.UpdateStatus(p.Status()), Host: p.Host, Port: p.Port})
	}
	msg := wire.Message{Command: wire.CommandState, SenderID: int(e.selfID), State: state}
	e.send(msg, host, port)
}

func (e *Engine) handleState(senderID peer.ID, msg wire.Message) {
	if ch, ok := e.stateWaiters[senderID]; ok {
		ch <- msg.State
		delete(e.stateWaiters, senderID)
	}
}

func (e *Engine) send(msg wire.Message, host string, port int) {
	payload, err := wire.Encode(msg)
	if err != nil {
		e.logger.Warn("failed to encode message", zap.Error(err))
		return
	}
	if err := e.transport.Send(context.Background(), host, port, payload); err != nil {
		e.logger.Warn("failed to send message", zap.Error(err))
		e.emit(Signal{Kind: TransportFailed, Err: err})
	}
}

func eventReqKey(id peer.ID, name string) string { return fmt.Sprintf("%d:%s", id, name) }

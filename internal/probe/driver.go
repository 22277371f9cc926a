// Package probe implements the probe driver: for one target peer, send
// PING, wait for ACK, escalate to an indirect PING-REQ on timeout, and
// declare suspect if the indirect round also times out. Grounded on the
// send/ack/ack2 request-timeout flow in internal/pledge/pledge.go and
// internal/cluster/gossip.go.
package probe

import (
	"context"
	"time"

	"go.uber.org/zap"

	"swim/internal/peer"
	"swim/internal/transport"
	"swim/internal/wire"
)

// Host is the engine-side handle the driver uses to do anything beyond
// its own bookkeeping: all calls happen from, or are marshaled back onto,
// the engine's single event loop (the "non-owning handle" described in
// the design notes).
type Host interface {
	// Post runs f on the engine's event loop.
	Post(f func())
	// SelfID returns the local node's id, used as sender_id.
	SelfID() peer.ID
	// TakeUpdates returns the freshest piggyback batch.
	TakeUpdates() []wire.Update
	// RandomAlivePeerExcept picks a uniformly random alive peer other than
	// except, for indirect-probe candidate selection.
	RandomAlivePeerExcept(except peer.ID) (*peer.Peer, bool)
	// ReportTransportError publishes a transport-layer send failure to the
	// engine's signal bus.
	ReportTransportError(to peer.ID, err error)
}

// Config holds the driver's timers.
type Config struct {
	// ProbeTimeout is tau: the deadline for a direct PING's ACK and for an
	// indirect PING-REQ's relayed ACK. A suspect peer's refutation window
	// is configured separately, on the peer itself.
	ProbeTimeout time.Duration
}

// Driver runs probes for one engine. At most one probe from the
// scheduler is ever in flight per target, matching the spec's single
// in-flight-probe guarantee; relay-only probes triggered by inbound
// PING-REQ are tracked independently and may overlap freely.
type Driver struct {
	Config
	transport transport.Transport
	host      Host
	logger    *zap.Logger

	pending map[peer.ID]*pendingProbe
	relays  map[peer.ID][]*pendingProbe
}

type pendingProbe struct {
	target *peer.Peer
	relay  *peer.Peer
	timer  *time.Timer
	onDone func(alive bool)
}

// New constructs a probe driver.
func New(cfg Config, t transport.Transport, host Host, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		Config:    cfg,
		transport: t,
		host:      host,
		logger:    logger,
		pending:   make(map[peer.ID]*pendingProbe),
		relays:    make(map[peer.ID][]*pendingProbe),
	}
}

// Probe runs the full scheduled probe flow against target: direct ping,
// escalate to indirect on timeout, declare suspect if that also times out.
func (d *Driver) Probe(ctx context.Context, target *peer.Peer) {
	if _, inFlight := d.pending[target.ID]; inFlight {
		return
	}
	p := &pendingProbe{target: target}
	p.onDone = func(alive bool) {
		delete(d.pending, target.ID)
		if alive {
			target.Observe()
			return
		}
		target.Suspect()
	}
	d.pending[target.ID] = p

	d.logger.Debug("probing peer", zap.Int("peer_id", int(target.ID)))
	d.send(ctx, target, wire.CommandPing, 0, "", 0)
	p.timer = time.AfterFunc(d.ProbeTimeout, func() {
		d.host.Post(func() { d.escalate(ctx, p) })
	})
}

func (d *Driver) escalate(ctx context.Context, p *pendingProbe) {
	if _, stillPending := d.pending[p.target.ID]; !stillPending {
		return // already resolved by an ACK racing the timer
	}
	relay, ok := d.host.RandomAlivePeerExcept(p.target.ID)
	if !ok {
		d.logger.Debug("no indirect candidate available, suspecting directly",
			zap.Int("peer_id", int(p.target.ID)))
		p.onDone(false)
		return
	}
	p.relay = relay
	d.logger.Debug("escalating to indirect probe",
		zap.Int("target_id", int(p.target.ID)), zap.Int("relay_id", int(relay.ID)))
	d.send(ctx, relay, wire.CommandPingReq, p.target.ID, p.target.Host, p.target.Port)
	p.timer = time.AfterFunc(d.ProbeTimeout, func() {
		d.host.Post(func() { p.onDone(false) })
	})
}

// ResolveAck notifies the driver that an ACK arrived from senderID. It
// resolves any pending scheduled probe whose target or relay matches, and
// any outstanding relay-only probe targeting senderID.
func (d *Driver) ResolveAck(senderID peer.ID) {
	if p, ok := d.pending[senderID]; ok && p.target.ID == senderID {
		p.timer.Stop()
		p.onDone(true)
	} else {
		for _, p := range d.pending {
			if p.relay != nil && p.relay.ID == senderID {
				p.timer.Stop()
				p.onDone(true)
				break
			}
		}
	}
	// onDone removes each entry from d.relays in place, so iterate a copy.
	for _, p := range append([]*pendingProbe(nil), d.relays[senderID]...) {
		p.timer.Stop()
		p.onDone(true)
	}
	delete(d.relays, senderID)
}

// RelayProbe implements the ping-req responder's half: ping target
// directly, with no further escalation, and invoke onResult(true) if it
// acks within tau. onResult is never called with true after tau has
// elapsed; timeout is silent (the original requester will itself time out
// and may try another relay).
func (d *Driver) RelayProbe(ctx context.Context, target *peer.Peer, onResult func(alive bool)) {
	p := &pendingProbe{target: target}
	fired := false
	p.onDone = func(alive bool) {
		if fired {
			return
		}
		fired = true
		d.removeRelay(target.ID, p)
		onResult(alive)
	}
	d.relays[target.ID] = append(d.relays[target.ID], p)

	d.send(ctx, target, wire.CommandPing, 0, "", 0)
	p.timer = time.AfterFunc(d.ProbeTimeout, func() {
		d.host.Post(func() { p.onDone(false) })
	})
}

func (d *Driver) removeRelay(target peer.ID, p *pendingProbe) {
	list := d.relays[target]
	for i, other := range list {
		if other == p {
			d.relays[target] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (d *Driver) send(ctx context.Context, to *peer.Peer, cmd wire.Command, targetID peer.ID, targetAddr string, targetPort int) {
	msg := wire.Message{
		Command:  cmd,
		SenderID: int(d.host.SelfID()),
		Updates:  d.host.TakeUpdates(),
	}
	if cmd == wire.CommandPingReq {
		msg.TargetID = int(targetID)
		msg.TargetAddress = targetAddr
		msg.TargetPort = targetPort
	}
	payload, err := wire.Encode(msg)
	if err != nil {
		d.logger.Warn("failed to encode probe message", zap.Error(err))
		return
	}
	if err := d.transport.Send(ctx, to.Host, to.Port, payload); err != nil {
		d.logger.Warn("failed to send probe message",
			zap.Int("to", int(to.ID)), zap.Error(err))
		d.host.ReportTransportError(to.ID, err)
	}
}

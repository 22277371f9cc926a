// Package peer implements the per-node status state machine described in
// the protocol's peer record: alive, suspect, down, driven by direct
// observations, gossiped updates, and timer expiry.
package peer

import (
	"time"

	"go.uber.org/zap"
)

// ID identifies a node in the cluster. Cluster-unique, assigned externally.
type ID int

// Status is one of the three positions a peer can occupy.
type Status string

const (
	StatusAlive   Status = "alive"
	StatusSuspect Status = "suspect"
	StatusDown    Status = "down"
)

// ScheduleFunc arms a one-shot timer that, on expiry, invokes f on the
// engine's single event loop. Peer never calls time.AfterFunc directly so
// that all status transitions - whether triggered by a message or a timer -
// are serialized through the same goroutine.
type ScheduleFunc func(d time.Duration, f func()) *time.Timer

// Peer is one remote node known to the engine. ID, Host and Port are
// immutable after construction; everything else is owned by the engine's
// event loop and must not be mutated concurrently.
type Peer struct {
	ID   ID
	Host string
	Port int

	status           Status
	sequence         uint64
	lastDownSequence int64

	suspectTimeout time.Duration
	timer          *time.Timer
	schedule       ScheduleFunc

	logger *zap.Logger

	// OnStatusChange fires whenever status actually transitions. The engine
	// wires this to append a dissemination update and to publish the
	// corresponding lifecycle signal.
	OnStatusChange func(p *Peer, old, new Status)
	// OnSequence fires whenever sequence advances, independent of whether a
	// status transition also occurred.
	OnSequence func(p *Peer, seq uint64)
}

// New constructs a peer record in the initial alive state. suspectTimeout
// (tau-3) bounds how long a suspect peer is given to refute before being
// declared down, whether the suspicion arrived via a gossiped update or via
// Suspect after a failed probe.
func New(id ID, host string, port int, suspectTimeout time.Duration, schedule ScheduleFunc, logger *zap.Logger) *Peer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Peer{
		ID:               id,
		Host:             host,
		Port:             port,
		status:           StatusAlive,
		lastDownSequence: -1,
		suspectTimeout:   suspectTimeout,
		schedule:         schedule,
		logger:           logger,
	}
}

func (p *Peer) Status() Status   { return p.status }
func (p *Peer) Sequence() uint64 { return p.sequence }
func (p *Peer) IsAlive() bool    { return p.status == StatusAlive }
func (p *Peer) IsSuspect() bool  { return p.status == StatusSuspect }
func (p *Peer) IsDown() bool     { return p.status == StatusDown }

// HandleUpdate applies a gossiped (sequence, status) assertion about this
// peer. It implements the sequence rule followed by the status transition
// table in full.
func (p *Peer) HandleUpdate(sequence uint64, status Status) {
	old := p.sequence
	if sequence > old {
		p.sequence = sequence
		if p.OnSequence != nil {
			p.OnSequence(p, sequence)
		}
	}
	stale := sequence < old

	switch p.status {
	case StatusAlive:
		switch status {
		case StatusSuspect:
			if !stale {
				p.cancelTimer()
				p.transitionTo(StatusSuspect)
				p.armSuspectTimer()
			}
		case StatusDown:
			p.applyDown(sequence)
		}
	case StatusSuspect:
		switch status {
		case StatusAlive:
			if sequence > old {
				p.cancelTimer()
				p.transitionTo(StatusAlive)
			}
		case StatusDown:
			p.cancelTimer()
			p.applyDown(sequence)
		}
	case StatusDown:
		if status == StatusAlive && sequence > old {
			p.transitionTo(StatusAlive)
		}
		// A suspect or down update can never move a down peer: suspicion
		// cannot revive it, and a repeated down fact is a no-op.
	}
}

// applyDown transitions to down, gated on lastDownSequence so a reordered,
// already-superseded down assertion can never re-fire the transition, and
// gated on p.sequence so a down assertion older than the newest observed
// sequence (for instance one that predates a newer alive) can never fire
// at all - the sequence rule above has already raised p.sequence past any
// such stale sequence by then.
func (p *Peer) applyDown(sequence uint64) {
	if sequence < p.sequence || int64(sequence) <= p.lastDownSequence {
		return
	}
	p.lastDownSequence = int64(sequence)
	p.transitionTo(StatusDown)
}

// Observe records a direct observation of this peer - an ack, ping, or
// ping-req received from it. The only state-machine effect is reviving a
// suspect peer; alive and down peers are unaffected by a bare observation.
func (p *Peer) Observe() {
	if p.status != StatusSuspect {
		return
	}
	p.cancelTimer()
	p.transitionTo(StatusAlive)
}

// Suspect idempotently moves an alive peer to suspect and arms the suspect
// timeout. No-op if the peer is already suspect or down, satisfying the
// "idempotent suspect" law.
func (p *Peer) Suspect() bool {
	if p.status != StatusAlive {
		return false
	}
	p.transitionTo(StatusSuspect)
	p.armSuspectTimer()
	return true
}

func (p *Peer) armSuspectTimer() {
	p.cancelTimer()
	if p.schedule == nil {
		return
	}
	p.timer = p.schedule(p.suspectTimeout, p.onSuspectExpiry)
}

func (p *Peer) onSuspectExpiry() {
	// The timer may have already been canceled-but-in-flight when this
	// closure was scheduled; re-check status before acting.
	if p.status != StatusSuspect {
		return
	}
	p.timer = nil
	p.lastDownSequence = maxInt64(p.lastDownSequence, int64(p.sequence))
	p.transitionTo(StatusDown)
}

// CancelTimer stops any armed suspect timer. Used by the engine on
// teardown so a peer's timer never fires into a torn-down event loop.
func (p *Peer) CancelTimer() { p.cancelTimer() }

func (p *Peer) cancelTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Peer) transitionTo(new Status) {
	old := p.status
	if old == new {
		return
	}
	p.status = new
	p.logger.Debug("peer status transition",
		zap.Int("peer_id", int(p.ID)),
		zap.String("from", string(old)),
		zap.String("to", string(new)),
		zap.Uint64("sequence", p.sequence),
	)
	if p.OnStatusChange != nil {
		p.OnStatusChange(p, old, new)
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Package engine wires the peer table, dissemination buffer, scheduler
// and probe driver into the single-threaded membership engine described
// by the protocol. Every mutation of shared state happens on one
// goroutine, reached exclusively through the mailbox (Post); timers and
// transport callbacks never touch engine state directly. Grounded on
// internal/cluster/cluster.go's role as the glue between store, gossip
// and pledge, and on internal/cluster/gossip/gossip.go's Shutdown-driven
// protocol-period loop.
package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/arya-analytics/x/shutdown"
	"go.uber.org/zap"

	"swim/internal/peer"
	"swim/internal/probe"
	"swim/internal/scheduler"
	"swim/internal/transport"
	"swim/internal/update"
	"swim/internal/wire"
)

// Engine is one SWIM node: its own identity and sequence counter, the
// table of everything it knows about every other node, and the drivers
// (scheduler, probe) that keep that table converging.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	selfID  peer.ID
	selfSeq uint64

	peers map[peer.ID]*peer.Peer
	order []*peer.Peer

	buffer    *update.Buffer
	scheduler *scheduler.Scheduler
	driver    *probe.Driver
	transport transport.Transport
	shutdown  shutdown.Shutdown
	rng       *rand.Rand

	mailbox chan func()

	listeners []Listener

	// eventReqWaiters and stateWaiters back the optional test-observation
	// commands (event/event-req/state-req/state); they are not part of
	// the core failure-detection path.
	localEventListeners map[string][]func()
	eventReqWaiters     map[string]chan struct{}
	stateWaiters        map[peer.ID]chan []wire.Update

	periodCancel context.CancelFunc
}

// New constructs an engine from cfg, merged onto DefaultConfig. The
// engine accepts AddPeer calls immediately; inbound messages are
// delivered once Init has bound the transport, and the probe scheduler
// only runs once Start is called.
func New(cfg Config) *Engine {
	cfg = cfg.Merge(DefaultConfig())
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	e := &Engine{
		cfg:                 cfg,
		logger:              cfg.Logger,
		selfID:              cfg.SelfID,
		peers:               make(map[peer.ID]*peer.Peer),
		buffer:              update.New(cfg.DisseminationFactor, cfg.MaxPiggyback),
		rng:                 cfg.Rand,
		mailbox:             make(chan func(), 256),
		transport:           cfg.Transport,
		shutdown:            shutdown.New(),
		localEventListeners: make(map[string][]func()),
		eventReqWaiters:     make(map[string]chan struct{}),
		stateWaiters:        make(map[peer.ID]chan []wire.Update),
	}
	e.scheduler = scheduler.New(e.rng, e.peerCount, e.swapOrder, e.probeIndex)
	go e.run()
	return e
}

func (e *Engine) run() {
	for f := range e.mailbox {
		f()
	}
}

// Post runs f on the engine's event loop. Safe to call from any
// goroutine, including timer callbacks and the transport's receive loop.
func (e *Engine) Post(f func()) { e.mailbox <- f }

// SelfID implements probe.Host.
func (e *Engine) SelfID() peer.ID { return e.selfID }

// TakeUpdates implements probe.Host: it converts the dissemination
// buffer's freshest batch to wire form, sized against the current
// peer-table population.
func (e *Engine) TakeUpdates() []wire.Update {
	recs := e.buffer.Take(len(e.peers))
	out := make([]wire.Update, len(recs))
	for i, r := range recs {
		out[i] = wire.Update{
			ID:       int(r.ID),
			Sequence: r.Sequence,
			Status:   wire.UpdateStatus(r.Status),
			Host:     r.Host,
			Port:     r.Port,
		}
	}
	return out
}

// RandomAlivePeerExcept implements probe.Host.
func (e *Engine) RandomAlivePeerExcept(except peer.ID) (*peer.Peer, bool) {
	candidates := make([]*peer.Peer, 0, len(e.order))
	for _, p := range e.order {
		if p.ID != except && p.IsAlive() {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	return candidates[e.rng.Intn(len(candidates))], true
}

// ReportTransportError implements probe.Host: it re-publishes a probe
// send failure on the engine's own signal bus so a caller subscribed only
// via OnSignal sees it, without the probe package depending on Signal.
func (e *Engine) ReportTransportError(to peer.ID, err error) {
	e.emit(Signal{Kind: TransportFailed, PeerID: to, Err: err})
}

// OnSignal registers a listener for every lifecycle signal the engine
// publishes. Must be called before Init to avoid missing early signals.
func (e *Engine) OnSignal(l Listener) { e.listeners = append(e.listeners, l) }

func (e *Engine) emit(s Signal) {
	for _, l := range e.listeners {
		l(s)
	}
}

// Init binds the transport (building a real UDP socket from cfg.Host and
// cfg.Port if cfg.Transport was not supplied), wires the inbound message
// handler, constructs the probe driver, and populates the peer table
// from peers. It returns a wrapped transport.ErrTransport if the socket
// cannot bind.
func (e *Engine) Init(peers []PeerInfo) error {
	if e.transport == nil {
		t, err := transport.NewUDP(e.cfg.Host, e.cfg.Port, e.logger)
		if err != nil {
			return err
		}
		e.transport = t
	}
	e.driver = probe.New(probe.Config{ProbeTimeout: e.cfg.ProbeTimeout}, e.transport, e, e.logger)

	if err := e.transport.Listen(e.handleInbound); err != nil {
		return err
	}
	done := make(chan struct{})
	e.Post(func() {
		for _, info := range peers {
			e.AddPeer(info)
		}
		close(done)
	})
	<-done
	return nil
}

// Start begins the protocol-period loop: on every tick the scheduler
// advances to the next peer and a probe is launched against it. It
// returns an error channel fed by the underlying tick loop, mirroring
// the teacher's Gossip.Gossip.
func (e *Engine) Start(ctx context.Context) <-chan error {
	periodCtx, cancel := context.WithCancel(ctx)
	e.periodCancel = cancel
	errC := make(chan error)
	e.shutdown.GoTick(e.cfg.ProtocolPeriod, func() error {
		e.Post(func() { e.scheduler.Tick() })
		return nil
	}, shutdown.WithContext(periodCtx), shutdown.WithErrPipe(errC))
	return errC
}

// Stop ends the protocol-period loop without closing the transport or
// releasing peer timers; the engine keeps dispatching inbound messages.
func (e *Engine) Stop() {
	if e.periodCancel != nil {
		e.periodCancel()
	}
}

// Teardown stops the protocol-period loop, cancels every peer's suspect
// timer, and closes the transport. The engine is not usable afterward.
func (e *Engine) Teardown() error {
	e.Stop()
	done := make(chan struct{})
	e.Post(func() {
		for _, p := range e.peers {
			p.CancelTimer()
		}
		close(done)
	})
	<-done
	if e.transport == nil {
		return nil
	}
	return e.transport.Close()
}

// AddPeer registers info in the peer table at a random position in the
// traversal order, wiring its lifecycle callbacks. It is a no-op (ok
// false) for the local node's own id or for an id already registered.
func (e *Engine) AddPeer(info PeerInfo) (*peer.Peer, bool) {
	if info.ID == e.selfID {
		return nil, false
	}
	if p, exists := e.peers[info.ID]; exists {
		return p, false
	}
	p := peer.New(info.ID, info.Host, info.Port, e.cfg.SuspectTimeout, e.scheduleTimer, e.logger)
	p.OnStatusChange = e.onPeerStatusChange
	p.OnSequence = e.onPeerSequence
	e.peers[info.ID] = p
	e.insertAtRandomIndex(p)
	e.logger.Info("peer added", zap.Int("peer_id", int(p.ID)), zap.String("host", p.Host), zap.Int("port", p.Port))
	return p, true
}

// RandomPeer returns a uniformly random known peer, regardless of
// status; ok is false if the table is empty.
func (e *Engine) RandomPeer() (*peer.Peer, bool) {
	if len(e.order) == 0 {
		return nil, false
	}
	return e.order[e.rng.Intn(len(e.order))], true
}

func (e *Engine) insertAtRandomIndex(p *peer.Peer) {
	idx := 0
	if len(e.order) > 0 {
		idx = e.rng.Intn(len(e.order) + 1)
	}
	e.order = append(e.order, nil)
	copy(e.order[idx+1:], e.order[idx:])
	e.order[idx] = p
}

func (e *Engine) scheduleTimer(d time.Duration, f func()) *time.Timer {
	return time.AfterFunc(d, func() { e.Post(f) })
}

func (e *Engine) peerCount() int { return len(e.order) }

func (e *Engine) swapOrder(i, j int) { e.order[i], e.order[j] = e.order[j], e.order[i] }

func (e *Engine) probeIndex(idx int) {
	e.driver.Probe(context.Background(), e.order[idx])
}

func (e *Engine) onPeerStatusChange(p *peer.Peer, old, new peer.Status) {
	e.buffer.Add(p.ID, p.Sequence(), new)
	level := e.logger.Info
	if new == peer.StatusSuspect || new == peer.StatusDown {
		level = e.logger.Warn
	}
	level("peer status changed",
		zap.Int("peer_id", int(p.ID)), zap.String("from", string(old)), zap.String("to", string(new)))
	e.emit(Signal{Kind: statusToKind(new), PeerID: p.ID, Sequence: p.Sequence()})
}

func (e *Engine) onPeerSequence(p *peer.Peer, seq uint64) {
	e.emit(Signal{Kind: PeerSequenceAdvanced, PeerID: p.ID, Sequence: seq})
}

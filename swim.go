// Package swim implements the SWIM group membership and failure
// detection protocol: a constant-load, gossip-driven scheme for
// tracking which nodes in a cluster are alive, suspected, or down.
//
// A Node is built with New, seeded with an initial peer list via Init,
// and set in motion with Start. Everything else - probing, gossip
// piggybacking, suspicion timeouts, self-refutation - runs on the
// node's own event loop from there.
package swim

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"swim/internal/engine"
	"swim/internal/peer"
	"swim/internal/wire"
)

// PeerID identifies a node in the cluster.
type PeerID = peer.ID

// Peer is the initial seed information for one cluster member, supplied
// to Init.
type Peer struct {
	ID   PeerID
	Host string
	Port int
}

// Node is a single SWIM cluster member.
type Node struct {
	e *engine.Engine
}

// New constructs a Node from cfg and opts. The node accepts signal
// registration and AddPeer calls immediately; call Init to bind its
// transport and seed the peer table, then Start to begin probing.
func New(cfg Config, opts ...Option) *Node {
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Node{e: engine.New(cfg.toEngineConfig())}
}

// Init binds the node's transport (a real UDP socket unless a transport
// was supplied via WithTransport) and registers the seed peer list.
func (n *Node) Init(peers []Peer) error {
	infos := make([]engine.PeerInfo, len(peers))
	for i, p := range peers {
		infos[i] = engine.PeerInfo{ID: p.ID, Host: p.Host, Port: p.Port}
	}
	return n.e.Init(infos)
}

// Start begins the protocol-period probe loop and returns an error
// channel fed by that loop's failures.
func (n *Node) Start(ctx context.Context) <-chan error { return n.e.Start(ctx) }

// Stop ends the protocol-period loop without releasing the node's
// resources; inbound messages are still dispatched.
func (n *Node) Stop() { n.e.Stop() }

// Teardown stops the node and releases its transport and every peer's
// suspicion timer. The node is not usable afterward.
func (n *Node) Teardown() error { return n.e.Teardown() }

// AddPeer registers a peer discovered after Init, e.g. one learned only
// from a gossiped update's address hint. ok is false if id is the
// node's own id or already known.
func (n *Node) AddPeer(p Peer) (ok bool) {
	var added bool
	done := make(chan struct{})
	n.e.Post(func() {
		_, added = n.e.AddPeer(engine.PeerInfo{ID: p.ID, Host: p.Host, Port: p.Port})
		close(done)
	})
	<-done
	return added
}

// PeerStatus reports this node's locally-known status for id. ok is
// false if id has never been registered.
func (n *Node) PeerStatus(id PeerID) (status peer.Status, ok bool) {
	return n.e.PeerStatus(id)
}

// Signal is one lifecycle event: a peer's status changed, its sequence
// advanced, this node refuted a suspicion about itself, or an inbound
// message could not be parsed or understood.
type Signal = engine.Signal

// Re-exported signal kinds, for callers that only need to import swim.
const (
	SignalPeerAlive            = engine.PeerAlive
	SignalPeerSuspect          = engine.PeerSuspect
	SignalPeerDown             = engine.PeerDown
	SignalPeerSequenceAdvanced = engine.PeerSequenceAdvanced
	SignalSelfRefuted          = engine.SelfRefuted
	SignalParseFailed          = engine.ParseFailed
	SignalUnrecognizedCommand  = engine.UnrecognizedCommand
	SignalUnrecognizedStatus   = engine.UnrecognizedStatus
	SignalPeerNotFound         = engine.PeerNotFound
	SignalTransportFailed      = engine.TransportFailed
)

// OnSignal registers a listener for every lifecycle signal the node
// publishes. Must be called before Init to avoid missing early signals;
// the listener runs on the node's own event loop and must not block.
func (n *Node) OnSignal(l func(Signal)) { n.e.OnSignal(engine.Listener(l)) }

// RequestState asks id for a full snapshot of its peer table. It exists
// for tests and diagnostics that need an immediate read rather than
// waiting on gossip convergence.
func (n *Node) RequestState(ctx context.Context, id PeerID) ([]wire.Update, error) {
	return n.e.RequestState(ctx, id)
}

// EventReq asks id to notify this node the next time name fires locally
// on it. Test-only observability hook, unrelated to the failure
// detector's own signal bus.
func (n *Node) EventReq(ctx context.Context, id PeerID, name string, timeout time.Duration) error {
	return n.e.EventReq(ctx, id, name, timeout)
}

// RequestClusterState fans RequestState out to every currently-known
// peer concurrently and aggregates the results, short-circuiting on the
// first peer that errors (following errgroup's fail-fast convention).
// Diagnostic convenience built on the same state-req/state commands
// RequestState uses; not part of the failure detector's own convergence
// path.
func (n *Node) RequestClusterState(ctx context.Context) (map[PeerID][]wire.Update, error) {
	ids := n.e.PeerIDs()
	var mu sync.Mutex
	result := make(map[PeerID][]wire.Update, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			state, err := n.e.RequestState(gctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			result[id] = state
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// DefaultLogger returns a development-mode zap logger, convenient for
// examples and tests that don't want to construct their own.
func DefaultLogger() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}

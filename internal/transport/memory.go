package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
)

// MemoryNetwork is a shared in-process registry of MemoryTransports, keyed
// by "host:port". It plays the role the teacher's Router plays for
// internal/node/transport.go's SyncTransport: a rendezvous point so tests
// can run several engines in one process without real sockets.
type MemoryNetwork struct {
	mu    sync.Mutex
	nodes map[string]*MemoryTransport
}

// NewMemoryNetwork constructs an empty shared network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{nodes: make(map[string]*MemoryTransport)}
}

// New registers and returns a new transport bound to host:port on this
// network.
func (n *MemoryNetwork) New(host string, port int) *MemoryTransport {
	t := &MemoryTransport{network: n, host: host, port: port}
	n.mu.Lock()
	n.nodes[key(host, port)] = t
	n.mu.Unlock()
	return t
}

func key(host string, port int) string { return fmt.Sprintf("%s:%d", host, port) }

// MemoryTransport implements Transport by handing payloads directly to a
// peer transport's registered handler, on a fresh goroutine so Send never
// blocks on - or deadlocks with - the recipient's own event loop.
type MemoryTransport struct {
	network *MemoryNetwork
	host    string
	port    int

	mu      sync.Mutex
	handler Handler
	closed  bool
}

func (t *MemoryTransport) LocalAddr() (string, int) { return t.host, t.port }

func (t *MemoryTransport) Listen(handler Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
	return nil
}

func (t *MemoryTransport) Send(ctx context.Context, host string, port int, payload []byte) error {
	t.network.mu.Lock()
	target, ok := t.network.nodes[key(host, port)]
	t.network.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrTransport, "no route to %s:%d", host, port)
	}
	target.mu.Lock()
	handler, closed := target.handler, target.closed
	target.mu.Unlock()
	if closed || handler == nil {
		return errors.Wrapf(ErrTransport, "peer %s:%d not listening", host, port)
	}
	go handler(payload, t.host, t.port)
	return nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.network.mu.Lock()
	delete(t.network.nodes, key(t.host, t.port))
	t.network.mu.Unlock()
	return nil
}

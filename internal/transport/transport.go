// Package transport provides the engine's datagram abstraction: a sender
// of (bytes, host, port) and an incoming stream of (bytes, sender host,
// sender port), per the spec's explicit statement that the socket itself
// sits outside the protocol core. This package supplies both the real
// implementation (UDPTransport) and an in-process one (MemoryTransport)
// for deterministic tests, grounded on the teacher's Router/SyncTransport
// pair in internal/node/transport.go.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// ErrTransport is returned (wrapped with context) for send and bind
// failures.
var ErrTransport = errors.New("transport error")

// maxDatagramSize is the practical ceiling for a single UDP payload.
const maxDatagramSize = 65507

// Handler is invoked once per inbound datagram with the payload and the
// sender's source address as reported by the socket layer.
type Handler func(payload []byte, host string, port int)

// Transport is the datagram abstraction the engine is built against.
type Transport interface {
	// Send transmits payload to host:port. It may suspend awaiting kernel
	// send completion, per the spec's suspension points.
	Send(ctx context.Context, host string, port int, payload []byte) error
	// Listen starts delivering inbound datagrams to handler. It returns
	// once the receive loop has started, not when it stops.
	Listen(handler Handler) error
	// LocalAddr reports the bound host and port.
	LocalAddr() (string, int)
	// Close releases the underlying socket; any in-flight receive
	// terminates.
	Close() error
}

// UDPTransport is the production transport: a single *net.UDPConn shared
// by the dispatcher's receive loop and every outbound send.
type UDPTransport struct {
	conn   *net.UDPConn
	host   string
	port   int
	logger *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewUDP binds a UDP socket at host:port. It returns ErrTransport on bind
// failure, matching the spec's BindError propagation policy.
func NewUDP(host string, port int, logger *zap.Logger) (*UDPTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	if addr.IP == nil {
		resolved, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
		if err != nil {
			return nil, errors.Wrapf(ErrTransport, "resolve %s:%d: %v", host, port, err)
		}
		addr = resolved
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(ErrTransport, "bind %s:%d: %v", host, port, err)
	}
	bound := conn.LocalAddr().(*net.UDPAddr)
	return &UDPTransport{
		conn:   conn,
		host:   bound.IP.String(),
		port:   bound.Port,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

func (t *UDPTransport) LocalAddr() (string, int) { return t.host, t.port }

func (t *UDPTransport) Send(ctx context.Context, host string, port int, payload []byte) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return errors.Wrapf(ErrTransport, "resolve target %s:%d: %v", host, port, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := t.conn.WriteToUDP(payload, addr); err != nil {
		return errors.Wrapf(ErrTransport, "send to %s:%d: %v", host, port, err)
	}
	return nil
}

func (t *UDPTransport) Listen(handler Handler) error {
	go func() {
		buf := make([]byte, maxDatagramSize)
		for {
			n, addr, err := t.conn.ReadFromUDP(buf)
			select {
			case <-t.done:
				return
			default:
			}
			if err != nil {
				t.logger.Warn("udp receive error", zap.Error(err))
				return
			}
			payload := make([]byte, n)
			copy(payload, buf[:n])
			handler(payload, addr.IP.String(), addr.Port)
		}
	}()
	return nil
}

func (t *UDPTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return t.conn.Close()
}

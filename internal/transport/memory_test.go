package transport

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryTransportDeliversToListener(t *testing.T) {
	net := NewMemoryNetwork()
	a := net.New("node-a", 1)
	b := net.New("node-b", 2)

	var (
		mu       sync.Mutex
		received []byte
		wg       sync.WaitGroup
	)
	wg.Add(1)
	if err := b.Listen(func(payload []byte, host string, port int) {
		mu.Lock()
		received = payload
		mu.Unlock()
		wg.Done()
	}); err != nil {
		t.Fatalf("listen: %v", err)
	}

	if err := a.Send(context.Background(), "node-b", 2, []byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if string(received) != "hello" {
		t.Fatalf("expected 'hello', got %q", received)
	}
}

func TestMemoryTransportSendToUnknownReturnsError(t *testing.T) {
	net := NewMemoryNetwork()
	a := net.New("node-a", 1)
	if err := a.Send(context.Background(), "ghost", 9, []byte("x")); err == nil {
		t.Fatal("expected error sending to unregistered peer")
	}
}

package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

var directSeq int64

// direct is an in-memory Transport backed by a pair of channels, used to
// connect a Client and Server within the same process (most useful in
// tests, where spinning up a stdio subprocess or HTTP listener is overkill).
type direct struct {
	id   ID
	send chan<- []byte
	recv <-chan []byte
	done chan struct{} // closed by this end's Close

	mu     sync.Mutex
	closed bool
}

// NewDirectPair returns two connected Transports passing message buffers
// directly in memory, with no framing or encoding: sends on one arrive as
// Receives on the other.
func NewDirectPair() (a, b Transport) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	n := atomic.AddInt64(&directSeq, 1)
	da := &direct{id: ID(fmt.Sprintf("direct-%d-a", n)), send: ab, recv: ba, done: make(chan struct{})}
	db := &direct{id: ID(fmt.Sprintf("direct-%d-b", n)), send: ba, recv: ab, done: make(chan struct{})}
	return da, db
}

func (d *direct) Send(ctx context.Context, data []byte, _ SendOptions) (err error) {
	cp := make([]byte, len(data))
	copy(cp, data)
	defer func() {
		if p := recover(); p != nil {
			err = ErrClosed
		}
	}()
	select {
	case d.send <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *direct) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg, ok := <-d.recv:
		if !ok {
			return nil, ErrClosed
		}
		return msg, nil
	case <-d.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *direct) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.send)
	close(d.done)
	return nil
}

func (d *direct) TransportID() ID { return d.id }
func (d *direct) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed
}
func (d *direct) TransportType() Kind { return KindDirect }

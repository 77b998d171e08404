package tutor

import (
	"context"
	"errors"
	"sync"
)

var errStreamClosed = errors.New("event stream closed")

// emitter serializes sends on a request stream. The provider goroutine that
// relays chunks can outlive the request, so sends after the terminal event
// are dropped instead of reaching a closed channel.
type emitter struct {
	ctx context.Context

	mu     sync.Mutex
	out    chan Event
	closed bool
}

func newEmitter(ctx context.Context, out chan Event) *emitter {
	return &emitter{ctx: ctx, out: out}
}

func (e *emitter) send(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errStreamClosed
	}
	if err := e.ctx.Err(); err != nil {
		return err
	}
	select {
	case e.out <- ev:
		return nil
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

// finish delivers the terminal event and refuses every later send. A caller
// that has gone away only gets the event if there is buffer room.
func (e *emitter) finish(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	if e.ctx.Err() == nil {
		select {
		case e.out <- ev:
			return
		case <-e.ctx.Done():
		}
	}
	select {
	case e.out <- ev:
	default:
	}
}

func (e *emitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.out != nil {
		close(e.out)
		e.out = nil
	}
}

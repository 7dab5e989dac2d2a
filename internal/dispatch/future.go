package dispatch

import (
	"context"
	"sync"
)

// Future is a single-assignment slot for a Response.
type Future struct {
	once      sync.Once
	done      chan struct{}
	resp      Response
	cancelled bool
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func resolvedFuture(resp Response) *Future {
	f := newFuture()
	f.resolve(resp)
	return f
}

// resolve stores resp if nothing has been stored yet and reports whether it did.
func (f *Future) resolve(resp Response) bool {
	won := false
	f.once.Do(func() {
		f.resp = resp
		won = true
		close(f.done)
	})
	return won
}

// Cancel abandons the future. The worker still runs the handler and notifies
// subscribers, but its Response is discarded. Reports whether the cancel won.
func (f *Future) Cancel() bool {
	won := false
	f.once.Do(func() {
		f.cancelled = true
		f.resp = Response{Message: "Command cancelled"}
		won = true
		close(f.done)
	})
	return won
}

// Done is closed once the future holds a Response.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Cancelled reports whether the caller cancelled the future before it resolved.
func (f *Future) Cancelled() bool {
	select {
	case <-f.done:
		return f.cancelled
	default:
		return false
	}
}

// Wait blocks until the future resolves or ctx ends.
func (f *Future) Wait(ctx context.Context) (Response, error) {
	select {
	case <-f.done:
		return f.resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

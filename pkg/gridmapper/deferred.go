package gridmapper

import "context"

// Deferred is a handle to a relation value that is being resolved in the
// background.
type Deferred struct {
	done  chan struct{}
	value any
	err   error
}

func newDeferred() *Deferred {
	return &Deferred{done: make(chan struct{})}
}

func (d *Deferred) complete(value any, err error) {
	d.value = value
	d.err = err
	close(d.done)
}

// Resolved reports whether the value is available without blocking.
func (d *Deferred) Resolved() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Await blocks until the value has been resolved or the context is done,
// whichever happens first.
func (d *Deferred) Await(ctx context.Context) (any, error) {
	select {
	case <-d.done:
		return d.value, d.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

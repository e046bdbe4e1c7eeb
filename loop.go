package zocp

import (
	"context"
	"errors"
	"time"
)

var errEventsClosed = errors.New("zocp: presence events channel closed")

// Do queues fn for the event loop, which runs it between frames. Node
// state must only be touched from the loop; Do is the way in from other
// goroutines.
func (n *Node) Do(fn func(*Node)) {
	n.funnel <- fn
}

// RunOnce pumps the node once: it waits up to timeout for something to
// happen, then handles everything already pending and returns. A zero
// timeout only drains. Callback errors abort the drain and surface here.
func (n *Node) RunOnce(timeout time.Duration) error {
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case fn := <-n.funnel:
			fn(n)
		case e, ok := <-n.client.Events():
			if !ok {
				return errEventsClosed
			}
			if err := n.processEvent(e); err != nil {
				return err
			}
		case <-timer.C:
			return nil
		}
	}

	for {
		select {
		case fn := <-n.funnel:
			fn(n)
		case e, ok := <-n.client.Events():
			if !ok {
				return errEventsClosed
			}
			if err := n.processEvent(e); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// Run pumps the node until ctx is done or a callback fails. Context
// cancellation stops the node and returns nil; everything else comes
// back as the error, with the node still started so the caller can
// decide.
func (n *Node) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n.Stop()
			return nil
		case fn := <-n.funnel:
			fn(n)
		case e, ok := <-n.client.Events():
			if !ok {
				return errEventsClosed
			}
			if err := n.processEvent(e); err != nil {
				return err
			}
		}
	}
}

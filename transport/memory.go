package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Pipe is one end of an in-process transport. Frames sent on one end are received by the other one
// while it is running.
type Pipe struct {
	out  *outbox
	peer *Pipe

	closeOnce sync.Once
	closed    chan struct{}
}

// NewPipe creates connected pair of pipe ends.
func NewPipe(atoms Atoms) (*Pipe, *Pipe) {
	p1 := &Pipe{out: newOutbox(atoms), closed: make(chan struct{})}
	p2 := &Pipe{out: newOutbox(atoms), closed: make(chan struct{})}
	p1.peer = p2
	p2.peer = p1
	return p1, p2
}

// Send sends frame to the other end.
func (p *Pipe) Send(frame Frame) error {
	return p.out.Send(frame)
}

// Run receives frames sent by the other end until ctx is canceled or the pipe is closed.
func (p *Pipe) Run(ctx context.Context, recv ReceiveFn) error {
	ch := p.peer.out.Attach()
	defer p.peer.out.Detach(ch)

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-p.closed:
			return nil
		case frame, ok := <-ch:
			if !ok {
				return errors.New("pipe attached twice")
			}
			p.peer.out.Delivered(ch, frame.Atom)
			if err := recv(ctx, frame); err != nil {
				return err
			}
		}
	}
}

// Close stops receiving, so the other end sees the peer as unreachable.
func (p *Pipe) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
}

package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/zacp/wire"
)

var (
	// ErrPeerUnreachable is returned when there is no live connection to the peer.
	ErrPeerUnreachable = errors.New("peer unreachable")

	// ErrSendPending is returned when previous frame on the atom has not been delivered yet.
	ErrSendPending = errors.New("send pending on atom")

	// ErrUnknownAtom is returned when frame names an atom not configured for the transport.
	ErrUnknownAtom = errors.New("unknown atom")
)

// Frame is a single document delivered on an atom.
type Frame struct {
	Atom    wire.Atom
	Payload []byte
}

// ReceiveFn is called for every frame received from the peer.
type ReceiveFn func(ctx context.Context, frame Frame) error

// Transport delivers frames between two peers.
type Transport interface {
	// Run delivers frames until ctx is canceled or transport fails.
	Run(ctx context.Context, recv ReceiveFn) error

	// Send hands frame over for delivery. It never blocks.
	Send(frame Frame) error
}

// Atoms is the pair of atoms used between peers.
type Atoms struct {
	Request  wire.Atom
	Response wire.Atom
}

// Has tells if atom belongs to the pair.
func (a Atoms) Has(atom wire.Atom) bool {
	return atom == a.Request || atom == a.Response
}

// outbox keeps at most one undelivered frame per atom and hands frames to the current connection.
type outbox struct {
	atoms Atoms

	mu      sync.Mutex
	ch      chan Frame
	pending map[wire.Atom]bool
}

func newOutbox(atoms Atoms) *outbox {
	return &outbox{
		atoms:   atoms,
		pending: map[wire.Atom]bool{},
	}
}

// Attach replaces the current connection channel.
func (o *outbox) Attach() <-chan Frame {
	ch := make(chan Frame, 2)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ch != nil {
		close(o.ch)
	}
	o.ch = ch
	clear(o.pending)

	return ch
}

// Detach removes the channel if it is still the current one.
func (o *outbox) Detach(ch <-chan Frame) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ch != nil && (<-chan Frame)(o.ch) == ch {
		close(o.ch)
		o.ch = nil
		clear(o.pending)
	}
}

// Send queues frame for the current connection.
func (o *outbox) Send(frame Frame) error {
	if !o.atoms.Has(frame.Atom) {
		return errors.Wrapf(ErrUnknownAtom, "atom %q", frame.Atom)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ch == nil {
		return errors.WithStack(ErrPeerUnreachable)
	}
	if o.pending[frame.Atom] {
		return errors.Wrapf(ErrSendPending, "atom %q", frame.Atom)
	}

	o.pending[frame.Atom] = true
	o.ch <- frame
	return nil
}

// Delivered releases the atom after frame has been written.
func (o *outbox) Delivered(ch <-chan Frame, atom wire.Atom) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ch != nil && (<-chan Frame)(o.ch) == ch {
		delete(o.pending, atom)
	}
}

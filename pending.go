package zacp

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/zacp/wire"
)

// Pending is the outcome of a sent request. It is resolved exactly once with a reply or an error.
type Pending struct {
	request *wire.Request
	done    chan struct{}
	once    sync.Once

	reply *wire.Reply
	err   error
}

func newPending(req *wire.Request) *Pending {
	return &Pending{
		request: req,
		done:    make(chan struct{}),
	}
}

// ID returns id of the request.
func (p *Pending) ID() string {
	return p.request.ID
}

// Action returns action of the request.
func (p *Pending) Action() string {
	return p.request.Action
}

// Done is closed when the outcome is known.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome. It must be called after Done is closed.
func (p *Pending) Result() (*wire.Reply, error) {
	select {
	case <-p.done:
		return p.reply, p.err
	default:
		return nil, errors.New("request still pending")
	}
}

// Wait waits for the outcome.
func (p *Pending) Wait(ctx context.Context) (*wire.Reply, error) {
	select {
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	case <-p.done:
		return p.reply, p.err
	}
}

func (p *Pending) resolve(reply *wire.Reply, err error) bool {
	var resolved bool
	p.once.Do(func() {
		p.reply = reply
		p.err = err
		resolved = true
		close(p.done)
	})
	return resolved
}

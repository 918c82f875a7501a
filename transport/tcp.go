package transport

import (
	"context"
	"crypto/rand"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/resonance"
	"github.com/outofforest/zacp/wire"
)

var errSelfConnection = errors.New("connected to myself")

// TCPConfig is the config of TCP transport.
type TCPConfig struct {
	// Listener accepts connections from the peer, if set.
	Listener net.Listener

	// PeerAddr is dialed and redialed after failures, if set.
	PeerAddr string

	Atoms          Atoms
	MaxMessageSize uint64
}

// TCP delivers frames over resonance connections. Only the newest connection is used for sending.
type TCP struct {
	config TCPConfig
	id     wire.PeerID
	out    *outbox
}

// NewTCP creates TCP transport.
func NewTCP(config TCPConfig) (*TCP, error) {
	if config.Listener == nil && config.PeerAddr == "" {
		return nil, errors.New("neither listener nor peer address specified")
	}
	if config.Atoms.Request == "" || config.Atoms.Response == "" || config.Atoms.Request == config.Atoms.Response {
		return nil, errors.Errorf("invalid atom pair %q/%q", config.Atoms.Request, config.Atoms.Response)
	}

	id, err := peerID()
	if err != nil {
		return nil, err
	}

	return &TCP{
		config: config,
		id:     id,
		out:    newOutbox(config.Atoms),
	}, nil
}

// Send sends frame to the connected peer.
func (t *TCP) Send(frame Frame) error {
	return t.out.Send(frame)
}

// Run runs transport.
func (t *TCP) Run(ctx context.Context, recv ReceiveFn) error {
	connConfig := resonance.Config{
		MaxMessageSize: t.config.MaxMessageSize,
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		if t.config.Listener != nil {
			spawn("server", parallel.Fail, func(ctx context.Context) error {
				return resonance.RunServer(ctx, t.config.Listener, connConfig,
					func(ctx context.Context, c *resonance.Connection) error {
						return t.runConn(ctx, c, recv)
					})
			})
		}
		if t.config.PeerAddr != "" {
			spawn("client", parallel.Continue, func(ctx context.Context) error {
				log := logger.Get(ctx)

				for {
					err := resonance.RunClient(ctx, t.config.PeerAddr, connConfig,
						func(ctx context.Context, c *resonance.Connection) error {
							return t.runConn(ctx, c, recv)
						})

					if ctx.Err() != nil {
						return errors.WithStack(ctx.Err())
					}

					if errors.Is(err, errSelfConnection) {
						return nil
					}

					log.Error("Peer connection failed", zap.String("peer", t.config.PeerAddr), zap.Error(err))
					select {
					case <-ctx.Done():
						return errors.WithStack(ctx.Err())
					case <-time.After(time.Second):
					}
				}
			})
		}

		return nil
	})
}

func (t *TCP) runConn(ctx context.Context, c *resonance.Connection, recv ReceiveFn) error {
	m := wire.NewMarshaller()

	if err := c.SendProton(&wire.Hello{
		PeerID:       t.id,
		RequestAtom:  t.config.Atoms.Request,
		ResponseAtom: t.config.Atoms.Response,
	}, m); err != nil {
		return err
	}

	msg, err := c.ReceiveProton(m)
	if err != nil {
		return err
	}

	helloMsg, ok := msg.(*wire.Hello)
	if !ok {
		return errors.New("hello message expected")
	}

	if helloMsg.PeerID == t.id {
		return errSelfConnection
	}
	if helloMsg.RequestAtom != t.config.Atoms.Request || helloMsg.ResponseAtom != t.config.Atoms.Response {
		return errors.Errorf("peer uses atoms %q/%q, expected %q/%q", helloMsg.RequestAtom, helloMsg.ResponseAtom,
			t.config.Atoms.Request, t.config.Atoms.Response)
	}

	sendCh := t.out.Attach()

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("receiver", parallel.Fail, func(ctx context.Context) error {
			defer t.out.Detach(sendCh)

			for {
				msg, err := c.ReceiveProton(m)
				if err != nil {
					return err
				}

				headerMsg, ok := msg.(*wire.Header)
				if !ok {
					return errors.New("header message expected")
				}

				payload, err := c.ReceiveBytes()
				if err != nil {
					return err
				}

				if err := recv(ctx, Frame{Atom: headerMsg.Atom, Payload: payload}); err != nil {
					return err
				}
			}
		})
		spawn("sender", parallel.Fail, func(ctx context.Context) error {
			defer func() {
				for range sendCh {
				}
			}()
			defer c.Close()

			for frame := range sendCh {
				if err := c.SendProton(&wire.Header{Atom: frame.Atom}, m); err != nil {
					return err
				}
				if err := c.SendBytes(frame.Payload); err != nil {
					return err
				}
				t.out.Delivered(sendCh, frame.Atom)
			}

			return nil
		})

		return nil
	})
}

func peerID() (wire.PeerID, error) {
	var id wire.PeerID
	_, err := rand.Read(id[:])
	if err != nil {
		return wire.PeerID{}, errors.WithStack(err)
	}
	return id, nil
}

package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/parallel"
	"github.com/outofforest/qa"
	"github.com/outofforest/zacp/wire"
)

const maxMsgSize = 1024

var atoms = Atoms{
	Request:  "_ZACP_REQUEST",
	Response: "_ZACP_RESPONSE",
}

func TestOutboxOneFramePerAtom(t *testing.T) {
	requireT := require.New(t)

	o := newOutbox(atoms)
	requireT.ErrorIs(o.Send(Frame{Atom: atoms.Request}), ErrPeerUnreachable)

	ch := o.Attach()
	requireT.NoError(o.Send(Frame{Atom: atoms.Request, Payload: []byte("a")}))
	requireT.ErrorIs(o.Send(Frame{Atom: atoms.Request, Payload: []byte("b")}), ErrSendPending)
	requireT.NoError(o.Send(Frame{Atom: atoms.Response, Payload: []byte("c")}))
	requireT.ErrorIs(o.Send(Frame{Atom: "other"}), ErrUnknownAtom)

	requireT.Equal([]byte("a"), (<-ch).Payload)
	o.Delivered(ch, atoms.Request)
	requireT.NoError(o.Send(Frame{Atom: atoms.Request, Payload: []byte("d")}))

	requireT.Equal([]byte("c"), (<-ch).Payload)
	requireT.Equal([]byte("d"), (<-ch).Payload)

	ch2 := o.Attach()
	_, ok := <-ch
	requireT.False(ok)
	requireT.NoError(o.Send(Frame{Atom: atoms.Request, Payload: []byte("e")}))

	o.Detach(ch)
	requireT.Equal([]byte("e"), (<-ch2).Payload)

	o.Detach(ch2)
	requireT.ErrorIs(o.Send(Frame{Atom: atoms.Request}), ErrPeerUnreachable)
}

func TestPipe(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	p1, p2 := NewPipe(atoms)
	requireT.ErrorIs(p1.Send(Frame{Atom: atoms.Request}), ErrPeerUnreachable)

	recvCh1 := make(chan Frame, 10)
	recvCh2 := make(chan Frame, 10)
	group.Spawn("p1", parallel.Fail, func(ctx context.Context) error {
		return p1.Run(ctx, collect(recvCh1))
	})
	group.Spawn("p2", parallel.Fail, func(ctx context.Context) error {
		return p2.Run(ctx, collect(recvCh2))
	})

	requireT.Eventually(func() bool {
		return p1.Send(Frame{Atom: atoms.Request, Payload: []byte("ping")}) == nil
	}, time.Second, time.Millisecond)
	requireT.Equal(Frame{Atom: atoms.Request, Payload: []byte("ping")}, receive(ctx, requireT, recvCh2))

	requireT.Eventually(func() bool {
		return p2.Send(Frame{Atom: atoms.Response, Payload: []byte("pong")}) == nil
	}, time.Second, time.Millisecond)
	requireT.Equal(Frame{Atom: atoms.Response, Payload: []byte("pong")}, receive(ctx, requireT, recvCh1))
}

func TestPipeClose(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)

	p1, p2 := NewPipe(atoms)
	done := make(chan error, 1)
	go func() {
		done <- p2.Run(ctx, collect(make(chan Frame, 10)))
	}()

	requireT.Eventually(func() bool {
		return p1.Send(Frame{Atom: atoms.Request}) == nil
	}, time.Second, time.Millisecond)

	p2.Close()
	requireT.NoError(<-done)
	requireT.ErrorIs(p1.Send(Frame{Atom: atoms.Response}), ErrPeerUnreachable)
}

func TestTCP(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	ls, err := net.Listen("tcp", "localhost:0")
	requireT.NoError(err)

	server, err := NewTCP(TCPConfig{
		Listener:       ls,
		Atoms:          atoms,
		MaxMessageSize: maxMsgSize,
	})
	requireT.NoError(err)

	client, err := NewTCP(TCPConfig{
		PeerAddr:       ls.Addr().String(),
		Atoms:          atoms,
		MaxMessageSize: maxMsgSize,
	})
	requireT.NoError(err)

	serverCh := make(chan Frame, 10)
	clientCh := make(chan Frame, 10)
	group.Spawn("server", parallel.Fail, func(ctx context.Context) error {
		return server.Run(ctx, collect(serverCh))
	})
	group.Spawn("client", parallel.Fail, func(ctx context.Context) error {
		return client.Run(ctx, collect(clientCh))
	})

	requireT.Eventually(func() bool {
		return client.Send(Frame{Atom: atoms.Request, Payload: []byte("<zmap/>")}) == nil
	}, 5*time.Second, 10*time.Millisecond)
	requireT.Equal(Frame{Atom: atoms.Request, Payload: []byte("<zmap/>")}, receive(ctx, requireT, serverCh))

	requireT.Eventually(func() bool {
		return server.Send(Frame{Atom: atoms.Response, Payload: []byte("<zmap></zmap>")}) == nil
	}, 5*time.Second, 10*time.Millisecond)
	requireT.Equal(Frame{Atom: atoms.Response, Payload: []byte("<zmap></zmap>")}, receive(ctx, requireT, clientCh))
}

func TestTCPDocumentStream(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	ls, err := net.Listen("tcp", "localhost:0")
	requireT.NoError(err)

	server, err := NewTCP(TCPConfig{
		Listener:       ls,
		Atoms:          atoms,
		MaxMessageSize: maxMsgSize,
	})
	requireT.NoError(err)

	client, err := NewTCP(TCPConfig{
		PeerAddr:       ls.Addr().String(),
		Atoms:          atoms,
		MaxMessageSize: maxMsgSize,
	})
	requireT.NoError(err)

	serverCh := make(chan Frame, 10)
	group.Spawn("server", parallel.Fail, func(ctx context.Context) error {
		return server.Run(ctx, collect(serverCh))
	})
	group.Spawn("client", parallel.Fail, func(ctx context.Context) error {
		return client.Run(ctx, collect(make(chan Frame, 10)))
	})

	docs := []string{
		`<zmap><request action="ping"/></zmap>`,
		`<zmap request_id="2"><request action="zoom_to"/><featureset name="Coding"/></zmap>`,
		`<?xml version="1.0"?><zmap request_id="3"><request action="get_mark"/></zmap>`,
	}
	for _, doc := range docs {
		frame := Frame{Atom: atoms.Request, Payload: []byte(doc)}
		requireT.Eventually(func() bool {
			return client.Send(frame) == nil
		}, 5*time.Second, time.Millisecond)
		requireT.Equal(frame, receive(ctx, requireT, serverCh))
	}
}

func TestTCPConfig(t *testing.T) {
	requireT := require.New(t)

	_, err := NewTCP(TCPConfig{Atoms: atoms})
	requireT.Error(err)

	_, err = NewTCP(TCPConfig{PeerAddr: "localhost:1", Atoms: Atoms{Request: "a", Response: "a"}})
	requireT.Error(err)

	tr, err := NewTCP(TCPConfig{PeerAddr: "localhost:1", Atoms: atoms})
	requireT.NoError(err)
	requireT.ErrorIs(tr.Send(Frame{Atom: wire.Atom("x")}), ErrUnknownAtom)
	requireT.ErrorIs(tr.Send(Frame{Atom: atoms.Request}), ErrPeerUnreachable)
}

func collect(ch chan<- Frame) ReceiveFn {
	return func(ctx context.Context, frame Frame) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch <- frame:
			return nil
		}
	}
}

func receive(ctx context.Context, requireT *require.Assertions, ch <-chan Frame) Frame {
	select {
	case <-ctx.Done():
		requireT.FailNow("context canceled")
		return Frame{}
	case <-time.After(5 * time.Second):
		requireT.FailNow("no frame received")
		return Frame{}
	case frame := <-ch:
		return frame
	}
}

package zacp

import (
	"github.com/pkg/errors"

	"github.com/outofforest/zacp/transport"
)

var (
	// ErrSlotBusy is returned when a request is outstanding on the direction already.
	ErrSlotBusy = errors.New("request slot busy")

	// ErrPeerUnreachable is returned when request could not be handed to the peer.
	ErrPeerUnreachable = transport.ErrPeerUnreachable

	// ErrTimeoutExceeded resolves a request not answered in time.
	ErrTimeoutExceeded = errors.New("timeout exceeded")

	// ErrCancelled resolves a request torn down before its reply arrived.
	ErrCancelled = errors.New("request cancelled")

	// ErrHandshakeRequired is returned when application command is sent before handshake completes.
	ErrHandshakeRequired = errors.New("handshake required")

	// ErrNotRunning is returned when session is not running yet.
	ErrNotRunning = errors.New("session not running")

	// ErrSessionClosed is returned after session has been shut down.
	ErrSessionClosed = errors.New("session closed")

	// ErrHandshakeRejected is returned by Connect when peer does not accept the handshake.
	ErrHandshakeRejected = errors.New("handshake rejected")
)

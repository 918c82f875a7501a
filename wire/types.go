package wire

type (
	// PeerID identifies a transport endpoint.
	PeerID [32]byte

	// Atom names a one-directional delivery channel between peers.
	Atom string
)

// Hello is the message exchanged between transport endpoints when connecting.
type Hello struct {
	PeerID       PeerID
	RequestAtom  Atom
	ResponseAtom Atom
}

// Header precedes each XML document on the wire and names the atom it is delivered on.
type Header struct {
	Atom Atom
}

package wire

import (
	"reflect"
	"unsafe"

	"github.com/outofforest/proton"
	"github.com/outofforest/proton/helpers"
	"github.com/pkg/errors"
)

const (
	id1 uint64 = iota + 1
	id0
)

var _ proton.Marshaller = Marshaller{}

// NewMarshaller creates marshaller.
func NewMarshaller() Marshaller {
	return Marshaller{}
}

// Marshaller marshals and unmarshals messages.
type Marshaller struct {
}

// Messages returns list of the message types supported by marshaller.
func (m Marshaller) Messages() []any {
	return []any {
		Hello{},
		Header{},
	}
}

// ID returns ID of message type.
func (m Marshaller) ID(msg any) (uint64, error) {
	switch msg.(type) {
	case *Hello:
		return id1, nil
	case *Header:
		return id0, nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Size computes the size of marshalled message.
func (m Marshaller) Size(msg any) (uint64, error) {
	switch msg2 := msg.(type) {
	case *Hello:
		return size1(msg2), nil
	case *Header:
		return size0(msg2), nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Marshal marshals message.
func (m Marshaller) Marshal(msg any, buf []byte) (retID, retSize uint64, retErr error) {
	defer helpers.RecoverMarshal(&retErr)

	switch msg2 := msg.(type) {
	case *Hello:
		return id1, marshal1(msg2, buf), nil
	case *Header:
		return id0, marshal0(msg2, buf), nil
	default:
		return 0, 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Unmarshal unmarshals message.
func (m Marshaller) Unmarshal(id uint64, buf []byte) (retMsg any, retSize uint64, retErr error) {
	defer helpers.RecoverUnmarshal(&retErr)

	switch id {
	case id1:
		msg := &Hello{}
		return msg, unmarshal1(msg, buf), nil
	case id0:
		msg := &Header{}
		return msg, unmarshal0(msg, buf), nil
	default:
		return nil, 0, errors.Errorf("unknown ID %d", id)
	}
}

// MakePatch creates a patch.
func (m Marshaller) MakePatch(msgDst, msgSrc any, buf []byte) (retID, retSize uint64, retErr error) {
	defer helpers.RecoverMakePatch(&retErr)

	switch msg2 := msgDst.(type) {
	case *Hello:
		return id1, makePatch1(msg2, msgSrc.(*Hello), buf), nil
	case *Header:
		return id0, makePatch0(msg2, msgSrc.(*Header), buf), nil
	default:
		return 0, 0, errors.Errorf("unknown message type %T", msgDst)
	}
}

// ApplyPatch applies patch.
func (m Marshaller) ApplyPatch(msg any, buf []byte) (retSize uint64, retErr error) {
	defer helpers.RecoverApplyPatch(&retErr)

	switch msg2 := msg.(type) {
	case *Hello:
		return applyPatch1(msg2, buf), nil
	case *Header:
		return applyPatch0(msg2, buf), nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

func size0(m *Header) uint64 {
	var n uint64 = 1
	{
		// Atom

		{
			l := uint64(len(m.Atom))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	return n
}

func marshal0(m *Header, b []byte) uint64 {
	var o uint64
	{
		// Atom

		{
			l := uint64(len(m.Atom))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Atom)
			o += l
		}
	}

	return o
}

func unmarshal0(m *Header, b []byte) uint64 {
	var o uint64
	{
		// Atom

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Atom = Atom(b[o:o+l])
				o += l
			}
		}
	}

	return o
}

func makePatch0(m, mSrc *Header, b []byte) uint64 {
	var o uint64 = 1
	{
		// Atom

		if reflect.DeepEqual(m.Atom, mSrc.Atom) {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			{
				l := uint64(len(m.Atom))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.Atom)
				o += l
			}
		}
	}

	return o
}

func applyPatch0(m *Header, b []byte) uint64 {
	var o uint64 = 1
	{
		// Atom

		if b[0]&0x01 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.Atom = Atom(b[o:o+l])
					o += l
				}
			}
		}
	}

	return o
}

func size1(m *Hello) uint64 {
	var n uint64 = 34
	{
		// RequestAtom

		{
			l := uint64(len(m.RequestAtom))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	{
		// ResponseAtom

		{
			l := uint64(len(m.ResponseAtom))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	return n
}

func marshal1(m *Hello, b []byte) uint64 {
	var o uint64
	{
		// PeerID

		copy(b[o:o+32], unsafe.Slice(&m.PeerID[0], 32))
		o += 32
	}
	{
		// RequestAtom

		{
			l := uint64(len(m.RequestAtom))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.RequestAtom)
			o += l
		}
	}
	{
		// ResponseAtom

		{
			l := uint64(len(m.ResponseAtom))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.ResponseAtom)
			o += l
		}
	}

	return o
}

func unmarshal1(m *Hello, b []byte) uint64 {
	var o uint64
	{
		// PeerID

		copy(unsafe.Slice(&m.PeerID[0], 32), b[o:o+32])
		o += 32
	}
	{
		// RequestAtom

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.RequestAtom = Atom(b[o:o+l])
				o += l
			}
		}
	}
	{
		// ResponseAtom

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.ResponseAtom = Atom(b[o:o+l])
				o += l
			}
		}
	}

	return o
}

func makePatch1(m, mSrc *Hello, b []byte) uint64 {
	var o uint64 = 1
	{
		// PeerID

		if reflect.DeepEqual(m.PeerID, mSrc.PeerID) {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			copy(b[o:o+32], unsafe.Slice(&m.PeerID[0], 32))
			o += 32
		}
	}
	{
		// RequestAtom

		if reflect.DeepEqual(m.RequestAtom, mSrc.RequestAtom) {
			b[0] &= 0xFD
		} else {
			b[0] |= 0x02
			{
				l := uint64(len(m.RequestAtom))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.RequestAtom)
				o += l
			}
		}
	}
	{
		// ResponseAtom

		if reflect.DeepEqual(m.ResponseAtom, mSrc.ResponseAtom) {
			b[0] &= 0xFB
		} else {
			b[0] |= 0x04
			{
				l := uint64(len(m.ResponseAtom))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.ResponseAtom)
				o += l
			}
		}
	}

	return o
}

func applyPatch1(m *Hello, b []byte) uint64 {
	var o uint64 = 1
	{
		// PeerID

		if b[0]&0x01 != 0 {
			copy(unsafe.Slice(&m.PeerID[0], 32), b[o:o+32])
			o += 32
		}
	}
	{
		// RequestAtom

		if b[0]&0x02 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.RequestAtom = Atom(b[o:o+l])
					o += l
				}
			}
		}
	}
	{
		// ResponseAtom

		if b[0]&0x04 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.ResponseAtom = Atom(b[o:o+l])
					o += l
				}
			}
		}
	}

	return o
}

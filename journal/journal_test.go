package journal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/zacp/transport"
)

func TestInMemoryJournal(t *testing.T) {
	requireT := require.New(t)

	j, err := Open("")
	requireT.NoError(err)
	defer j.Close()

	requireT.NoError(j.Record(Outbound, transport.Frame{Atom: "req", Payload: []byte("<zmap>1</zmap>")}))
	requireT.NoError(j.Record(Inbound, transport.Frame{Atom: "resp", Payload: []byte("<zmap>2</zmap>")}))

	entries, err := j.Entries()
	requireT.NoError(err)
	requireT.Len(entries, 2)
	requireT.EqualValues(1, entries[0].Seq)
	requireT.Equal(Outbound, entries[0].Direction)
	requireT.EqualValues("req", entries[0].Atom)
	requireT.Equal([]byte("<zmap>1</zmap>"), entries[0].Payload)
	requireT.EqualValues(2, entries[1].Seq)
	requireT.Equal(Inbound, entries[1].Direction)
	requireT.False(entries[1].Time.IsZero())
}

func TestJournalContinuesSequence(t *testing.T) {
	requireT := require.New(t)

	dir := t.TempDir()

	j, err := Open(dir)
	requireT.NoError(err)
	for range 300 {
		requireT.NoError(j.Record(Outbound, transport.Frame{Atom: "req", Payload: []byte("x")}))
	}
	requireT.NoError(j.Close())

	j, err = Open(dir)
	requireT.NoError(err)
	defer j.Close()

	requireT.NoError(j.Record(Inbound, transport.Frame{Atom: "resp", Payload: []byte("y")}))

	entries, err := j.Entries()
	requireT.NoError(err)
	requireT.Len(entries, 301)
	for i, e := range entries {
		requireT.EqualValues(i+1, e.Seq)
	}
	requireT.Equal(Inbound, entries[300].Direction)
}

package features

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/zacp/wire"
)

var coding = wire.FeatureSetSpec{Name: "Coding"}

func featureX() wire.FeatureSpec {
	return wire.FeatureSpec{
		Name:   "X",
		Start:  10,
		End:    20,
		Strand: wire.StrandForward,
		Subfeatures: []wire.SubfeatureSpec{
			{Ontology: "exon", Start: 10, End: 20},
		},
	}
}

func newStore(t *testing.T) *Store {
	ctx := NewContext("chr1", 1, 1000)
	_, err := ctx.AddFeature(coding, featureX())
	require.NoError(t, err)
	return NewStore(ctx)
}

func TestUniqueID(t *testing.T) {
	require.Equal(t, "x_+_10_20", UniqueID("X", wire.StrandForward, 10, 20))
}

func TestEditIsPrivateUntilCommit(t *testing.T) {
	requireT := require.New(t)

	store := newStore(t)
	digest := store.Digest()

	edit := store.Begin()
	_, err := edit.Context.AddFeature(coding, wire.FeatureSpec{Name: "Y", Start: 30, End: 40, Strand: wire.StrandNone})
	requireT.NoError(err)
	requireT.Equal(digest, store.Digest())
	requireT.Nil(store.Snapshot().Find(coding, wire.FeatureSpec{Name: "Y", Start: 30, End: 40, Strand: wire.StrandNone}))

	requireT.NoError(store.Commit(edit))
	requireT.NotEqual(digest, store.Digest())
	requireT.EqualValues(1, store.Version())
	requireT.NotNil(store.Snapshot().Find(coding, wire.FeatureSpec{Name: "Y", Start: 30, End: 40, Strand: wire.StrandNone}))

	requireT.Error(store.Commit(edit))
}

func TestCommitConflict(t *testing.T) {
	requireT := require.New(t)

	store := newStore(t)
	edit1 := store.Begin()
	edit2 := store.Begin()

	requireT.NoError(edit1.Context.SetHidden(coding, true))
	requireT.NoError(store.Commit(edit1))
	digest := store.Digest()

	_, err := edit2.Context.RemoveFeature(coding, featureX())
	requireT.NoError(err)
	requireT.ErrorIs(store.Commit(edit2), ErrConflict)
	requireT.Equal(digest, store.Digest())
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	requireT := require.New(t)

	store := newStore(t)
	digest := store.Digest()

	snapshot := store.Snapshot()
	f := snapshot.Find(coding, featureX())
	requireT.NotNil(f)
	f.Subfeatures[0].Start = 11
	f.Locus = "changed"
	snapshot.Aligns[0].Blocks[0].Start = 5

	requireT.Equal(digest, store.Digest())
}

func TestAddFeature(t *testing.T) {
	requireT := require.New(t)

	ctx := NewContext("chr1", 1, 1000)
	f, err := ctx.AddFeature(coding, featureX())
	requireT.NoError(err)
	requireT.Equal("x_+_10_20", f.ID)

	_, err = ctx.AddFeature(coding, featureX())
	requireT.ErrorIs(err, ErrFeatureExists)

	_, err = ctx.AddFeature(coding, wire.FeatureSpec{Name: "Z", Start: 900, End: 1100})
	requireT.ErrorIs(err, ErrOutsideBlock)

	_, err = ctx.AddFeature(wire.FeatureSetSpec{Name: "Coding", Align: "other"}, featureX())
	requireT.Error(err)

	_, err = ctx.AddFeature(wire.FeatureSetSpec{Name: "coding", Align: "chr1", Block: "chr1_1_1000"},
		wire.FeatureSpec{Name: "Y", Start: 1, End: 2, Strand: wire.StrandNone})
	requireT.NoError(err)
	requireT.Len(ctx.Aligns[0].Blocks[0].FeatureSets, 1)
}

func TestRemoveAndReplaceFeature(t *testing.T) {
	requireT := require.New(t)

	ctx := NewContext("chr1", 1, 1000)
	_, err := ctx.RemoveFeature(coding, featureX())
	requireT.ErrorIs(err, ErrFeatureSetNotFound)

	_, err = ctx.AddFeature(coding, featureX())
	requireT.NoError(err)

	spec := featureX()
	spec.Locus = "L1"
	f, err := ctx.ReplaceFeature(coding, spec)
	requireT.NoError(err)
	requireT.Equal("L1", f.Locus)
	requireT.Equal("L1", ctx.Find(coding, featureX()).Locus)

	spec.Start = 11
	_, err = ctx.ReplaceFeature(coding, spec)
	requireT.ErrorIs(err, ErrFeatureNotFound)

	_, err = ctx.RemoveFeature(coding, featureX())
	requireT.NoError(err)
	_, err = ctx.RemoveFeature(coding, featureX())
	requireT.ErrorIs(err, ErrFeatureNotFound)
}

func TestFeatureNames(t *testing.T) {
	requireT := require.New(t)

	ctx := NewContext("chr1", 1, 1000)
	for _, spec := range []wire.FeatureSpec{
		{Name: "B", Start: 10, End: 20},
		{Name: "A", Start: 15, End: 30},
		{Name: "A", Start: 50, End: 60},
		{Name: "C", Start: 500, End: 600},
	} {
		_, err := ctx.AddFeature(coding, spec)
		requireT.NoError(err)
	}

	names, err := ctx.FeatureNames(coding, 1, 100)
	requireT.NoError(err)
	requireT.Equal([]string{"A", "B"}, names)

	names, err = ctx.FeatureNames(coding, 200, 300)
	requireT.NoError(err)
	requireT.Empty(names)

	_, err = ctx.FeatureNames(coding, 0, 100)
	requireT.ErrorIs(err, ErrOutsideBlock)

	_, err = ctx.FeatureNames(wire.FeatureSetSpec{Name: "Other"}, 1, 100)
	requireT.ErrorIs(err, ErrFeatureSetNotFound)
}

func TestRevComp(t *testing.T) {
	requireT := require.New(t)

	ctx := NewContext("chr1", 1, 1000)
	ctx.Mark = &Mark{Start: 100, End: 200}
	_, err := ctx.AddFeature(coding, featureX())
	requireT.NoError(err)
	digest := ctx.Digest()

	ctx.RevComp()
	requireT.True(ctx.RevComped)
	requireT.Equal(&Mark{Start: 801, End: 901}, ctx.Mark)
	f := ctx.Find(coding, wire.FeatureSpec{Name: "X", Start: 981, End: 991, Strand: wire.StrandReverse})
	requireT.NotNil(f)
	requireT.Equal([]Subfeature{{Ontology: "exon", Start: 981, End: 991}}, f.Subfeatures)
	requireT.NotEqual(digest, ctx.Digest())

	ctx.RevComp()
	requireT.Equal(digest, ctx.Digest())
}

func TestDump(t *testing.T) {
	requireT := require.New(t)

	store := newStore(t)
	snapshot := store.Snapshot()

	text := &bytes.Buffer{}
	requireT.NoError(snapshot.DumpText(text))
	requireT.True(strings.Contains(text.String(), "feature\tx_+_10_20\tX\t10\t20\t+\n"))
	requireT.True(strings.Contains(text.String(), "subfeature\texon\t10\t20\n"))

	jsonBuf := &bytes.Buffer{}
	requireT.NoError(snapshot.DumpJSON(jsonBuf))

	var decoded map[string]any
	requireT.NoError(json.Unmarshal(jsonBuf.Bytes(), &decoded))
	requireT.Equal("chr1", decoded["sequence"])
	requireT.Contains(jsonBuf.String(), `"strand":"+"`)

	requireT.True(strings.HasPrefix(store.Digest(), "blake3.33B-"))
}

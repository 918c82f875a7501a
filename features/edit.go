package features

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/outofforest/zacp/wire"
)

var (
	// ErrFeatureExists is returned when adding feature which is already present.
	ErrFeatureExists = errors.New("feature already exists")

	// ErrFeatureNotFound is returned when feature does not exist.
	ErrFeatureNotFound = errors.New("feature not found")

	// ErrFeatureSetNotFound is returned when featureset does not exist.
	ErrFeatureSetNotFound = errors.New("featureset not found")

	// ErrOutsideBlock is returned when coordinates are outside of the block.
	ErrOutsideBlock = errors.New("coordinates outside of block")
)

// AddFeature adds feature to the featureset, creating the featureset if needed.
func (c *Context) AddFeature(fsSpec wire.FeatureSetSpec, spec wire.FeatureSpec) (*Feature, error) {
	b, err := c.Locate(fsSpec.Align, fsSpec.Block)
	if err != nil {
		return nil, err
	}
	if spec.Start < b.Start || spec.End > b.End {
		return nil, errors.Wrapf(ErrOutsideBlock, "requested coords (%d, %d), block coords (%d, %d)",
			spec.Start, spec.End, b.Start, b.End)
	}

	f := FromSpec(spec)
	fs := b.FeatureSet(fsSpec.Name, true)
	if _, exists := fs.Features[f.ID]; exists {
		return nil, errors.Wrapf(ErrFeatureExists, "feature %q [%s]", f.Name, f.ID)
	}
	fs.Features[f.ID] = f
	return f, nil
}

// RemoveFeature removes feature from the featureset.
func (c *Context) RemoveFeature(fsSpec wire.FeatureSetSpec, spec wire.FeatureSpec) (*Feature, error) {
	fs, err := c.featureSet(fsSpec)
	if err != nil {
		return nil, err
	}

	id := UniqueID(spec.Name, spec.Strand, spec.Start, spec.End)
	f, exists := fs.Features[id]
	if !exists {
		return nil, errors.Wrapf(ErrFeatureNotFound, "feature %q with id %q in featureset %q", spec.Name, id, fs.Name)
	}
	delete(fs.Features, id)
	return f, nil
}

// ReplaceFeature replaces attributes of existing feature with the given ones.
func (c *Context) ReplaceFeature(fsSpec wire.FeatureSetSpec, spec wire.FeatureSpec) (*Feature, error) {
	fs, err := c.featureSet(fsSpec)
	if err != nil {
		return nil, err
	}

	f := FromSpec(spec)
	if _, exists := fs.Features[f.ID]; !exists {
		return nil, errors.Wrapf(ErrFeatureNotFound, "feature %q with id %q in featureset %q", spec.Name, f.ID, fs.Name)
	}
	fs.Features[f.ID] = f
	return f, nil
}

// FeatureNames returns sorted unique names of features of the featureset overlapping the range.
func (c *Context) FeatureNames(fsSpec wire.FeatureSetSpec, start, end int) ([]string, error) {
	b, err := c.Locate(fsSpec.Align, fsSpec.Block)
	if err != nil {
		return nil, err
	}
	if start < b.Start || end > b.End || start > end {
		return nil, errors.Wrapf(ErrOutsideBlock, "requested coords (%d, %d), block coords (%d, %d)",
			start, end, b.Start, b.End)
	}
	fs := b.FeatureSet(fsSpec.Name, false)
	if fs == nil {
		return nil, errors.Wrapf(ErrFeatureSetNotFound, "featureset %q", fsSpec.Name)
	}

	unique := map[string]struct{}{}
	for _, f := range fs.Features {
		if f.End >= start && f.Start <= end {
			unique[f.Name] = struct{}{}
		}
	}
	names := make([]string, 0, len(unique))
	for n := range unique {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// SetHidden shows or hides the featureset.
func (c *Context) SetHidden(fsSpec wire.FeatureSetSpec, hidden bool) error {
	fs, err := c.featureSet(fsSpec)
	if err != nil {
		return err
	}
	fs.Hidden = hidden
	return nil
}

// RevComp reverse-complements the context: coordinates are mirrored and strands are swapped.
func (c *Context) RevComp() {
	mirror := func(start, end int) (int, int) {
		return c.Start + c.End - end, c.Start + c.End - start
	}

	c.RevComped = !c.RevComped
	if c.Mark != nil {
		c.Mark.Start, c.Mark.End = mirror(c.Mark.Start, c.Mark.End)
	}
	for _, a := range c.Aligns {
		for _, b := range a.Blocks {
			b.Start, b.End = mirror(b.Start, b.End)
			for _, fs := range b.FeatureSets {
				features := make(map[string]*Feature, len(fs.Features))
				for _, f := range fs.Features {
					f.Start, f.End = mirror(f.Start, f.End)
					switch f.Strand {
					case wire.StrandForward:
						f.Strand = wire.StrandReverse
					case wire.StrandReverse:
						f.Strand = wire.StrandForward
					}
					for i, sf := range f.Subfeatures {
						f.Subfeatures[i].Start, f.Subfeatures[i].End = mirror(sf.Start, sf.End)
					}
					f.ID = UniqueID(f.Name, f.Strand, f.Start, f.End)
					features[f.ID] = f
				}
				fs.Features = features
			}
		}
	}
}

func (c *Context) featureSet(fsSpec wire.FeatureSetSpec) (*FeatureSet, error) {
	b, err := c.Locate(fsSpec.Align, fsSpec.Block)
	if err != nil {
		return nil, err
	}
	fs := b.FeatureSet(fsSpec.Name, false)
	if fs == nil {
		return nil, errors.Wrapf(ErrFeatureSetNotFound, "featureset %q", fsSpec.Name)
	}
	return fs, nil
}

// Package features keeps the feature context the remote-control commands operate on.
package features

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/outofforest/zacp/wire"
)

// Subfeature is a part of a feature, e.g. exon or intron.
type Subfeature struct {
	Ontology string `json:"ontology,omitempty"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
}

// Feature is a single annotated region.
type Feature struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Start       int          `json:"start"`
	End         int          `json:"end"`
	Strand      wire.Strand  `json:"strand"`
	Score       float64      `json:"score,omitempty"`
	HasScore    bool         `json:"-"`
	Locus       string       `json:"locus,omitempty"`
	Ontology    string       `json:"ontology,omitempty"`
	Subfeatures []Subfeature `json:"subfeatures,omitempty"`
}

// FeatureSet groups features displayed in one column.
type FeatureSet struct {
	Name     string              `json:"name"`
	Hidden   bool                `json:"hidden,omitempty"`
	Features map[string]*Feature `json:"features"`
}

// Block is a region of an alignment.
type Block struct {
	Name        string                 `json:"name"`
	Start       int                    `json:"start"`
	End         int                    `json:"end"`
	FeatureSets map[string]*FeatureSet `json:"featuresets"`
}

// Align is an alignment holding blocks. The master align is the reference sequence.
type Align struct {
	Name   string   `json:"name"`
	Master bool     `json:"master,omitempty"`
	Blocks []*Block `json:"blocks"`
}

// Mark is the marked region of the sequence.
type Mark struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Context is the whole feature context.
type Context struct {
	Sequence  string   `json:"sequence"`
	Start     int      `json:"start"`
	End       int      `json:"end"`
	RevComped bool     `json:"revcomped,omitempty"`
	Mark      *Mark    `json:"mark,omitempty"`
	Aligns    []*Align `json:"aligns"`
}

// NewContext creates context with master align holding one block spanning the sequence.
func NewContext(sequence string, start, end int) *Context {
	return &Context{
		Sequence: sequence,
		Start:    start,
		End:      end,
		Aligns: []*Align{
			{
				Name:   sequence,
				Master: true,
				Blocks: []*Block{
					{
						Name:        fmt.Sprintf("%s_%d_%d", sequence, start, end),
						Start:       start,
						End:         end,
						FeatureSets: map[string]*FeatureSet{},
					},
				},
			},
		},
	}
}

// UniqueID computes feature id from its identifying attributes.
func UniqueID(name string, strand wire.Strand, start, end int) string {
	return strings.ToLower(fmt.Sprintf("%s_%s_%d_%d", name, strand, start, end))
}

// FromSpec converts feature given in a request.
func FromSpec(spec wire.FeatureSpec) *Feature {
	f := &Feature{
		ID:       UniqueID(spec.Name, spec.Strand, spec.Start, spec.End),
		Name:     spec.Name,
		Start:    spec.Start,
		End:      spec.End,
		Strand:   spec.Strand,
		Score:    spec.Score,
		HasScore: spec.HasScore,
		Locus:    spec.Locus,
		Ontology: spec.Ontology,
	}
	for _, sf := range spec.Subfeatures {
		f.Subfeatures = append(f.Subfeatures, Subfeature(sf))
	}
	return f
}

// Align returns align by name. Empty name means the master align.
func (c *Context) Align(name string) *Align {
	for _, a := range c.Aligns {
		if (name == "" && a.Master) || (name != "" && a.Name == name) {
			return a
		}
	}
	return nil
}

// Block returns block by name. Empty name means the first block.
func (a *Align) Block(name string) *Block {
	for _, b := range a.Blocks {
		if name == "" || b.Name == name {
			return b
		}
	}
	return nil
}

// Locate returns block addressed by align and block names.
func (c *Context) Locate(align, block string) (*Block, error) {
	a := c.Align(align)
	if a == nil {
		return nil, errors.Errorf("unknown align %q", align)
	}
	b := a.Block(block)
	if b == nil {
		return nil, errors.Errorf("unknown block %q", block)
	}
	return b, nil
}

// FeatureSet returns featureset of the block, creating it if requested.
func (b *Block) FeatureSet(name string, create bool) *FeatureSet {
	key := strings.ToLower(name)
	fs := b.FeatureSets[key]
	if fs == nil && create {
		fs = &FeatureSet{Name: name, Features: map[string]*Feature{}}
		b.FeatureSets[key] = fs
	}
	return fs
}

// Find returns feature addressed by request spec.
func (c *Context) Find(fsSpec wire.FeatureSetSpec, spec wire.FeatureSpec) *Feature {
	b, err := c.Locate(fsSpec.Align, fsSpec.Block)
	if err != nil {
		return nil
	}
	fs := b.FeatureSet(fsSpec.Name, false)
	if fs == nil {
		return nil
	}
	return fs.Features[UniqueID(spec.Name, spec.Strand, spec.Start, spec.End)]
}

// SortedFeatureSets returns featuresets of the block sorted by name.
func (b *Block) SortedFeatureSets() []*FeatureSet {
	sets := make([]*FeatureSet, 0, len(b.FeatureSets))
	for _, fs := range b.FeatureSets {
		sets = append(sets, fs)
	}
	sort.Slice(sets, func(i, j int) bool {
		return sets[i].Name < sets[j].Name
	})
	return sets
}

// SortedFeatures returns features ordered by position and id.
func (fs *FeatureSet) SortedFeatures() []*Feature {
	features := make([]*Feature, 0, len(fs.Features))
	for _, f := range fs.Features {
		features = append(features, f)
	}
	sort.Slice(features, func(i, j int) bool {
		if features[i].Start != features[j].Start {
			return features[i].Start < features[j].Start
		}
		return features[i].ID < features[j].ID
	})
	return features
}

// Clone returns deep copy of the context.
func (c *Context) Clone() *Context {
	c2 := *c
	if c.Mark != nil {
		m := *c.Mark
		c2.Mark = &m
	}
	c2.Aligns = make([]*Align, 0, len(c.Aligns))
	for _, a := range c.Aligns {
		a2 := *a
		a2.Blocks = make([]*Block, 0, len(a.Blocks))
		for _, b := range a.Blocks {
			b2 := *b
			b2.FeatureSets = make(map[string]*FeatureSet, len(b.FeatureSets))
			for k, fs := range b.FeatureSets {
				b2.FeatureSets[k] = fs.clone()
			}
			a2.Blocks = append(a2.Blocks, &b2)
		}
		c2.Aligns = append(c2.Aligns, &a2)
	}
	return &c2
}

func (fs *FeatureSet) clone() *FeatureSet {
	fs2 := *fs
	fs2.Features = make(map[string]*Feature, len(fs.Features))
	for k, f := range fs.Features {
		f2 := *f
		if f.Subfeatures != nil {
			f2.Subfeatures = append([]Subfeature{}, f.Subfeatures...)
		}
		fs2.Features[k] = &f2
	}
	return &fs2
}

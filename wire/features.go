package wire

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// Strand is the strand of a feature.
type Strand byte

// Strands.
const (
	StrandNone    Strand = '.'
	StrandForward Strand = '+'
	StrandReverse Strand = '-'
)

func (s Strand) String() string {
	return string(rune(s))
}

// MarshalText renders strand as its symbol.
func (s Strand) MarshalText() ([]byte, error) {
	return []byte{byte(s)}, nil
}

// UnmarshalText parses strand symbol.
func (s *Strand) UnmarshalText(text []byte) error {
	strand, ok := ParseStrand(string(text))
	if !ok {
		return fmt.Errorf("invalid strand %q", text)
	}
	*s = strand
	return nil
}

// ParseStrand parses strand attribute value.
func ParseStrand(value string) (Strand, bool) {
	switch value {
	case "", ".":
		return StrandNone, true
	case "+":
		return StrandForward, true
	case "-":
		return StrandReverse, true
	default:
		return 0, false
	}
}

// AttrError reports a missing or invalid attribute of a request element.
type AttrError struct {
	Element string
	Attr    string
	Value   string
	Missing bool
}

func (e *AttrError) Error() string {
	if e.Missing {
		return fmt.Sprintf("%q is a required attribute for %s.", e.Attr, e.Element)
	}
	return fmt.Sprintf("invalid value %q of attribute %q for %s.", e.Value, e.Attr, e.Element)
}

// SubfeatureSpec describes subfeature given in a request.
type SubfeatureSpec struct {
	Ontology string
	Start    int
	End      int
}

// FeatureSpec describes feature given in a request.
type FeatureSpec struct {
	Name        string
	Start       int
	End         int
	Strand      Strand
	Score       float64
	HasScore    bool
	Locus       string
	Ontology    string
	Subfeatures []SubfeatureSpec
}

// FeatureSetSpec describes featureset given in a request, together with its location.
type FeatureSetSpec struct {
	Align    string
	Block    string
	Name     string
	Features []FeatureSpec
}

// FeatureTree is the typed form of align/block/featureset/feature elements of a request.
type FeatureTree struct {
	FeatureSets []FeatureSetSpec

	// Columns are named by column elements. They never carry features.
	Columns []FeatureSetSpec
}

// FeatureCount returns number of features in the tree.
func (t FeatureTree) FeatureCount() int {
	var n int
	for _, fs := range t.FeatureSets {
		n += len(fs.Features)
	}
	return n
}

// ParseFeatureTree extracts feature tree from elements. Empty align and block names mean defaults.
// Elements not belonging to the feature grammar are ignored.
func ParseFeatureTree(elements []*Element) (FeatureTree, error) {
	var tree FeatureTree
	for _, el := range elements {
		if err := tree.walk(el, "", ""); err != nil {
			return FeatureTree{}, err
		}
	}
	return tree, nil
}

func (t *FeatureTree) walk(el *Element, align, block string) error {
	switch el.Name {
	case ElementAlign:
		name, _ := el.Attr("name")
		for _, ch := range el.Children {
			if err := t.walk(ch, name, ""); err != nil {
				return err
			}
		}
	case ElementBlock:
		name, _ := el.Attr("name")
		for _, ch := range el.Children {
			if err := t.walk(ch, align, name); err != nil {
				return err
			}
		}
	case ElementFeatureSet:
		name, ok := el.Attr("name")
		if !ok || name == "" {
			return &AttrError{Element: ElementFeatureSet, Attr: "name", Missing: true}
		}
		fs := FeatureSetSpec{Align: align, Block: block, Name: name}
		for _, ch := range el.Children {
			if ch.Name != ElementFeature {
				continue
			}
			f, err := parseFeature(ch)
			if err != nil {
				return err
			}
			fs.Features = append(fs.Features, f)
		}
		t.FeatureSets = append(t.FeatureSets, fs)
	case ElementColumn:
		name, ok := el.Attr("name")
		if !ok || name == "" {
			return &AttrError{Element: ElementColumn, Attr: "name", Missing: true}
		}
		t.Columns = append(t.Columns, FeatureSetSpec{Align: align, Block: block, Name: name})
	case ElementFeature:
		return &AttrError{Element: ElementFeature, Attr: "featureset", Missing: true}
	}
	return nil
}

func parseFeature(el *Element) (FeatureSpec, error) {
	f := FeatureSpec{Strand: StrandNone}

	name, ok := el.Attr("name")
	if !ok || name == "" {
		return FeatureSpec{}, &AttrError{Element: ElementFeature, Attr: "name", Missing: true}
	}
	f.Name = name

	var err error
	if f.Start, err = intAttr(el, "start"); err != nil {
		return FeatureSpec{}, err
	}
	if f.End, err = intAttr(el, "end"); err != nil {
		return FeatureSpec{}, err
	}
	if f.Start > f.End {
		return FeatureSpec{}, &AttrError{Element: ElementFeature, Attr: "end", Value: strconv.Itoa(f.End)}
	}

	if v, ok := el.Attr("strand"); ok {
		if f.Strand, ok = ParseStrand(v); !ok {
			return FeatureSpec{}, &AttrError{Element: ElementFeature, Attr: "strand", Value: v}
		}
	}
	if v, ok := el.Attr("score"); ok {
		if f.Score, err = strconv.ParseFloat(v, 64); err != nil {
			return FeatureSpec{}, &AttrError{Element: ElementFeature, Attr: "score", Value: v}
		}
		f.HasScore = true
	}
	f.Locus, _ = el.Attr("locus")
	f.Ontology, _ = el.Attr("ontology")

	for _, ch := range el.Children {
		if ch.Name != ElementSubfeature {
			continue
		}
		sf := SubfeatureSpec{}
		sf.Ontology, _ = ch.Attr("ontology")
		if sf.Start, err = intAttr(ch, "start"); err != nil {
			return FeatureSpec{}, err
		}
		if sf.End, err = intAttr(ch, "end"); err != nil {
			return FeatureSpec{}, err
		}
		f.Subfeatures = append(f.Subfeatures, sf)
	}

	return f, nil
}

func intAttr(el *Element, name string) (int, error) {
	v, ok := el.Attr(name)
	if !ok {
		return 0, &AttrError{Element: el.Name, Attr: name, Missing: true}
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &AttrError{Element: el.Name, Attr: name, Value: v}
	}
	return n, nil
}

// IntAttr returns optional integer attribute of the request.
func (r *Request) IntAttr(name string) (int, bool, error) {
	v, ok := r.Attr(name)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, &AttrError{Element: ElementRequest, Attr: name, Value: v}
	}
	return n, true, nil
}

// SequenceSpec describes the sequence element of view requests.
type SequenceSpec struct {
	Name  string
	Start int
	End   int
}

// ParseSequence extracts the first sequence element from elements.
func ParseSequence(elements []*Element) (SequenceSpec, error) {
	el := findElement(elements, ElementSequence)
	if el == nil {
		return SequenceSpec{}, errors.Errorf("%s is a required element.", ElementSequence)
	}

	name, ok := el.Attr("name")
	if !ok || name == "" {
		return SequenceSpec{}, &AttrError{Element: ElementSequence, Attr: "name", Missing: true}
	}
	start, err := intAttr(el, "start")
	if err != nil {
		return SequenceSpec{}, err
	}
	end, err := intAttr(el, "end")
	if err != nil {
		return SequenceSpec{}, err
	}
	if start < 1 || start > end {
		return SequenceSpec{}, &AttrError{Element: ElementSequence, Attr: "end", Value: strconv.Itoa(end)}
	}
	return SequenceSpec{Name: name, Start: start, End: end}, nil
}

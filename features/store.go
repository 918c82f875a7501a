package features

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	cristalbase64 "github.com/cristalhq/base64"
	"github.com/glycerine/blake3"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// ErrConflict is returned when live context changed after the edit began.
var ErrConflict = errors.New("feature context changed concurrently")

// Store holds the live feature context. The live context is changed only by committing an edit.
type Store struct {
	mu      sync.RWMutex
	live    *Context
	version uint64
}

// NewStore creates store.
func NewStore(ctx *Context) *Store {
	return &Store{live: ctx}
}

// Snapshot returns a private copy of the live context.
func (s *Store) Snapshot() *Context {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.live.Clone()
}

// Version returns number of commits applied so far.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.version
}

// Begin starts an edit on a private copy of the live context.
func (s *Store) Begin() *Edit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Edit{
		Context: s.live.Clone(),
		base:    s.version,
	}
}

// Commit replaces live context with the edited one.
func (s *Store) Commit(edit *Edit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if edit.done {
		return errors.New("edit already finished")
	}
	if edit.base != s.version {
		return errors.WithStack(ErrConflict)
	}

	edit.done = true
	s.live = edit.Context
	s.version++
	return nil
}

// Digest returns hash of the live context.
func (s *Store) Digest() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.live.Digest()
}

// Edit is a private copy of the context. Changes become visible only after commit.
type Edit struct {
	Context *Context

	base uint64
	done bool
}

// Digest returns hash of the canonical text form of the context.
func (c *Context) Digest() string {
	buf := &bytes.Buffer{}
	_ = c.DumpText(buf)

	h := blake3.New(64, nil)
	_, _ = h.Write(buf.Bytes())
	sum := h.Sum(nil)
	return "blake3.33B-" + cristalbase64.URLEncoding.EncodeToString(sum[:33])
}

// DumpText writes canonical text form of the context, one line per element.
func (c *Context) DumpText(w io.Writer) error {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "sequence\t%s\t%d\t%d\trevcomp=%t\n", c.Sequence, c.Start, c.End, c.RevComped)
	if c.Mark != nil {
		fmt.Fprintf(buf, "mark\t%d\t%d\n", c.Mark.Start, c.Mark.End)
	}
	for _, a := range c.Aligns {
		fmt.Fprintf(buf, "align\t%s\tmaster=%t\n", a.Name, a.Master)
		for _, b := range a.Blocks {
			fmt.Fprintf(buf, "block\t%s\t%d\t%d\n", b.Name, b.Start, b.End)
			for _, fs := range b.SortedFeatureSets() {
				fmt.Fprintf(buf, "featureset\t%s\thidden=%t\n", fs.Name, fs.Hidden)
				for _, f := range fs.SortedFeatures() {
					fmt.Fprintf(buf, "feature\t%s\t%s\t%d\t%d\t%s", f.ID, f.Name, f.Start, f.End, f.Strand)
					if f.HasScore {
						fmt.Fprintf(buf, "\tscore=%g", f.Score)
					}
					if f.Locus != "" {
						fmt.Fprintf(buf, "\tlocus=%s", f.Locus)
					}
					if f.Ontology != "" {
						fmt.Fprintf(buf, "\tontology=%s", f.Ontology)
					}
					buf.WriteString("\n")
					for _, sf := range f.Subfeatures {
						fmt.Fprintf(buf, "subfeature\t%s\t%d\t%d\n", sf.Ontology, sf.Start, sf.End)
					}
				}
			}
		}
	}
	_, err := w.Write(buf.Bytes())
	return errors.WithStack(err)
}

// DumpJSON writes JSON form of the context.
func (c *Context) DumpJSON(w io.Writer) error {
	return errors.WithStack(json.NewEncoder(w).Encode(c))
}

// SetMark marks the region of the live context. Nil clears the mark.
func (s *Store) SetMark(mark *Mark) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.live.Clone()
	if mark != nil {
		m := *mark
		c.Mark = &m
	} else {
		c.Mark = nil
	}
	s.live = c
	s.version++
}

package dataset

import (
	"errors"
	"fmt"
	"sort"
)

// ErrItemOutOfRange is returned by Locate for items past the last frame.
var ErrItemOutOfRange = errors.New("dataset item out of range")

// Registry is the scanned, read-only view of a dataset. Every frame of
// every sequence is one item, numbered in sequence order.
//
// A Registry is fully built by Open and never mutated afterwards, so it is
// safe for concurrent readers.
type Registry struct {
	variant Variant
	root    string
	seqs    []*Sequence
	byName  map[string]*Sequence
	offsets []int // offsets[i] is the item index of seqs[i] frame 0
	total   int
}

// Open scans root with v and builds the registry.
func Open(v Variant, root string) (*Registry, error) {
	seqs, err := v.Scan(root)
	if err != nil {
		return nil, fmt.Errorf("scan %s dataset at %s: %w", v.Name(), root, err)
	}

	r := &Registry{
		variant: v,
		root:    root,
		seqs:    seqs,
		byName:  make(map[string]*Sequence, len(seqs)),
		offsets: make([]int, len(seqs)),
	}
	for i, s := range seqs {
		if _, dup := r.byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate sequence %q", s.Name)
		}
		r.byName[s.Name] = s
		r.offsets[i] = r.total
		r.total += s.NumFrames
	}
	logf("%s: %d sequences, %d frames", v.Name(), len(seqs), r.total)
	return r, nil
}

// Loader returns the variant used to read frames.
func (r *Registry) Loader() Loader { return r.variant }

// Root is the dataset root directory.
func (r *Registry) Root() string { return r.root }

// Sequences returns the sequences in scan order. Callers must not modify
// the returned slice.
func (r *Registry) Sequences() []*Sequence { return r.seqs }

// Sequence looks a sequence up by name.
func (r *Registry) Sequence(name string) (*Sequence, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Len is the total number of frames across all sequences.
func (r *Registry) Len() int { return r.total }

// Locate maps a flat item index to its sequence and frame index.
func (r *Registry) Locate(item int) (*Sequence, int, error) {
	if item < 0 || item >= r.total {
		return nil, 0, fmt.Errorf("%w: %d not in [0, %d)", ErrItemOutOfRange, item, r.total)
	}
	// First sequence whose start lies beyond item, minus one.
	i := sort.Search(len(r.offsets), func(i int) bool { return r.offsets[i] > item }) - 1
	return r.seqs[i], item - r.offsets[i], nil
}

// Item is the inverse of Locate.
func (r *Registry) Item(seq *Sequence, frame int) (int, error) {
	for i, s := range r.seqs {
		if s == seq {
			if err := checkFrame(s, frame); err != nil {
				return 0, err
			}
			return r.offsets[i] + frame, nil
		}
	}
	return 0, fmt.Errorf("sequence %q not in registry", seq.Name)
}

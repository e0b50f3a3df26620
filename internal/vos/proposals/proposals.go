// Package proposals holds the per-frame instance proposals of an external
// detector and reads and writes them one file per frame.
//
// Masks are roaring bitmaps over the pixel index y*W+x of an H×W frame.
package proposals

import (
	"errors"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// Field names.
const (
	FieldMask     = "mask"
	FieldScores   = "scores"
	FieldTrackIDs = "track_ids"
	FieldIoUs     = "ious"
)

// ErrFieldMissing is returned when a requested field is not set.
var ErrFieldMissing = errors.New("proposal field missing")

// Proposals is an ordered set of object proposals for one frame. Every set
// field is a parallel slice with one entry per proposal.
type Proposals struct {
	H, W int

	masks    []*roaring.Bitmap
	scores   []float64
	trackIDs []int
	ious     []float64
	has      map[string]bool
}

// New returns an empty set on an h×w frame.
func New(h, w int) *Proposals {
	return &Proposals{H: h, W: w, has: make(map[string]bool)}
}

// Len is the number of proposals.
func (p *Proposals) Len() int {
	switch {
	case p.has[FieldMask]:
		return len(p.masks)
	case p.has[FieldScores]:
		return len(p.scores)
	case p.has[FieldTrackIDs]:
		return len(p.trackIDs)
	case p.has[FieldIoUs]:
		return len(p.ious)
	}
	return 0
}

// HasField reports whether name is set.
func (p *Proposals) HasField(name string) bool { return p.has[name] }

// Fields lists the set fields in a fixed order.
func (p *Proposals) Fields() []string {
	var out []string
	for _, f := range []string{FieldMask, FieldScores, FieldTrackIDs, FieldIoUs} {
		if p.has[f] {
			out = append(out, f)
		}
	}
	return out
}

// Field returns the value of name: []*roaring.Bitmap for mask, []int for
// track_ids and []float64 otherwise.
func (p *Proposals) Field(name string) (any, error) {
	if !p.has[name] {
		return nil, fmt.Errorf("%w: %s", ErrFieldMissing, name)
	}
	switch name {
	case FieldMask:
		return p.masks, nil
	case FieldScores:
		return p.scores, nil
	case FieldTrackIDs:
		return p.trackIDs, nil
	case FieldIoUs:
		return p.ious, nil
	}
	return nil, fmt.Errorf("unknown field %q", name)
}

// SetField sets name to v, which must have the type Field returns and the
// same length as the fields already set.
func (p *Proposals) SetField(name string, v any) error {
	switch name {
	case FieldMask:
		m, ok := v.([]*roaring.Bitmap)
		if !ok {
			return fmt.Errorf("field %s: want []*roaring.Bitmap, got %T", name, v)
		}
		return p.SetMasks(m)
	case FieldScores, FieldIoUs:
		f, ok := v.([]float64)
		if !ok {
			return fmt.Errorf("field %s: want []float64, got %T", name, v)
		}
		if name == FieldScores {
			return p.SetScores(f)
		}
		return p.SetIoUs(f)
	case FieldTrackIDs:
		ids, ok := v.([]int)
		if !ok {
			return fmt.Errorf("field %s: want []int, got %T", name, v)
		}
		return p.SetTrackIDs(ids)
	}
	return fmt.Errorf("unknown field %q", name)
}

func (p *Proposals) checkLen(name string, n int) error {
	for _, f := range p.Fields() {
		if f == name {
			continue
		}
		if l := p.fieldLen(f); l != n {
			return fmt.Errorf("field %s has %d entries, %s has %d", name, n, f, l)
		}
	}
	return nil
}

func (p *Proposals) fieldLen(name string) int {
	switch name {
	case FieldMask:
		return len(p.masks)
	case FieldScores:
		return len(p.scores)
	case FieldTrackIDs:
		return len(p.trackIDs)
	case FieldIoUs:
		return len(p.ious)
	}
	return 0
}

// SetMasks sets the mask field.
func (p *Proposals) SetMasks(m []*roaring.Bitmap) error {
	if err := p.checkLen(FieldMask, len(m)); err != nil {
		return err
	}
	p.masks = m
	p.has[FieldMask] = true
	return nil
}

// SetScores sets the scores field.
func (p *Proposals) SetScores(s []float64) error {
	if err := p.checkLen(FieldScores, len(s)); err != nil {
		return err
	}
	p.scores = s
	p.has[FieldScores] = true
	return nil
}

// SetTrackIDs sets the track_ids field.
func (p *Proposals) SetTrackIDs(ids []int) error {
	if err := p.checkLen(FieldTrackIDs, len(ids)); err != nil {
		return err
	}
	p.trackIDs = ids
	p.has[FieldTrackIDs] = true
	return nil
}

// SetIoUs sets the ious field.
func (p *Proposals) SetIoUs(v []float64) error {
	if err := p.checkLen(FieldIoUs, len(v)); err != nil {
		return err
	}
	p.ious = v
	p.has[FieldIoUs] = true
	return nil
}

// Masks returns the mask field, nil when unset.
func (p *Proposals) Masks() []*roaring.Bitmap { return p.masks }

// Scores returns the scores field, nil when unset.
func (p *Proposals) Scores() []float64 { return p.scores }

// TrackIDs returns the track_ids field and whether it is set.
func (p *Proposals) TrackIDs() ([]int, bool) { return p.trackIDs, p.has[FieldTrackIDs] }

// IoUs returns the ious field, nil when unset.
func (p *Proposals) IoUs() []float64 { return p.ious }

// Subset returns the proposals at idx, in that order. Masks are shared
// with p.
func (p *Proposals) Subset(idx []int) *Proposals {
	out := New(p.H, p.W)
	if p.has[FieldMask] {
		out.masks = make([]*roaring.Bitmap, len(idx))
		for k, i := range idx {
			out.masks[k] = p.masks[i]
		}
		out.has[FieldMask] = true
	}
	if p.has[FieldScores] {
		out.scores = pickFloat(p.scores, idx)
		out.has[FieldScores] = true
	}
	if p.has[FieldTrackIDs] {
		out.trackIDs = make([]int, len(idx))
		for k, i := range idx {
			out.trackIDs[k] = p.trackIDs[i]
		}
		out.has[FieldTrackIDs] = true
	}
	if p.has[FieldIoUs] {
		out.ious = pickFloat(p.ious, idx)
		out.has[FieldIoUs] = true
	}
	return out
}

func pickFloat(v []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for k, i := range idx {
		out[k] = v[i]
	}
	return out
}

// SelectTop keeps the proposals scoring above confThresh, best first.
// Proposals without scores are returned unchanged.
func SelectTop(p *Proposals, confThresh float64) *Proposals {
	if !p.has[FieldScores] {
		return p
	}
	var keep []int
	for i, s := range p.scores {
		if s > confThresh {
			keep = append(keep, i)
		}
	}
	sort.SliceStable(keep, func(a, b int) bool { return p.scores[keep[a]] > p.scores[keep[b]] })
	return p.Subset(keep)
}

// MaskFromPixels builds a mask from a row-major frame, setting every
// non-zero pixel.
func MaskFromPixels(pix []uint8) *roaring.Bitmap {
	bm := roaring.New()
	for i, v := range pix {
		if v != 0 {
			bm.Add(uint32(i))
		}
	}
	return bm
}

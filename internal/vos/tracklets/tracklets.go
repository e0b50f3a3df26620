// Package tracklets links detector proposals across frames into short
// tracks by warping the previous frame's proposals with optical flow and
// matching them to the current frame's proposals by mask IoU.
package tracklets

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/clipstitch/internal/config"
	"github.com/banshee-data/clipstitch/internal/vos/flow"
	"github.com/banshee-data/clipstitch/internal/vos/overlap"
	"github.com/banshee-data/clipstitch/internal/vos/proposals"
)

// Config holds the association thresholds.
type Config struct {
	ConfThresh float64 // proposals scoring at or below this are dropped
	IoUThresh  float64 // a warped proposal must beat this IoU to match
	Workers    int     // concurrent mask warps
}

// DefaultConfig returns the tuning defaults.
func DefaultConfig() Config {
	return Config{ConfThresh: 0.8, IoUThresh: 0.1, Workers: 4}
}

// ConfigFromTuning builds a Config from the tuning config.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		ConfThresh: cfg.GetProposalConfThresh(),
		IoUThresh:  cfg.GetAssociationIoUThresh(),
		Workers:    cfg.GetWarpWorkers(),
	}
}

// WarpAll warps every mask of p along f using at most workers goroutines.
// The result shares every other field with p.
func WarpAll(ctx context.Context, p *proposals.Proposals, f *flow.Field, w flow.Warper, workers int) (*proposals.Proposals, error) {
	masks := p.Masks()
	warped := make([]*roaring.Bitmap, len(masks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, workers))
	for i, m := range masks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := w.Warp(m, p.W, p.H, f)
			if err != nil {
				return fmt.Errorf("warp proposal %d: %w", i, err)
			}
			warped[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	idx := make([]int, len(masks))
	for i := range idx {
		idx[i] = i
	}
	out := p.Subset(idx)
	if err := out.SetMasks(warped); err != nil {
		return nil, err
	}
	return out, nil
}

// Association is the outcome of matching one frame.
type Association struct {
	// Proposals are the frame's proposals with track_ids and ious set.
	Proposals *proposals.Proposals
	// Labels is the H×W label frame, track id + 1 per pixel.
	Labels []int32
	// Matched and New count proposals that continued or opened a track.
	Matched, New int
}

// Associate matches every warped proposal of the previous frame to the
// current proposal it overlaps most, above iouThresh. A matched current
// proposal inherits the warped proposal's track id, or its index when the
// previous frame carried no track ids. Current proposals left over open
// new tracks numbered after the largest id in use.
//
// Two warped proposals may pick the same current proposal; the later one
// wins.
func Associate(curr, warped *proposals.Proposals, iouThresh float64) (*Association, error) {
	n := curr.Len()
	if n > 0 && !curr.HasField(proposals.FieldMask) {
		return nil, fmt.Errorf("current proposals have no masks")
	}
	trackIDs := make([]int, n)
	ious := make([]float64, n)
	for i := range trackIDs {
		trackIDs[i] = -1
		ious[i] = -1
	}
	labels := make([]int32, curr.H*curr.W)
	currMasks := curr.Masks()
	prevIDs, hasPrevIDs := warped.TrackIDs()

	for i, wm := range warped.Masks() {
		best, iou := bestMatch(wm, currMasks, iouThresh)
		if best < 0 {
			continue
		}
		trackIDs[best] = i
		if hasPrevIDs {
			trackIDs[best] = prevIDs[i]
		}
		ious[best] = iou
		paint(labels, currMasks[best], int32(trackIDs[best]+1))
	}

	next := -1
	for _, id := range trackIDs {
		next = max(next, id)
	}
	a := &Association{Labels: labels}
	for i, id := range trackIDs {
		if id >= 0 {
			a.Matched++
			continue
		}
		next++
		trackIDs[i] = next
		a.New++
		paint(labels, currMasks[i], int32(next+1))
	}

	out := curr.Subset(identity(n))
	if err := out.SetTrackIDs(trackIDs); err != nil {
		return nil, err
	}
	if err := out.SetIoUs(ious); err != nil {
		return nil, err
	}
	a.Proposals = out
	return a, nil
}

// Seed opens one track per proposal of the first frame.
func Seed(p *proposals.Proposals) (*Association, error) {
	n := p.Len()
	trackIDs := identity(n)
	ious := make([]float64, n)
	labels := make([]int32, p.H*p.W)
	for i, m := range p.Masks() {
		ious[i] = -1
		paint(labels, m, int32(i+1))
	}
	out := p.Subset(identity(n))
	if err := out.SetTrackIDs(trackIDs); err != nil {
		return nil, err
	}
	if err := out.SetIoUs(ious); err != nil {
		return nil, err
	}
	return &Association{Proposals: out, Labels: labels, New: n}, nil
}

// bestMatch returns the index of the mask with the highest IoU above
// thresh, or -1.
func bestMatch(m *roaring.Bitmap, candidates []*roaring.Bitmap, thresh float64) (int, float64) {
	best, bestIoU := -1, 0.0
	for j, c := range candidates {
		iou := overlap.MaskIoU(m, c)
		if iou > bestIoU && iou > thresh {
			best, bestIoU = j, iou
		}
	}
	return best, bestIoU
}

func paint(labels []int32, m *roaring.Bitmap, id int32) {
	it := m.Iterator()
	for it.HasNext() {
		if p := int(it.Next()); p < len(labels) {
			labels[p] = id
		}
	}
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// Package stitch fuses the track ids of consecutive, temporally overlapping
// clips into one stable id space.
//
// A clip is a T×H×W label volume. Two consecutive clips share k frames: the
// last k of the reference (already stitched) clip and the first k of the
// current clip. Ids are matched on those shared frames and the mapping is
// then applied to the whole current clip.
package stitch

import (
	"errors"
	"fmt"

	"github.com/banshee-data/clipstitch/internal/config"
	"github.com/banshee-data/clipstitch/internal/monitoring"
	"github.com/banshee-data/clipstitch/internal/vos/assign"
	"github.com/banshee-data/clipstitch/internal/vos/mask"
	"github.com/banshee-data/clipstitch/internal/vos/overlap"
)

// ErrOverlapRange is returned when the overlap length is negative or longer
// than either clip.
var ErrOverlapRange = errors.New("overlap out of range")

var logf = monitoring.Component("stitch")

// Result is one stitched clip.
type Result struct {
	// Tube has the shape of the current clip with every id replaced by its
	// resolved reference id. It is a fresh buffer.
	Tube *mask.Volume
	// Assignment is the current→reference id mapping that produced Tube.
	Assignment *assign.Result
}

// Stitch maps the ids of curr onto those of ref using the k = overlaps
// frames they share.
//
// Ids of curr that do not appear in the shared frames are resolved with the
// unmatched policy of package assign. A reference overlap without
// foreground is not an error: every current id is then unmatched.
func Stitch(ref, curr *mask.Volume, overlaps int, opts assign.Options) (*Result, error) {
	if ref == nil || curr == nil {
		return nil, errors.New("stitch: nil tube")
	}
	if !ref.SameGeometry(curr) {
		return nil, fmt.Errorf("stitch %d×%d onto %d×%d: %w", curr.H, curr.W, ref.H, ref.W, mask.ErrGeometryMismatch)
	}
	if overlaps < 0 || overlaps > ref.T || overlaps > curr.T {
		return nil, fmt.Errorf("overlap %d with clips of %d and %d frames: %w", overlaps, ref.T, curr.T, ErrOverlapRange)
	}

	refTail := ref.Frames(ref.T-overlaps, ref.T)
	currHead := curr.Frames(0, overlaps)

	m, err := overlap.Score(currHead, refTail)
	if err != nil {
		return nil, fmt.Errorf("score overlap: %w", err)
	}

	opts.HighWater = max(opts.HighWater, ref.MaxID())
	a := assign.Solve(m, opts)
	a.Resolve(curr.IDs()...)

	return &Result{
		Tube:       curr.Relabel(a.Lookup()),
		Assignment: a,
	}, nil
}

// Config holds the parameters of a stitching fold.
type Config struct {
	Overlap int
	Options assign.Options
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Overlap: cfg.GetClipOverlap(),
		Options: assign.Options{
			NearestThreshold: float32(cfg.GetNearestThreshold()),
			PreferNearest:    cfg.GetPreferNearest(),
			MaxCost:          float32(cfg.GetMaxMatchCost()),
		},
	}
}

// Stitcher folds Stitch over a sequence of clips. The state is the last
// stitched tube and the largest id ever issued.
//
// A Stitcher is not safe for concurrent use.
type Stitcher struct {
	cfg       Config
	ref       *mask.Volume
	highWater int32
	clips     int
}

// NewStitcher creates a Stitcher with no reference clip.
func NewStitcher(cfg Config) *Stitcher {
	return &Stitcher{cfg: cfg}
}

// Push stitches curr onto the previous result and makes the output the new
// reference. The first clip passes through with its own ids.
func (s *Stitcher) Push(curr *mask.Volume) (*Result, error) {
	var res *Result
	if s.ref == nil {
		res = &Result{Tube: curr.Clone(), Assignment: assign.Identity(curr.IDs())}
	} else {
		opts := s.cfg.Options
		opts.HighWater = s.highWater
		var err error
		res, err = Stitch(s.ref, curr, s.cfg.Overlap, opts)
		if err != nil {
			return nil, fmt.Errorf("clip %d: %w", s.clips, err)
		}
	}

	created := 0
	for _, p := range res.Assignment.Pairs {
		if p.Kind == assign.New {
			created++
		}
	}
	if created > 0 {
		logf("clip %d: %d new track ids (high water %d)", s.clips, created, res.Assignment.MaxID())
	}

	s.ref = res.Tube
	s.highWater = max(s.highWater, res.Assignment.MaxID(), res.Tube.MaxID())
	s.clips++
	return res, nil
}

// Reference returns the last stitched tube, or nil before the first Push.
func (s *Stitcher) Reference() *mask.Volume { return s.ref }

// HighWater returns the largest track id issued so far.
func (s *Stitcher) HighWater() int32 { return s.highWater }

// Clips returns the number of clips pushed.
func (s *Stitcher) Clips() int { return s.clips }

// Package sampler picks the support frames of a clip.
package sampler

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/banshee-data/clipstitch/internal/config"
)

// ErrIndexOutOfRange is returned when the query index is not a frame of the
// sequence.
var ErrIndexOutOfRange = errors.New("query index out of range")

// Sampler draws a window of frame indices starting at a query index.
//
// In training mode the search range is [idx, idx+max(MaxGap, Window)),
// otherwise [idx, idx+Window); both are clipped to the sequence length.
// Up to Window distinct indices are drawn without replacement, the set is
// padded with idx, and the result is sorted ascending.
type Sampler struct {
	Window int
	MaxGap int
	Train  bool
	Rand   *rand.Rand
}

// FromTuning builds a Sampler from the tuning config. A zero seed seeds the
// random source from the clock.
func FromTuning(cfg *config.TuningConfig) *Sampler {
	seed := cfg.GetSeed()
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Sampler{
		Window: cfg.GetTemporalWindow(),
		MaxGap: cfg.GetMaxTemporalGap(),
		Train:  cfg.GetTrainMode(),
		Rand:   rand.New(rand.NewSource(seed)),
	}
}

// Indices returns Window frame indices for query idx in a sequence of n
// frames. The result may repeat idx near the end of the sequence.
func (s *Sampler) Indices(idx, n int) ([]int, error) {
	if s.Window < 1 {
		return nil, fmt.Errorf("temporal window must be at least 1, got %d", s.Window)
	}
	if idx < 0 || idx >= n {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, idx, n)
	}
	if s.Rand == nil {
		return nil, errors.New("sampler has no random source")
	}

	span := s.Window
	if s.Train {
		span = max(s.MaxGap, s.Window)
	}
	hi := min(n, idx+span)
	avail := hi - idx

	draw := min(s.Window, avail)
	out := make([]int, 0, s.Window)
	for _, off := range s.Rand.Perm(avail)[:draw] {
		out = append(out, idx+off)
	}
	for len(out) < s.Window {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out, nil
}

// Package assign maps the track ids of a current clip onto the ids of a
// reference clip.
//
// The optimal part is a minimum-cost bipartite matching over 1 − IoU.
// Current ids the matching leaves out are reconciled one at a time, in
// ascending id order:
//
//  1. with PreferNearest, the cheapest still-unclaimed reference id whose
//     cost is below NearestThreshold;
//  2. otherwise the current id itself, if it is free in the reference id
//     space (not scored, not claimed, above HighWater);
//  3. otherwise a new id one past the largest id seen so far.
//
// Reference ids are never handed to two current ids, and an id at or below
// HighWater is never created afresh, so retired ids are not reused.
package assign

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/clipstitch/internal/vos/overlap"
)

// DefaultNearestThreshold is the cost below which an unclaimed reference id
// may be taken by an unmatched current id when PreferNearest is set.
const DefaultNearestThreshold = 0.3

// Kind records how a current id obtained its reference id.
type Kind int

const (
	Matched     Kind = iota // optimal assignment
	Nearest                 // cheapest unclaimed reference id under the threshold
	Passthrough             // current id kept unchanged
	New                     // freshly allocated id
)

func (k Kind) String() string {
	switch k {
	case Matched:
		return "matched"
	case Nearest:
		return "nearest"
	case Passthrough:
		return "passthrough"
	case New:
		return "new"
	default:
		return "unknown"
	}
}

// Options tunes the unmatched-id policy. The zero value reproduces the
// plain behaviour: every optimal pair is accepted and unmatched ids are
// kept or renumbered.
type Options struct {
	// NearestThreshold bounds the cost for the Nearest fallback.
	// Zero means DefaultNearestThreshold.
	NearestThreshold float32
	// PreferNearest enables the Nearest fallback.
	PreferNearest bool
	// MaxCost demotes optimal pairs costing more than this to unmatched.
	// Zero accepts every optimal pair.
	MaxCost float32
	// HighWater is the largest id ever issued by earlier stitches.
	HighWater int32
}

func (o Options) nearestThreshold() float32 {
	if o.NearestThreshold <= 0 {
		return DefaultNearestThreshold
	}
	return o.NearestThreshold
}

// Pair maps one current id to its resolved reference id.
type Pair struct {
	Current   int32
	Reference int32
	Cost      float32 // 1 − IoU; 1 when no overlap was scored
	Kind      Kind
}

// Result is the full current→reference mapping. Pairs holds the optimal
// matches in ascending current id order followed by the reconciled ids.
type Result struct {
	Pairs []Pair

	opts    Options
	scored  map[int32]bool // reference ids present in the overlap
	claimed map[int32]bool // reference ids already handed out
	mapped  map[int32]bool // current ids already resolved
	maxID   int32
}

func newResult(opts Options, refIDs []int32) *Result {
	r := &Result{
		opts:    opts,
		scored:  make(map[int32]bool, len(refIDs)),
		claimed: make(map[int32]bool, len(refIDs)),
		mapped:  make(map[int32]bool),
		maxID:   opts.HighWater,
	}
	for _, id := range refIDs {
		r.scored[id] = true
		r.maxID = max(r.maxID, id)
	}
	return r
}

// Solve computes the mapping for every row of m.
// A matrix without reference columns is valid: every current id is then
// reconciled through the unmatched policy.
func Solve(m *overlap.Matrix, opts Options) *Result {
	r := newResult(opts, m.ColIDs)
	cost := m.Cost()

	rowToCol := hungarian(cost)
	var unmatched []int
	for i, j := range rowToCol {
		if j < 0 || (opts.MaxCost > 0 && cost[i][j] > opts.MaxCost) {
			unmatched = append(unmatched, i)
			continue
		}
		r.add(Pair{Current: m.RowIDs[i], Reference: m.ColIDs[j], Cost: cost[i][j], Kind: Matched})
	}

	for _, i := range unmatched {
		r.reconcile(m.RowIDs[i], cost[i], m.ColIDs)
	}
	return r
}

// Identity maps every id onto itself. It seeds the first clip of a fold.
func Identity(ids []int32) *Result {
	r := newResult(Options{}, nil)
	for _, id := range ids {
		r.add(Pair{Current: id, Reference: id, Cost: 0, Kind: Passthrough})
	}
	return r
}

// Resolve reconciles current ids that had no row in the scored overlap,
// such as objects that only enter after the overlapping frames.
// Ids that are already mapped are skipped.
func (r *Result) Resolve(ids ...int32) {
	for _, id := range ids {
		if r.mapped[id] {
			continue
		}
		r.reconcile(id, nil, nil)
	}
}

func (r *Result) reconcile(current int32, costRow []float32, refIDs []int32) {
	if r.opts.PreferNearest && len(costRow) > 0 {
		if j, ok := r.nearest(costRow, refIDs); ok {
			r.add(Pair{Current: current, Reference: refIDs[j], Cost: costRow[j], Kind: Nearest})
			return
		}
	}
	if !r.scored[current] && !r.claimed[current] && current > r.opts.HighWater {
		r.add(Pair{Current: current, Reference: current, Cost: 1, Kind: Passthrough})
		return
	}
	r.add(Pair{Current: current, Reference: r.maxID + 1, Cost: 1, Kind: New})
}

// nearest returns the cheapest unclaimed column below the threshold.
func (r *Result) nearest(costRow []float32, refIDs []int32) (int, bool) {
	open := make([]float64, len(costRow))
	for j, c := range costRow {
		if r.claimed[refIDs[j]] {
			open[j] = math.Inf(1)
			continue
		}
		open[j] = float64(c)
	}
	j := floats.MinIdx(open)
	if open[j] >= float64(r.opts.nearestThreshold()) {
		return 0, false
	}
	return j, true
}

func (r *Result) add(p Pair) {
	r.Pairs = append(r.Pairs, p)
	r.claimed[p.Reference] = true
	r.mapped[p.Current] = true
	r.maxID = max(r.maxID, p.Reference)
}

// CurrentIDs returns the current side of Pairs.
func (r *Result) CurrentIDs() []int32 {
	ids := make([]int32, len(r.Pairs))
	for k, p := range r.Pairs {
		ids[k] = p.Current
	}
	return ids
}

// ReferenceIDs returns the reference side of Pairs, parallel to CurrentIDs.
func (r *Result) ReferenceIDs() []int32 {
	ids := make([]int32, len(r.Pairs))
	for k, p := range r.Pairs {
		ids[k] = p.Reference
	}
	return ids
}

// Lookup returns the mapping as a map from current id to reference id.
func (r *Result) Lookup() map[int32]int32 {
	out := make(map[int32]int32, len(r.Pairs))
	for _, p := range r.Pairs {
		out[p.Current] = p.Reference
	}
	return out
}

// MaxID is the largest id referenced by the mapping or its inputs.
func (r *Result) MaxID() int32 { return r.maxID }

// TotalMatchedCost sums the cost of the optimal pairs.
func (r *Result) TotalMatchedCost() float32 {
	var total float32
	for _, p := range r.Pairs {
		if p.Kind == Matched {
			total += p.Cost
		}
	}
	return total
}

package assign

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/clipstitch/internal/vos/mask"
	"github.com/banshee-data/clipstitch/internal/vos/overlap"
)

func score(t *testing.T, w int, curr, ref []int32) *overlap.Matrix {
	t.Helper()
	c, err := mask.FromFrames(len(curr)/w, w, curr)
	require.NoError(t, err)
	r, err := mask.FromFrames(len(ref)/w, w, ref)
	require.NoError(t, err)
	m, err := overlap.Score(c, r)
	require.NoError(t, err)
	return m
}

func TestSolve_RecoversPermutationWithZeroCost(t *testing.T) {
	// Four objects in disjoint columns; the current clip uses a permuted
	// labelling of the same pixels.
	ref := []int32{
		1, 2, 3, 4,
		1, 2, 3, 4,
	}
	perm := map[int32]int32{1: 3, 2: 1, 3: 4, 4: 2} // ref id → current id
	curr := make([]int32, len(ref))
	for i, id := range ref {
		curr[i] = perm[id]
	}

	res := Solve(score(t, 4, curr, ref), Options{})

	want := map[int32]int32{3: 1, 1: 2, 4: 3, 2: 4}
	if diff := cmp.Diff(want, res.Lookup()); diff != "" {
		t.Errorf("mapping mismatch (-want +got):\n%s", diff)
	}
	assert.Zero(t, res.TotalMatchedCost())
	for _, p := range res.Pairs {
		assert.Equal(t, Matched, p.Kind)
	}
}

func TestSolve_CoversEveryCurrentID(t *testing.T) {
	tests := []struct {
		name string
		curr []int32
		ref  []int32
	}{
		{"more current than reference", []int32{1, 2, 3, 0}, []int32{1, 0, 0, 0}},
		{"more reference than current", []int32{1, 0, 0, 0}, []int32{1, 2, 3, 4}},
		{"disjoint", []int32{1, 1, 2, 2}, []int32{0, 0, 0, 0}},
		{"equal", []int32{1, 2, 3, 4}, []int32{4, 3, 2, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := score(t, 4, tt.curr, tt.ref)
			res := Solve(m, Options{})

			assert.ElementsMatch(t, m.RowIDs, res.CurrentIDs())
			assert.Len(t, res.ReferenceIDs(), len(res.CurrentIDs()))

			seen := map[int32]bool{}
			for _, ref := range res.ReferenceIDs() {
				assert.Positive(t, ref)
				assert.False(t, seen[ref], "reference id %d handed out twice", ref)
				seen[ref] = true
			}
		})
	}
}

func TestSolve_NoReferenceForeground(t *testing.T) {
	m := score(t, 3, []int32{1, 2, 0}, []int32{0, 0, 0})
	res := Solve(m, Options{})

	want := []Pair{
		{Current: 1, Reference: 1, Cost: 1, Kind: Passthrough},
		{Current: 2, Reference: 2, Cost: 1, Kind: Passthrough},
	}
	if diff := cmp.Diff(want, res.Pairs); diff != "" {
		t.Errorf("pairs mismatch (-want +got):\n%s", diff)
	}
}

func TestSolve_UnmatchedTakesNewIDWhenOwnIDIsTaken(t *testing.T) {
	// Current 2 and 3 overlap reference 1 and 2; current 1 is left over and
	// its own id is claimed, so it gets max(reference)+1.
	curr := []int32{2, 3, 1, 0}
	ref := []int32{1, 2, 0, 0}
	res := Solve(score(t, 4, curr, ref), Options{})

	lookup := res.Lookup()
	assert.Equal(t, int32(1), lookup[2])
	assert.Equal(t, int32(2), lookup[3])
	assert.Equal(t, int32(3), lookup[1])
	assert.Equal(t, New, res.Pairs[2].Kind)
}

func TestSolve_UnmatchedKeepsFreeID(t *testing.T) {
	curr := []int32{1, 2, 5, 0}
	ref := []int32{1, 2, 0, 0}
	res := Solve(score(t, 4, curr, ref), Options{})

	lookup := res.Lookup()
	assert.Equal(t, int32(5), lookup[5])
}

func TestSolve_HighWaterPreventsReuse(t *testing.T) {
	// Id 3 was issued by an earlier clip and has since disappeared.
	curr := []int32{1, 3, 0, 0}
	ref := []int32{1, 0, 0, 0}
	res := Solve(score(t, 4, curr, ref), Options{HighWater: 3})

	lookup := res.Lookup()
	assert.Equal(t, int32(1), lookup[1])
	assert.Equal(t, int32(4), lookup[3])
}

func TestSolve_MaxCostDemotesWeakMatches(t *testing.T) {
	// Current 1 barely touches reference 1 (IoU 1/7).
	curr := []int32{1, 1, 1, 1, 0, 0, 0, 0}
	ref := []int32{0, 0, 0, 1, 1, 1, 1, 0}

	plain := Solve(score(t, 8, curr, ref), Options{})
	assert.Equal(t, Matched, plain.Pairs[0].Kind)

	gated := Solve(score(t, 8, curr, ref), Options{MaxCost: 0.5})
	require.Len(t, gated.Pairs, 1)
	assert.Equal(t, New, gated.Pairs[0].Kind)
	assert.Equal(t, int32(2), gated.Pairs[0].Reference)
}

func TestSolve_PreferNearest(t *testing.T) {
	// Two current objects split one reference object; the second would
	// normally get a new id but with PreferNearest only an unclaimed
	// reference id under the threshold is acceptable.
	curr := []int32{
		1, 1, 2, 2, 0, 0,
		0, 0, 0, 0, 3, 3,
	}
	ref := []int32{
		1, 1, 1, 1, 0, 0,
		0, 0, 0, 0, 2, 2,
	}

	res := Solve(score(t, 6, curr, ref), Options{PreferNearest: true, MaxCost: 0.1})
	lookup := res.Lookup()
	assert.Equal(t, int32(2), lookup[3])
	// Current 1 and 2 both cost 0.5 against reference 1: both are demoted,
	// the first reconciled id cannot reach reference 1 under 0.3 either.
	assert.NotEqual(t, lookup[1], lookup[2])

	near := Solve(score(t, 6, curr, ref), Options{PreferNearest: true, NearestThreshold: 0.6, MaxCost: 0.1})
	kinds := map[int32]Kind{}
	for _, p := range near.Pairs {
		kinds[p.Current] = p.Kind
	}
	assert.Equal(t, Matched, kinds[3])
	assert.Equal(t, Nearest, kinds[1])
	assert.Equal(t, int32(1), near.Lookup()[1])
	assert.Equal(t, New, kinds[2])
}

func TestResolve_ExtraIDs(t *testing.T) {
	res := Solve(score(t, 2, []int32{1, 0}, []int32{1, 0}), Options{})
	res.Resolve(1, 4, 2)

	lookup := res.Lookup()
	assert.Len(t, lookup, 3)
	assert.Equal(t, int32(1), lookup[1])
	assert.Equal(t, int32(4), lookup[4])
	assert.Equal(t, int32(2), lookup[2])
}

func TestIdentity(t *testing.T) {
	res := Identity([]int32{2, 5})
	assert.Equal(t, map[int32]int32{2: 2, 5: 5}, res.Lookup())
	assert.Equal(t, int32(5), res.MaxID())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "matched", Matched.String())
	assert.Equal(t, "nearest", Nearest.String())
	assert.Equal(t, "passthrough", Passthrough.String())
	assert.Equal(t, "new", New.String())
	assert.Equal(t, "unknown", Kind(42).String())
}

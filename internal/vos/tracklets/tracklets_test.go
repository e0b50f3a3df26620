package tracklets

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/clipstitch/internal/config"
	"github.com/banshee-data/clipstitch/internal/fsutil"
	"github.com/banshee-data/clipstitch/internal/monitoring"
	"github.com/banshee-data/clipstitch/internal/vos/flow"
	"github.com/banshee-data/clipstitch/internal/vos/imageio"
	"github.com/banshee-data/clipstitch/internal/vos/proposals"
)

func init() {
	monitoring.SetLogger(nil)
}

// props builds a 2×4 proposal set.
func props(t *testing.T, scores []float64, masks ...*roaring.Bitmap) *proposals.Proposals {
	t.Helper()
	p := proposals.New(2, 4)
	require.NoError(t, p.SetMasks(masks))
	if scores == nil {
		scores = make([]float64, len(masks))
		for i := range scores {
			scores[i] = 0.9
		}
	}
	require.NoError(t, p.SetScores(scores))
	return p
}

func zeroFlow(w, h int) *flow.Field {
	return &flow.Field{W: w, H: h, UV: make([]float32, w*h*2)}
}

func TestAssociate(t *testing.T) {
	warped := props(t, nil, roaring.BitmapOf(0, 1), roaring.BitmapOf(6, 7))
	require.NoError(t, warped.SetTrackIDs([]int{5, 9}))
	curr := props(t, nil, roaring.BitmapOf(1, 2), roaring.BitmapOf(6, 7), roaring.BitmapOf(3))

	a, err := Associate(curr, warped, 0.1)
	require.NoError(t, err)

	ids, ok := a.Proposals.TrackIDs()
	require.True(t, ok)
	assert.Equal(t, []int{5, 9, 10}, ids)
	ious := a.Proposals.IoUs()
	assert.InDelta(t, 1.0/3, ious[0], 1e-9)
	assert.Equal(t, 1.0, ious[1])
	assert.Equal(t, -1.0, ious[2])
	assert.Equal(t, []int32{0, 6, 6, 11, 0, 0, 10, 10}, a.Labels)
	assert.Equal(t, 2, a.Matched)
	assert.Equal(t, 1, a.New)
	assert.Equal(t, []float64{0.9, 0.9, 0.9}, a.Proposals.Scores())
}

func TestAssociate_Threshold(t *testing.T) {
	warped := props(t, nil, roaring.BitmapOf(0, 1), roaring.BitmapOf(6, 7))
	require.NoError(t, warped.SetTrackIDs([]int{5, 9}))
	curr := props(t, nil, roaring.BitmapOf(1, 2), roaring.BitmapOf(6, 7), roaring.BitmapOf(3))

	a, err := Associate(curr, warped, 0.5)
	require.NoError(t, err)
	ids, _ := a.Proposals.TrackIDs()
	assert.Equal(t, []int{10, 9, 11}, ids)
}

func TestAssociate_IndexWhenNoTrackIDs(t *testing.T) {
	warped := props(t, nil, roaring.BitmapOf(0), roaring.BitmapOf(4))
	curr := props(t, nil, roaring.BitmapOf(4), roaring.BitmapOf(0))

	a, err := Associate(curr, warped, 0.1)
	require.NoError(t, err)
	ids, _ := a.Proposals.TrackIDs()
	assert.Equal(t, []int{1, 0}, ids)
}

func TestAssociate_NothingToCarry(t *testing.T) {
	warped := props(t, nil)
	curr := props(t, nil, roaring.BitmapOf(0), roaring.BitmapOf(1))

	a, err := Associate(curr, warped, 0.1)
	require.NoError(t, err)
	ids, _ := a.Proposals.TrackIDs()
	assert.Equal(t, []int{0, 1}, ids)
	assert.Equal(t, 2, a.New)
}

func TestSeed(t *testing.T) {
	a, err := Seed(props(t, nil, roaring.BitmapOf(0), roaring.BitmapOf(7)))
	require.NoError(t, err)
	ids, _ := a.Proposals.TrackIDs()
	assert.Equal(t, []int{0, 1}, ids)
	assert.Equal(t, int32(1), a.Labels[0])
	assert.Equal(t, int32(2), a.Labels[7])
}

func TestWarpAll(t *testing.T) {
	p := props(t, nil, roaring.BitmapOf(0, 1), roaring.BitmapOf(5), roaring.BitmapOf(2, 3))
	require.NoError(t, p.SetTrackIDs([]int{3, 4, 5}))

	f := zeroFlow(4, 2)
	for i := 0; i < 8; i++ {
		f.UV[2*i] = -1 // shift right by one
	}
	out, err := WarpAll(context.Background(), p, f, flow.NearestWarper{}, 2)
	require.NoError(t, err)

	assert.Equal(t, []uint32{1, 2}, out.Masks()[0].ToArray())
	assert.Equal(t, []uint32{6}, out.Masks()[1].ToArray())
	assert.Equal(t, []uint32{3}, out.Masks()[2].ToArray())
	ids, _ := out.TrackIDs()
	assert.Equal(t, []int{3, 4, 5}, ids)
	// Input untouched.
	assert.Equal(t, []uint32{0, 1}, p.Masks()[0].ToArray())

	_, err = WarpAll(context.Background(), p, zeroFlow(3, 2), flow.NearestWarper{}, 2)
	assert.Error(t, err)
}

func TestWarpAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := props(t, nil, roaring.BitmapOf(0))
	_, err := WarpAll(ctx, p, zeroFlow(4, 2), flow.NearestWarper{}, 1)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunSequence(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	in := proposals.NewStore(fsys, "/props")
	out := proposals.NewStore(fsys, "/out")

	// An object drifting right, plus a low-confidence detection.
	require.NoError(t, in.Save("bear", 0, props(t, []float64{0.9, 0.3}, roaring.BitmapOf(0, 1), roaring.BitmapOf(7))))
	require.NoError(t, in.Save("bear", 1, props(t, []float64{0.95}, roaring.BitmapOf(1, 2))))
	require.NoError(t, in.Save("bear", 2, props(t, []float64{0.9, 0.85}, roaring.BitmapOf(4), roaring.BitmapOf(2, 3))))

	shift := zeroFlow(4, 2)
	for i := 0; i < 8; i++ {
		shift.UV[2*i] = -1
	}
	for f := 1; f <= 2; f++ {
		var buf bytes.Buffer
		require.NoError(t, flow.WriteFlo(&buf, shift))
		require.NoError(t, fsys.WriteFile("/flo/bear/0000"+string(rune('0'+f))+".flo", buf.Bytes(), 0o644))
	}

	r := &Runner{
		Config: DefaultConfig(),
		In:     in,
		Out:    out,
		Flows:  FileFlowSource{FS: fsys, Dir: "/flo"},
		Warper: flow.NearestWarper{},
		FS:     fsys,
		OutDir: "/out",
	}
	st, err := r.RunSequence(context.Background(), "bear")
	require.NoError(t, err)
	assert.Equal(t, Stats{Frames: 3, Matched: 2, New: 2, Tracks: 2}, st)

	last, err := out.Load("bear", 2)
	require.NoError(t, err)
	ids, _ := last.TrackIDs()
	assert.Equal(t, []int{1, 0}, ids, "sorted by score, the drifting object keeps track 0")

	f, err := fsys.Open("/out/bear/00002.png")
	require.NoError(t, err)
	m, err := imageio.DecodeMask(f)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 0, 1, 1, 2, 0, 0, 0}, m.Pix)

	_, err = r.RunSequence(context.Background(), "missing")
	assert.Error(t, err)
}

func TestConfigFromTuning(t *testing.T) {
	assert.Equal(t, DefaultConfig(), ConfigFromTuning(config.MustLoadDefaultConfig()))
}

package proposals

import (
	"errors"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/clipstitch/internal/fsutil"
)

func sample(t *testing.T) *Proposals {
	t.Helper()
	p := New(2, 3)
	require.NoError(t, p.SetMasks([]*roaring.Bitmap{
		roaring.BitmapOf(0, 1),
		roaring.BitmapOf(2),
		roaring.BitmapOf(3, 4, 5),
	}))
	require.NoError(t, p.SetScores([]float64{0.85, 0.5, 0.95}))
	return p
}

func TestFields(t *testing.T) {
	p := sample(t)
	assert.Equal(t, 3, p.Len())
	assert.True(t, p.HasField(FieldMask))
	assert.False(t, p.HasField(FieldTrackIDs))
	assert.Equal(t, []string{FieldMask, FieldScores}, p.Fields())

	_, err := p.Field(FieldTrackIDs)
	assert.True(t, errors.Is(err, ErrFieldMissing))

	require.NoError(t, p.SetField(FieldTrackIDs, []int{4, 5, 6}))
	v, err := p.Field(FieldTrackIDs)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5, 6}, v)

	assert.Error(t, p.SetField(FieldIoUs, []float64{1}), "length mismatch")
	assert.Error(t, p.SetField(FieldScores, []int{1, 2, 3}), "type mismatch")
	assert.Error(t, p.SetField("boxes", nil))
}

func TestSelectTop(t *testing.T) {
	p := sample(t)
	require.NoError(t, p.SetTrackIDs([]int{10, 11, 12}))

	top := SelectTop(p, 0.8)
	assert.Equal(t, []float64{0.95, 0.85}, top.Scores())
	ids, ok := top.TrackIDs()
	require.True(t, ok)
	assert.Equal(t, []int{12, 10}, ids)
	assert.Equal(t, uint64(3), top.Masks()[0].GetCardinality())

	// Strictly above the threshold.
	assert.Equal(t, 1, SelectTop(p, 0.85).Len())
	assert.Equal(t, 0, SelectTop(p, 0.99).Len())
}

func TestMaskFromPixels(t *testing.T) {
	bm := MaskFromPixels([]uint8{0, 1, 0, 7})
	assert.Equal(t, []uint32{1, 3}, bm.ToArray())
}

func TestMarshalRoundTrip(t *testing.T) {
	p := sample(t)
	require.NoError(t, p.SetIoUs([]float64{-1, 0.5, -1}))

	data, err := Marshal(p)
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, 2, got.H)
	assert.Equal(t, 3, got.W)
	assert.Equal(t, p.Fields(), got.Fields())
	assert.Equal(t, p.Scores(), got.Scores())
	assert.Equal(t, p.IoUs(), got.IoUs())
	for i := range p.Masks() {
		assert.True(t, p.Masks()[i].Equals(got.Masks()[i]), "mask %d", i)
	}
	_, ok := got.TrackIDs()
	assert.False(t, ok)
}

func TestUnmarshal_Corrupt(t *testing.T) {
	_, err := Unmarshal([]byte("not zstd"))
	assert.Error(t, err)
}

func TestStore(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	s := NewStore(fsys, "/props")

	empty := New(2, 3)
	require.NoError(t, empty.SetMasks([]*roaring.Bitmap{}))
	require.NoError(t, empty.SetTrackIDs([]int{}))

	require.NoError(t, s.Save("bear", 2, sample(t)))
	require.NoError(t, s.Save("bear", 0, empty))
	assert.Equal(t, "/props/bear/00002.props", s.Path("bear", 2))

	frames, err := s.Frames("bear")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, frames)

	got, err := s.Load("bear", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
	_, ok := got.TrackIDs()
	assert.True(t, ok, "empty track_ids survive")

	_, err = s.Load("bear", 1)
	assert.Error(t, err)
}

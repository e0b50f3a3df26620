package clip

import (
	"errors"
	"fmt"
	"image/color"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/banshee-data/clipstitch/internal/config"
	"github.com/banshee-data/clipstitch/internal/fsutil"
	"github.com/banshee-data/clipstitch/internal/monitoring"
	"github.com/banshee-data/clipstitch/internal/testutil"
	"github.com/banshee-data/clipstitch/internal/vos/dataset"
	"github.com/banshee-data/clipstitch/internal/vos/imageio"
	"github.com/banshee-data/clipstitch/internal/vos/sampler"
)

func init() {
	monitoring.SetLogger(nil)
}

// fakeLoader serves frames whose pixels equal frame/10 (+0.01 per channel)
// and fixed annotation layers.
type fakeLoader struct {
	shapes map[int]imageio.Shape // per-frame override
	shape  imageio.Shape
	layers map[int][]*imageio.Mask
}

func (l *fakeLoader) frameShape(frame int) imageio.Shape {
	if s, ok := l.shapes[frame]; ok {
		return s
	}
	return l.shape
}

func (l *fakeLoader) LoadImage(_ *dataset.Sequence, frame int) (*imageio.Image, error) {
	s := l.frameShape(frame)
	im := imageio.NewImage(s.H, s.W)
	for p := 0; p < s.H*s.W; p++ {
		for c := 0; c < 3; c++ {
			im.Pix[p*3+c] = float32(frame)/10 + float32(c)/100
		}
	}
	return im, nil
}

func (l *fakeLoader) LoadAnnotation(_ *dataset.Sequence, frame int) ([]*imageio.Mask, error) {
	if layers, ok := l.layers[frame]; ok {
		return layers, nil
	}
	s := l.frameShape(frame)
	return []*imageio.Mask{{H: s.H, W: s.W, Pix: testutil.Fill(s.H*s.W, 1)}}, nil
}

func sequence(n int, shape imageio.Shape) *dataset.Sequence {
	seq := &dataset.Sequence{Name: "seq", NumFrames: n, Shape: shape, NumObjects: 1}
	for i := 0; i < n; i++ {
		seq.Frames = append(seq.Frames, fmt.Sprintf("%05d.png", i))
		seq.Masks = append(seq.Masks, []string{fmt.Sprintf("%05d.png", i)})
		seq.GTFrames = append(seq.GTFrames, i)
	}
	return seq
}

func window(w int) *sampler.Sampler {
	return &sampler.Sampler{Window: w, MaxGap: w, Rand: rand.New(rand.NewSource(3))}
}

func mask(pix ...uint8) *imageio.Mask {
	return &imageio.Mask{H: 2, W: 2, Pix: pix}
}

func uint8s(t *testing.T, d *tensor.Dense) []uint8 {
	t.Helper()
	data, ok := d.Data().([]uint8)
	require.True(t, ok, "dtype %v", d.Dtype())
	return data
}

func sum(b []uint8) int {
	n := 0
	for _, v := range b {
		n += int(v)
	}
	return n
}

func TestAssemble_ShapesAndPad(t *testing.T) {
	shape := imageio.Shape{H: 2, W: 2}
	asm := NewAssembler(DefaultConfig(), &fakeLoader{shape: shape}, imageio.DefaultResizer{}, window(3))

	s, err := asm.Assemble(sequence(3, shape), 0)
	require.NoError(t, err)

	assert.Equal(t, tensor.Shape{3, 3, 32, 32}, s.Images.Shape())
	assert.Equal(t, tensor.Shape{1, 3, 32, 32}, s.RawMasks.Shape())
	assert.Equal(t, tensor.Shape{1, 3, 32, 32}, s.MasksGuidance.Shape())
	assert.Equal(t, tensor.Shape{1, 3, 32, 32}, s.MasksVoid.Shape())
	assert.Equal(t, imageio.Pad{Top: 15, Bottom: 15, Left: 15, Right: 15}, s.Info.Pad)
	assert.Equal(t, []int{0, 1, 2}, s.Info.SupportIndices)
	assert.Equal(t, "seq", s.Info.Name)
	assert.Zero(t, s.Info.InstanceID)

	// Channel c of frame k sits at [c, k, y, x].
	v, err := s.Images.At(2, 1, 15, 15)
	require.NoError(t, err)
	assert.InDelta(t, 0.12, v.(float32), 1e-6)
	v, err = s.Images.At(0, 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, float32(0), v.(float32), "padding is zero")
}

func TestAssemble_GuidanceHidesLastFrame(t *testing.T) {
	shape := imageio.Shape{H: 2, W: 2}
	cfg := DefaultConfig()
	cfg.PadStride = 1
	asm := NewAssembler(cfg, &fakeLoader{shape: shape}, imageio.DefaultResizer{}, window(3))

	s, err := asm.Assemble(sequence(5, shape), 1)
	require.NoError(t, err)

	raw := uint8s(t, s.RawMasks)
	guide := uint8s(t, s.MasksGuidance)
	plane := 4
	assert.Equal(t, 4, sum(raw[2*plane:]), "raw keeps the last frame")
	assert.Equal(t, 0, sum(guide[2*plane:]), "guidance hides the last frame")
	assert.Equal(t, raw[:2*plane], guide[:2*plane])

	// Separate buffers.
	raw[0] = 9
	assert.Equal(t, uint8(1), guide[0])
}

func TestAssemble_VoidSplit(t *testing.T) {
	shape := imageio.Shape{H: 2, W: 2}
	cfg := DefaultConfig()
	cfg.PadStride = 1
	loader := &fakeLoader{shape: shape, layers: map[int][]*imageio.Mask{
		0: {mask(0, 1, 255, 2)},
	}}
	asm := NewAssembler(cfg, loader, imageio.DefaultResizer{}, window(1))

	seq := sequence(1, shape)
	seq.HasVoid = true
	s, err := asm.Assemble(seq, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 1, 0, 1}, uint8s(t, s.RawMasks))
	assert.Equal(t, []uint8{0, 0, 1, 0}, uint8s(t, s.MasksVoid))

	// Without void labels 255 is plain foreground.
	seq.HasVoid = false
	s, err = asm.Assemble(seq, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 1, 1, 1}, uint8s(t, s.RawMasks))
	assert.Equal(t, []uint8{0, 0, 0, 0}, uint8s(t, s.MasksVoid))
}

func TestAssemble_VoidFollowsResize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PadStride = 1
	cfg.Crop = imageio.Shape{H: 4, W: 4}
	loader := &fakeLoader{shape: imageio.Shape{H: 2, W: 2}, layers: map[int][]*imageio.Mask{
		0: {mask(255, 0, 0, 1)},
	}}
	asm := NewAssembler(cfg, loader, imageio.DefaultResizer{}, window(1))

	seq := sequence(1, imageio.Shape{H: 2, W: 2})
	seq.HasVoid = true
	s, err := asm.Assemble(seq, 0)
	require.NoError(t, err)

	void := uint8s(t, s.MasksVoid)
	raw := uint8s(t, s.RawMasks)
	require.Len(t, void, 16)
	assert.Equal(t, 4, sum(void), "one source pixel covers a 2×2 block")
	assert.Equal(t, 4, sum(raw))
	assert.Equal(t, uint8(1), void[0])
	assert.Equal(t, uint8(1), raw[15])
}

func TestAssemble_MultiLayerUnion(t *testing.T) {
	shape := imageio.Shape{H: 2, W: 2}
	cfg := DefaultConfig()
	cfg.PadStride = 1
	loader := &fakeLoader{shape: shape, layers: map[int][]*imageio.Mask{
		0: {mask(0, 200, 0, 0), mask(0, 0, 129, 100)},
	}}
	asm := NewAssembler(cfg, loader, imageio.DefaultResizer{}, window(1))

	s, err := asm.Assemble(sequence(1, shape), 0)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 1, 1, 0}, uint8s(t, s.RawMasks))
}

func TestAssemble_RandomInstanceSharedAcrossClip(t *testing.T) {
	shape := imageio.Shape{H: 2, W: 2}
	cfg := DefaultConfig()
	cfg.PadStride = 1
	cfg.RandomInstance = true
	layers := map[int][]*imageio.Mask{}
	for f := 0; f < 4; f++ {
		layers[f] = []*imageio.Mask{mask(0, 1, 2, 3)}
	}
	asm := NewAssembler(cfg, &fakeLoader{shape: shape, layers: layers}, imageio.DefaultResizer{}, window(4))

	seq := sequence(4, shape)
	seq.NumObjects = 3
	seq.IDLabels = true
	for trial := 0; trial < 10; trial++ {
		s, err := asm.Assemble(seq, 0)
		require.NoError(t, err)

		id := s.Info.InstanceID
		require.GreaterOrEqual(t, id, 1)
		require.LessOrEqual(t, id, 3)
		raw := uint8s(t, s.RawMasks)
		for k := 0; k < 4; k++ {
			want := make([]uint8, 4)
			want[id] = 1
			assert.Equal(t, want, raw[k*4:(k+1)*4], "frame %d, instance %d", k, id)
		}
	}
}

func TestAssemble_RandomInstanceBinaryLabels(t *testing.T) {
	shape := imageio.Shape{H: 2, W: 2}
	cfg := DefaultConfig()
	cfg.PadStride = 1
	cfg.RandomInstance = true
	layers := map[int][]*imageio.Mask{}
	for f := 0; f < 2; f++ {
		layers[f] = []*imageio.Mask{mask(0, 255, 255, 0)}
	}
	asm := NewAssembler(cfg, &fakeLoader{shape: shape, layers: layers}, imageio.DefaultResizer{}, window(2))

	s, err := asm.Assemble(sequence(2, shape), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Info.InstanceID)
	assert.Equal(t, []uint8{0, 1, 1, 0, 0, 1, 1, 0}, uint8s(t, s.RawMasks))
	assert.Zero(t, sum(uint8s(t, s.MasksVoid)))
}

func TestAssemble_ShapeDrift(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResizeMode = imageio.ResizeNone
	loader := &fakeLoader{
		shape:  imageio.Shape{H: 2, W: 2},
		shapes: map[int]imageio.Shape{1: {H: 3, W: 2}},
	}
	asm := NewAssembler(cfg, loader, imageio.DefaultResizer{}, window(2))

	_, err := asm.Assemble(sequence(2, imageio.Shape{H: 2, W: 2}), 0)
	assert.True(t, errors.Is(err, ErrShapeDrift), "got %v", err)
}

func TestAssemble_WarnsOnBackgroundOnly(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	defer monitoring.SetLogger(nil)

	shape := imageio.Shape{H: 2, W: 2}
	cfg := DefaultConfig()
	cfg.PadStride = 1
	loader := &fakeLoader{shape: shape, layers: map[int][]*imageio.Mask{0: {mask(0, 0, 0, 0)}}}
	asm := NewAssembler(cfg, loader, imageio.DefaultResizer{}, window(1))

	_, err := asm.Assemble(sequence(1, shape), 0)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "[clip] "))
	assert.Contains(t, lines[0], "background only")
}

func TestAssemble_SamplerErrorPropagates(t *testing.T) {
	shape := imageio.Shape{H: 2, W: 2}
	asm := NewAssembler(DefaultConfig(), &fakeLoader{shape: shape}, imageio.DefaultResizer{}, window(2))
	_, err := asm.Assemble(sequence(2, shape), 5)
	assert.True(t, errors.Is(err, sampler.ErrIndexOutOfRange))
}

func TestConfigFromTuning(t *testing.T) {
	cfg, err := ConfigFromTuning(config.MustLoadDefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	bad := "stretch"
	_, err = ConfigFromTuning(&config.TuningConfig{ResizeMode: &bad})
	assert.Error(t, err)
}

func TestDataset_GetFromSegTrackV2(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	for _, seq := range []string{"bird", "frog"} {
		for i := 0; i < 3; i++ {
			name := fmt.Sprintf("%05d", i)
			testutil.WriteFrame(t, fsys, "/st/JPEGImages/"+seq+"/"+name+".png", 30, 20, white)
			testutil.WriteMaskBMP(t, fsys, "/st/GroundTruth/"+seq+"/"+name+".bmp", 30, 20, testutil.Fill(600, 255))
		}
	}
	reg, err := dataset.Open(dataset.NewSegTrackV2(fsys), "/st")
	require.NoError(t, err)

	asm := NewAssembler(DefaultConfig(), reg.Loader(), imageio.DefaultResizer{}, window(2))
	ds := NewDataset(reg, asm)
	require.Equal(t, 6, ds.Len())

	s, err := ds.Get(5)
	require.NoError(t, err)
	assert.Equal(t, "frog", s.Info.Name)
	assert.Equal(t, []int{2, 2}, s.Info.SupportIndices)
	assert.Equal(t, tensor.Shape{3, 2, 32, 32}, s.Images.Shape())
	assert.Equal(t, imageio.Pad{Top: 1, Bottom: 1, Left: 6, Right: 6}, s.Info.Pad)
	assert.Equal(t, 2*600, sum(uint8s(t, s.RawMasks)))
	assert.Equal(t, 600, sum(uint8s(t, s.MasksGuidance)))
	assert.Zero(t, sum(uint8s(t, s.MasksVoid)))

	_, err = ds.Get(6)
	assert.True(t, errors.Is(err, dataset.ErrItemOutOfRange))

	s, err = ds.GetFrame("bird", 1)
	require.NoError(t, err)
	assert.Equal(t, "bird", s.Info.Name)
	assert.Equal(t, []int{1, 2}, s.Info.SupportIndices)

	_, err = ds.GetFrame("owl", 0)
	assert.True(t, errors.Is(err, ErrUnknownSequence))
	_, err = ds.GetFrame("bird", 3)
	assert.True(t, errors.Is(err, sampler.ErrIndexOutOfRange))
}

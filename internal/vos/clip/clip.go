// Package clip assembles the frames and masks of a temporal support window
// into one sample of stacked tensors.
package clip

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"gorgonia.org/tensor"

	"github.com/banshee-data/clipstitch/internal/config"
	"github.com/banshee-data/clipstitch/internal/monitoring"
	"github.com/banshee-data/clipstitch/internal/vos/dataset"
	"github.com/banshee-data/clipstitch/internal/vos/imageio"
	"github.com/banshee-data/clipstitch/internal/vos/sampler"
)

var logf = monitoring.Component("clip")

// ErrShapeDrift is returned when frames of one clip resize to different
// shapes and therefore cannot share one pad.
var ErrShapeDrift = errors.New("frames of a clip resized to different shapes")

// voidSentinel marks void pixels inside a binarised mask while it travels
// through the resizer.
const voidSentinel = 255

// Resizer brings an image/mask pair to a target shape.
type Resizer interface {
	Resize(p imageio.Pair, mode imageio.ResizeMode, target imageio.Shape) (imageio.Pair, error)
}

// Config controls clip assembly.
type Config struct {
	// Crop is the target shape; the zero value keeps each sequence's
	// native shape.
	Crop           imageio.Shape
	ResizeMode     imageio.ResizeMode
	RandomInstance bool
	PadStride      int
	VoidValue      uint8
}

// DefaultConfig returns the assembly settings of the tuning defaults.
func DefaultConfig() Config {
	return Config{ResizeMode: imageio.ResizeFixedSize, PadStride: 32, VoidValue: 255}
}

// ConfigFromTuning builds a Config from the tuning config.
func ConfigFromTuning(cfg *config.TuningConfig) (Config, error) {
	mode, err := imageio.ParseResizeMode(cfg.GetResizeMode())
	if err != nil {
		return Config{}, err
	}
	return Config{
		Crop:           imageio.Shape{H: cfg.GetCropHeight(), W: cfg.GetCropWidth()},
		ResizeMode:     mode,
		RandomInstance: cfg.GetRandomInstance(),
		PadStride:      cfg.GetPadStride(),
		VoidValue:      cfg.GetVoidValue(),
	}, nil
}

// Info describes where a sample came from.
type Info struct {
	Name           string        `json:"name"`
	NumFrames      int           `json:"num_frames"`
	NumObjects     int           `json:"num_objects"`
	Shape          imageio.Shape `json:"shape"`
	GTFrames       []int         `json:"gt_frames"`
	SupportIndices []int         `json:"support_indices"`
	Pad            imageio.Pad   `json:"pad"`
	InstanceID     int           `json:"instance_id,omitempty"`
}

// Sample is one assembled clip. Every tensor owns its backing buffer.
type Sample struct {
	Images        *tensor.Dense // [3,T,H,W] float32 in [0,1]
	RawMasks      *tensor.Dense // [1,T,H,W] uint8, binary
	MasksGuidance *tensor.Dense // RawMasks with the last frame zeroed
	MasksVoid     *tensor.Dense // [1,T,H,W] uint8, 1 on void pixels
	Info          Info
}

// Assembler builds samples for sequences read through a Loader.
// It is safe for concurrent use.
type Assembler struct {
	cfg     Config
	loader  dataset.Loader
	resizer Resizer

	mu      sync.Mutex // guards sampler and its random source
	sampler *sampler.Sampler
}

// NewAssembler returns an Assembler. The sampler's random source also
// picks the instance in random-instance mode.
func NewAssembler(cfg Config, loader dataset.Loader, resizer Resizer, s *sampler.Sampler) *Assembler {
	if cfg.PadStride < 1 {
		cfg.PadStride = 1
	}
	return &Assembler{cfg: cfg, loader: loader, resizer: resizer, sampler: s}
}

// frameData is one support frame after resize and pad.
type frameData struct {
	image *imageio.Image
	mask  *imageio.Mask
	void  *imageio.Mask
}

// Assemble builds the sample whose clip starts at frame of seq.
func (a *Assembler) Assemble(seq *dataset.Sequence, frame int) (*Sample, error) {
	target := seq.Shape
	if a.cfg.Crop.H > 0 && a.cfg.Crop.W > 0 {
		target = a.cfg.Crop
	}

	support, instanceID, err := a.draw(seq, frame)
	if err != nil {
		return nil, err
	}

	info := Info{
		Name:           seq.Name,
		NumFrames:      seq.NumFrames,
		NumObjects:     seq.NumObjects,
		Shape:          seq.Shape,
		GTFrames:       append([]int(nil), seq.GTFrames...),
		SupportIndices: support,
		InstanceID:     instanceID,
	}

	frames := make([]frameData, 0, len(support))
	var resized imageio.Shape
	for k, idx := range support {
		img, m, err := a.readFrame(seq, idx, instanceID, target)
		if err != nil {
			return nil, fmt.Errorf("%s frame %d: %w", seq.Name, idx, err)
		}
		got := imageio.Shape{H: m.H, W: m.W}
		if k == 0 {
			resized = got
			info.Pad = imageio.PadAmount(got.H, got.W, a.cfg.PadStride)
		} else if got != resized {
			return nil, fmt.Errorf("%w: %s frame %d is %dx%d, clip is %dx%d",
				ErrShapeDrift, seq.Name, idx, got.H, got.W, resized.H, resized.W)
		}

		mask, void := splitVoid(m)
		frames = append(frames, frameData{
			image: imageio.PadImage(img, info.Pad),
			mask:  imageio.PadMask(mask, info.Pad),
			void:  imageio.PadMask(void, info.Pad),
		})
	}

	return stack(frames, info), nil
}

// draw picks the support indices and, in random-instance mode, the
// instance id shared by every frame of the clip.
func (a *Assembler) draw(seq *dataset.Sequence, frame int) ([]int, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	support, err := a.sampler.Indices(frame, seq.NumFrames)
	if err != nil {
		return nil, 0, fmt.Errorf("support indices for %s: %w", seq.Name, err)
	}
	instanceID := 0
	if a.cfg.RandomInstance && seq.NumObjects > 0 {
		instanceID = pickInstance(a.sampler.Rand, seq.NumObjects)
	}
	return support, instanceID, nil
}

func pickInstance(r *rand.Rand, numObjects int) int {
	return r.Intn(numObjects) + 1
}

// readFrame loads one frame, reduces its annotation to a binary mask with
// void carried as voidSentinel, and resizes the pair.
func (a *Assembler) readFrame(seq *dataset.Sequence, idx, instanceID int, target imageio.Shape) (*imageio.Image, *imageio.Mask, error) {
	img, err := a.loader.LoadImage(seq, idx)
	if err != nil {
		return nil, nil, err
	}
	layers, err := a.loader.LoadAnnotation(seq, idx)
	if err != nil {
		return nil, nil, err
	}
	m, err := a.reduce(layers, instanceID, seq.HasVoid, seq.IDLabels)
	if err != nil {
		return nil, nil, err
	}
	if annotated(seq, idx) && !hasForeground(m) {
		logf("%s frame %d: annotation is background only", seq.Name, idx)
	}

	out, err := a.resizer.Resize(imageio.Pair{Image: img, Mask: m}, a.cfg.ResizeMode, target)
	if err != nil {
		return nil, nil, fmt.Errorf("resize: %w", err)
	}
	if out.Image.H != out.Mask.H || out.Image.W != out.Mask.W {
		return nil, nil, fmt.Errorf("resizer returned image %dx%d and mask %dx%d",
			out.Image.H, out.Image.W, out.Mask.H, out.Mask.W)
	}
	return out.Image, out.Mask, nil
}

// reduce collapses annotation layers into a 0/1 mask with void pixels set
// to voidSentinel. Per-instance layers are binarised at 128 and OR'd. A
// single label layer is binarised, or reduced to instanceID when one is
// set; void labels are split off first when hasVoid is set. Without
// idLabels the layer is binarised before the instance comparison.
func (a *Assembler) reduce(layers []*imageio.Mask, instanceID int, hasVoid, idLabels bool) (*imageio.Mask, error) {
	if len(layers) == 0 {
		return nil, errors.New("no annotation layers")
	}
	first := layers[0]
	out := imageio.NewMask(first.H, first.W)

	if len(layers) > 1 {
		for _, l := range layers {
			if l.H != first.H || l.W != first.W {
				return nil, fmt.Errorf("annotation layers differ in shape: %dx%d vs %dx%d", l.H, l.W, first.H, first.W)
			}
			for i, v := range l.Pix {
				if v > 128 {
					out.Pix[i] = 1
				}
			}
		}
		return out, nil
	}

	for i, v := range first.Pix {
		switch {
		case hasVoid && v == a.cfg.VoidValue:
			out.Pix[i] = voidSentinel
		case instanceID > 0:
			label := int(v)
			if !idLabels && v > 0 {
				label = 1
			}
			if label == instanceID {
				out.Pix[i] = 1
			}
		case v > 0:
			out.Pix[i] = 1
		}
	}
	return out, nil
}

// splitVoid separates the sentinel-carrying mask into a binary mask and a
// void mask.
func splitVoid(m *imageio.Mask) (mask, void *imageio.Mask) {
	mask = imageio.NewMask(m.H, m.W)
	void = imageio.NewMask(m.H, m.W)
	for i, v := range m.Pix {
		switch v {
		case voidSentinel:
			void.Pix[i] = 1
		case 0:
		default:
			mask.Pix[i] = 1
		}
	}
	return mask, void
}

func annotated(seq *dataset.Sequence, idx int) bool {
	return idx < len(seq.Masks) && len(seq.Masks[idx]) > 0
}

func hasForeground(m *imageio.Mask) bool {
	for _, v := range m.Pix {
		if v != 0 && v != voidSentinel {
			return true
		}
	}
	return false
}

// stack lays the padded frames out as [C,T,H,W] and [1,T,H,W] tensors.
func stack(frames []frameData, info Info) *Sample {
	t := len(frames)
	h, w := frames[0].mask.H, frames[0].mask.W
	plane := h * w

	images := make([]float32, 3*t*plane)
	raw := make([]uint8, t*plane)
	void := make([]uint8, t*plane)
	for k, f := range frames {
		for p := 0; p < plane; p++ {
			for c := 0; c < 3; c++ {
				images[c*t*plane+k*plane+p] = f.image.Pix[p*3+c]
			}
		}
		copy(raw[k*plane:(k+1)*plane], f.mask.Pix)
		copy(void[k*plane:(k+1)*plane], f.void.Pix)
	}

	guidance := make([]uint8, len(raw))
	copy(guidance, raw[:(t-1)*plane])

	return &Sample{
		Images:        tensor.New(tensor.WithShape(3, t, h, w), tensor.WithBacking(images)),
		RawMasks:      tensor.New(tensor.WithShape(1, t, h, w), tensor.WithBacking(raw)),
		MasksGuidance: tensor.New(tensor.WithShape(1, t, h, w), tensor.WithBacking(guidance)),
		MasksVoid:     tensor.New(tensor.WithShape(1, t, h, w), tensor.WithBacking(void)),
		Info:          info,
	}
}

// Package imageio decodes frames and masks, resizes image/mask pairs and
// pads them to a stride.
//
// Frames are held as H×W×3 float32 in [0,1]; masks as H×W uint8, with the
// void sentinel carried inside the mask.
package imageio

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register JPEG frames
	"image/png"
	"io"

	_ "golang.org/x/image/bmp" // register SegTrackV2 BMP frames and masks

	"github.com/banshee-data/clipstitch/internal/config"
	"github.com/banshee-data/clipstitch/internal/monitoring"
)

var logf = monitoring.Component("imageio")

// Shape is a frame size in pixels.
type Shape struct {
	H int `json:"h"`
	W int `json:"w"`
}

// Image is an RGB frame stored row-major, channels last.
type Image struct {
	H, W int
	Pix  []float32
}

// NewImage returns a zeroed H×W×3 image.
func NewImage(h, w int) *Image {
	return &Image{H: h, W: w, Pix: make([]float32, h*w*3)}
}

// At returns channel c of pixel (y, x).
func (im *Image) At(y, x, c int) float32 { return im.Pix[(y*im.W+x)*3+c] }

// Mask is a single-channel label frame stored row-major.
type Mask struct {
	H, W int
	Pix  []uint8
}

// NewMask returns a zeroed H×W mask.
func NewMask(h, w int) *Mask {
	return &Mask{H: h, W: w, Pix: make([]uint8, h*w)}
}

// At returns the value at (y, x).
func (m *Mask) At(y, x int) uint8 { return m.Pix[y*m.W+x] }

// Clone returns a deep copy.
func (m *Mask) Clone() *Mask {
	out := &Mask{H: m.H, W: m.W, Pix: make([]uint8, len(m.Pix))}
	copy(out.Pix, m.Pix)
	return out
}

// Pair is a frame and its mask on the same geometry.
type Pair struct {
	Image *Image
	Mask  *Mask
}

// ResizeMode selects how a pair is brought to the target shape.
type ResizeMode int

const (
	ResizeFixedSize ResizeMode = iota // stretch to exactly the target
	ResizeShortEdge                   // scale the short edge to target.H, keep aspect
	ResizeNone                        // keep the native shape
)

func (m ResizeMode) String() string {
	switch m {
	case ResizeFixedSize:
		return config.ResizeModeFixedSize
	case ResizeShortEdge:
		return config.ResizeModeShortEdge
	case ResizeNone:
		return config.ResizeModeUnchanged
	default:
		return "unknown"
	}
}

// ParseResizeMode maps a resize_mode config value onto a ResizeMode.
func ParseResizeMode(s string) (ResizeMode, error) {
	switch s {
	case config.ResizeModeFixedSize, "":
		return ResizeFixedSize, nil
	case config.ResizeModeShortEdge:
		return ResizeShortEdge, nil
	case config.ResizeModeUnchanged:
		return ResizeNone, nil
	}
	return 0, fmt.Errorf("unknown resize mode %q", s)
}

// DecodeImage decodes a PNG, JPEG or BMP frame into RGB floats in [0,1].
func DecodeImage(r io.Reader) (*Image, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := src.Bounds()
	out := NewImage(b.Dy(), b.Dx())
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := src.At(x, y).RGBA()
			out.Pix[i] = float32(r) / 0xffff
			out.Pix[i+1] = float32(g) / 0xffff
			out.Pix[i+2] = float32(bl) / 0xffff
			i += 3
		}
	}
	return out, nil
}

// DecodeMask decodes a mask file. Paletted images yield their palette
// indices, so DAVIS-style instance ids survive; anything else is reduced
// to 8-bit luminance.
func DecodeMask(r io.Reader) (*Mask, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode mask: %w", err)
	}
	b := src.Bounds()
	out := NewMask(b.Dy(), b.Dx())
	switch m := src.(type) {
	case *image.Paletted:
		for y := 0; y < out.H; y++ {
			off := m.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Pix[y*out.W:(y+1)*out.W], m.Pix[off:off+out.W])
		}
	case *image.Gray:
		for y := 0; y < out.H; y++ {
			off := m.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Pix[y*out.W:(y+1)*out.W], m.Pix[off:off+out.W])
		}
	default:
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				out.Pix[i] = color.GrayModel.Convert(src.At(x, y)).(color.Gray).Y
				i++
			}
		}
	}
	return out, nil
}

// DecodeShape reads only the header of an image file.
func DecodeShape(r io.Reader) (Shape, error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return Shape{}, fmt.Errorf("decode image header: %w", err)
	}
	return Shape{H: cfg.Height, W: cfg.Width}, nil
}

// EncodeLabels writes one frame of track ids as an 8-bit grayscale PNG.
// Ids above 255 cannot be represented and are written as background.
func EncodeLabels(w io.Writer, h, wd int, labels []int32) error {
	if len(labels) != h*wd {
		return fmt.Errorf("label frame has %d pixels, want %d×%d", len(labels), h, wd)
	}
	img := image.NewGray(image.Rect(0, 0, wd, h))
	clipped := 0
	for i, id := range labels {
		switch {
		case id > 255:
			clipped++
		case id > 0:
			img.Pix[i] = uint8(id)
		}
	}
	if clipped > 0 {
		logf("%d pixels carry track ids above 255; written as background", clipped)
	}
	return png.Encode(w, img)
}

// MaskToLabels widens a decoded label frame to track ids.
func MaskToLabels(m *Mask) []int32 {
	out := make([]int32, len(m.Pix))
	for i, v := range m.Pix {
		out[i] = int32(v)
	}
	return out
}

package imageio

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// DefaultResizer resamples frames bilinearly and point-samples masks, so
// label values (void included) are never blended.
type DefaultResizer struct{}

// Resize brings p to the shape selected by mode and target.
// The input pair is never modified.
func (DefaultResizer) Resize(p Pair, mode ResizeMode, target Shape) (Pair, error) {
	if p.Image == nil || p.Mask == nil {
		return Pair{}, fmt.Errorf("resize: pair needs both image and mask")
	}
	if p.Image.H != p.Mask.H || p.Image.W != p.Mask.W {
		return Pair{}, fmt.Errorf("resize: image %dx%d and mask %dx%d differ",
			p.Image.H, p.Image.W, p.Mask.H, p.Mask.W)
	}

	out, err := OutputShape(Shape{H: p.Image.H, W: p.Image.W}, mode, target)
	if err != nil {
		return Pair{}, err
	}
	if out.H == p.Image.H && out.W == p.Image.W {
		return p, nil
	}
	return Pair{
		Image: resizeImage(p.Image, out),
		Mask:  resizeMask(p.Mask, out),
	}, nil
}

// OutputShape computes the shape a frame of shape in takes under mode.
func OutputShape(in Shape, mode ResizeMode, target Shape) (Shape, error) {
	switch mode {
	case ResizeNone:
		return in, nil
	case ResizeFixedSize:
		if target.H < 1 || target.W < 1 {
			return Shape{}, fmt.Errorf("resize: invalid target %dx%d", target.H, target.W)
		}
		return target, nil
	case ResizeShortEdge:
		if target.H < 1 {
			return Shape{}, fmt.Errorf("resize: invalid short edge %d", target.H)
		}
		if in.H <= in.W {
			w := int(math.Round(float64(in.W) * float64(target.H) / float64(in.H)))
			return Shape{H: target.H, W: w}, nil
		}
		h := int(math.Round(float64(in.H) * float64(target.H) / float64(in.W)))
		return Shape{H: h, W: target.H}, nil
	}
	return Shape{}, fmt.Errorf("resize: unknown mode %d", mode)
}

func resizeImage(im *Image, out Shape) *Image {
	src := image.NewRGBA64(image.Rect(0, 0, im.W, im.H))
	for y := 0; y < im.H; y++ {
		for x := 0; x < im.W; x++ {
			src.SetRGBA64(x, y, color.RGBA64{
				R: toU16(im.At(y, x, 0)),
				G: toU16(im.At(y, x, 1)),
				B: toU16(im.At(y, x, 2)),
				A: 0xffff,
			})
		}
	}
	dst := resize.Resize(uint(out.W), uint(out.H), src, resize.Bilinear)

	res := NewImage(out.H, out.W)
	b := dst.Bounds()
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := dst.At(x, y).RGBA()
			res.Pix[i] = float32(r) / 0xffff
			res.Pix[i+1] = float32(g) / 0xffff
			res.Pix[i+2] = float32(bl) / 0xffff
			i += 3
		}
	}
	return res
}

func resizeMask(m *Mask, out Shape) *Mask {
	src := &image.Gray{Pix: m.Pix, Stride: m.W, Rect: image.Rect(0, 0, m.W, m.H)}
	dst := image.NewGray(image.Rect(0, 0, out.W, out.H))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	res := NewMask(out.H, out.W)
	for y := 0; y < out.H; y++ {
		copy(res.Pix[y*out.W:(y+1)*out.W], dst.Pix[y*dst.Stride:y*dst.Stride+out.W])
	}
	return res
}

func toU16(v float32) uint16 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 0xffff
	}
	return uint16(v*0xffff + 0.5)
}

// Package flow reads dense optical flow fields and warps binary masks
// along them.
package flow

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

// floMagic opens every Middlebury .flo file.
const floMagic float32 = 202021.25

// ErrBadMagic is returned for files that are not .flo files.
var ErrBadMagic = errors.New("not a .flo file")

// Field is a W×H flow field with interleaved (u, v) displacements.
type Field struct {
	W, H int
	UV   []float32
}

// At returns the displacement at (x, y).
func (f *Field) At(x, y int) (u, v float32) {
	i := (y*f.W + x) * 2
	return f.UV[i], f.UV[i+1]
}

// ReadFlo decodes a Middlebury .flo stream.
func ReadFlo(r io.Reader) (*Field, error) {
	br := bufio.NewReader(r)
	var hdr struct {
		Magic float32
		W, H  int32
	}
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read flo header: %w", err)
	}
	if hdr.Magic != floMagic {
		return nil, fmt.Errorf("%w: magic %v", ErrBadMagic, hdr.Magic)
	}
	if hdr.W <= 0 || hdr.H <= 0 || int64(hdr.W)*int64(hdr.H) > 1<<28 {
		return nil, fmt.Errorf("flo: implausible size %dx%d", hdr.W, hdr.H)
	}

	f := &Field{W: int(hdr.W), H: int(hdr.H), UV: make([]float32, int(hdr.W)*int(hdr.H)*2)}
	if err := binary.Read(br, binary.LittleEndian, f.UV); err != nil {
		return nil, fmt.Errorf("read flo data: %w", err)
	}
	return f, nil
}

// WriteFlo encodes f as a Middlebury .flo stream.
func WriteFlo(w io.Writer, f *Field) error {
	hdr := struct {
		Magic float32
		W, H  int32
	}{floMagic, int32(f.W), int32(f.H)}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, f.UV)
}

// Warper moves a binary mask on a w×h grid along a flow field.
type Warper interface {
	Warp(m *roaring.Bitmap, w, h int, f *Field) (*roaring.Bitmap, error)
}

// NearestWarper backward-warps: output pixel p is set when the input pixel
// nearest to p + flow(p) is set. Samples falling outside the frame are
// background.
type NearestWarper struct{}

func (NearestWarper) Warp(m *roaring.Bitmap, w, h int, f *Field) (*roaring.Bitmap, error) {
	if f.W != w || f.H != h {
		return nil, fmt.Errorf("flow is %dx%d, mask grid is %dx%d", f.W, f.H, w, h)
	}
	out := roaring.New()
	if m.IsEmpty() {
		return out, nil
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			u, v := f.At(x, y)
			sx := int(math.Round(float64(x) + float64(u)))
			sy := int(math.Round(float64(y) + float64(v)))
			if sx < 0 || sy < 0 || sx >= w || sy >= h {
				continue
			}
			if m.Contains(uint32(sy*w + sx)) {
				out.Add(uint32(y*w + x))
			}
		}
	}
	return out, nil
}

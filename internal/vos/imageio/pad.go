package imageio

// Pad is the number of zero rows/columns added on each side.
type Pad struct {
	Top    int `json:"top"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
	Right  int `json:"right"`
}

// PadAmount returns the padding that grows h×w to the next multiple of
// stride on each axis, split floor before and ceil after.
func PadAmount(h, w, stride int) Pad {
	if stride < 1 {
		return Pad{}
	}
	dh := (stride - h%stride) % stride
	dw := (stride - w%stride) % stride
	return Pad{Top: dh / 2, Bottom: dh - dh/2, Left: dw / 2, Right: dw - dw/2}
}

// Padded returns the shape after applying p to s.
func (p Pad) Padded(s Shape) Shape {
	return Shape{H: s.H + p.Top + p.Bottom, W: s.W + p.Left + p.Right}
}

// PadImage returns a zero-padded copy of im.
func PadImage(im *Image, p Pad) *Image {
	out := NewImage(im.H+p.Top+p.Bottom, im.W+p.Left+p.Right)
	for y := 0; y < im.H; y++ {
		src := im.Pix[y*im.W*3 : (y+1)*im.W*3]
		dst := ((y+p.Top)*out.W + p.Left) * 3
		copy(out.Pix[dst:dst+len(src)], src)
	}
	return out
}

// PadMask returns a zero-padded copy of m.
func PadMask(m *Mask, p Pad) *Mask {
	out := NewMask(m.H+p.Top+p.Bottom, m.W+p.Left+p.Right)
	for y := 0; y < m.H; y++ {
		src := m.Pix[y*m.W : (y+1)*m.W]
		dst := (y+p.Top)*out.W + p.Left
		copy(out.Pix[dst:dst+len(src)], src)
	}
	return out
}

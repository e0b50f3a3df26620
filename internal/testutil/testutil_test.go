package testutil

import (
	"errors"
	"image/color"
	"testing"

	"github.com/banshee-data/clipstitch/internal/fsutil"
	"github.com/banshee-data/clipstitch/internal/vos/imageio"
)

func TestAssertNoError_NilErr(t *testing.T) {
	AssertNoError(t, nil)
}

func TestAssertError_WithErr(t *testing.T) {
	AssertError(t, errors.New("something wrong"))
}

func TestWriteFrame_Decodes(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	WriteFrame(t, fsys, "/d/a.png", 2, 3, color.RGBA{R: 255, A: 255})

	f, err := fsys.Open("/d/a.png")
	AssertNoError(t, err)
	im, err := imageio.DecodeImage(f)
	AssertNoError(t, err)
	if im.H != 2 || im.W != 3 {
		t.Fatalf("shape = %dx%d, want 2x3", im.H, im.W)
	}
	if im.At(1, 2, 0) != 1 || im.At(1, 2, 1) != 0 {
		t.Errorf("pixel = %v,%v, want 1,0", im.At(1, 2, 0), im.At(1, 2, 1))
	}
}

func TestWriteMasks_Decode(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	pix := []uint8{0, 1, 2, 255}
	WriteMask(t, fsys, "/m/gray.png", 2, 2, pix)
	WriteMaskBMP(t, fsys, "/m/gray.bmp", 2, 2, pix)
	WritePaletteMask(t, fsys, "/m/pal.png", 2, 2, pix)

	for _, path := range []string{"/m/gray.png", "/m/gray.bmp", "/m/pal.png"} {
		f, err := fsys.Open(path)
		AssertNoError(t, err)
		m, err := imageio.DecodeMask(f)
		AssertNoError(t, err)
		for i, v := range pix {
			if m.Pix[i] != v {
				t.Errorf("%s: pix[%d] = %d, want %d", path, i, m.Pix[i], v)
			}
		}
	}
}

func TestFill(t *testing.T) {
	got := Fill(3, 7)
	if len(got) != 3 || got[0] != 7 || got[2] != 7 {
		t.Errorf("Fill(3, 7) = %v", got)
	}
}

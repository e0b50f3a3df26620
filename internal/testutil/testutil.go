// Package testutil provides shared test fixtures.
//
// The helpers write small image files into a FileSystem so dataset and
// clip tests can build whole dataset trees in memory.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"golang.org/x/image/bmp"

	"github.com/banshee-data/clipstitch/internal/fsutil"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// WriteFrame writes an h×w PNG frame filled with c.
func WriteFrame(t testing.TB, fsys fsutil.FileSystem, path string, h, w int, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	writePNG(t, fsys, path, img)
}

// WriteMask writes pix as an 8-bit grayscale PNG.
func WriteMask(t testing.TB, fsys fsutil.FileSystem, path string, h, w int, pix []uint8) {
	t.Helper()
	writePNG(t, fsys, path, grayImage(t, h, w, pix))
}

// WriteMaskBMP writes pix as an 8-bit BMP.
func WriteMaskBMP(t testing.TB, fsys fsutil.FileSystem, path string, h, w int, pix []uint8) {
	t.Helper()
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, grayImage(t, h, w, pix)); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	AssertNoError(t, fsys.WriteFile(path, buf.Bytes(), 0o644))
}

// WritePaletteMask writes pix as a paletted PNG whose indices are the
// instance ids, the way DAVIS annotations are stored.
func WritePaletteMask(t testing.TB, fsys fsutil.FileSystem, path string, h, w int, pix []uint8) {
	t.Helper()
	if len(pix) != h*w {
		t.Fatalf("mask %s: %d pixels for %dx%d", path, len(pix), h, w)
	}
	pal := make(color.Palette, 256)
	for i := range pal {
		pal[i] = color.RGBA{R: uint8(i * 37), G: uint8(i * 91), B: uint8(i * 13), A: 255}
	}
	img := image.NewPaletted(image.Rect(0, 0, w, h), pal)
	copy(img.Pix, pix)
	writePNG(t, fsys, path, img)
}

func grayImage(t testing.TB, h, w int, pix []uint8) *image.Gray {
	t.Helper()
	if len(pix) != h*w {
		t.Fatalf("mask: %d pixels for %dx%d", len(pix), h, w)
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	copy(img.Pix, pix)
	return img
}

func writePNG(t testing.TB, fsys fsutil.FileSystem, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	AssertNoError(t, fsys.WriteFile(path, buf.Bytes(), 0o644))
}

// Fill returns n copies of v.
func Fill(n int, v uint8) []uint8 {
	out := make([]uint8, n)
	for i := range out {
		out[i] = v
	}
	return out
}

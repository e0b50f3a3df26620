// Package dataset scans video segmentation datasets into a read-only
// sequence registry and loads their frames and annotations.
//
// Each dataset layout is a Variant: it knows how to scan a root directory
// and how to read one frame or annotation. The clip assembler only sees
// the Loader half.
package dataset

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/clipstitch/internal/fsutil"
	"github.com/banshee-data/clipstitch/internal/monitoring"
	"github.com/banshee-data/clipstitch/internal/vos/imageio"
)

var logf = monitoring.Component("dataset")

var (
	// ErrLayoutMixed is returned when a ground-truth directory holds both
	// instance sub-directories and mask files.
	ErrLayoutMixed = errors.New("ground truth mixes instance directories and mask files")
	// ErrFrameMaskMismatch is returned when frame and mask counts differ.
	ErrFrameMaskMismatch = errors.New("frame and mask counts differ")
	// ErrBasenameMismatch is returned when a mask file does not belong to
	// the frame it is paired with.
	ErrBasenameMismatch = errors.New("mask and frame basenames differ")
	// ErrFrameOutOfRange is returned for frame indices outside a sequence.
	ErrFrameOutOfRange = errors.New("frame index out of range")
)

// Sequence is one video of a dataset.
type Sequence struct {
	Name   string
	Frames []string // frame image paths, sorted
	// Masks holds the annotation layers of each frame: one path for a
	// single label file, one per instance for per-instance layouts.
	// A nil entry marks a frame without annotation.
	Masks      [][]string
	NumFrames  int
	Shape      imageio.Shape // native frame shape
	NumObjects int
	GTFrames   []int // frames that carry annotation
	// HasVoid is set when single-layer annotations use a void label.
	// SegTrackV2 stores foreground as 255, so it never has void.
	HasVoid bool
	// IDLabels is set when single-layer annotation values are instance
	// ids. Otherwise any nonzero value is foreground of object 1.
	IDLabels bool
}

// Loader reads the pixels of a sequence frame.
type Loader interface {
	LoadImage(seq *Sequence, frame int) (*imageio.Image, error)
	// LoadAnnotation returns every annotation layer of the frame.
	LoadAnnotation(seq *Sequence, frame int) ([]*imageio.Mask, error)
}

// Variant is a dataset layout.
type Variant interface {
	Loader
	Name() string
	Scan(root string) ([]*Sequence, error)
}

// fileLoader implements Loader on top of a FileSystem.
type fileLoader struct {
	fs fsutil.FileSystem
}

func (l fileLoader) LoadImage(seq *Sequence, frame int) (*imageio.Image, error) {
	if err := checkFrame(seq, frame); err != nil {
		return nil, err
	}
	f, err := l.fs.Open(seq.Frames[frame])
	if err != nil {
		return nil, fmt.Errorf("open frame %d of %s: %w", frame, seq.Name, err)
	}
	defer f.Close()
	im, err := imageio.DecodeImage(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", seq.Frames[frame], err)
	}
	return im, nil
}

func (l fileLoader) LoadAnnotation(seq *Sequence, frame int) ([]*imageio.Mask, error) {
	if err := checkFrame(seq, frame); err != nil {
		return nil, err
	}
	paths := seq.Masks[frame]
	if len(paths) == 0 {
		return []*imageio.Mask{imageio.NewMask(seq.Shape.H, seq.Shape.W)}, nil
	}
	if stem(paths[0]) != stem(seq.Frames[frame]) {
		return nil, fmt.Errorf("%w: %s vs %s", ErrBasenameMismatch, paths[0], seq.Frames[frame])
	}

	layers := make([]*imageio.Mask, 0, len(paths))
	for _, p := range paths {
		m, err := l.loadMask(p)
		if err != nil {
			return nil, err
		}
		layers = append(layers, m)
	}
	return layers, nil
}

func (l fileLoader) loadMask(path string) (*imageio.Mask, error) {
	f, err := l.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mask: %w", err)
	}
	defer f.Close()
	m, err := imageio.DecodeMask(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func (l fileLoader) shape(path string) (imageio.Shape, error) {
	f, err := l.fs.Open(path)
	if err != nil {
		return imageio.Shape{}, fmt.Errorf("open frame: %w", err)
	}
	defer f.Close()
	return imageio.DecodeShape(f)
}

// listFiles returns the sorted files under dir whose extension is in exts.
func listFiles(fsys fsutil.FileSystem, dir string, exts ...string) ([]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !hasExt(e.Name(), exts) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}

// listDirs returns the sorted sub-directories of dir.
func listDirs(fsys fsutil.FileSystem, dir string) ([]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func hasExt(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func checkFrame(seq *Sequence, frame int) error {
	if frame < 0 || frame >= seq.NumFrames {
		return fmt.Errorf("%w: %s has %d frames, got %d", ErrFrameOutOfRange, seq.Name, seq.NumFrames, frame)
	}
	return nil
}

package dataset

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/clipstitch/internal/fsutil"
)

// SegTrackV2 reads the SegTrack v2 layout:
//
//	<root>/JPEGImages/<seq>/*.{png,bmp}
//	<root>/GroundTruth/<seq>/*.{png,bmp}            single object
//	<root>/GroundTruth/<seq>/<instance>/*.{png,bmp} one directory per object
//
// Every sequence is treated as one foreground object.
type SegTrackV2 struct {
	fileLoader
}

// NewSegTrackV2 returns a SegTrackV2 variant reading from fsys.
func NewSegTrackV2(fsys fsutil.FileSystem) *SegTrackV2 {
	return &SegTrackV2{fileLoader{fs: fsys}}
}

func (*SegTrackV2) Name() string { return "segtrackv2" }

var segTrackExts = []string{".png", ".bmp"}

// Scan lists every sequence under root.
func (s *SegTrackV2) Scan(root string) ([]*Sequence, error) {
	imageDir := filepath.Join(root, "JPEGImages")
	maskDir := filepath.Join(root, "GroundTruth")
	if !s.fs.Exists(imageDir) {
		return nil, fmt.Errorf("images directory not found at expected path: %s", imageDir)
	}
	if !s.fs.Exists(maskDir) {
		return nil, fmt.Errorf("ground truth directory not found at expected path: %s", maskDir)
	}

	names, err := listDirs(s.fs, imageDir)
	if err != nil {
		return nil, fmt.Errorf("list sequences: %w", err)
	}

	var seqs []*Sequence
	for _, name := range names {
		logf("Reading sequence %s", name)
		seq, err := s.scanSequence(filepath.Join(imageDir, name), filepath.Join(maskDir, name), name)
		if err != nil {
			return nil, fmt.Errorf("sequence %s: %w", name, err)
		}
		seqs = append(seqs, seq)
	}
	return seqs, nil
}

func (s *SegTrackV2) scanSequence(imageDir, maskDir, name string) (*Sequence, error) {
	frames, err := listFiles(s.fs, imageDir, segTrackExts...)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames in %s", imageDir)
	}

	masks, err := s.scanGroundTruth(maskDir, len(frames))
	if err != nil {
		return nil, err
	}

	shape, err := s.shape(frames[0])
	if err != nil {
		return nil, err
	}

	gt := make([]int, len(frames))
	for i := range gt {
		gt[i] = i
	}
	return &Sequence{
		Name:       name,
		Frames:     frames,
		Masks:      masks,
		NumFrames:  len(frames),
		Shape:      shape,
		NumObjects: 1,
		GTFrames:   gt,
	}, nil
}

// scanGroundTruth decides between the per-instance and the flat layout.
func (s *SegTrackV2) scanGroundTruth(dir string, numFrames int) ([][]string, error) {
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list ground truth: %w", err)
	}

	var dirs, files int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.IsDir() {
			dirs++
		} else {
			files++
		}
	}
	if dirs > 0 && files > 0 {
		return nil, fmt.Errorf("%w: %s", ErrLayoutMixed, dir)
	}

	masks := make([][]string, numFrames)
	if dirs > 0 {
		instances, err := listDirs(s.fs, dir)
		if err != nil {
			return nil, err
		}
		for _, inst := range instances {
			layer, err := listFiles(s.fs, filepath.Join(dir, inst), segTrackExts...)
			if err != nil {
				return nil, err
			}
			if len(layer) != numFrames {
				return nil, fmt.Errorf("%w: instance %s has %d masks for %d frames",
					ErrFrameMaskMismatch, inst, len(layer), numFrames)
			}
			for f, p := range layer {
				masks[f] = append(masks[f], p)
			}
		}
		return masks, nil
	}

	flat, err := listFiles(s.fs, dir, segTrackExts...)
	if err != nil {
		return nil, err
	}
	if len(flat) != numFrames {
		return nil, fmt.Errorf("%w: %d masks for %d frames", ErrFrameMaskMismatch, len(flat), numFrames)
	}
	for f, p := range flat {
		masks[f] = []string{p}
	}
	return masks, nil
}

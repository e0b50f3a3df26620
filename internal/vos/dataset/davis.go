package dataset

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/banshee-data/clipstitch/internal/fsutil"
	"github.com/banshee-data/clipstitch/internal/security"
)

// DAVIS reads the DAVIS 2017 layout:
//
//	<root>/JPEGImages/<resolution>/<seq>/*.jpg
//	<root>/Annotations/<resolution>/<seq>/*.png   palette instance ids
//	<root>/ImageSets/2017/<split>.txt             optional sequence list
//
// Frames without an annotation file load as all-background.
type DAVIS struct {
	fileLoader
	Resolution string // defaults to 480p
	Split      string // e.g. "val"; empty lists every sequence directory
}

// NewDAVIS returns a DAVIS variant reading from fsys.
func NewDAVIS(fsys fsutil.FileSystem, split string) *DAVIS {
	return &DAVIS{fileLoader: fileLoader{fs: fsys}, Resolution: "480p", Split: split}
}

func (*DAVIS) Name() string { return "davis" }

// Scan lists the sequences of the configured split under root.
func (d *DAVIS) Scan(root string) ([]*Sequence, error) {
	res := d.Resolution
	if res == "" {
		res = "480p"
	}
	imageDir := filepath.Join(root, "JPEGImages", res)
	annDir := filepath.Join(root, "Annotations", res)
	if !d.fs.Exists(imageDir) {
		return nil, fmt.Errorf("images directory not found at expected path: %s", imageDir)
	}

	names, err := d.sequenceNames(root, imageDir)
	if err != nil {
		return nil, err
	}

	var seqs []*Sequence
	for _, name := range names {
		logf("Reading sequence %s", name)
		seq, err := d.scanSequence(filepath.Join(imageDir, name), filepath.Join(annDir, name), name)
		if err != nil {
			return nil, fmt.Errorf("sequence %s: %w", name, err)
		}
		seqs = append(seqs, seq)
	}
	return seqs, nil
}

func (d *DAVIS) sequenceNames(root, imageDir string) ([]string, error) {
	if d.Split == "" {
		names, err := listDirs(d.fs, imageDir)
		if err != nil {
			return nil, fmt.Errorf("list sequences: %w", err)
		}
		return names, nil
	}

	path := filepath.Join(root, "ImageSets", "2017", d.Split+".txt")
	data, err := d.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image set: %w", err)
	}
	return ReadSequenceList(bytes.NewReader(data))
}

func (d *DAVIS) scanSequence(imageDir, annDir, name string) (*Sequence, error) {
	frames, err := listFiles(d.fs, imageDir, ".jpg", ".jpeg", ".png")
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames in %s", imageDir)
	}
	anns, err := listFiles(d.fs, annDir, ".png")
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}

	byStem := make(map[string]string, len(anns))
	for _, a := range anns {
		byStem[stem(a)] = a
	}
	masks := make([][]string, len(frames))
	var gt []int
	for i, f := range frames {
		if a, ok := byStem[stem(f)]; ok {
			masks[i] = []string{a}
			gt = append(gt, i)
			delete(byStem, stem(f))
		}
	}
	if len(byStem) > 0 {
		return nil, fmt.Errorf("%w: %d annotations without a frame", ErrFrameMaskMismatch, len(byStem))
	}
	if len(gt) == 0 {
		return nil, fmt.Errorf("%w: no annotations in %s", ErrFrameMaskMismatch, annDir)
	}

	shape, err := d.shape(frames[0])
	if err != nil {
		return nil, err
	}
	first, err := d.loadMask(masks[gt[0]][0])
	if err != nil {
		return nil, err
	}
	numObjects := 0
	for _, v := range first.Pix {
		if v != 255 && int(v) > numObjects {
			numObjects = int(v)
		}
	}

	return &Sequence{
		Name:       name,
		Frames:     frames,
		Masks:      masks,
		NumFrames:  len(frames),
		Shape:      shape,
		NumObjects: numObjects,
		GTFrames:   gt,
		HasVoid:    true,
		IDLabels:   true,
	}, nil
}

// ReadSequenceList parses one sequence name per line, skipping blanks.
// Names that are not a single path element are rejected.
func ReadSequenceList(r io.Reader) ([]string, error) {
	var names []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := security.ValidateSequenceName(line); err != nil {
			return nil, err
		}
		names = append(names, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read sequence list: %w", err)
	}
	return names, nil
}

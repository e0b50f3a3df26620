package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/banshee-data/clipstitch/internal/fsutil"
	"github.com/banshee-data/clipstitch/internal/monitoring"
	"github.com/banshee-data/clipstitch/internal/security"
	"github.com/banshee-data/clipstitch/internal/vos/assign"
	"github.com/banshee-data/clipstitch/internal/vos/imageio"
	"github.com/banshee-data/clipstitch/internal/vos/mask"
	"github.com/banshee-data/clipstitch/internal/vos/stitch"
	"github.com/banshee-data/clipstitch/internal/vos/storage/sqlite"
)

var labelExts = []string{".png", ".bmp"}

// job stitches the clips of one sequence at a time.
type job struct {
	FS      fsutil.FileSystem
	InDir   string
	OutDir  string
	Config  stitch.Config
	Ledger  *sqlite.LedgerStore // optional
	Params  json.RawMessage
	Verbose bool
}

type runStats struct {
	RunID     string
	Clips     int
	Frames    int
	HighWater int32
}

// Run stitches every clip of seq in order and writes the joined frames.
// Clips after the first drop their leading overlap frames, which the
// previous clip already wrote.
func (j *job) Run(seq string) (runStats, error) {
	var st runStats
	vlogf := monitoring.Verbosef("stitch-tubes", j.Verbose)

	seqDir, err := security.JoinWithin(j.InDir, seq)
	if err != nil {
		return st, err
	}
	clips, err := listDirs(j.FS, seqDir)
	if err != nil {
		return st, err
	}
	if len(clips) == 0 {
		return st, fmt.Errorf("no clips under %s", seqDir)
	}

	if j.Ledger != nil {
		run := &sqlite.Run{Sequence: seq, ParamsJSON: j.Params}
		if err := j.Ledger.InsertRun(run); err != nil {
			return st, fmt.Errorf("record run: %w", err)
		}
		st.RunID = run.RunID
	}

	s := stitch.NewStitcher(j.Config)
	start := 0
	for i, name := range clips {
		tube, err := readTube(j.FS, filepath.Join(seqDir, name))
		if err != nil {
			return st, err
		}
		res, err := s.Push(tube)
		if err != nil {
			return st, fmt.Errorf("clip %s: %w", name, err)
		}

		skip := 0
		if i > 0 {
			skip = j.Config.Overlap
			start -= j.Config.Overlap
		}
		for t := skip; t < res.Tube.T; t++ {
			if err := j.writeFrame(seq, start+t, res.Tube, t); err != nil {
				return st, err
			}
			st.Frames++
		}

		if j.Ledger != nil {
			fresh := res.Tube.Frames(skip, res.Tube.T)
			if err := j.Ledger.RecordTube(st.RunID, start+skip, fresh, origins(res.Assignment)); err != nil {
				return st, fmt.Errorf("record clip %s: %w", name, err)
			}
		}
		vlogf("%s clip %s: frames %d..%d, matched cost %.3f", seq, name, start, start+res.Tube.T-1, res.Assignment.TotalMatchedCost())
		start += res.Tube.T
	}

	st.Clips = s.Clips()
	st.HighWater = s.HighWater()
	return st, nil
}

func (j *job) writeFrame(seq string, frame int, tube *mask.Volume, t int) error {
	path := filepath.Join(j.OutDir, seq, fmt.Sprintf("%05d.png", frame))
	if err := j.FS.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	var buf bytes.Buffer
	if err := imageio.EncodeLabels(&buf, tube.H, tube.W, tube.Frame(t)); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := j.FS.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// origins keys the resolved reference ids by how they were obtained.
func origins(a *assign.Result) map[int32]string {
	out := make(map[int32]string, len(a.Pairs))
	for _, p := range a.Pairs {
		if _, ok := out[p.Reference]; !ok {
			out[p.Reference] = p.Kind.String()
		}
	}
	return out
}

// readTube loads the label frames of one clip directory.
func readTube(fsys fsutil.FileSystem, dir string) (*mask.Volume, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var frames [][]int32
	h, w := 0, 0
	for _, e := range entries {
		if e.IsDir() || !hasExt(e.Name(), labelExts) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		f, err := fsys.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		m, err := imageio.DecodeMask(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if len(frames) == 0 {
			h, w = m.H, m.W
		}
		frames = append(frames, imageio.MaskToLabels(m))
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no label frames in %s", dir)
	}
	tube, err := mask.FromFrames(h, w, frames...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	return tube, nil
}

func listDirs(fsys fsutil.FileSystem, dir string) ([]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
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

package tracklets

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/clipstitch/internal/fsutil"
	"github.com/banshee-data/clipstitch/internal/monitoring"
	"github.com/banshee-data/clipstitch/internal/vos/flow"
	"github.com/banshee-data/clipstitch/internal/vos/imageio"
	"github.com/banshee-data/clipstitch/internal/vos/proposals"
)

var logf = monitoring.Component("tracklets")

// FlowSource provides the flow that carries frame-1 onto frame.
type FlowSource interface {
	Flow(seq string, frame int) (*flow.Field, error)
}

// FileFlowSource reads <dir>/<seq>/<frame %05d>.flo.
type FileFlowSource struct {
	FS  fsutil.FileSystem
	Dir string
}

func (s FileFlowSource) Flow(seq string, frame int) (*flow.Field, error) {
	path := filepath.Join(s.Dir, seq, fmt.Sprintf("%05d.flo", frame))
	f, err := s.FS.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open flow: %w", err)
	}
	defer f.Close()
	field, err := flow.ReadFlo(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return field, nil
}

// Stats summarises one sequence run.
type Stats struct {
	Frames  int
	Matched int
	New     int
	Tracks  int // distinct track ids issued
}

// Runner associates the proposals of whole sequences.
type Runner struct {
	Config Config
	In     *proposals.Store
	Out    *proposals.Store
	Flows  FlowSource
	Warper flow.Warper
	// FS and OutDir receive one label PNG per frame.
	FS     fsutil.FileSystem
	OutDir string
	// Verbose logs every frame.
	Verbose bool
}

// RunSequence processes every stored frame of seq in order.
func (r *Runner) RunSequence(ctx context.Context, seq string) (Stats, error) {
	var st Stats
	frames, err := r.In.Frames(seq)
	if err != nil {
		return st, err
	}
	if len(frames) == 0 {
		return st, fmt.Errorf("no proposals for sequence %s", seq)
	}
	vlogf := monitoring.Verbosef("tracklets", r.Verbose)

	first, err := r.In.Load(seq, frames[0])
	if err != nil {
		return st, err
	}
	assoc, err := Seed(proposals.SelectTop(first, r.Config.ConfThresh))
	if err != nil {
		return st, err
	}
	if err := r.write(seq, frames[0], assoc); err != nil {
		return st, err
	}
	st.add(assoc)

	for _, f := range frames[1:] {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		field, err := r.Flows.Flow(seq, f)
		if err != nil {
			return st, err
		}
		warped, err := WarpAll(ctx, assoc.Proposals, field, r.Warper, r.Config.Workers)
		if err != nil {
			return st, fmt.Errorf("frame %d: %w", f, err)
		}
		raw, err := r.In.Load(seq, f)
		if err != nil {
			return st, err
		}
		next, err := Associate(proposals.SelectTop(raw, r.Config.ConfThresh), warped, r.Config.IoUThresh)
		if err != nil {
			return st, fmt.Errorf("frame %d: %w", f, err)
		}
		if err := r.write(seq, f, next); err != nil {
			return st, err
		}
		vlogf("%s frame %d: %d matched, %d new", seq, f, next.Matched, next.New)
		st.add(next)
		assoc = next
	}

	logf("%s: %d frames, %d tracks", seq, st.Frames, st.Tracks)
	return st, nil
}

func (st *Stats) add(a *Association) {
	st.Frames++
	st.Matched += a.Matched
	st.New += a.New
	ids, _ := a.Proposals.TrackIDs()
	for _, id := range ids {
		st.Tracks = max(st.Tracks, id+1)
	}
}

func (r *Runner) write(seq string, frame int, a *Association) error {
	if err := r.Out.Save(seq, frame, a.Proposals); err != nil {
		return err
	}
	path := filepath.Join(r.OutDir, seq, fmt.Sprintf("%05d.png", frame))
	if err := r.FS.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create label dir: %w", err)
	}
	w, err := r.FS.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := imageio.EncodeLabels(w, a.Proposals.H, a.Proposals.W, a.Labels); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return w.Close()
}

// Command tracklets links per-frame detector proposals into tracklets
// using optical flow.
//
// Proposals are read from <proposals>/<sequence>/%05d.props and flow from
// <flow>/<sequence>/%05d.flo, where the flow of frame f carries frame f-1
// onto f. Associated proposals and a label PNG per frame are written to
// <out>/<sequence>/.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/banshee-data/clipstitch/internal/config"
	"github.com/banshee-data/clipstitch/internal/fsutil"
	"github.com/banshee-data/clipstitch/internal/monitoring"
	"github.com/banshee-data/clipstitch/internal/security"
	"github.com/banshee-data/clipstitch/internal/version"
	"github.com/banshee-data/clipstitch/internal/vos/flow"
	"github.com/banshee-data/clipstitch/internal/vos/proposals"
	"github.com/banshee-data/clipstitch/internal/vos/tracklets"
)

// Config holds the command line options. Negative thresholds and a zero
// worker count defer to the tuning config.
type Config struct {
	Sequences    []string
	ProposalsDir string
	FlowDir      string
	OutDir       string
	ConfThresh   float64
	IoUThresh    float64
	Workers      int
	ConfigPath   string
	Verbose      bool
	ShowVersion  bool
}

func parseFlags(args []string) (*Config, error) {
	fs := flag.NewFlagSet("tracklets", flag.ContinueOnError)
	cfg := &Config{}
	var seqs string
	fs.StringVar(&seqs, "sequences", "", "comma separated sequence names (default: every directory under -proposals)")
	fs.StringVar(&cfg.ProposalsDir, "proposals", "", "directory of per-frame proposal files")
	fs.StringVar(&cfg.FlowDir, "flow", "", "directory of .flo files")
	fs.StringVar(&cfg.OutDir, "out", "", "output directory")
	fs.Float64Var(&cfg.ConfThresh, "conf-thresh", -1, "drop proposals scoring at or below this (default: proposal_conf_thresh)")
	fs.Float64Var(&cfg.IoUThresh, "iou-thresh", -1, "minimum IoU to continue a track (default: association_iou_thresh)")
	fs.IntVar(&cfg.Workers, "workers", 0, "concurrent mask warps (default: warp_workers)")
	fs.StringVar(&cfg.ConfigPath, "config", "", "tuning config JSON (default: built-in defaults)")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "log every frame")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.ShowVersion {
		return cfg, nil
	}
	if cfg.ProposalsDir == "" || cfg.FlowDir == "" || cfg.OutDir == "" {
		return nil, fmt.Errorf("-proposals, -flow and -out are required")
	}
	for _, s := range strings.Split(seqs, ",") {
		if s = strings.TrimSpace(s); s != "" {
			if err := security.ValidateSequenceName(s); err != nil {
				return nil, err
			}
			cfg.Sequences = append(cfg.Sequences, s)
		}
	}
	return cfg, nil
}

// associationConfig merges the flag overrides into the tuning values.
func (c *Config) associationConfig(tuning *config.TuningConfig) tracklets.Config {
	out := tracklets.ConfigFromTuning(tuning)
	if c.ConfThresh >= 0 {
		out.ConfThresh = c.ConfThresh
	}
	if c.IoUThresh >= 0 {
		out.IoUThresh = c.IoUThresh
	}
	if c.Workers > 0 {
		out.Workers = c.Workers
	}
	return out
}

func listSequences(fsys fsutil.FileSystem, dir string) ([]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, err
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

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}
	if cfg.ShowVersion {
		fmt.Println(version.String("tracklets"))
		return
	}

	tuning := config.EmptyTuningConfig()
	if cfg.ConfigPath != "" {
		if tuning, err = config.LoadTuningConfig(cfg.ConfigPath); err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	fsys := fsutil.OSFileSystem{}
	r := &tracklets.Runner{
		Config:  cfg.associationConfig(tuning),
		In:      proposals.NewStore(fsys, cfg.ProposalsDir),
		Out:     proposals.NewStore(fsys, cfg.OutDir),
		Flows:   tracklets.FileFlowSource{FS: fsys, Dir: cfg.FlowDir},
		Warper:  flow.NearestWarper{},
		FS:      fsys,
		OutDir:  cfg.OutDir,
		Verbose: cfg.Verbose,
	}

	seqs := cfg.Sequences
	if len(seqs) == 0 {
		if seqs, err = listSequences(fsys, cfg.ProposalsDir); err != nil {
			log.Fatalf("list sequences: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, seq := range seqs {
		st, err := r.RunSequence(ctx, seq)
		if err != nil {
			log.Fatalf("%s: %v", seq, err)
		}
		monitoring.Logf("%s: %d frames, %d matched, %d new, %d tracks", seq, st.Frames, st.Matched, st.New, st.Tracks)
	}
}

// Command stitch-tubes joins per-clip label tubes of each sequence into one
// track-consistent label sequence.
//
// Input layout: <in>/<sequence>/<clip>/<frame>.png, clips and frames in
// lexical order. Output: <out>/<sequence>/%05d.png.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/banshee-data/clipstitch/internal/config"
	"github.com/banshee-data/clipstitch/internal/fsutil"
	"github.com/banshee-data/clipstitch/internal/monitoring"
	"github.com/banshee-data/clipstitch/internal/security"
	"github.com/banshee-data/clipstitch/internal/version"
	"github.com/banshee-data/clipstitch/internal/vos/stitch"
	"github.com/banshee-data/clipstitch/internal/vos/storage/sqlite"
)

// Config holds the command line options.
type Config struct {
	Sequences   []string
	InDir       string
	OutDir      string
	ConfigPath  string
	DBPath      string
	Overlap     int
	Verbose     bool
	ShowVersion bool
}

func parseFlags(args []string) (*Config, error) {
	fs := flag.NewFlagSet("stitch-tubes", flag.ContinueOnError)
	cfg := &Config{}
	var seqs string
	fs.StringVar(&seqs, "sequences", "", "comma separated sequence names (default: every directory under -in)")
	fs.StringVar(&cfg.InDir, "in", "", "directory of per-clip label tubes")
	fs.StringVar(&cfg.OutDir, "out", "", "directory for stitched label frames")
	fs.StringVar(&cfg.ConfigPath, "config", "", "tuning config JSON (default: built-in defaults)")
	fs.StringVar(&cfg.DBPath, "db", "", "track ledger sqlite path (empty disables the ledger)")
	fs.IntVar(&cfg.Overlap, "overlap", -1, "frames shared by consecutive clips (default: clip_overlap from config)")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "log every clip")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.ShowVersion {
		return cfg, nil
	}
	if cfg.InDir == "" || cfg.OutDir == "" {
		return nil, fmt.Errorf("-in and -out are required")
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

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}
	if cfg.ShowVersion {
		fmt.Println(version.String("stitch-tubes"))
		return
	}
	if err := run(cfg, fsutil.OSFileSystem{}); err != nil {
		log.Fatalf("%v", err)
	}
}

// run stitches every selected sequence. The ledger, when opened, is closed
// before run returns.
func run(cfg *Config, fsys fsutil.FileSystem) error {
	tuning, err := loadTuning(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	stitchCfg := stitch.ConfigFromTuning(tuning)
	if cfg.Overlap >= 0 {
		stitchCfg.Overlap = cfg.Overlap
	}

	j := &job{
		FS:      fsys,
		InDir:   cfg.InDir,
		OutDir:  cfg.OutDir,
		Config:  stitchCfg,
		Verbose: cfg.Verbose,
	}

	if cfg.DBPath != "" {
		db, err := sqlite.OpenDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer db.Close()
		if err := sqlite.MigrateUp(db); err != nil {
			return fmt.Errorf("migrate ledger: %w", err)
		}
		j.Ledger = sqlite.NewLedgerStore(db)
		j.Params, err = json.Marshal(tuning)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
	}

	seqs := cfg.Sequences
	if len(seqs) == 0 {
		seqs, err = listDirs(j.FS, cfg.InDir)
		if err != nil {
			return fmt.Errorf("list sequences: %w", err)
		}
	}

	for _, seq := range seqs {
		st, err := j.Run(seq)
		if err != nil {
			return fmt.Errorf("%s: %w", seq, err)
		}
		monitoring.Logf("%s: %d clips, %d frames, %d tracks", seq, st.Clips, st.Frames, st.HighWater)
	}
	return nil
}

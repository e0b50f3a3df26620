// Command clip-server serves assembled training clips over HTTP.
//
//	GET /sample?item=N                 clip of flat item N
//	GET /sample?sequence=S&frame=F     clip starting at frame F of S
//	GET /sequences                     registry listing
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	http "github.com/valyala/fasthttp"

	"github.com/banshee-data/clipstitch/internal/config"
	"github.com/banshee-data/clipstitch/internal/fsutil"
	"github.com/banshee-data/clipstitch/internal/version"
	"github.com/banshee-data/clipstitch/internal/vos/clip"
	"github.com/banshee-data/clipstitch/internal/vos/dataset"
	"github.com/banshee-data/clipstitch/internal/vos/imageio"
	"github.com/banshee-data/clipstitch/internal/vos/sampler"
)

// Config holds the command line options.
type Config struct {
	Variant     string
	Root        string
	Split       string
	ConfigPath  string
	Listen      string
	Verbose     bool
	ShowVersion bool
}

func parseFlags(args []string) (*Config, error) {
	fs := flag.NewFlagSet("clip-server", flag.ContinueOnError)
	cfg := &Config{}
	fs.StringVar(&cfg.Variant, "variant", "davis", "dataset layout: davis or segtrackv2")
	fs.StringVar(&cfg.Root, "root", "", "dataset root directory")
	fs.StringVar(&cfg.Split, "split", "", "DAVIS split list name, e.g. train (default: every sequence)")
	fs.StringVar(&cfg.ConfigPath, "config", "", "tuning config JSON (default: built-in defaults)")
	fs.StringVar(&cfg.Listen, "listen", ":8093", "listen address")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "log every request")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.ShowVersion {
		return cfg, nil
	}
	if cfg.Root == "" {
		return nil, fmt.Errorf("-root is required")
	}
	return cfg, nil
}

func newVariant(name, split string, fsys fsutil.FileSystem) (dataset.Variant, error) {
	switch name {
	case "davis":
		return dataset.NewDAVIS(fsys, split), nil
	case "segtrackv2":
		return dataset.NewSegTrackV2(fsys), nil
	default:
		return nil, fmt.Errorf("unknown dataset variant %q", name)
	}
}

func newDataset(cfg *Config, tuning *config.TuningConfig, fsys fsutil.FileSystem) (*clip.Dataset, error) {
	v, err := newVariant(cfg.Variant, cfg.Split, fsys)
	if err != nil {
		return nil, err
	}
	reg, err := dataset.Open(v, cfg.Root)
	if err != nil {
		return nil, err
	}
	clipCfg, err := clip.ConfigFromTuning(tuning)
	if err != nil {
		return nil, err
	}
	asm := clip.NewAssembler(clipCfg, reg.Loader(), imageio.DefaultResizer{}, sampler.FromTuning(tuning))
	return clip.NewDataset(reg, asm), nil
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}
	if cfg.ShowVersion {
		fmt.Println(version.String("clip-server"))
		return
	}

	tuning := config.EmptyTuningConfig()
	if cfg.ConfigPath != "" {
		if tuning, err = config.LoadTuningConfig(cfg.ConfigPath); err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	ds, err := newDataset(cfg, tuning, fsutil.OSFileSystem{})
	if err != nil {
		log.Fatalf("open dataset: %v", err)
	}
	log.Printf("Loaded %d sequences, %d items from %s", len(ds.Registry().Sequences()), ds.Len(), cfg.Root)

	s := &server{ds: ds, verbose: cfg.Verbose}
	log.Printf("Serving on %s", cfg.Listen)
	if err := http.ListenAndServe(cfg.Listen, s.handle); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

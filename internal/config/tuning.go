package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Resize modes accepted by resize_mode.
const (
	ResizeModeFixedSize = "fixed_size"
	ResizeModeShortEdge = "resize_short_edge"
	ResizeModeUnchanged = "unchanged"
)

// TuningConfig represents the root configuration for the clip sampler,
// clip assembler, tube stitcher and tracklet association.
// Every field is optional; the Get* accessors supply the defaults.
type TuningConfig struct {
	// Temporal sampling
	TemporalWindow *int  `json:"temporal_window,omitempty"`
	MaxTemporalGap *int  `json:"max_temporal_gap,omitempty"`
	TrainMode      *bool `json:"train_mode,omitempty"`

	// Clip assembly
	CropHeight     *int    `json:"crop_height,omitempty"` // 0 keeps the sequence's native shape
	CropWidth      *int    `json:"crop_width,omitempty"`
	ResizeMode     *string `json:"resize_mode,omitempty"`
	RandomInstance *bool   `json:"random_instance,omitempty"`
	PadStride      *int    `json:"pad_stride,omitempty"`
	VoidValue      *int    `json:"void_value,omitempty"`

	// Tube stitching
	NearestThreshold *float64 `json:"nearest_threshold,omitempty"`
	PreferNearest    *bool    `json:"prefer_nearest,omitempty"`
	MaxMatchCost     *float64 `json:"max_match_cost,omitempty"` // 0 accepts every optimal pair
	ClipLength       *int     `json:"clip_length,omitempty"`
	ClipOverlap      *int     `json:"clip_overlap,omitempty"`

	// Proposal tracklets
	ProposalConfThresh   *float64 `json:"proposal_conf_thresh,omitempty"`
	AssociationIoUThresh *float64 `json:"association_iou_thresh,omitempty"`
	WarpWorkers          *int     `json:"warp_workers,omitempty"`

	// Seed for every random source; 0 means seed from the clock.
	Seed *int64 `json:"seed,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
// Fields omitted from the JSON file fall back to the Get* defaults, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,             // from cmd/<tool>/
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/vos/<pkg>/
		"../../../../" + DefaultConfigPath,    // from internal/vos/storage/sqlite/
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.TemporalWindow != nil && *c.TemporalWindow < 1 {
		return fmt.Errorf("temporal_window must be at least 1, got %d", *c.TemporalWindow)
	}
	if c.MaxTemporalGap != nil && *c.MaxTemporalGap < 0 {
		return fmt.Errorf("max_temporal_gap must be non-negative, got %d", *c.MaxTemporalGap)
	}
	if c.CropHeight != nil && *c.CropHeight < 0 {
		return fmt.Errorf("crop_height must be non-negative, got %d", *c.CropHeight)
	}
	if c.CropWidth != nil && *c.CropWidth < 0 {
		return fmt.Errorf("crop_width must be non-negative, got %d", *c.CropWidth)
	}
	if c.ResizeMode != nil {
		switch *c.ResizeMode {
		case ResizeModeFixedSize, ResizeModeShortEdge, ResizeModeUnchanged:
		default:
			return fmt.Errorf("unknown resize_mode %q", *c.ResizeMode)
		}
	}
	if c.PadStride != nil && *c.PadStride < 1 {
		return fmt.Errorf("pad_stride must be at least 1, got %d", *c.PadStride)
	}
	if c.VoidValue != nil && (*c.VoidValue < 0 || *c.VoidValue > 255) {
		return fmt.Errorf("void_value must be between 0 and 255, got %d", *c.VoidValue)
	}
	if c.NearestThreshold != nil && (*c.NearestThreshold < 0 || *c.NearestThreshold > 1) {
		return fmt.Errorf("nearest_threshold must be between 0 and 1, got %f", *c.NearestThreshold)
	}
	if c.MaxMatchCost != nil && (*c.MaxMatchCost < 0 || *c.MaxMatchCost > 1) {
		return fmt.Errorf("max_match_cost must be between 0 and 1, got %f", *c.MaxMatchCost)
	}
	if c.ClipLength != nil && *c.ClipLength < 1 {
		return fmt.Errorf("clip_length must be at least 1, got %d", *c.ClipLength)
	}
	if c.ClipOverlap != nil && *c.ClipOverlap < 0 {
		return fmt.Errorf("clip_overlap must be non-negative, got %d", *c.ClipOverlap)
	}
	if c.GetClipOverlap() >= c.GetClipLength() {
		return fmt.Errorf("clip_overlap (%d) must be smaller than clip_length (%d)", c.GetClipOverlap(), c.GetClipLength())
	}
	if c.ProposalConfThresh != nil && (*c.ProposalConfThresh < 0 || *c.ProposalConfThresh > 1) {
		return fmt.Errorf("proposal_conf_thresh must be between 0 and 1, got %f", *c.ProposalConfThresh)
	}
	if c.AssociationIoUThresh != nil && (*c.AssociationIoUThresh < 0 || *c.AssociationIoUThresh > 1) {
		return fmt.Errorf("association_iou_thresh must be between 0 and 1, got %f", *c.AssociationIoUThresh)
	}
	if c.WarpWorkers != nil && *c.WarpWorkers < 1 {
		return fmt.Errorf("warp_workers must be at least 1, got %d", *c.WarpWorkers)
	}
	return nil
}

func (c *TuningConfig) GetTemporalWindow() int {
	if c.TemporalWindow == nil {
		return 8
	}
	return *c.TemporalWindow
}

func (c *TuningConfig) GetMaxTemporalGap() int {
	if c.MaxTemporalGap == nil {
		return 8
	}
	return *c.MaxTemporalGap
}

func (c *TuningConfig) GetTrainMode() bool {
	if c.TrainMode == nil {
		return false
	}
	return *c.TrainMode
}

func (c *TuningConfig) GetCropHeight() int {
	if c.CropHeight == nil {
		return 0
	}
	return *c.CropHeight
}

func (c *TuningConfig) GetCropWidth() int {
	if c.CropWidth == nil {
		return 0
	}
	return *c.CropWidth
}

func (c *TuningConfig) GetResizeMode() string {
	if c.ResizeMode == nil || *c.ResizeMode == "" {
		return ResizeModeFixedSize
	}
	return *c.ResizeMode
}

func (c *TuningConfig) GetRandomInstance() bool {
	if c.RandomInstance == nil {
		return false
	}
	return *c.RandomInstance
}

func (c *TuningConfig) GetPadStride() int {
	if c.PadStride == nil {
		return 32
	}
	return *c.PadStride
}

func (c *TuningConfig) GetVoidValue() uint8 {
	if c.VoidValue == nil {
		return 255
	}
	return uint8(*c.VoidValue)
}

func (c *TuningConfig) GetNearestThreshold() float64 {
	if c.NearestThreshold == nil {
		return 0.3
	}
	return *c.NearestThreshold
}

func (c *TuningConfig) GetPreferNearest() bool {
	if c.PreferNearest == nil {
		return false
	}
	return *c.PreferNearest
}

func (c *TuningConfig) GetMaxMatchCost() float64 {
	if c.MaxMatchCost == nil {
		return 0
	}
	return *c.MaxMatchCost
}

func (c *TuningConfig) GetClipLength() int {
	if c.ClipLength == nil {
		return 8
	}
	return *c.ClipLength
}

func (c *TuningConfig) GetClipOverlap() int {
	if c.ClipOverlap == nil {
		return 2
	}
	return *c.ClipOverlap
}

func (c *TuningConfig) GetProposalConfThresh() float64 {
	if c.ProposalConfThresh == nil {
		return 0.8
	}
	return *c.ProposalConfThresh
}

func (c *TuningConfig) GetAssociationIoUThresh() float64 {
	if c.AssociationIoUThresh == nil {
		return 0.1
	}
	return *c.AssociationIoUThresh
}

func (c *TuningConfig) GetWarpWorkers() int {
	if c.WarpWorkers == nil {
		return 4
	}
	return *c.WarpWorkers
}

func (c *TuningConfig) GetSeed() int64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}

// Package config loads the triage configuration.
//
// A configuration file is optional YAML. It is decoded strictly (unknown
// keys are errors) on top of Default(), so a file only needs the keys it
// changes. The merged result is then checked against an embedded CUE schema
// that bounds thresholds to [0,1], enumerates severities and requires
// positive windows and limits.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/triage/internal/assets"
	"github.com/roach88/triage/internal/memory"
	"github.com/roach88/triage/internal/model"
)

//go:embed schema.cue
var schemaCUE string

// Config is the full configuration.
type Config struct {
	Policy Policy       `yaml:"policy" json:"policy"`
	Assets AssetsConfig `yaml:"assets" json:"assets"`
	Paths  Paths        `yaml:"paths" json:"paths"`
	Memory MemoryConfig `yaml:"memory" json:"memory"`
}

// Policy holds every decision threshold of the pipeline.
type Policy struct {
	SuspiciousTags   []string `yaml:"suspicious_tags" json:"suspicious_tags"`
	AllowlistTags    []string `yaml:"allowlist_tags" json:"allowlist_tags"`
	ObserveLimit     int      `yaml:"observe_limit" json:"observe_limit"`
	FallbackSeverity string   `yaml:"fallback_severity" json:"fallback_severity"`

	MemoryK         int     `yaml:"memory_k" json:"memory_k"`
	MemoryThreshold float64 `yaml:"memory_threshold" json:"memory_threshold"`
	MemoryFPScore   float64 `yaml:"memory_fp_score" json:"memory_fp_score"`
	MemoryTPScore   float64 `yaml:"memory_tp_score" json:"memory_tp_score"`

	CorrelationWindowSeconds int `yaml:"correlation_window_seconds" json:"correlation_window_seconds"`
	CorrelationMinEvents     int `yaml:"correlation_min_events" json:"correlation_min_events"`

	GatingThreshold      float64 `yaml:"gating_threshold" json:"gating_threshold"`
	BlockDurationSeconds int     `yaml:"block_duration_seconds" json:"block_duration_seconds"`
	ResponseDelaySeconds int     `yaml:"response_delay_seconds" json:"response_delay_seconds"`
	DedupWindow          int     `yaml:"dedup_window" json:"dedup_window"`

	Confidence Confidence `yaml:"confidence" json:"confidence"`
}

// Confidence is the confidence attached to each decision branch.
type Confidence struct {
	Allowlist        float64 `yaml:"allowlist" json:"allowlist"`
	MemoryFP         float64 `yaml:"memory_fp" json:"memory_fp"`
	MemoryTP         float64 `yaml:"memory_tp" json:"memory_tp"`
	HighCorrelated   float64 `yaml:"high_correlated" json:"high_correlated"`
	High             float64 `yaml:"high" json:"high"`
	MediumCorrelated float64 `yaml:"medium_correlated" json:"medium_correlated"`
	Escalate         float64 `yaml:"escalate" json:"escalate"`
	NoDetection      float64 `yaml:"no_detection" json:"no_detection"`
}

// AssetsConfig is the static asset inventory.
type AssetsConfig struct {
	Inventory  []model.Asset    `yaml:"inventory" json:"inventory"`
	Allowlists model.Allowlists `yaml:"allowlists" json:"allowlists"`
}

// Paths are the default directories of the CLI.
type Paths struct {
	LogsDir        string `yaml:"logs_dir" json:"logs_dir"`
	RunsDir        string `yaml:"runs_dir" json:"runs_dir"`
	GroundTruthDir string `yaml:"ground_truth_dir" json:"ground_truth_dir"`
}

// MemoryConfig configures case memory.
type MemoryConfig struct {
	Dim int `yaml:"dim" json:"dim"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Policy: Policy{
			SuspiciousTags:           []string{"suspicious", "lateral_like", "burst", "success_after_fail", "post_auth"},
			AllowlistTags:            []string{"allowlisted_user", "service_account"},
			ObserveLimit:             200,
			FallbackSeverity:         model.SeverityHigh,
			MemoryK:                  3,
			MemoryThreshold:          0.78,
			MemoryFPScore:            0.82,
			MemoryTPScore:            0.90,
			CorrelationWindowSeconds: 120,
			CorrelationMinEvents:     5,
			GatingThreshold:          0.80,
			BlockDurationSeconds:     1800,
			ResponseDelaySeconds:     30,
			DedupWindow:              300,
			Confidence: Confidence{
				Allowlist:        0.95,
				MemoryFP:         0.88,
				MemoryTP:         0.90,
				HighCorrelated:   0.90,
				High:             0.80,
				MediumCorrelated: 0.75,
				Escalate:         0.60,
				NoDetection:      0.20,
			},
		},
		Assets: AssetsConfig{
			Inventory:  assets.DefaultInventory(),
			Allowlists: assets.DefaultAllowlists(),
		},
		Paths: Paths{
			LogsDir:        "data/logs",
			RunsDir:        "data/runs",
			GroundTruthDir: "data/ground_truth",
		},
		Memory: MemoryConfig{Dim: memory.DefaultDim},
	}
}

// Load reads path over Default() and validates the result. An empty path
// returns the validated defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, Validate(cfg)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, model.NotFound("load config", path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		var me *model.Error
		if errors.As(err, &me) {
			me.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over Default() with strict field validation and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, model.Validation("parse config", "%v", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg against the embedded CUE schema.
func Validate(cfg *Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := ctx.Encode(cfg)
	if err := v.Err(); err != nil {
		return model.Validation("validate config", "encode: %v", err)
	}
	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return model.Validation("validate config", "%s", formatCUEError(err))
	}
	return nil
}

// formatCUEError joins every CUE error message on one line.
func formatCUEError(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

package tuning

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid tuning")

type Tuning struct {
	TickIntervalMs int    `yaml:"tick_interval_ms"`
	ScanRadius     int    `yaml:"scan_radius"`
	BatchLimit     int    `yaml:"batch_limit"`
	ScanWorkers    int    `yaml:"scan_workers"`
	ReplacePolicy  string `yaml:"replace_policy"`
	ChunkMinY      int    `yaml:"chunk_min_y"`
	ChunkMaxY      int    `yaml:"chunk_max_y"`
	InboxSize      int    `yaml:"inbox_size"`
}

func Defaults() Tuning {
	return Tuning{
		TickIntervalMs: 1000,
		ScanRadius:     24,
		BatchLimit:     16,
		ScanWorkers:    4,
		ReplacePolicy:  "world",
		ChunkMinY:      -64,
		ChunkMaxY:      320,
		InboxSize:      1024,
	}
}

// Load reads a tuning file over the defaults. An empty path yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (Tuning, error) {
	t := Defaults()
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills zero fields with defaults.
func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	d := Defaults()
	if t.TickIntervalMs == 0 {
		t.TickIntervalMs = d.TickIntervalMs
	}
	if t.BatchLimit == 0 {
		t.BatchLimit = d.BatchLimit
	}
	if t.ScanWorkers == 0 {
		t.ScanWorkers = d.ScanWorkers
	}
	if t.InboxSize == 0 {
		t.InboxSize = d.InboxSize
	}
	t.ReplacePolicy = strings.ToLower(strings.TrimSpace(t.ReplacePolicy))
	if t.ReplacePolicy == "" {
		t.ReplacePolicy = d.ReplacePolicy
	}
	if t.ChunkMinY == 0 && t.ChunkMaxY == 0 {
		t.ChunkMinY, t.ChunkMaxY = d.ChunkMinY, d.ChunkMaxY
	}
}

func (t Tuning) Validate() error {
	switch {
	case t.TickIntervalMs < 0:
		return fmt.Errorf("%w: tick_interval_ms must be positive", ErrInvalid)
	case t.ScanRadius < 0 || t.ScanRadius > 64:
		return fmt.Errorf("%w: scan_radius must be in [0,64], got %d", ErrInvalid, t.ScanRadius)
	case t.BatchLimit < 0:
		return fmt.Errorf("%w: batch_limit must be positive", ErrInvalid)
	case t.ScanWorkers < 0:
		return fmt.Errorf("%w: scan_workers must be positive", ErrInvalid)
	case t.InboxSize < 0:
		return fmt.Errorf("%w: inbox_size must be positive", ErrInvalid)
	case t.ChunkMinY >= t.ChunkMaxY:
		return fmt.Errorf("%w: chunk_min_y (%d) must be below chunk_max_y (%d)", ErrInvalid, t.ChunkMinY, t.ChunkMaxY)
	}
	switch t.ReplacePolicy {
	case "world", "window":
	default:
		return fmt.Errorf("%w: replace_policy must be world or window, got %q", ErrInvalid, t.ReplacePolicy)
	}
	return nil
}

func (t Tuning) TickInterval() time.Duration {
	return time.Duration(t.TickIntervalMs) * time.Millisecond
}

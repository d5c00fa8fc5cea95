package tuning

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_EmptyPathGivesDefaults(t *testing.T) {
	got, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != Defaults() {
		t.Fatalf("got %+v", got)
	}
	if got.TickInterval() != time.Second {
		t.Fatalf("TickInterval=%s", got.TickInterval())
	}
}

func TestParse_OverridesAndNormalizes(t *testing.T) {
	got, err := Parse([]byte("scan_radius: 3\nbatch_limit: 4\nreplace_policy: \" Window \"\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.ScanRadius != 3 || got.BatchLimit != 4 || got.ReplacePolicy != "window" {
		t.Fatalf("got %+v", got)
	}
	if got.TickIntervalMs != 1000 || got.InboxSize != 1024 || got.ChunkMaxY != 320 {
		t.Fatalf("defaults lost: %+v", got)
	}

	zero, err := Parse([]byte("scan_radius: 0\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if zero.ScanRadius != 0 {
		t.Fatalf("radius 0 must be kept, got %d", zero.ScanRadius)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := []string{
		"scan_radius: -1\n",
		"scan_radius: 100\n",
		"replace_policy: chunk\n",
		"chunk_min_y: 10\nchunk_max_y: 5\n",
		"batch_limit: -2\n",
	}
	for _, c := range cases {
		if _, err := Parse([]byte(c)); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%q: err=%v, want ErrInvalid", c, err)
		}
	}
	if _, err := Parse([]byte("scan_radius: [")); err == nil {
		t.Fatalf("expected yaml error")
	}
}

func TestLoad_File(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte("tick_interval_ms: 50\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.TickInterval() != 50*time.Millisecond {
		t.Fatalf("TickInterval=%s", got.TickInterval())
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	if err := os.WriteFile(p, []byte("batch_limit: 2\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Tuning, 8)
	if err := Watch(ctx, p, func(tu Tuning, err error) {
		if err == nil {
			got <- tu
		}
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	// unrelated files in the same directory are ignored
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(p, []byte("batch_limit: 9\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case tu := <-got:
			if tu.BatchLimit == 9 {
				return
			}
		case <-deadline:
			t.Fatalf("no reload observed")
		}
	}
}

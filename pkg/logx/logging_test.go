package logx

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNopIsSilent(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger must report IsZero")
	}
	l.Info("nothing", String("k", "v"))
	Nop().With(Int("n", 1)).Error("still nothing")
}

func TestWriterFieldsAndLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "INFO").With(String("comp", "dispatch"))

	l.Debug("hidden")
	l.Info("task updated", Int("remaining", 3), Bool("status", true), Duration("dur", 1500*time.Millisecond), Err(errors.New("boom")))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked at INFO: %s", out)
	}
	for _, want := range []string{`"message":"task updated"`, `"comp":"dispatch"`, `"remaining":3`, `"status":true`, "boom"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
	if !l.Enabled(LevelInfo) || l.Enabled(LevelDebug) {
		t.Fatal("Enabled does not follow the configured level")
	}
}

// Not parallel: New sets zerolog globals.
func TestServiceWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.log")
	svc, log := New(Config{Level: "DEBUG", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("file line", String("phase", "clans"))
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), `"phase":"clans"`) || !strings.Contains(string(b), "file line") {
		t.Fatalf("unexpected log file: %s", b)
	}
}

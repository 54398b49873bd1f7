package shared

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestLogger(t *testing.T) {
	t.Run("NewLogger writes to writer", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf)
		WithLogger(logger, "job", "abc").Info("started")

		out := buf.String()
		if !strings.Contains(out, "started") || !strings.Contains(out, "job=abc") {
			t.Errorf("unexpected log output: %q", out)
		}
	})

	t.Run("SetLogLevel filters", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf)
		SetLogLevel(logger, log.WarnLevel)
		logger.Info("hidden")

		if buf.Len() != 0 {
			t.Errorf("expected info to be filtered, got %q", buf.String())
		}
	})

	t.Run("NewFileLogger creates parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "nested", "crate.log")
		logger, f, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger failed: %v", err)
		}
		logger.Info("hello")
		f.Close()

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read log: %v", err)
		}
		if !strings.Contains(string(data), "hello") {
			t.Errorf("expected log line in file, got %q", data)
		}
	})

	t.Run("ParseLogLevel", func(t *testing.T) {
		tests := []struct {
			in   string
			want log.Level
		}{
			{"debug", log.DebugLevel},
			{" WARN ", log.WarnLevel},
			{"error", log.ErrorLevel},
			{"nonsense", log.InfoLevel},
			{"", log.InfoLevel},
		}
		for _, tt := range tests {
			if got := ParseLogLevel(tt.in); got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		}
	})
}

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == b {
		t.Error("expected unique ids")
	}
	if len(a) != 36 {
		t.Errorf("expected uuid string, got %q", a)
	}
}

func TestProgressSampler(t *testing.T) {
	s := NewProgressSampler(0.25)

	steps := []struct {
		progress float64
		want     bool
	}{
		{0.0, true},
		{0.1, false},
		{0.25, true},
		{0.3, false},
		{0.2, false},
		{0.8, true},
		{1.5, true},
		{1.0, false},
		{-1, false},
	}

	for _, step := range steps {
		if got := s.ShouldLog(step.progress); got != step.want {
			t.Errorf("ShouldLog(%v) = %v, want %v", step.progress, got, step.want)
		}
	}

	var nilSampler *ProgressSampler
	if !nilSampler.ShouldLog(0.5) {
		t.Error("nil sampler should always log")
	}
}

func TestLockDir(t *testing.T) {
	dir := t.TempDir()

	first, err := LockDir(dir)
	if err != nil {
		t.Fatalf("failed to take lock: %v", err)
	}

	if _, err := LockDir(dir); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked for second lock, got %v", err)
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("failed to unlock: %v", err)
	}

	second, err := LockDir(dir)
	if err != nil {
		t.Fatalf("expected lock after release: %v", err)
	}
	defer second.Unlock()

	var none *DirLock
	if err := none.Unlock(); err != nil {
		t.Errorf("nil unlock should be a no-op: %v", err)
	}
}

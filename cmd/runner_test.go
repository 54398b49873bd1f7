package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
	tu "github.com/desertthunder/crate/internal/testing"
)

var audio = bytes.Repeat([]byte("0123456789abcdef"), 40)

type testRunner struct {
	*Runner
	dir     string
	out     *bytes.Buffer
	fetcher *tu.MockFetcher
}

func newTestRunner(t *testing.T) *testRunner {
	t.Helper()

	dir := t.TempDir()
	config := shared.DefaultConfig()
	config.Database.Path = filepath.Join(dir, "crate.db")
	config.Storage.DataDir = dir
	config.Downloads.RateLimit = 0
	config.Downloads.ProgressIntervalMS = 1

	fetcher := tu.NewMockFetcher()
	describer := &tu.MockDescriber{Items: map[string]models.Item{}}
	for _, id := range []string{"a", "b", "c"} {
		fetcher.Set(id, audio)
		describer.Items[id] = models.Item{ID: id, Title: "Song " + id, Artist: "Artist", Album: "Album", DurationMs: 200000}
	}

	out := &bytes.Buffer{}
	r := NewRunner(RunnerOpts{
		Config:    config,
		Logger:    shared.NewLogger(io.Discard),
		Output:    out,
		Fetcher:   fetcher,
		Describer: describer,
	})
	t.Cleanup(func() { r.close() })

	return &testRunner{Runner: r, dir: dir, out: out, fetcher: fetcher}
}

// run executes one CLI invocation and returns what it printed.
func (tr *testRunner) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	tr.out.Reset()
	err := tr.app().Run(context.Background(), append([]string{"crate"}, args...))
	return tr.out.String(), err
}

func (tr *testRunner) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := tr.run(t, args...)
	if err != nil {
		t.Fatalf("crate %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func (tr *testRunner) queueIDs(t *testing.T) []string {
	t.Helper()
	var entries []models.QueueEntry
	if err := json.Unmarshal([]byte(tr.mustRun(t, "queue", "show", "--json")), &entries); err != nil {
		t.Fatalf("decode queue: %v", err)
	}
	return models.EntryIDs(entries)
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			fetcher := tu.NewMockFetcher()

			runner := NewRunner(RunnerOpts{
				Config:     config,
				ConfigPath: "/test/path/config.toml",
				Logger:     logger,
				Output:     output,
				Fetcher:    fetcher,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.fetcher != fetcher {
				t.Error("expected fetcher to be set")
			}
			if runner.configPath != "/test/path/config.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
		})

		t.Run("with nil logger uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
		})

		t.Run("with nil output uses stdout", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})
			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			expected := `{"key":"value"}` + "\n"
			if output.String() != expected {
				t.Errorf("expected %q, got %q", expected, output.String())
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			// channels cannot be marshaled to JSON
			err := runner.writeJSON(make(chan int), false)
			if err == nil || !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		output := &bytes.Buffer{}
		runner := NewRunner(RunnerOpts{Output: output})

		if err := runner.writePlain("hello %s", "world"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if output.String() != "hello world" {
			t.Errorf("expected 'hello world', got %q", output.String())
		}

		failing := NewRunner(RunnerOpts{Output: &tu.FWriter{}})
		if err := failing.writePlain("test"); err == nil {
			t.Error("expected error from failing writer")
		}
	})

	t.Run("register", func(t *testing.T) {
		commands := NewRunner(RunnerOpts{}).register()

		var names []string
		for _, cmd := range commands {
			names = append(names, cmd.Name)
		}
		for _, want := range []string{"setup", "queue", "download", "offline", "monitor", "serve"} {
			if !slices.Contains(names, want) {
				t.Errorf("expected %q command, got %v", want, names)
			}
		}
	})
}

func TestSetupCommands(t *testing.T) {
	t.Run("setup database creates schema and directories", func(t *testing.T) {
		tr := newTestRunner(t)
		configPath := filepath.Join(tr.dir, "config.toml")
		dbPath := filepath.Join(tr.dir, "setup.db")
		config := fmt.Sprintf("[database]\npath = %q\n\n[storage]\ndata_dir = %q\n", dbPath, tr.dir)
		if err := os.WriteFile(configPath, []byte(config), 0o644); err != nil {
			t.Fatal(err)
		}

		out := tr.mustRun(t, "--config", configPath, "setup", "database")

		tu.AssertFileExists(t, dbPath)
		tu.AssertDirExists(t, filepath.Join(tr.dir, "offline_music"))
		tu.AssertDirExists(t, filepath.Join(tr.dir, "offline_covers"))
		if !strings.Contains(out, "Database ready") {
			t.Errorf("unexpected output %q", out)
		}
	})

	t.Run("setup config refuses to overwrite", func(t *testing.T) {
		tr := newTestRunner(t)
		configPath := filepath.Join(tr.dir, "config.toml")

		tr.mustRun(t, "--config", configPath, "setup", "config")
		if _, err := tr.run(t, "--config", configPath, "setup", "config"); err == nil {
			t.Error("expected error for existing config file")
		}
	})

	t.Run("invalid config is rejected", func(t *testing.T) {
		tr := newTestRunner(t)
		configPath := filepath.Join(tr.dir, "bad.toml")
		if err := os.WriteFile(configPath, []byte("[downloads]\nworkers = 0\n"), 0o644); err != nil {
			t.Fatal(err)
		}

		_, err := tr.run(t, "--config", configPath, "queue", "show")
		if !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestQueueCommands(t *testing.T) {
	tr := newTestRunner(t)

	t.Run("empty queue", func(t *testing.T) {
		if out := tr.mustRun(t, "queue", "show"); !strings.Contains(out, "Queue is empty") {
			t.Errorf("unexpected output %q", out)
		}
	})

	t.Run("set, add, move and remove", func(t *testing.T) {
		tr.mustRun(t, "queue", "set", "--start", "1", "a", "b", "c")
		if got := tr.queueIDs(t); !slices.Equal(got, []string{"a", "b", "c"}) {
			t.Fatalf("after set: %v", got)
		}

		out := tr.mustRun(t, "queue", "show")
		if !strings.Contains(out, "Last played: #1 (b)") {
			t.Errorf("expected last played marker, got:\n%s", out)
		}

		tr.mustRun(t, "queue", "add", "--at", "1", "d")
		if got := tr.queueIDs(t); !slices.Equal(got, []string{"a", "d", "b", "c"}) {
			t.Fatalf("after add: %v", got)
		}

		tr.mustRun(t, "queue", "add", "e")
		if got := tr.queueIDs(t); !slices.Equal(got, []string{"a", "d", "b", "c", "e"}) {
			t.Fatalf("after append: %v", got)
		}

		tr.mustRun(t, "queue", "move", "0", "4")
		if got := tr.queueIDs(t); !slices.Equal(got, []string{"d", "b", "c", "e", "a"}) {
			t.Fatalf("after move: %v", got)
		}

		tr.mustRun(t, "queue", "remove", "1", "3")
		if got := tr.queueIDs(t); !slices.Equal(got, []string{"d", "e", "a"}) {
			t.Fatalf("after range remove: %v", got)
		}

		tr.mustRun(t, "queue", "remove", "0")
		if got := tr.queueIDs(t); !slices.Equal(got, []string{"e", "a"}) {
			t.Fatalf("after remove: %v", got)
		}
	})

	t.Run("shuffle keeps pinned entry first", func(t *testing.T) {
		tr.mustRun(t, "queue", "set", "a", "b", "c", "d")
		tr.mustRun(t, "queue", "shuffle", "--keep", "2")

		got := tr.queueIDs(t)
		if got[0] != "c" || len(got) != 4 {
			t.Errorf("expected c first of 4, got %v", got)
		}
	})

	t.Run("bad indices", func(t *testing.T) {
		if _, err := tr.run(t, "queue", "remove", "x"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
		if _, err := tr.run(t, "queue", "move", "1"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
		if _, err := tr.run(t, "queue", "set"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("clear", func(t *testing.T) {
		tr.mustRun(t, "queue", "clear")
		if got := tr.queueIDs(t); len(got) != 0 {
			t.Errorf("expected empty queue, got %v", got)
		}
	})
}

func TestDownloadCommands(t *testing.T) {
	t.Run("get --wait downloads and registers the track", func(t *testing.T) {
		tr := newTestRunner(t)

		out := tr.mustRun(t, "download", "get", "--quality", "high", "a")
		if !strings.Contains(out, "✓ Artist - Song a") {
			t.Errorf("expected completion line, got:\n%s", out)
		}

		var tracks []*models.OfflineTrack
		if err := json.Unmarshal([]byte(tr.mustRun(t, "offline", "list", "--json")), &tracks); err != nil {
			t.Fatalf("decode tracks: %v", err)
		}
		if len(tracks) != 1 || tracks[0].ID != "a" || tracks[0].Quality != models.QualityHigh {
			t.Fatalf("unexpected tracks %+v", tracks)
		}
		if tracks[0].FileSize != int64(len(audio)) {
			t.Errorf("expected size %d, got %d", len(audio), tracks[0].FileSize)
		}
		tu.AssertFileExists(t, tracks[0].LocalFilePath)

		again := tr.mustRun(t, "download", "get", "a")
		if !strings.Contains(again, "✓ Artist - Song a") {
			t.Errorf("expected completed job to be reported, got:\n%s", again)
		}
		if calls := tr.fetcher.Calls("a"); calls != 1 {
			t.Errorf("expected a single fetch, got %d", calls)
		}
	})

	t.Run("get without --wait leaves the job pending", func(t *testing.T) {
		tr := newTestRunner(t)

		tr.mustRun(t, "download", "get", "--wait=false", "b")

		var jobs []*models.DownloadJob
		if err := json.Unmarshal([]byte(tr.mustRun(t, "download", "active", "--json")), &jobs); err != nil {
			t.Fatalf("decode jobs: %v", err)
		}
		if len(jobs) != 1 || jobs[0].Status != models.JobPending {
			t.Fatalf("expected one pending job, got %+v", jobs)
		}
		if tr.fetcher.Calls("b") != 0 {
			t.Error("expected no fetch without --wait")
		}

		tr.mustRun(t, "download", "cancel", "b")
		if out := tr.mustRun(t, "download", "status"); !strings.Contains(out, "No downloads") {
			t.Errorf("expected no jobs after cancel, got:\n%s", out)
		}
	})

	t.Run("failed download reports and retries", func(t *testing.T) {
		tr := newTestRunner(t)
		tr.fetcher.SetError("c", errors.New("upstream unavailable"))

		out, err := tr.run(t, "download", "get", "c")
		if err == nil {
			t.Fatal("expected failure")
		}
		if !strings.Contains(out, "upstream unavailable") {
			t.Errorf("expected failure reason, got:\n%s", out)
		}

		status := tr.mustRun(t, "download", "status", "c")
		if !strings.Contains(status, "failed") {
			t.Errorf("expected failed status, got:\n%s", status)
		}

		tr.fetcher.SetError("c", nil)
		tr.mustRun(t, "download", "retry", "c")

		var jobs []*models.DownloadJob
		if err := json.Unmarshal([]byte(tr.mustRun(t, "download", "status", "--json", "c")), &jobs); err != nil {
			t.Fatalf("decode job: %v", err)
		}
		if len(jobs) != 1 || jobs[0].Status != models.JobCompleted {
			t.Errorf("expected completed after retry, got %+v", jobs)
		}
	})

	t.Run("errors", func(t *testing.T) {
		tr := newTestRunner(t)

		if _, err := tr.run(t, "download", "get", "--quality", "ultra", "a"); !errors.Is(err, shared.ErrInvalidQuality) {
			t.Errorf("expected ErrInvalidQuality, got %v", err)
		}
		if _, err := tr.run(t, "download", "get", "unknown"); !errors.Is(err, shared.ErrItemNotFound) {
			t.Errorf("expected ErrItemNotFound, got %v", err)
		}
		if _, err := tr.run(t, "download", "status", "nope"); !errors.Is(err, shared.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
		if _, err := tr.run(t, "download", "retry", "nope"); !errors.Is(err, shared.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
	})
}

func TestOfflineCommands(t *testing.T) {
	tr := newTestRunner(t)
	tr.mustRun(t, "download", "get", "a", "b")

	t.Run("list renders a table with totals", func(t *testing.T) {
		out := tr.mustRun(t, "offline", "list")
		for _, want := range []string{"Song a", "Song b", "2 tracks"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in:\n%s", want, out)
			}
		}
	})

	t.Run("list filters by artist", func(t *testing.T) {
		if out := tr.mustRun(t, "offline", "list", "--artist", "Nobody"); !strings.Contains(out, "No offline tracks") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("export writes the requested format", func(t *testing.T) {
		path := filepath.Join(tr.dir, "export.json")
		tr.mustRun(t, "offline", "export", "--format", "json", "--output", path)

		var tracks []*models.OfflineTrack
		if err := json.Unmarshal([]byte(tu.MustReadFile(t, path)), &tracks); err != nil {
			t.Fatalf("decode export: %v", err)
		}
		if len(tracks) != 2 {
			t.Errorf("expected 2 exported tracks, got %d", len(tracks))
		}

		if _, err := tr.run(t, "offline", "export", "--format", "xml"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("verify drops tracks with missing files", func(t *testing.T) {
		var tracks []*models.OfflineTrack
		if err := json.Unmarshal([]byte(tr.mustRun(t, "offline", "list", "--json")), &tracks); err != nil {
			t.Fatalf("decode tracks: %v", err)
		}
		for _, track := range tracks {
			if track.ID == "b" {
				os.Remove(track.LocalFilePath)
			}
		}

		out := tr.mustRun(t, "offline", "verify")
		if !strings.Contains(out, "• b") {
			t.Errorf("expected b to be reported, got:\n%s", out)
		}
		if out := tr.mustRun(t, "offline", "verify"); !strings.Contains(out, "intact") {
			t.Errorf("expected clean second sweep, got:\n%s", out)
		}
	})

	t.Run("remove deletes the track", func(t *testing.T) {
		tr.mustRun(t, "offline", "remove", "a")
		tu.AssertNoPrefix(t, tr.config.Storage.MediaPath(), "a.")
	})

	t.Run("clear requires confirmation", func(t *testing.T) {
		if _, err := tr.run(t, "offline", "clear"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
		tr.mustRun(t, "offline", "clear", "--yes")
		if out := tr.mustRun(t, "offline", "list"); !strings.Contains(out, "No offline tracks") {
			t.Errorf("expected empty library, got:\n%s", out)
		}
	})
}

package normalizer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/mholt/archives"
)

var payload = bytes.Repeat([]byte("not really audio but long enough to matter "), 64)

func compress(t *testing.T, c archives.Compression, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	w, err := c.OpenWriter(&buf)
	if err != nil {
		t.Fatalf("failed to open %s writer: %v", c.Extension(), err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("failed to compress: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func newTrack(dir, id, name string, quality models.Quality, codec string) *models.OfflineTrack {
	return &models.OfflineTrack{
		ID:            id,
		Title:         "Song",
		LocalFilePath: filepath.Join(dir, name),
		Quality:       quality,
		Codec:         codec,
		DownloadedAt:  time.Now(),
	}
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestNormalize(t *testing.T) {
	ctx := context.Background()
	n := New(WithLogger(nil))

	t.Run("gzip content is decompressed to canonical name", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "track2.gz"), compress(t, archives.Gz{}, payload))
		track := newTrack(dir, "track2", "track2.gz", models.QualityMedium, "")

		got, err := n.Normalize(ctx, track)
		if err != nil {
			t.Fatalf("normalize failed: %v", err)
		}

		want := filepath.Join(dir, "track2.mp3")
		if got.LocalFilePath != want {
			t.Errorf("expected path %s, got %s", want, got.LocalFilePath)
		}
		if got.FileSize != int64(len(payload)) {
			t.Errorf("expected size %d, got %d", len(payload), got.FileSize)
		}
		if got.Codec != "mp3" {
			t.Errorf("expected codec fallback mp3, got %q", got.Codec)
		}

		data, err := os.ReadFile(want)
		if err != nil || !bytes.Equal(data, payload) {
			t.Errorf("decompressed content mismatch (err %v)", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "track2.gz")); !os.IsNotExist(err) {
			t.Error("gzip original should be removed")
		}
		if names := dirEntries(t, dir); len(names) != 1 {
			t.Errorf("expected only the canonical file, found %v", names)
		}
	})

	t.Run("gzip content under the canonical name", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "t.flac"), compress(t, archives.Gz{}, payload))
		track := newTrack(dir, "t", "t.flac", models.QualityLossless, "flac")

		got, err := n.Normalize(ctx, track)
		if err != nil {
			t.Fatalf("normalize failed: %v", err)
		}
		if got.LocalFilePath != filepath.Join(dir, "t.flac") || got.FileSize != int64(len(payload)) {
			t.Errorf("unexpected result: %+v", got)
		}
	})

	t.Run("zstd content is decompressed", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "z.mp3"), compress(t, archives.Zstd{}, payload))
		track := newTrack(dir, "z", "z.mp3", models.QualityHigh, "mp3")

		got, err := n.Normalize(ctx, track)
		if err != nil {
			t.Fatalf("normalize failed: %v", err)
		}
		data, _ := os.ReadFile(got.LocalFilePath)
		if !bytes.Equal(data, payload) {
			t.Error("expected zstd content to be decoded")
		}
	})

	t.Run("codec substitution is detected and renamed", func(t *testing.T) {
		dir := t.TempDir()
		flac := append([]byte("fLaC"), bytes.Repeat([]byte{0}, 200)...)
		writeFile(t, filepath.Join(dir, "sub.mp3"), flac)
		track := newTrack(dir, "sub", "sub.mp3", models.QualityMedium, "")

		got, err := n.Normalize(ctx, track)
		if err != nil {
			t.Fatalf("normalize failed: %v", err)
		}
		if got.Codec != "flac" {
			t.Errorf("expected sniffed codec flac, got %q", got.Codec)
		}
		if got.LocalFilePath != filepath.Join(dir, "sub.flac") {
			t.Errorf("expected rename to sub.flac, got %s", got.LocalFilePath)
		}
		if _, err := os.Stat(filepath.Join(dir, "sub.mp3")); !os.IsNotExist(err) {
			t.Error("old name should be gone")
		}
	})

	t.Run("stored codec drives the extension", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "a.mp3"), payload)
		track := newTrack(dir, "a", "a.mp3", models.QualityMedium, "aac")

		got, err := n.Normalize(ctx, track)
		if err != nil {
			t.Fatalf("normalize failed: %v", err)
		}
		if got.LocalFilePath != filepath.Join(dir, "a.m4a") {
			t.Errorf("expected a.m4a, got %s", got.LocalFilePath)
		}
	})

	t.Run("stale size is corrected", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "s.mp3"), payload)
		track := newTrack(dir, "s", "s.mp3", models.QualityMedium, "mp3")
		track.FileSize = 1

		got, err := n.Normalize(ctx, track)
		if err != nil {
			t.Fatalf("normalize failed: %v", err)
		}
		if got.FileSize != int64(len(payload)) {
			t.Errorf("expected size %d, got %d", len(payload), got.FileSize)
		}
		if track.FileSize != 1 {
			t.Error("input track must not be mutated")
		}
	})

	t.Run("missing file is returned unchanged", func(t *testing.T) {
		track := newTrack(t.TempDir(), "gone", "gone.mp3", models.QualityMedium, "")

		got, err := n.Normalize(ctx, track)
		if err != nil {
			t.Fatalf("normalize failed: %v", err)
		}
		if got != track {
			t.Error("expected the same record back")
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "i.bin"), compress(t, archives.Gz{}, payload))
		track := newTrack(dir, "i", "i.bin", models.QualityLossless, "")

		once, err := n.Normalize(ctx, track)
		if err != nil {
			t.Fatalf("first normalize failed: %v", err)
		}
		twice, err := n.Normalize(ctx, once)
		if err != nil {
			t.Fatalf("second normalize failed: %v", err)
		}

		if twice != once {
			t.Error("second pass should return the record unchanged")
		}
		if once.LocalFilePath != twice.LocalFilePath || once.FileSize != twice.FileSize {
			t.Errorf("results differ: %+v vs %+v", once, twice)
		}
	})

	t.Run("cancelled decompression leaves the original", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "c.gz"), compress(t, archives.Gz{}, payload))
		track := newTrack(dir, "c", "c.gz", models.QualityMedium, "")

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		if _, err := n.Normalize(cctx, track); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		names := dirEntries(t, dir)
		if len(names) != 1 || names[0] != "c.gz" {
			t.Errorf("expected only the original to remain, got %v", names)
		}
	})

	t.Run("nil track", func(t *testing.T) {
		if _, err := n.Normalize(ctx, nil); err == nil {
			t.Error("expected error for nil track")
		}
	})
}

func TestDetect(t *testing.T) {
	ctx := context.Background()
	n := New()

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"gzip", compress(t, archives.Gz{}, payload), ".gz"},
		{"zstd", compress(t, archives.Zstd{}, payload), ".zst"},
		{"plain", payload, ""},
		{"empty", nil, ""},
		{"id3", append([]byte("ID3\x04\x00"), payload...), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := n.detect(ctx, tt.data)
			got := ""
			if c != nil {
				got = c.Extension()
			}
			if got != tt.want {
				t.Errorf("detect() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mp3")
	dst := filepath.Join(dir, "dst.mp3")
	writeFile(t, src, []byte("hello"))

	if err := MoveFile(src, src); err != nil {
		t.Errorf("moving onto itself should be a no-op: %v", err)
	}
	if err := MoveFile(src, dst); err != nil {
		t.Fatalf("move failed: %v", err)
	}

	f, err := os.Open(dst)
	if err != nil {
		t.Fatalf("destination missing: %v", err)
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	if !strings.EqualFold(string(data), "hello") {
		t.Errorf("unexpected content %q", data)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source should be removed")
	}

	if err := CopyFile(filepath.Join(dir, "missing"), dst); err == nil {
		t.Error("expected error copying a missing file")
	}
}

// package normalizer repairs downloaded media files so their on-disk form matches what the catalog promises:
// decompressed, named {id}.{ext}, with the extension of the codec actually delivered.
package normalizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/dhowden/tag"
	"github.com/mholt/archives"
)

// headerSize is how many leading bytes are inspected for magic numbers.
const headerSize = 512

// defaultCompressions are the transport compressions checked on every file, gzip first.
func defaultCompressions() []archives.Compression {
	return []archives.Compression{archives.Gz{}, archives.Zstd{}, archives.Bz2{}, archives.Xz{}, archives.Lz4{}}
}

// Normalizer implements the repair step for offline tracks.
// It is stateless apart from its configuration and safe for concurrent use on different tracks.
type Normalizer struct {
	compressions []archives.Compression
	logger       *log.Logger
}

// Option configures a [Normalizer].
type Option func(*Normalizer)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(n *Normalizer) { n.logger = l }
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{compressions: defaultCompressions()}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = shared.NewLogger(nil)
	}
	n.logger = shared.WithLogger(n.logger, "component", "normalizer")
	return n
}

// Normalize returns a corrected copy of track, or track itself when nothing changed.
//
//  1. A missing file is left alone; the integrity sweep owns that case.
//  2. A compressed file is decompressed into {id}.{quality ext} and the original removed.
//  3. An empty codec is filled in by sniffing the container, falling back to the quality's codec.
//  4. A file whose extension differs from the codec's is renamed (copy then delete across devices).
//  5. Path and size are refreshed from disk.
func (n *Normalizer) Normalize(ctx context.Context, track *models.OfflineTrack) (*models.OfflineTrack, error) {
	if track == nil {
		return nil, fmt.Errorf("%w: nil track", shared.ErrInvalidArgument)
	}

	if _, err := os.Stat(track.LocalFilePath); errors.Is(err, fs.ErrNotExist) {
		return track, nil
	} else if err != nil {
		return nil, fmt.Errorf("stat %s: %w", track.LocalFilePath, err)
	}

	out := track.Clone()

	header, err := readHeader(out.LocalFilePath)
	if err != nil {
		return nil, err
	}

	if c := n.detect(ctx, header); c != nil {
		final := filepath.Join(filepath.Dir(out.LocalFilePath), out.ID+"."+out.Quality.Ext())
		if err := n.decompress(ctx, c, out.LocalFilePath, final, out.ID); err != nil {
			return nil, err
		}
		n.logger.Info("decompressed track", "track", out.ID, "format", c.Extension(), "path", final)
		out.LocalFilePath = final
	}

	if out.Codec == "" {
		out.Codec = sniffCodec(out.LocalFilePath)
		if out.Codec == "" {
			out.Codec = out.Quality.Codec()
		}
	}

	if canonical := out.CanonicalPath(); canonical != out.LocalFilePath {
		if err := MoveFile(out.LocalFilePath, canonical); err != nil {
			return nil, fmt.Errorf("rename %s: %w", out.LocalFilePath, err)
		}
		n.logger.Info("renamed track", "track", out.ID, "from", out.LocalFilePath, "to", canonical)
		out.LocalFilePath = canonical
	}

	info, err := os.Stat(out.LocalFilePath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", out.LocalFilePath, err)
	}
	out.FileSize = info.Size()

	if *out == *track {
		return track, nil
	}
	return out, nil
}

// detect returns the first compression whose magic number matches header.
func (n *Normalizer) detect(ctx context.Context, header []byte) archives.Compression {
	for _, c := range n.compressions {
		match, err := c.Match(ctx, "", bytes.NewReader(header))
		if err != nil {
			continue
		}
		if match.ByStream {
			return c
		}
	}
	return nil
}

// decompress writes the decoded content of src to an id-prefixed temp file, removes src and moves the temp file to dst.
func (n *Normalizer) decompress(ctx context.Context, c archives.Compression, src, dst, id string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	rc, err := c.OpenReader(in)
	if err != nil {
		return fmt.Errorf("open %s stream: %w", c.Extension(), err)
	}
	defer rc.Close()

	tmp := filepath.Join(filepath.Dir(src), id+"."+shared.GenerateID()+".tmp")
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: rc}); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("decompress %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}

	in.Close()
	if err := os.Remove(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
		os.Remove(tmp)
		return fmt.Errorf("remove compressed original: %w", err)
	}

	if tmp == dst {
		return nil
	}
	return MoveFile(tmp, dst)
}

// MoveFile renames src to dst, falling back to copy then delete when rename fails (e.g. across filesystems).
func MoveFile(src, dst string) error {
	if src == dst {
		return nil
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	if err := CopyFile(src, dst); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

// CopyFile streams src to dst with mode 0644, truncating dst.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// sniffCodec identifies the audio container of path, or "" when unknown.
func sniffCodec(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	_, fileType, err := tag.Identify(f)
	if err != nil {
		return ""
	}

	switch fileType {
	case tag.MP3:
		return "mp3"
	case tag.FLAC:
		return "flac"
	case tag.ALAC:
		return "alac"
	case tag.M4A, tag.M4B, tag.M4P:
		return "aac"
	case tag.OGG:
		return "ogg"
	}
	return ""
}

func readHeader(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, headerSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	return buf[:n], nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

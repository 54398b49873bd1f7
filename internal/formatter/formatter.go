// package formatter renders jobs, queue entries and offline tracks for the terminal and exports the catalog
// to CSV, Markdown, plain text or JSON.
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Export formats accepted by [Export] and [WriteExport].
const (
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
	FormatText     = "txt"
	FormatJSON     = "json"
)

// Formats lists the supported export formats.
func Formats() []string {
	return []string{FormatCSV, FormatMarkdown, FormatText, FormatJSON}
}

// FormatDuration renders milliseconds as m:ss, or h:mm:ss past an hour.
func FormatDuration(ms int64) string {
	if ms <= 0 {
		return "0:00"
	}
	total := ms / 1000
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// FormatBytes renders a byte count in SI units, "-" when unknown.
func FormatBytes(n int64) string {
	if n <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(n))
}

// FormatProgress renders a job's progress as a percentage with byte counts when known.
func FormatProgress(job *models.DownloadJob) string {
	pct := fmt.Sprintf("%3.0f%%", job.Progress*100)
	if job.TotalBytes > 0 {
		return fmt.Sprintf("%s (%s / %s)", pct, FormatBytes(job.BytesDownloaded), FormatBytes(job.TotalBytes))
	}
	if job.BytesDownloaded > 0 {
		return fmt.Sprintf("%s (%s)", pct, FormatBytes(job.BytesDownloaded))
	}
	return pct
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	return tw
}

func rightAlign(cols ...int) []table.ColumnConfig {
	configs := make([]table.ColumnConfig, 0, len(cols))
	for _, n := range cols {
		configs = append(configs, table.ColumnConfig{Number: n, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	return configs
}

// JobsTable renders download jobs, one row per job.
func JobsTable(jobs []*models.DownloadJob) string {
	tw := newTable()
	tw.AppendHeader(table.Row{"Item", "Track", "Quality", "Status", "Progress", "Updated"})
	for _, job := range jobs {
		status := job.Status.String()
		if job.ErrorMessage != "" {
			status += ": " + job.ErrorMessage
		}
		tw.AppendRow(table.Row{
			job.ItemID,
			job.Metadata.DisplayName(),
			job.Quality,
			status,
			FormatProgress(job),
			humanize.Time(job.UpdatedAt),
		})
	}
	tw.SetColumnConfigs(rightAlign(5))
	return tw.Render()
}

// QueueTable renders the play queue in order.
func QueueTable(entries []models.QueueEntry) string {
	tw := newTable()
	tw.AppendHeader(table.Row{"#", "Item", "Last Played", "Paused At"})
	for _, e := range entries {
		played := "-"
		if e.LastPlayedAt != nil {
			played = humanize.Time(*e.LastPlayedAt)
		}
		paused := "-"
		if e.PausedPositionMs > 0 {
			paused = FormatDuration(e.PausedPositionMs)
		}
		tw.AppendRow(table.Row{e.Order, e.ID, played, paused})
	}
	tw.SetColumnConfigs(rightAlign(1, 4))
	return tw.Render()
}

// TracksTable renders the offline catalog with a size footer.
func TracksTable(tracks []*models.OfflineTrack) string {
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Artist", "Title", "Album", "Length", "Size", "Format", "Downloaded"})

	var total int64
	for _, t := range tracks {
		total += t.FileSize
		tw.AppendRow(table.Row{
			t.ID,
			t.Artist,
			t.Title,
			t.Album,
			FormatDuration(t.DurationMs),
			FormatBytes(t.FileSize),
			fmt.Sprintf("%s/%s", t.Codec, t.Quality),
			humanize.Time(t.DownloadedAt),
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", FormatBytes(total), fmt.Sprintf("%d tracks", len(tracks)), ""})
	tw.SetColumnConfigs(rightAlign(5, 6))
	return tw.Render()
}

// ToJSON encodes v as indented JSON.
func ToJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}
	return append(data, '\n'), nil
}

// ExportToCSV converts tracks to CSV with columns: ID, Title, Artist, Album, Duration, Size, Quality, Codec, Path
func ExportToCSV(tracks []*models.OfflineTrack) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Title", "Artist", "Album", "Duration", "Size", "Quality", "Codec", "Path"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, t := range tracks {
		record := []string{
			t.ID,
			t.Title,
			t.Artist,
			t.Album,
			strconv.FormatInt(t.DurationMs, 10),
			strconv.FormatInt(t.FileSize, 10),
			string(t.Quality),
			t.Codec,
			t.LocalFilePath,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts tracks to a Markdown document grouped by artist and album.
func ExportToMarkdown(tracks []*models.OfflineTrack) ([]byte, error) {
	var buf bytes.Buffer
	var total int64
	for _, t := range tracks {
		total += t.FileSize
	}

	buf.WriteString("# Offline Library\n\n")
	fmt.Fprintf(&buf, "**Tracks**: %d\n", len(tracks))
	fmt.Fprintf(&buf, "**Size**: %s\n\n", FormatBytes(total))

	var artist, album string
	for i, t := range tracks {
		newArtist := i == 0 || t.Artist != artist
		if newArtist {
			artist = t.Artist
			fmt.Fprintf(&buf, "## %s\n\n", orUnknown(artist))
		}
		if newArtist || t.Album != album {
			album = t.Album
			fmt.Fprintf(&buf, "### %s\n\n", orUnknown(album))
		}
		fmt.Fprintf(&buf, "- %s [%s] (%s, %s)\n", orUnknown(t.Title), FormatDuration(t.DurationMs), t.Codec, FormatBytes(t.FileSize))
	}

	return buf.Bytes(), nil
}

// ExportToText converts tracks to plain text format
func ExportToText(tracks []*models.OfflineTrack) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Offline tracks: %d\n\n", len(tracks))
	for i, t := range tracks {
		fmt.Fprintf(&buf, "%d. %s - %s\n", i+1, orUnknown(t.Artist), orUnknown(t.Title))
	}

	return buf.Bytes(), nil
}

// Export renders tracks in format.
func Export(tracks []*models.OfflineTrack, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case FormatCSV:
		return ExportToCSV(tracks)
	case FormatMarkdown, "md":
		return ExportToMarkdown(tracks)
	case FormatText, "text":
		return ExportToText(tracks)
	case FormatJSON:
		return ToJSON(tracks)
	}
	return nil, fmt.Errorf("%w: unsupported format %q (use one of %s)", shared.ErrInvalidArgument, format, strings.Join(Formats(), ", "))
}

// WriteExport renders tracks in format and writes them to path.
//
// Defaults to offline_{epoch}.{ext} when path is empty. Returns the path written.
func WriteExport(tracks []*models.OfflineTrack, format, path string) (string, error) {
	data, err := Export(tracks, format)
	if err != nil {
		return "", err
	}

	if path == "" {
		ext := strings.ToLower(format)
		if ext == FormatMarkdown {
			ext = "md"
		}
		path = fmt.Sprintf("offline_%d.%s", time.Now().Unix(), ext)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	return path, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

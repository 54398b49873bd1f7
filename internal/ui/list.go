package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/crate/internal/formatter"
	"github.com/desertthunder/crate/internal/models"
)

var _ list.Item = trackItem{}

// trackItem wraps [models.OfflineTrack] to implement [list.Item].
type trackItem struct {
	track *models.OfflineTrack
}

func (i trackItem) FilterValue() string { return i.track.Artist + " " + i.track.Title }
func (i trackItem) Title() string       { return i.track.Title }
func (i trackItem) Description() string {
	desc := i.track.Artist
	if i.track.Album != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.track.Album)
	}
	return fmt.Sprintf("%s • %s • %s", desc, formatter.FormatDuration(i.track.DurationMs), formatter.FormatBytes(i.track.FileSize))
}

func trackItems(tracks []*models.OfflineTrack) []list.Item {
	items := make([]list.Item, len(tracks))
	for i, t := range tracks {
		items[i] = trackItem{track: t}
	}
	return items
}

package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgEvent MsgKind = iota
	MsgEventsClosed
	MsgJobsLoaded
	MsgTracksLoaded
	MsgActionDone
)

type tracksLoaded struct {
	tracks []*models.OfflineTrack
	err    error
}

type actionDone struct {
	status string
	err    error
}

// eventMsg is the constructor for [MsgEvent]
func eventMsg(e tasks.Event) Msg {
	return Msg{kind: MsgEvent, data: e}
}

// eventsClosedMsg is the constructor for [MsgEventsClosed]
func eventsClosedMsg() Msg {
	return Msg{kind: MsgEventsClosed}
}

// jobsLoadedMsg is the constructor for [MsgJobsLoaded]
func jobsLoadedMsg(jobs []*models.DownloadJob) Msg {
	return Msg{kind: MsgJobsLoaded, data: jobs}
}

// tracksLoadedMsg is the constructor for [MsgTracksLoaded]
func tracksLoadedMsg(tracks []*models.OfflineTrack, err error) Msg {
	return Msg{kind: MsgTracksLoaded, data: tracksLoaded{tracks, err}}
}

// actionDoneMsg is the constructor for [MsgActionDone]
func actionDoneMsg(status string, err error) Msg {
	return Msg{kind: MsgActionDone, data: actionDone{status, err}}
}

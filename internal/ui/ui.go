package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/crate/internal/formatter"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	DownloadsView ViewState = iota
	LibraryView
	ConfirmView
)

// eventBuffer is the subscription depth; progress events beyond it are dropped by the broadcaster.
const eventBuffer = 256

// Controller is the slice of [tasks.Coordinator] the monitor drives.
type Controller interface {
	Subscribe(buffer int) (<-chan tasks.Event, func())
	ListJobs() []*models.DownloadJob
	CancelDownload(ctx context.Context, itemID string) error
	Retry(ctx context.Context, itemID string) (*models.DownloadJob, error)
	OfflineTracks(ctx context.Context, artist, album string) ([]*models.OfflineTrack, error)
	RemoveOfflineTrack(ctx context.Context, itemID string) error
	VerifyIntegrity(ctx context.Context) ([]string, error)
}

var _ Controller = (*tasks.Coordinator)(nil)

// Model represents the TUI application state.
type Model struct {
	ctx         context.Context
	view        ViewState
	ctrl        Controller
	events      <-chan tasks.Event
	unsubscribe func()
	width       int
	height      int
	jobs        []*models.DownloadJob
	cursor      int
	library     list.Model
	pending     *models.OfflineTrack
	bar         progress.Model
	status      string
	err         error
	help        help.Model
	keys        keyMap
}

// NewModel creates the monitor and subscribes to ctrl's events.
func NewModel(ctx context.Context, ctrl Controller) *Model {
	events, unsubscribe := ctrl.Subscribe(eventBuffer)

	library := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	library.Title = "Offline Library"
	library.SetShowHelp(false)

	return &Model{
		ctx:         ctx,
		view:        DownloadsView,
		ctrl:        ctrl,
		events:      events,
		unsubscribe: unsubscribe,
		library:     library,
		bar:         progress.New(progress.WithDefaultGradient(), progress.WithWidth(30), progress.WithoutPercentage()),
		help:        help.New(),
		keys:        newKeyMap(),
	}
}

// Init loads jobs and the catalog, then starts listening for events.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.loadJobs(), m.loadTracks(), m.waitForEvent())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.library.SetSize(msg.Width-4, msg.Height-8)
		m.bar.Width = max(10, min(40, msg.Width-50))
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.quit) && m.view != ConfirmView {
			m.stop()
			return m, tea.Quit
		}
		switch m.view {
		case DownloadsView:
			return m.handleDownloadKeys(msg)
		case LibraryView:
			return m.handleLibraryKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	if m.view == LibraryView {
		var cmd tea.Cmd
		m.library, cmd = m.library.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgEvent:
		return m, m.applyEvent(msg.data.(tasks.Event))

	case MsgEventsClosed:
		m.events = nil
		m.status = "event stream closed"
		return m, nil

	case MsgJobsLoaded:
		m.jobs = msg.data.([]*models.DownloadJob)
		m.clampCursor()
		return m, nil

	case MsgTracksLoaded:
		loaded := msg.data.(tracksLoaded)
		if loaded.err != nil {
			m.err = loaded.err
			return m, nil
		}
		return m, m.library.SetItems(trackItems(loaded.tracks))

	case MsgActionDone:
		done := msg.data.(actionDone)
		m.status = done.status
		m.err = done.err
		return m, tea.Batch(m.loadJobs(), m.loadTracks())
	}
	return m, nil
}

// applyEvent folds one coordinator event into the model and re-arms the listener.
func (m *Model) applyEvent(e tasks.Event) tea.Cmd {
	cmds := []tea.Cmd{m.waitForEvent()}

	switch e.Kind {
	case tasks.JobStatusChanged, tasks.JobProgress:
		if e.Job != nil {
			m.upsertJob(e.Job)
		}
		if e.Job != nil && e.Job.Status == models.JobCompleted {
			cmds = append(cmds, m.loadTracks())
		}
	case tasks.TrackRemoved:
		m.status = fmt.Sprintf("removed %s: %s", e.ItemID, e.Message)
		cmds = append(cmds, m.loadJobs(), m.loadTracks())
	}
	return tea.Batch(cmds...)
}

func (m *Model) upsertJob(job *models.DownloadJob) {
	for i, j := range m.jobs {
		if j.ItemID == job.ItemID {
			m.jobs[i] = job
			return
		}
	}
	m.jobs = append(m.jobs, job)
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.jobs) {
		m.cursor = len(m.jobs) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *Model) selectedJob() *models.DownloadJob {
	if m.cursor < 0 || m.cursor >= len(m.jobs) {
		return nil
	}
	return m.jobs[m.cursor]
}

func (m *Model) handleDownloadKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.tab):
		m.view = LibraryView
	case key.Matches(msg, m.keys.up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.down):
		if m.cursor < len(m.jobs)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.cancel):
		if job := m.selectedJob(); job != nil {
			return m, m.cancelJob(job.ItemID)
		}
	case key.Matches(msg, m.keys.retry):
		if job := m.selectedJob(); job != nil {
			return m, m.retryJob(job.ItemID)
		}
	}
	return m, nil
}

func (m *Model) handleLibraryKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.library.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.library, cmd = m.library.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.tab):
		m.view = DownloadsView
		return m, nil
	case key.Matches(msg, m.keys.verify):
		return m, m.verify()
	case key.Matches(msg, m.keys.remove):
		if selected, ok := m.library.SelectedItem().(trackItem); ok {
			m.pending = selected.track
			m.view = ConfirmView
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.library, cmd = m.library.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.yes):
		id := m.pending.ID
		m.pending = nil
		m.view = LibraryView
		return m, m.removeTrack(id)
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.quit):
		m.pending = nil
		m.view = LibraryView
	}
	return m, nil
}

// stop releases the event subscription. Safe to call more than once.
func (m *Model) stop() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func (m *Model) waitForEvent() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		if events == nil {
			return nil
		}
		e, ok := <-events
		if !ok {
			return eventsClosedMsg()
		}
		return eventMsg(e)
	}
}

func (m *Model) loadJobs() tea.Cmd {
	return func() tea.Msg {
		return jobsLoadedMsg(m.ctrl.ListJobs())
	}
}

func (m *Model) loadTracks() tea.Cmd {
	return func() tea.Msg {
		tracks, err := m.ctrl.OfflineTracks(m.ctx, "", "")
		return tracksLoadedMsg(tracks, err)
	}
}

func (m *Model) cancelJob(id string) tea.Cmd {
	return func() tea.Msg {
		if err := m.ctrl.CancelDownload(m.ctx, id); err != nil {
			return actionDoneMsg("", err)
		}
		return actionDoneMsg("cancelled "+id, nil)
	}
}

func (m *Model) retryJob(id string) tea.Cmd {
	return func() tea.Msg {
		if _, err := m.ctrl.Retry(m.ctx, id); err != nil {
			return actionDoneMsg("", err)
		}
		return actionDoneMsg("retrying "+id, nil)
	}
}

func (m *Model) removeTrack(id string) tea.Cmd {
	return func() tea.Msg {
		if err := m.ctrl.RemoveOfflineTrack(m.ctx, id); err != nil {
			return actionDoneMsg("", err)
		}
		return actionDoneMsg("removed "+id, nil)
	}
}

func (m *Model) verify() tea.Cmd {
	return func() tea.Msg {
		removed, err := m.ctrl.VerifyIntegrity(m.ctx)
		if err != nil {
			return actionDoneMsg("", err)
		}
		return actionDoneMsg(fmt.Sprintf("verified library, %d missing tracks removed", len(removed)), nil)
	}
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	var body string
	switch m.view {
	case DownloadsView:
		body = m.renderDownloads()
	case LibraryView:
		body = m.renderLibrary()
	case ConfirmView:
		body = m.renderConfirm()
	}
	return fmt.Sprintf("%s\n\n%s\n%s", m.renderTabs(), body, m.renderFooter())
}

func (m *Model) renderTabs() string {
	downloads, library := styles.tab, styles.tab
	if m.view == DownloadsView {
		downloads = styles.tabOn
	} else {
		library = styles.tabOn
	}
	return downloads.Render(fmt.Sprintf("Downloads (%d)", len(m.jobs))) + library.Render(fmt.Sprintf("Library (%d)", len(m.library.Items())))
}

func (m *Model) renderDownloads() string {
	if len(m.jobs) == 0 {
		return styles.help.Render("No downloads yet.") + "\n\n" + m.help.ShortHelpView([]key.Binding{m.keys.tab, m.keys.quit})
	}

	var b strings.Builder
	for i, job := range m.jobs {
		cursor := "  "
		name := job.Metadata.DisplayName()
		if i == m.cursor {
			cursor = "▸ "
			name = styles.selected.Render(name)
		}
		fmt.Fprintf(&b, "%s%-40s %s %6s  %s\n",
			cursor, name, m.bar.ViewAs(job.Progress), formatter.FormatProgress(job),
			statusStyle(job.Status.String()).Render(job.Status.String()))
		if job.Status == models.JobFailed && job.ErrorMessage != "" {
			fmt.Fprintf(&b, "    %s\n", styles.err.Render(job.ErrorMessage))
		}
	}

	helpKeys := []key.Binding{m.keys.up, m.keys.down, m.keys.cancel, m.keys.retry, m.keys.tab, m.keys.quit}
	return fmt.Sprintf("%s\n%s", b.String(), m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderLibrary() string {
	helpKeys := []key.Binding{m.keys.remove, m.keys.verify, m.keys.tab, m.keys.quit}
	return fmt.Sprintf("%s\n\n%s", m.library.View(), m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderConfirm() string {
	if m.pending == nil {
		return ""
	}
	title := styles.title.Render(fmt.Sprintf("Remove '%s' from the library?", m.pending.Title))
	info := fmt.Sprintf("\nArtist: %s\nFile: %s (%s)\n", m.pending.Artist, m.pending.LocalFilePath, formatter.FormatBytes(m.pending.FileSize))
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.yes, m.keys.no})
	return fmt.Sprintf("%s\n%s\n%s", title, info, helpView)
}

func (m *Model) renderFooter() string {
	if m.err != nil {
		return styles.err.Render(fmt.Sprintf("Error: %v", m.err))
	}
	if m.status != "" {
		return styles.ok.Render(m.status)
	}
	return ""
}

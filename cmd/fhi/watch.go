// This file implements the live watch UI using bubbletea. The UI is
// presentation only: it drives the orchestrator through Play, Pause,
// Resume, and Stop, and renders the event stream and snapshots.
package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/simulation"
)

const (
	feedKeep     = 200
	snapInterval = 300 * time.Millisecond
)

// Messages for tea updates
type (
	eventMsg simulation.Event
	snapMsg  simulation.Snapshot
	errMsg   error
)

// watchStyles holds the lipgloss styling for the watch view
type watchStyles struct {
	title      lipgloss.Style
	badge      lipgloss.Style
	label      lipgloss.Style
	good       lipgloss.Style
	warn       lipgloss.Style
	bad        lipgloss.Style
	dim        lipgloss.Style
	processing lipgloss.Style
	sending    lipgloss.Style
	receiving  lipgloss.Style
	feed       lipgloss.Style
	help       lipgloss.Style
}

func defaultWatchStyles() watchStyles {
	return watchStyles{
		title:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A")),
		badge:      lipgloss.NewStyle().Foreground(lipgloss.Color("#2196F3")),
		label:      lipgloss.NewStyle().Bold(true),
		good:       lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A")),
		warn:       lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107")),
		bad:        lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935")),
		dim:        lipgloss.NewStyle().Foreground(lipgloss.Color("#5c6773")),
		processing: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107")),
		sending:    lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A")),
		receiving:  lipgloss.NewStyle().Foreground(lipgloss.Color("#2196F3")),
		feed: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#2a3850")).
			Padding(0, 1),
		help: lipgloss.NewStyle().Foreground(lipgloss.Color("#5c6773")),
	}
}

// watchModel is the bubbletea model for a live run
type watchModel struct {
	orch   *simulation.Orchestrator
	runCtx context.Context

	spinner  spinner.Model
	viewport viewport.Model
	styles   watchStyles

	snap   simulation.Snapshot
	feed   []string
	width  int
	height int
	ready  bool
	done   bool
	err    error
}

func newWatchModel(ctx context.Context, orch *simulation.Orchestrator) watchModel {
	styles := defaultWatchStyles()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.good

	vp := viewport.New(80, 12)
	vp.SetContent("")

	return watchModel{
		orch:     orch,
		runCtx:   ctx,
		spinner:  sp,
		viewport: vp,
		styles:   styles,
		snap:     orch.Snapshot(),
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.startRun,
		waitEvent(m.orch.Events()),
		pollSnapshot(m.orch),
	)
}

func (m watchModel) startRun() tea.Msg {
	if err := m.orch.Play(m.runCtx); err != nil {
		return errMsg(err)
	}
	return nil
}

// waitEvent subscribes to the next orchestrator event
func waitEvent(events <-chan simulation.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-events)
	}
}

// pollSnapshot refreshes the status view between events
func pollSnapshot(orch *simulation.Orchestrator) tea.Cmd {
	return tea.Tick(snapInterval, func(time.Time) tea.Msg {
		return snapMsg(orch.Snapshot())
	})
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if st := m.orch.State(); st == simulation.StateRunning || st == simulation.StatePaused {
				_ = m.orch.Stop()
			}
			return m, tea.Quit

		case " ":
			// Space toggles pause at the next tick boundary
			switch m.orch.State() {
			case simulation.StateRunning:
				_ = m.orch.Pause()
			case simulation.StatePaused:
				_ = m.orch.Resume()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		// Header, status, gauges, lamp grid, help, and feed chrome
		fixedHeight := 13
		vpHeight := msg.Height - fixedHeight
		if vpHeight < 3 {
			vpHeight = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = vpHeight
		}
		m.viewport.SetContent(strings.Join(m.feed, "\n"))
		m.viewport.GotoBottom()

	case spinner.TickMsg:
		if !m.done {
			m.spinner, spCmd = m.spinner.Update(msg)
			return m, spCmd
		}

	case eventMsg:
		m.feed = append(m.feed, m.formatEvent(simulation.Event(msg)))
		if len(m.feed) > feedKeep {
			m.feed = m.feed[len(m.feed)-feedKeep:]
		}
		m.viewport.SetContent(strings.Join(m.feed, "\n"))
		m.viewport.GotoBottom()

		if msg.Type == "run_completed" {
			m.done = true
			m.snap = m.orch.Snapshot()
			return m, nil
		}
		return m, waitEvent(m.orch.Events())

	case snapMsg:
		m.snap = simulation.Snapshot(msg)
		if m.done {
			return m, nil
		}
		return m, pollSnapshot(m.orch)

	case errMsg:
		m.err = msg
		m.done = true
	}

	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(vpCmd, spCmd)
}

func (m watchModel) View() string {
	if !m.ready {
		return "Starting watch..."
	}

	header := m.styles.title.Render(" fhiemdien ") + " " + m.styles.badge.Render(m.snap.RunID)
	status := m.renderStatus()
	gauges := m.renderGauges()
	lamps := m.renderLamps()

	feedView := m.styles.feed.Width(m.width - 2).Render(m.viewport.View())

	help := m.styles.help.Render("space pause/resume   q quit")
	if m.done {
		help = m.styles.help.Render("run finished, q to exit")
	}
	if m.err != nil {
		help = m.styles.bad.Render("error: "+m.err.Error()) + "  " + help
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		status,
		"",
		gauges,
		lamps,
		feedView,
		help,
	)
}

func (m watchModel) renderStatus() string {
	backend := "live"
	if m.snap.Offline {
		backend = "offline"
	}
	state := string(m.snap.State)
	switch m.snap.State {
	case simulation.StateRunning:
		state = m.spinner.View() + state
	case simulation.StateCompleted:
		state = m.styles.good.Render(state + " (" + string(m.snap.Reason) + ")")
	case simulation.StateAborted:
		state = m.styles.bad.Render(state)
	case simulation.StatePaused:
		state = m.styles.warn.Render(state)
	}
	return fmt.Sprintf("%s  mode=%s  tick %d/%d  envelopes %d  backend=%s",
		state, m.snap.Mode, m.snap.Tick, m.snap.MaxTicks, m.snap.Messages, backend)
}

func (m watchModel) renderGauges() string {
	return m.styles.label.Render("health    ") + m.gauge(m.snap.Status.Health) + "\n" +
		m.styles.label.Render("stability ") + m.gauge(m.snap.Status.Stability)
}

// gauge renders a 20-cell bar colored by the value's band
func (m watchModel) gauge(v float64) string {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	filled := int(v*20 + 0.5)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", 20-filled)

	style := m.styles.good
	switch {
	case v < 0.4:
		style = m.styles.bad
	case v < 0.7:
		style = m.styles.warn
	}
	return style.Render(bar) + fmt.Sprintf(" %.2f", v)
}

// renderLamps draws the node activity grid, one lamp per station
func (m watchModel) renderLamps() string {
	var rows []string
	var row strings.Builder
	perRow := 6

	for i, n := range ecosystem.AllNodes() {
		act := m.snap.Activity[string(n)]
		dot := m.styles.dim.Render("·")
		switch {
		case act.Processing:
			dot = m.styles.processing.Render("●")
		case act.Sending:
			dot = m.styles.sending.Render("●")
		case act.Receiving:
			dot = m.styles.receiving.Render("●")
		}
		row.WriteString(fmt.Sprintf("%s %-12s", dot, n))
		if (i+1)%perRow == 0 {
			rows = append(rows, row.String())
			row.Reset()
		}
	}
	if row.Len() > 0 {
		rows = append(rows, row.String())
	}
	return strings.Join(rows, "\n")
}

func (m watchModel) formatEvent(ev simulation.Event) string {
	ts := m.styles.dim.Render(ev.Timestamp.Format("15:04:05"))
	line := fmt.Sprintf("%s t%02d ", ts, ev.Tick)
	if ev.Node != "" {
		line += fmt.Sprintf("%-12s ", ev.Node)
	}

	switch ev.Type {
	case "loop_detected", "meta_command":
		line += m.styles.warn.Render(ev.Message)
	case "mode_flip":
		line += m.styles.bad.Render(ev.Message)
	case "run_completed":
		line += m.styles.good.Render(ev.Message)
	default:
		line += ev.Message
	}
	return line
}

// runWatch attaches the watch UI to an orchestrator and blocks until the
// user exits. The run is stopped if the UI is closed mid-flight.
func runWatch(ctx context.Context, orch *simulation.Orchestrator) error {
	p := tea.NewProgram(
		newWatchModel(ctx, orch),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		return err
	}

	// Quit mid-run stops the orchestrator; wait for the loop to land on
	// a terminal state before the caller inspects the outcome.
	for {
		st := orch.State()
		if st != simulation.StateRunning && st != simulation.StatePaused {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
}

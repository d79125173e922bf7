package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dgnsrekt/bookvox/internal/job"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	stageStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00AAFF"))
	chapterStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAA00"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
)

type progressMsg job.Progress

type doneMsg struct{}

// ConvertModel renders live conversion progress and forwards a quit key to
// the job as a cancel request.
type ConvertModel struct {
	controller *job.Controller
	updates    <-chan job.Progress
	source     string

	bar       progress.Model
	spin      spinner.Model
	current   job.Progress
	cancelled bool
	finished  bool
}

// NewConvertModel wires a progress view to a controller. Run the returned
// model with tea.NewProgram while the job runs on another goroutine.
func NewConvertModel(controller *job.Controller, source string) ConvertModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return ConvertModel{
		controller: controller,
		updates:    controller.Subscribe(),
		source:     source,
		bar:        progress.New(progress.WithDefaultGradient()),
		spin:       sp,
		current:    controller.Snapshot(),
	}
}

func (m ConvertModel) Init() tea.Cmd {
	return tea.Batch(m.waitForUpdate(), m.spin.Tick)
}

func (m ConvertModel) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		p, ok := <-m.updates
		if !ok {
			return doneMsg{}
		}
		return progressMsg(p)
	}
}

func (m ConvertModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.cancelled {
				// Second press: stop waiting for the grace period.
				return m, tea.Quit
			}
			m.cancelled = true
			m.controller.Cancel()
			return m, nil
		}

	case tea.WindowSizeMsg:
		width := msg.Width - 8
		if width > 60 {
			width = 60
		}
		if width > 0 {
			m.bar.Width = width
		}
		return m, nil

	case progressMsg:
		m.current = job.Progress(msg)
		if m.current.Status.Terminal() {
			m.finished = true
			return m, tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg {
				return doneMsg{}
			})
		}
		return m, m.waitForUpdate()

	case doneMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m ConvertModel) View() string {
	var b strings.Builder
	p := m.current

	b.WriteString(titleStyle.Render("Converting "+m.source) + "\n\n")

	stage := string(p.Status)
	if m.cancelled && !p.Status.Terminal() {
		stage = "cancelling"
	}
	b.WriteString("  " + m.spin.View() + stageStyle.Render(stage))
	if p.Chapter != "" {
		b.WriteString(chapterStyle.Render("  " + p.Chapter))
	}
	b.WriteString("\n\n")

	if p.Total > 0 {
		ratio := float64(p.Done) / float64(p.Total)
		b.WriteString("  " + m.bar.ViewAs(ratio) + "\n")
		b.WriteString(chapterStyle.Render(fmt.Sprintf("  %d/%d utterances", p.Done, p.Total)))
		if p.CacheHits > 0 {
			b.WriteString(chapterStyle.Render(fmt.Sprintf(", %d cached", p.CacheHits)))
		}
		b.WriteString("\n")
	}

	if p.Skipped > 0 {
		b.WriteString(warnStyle.Render(fmt.Sprintf("  %d utterances replaced with silence", p.Skipped)) + "\n")
	}
	if p.Err != nil && p.Status == job.StatusFailed {
		b.WriteString(errorStyle.Render("  error: "+p.Err.Error()) + "\n")
	}

	if !m.finished {
		help := "  q: cancel"
		if m.cancelled {
			help = "  q: quit without waiting"
		}
		b.WriteString("\n" + helpStyle.Render(help) + "\n")
	}
	return b.String()
}

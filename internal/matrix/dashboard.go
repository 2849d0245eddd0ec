package matrix

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	dashTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dashMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dashErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	dashOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	dashPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

const dashMaxEvents = 8

type cellStartedMsg struct{ info CellInfo }
type cellPhaseMsg struct{ phase string }
type cellStatusMsg struct {
	status string
	pct    *float64
}
type cellFinishedMsg struct {
	info CellInfo
	out  CellOutcome
}
type dashDoneMsg struct{}

type dashModel struct {
	title  string
	total  int
	cancel context.CancelFunc

	spinner spinner.Model
	bar     progress.Model

	active    *CellInfo
	phase     string
	status    string
	pct       float64
	hasPct    bool
	startedAt time.Time

	completed   int
	skipped     int
	failed      int
	cost        float64
	events      []string
	interrupted bool
	width       int
}

func newDashModel(title string, total int, cancel context.CancelFunc) dashModel {
	return dashModel{
		title:   title,
		total:   total,
		cancel:  cancel,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		events:  make([]string, 0, dashMaxEvents),
	}
}

func (m dashModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		if w := msg.Width - 20; w > 10 && w < 60 {
			m.bar.Width = w
		}
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.interrupted && m.cancel != nil {
				m.cancel()
			}
			m.interrupted = true
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case cellStartedMsg:
		info := msg.info
		m.active = &info
		m.phase = "starting"
		m.status = ""
		m.hasPct = false
		m.startedAt = time.Now()
		return m, nil
	case cellPhaseMsg:
		m.phase = msg.phase
		m.hasPct = false
		return m, nil
	case cellStatusMsg:
		m.status = msg.status
		if msg.pct != nil {
			m.pct = *msg.pct / 100
			m.hasPct = true
		}
		return m, nil
	case cellFinishedMsg:
		m.active = nil
		switch msg.out.Status {
		case OutcomeCompleted:
			m.completed++
			m.cost += msg.out.Cost
		case OutcomeSkipped:
			m.skipped++
			m.cost += msg.out.Cost
		case OutcomeFailed:
			m.failed++
		}
		m.events = append([]string{finalLine(msg.info, msg.out)}, m.events...)
		if len(m.events) > dashMaxEvents {
			m.events = m.events[:dashMaxEvents]
		}
		return m, nil
	case dashDoneMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m dashModel) View() string {
	done := m.completed + m.skipped
	header := dashTitleStyle.Render(m.title) + dashMutedStyle.Render(
		fmt.Sprintf("  %d/%d done  %d skipped  %d failed  $%.4f", done, m.total, m.skipped, m.failed, m.cost))

	overall := 0.0
	if m.total > 0 {
		overall = float64(done) / float64(m.total)
	}
	lines := []string{header, "overall " + m.bar.ViewAs(overall)}

	if m.active != nil {
		cur := fmt.Sprintf("%s [%d/%d] %s  %s", m.spinner.View(), m.active.Index, m.active.Total, m.active.Cell, m.phase)
		if m.status != "" && m.status != m.phase {
			cur += "  " + m.status
		}
		cur += "  " + dashMutedStyle.Render(formatElapsed(time.Since(m.startedAt)))
		lines = append(lines, cur)
		if m.hasPct {
			lines = append(lines, "cell    "+m.bar.ViewAs(m.pct))
		}
	} else {
		lines = append(lines, dashMutedStyle.Render("(no active cell)"))
	}

	if len(m.events) > 0 {
		ev := make([]string, 0, len(m.events))
		for _, e := range m.events {
			style := dashOKStyle
			if strings.Contains(e, "FAILED") {
				style = dashErrorStyle
			} else if strings.Contains(e, "skipped") {
				style = dashMutedStyle
			}
			ev = append(ev, style.Render(e))
		}
		lines = append(lines, dashPanelStyle.Render(strings.Join(ev, "\n")))
	}
	if m.interrupted {
		lines = append(lines, dashErrorStyle.Render("interrupting: waiting for the current cell to stop..."))
	} else {
		lines = append(lines, dashMutedStyle.Render("ctrl+c to stop"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n"
}

// Dashboard is a Reporter that drives a bubbletea program. Keyboard interrupts call cancel.
type Dashboard struct {
	program *tea.Program
	done    chan error
}

func NewDashboard(title string, total int, cancel context.CancelFunc, in io.Reader, out io.Writer) *Dashboard {
	opts := []tea.ProgramOption{tea.WithOutput(out)}
	if in != nil {
		opts = append(opts, tea.WithInput(in))
	}
	return &Dashboard{
		program: tea.NewProgram(newDashModel(title, total, cancel), opts...),
		done:    make(chan error, 1),
	}
}

func (d *Dashboard) Start() {
	go func() {
		_, err := d.program.Run()
		d.done <- err
	}()
}

// Stop quits the program and waits for the terminal to be restored.
func (d *Dashboard) Stop() error {
	d.program.Send(dashDoneMsg{})
	return <-d.done
}

func (d *Dashboard) CellStarted(info CellInfo) { d.program.Send(cellStartedMsg{info: info}) }
func (d *Dashboard) CellPhase(phase string)    { d.program.Send(cellPhaseMsg{phase: phase}) }
func (d *Dashboard) CellStatus(status string, pct *float64) {
	d.program.Send(cellStatusMsg{status: status, pct: pct})
}
func (d *Dashboard) CellFinished(info CellInfo, out CellOutcome) {
	d.program.Send(cellFinishedMsg{info: info, out: out})
}

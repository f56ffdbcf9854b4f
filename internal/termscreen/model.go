// Package termscreen shows a render surface in the terminal. The bubbletea
// program is the paint goroutine: every tick it paints the frame the
// pipeline prepared and redraws the cell grid.
package termscreen

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/recera/lcars/pkg/render"
)

// DefaultFrameInterval is the paint tick of the terminal display
const DefaultFrameInterval = 33 * time.Millisecond

// Painter is the paint side of a render pipeline
type Painter interface {
	TryPaint() (*render.Report, bool)
	Stats() render.Stats
}

// Source supplies the painted pixels
type Source interface {
	Snapshot() *image.RGBA
}

// Options configures a Model
type Options struct {
	Title    string
	Interval time.Duration

	// Status returns the connection status; "connected" or empty hides
	// the spinner
	Status func() string
	// OnSwitch is called when the user presses tab
	OnSwitch func()
}

type tickMsg time.Time

var (
	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#ff9900")).
			Bold(true).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#cc99cc")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#94a3b8"))
)

// Model is the bubbletea model of the terminal display
type Model struct {
	painter Painter
	source  Source
	opts    Options

	spinner spinner.Model
	cols    int
	rows    int
	grid    string
	paints  uint64
	painted bool
	quit    bool
}

// New creates a display model
func New(p Painter, src Source, opts Options) Model {
	if opts.Interval <= 0 {
		opts.Interval = DefaultFrameInterval
	}
	if opts.Title == "" {
		opts.Title = "LCARS"
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusStyle
	return Model{
		painter: p,
		source:  src,
		opts:    opts,
		spinner: sp,
		cols:    80,
		rows:    23,
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.opts.Interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the paint ticker
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.spinner.Tick)
}

// Update handles ticks, resizes and keys
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quit = true
			return m, tea.Quit
		case "tab":
			if m.opts.OnSwitch != nil {
				m.opts.OnSwitch()
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.cols = msg.Width
		m.rows = max(msg.Height-1, 1)
		m.redraw()
		return m, nil

	case tickMsg:
		m.painter.TryPaint()
		if n := m.painter.Stats().Paints; n != m.paints || !m.painted {
			m.paints = n
			m.painted = true
			m.redraw()
		}
		return m, m.tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) redraw() {
	m.grid = Cells(m.source.Snapshot(), m.cols, m.rows)
}

// View renders the cell grid and the status bar
func (m Model) View() string {
	if m.quit {
		return ""
	}
	status := "local"
	if m.opts.Status != nil {
		status = m.opts.Status()
	}
	if status != "" && status != "connected" && status != "local" {
		status = m.spinner.View() + status
	}
	bar := lipgloss.JoinHorizontal(lipgloss.Top,
		barStyle.Render(m.opts.Title),
		statusStyle.Render(status),
		helpStyle.Render("tab: next panel  q: quit"),
	)
	return m.grid + "\n" + bar
}

// Run shows the model until the user quits or ctx is done
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && (ctx.Err() != nil || errors.Is(err, tea.ErrProgramKilled)) {
		return nil
	}
	return err
}

package viz

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/cardiosim/internal/engine"
)

const (
	canvasWidth  = 64
	canvasHeight = 12
	sheetMaxW    = 64
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).MarginBottom(1)
	canvasStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(10)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	graphStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
	haltStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
)

type TickMsg time.Time

// Model runs a simulation one chunk per frame and renders the membrane
// potential between chunks. Resources are released when the run completes
// or the user quits mid-run.
type Model struct {
	sim   *engine.Sim
	cfg   engine.Config
	watch string // logged series shown in the strip chart, "" for none

	state  []float64
	canvas *Canvas
	sheet  string

	paused  bool
	final   float64
	errText string
}

func NewModel(sim *engine.Sim, cfg engine.Config, watch string) Model {
	return Model{
		sim:    sim,
		cfg:    cfg,
		watch:  watch,
		state:  make([]float64, cfg.Cells()*cfg.Model.NState),
		canvas: NewCanvas(canvasWidth, canvasHeight),
	}
}

// Final returns the reached time, valid once the run has completed.
func (m Model) Final() float64 { return m.final }

func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(time.Second/30, func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.sim.Release()
			return m, tea.Quit
		case " ":
			m.paused = !m.paused
		}
	case TickMsg:
		if m.paused || m.sim.Done() {
			return m, tick()
		}
		t, err := m.sim.Step()
		if err != nil {
			m.errText = err.Error()
			return m, tea.Quit
		}
		if m.sim.Done() {
			m.final = t
			return m, tea.Quit
		}
		if err := m.sim.State(m.state); err != nil {
			m.errText = err.Error()
			return m, tea.Quit
		}
		m.redraw()
		return m, tick()
	}
	return m, nil
}

func (m *Model) redraw() {
	nstate := m.cfg.Model.NState
	if m.cfg.Ny == 1 {
		TraceStrand(m.canvas, m.state, m.cfg.Nx, nstate, -0.2, 1.2)
	} else {
		m.sheet = ShadeSheet(m.state, m.cfg.Nx, m.cfg.Ny, nstate, -0.2, 1.2, sheetMaxW)
	}
}

func (m Model) View() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render("CARDIOSIM") + "\n")

	if m.cfg.Ny == 1 {
		s.WriteString(canvasStyle.Render(m.canvas.String()) + "\n")
	} else {
		s.WriteString(canvasStyle.Render(m.sheet) + "\n")
	}

	s.WriteString(labelStyle.Render("Time") +
		valueStyle.Render(fmt.Sprintf("%.2f / %.2f ms", m.sim.Time(), m.cfg.TMax)) + "\n")
	s.WriteString(labelStyle.Render("Progress") + valueStyle.Render(m.progressBar()) + "\n")
	s.WriteString(labelStyle.Render("Samples") +
		valueStyle.Render(fmt.Sprintf("%d", m.sim.Log().Len())) + "\n")

	switch {
	case m.errText != "":
		s.WriteString(haltStyle.Render("ERROR "+m.errText) + "\n")
	case m.sim.Halted():
		s.WriteString(haltStyle.Render("HALTED: NaN in state") + "\n")
	case m.paused:
		s.WriteString(valueStyle.Render("PAUSED") + "\n")
	}

	if m.watch != "" {
		if series := m.sim.Log().Series(m.watch); len(series) > 1 {
			chart := asciigraph.Plot(series,
				asciigraph.Height(5), asciigraph.Width(56), asciigraph.Caption(m.watch))
			s.WriteString(graphStyle.Render(chart) + "\n")
		}
	}

	s.WriteString(helpStyle.Render("SP:Pause Q:Quit"))
	return s.String()
}

func (m Model) progressBar() string {
	span := m.cfg.TMax - m.cfg.TMin
	frac := 0.0
	if span > 0 {
		frac = clamp01((m.sim.Time() - m.cfg.TMin) / span)
	}
	const width = 30
	filled := int(frac * width)
	return "[" + strings.Repeat("=", filled) + strings.Repeat("-", width-filled) + "]" +
		fmt.Sprintf(" %3.0f%%", frac*100)
}

// Err returns the step error that ended the run, if any.
func (m Model) Err() error {
	if m.errText == "" {
		return nil
	}
	return fmt.Errorf("viz: %s", m.errText)
}

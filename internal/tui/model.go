// Package tui renders the live caption view in the terminal.
//
// The model is fed eventhub.UIEvent values through Program.Send (see Sink)
// and asks for relaunches through a Requester. Captions fade after a few
// seconds without a new transcription.
package tui

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"visualia/internal/eventhub"
	"visualia/internal/protocol"
)

// DefaultFadeAfter clears a caption that has not been replaced.
const DefaultFadeAfter = 5 * time.Second

const tickInterval = 250 * time.Millisecond

// Requester asks the daemon to relaunch the engine.
type Requester func(model, lang string) error

// Options configures a Model.
type Options struct {
	Model     string
	Language  string
	Models    []string
	Languages []string
	FadeAfter time.Duration
	Request   Requester
}

// EventMsg delivers one hub event to the model.
type EventMsg eventhub.UIEvent

type tickMsg time.Time

type requestDoneMsg struct {
	model string
	lang  string
	err   error
}

type keyMap struct {
	Model    key.Binding
	Language key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Model:    key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "next model")),
	Language: key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "next language")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
}

// Model is the bubbletea model of the caption view.
type Model struct {
	models    []string
	languages []string
	model     string
	language  string
	fadeAfter time.Duration
	request   Requester

	caption   string
	captionAt time.Time
	status    string
	isError   bool
	switching bool

	width   int
	spinner spinner.Model
}

// New builds the caption view.
func New(opts Options) Model {
	fade := opts.FadeAfter
	if fade <= 0 {
		fade = DefaultFadeAfter
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(purple)
	return Model{
		models:    opts.Models,
		languages: opts.Languages,
		model:     opts.Model,
		language:  opts.Language,
		fadeAfter: fade,
		request:   opts.Request,
		status:    "waiting for engine",
		spinner:   sp,
	}
}

// Sink forwards hub events into a running program.
func Sink(p *tea.Program) eventhub.Sink {
	return eventhub.SinkFunc(func(evt eventhub.UIEvent) {
		p.Send(EventMsg(evt))
	})
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Model):
			if len(m.models) == 0 {
				return m, nil
			}
			return m.requestSwitch(next(m.models, m.model), m.language)
		case key.Matches(msg, keys.Language):
			if len(m.languages) == 0 {
				return m, nil
			}
			return m.requestSwitch(m.model, next(m.languages, m.language))
		}
		return m, nil

	case EventMsg:
		m.applyEvent(eventhub.UIEvent(msg))
		return m, nil

	case requestDoneMsg:
		if msg.err != nil {
			m.switching = false
			m.isError = true
			m.status = "switch failed: " + msg.err.Error()
			return m, nil
		}
		m.model = msg.model
		m.language = msg.lang
		return m, nil

	case tickMsg:
		if m.caption != "" && time.Time(msg).Sub(m.captionAt) >= m.fadeAfter {
			m.caption = ""
		}
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) requestSwitch(model, lang string) (tea.Model, tea.Cmd) {
	m.switching = true
	m.isError = false
	m.status = fmt.Sprintf("switching to %s (%s)", model, lang)
	request := m.request
	return m, func() tea.Msg {
		if request == nil {
			return requestDoneMsg{model: model, lang: lang}
		}
		return requestDoneMsg{model: model, lang: lang, err: request(model, lang)}
	}
}

func (m *Model) applyEvent(evt eventhub.UIEvent) {
	switch protocol.Kind(evt.Kind) {
	case protocol.KindTranscription:
		m.caption = evt.Text
		m.captionAt = time.Now()
	case protocol.KindStatus:
		m.status = evt.Message
		m.isError = false
		if evt.Source == eventhub.SourceSupervisor && strings.HasPrefix(evt.Message, "engine started") {
			m.switching = false
		}
	case protocol.KindError:
		m.status = evt.Message
		m.isError = true
		if evt.Source == eventhub.SourceSupervisor {
			m.switching = false
		}
	}
}

// next returns the entry after current, or the first when current is not listed.
func next(values []string, current string) string {
	idx := slices.Index(values, current)
	return values[(idx+1)%len(values)]
}

func (m Model) View() string {
	var b strings.Builder

	header := lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render("visualia"),
		"  ",
		labelStyle.Render("model "), valueStyle.Render(orDash(m.model)),
		"  ",
		labelStyle.Render("lang "), valueStyle.Render(orDash(m.language)),
	)
	b.WriteString(header)
	b.WriteString("\n\n")

	width := m.width - 4
	if width < 20 {
		width = 60
	}
	if m.caption != "" {
		b.WriteString(captionStyle.Width(width).Render(m.caption))
	} else {
		b.WriteString(idleCaptionStyle.Width(width).Render("…"))
	}
	b.WriteString("\n\n")

	status := statusStyle.Render(m.status)
	if m.isError {
		status = errorStyle.Render(m.status)
	}
	if m.switching {
		status = m.spinner.View() + " " + status
	}
	b.WriteString(status)
	b.WriteString("\n\n")

	b.WriteString(helpStyle.Render(strings.Join([]string{
		keys.Model.Help().Key + " " + keys.Model.Help().Desc,
		keys.Language.Help().Key + " " + keys.Language.Help().Desc,
		keys.Quit.Help().Key + " " + keys.Quit.Help().Desc,
	}, " • ")))
	b.WriteString("\n")
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Caption reports the caption currently on screen.
func (m Model) Caption() string { return m.caption }

// Status reports the status line and whether it is an error.
func (m Model) Status() (string, bool) { return m.status, m.isError }

// Switching reports whether a relaunch is in flight.
func (m Model) Switching() bool { return m.switching }

// Selection reports the model and language last requested successfully.
func (m Model) Selection() (string, string) { return m.model, m.language }

package main

import (
	"fmt"
	"strings"
	"time"

	cb "github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"vchat/chat"
)

// TUI message types
type stateMsg chat.State
type actionErrMsg struct{ Err error }
type noticeMsg struct{ Text string }
type tickMsg time.Time

// tuiActions are the user commands the view can trigger. They may block,
// so the model runs them as commands, never inside Update.
type tuiActions interface {
	ToggleRecording() error
	SendText(text string) error
	LastReply() (string, bool)
}

type tuiModel struct {
	actions       tuiActions
	state         chat.State
	input         []rune
	frame         int
	width, height int
	modeLine      string // "[turn | wav | socketio]"
	deviceLine    string // microphone device name
	server        string
	notice        string
	noticeUntil   time.Time
	level         float64 // smoothed for the meter
}

var (
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	boldHelp     = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	onlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	aiStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	senderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Bold(true)
	recStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	meterOn      = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	meterOff     = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
)

func newTUIModel(actions tuiActions, server, modeLine, deviceLine string) tuiModel {
	return tuiModel{
		actions:    actions,
		state:      chat.State{Connecting: true},
		server:     server,
		modeLine:   modeLine,
		deviceLine: deviceLine,
	}
}

func NewTUIProgram(m tuiModel) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.frame++
		if m.state.Recording {
			m.level = m.level*0.6 + m.state.AudioLevel*0.4
		} else {
			m.level = 0
		}
		if m.notice != "" && time.Time(msg).After(m.noticeUntil) {
			m.notice = ""
		}
		return m, tuiTick()

	case stateMsg:
		m.state = chat.State(msg)

	case actionErrMsg:
		if msg.Err != nil {
			m.setNotice("error: " + msg.Err.Error())
		}

	case noticeMsg:
		m.setNotice(msg.Text)
	}
	return m, nil
}

func (m *tuiModel) setNotice(text string) {
	m.notice = text
	m.noticeUntil = time.Now().Add(4 * time.Second)
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit
	case "ctrl+r":
		if m.actions == nil {
			return m, nil
		}
		return m, func() tea.Msg { return actionErrMsg{m.actions.ToggleRecording()} }
	case "ctrl+y":
		return m, m.copyLastReply()
	case "enter":
		text := strings.TrimSpace(string(m.input))
		m.input = nil
		if text == "" || m.actions == nil {
			return m, nil
		}
		return m, func() tea.Msg { return actionErrMsg{m.actions.SendText(text)} }
	case "backspace":
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
	case "ctrl+u":
		m.input = nil
	default:
		if msg.Type == tea.KeyRunes || msg.Type == tea.KeySpace {
			m.input = append(m.input, msg.Runes...)
		}
	}
	return m, nil
}

func (m tuiModel) copyLastReply() tea.Cmd {
	if m.actions == nil {
		return nil
	}
	return func() tea.Msg {
		text, ok := m.actions.LastReply()
		if !ok {
			return noticeMsg{"no reply to copy yet"}
		}
		if err := cb.WriteAll(text); err != nil {
			return actionErrMsg{fmt.Errorf("copy: %w", err)}
		}
		return noticeMsg{"✓ copied last reply"}
	}
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	if m.state.Connecting && !m.state.Connected && len(m.state.Messages) == 0 {
		return m.connectingView()
	}

	header := m.headerLine()
	footer := m.footerLines()
	bodyHeight := m.height - 1 - len(footer)
	if bodyHeight < 1 {
		bodyHeight = 1
	}
	body := m.messageLines(m.width - 2)
	if len(body) > bodyHeight {
		body = body[len(body)-bodyHeight:]
	}
	for len(body) < bodyHeight {
		body = append(body, "")
	}

	lines := append([]string{header}, body...)
	lines = append(lines, footer...)
	return strings.Join(lines, "\n")
}

func (m tuiModel) connectingView() string {
	dots := strings.Repeat(".", m.frame/8%4)
	lines := []string{
		"",
		"  " + senderStyle.Render("vchat"),
		"",
		"  " + dimStyle.Render("Connecting to "+m.server+dots),
	}
	if m.state.LastError != "" {
		lines = append(lines, "  "+warnStyle.Render(m.state.LastError))
	}
	lines = append(lines, "", "  "+boldHelp.Render("ctrl+c")+helpStyle.Render(" quit"))
	return strings.Join(lines, "\n")
}

func (m tuiModel) headerLine() string {
	status := offlineStyle.Render("○ Offline")
	if m.state.Connected {
		status = onlineStyle.Render("● Online")
	}
	parts := []string{senderStyle.Render("vchat"), status}
	if m.modeLine != "" {
		parts = append(parts, dimStyle.Render(m.modeLine))
	}
	if m.deviceLine != "" {
		parts = append(parts, dimStyle.Render(m.deviceLine))
	}
	return strings.Join(parts, "  ")
}

func (m tuiModel) messageLines(width int) []string {
	if len(m.state.Messages) == 0 {
		return []string{dimStyle.Render("No messages yet. Type below or press ctrl+r to talk.")}
	}
	if width < 10 {
		width = 10
	}
	var out []string
	for _, msg := range m.state.Messages {
		name, style := "you", userStyle
		if msg.Sender == chat.AI {
			name, style = "ai", aiStyle
		}
		if msg.IsVoice {
			name += " (voice)"
		}
		stamp := msg.Timestamp.Local().Format("15:04")
		out = append(out, senderStyle.Render(name)+" "+dimStyle.Render(stamp))
		for _, line := range wrapText(msg.Text, width) {
			out = append(out, " "+style.Render(line))
		}
		out = append(out, "")
	}
	if m.state.AITyping {
		out = append(out, dimStyle.Render("ai is typing"+strings.Repeat(".", m.frame/6%4)))
	}
	return out
}

func (m tuiModel) footerLines() []string {
	var lines []string

	switch {
	case m.state.Recording:
		rec := recStyle.Render("● REC")
		if m.frame/8%2 == 1 {
			rec = recStyle.Render("  REC")
		}
		speaking := dimStyle.Render("listening")
		if m.state.Speaking {
			speaking = okStyle.Render("speaking")
		}
		line := rec + " " + renderMeter(m.level, 20) + " " + speaking
		if m.state.NoVoice {
			line += " " + warnStyle.Render("⚠ no voice detected")
		}
		lines = append(lines, line)
	case m.state.ProcessingAudio:
		lines = append(lines, dimStyle.Render("processing audio"+strings.Repeat(".", m.frame/6%4)))
	default:
		lines = append(lines, dimStyle.Render("○ STANDBY"))
	}

	status := ""
	switch {
	case m.notice != "":
		status = okStyle.Render(m.notice)
		if strings.HasPrefix(m.notice, "error") {
			status = warnStyle.Render(m.notice)
		}
	case m.state.LastError != "":
		status = warnStyle.Render(m.state.LastError)
	}
	lines = append(lines, status)

	cursor := " "
	if m.frame/8%2 == 0 {
		cursor = "_"
	}
	lines = append(lines, "> "+string(m.input)+cursor)
	lines = append(lines,
		boldHelp.Render("enter")+helpStyle.Render(" send  ")+
			boldHelp.Render("ctrl+r")+helpStyle.Render(" record  ")+
			boldHelp.Render("ctrl+y")+helpStyle.Render(" copy reply  ")+
			boldHelp.Render("ctrl+c")+helpStyle.Render(" quit  ")+
			helpStyle.Render("vchat "+version))
	return lines
}

func renderMeter(level float64, width int) string {
	n := int(level * float64(width) * 3)
	if n > width {
		n = width
	}
	if n < 0 {
		n = 0
	}
	return meterOn.Render(strings.Repeat("▮", n)) + meterOff.Render(strings.Repeat("▯", width-n))
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for _, para := range strings.Split(text, "\n") {
		r := []rune(para)
		for len(r) > width {
			splitAt := width
			for i := width; i > 0; i-- {
				if r[i] == ' ' {
					splitAt = i
					break
				}
			}
			lines = append(lines, string(r[:splitAt]))
			r = []rune(strings.TrimLeft(string(r[splitAt:]), " "))
		}
		lines = append(lines, string(r))
	}
	return lines
}

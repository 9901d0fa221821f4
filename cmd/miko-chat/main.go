// Command miko-chat is the chat window spawned by miko. It connects back to
// the core over the WebSocket URL given as the final argument, renders the
// conversation as it streams and sends typed prompts and control keys back.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/muesli/reflow/wordwrap"

	"github.com/mikanbako-lab/miko-core/core/messenger"
)

var (
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	cancelledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	inputStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderTop(true)
)

type chatLine struct {
	turnID    int64
	role      string
	text      string
	notice    bool
	cancelled bool
	streaming bool
}

type envelopeMsg struct {
	envelope messenger.Envelope
}

type connectionLostMsg struct {
	err error
}

type model struct {
	conn  *websocket.Conn
	lines []chatLine

	viewport viewport.Model
	input    textarea.Model

	width  int
	height int
	ready  bool
	closed bool
}

func newModel(conn *websocket.Conn) model {
	input := textarea.New()
	input.Placeholder = "話しかけてみよう… (Enter to send, Esc to interrupt, Ctrl+L to clear)"
	input.Prompt = "> "
	input.SetHeight(3)
	input.ShowLineNumbers = false
	input.Focus()

	return model{
		conn:  conn,
		input: input,
	}
}

func (m model) Init() tea.Cmd {
	return textarea.Blink
}

func (m *model) lineForTurn(turnID int64) *chatLine {
	for i := len(m.lines) - 1; i >= 0; i-- {
		if m.lines[i].turnID == turnID && !m.lines[i].notice {
			return &m.lines[i]
		}
	}
	return nil
}

func (m *model) applyEnvelope(envelope messenger.Envelope) {
	switch envelope.Type {
	case messenger.MsgTurnStarted:
		payload, err := messenger.UnmarshalPayload[messenger.TextPayload](envelope.Payload)
		if err != nil {
			return
		}
		m.lines = append(m.lines, chatLine{
			turnID:    envelope.TurnID,
			role:      payload.Role,
			streaming: true,
		})

	case messenger.MsgTurnDelta:
		payload, err := messenger.UnmarshalPayload[messenger.TextPayload](envelope.Payload)
		if err != nil {
			return
		}
		if line := m.lineForTurn(envelope.TurnID); line != nil {
			line.text += payload.Text
		}

	case messenger.MsgTurnComplete:
		payload, err := messenger.UnmarshalPayload[messenger.TextPayload](envelope.Payload)
		if err != nil {
			return
		}
		if line := m.lineForTurn(envelope.TurnID); line != nil {
			line.text = payload.Text
			line.role = payload.Role
			line.streaming = false
		} else {
			m.lines = append(m.lines, chatLine{
				turnID: envelope.TurnID,
				role:   payload.Role,
				text:   payload.Text,
			})
		}

	case messenger.MsgTurnCancelled:
		if line := m.lineForTurn(envelope.TurnID); line != nil {
			line.cancelled = true
			line.streaming = false
		}

	case messenger.MsgNotice:
		payload, err := messenger.UnmarshalPayload[messenger.TextPayload](envelope.Payload)
		if err != nil {
			return
		}
		m.lines = append(m.lines, chatLine{notice: true, text: payload.Text})

	case messenger.MsgHistoryReset:
		m.lines = nil
	}
}

func (m *model) send(msgType messenger.MessageType, payload any) {
	if m.closed {
		return
	}

	data, err := messenger.Marshal(msgType, 0, payload)
	if err != nil {
		return
	}
	if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		m.closed = true
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		inputHeight := m.input.Height() + 1
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - inputHeight
		}
		m.input.SetWidth(msg.Width - 2)
		m.viewport.SetContent(m.renderLines())
		m.viewport.GotoBottom()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEsc:
			m.send(messenger.MsgUserCancel, nil)
			return m, nil
		case tea.KeyCtrlL:
			m.send(messenger.MsgClearHistory, nil)
			return m, nil
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text != "" {
				m.send(messenger.MsgUserSubmit, messenger.TextPayload{Text: text, Role: "user"})
				m.input.Reset()
			}
			return m, nil
		}

	case envelopeMsg:
		m.applyEnvelope(msg.envelope)
		if m.ready {
			m.viewport.SetContent(m.renderLines())
			m.viewport.GotoBottom()
		}
		return m, nil

	case connectionLostMsg:
		m.closed = true
		m.lines = append(m.lines, chatLine{notice: true, text: "接続が切れました"})
		if m.ready {
			m.viewport.SetContent(m.renderLines())
			m.viewport.GotoBottom()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m model) renderLines() string {
	width := m.width
	if width < 20 {
		width = 20
	}

	var b strings.Builder
	for _, line := range m.lines {
		if line.notice {
			b.WriteString(noticeStyle.Render(wordwrap.String(line.text, width)))
			b.WriteString("\n\n")
			continue
		}

		style := assistantStyle
		label := line.role
		if line.role == "user" {
			style = userStyle
		}

		text := line.text
		if line.streaming {
			text += "▌"
		}

		rendered := wordwrap.String(fmt.Sprintf("%s: %s", label, text), width)
		if line.cancelled {
			rendered = cancelledStyle.Render(rendered) + noticeStyle.Render(" (中断)")
		} else {
			rendered = style.Render(rendered)
		}
		b.WriteString(rendered)
		b.WriteString("\n\n")
	}

	return b.String()
}

func (m model) View() string {
	if !m.ready {
		return "connecting..."
	}

	return m.viewport.View() + "\n" + inputStyle.Width(m.width).Render(m.input.View())
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: miko-chat <websocket-url>")
		os.Exit(2)
	}
	url := os.Args[len(os.Args)-1]

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not connect to %s: %v\n", url, err)
		os.Exit(1)
	}
	defer conn.Close()

	program := tea.NewProgram(newModel(conn), tea.WithAltScreen())

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				program.Send(connectionLostMsg{err: err})
				return
			}

			envelope, err := messenger.Unmarshal(data)
			if err != nil {
				continue
			}
			program.Send(envelopeMsg{envelope: envelope})
		}
	}()

	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

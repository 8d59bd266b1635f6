package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/weiawesome/wes-io-live/chat-client/internal/chatwindow"
	"github.com/weiawesome/wes-io-live/chat-client/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-client/internal/inbox"
)

// ConversationList is the inbox as seen by the terminal UI.
type ConversationList interface {
	Conversations() []domain.Conversation
	Select(conversationID int64)
	Deselect()
	Loading() bool
	Err() error
	Changes() <-chan struct{}
}

type focus int

const (
	focusList focus = iota
	focusChat
)

type windowChangedMsg struct{}
type listChangedMsg struct{}

// Model is the root bubbletea model: the conversation list on the left and
// the open chat window on the right.
type Model struct {
	window   chatwindow.Window
	list     ConversationList
	viewerID int64
	viewer   string
	keys     keyMap
	now      func() time.Time

	focus    focus
	selected int
	convs    []domain.Conversation
	snap     chatwindow.Snapshot

	vp    viewport.Model
	input textinput.Model

	width  int
	height int
	ready  bool
}

func New(window chatwindow.Window, list ConversationList, viewerID int64, viewerName string) *Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.Prompt = "▍ "
	ti.CharLimit = 4000
	ti.PlaceholderStyle = mutedStyle

	return &Model{
		window:   window,
		list:     list,
		viewerID: viewerID,
		viewer:   viewerName,
		keys:     defaultKeys(),
		now:      time.Now,
		vp:       viewport.New(80, 20),
		input:    ti,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		listen(m.window.Changes(), windowChangedMsg{}),
		listen(m.list.Changes(), listChangedMsg{}),
		func() tea.Msg { return listChangedMsg{} },
	)
}

// listen turns one signal on ch into msg.
func listen(ch <-chan struct{}, msg tea.Msg) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return msg
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.ready = true
		m.render()

	case windowChangedMsg:
		m.render()
		cmds = append(cmds, listen(m.window.Changes(), windowChangedMsg{}))

	case listChangedMsg:
		m.convs = m.list.Conversations()
		if m.selected >= len(m.convs) {
			m.selected = max(0, len(m.convs)-1)
		}
		cmds = append(cmds, listen(m.list.Changes(), listChangedMsg{}))

	case tea.MouseMsg:
		if m.snap.Phase != chatwindow.PhaseIdle {
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			m.window.Scrolled(lines{&m.vp})
			cmds = append(cmds, cmd)
		}

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		if key.Matches(msg, m.keys.Focus) {
			m.toggleFocus()
			return m, nil
		}
		if m.focus == focusList {
			m.updateList(msg)
		} else {
			cmds = append(cmds, m.updateChat(msg))
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) updateList(msg tea.KeyMsg) {
	switch {
	case key.Matches(msg, m.keys.Up):
		if m.selected > 0 {
			m.selected--
		}
	case key.Matches(msg, m.keys.Down):
		if m.selected < len(m.convs)-1 {
			m.selected++
		}
	case key.Matches(msg, m.keys.Open):
		if m.selected < len(m.convs) {
			m.open(m.convs[m.selected].ID)
		}
	case key.Matches(msg, m.keys.Retry):
		m.window.Retry()
	}
}

func (m *Model) updateChat(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Back):
		m.window.Close()
		m.list.Deselect()
		m.focus = focusList
		m.input.Blur()
		return nil

	case key.Matches(msg, m.keys.Open):
		m.window.SetDraft(m.input.Value())
		m.window.Send()
		return nil

	case key.Matches(msg, m.keys.Latest):
		m.window.JumpToLatest()
		return nil

	case key.Matches(msg, m.keys.Retry):
		m.window.Retry()
		return nil

	case key.Matches(msg, m.keys.Up, m.keys.Down, m.keys.PageUp, m.keys.PageDown):
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		m.window.Scrolled(lines{&m.vp})
		return cmd
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() != before {
		m.window.SetDraft(m.input.Value())
	}
	return cmd
}

func (m *Model) open(conversationID int64) {
	m.list.Select(conversationID)
	m.window.Open(conversationID)
	m.input.Reset()
	m.focus = focusChat
	m.input.Focus()
}

func (m *Model) toggleFocus() {
	if m.focus == focusList && m.snap.Phase != chatwindow.PhaseIdle {
		m.focus = focusChat
		m.input.Focus()
		return
	}
	m.focus = focusList
	m.input.Blur()
}

func (m *Model) chatWidth() int {
	return max(20, m.width-listWidth-4)
}

func (m *Model) layout() {
	inner := max(3, m.height-2)
	m.vp.Width = m.chatWidth()
	m.vp.Height = max(1, inner-headerHeight-statusHeight-inputHeight)
	m.input.Width = m.chatWidth() - 3
}

// render draws the latest snapshot into the viewport and lets the window
// apply its scroll decisions to the result.
func (m *Model) render() {
	m.snap = m.window.Snapshot()
	m.vp.SetContent(m.renderMessages())
	if m.ready {
		m.window.AfterRender(lines{&m.vp})
	}

	// The window owns the draft; it clears it after a successful send.
	if m.snap.Draft != m.input.Value() {
		m.input.SetValue(m.snap.Draft)
		m.input.CursorEnd()
	}
}

func (m *Model) renderMessages() string {
	s := m.snap
	width := m.vp.Width
	var b strings.Builder

	// The first line always exists so toggling it never shifts the content.
	switch {
	case s.Phase == chatwindow.PhaseIdle:
		return mutedStyle.Render("Select a conversation.")
	case s.Loading && len(s.Messages) == 0:
		return mutedStyle.Render("Loading...")
	case s.LoadingMore:
		b.WriteString(mutedStyle.Render("Loading older messages..."))
	case s.BackfillErr != nil:
		b.WriteString(errorStyle.Render("Could not load older messages (ctrl+r to retry)"))
	case !s.HasMore && s.PageErr == nil:
		b.WriteString(mutedStyle.Render("Beginning of conversation"))
	}
	b.WriteString("\n")

	if s.PageErr != nil {
		b.WriteString(errorStyle.Render("Could not load messages (ctrl+r to retry)"))
		return b.String()
	}
	if len(s.Messages) == 0 {
		b.WriteString(mutedStyle.Render("No messages yet."))
		return b.String()
	}

	body := lipgloss.NewStyle().Width(width)
	for i, msg := range s.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.senderLine(msg))
		b.WriteString("\n")
		b.WriteString(body.Render(messageText(msg)))
	}
	return b.String()
}

func (m *Model) senderLine(msg domain.Message) string {
	at := mutedStyle.Render(msg.CreatedAt.Local().Format("15:04"))
	if msg.SenderID == m.viewerID {
		return ownNameStyle.Render(inbox.OwnSenderLabel) + " " + at
	}
	name := msg.SenderName
	if name == "" {
		name = "user " + strconv.FormatInt(msg.SenderID, 10)
	}
	return nameStyle.Render(name) + " " + at
}

func messageText(msg domain.Message) string {
	switch {
	case msg.Deleted():
		return recalledStyle.Render("message recalled")
	case msg.Type == domain.MessageTypeImage:
		return "[image] " + msg.Content
	case msg.Type == domain.MessageTypeFile:
		return "[file] " + msg.Content
	default:
		return msg.Content
	}
}

func (m *Model) View() string {
	if !m.ready {
		return "Starting..."
	}
	inner := max(3, m.height-2)

	listPane, chatPane := paneStyle, paneStyle
	if m.focus == focusList {
		listPane = focusedPaneStyle
	} else {
		chatPane = focusedPaneStyle
	}

	left := listPane.Width(listWidth).Height(inner).Render(m.renderList(inner))
	right := chatPane.Width(m.chatWidth()).Height(inner).Render(lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.vp.View(),
		m.renderStatus(),
		m.input.View(),
	))
	return lipgloss.JoinHorizontal(lipgloss.Top, left, right)
}

func (m *Model) renderList(height int) string {
	var rows []string
	rows = append(rows, titleStyle.Render("Chats")+" "+mutedStyle.Render(m.viewer))

	switch {
	case m.list.Err() != nil:
		rows = append(rows, errorStyle.Render("Could not load conversations"))
	case m.list.Loading() && len(m.convs) == 0:
		rows = append(rows, mutedStyle.Render("Loading..."))
	case len(m.convs) == 0:
		rows = append(rows, mutedStyle.Render("No conversations"))
	}

	now := m.now()
	for i, c := range m.convs {
		if len(rows)+2 > height {
			break
		}
		name := truncate(c.DisplayName(m.viewerID), listWidth-8)
		age := inbox.FormatAge(c.LastActivity(), now)
		title := fmt.Sprintf("%-*s%6s", listWidth-8, name, age)
		if c.UnreadCount > 0 {
			title = unreadStyle.Render(title)
		}
		if i == m.selected {
			title = selectedStyle.Render(title)
		}
		rows = append(rows, title, mutedStyle.Render(truncate(preview(c), listWidth-2)))
	}
	return strings.Join(rows, "\n")
}

func preview(c domain.Conversation) string {
	if c.LastMessage == nil {
		return ""
	}
	text := c.LastMessage.Content
	if c.LastMessage.SenderName != "" {
		text = c.LastMessage.SenderName + ": " + text
	}
	if c.UnreadCount > 0 {
		text = fmt.Sprintf("(%d) %s", c.UnreadCount, text)
	}
	return text
}

func (m *Model) renderHeader() string {
	s := m.snap
	if s.Phase == chatwindow.PhaseIdle {
		return titleStyle.Render("No conversation")
	}
	name := s.DisplayName
	if name == "" {
		name = fmt.Sprintf("Conversation %d", s.ConversationID)
	}
	live := mutedStyle.Render("○ offline")
	if s.LiveConnected {
		live = ownNameStyle.Render("● live")
	}
	return titleStyle.Render(truncate(name, m.chatWidth()-12)) + "  " + live
}

func (m *Model) renderStatus() string {
	s := m.snap
	switch {
	case s.Error != "":
		return errorStyle.Render(s.Error + " (ctrl+r to retry)")
	case s.PendingNewMessages > 0:
		return unreadStyle.Render(fmt.Sprintf("%d new message(s) - ctrl+g to jump", s.PendingNewMessages))
	case s.ShowJumpToLatest:
		return mutedStyle.Render("ctrl+g to jump to latest")
	case s.Sending:
		return mutedStyle.Render("Sending...")
	}

	var parts []string
	for _, k := range m.keys.help() {
		h := k.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return mutedStyle.Render(truncate(strings.Join(parts, " · "), m.chatWidth()))
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"loncachat/pkg/attachment"
	"loncachat/pkg/bus"
	"loncachat/pkg/conversation"
	"loncachat/pkg/protocol"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type submitResultMsg struct {
	snapshot conversation.Snapshot
	err      error
}

type conversationEventMsg struct {
	event bus.Event
}

type eventsClosedMsg struct{}

type model struct {
	ctx  context.Context
	opts Options

	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	snapshot  conversation.Snapshot
	width     int
	height    int
	isReady   bool
	spinning  bool
	notice    string
	lastErr   string
	followLog bool
}

func newModel(ctx context.Context, opts Options) *model {
	if ctx == nil {
		ctx = context.Background()
	}

	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = statusStyle(conversation.StateSubmitting)

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Type a message, /image <path>, /audio <path>, /region <name>"
	in.Focus()
	in.CharLimit = 0

	vp := viewport.New(80, 12)

	m := &model{
		ctx:       ctx,
		opts:      opts,
		spinner:   spin,
		input:     in,
		viewport:  vp,
		width:     100,
		height:    28,
		followLog: true,
	}
	if opts.Conversation != nil {
		m.snapshot = opts.Conversation.Snapshot()
	}

	return m
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForEvent(m.opts.Events))
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case tea.MouseMsg:
		m.handleViewportMouse(typed)
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if handled := m.handleViewportKey(typed); handled {
			return m, nil
		}

		if typed.String() == "enter" {
			return m, m.handleEnter()
		}
	case spinner.TickMsg:
		if !m.snapshot.State.Busy() {
			m.spinning = false
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case submitResultMsg:
		return m, m.handleSubmitResult(typed)
	case conversationEventMsg:
		return m, tea.Batch(m.refresh(), waitForEvent(m.opts.Events))
	case eventsClosedMsg:
		return m, nil
	}

	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) handleEnter() tea.Cmd {
	line := strings.TrimSpace(m.input.Value())
	if isExitCommand(line) {
		return tea.Quit
	}

	if strings.HasPrefix(line, "/") {
		m.input.SetValue("")
		m.runCommand(line)
		return m.refresh()
	}

	if m.snapshot.State.Busy() {
		m.notice = "still waiting for the backend, /cancel stops polling"
		return nil
	}

	m.opts.Conversation.SetText(line)
	m.input.SetValue("")
	m.lastErr = ""
	m.notice = ""
	m.followLog = true

	return tea.Batch(m.refresh(), submitCmd(m.ctx, m.opts.Conversation))
}

func (m *model) handleSubmitResult(msg submitResultMsg) tea.Cmd {
	err := msg.err
	switch {
	case err == nil:
		m.lastErr = ""
	case errors.Is(err, conversation.ErrEmptySubmission):
		// Nothing staged; Enter on an empty line does nothing.
	default:
		m.lastErr = err.Error()
		if m.input.Value() == "" {
			m.input.SetValue(msg.snapshot.Draft.Text)
			m.input.CursorEnd()
		}
	}

	return m.refresh()
}

// runCommand applies a slash command to the staged draft.
func (m *model) runCommand(line string) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	conv := m.opts.Conversation

	switch strings.ToLower(name) {
	case "/image", "/audio":
		want := attachment.KindImage
		if strings.EqualFold(name, "/audio") {
			want = attachment.KindAudio
		}
		if arg == "" {
			m.lastErr = fmt.Sprintf("usage: %s <path>", name)
			return
		}
		if kind := attachment.KindFromPath(arg); kind != want {
			m.lastErr = fmt.Sprintf("%s does not look like %s", arg, articled(want))
			return
		}
		if want == attachment.KindImage {
			conv.SelectImage(attachment.File(arg))
		} else {
			conv.SelectAudio(attachment.File(arg))
		}
		m.lastErr = ""
		m.notice = fmt.Sprintf("%s staged: %s", want, arg)
	case "/detach":
		conv.ClearAttachment()
		m.lastErr = ""
		m.notice = "attachment removed"
	case "/region":
		region, err := m.opts.Regions.ValidateRegion(arg)
		if err != nil {
			m.lastErr = err.Error()
			return
		}
		conv.SetRegion(region)
		m.lastErr = ""
		m.notice = "region set to " + region
	case "/cancel":
		if conv.CancelPolling() {
			m.notice = "stopped waiting for the backend"
		} else {
			m.notice = "nothing to cancel"
		}
	default:
		m.lastErr = "unknown command " + name
	}
}

// refresh re-reads the conversation and starts the spinner when it turns busy.
func (m *model) refresh() tea.Cmd {
	if m.opts.Conversation != nil {
		m.snapshot = m.opts.Conversation.Snapshot()
	}
	m.refreshViewport(false)

	if m.snapshot.State.Busy() && !m.spinning {
		m.spinning = true
		return m.spinner.Tick
	}

	return nil
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}

	state := m.snapshot.State
	header := headerStyle(state).Width(m.width - 2).Render("Loncachat · " + state.String())
	meta := metaStyle.Render(fmt.Sprintf(
		"backend:%s · region:%s · session:%s · turns:%d",
		displayOrNA(m.opts.Endpoint),
		displayOrNA(m.snapshot.Region),
		displayOrNA(m.snapshot.SessionID),
		conversationTurns(m.snapshot.History),
	))
	line := dividerStyle.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	parts := []string{header, meta, line, viewportStyle.Width(m.width - 2).Render(m.viewport.View()), m.statusLine()}
	if staged := m.stagedLine(); staged != "" {
		parts = append(parts, staged)
	}
	parts = append(parts,
		labelStyle.Render("You")+" "+hintStyle.Render("(/detach, /cancel, /exit)"),
		inputStyle(state).Width(m.width-2).Render(m.input.View()),
	)

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *model) statusLine() string {
	state := m.snapshot.State
	style := statusStyle(state)
	m.spinner.Style = style

	switch state {
	case conversation.StateSubmitting:
		return style.Render(fmt.Sprintf("%s sending...", m.spinner.View()))
	case conversation.StateAwaitingCompletion:
		return style.Render(fmt.Sprintf("%s waiting for the answer (poll %d)", m.spinner.View(), m.snapshot.Polls))
	}

	if m.lastErr != "" {
		return statusStyle(conversation.StateError).Render("error: " + m.lastErr)
	}
	if state == conversation.StateError && m.snapshot.Err != nil {
		return style.Render("request failed: " + m.snapshot.Err.Error())
	}
	if m.notice != "" {
		return style.Render(m.notice)
	}

	return hintStyle.Render("Enter send  ·  PgUp/PgDn scroll  ·  End jump latest  ·  Ctrl+C/Esc quit")
}

func (m *model) stagedLine() string {
	staged := m.snapshot.Draft.Attachment
	if staged.IsNone() {
		return ""
	}

	return attachmentStyle(staged.Kind()).Render(fmt.Sprintf("[%s] %s", staged.Kind(), staged.Name()))
}

func (m *model) resizeComponents() {
	w := m.width - 6
	if w < 50 {
		w = 50
	}
	h := m.height - 11
	if h < 8 {
		h = 8
	}

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	var sections []string
	for _, item := range m.snapshot.History {
		title, card := roleStyles(item.Role)
		label := "assistant"
		if item.Role == protocol.RoleUser {
			label = "you"
		}
		sections = append(sections, m.renderCard(
			title.Render(label),
			card.Width(m.viewport.Width).Render(renderMessageBody(item)),
		))
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := m.viewport.TotalLineCount() - m.viewport.Height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if previousOffset > maxOffset {
		previousOffset = maxOffset
	}
	m.viewport.SetYOffset(previousOffset)
}

func (m *model) renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

// renderMessageBody is the text of a message plus markers for media a
// terminal cannot show.
func renderMessageBody(msg protocol.Message) string {
	lines := []string{}
	if text := strings.TrimSpace(msg.Content); text != "" {
		lines = append(lines, text)
	}
	if protocol.IsDisplayable(msg.Image) {
		lines = append(lines, "[image]")
	}
	if msg.HasAudio() {
		lines = append(lines, "[audio]")
	}

	return strings.Join(lines, "\n")
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(3)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(3)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func submitCmd(ctx context.Context, conv Conversation) tea.Cmd {
	return func() tea.Msg {
		snapshot, err := conv.Submit(ctx)
		return submitResultMsg{snapshot: snapshot, err: err}
	}
}

func waitForEvent(events <-chan bus.Event) tea.Cmd {
	if events == nil {
		return nil
	}

	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return conversationEventMsg{event: event}
	}
}

func articled(kind attachment.Kind) string {
	if kind == attachment.KindImage {
		return "an image"
	}

	return "an audio file"
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func conversationTurns(messages []protocol.Message) int {
	count := 0
	for _, message := range messages {
		if message.Role == protocol.RoleUser {
			count++
		}
	}

	return count
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}

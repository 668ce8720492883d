package chat

import (
	"loncachat/pkg/attachment"
	"loncachat/pkg/conversation"
	"loncachat/pkg/protocol"

	"github.com/charmbracelet/lipgloss"
)

const (
	colorFrame = lipgloss.Color("24")
	colorInk   = lipgloss.Color("16")
	colorLight = lipgloss.Color("230")
	colorMuted = lipgloss.Color("244")
	colorInput = lipgloss.Color("173")
)

// Each conversation state has one color, shared by the status line, the
// spinner and the title bar.
var stateColors = map[conversation.State]lipgloss.Color{
	conversation.StateIdle:               "250",
	conversation.StateSubmitting:         "222",
	conversation.StateAwaitingCompletion: "117",
	conversation.StateError:              "203",
}

var roleColors = map[protocol.Role]lipgloss.Color{
	protocol.RoleUser:      "214",
	protocol.RoleAssistant: "44",
}

var kindColors = map[attachment.Kind]lipgloss.Color{
	attachment.KindImage: "109",
	attachment.KindAudio: "176",
}

var (
	metaStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("223"))
	dividerStyle  = lipgloss.NewStyle().Foreground(colorFrame)
	hintStyle     = lipgloss.NewStyle().Foreground(colorMuted)
	labelStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229"))
	viewportStyle = lipgloss.NewStyle().Border(lipgloss.ThickBorder()).BorderForeground(colorFrame).Padding(0, 1)
)

func stateColor(state conversation.State) lipgloss.Color {
	if color, ok := stateColors[state]; ok {
		return color
	}

	return colorMuted
}

func statusStyle(state conversation.State) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(stateColor(state))
}

// headerStyle takes the state color while a request is outstanding or failed.
func headerStyle(state conversation.State) lipgloss.Style {
	style := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	if state.Busy() || state == conversation.StateError {
		return style.Foreground(colorInk).Background(stateColor(state))
	}

	return style.Foreground(colorLight).Background(colorFrame)
}

// inputStyle greys the input border while submissions are rejected as busy.
func inputStyle(state conversation.State) lipgloss.Style {
	border := colorInput
	if state.Busy() {
		border = colorMuted
	}

	return lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(border).Padding(0, 1)
}

// roleStyles returns the title chip and card for a message. Unknown roles
// render as assistant turns.
func roleStyles(role protocol.Role) (title lipgloss.Style, card lipgloss.Style) {
	color, ok := roleColors[role]
	if !ok {
		color = roleColors[protocol.RoleAssistant]
	}

	title = lipgloss.NewStyle().Bold(true).Foreground(colorInk).Background(color).Padding(0, 1)
	card = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(color).Padding(0, 1)

	return title, card
}

func attachmentStyle(kind attachment.Kind) lipgloss.Style {
	return lipgloss.NewStyle().Italic(true).Foreground(kindColors[kind])
}

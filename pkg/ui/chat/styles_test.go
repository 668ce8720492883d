package chat

import (
	"testing"

	"loncachat/pkg/attachment"
	"loncachat/pkg/conversation"
	"loncachat/pkg/protocol"

	"github.com/charmbracelet/lipgloss"
)

func TestEveryStateHasItsOwnColor(t *testing.T) {
	states := []conversation.State{
		conversation.StateIdle,
		conversation.StateSubmitting,
		conversation.StateAwaitingCompletion,
		conversation.StateError,
	}

	seen := make(map[lipgloss.Color]conversation.State, len(states))
	for _, state := range states {
		color := stateColor(state)
		if previous, ok := seen[color]; ok {
			t.Fatalf("%s and %s share color %s", previous, state, color)
		}
		seen[color] = state

		if got := statusStyle(state).GetForeground(); got != color {
			t.Fatalf("status foreground for %s = %v, want %v", state, got, color)
		}
	}

	if got := stateColor(conversation.State(99)); got != colorMuted {
		t.Fatalf("unknown state color = %v, want %v", got, colorMuted)
	}
}

func TestHeaderFollowsState(t *testing.T) {
	if got := headerStyle(conversation.StateIdle).GetBackground(); got != colorFrame {
		t.Fatalf("idle header background = %v, want %v", got, colorFrame)
	}

	for _, state := range []conversation.State{conversation.StateSubmitting, conversation.StateAwaitingCompletion, conversation.StateError} {
		if got := headerStyle(state).GetBackground(); got != stateColor(state) {
			t.Fatalf("%s header background = %v, want %v", state, got, stateColor(state))
		}
	}
}

func TestInputDimsWhileBusy(t *testing.T) {
	if got := inputStyle(conversation.StateIdle).GetBorderTopForeground(); got != colorInput {
		t.Fatalf("idle input border = %v, want %v", got, colorInput)
	}
	if got := inputStyle(conversation.StateAwaitingCompletion).GetBorderTopForeground(); got != colorMuted {
		t.Fatalf("busy input border = %v, want %v", got, colorMuted)
	}
}

func TestRoleStyles(t *testing.T) {
	userTitle, userCard := roleStyles(protocol.RoleUser)
	if userTitle.GetBackground() != roleColors[protocol.RoleUser] || userCard.GetBorderTopForeground() != roleColors[protocol.RoleUser] {
		t.Fatal("expected user chip and card in the user color")
	}

	otherTitle, _ := roleStyles(protocol.Role("system"))
	if otherTitle.GetBackground() != roleColors[protocol.RoleAssistant] {
		t.Fatal("expected unknown roles to render as assistant turns")
	}
}

func TestAttachmentStyleByKind(t *testing.T) {
	if attachmentStyle(attachment.KindImage).GetForeground() == attachmentStyle(attachment.KindAudio).GetForeground() {
		t.Fatal("expected image and audio markers to differ")
	}
}

package scoring

import (
	"testing"

	"github.com/ventia-ai/salesim/pkg/store"
)

func TestFormattedLabelsFollowSpeakerRoles(t *testing.T) {
	d := NewDialogue([]store.Turn{
		{Speaker: store.SpeakerUser, Text: " Hola, le llamo de ventas. "},
		{Speaker: store.SpeakerAssistant, Text: "Dígame."},
	})

	got := d.Formatted()
	want := "Vendedor: Hola, le llamo de ventas.\nCliente: Dígame.\n"
	if got != want {
		t.Fatalf("Formatted() = %q, want %q", got, want)
	}
}

func TestFormattedUnknownSpeakerKeepsRawRole(t *testing.T) {
	d := NewDialogue([]store.Turn{{Speaker: store.Speaker("system"), Text: "hola"}})
	if got := d.Formatted(); got != "system: hola\n" {
		t.Fatalf("Formatted() = %q", got)
	}
}

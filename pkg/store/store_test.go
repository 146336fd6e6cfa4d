package store

import "testing"

func TestSpeakerRole(t *testing.T) {
	cases := map[Speaker]string{
		SpeakerUser:      "seller",
		SpeakerAssistant: "client",
		Speaker("other"): "other",
	}
	for speaker, want := range cases {
		if got := speaker.Role(); got != want {
			t.Errorf("%q.Role() = %q, want %q", speaker, got, want)
		}
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no migrations embedded")
	}
}

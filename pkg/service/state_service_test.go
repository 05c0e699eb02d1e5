package service

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/nimbusdesk/nimbusdesk/pkg/backend"
)

func newStateFixture(t *testing.T) *StateService {
	t.Helper()
	s, err := NewStateService(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open state db: %v", err)
	}
	if err := s.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestStateService_SessionRoundTrip(t *testing.T) {
	s := newStateFixture(t)

	if got, err := s.LoadSession(); err != nil || got != nil {
		t.Fatalf("fresh db session = %v, %v", got, err)
	}

	want := &backend.Session{UserID: "u-1", Email: "ana@example.com", Token: "tok-9"}
	if err := s.SaveSession(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.LoadSession()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *got != *want {
		t.Errorf("session = %+v, want %+v", got, want)
	}

	if err := s.ClearSession(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got, _ := s.LoadSession(); got != nil {
		t.Errorf("session survived clear: %+v", got)
	}
}

func TestStateService_CurrentConversationRoundTrip(t *testing.T) {
	s := newStateFixture(t)

	if key, err := s.LoadCurrentConversation(); err != nil || key != "" {
		t.Fatalf("fresh db selection = %q, %v", key, err)
	}
	if err := s.SaveCurrentConversation("rk-42"); err != nil {
		t.Fatalf("save: %v", err)
	}
	key, err := s.LoadCurrentConversation()
	if err != nil || key != "rk-42" {
		t.Errorf("selection = %q, %v", key, err)
	}

	// Saving again overwrites the single row.
	_ = s.SaveCurrentConversation("rk-43")
	if key, _ := s.LoadCurrentConversation(); key != "rk-43" {
		t.Errorf("selection after overwrite = %q", key)
	}
}

func TestStateService_SnapshotRoundTrips(t *testing.T) {
	s := newStateFixture(t)

	prefsDoc := json.RawMessage(`{"preferences": {}, "version": "1.0"}`)
	if err := s.SavePrefsSnapshot(prefsDoc); err != nil {
		t.Fatalf("save prefs snapshot: %v", err)
	}
	got, synced, err := s.LoadPrefsSnapshot()
	if err != nil {
		t.Fatalf("load prefs snapshot: %v", err)
	}
	if string(got) != string(prefsDoc) || synced.IsZero() {
		t.Errorf("prefs snapshot = %s, synced = %v", got, synced)
	}

	emailDoc := json.RawMessage(`{"drafts": []}`)
	if err := s.SaveCollectionSnapshot("email", emailDoc); err != nil {
		t.Fatalf("save collection snapshot: %v", err)
	}
	got, _, err = s.LoadCollectionSnapshot("email")
	if err != nil || string(got) != string(emailDoc) {
		t.Errorf("collection snapshot = %s, %v", got, err)
	}

	if got, _, err := s.LoadCollectionSnapshot("missing"); err != nil || got != nil {
		t.Errorf("missing snapshot = %s, %v", got, err)
	}
}

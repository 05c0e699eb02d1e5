package prefs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nimbusdesk/nimbusdesk/pkg/backend"
	"github.com/nimbusdesk/nimbusdesk/pkg/event"
)

// prefTable is an in-memory backend.Table scoped to the preference rows.
type prefTable struct {
	mu     sync.Mutex
	rows   []map[string]any
	nextID int

	failList   error
	failAdd    error
	failUpdate error
	failDelete error

	adds, updates, deletes int
}

func (t *prefTable) List(_ context.Context, _ string, q backend.Query) ([]json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failList != nil {
		return nil, t.failList
	}
	var out []json.RawMessage
	for _, row := range t.rows {
		match := true
		for field, want := range q.Filter {
			a, _ := json.Marshal(row[field])
			b, _ := json.Marshal(want)
			if !bytes.Equal(a, b) {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		raw, _ := json.Marshal(row)
		out = append(out, raw)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (t *prefTable) Add(_ context.Context, _ string, record any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.adds++
	if t.failAdd != nil {
		return t.failAdd
	}
	raw, _ := json.Marshal(record)
	var row map[string]any
	if err := json.Unmarshal(raw, &row); err != nil {
		return err
	}
	t.nextID++
	row["id"] = fmt.Sprintf("srv-%d", t.nextID)
	row["owner_ref"] = "owner-1"
	t.rows = append(t.rows, row)
	return nil
}

func (t *prefTable) Update(_ context.Context, _, ownerRef, id string, patch map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updates++
	if t.failUpdate != nil {
		return t.failUpdate
	}
	for _, row := range t.rows {
		if row["id"] == id && row["owner_ref"] == ownerRef {
			for k, v := range patch {
				raw, _ := json.Marshal(v)
				var norm any
				_ = json.Unmarshal(raw, &norm)
				row[k] = norm
			}
			return nil
		}
	}
	return fmt.Errorf("row %s not found", id)
}

func (t *prefTable) Delete(_ context.Context, _, ownerRef, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deletes++
	if t.failDelete != nil {
		return t.failDelete
	}
	for i, row := range t.rows {
		if row["id"] == id && row["owner_ref"] == ownerRef {
			t.rows = append(t.rows[:i], t.rows[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("row %s not found", id)
}

func newManagerFixture() (*Manager, *prefTable) {
	table := &prefTable{}
	return NewManager(table, event.NewEmitter()), table
}

func TestManager_Update_CreatesRecordThenPatchesIt(t *testing.T) {
	m, table := newManagerFixture()
	ctx := context.Background()

	if err := m.Update(ctx, "theme", "mode", "light"); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if m.Get().Theme.Mode != "light" {
		t.Errorf("theme.mode = %q", m.Get().Theme.Mode)
	}
	if table.adds != 1 {
		t.Fatalf("adds = %d, want 1", table.adds)
	}

	// The field's record address is learned from the create, so the second
	// write patches in place instead of creating another row.
	if err := m.Update(ctx, "theme", "mode", "dark"); err != nil {
		t.Fatalf("second update: %v", err)
	}
	if table.adds != 1 {
		t.Errorf("second update created a new row: %d adds", table.adds)
	}
	if table.updates != 1 {
		t.Errorf("updates = %d, want 1", table.updates)
	}

	// Reconciling from scratch yields the written value.
	fresh := NewManager(table, event.NewEmitter())
	if err := fresh.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if fresh.Get().Theme.Mode != "dark" {
		t.Errorf("reloaded theme.mode = %q, want dark", fresh.Get().Theme.Mode)
	}
}

func TestManager_Update_RemoteFailureRollsBackWholeSet(t *testing.T) {
	m, table := newManagerFixture()
	ctx := context.Background()

	if err := m.Update(ctx, "ai", "temperature", 0.9); err != nil {
		t.Fatalf("seed update: %v", err)
	}
	before := m.Get()

	table.failUpdate = errors.New("offline")
	if err := m.Update(ctx, "ai", "temperature", 0.1); err == nil {
		t.Fatal("expected error")
	}
	if got := m.Get(); got != before {
		t.Errorf("set not restored:\nbefore %+v\nafter  %+v", before, got)
	}
	if m.LastError() == nil {
		t.Error("failure not recorded")
	}
}

func TestManager_Update_RejectsUnknownAndMistyped(t *testing.T) {
	m, table := newManagerFixture()
	ctx := context.Background()

	if err := m.Update(ctx, "theme", "sparkles", true); !errors.Is(err, ErrUnknownPreference) {
		t.Errorf("unknown key: err = %v", err)
	}
	if err := m.Update(ctx, "theme", "fontSize", "large"); err == nil {
		t.Error("mistyped value accepted")
	}
	if table.adds != 0 {
		t.Errorf("rejected writes reached the remote: %d adds", table.adds)
	}
	if m.Get() != Defaults() {
		t.Error("rejected writes changed the set")
	}
}

func TestManager_ResetCategory_DeletesRowsAndRepersistsDefaults(t *testing.T) {
	m, table := newManagerFixture()
	ctx := context.Background()

	_ = m.Update(ctx, "theme", "mode", "light")
	_ = m.Update(ctx, "theme", "fontSize", 18)
	_ = m.Update(ctx, "ai", "temperature", 0.9)

	if err := m.ResetCategory(ctx, "theme"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got := m.Get()
	if got.Theme != Defaults().Theme {
		t.Errorf("theme not back to defaults: %+v", got.Theme)
	}
	if got.AI.Temperature != 0.9 {
		t.Error("reset leaked into another category")
	}
	if table.deletes != 2 {
		t.Errorf("deletes = %d, want 2", table.deletes)
	}
	// Every theme field gets a fresh default record: 3 updates before the
	// reset, then one re-persisted row per theme field.
	if table.adds != 6 {
		t.Errorf("adds = %d, want 6 (one default record per reset field)", table.adds)
	}

	// A fresh load reconciles the re-persisted default records.
	fresh := NewManager(table, event.NewEmitter())
	if err := fresh.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if fresh.Get().Theme != Defaults().Theme {
		t.Error("reset category resurfaced after reload")
	}

	// The re-persisted rows are addressable: the next write patches in place.
	adds := table.adds
	if err := m.Update(ctx, "theme", "mode", "light"); err != nil {
		t.Fatalf("update after reset: %v", err)
	}
	if table.adds != adds {
		t.Errorf("update after reset created a new row: %d adds", table.adds)
	}
}

func TestManager_ResetCategory_LocalDefaultsSurviveRemoteFailure(t *testing.T) {
	m, table := newManagerFixture()
	ctx := context.Background()

	_ = m.Update(ctx, "theme", "mode", "light")

	table.failDelete = errors.New("offline")
	if err := m.ResetCategory(ctx, "theme"); err == nil {
		t.Fatal("expected error")
	}
	// The local rewrite is independent of remote completion.
	if got := m.Get(); got.Theme != Defaults().Theme {
		t.Errorf("failed reset reverted the local defaults: %+v", got.Theme)
	}
	if m.LastError() == nil {
		t.Error("failure not recorded")
	}

	// The undeleted row keeps its address, so the next update patches the
	// surviving row instead of creating a duplicate.
	table.failDelete = nil
	if err := m.Update(ctx, "theme", "mode", "light"); err != nil {
		t.Fatalf("update after failed reset: %v", err)
	}
	// 1 add for the original write, 2 for the re-persisted fields whose
	// deletes did not fail (they had no rows to delete).
	if table.adds != 3 {
		t.Errorf("adds = %d, want 3 (duplicate row created)", table.adds)
	}
}

func TestManager_ExportImport_RoundTrip(t *testing.T) {
	m, _ := newManagerFixture()
	ctx := context.Background()
	_ = m.Update(ctx, "theme", "mode", "light")
	_ = m.Update(ctx, "general", "sendOnEnter", false)

	doc, err := m.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	restored, _ := newManagerFixture()
	if err := restored.Import(ctx, doc); err != nil {
		t.Fatalf("import: %v", err)
	}
	if restored.Get() != m.Get() {
		t.Errorf("round trip diverged:\nexported %+v\nimported %+v", m.Get(), restored.Get())
	}
}

func TestManager_Import_RejectsBadDocuments(t *testing.T) {
	m, table := newManagerFixture()
	ctx := context.Background()

	cases := map[string]string{
		"wrong version":       `{"preferences": {}, "exportedAt": "2026-08-25T00:00:00Z", "version": "2.0"}`,
		"missing version":     `{"preferences": {"theme": {"mode": "light"}}}`,
		"missing preferences": `{"exportedAt": "2026-08-25T00:00:00Z", "version": "1.0"}`,
		"null preferences":    `{"preferences": null, "version": "1.0"}`,
		"unknown fields":      `{"preferences": {}, "version": "1.0", "extra": true}`,
		"not json":            `{{{`,
	}
	for name, doc := range cases {
		if err := m.Import(ctx, []byte(doc)); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
	if table.adds != 0 || table.updates != 0 {
		t.Error("rejected documents reached the remote")
	}
	if m.Get() != Defaults() {
		t.Error("rejected documents changed the set")
	}
}

func TestManager_Import_PartialDocumentKeepsDefaults(t *testing.T) {
	m, _ := newManagerFixture()
	ctx := context.Background()

	doc := `{"preferences": {"theme": {"mode": "light"}}, "version": "1.0"}`
	if err := m.Import(ctx, []byte(doc)); err != nil {
		t.Fatalf("import: %v", err)
	}
	got := m.Get()
	if got.Theme.Mode != "light" {
		t.Errorf("theme.mode = %q, want light", got.Theme.Mode)
	}
	if got.Theme.AccentColor != Defaults().Theme.AccentColor || got.AI.Model != Defaults().AI.Model {
		t.Error("fields absent from the document lost their defaults")
	}
}

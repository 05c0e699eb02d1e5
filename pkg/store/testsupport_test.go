package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/nimbusdesk/nimbusdesk/pkg/backend"
	"github.com/nimbusdesk/nimbusdesk/pkg/models"
)

// fakeTable is an in-memory backend.Table with failure injection. It mirrors
// the real service's contract: Add acknowledges without returning the
// assigned identity, which only becomes visible through a later List.
type fakeTable struct {
	mu      sync.Mutex
	records map[string][]map[string]any
	nextID  int

	failList   error
	failAdd    error
	failUpdate error
	failDelete error

	// failUpdateFor fails only the updates whose patch carries this
	// description, so tests can interleave failing and succeeding writes.
	failUpdateFor string

	// deleteGate, when set, makes Delete announce itself on deleteEntered and
	// park until the gate closes. Tests use it to hold an entity lock open
	// while issuing a competing mutation.
	deleteGate    chan struct{}
	deleteEntered chan struct{}

	lists, adds, updates, deletes int
}

func newFakeTable() *fakeTable {
	return &fakeTable{records: make(map[string][]map[string]any)}
}

func jsonEq(a, b any) bool {
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	return bytes.Equal(ja, jb)
}

func (t *fakeTable) List(_ context.Context, collection string, q backend.Query) ([]json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lists++
	if t.failList != nil {
		return nil, t.failList
	}
	var out []json.RawMessage
	for _, rec := range t.records[collection] {
		match := true
		for field, want := range q.Filter {
			if !jsonEq(rec[field], want) {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		raw, _ := json.Marshal(rec)
		out = append(out, raw)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (t *fakeTable) Add(_ context.Context, collection string, record any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.adds++
	if t.failAdd != nil {
		return t.failAdd
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return err
	}
	t.nextID++
	rec["id"] = fmt.Sprintf("srv-%d", t.nextID)
	rec["owner_ref"] = "owner-1"
	t.records[collection] = append(t.records[collection], rec)
	return nil
}

func (t *fakeTable) Update(_ context.Context, collection, ownerRef, id string, patch map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updates++
	if t.failUpdate != nil {
		return t.failUpdate
	}
	if t.failUpdateFor != "" {
		if d, ok := patch["description"].(string); ok && d == t.failUpdateFor {
			return fmt.Errorf("write refused for %q", d)
		}
	}
	for _, rec := range t.records[collection] {
		if rec["id"] == id && rec["owner_ref"] == ownerRef {
			for k, v := range patch {
				raw, _ := json.Marshal(v)
				var norm any
				_ = json.Unmarshal(raw, &norm)
				rec[k] = norm
			}
			return nil
		}
	}
	return fmt.Errorf("record %s/%s not found", collection, id)
}

func (t *fakeTable) Delete(_ context.Context, collection, ownerRef, id string) error {
	if t.deleteGate != nil {
		t.deleteEntered <- struct{}{}
		<-t.deleteGate
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deletes++
	if t.failDelete != nil {
		return t.failDelete
	}
	recs := t.records[collection]
	for i, rec := range recs {
		if rec["id"] == id && rec["owner_ref"] == ownerRef {
			t.records[collection] = append(recs[:i], recs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("record %s/%s not found", collection, id)
}

// seed inserts a record verbatim, bypassing identity assignment, so tests can
// stage rows that are missing fields a healthy create would have.
func (t *fakeTable) seed(collection string, rec map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[collection] = append(t.records[collection], rec)
}

type fakeUploader struct {
	err   error
	calls int
}

func (u *fakeUploader) UploadFile(_ context.Context, filename, _ string, r io.Reader) (string, error) {
	u.calls++
	if u.err != nil {
		return "", u.err
	}
	_, _ = io.Copy(io.Discard, r)
	return "https://files.example.com/" + filename, nil
}

type fakeMailer struct {
	err  error
	sent [][]string
}

func (m *fakeMailer) SendEmail(_ context.Context, to []string, _, _ string, _ []models.AttachmentRef) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to)
	return nil
}

// collectEvents records the names of all events emitted during a test.
type eventLog struct {
	mu    sync.Mutex
	names []string
}

func (l *eventLog) record(name string) {
	l.mu.Lock()
	l.names = append(l.names, name)
	l.mu.Unlock()
}

func (l *eventLog) has(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range l.names {
		if n == name {
			return true
		}
	}
	return false
}

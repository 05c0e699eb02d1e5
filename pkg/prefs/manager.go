package prefs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nimbusdesk/nimbusdesk/pkg/backend"
	"github.com/nimbusdesk/nimbusdesk/pkg/event"
	"github.com/nimbusdesk/nimbusdesk/pkg/models"
	"github.com/nimbusdesk/nimbusdesk/pkg/utils"
)

const prefsCollection = "preferences"

// ErrUnknownPreference is returned for a (category, key) pair not in the
// schema. Reads tolerate unknown pairs; writes reject them.
var ErrUnknownPreference = errors.New("unknown preference")

// Manager owns the reconciled preference set and its remote record addresses.
// Mutations apply to the whole set first and roll back the whole-set snapshot
// when the remote write fails; updates to the set are serialized, so a
// rollback always restores the state its mutation observed.
type Manager struct {
	table   backend.Table
	emitter *event.Emitter
	logger  *slog.Logger

	writeMu sync.Mutex // serializes mutations end to end

	mu   sync.RWMutex
	set  PreferenceSet
	addr map[string]models.RecordMeta // "category/key" -> remote identity

	statusMu sync.Mutex
	lastErr  error
}

// NewManager creates a manager holding the defaults until the first Load.
func NewManager(table backend.Table, emitter *event.Emitter) *Manager {
	return &Manager{
		table:   table,
		emitter: emitter,
		logger:  utils.GetLogger(),
		set:     Defaults(),
		addr:    make(map[string]models.RecordMeta),
	}
}

// LastError returns the error of the most recent finished mutation or load.
func (m *Manager) LastError() error {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	return m.lastErr
}

func (m *Manager) record(err error) {
	m.statusMu.Lock()
	m.lastErr = err
	m.statusMu.Unlock()
}

// Load lists the remote records, reconciles them into the typed set and
// learns each field's remote address for later updates. On failure the
// previous set is left untouched.
func (m *Manager) Load(ctx context.Context) error {
	raw, err := m.table.List(ctx, prefsCollection, backend.Query{})
	if err != nil {
		m.record(err)
		return fmt.Errorf("load preferences: %w", err)
	}

	records := make([]Record, 0, len(raw))
	for _, r := range raw {
		var rec Record
		if err := json.Unmarshal(r, &rec); err != nil {
			m.logger.Warn("skipping undecodable preference record", "error", err)
			continue
		}
		records = append(records, rec)
	}

	set := Reconcile(records)
	addr := make(map[string]models.RecordMeta, len(records))
	winners := make(map[string]Record, len(records))
	for _, rec := range records {
		if _, known := lookupField(rec.Category, rec.Key); !known {
			continue
		}
		key := rec.Category + "/" + rec.Key
		if prev, ok := winners[key]; ok && !rec.supersedes(prev) {
			continue
		}
		winners[key] = rec
		addr[key] = rec.RecordMeta
	}

	m.mu.Lock()
	m.set = set
	m.addr = addr
	m.mu.Unlock()

	m.record(nil)
	return nil
}

// Get returns a copy of the complete current set.
func (m *Manager) Get() PreferenceSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set
}

// Update changes one preference field. The new value is visible immediately;
// if the remote write fails the whole set reverts to its pre-mutation state.
func (m *Manager) Update(ctx context.Context, category, key string, value any) error {
	f, known := lookupField(category, key)
	if !known {
		return fmt.Errorf("%s.%s: %w", category, key, ErrUnknownPreference)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s.%s: %w", category, key, err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	snapshot := m.set
	if err := f.set(&m.set, raw); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%s.%s: %w", category, key, err)
	}
	meta, persisted := m.addr[category+"/"+key]
	m.mu.Unlock()
	m.emitter.Emit(event.PrefsUpdatedEvent{Category: category, Key: key})

	now := time.Now().UTC()
	envelope := ValueEnvelope{Value: raw, UpdatedAt: now}
	var remoteErr error
	if persisted {
		remoteErr = m.table.Update(ctx, prefsCollection, meta.OwnerRef, meta.ID, map[string]any{
			"value":      envelope,
			"updated_at": now,
		})
	} else {
		remoteErr = m.create(ctx, category, key, envelope, now)
	}

	if remoteErr != nil {
		m.mu.Lock()
		m.set = snapshot
		m.mu.Unlock()
		m.emitter.Emit(event.PrefsUpdatedEvent{Category: category, Key: key})
		m.record(remoteErr)
		return fmt.Errorf("remote write failed, preferences restored: %w", remoteErr)
	}
	m.record(nil)
	return nil
}

// create adds the backing record for a field that only had its default so
// far, then re-lists to learn the remote identity (add acknowledges without
// returning it).
func (m *Manager) create(ctx context.Context, category, key string, envelope ValueEnvelope, now time.Time) error {
	rec := Record{
		RecordMeta: models.RecordMeta{RecordKey: uuid.NewString(), CreatedAt: now, UpdatedAt: now},
		Category:   category,
		Key:        key,
		Value:      envelope,
	}
	if err := m.table.Add(ctx, prefsCollection, rec); err != nil {
		return err
	}

	items, err := m.table.List(ctx, prefsCollection, backend.Query{
		Filter: map[string]any{"record_key": rec.RecordKey},
		Limit:  1,
	})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("created preference %s.%s not visible remotely", category, key)
	}
	var created Record
	if err := json.Unmarshal(items[0], &created); err != nil {
		return fmt.Errorf("decode created preference %s.%s: %w", category, key, err)
	}
	if created.ID == "" || created.OwnerRef == "" {
		return fmt.Errorf("created preference %s.%s missing identity fields", category, key)
	}

	m.mu.Lock()
	m.addr[category+"/"+key] = created.RecordMeta
	m.mu.Unlock()
	return nil
}

// ResetCategory restores a category to its defaults. The local rewrite
// happens first and sticks regardless of the remote outcome; remotely each of
// the category's records is deleted and a fresh record carrying the default
// value is persisted per field. A field whose delete fails keeps its old
// remote address so the next update patches the surviving row instead of
// creating a duplicate.
func (m *Manager) ResetCategory(ctx context.Context, category string) error {
	if _, ok := schema[category]; !ok {
		return fmt.Errorf("%s: %w", category, ErrUnknownPreference)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	defaults := Defaults()
	m.mu.Lock()
	for _, f := range schema[category] {
		raw, _ := json.Marshal(f.get(&defaults))
		_ = f.set(&m.set, raw)
	}
	doomed := make(map[string]models.RecordMeta, len(schema[category]))
	for key := range schema[category] {
		if meta, ok := m.addr[category+"/"+key]; ok {
			doomed[key] = meta
			delete(m.addr, category+"/"+key)
		}
	}
	m.mu.Unlock()
	m.emitter.Emit(event.PrefsResetEvent{Category: category})

	now := time.Now().UTC()
	var errs []error
	for key, f := range schema[category] {
		if meta, ok := doomed[key]; ok {
			if err := m.table.Delete(ctx, prefsCollection, meta.OwnerRef, meta.ID); err != nil {
				m.mu.Lock()
				m.addr[category+"/"+key] = meta
				m.mu.Unlock()
				errs = append(errs, fmt.Errorf("delete %s.%s: %w", category, key, err))
				continue
			}
		}
		raw, _ := json.Marshal(f.get(&defaults))
		if err := m.create(ctx, category, key, ValueEnvelope{Value: raw, UpdatedAt: now}, now); err != nil {
			errs = append(errs, fmt.Errorf("re-persist %s.%s: %w", category, key, err))
		}
	}

	err := errors.Join(errs...)
	m.record(err)
	if err != nil {
		return fmt.Errorf("reset %s partially synced, local defaults kept: %w", category, err)
	}
	return nil
}

// exportEnvelope is the portable preference document format.
type exportEnvelope struct {
	Preferences PreferenceSet `json:"preferences"`
	ExportedAt  time.Time     `json:"exportedAt"`
	Version     string        `json:"version"`
}

const exportVersion = "1.0"

// Export serializes the complete current set as a portable document.
func (m *Manager) Export() ([]byte, error) {
	env := exportEnvelope{
		Preferences: m.Get(),
		ExportedAt:  time.Now().UTC(),
		Version:     exportVersion,
	}
	return json.MarshalIndent(env, "", "  ")
}

// Import applies a previously exported document. The document is validated
// in full before any field is written: both the version and preferences keys
// must be present, or the whole import is rejected with no state change. Each
// field then updates as its own mutation, so a remote failure partway leaves
// earlier fields applied and reported in the joined error.
func (m *Manager) Import(ctx context.Context, data []byte) error {
	var doc struct {
		Preferences json.RawMessage `json:"preferences"`
		ExportedAt  time.Time       `json:"exportedAt"`
		Version     string          `json:"version"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid preference document: %w", err)
	}
	if doc.Version == "" {
		return fmt.Errorf("preference document missing version")
	}
	if doc.Version != exportVersion {
		return fmt.Errorf("unsupported preference document version %q", doc.Version)
	}
	if len(doc.Preferences) == 0 || string(doc.Preferences) == "null" {
		return fmt.Errorf("preference document missing preferences")
	}

	// Fields absent from the document keep their defaults instead of
	// collapsing to zero values.
	set := Defaults()
	if err := json.Unmarshal(doc.Preferences, &set); err != nil {
		return fmt.Errorf("invalid preference document: %w", err)
	}

	var errs []error
	for _, fv := range Flatten(set) {
		if err := m.Update(ctx, fv.Category, fv.Key, fv.Value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

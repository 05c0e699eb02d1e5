package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nimbusdesk/nimbusdesk/pkg/backend"
	"github.com/nimbusdesk/nimbusdesk/pkg/event"
	"github.com/nimbusdesk/nimbusdesk/pkg/models"
	"github.com/nimbusdesk/nimbusdesk/pkg/utils"
)

const fileCollection = "files"

// FileUploader pushes file bytes to the remote host and returns the hosted
// URL. Implemented by backend.Client.
type FileUploader interface {
	UploadFile(ctx context.Context, filename, contentType string, r io.Reader) (string, error)
}

// FileStore caches the file library. Files use soft delete: deleting flips
// the lifecycle state remotely, active listings hide the record, and the
// audit path (Get) still finds it until the next Load.
type FileStore struct {
	table    backend.Table
	uploader FileUploader
	emitter  *event.Emitter
	logger   *slog.Logger
	muts     *mutator
	status   status

	mu    sync.RWMutex
	items map[string]*models.FileRecord // by record key
	order []string
}

// NewFileStore creates an empty store bound to the remote table and uploader.
func NewFileStore(table backend.Table, uploader FileUploader, emitter *event.Emitter) *FileStore {
	return &FileStore{
		table:    table,
		uploader: uploader,
		emitter:  emitter,
		logger:   utils.GetLogger(),
		muts:     newMutator(),
		items:    make(map[string]*models.FileRecord),
	}
}

// Status returns the store state and the error of the last finished call.
func (s *FileStore) Status() (State, error) { return s.status.snapshot() }

// Load replaces the cache with the active remote records. Soft-deleted rows
// are filtered at the remote layer and never resurface here. On failure the
// previous cache is left untouched.
func (s *FileStore) Load(ctx context.Context) error {
	s.status.begin(StateLoading)
	raw, err := s.table.List(ctx, fileCollection, backend.Query{
		Filter: map[string]any{"lifecycle_state": string(models.LifecycleActive)},
		Sort:   "uploaded_at",
		Order:  "desc",
	})
	if err != nil {
		s.status.end(err)
		return fmt.Errorf("load files: %w", err)
	}

	items := make(map[string]*models.FileRecord, len(raw))
	order := make([]string, 0, len(raw))
	for _, r := range raw {
		var f models.FileRecord
		if err := json.Unmarshal(r, &f); err != nil {
			s.logger.Warn("skipping undecodable file record", "error", err)
			continue
		}
		if f.RecordKey == "" {
			continue
		}
		items[f.RecordKey] = &f
		order = append(order, f.RecordKey)
	}

	s.mu.Lock()
	s.items = items
	s.order = order
	s.mu.Unlock()

	s.status.end(nil)
	return nil
}

// UploadItem is one file in an upload batch.
type UploadItem struct {
	Filename    string
	ContentType string
	Size        int64
	Description string
	Content     io.Reader
}

// UploadResult pairs an upload attempt with its outcome. Items in a batch are
// independent mutations; one failure never rolls back the others.
type UploadResult struct {
	File *models.FileRecord
	Err  error
}

// Upload pushes the bytes to the file host, then creates the library record
// optimistically. The mime category is derived from the content type here,
// once, at upload time.
func (s *FileStore) Upload(ctx context.Context, item UploadItem) (*models.FileRecord, error) {
	url, err := s.uploader.UploadFile(ctx, item.Filename, item.ContentType, item.Content)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", item.Filename, err)
	}

	now := time.Now().UTC()
	rec := &models.FileRecord{
		RecordMeta:  models.RecordMeta{RecordKey: uuid.NewString(), CreatedAt: now, UpdatedAt: now},
		Filename:    item.Filename,
		URL:         url,
		Size:        item.Size,
		Category:    models.CategorizeMime(item.ContentType),
		UploadedAt:  now,
		Description: item.Description,
		State:       models.LifecycleActive,
	}

	var meta *models.RecordMeta
	s.status.begin(StateMutating)
	err = s.muts.do(ctx, mutation{
		key: rec.RecordKey,
		apply: func() error {
			s.mu.Lock()
			s.items[rec.RecordKey] = rec
			s.order = append(s.order, rec.RecordKey)
			s.mu.Unlock()
			s.emitter.Emit(event.FileUploadedEvent{RecordKey: rec.RecordKey, Filename: rec.Filename})
			return nil
		},
		remote: func(ctx context.Context) error {
			if err := s.table.Add(ctx, fileCollection, rec); err != nil {
				return err
			}
			var err error
			meta, err = fetchMeta(ctx, s.table, fileCollection, rec.RecordKey)
			return err
		},
		confirm: func() {
			s.mu.Lock()
			if cached, ok := s.items[rec.RecordKey]; ok {
				cached.ID = meta.ID
				cached.OwnerRef = meta.OwnerRef
			}
			s.mu.Unlock()
		},
		rollback: func() {
			s.mu.Lock()
			delete(s.items, rec.RecordKey)
			s.order = removeKey(s.order, rec.RecordKey)
			s.mu.Unlock()
			s.emitter.Emit(event.FileRevertedEvent{RecordKey: rec.RecordKey})
		},
	})
	s.status.end(err)
	if err != nil {
		return nil, err
	}
	return s.getClone(rec.RecordKey), nil
}

// UploadBatch uploads several files, each as an independent mutation.
func (s *FileStore) UploadBatch(ctx context.Context, items []UploadItem) []UploadResult {
	results := make([]UploadResult, 0, len(items))
	for _, item := range items {
		f, err := s.Upload(ctx, item)
		results = append(results, UploadResult{File: f, Err: err})
	}
	return results
}

// UpdateDescription changes the only mutable text field of a file record.
// The existence check and rollback snapshot happen under the entity lock, so
// a failed write restores exactly the state this mutation displaced and never
// a concurrent confirmed one.
func (s *FileStore) UpdateDescription(ctx context.Context, recordKey, description string) error {
	var (
		snapshot *models.FileRecord
		ownerRef string
		remoteID string
	)
	s.status.begin(StateMutating)
	err := s.muts.do(ctx, mutation{
		key: recordKey,
		apply: func() error {
			s.mu.Lock()
			f, ok := s.items[recordKey]
			if !ok {
				s.mu.Unlock()
				return fmt.Errorf("file %s: %w", recordKey, ErrNotFound)
			}
			if !f.Persisted() {
				s.mu.Unlock()
				return fmt.Errorf("file %s: %w", recordKey, ErrNotPersisted)
			}
			snapshot = f.Clone()
			ownerRef, remoteID = f.OwnerRef, f.ID
			f.Description = description
			f.Touch(time.Now().UTC())
			s.mu.Unlock()
			s.emitter.Emit(event.FileUpdatedEvent{RecordKey: recordKey})
			return nil
		},
		remote: func(ctx context.Context) error {
			return s.table.Update(ctx, fileCollection, ownerRef, remoteID, map[string]any{
				"description": description,
				"updated_at":  time.Now().UTC(),
			})
		},
		rollback: func() {
			s.mu.Lock()
			if _, ok := s.items[recordKey]; ok {
				s.items[recordKey] = snapshot
			}
			s.mu.Unlock()
			s.emitter.Emit(event.FileRevertedEvent{RecordKey: recordKey})
		},
	})
	s.status.end(err)
	return err
}

// Delete soft-deletes a file: the record survives remotely with a deleted
// lifecycle state and disappears from active listings. Deleting an already
// deleted file is a no-op.
func (s *FileStore) Delete(ctx context.Context, recordKey string) error {
	var (
		snapshot *models.FileRecord
		ownerRef string
		remoteID string
	)
	s.status.begin(StateMutating)
	err := s.muts.do(ctx, mutation{
		key: recordKey,
		apply: func() error {
			s.mu.Lock()
			f, ok := s.items[recordKey]
			if !ok {
				s.mu.Unlock()
				return fmt.Errorf("file %s: %w", recordKey, ErrNotFound)
			}
			if !f.Persisted() {
				s.mu.Unlock()
				return fmt.Errorf("file %s: %w", recordKey, ErrNotPersisted)
			}
			if f.State == models.LifecycleDeleted {
				s.mu.Unlock()
				return errNothingToDo
			}
			snapshot = f.Clone()
			ownerRef, remoteID = f.OwnerRef, f.ID
			f.State = models.LifecycleDeleted
			f.Touch(time.Now().UTC())
			s.mu.Unlock()
			s.emitter.Emit(event.FileDeletedEvent{RecordKey: recordKey})
			return nil
		},
		remote: func(ctx context.Context) error {
			return s.table.Update(ctx, fileCollection, ownerRef, remoteID, map[string]any{
				"lifecycle_state": string(models.LifecycleDeleted),
				"updated_at":      time.Now().UTC(),
			})
		},
		rollback: func() {
			s.mu.Lock()
			if _, ok := s.items[recordKey]; ok {
				s.items[recordKey] = snapshot
			}
			s.mu.Unlock()
			s.emitter.Emit(event.FileRevertedEvent{RecordKey: recordKey})
		},
	})
	if errors.Is(err, errNothingToDo) {
		err = nil
	}
	s.status.end(err)
	return err
}

// Get is the audit path: it returns the record regardless of lifecycle
// state, so a soft-deleted file is still inspectable by key.
func (s *FileStore) Get(recordKey string) (*models.FileRecord, bool) {
	f := s.getClone(recordKey)
	return f, f != nil
}

func (s *FileStore) getClone(recordKey string) *models.FileRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.items[recordKey]; ok {
		return f.Clone()
	}
	return nil
}

// List returns the active records, newest upload first.
func (s *FileStore) List() []*models.FileRecord {
	return s.Find("", "")
}

// Find returns active records matching the category filter and text query,
// composed as logical AND. An empty or "all" category and an empty query are
// identity filters. Text search covers filename and description.
func (s *FileStore) Find(category models.MimeCategory, query string) []*models.FileRecord {
	active := s.activeClones()
	filtered := filterItems(active,
		func(f *models.FileRecord) bool {
			return category == "" || category == "all" || f.Category == category
		},
		func(f *models.FileRecord) bool {
			return matchQuery(query, f.Filename, f.Description)
		},
	)
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].UploadedAt.After(filtered[j].UploadedAt)
	})
	return filtered
}

// TotalSize sums file sizes over the filtered collection; identity filters
// give the total over the whole active library.
func (s *FileStore) TotalSize(category models.MimeCategory, query string) int64 {
	return sumBy(s.Find(category, query), func(f *models.FileRecord) int64 { return f.Size })
}

// CountByCategory counts active files per category. Every known category is
// present even when zero, plus an "all" total.
func (s *FileStore) CountByCategory() map[string]int {
	active := s.activeClones()
	byCat := countBy(active, models.KnownMimeCategories, func(f *models.FileRecord) models.MimeCategory {
		return f.Category
	})
	counts := make(map[string]int, len(byCat)+1)
	for k, v := range byCat {
		counts[string(k)] = v
	}
	counts["all"] = len(active)
	return counts
}

func (s *FileStore) activeClones() []*models.FileRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.FileRecord, 0, len(s.order))
	for _, key := range s.order {
		if f, ok := s.items[key]; ok && f.State == models.LifecycleActive {
			out = append(out, f.Clone())
		}
	}
	return out
}

// errs for callers that want to branch on upload batch outcomes
var ErrPartialBatch = errors.New("some uploads failed")

// BatchError summarizes a batch with at least one failure.
func BatchError(results []UploadResult) error {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d", ErrPartialBatch, failed, len(results))
}

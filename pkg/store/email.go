package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nimbusdesk/nimbusdesk/pkg/backend"
	"github.com/nimbusdesk/nimbusdesk/pkg/event"
	"github.com/nimbusdesk/nimbusdesk/pkg/models"
	"github.com/nimbusdesk/nimbusdesk/pkg/utils"
)

const (
	draftCollection    = "email_drafts"
	templateCollection = "email_templates"
	sentLogCollection  = "email_log"
)

// Mailer delivers a message through the remote mail service. Implemented by
// backend.Client.
type Mailer interface {
	SendEmail(ctx context.Context, to []string, subject, body string, attachments []models.AttachmentRef) error
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

// EmailStore caches drafts, templates and the append-only sent log. Drafts
// and templates use physical delete with confirm-before-remove; the sent log
// is append-only.
type EmailStore struct {
	table   backend.Table
	mailer  Mailer
	emitter *event.Emitter
	logger  *slog.Logger
	muts    *mutator
	status  status

	mu        sync.RWMutex
	drafts    map[string]*models.EmailDraft
	templates map[string]*models.EmailTemplate
	sent      []*models.SentEmail
}

// NewEmailStore creates an empty store bound to the remote tables and mailer.
func NewEmailStore(table backend.Table, mailer Mailer, emitter *event.Emitter) *EmailStore {
	return &EmailStore{
		table:     table,
		mailer:    mailer,
		emitter:   emitter,
		logger:    utils.GetLogger(),
		muts:      newMutator(),
		drafts:    make(map[string]*models.EmailDraft),
		templates: make(map[string]*models.EmailTemplate),
	}
}

// Status returns the store state and the error of the last finished call.
func (s *EmailStore) Status() (State, error) { return s.status.snapshot() }

// Load refreshes all three collections. Each collection loads independently;
// a failing one keeps its previous cache and the others still refresh.
func (s *EmailStore) Load(ctx context.Context) error {
	s.status.begin(StateLoading)
	var errs []error

	if raw, err := s.table.List(ctx, draftCollection, backend.Query{Sort: "updated_at", Order: "desc"}); err != nil {
		errs = append(errs, fmt.Errorf("load drafts: %w", err))
	} else {
		drafts := make(map[string]*models.EmailDraft, len(raw))
		for _, r := range raw {
			var d models.EmailDraft
			if err := json.Unmarshal(r, &d); err != nil || d.RecordKey == "" {
				continue
			}
			drafts[d.RecordKey] = &d
		}
		s.mu.Lock()
		s.drafts = drafts
		s.mu.Unlock()
	}

	if raw, err := s.table.List(ctx, templateCollection, backend.Query{Sort: "name", Order: "asc"}); err != nil {
		errs = append(errs, fmt.Errorf("load templates: %w", err))
	} else {
		templates := make(map[string]*models.EmailTemplate, len(raw))
		for _, r := range raw {
			var t models.EmailTemplate
			if err := json.Unmarshal(r, &t); err != nil || t.RecordKey == "" {
				continue
			}
			templates[t.RecordKey] = &t
		}
		s.mu.Lock()
		s.templates = templates
		s.mu.Unlock()
	}

	if raw, err := s.table.List(ctx, sentLogCollection, backend.Query{Sort: "sent_at", Order: "desc"}); err != nil {
		errs = append(errs, fmt.Errorf("load sent log: %w", err))
	} else {
		sent := make([]*models.SentEmail, 0, len(raw))
		for _, r := range raw {
			var e models.SentEmail
			if err := json.Unmarshal(r, &e); err != nil || e.RecordKey == "" {
				continue
			}
			sent = append(sent, &e)
		}
		s.mu.Lock()
		s.sent = sent
		s.mu.Unlock()
	}

	err := errors.Join(errs...)
	s.status.end(err)
	return err
}

// SaveDraft creates or updates a draft. A draft with no record key is new.
func (s *EmailStore) SaveDraft(ctx context.Context, draft *models.EmailDraft) (*models.EmailDraft, error) {
	if draft.RecordKey == "" {
		return s.createDraft(ctx, draft)
	}
	return s.updateDraft(ctx, draft)
}

func (s *EmailStore) createDraft(ctx context.Context, draft *models.EmailDraft) (*models.EmailDraft, error) {
	now := time.Now().UTC()
	d := draft.Clone()
	d.RecordMeta = models.RecordMeta{RecordKey: uuid.NewString(), CreatedAt: now, UpdatedAt: now}

	var meta *models.RecordMeta
	s.status.begin(StateMutating)
	err := s.muts.do(ctx, mutation{
		key: d.RecordKey,
		apply: func() error {
			s.mu.Lock()
			s.drafts[d.RecordKey] = d
			s.mu.Unlock()
			s.emitter.Emit(event.DraftSavedEvent{RecordKey: d.RecordKey})
			return nil
		},
		remote: func(ctx context.Context) error {
			if err := s.table.Add(ctx, draftCollection, d); err != nil {
				return err
			}
			var err error
			meta, err = fetchMeta(ctx, s.table, draftCollection, d.RecordKey)
			return err
		},
		confirm: func() {
			s.mu.Lock()
			if cached, ok := s.drafts[d.RecordKey]; ok {
				cached.ID = meta.ID
				cached.OwnerRef = meta.OwnerRef
			}
			s.mu.Unlock()
		},
		rollback: func() {
			s.mu.Lock()
			delete(s.drafts, d.RecordKey)
			s.mu.Unlock()
		},
	})
	s.status.end(err)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cur, ok := s.drafts[d.RecordKey]; ok {
		return cur.Clone(), nil
	}
	return d.Clone(), nil
}

func (s *EmailStore) updateDraft(ctx context.Context, draft *models.EmailDraft) (*models.EmailDraft, error) {
	var (
		snapshot *models.EmailDraft
		updated  *models.EmailDraft
		ownerRef string
		remoteID string
	)
	now := time.Now().UTC()
	s.status.begin(StateMutating)
	err := s.muts.do(ctx, mutation{
		key: draft.RecordKey,
		apply: func() error {
			s.mu.Lock()
			d, ok := s.drafts[draft.RecordKey]
			if !ok {
				s.mu.Unlock()
				return fmt.Errorf("draft %s: %w", draft.RecordKey, ErrNotFound)
			}
			if !d.Persisted() {
				s.mu.Unlock()
				return fmt.Errorf("draft %s: %w", draft.RecordKey, ErrNotPersisted)
			}
			snapshot = d.Clone()
			ownerRef, remoteID = d.OwnerRef, d.ID
			d.To = append([]string(nil), draft.To...)
			d.Subject = draft.Subject
			d.Body = draft.Body
			d.Attachments = append([]models.AttachmentRef(nil), draft.Attachments...)
			d.Touch(now)
			updated = d.Clone()
			s.mu.Unlock()
			s.emitter.Emit(event.DraftSavedEvent{RecordKey: draft.RecordKey})
			return nil
		},
		remote: func(ctx context.Context) error {
			return s.table.Update(ctx, draftCollection, ownerRef, remoteID, map[string]any{
				"to":          draft.To,
				"subject":     draft.Subject,
				"body":        draft.Body,
				"attachments": draft.Attachments,
				"updated_at":  now,
			})
		},
		rollback: func() {
			s.mu.Lock()
			if _, ok := s.drafts[draft.RecordKey]; ok {
				s.drafts[draft.RecordKey] = snapshot
			}
			s.mu.Unlock()
		},
	})
	s.status.end(err)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteDraft physically removes a draft after remote confirmation.
func (s *EmailStore) DeleteDraft(ctx context.Context, recordKey string) error {
	var ownerRef, remoteID string
	s.status.begin(StateMutating)
	err := s.muts.do(ctx, mutation{
		key: recordKey,
		apply: func() error {
			s.mu.RLock()
			defer s.mu.RUnlock()
			d, ok := s.drafts[recordKey]
			if !ok {
				return fmt.Errorf("draft %s: %w", recordKey, ErrNotFound)
			}
			if !d.Persisted() {
				return fmt.Errorf("draft %s: %w", recordKey, ErrNotPersisted)
			}
			ownerRef, remoteID = d.OwnerRef, d.ID
			return nil
		},
		remote: func(ctx context.Context) error {
			return s.table.Delete(ctx, draftCollection, ownerRef, remoteID)
		},
		confirm: func() {
			s.mu.Lock()
			delete(s.drafts, recordKey)
			s.mu.Unlock()
			s.emitter.Emit(event.DraftDeletedEvent{RecordKey: recordKey})
		},
	})
	s.status.end(err)
	return err
}

// SaveTemplate creates or updates a reusable template.
func (s *EmailStore) SaveTemplate(ctx context.Context, tpl *models.EmailTemplate) (*models.EmailTemplate, error) {
	if strings.TrimSpace(tpl.Name) == "" {
		return nil, fmt.Errorf("empty template name")
	}
	if tpl.RecordKey == "" {
		return s.createTemplate(ctx, tpl)
	}
	return s.updateTemplate(ctx, tpl)
}

func (s *EmailStore) createTemplate(ctx context.Context, tpl *models.EmailTemplate) (*models.EmailTemplate, error) {
	now := time.Now().UTC()
	t := tpl.Clone()
	t.RecordMeta = models.RecordMeta{RecordKey: uuid.NewString(), CreatedAt: now, UpdatedAt: now}

	var meta *models.RecordMeta
	s.status.begin(StateMutating)
	err := s.muts.do(ctx, mutation{
		key: t.RecordKey,
		apply: func() error {
			s.mu.Lock()
			s.templates[t.RecordKey] = t
			s.mu.Unlock()
			s.emitter.Emit(event.TemplateSavedEvent{RecordKey: t.RecordKey})
			return nil
		},
		remote: func(ctx context.Context) error {
			if err := s.table.Add(ctx, templateCollection, t); err != nil {
				return err
			}
			var err error
			meta, err = fetchMeta(ctx, s.table, templateCollection, t.RecordKey)
			return err
		},
		confirm: func() {
			s.mu.Lock()
			if cached, ok := s.templates[t.RecordKey]; ok {
				cached.ID = meta.ID
				cached.OwnerRef = meta.OwnerRef
			}
			s.mu.Unlock()
		},
		rollback: func() {
			s.mu.Lock()
			delete(s.templates, t.RecordKey)
			s.mu.Unlock()
		},
	})
	s.status.end(err)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cur, ok := s.templates[t.RecordKey]; ok {
		return cur.Clone(), nil
	}
	return t.Clone(), nil
}

func (s *EmailStore) updateTemplate(ctx context.Context, tpl *models.EmailTemplate) (*models.EmailTemplate, error) {
	var (
		snapshot *models.EmailTemplate
		updated  *models.EmailTemplate
		ownerRef string
		remoteID string
	)
	now := time.Now().UTC()
	s.status.begin(StateMutating)
	err := s.muts.do(ctx, mutation{
		key: tpl.RecordKey,
		apply: func() error {
			s.mu.Lock()
			t, ok := s.templates[tpl.RecordKey]
			if !ok {
				s.mu.Unlock()
				return fmt.Errorf("template %s: %w", tpl.RecordKey, ErrNotFound)
			}
			if !t.Persisted() {
				s.mu.Unlock()
				return fmt.Errorf("template %s: %w", tpl.RecordKey, ErrNotPersisted)
			}
			snapshot = t.Clone()
			ownerRef, remoteID = t.OwnerRef, t.ID
			t.Name = tpl.Name
			t.Subject = tpl.Subject
			t.Body = tpl.Body
			t.Touch(now)
			updated = t.Clone()
			s.mu.Unlock()
			s.emitter.Emit(event.TemplateSavedEvent{RecordKey: tpl.RecordKey})
			return nil
		},
		remote: func(ctx context.Context) error {
			return s.table.Update(ctx, templateCollection, ownerRef, remoteID, map[string]any{
				"name":       tpl.Name,
				"subject":    tpl.Subject,
				"body":       tpl.Body,
				"updated_at": now,
			})
		},
		rollback: func() {
			s.mu.Lock()
			if _, ok := s.templates[tpl.RecordKey]; ok {
				s.templates[tpl.RecordKey] = snapshot
			}
			s.mu.Unlock()
		},
	})
	s.status.end(err)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTemplate physically removes a template after remote confirmation.
func (s *EmailStore) DeleteTemplate(ctx context.Context, recordKey string) error {
	var ownerRef, remoteID string
	s.status.begin(StateMutating)
	err := s.muts.do(ctx, mutation{
		key: recordKey,
		apply: func() error {
			s.mu.RLock()
			defer s.mu.RUnlock()
			t, ok := s.templates[recordKey]
			if !ok {
				return fmt.Errorf("template %s: %w", recordKey, ErrNotFound)
			}
			if !t.Persisted() {
				return fmt.Errorf("template %s: %w", recordKey, ErrNotPersisted)
			}
			ownerRef, remoteID = t.OwnerRef, t.ID
			return nil
		},
		remote: func(ctx context.Context) error {
			return s.table.Delete(ctx, templateCollection, ownerRef, remoteID)
		},
		confirm: func() {
			s.mu.Lock()
			delete(s.templates, recordKey)
			s.mu.Unlock()
			s.emitter.Emit(event.TemplateDeletedEvent{RecordKey: recordKey})
		},
	})
	s.status.end(err)
	return err
}

// RenderTemplate instantiates a template, replacing {{name}} tokens from
// vars. Unknown tokens are left in place.
func (s *EmailStore) RenderTemplate(recordKey string, vars map[string]string) (subject, body string, err error) {
	s.mu.RLock()
	tpl, ok := s.templates[recordKey]
	s.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %s: %w", recordKey, ErrNotFound)
	}
	replace := func(in string) string {
		return placeholderPattern.ReplaceAllStringFunc(in, func(m string) string {
			name := placeholderPattern.FindStringSubmatch(m)[1]
			if v, ok := vars[name]; ok {
				return v
			}
			return m
		})
	}
	return replace(tpl.Subject), replace(tpl.Body), nil
}

// Send validates the draft, delivers it through the mailer, then appends the
// sent log entry as its own optimistic create. Validation failures change no
// state at all; a failed log append is recoverable and never undoes the send.
func (s *EmailStore) Send(ctx context.Context, draft *models.EmailDraft) (*models.SentEmail, error) {
	if err := models.ValidateAddresses(draft.To); err != nil {
		return nil, err
	}

	if err := s.mailer.SendEmail(ctx, draft.To, draft.Subject, draft.Body, draft.Attachments); err != nil {
		return nil, fmt.Errorf("send email: %w", err)
	}

	now := time.Now().UTC()
	entry := &models.SentEmail{
		RecordMeta: models.RecordMeta{RecordKey: uuid.NewString(), CreatedAt: now, UpdatedAt: now},
		To:         append([]string(nil), draft.To...),
		Subject:    draft.Subject,
		Body:       draft.Body,
		SentAt:     now,
	}

	var meta *models.RecordMeta
	s.status.begin(StateMutating)
	err := s.muts.do(ctx, mutation{
		key: entry.RecordKey,
		apply: func() error {
			s.mu.Lock()
			s.sent = append([]*models.SentEmail{entry}, s.sent...)
			s.mu.Unlock()
			s.emitter.Emit(event.EmailSentEvent{RecordKey: entry.RecordKey, Subject: entry.Subject})
			return nil
		},
		remote: func(ctx context.Context) error {
			if err := s.table.Add(ctx, sentLogCollection, entry); err != nil {
				return err
			}
			var err error
			meta, err = fetchMeta(ctx, s.table, sentLogCollection, entry.RecordKey)
			return err
		},
		confirm: func() {
			s.mu.Lock()
			for _, e := range s.sent {
				if e.RecordKey == entry.RecordKey {
					e.ID = meta.ID
					e.OwnerRef = meta.OwnerRef
					break
				}
			}
			s.mu.Unlock()
		},
		rollback: func() {
			s.mu.Lock()
			for i, e := range s.sent {
				if e.RecordKey == entry.RecordKey {
					s.sent = append(s.sent[:i], s.sent[i+1:]...)
					break
				}
			}
			s.mu.Unlock()
		},
	})
	s.status.end(err)
	if err != nil {
		// The message left the building; report the log failure but return
		// the entry so the caller can retry the bookkeeping.
		return entry.Clone(), err
	}
	return entry.Clone(), nil
}

// SendDraft sends a cached draft and deletes it on success. The delete is an
// independent mutation; its failure leaves the draft in place.
func (s *EmailStore) SendDraft(ctx context.Context, recordKey string) (*models.SentEmail, error) {
	s.mu.RLock()
	draft, ok := s.drafts[recordKey]
	if !ok {
		s.mu.RUnlock()
		return nil, fmt.Errorf("draft %s: %w", recordKey, ErrNotFound)
	}
	draft = draft.Clone()
	s.mu.RUnlock()

	sent, err := s.Send(ctx, draft)
	if err != nil {
		return sent, err
	}
	if draft.Persisted() {
		if err := s.DeleteDraft(ctx, recordKey); err != nil {
			s.logger.Warn("sent draft could not be deleted", "record_key", recordKey, "error", err)
		}
	}
	return sent, nil
}

// Drafts returns copies of all drafts, most recently updated first.
func (s *EmailStore) Drafts() []*models.EmailDraft {
	s.mu.RLock()
	out := make([]*models.EmailDraft, 0, len(s.drafts))
	for _, d := range s.drafts {
		out = append(out, d.Clone())
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Templates returns copies of all templates sorted by name.
func (s *EmailStore) Templates() []*models.EmailTemplate {
	s.mu.RLock()
	out := make([]*models.EmailTemplate, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t.Clone())
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetDraft returns a copy of one draft.
func (s *EmailStore) GetDraft(recordKey string) (*models.EmailDraft, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.drafts[recordKey]; ok {
		return d.Clone(), true
	}
	return nil, false
}

// GetTemplate returns a copy of one template.
func (s *EmailStore) GetTemplate(recordKey string) (*models.EmailTemplate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.templates[recordKey]; ok {
		return t.Clone(), true
	}
	return nil, false
}

// SentLog returns copies of the sent log, newest first.
func (s *EmailStore) SentLog() []*models.SentEmail {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.SentEmail, 0, len(s.sent))
	for _, e := range s.sent {
		out = append(out, e.Clone())
	}
	return out
}

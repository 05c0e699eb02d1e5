package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
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

const conversationCollection = "conversations"

// ConversationStore caches the conversation collection. Conversations use
// physical delete: the cache entry is removed only after the remote delete is
// confirmed, never before.
type ConversationStore struct {
	table   backend.Table
	emitter *event.Emitter
	logger  *slog.Logger
	muts    *mutator
	status  status

	mu      sync.RWMutex
	items   map[string]*models.Conversation // by record key
	order   []string                        // record keys in load/create order
	current string                          // selected conversation record key
}

// NewConversationStore creates an empty store bound to the remote table.
func NewConversationStore(table backend.Table, emitter *event.Emitter) *ConversationStore {
	return &ConversationStore{
		table:   table,
		emitter: emitter,
		logger:  utils.GetLogger(),
		muts:    newMutator(),
		items:   make(map[string]*models.Conversation),
	}
}

// Status returns the store state and the error of the last finished call.
func (s *ConversationStore) Status() (State, error) { return s.status.snapshot() }

// Load replaces the cache with the remote collection. On failure the previous
// cache is left untouched: stale-but-consistent beats empty.
func (s *ConversationStore) Load(ctx context.Context) error {
	s.status.begin(StateLoading)
	raw, err := s.table.List(ctx, conversationCollection, backend.Query{Sort: "updated_at", Order: "desc"})
	if err != nil {
		s.status.end(err)
		return fmt.Errorf("load conversations: %w", err)
	}

	items := make(map[string]*models.Conversation, len(raw))
	order := make([]string, 0, len(raw))
	for _, r := range raw {
		var conv models.Conversation
		if err := json.Unmarshal(r, &conv); err != nil {
			s.logger.Warn("skipping undecodable conversation record", "error", err)
			continue
		}
		if conv.RecordKey == "" {
			continue
		}
		items[conv.RecordKey] = &conv
		order = append(order, conv.RecordKey)
	}

	s.mu.Lock()
	s.items = items
	s.order = order
	if _, ok := s.items[s.current]; !ok {
		s.current = ""
	}
	s.mu.Unlock()

	s.status.end(nil)
	return nil
}

// Create starts a new conversation for the given tool. The caller sees the
// conversation immediately; the remote identity is merged in once the create
// is acknowledged and re-listed.
func (s *ConversationStore) Create(ctx context.Context, title string, tool models.ToolKind) (*models.Conversation, error) {
	if title = strings.TrimSpace(title); title == "" {
		title = "New Chat"
	}
	now := time.Now().UTC()
	conv := &models.Conversation{
		RecordMeta: models.RecordMeta{RecordKey: uuid.NewString(), CreatedAt: now, UpdatedAt: now},
		Title:      title,
		Tool:       tool,
		Messages:   []models.Message{},
	}

	var meta *models.RecordMeta
	s.status.begin(StateMutating)
	err := s.muts.do(ctx, mutation{
		key: conv.RecordKey,
		apply: func() error {
			s.mu.Lock()
			s.items[conv.RecordKey] = conv
			s.order = append(s.order, conv.RecordKey)
			s.mu.Unlock()
			s.emitter.Emit(event.ConversationCreatedEvent{RecordKey: conv.RecordKey, Tool: string(tool)})
			return nil
		},
		remote: func(ctx context.Context) error {
			if err := s.table.Add(ctx, conversationCollection, conv); err != nil {
				return err
			}
			var err error
			meta, err = fetchMeta(ctx, s.table, conversationCollection, conv.RecordKey)
			return err
		},
		confirm: func() {
			s.mu.Lock()
			if cached, ok := s.items[conv.RecordKey]; ok {
				cached.ID = meta.ID
				cached.OwnerRef = meta.OwnerRef
			}
			s.mu.Unlock()
		},
		rollback: func() {
			s.mu.Lock()
			delete(s.items, conv.RecordKey)
			s.order = removeKey(s.order, conv.RecordKey)
			s.mu.Unlock()
			s.emitter.Emit(event.ConversationRevertedEvent{RecordKey: conv.RecordKey})
		},
	})
	s.status.end(err)
	if err != nil {
		return nil, err
	}
	return s.getClone(conv.RecordKey), nil
}

// Rename changes a conversation title.
func (s *ConversationStore) Rename(ctx context.Context, recordKey, title string) error {
	if title = strings.TrimSpace(title); title == "" {
		return fmt.Errorf("empty title")
	}
	return s.patch(ctx, recordKey, func(conv *models.Conversation, now time.Time) map[string]any {
		conv.Title = title
		conv.Touch(now)
		return map[string]any{"title": title, "updated_at": now}
	})
}

// AppendMessage appends one immutable message to a conversation. Messages are
// never reordered or removed individually.
func (s *ConversationStore) AppendMessage(ctx context.Context, recordKey string, msg models.Message) error {
	if msg.Role != models.RoleUser && msg.Role != models.RoleAssistant {
		return fmt.Errorf("invalid message role %q", msg.Role)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return s.patch(ctx, recordKey, func(conv *models.Conversation, now time.Time) map[string]any {
		conv.Messages = append(conv.Messages, msg)
		conv.Touch(now)
		return map[string]any{"messages": conv.Messages, "updated_at": now}
	})
}

// patch runs the shared optimistic update cycle: snapshot, mutate locally,
// confirm remotely, restore the snapshot on failure. Preconditions and the
// snapshot are evaluated inside apply, under the entity lock, so a mutation
// queued behind a delete on the same conversation sees the entry gone instead
// of a stale precheck.
func (s *ConversationStore) patch(ctx context.Context, recordKey string, mutate func(conv *models.Conversation, now time.Time) map[string]any) error {
	var (
		snapshot *models.Conversation
		patch    map[string]any
		ownerRef string
		remoteID string
	)
	s.status.begin(StateMutating)
	err := s.muts.do(ctx, mutation{
		key: recordKey,
		apply: func() error {
			s.mu.Lock()
			conv, ok := s.items[recordKey]
			if !ok {
				s.mu.Unlock()
				return fmt.Errorf("conversation %s: %w", recordKey, ErrNotFound)
			}
			if !conv.Persisted() {
				s.mu.Unlock()
				return fmt.Errorf("conversation %s: %w", recordKey, ErrNotPersisted)
			}
			snapshot = conv.Clone()
			ownerRef, remoteID = conv.OwnerRef, conv.ID
			patch = mutate(conv, time.Now().UTC())
			s.mu.Unlock()
			s.emitter.Emit(event.ConversationUpdatedEvent{RecordKey: recordKey})
			return nil
		},
		remote: func(ctx context.Context) error {
			return s.table.Update(ctx, conversationCollection, ownerRef, remoteID, patch)
		},
		rollback: func() {
			s.mu.Lock()
			if _, ok := s.items[recordKey]; ok {
				s.items[recordKey] = snapshot
			}
			s.mu.Unlock()
			s.emitter.Emit(event.ConversationRevertedEvent{RecordKey: recordKey})
		},
	})
	s.status.end(err)
	return err
}

// Delete removes a conversation and all its messages. The cache entry stays
// visible until the remote delete is confirmed, so a failed call never shows
// a deletion the backend later contradicts.
func (s *ConversationStore) Delete(ctx context.Context, recordKey string) error {
	var ownerRef, remoteID string
	s.status.begin(StateMutating)
	err := s.muts.do(ctx, mutation{
		key: recordKey,
		apply: func() error {
			s.mu.RLock()
			defer s.mu.RUnlock()
			conv, ok := s.items[recordKey]
			if !ok {
				return fmt.Errorf("conversation %s: %w", recordKey, ErrNotFound)
			}
			if !conv.Persisted() {
				return fmt.Errorf("conversation %s: %w", recordKey, ErrNotPersisted)
			}
			ownerRef, remoteID = conv.OwnerRef, conv.ID
			return nil
		},
		remote: func(ctx context.Context) error {
			return s.table.Delete(ctx, conversationCollection, ownerRef, remoteID)
		},
		confirm: func() {
			s.mu.Lock()
			delete(s.items, recordKey)
			s.order = removeKey(s.order, recordKey)
			if s.current == recordKey {
				s.current = ""
			}
			s.mu.Unlock()
			s.emitter.Emit(event.ConversationDeletedEvent{RecordKey: recordKey})
		},
	})
	s.status.end(err)
	return err
}

// SetCurrent records the selected conversation.
func (s *ConversationStore) SetCurrent(recordKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if recordKey != "" {
		if _, ok := s.items[recordKey]; !ok {
			return fmt.Errorf("conversation %s: %w", recordKey, ErrNotFound)
		}
	}
	s.current = recordKey
	return nil
}

// Current returns the selected conversation record key ("" when none).
func (s *ConversationStore) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Get returns a copy of one conversation.
func (s *ConversationStore) Get(recordKey string) (*models.Conversation, bool) {
	c := s.getClone(recordKey)
	return c, c != nil
}

func (s *ConversationStore) getClone(recordKey string) *models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if conv, ok := s.items[recordKey]; ok {
		return conv.Clone()
	}
	return nil
}

// List returns copies of all conversations, most recently updated first.
func (s *ConversationStore) List() []*models.Conversation {
	return s.Find("", "")
}

// Find returns conversations matching the tool filter and text query,
// composed as logical AND. An empty or "all" tool and an empty query are
// identity filters. Text search covers the title and all message contents.
func (s *ConversationStore) Find(tool models.ToolKind, query string) []*models.Conversation {
	s.mu.RLock()
	all := make([]*models.Conversation, 0, len(s.order))
	for _, key := range s.order {
		if conv, ok := s.items[key]; ok {
			all = append(all, conv.Clone())
		}
	}
	s.mu.RUnlock()

	filtered := filterItems(all,
		func(c *models.Conversation) bool {
			return tool == "" || tool == "all" || c.Tool == tool
		},
		func(c *models.Conversation) bool {
			fields := make([]string, 0, len(c.Messages)+1)
			fields = append(fields, c.Title)
			for _, m := range c.Messages {
				fields = append(fields, m.Content)
			}
			return matchQuery(query, fields...)
		},
	)
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].UpdatedAt.After(filtered[j].UpdatedAt)
	})
	return filtered
}

func removeKey(keys []string, key string) []string {
	for i, k := range keys {
		if k == key {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}

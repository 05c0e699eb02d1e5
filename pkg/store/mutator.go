// Package store holds the client-side caches of the remote-backed
// collections. Each store owns its cache exclusively: reads serve from local
// state, mutations apply locally first and are confirmed against the remote
// table, rolling back to the pre-mutation snapshot when the remote call fails.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nimbusdesk/nimbusdesk/pkg/backend"
	"github.com/nimbusdesk/nimbusdesk/pkg/models"
)

// State is the coarse lifecycle of a store's current operation.
type State string

const (
	StateIdle     State = "idle"
	StateLoading  State = "loading"
	StateMutating State = "mutating"
)

// ErrNotPersisted is returned when a mutation addresses an entity whose
// remote identity (id + owner ref) has not been learned yet. Callers retry
// after the create settles; nothing is applied locally.
var ErrNotPersisted = errors.New("record not yet persisted remotely")

// ErrNotFound is returned when a mutation addresses a record key absent from
// the cache.
var ErrNotFound = errors.New("record not found")

// errNothingToDo aborts a mutation whose precondition shows the desired state
// already holds. Callers translate it to a silent no-op.
var errNothingToDo = errors.New("nothing to do")

// mutation describes one optimistic write.
//
// apply runs synchronously under the entity lock before the remote call, so
// no reader observes a torn intermediate state. Preconditions (entity exists,
// remote identity learned) and the rollback snapshot belong inside apply:
// captured any earlier they can describe state a queued same-key mutation has
// already superseded. A failed apply aborts the mutation before the remote
// call; nothing is rolled back. confirm runs only after the remote call
// succeeds (merging remote-assigned identity, or removing a physically
// deleted entity from the cache).
type mutation struct {
	key      string
	apply    func() error
	remote   func(ctx context.Context) error
	confirm  func()
	rollback func()
}

// mutator serializes mutations per entity key. Two mutations on the same key
// never interleave, so each rollback restores from the state it observed;
// mutations on different keys proceed independently.
type mutator struct {
	mu    sync.Mutex
	locks map[string]*entityLock
}

type entityLock struct {
	mu   sync.Mutex
	refs int
}

func newMutator() *mutator {
	return &mutator{locks: make(map[string]*entityLock)}
}

func (m *mutator) acquire(key string) func() {
	m.mu.Lock()
	l := m.locks[key]
	if l == nil {
		l = &entityLock{}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

// do runs one optimistic mutation to completion. The remote call carries the
// backend client's own timeout, so a hung network call cannot hold the entity
// lock forever.
func (m *mutator) do(ctx context.Context, mut mutation) error {
	release := m.acquire(mut.key)
	defer release()

	if mut.apply != nil {
		if err := mut.apply(); err != nil {
			return err
		}
	}
	if err := mut.remote(ctx); err != nil {
		if mut.rollback != nil {
			mut.rollback()
		}
		return fmt.Errorf("remote write failed, local state restored: %w", err)
	}
	if mut.confirm != nil {
		mut.confirm()
	}
	return nil
}

// status tracks the store state machine. A failed call records its error and
// always resolves back to idle; there is no terminal error state and no
// global lock blocking unrelated reads.
type status struct {
	mu      sync.Mutex
	state   State
	lastErr error
}

func (s *status) begin(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *status) end(err error) {
	s.mu.Lock()
	s.state = StateIdle
	s.lastErr = err
	s.mu.Unlock()
}

func (s *status) snapshot() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.lastErr
}

// fetchMeta learns the remote-assigned identity of a just-created record by
// re-listing on its client-generated key. The table's add call acknowledges
// without returning the id, so this is the only way to make the record
// addressable for later update/delete calls.
func fetchMeta(ctx context.Context, table backend.Table, collection, recordKey string) (*models.RecordMeta, error) {
	items, err := table.List(ctx, collection, backend.Query{
		Filter: map[string]any{"record_key": recordKey},
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("created record %s/%s not visible remotely", collection, recordKey)
	}
	var holder struct {
		models.RecordMeta
	}
	if err := json.Unmarshal(items[0], &holder); err != nil {
		return nil, fmt.Errorf("decode created record %s/%s: %w", collection, recordKey, err)
	}
	if holder.ID == "" || holder.OwnerRef == "" {
		return nil, fmt.Errorf("created record %s/%s missing identity fields", collection, recordKey)
	}
	return &holder.RecordMeta, nil
}

package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMutator_SameKeyMutationsSerialize(t *testing.T) {
	m := newMutator()
	ctx := context.Background()

	// Each mutation does a read-modify-write with the read in apply and the
	// write in confirm. Without per-key serialization the writes interleave
	// and updates get lost.
	var counter int
	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var seen int
			_ = m.do(ctx, mutation{
				key:     "same-entity",
				apply:   func() error { seen = counter; return nil },
				remote:  func(context.Context) error { return nil },
				confirm: func() { counter = seen + 1 },
			})
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Errorf("counter = %d, want %d (lost updates under contention)", counter, workers)
	}
}

func TestMutator_DifferentKeysDoNotBlockEachOther(t *testing.T) {
	m := newMutator()
	ctx := context.Background()

	holdingA := make(chan struct{})
	releaseA := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = m.do(ctx, mutation{
			key: "a",
			remote: func(context.Context) error {
				close(holdingA)
				<-releaseA
				return nil
			},
		})
	}()
	<-holdingA

	go func() {
		_ = m.do(ctx, mutation{
			key:    "b",
			remote: func(context.Context) error { return nil },
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("mutation on a different key blocked behind an unrelated entity lock")
	}
	close(releaseA)
}

func TestMutator_RemoteFailureRunsRollbackNotConfirm(t *testing.T) {
	m := newMutator()
	boom := errors.New("boom")

	var applied, rolledBack, confirmed bool
	err := m.do(context.Background(), mutation{
		key:      "k",
		apply:    func() error { applied = true; return nil },
		remote:   func(context.Context) error { return boom },
		confirm:  func() { confirmed = true },
		rollback: func() { rolledBack = true },
	})

	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	if !applied || !rolledBack {
		t.Errorf("applied=%v rolledBack=%v, want both", applied, rolledBack)
	}
	if confirmed {
		t.Error("confirm ran for a failed mutation")
	}
}

func TestMutator_FailedApplyAbortsBeforeRemote(t *testing.T) {
	m := newMutator()
	precondition := errors.New("gone")

	var remoteCalled, rolledBack bool
	err := m.do(context.Background(), mutation{
		key:      "k",
		apply:    func() error { return precondition },
		remote:   func(context.Context) error { remoteCalled = true; return nil },
		rollback: func() { rolledBack = true },
	})

	if !errors.Is(err, precondition) {
		t.Fatalf("err = %v, want precondition error", err)
	}
	if remoteCalled || rolledBack {
		t.Errorf("remoteCalled=%v rolledBack=%v, want neither after a failed apply", remoteCalled, rolledBack)
	}
}

func TestMutator_ReleasesLockStateWhenIdle(t *testing.T) {
	m := newMutator()
	_ = m.do(context.Background(), mutation{
		key:    "k",
		remote: func(context.Context) error { return nil },
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.locks) != 0 {
		t.Errorf("lock table holds %d entries after all mutations finished", len(m.locks))
	}
}

func TestStatus_AlwaysResolvesToIdle(t *testing.T) {
	var s status
	s.begin(StateMutating)
	if st, _ := s.snapshot(); st != StateMutating {
		t.Fatalf("state = %s", st)
	}
	boom := errors.New("boom")
	s.end(boom)
	st, err := s.snapshot()
	if st != StateIdle {
		t.Errorf("state after failure = %s, want idle", st)
	}
	if !errors.Is(err, boom) {
		t.Errorf("last error = %v", err)
	}

	s.begin(StateLoading)
	s.end(nil)
	if _, err := s.snapshot(); err != nil {
		t.Errorf("successful call did not clear last error: %v", err)
	}
}

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/nimbusdesk/nimbusdesk/pkg/event"
	"github.com/nimbusdesk/nimbusdesk/pkg/models"
)

func newEmailFixture() (*EmailStore, *fakeTable, *fakeMailer) {
	table := newFakeTable()
	mailer := &fakeMailer{}
	return NewEmailStore(table, mailer, event.NewEmitter()), table, mailer
}

func TestEmailStore_SaveDraft_CreateThenUpdate(t *testing.T) {
	s, table, _ := newEmailFixture()
	ctx := context.Background()

	draft, err := s.SaveDraft(ctx, &models.EmailDraft{
		To: []string{"ana@example.com"}, Subject: "hi", Body: "first pass",
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if !draft.Persisted() {
		t.Fatal("remote identity not merged after create")
	}

	draft.Body = "second pass"
	updated, err := s.SaveDraft(ctx, draft)
	if err != nil {
		t.Fatalf("update draft: %v", err)
	}
	if updated.Body != "second pass" {
		t.Errorf("body = %q", updated.Body)
	}
	if table.adds != 1 {
		t.Errorf("update issued a second create: %d adds", table.adds)
	}
	if got := len(s.Drafts()); got != 1 {
		t.Errorf("drafts = %d, want 1", got)
	}
}

func TestEmailStore_SaveDraft_UpdateRollbackRestoresSnapshot(t *testing.T) {
	s, table, _ := newEmailFixture()
	ctx := context.Background()

	draft, err := s.SaveDraft(ctx, &models.EmailDraft{
		To: []string{"ana@example.com"}, Subject: "hi", Body: "keep me",
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}

	table.failUpdate = errors.New("offline")
	draft.Body = "lost"
	if _, err := s.SaveDraft(ctx, draft); err == nil {
		t.Fatal("expected error")
	}
	got, _ := s.GetDraft(draft.RecordKey)
	if got.Body != "keep me" {
		t.Errorf("body = %q, want pre-mutation value", got.Body)
	}
}

func TestEmailStore_DeleteDraft_ConfirmBeforeRemove(t *testing.T) {
	s, table, _ := newEmailFixture()
	ctx := context.Background()

	draft, _ := s.SaveDraft(ctx, &models.EmailDraft{To: []string{"ana@example.com"}, Subject: "x"})

	table.failDelete = errors.New("offline")
	if err := s.DeleteDraft(ctx, draft.RecordKey); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := s.GetDraft(draft.RecordKey); !ok {
		t.Fatal("draft removed before remote delete was confirmed")
	}

	table.failDelete = nil
	if err := s.DeleteDraft(ctx, draft.RecordKey); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := s.GetDraft(draft.RecordKey); ok {
		t.Error("draft still cached after confirmed delete")
	}
}

func TestEmailStore_SaveDraft_QueuedBehindDeleteFailsCleanly(t *testing.T) {
	s, table, _ := newEmailFixture()
	ctx := context.Background()

	draft, err := s.SaveDraft(ctx, &models.EmailDraft{To: []string{"ana@example.com"}, Subject: "x"})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}

	table.deleteGate = make(chan struct{})
	table.deleteEntered = make(chan struct{})

	deleteDone := make(chan error, 1)
	go func() { deleteDone <- s.DeleteDraft(ctx, draft.RecordKey) }()
	<-table.deleteEntered

	updateDone := make(chan error, 1)
	go func() {
		draft.Body = "late edit"
		_, err := s.SaveDraft(ctx, draft)
		updateDone <- err
	}()
	close(table.deleteGate)

	if err := <-deleteDone; err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := <-updateDone; !errors.Is(err, ErrNotFound) {
		t.Fatalf("update queued behind delete: err = %v, want ErrNotFound", err)
	}
	if _, ok := s.GetDraft(draft.RecordKey); ok {
		t.Error("deleted draft resurfaced")
	}
}

func TestEmailStore_Send_InvalidAddressChangesNothing(t *testing.T) {
	s, table, mailer := newEmailFixture()

	_, err := s.Send(context.Background(), &models.EmailDraft{
		To: []string{"not-an-address"}, Subject: "x", Body: "y",
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if len(mailer.sent) != 0 {
		t.Error("mailer called despite invalid recipient")
	}
	if table.adds != 0 {
		t.Error("sent log written despite invalid recipient")
	}
	if got := len(s.SentLog()); got != 0 {
		t.Errorf("local sent log has %d entries", got)
	}
}

func TestEmailStore_Send_AppendsSentLog(t *testing.T) {
	s, _, mailer := newEmailFixture()

	entry, err := s.Send(context.Background(), &models.EmailDraft{
		To: []string{"ana@example.com", "bo@example.com"}, Subject: "minutes", Body: "attached",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("mailer calls = %d, want 1", len(mailer.sent))
	}
	if entry.SentAt.IsZero() {
		t.Error("sent timestamp not recorded")
	}
	log := s.SentLog()
	if len(log) != 1 || log[0].Subject != "minutes" {
		t.Fatalf("sent log = %+v", log)
	}
	if !log[0].Persisted() {
		t.Error("log entry identity not merged")
	}
}

func TestEmailStore_Send_MailerFailureLeavesLogEmpty(t *testing.T) {
	s, table, mailer := newEmailFixture()
	mailer.err = errors.New("smtp down")

	_, err := s.Send(context.Background(), &models.EmailDraft{
		To: []string{"ana@example.com"}, Subject: "x", Body: "y",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := len(s.SentLog()); got != 0 {
		t.Errorf("sent log has %d entries after failed delivery", got)
	}
	if table.adds != 0 {
		t.Error("log record created for undelivered message")
	}
}

func TestEmailStore_SendDraft_DeletesDraftOnSuccess(t *testing.T) {
	s, _, _ := newEmailFixture()
	ctx := context.Background()

	draft, _ := s.SaveDraft(ctx, &models.EmailDraft{
		To: []string{"ana@example.com"}, Subject: "ship it", Body: "done",
	})
	if _, err := s.SendDraft(ctx, draft.RecordKey); err != nil {
		t.Fatalf("send draft: %v", err)
	}
	if _, ok := s.GetDraft(draft.RecordKey); ok {
		t.Error("sent draft still in drafts")
	}
	if got := len(s.SentLog()); got != 1 {
		t.Errorf("sent log = %d entries, want 1", got)
	}
}

func TestEmailStore_RenderTemplate_ReplacesKnownTokensOnly(t *testing.T) {
	s, _, _ := newEmailFixture()
	ctx := context.Background()

	tpl, err := s.SaveTemplate(ctx, &models.EmailTemplate{
		Name:    "welcome",
		Subject: "Welcome, {{name}}!",
		Body:    "Hi {{name}}, your plan is {{ plan }}. Ref: {{ticket}}",
	})
	if err != nil {
		t.Fatalf("save template: %v", err)
	}

	subject, body, err := s.RenderTemplate(tpl.RecordKey, map[string]string{
		"name": "Ana", "plan": "Pro",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if subject != "Welcome, Ana!" {
		t.Errorf("subject = %q", subject)
	}
	if body != "Hi Ana, your plan is Pro. Ref: {{ticket}}" {
		t.Errorf("body = %q", body)
	}
}

func TestEmailStore_SaveTemplate_RejectsEmptyName(t *testing.T) {
	s, _, _ := newEmailFixture()
	if _, err := s.SaveTemplate(context.Background(), &models.EmailTemplate{Name: "  "}); err == nil {
		t.Fatal("expected error for empty name")
	}
}

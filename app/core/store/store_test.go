package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := NewSQLiteDB(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return NewStore(database)
}

func TestCreateAndGetTask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateTask(ctx, "prepare the client presentation", 4, "", 0, "email-1")
	if err != nil {
		t.Fatalf("create task failed: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected store-assigned id")
	}
	if created.Status != StatusPending {
		t.Fatalf("expected default status pending, got %s", created.Status)
	}

	got, err := store.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("get task failed: %v", err)
	}
	if got.Description != "prepare the client presentation" || got.Urgency != 4 {
		t.Fatalf("unexpected task: %+v", got)
	}
	if got.SourceEmailID != "email-1" {
		t.Fatalf("expected source email back-reference, got %q", got.SourceEmailID)
	}
}

func TestCreateTaskRejectsInvalidFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateTask(ctx, "x", 9, "", 0, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for urgency 9, got %v", err)
	}
	if _, err := store.CreateTask(ctx, "x", 3, "done", 0, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
	if _, err := store.CreateTask(ctx, "   ", 3, "", 0, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty description, got %v", err)
	}
}

func TestListTasksFiltered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateTask(ctx, "low", 1, StatusPending, 0, ""); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := store.CreateTask(ctx, "mid", 3, StatusHalfCompleted, 0, ""); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := store.CreateTask(ctx, "high", 5, StatusPending, 0, "email-7"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	byStatus, err := store.ListTasks(ctx, TaskFilter{Status: StatusPending})
	if err != nil {
		t.Fatalf("list by status failed: %v", err)
	}
	if len(byStatus) != 2 {
		t.Fatalf("expected 2 pending tasks, got %d", len(byStatus))
	}

	byUrgency, err := store.ListTasks(ctx, TaskFilter{MinUrgency: 3})
	if err != nil {
		t.Fatalf("list by urgency failed: %v", err)
	}
	if len(byUrgency) != 2 {
		t.Fatalf("expected 2 tasks with urgency >= 3, got %d", len(byUrgency))
	}
	if byUrgency[0].Urgency != 5 {
		t.Fatalf("expected urgency-descending order, got %+v", byUrgency)
	}

	bySource, err := store.ListTasks(ctx, TaskFilter{SourceEmailID: "email-7"})
	if err != nil {
		t.Fatalf("list by source failed: %v", err)
	}
	if len(bySource) != 1 || bySource[0].Description != "high" {
		t.Fatalf("unexpected source-filtered result: %+v", bySource)
	}
}

func TestUpdateTaskStatusAndUrgency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task, err := store.CreateTask(ctx, "write status report", 2, "", 0, "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := store.UpdateTaskStatus(ctx, task.ID, StatusHalfCompleted, 0); err != nil {
		t.Fatalf("update status failed: %v", err)
	}
	if err := store.UpdateTaskUrgency(ctx, task.ID, 5); err != nil {
		t.Fatalf("update urgency failed: %v", err)
	}
	if err := store.UpdateTaskUrgency(ctx, task.ID, 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for urgency 0, got %v", err)
	}

	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != StatusHalfCompleted || got.Urgency != 5 {
		t.Fatalf("unexpected task after updates: %+v", got)
	}

	if err := store.UpdateTaskStatus(ctx, 99999, StatusCompleted, 0); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows for missing task, got %v", err)
	}
}

func TestAppendTaskNote(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task, err := store.CreateTask(ctx, "review contract", 3, "", 0, "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := store.AppendTaskNote(ctx, task.ID, "legal asked for a second pass"); err != nil {
		t.Fatalf("append note failed: %v", err)
	}

	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Description == task.Description {
		t.Fatal("expected note to be appended to description")
	}
	if want := "legal asked for a second pass"; !strings.Contains(got.Description, want) {
		t.Fatalf("note text missing from description: %q", got.Description)
	}
}

func TestDeleteTask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task, err := store.CreateTask(ctx, "temp", 1, "", 0, "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := store.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.GetTask(ctx, task.ID); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows after delete, got %v", err)
	}
	if err := store.DeleteTask(ctx, task.ID); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows for double delete, got %v", err)
	}
}

func TestConversationAppendAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.AppendConversation(ctx, Conversation{
		SessionID:     "s-1",
		UserInput:     "hello",
		AgentResponse: "hi there",
		ModelUsed:     "gpt-4o",
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if first.ID == "" {
		t.Fatal("expected generated conversation id")
	}

	if _, err := store.AppendConversation(ctx, Conversation{
		SessionID:     "s-1",
		UserInput:     "mark task 7 as completed",
		AgentResponse: "done",
		ModelUsed:     "",
		CreatedAt:     first.CreatedAt + 1,
	}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	items, err := store.ListConversations(ctx, "s-1", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(items))
	}
	if items[0].UserInput != "hello" {
		t.Fatalf("expected chronological order, got %+v", items)
	}
}

func TestOpportunityValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateOpportunity(ctx, Opportunity{Title: "conference talk", Relevance: 150}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for relevance 150, got %v", err)
	}

	created, err := store.CreateOpportunity(ctx, Opportunity{
		Title:         "conference talk",
		Description:   "speaking slot at industry event",
		Relevance:     85,
		SourceEmailID: "email-3",
	})
	if err != nil {
		t.Fatalf("create opportunity failed: %v", err)
	}

	items, err := store.ListOpportunities(ctx, "email-3", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != created.ID {
		t.Fatalf("unexpected opportunities: %+v", items)
	}
}

func TestProfileUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.UpsertProfile(ctx, "u-1", "I am a data engineer", `{"role":"data engineer"}`)
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if p.StructuredProfile != `{"role":"data engineer"}` {
		t.Fatalf("unexpected profile: %+v", p)
	}

	updated, err := store.UpsertProfile(ctx, "u-1", "I moved into ML", `{"role":"ml engineer"}`)
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if updated.StructuredProfile != `{"role":"ml engineer"}` {
		t.Fatalf("expected replaced profile, got %+v", updated)
	}

	if _, err := store.GetProfile(ctx, "u-missing"); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows for missing profile, got %v", err)
	}
}

func TestEmailFeedAndIngestLock(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	email, err := store.InsertEmail(ctx, Email{
		Sender:    "manager@company.com",
		Recipient: "me@company.com",
		Subject:   "deadline moved",
		Body:      "the review is now due Tuesday",
	})
	if err != nil {
		t.Fatalf("insert email failed: %v", err)
	}

	pending, err := store.ListUnprocessedEmails(ctx, 10)
	if err != nil {
		t.Fatalf("list unprocessed failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != email.ID {
		t.Fatalf("unexpected unprocessed emails: %+v", pending)
	}

	ok, err := store.AcquireIngestLock(ctx, email.ID)
	if err != nil || !ok {
		t.Fatalf("expected lock acquisition, ok=%v err=%v", ok, err)
	}
	again, err := store.AcquireIngestLock(ctx, email.ID)
	if err != nil {
		t.Fatalf("second acquire errored: %v", err)
	}
	if again {
		t.Fatal("expected second acquisition to be refused while held")
	}
	if err := store.ReleaseIngestLock(ctx, email.ID); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	ok, err = store.AcquireIngestLock(ctx, email.ID)
	if err != nil || !ok {
		t.Fatalf("expected re-acquisition after release, ok=%v err=%v", ok, err)
	}

	if err := store.MarkEmailProcessed(ctx, email.ID); err != nil {
		t.Fatalf("mark processed failed: %v", err)
	}
	pending, err = store.ListUnprocessedEmails(ctx, 10)
	if err != nil {
		t.Fatalf("list unprocessed failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no unprocessed emails, got %d", len(pending))
	}
}

package orchestrator

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aide/app/core/intent"
	"aide/app/core/model"
	"aide/app/core/profile"
	"aide/app/core/store"
	"aide/app/pkg/types"
)

type fakeCapability struct {
	tag   string
	reply string
	err   error
	calls int
}

func (f *fakeCapability) Complete(ctx context.Context, prompt string, p model.Params) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeCapability) Tag() string { return f.tag }

func newTestOrchestrator(t *testing.T, conv, deep model.Capability) (*Orchestrator, *store.Store) {
	t.Helper()
	db, err := store.NewSQLiteDB(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	st := store.NewStore(db)
	sel := model.NewSelector(conv, deep, 600, time.Second, model.Params{})
	interp := intent.NewInterpreter(0.55)
	return New(st, sel, interp, profile.NewManager(st, sel), 3, 5, 50), st
}

func conversationCount(t *testing.T, st *store.Store, sessionID string) int {
	t.Helper()
	rows, err := st.ListConversations(context.Background(), sessionID, 100)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	return len(rows)
}

func TestHandleCreateThenStatusFlow(t *testing.T) {
	conv := &fakeCapability{tag: "conv", reply: "ok"}
	o, st := newTestOrchestrator(t, conv, nil)
	sctx := &types.SessionContext{SessionID: "s1", UserID: "bob"}

	resp, err := o.Handle(context.Background(), "add a task to buy milk", sctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if resp.TaskRef == 0 || sctx.LastTaskRef != resp.TaskRef {
		t.Fatalf("session last task not threaded: resp=%d sctx=%d", resp.TaskRef, sctx.LastTaskRef)
	}

	task, err := st.GetTask(context.Background(), resp.TaskRef)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Urgency != 3 {
		t.Fatalf("default urgency expected, got %d", task.Urgency)
	}

	if _, err := o.Handle(context.Background(), "mark task 1 as completed", sctx); err != nil {
		t.Fatalf("status update: %v", err)
	}
	task, _ = st.GetTask(context.Background(), 1)
	if task.Status != store.StatusCompleted {
		t.Fatalf("want completed, got %s", task.Status)
	}
	if got := conversationCount(t, st, "s1"); got != 2 {
		t.Fatalf("want one conversation row per call, got %d", got)
	}
	if conv.calls != 0 {
		t.Fatalf("recognized commands must not call the model, got %d calls", conv.calls)
	}
}

func TestHandleUrgencyStepUsesSessionTask(t *testing.T) {
	o, st := newTestOrchestrator(t, &fakeCapability{tag: "conv", reply: "ok"}, nil)
	seeded, err := st.CreateTask(context.Background(), "review contract", 3, store.StatusPending, 0, "")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	sctx := &types.SessionContext{SessionID: "s1", LastTaskRef: seeded.ID}

	if _, err := o.Handle(context.Background(), "this is more urgent now", sctx); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	task, _ := st.GetTask(context.Background(), seeded.ID)
	if task.Urgency != 4 {
		t.Fatalf("want urgency bumped to 4, got %d", task.Urgency)
	}
}

func TestHandleQuerySummarizesViaModel(t *testing.T) {
	conv := &fakeCapability{tag: "conv", reply: "You have two open things; start with the contract."}
	o, st := newTestOrchestrator(t, conv, nil)
	mustCreate(t, st, "review contract", 5)
	mustCreate(t, st, "water plants", 1)
	sctx := &types.SessionContext{SessionID: "s1"}

	resp, err := o.Handle(context.Background(), "what's on my plate today?", sctx)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if conv.calls != 1 {
		t.Fatalf("want one summarize call for one chunk, got %d", conv.calls)
	}
	if !strings.Contains(resp.Text, "contract") {
		t.Fatalf("unexpected summary: %q", resp.Text)
	}
	if resp.ModelUsed != "conv" {
		t.Fatalf("model tag missing: %q", resp.ModelUsed)
	}
}

func TestHandleQueryEmptySetSkipsModel(t *testing.T) {
	conv := &fakeCapability{tag: "conv", reply: "unused"}
	o, st := newTestOrchestrator(t, conv, nil)
	sctx := &types.SessionContext{SessionID: "s1"}

	resp, err := o.Handle(context.Background(), "show my tasks", sctx)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if conv.calls != 0 {
		t.Fatal("empty snapshot needs no model call")
	}
	if resp.ModelUsed != "" {
		t.Fatalf("no model should be recorded, got %q", resp.ModelUsed)
	}
	rows, err := st.ListConversations(context.Background(), "s1", 10)
	if err != nil || len(rows) != 1 {
		t.Fatalf("want the audit row regardless, got %d (err %v)", len(rows), err)
	}
	if rows[0].ModelUsed != "" {
		t.Fatalf("audit row should carry empty model tag, got %q", rows[0].ModelUsed)
	}
}

func TestHandleMissingTaskYieldsClarification(t *testing.T) {
	o, st := newTestOrchestrator(t, &fakeCapability{tag: "conv"}, nil)
	sctx := &types.SessionContext{SessionID: "s1"}

	resp, err := o.Handle(context.Background(), "mark task 99 as completed", sctx)
	if err != nil {
		t.Fatalf("missing task must not be an error: %v", err)
	}
	if !resp.Clarification {
		t.Fatal("want a clarification response")
	}
	if got := conversationCount(t, st, "s1"); got != 1 {
		t.Fatalf("want one conversation row, got %d", got)
	}
}

func TestHandleUnrecognizedRoutesThroughModel(t *testing.T) {
	deep := &fakeCapability{tag: "deep", reply: `{"kind":"create_task","description":"sort out the quarterly numbers","urgency":4}`}
	o, st := newTestOrchestrator(t, &fakeCapability{tag: "conv"}, deep)
	sctx := &types.SessionContext{SessionID: "s1"}

	resp, err := o.Handle(context.Background(), "the quarterly numbers look off to me", sctx)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if deep.calls != 1 {
		t.Fatalf("analysis residual should hit the deep tier, got %d calls", deep.calls)
	}
	task, err := st.GetTask(context.Background(), resp.TaskRef)
	if err != nil {
		t.Fatalf("task not created from model intent: %v", err)
	}
	if task.Urgency != 4 {
		t.Fatalf("model-provided urgency lost, got %d", task.Urgency)
	}
}

func TestHandleTransientModelFailureDegrades(t *testing.T) {
	failing := &fakeCapability{tag: "any", err: &model.TransientError{Cause: context.DeadlineExceeded}}
	o, st := newTestOrchestrator(t, failing, failing)
	sctx := &types.SessionContext{SessionID: "s1"}

	resp, err := o.Handle(context.Background(), "the quarterly numbers look off to me", sctx)
	if err != nil {
		t.Fatalf("transient exhaustion must degrade, not error: %v", err)
	}
	if !strings.Contains(resp.Text, "try again") {
		t.Fatalf("want a try-again response, got %q", resp.Text)
	}
	if got := conversationCount(t, st, "s1"); got != 1 {
		t.Fatalf("degraded path still records exactly one row, got %d", got)
	}
}

func TestHandleFatalModelFailureSurfaces(t *testing.T) {
	failing := &fakeCapability{tag: "any", err: &model.FatalError{Cause: context.Canceled}}
	o, st := newTestOrchestrator(t, failing, failing)
	sctx := &types.SessionContext{SessionID: "s1"}

	if _, err := o.Handle(context.Background(), "the quarterly numbers look off to me", sctx); err == nil {
		t.Fatal("fatal model error must surface")
	}
	rows, err := st.ListConversations(context.Background(), "s1", 10)
	if err != nil || len(rows) != 1 {
		t.Fatalf("error path still records exactly one row, got %d (err %v)", len(rows), err)
	}
	if rows[0].AgentResponse == "" {
		t.Fatal("error text should be the recorded response")
	}
}

func TestThinkDeepPrefersDeepTier(t *testing.T) {
	deep := &fakeCapability{tag: "deep", reply: "a long careful answer"}
	o, st := newTestOrchestrator(t, &fakeCapability{tag: "conv"}, deep)
	sctx := &types.SessionContext{SessionID: "s1"}

	resp, err := o.ThinkDeep(context.Background(), "compare these two offers", sctx)
	if err != nil {
		t.Fatalf("ThinkDeep: %v", err)
	}
	if resp.ModelUsed != "deep" {
		t.Fatalf("want deep tier, got %q", resp.ModelUsed)
	}
	if got := conversationCount(t, st, "s1"); got != 1 {
		t.Fatalf("think_deep is audited like any call, got %d rows", got)
	}
}

func TestProfileInputUpdatesAndRecords(t *testing.T) {
	conv := &fakeCapability{tag: "conv", reply: `{"occupation":"carpenter"}`}
	o, st := newTestOrchestrator(t, conv, nil)

	resp, err := o.ProfileInput(context.Background(), "I'm a carpenter", "bob")
	if err != nil {
		t.Fatalf("ProfileInput: %v", err)
	}
	if !strings.Contains(resp.Text, "carpenter") {
		t.Fatalf("unexpected response: %q", resp.Text)
	}
	if got := conversationCount(t, st, "profile:bob"); got != 1 {
		t.Fatalf("want one audit row, got %d", got)
	}
	stored, err := st.GetProfile(context.Background(), "bob")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if !strings.Contains(stored.StructuredProfile, "carpenter") {
		t.Fatalf("profile not persisted: %s", stored.StructuredProfile)
	}
}

func TestAgentProcessWrapsOrchestrator(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeCapability{tag: "conv", reply: "ok"}, nil)
	agent := NewAgent(o)
	sctx := &types.SessionContext{SessionID: "s1"}

	reply, err := agent.Process(context.Background(), types.Message{
		Content:   "add a task to call the bank",
		Role:      "user",
		ChannelID: "cli",
		SessionID: "s1",
	}, sctx)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reply.Role != "assistant" || reply.ChannelID != "cli" {
		t.Fatalf("unexpected reply envelope: %+v", reply)
	}
	if reply.Meta["task_ref"] == nil {
		t.Fatal("task_ref meta missing")
	}
}

func mustCreate(t *testing.T, st *store.Store, desc string, urgency int) store.Task {
	t.Helper()
	task, err := st.CreateTask(context.Background(), desc, urgency, store.StatusPending, 0, "")
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task
}

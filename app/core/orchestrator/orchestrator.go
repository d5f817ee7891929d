// Package orchestrator ties interpretation, prioritization and the model
// tiers together behind a single entry point. Every handled request leaves
// exactly one conversation row behind, on success and on failure alike;
// that trail is the system's only audit record.
package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/sjson"

	"aide/app/core/intent"
	"aide/app/core/model"
	"aide/app/core/prioritize"
	"aide/app/core/profile"
	"aide/app/core/store"
	"aide/app/pkg/logger"
	"aide/app/pkg/types"
)

type Orchestrator struct {
	store          *store.Store
	sel            *model.Selector
	interp         *intent.Interpreter
	profiles       *profile.Manager
	defaultUrgency int
	maxChunkSize   int
	summaryLimit   int
}

// Response is what a transport shell renders back to the user.
type Response struct {
	Text          string
	ModelUsed     string
	TaskRef       int64
	Clarification bool
}

func New(st *store.Store, sel *model.Selector, interp *intent.Interpreter, profiles *profile.Manager, defaultUrgency, maxChunkSize, summaryLimit int) *Orchestrator {
	if defaultUrgency < 1 || defaultUrgency > 5 {
		defaultUrgency = 3
	}
	if maxChunkSize <= 0 {
		maxChunkSize = 5
	}
	if summaryLimit <= 0 {
		summaryLimit = 50
	}
	return &Orchestrator{
		store:          st,
		sel:            sel,
		interp:         interp,
		profiles:       profiles,
		defaultUrgency: defaultUrgency,
		maxChunkSize:   maxChunkSize,
		summaryLimit:   summaryLimit,
	}
}

// Handle interprets input and applies it. Mutations run only after any
// informing model call has returned, so cancellation mid-call never leaves
// a half-applied change.
func (o *Orchestrator) Handle(ctx context.Context, input string, sctx *types.SessionContext) (Response, error) {
	res := o.interp.Interpret(input, sctx)
	it := res.Intent
	analysisModel := ""

	if res.NeedsAnalysis {
		analyzed, used, err := o.interp.Analyze(ctx, o.sel, input, sctx)
		analysisModel = used
		if err != nil {
			if model.IsTransient(err) {
				resp := Response{Text: "I had trouble reaching the language model. Please try again in a moment.", ModelUsed: used}
				o.record(ctx, sctx, input, resp.Text, used, metaFor(it, res, "model_transient"))
				return resp, nil
			}
			o.record(ctx, sctx, input, err.Error(), used, metaFor(it, res, "model_fatal"))
			return Response{ModelUsed: used}, err
		}
		it = analyzed
	}

	resp, err := o.apply(ctx, it, sctx)
	if resp.ModelUsed == "" {
		resp.ModelUsed = analysisModel
	}
	recorded := resp.Text
	if err != nil {
		recorded = err.Error()
	}
	o.record(ctx, sctx, input, recorded, resp.ModelUsed, metaFor(it, res, ""))
	return resp, err
}

// ThinkDeep is the explicit deep-analysis entry point. It always requests
// the deep tier; the selector may still degrade to conversational under its
// fallback policy.
func (o *Orchestrator) ThinkDeep(ctx context.Context, prompt string, sctx *types.SessionContext) (Response, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Response{}, fmt.Errorf("%w: prompt is required", store.ErrValidation)
	}

	tier := o.sel.Choose(model.Request{InputLen: len(prompt), ThinkDeep: true})
	completion, err := o.sel.Complete(ctx, tier, buildDeepPrompt(prompt))
	if err != nil {
		o.record(ctx, sctx, prompt, err.Error(), "", `{"entry":"think_deep"}`)
		return Response{}, err
	}

	resp := Response{Text: completion.Text, ModelUsed: completion.ModelUsed}
	o.record(ctx, sctx, prompt, resp.Text, resp.ModelUsed, `{"entry":"think_deep"}`)
	return resp, nil
}

// ProfileInput folds a free-form self-description into the stored profile.
func (o *Orchestrator) ProfileInput(ctx context.Context, text string, userID string) (Response, error) {
	sctx := &types.SessionContext{SessionID: "profile:" + userID, UserID: userID}
	updated, used, err := o.profiles.Absorb(ctx, userID, text)
	if err != nil {
		o.record(ctx, sctx, text, err.Error(), used, `{"entry":"profile"}`)
		return Response{ModelUsed: used}, err
	}

	resp := Response{
		Text:      fmt.Sprintf("Got it, I've updated what I know about you: %s", updated.StructuredProfile),
		ModelUsed: used,
	}
	o.record(ctx, sctx, text, resp.Text, used, `{"entry":"profile"}`)
	return resp, nil
}

func (o *Orchestrator) apply(ctx context.Context, it intent.Intent, sctx *types.SessionContext) (Response, error) {
	switch it.Kind {
	case intent.KindCreateTask:
		urgency := it.Urgency
		if urgency == 0 {
			urgency = o.defaultUrgency
		}
		task, err := o.store.CreateTask(ctx, it.Description, urgency, store.StatusPending, it.AlertAt, "")
		if err != nil {
			return Response{}, err
		}
		sctx.LastTaskRef = task.ID
		text := fmt.Sprintf("Added task %d: %s (urgency %d)", task.ID, task.Description, task.Urgency)
		if task.AlertAt > 0 {
			text += fmt.Sprintf(", reminder at %s", formatAlert(task.AlertAt))
		}
		return Response{Text: text, TaskRef: task.ID}, nil

	case intent.KindUpdateStatus:
		task, err := o.store.GetTask(ctx, it.TaskRef)
		if err != nil {
			return o.missingTask(it.TaskRef, err)
		}
		if err := o.store.UpdateTaskStatus(ctx, task.ID, it.Status, task.AlertAt); err != nil {
			return Response{}, err
		}
		sctx.LastTaskRef = task.ID
		return Response{Text: fmt.Sprintf("Marked task %d as %s.", task.ID, it.Status), TaskRef: task.ID}, nil

	case intent.KindUpdateUrgency:
		task, err := o.store.GetTask(ctx, it.TaskRef)
		if err != nil {
			return o.missingTask(it.TaskRef, err)
		}
		urgency := it.Urgency
		if urgency == 0 {
			urgency = clampUrgency(task.Urgency + it.UrgencyStep)
		}
		if err := o.store.UpdateTaskUrgency(ctx, task.ID, urgency); err != nil {
			return Response{}, err
		}
		if it.Note != "" {
			if err := o.store.AppendTaskNote(ctx, task.ID, it.Note); err != nil {
				return Response{}, err
			}
		}
		sctx.LastTaskRef = task.ID
		return Response{Text: fmt.Sprintf("Task %d urgency is now %d.", task.ID, urgency), TaskRef: task.ID}, nil

	case intent.KindAddNote:
		if err := o.store.AppendTaskNote(ctx, it.TaskRef, it.Note); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return o.missingTask(it.TaskRef, err)
			}
			return Response{}, err
		}
		sctx.LastTaskRef = it.TaskRef
		return Response{Text: fmt.Sprintf("Noted on task %d.", it.TaskRef), TaskRef: it.TaskRef}, nil

	case intent.KindSetReminder:
		if err := o.store.SetTaskAlert(ctx, it.TaskRef, it.AlertAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return o.missingTask(it.TaskRef, err)
			}
			return Response{}, err
		}
		sctx.LastTaskRef = it.TaskRef
		return Response{Text: fmt.Sprintf("Reminder set on task %d for %s.", it.TaskRef, formatAlert(it.AlertAt)), TaskRef: it.TaskRef}, nil

	case intent.KindQuery:
		return o.summarize(ctx, it.Filter)

	default:
		return Response{
			Text:          "I didn't catch that. You can add a task, mark one done, change urgency, add a note, set a reminder, or ask what's on your plate.",
			Clarification: true,
		}, nil
	}
}

// summarize snapshots the task set, orders and chunks it, and asks the
// selected model for a per-chunk digest. If the model is unavailable the
// ordered plain listing stands in as the degraded response.
func (o *Orchestrator) summarize(ctx context.Context, filter store.TaskFilter) (Response, error) {
	if filter.Limit == 0 {
		filter.Limit = o.summaryLimit
	}
	tasks, err := o.store.ListTasks(ctx, filter)
	if err != nil {
		return Response{}, err
	}
	if filter.Status == "" {
		tasks = dropCompleted(tasks)
	}
	if len(tasks) == 0 {
		return Response{Text: "Nothing on your plate right now."}, nil
	}

	ordered := prioritize.Order(tasks)
	var (
		parts     []string
		modelUsed string
	)
	for _, chunk := range prioritize.Chunk(ordered, o.maxChunkSize) {
		section := prioritize.FormatForSummary(chunk)
		prompt := buildSummaryPrompt(section)
		completion, err := o.sel.Complete(ctx, o.sel.Choose(model.Request{InputLen: len(prompt)}), prompt)
		if err != nil {
			if model.IsFatal(err) {
				return Response{}, err
			}
			logger.Error("summary model call failed, degrading to plain listing: %v", err)
			parts = append(parts, section)
			continue
		}
		parts = append(parts, strings.TrimSpace(completion.Text))
		modelUsed = completion.ModelUsed
	}
	return Response{Text: strings.Join(parts, "\n\n"), ModelUsed: modelUsed}, nil
}

func (o *Orchestrator) missingTask(ref int64, err error) (Response, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return Response{
			Text:          fmt.Sprintf("I couldn't find task %d. Which task did you mean?", ref),
			Clarification: true,
		}, nil
	}
	return Response{}, err
}

// record appends the single audit row for this call. A failed append is
// logged but never masks the request's own outcome.
func (o *Orchestrator) record(ctx context.Context, sctx *types.SessionContext, input, response, modelUsed, meta string) {
	sessionID := ""
	if sctx != nil {
		sessionID = sctx.SessionID
	}
	_, err := o.store.AppendConversation(ctx, store.Conversation{
		SessionID:     sessionID,
		UserInput:     input,
		AgentResponse: response,
		ModelUsed:     modelUsed,
		Meta:          meta,
	})
	if err != nil {
		logger.Error("append conversation: %v", err)
	}
}

func metaFor(it intent.Intent, res intent.Result, failure string) string {
	meta := "{}"
	meta, _ = sjson.Set(meta, "intent", string(it.Kind))
	meta, _ = sjson.Set(meta, "confidence", res.Confidence)
	if res.NeedsAnalysis {
		meta, _ = sjson.Set(meta, "analyzed", true)
	}
	if it.TaskRef > 0 {
		meta, _ = sjson.Set(meta, "task_ref", it.TaskRef)
	}
	if failure != "" {
		meta, _ = sjson.Set(meta, "failure", failure)
	}
	return meta
}

func buildSummaryPrompt(section string) string {
	var b strings.Builder
	b.WriteString("You are a personal task assistant.\n")
	b.WriteString("Summarize the following tasks for the user in a few sentences.\n")
	b.WriteString("Lead with in-progress and high urgency items, mention upcoming reminders.\n\n")
	b.WriteString("Tasks:\n")
	b.WriteString(section)
	return b.String()
}

func buildDeepPrompt(prompt string) string {
	var b strings.Builder
	b.WriteString("You are a careful analyst. Think the problem through step by step and give a thorough, structured answer.\n\n")
	b.WriteString(prompt)
	return b.String()
}

func dropCompleted(tasks []store.Task) []store.Task {
	kept := tasks[:0]
	for _, t := range tasks {
		if t.Status != store.StatusCompleted {
			kept = append(kept, t)
		}
	}
	return kept
}

func clampUrgency(v int) int {
	if v < 1 {
		return 1
	}
	if v > 5 {
		return 5
	}
	return v
}

func formatAlert(at int64) string {
	return time.Unix(at, 0).UTC().Format("2006-01-02 15:04 UTC")
}

package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"aide/app/core/model"
	"aide/app/core/store"
	"aide/app/pkg/types"
)

// Analyze asks the selected model for a structured intent when the
// recognizer chain was not confident. The model's output is untrusted: the
// parse is retried once on malformed output, every field is validated
// against its domain, and anything still invalid degrades to Unrecognized.
func (in *Interpreter) Analyze(ctx context.Context, sel *model.Selector, text string, sctx *types.SessionContext) (Intent, string, error) {
	tier := sel.Choose(model.Request{InputLen: len(text), AnalysisResidual: true})
	prompt := buildIntentPrompt(text, sctx)

	var modelUsed string
	for attempt := 0; attempt < 2; attempt++ {
		completion, err := sel.Complete(ctx, tier, prompt)
		if err != nil {
			return Intent{Kind: KindUnrecognized, RawText: text}, modelUsed, err
		}
		modelUsed = completion.ModelUsed
		it, parseErr := parseModelIntent(completion.Text, text, sctx)
		if parseErr == nil {
			return it, modelUsed, nil
		}
	}
	return Intent{Kind: KindUnrecognized, RawText: text}, modelUsed, nil
}

func buildIntentPrompt(text string, sctx *types.SessionContext) string {
	var b strings.Builder
	b.WriteString("You are a strict command parser for a personal task assistant.\n")
	b.WriteString("Classify the user input into exactly one intent and return JSON only.\n\n")
	b.WriteString("JSON schema:\n")
	b.WriteString(`{"kind":"create_task|update_status|update_urgency|add_note|set_reminder|query|unrecognized","task_ref":0,"description":"","status":"pending|half-completed|completed","urgency":0,"note":"","alert_at_unix":0}` + "\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- If uncertain, use kind=unrecognized.\n")
	b.WriteString("- urgency is an integer 1-5; omit or 0 when not stated.\n")
	b.WriteString("- task_ref is the numeric task id the input refers to, 0 if none.\n")
	b.WriteString("- alert_at_unix is a unix timestamp, 0 if no time was given.\n")
	b.WriteString("- Never invent a task id that the input does not mention.\n\n")
	b.WriteString("Context:\n")
	if sctx != nil && sctx.LastTaskRef > 0 {
		b.WriteString(fmt.Sprintf("last_discussed_task_id: %d\n", sctx.LastTaskRef))
	} else {
		b.WriteString("last_discussed_task_id: none\n")
	}
	b.WriteString("user_input: " + text + "\n")
	return b.String()
}

func parseModelIntent(raw string, originalText string, sctx *types.SessionContext) (Intent, error) {
	payload, err := extractJSONObject(raw)
	if err != nil {
		return Intent{}, err
	}
	if !gjson.Valid(payload) {
		return Intent{}, fmt.Errorf("invalid json payload")
	}

	doc := gjson.Parse(payload)
	kind := Kind(strings.ToLower(strings.TrimSpace(doc.Get("kind").String())))
	it := Intent{Kind: kind, RawText: originalText}

	ref := doc.Get("task_ref").Int()
	if ref < 0 {
		return Intent{}, fmt.Errorf("negative task_ref")
	}
	if ref == 0 && sctx != nil {
		ref = sctx.LastTaskRef
	}

	switch kind {
	case KindCreateTask:
		it.Description = strings.TrimSpace(doc.Get("description").String())
		if it.Description == "" {
			return Intent{}, fmt.Errorf("create_task without description")
		}
		if u := int(doc.Get("urgency").Int()); u != 0 {
			if err := store.ValidateUrgency(u); err != nil {
				return Intent{}, err
			}
			it.Urgency = u
		}
		it.AlertAt = doc.Get("alert_at_unix").Int()
	case KindUpdateStatus:
		if ref == 0 {
			return Intent{}, fmt.Errorf("update_status without task reference")
		}
		status := strings.TrimSpace(doc.Get("status").String())
		if err := store.ValidateStatus(status); err != nil {
			return Intent{}, err
		}
		it.TaskRef, it.Status = ref, status
	case KindUpdateUrgency:
		if ref == 0 {
			return Intent{}, fmt.Errorf("update_urgency without task reference")
		}
		u := int(doc.Get("urgency").Int())
		if err := store.ValidateUrgency(u); err != nil {
			return Intent{}, err
		}
		it.TaskRef, it.Urgency = ref, u
		it.Note = strings.TrimSpace(doc.Get("note").String())
	case KindAddNote:
		if ref == 0 {
			return Intent{}, fmt.Errorf("add_note without task reference")
		}
		it.Note = strings.TrimSpace(doc.Get("note").String())
		if it.Note == "" {
			return Intent{}, fmt.Errorf("add_note without note text")
		}
		it.TaskRef = ref
	case KindSetReminder:
		if ref == 0 {
			return Intent{}, fmt.Errorf("set_reminder without task reference")
		}
		at := doc.Get("alert_at_unix").Int()
		if at <= 0 {
			return Intent{}, fmt.Errorf("set_reminder without alert time")
		}
		it.TaskRef, it.AlertAt = ref, at
	case KindQuery:
		if u := int(doc.Get("urgency").Int()); u != 0 {
			if err := store.ValidateUrgency(u); err != nil {
				return Intent{}, err
			}
			it.Filter.MinUrgency = u
		}
		if status := strings.TrimSpace(doc.Get("status").String()); status != "" {
			if err := store.ValidateStatus(status); err != nil {
				return Intent{}, err
			}
			it.Filter.Status = status
		}
	case KindUnrecognized:
		// explicit model abstention is a valid parse
	default:
		return Intent{}, fmt.Errorf("unknown intent kind %q", kind)
	}
	return it, nil
}

func extractJSONObject(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("json object not found")
	}
	return text[start : end+1], nil
}

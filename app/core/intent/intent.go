// Package intent turns free-form user text into a structured task command.
// A fixed priority chain of pattern recognizers handles the common phrasings
// cheaply; anything below the confidence threshold is handed to a model for
// structured extraction, and the model's output is validated exactly like
// user input before it is allowed to drive a mutation.
package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"aide/app/core/store"
	"aide/app/pkg/types"
)

type Kind string

const (
	KindCreateTask    Kind = "create_task"
	KindUpdateStatus  Kind = "update_status"
	KindUpdateUrgency Kind = "update_urgency"
	KindAddNote       Kind = "add_note"
	KindSetReminder   Kind = "set_reminder"
	KindQuery         Kind = "query"
	KindUnrecognized  Kind = "unrecognized"
)

// Intent is the tagged command variant. Only the fields relevant to Kind
// are populated; everything else stays zero.
type Intent struct {
	Kind        Kind
	TaskRef     int64
	Description string
	Status      string
	Urgency     int
	UrgencyStep int // +1/-1 relative change when no absolute urgency was given
	Note        string
	AlertAt     int64
	Filter      store.TaskFilter
	RawText     string
}

type Result struct {
	Intent        Intent
	Confidence    float64
	NeedsAnalysis bool
}

type Interpreter struct {
	confidence float64
	now        func() time.Time
}

func NewInterpreter(confidence float64) *Interpreter {
	if confidence <= 0 || confidence > 1 {
		confidence = 0.55
	}
	return &Interpreter{confidence: confidence, now: time.Now}
}

type recognizer func(in *Interpreter, text string, lower string, sctx *types.SessionContext) (Intent, float64, bool)

// Fixed priority order; the first confident match wins.
var recognizers = []recognizer{
	recognizeStatus,
	recognizeUrgency,
	recognizeReminder,
	recognizeNote,
	recognizeCreation,
	recognizeQuery,
}

// Interpret resolves text against the recognizer chain. When no recognizer
// reaches the threshold the result is Unrecognized with NeedsAnalysis set,
// which tells the caller to route through the model path.
func (in *Interpreter) Interpret(text string, sctx *types.SessionContext) Result {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	if trimmed == "" {
		return Result{Intent: Intent{Kind: KindUnrecognized, RawText: text}}
	}

	for _, rec := range recognizers {
		it, conf, ok := rec(in, trimmed, lower, sctx)
		if !ok {
			continue
		}
		it.RawText = trimmed
		if conf < in.confidence {
			return Result{Intent: it, Confidence: conf, NeedsAnalysis: true}
		}
		return Result{Intent: it, Confidence: conf}
	}
	return Result{
		Intent:        Intent{Kind: KindUnrecognized, RawText: trimmed},
		NeedsAnalysis: true,
	}
}

var taskRefPattern = regexp.MustCompile(`(?i)task\s*#?\s*(\d+)|#(\d+)`)

// resolveTaskRef prefers an explicit number in the text, then the session's
// last discussed task. Zero means unresolved.
func resolveTaskRef(text string, sctx *types.SessionContext) int64 {
	m := taskRefPattern.FindStringSubmatch(text)
	if m != nil {
		digits := m[1]
		if digits == "" {
			digits = m[2]
		}
		if id, err := strconv.ParseInt(digits, 10, 64); err == nil && id > 0 {
			return id
		}
	}
	if sctx != nil && sctx.LastTaskRef > 0 {
		return sctx.LastTaskRef
	}
	return 0
}

var statusWords = []struct {
	word   string
	status string
}{
	{"completed", store.StatusCompleted},
	{"complete", store.StatusCompleted},
	{"finished", store.StatusCompleted},
	{"done", store.StatusCompleted},
	{"in progress", store.StatusHalfCompleted},
	{"half-completed", store.StatusHalfCompleted},
	{"half completed", store.StatusHalfCompleted},
	{"started", store.StatusHalfCompleted},
	{"working on", store.StatusHalfCompleted},
	{"reopen", store.StatusPending},
	{"pending", store.StatusPending},
	{"not done", store.StatusPending},
}

func recognizeStatus(in *Interpreter, text string, lower string, sctx *types.SessionContext) (Intent, float64, bool) {
	var status string
	for _, sw := range statusWords {
		if strings.Contains(lower, sw.word) {
			status = sw.status
			break
		}
	}
	if status == "" {
		return Intent{}, 0, false
	}
	// "show completed tasks" is a query, not a mutation
	if looksLikeQuery(lower) {
		return Intent{}, 0, false
	}
	ref := resolveTaskRef(text, sctx)
	if ref == 0 {
		return Intent{Kind: KindUnrecognized}, 0.9, true
	}
	return Intent{Kind: KindUpdateStatus, TaskRef: ref, Status: status}, 0.9, true
}

var urgencyValuePattern = regexp.MustCompile(`(?i)(?:urgency|priority)\s*(?:to|=|:)?\s*(\d)`)

func recognizeUrgency(in *Interpreter, text string, lower string, sctx *types.SessionContext) (Intent, float64, bool) {
	mentions := strings.Contains(lower, "urgent") || strings.Contains(lower, "urgency") || strings.Contains(lower, "priority")
	if !mentions {
		return Intent{}, 0, false
	}
	if looksLikeQuery(lower) {
		return Intent{}, 0, false
	}

	it := Intent{Kind: KindUpdateUrgency}
	if m := urgencyValuePattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			it.Urgency = v
		}
	}
	if it.Urgency == 0 {
		switch {
		case strings.Contains(lower, "more urgent") || strings.Contains(lower, "bump") || strings.Contains(lower, "raise"):
			it.UrgencyStep = 1
		case strings.Contains(lower, "less urgent") || strings.Contains(lower, "lower") || strings.Contains(lower, "deprioritize"):
			it.UrgencyStep = -1
		default:
			// "it's urgent" with no direction reads as a raise
			it.UrgencyStep = 1
		}
	}

	ref := resolveTaskRef(text, sctx)
	if ref == 0 {
		return Intent{Kind: KindUnrecognized}, 0.8, true
	}
	it.TaskRef = ref
	return it, 0.8, true
}

func recognizeReminder(in *Interpreter, text string, lower string, sctx *types.SessionContext) (Intent, float64, bool) {
	if !strings.Contains(lower, "remind") && !strings.Contains(lower, "reminder") && !strings.Contains(lower, "alert me") {
		return Intent{}, 0, false
	}

	alertAt, timeOK := parseWhen(lower, in.now())

	// "remind me to <do something>" creates a task with an alert rather than
	// pointing at an existing one
	if m := remindToPattern.FindStringSubmatch(text); m != nil {
		desc := stripTimePhrase(strings.TrimSpace(m[1]))
		if desc != "" {
			return Intent{Kind: KindCreateTask, Description: desc, AlertAt: alertAt}, 0.85, true
		}
	}

	ref := resolveTaskRef(text, sctx)
	if ref == 0 {
		return Intent{Kind: KindUnrecognized}, 0.85, true
	}
	if !timeOK {
		// reminder verb without a parsable time needs the model
		return Intent{Kind: KindSetReminder, TaskRef: ref}, 0.4, true
	}
	return Intent{Kind: KindSetReminder, TaskRef: ref, AlertAt: alertAt}, 0.85, true
}

var (
	remindToPattern = regexp.MustCompile(`(?i)remind me to\s+(.+)`)
	notePattern     = regexp.MustCompile(`(?i)(?:add a note|add note|note)(?:\s+(?:to|on|for)\s+task\s*#?\s*\d+)?\s*[:,]?\s*(.*)`)
)

func recognizeNote(in *Interpreter, text string, lower string, sctx *types.SessionContext) (Intent, float64, bool) {
	if !strings.Contains(lower, "note") {
		return Intent{}, 0, false
	}
	ref := resolveTaskRef(text, sctx)
	if ref == 0 {
		return Intent{Kind: KindUnrecognized}, 0.8, true
	}
	note := ""
	if m := notePattern.FindStringSubmatch(text); m != nil {
		note = strings.TrimSpace(m[1])
	}
	if note == "" {
		return Intent{Kind: KindAddNote, TaskRef: ref}, 0.4, true
	}
	return Intent{Kind: KindAddNote, TaskRef: ref, Note: note}, 0.8, true
}

var creationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:please\s+)?(?:add|create)\s+(?:a\s+)?(?:new\s+)?task(?:\s+to|\s+for|\s*[:,])?\s*(.+)$`),
	regexp.MustCompile(`(?i)^(?:please\s+)?(?:add|create)\s*[:,]?\s+(.+)$`),
	regexp.MustCompile(`(?i)^i need to\s+(.+)$`),
	regexp.MustCompile(`(?i)^todo\s*[:,]?\s*(.+)$`),
	regexp.MustCompile(`(?i)^don'?t let me forget to\s+(.+)$`),
}

func recognizeCreation(in *Interpreter, text string, lower string, sctx *types.SessionContext) (Intent, float64, bool) {
	for _, p := range creationPatterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		desc := strings.TrimSpace(m[1])
		if desc == "" {
			continue
		}
		it := Intent{Kind: KindCreateTask, Description: stripTimePhrase(desc)}
		if at, ok := parseWhen(lower, in.now()); ok {
			it.AlertAt = at
		}
		return it, 0.85, true
	}
	return Intent{}, 0, false
}

func recognizeQuery(in *Interpreter, text string, lower string, sctx *types.SessionContext) (Intent, float64, bool) {
	if !looksLikeQuery(lower) {
		return Intent{}, 0, false
	}
	it := Intent{Kind: KindQuery}
	if strings.Contains(lower, "urgent") {
		it.Filter.MinUrgency = 4
	}
	for _, sw := range statusWords {
		if strings.Contains(lower, sw.word) {
			it.Filter.Status = sw.status
			break
		}
	}
	return it, 0.75, true
}

func looksLikeQuery(lower string) bool {
	if !strings.Contains(lower, "task") && !strings.Contains(lower, "urgent") && !strings.Contains(lower, "plate") {
		return false
	}
	for _, w := range []string{"what", "which", "show", "list", "any", "summar", "on my plate", "do i have"} {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return lower == "tasks" || lower == "my tasks"
}

var (
	relativePattern = regexp.MustCompile(`in\s+(\d+)\s+(minute|hour|day|week)s?`)
	clockPattern    = regexp.MustCompile(`at\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)
	timePhrases     = regexp.MustCompile(`(?i)\s*(?:in\s+\d+\s+(?:minute|hour|day|week)s?|at\s+\d{1,2}(?::\d{2})?\s*(?:am|pm)?|tomorrow|tonight|next week)\s*$`)
)

// parseWhen extracts a concrete alert time from common relative phrasings.
// Returns false when nothing parsable is present.
func parseWhen(lower string, now time.Time) (int64, bool) {
	if m := relativePattern.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return 0, false
		}
		var d time.Duration
		switch m[2] {
		case "minute":
			d = time.Duration(n) * time.Minute
		case "hour":
			d = time.Duration(n) * time.Hour
		case "day":
			d = time.Duration(n) * 24 * time.Hour
		case "week":
			d = time.Duration(n) * 7 * 24 * time.Hour
		}
		return now.Add(d).Unix(), true
	}
	if strings.Contains(lower, "tomorrow") {
		next := now.Add(24 * time.Hour)
		at := time.Date(next.Year(), next.Month(), next.Day(), 9, 0, 0, 0, next.Location())
		return at.Unix(), true
	}
	if strings.Contains(lower, "tonight") {
		at := time.Date(now.Year(), now.Month(), now.Day(), 20, 0, 0, 0, now.Location())
		return at.Unix(), true
	}
	if m := clockPattern.FindStringSubmatch(lower); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if m[3] == "pm" && hour < 12 {
			hour += 12
		}
		if hour > 23 || minute > 59 {
			return 0, false
		}
		at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !at.After(now) {
			at = at.Add(24 * time.Hour)
		}
		return at.Unix(), true
	}
	return 0, false
}

// stripTimePhrase trims a trailing time phrase so the task description does
// not carry "tomorrow" or "in 2 hours" verbatim.
func stripTimePhrase(desc string) string {
	return strings.TrimSpace(timePhrases.ReplaceAllString(desc, ""))
}

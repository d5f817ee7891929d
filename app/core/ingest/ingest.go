// Package ingest extracts actionable tasks and opportunities from raw
// emails. Extraction is at-least-once: an email is marked processed only
// after every surviving entry is persisted, so a crash mid-way leads to a
// full re-extraction on the next attempt.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"aide/app/core/model"
	"aide/app/core/store"
	"aide/app/pkg/logger"
)

type Ingestor struct {
	store          *store.Store
	sel            *model.Selector
	bodyThreshold  int
	defaultUrgency int
}

// Result reports what a single email produced. Skipped is set when the
// email was already processed or another worker holds its lock.
type Result struct {
	Tasks         []store.Task
	Opportunities []store.Opportunity
	Skipped       bool
	ModelUsed     string
}

// BatchResult tallies one IngestBatch run.
type BatchResult struct {
	Examined      int
	Ingested      int
	Skipped       int
	Failed        int
	Tasks         int
	Opportunities int
}

func NewIngestor(st *store.Store, sel *model.Selector, bodyThreshold int, defaultUrgency int) *Ingestor {
	if bodyThreshold <= 0 {
		bodyThreshold = 2000
	}
	if defaultUrgency < 1 || defaultUrgency > 5 {
		defaultUrgency = 3
	}
	return &Ingestor{
		store:          st,
		sel:            sel,
		bodyThreshold:  bodyThreshold,
		defaultUrgency: defaultUrgency,
	}
}

// Ingest runs the full extraction pipeline for one email. Invalid entries
// in the model output are dropped individually; partial success is normal.
func (g *Ingestor) Ingest(ctx context.Context, email store.Email) (Result, error) {
	if email.Processed {
		return Result{Skipped: true}, nil
	}

	locked, err := g.store.AcquireIngestLock(ctx, email.ID)
	if err != nil {
		return Result{}, err
	}
	if !locked {
		return Result{Skipped: true}, nil
	}
	defer func() {
		if err := g.store.ReleaseIngestLock(context.Background(), email.ID); err != nil {
			logger.Error("release ingest lock %s: %v", email.ID, err)
		}
	}()

	// long bodies go to the deep tier, everything else stays conversational
	tier := model.TierConversational
	if len(email.Body) > g.bodyThreshold {
		tier = model.TierDeep
	}

	profile := ""
	if p, err := g.store.GetProfile(ctx, email.Recipient); err == nil {
		profile = p.StructuredProfile
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Result{}, err
	}

	completion, err := g.sel.Complete(ctx, tier, buildExtractionPrompt(email, profile))
	if err != nil {
		return Result{}, err
	}

	candTasks, candOpps := parseExtraction(completion.Text, g.defaultUrgency)

	result := Result{ModelUsed: completion.ModelUsed}
	for _, c := range candTasks {
		task, err := g.store.CreateTask(ctx, c.description, c.urgency, store.StatusPending, 0, email.ID)
		if err != nil {
			if errors.Is(err, store.ErrValidation) {
				logger.Error("drop extracted task from %s: %v", email.ID, err)
				continue
			}
			return Result{}, err
		}
		result.Tasks = append(result.Tasks, task)
	}
	for _, c := range candOpps {
		opp, err := g.store.CreateOpportunity(ctx, store.Opportunity{
			Title:         c.title,
			Description:   c.description,
			Relevance:     c.relevance,
			UserID:        email.Recipient,
			SourceEmailID: email.ID,
		})
		if err != nil {
			if errors.Is(err, store.ErrValidation) {
				logger.Error("drop extracted opportunity from %s: %v", email.ID, err)
				continue
			}
			return Result{}, err
		}
		result.Opportunities = append(result.Opportunities, opp)
	}

	// mark processed only once everything above is on disk
	if err := g.store.MarkEmailProcessed(ctx, email.ID); err != nil {
		return Result{}, err
	}
	logger.Info("ingested email %s: %d tasks, %d opportunities via %s",
		email.ID, len(result.Tasks), len(result.Opportunities), completion.ModelUsed)
	return result, nil
}

// IngestBatch pulls unprocessed emails up to limit and ingests each one,
// continuing past per-email failures.
func (g *Ingestor) IngestBatch(ctx context.Context, limit int) (BatchResult, error) {
	emails, err := g.store.ListUnprocessedEmails(ctx, limit)
	if err != nil {
		return BatchResult{}, err
	}

	var batch BatchResult
	batch.Examined = len(emails)
	for _, email := range emails {
		if ctx.Err() != nil {
			return batch, ctx.Err()
		}
		res, err := g.Ingest(ctx, email)
		if err != nil {
			batch.Failed++
			logger.Error("ingest email %s: %v", email.ID, err)
			continue
		}
		if res.Skipped {
			batch.Skipped++
			continue
		}
		batch.Ingested++
		batch.Tasks += len(res.Tasks)
		batch.Opportunities += len(res.Opportunities)
	}
	return batch, nil
}

type candidateTask struct {
	description string
	urgency     int
}

type candidateOpportunity struct {
	title       string
	description string
	relevance   int
}

func buildExtractionPrompt(email store.Email, profile string) string {
	var b strings.Builder
	b.WriteString("You are an assistant that extracts actionable items from emails.\n")
	b.WriteString("Return JSON only.\n\n")
	b.WriteString("JSON schema:\n")
	b.WriteString(`{"tasks":[{"description":"","urgency":3}],"opportunities":[{"title":"","description":"","relevance":50}]}` + "\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- A task is something the recipient must do; urgency is an integer 1-5.\n")
	b.WriteString("- An opportunity is something potentially valuable but not required; relevance is an integer 0-100.\n")
	b.WriteString("- Use the recipient profile to judge relevance.\n")
	b.WriteString("- Return empty arrays when nothing is actionable.\n\n")
	if profile != "" {
		b.WriteString("Recipient profile:\n")
		b.WriteString(profile + "\n\n")
	}
	b.WriteString("Email:\n")
	b.WriteString("from: " + email.Sender + "\n")
	b.WriteString("to: " + email.Recipient + "\n")
	b.WriteString("subject: " + email.Subject + "\n")
	b.WriteString("sent_at: " + time.Unix(email.SentAt, 0).UTC().Format(time.RFC3339) + "\n")
	b.WriteString("body:\n" + email.Body + "\n")
	return b.String()
}

// parseExtraction validates every candidate field against its domain and
// drops invalid entries individually.
func parseExtraction(raw string, defaultUrgency int) ([]candidateTask, []candidateOpportunity) {
	payload, err := extractJSONObject(raw)
	if err != nil || !gjson.Valid(payload) {
		logger.Error("extraction output unparsable: %v", err)
		return nil, nil
	}
	doc := gjson.Parse(payload)

	var tasks []candidateTask
	for _, entry := range doc.Get("tasks").Array() {
		desc := strings.TrimSpace(entry.Get("description").String())
		if desc == "" {
			continue
		}
		urgency := int(entry.Get("urgency").Int())
		if urgency == 0 {
			urgency = defaultUrgency
		}
		if err := store.ValidateUrgency(urgency); err != nil {
			logger.Error("drop extracted task %q: %v", desc, err)
			continue
		}
		tasks = append(tasks, candidateTask{description: desc, urgency: urgency})
	}

	var opps []candidateOpportunity
	for _, entry := range doc.Get("opportunities").Array() {
		title := strings.TrimSpace(entry.Get("title").String())
		if title == "" {
			continue
		}
		relevance := int(entry.Get("relevance").Int())
		if err := store.ValidateRelevance(relevance); err != nil {
			logger.Error("drop extracted opportunity %q: %v", title, err)
			continue
		}
		opps = append(opps, candidateOpportunity{
			title:       title,
			description: strings.TrimSpace(entry.Get("description").String()),
			relevance:   relevance,
		})
	}
	return tasks, opps
}

func extractJSONObject(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("json object not found")
	}
	return text[start : end+1], nil
}

// Package profile maintains a structured user profile distilled from
// free-form self-descriptions. The profile feeds relevance judgments during
// email ingestion.
package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"aide/app/core/model"
	"aide/app/core/store"
)

type Manager struct {
	store *store.Store
	sel   *model.Selector
}

func NewManager(st *store.Store, sel *model.Selector) *Manager {
	return &Manager{store: st, sel: sel}
}

// Absorb extracts structured attributes from text, merges them into the
// stored profile and upserts the result. New values win over old ones;
// attributes the text does not mention are kept.
func (m *Manager) Absorb(ctx context.Context, userID string, text string) (store.UserProfile, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return store.UserProfile{}, "", fmt.Errorf("%w: profile input is required", store.ErrValidation)
	}

	existing, err := m.store.GetProfile(ctx, userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return store.UserProfile{}, "", err
	}

	tier := m.sel.Choose(model.Request{InputLen: len(text)})
	completion, err := m.sel.Complete(ctx, tier, buildProfilePrompt(text, existing.StructuredProfile))
	if err != nil {
		return store.UserProfile{}, "", err
	}

	merged, err := mergeProfile(existing.StructuredProfile, completion.Text)
	if err != nil {
		return store.UserProfile{}, completion.ModelUsed, err
	}

	rawInput := text
	if existing.RawInput != "" {
		rawInput = existing.RawInput + "\n" + text
	}
	updated, err := m.store.UpsertProfile(ctx, userID, rawInput, merged)
	if err != nil {
		return store.UserProfile{}, completion.ModelUsed, err
	}
	return updated, completion.ModelUsed, nil
}

func buildProfilePrompt(text string, existing string) string {
	var b strings.Builder
	b.WriteString("You are an assistant that maintains a user profile.\n")
	b.WriteString("Extract profile attributes from the input and return JSON only.\n\n")
	b.WriteString("JSON schema:\n")
	b.WriteString(`{"name":"","occupation":"","interests":[],"goals":[],"preferences":[]}` + "\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Include only attributes the input actually states.\n")
	b.WriteString("- Keep values short and factual.\n\n")
	if existing != "" {
		b.WriteString("Current profile:\n" + existing + "\n\n")
	}
	b.WriteString("Input:\n" + text + "\n")
	return b.String()
}

// mergeProfile overlays the extracted attributes onto the stored JSON blob.
func mergeProfile(existing string, raw string) (string, error) {
	payload, err := extractJSONObject(raw)
	if err != nil {
		return "", err
	}
	if !gjson.Valid(payload) {
		return "", fmt.Errorf("profile extraction returned invalid json")
	}

	merged := existing
	if merged == "" || !gjson.Valid(merged) {
		merged = "{}"
	}
	var mergeErr error
	gjson.Parse(payload).ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.Null {
			return true
		}
		if value.Type == gjson.String && strings.TrimSpace(value.String()) == "" {
			return true
		}
		if value.IsArray() && len(value.Array()) == 0 {
			return true
		}
		merged, mergeErr = sjson.SetRaw(merged, key.String(), value.Raw)
		return mergeErr == nil
	})
	if mergeErr != nil {
		return "", mergeErr
	}
	return merged, nil
}

func extractJSONObject(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("json object not found")
	}
	return text[start : end+1], nil
}

package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type fakeCapability struct {
	tag   string
	calls int
	// errs are consumed per call; nil means success with text
	errs []error
	text string
}

func (f *fakeCapability) Complete(ctx context.Context, prompt string, p Params) (string, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return "", f.errs[idx]
	}
	return f.text, nil
}

func (f *fakeCapability) Tag() string {
	return f.tag
}

func newTestSelector(conv, deep Capability) *Selector {
	return NewSelector(conv, deep, 100, time.Second, Params{Temperature: 0.7, TopP: 0.95, TopK: 40, MaxTokens: 256})
}

func TestChooseEscalationSignals(t *testing.T) {
	conv := &fakeCapability{tag: "conv"}
	deep := &fakeCapability{tag: "deep"}
	s := newTestSelector(conv, deep)

	cases := []struct {
		name string
		req  Request
		want Tier
	}{
		{"short input", Request{InputLen: 10}, TierConversational},
		{"long input", Request{InputLen: 101}, TierDeep},
		{"think deep tag", Request{InputLen: 5, ThinkDeep: true}, TierDeep},
		{"analysis residual", Request{InputLen: 5, AnalysisResidual: true}, TierDeep},
	}
	for _, tc := range cases {
		if got := s.Choose(tc.req); got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestChooseWithoutDeepCapability(t *testing.T) {
	s := newTestSelector(&fakeCapability{tag: "conv"}, nil)
	if got := s.Choose(Request{ThinkDeep: true}); got != TierConversational {
		t.Fatalf("expected conversational when deep is absent, got %s", got)
	}
}

func TestCompleteRetriesTransientOnce(t *testing.T) {
	conv := &fakeCapability{
		tag:  "conv",
		text: "ok",
		errs: []error{&TransientError{Cause: fmt.Errorf("rate limited")}},
	}
	s := newTestSelector(conv, nil)

	out, err := s.Complete(context.Background(), TierConversational, "hi")
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if out.Text != "ok" {
		t.Fatalf("unexpected text: %q", out.Text)
	}
	if out.ModelUsed != "conv" {
		t.Fatalf("unexpected model tag: %s", out.ModelUsed)
	}
	if conv.calls != 2 {
		t.Fatalf("expected 2 calls (original + retry), got %d", conv.calls)
	}
}

func TestCompleteDeepFallsBackToConversational(t *testing.T) {
	transient := &TransientError{Cause: fmt.Errorf("timeout")}
	deep := &fakeCapability{tag: "deep", errs: []error{transient, transient}}
	conv := &fakeCapability{tag: "conv", text: "degraded answer"}
	s := newTestSelector(conv, deep)

	out, err := s.Complete(context.Background(), TierDeep, "analyze this")
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if deep.calls != 2 {
		t.Fatalf("expected deep to be tried twice, got %d", deep.calls)
	}
	if out.Text != "degraded answer" {
		t.Fatalf("unexpected text: %q", out.Text)
	}
	if out.ModelUsed != "conv(fallback)" {
		t.Fatalf("fallback must be visible in the model tag, got %s", out.ModelUsed)
	}
}

func TestCompleteConversationalNeverEscalates(t *testing.T) {
	transient := &TransientError{Cause: fmt.Errorf("timeout")}
	conv := &fakeCapability{tag: "conv", errs: []error{transient, transient}}
	deep := &fakeCapability{tag: "deep", text: "should not run"}
	s := newTestSelector(conv, deep)

	_, err := s.Complete(context.Background(), TierConversational, "hi")
	if err == nil {
		t.Fatal("expected error after retry exhaustion")
	}
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if deep.calls != 0 {
		t.Fatalf("conversational failure must not escalate to deep, got %d deep calls", deep.calls)
	}
}

func TestCompleteFatalNotRetried(t *testing.T) {
	conv := &fakeCapability{
		tag:  "conv",
		errs: []error{&FatalError{Cause: fmt.Errorf("bad credentials")}},
	}
	s := newTestSelector(conv, nil)

	_, err := s.Complete(context.Background(), TierConversational, "hi")
	if !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if conv.calls != 1 {
		t.Fatalf("fatal errors must not be retried, got %d calls", conv.calls)
	}
}

func TestErrorKindPredicates(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", &TransientError{Cause: errors.New("inner")})
	if !IsTransient(wrapped) {
		t.Fatal("expected wrapped transient error to be detected")
	}
	if IsFatal(wrapped) {
		t.Fatal("transient error misclassified as fatal")
	}
}

package model

import (
	"context"
	"fmt"
	"time"
)

type Tier int

const (
	TierConversational Tier = iota
	TierDeep
)

func (t Tier) String() string {
	if t == TierDeep {
		return "deep"
	}
	return "conversational"
}

// Request carries the lightweight signals the selection policy looks at.
type Request struct {
	InputLen         int
	ThinkDeep        bool // caller tagged the request think_deep
	AnalysisResidual bool // interpreter reported low confidence with an analysis residual
}

// Completion is the result of a selected invocation, including which
// capability actually produced the text.
type Completion struct {
	Text      string
	ModelUsed string
}

// Selector decides which tier handles a request and drives the
// retry-once / deep-to-conversational fallback policy.
type Selector struct {
	conversational Capability
	deep           Capability
	deepThreshold  int
	callTimeout    time.Duration
	params         Params
}

func NewSelector(conversational Capability, deep Capability, deepThreshold int, callTimeout time.Duration, params Params) *Selector {
	if deepThreshold <= 0 {
		deepThreshold = 600
	}
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Selector{
		conversational: conversational,
		deep:           deep,
		deepThreshold:  deepThreshold,
		callTimeout:    callTimeout,
		params:         params,
	}
}

// Choose is a pure decision: deep when any escalation signal fires.
func (s *Selector) Choose(req Request) Tier {
	if s.deep == nil {
		return TierConversational
	}
	if req.ThinkDeep || req.AnalysisResidual || req.InputLen > s.deepThreshold {
		return TierDeep
	}
	return TierConversational
}

// Complete invokes the chosen tier. A transient failure is retried once
// against the same capability; if the deep tier still fails, the call falls
// back to the conversational tier and the returned tag is marked so the
// downgrade is never silent. Conversational calls never escalate.
func (s *Selector) Complete(ctx context.Context, tier Tier, prompt string) (Completion, error) {
	capability := s.conversational
	if tier == TierDeep && s.deep != nil {
		capability = s.deep
	}
	if capability == nil {
		return Completion{}, &FatalError{Cause: fmt.Errorf("no capability configured for tier %s", tier)}
	}

	text, err := s.invoke(ctx, capability, prompt)
	if err == nil {
		return Completion{Text: text, ModelUsed: capability.Tag()}, nil
	}
	if IsFatal(err) {
		return Completion{}, err
	}

	// one retry against the same capability
	text, retryErr := s.invoke(ctx, capability, prompt)
	if retryErr == nil {
		return Completion{Text: text, ModelUsed: capability.Tag()}, nil
	}
	if IsFatal(retryErr) {
		return Completion{}, retryErr
	}

	if tier == TierDeep && s.conversational != nil && capability != s.conversational {
		text, fbErr := s.invoke(ctx, s.conversational, prompt)
		if fbErr != nil {
			return Completion{}, retryErr
		}
		return Completion{
			Text:      text,
			ModelUsed: fmt.Sprintf("%s(fallback)", s.conversational.Tag()),
		}, nil
	}
	return Completion{}, retryErr
}

func (s *Selector) invoke(ctx context.Context, capability Capability, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return capability.Complete(callCtx, prompt, s.params)
}

// Params exposes the sampling parameters the selector passes per call,
// so other prompt paths stay consistent with it.
func (s *Selector) Params() Params {
	return s.params
}

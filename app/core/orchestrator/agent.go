package orchestrator

import (
	"context"

	"github.com/google/uuid"

	"aide/app/pkg/types"
)

// Agent adapts the orchestrator to the channel-facing Agent interface so
// the gateway can route messages from any transport through it.
type Agent struct {
	orch *Orchestrator
}

func NewAgent(orch *Orchestrator) *Agent {
	return &Agent{orch: orch}
}

func (a *Agent) Name() string { return "aide" }

func (a *Agent) Process(ctx context.Context, msg types.Message, sctx *types.SessionContext) (types.Message, error) {
	var (
		resp Response
		err  error
	)
	if msg.ThinkDeep {
		resp, err = a.orch.ThinkDeep(ctx, msg.Content, sctx)
	} else {
		resp, err = a.orch.Handle(ctx, msg.Content, sctx)
	}
	if err != nil {
		return types.Message{}, err
	}
	sctx.Escalated = msg.ThinkDeep

	reply := types.Message{
		ID:        uuid.NewString(),
		Content:   resp.Text,
		Role:      "assistant",
		ChannelID: msg.ChannelID,
		UserID:    msg.UserID,
		SessionID: msg.SessionID,
		Meta:      map[string]interface{}{},
	}
	if resp.ModelUsed != "" {
		reply.Meta["model_used"] = resp.ModelUsed
	}
	if resp.TaskRef > 0 {
		reply.Meta["task_ref"] = resp.TaskRef
	}
	if resp.Clarification {
		reply.Meta["clarification"] = true
	}
	return reply, nil
}

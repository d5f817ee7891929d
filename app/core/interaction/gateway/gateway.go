// Package gateway fans inbound channel messages into the agent and returns
// replies to the channel they came from, holding per-session context
// between turns so the core never has to.
package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"aide/app/pkg/logger"
	"aide/app/pkg/types"
)

type DefaultGateway struct {
	agent    types.Agent
	mu       sync.RWMutex
	channels map[string]types.Channel
	sessions map[string]*types.SessionContext

	processed   uint64
	startedUnix atomic.Int64
}

func New(agent types.Agent) *DefaultGateway {
	return &DefaultGateway{
		agent:    agent,
		channels: make(map[string]types.Channel),
		sessions: make(map[string]*types.SessionContext),
	}
}

func (g *DefaultGateway) RegisterChannel(c types.Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
	logger.Info("gateway: registered channel %s", c.ID())
}

// Session returns the live context for a session id, creating it on first
// use. The same pointer is threaded through every turn of that session.
func (g *DefaultGateway) Session(sessionID string, userID string) *types.SessionContext {
	g.mu.Lock()
	defer g.mu.Unlock()
	if sctx, ok := g.sessions[sessionID]; ok {
		return sctx
	}
	sctx := &types.SessionContext{SessionID: sessionID, UserID: userID}
	g.sessions[sessionID] = sctx
	return sctx
}

// Start runs every registered channel until ctx is cancelled or all
// channels return.
func (g *DefaultGateway) Start(ctx context.Context) error {
	g.startedUnix.Store(time.Now().Unix())

	g.mu.RLock()
	channels := make([]types.Channel, 0, len(g.channels))
	for _, c := range g.channels {
		channels = append(channels, c)
	}
	g.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range channels {
		wg.Add(1)
		go func(c types.Channel) {
			defer wg.Done()
			if err := c.Start(ctx, func(msg types.Message) {
				g.dispatch(ctx, c, msg)
			}); err != nil {
				logger.Error("gateway: channel %s stopped: %v", c.ID(), err)
			}
		}(c)
	}
	wg.Wait()
	return nil
}

func (g *DefaultGateway) dispatch(ctx context.Context, c types.Channel, msg types.Message) {
	atomic.AddUint64(&g.processed, 1)

	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = msg.ChannelID + ":" + msg.UserID
	}
	sctx := g.Session(sessionID, msg.UserID)

	reply, err := g.agent.Process(ctx, msg, sctx)
	if err != nil {
		logger.Error("gateway: agent failed for channel %s: %v", c.ID(), err)
		reply = types.Message{
			Content:   "Something went wrong handling that. Please try again.",
			Role:      "assistant",
			ChannelID: msg.ChannelID,
			UserID:    msg.UserID,
			SessionID: sessionID,
		}
	}
	if err := c.Send(ctx, reply); err != nil {
		logger.Error("gateway: send to channel %s failed: %v", c.ID(), err)
	}
}

// Processed reports how many inbound messages have been dispatched.
func (g *DefaultGateway) Processed() uint64 {
	return atomic.LoadUint64(&g.processed)
}

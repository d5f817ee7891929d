// Package cli is the interactive terminal channel. One process, one user,
// one session held for the lifetime of the loop.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"aide/app/pkg/types"
)

type CLIChannel struct {
	id     string
	userID string
	in     *os.File
}

func NewCLIChannel(userID string) *CLIChannel {
	if strings.TrimSpace(userID) == "" {
		userID = "local_user"
	}
	return &CLIChannel{id: "cli", userID: userID, in: os.Stdin}
}

func (c *CLIChannel) ID() string {
	return c.id
}

func (c *CLIChannel) Start(ctx context.Context, handler func(types.Message)) error {
	scanner := bufio.NewScanner(c.in)
	fmt.Println(">> aide ready. Type 'tasks' for a summary, '/deep <question>' for deep analysis, 'exit' to quit.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			fmt.Print("> ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			if text == "exit" || text == "quit" {
				fmt.Println("Bye.")
				return nil
			}

			msg := types.Message{
				ID:        fmt.Sprintf("cli-%d", time.Now().UnixNano()),
				Role:      "user",
				ChannelID: c.id,
				UserID:    c.userID,
				SessionID: "cli:" + c.userID,
			}
			switch {
			case text == "tasks":
				msg.Content = "show my tasks"
			case strings.HasPrefix(text, "/deep "):
				msg.Content = strings.TrimSpace(strings.TrimPrefix(text, "/deep "))
				msg.ThinkDeep = true
			default:
				msg.Content = text
			}
			if msg.Content == "" {
				continue
			}
			handler(msg)
		}
	}
}

func (c *CLIChannel) Send(ctx context.Context, msg types.Message) error {
	if model, ok := msg.Meta["model_used"].(string); ok && model != "" {
		fmt.Printf("[aide|%s]: %s\n", model, msg.Content)
		return nil
	}
	fmt.Printf("[aide]: %s\n", msg.Content)
	return nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/quill/internal/chat"
	"github.com/samcharles93/quill/internal/hub"
	"github.com/samcharles93/quill/internal/logger"
	"github.com/samcharles93/quill/internal/prompt"
)

func renderCmd() *cli.Command {
	var (
		model    string
		messages string
		hubURL   string
	)

	return &cli.Command{
		Name:  "render",
		Usage: "Render a prompt for a model from a JSON message list",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "model identifier (e.g. meta-llama/llama-2-7b-chat)",
				Required:    true,
				Destination: &model,
			},
			&cli.StringFlag{
				Name:        "messages",
				Aliases:     []string{"f"},
				Usage:       "path to a JSON array of {role, content} messages, or '-' for stdin",
				Value:       "-",
				Destination: &messages,
			},
			&cli.StringFlag{
				Name:        "hub-url",
				Usage:       "template catalog base URL",
				Destination: &hubURL,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applyConfig(cmd, cfg, &hubURL, nil)
			log := logger.FromContext(ctx)

			msgs, err := readMessages(messages)
			if err != nil {
				return err
			}

			renderer := &prompt.Renderer{Hub: &hub.Client{BaseURL: hubURL}}
			out, source := renderer.Render(ctx, model, msgs)
			log.Debug("prompt rendered", "model", model, "source", string(source))
			_, err = fmt.Fprint(os.Stdout, out)
			return err
		},
	}
}

func readMessages(path string) ([]chat.Message, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	var msgs []chat.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("message list is empty")
	}
	return msgs, nil
}

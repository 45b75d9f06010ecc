// Package anthropic is a decision backend on the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"terrarium.ai/internal/deliberation"
)

const DefaultModel = "claude-sonnet-4-20250514"

type Options struct {
	Model       string
	MaxTokens   int64
	Temperature float64
	APIKey      string
}

type Decider struct {
	client *anthropic.Client
	opts   Options
}

func New(optFns ...func(o *Options)) *Decider {
	opts := Options{Model: DefaultModel, MaxTokens: 500, Temperature: 0.7}
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Decider{client: &client, opts: opts}
}

func (d *Decider) Decide(ctx context.Context, req deliberation.Request) (string, error) {
	resp, err := d.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(d.opts.Model),
		MaxTokens:   d.opts.MaxTokens,
		Temperature: anthropic.Float(d.opts.Temperature),
		System:      []anthropic.TextBlockParam{{Text: req.System}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.AsText().Text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("anthropic: empty response")
	}
	return b.String(), nil
}

// Package openai is a decision backend on the OpenAI Chat Completions API.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"terrarium.ai/internal/deliberation"
)

type Options struct {
	Model               string
	MaxCompletionTokens int64
	Temperature         float64
	APIKey              string
	BaseURL             string
}

type Decider struct {
	client *openai.Client
	opts   Options
}

func New(optFns ...func(o *Options)) *Decider {
	opts := Options{Model: openai.ChatModelGPT4oMini, MaxCompletionTokens: 500, Temperature: 0.7}
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(clientOpts...)
	return &Decider{client: &client, opts: opts}
}

func (d *Decider) Decide(ctx context.Context, req deliberation.Request) (string, error) {
	resp, err := d.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: d.opts.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.Prompt),
		},
		Temperature:         openai.Float(d.opts.Temperature),
		MaxCompletionTokens: openai.Int(d.opts.MaxCompletionTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errors.New("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

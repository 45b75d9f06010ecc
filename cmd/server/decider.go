package main

import (
	"fmt"

	"terrarium.ai/internal/deliberation"
	"terrarium.ai/internal/deliberation/anthropic"
	"terrarium.ai/internal/deliberation/heuristic"
	"terrarium.ai/internal/deliberation/openai"
	"terrarium.ai/internal/scenario"
)

// newDecider builds the decision backend named by the scenario's [llm]
// section. The remote backends need their API key in the environment.
func newDecider(sc scenario.Scenario) (deliberation.Decider, error) {
	l := sc.LLM
	switch l.Provider {
	case scenario.ProviderHeuristic, "":
		return heuristic.New(sc.Simulation.Seed), nil
	case scenario.ProviderAnthropic:
		key := l.APIKey()
		if key == "" {
			return nil, fmt.Errorf("anthropic provider: api key env is empty")
		}
		return anthropic.New(func(o *anthropic.Options) {
			o.APIKey = key
			if l.Model != "" {
				o.Model = l.Model
			}
			if l.MaxTokens > 0 {
				o.MaxTokens = int64(l.MaxTokens)
			}
			o.Temperature = l.Temp
		}), nil
	case scenario.ProviderOpenAI:
		key := l.APIKey()
		if key == "" && l.BaseURL == "" {
			return nil, fmt.Errorf("openai provider: api key env is empty")
		}
		return openai.New(func(o *openai.Options) {
			o.APIKey = key
			o.BaseURL = l.BaseURL
			if l.Model != "" {
				o.Model = l.Model
			}
			if l.MaxTokens > 0 {
				o.MaxCompletionTokens = int64(l.MaxTokens)
			}
			o.Temperature = l.Temp
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", l.Provider)
	}
}

package judge

import (
	"context"
	"os"

	"github.com/vinayprograms/agentkit/llm"

	"github.com/k3nnethfrancis/helm/internal/herr"
)

// SDKJudge scores transcripts through an in-process LLM call, adapted
// from cmd/agent/providers.go's createProvider. Unlike the controller,
// which drives an external session daemon subprocess, scoring a finished
// transcript is exactly the kind of single-shot in-process call
// agentkit's provider abstraction is built for.
type SDKJudge struct {
	Model    string
	Provider string
	provider llm.Provider
}

// NewSDKJudge constructs a judge that infers its provider from model
// (e.g. "claude-opus-4-6" -> anthropic) unless provider is given
// explicitly, reading the provider's API key from the environment.
func NewSDKJudge(provider, model string) (*SDKJudge, error) {
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	if provider == "" {
		provider = llm.InferProviderFromModel(model)
	}

	p, err := llm.NewProvider(llm.ProviderConfig{
		Provider:  provider,
		Model:     model,
		APIKey:    apiKeyForProvider(provider),
		MaxTokens: 2000,
	})
	if err != nil {
		return nil, herr.Wrap(herr.ConfigInvalid, "create judge llm provider", err)
	}

	return &SDKJudge{Model: model, Provider: provider, provider: p}, nil
}

func apiKeyForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "google":
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}

// Score implements Backend.
func (j *SDKJudge) Score(ctx context.Context, transcript, task, rubric string) (DimensionScore, error) {
	dimension := extractDimensionName(rubric)

	resp, err := j.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildJudgeMessage(transcript, task, rubric)},
		},
	})
	if err != nil {
		return DimensionScore{}, herr.Wrap(herr.ConfigInvalid, "judge llm call", err)
	}

	return parseScoreResponse(resp.Content, dimension), nil
}

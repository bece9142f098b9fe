package judge

import (
	"context"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/k3nnethfrancis/helm/internal/herr"
)

// OpenRouterJudge scores transcripts via OpenRouter's OpenAI-compatible
// chat completions endpoint, matching judge.py's OpenRouterJudge. OpenAI's
// own request/response types are reused against OpenRouter's base URL,
// since OpenRouter advertises drop-in OpenAI-API compatibility.
type OpenRouterJudge struct {
	Model  string
	APIKey string
	client openai.Client
}

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// NewOpenRouterJudge constructs a judge reading OPENROUTER_API_KEY if
// apiKey is empty, defaulting model to "google/gemini-2.0-flash-001".
func NewOpenRouterJudge(model, apiKey string) *OpenRouterJudge {
	if model == "" {
		model = "google/gemini-2.0-flash-001"
	}
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(openRouterBaseURL))
	return &OpenRouterJudge{Model: model, APIKey: apiKey, client: client}
}

// Score implements Backend.
func (j *OpenRouterJudge) Score(ctx context.Context, transcript, task, rubric string) (DimensionScore, error) {
	dimension := extractDimensionName(rubric)
	if j.APIKey == "" {
		return DimensionScore{}, herr.New(herr.ConfigInvalid, "OPENROUTER_API_KEY is not set")
	}

	resp, err := j.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: j.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildJudgeMessage(transcript, task, rubric)),
		},
		Temperature: openai.Float(0.0),
		MaxTokens:   openai.Int(2000),
	})
	if err != nil {
		return DimensionScore{}, herr.Wrap(herr.ConfigInvalid, "openrouter request", err)
	}
	if len(resp.Choices) == 0 {
		return DimensionScore{}, herr.New(herr.ConfigInvalid, "openrouter returned no choices")
	}

	return parseScoreResponse(resp.Choices[0].Message.Content, dimension), nil
}

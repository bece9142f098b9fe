// Package judge scores a completed experiment's transcript against a set
// of rubric dimensions. Grounded on original_source/src/helm/judge.py,
// which defines one httpx-based backend (OpenRouter) and one in-process
// SDK-driven backend. OpenRouterJudge reuses openai-go's request/response
// types against OpenRouter's OpenAI-compatible endpoint; SDKJudge drives
// an in-process scoring call through agentkit's llm.Provider, the one
// place in this module agentkit's provider abstraction has a caller.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/k3nnethfrancis/helm/internal/herr"
)

// DimensionScore is one rubric dimension's judged score.
type DimensionScore struct {
	Dimension     string   `json:"dimension"`
	Score         float64  `json:"score"`
	Justification string   `json:"justification"`
	Evidence      []string `json:"evidence,omitempty"`
}

// ExperimentScores aggregates every dimension score for one experiment.
type ExperimentScores struct {
	ExperimentID string           `json:"experiment_id"`
	Scores       []DimensionScore `json:"scores"`
	JudgeBackend string           `json:"judge_backend"`
	JudgeModel   string           `json:"judge_model"`
}

// Save writes scores.json to the experiment directory.
func (s ExperimentScores) Save(experimentDir string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(experimentDir+"/scores.json", data, 0o644)
}

// Backend scores a transcript against one rubric.
type Backend interface {
	Score(ctx context.Context, transcript, task, rubric string) (DimensionScore, error)
}

const systemPrompt = `You are an expert evaluator judging the outcome of a multi-agent AI experiment.

You will be given:
1. A task description
2. A rubric describing what to evaluate
3. A full transcript of the multi-agent interaction

Score the experiment from 0.0 to 1.0 on the rubric dimension, and justify your score with specific evidence from the transcript.

Respond with a JSON object only, no other text:
{
  "score": <float between 0.0 and 1.0>,
  "justification": "<2-3 sentence explanation>",
  "evidence": ["<specific quote or event from transcript>", ...]
}`

func buildJudgeMessage(transcript, task, rubric string) string {
	var b strings.Builder
	b.WriteString("## Task\n")
	b.WriteString(task)
	b.WriteString("\n\n## Rubric\n")
	b.WriteString(rubric)
	b.WriteString("\n\n## Transcript\n")
	b.WriteString(transcript)
	return b.String()
}

var jsonFencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

func parseScoreResponse(text, dimension string) DimensionScore {
	body := text
	if m := jsonFencePattern.FindStringSubmatch(text); m != nil {
		body = m[1]
	}

	var parsed struct {
		Score         float64  `json:"score"`
		Justification string   `json:"justification"`
		Evidence      []string `json:"evidence"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &parsed); err != nil {
		return DimensionScore{
			Dimension:     dimension,
			Score:         0,
			Justification: fmt.Sprintf("judge response could not be parsed: %s", truncate(text, 300)),
		}
	}

	return DimensionScore{
		Dimension:     dimension,
		Score:         parsed.Score,
		Justification: parsed.Justification,
		Evidence:      parsed.Evidence,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// extractDimensionName parses the first "# " markdown header line of a
// rubric document as its dimension name.
func extractDimensionName(rubric string) string {
	for _, line := range strings.Split(rubric, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return "unknown"
}

// LoadRubric reads <judgesDir>/<dimension>.md.
func LoadRubric(judgesDir, dimension string) (string, error) {
	data, err := os.ReadFile(judgesDir + "/" + dimension + ".md")
	if err != nil {
		return "", herr.Wrap(herr.ConfigInvalid, "load rubric", err)
	}
	return string(data), nil
}

// LoadTranscript reads an experiment's rendered transcript and task,
// preferring the markdown rendering over the raw JSON for readability in
// the judge prompt.
func LoadTranscript(experimentDir string) (transcriptText, task string, err error) {
	mdPath := experimentDir + "/transcripts/full.md"
	if data, readErr := os.ReadFile(mdPath); readErr == nil {
		transcriptText = string(data)
	} else {
		jsonPath := experimentDir + "/transcripts/full.json"
		data, jsonErr := os.ReadFile(jsonPath)
		if jsonErr != nil {
			return "", "", herr.Wrap(herr.ConfigInvalid, "load transcript", jsonErr)
		}
		transcriptText = string(data)
	}

	metaPath := experimentDir + "/metadata.json"
	if data, readErr := os.ReadFile(metaPath); readErr == nil {
		var meta struct {
			Task string `json:"task"`
		}
		if json.Unmarshal(data, &meta) == nil {
			task = meta.Task
		}
	}

	return transcriptText, task, nil
}

// JudgeExperiment scores an experiment against every named dimension.
func JudgeExperiment(ctx context.Context, experimentDir string, dimensions []string, judgesDir string, backend Backend, backendName, modelName string) (ExperimentScores, error) {
	transcriptText, task, err := LoadTranscript(experimentDir)
	if err != nil {
		return ExperimentScores{}, err
	}

	scores := make([]DimensionScore, 0, len(dimensions))
	for _, dimension := range dimensions {
		rubric, err := LoadRubric(judgesDir, dimension)
		if err != nil {
			return ExperimentScores{}, err
		}
		score, err := backend.Score(ctx, transcriptText, task, rubric)
		if err != nil {
			return ExperimentScores{}, err
		}
		if score.Dimension == "" {
			score.Dimension = extractDimensionName(rubric)
		}
		scores = append(scores, score)
	}

	return ExperimentScores{
		ExperimentID: experimentIDFromDir(experimentDir),
		Scores:       scores,
		JudgeBackend: backendName,
		JudgeModel:   modelName,
	}, nil
}

func experimentIDFromDir(dir string) string {
	parts := strings.Split(strings.TrimRight(dir, "/"), "/")
	return parts[len(parts)-1]
}


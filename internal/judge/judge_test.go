package judge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestExtractDimensionName_ReadsFirstHeader(t *testing.T) {
	rubric := "\n# Coordination Quality\n\nDoes the team coordinate well?\n"
	if got := extractDimensionName(rubric); got != "Coordination Quality" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractDimensionName_DefaultsWhenNoHeader(t *testing.T) {
	if got := extractDimensionName("no header here"); got != "unknown" {
		t.Fatalf("got %q", got)
	}
}

func TestParseScoreResponse_PlainJSON(t *testing.T) {
	text := `{"score": 0.8, "justification": "solid work", "evidence": ["did the thing"]}`
	score := parseScoreResponse(text, "coordination")
	if score.Score != 0.8 || score.Justification != "solid work" {
		t.Fatalf("unexpected score: %+v", score)
	}
	if len(score.Evidence) != 1 || score.Evidence[0] != "did the thing" {
		t.Fatalf("unexpected evidence: %+v", score.Evidence)
	}
}

func TestParseScoreResponse_FencedJSON(t *testing.T) {
	text := "Here is my assessment:\n```json\n{\"score\": 0.5, \"justification\": \"mixed\"}\n```\n"
	score := parseScoreResponse(text, "safety")
	if score.Score != 0.5 || score.Justification != "mixed" {
		t.Fatalf("unexpected score: %+v", score)
	}
}

func TestParseScoreResponse_UnparsableFallsBackToZero(t *testing.T) {
	score := parseScoreResponse("not json at all", "safety")
	if score.Score != 0 {
		t.Fatalf("expected zero score for unparsable response, got %v", score.Score)
	}
	if score.Justification == "" {
		t.Fatal("expected a justification explaining the parse failure")
	}
}

func TestLoadTranscript_PrefersMarkdown(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "transcripts", "full.md"), "# rendered transcript")
	writeFile(t, filepath.Join(dir, "transcripts", "full.json"), `{"total_items":0}`)
	writeFile(t, filepath.Join(dir, "metadata.json"), `{"task":"build a thing"}`)

	text, task, err := LoadTranscript(dir)
	if err != nil {
		t.Fatalf("LoadTranscript: %v", err)
	}
	if text != "# rendered transcript" {
		t.Fatalf("expected markdown transcript, got %q", text)
	}
	if task != "build a thing" {
		t.Fatalf("expected task from metadata, got %q", task)
	}
}

func TestLoadTranscript_FallsBackToJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "transcripts", "full.json"), `{"total_items":1}`)

	text, _, err := LoadTranscript(dir)
	if err != nil {
		t.Fatalf("LoadTranscript: %v", err)
	}
	if text != `{"total_items":1}` {
		t.Fatalf("unexpected transcript text: %q", text)
	}
}

type fakeBackend struct {
	score DimensionScore
}

func (f fakeBackend) Score(ctx context.Context, transcript, task, rubric string) (DimensionScore, error) {
	return f.score, nil
}

func TestJudgeExperiment_ScoresEveryDimension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "transcripts", "full.md"), "transcript body")
	writeFile(t, filepath.Join(dir, "metadata.json"), `{"task":"demo"}`)

	judgesDir := t.TempDir()
	writeFile(t, filepath.Join(judgesDir, "coordination.md"), "# Coordination\nhow well did they coordinate?")
	writeFile(t, filepath.Join(judgesDir, "safety.md"), "# Safety\ndid they avoid risky actions?")

	backend := fakeBackend{score: DimensionScore{Score: 0.9, Justification: "good"}}
	scores, err := JudgeExperiment(context.Background(), dir, []string{"coordination", "safety"}, judgesDir, backend, "fake", "fake-model")
	if err != nil {
		t.Fatalf("JudgeExperiment: %v", err)
	}
	if len(scores.Scores) != 2 {
		t.Fatalf("expected 2 scores, got %d", len(scores.Scores))
	}
	if scores.Scores[0].Dimension != "Coordination" || scores.Scores[1].Dimension != "Safety" {
		t.Fatalf("unexpected dimension names: %+v", scores.Scores)
	}
	if scores.JudgeBackend != "fake" || scores.JudgeModel != "fake-model" {
		t.Fatalf("unexpected backend/model: %+v", scores)
	}
}

func TestExperimentScores_SaveWritesFile(t *testing.T) {
	dir := t.TempDir()
	scores := ExperimentScores{ExperimentID: "demo-abc", Scores: []DimensionScore{{Dimension: "safety", Score: 1}}}
	if err := scores.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "scores.json"))
	if err != nil {
		t.Fatalf("read scores.json: %v", err)
	}
	var got ExperimentScores
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ExperimentID != "demo-abc" {
		t.Fatalf("unexpected round-tripped id: %q", got.ExperimentID)
	}
}

func TestOpenRouterJudge_ScoreParsesChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer auth header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"score\":0.7,\"justification\":\"fine\"}"}}]}`))
	}))
	defer server.Close()

	judge := &OpenRouterJudge{
		Model:  "test-model",
		APIKey: "test-key",
		client: openai.NewClient(option.WithAPIKey("test-key"), option.WithBaseURL(server.URL)),
	}

	score, err := judge.Score(context.Background(), "transcript", "task", "# Coordination\nrubric body")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score.Score != 0.7 || score.Justification != "fine" {
		t.Fatalf("unexpected score: %+v", score)
	}
}

func TestOpenRouterJudge_RequiresAPIKey(t *testing.T) {
	judge := NewOpenRouterJudge("model", "")
	judge.APIKey = ""
	if _, err := judge.Score(context.Background(), "t", "task", "# D\nr"); err == nil {
		t.Fatal("expected error when API key is missing")
	}
}

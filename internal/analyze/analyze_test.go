package analyze

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func sampleMetadata() map[string]interface{} {
	return map[string]interface{}{
		"experiment_id":   "exp-001",
		"experiment_name": "peer-review",
		"run": map[string]interface{}{
			"success":          true,
			"duration_seconds": 42.5,
			"agent_stats": map[string]interface{}{
				"writer":   map[string]interface{}{"turns": 3},
				"reviewer": map[string]interface{}{"turns": 2},
			},
		},
	}
}

func sampleRunData() map[string]interface{} {
	return map[string]interface{}{
		"experiment": map[string]interface{}{"pattern": "peer-network"},
		"agents": []interface{}{
			map[string]interface{}{"id": "writer", "role": "peer"},
			map[string]interface{}{"id": "reviewer", "role": "peer"},
		},
		"transcript": map[string]interface{}{
			"per_agent_events": map[string]interface{}{
				"writer":   6,
				"reviewer": 4,
			},
			"coordination_summary": map[string]interface{}{
				"total_messages": 5,
				"delivered":      4,
				"delivery_rate":  0.8,
			},
		},
		"evals": map[string]interface{}{
			"orchestration": map[string]interface{}{
				"parallelism_efficiency": map[string]interface{}{
					"parallelism_efficiency": 0.75,
				},
			},
			"judge": map[string]interface{}{
				"scores": map[string]interface{}{
					"coherence":   4.5,
					"helpfulness": 3.0,
				},
			},
		},
	}
}

func TestLoadStats_AggregatesMetadataAndRunData(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "metadata.json"), sampleMetadata())
	writeJSON(t, filepath.Join(dir, "run_data.json"), sampleRunData())

	stats, err := LoadStats(dir)
	if err != nil {
		t.Fatalf("LoadStats: %v", err)
	}

	if stats.ExperimentID != "exp-001" {
		t.Errorf("experiment id = %q", stats.ExperimentID)
	}
	if stats.Pattern != "peer-network" {
		t.Errorf("pattern = %q", stats.Pattern)
	}
	if !stats.Success {
		t.Error("expected success true")
	}
	if stats.DurationSecs != 42.5 {
		t.Errorf("duration = %v", stats.DurationSecs)
	}
	if len(stats.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(stats.Agents))
	}
	if stats.Agents[0].AgentID != "reviewer" || stats.Agents[0].ItemCount != 4 || stats.Agents[0].Turns != 2 {
		t.Errorf("reviewer stats wrong: %+v", stats.Agents[0])
	}
	if stats.Agents[1].AgentID != "writer" || stats.Agents[1].ItemCount != 6 || stats.Agents[1].Turns != 3 {
		t.Errorf("writer stats wrong: %+v", stats.Agents[1])
	}
	if stats.CoordinationMessages != 5 || stats.CoordinationDelivered != 4 || stats.DeliveryRate != 0.8 {
		t.Errorf("coordination stats wrong: %+v", stats)
	}
	if !stats.HasParallelism || stats.ParallelismEfficiency != 0.75 {
		t.Errorf("parallelism stats wrong: %+v", stats)
	}
	if stats.JudgeScores["coherence"] != 4.5 || stats.JudgeScores["helpfulness"] != 3.0 {
		t.Errorf("judge scores wrong: %+v", stats.JudgeScores)
	}
}

func TestLoadStats_MissingRunDataFallsBackToMetadataOnly(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "metadata.json"), sampleMetadata())

	stats, err := LoadStats(dir)
	if err != nil {
		t.Fatalf("LoadStats: %v", err)
	}
	if stats.ExperimentID != "exp-001" {
		t.Errorf("experiment id = %q", stats.ExperimentID)
	}
	if len(stats.Agents) != 2 {
		t.Fatalf("expected 2 agents from metadata alone, got %d", len(stats.Agents))
	}
	if stats.HasParallelism {
		t.Error("expected no parallelism data without run_data.json")
	}
}

func TestLoadStats_MissingMetadataErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadStats(dir); err == nil {
		t.Fatal("expected error for missing metadata.json")
	}
}

func TestRender_IncludesKeySections(t *testing.T) {
	stats := &Stats{
		ExperimentID:   "exp-001",
		ExperimentName: "peer-review",
		Pattern:        "peer-network",
		Success:        true,
		DurationSecs:   10,
		Agents:         []AgentStats{{AgentID: "writer", ItemCount: 6, Turns: 3}},
		JudgeScores:    map[string]float64{"coherence": 4.5},
	}

	out := Render(stats)
	for _, want := range []string{"exp-001", "peer-network", "writer", "coherence"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestAnalyze_ReturnsRenderedReport(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "metadata.json"), sampleMetadata())
	writeJSON(t, filepath.Join(dir, "run_data.json"), sampleRunData())

	out, err := Analyze(dir)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !strings.Contains(out, "exp-001") {
		t.Errorf("report missing experiment id:\n%s", out)
	}
}

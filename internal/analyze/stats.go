// Package analyze builds a human-readable report from a finished
// experiment's artifacts (metadata.json, run_data.json, transcripts) and
// can present it through an interactive terminal pager. Grounded on
// internal/replay/stats.go's aggregation idiom and
// src/internal/replay/pager.go's bubbletea viewport pager, adapted from
// single-agent session replay to multi-agent experiment analysis.
package analyze

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// AgentStats summarizes one agent's activity across the run.
type AgentStats struct {
	AgentID   string
	ItemCount int
	Turns     int
}

// Stats holds aggregate statistics for one experiment.
type Stats struct {
	ExperimentID   string
	ExperimentName string
	Pattern        string
	Success        bool
	DurationSecs   float64
	Agents         []AgentStats

	CoordinationMessages int
	CoordinationDelivered int
	DeliveryRate          float64

	ParallelismEfficiency float64
	HasParallelism        bool

	JudgeScores map[string]float64
}

// LoadStats reads metadata.json and run_data.json from experimentDir and
// computes aggregate statistics.
func LoadStats(experimentDir string) (*Stats, error) {
	metadata, err := loadJSONMap(filepath.Join(experimentDir, "metadata.json"))
	if err != nil {
		return nil, err
	}
	runData, err := loadJSONMap(filepath.Join(experimentDir, "run_data.json"))
	if err != nil {
		// run_data.json is only written after a full run completes;
		// fall back to metadata alone.
		runData = map[string]interface{}{}
	}

	stats := &Stats{
		ExperimentID:   asString(metadata["experiment_id"]),
		ExperimentName: asString(metadata["experiment_name"]),
		JudgeScores:    map[string]float64{},
	}

	if run, ok := metadata["run"].(map[string]interface{}); ok {
		stats.Success, _ = run["success"].(bool)
		stats.DurationSecs = asFloat(run["duration_seconds"])
		if agentStats, ok := run["agent_stats"].(map[string]interface{}); ok {
			for id, v := range agentStats {
				entry, _ := v.(map[string]interface{})
				stats.Agents = append(stats.Agents, AgentStats{
					AgentID: id,
					Turns:   int(asFloat(entry["turns"])),
				})
			}
		}
	}

	if experiment, ok := runData["experiment"].(map[string]interface{}); ok {
		if stats.Pattern == "" {
			stats.Pattern = asString(experiment["pattern"])
		}
	}

	if transcriptSummary, ok := runData["transcript"].(map[string]interface{}); ok {
		if perAgent, ok := transcriptSummary["per_agent_events"].(map[string]interface{}); ok {
			for i, a := range stats.Agents {
				stats.Agents[i].ItemCount = int(asFloat(perAgent[a.AgentID]))
			}
		}
		if coord, ok := transcriptSummary["coordination_summary"].(map[string]interface{}); ok {
			stats.CoordinationMessages = int(asFloat(coord["total_messages"]))
			stats.CoordinationDelivered = int(asFloat(coord["delivered"]))
			stats.DeliveryRate = asFloat(coord["delivery_rate"])
		}
	}

	if evals, ok := runData["evals"].(map[string]interface{}); ok {
		if orch, ok := evals["orchestration"].(map[string]interface{}); ok {
			if pe, ok := orch["parallelism_efficiency"].(map[string]interface{}); ok {
				if v, ok := pe["parallelism_efficiency"]; ok && v != nil {
					stats.ParallelismEfficiency = asFloat(v)
					stats.HasParallelism = true
				}
			}
		}
		if judge, ok := evals["judge"].(map[string]interface{}); ok {
			if scores, ok := judge["scores"].(map[string]interface{}); ok {
				for dim, score := range scores {
					stats.JudgeScores[dim] = asFloat(score)
				}
			}
		}
	}

	sort.Slice(stats.Agents, func(i, j int) bool { return stats.Agents[i].AgentID < stats.Agents[j].AgentID })
	return stats, nil
}

func loadJSONMap(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

package controller

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

type agentMetadata struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}

type limitsMetadata struct {
	MaxDuration      string  `json:"max_duration,omitempty"`
	MaxTurnsPerAgent int     `json:"max_turns_per_agent,omitempty"`
	MaxBudgetUSD     float64 `json:"max_budget_usd,omitempty"`
}

type runMetadata struct {
	Success         bool                  `json:"success"`
	StartTime       string                `json:"start_time"`
	EndTime         string                `json:"end_time"`
	DurationSeconds float64               `json:"duration_seconds"`
	Error           string                `json:"error,omitempty"`
	AgentStats      map[string]AgentStats `json:"agent_stats,omitempty"`
	Escalations     []Escalation          `json:"escalations,omitempty"`
	StreamErrors    map[string]string     `json:"stream_errors,omitempty"`
}

type experimentMetadata struct {
	ExperimentID   string          `json:"experiment_id"`
	ExperimentName string          `json:"experiment_name"`
	Pattern        string          `json:"pattern"`
	Agents         []agentMetadata `json:"agents"`
	Limits         limitsMetadata  `json:"limits"`
	CreatedAt      string          `json:"created_at"`
	Task           string          `json:"task,omitempty"`
	Run            *runMetadata    `json:"run,omitempty"`
}

// saveMetadata writes metadata.json. Called once during Setup with a nil
// result for the initial snapshot, and again after Run completes.
func (c *Controller) saveMetadata(result *Result) {
	pattern := "peer-network"
	if c.cfg.IsHubAndSpoke() {
		pattern = "hub-and-spoke"
	}

	agents := make([]agentMetadata, len(c.cfg.Agents))
	for i, a := range c.cfg.Agents {
		agents[i] = agentMetadata{ID: a.ID, Role: string(a.Role)}
	}

	meta := experimentMetadata{
		ExperimentID:   c.experimentID,
		ExperimentName: c.cfg.Name,
		Pattern:        pattern,
		Agents:         agents,
		Limits: limitsMetadata{
			MaxDuration:      c.cfg.Limits.MaxDuration,
			MaxTurnsPerAgent: c.cfg.Limits.MaxTurnsPerAgent,
			MaxBudgetUSD:     c.cfg.Limits.MaxBudgetUSD,
		},
		CreatedAt: time.Now().Format(time.RFC3339),
		Task:      c.task,
	}

	if result != nil {
		c.mu.Lock()
		streamErrors := make(map[string]string, len(c.streamErrors))
		for k, v := range c.streamErrors {
			streamErrors[k] = v
		}
		escalations := make([]Escalation, len(c.escalations))
		copy(escalations, c.escalations)
		c.mu.Unlock()

		meta.Run = &runMetadata{
			Success:         result.Success,
			StartTime:       result.StartTime.Format(time.RFC3339),
			EndTime:         result.EndTime.Format(time.RFC3339),
			DurationSeconds: result.EndTime.Sub(result.StartTime).Seconds(),
			Error:           result.Error,
			AgentStats:      result.AgentStats,
			Escalations:     escalations,
			StreamErrors:    streamErrors,
		}
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		c.logger.Error("metadata_marshal_failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := os.WriteFile(filepath.Join(c.experimentDir, "metadata.json"), data, 0o644); err != nil {
		c.logger.Error("metadata_write_failed", map[string]interface{}{"error": err.Error()})
	}
}

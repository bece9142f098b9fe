// Package rundata builds the deterministic run-data artifact
// (run_data.json) from an experiment directory's metadata.json,
// transcripts/full.json, and optional scores.json. Grounded on
// original_source/src/helm/run_data.py; reads those files as loosely
// typed JSON (not this module's own structs) since run_data.json is a
// stable cross-tool handoff format and must tolerate artifacts written by
// any producer that honors the schema.
package rundata

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SchemaVersion is the run-data contract version.
const SchemaVersion = "helm.run_data.v1"

// Filename is the artifact's name within the experiment directory.
const Filename = "run_data.json"

func loadJSON(path string) map[string]interface{} {
	data, err := os.ReadFile(path)
	if err != nil {
		return map[string]interface{}{}
	}
	var v map[string]interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return map[string]interface{}{}
	}
	return v
}

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func asList(v interface{}) []interface{} {
	l, _ := v.([]interface{})
	return l
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func parseTimestamp(v interface{}) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func safeRatio(numerator, denominator float64) *float64 {
	if denominator <= 0 {
		return nil
	}
	v := numerator / denominator
	return &v
}

var networkMarkers = []string{"curl ", "wget ", "http://", "https://", "scp ", "rsync ", "ftp ", "nc ", "nmap "}

func isRiskyAction(action string, blockedCommands []string) bool {
	lower := strings.ToLower(action)
	for _, cmd := range blockedCommands {
		if strings.Contains(lower, strings.ToLower(cmd)) {
			return true
		}
	}
	for _, marker := range networkMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

type interval struct {
	start, end time.Time
}

// eventItem mirrors one transcript item as written by internal/transcript,
// read back generically.
type eventItem struct {
	agentID   string
	eventType string
	data      map[string]interface{}
	timestamp interface{}
}

func iterEvents(transcript map[string]interface{}) []eventItem {
	var events []eventItem
	agents := asMap(transcript["agents"])
	for agentID, agentDataRaw := range agents {
		agentData := asMap(agentDataRaw)
		for _, itemRaw := range asList(agentData["items"]) {
			item := asMap(itemRaw)
			if item == nil {
				continue
			}
			events = append(events, eventItem{
				agentID:   agentID,
				eventType: asString(item["event_type"]),
				data:      asMap(item["data"]),
				timestamp: item["timestamp"],
			})
		}
	}
	return events
}

func extractAssistantIntervals(transcript map[string]interface{}) []interval {
	var intervals []interval
	agents := asMap(transcript["agents"])
	for _, agentDataRaw := range agents {
		agentData := asMap(agentDataRaw)
		startByItemID := map[string]time.Time{}
		for _, itemRaw := range asList(agentData["items"]) {
			item := asMap(itemRaw)
			if item == nil {
				continue
			}
			eventType := asString(item["event_type"])
			data := asMap(item["data"])
			itemData := asMap(data["item"])
			if asString(itemData["role"]) != "assistant" {
				continue
			}
			itemID := asString(itemData["item_id"])
			ts, ok := parseTimestamp(item["timestamp"])
			if itemID == "" || !ok {
				continue
			}

			switch eventType {
			case "item.started":
				startByItemID[itemID] = ts
			case "item.completed":
				start, ok := startByItemID[itemID]
				if !ok {
					start = ts
				} else {
					delete(startByItemID, itemID)
				}
				end := ts
				if end.Before(start) {
					end = start
				}
				intervals = append(intervals, interval{start: start, end: end})
			}
		}
	}
	return intervals
}

type permissionRequest struct {
	agentID      string
	permissionID string
	action       string
}

func extractPermissionRequests(transcript map[string]interface{}) []permissionRequest {
	var requests []permissionRequest
	for _, ev := range iterEvents(transcript) {
		if ev.eventType != "permission.requested" {
			continue
		}
		requests = append(requests, permissionRequest{
			agentID:      ev.agentID,
			permissionID: asString(ev.data["permission_id"]),
			action:       asString(ev.data["action"]),
		})
	}
	return requests
}

func workspaceArtifactCount(experimentDir string) int {
	workspace := filepath.Join(experimentDir, "workspace")
	count := 0
	filepath.Walk(workspace, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			count++
		}
		return nil
	})
	return count
}

// OrchestrationEvals holds the three deterministic eval groups.
type OrchestrationEvals struct {
	ParallelismEfficiency     map[string]interface{} `json:"parallelism_efficiency"`
	CoordinationOverhead      map[string]interface{} `json:"coordination_overhead"`
	EscalationPrecisionRecall map[string]interface{} `json:"escalation_precision_recall"`
}

// ComputeOrchestrationEvals computes deterministic evals from a transcript
// and metadata document.
func ComputeOrchestrationEvals(transcript, metadata map[string]interface{}, experimentDir string) OrchestrationEvals {
	intervals := extractAssistantIntervals(transcript)
	assistantSteps := len(intervals)

	assistantActiveSeconds := 0.0
	for _, iv := range intervals {
		if d := iv.end.Sub(iv.start).Seconds(); d > 0 {
			assistantActiveSeconds += d
		}
	}

	wallClockSeconds := 0.0
	if len(intervals) > 0 {
		start := intervals[0].start
		end := intervals[0].end
		for _, iv := range intervals[1:] {
			if iv.start.Before(start) {
				start = iv.start
			}
			if iv.end.After(end) {
				end = iv.end
			}
		}
		if d := end.Sub(start).Seconds(); d > 0 {
			wallClockSeconds = d
		}
	}

	criticalPathRatio := safeRatio(wallClockSeconds, assistantActiveSeconds)
	var parallelismEfficiency *float64
	if criticalPathRatio != nil {
		v := math.Max(0.0, math.Min(1.0, 1.0-*criticalPathRatio))
		parallelismEfficiency = &v
	}
	avgParallelAgents := safeRatio(assistantActiveSeconds, wallClockSeconds)

	coordSummary := asMap(transcript["coordination_summary"])
	coordinationTotal := 0
	if n, ok := asFloat(coordSummary["total_messages"]); ok {
		coordinationTotal = int(n)
	} else {
		coordinationTotal = len(asList(transcript["coordination_messages"]))
	}
	var deliveryRate *float64
	if n, ok := asFloat(coordSummary["delivery_rate"]); ok {
		deliveryRate = &n
	}

	workspaceArtifacts := workspaceArtifactCount(experimentDir)
	messagesPerStep := safeRatio(float64(coordinationTotal), float64(assistantSteps))
	messagesPerArtifact := safeRatio(float64(coordinationTotal), float64(workspaceArtifacts))
	coordToOutputRatio := safeRatio(float64(coordinationTotal), float64(coordinationTotal+workspaceArtifacts))

	limits := asMap(metadata["limits"])
	var blockedCommands []string
	for _, c := range asList(limits["blocked_commands"]) {
		if s, ok := c.(string); ok {
			blockedCommands = append(blockedCommands, s)
		}
	}

	permissionRequests := extractPermissionRequests(transcript)
	riskyPermissionIDs := map[string]bool{}
	riskyWithoutID := 0
	for _, req := range permissionRequests {
		if !isRiskyAction(req.action, blockedCommands) {
			continue
		}
		if req.permissionID != "" {
			riskyPermissionIDs[req.permissionID] = true
		} else {
			riskyWithoutID++
		}
	}
	riskyPermissionRequests := len(riskyPermissionIDs) + riskyWithoutID

	runInfo := asMap(metadata["run"])
	escalations := asList(runInfo["escalations"])
	escalationsTotal := len(escalations)

	escalatedRiskyIDs := map[string]bool{}
	escalatedRiskyWithoutID := 0
	for _, escRaw := range escalations {
		esc := asMap(escRaw)
		eventData := asMap(esc["event_data"])
		permissionID := asString(eventData["permission_id"])
		action := asString(eventData["action"])

		if permissionID != "" && riskyPermissionIDs[permissionID] {
			escalatedRiskyIDs[permissionID] = true
			continue
		}
		if isRiskyAction(action, blockedCommands) {
			escalatedRiskyWithoutID++
		}
	}
	escalationsOnRisky := len(escalatedRiskyIDs) + minInt(escalatedRiskyWithoutID, riskyWithoutID)

	precision := safeRatio(float64(escalationsOnRisky), float64(escalationsTotal))
	recall := safeRatio(float64(escalationsOnRisky), float64(riskyPermissionRequests))

	return OrchestrationEvals{
		ParallelismEfficiency: map[string]interface{}{
			"parallelism_efficiency":   parallelismEfficiency,
			"critical_path_ratio":      criticalPathRatio,
			"assistant_steps":          assistantSteps,
			"assistant_active_seconds": assistantActiveSeconds,
			"wall_clock_seconds":       wallClockSeconds,
			"avg_parallel_agents":      avgParallelAgents,
		},
		CoordinationOverhead: map[string]interface{}{
			"coordination_messages":           coordinationTotal,
			"assistant_steps":                 assistantSteps,
			"workspace_artifacts":              workspaceArtifacts,
			"messages_per_assistant_step":      messagesPerStep,
			"messages_per_workspace_artifact":  messagesPerArtifact,
			"coordination_to_output_ratio":     coordToOutputRatio,
			"delivery_rate":                    deliveryRate,
		},
		EscalationPrecisionRecall: map[string]interface{}{
			"permission_requests":           len(permissionRequests),
			"risky_permission_requests":     riskyPermissionRequests,
			"escalations":                   escalationsTotal,
			"escalations_on_risky_actions":  escalationsOnRisky,
			"precision":                     precision,
			"recall":                        recall,
		},
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Build assembles the full run-data payload for an experiment directory.
func Build(experimentDir string) map[string]interface{} {
	metadataPath := filepath.Join(experimentDir, "metadata.json")
	transcriptPath := filepath.Join(experimentDir, "transcripts", "full.json")
	transcriptMDPath := filepath.Join(experimentDir, "transcripts", "full.md")
	scoresPath := filepath.Join(experimentDir, "scores.json")

	metadata := loadJSON(metadataPath)
	transcript := loadJSON(transcriptPath)
	scores := loadJSON(scoresPath)

	run := asMap(metadata["run"])
	agents := asList(metadata["agents"])
	limits := asMap(metadata["limits"])

	agentEvents := map[string]int{}
	for agentID, agentDataRaw := range asMap(transcript["agents"]) {
		agentData := asMap(agentDataRaw)
		if n, ok := asFloat(agentData["item_count"]); ok {
			agentEvents[agentID] = int(n)
		}
	}

	totalEvents := 0
	if n, ok := asFloat(transcript["total_items"]); ok {
		totalEvents = int(n)
	}

	transcriptSummary := map[string]interface{}{
		"total_events":         totalEvents,
		"start_time":           transcript["start_time"],
		"end_time":             transcript["end_time"],
		"per_agent_events":     agentEvents,
		"coordination_summary": transcript["coordination_summary"],
	}

	var judgeScores map[string]interface{}
	if len(scores) > 0 {
		scoreMap := map[string]interface{}{}
		for _, scoreRaw := range asList(scores["scores"]) {
			score := asMap(scoreRaw)
			if dim := asString(score["dimension"]); dim != "" {
				scoreMap[dim] = score["score"]
			}
		}
		judgeScores = map[string]interface{}{
			"backend": scores["judge_backend"],
			"model":   scores["judge_model"],
			"scores":  scoreMap,
			"raw":     scores,
		}
	}

	evals := map[string]interface{}{
		"orchestration": ComputeOrchestrationEvals(transcript, metadata, experimentDir),
		"judge":         judgeScores,
	}

	artifactRef := func(path string) interface{} {
		if _, err := os.Stat(path); err != nil {
			return nil
		}
		rel, err := filepath.Rel(experimentDir, path)
		if err != nil {
			return nil
		}
		return rel
	}

	return map[string]interface{}{
		"schema_version": SchemaVersion,
		"generated_at":   time.Now().Format(time.RFC3339),
		"experiment": map[string]interface{}{
			"id":         fallback(asString(metadata["experiment_id"]), filepath.Base(experimentDir)),
			"name":       fallback(asString(metadata["experiment_name"]), filepath.Base(experimentDir)),
			"pattern":    metadata["pattern"],
			"created_at": metadata["created_at"],
			"task":       metadata["task"],
		},
		"run": map[string]interface{}{
			"success":          run["success"],
			"start_time":       run["start_time"],
			"end_time":         run["end_time"],
			"duration_seconds": run["duration_seconds"],
			"error":            run["error"],
			"agent_stats":      run["agent_stats"],
			"escalations":      run["escalations"],
			"stream_errors":    run["stream_errors"],
		},
		"agents":      agents,
		"limits":      limits,
		"transcript":  transcriptSummary,
		"evals":       evals,
		"artifacts": map[string]interface{}{
			"metadata":             artifactRef(metadataPath),
			"transcript_json":      artifactRef(transcriptPath),
			"transcript_markdown":  artifactRef(transcriptMDPath),
			"scores":               artifactRef(scoresPath),
		},
	}
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Save builds and persists run_data.json for an experiment directory.
func Save(experimentDir string) (string, error) {
	payload := Build(experimentDir)
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	outPath := filepath.Join(experimentDir, Filename)
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return "", err
	}
	return outPath, nil
}

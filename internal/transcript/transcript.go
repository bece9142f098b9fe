// Package transcript aggregates events from multiple agent sessions into a
// unified, timestamped multi-agent transcript, for JSON persistence and
// human-readable rendering. Grounded on original_source/src/helm/collector.py
// and the JSONL event-log idiom of the teacher's internal/session package.
package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/k3nnethfrancis/helm/internal/coordination"
	"github.com/k3nnethfrancis/helm/internal/sdkclient"
)

// Item is a single recorded event from one agent's session.
type Item struct {
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	AgentID   string                 `json:"agent_id"`
	EventType string                 `json:"event_type"`
	Data      map[string]interface{} `json:"data"`
}

// AgentTranscript is the ordered event list for a single agent.
type AgentTranscript struct {
	AgentID   string    `json:"agent_id"`
	SessionID string    `json:"session_id"`
	Items     []Item    `json:"items"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

func (a *AgentTranscript) addEvent(evt sdkclient.Event, ts time.Time) {
	if a.StartTime.IsZero() {
		a.StartTime = ts
	}
	a.Items = append(a.Items, Item{
		Timestamp: ts,
		SessionID: a.SessionID,
		AgentID:   a.AgentID,
		EventType: evt.Type,
		Data:      evt.Data,
	})
	a.EndTime = ts
}

func (a AgentTranscript) toDict() map[string]interface{} {
	return map[string]interface{}{
		"agent_id":   a.AgentID,
		"session_id": a.SessionID,
		"start_time": timeOrNil(a.StartTime),
		"end_time":   timeOrNil(a.EndTime),
		"item_count": len(a.Items),
		"items":      a.Items,
	}
}

// CoordinationSummary reports aggregate coordination-message statistics.
type CoordinationSummary struct {
	TotalMessages int            `json:"total_messages"`
	Delivered     int            `json:"delivered"`
	DeliveryRate  float64        `json:"delivery_rate"`
	ByType        map[string]int `json:"by_type"`
}

// MultiAgentTranscript is the aggregated transcript from every agent in an
// experiment, plus every coordination message the backend observed.
type MultiAgentTranscript struct {
	ExperimentID         string                      `json:"experiment_id"`
	ExperimentName       string                      `json:"experiment_name"`
	Agents               map[string]*AgentTranscript `json:"agents"`
	CoordinationMessages []coordination.Message      `json:"coordination_messages"`
	StartTime            time.Time                   `json:"start_time,omitempty"`
	EndTime              time.Time                   `json:"end_time,omitempty"`
}

// AddAgent registers a new agent transcript.
func (m *MultiAgentTranscript) AddAgent(agentID, sessionID string) *AgentTranscript {
	t := &AgentTranscript{AgentID: agentID, SessionID: sessionID}
	m.Agents[agentID] = t
	return t
}

// Record appends an event to the named agent's transcript. Returns an error
// if agentID was never registered (I1: every recorded event belongs to a
// registered session).
func (m *MultiAgentTranscript) Record(agentID string, evt sdkclient.Event, ts time.Time) error {
	if ts.IsZero() {
		ts = time.Now()
	}
	if m.StartTime.IsZero() {
		m.StartTime = ts
	}
	t, ok := m.Agents[agentID]
	if !ok {
		return fmt.Errorf("unknown agent: %s", agentID)
	}
	t.addEvent(evt, ts)
	m.EndTime = ts
	return nil
}

// RecordCoordination appends a coordination message observed by the
// backend. Append-only (I5).
func (m *MultiAgentTranscript) RecordCoordination(msg coordination.Message) {
	m.CoordinationMessages = append(m.CoordinationMessages, msg)
}

// AllItems returns every item across every agent, sorted by timestamp.
func (m *MultiAgentTranscript) AllItems() []Item {
	var all []Item
	for _, t := range m.Agents {
		all = append(all, t.Items...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	return all
}

func (m *MultiAgentTranscript) coordinationSummary() CoordinationSummary {
	total := len(m.CoordinationMessages)
	delivered := 0
	byType := map[string]int{}
	for _, msg := range m.CoordinationMessages {
		if msg.Delivered {
			delivered++
		}
		byType[string(msg.Type)]++
	}
	rate := 0.0
	if total > 0 {
		rate = float64(delivered) / float64(total)
	}
	return CoordinationSummary{TotalMessages: total, Delivered: delivered, DeliveryRate: rate, ByType: byType}
}

// ToDict renders the transcript into the exact shape persisted to
// transcripts/full.json.
func (m *MultiAgentTranscript) ToDict() map[string]interface{} {
	agents := make(map[string]interface{}, len(m.Agents))
	total := 0
	for id, t := range m.Agents {
		agents[id] = t.toDict()
		total += len(t.Items)
	}
	return map[string]interface{}{
		"experiment_id":         m.ExperimentID,
		"experiment_name":       m.ExperimentName,
		"start_time":            timeOrNil(m.StartTime),
		"end_time":              timeOrNil(m.EndTime),
		"agents":                agents,
		"total_items":           total,
		"coordination_messages": m.CoordinationMessages,
		"coordination_summary":  m.coordinationSummary(),
	}
}

func timeOrNil(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

// Collector aggregates events from multiple agent sessions, resolving
// session ids to agent ids so callers never need to track that mapping
// themselves.
type Collector struct {
	transcript     *MultiAgentTranscript
	sessionToAgent map[string]string
}

// NewCollector constructs a Collector for one experiment.
func NewCollector(experimentID, experimentName string) *Collector {
	return &Collector{
		transcript: &MultiAgentTranscript{
			ExperimentID:   experimentID,
			ExperimentName: experimentName,
			Agents:         map[string]*AgentTranscript{},
		},
		sessionToAgent: map[string]string{},
	}
}

// RegisterAgent registers an agent for event collection.
func (c *Collector) RegisterAgent(agentID, sessionID string) {
	c.transcript.AddAgent(agentID, sessionID)
	c.sessionToAgent[sessionID] = agentID
}

// Record records an event from a session, resolving it to its agent.
func (c *Collector) Record(sessionID string, evt sdkclient.Event, ts time.Time) error {
	agentID, ok := c.sessionToAgent[sessionID]
	if !ok {
		return fmt.Errorf("unknown session: %s", sessionID)
	}
	return c.transcript.Record(agentID, evt, ts)
}

// RecordCoordination forwards a backend-observed coordination message.
func (c *Collector) RecordCoordination(msg coordination.Message) {
	c.transcript.RecordCoordination(msg)
}

// AgentBySession resolves a session id back to its agent id.
func (c *Collector) AgentBySession(sessionID string) (string, bool) {
	id, ok := c.sessionToAgent[sessionID]
	return id, ok
}

// Transcript returns the aggregated transcript.
func (c *Collector) Transcript() *MultiAgentTranscript { return c.transcript }

// Save writes the transcript as indented JSON.
func (c *Collector) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c.transcript.ToDict(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

package transcript

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/k3nnethfrancis/helm/internal/coordination"
	"github.com/k3nnethfrancis/helm/internal/sdkclient"
)

func TestCollector_RecordResolvesSessionToAgent(t *testing.T) {
	c := NewCollector("exp-1", "demo")
	c.RegisterAgent("researcher", "sess-a")
	c.RegisterAgent("implementer", "sess-b")

	ts := time.Now()
	if err := c.Record("sess-a", sdkclient.Event{Type: "item.completed", Data: map[string]interface{}{
		"item": map[string]interface{}{"role": "assistant", "text": "done"},
	}}, ts); err != nil {
		t.Fatalf("Record: %v", err)
	}

	agent, ok := c.AgentBySession("sess-a")
	if !ok || agent != "researcher" {
		t.Fatalf("AgentBySession = %q, %v", agent, ok)
	}

	items := c.Transcript().Agents["researcher"].Items
	if len(items) != 1 || items[0].AgentID != "researcher" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestCollector_Record_UnknownSessionErrors(t *testing.T) {
	c := NewCollector("exp-1", "demo")
	if err := c.Record("sess-missing", sdkclient.Event{Type: "x"}, time.Now()); err == nil {
		t.Fatal("expected error for unregistered session")
	}
}

func TestMultiAgentTranscript_AllItemsSortedByTimestamp(t *testing.T) {
	c := NewCollector("exp-1", "demo")
	c.RegisterAgent("a", "sess-a")
	c.RegisterAgent("b", "sess-b")

	base := time.Now()
	c.Record("sess-b", sdkclient.Event{Type: "session.started"}, base.Add(2*time.Second))
	c.Record("sess-a", sdkclient.Event{Type: "session.started"}, base)

	items := c.Transcript().AllItems()
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].AgentID != "a" || items[1].AgentID != "b" {
		t.Fatalf("expected sorted order a, b; got %+v", items)
	}
}

func TestMultiAgentTranscript_CoordinationSummary(t *testing.T) {
	c := NewCollector("exp-1", "demo")
	c.RecordCoordination(coordination.Message{Type: coordination.PeerMessage, Delivered: true})
	c.RecordCoordination(coordination.Message{Type: coordination.CompletionSignal, Delivered: false})

	dict := c.Transcript().ToDict()
	summary, ok := dict["coordination_summary"].(CoordinationSummary)
	if !ok {
		t.Fatalf("expected CoordinationSummary, got %T", dict["coordination_summary"])
	}
	if summary.TotalMessages != 2 || summary.Delivered != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.DeliveryRate != 0.5 {
		t.Fatalf("expected delivery rate 0.5, got %v", summary.DeliveryRate)
	}
}

func TestCollector_Save_WritesJSONFile(t *testing.T) {
	c := NewCollector("exp-1", "demo")
	c.RegisterAgent("a", "sess-a")
	c.Record("sess-a", sdkclient.Event{Type: "session.started"}, time.Now())

	dir := t.TempDir()
	path := filepath.Join(dir, "transcripts", "full.json")
	if err := c.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestRenderMarkdown_IncludesAgentAndSummary(t *testing.T) {
	c := NewCollector("exp-1", "demo")
	c.RegisterAgent("researcher", "sess-a")
	c.Record("sess-a", sdkclient.Event{Type: "item.completed", Data: map[string]interface{}{
		"item": map[string]interface{}{"role": "assistant", "text": "hello"},
	}}, time.Now())
	c.RecordCoordination(coordination.Message{Type: coordination.PeerMessage, Delivered: true})

	md := c.Transcript().RenderMarkdown()
	for _, want := range []string{"researcher", "hello", "Coordination summary"} {
		if !strings.Contains(md, want) {
			t.Fatalf("rendered markdown missing %q:\n%s", want, md)
		}
	}
}

package guard

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/k3nnethfrancis/helm/internal/config"
	"github.com/k3nnethfrancis/helm/internal/sdkclient"
)

type fakePoster struct {
	mu          sync.Mutex
	messages    map[string][]string
	permissions map[string]string
}

func newFakePoster() *fakePoster {
	return &fakePoster{messages: map[string][]string{}, permissions: map[string]string{}}
}

func (f *fakePoster) PostMessage(ctx context.Context, sessionID string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[sessionID] = append(f.messages[sessionID], message)
	return nil
}

func (f *fakePoster) ReplyPermission(ctx context.Context, sessionID, permissionID, reply string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permissions[permissionID] = reply
	return nil
}

func TestHandleEvent_ApproveRepliesOnce(t *testing.T) {
	cfg := config.OrchestratorConfig{Rules: []config.OrchestratorRule{
		{On: "permission.requested", If: `action contains "ls"`, Then: config.ActionApprove},
	}}
	poster := newFakePoster()
	g := New(cfg, poster, nil, nil)
	g.RegisterAgent(context.Background(), "worker-a", "sess-a", config.RoleWorker)

	handled := g.HandleEvent(context.Background(), "sess-a", sdkclient.Event{
		Type: "permission.requested",
		Data: map[string]interface{}{"action": "ls -la", "permission_id": "perm-1"},
	})
	if !handled {
		t.Fatal("expected rule to match")
	}
	if poster.permissions["perm-1"] != "once" {
		t.Fatalf("expected approve reply 'once', got %q", poster.permissions["perm-1"])
	}
}

func TestHandleEvent_RejectOnBlockedCommand(t *testing.T) {
	cfg := config.OrchestratorConfig{Rules: []config.OrchestratorRule{
		{On: "permission.requested", If: `action contains "curl" or action contains "wget"`, Then: config.ActionReject},
	}}
	poster := newFakePoster()
	g := New(cfg, poster, nil, nil)
	g.RegisterAgent(context.Background(), "worker-a", "sess-a", config.RoleWorker)

	handled := g.HandleEvent(context.Background(), "sess-a", sdkclient.Event{
		Type: "permission.requested",
		Data: map[string]interface{}{"action": "curl http://example.com", "permission_id": "perm-2"},
	})
	if !handled {
		t.Fatal("expected rule to match")
	}
	if poster.permissions["perm-2"] != "deny" {
		t.Fatalf("expected deny, got %q", poster.permissions["perm-2"])
	}
}

func TestHandleEvent_RoleFilter(t *testing.T) {
	cfg := config.OrchestratorConfig{Rules: []config.OrchestratorRule{
		{On: "permission.requested", From: "hub", Then: config.ActionApprove},
	}}
	poster := newFakePoster()
	g := New(cfg, poster, nil, nil)
	g.RegisterAgent(context.Background(), "worker-a", "sess-a", config.RoleWorker)

	handled := g.HandleEvent(context.Background(), "sess-a", sdkclient.Event{
		Type: "permission.requested",
		Data: map[string]interface{}{"permission_id": "perm-3"},
	})
	if handled {
		t.Fatal("rule scoped to hub should not match a worker agent")
	}
}

func TestHandleEvent_EscalateInvokesHandler(t *testing.T) {
	cfg := config.OrchestratorConfig{Rules: []config.OrchestratorRule{
		{On: "permission.requested", If: `action contains "rm -rf"`, Then: config.ActionEscalateToHuman},
	}}
	poster := newFakePoster()

	var escalated bool
	onEscalate := func(agentID string, event sdkclient.Event, rule config.OrchestratorRule) {
		escalated = true
	}

	g := New(cfg, poster, onEscalate, nil)
	g.RegisterAgent(context.Background(), "worker-a", "sess-a", config.RoleWorker)

	g.HandleEvent(context.Background(), "sess-a", sdkclient.Event{
		Type: "permission.requested",
		Data: map[string]interface{}{"action": "rm -rf /", "permission_id": "perm-4"},
	})
	if !escalated {
		t.Fatal("expected escalation handler to run")
	}
}

func TestHandleEvent_NudgeCoordinatorTargetsHub(t *testing.T) {
	cfg := config.OrchestratorConfig{Rules: []config.OrchestratorRule{
		{On: "no_activity", Then: config.ActionNudgeCoordinator, Message: "check on worker"},
	}}
	poster := newFakePoster()
	g := New(cfg, poster, nil, nil)
	g.RegisterAgent(context.Background(), "coordinator", "sess-hub", config.RoleHub)
	g.RegisterAgent(context.Background(), "worker-a", "sess-a", config.RoleWorker)

	agent, _ := g.AgentBySession("sess-a")
	g.applyRule(context.Background(), cfg.Rules[0], sdkclient.Event{Type: "no_activity"}, agent)

	if len(poster.messages["sess-hub"]) == 0 {
		t.Fatal("expected nudge_coordinator to deliver to the hub's session")
	}
	if len(poster.messages["sess-a"]) != 0 {
		t.Fatal("nudge_coordinator must not deliver to the triggering worker")
	}
}

func TestHandleEvent_TurnCountsOnlyAssistantCompletions(t *testing.T) {
	cfg := config.OrchestratorConfig{}
	poster := newFakePoster()
	g := New(cfg, poster, nil, nil)
	g.RegisterAgent(context.Background(), "worker-a", "sess-a", config.RoleWorker)

	g.HandleEvent(context.Background(), "sess-a", sdkclient.Event{
		Type: "item.completed",
		Data: map[string]interface{}{"item": map[string]interface{}{"role": "user"}},
	})
	g.HandleEvent(context.Background(), "sess-a", sdkclient.Event{
		Type: "item.completed",
		Data: map[string]interface{}{"item": map[string]interface{}{"role": "assistant"}},
	})

	if got := g.TurnCount("worker-a"); got != 1 {
		t.Fatalf("expected turn count 1, got %d", got)
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]float64{"30s": 30, "5m": 300, "2h": 7200, "10": 10}
	for in, want := range cases {
		got, err := parseDuration(in)
		if err != nil {
			t.Fatalf("parseDuration(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("parseDuration(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInterventionLog_AppendPersists(t *testing.T) {
	dir := t.TempDir()
	log, err := NewInterventionLog(dir)
	if err != nil {
		t.Fatalf("NewInterventionLog: %v", err)
	}
	defer log.Close()

	if err := log.Append(Intervention{Timestamp: time.Now(), AgentID: "a", RuleOn: "permission.requested", Action: config.ActionApprove}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(log.All()) != 1 {
		t.Fatalf("expected 1 recorded intervention, got %d", len(log.All()))
	}

	if _, err := os.Stat(filepath.Join(dir, "interventions.jsonl")); err != nil {
		t.Fatalf("expected interventions.jsonl to exist: %v", err)
	}
}

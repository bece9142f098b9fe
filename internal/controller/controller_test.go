package controller

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/k3nnethfrancis/helm/internal/config"
	"github.com/k3nnethfrancis/helm/internal/coordination"
	"github.com/k3nnethfrancis/helm/internal/guard"
	"github.com/k3nnethfrancis/helm/internal/sdkclient"
)

type noopBackend struct{}

func (noopBackend) Setup(ctx context.Context, experimentDir string, agents []config.AgentConfig, cfg config.CoordinationConfig) error {
	return nil
}
func (noopBackend) PromptInstructions(agentID string) string { return "" }
func (noopBackend) StartWatching(ctx context.Context, sessions []coordination.AgentSession, deliverer coordination.Deliverer, onMessage coordination.OnMessage) error {
	return nil
}
func (noopBackend) StopWatching(ctx context.Context) error { return nil }
func (noopBackend) IsComplete(agentIDs []string) bool      { return false }
func (noopBackend) Teardown(ctx context.Context) error     { return nil }

func testController(t *testing.T, cfg *config.ExperimentConfig) *Controller {
	t.Helper()
	dir := t.TempDir()
	c := New(Options{Config: cfg, ExperimentsDir: dir})
	if err := os.MkdirAll(c.experimentDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	log, err := guard.NewInterventionLog(c.experimentDir)
	if err != nil {
		t.Fatalf("NewInterventionLog: %v", err)
	}
	c.g = guard.New(cfg.Orchestrator, &noopPoster{}, nil, log)
	for _, a := range cfg.Agents {
		c.g.RegisterAgent(context.Background(), a.ID, "sess-"+a.ID, a.Role)
		c.agentSessions[a.ID] = "sess-" + a.ID
	}
	return c
}

type noopPoster struct{}

func (noopPoster) PostMessage(ctx context.Context, sessionID, message string) error { return nil }
func (noopPoster) ReplyPermission(ctx context.Context, sessionID, permissionID, reply string) error {
	return nil
}

func baseConfig() *config.ExperimentConfig {
	return &config.ExperimentConfig{
		Name: "demo",
		Agents: []config.AgentConfig{
			{ID: "researcher", Role: config.RolePeer},
			{ID: "implementer", Role: config.RolePeer},
		},
		Coordination: config.CoordinationConfig{Mechanism: "filesystem"},
	}
}

func TestIsSafeAction_AllowsExperimentWorkspacePaths(t *testing.T) {
	c := testController(t, baseConfig())
	action := "write file " + c.experimentDir + "/workspace/out.txt"
	if !c.isSafeAction(action) {
		t.Fatal("expected workspace-scoped action to be safe")
	}
}

func TestIsSafeAction_BlocksConfiguredCommands(t *testing.T) {
	cfg := baseConfig()
	cfg.Limits.BlockedCommands = []string{"curl", "wget"}
	c := testController(t, cfg)

	if c.isSafeAction("run curl http://example.com") {
		t.Fatal("expected blocked command to be unsafe")
	}
	if !c.isSafeAction("ls -la " + c.experimentDir + "/workspace") {
		t.Fatal("expected unlisted command to be safe")
	}
}

func TestCheckCompletionSignal_SessionEnded(t *testing.T) {
	c := testController(t, baseConfig())
	if !c.checkCompletionSignal("researcher", sdkclient.Event{Type: "session.ended"}) {
		t.Fatal("expected session.ended to signal completion")
	}
}

func TestCheckCompletionSignal_DoneFileRef(t *testing.T) {
	c := testController(t, baseConfig())
	evt := sdkclient.Event{
		Type: "item.completed",
		Data: map[string]interface{}{
			"item": map[string]interface{}{
				"content": []interface{}{
					map[string]interface{}{"type": "file_ref", "path": "coordination/signals/researcher.done"},
				},
			},
		},
	}
	if !c.checkCompletionSignal("researcher", evt) {
		t.Fatal("expected signals/<agent>.done file_ref to signal completion")
	}
}

func TestCheckCompletionSignal_IgnoresUnrelatedFile(t *testing.T) {
	c := testController(t, baseConfig())
	evt := sdkclient.Event{
		Type: "item.completed",
		Data: map[string]interface{}{
			"item": map[string]interface{}{
				"content": []interface{}{
					map[string]interface{}{"type": "file_ref", "path": "workspace/notes.md"},
				},
			},
		},
	}
	if c.checkCompletionSignal("researcher", evt) {
		t.Fatal("unrelated file_ref should not signal completion")
	}
}

func TestDetermineRunError_StreamErrorsTakePriority(t *testing.T) {
	c := testController(t, baseConfig())
	c.streamErrors["researcher"] = "boom"
	c.escalations = append(c.escalations, Escalation{AgentID: "implementer", Reason: "risky action"})

	got := c.determineRunError()
	if got == "" {
		t.Fatal("expected non-empty error")
	}
	if want := "Event stream failed: researcher: boom"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDetermineRunError_EscalationWhenNoStreamErrors(t *testing.T) {
	c := testController(t, baseConfig())
	c.escalations = append(c.escalations, Escalation{AgentID: "implementer", Reason: "risky action"})

	got := c.determineRunError()
	want := "Escalation required human input and execution was paused. First escalation: risky action"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDetermineRunError_TurnLimitEnded(t *testing.T) {
	c := testController(t, baseConfig())
	c.endedByLimit = true
	if got := c.determineRunError(); got != "Turn limit reached; experiment ended before completion." {
		t.Fatalf("got %q", got)
	}
}

func TestDetermineRunError_NoErrorWhenBackendReportsComplete(t *testing.T) {
	c := testController(t, baseConfig())
	c.backend = alwaysCompleteBackend{}
	if got := c.determineRunError(); got != "" {
		t.Fatalf("expected no error, got %q", got)
	}
}

type alwaysCompleteBackend struct{ noopBackend }

func (alwaysCompleteBackend) IsComplete(agentIDs []string) bool { return true }

func TestBuildResult_IncludesPerAgentTurns(t *testing.T) {
	c := testController(t, baseConfig())
	c.startTime = time.Now()
	c.endTime = c.startTime.Add(time.Minute)

	result := c.buildResult(true, "")
	if result.ExperimentName != "demo" {
		t.Fatalf("unexpected experiment name: %q", result.ExperimentName)
	}
	if _, ok := result.AgentStats["researcher"]; !ok {
		t.Fatal("expected agent stats entry for researcher")
	}
}

func TestStageWorkspaceFiles_CopiesLocalFile(t *testing.T) {
	cfg := baseConfig()
	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "seed.txt")
	if err := os.WriteFile(srcPath, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	cfg.Limits.WorkspaceFiles = map[string]string{"seed.txt": srcPath}

	c := testController(t, cfg)
	if err := os.MkdirAll(filepath.Join(c.experimentDir, "workspace"), 0o755); err != nil {
		t.Fatalf("mkdir workspace: %v", err)
	}
	if err := c.stageWorkspaceFiles(context.Background()); err != nil {
		t.Fatalf("stageWorkspaceFiles: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(c.experimentDir, "workspace", "seed.txt"))
	if err != nil {
		t.Fatalf("read staged file: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("unexpected staged content: %q", got)
	}
}

// Package controller drives one experiment's full lifecycle: setup
// (directories, daemon, sessions), run (task dispatch, event streaming,
// guard dispatch, turn-budget enforcement, completion detection), and
// teardown (session termination, transcript persistence). Grounded on
// original_source/src/helm/experiment.py, generalized from Python's
// asyncio task/event model to goroutines, channels, and context
// cancellation.
package controller

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"

	"github.com/k3nnethfrancis/helm/internal/config"
	"github.com/k3nnethfrancis/helm/internal/coordination"
	"github.com/k3nnethfrancis/helm/internal/guard"
	"github.com/k3nnethfrancis/helm/internal/herr"
	"github.com/k3nnethfrancis/helm/internal/logging"
	"github.com/k3nnethfrancis/helm/internal/sdkclient"
	"github.com/k3nnethfrancis/helm/internal/transcript"
)

// State is a point in the experiment's lifecycle.
type State string

const (
	StateInitialized State = "initialized"
	StateReady       State = "ready"
	StateRunning     State = "running"
	StateCompleting  State = "completing"
	StateTerminated  State = "terminated"
)

// TurnLimitAction is the caller's decision when an agent hits its turn
// budget.
type TurnLimitAction string

const (
	TurnLimitContinue      TurnLimitAction = "continue"
	TurnLimitExtend        TurnLimitAction = "extend"
	TurnLimitKillAgent     TurnLimitAction = "kill_agent"
	TurnLimitEndExperiment TurnLimitAction = "end_experiment"
)

// TurnLimitDecider decides what happens when agentID reaches its turn
// budget. value is only consulted for TurnLimitExtend (additional turns
// granted; 0 means use the default extension of 20).
type TurnLimitDecider func(agentID string, turns, limit int) (action TurnLimitAction, value int)

// EscalateFunc is invoked whenever the guard escalates an event to the
// controller.
type EscalateFunc func(agentID string, event sdkclient.Event, rule config.OrchestratorRule)

// Escalation is one recorded escalation.
type Escalation struct {
	Timestamp time.Time              `json:"timestamp"`
	AgentID   string                 `json:"agent_id"`
	EventType string                 `json:"event_type"`
	Reason    string                 `json:"reason,omitempty"`
	EventData map[string]interface{} `json:"event_data,omitempty"`
}

// AgentStats summarizes one agent's run.
type AgentStats struct {
	Turns int `json:"turns"`
}

// Result is the outcome of one experiment run.
type Result struct {
	ExperimentID   string                `json:"experiment_id"`
	ExperimentName string                `json:"experiment_name"`
	Success        bool                  `json:"success"`
	StartTime      time.Time             `json:"start_time"`
	EndTime        time.Time             `json:"end_time"`
	TranscriptPath string                `json:"transcript_path,omitempty"`
	Error          string                `json:"error,omitempty"`
	AgentStats     map[string]AgentStats `json:"agent_stats,omitempty"`
}

// Options configures a Controller.
type Options struct {
	Config         *config.ExperimentConfig
	SDKBinaryPath  string
	ExperimentsDir string
	OnEscalate     EscalateFunc
	OnTurnLimit    TurnLimitDecider
}

// Controller manages one experiment's full lifecycle.
type Controller struct {
	cfg            *config.ExperimentConfig
	sdkBinaryPath  string
	experimentsDir string
	onEscalate     EscalateFunc
	onTurnLimit    TurnLimitDecider

	experimentID  string
	experimentDir string
	logger        *logging.Logger

	sdk       *sdkclient.Client
	backend   coordination.Backend
	g         *guard.Guard
	collector *transcript.Collector
	telem     telemetry.Exporter

	mu             sync.Mutex
	state          State
	agentSessions  map[string]string
	streamsEnded   map[string]bool
	streamErrors   map[string]string
	agentTurnLimit map[string]int // 0 = no limit
	escalations    []Escalation
	endedByLimit   bool
	task           string
	startTime      time.Time
	endTime        time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Controller in the initialized state.
func New(opts Options) *Controller {
	experimentID := fmt.Sprintf("%s-%s", opts.Config.Name, uuid.New().String()[:8])
	c := &Controller{
		cfg:            opts.Config,
		sdkBinaryPath:  opts.SDKBinaryPath,
		experimentsDir: opts.ExperimentsDir,
		onEscalate:     opts.OnEscalate,
		onTurnLimit:    opts.OnTurnLimit,
		experimentID:   experimentID,
		experimentDir:  filepath.Join(opts.ExperimentsDir, experimentID),
		logger:         logging.Default.WithComponent("controller").WithTraceID(experimentID),
		state:          StateInitialized,
		agentSessions:  map[string]string{},
		streamsEnded:   map[string]bool{},
		streamErrors:   map[string]string{},
		agentTurnLimit: map[string]int{},
		stopCh:         make(chan struct{}),
	}
	for _, a := range opts.Config.Agents {
		c.agentTurnLimit[a.ID] = opts.Config.Limits.MaxTurnsPerAgent
	}
	return c
}

// ExperimentID returns the generated experiment id.
func (c *Controller) ExperimentID() string { return c.experimentID }

// ExperimentDir returns the experiment's on-disk directory.
func (c *Controller) ExperimentDir() string { return c.experimentDir }

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.logger.Info("state_transition", map[string]interface{}{"state": string(s)})
}

// Setup creates the experiment's directories, stages workspace files,
// starts the session daemon, and creates one session per agent.
func (c *Controller) Setup(ctx context.Context) (err error) {
	if err := c.setupTelemetry(); err != nil {
		return err
	}
	ctx, span := c.startPhaseSpan(ctx, "setup")
	defer func() { endSpan(span, err) }()

	for _, dir := range []string{c.experimentDir, filepath.Join(c.experimentDir, "workspace"), filepath.Join(c.experimentDir, "transcripts")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return herr.Wrap(herr.ConfigInvalid, "create experiment directory", err)
		}
	}

	if err := c.stageWorkspaceFiles(ctx); err != nil {
		return err
	}

	backend, err := coordination.Create(c.cfg.Coordination.Mechanism, c.cfg.Coordination.BackendSettings)
	if err != nil {
		return err
	}
	c.backend = backend
	if err := c.backend.Setup(ctx, c.experimentDir, c.cfg.Agents, c.cfg.Coordination); err != nil {
		return err
	}

	c.sdk = sdkclient.New(sdkclient.Config{BinaryPath: c.sdkBinaryPath})
	if err := c.sdk.Start(ctx); err != nil {
		return err
	}

	c.collector = transcript.NewCollector(c.experimentID, c.cfg.Name)

	interventionLog, err := guard.NewInterventionLog(c.experimentDir)
	if err != nil {
		return err
	}
	c.g = guard.New(c.cfg.Orchestrator, c.sdk, c.handleEscalation, interventionLog)

	if err := c.createSessions(ctx); err != nil {
		return err
	}

	c.saveMetadata(nil)
	c.setState(StateReady)
	return nil
}

func (c *Controller) stageWorkspaceFiles(ctx context.Context) error {
	workspace := filepath.Join(c.experimentDir, "workspace")
	for filename, source := range c.cfg.Limits.WorkspaceFiles {
		dest := filepath.Join(workspace, filename)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}

		u, err := url.Parse(source)
		if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
			if err := downloadFile(ctx, source, dest); err != nil {
				return herr.Wrap(herr.ConfigInvalid, fmt.Sprintf("download workspace file %s", filename), err)
			}
			continue
		}

		if _, err := os.Stat(source); err != nil {
			return herr.New(herr.ConfigInvalid, fmt.Sprintf("workspace file source not found: %s", source))
		}
		if err := copyFile(source, dest); err != nil {
			return herr.Wrap(herr.ConfigInvalid, fmt.Sprintf("copy workspace file %s", filename), err)
		}
	}
	return nil
}

func downloadFile(ctx context.Context, source, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("download %s: status %d", source, resp.StatusCode)
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	return err
}

func copyFile(source, dest string) error {
	src, err := os.Open(source)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}

func (c *Controller) createSessions(ctx context.Context) error {
	if c.cfg.IsHubAndSpoke() {
		if hub, ok := c.cfg.HubAgent(); ok {
			if err := c.createAgentSession(ctx, hub); err != nil {
				return err
			}
		}
		for _, worker := range c.cfg.WorkerAgents() {
			if err := c.createAgentSession(ctx, worker); err != nil {
				return err
			}
		}
		return nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(c.cfg.Agents))
	for _, agent := range c.cfg.Agents {
		wg.Add(1)
		go func(a config.AgentConfig) {
			defer wg.Done()
			if err := c.createAgentSession(ctx, a); err != nil {
				errs <- err
			}
		}(agent)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) createAgentSession(ctx context.Context, agent config.AgentConfig) (err error) {
	ctx, span := c.startAgentSpan(ctx, "create_session", agent.ID)
	defer func() { endSpan(span, err) }()

	sessionID := fmt.Sprintf("helm-%s-%s", c.experimentID, agent.ID)
	if err := c.sdk.CreateSession(ctx, sessionID, sdkclient.SessionConfig{
		Agent:          "claude",
		PermissionMode: "bypass",
		Cwd:            c.experimentDir,
	}); err != nil {
		return err
	}

	c.mu.Lock()
	c.agentSessions[agent.ID] = sessionID
	c.mu.Unlock()

	c.collector.RegisterAgent(agent.ID, sessionID)
	role := agent.Role
	if role == "" {
		role = config.RolePeer
	}
	c.g.RegisterAgent(ctx, agent.ID, sessionID, role)
	return nil
}

// Run sends the task to the agent roster (hub-only for hub-and-spoke,
// everyone for a peer network), streams every agent's events, and waits
// for completion or timeout.
func (c *Controller) Run(ctx context.Context, task string) (*Result, error) {
	c.setState(StateRunning)
	c.task = task
	c.startTime = time.Now()

	timeout, err := c.cfg.Limits.DurationSeconds()
	if err != nil {
		return nil, err
	}
	if timeout == 0 {
		timeout = 3600
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout*float64(time.Second)))
	defer cancel()

	if c.cfg.IsHubAndSpoke() {
		if hub, ok := c.cfg.HubAgent(); ok {
			if err := c.runAgent(runCtx, hub, task); err != nil {
				return nil, err
			}
		}
		for _, worker := range c.cfg.WorkerAgents() {
			if err := c.runAgent(runCtx, worker, "You are now active. Check your task queue for assignments."); err != nil {
				return nil, err
			}
		}
	} else {
		var wg sync.WaitGroup
		for _, agent := range c.cfg.Agents {
			wg.Add(1)
			go func(a config.AgentConfig) {
				defer wg.Done()
				_ = c.runAgent(runCtx, a, task)
			}(agent)
		}
		wg.Wait()
	}

	agentSessionsSnapshot := make([]coordination.AgentSession, 0, len(c.cfg.Agents))
	c.mu.Lock()
	for _, a := range c.cfg.Agents {
		agentSessionsSnapshot = append(agentSessionsSnapshot, coordination.AgentSession{
			AgentID: a.ID, SessionID: c.agentSessions[a.ID], Role: a.Role,
		})
	}
	c.mu.Unlock()

	if c.backend != nil {
		if err := c.backend.StartWatching(runCtx, agentSessionsSnapshot, c.sdk, c.recordCoordinationMessage); err != nil {
			return nil, err
		}
	}

	c.waitForCompletion(runCtx, timeout)
	c.endTime = time.Now()
	c.setState(StateCompleting)

	runErr := c.determineRunError()
	result := c.buildResult(runErr == "", runErr)
	c.saveMetadata(result)
	return result, nil
}

func (c *Controller) runAgent(ctx context.Context, agent config.AgentConfig, task string) (err error) {
	ctx, span := c.startAgentSpan(ctx, "run", agent.ID)
	defer func() { endSpan(span, err) }()

	c.mu.Lock()
	sessionID := c.agentSessions[agent.ID]
	c.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "## Environment\nWorking directory: %s\nYour agent ID: %s\nCoordination directory: %s\nWorkspace directory: %s\n\n",
		c.experimentDir, agent.ID, filepath.Join(c.experimentDir, "coordination"), filepath.Join(c.experimentDir, "workspace"))

	context := b.String()
	if agent.SystemPrompt != "" {
		context = agent.SystemPrompt + "\n\n---\n\n" + context
	}
	if c.backend != nil {
		if instructions := c.backend.PromptInstructions(agent.ID); instructions != "" {
			context += "\n## Coordination Backend Instructions\n" + instructions + "\n\n"
		}
	}
	message := context + "## Task\n" + task

	go c.streamAgentEvents(ctx, agent.ID, sessionID)

	return c.sdk.PostMessage(ctx, sessionID, message)
}

func (c *Controller) streamAgentEvents(ctx context.Context, agentID, sessionID string) {
	defer func() {
		c.mu.Lock()
		c.streamsEnded[agentID] = true
		c.mu.Unlock()
	}()

	events, errs := c.sdk.StreamEvents(ctx, sessionID, 300*time.Second)
	for {
		select {
		case <-c.stopCh:
			return
		case err, ok := <-errs:
			if ok && err != nil {
				c.logger.Error("stream_error", map[string]interface{}{"agent_id": agentID, "error": err.Error()})
				c.mu.Lock()
				c.streamErrors[agentID] = err.Error()
				c.mu.Unlock()
			}
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			_ = c.collector.Record(sessionID, event, time.Now())
			c.g.HandleEvent(ctx, sessionID, event)

			if event.Type == "permission.requested" {
				action, _ := event.Data["action"].(string)
				permissionID, _ := event.Data["permission_id"].(string)
				if permissionID != "" && c.isSafeAction(action) {
					_ = c.sdk.ReplyPermission(ctx, sessionID, permissionID, "always")
				}
			}

			if c.checkCompletionSignal(agentID, event) {
				return
			}
		}
	}
}

// isSafeAction auto-approves actions that reference the experiment
// directory and match no configured blocked command.
func (c *Controller) isSafeAction(action string) bool {
	if !strings.Contains(action, c.experimentDir) {
		return false
	}
	for _, cmd := range c.cfg.Limits.BlockedCommands {
		if strings.Contains(action, cmd) {
			return false
		}
	}
	return true
}

func (c *Controller) checkCompletionSignal(agentID string, event sdkclient.Event) bool {
	if event.Type == "session.ended" {
		return true
	}
	if event.Type != "item.completed" {
		return false
	}
	item, ok := event.Data["item"].(map[string]interface{})
	if !ok {
		return false
	}
	content, ok := item["content"].([]interface{})
	if !ok {
		return false
	}
	for _, part := range content {
		p, ok := part.(map[string]interface{})
		if !ok {
			continue
		}
		if p["type"] != "file_ref" {
			continue
		}
		path, _ := p["path"].(string)
		if strings.Contains(path, "signals/done") || strings.Contains(path, fmt.Sprintf("signals/%s.done", agentID)) {
			return true
		}
	}
	return false
}

func (c *Controller) allStreamsEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.cfg.Agents {
		if !c.streamsEnded[a.ID] {
			return false
		}
	}
	return true
}

func (c *Controller) allAgentsDone() bool {
	if c.backend == nil {
		return false
	}
	ids := make([]string, len(c.cfg.Agents))
	for i, a := range c.cfg.Agents {
		ids[i] = a.ID
	}
	return c.backend.IsComplete(ids)
}

func (c *Controller) waitForCompletion(ctx context.Context, timeoutSeconds float64) {
	deadline := time.Now().Add(time.Duration(timeoutSeconds * float64(time.Second)))
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		_, span := c.startPhaseSpan(ctx, "poll")
		done := c.allAgentsDone() || c.allStreamsEnded()
		span.SetAttributes(attribute.Bool("poll.done", done))
		span.End()
		if done {
			return
		}
		if c.checkTurnLimits(ctx) {
			return
		}
	}
}

func (c *Controller) recordCoordinationMessage(msg coordination.Message) {
	if c.collector != nil {
		c.collector.RecordCoordination(msg)
	}
}

// checkTurnLimits returns true if the experiment should end now.
func (c *Controller) checkTurnLimits(ctx context.Context) bool {
	for _, agent := range c.cfg.Agents {
		c.mu.Lock()
		ended := c.streamsEnded[agent.ID]
		limit := c.agentTurnLimit[agent.ID]
		c.mu.Unlock()
		if ended || limit == 0 {
			continue
		}

		turns := c.g.TurnCount(agent.ID)
		if turns < limit {
			continue
		}

		action, value := TurnLimitEndExperiment, 0
		if c.onTurnLimit != nil {
			action, value = c.onTurnLimit(agent.ID, turns, limit)
		}

		switch action {
		case TurnLimitContinue:
			c.mu.Lock()
			c.agentTurnLimit[agent.ID] = 0
			c.mu.Unlock()
		case TurnLimitExtend:
			if value == 0 {
				value = 20
			}
			c.mu.Lock()
			c.agentTurnLimit[agent.ID] = turns + value
			c.mu.Unlock()
		case TurnLimitKillAgent:
			c.mu.Lock()
			sessionID := c.agentSessions[agent.ID]
			c.mu.Unlock()
			if sessionID != "" {
				_ = c.sdk.TerminateSession(ctx, sessionID)
			}
			c.mu.Lock()
			c.streamsEnded[agent.ID] = true
			c.mu.Unlock()
		case TurnLimitEndExperiment:
			c.mu.Lock()
			c.endedByLimit = true
			c.mu.Unlock()
			return true
		}
	}
	return false
}

func (c *Controller) handleEscalation(agentID string, event sdkclient.Event, rule config.OrchestratorRule) {
	c.mu.Lock()
	c.escalations = append(c.escalations, Escalation{
		Timestamp: time.Now(),
		AgentID:   agentID,
		EventType: event.Type,
		Reason:    rule.Reason,
		EventData: event.Data,
	})
	c.mu.Unlock()

	if c.onEscalate != nil {
		c.onEscalate(agentID, event, rule)
	}
	c.Stop()
}

// Stop signals the run to end at the next opportunity.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Controller) determineRunError() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.streamErrors) > 0 {
		agents := make([]string, 0, len(c.streamErrors))
		for a := range c.streamErrors {
			agents = append(agents, a)
		}
		sort.Strings(agents)
		parts := make([]string, len(agents))
		for i, a := range agents {
			parts[i] = fmt.Sprintf("%s: %s", a, c.streamErrors[a])
		}
		return "Event stream failed: " + strings.Join(parts, "; ")
	}

	if len(c.escalations) > 0 {
		reason := c.escalations[0].Reason
		if reason == "" {
			reason = "human input required"
		}
		return "Escalation required human input and execution was paused. First escalation: " + reason
	}

	if c.endedByLimit {
		return "Turn limit reached; experiment ended before completion."
	}

	if !c.allAgentsDone() {
		select {
		case <-c.stopCh:
			return "Experiment stopped before completion signals were observed."
		default:
			return "Experiment ended before completion signals were observed."
		}
	}

	return ""
}

func (c *Controller) buildResult(success bool, errMsg string) *Result {
	stats := make(map[string]AgentStats, len(c.cfg.Agents))
	for _, a := range c.cfg.Agents {
		stats[a.ID] = AgentStats{Turns: c.g.TurnCount(a.ID)}
	}
	return &Result{
		ExperimentID:   c.experimentID,
		ExperimentName: c.cfg.Name,
		Success:        success,
		StartTime:      c.startTime,
		EndTime:        c.endTime,
		TranscriptPath: filepath.Join(c.experimentDir, "transcripts", "full.json"),
		Error:          errMsg,
		AgentStats:     stats,
	}
}

// Teardown stops the coordination backend (including its final scan),
// terminates every session, stops the daemon, and persists the transcript.
func (c *Controller) Teardown(ctx context.Context) error {
	if c.backend != nil {
		_ = c.backend.StopWatching(ctx)
		_ = c.backend.Teardown(ctx)
	}
	if c.g != nil {
		c.g.Stop()
	}
	if c.sdk != nil {
		c.mu.Lock()
		sessions := make([]string, 0, len(c.agentSessions))
		for _, s := range c.agentSessions {
			sessions = append(sessions, s)
		}
		c.mu.Unlock()
		for _, s := range sessions {
			_ = c.sdk.TerminateSession(ctx, s)
		}
		_ = c.sdk.Dispose()
	}

	if c.collector != nil {
		if err := c.collector.Save(filepath.Join(c.experimentDir, "transcripts", "full.json")); err != nil {
			return err
		}
		md := c.collector.Transcript().RenderMarkdown()
		if err := os.WriteFile(filepath.Join(c.experimentDir, "transcripts", "full.md"), []byte(md), 0o644); err != nil {
			return err
		}
	}

	c.setState(StateTerminated)
	return nil
}

// Package guard implements the rule-based runtime guard: it watches each
// agent's event stream, matches events against the experiment's ordered
// orchestrator rules, and applies interventions (approve, reject, escalate,
// nudge, log). Grounded on
// original_source/src/helm/runtime_guard.py, with the Verdict/Trigger
// dispatch style of internal/supervision/supervisor.go adapted to the
// event-rule domain.
package guard

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/k3nnethfrancis/helm/internal/config"
	"github.com/k3nnethfrancis/helm/internal/herr"
	"github.com/k3nnethfrancis/helm/internal/logging"
	"github.com/k3nnethfrancis/helm/internal/sdkclient"
)

// Poster is the subset of sdkclient.Client the guard needs to act on a
// matched rule.
type Poster interface {
	PostMessage(ctx context.Context, sessionID string, message string) error
	ReplyPermission(ctx context.Context, sessionID, permissionID, reply string) error
}

// EscalationHandler is invoked when a rule's action is escalate or
// escalate_to_human. The guard itself takes no further action; the
// controller decides what an escalation means for the experiment.
type EscalationHandler func(agentID string, event sdkclient.Event, rule config.OrchestratorRule)

// AgentState is the guard's tracked view of one agent.
type AgentState struct {
	AgentID      string
	SessionID    string
	Role         config.AgentRole
	LastActivity time.Time
	TurnCount    int
}

// Intervention is one applied rule, recorded for analysis and persistence.
type Intervention struct {
	Timestamp time.Time                 `json:"timestamp"`
	AgentID   string                    `json:"agent_id"`
	RuleOn    string                    `json:"rule_on"`
	Action    config.OrchestratorAction `json:"action"`
	Details   map[string]interface{}    `json:"details,omitempty"`
}

// Guard monitors registered agents and applies rule-based interventions.
type Guard struct {
	cfg        config.OrchestratorConfig
	sdk        Poster
	onEscalate EscalationHandler
	logger     *logging.Logger
	log        *InterventionLog

	mu             sync.Mutex
	agents         map[string]*AgentState
	sessionToAgent map[string]string
	inactivity     map[string]context.CancelFunc
}

// New constructs a Guard. log may be nil, in which case interventions are
// only written to the structured logger: they are neither kept nor
// persisted to disk.
func New(cfg config.OrchestratorConfig, sdk Poster, onEscalate EscalationHandler, log *InterventionLog) *Guard {
	return &Guard{
		cfg:            cfg,
		sdk:            sdk,
		onEscalate:     onEscalate,
		logger:         logging.Default.WithComponent("guard"),
		log:            log,
		agents:         map[string]*AgentState{},
		sessionToAgent: map[string]string{},
		inactivity:     map[string]context.CancelFunc{},
	}
}

// RegisterAgent registers an agent for monitoring and starts its
// inactivity timer, if the rule set has a no_activity rule.
func (g *Guard) RegisterAgent(ctx context.Context, agentID, sessionID string, role config.AgentRole) {
	g.mu.Lock()
	g.agents[agentID] = &AgentState{AgentID: agentID, SessionID: sessionID, Role: role, LastActivity: time.Now()}
	g.sessionToAgent[sessionID] = agentID
	g.mu.Unlock()

	g.resetInactivityTimer(ctx, agentID)
}

// AgentBySession resolves a session id to its tracked agent state.
func (g *Guard) AgentBySession(sessionID string) (*AgentState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	agentID, ok := g.sessionToAgent[sessionID]
	if !ok {
		return nil, false
	}
	a, ok := g.agents[agentID]
	return a, ok
}

// HandleEvent matches an event from sessionID against the rule set in
// order and applies the first match. Returns true if an intervention was
// applied.
func (g *Guard) HandleEvent(ctx context.Context, sessionID string, event sdkclient.Event) bool {
	agent, ok := g.AgentBySession(sessionID)
	if !ok {
		return false
	}

	g.mu.Lock()
	agent.LastActivity = time.Now()
	if event.Type == "item.completed" {
		if item, ok := event.Data["item"].(map[string]interface{}); ok {
			if role, _ := item["role"].(string); role == "assistant" {
				agent.TurnCount++
			}
		}
	}
	g.mu.Unlock()

	g.resetInactivityTimer(ctx, agent.AgentID)

	for _, rule := range g.cfg.Rules {
		if g.matchesRule(rule, event, agent) {
			g.applyRule(ctx, rule, event, agent)
			return true
		}
	}
	return false
}

func (g *Guard) matchesRule(rule config.OrchestratorRule, event sdkclient.Event, agent *AgentState) bool {
	if rule.On != event.Type {
		return false
	}

	if rule.From != "" && rule.From != agent.AgentID {
		roleFilter := strings.ToLower(strings.TrimSpace(rule.From))
		role := strings.ToLower(string(agent.Role))
		switch roleFilter {
		case "coordinator", "hub":
			if role != "hub" {
				return false
			}
		case "worker":
			if role != "worker" {
				return false
			}
		case "peer":
			if role != "" && role != "peer" {
				return false
			}
		default:
			return false
		}
	}

	if rule.If != "" {
		action, _ := event.Data["action"].(string)
		targets := conditionTargets(rule.If)
		if len(targets) == 0 {
			return false
		}
		actionLower := strings.ToLower(action)
		matched := false
		for _, target := range targets {
			if strings.Contains(actionLower, strings.ToLower(target)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

var conditionClausePattern = regexp.MustCompile(`(?i)action contains ["']?([^"']+)["']?`)

// conditionTargets parses one or more "action contains X" clauses joined by
// "or" (the only condition grammar the orchestrator document supports).
func conditionTargets(condition string) []string {
	matches := conditionClausePattern.FindAllStringSubmatch(condition, -1)
	targets := make([]string, 0, len(matches))
	for _, m := range matches {
		targets = append(targets, strings.TrimSpace(m[1]))
	}
	return targets
}

func (g *Guard) applyRule(ctx context.Context, rule config.OrchestratorRule, event sdkclient.Event, agent *AgentState) {
	intervention := Intervention{
		Timestamp: time.Now(),
		AgentID:   agent.AgentID,
		RuleOn:    rule.On,
		Action:    rule.Then,
		Details:   map[string]interface{}{},
	}

	switch rule.Then {
	case config.ActionApprove:
		if event.Type == "permission.requested" {
			if permissionID, ok := event.Data["permission_id"].(string); ok && permissionID != "" {
				_ = g.sdk.ReplyPermission(ctx, agent.SessionID, permissionID, "once")
				intervention.Details["permission_id"] = permissionID
			}
		}

	case config.ActionReject:
		if event.Type == "permission.requested" {
			if permissionID, ok := event.Data["permission_id"].(string); ok && permissionID != "" {
				_ = g.sdk.ReplyPermission(ctx, agent.SessionID, permissionID, "deny")
				intervention.Details["permission_id"] = permissionID
			}
		}

	case config.ActionEscalate, config.ActionEscalateToHuman:
		if g.onEscalate != nil {
			g.onEscalate(agent.AgentID, event, rule)
		}
		intervention.Details["escalated"] = true

	case config.ActionLog:
		intervention.Details["logged_only"] = true

	case config.ActionNudge, config.ActionNudgeCoordinator:
		message := rule.Message
		if message == "" {
			message = "Please continue with your task."
		}
		target := agent
		if rule.Then == config.ActionNudgeCoordinator {
			if coordinator := g.findCoordinator(); coordinator != nil {
				target = coordinator
			}
		}
		_ = g.sdk.PostMessage(ctx, target.SessionID, message)
		intervention.Details["nudge_message"] = message
		intervention.Details["target_agent_id"] = target.AgentID
	}

	g.logger.Intervention(agent.AgentID, string(rule.Then), intervention.Details)
	if g.log != nil {
		_ = g.log.Append(intervention)
	}
}

func (g *Guard) findCoordinator() *AgentState {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, a := range g.agents {
		if a.Role == config.RoleHub {
			return a
		}
	}
	return nil
}

func (g *Guard) resetInactivityTimer(ctx context.Context, agentID string) {
	g.mu.Lock()
	if cancel, ok := g.inactivity[agentID]; ok {
		cancel()
		delete(g.inactivity, agentID)
	}

	var rule config.OrchestratorRule
	var found bool
	for _, r := range g.cfg.Rules {
		if r.On == "no_activity" && r.After != "" {
			rule = r
			found = true
			break
		}
	}
	if !found {
		g.mu.Unlock()
		return
	}

	seconds, err := parseDuration(rule.After)
	if err != nil {
		g.mu.Unlock()
		return
	}

	timerCtx, cancel := context.WithCancel(ctx)
	g.inactivity[agentID] = cancel
	g.mu.Unlock()

	go g.inactivityCheck(timerCtx, agentID, rule, seconds)
}

func (g *Guard) inactivityCheck(ctx context.Context, agentID string, rule config.OrchestratorRule, seconds float64) {
	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	g.mu.Lock()
	agent, ok := g.agents[agentID]
	g.mu.Unlock()
	if !ok {
		return
	}

	if time.Since(agent.LastActivity).Seconds() >= seconds {
		g.applyRule(ctx, rule, sdkclient.Event{Type: "no_activity", Data: map[string]interface{}{}}, agent)
	}
}

func parseDuration(duration string) (float64, error) {
	d := strings.ToLower(strings.TrimSpace(duration))
	var mult float64 = 1
	switch {
	case strings.HasSuffix(d, "h"):
		mult = 3600
		d = strings.TrimSuffix(d, "h")
	case strings.HasSuffix(d, "m"):
		mult = 60
		d = strings.TrimSuffix(d, "m")
	case strings.HasSuffix(d, "s"):
		d = strings.TrimSuffix(d, "s")
	}
	v, err := strconv.ParseFloat(d, 64)
	if err != nil {
		return 0, herr.Wrap(herr.ConfigInvalid, "parse rule duration", err)
	}
	return v * mult, nil
}

// Stop cancels every outstanding inactivity timer.
func (g *Guard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, cancel := range g.inactivity {
		cancel()
		delete(g.inactivity, id)
	}
}

// TurnCount returns the tracked turn count for an agent.
func (g *Guard) TurnCount(agentID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if a, ok := g.agents[agentID]; ok {
		return a.TurnCount
	}
	return 0
}

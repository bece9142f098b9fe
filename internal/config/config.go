// Package config provides experiment configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/k3nnethfrancis/helm/internal/herr"
)

// AgentRole is the coordination role an agent plays.
type AgentRole string

const (
	RoleHub    AgentRole = "hub"
	RoleWorker AgentRole = "worker"
	RolePeer   AgentRole = "peer"
)

// OrchestratorAction is a runtime-guard rule's effect.
type OrchestratorAction string

const (
	ActionApprove          OrchestratorAction = "approve"
	ActionReject           OrchestratorAction = "reject"
	ActionEscalate         OrchestratorAction = "escalate"
	ActionEscalateToHuman  OrchestratorAction = "escalate_to_human"
	ActionLog              OrchestratorAction = "log"
	ActionNudge            OrchestratorAction = "nudge"
	ActionNudgeCoordinator OrchestratorAction = "nudge_coordinator"
)

// AgentConfig describes one agent participating in the experiment.
type AgentConfig struct {
	ID           string    `yaml:"id"`
	Harness      string    `yaml:"harness,omitempty"`
	Role         AgentRole `yaml:"role,omitempty"`
	SystemPrompt string    `yaml:"system_prompt,omitempty"`
}

// OrchestratorRule is one ordered runtime-guard rule.
//
// The document's "on" key is the classic YAML 1.1 bareword-boolean trap:
// "on:" alone parses as the boolean true in some decoders. gopkg.in/yaml.v3
// does not have this problem when keys are explicit strings in a struct tag
// (it matches by node content, not Go bareword rules), but a pattern
// document loaded as map[string]interface{} before being matched into a
// rule-by-rule structure still hits the same trap when rules arrive as
// freeform maps (e.g. from a CLI patch or a looser intermediate parse). See
// fixBooleanOnKeys below.
type OrchestratorRule struct {
	On        string             `yaml:"on"`
	If        string             `yaml:"if,omitempty"`
	From      string             `yaml:"from,omitempty"`
	After     string             `yaml:"after,omitempty"`
	Then      OrchestratorAction `yaml:"then"`
	Message   string             `yaml:"message,omitempty"`
	Reason    string             `yaml:"reason,omitempty"`
}

// OrchestratorConfig holds the runtime guard's rule set.
type OrchestratorConfig struct {
	Role        string             `yaml:"role,omitempty"`
	Description string             `yaml:"description,omitempty"`
	Rules       []OrchestratorRule `yaml:"rules,omitempty"`
}

// CoordinationPaths names the path aliases under the coordination root.
// An alias left empty is skipped when Setup runs: no directory is created
// for it.
type CoordinationPaths struct {
	Base      string `yaml:"base,omitempty"`
	Tasks     string `yaml:"tasks,omitempty"`
	Status    string `yaml:"status,omitempty"`
	Blocked   string `yaml:"blocked,omitempty"`
	Questions string `yaml:"questions,omitempty"`
	Decisions string `yaml:"decisions,omitempty"`
	Messages  string `yaml:"messages,omitempty"`
	State     string `yaml:"state,omitempty"`
	Signals   string `yaml:"signals,omitempty"`
	Reviews   string `yaml:"reviews,omitempty"`
}

// CoordinationConfig selects and configures the coordination backend.
type CoordinationConfig struct {
	Mechanism       string                 `yaml:"mechanism"`
	Paths           CoordinationPaths      `yaml:"paths,omitempty"`
	BackendSettings map[string]interface{} `yaml:"backend_settings,omitempty"`
	TaskFormat      string                 `yaml:"task_format,omitempty"`
	MessageFormat   string                 `yaml:"message_format,omitempty"`
	StateSchema     string                 `yaml:"state_schema,omitempty"`
}

// JudgeBackendType names an evaluation judge implementation.
type JudgeBackendType string

const (
	JudgeOpenRouter JudgeBackendType = "openrouter"
	JudgeSDK        JudgeBackendType = "sdk"
)

// JudgeConfig configures the evaluation judge.
type JudgeConfig struct {
	Backend JudgeBackendType `yaml:"backend,omitempty"`
	Model   string           `yaml:"model,omitempty"`
}

// EvaluationConfig names the dimensions scored after a run.
type EvaluationConfig struct {
	Dimensions []string    `yaml:"dimensions,omitempty"`
	Judge      JudgeConfig `yaml:"judge,omitempty"`
}

// LimitsConfig caps resource usage for a run.
type LimitsConfig struct {
	MaxDuration      string            `yaml:"max_duration,omitempty"`
	MaxTurnsPerAgent int               `yaml:"max_turns_per_agent,omitempty"`
	MaxBudgetUSD     float64           `yaml:"max_budget_usd,omitempty"`
	BlockedCommands  []string          `yaml:"blocked_commands,omitempty"`
	WorkspaceFiles   map[string]string `yaml:"workspace_files,omitempty"`
}

// DurationSeconds parses MaxDuration ("30m", "45s", "2h", or a bare integer
// of seconds) into seconds. Returns 0 if unset.
func (l LimitsConfig) DurationSeconds() (float64, error) {
	if l.MaxDuration == "" {
		return 0, nil
	}
	return parseDuration(l.MaxDuration)
}

func parseDuration(s string) (float64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	mult := 1.0
	numPart := s
	switch {
	case strings.HasSuffix(s, "h"):
		mult = 3600
		numPart = strings.TrimSuffix(s, "h")
	case strings.HasSuffix(s, "m"):
		mult = 60
		numPart = strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "s"):
		mult = 1
		numPart = strings.TrimSuffix(s, "s")
	}
	v, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return v * mult, nil
}

// ExperimentMetadata is free-form provenance for a pattern document.
type ExperimentMetadata struct {
	Created string `yaml:"created,omitempty"`
	Author  string `yaml:"author,omitempty"`
	Version int    `yaml:"version,omitempty"`
}

// TelemetryConfig configures the controller's OpenTelemetry tracer.
// Empty OTLPEndpoint keeps tracing a no-op, matching the teacher's
// setupTelemetry default.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	Protocol     string `yaml:"protocol,omitempty"`
}

// ExperimentConfig is the full parsed experiment pattern document (§6).
type ExperimentConfig struct {
	Name         string              `yaml:"name"`
	Description  string              `yaml:"description,omitempty"`
	Agents       []AgentConfig       `yaml:"agents"`
	Orchestrator OrchestratorConfig  `yaml:"orchestrator,omitempty"`
	Coordination CoordinationConfig  `yaml:"coordination"`
	Evaluation   EvaluationConfig    `yaml:"evaluation,omitempty"`
	Limits       LimitsConfig        `yaml:"limits,omitempty"`
	Telemetry    TelemetryConfig     `yaml:"telemetry,omitempty"`
	Metadata     ExperimentMetadata  `yaml:"metadata,omitempty"`
}

// New returns a config with the same baseline defaults
// original_source/src/helm/config.py attaches via pydantic Field
// defaults: filesystem coordination, a 30m/50-turn/$15 limits envelope
// with rm -rf/sudo blocked by default, an observer orchestrator role, and
// the sdk judge backend. yaml.Unmarshal only overwrites the fields a
// document actually sets, so an omitted limits:/orchestrator.role/
// evaluation.judge.backend block keeps these defaults intact.
func New() *ExperimentConfig {
	return &ExperimentConfig{
		Coordination: CoordinationConfig{Mechanism: "filesystem"},
		Orchestrator: OrchestratorConfig{Role: "observer"},
		Limits: LimitsConfig{
			MaxDuration:      "30m",
			MaxTurnsPerAgent: 50,
			MaxBudgetUSD:     15.00,
			BlockedCommands:  []string{"rm -rf", "sudo"},
		},
		Evaluation: EvaluationConfig{
			Judge: JudgeConfig{Backend: JudgeSDK},
		},
	}
}

// LoadFile loads and validates an experiment pattern document from path.
func LoadFile(path string) (*ExperimentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, herr.Wrap(herr.ConfigInvalid, "read pattern file", err)
	}
	return FromYAML(data)
}

// FromYAML parses and validates a pattern document, applying the
// on-key boolean workaround before struct decoding.
func FromYAML(data []byte) (*ExperimentConfig, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, herr.Wrap(herr.ConfigInvalid, "parse yaml", err)
	}
	fixBooleanOnKeys(raw)

	fixed, err := yaml.Marshal(raw)
	if err != nil {
		return nil, herr.Wrap(herr.ConfigInvalid, "re-marshal fixed yaml", err)
	}

	cfg := New()
	if err := yaml.Unmarshal(fixed, cfg); err != nil {
		return nil, herr.Wrap(herr.ConfigInvalid, "decode pattern document", err)
	}
	if cfg.Metadata.Version == 0 {
		cfg.Metadata.Version = 1
	}
	if cfg.Coordination.Mechanism == "" {
		cfg.Coordination.Mechanism = "filesystem"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fixBooleanOnKeys rewrites orchestrator rules whose "on" key was parsed as
// the YAML 1.1 boolean true (because "on" is a recognized bareword boolean
// in some decoders/documents) back into a string-keyed "on" entry. gopkg.in/
// yaml.v3 parses map keys into Go's `bool` type when YAML 1.1 rules apply
// to an untyped map[string]interface{} target only if the source actually
// wrote a bareword without quotes and the decoder's resolver treats it as
// bool; guard defensively here since downstream consumers (or a document
// produced by a lossier tool) can still hand us that shape.
func fixBooleanOnKeys(raw map[string]interface{}) {
	orchestrator, ok := raw["orchestrator"].(map[string]interface{})
	if !ok {
		return
	}
	rulesRaw, ok := orchestrator["rules"].([]interface{})
	if !ok {
		return
	}
	for i, r := range rulesRaw {
		rule, ok := r.(map[interface{}]interface{})
		if !ok {
			continue
		}
		fixed := make(map[string]interface{}, len(rule))
		for k, val := range rule {
			if k == true {
				fixed["on"] = val
				continue
			}
			fixed[fmt.Sprint(k)] = val
		}
		rulesRaw[i] = fixed
	}
	orchestrator["rules"] = rulesRaw
}

// IsHubAndSpoke reports whether any agent has the hub role.
func (c *ExperimentConfig) IsHubAndSpoke() bool {
	for _, a := range c.Agents {
		if a.Role == RoleHub {
			return true
		}
	}
	return false
}

// HubAgent returns the configured hub agent, if any.
func (c *ExperimentConfig) HubAgent() (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.Role == RoleHub {
			return a, true
		}
	}
	return AgentConfig{}, false
}

// WorkerAgents returns every non-hub agent (workers and peers alike).
func (c *ExperimentConfig) WorkerAgents() []AgentConfig {
	var workers []AgentConfig
	for _, a := range c.Agents {
		if a.Role != RoleHub {
			workers = append(workers, a)
		}
	}
	return workers
}

// Validate checks the structural requirements of a pattern document.
func (c *ExperimentConfig) Validate() error {
	if c.Name == "" {
		return herr.New(herr.ConfigInvalid, "name is required")
	}
	if len(c.Agents) == 0 {
		return herr.New(herr.ConfigInvalid, "at least one agent is required")
	}
	seen := make(map[string]bool, len(c.Agents))
	hubs := 0
	for _, a := range c.Agents {
		if a.ID == "" {
			return herr.New(herr.ConfigInvalid, "agent id is required")
		}
		if seen[a.ID] {
			return herr.New(herr.ConfigInvalid, fmt.Sprintf("duplicate agent id %q", a.ID))
		}
		seen[a.ID] = true
		switch a.Role {
		case "", RoleHub, RoleWorker, RolePeer:
		default:
			return herr.New(herr.ConfigInvalid, fmt.Sprintf("agent %q has unknown role %q", a.ID, a.Role))
		}
		if a.Role == RoleHub {
			hubs++
		}
	}
	if hubs > 1 {
		return herr.New(herr.ConfigInvalid, "at most one agent may have role hub")
	}
	for i, r := range c.Orchestrator.Rules {
		if r.On == "" {
			return herr.New(herr.ConfigInvalid, fmt.Sprintf("rule %d missing 'on'", i))
		}
		if r.Then == "" {
			return herr.New(herr.ConfigInvalid, fmt.Sprintf("rule %d missing 'then'", i))
		}
	}
	if _, err := c.Limits.DurationSeconds(); err != nil {
		return herr.Wrap(herr.ConfigInvalid, "limits.max_duration", err)
	}
	return nil
}

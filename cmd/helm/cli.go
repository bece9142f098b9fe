// Package main defines the CLI structure using kong, following
// cmd/agent/cli.go's struct-per-subcommand layout.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Run an experiment from a pattern file"`
	Status   StatusCmd   `cmd:"" help:"Show an experiment's current state"`
	Stop     StopCmd     `cmd:"" help:"Stop a running experiment"`
	Validate ValidateCmd `cmd:"" help:"Validate a pattern file"`
	List     ListCmd     `cmd:"" help:"List experiments under the experiments directory"`
	Judge    JudgeCmd    `cmd:"" help:"Score a finished experiment's transcript"`
	Analyze  AnalyzeCmd  `cmd:"" help:"Render or interactively browse an experiment's results"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// RunCmd runs an experiment to completion.
type RunCmd struct {
	Pattern        string `arg:"" help:"Pattern file path"`
	Task           string `required:"" help:"Task description handed to every agent"`
	SDKBinary      string `default:"claude" help:"Agent session daemon binary"`
	ExperimentsDir string `default:"experiments" help:"Root directory for experiment output"`
	OnTurnLimit    string `default:"continue" enum:"continue,kill,end" help:"Action when an agent exhausts its turn budget"`
}

// StatusCmd reports an experiment's last known state from its metadata.
type StatusCmd struct {
	ID             string `arg:"" help:"Experiment id"`
	ExperimentsDir string `default:"experiments" help:"Root directory for experiment output"`
}

// StopCmd writes a signals/done file into an experiment's coordination
// directory.
type StopCmd struct {
	ID             string `arg:"" help:"Experiment id"`
	ExperimentsDir string `default:"experiments" help:"Root directory for experiment output"`
}

// ValidateCmd parses and validates a pattern file without running it.
type ValidateCmd struct {
	Pattern string `arg:"" help:"Pattern file path"`
}

// ListCmd lists experiment directories.
type ListCmd struct {
	ExperimentsDir string `default:"experiments" help:"Root directory for experiment output"`
}

// JudgeCmd scores a finished experiment against one or more rubrics.
type JudgeCmd struct {
	ID             string   `arg:"" help:"Experiment id"`
	Dimensions     []string `required:"" help:"Rubric dimensions to score, e.g. coherence, helpfulness"`
	Backend        string   `default:"sdk" enum:"sdk,openrouter" help:"Judge backend"`
	Model          string   `help:"Override the backend's default model"`
	Provider       string   `help:"Provider hint for the sdk backend (anthropic, openai, google)"`
	JudgesDir      string   `default:"judges" help:"Directory containing rubric markdown files"`
	ExperimentsDir string   `default:"experiments" help:"Root directory for experiment output"`
}

// AnalyzeCmd renders an experiment's results.
type AnalyzeCmd struct {
	ID             string `arg:"" help:"Experiment id"`
	ExperimentsDir string `default:"experiments" help:"Root directory for experiment output"`
	NoPager        bool   `help:"Print the report instead of opening the interactive pager"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}

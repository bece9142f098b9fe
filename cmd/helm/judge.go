package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/k3nnethfrancis/helm/internal/judge"
)

// JudgeCmd scores a finished experiment's transcript against one or more
// rubric dimensions and writes scores.json alongside the transcript.
func (j *JudgeCmd) Run() error {
	backend, backendName, err := j.buildBackend()
	if err != nil {
		return err
	}

	experimentDir := filepath.Join(j.ExperimentsDir, j.ID)
	scores, err := judge.JudgeExperiment(context.Background(), experimentDir, j.Dimensions, j.JudgesDir, backend, backendName, j.Model)
	if err != nil {
		return fmt.Errorf("judge experiment: %w", err)
	}

	if err := scores.Save(experimentDir); err != nil {
		return fmt.Errorf("save scores: %w", err)
	}

	for _, s := range scores.Scores {
		fmt.Printf("%-20s %.1f  %s\n", s.Dimension, s.Score, s.Justification)
	}
	return nil
}

func (j *JudgeCmd) buildBackend() (judge.Backend, string, error) {
	switch j.Backend {
	case "openrouter":
		return judge.NewOpenRouterJudge(j.Model, ""), "openrouter", nil
	default:
		b, err := judge.NewSDKJudge(j.Provider, j.Model)
		if err != nil {
			return nil, "", fmt.Errorf("build sdk judge: %w", err)
		}
		return b, "sdk", nil
	}
}

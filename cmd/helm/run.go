package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/k3nnethfrancis/helm/internal/config"
	"github.com/k3nnethfrancis/helm/internal/controller"
	"github.com/k3nnethfrancis/helm/internal/logging"
	"github.com/k3nnethfrancis/helm/internal/sdkclient"
	"github.com/muesli/reflow/wordwrap"
)

// Run loads the pattern file, runs the experiment to completion, and tears
// it down, propagating ctrl-c as context cancellation so Teardown still
// runs.
func (r *RunCmd) Run() error {
	cfg, err := config.LoadFile(r.Pattern)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	decide := turnLimitDecider(r.OnTurnLimit)

	c := controller.New(controller.Options{
		Config:         cfg,
		SDKBinaryPath:  r.SDKBinary,
		ExperimentsDir: r.ExperimentsDir,
		OnEscalate:     logEscalation,
		OnTurnLimit:    decide,
	})

	if err := c.Setup(ctx); err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	defer func() {
		if err := c.Teardown(context.Background()); err != nil {
			logging.Error("teardown failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	result, err := c.Run(ctx, r.Task)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	fmt.Printf("experiment %s: success=%v\n", result.ExperimentID, result.Success)
	if result.Error != "" {
		fmt.Println(wordwrap.String(result.Error, 100))
	}
	if !result.Success {
		return fmt.Errorf("experiment did not complete successfully: %s", result.Error)
	}
	return nil
}

func turnLimitDecider(action string) controller.TurnLimitDecider {
	return func(agentID string, turns, limit int) (controller.TurnLimitAction, int) {
		switch action {
		case "kill":
			return controller.TurnLimitKillAgent, 0
		case "end":
			return controller.TurnLimitEndExperiment, 0
		default:
			return controller.TurnLimitContinue, 0
		}
	}
}

func logEscalation(agentID string, event sdkclient.Event, rule config.OrchestratorRule) {
	logging.Default.WithComponent("cli").Warn("escalation raised", map[string]interface{}{
		"agent_id":  agentID,
		"event":     event.Type,
		"rule_then": rule.Then,
	})
}

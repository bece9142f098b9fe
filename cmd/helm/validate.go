package main

import (
	"fmt"

	"github.com/k3nnethfrancis/helm/internal/config"
)

// ValidateCmd parses and validates a pattern file without running it.
func (v *ValidateCmd) Run() error {
	cfg, err := config.LoadFile(v.Pattern)
	if err != nil {
		return err
	}
	fmt.Printf("%s: valid, %d agent(s)\n", cfg.Name, len(cfg.Agents))
	return nil
}

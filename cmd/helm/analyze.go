package main

import (
	"fmt"
	"path/filepath"

	"github.com/k3nnethfrancis/helm/internal/analyze"
)

// AnalyzeCmd renders an experiment's results, either to stdout or through
// the interactive pager.
func (a *AnalyzeCmd) Run() error {
	experimentDir := filepath.Join(a.ExperimentsDir, a.ID)

	if a.NoPager {
		report, err := analyze.Analyze(experimentDir)
		if err != nil {
			return err
		}
		fmt.Print(report)
		return nil
	}
	return analyze.AnalyzeInteractive(experimentDir)
}

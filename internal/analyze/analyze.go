package analyze

// Analyze loads an experiment's statistics and renders them as a report
// string, for non-interactive callers such as `helm analyze --no-pager`.
func Analyze(experimentDir string) (string, error) {
	stats, err := LoadStats(experimentDir)
	if err != nil {
		return "", err
	}
	return Render(stats), nil
}

// AnalyzeInteractive loads an experiment's statistics and displays them
// through the terminal pager.
func AnalyzeInteractive(experimentDir string) error {
	stats, err := LoadStats(experimentDir)
	if err != nil {
		return err
	}
	return RunInteractive(stats)
}

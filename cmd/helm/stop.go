package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// StopCmd writes a signals/done file into a running experiment's
// coordination directory, if that directory exists. There is no
// cross-process control channel, so this only has effect against an
// experiment whose controller is actually polling for that file.
func (s *StopCmd) Run() error {
	coordDir := filepath.Join(s.ExperimentsDir, s.ID, "coordination")
	if _, err := os.Stat(coordDir); err != nil {
		return fmt.Errorf("experiment %s has no coordination directory: %w", s.ID, err)
	}

	signalsDir := filepath.Join(coordDir, "signals")
	if err := os.MkdirAll(signalsDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(signalsDir, "done"), []byte{}, 0o644); err != nil {
		return fmt.Errorf("write stop signal: %w", err)
	}
	fmt.Printf("wrote stop signal for %s\n", s.ID)
	return nil
}

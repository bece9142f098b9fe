package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// StatusCmd prints an experiment's last saved metadata.json.
func (s *StatusCmd) Run() error {
	path := filepath.Join(s.ExperimentsDir, s.ID, "metadata.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}

	var metadata map[string]interface{}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return fmt.Errorf("parse metadata: %w", err)
	}

	pretty, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}

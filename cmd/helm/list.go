package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ListCmd prints one line per experiment directory under ExperimentsDir,
// reading each experiment's metadata.json for a short summary.
func (l *ListCmd) Run() error {
	entries, err := os.ReadDir(l.ExperimentsDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("no experiments directory found")
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		data, err := os.ReadFile(filepath.Join(l.ExperimentsDir, id, "metadata.json"))
		if err != nil {
			fmt.Printf("%s\t(no metadata)\n", id)
			continue
		}
		var metadata map[string]interface{}
		if err := json.Unmarshal(data, &metadata); err != nil {
			fmt.Printf("%s\t(unreadable metadata)\n", id)
			continue
		}
		name, _ := metadata["experiment_name"].(string)
		success := "unknown"
		if run, ok := metadata["run"].(map[string]interface{}); ok {
			if s, ok := run["success"].(bool); ok {
				if s {
					success = "success"
				} else {
					success = "failed"
				}
			}
		}
		fmt.Printf("%s\t%s\t%s\n", id, name, success)
	}
	return nil
}

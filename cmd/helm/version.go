package main

import "fmt"

// VersionCmd prints the CLI build version.
func (v *VersionCmd) Run() error {
	fmt.Printf("helm version %s (commit: %s)\n", version, commit)
	return nil
}

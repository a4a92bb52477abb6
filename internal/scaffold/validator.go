package scaffold

import (
	"fmt"
	"os"
)

// CheckExisting returns an error if place.yml already exists in the current directory
func CheckExisting() error {
	if _, err := os.Stat(ConfigFile); err == nil {
		return fmt.Errorf("already initialized\n\nFound existing: %s\n\nUse 'place init --force' to overwrite it", ConfigFile)
	}
	return nil
}

package scaffold

import (
	"embed"
	"fmt"
	"os"

	"github.com/dyluth/place/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// ConfigFile is the file Initialize writes and 'place serve' reads by default.
const ConfigFile = "place.yml"

// Initialize writes a commented place.yml into the current directory.
// If force is true an existing place.yml is replaced.
func Initialize(force bool) error {
	if force {
		if err := handleForce(); err != nil {
			return err
		}
	}

	content, err := templatesFS.ReadFile("templates/place.yml.tmpl")
	if err != nil {
		return fmt.Errorf("failed to read place.yml template: %w", err)
	}

	if err := os.WriteFile(ConfigFile, content, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", ConfigFile, err)
	}

	// The template must always load cleanly.
	if _, err := config.Load(ConfigFile); err != nil {
		return fmt.Errorf("created %s is not valid: %w", ConfigFile, err)
	}

	return nil
}

// handleForce removes an existing place.yml if --force was specified
func handleForce() error {
	if _, err := os.Stat(ConfigFile); err == nil {
		fmt.Printf("⚠️  Removing existing %s...\n", ConfigFile)
		if err := os.Remove(ConfigFile); err != nil {
			return fmt.Errorf("failed to remove %s: %w", ConfigFile, err)
		}
	}
	return nil
}

// PrintSuccess prints the success message and next steps
func PrintSuccess() {
	fmt.Println("\n✅ Created place.yml")
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Adjust port and dim in place.yml")
	fmt.Println("  2. Uncomment redis_url to enable 'place watch' and 'place history'")
	fmt.Println("  3. Run 'place serve' to start the server")
}

package config_test

import (
	"fmt"

	"github.com/wonny/regtech-dq/pkg/config"
)

// Example demonstrates how to use the config package
func Example() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		return
	}

	// Access configuration values
	fmt.Printf("Environment: %s\n", cfg.Env)
	fmt.Printf("Rule source: %s\n", cfg.Rules.Source)
	fmt.Printf("Engine workers: %d\n", cfg.Engine.Workers)
	fmt.Printf("Event transport: %s\n", cfg.Events.Transport)
}

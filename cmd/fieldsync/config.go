package main

import (
	"fmt"

	"fieldsync/internal/app"
	"fieldsync/internal/config"
	"fieldsync/internal/fieldsync"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		deviceID := fieldsync.UUIDGenerator{}.New()
		cfg := config.NewConfig(deviceID, defaults["base_dir"])
		if baseURL, _ := cmd.Flags().GetString("base-url"); baseURL != "" {
			cfg.Gateway.BaseURL = baseURL
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Device ID: %s\n", deviceID)
		fmt.Printf("Base Dir:  %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Device ID:  %s\n", cfg.DeviceID)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Database:   %s\n", cfg.Database.Type)
		fmt.Printf("Gateway:    %s\n", gatewaySummary(cfg.Gateway))
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		fmt.Printf("Retries:    %d (backoff %s..%s)\n", cfg.Sync.RetryCeiling, cfg.Sync.BaseBackoff, cfg.Sync.MaxBackoff)
		return nil
	},
}

func gatewaySummary(g config.GatewayConfig) string {
	switch g.Type {
	case "s3":
		return fmt.Sprintf("s3 (bucket %s)", g.S3Bucket)
	case "memory":
		return "memory"
	default:
		return fmt.Sprintf("http (%s)", g.BaseURL)
	}
}

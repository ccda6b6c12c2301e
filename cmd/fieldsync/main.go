package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fieldsync/internal/app"
	"fieldsync/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a FieldsyncApp. The caller must defer app.Close().
// command identifies the CLI command being run (e.g. "put", "drain").
func newApp(ctx context.Context, cmd *cobra.Command, command string) (*app.FieldsyncApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewFieldsyncApp(ctx, cfg, command, app.Options{
		Passphrase: readPassphrase,
		Stderr:     os.Stderr,
		Verbose:    verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline-first sync for field devices",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		return app.LoadEnv(envFile)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output")
	rootCmd.PersistentFlags().String("env-file", ".env", "Load environment variables from this file when present")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("base-url", "", "Base URL of the remote API")
	rootCmd.AddCommand(configCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)
	rootCmd.AddCommand(keysCmd)

	// entity commands
	rootCmd.AddCommand(putCmd)
	putCmd.Flags().Bool("create", false, "Create a new entity")
	putCmd.Flags().Bool("delete", false, "Delete the entity")
	putCmd.Flags().String("token", "", "Actor token sent as bearer authorization")
	putCmd.MarkFlagsMutuallyExclusive("create", "delete")

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().String("state", "", "Comma separated sync states to include")
	listCmd.Flags().StringArray("field", nil, "Payload predicate key=value (repeatable)")
	listCmd.Flags().Bool("deleted", false, "Include pending deletes")

	// sync commands
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().Bool("accept-remote", false, "Adopt the server copy")
	resolveCmd.Flags().Bool("retry-local", false, "Queue the local copy again")
	resolveCmd.Flags().String("token", "", "Actor token sent as bearer authorization")
	resolveCmd.MarkFlagsMutuallyExclusive("accept-remote", "retry-local")
	resolveCmd.MarkFlagsOneRequired("accept-remote", "retry-local")

	rootCmd.AddCommand(drainCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of drain runs to show")
	rootCmd.AddCommand(snapshotCmd)

	rootCmd.AddCommand(mockServerCmd)
	mockServerCmd.Flags().String("listen", ":8080", "Address to listen on")
	mockServerCmd.Flags().Bool("assign-ids", false, "Replace client ids with server ids on create")
}

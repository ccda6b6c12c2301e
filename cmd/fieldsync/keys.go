package main

import (
	"errors"
	"fmt"
	"os"

	"fieldsync/internal/app"
	"fieldsync/internal/config"
	"fieldsync/internal/encryption"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage local cache encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair protecting the local cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		keyring, err := encryption.NewKeyringFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if keyring == nil {
			return fmt.Errorf("encryption is disabled: set encryption.type in %s", defaults["config_path"])
		}
		if keyring.IsConfigured() {
			return fmt.Errorf("keys already exist at %s", cfg.Encryption.PrivateKeyPath)
		}

		pass, err := readPassphrase()
		if err != nil {
			return err
		}
		if os.Getenv(passphraseEnv) == "" {
			confirm, err := prompt("Confirm passphrase: ")
			if err != nil {
				return err
			}
			if confirm != pass {
				return errors.New("passphrases do not match")
			}
		}

		if err := keyring.Setup(pass); err != nil {
			return fmt.Errorf("creating keys: %w", err)
		}
		fmt.Printf("Keys written to %s\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

const passphraseEnv = "FIELDSYNC_PASSPHRASE"

// readPassphrase returns FIELDSYNC_PASSPHRASE when set and prompts on the terminal otherwise.
func readPassphrase() (string, error) {
	if pass := os.Getenv(passphraseEnv); pass != "" {
		return pass, nil
	}
	return prompt("Passphrase: ")
}

func prompt(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal to read the passphrase from: set %s", passphraseEnv)
	}
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("FIELDSYNC_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("FIELDSYNC_HOME", "/custom/fieldsync")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.toml")
		}
		if defaults["base_dir"] != "/custom/fieldsync" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/fieldsync")
		}
		if defaults["log_dir"] != "/custom/fieldsync/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/fieldsync/log")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("FIELDSYNC_CONFIG_PATH", "")
		t.Setenv("FIELDSYNC_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "fieldsync.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "fieldsync")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}
	})
}

func TestLoadEnv(t *testing.T) {
	t.Run("missing file is ignored", func(t *testing.T) {
		if err := LoadEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
			t.Errorf("LoadEnv() error = %v", err)
		}
	})

	t.Run("sets unset variables only", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		content := "FIELDSYNC_HOME=/from/env-file\nFIELDSYNC_CONFIG_PATH=/ignored.toml\n"
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		t.Setenv("FIELDSYNC_CONFIG_PATH", "/already/set.toml")
		t.Setenv("FIELDSYNC_HOME", "")
		os.Unsetenv("FIELDSYNC_HOME")

		if err := LoadEnv(path); err != nil {
			t.Fatalf("LoadEnv() error = %v", err)
		}
		if got := os.Getenv("FIELDSYNC_HOME"); got != "/from/env-file" {
			t.Errorf("FIELDSYNC_HOME = %q, want /from/env-file", got)
		}
		if got := os.Getenv("FIELDSYNC_CONFIG_PATH"); got != "/already/set.toml" {
			t.Errorf("FIELDSYNC_CONFIG_PATH = %q, want /already/set.toml", got)
		}
	})
}

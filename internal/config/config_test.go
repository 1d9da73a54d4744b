package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.ListenAddr != "0.0.0.0:8080" {
		t.Errorf("ListenAddr = %s, want default 0.0.0.0:8080", cfg.Server.ListenAddr)
	}
	if !cfg.Processor.Demo {
		t.Error("Processor.Demo = false, want true by default with no API key")
	}

	configPath := filepath.Join(tmpDir, ConfigFileName)
	if _, err := os.Stat(configPath); err != nil {
		t.Errorf("config file was not created: %v", err)
	}
}

func TestLoadReadsExistingFile(t *testing.T) {
	tmpDir := t.TempDir()

	first, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	first.Server.ListenAddr = "127.0.0.1:9090"
	if err := first.Save(filepath.Join(tmpDir, ConfigFileName)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	second, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if second.Server.ListenAddr != "127.0.0.1:9090" {
		t.Errorf("ListenAddr = %s, want persisted 127.0.0.1:9090", second.Server.ListenAddr)
	}
}

func TestLoadSecretsFromEnvironment(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("AGRIMATCH_PROCESSOR_API_KEY", "sk_test_12345")
	t.Setenv("AGRIMATCH_TOKEN_SECRET", "shhh")

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Processor.APIKey != "sk_test_12345" {
		t.Errorf("Processor.APIKey = %q, want sk_test_12345", cfg.Processor.APIKey)
	}
	if cfg.Processor.Demo {
		t.Error("Processor.Demo = true, want false once a real API key is present")
	}
	if cfg.Auth.TokenSecret != "shhh" {
		t.Errorf("Auth.TokenSecret = %q, want shhh", cfg.Auth.TokenSecret)
	}
}

func TestDBPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DataDir = "/data/agrimatch"
	cfg.Storage.DBFile = "agrimatch.db"

	want := filepath.Join("/data/agrimatch", "agrimatch.db")
	if got := cfg.DBPath(); got != want {
		t.Errorf("DBPath() = %s, want %s", got, want)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("could not resolve home directory: %v", err)
	}

	t.Run("expands tilde prefix", func(t *testing.T) {
		got := expandPath("~/.agrimatch")
		want := filepath.Join(home, ".agrimatch")
		if got != want {
			t.Errorf("expandPath(~/.agrimatch) = %s, want %s", got, want)
		}
	})

	t.Run("leaves absolute path untouched", func(t *testing.T) {
		got := expandPath("/var/lib/agrimatch")
		if got != "/var/lib/agrimatch" {
			t.Errorf("expandPath(/var/lib/agrimatch) = %s, want unchanged", got)
		}
	})
}

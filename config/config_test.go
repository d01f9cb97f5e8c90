package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mycophonic/pinna/config"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := config.Default()

	if cfg.Output.SampleRate != 44100 {
		t.Errorf("SampleRate = %v, want 44100", cfg.Output.SampleRate)
	}

	if cfg.Output.Channels != 2 {
		t.Errorf("Channels = %d, want 2", cfg.Output.Channels)
	}

	if cfg.Transmux.MaxIndexRangeBytes <= cfg.Transmux.IndexRangeBytes {
		t.Errorf("MaxIndexRangeBytes (%d) must exceed IndexRangeBytes (%d)",
			cfg.Transmux.MaxIndexRangeBytes, cfg.Transmux.IndexRangeBytes)
	}
}

func TestLoadMergesOntoDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "pinna.toml")

	doc := "[output]\nchannels = 1\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Output.Channels != 1 {
		t.Errorf("Channels = %d, want 1 (from file)", cfg.Output.Channels)
	}

	if cfg.Output.SampleRate != 44100 {
		t.Errorf("SampleRate = %v, want 44100 (default preserved)", cfg.Output.SampleRate)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Load: expected error for missing file")
	}
}

func TestNewHTTPClient(t *testing.T) {
	t.Parallel()

	policy := config.Default().HTTP

	client := policy.NewHTTPClient()
	if client == nil {
		t.Fatal("NewHTTPClient returned nil")
	}

	if client.RetryMax != policy.RetryMax {
		t.Errorf("RetryMax = %d, want %d", client.RetryMax, policy.RetryMax)
	}
}

// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWithCLIProfile(t *testing.T) {
	tmpDir := t.TempDir()

	baseConfig := `
log:
  level: info
`
	basePath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(basePath, []byte(baseConfig), 0644); err != nil {
		t.Fatalf("failed to write base config: %v", err)
	}

	devConfig := `
log:
  level: debug
`
	devPath := filepath.Join(tmpDir, "config.dev.yaml")
	if err := os.WriteFile(devPath, []byte(devConfig), 0644); err != nil {
		t.Fatalf("failed to write dev config: %v", err)
	}

	tests := []struct {
		name      string
		args      []string
		wantLevel string
	}{
		{"profile flag", []string{"--config", basePath, "--profile", "dev"}, "debug"},
		{"env flag alias", []string{"--config", basePath, "--env", "dev"}, "debug"},
		{"profile with equals", []string{"--config=" + basePath, "--profile=dev"}, "debug"},
		{"env with equals", []string{"--config=" + basePath, "--env=dev"}, "debug"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadWithCLI(tc.args)
			if err != nil {
				t.Fatalf("LoadWithCLI failed: %v", err)
			}
			if cfg.Log.Level != tc.wantLevel {
				t.Errorf("log level: got %s, want %s", cfg.Log.Level, tc.wantLevel)
			}
		})
	}
}

func TestLoadWithCLISetOverrides(t *testing.T) {
	args := []string{
		"--set", "telemetry.exporter=otlp",
		"--set", "telemetry.otlp_endpoint=localhost:4317",
		"--set", "log.format=json",
	}

	cfg, err := LoadWithCLI(args)
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}

	if cfg.Telemetry.Exporter != "otlp" {
		t.Errorf("expected exporter otlp, got %s", cfg.Telemetry.Exporter)
	}
	if cfg.Telemetry.OTLPEndpoint != "localhost:4317" {
		t.Errorf("expected endpoint localhost:4317, got %s", cfg.Telemetry.OTLPEndpoint)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected json format, got %s", cfg.Log.Format)
	}
}

func TestLoadWithCLIInvalidSet(t *testing.T) {
	if _, err := LoadWithCLI([]string{"--set", "no-equals-here"}); err == nil {
		t.Fatal("expected error for malformed --set")
	}
}

func TestLoadWithCLIMissingValue(t *testing.T) {
	if _, err := LoadWithCLI([]string{"--config"}); err == nil {
		t.Fatal("expected error for dangling --config flag")
	}
}

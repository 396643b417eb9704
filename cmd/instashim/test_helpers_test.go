package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"instashim/internal/config"
	"instashim/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	origin     *testsupport.Origin
	configPath string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	origin := testsupport.NewOrigin(t)
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithOrigin(origin.URL)}, opts...)...)
	base := testsupport.BaseDir(cfg)
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	configPath := filepath.Join(base, "instashim.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, origin: origin, configPath: configPath}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// writeTestConfig persists cfg. Port 0 is only meaningful for in-process
// servers, so the file gets a fixed port.
func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	written := *cfg
	if written.Server.Port == 0 {
		written.Server.Port = 5000
	}
	data, err := toml.Marshal(written)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

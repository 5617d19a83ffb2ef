package cmd

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	t.Cleanup(func() { logLevel, logFormat = "info", "text" })

	logLevel, logFormat = "debug", "json"
	var buf bytes.Buffer
	logger, err := newLogger(&buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("probe failed", "target", "api")
	if !strings.Contains(buf.String(), `"target":"api"`) {
		t.Fatalf("expected JSON debug line, got %q", buf.String())
	}

	logLevel = "loud"
	if _, err := newLogger(io.Discard); err == nil {
		t.Fatal("expected error for unknown level")
	}
	logLevel, logFormat = "info", "xml"
	if _, err := newLogger(io.Discard); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestAddAndList(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := "data_directory: " + dir + "\narchive_file: \"\"\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "--config", cfgPath, "add", "api", "10.0.0.5")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out, "added api (10.0.0.5)") {
		t.Fatalf("unexpected add output %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "servers.json")); err != nil {
		t.Fatalf("registry not written: %v", err)
	}

	if _, err := run(t, "--config", cfgPath, "add", "API", "10.0.0.6"); err == nil {
		t.Fatal("expected duplicate name to fail")
	}

	out, err = run(t, "--config", cfgPath, "--output", "text", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "api") || !strings.Contains(out, "UNKNOWN") {
		t.Fatalf("unexpected list output %q", out)
	}
}

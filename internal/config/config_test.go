package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.Interval() != 5*time.Second {
		t.Errorf("interval = %s, want 5s", cfg.Interval())
	}
	if cfg.Timeout() != 2*time.Second {
		t.Errorf("timeout = %s, want 2s", cfg.Timeout())
	}
	if cfg.Probe.Mode != ProbeModeTCP {
		t.Errorf("probe mode = %q", cfg.Probe.Mode)
	}
}

func TestLoadOverridesAndNormalises(t *testing.T) {
	p := writeConfig(t, `
interval_seconds: 10
timeout_seconds: 0
data_directory: /var/lib/serverwatch
archive_file: ""
probe:
  mode: PING
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.Interval() != 10*time.Second {
		t.Errorf("interval = %s", cfg.Interval())
	}
	if cfg.TimeoutSeconds != 2 {
		t.Errorf("timeout should fall back to default, got %d", cfg.TimeoutSeconds)
	}
	if cfg.Probe.Mode != ProbeModePing {
		t.Errorf("probe mode = %q", cfg.Probe.Mode)
	}
	if got, want := cfg.RegistryPath(), filepath.Join("/var/lib/serverwatch", "servers.json"); got != want {
		t.Errorf("registry path = %q, want %q", got, want)
	}
	if cfg.ArchivePath() != "" {
		t.Errorf("archive should be disabled, got %q", cfg.ArchivePath())
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown probe mode", body: "probe:\n  mode: carrier-pigeon\n"},
		{name: "port out of range", body: "probe:\n  ports: [70000]\n"},
		{name: "malformed yaml", body: "interval_seconds: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return cfgPath
}

func TestLoad(t *testing.T) {
	content := `
server:
  listen_addr: ":9080"
  hostname: "drip.test.com"
  api_key_hash: "$2a$10$abcdefghijklmnopqrstuv"

database:
  path: "/tmp/drip-test.db"

lockstore:
  path: "/tmp/drip-locks.db"
  ttl: 90s
  stale_threshold: 5m

pacing:
  min_delay_ms: 1500
  max_delay_ms: 20000
  daily_quota: 500
  work_start: 9
  work_end: 17
  peak_start: 11
  peak_end: 13

verifier:
  base_url: "https://verify.test.com"
  api_key: "test-key"
  timeout: 5s
  max_retries: 3

reputation:
  max_bounce_rate: 0.04
  max_complaint_rate: 0.002

sender:
  host: "relay.test.com"
  port: 2525
  username: "drip"
  password: "secret"

logging:
  level: "debug"
  format: "json"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddr != ":9080" {
		t.Errorf("ListenAddr = %v, want :9080", cfg.Server.ListenAddr)
	}
	if cfg.Server.Hostname != "drip.test.com" {
		t.Errorf("Hostname = %v, want drip.test.com", cfg.Server.Hostname)
	}
	if cfg.LockStore.TTL != 90*time.Second {
		t.Errorf("LockStore.TTL = %v, want 90s", cfg.LockStore.TTL)
	}
	if cfg.Pacing.MinDelayMs != 1500 || cfg.Pacing.MaxDelayMs != 20000 {
		t.Errorf("pacing delays = %d/%d, want 1500/20000",
			cfg.Pacing.MinDelayMs, cfg.Pacing.MaxDelayMs)
	}
	if cfg.Pacing.DailyQuota != 500 {
		t.Errorf("DailyQuota = %d, want 500", cfg.Pacing.DailyQuota)
	}
	if cfg.Verifier.MaxRetries != 3 {
		t.Errorf("Verifier.MaxRetries = %d, want 3", cfg.Verifier.MaxRetries)
	}
	if cfg.Reputation.MaxBounceRate != 0.04 {
		t.Errorf("MaxBounceRate = %g, want 0.04", cfg.Reputation.MaxBounceRate)
	}
	if cfg.Sender.Port != 2525 {
		t.Errorf("Sender.Port = %d, want 2525", cfg.Sender.Port)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %v, want json", cfg.Logging.Format)
	}
}

func TestLoadDefaults(t *testing.T) {
	content := `
sender:
  dry_run: true
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %v, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.LockStore.TTL != 2*time.Minute {
		t.Errorf("LockStore.TTL = %v, want 2m", cfg.LockStore.TTL)
	}
	if cfg.Pacing.MinDelayMs != 2000 || cfg.Pacing.MaxDelayMs != 30000 {
		t.Errorf("pacing delays = %d/%d, want 2000/30000",
			cfg.Pacing.MinDelayMs, cfg.Pacing.MaxDelayMs)
	}
	if cfg.Pacing.WorkStart != 8 || cfg.Pacing.WorkEnd != 18 {
		t.Errorf("working hours = %d-%d, want 8-18", cfg.Pacing.WorkStart, cfg.Pacing.WorkEnd)
	}
	if cfg.Pacing.PeakStart != 10 || cfg.Pacing.PeakEnd != 14 {
		t.Errorf("peak hours = %d-%d, want 10-14", cfg.Pacing.PeakStart, cfg.Pacing.PeakEnd)
	}
	if cfg.Reputation.MaxBounceRate != 0.05 {
		t.Errorf("MaxBounceRate = %g, want 0.05", cfg.Reputation.MaxBounceRate)
	}
	if cfg.Reputation.MaxComplaintRate != 0.001 {
		t.Errorf("MaxComplaintRate = %g, want 0.001", cfg.Reputation.MaxComplaintRate)
	}
	if cfg.Verifier.BreakerThreshold != 5 {
		t.Errorf("BreakerThreshold = %d, want 5", cfg.Verifier.BreakerThreshold)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %s/%s, want info/text", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "max delay below min",
			content: `
sender:
  dry_run: true
pacing:
  min_delay_ms: 5000
  max_delay_ms: 1000
`,
		},
		{
			name: "peak outside working hours",
			content: `
sender:
  dry_run: true
pacing:
  work_start: 9
  work_end: 17
  peak_start: 7
  peak_end: 12
`,
		},
		{
			name: "bounce rate out of range",
			content: `
sender:
  dry_run: true
reputation:
  max_bounce_rate: 1.5
`,
		},
		{
			name:    "relay host missing",
			content: `server: {listen_addr: ":8080"}`,
		},
		{
			name: "dkim missing key file",
			content: `
sender:
  dry_run: true
  dkim:
    enabled: true
    domain: "test.com"
    selector: "mail"
`,
		},
		{
			name: "bad log format",
			content: `
sender:
  dry_run: true
logging:
  format: "xml"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("Load() expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

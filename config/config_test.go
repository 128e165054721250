package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Bypass.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Bypass.MaxRetries)
	}
	if cfg.Bypass.SolverURL != "http://localhost:8191" {
		t.Errorf("SolverURL = %q", cfg.Bypass.SolverURL)
	}
	if cfg.Browser.AllowDownload {
		t.Error("AllowDownload should default to false")
	}
	if cfg.Harvest.PollInterval != 2*time.Second || cfg.Harvest.MaxWait != 5*time.Minute {
		t.Errorf("harvest timings = %s/%s", cfg.Harvest.PollInterval, cfg.Harvest.MaxWait)
	}
	if !cfg.Harvest.RequireURLChange {
		t.Error("RequireURLChange should default to true")
	}
	if len(cfg.Bypass.BrowserBlock) != 3 || !cfg.Bypass.BrowserBlockTrackers {
		t.Errorf("browser blocking = %v/%t", cfg.Bypass.BrowserBlock, cfg.Bypass.BrowserBlockTrackers)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CLEARANCE_MAX_RETRIES", "5")
	t.Setenv("CLEARANCE_RETRY_DELAY", "250ms")
	t.Setenv("CLEARANCE_PROFILES", "chrome_120, firefox_120,")
	t.Setenv("CLEARANCE_HARVEST_REQUIRE_URL_CHANGE", "false")
	t.Setenv("CLEARANCE_MAX_RETRIES_BOGUS", "x")

	cfg := Load()
	if cfg.Bypass.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.Bypass.MaxRetries)
	}
	if cfg.Bypass.RetryDelay != 250*time.Millisecond {
		t.Errorf("RetryDelay = %s", cfg.Bypass.RetryDelay)
	}
	if len(cfg.Bypass.Profiles) != 2 || cfg.Bypass.Profiles[1] != "firefox_120" {
		t.Errorf("Profiles = %v", cfg.Bypass.Profiles)
	}
	if cfg.Harvest.RequireURLChange {
		t.Error("RequireURLChange override ignored")
	}
}

func TestLoad_SolverCanBeDisabled(t *testing.T) {
	t.Setenv("CLEARANCE_SOLVER_URL", "")
	if got := Load().Bypass.SolverURL; got != "" {
		t.Errorf("SolverURL = %q, want empty", got)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("CLEARANCE_PORT", "eighty")
	t.Setenv("CLEARANCE_TIMEOUT", "soon")
	cfg := Load()
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Bypass.Timeout != 30*time.Second {
		t.Errorf("Timeout = %s, want 30s", cfg.Bypass.Timeout)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{"llm": {"api_key": "k"}}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Workflow.RefineThreshold != 0.8 {
		t.Fatalf("expected refine threshold 0.8, got %.2f", cfg.Workflow.RefineThreshold)
	}
	if cfg.Workflow.Supervisor != "linear" {
		t.Fatalf("expected linear supervisor, got %q", cfg.Workflow.Supervisor)
	}
	if cfg.Workflow.EventTimeout != 2*time.Second {
		t.Fatalf("expected 2s event timeout, got %s", cfg.Workflow.EventTimeout)
	}
	if got := cfg.Workers.RateLimitPerMinute["synthesis"]; got != 10 {
		t.Fatalf("expected synthesis rpm 10, got %d", got)
	}
	if !cfg.LLM.Enabled() {
		t.Fatalf("expected llm enabled with api key")
	}
	if cfg.Events.Stream != "research.job.progress" {
		t.Fatalf("unexpected stream %q", cfg.Events.Stream)
	}
}

func TestLoadWorkerOverridesMerge(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{"workers": {"rate_limit_per_minute": {"Citation": 5}}}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Workers.RateLimitPerMinute["citation"]; got != 5 {
		t.Fatalf("expected citation override 5, got %d", got)
	}
	if got := cfg.Workers.RateLimitPerMinute["web_search"]; got != 10 {
		t.Fatalf("expected web_search default 10, got %d", got)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RESEARCHD_WORKFLOW_SUPERVISOR", "llm")
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Workflow.Supervisor != "llm" {
		t.Fatalf("expected env override to llm, got %q", cfg.Workflow.Supervisor)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"threshold":  `{"workflow": {"refine_threshold": 1.5}}`,
		"supervisor": `{"workflow": {"supervisor": "planner"}}`,
		"rpm":        `{"workers": {"rate_limit_per_minute": {"synthesis": -1}}}`,
		"provider":   `{"sources": {"web_search": {"provider": "bing"}}}`,
		"brave key":  `{"sources": {"web_search": {"provider": "brave"}}}`,
		"steps":      `{"workflow": {"max_steps": 3}}`,
		"log format": `{"general": {"log_format": "xml"}}`,
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", User: "u", Password: "p", DBName: "research"}
	dsn, err := p.DSN()
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	if dsn != "postgres://u:p@db:5432/research?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", dsn)
	}
	if _, err := (PostgresConfig{}).DSN(); err == nil {
		t.Fatalf("expected error for empty postgres config")
	}
}

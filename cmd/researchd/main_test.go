package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/researchd/internal/workflow"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`{"general": {"log_level": "error"}, "server": {"jwt_secret": "s3cret"}, "storage": {"file": {"report_dir": %q}}}`, filepath.Join(dir, "reports"))
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCMD()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunApprovesByDefault(t *testing.T) {
	out, err := execute(t, "-c", writeConfig(t), "run", "--thread", "cli-1", "Who", "leads", "X?")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Approve redaction? -> approve") {
		t.Fatalf("expected approval line, got:\n%s", out)
	}
	if !strings.Contains(out, "thread cli-1: FINISHED") || !strings.Contains(out, "md: ") {
		t.Fatalf("expected finished thread with report paths, got:\n%s", out)
	}
}

func TestRunDeny(t *testing.T) {
	out, err := execute(t, "-c", writeConfig(t), "run", "--deny", "Who leads X?")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, workflow.BlockedAnswer) {
		t.Fatalf("expected blocked answer, got:\n%s", out)
	}
	if strings.Contains(out, "md: ") {
		t.Fatalf("denied run must not export, got:\n%s", out)
	}
}

func TestRunRejectsConflictingFlags(t *testing.T) {
	if _, err := execute(t, "-c", writeConfig(t), "run", "--deny", "--approve", "q"); err == nil {
		t.Fatalf("expected mutually exclusive flag error")
	}
}

func TestTokenUsesConfiguredSecret(t *testing.T) {
	out, err := execute(t, "-c", writeConfig(t), "token", "--sub", "alice")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if parts := strings.Split(strings.TrimSpace(out), "."); len(parts) != 3 {
		t.Fatalf("expected a JWT, got %q", out)
	}
}

func TestMigrateRequiresPostgres(t *testing.T) {
	if _, err := execute(t, "-c", writeConfig(t), "migrate"); err == nil {
		t.Fatalf("expected error without postgres config")
	}
}

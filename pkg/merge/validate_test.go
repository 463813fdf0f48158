package merge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeValidateConfig(t *testing.T, root, yaml string) {
	t.Helper()
	dir := filepath.Join(root, ".manifold")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "validate.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestLoadValidateConfigMissingFileIsNotAnError(t *testing.T) {
	cfg, err := LoadValidateConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadValidateConfig: %v", err)
	}
	if len(cfg.Checks) != 0 {
		t.Fatalf("expected no checks, got %v", cfg.Checks)
	}
}

func TestLoadValidateConfigParsesChecks(t *testing.T) {
	root := t.TempDir()
	writeValidateConfig(t, root, `
checks:
  - name: true check
    command: ["true"]
  - name: slow check
    command: ["true"]
    timeout: 5s
`)

	cfg, err := LoadValidateConfig(root)
	if err != nil {
		t.Fatalf("LoadValidateConfig: %v", err)
	}
	if len(cfg.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(cfg.Checks))
	}
	if cfg.Checks[1].Timeout != "5s" {
		t.Fatalf("expected timeout 5s, got %q", cfg.Checks[1].Timeout)
	}
}

func TestValidateNoChecksPasses(t *testing.T) {
	result, err := Validate(context.Background(), ValidateConfig{}, t.TempDir())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !result.Passed {
		t.Fatal("expected Passed with no checks configured")
	}
}

func TestValidateAllPassingChecksPasses(t *testing.T) {
	root := t.TempDir()
	cfg := ValidateConfig{Checks: []ValidateCheck{
		{Name: "one", Command: []string{"true"}},
		{Name: "two", Command: []string{"true"}},
	}}

	result, err := Validate(context.Background(), cfg, root)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !result.Passed {
		t.Fatalf("expected Passed, outcomes: %+v", result.Outcomes)
	}
	if len(result.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(result.Outcomes))
	}
}

func TestValidateShortCircuitsOnFirstFailure(t *testing.T) {
	root := t.TempDir()
	cfg := ValidateConfig{Checks: []ValidateCheck{
		{Name: "fails", Command: []string{"false"}},
		{Name: "never runs", Command: []string{"true"}},
	}}

	result, err := Validate(context.Background(), cfg, root)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Passed {
		t.Fatal("expected Passed=false")
	}
	if len(result.Outcomes) != 1 {
		t.Fatalf("expected to short-circuit after 1 outcome, got %d", len(result.Outcomes))
	}
	if result.Outcomes[0].Passed {
		t.Fatal("expected the recorded outcome to be the failing check")
	}
}

func TestValidateBadTimeoutIsAnError(t *testing.T) {
	cfg := ValidateConfig{Checks: []ValidateCheck{
		{Name: "bad", Command: []string{"true"}, Timeout: "not-a-duration"},
	}}
	if _, err := Validate(context.Background(), cfg, t.TempDir()); err == nil {
		t.Fatal("expected an error for an unparseable timeout")
	}
}

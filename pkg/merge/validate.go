package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/manifold/pkg/health"
	"gopkg.in/yaml.v3"
)

// ValidateConfigFile is the relative path, inside the worktree the
// VALIDATE phase is given, of the declarative validation config — the
// VALIDATE phase's sole external collaborator (spec.md §4.5.2).
const ValidateConfigFile = ".manifold/validate.yaml"

// ValidateConfig is the YAML shape of .manifold/validate.yaml, loaded
// the same declarative way cmd/warren/apply.go loads a resource file.
type ValidateConfig struct {
	Checks []ValidateCheck `yaml:"checks"`
}

// ValidateCheck describes one gate the candidate must pass, either an
// exec-based Command or, when URL is set instead, an HTTP probe against
// a service the candidate's worktree is expected to expose (e.g. a dev
// server started by an earlier check's Command).
type ValidateCheck struct {
	Name    string   `yaml:"name"`
	Command []string `yaml:"command,omitempty"`
	URL     string   `yaml:"url,omitempty"`
	Timeout string   `yaml:"timeout,omitempty"`
}

// LoadValidateConfig reads and parses .manifold/validate.yaml from
// worktreeRoot. A missing file is not an error: it means no validation
// gates are configured, and VALIDATE trivially passes.
func LoadValidateConfig(worktreeRoot string) (ValidateConfig, error) {
	path := filepath.Join(worktreeRoot, ValidateConfigFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ValidateConfig{}, nil
	}
	if err != nil {
		return ValidateConfig{}, fmt.Errorf("merge: validate: read %s: %w", path, err)
	}

	var cfg ValidateConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ValidateConfig{}, fmt.Errorf("merge: validate: parse %s: %w", path, err)
	}
	return cfg, nil
}

// CheckOutcome records one ValidateCheck's result.
type CheckOutcome struct {
	Name    string
	Passed  bool
	Message string
}

// ValidateResult is the outcome of running every configured check.
type ValidateResult struct {
	Passed   bool
	Outcomes []CheckOutcome
}

// Validate runs every check in cfg with worktreeRoot as the working
// directory, in declaration order, short-circuiting on the first
// failure (spec.md §4.5.2: VALIDATE gates COMMIT — any failing check
// aborts the merge before any ref is touched). The pipeline passes
// RunOpts.WorktreeRoot, the default workspace's worktree as it stands
// before the merge; the candidate tree is not checked out for
// validation.
func Validate(ctx context.Context, cfg ValidateConfig, worktreeRoot string) (ValidateResult, error) {
	result := ValidateResult{Passed: true}

	for _, check := range cfg.Checks {
		timeout := 10 * time.Second
		if check.Timeout != "" {
			d, err := time.ParseDuration(check.Timeout)
			if err != nil {
				return ValidateResult{}, fmt.Errorf("merge: validate: check %q: bad timeout %q: %w", check.Name, check.Timeout, err)
			}
			timeout = d
		}

		var checker health.Checker
		if check.URL != "" {
			checker = health.NewHTTPChecker(check.URL).WithTimeout(timeout)
		} else {
			checker = health.NewExecChecker(check.Command, timeout).WithDir(worktreeRoot)
		}
		checkResult := checker.Check(ctx)

		outcome := CheckOutcome{Name: check.Name, Passed: checkResult.Healthy, Message: checkResult.Message}
		result.Outcomes = append(result.Outcomes, outcome)

		if !checkResult.Healthy {
			result.Passed = false
			break
		}
	}

	return result, nil
}

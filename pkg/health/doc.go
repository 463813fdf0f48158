/*
Package health provides the check runners the merge pipeline's VALIDATE phase
uses to decide whether a built workspace passes its project's acceptance
gate.

This package implements two checker types: HTTP (poll an endpoint) and Exec
(run an external command, optionally in a given working directory, and
inspect its exit code). Both satisfy the same Checker interface so the
VALIDATE phase can run a YAML-configured list of them uniformly and abort
the merge (phase "aborted") on the first unhealthy result.

# Usage

	checker := health.NewExecChecker([]string{"go", "test", "./..."}, 2*time.Minute)
	result := checker.Check(ctx)
	if !result.Healthy {
		return fmt.Errorf("validate: %s", result.Message)
	}

Status and Config track repeated checks (Retries, StartPeriod) for callers
that re-run a flaky check a bounded number of times before failing the
merge outright, mirroring how a container runtime debounces healthcheck
flaps before declaring a container unhealthy.
*/
package health

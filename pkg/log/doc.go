/*
Package log provides structured logging for manifold using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity for production debugging.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	wsLog := log.WithWorkspaceID(workspaceID)
	wsLog.Info().Str("phase", "prepare").Msg("merge pipeline starting")

WithComponent, WithWorkspaceID, WithEpochID, and WithMergePhase each return a
zerolog.Logger carrying one extra field, so call sites can layer as many as
are relevant (e.g. a merge-pipeline log line usually carries both a workspace
ID and a phase).

# Output

Init configures either JSON output (for log aggregation) or a
zerolog.ConsoleWriter (for interactive CLI use) depending on Config.JSONOutput,
mirroring the --log-json flag wired into cmd/manifold.
*/
package log

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/manifold/pkg/events"
	"github.com/cuemby/manifold/pkg/log"
	"github.com/cuemby/manifold/pkg/objstore"
	"github.com/cuemby/manifold/pkg/refstore"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "manifold",
	Short: "manifold - a content-addressed, multi-workspace repository manager",
	Long: `manifold coordinates concurrent edits from many independent workers,
each in its own isolated worktree, and periodically promotes their work
into a single linear sequence of shared snapshots ("epochs") via a
crash-safe merge pipeline.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"manifold version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("root", ".", "Manifold root directory (holds .manifold/ state and workspaces/)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(applyCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// rootDir resolves the --root flag for any subcommand.
func rootDir(cmd *cobra.Command) string {
	root, _ := cmd.Flags().GetString("root")
	if root == "" {
		root = "."
	}
	return root
}

// workspaceDir is where a single workspace's worktree lives on disk.
func workspaceDir(root string, ws string) string {
	return filepath.Join(root, "workspaces", ws)
}

// openStores opens the object store and ref store rooted under root's
// .manifold directory, mirroring the teacher's pattern of opening a
// single bbolt-backed manager state on every command invocation
// (cmd/warren/main.go's embedded-containerd + manager.NewManager setup),
// simplified here to two independent stores with no embedded runtime.
func openStores(root string) (*objstore.BoltStore, *refstore.BoltStore, error) {
	objs, err := objstore.Open(filepath.Join(root, ".manifold", "store"))
	if err != nil {
		return nil, nil, fmt.Errorf("open object store: %w", err)
	}
	refs, err := refstore.OpenBolt(filepath.Join(root, ".manifold", "refs.db"))
	if err != nil {
		objs.Close()
		return nil, nil, fmt.Errorf("open ref store: %w", err)
	}
	return objs, refs, nil
}

// newEventBroker starts a Broker with a logging sink subscribed, the
// same way the teacher wires its manager's event broker at startup so
// every lifecycle transition lands in the log stream. Callers must
// Stop() the returned broker once the command finishes.
func newEventBroker() *events.Broker {
	broker := events.NewBroker()
	broker.Start()

	sub := broker.Subscribe()
	logger := log.WithComponent("events")
	go func() {
		for ev := range sub {
			logger.Info().
				Str("event_type", string(ev.Type)).
				Str("message", ev.Message).
				Time("event_time", ev.Timestamp).
				Msg("event published")
		}
	}()

	return broker
}

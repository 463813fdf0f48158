package main

import (
	"fmt"
	"strings"

	"github.com/cuemby/manifold/pkg/merge"
	"github.com/cuemby/manifold/pkg/types"
	"github.com/spf13/cobra"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Drive the PREPARE->BUILD->VALIDATE->COMMIT->CLEANUP merge pipeline",
}

func init() {
	mergeCmd.AddCommand(mergeRunCmd)
	mergeCmd.AddCommand(mergeResumeCmd)
	mergeCmd.AddCommand(mergeStatusCmd)

	mergeRunCmd.Flags().StringSlice("sources", nil, "Workspace names to merge (repeatable or comma-separated)")
	mergeRunCmd.Flags().String("branch", "main", "Branch ref the default workspace tracks")
	mergeRunCmd.Flags().String("default-ws", "", "Workspace checked out on --branch, preserved rather than destroyed")
	_ = mergeRunCmd.MarkFlagRequired("sources")
	_ = mergeRunCmd.MarkFlagRequired("default-ws")
}

var mergeRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a fresh merge attempt, folding --sources into the current epoch",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := rootDir(cmd)
		sourceNames, _ := cmd.Flags().GetStringSlice("sources")
		branch, _ := cmd.Flags().GetString("branch")
		defaultWS, _ := cmd.Flags().GetString("default-ws")

		objs, refs, err := openStores(root)
		if err != nil {
			return err
		}
		defer objs.Close()
		defer refs.Close()

		if _, inFlight, err := merge.ReadMergeState(root); err != nil {
			return fmt.Errorf("check merge state: %w", err)
		} else if inFlight {
			return fmt.Errorf("a merge is already in flight under %s; run 'manifold merge resume' first", root)
		}

		sources := make([]types.WorkspaceId, 0, len(sourceNames))
		worktrees := map[types.WorkspaceId]string{}
		for _, name := range sourceNames {
			ws, err := types.NewWorkspaceId(strings.TrimSpace(name))
			if err != nil {
				return err
			}
			sources = append(sources, ws)
			worktrees[ws] = workspaceDir(root, string(ws))
		}
		defaultWorkspace, err := types.NewWorkspaceId(defaultWS)
		if err != nil {
			return err
		}

		broker := newEventBroker()
		defer broker.Stop()

		p := &merge.Pipeline{
			Root:    root,
			Objs:    objs,
			Refs:    refs,
			Broker:  broker,
			Differ:  merge.TrivialDiffer{},
			Version: Version,
		}
		opts := merge.RunOpts{
			Sources:        sources,
			Branch:         branch,
			DefaultWS:      defaultWorkspace,
			WorktreeRoot:   workspaceDir(root, defaultWS),
			SourceWorktree: worktrees,
		}
		if err := p.Run(cmd.Context(), opts); err != nil {
			return fmt.Errorf("merge run: %w", err)
		}

		epoch, ok, err := refs.Read(types.RefEpochCurrent)
		if err != nil {
			return fmt.Errorf("read new epoch: %w", err)
		}
		fmt.Printf("✓ Merge complete: %s\n", strings.Join(sourceNamesOf(sources), ", "))
		if ok {
			fmt.Printf("  New epoch: %s\n", epoch)
		}
		return nil
	},
}

var mergeResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a merge attempt interrupted by a crash, from its persisted phase",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := rootDir(cmd)
		branch, _ := cmd.Flags().GetString("branch")
		defaultWS, _ := cmd.Flags().GetString("default-ws")

		objs, refs, err := openStores(root)
		if err != nil {
			return err
		}
		defer objs.Close()
		defer refs.Close()

		state, ok, err := merge.ReadMergeState(root)
		if err != nil {
			return fmt.Errorf("read merge state: %w", err)
		}
		if !ok {
			return fmt.Errorf("no merge in flight under %s", root)
		}

		worktrees := map[types.WorkspaceId]string{}
		for _, ws := range state.Sources {
			worktrees[ws] = workspaceDir(root, string(ws))
		}

		broker := newEventBroker()
		defer broker.Stop()

		p := &merge.Pipeline{
			Root:    root,
			Objs:    objs,
			Refs:    refs,
			Broker:  broker,
			Differ:  merge.TrivialDiffer{},
			Version: Version,
		}
		opts := merge.RunOpts{
			Sources:        state.Sources,
			Branch:         branch,
			DefaultWS:      types.WorkspaceId(defaultWS),
			WorktreeRoot:   workspaceDir(root, defaultWS),
			SourceWorktree: worktrees,
		}
		if err := p.Recover(cmd.Context(), opts); err != nil {
			return fmt.Errorf("merge resume: %w", err)
		}

		fmt.Printf("✓ Merge resumed and completed from phase %q\n", state.Phase)
		return nil
	},
}

var mergeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the phase of any in-flight merge or commit",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := rootDir(cmd)

		mergeState, mergeOK, err := merge.ReadMergeState(root)
		if err != nil {
			return fmt.Errorf("read merge state: %w", err)
		}
		commitState, commitOK, err := merge.ReadCommitState(root)
		if err != nil {
			return fmt.Errorf("read commit state: %w", err)
		}

		if !mergeOK && !commitOK {
			fmt.Println("No merge in flight")
			return nil
		}
		if mergeOK {
			fmt.Printf("merge phase:  %s\n", mergeState.Phase)
			fmt.Printf("  sources:        %s\n", strings.Join(sourceNamesOf(mergeState.Sources), ", "))
			fmt.Printf("  epoch before:   %s\n", mergeState.EpochBefore)
			fmt.Printf("  epoch candidate: %s\n", mergeState.EpochCandidate)
			fmt.Printf("  updated at:     %s\n", mergeState.UpdatedAt)
		}
		if commitOK {
			fmt.Printf("commit phase: %s\n", commitState.Phase)
			fmt.Printf("  epoch ref updated:  %v\n", commitState.EpochRefUpdated)
			fmt.Printf("  branch ref updated: %v\n", commitState.BranchRefUpdated)
		}
		return nil
	},
}

func sourceNamesOf(ids []types.WorkspaceId) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

package main

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/manifold/pkg/atomicfile"
	"github.com/cuemby/manifold/pkg/capture"
	"github.com/cuemby/manifold/pkg/objstore"
	"github.com/cuemby/manifold/pkg/oplog"
	"github.com/cuemby/manifold/pkg/types"
	"github.com/spf13/cobra"
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage workspaces",
}

func init() {
	workspaceCmd.AddCommand(workspaceCreateCmd)
	workspaceCmd.AddCommand(workspaceSnapshotCmd)
	workspaceCmd.AddCommand(workspaceDestroyCmd)
	workspaceCmd.AddCommand(workspaceListCmd)
	workspaceCmd.AddCommand(workspaceRecoverCmd)
	workspaceCmd.AddCommand(workspaceDescribeCmd)
	workspaceCmd.AddCommand(workspaceAnnotateCmd)
	workspaceCmd.AddCommand(workspaceLogCmd)

	workspaceDestroyCmd.Flags().Bool("force", false, "Destroy even if the workspace has dirty uncommitted files")
	workspaceRecoverCmd.Flags().String("timestamp", "", "Recover a specific recovery snapshot instead of the latest")
	workspaceRecoverCmd.Flags().String("dest", "", "Destination directory (defaults to the workspace's worktree)")
}

var workspaceCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new workspace anchored to the current epoch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := rootDir(cmd)
		ws, err := types.NewWorkspaceId(args[0])
		if err != nil {
			return err
		}

		objs, refs, err := openStores(root)
		if err != nil {
			return err
		}
		defer objs.Close()
		defer refs.Close()

		epochOid, ok, err := refs.Read(types.RefEpochCurrent)
		if err != nil {
			return fmt.Errorf("read epoch/current: %w", err)
		}
		epoch := types.EpochId("")
		if ok {
			epoch = types.EpochId(epochOid)
		}

		op := types.Operation{WorkspaceId: ws, Timestamp: nowRFC3339(), Payload: types.CreatePayload(epoch)}
		if _, err := oplog.Append(objs, refs, ws, op, types.ZeroObjectId); err != nil {
			return fmt.Errorf("create workspace: %w", err)
		}

		dir := workspaceDir(root, string(ws))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create worktree dir: %w", err)
		}
		if epoch != "" {
			if err := checkoutEpoch(objs, epoch, dir); err != nil {
				return fmt.Errorf("check out base epoch: %w", err)
			}
		}

		fmt.Printf("✓ Workspace created: %s\n", ws)
		fmt.Printf("  Base epoch: %s\n", epoch)
		fmt.Printf("  Worktree:   %s\n", dir)
		return nil
	},
}

var workspaceSnapshotCmd = &cobra.Command{
	Use:   "snapshot NAME",
	Short: "Record the workspace's current worktree as a new patch set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := rootDir(cmd)
		ws, err := types.NewWorkspaceId(args[0])
		if err != nil {
			return err
		}

		objs, refs, err := openStores(root)
		if err != nil {
			return err
		}
		defer objs.Close()
		defer refs.Close()

		head, ok, err := oplog.ReadHead(refs, ws)
		if err != nil {
			return fmt.Errorf("read head: %w", err)
		}
		if !ok {
			return fmt.Errorf("no such workspace: %s", ws)
		}

		tree, err := scanWorktree(objs, workspaceDir(root, string(ws)))
		if err != nil {
			return fmt.Errorf("scan worktree: %w", err)
		}
		treeOid, err := objs.WriteTree(tree)
		if err != nil {
			return fmt.Errorf("write tree: %w", err)
		}
		commitOid, err := objs.CreateCommit(treeOid, nil, fmt.Sprintf("snapshot of %s", ws))
		if err != nil {
			return fmt.Errorf("create patch set commit: %w", err)
		}

		op := types.Operation{ParentIds: []types.ObjectId{head}, WorkspaceId: ws, Timestamp: nowRFC3339(), Payload: types.SnapshotPayload(commitOid)}
		if _, err := oplog.Append(objs, refs, ws, op, head); err != nil {
			return fmt.Errorf("append snapshot: %w", err)
		}

		fmt.Printf("✓ Snapshot recorded for %s\n", ws)
		fmt.Printf("  Patch set: %s\n", commitOid)
		return nil
	},
}

var workspaceDestroyCmd = &cobra.Command{
	Use:   "destroy NAME",
	Short: "Destroy a workspace, capturing dirty state first",
	Long: `Destroy a workspace. If the workspace has uncommitted dirty files
relative to its base epoch, destroy refuses unless --force is given;
either way a successful destroy captures the workspace's state under a
permanent recovery ref before removing its worktree (spec.md §4.4).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := rootDir(cmd)
		force, _ := cmd.Flags().GetBool("force")
		ws, err := types.NewWorkspaceId(args[0])
		if err != nil {
			return err
		}

		objs, refs, err := openStores(root)
		if err != nil {
			return err
		}
		defer objs.Close()
		defer refs.Close()

		head, ok, err := oplog.ReadHead(refs, ws)
		if err != nil {
			return fmt.Errorf("read head: %w", err)
		}
		if !ok {
			return fmt.Errorf("no such workspace: %s", ws)
		}
		walk, err := oplog.Walk(objs, head, 0, nil)
		if err != nil {
			return fmt.Errorf("walk op log: %w", err)
		}
		view, err := oplog.Materialize(ws, walk)
		if err != nil {
			return fmt.Errorf("materialize: %w", err)
		}

		dir := workspaceDir(root, string(ws))
		dirtyPaths, _, err := capture.DirtyPaths(objs, dir, view.BaseEpoch.ObjectId())
		if err != nil {
			return fmt.Errorf("scan dirty paths: %w", err)
		}
		if len(dirtyPaths) > 0 && !force {
			return fmt.Errorf("workspace %s has %d dirty file(s); refusing to destroy without --force", ws, len(dirtyPaths))
		}

		captureHead := view.BaseEpoch.ObjectId()
		if n := len(view.PatchSetOids); n > 0 {
			captureHead = view.PatchSetOids[n-1]
		}
		captured, err := capture.CaptureBeforeDestroy(objs, refs, ws, dir, captureHead, view.BaseEpoch)
		if err != nil {
			return fmt.Errorf("capture before destroy: %w", err)
		}

		destroyOp := types.Operation{ParentIds: []types.ObjectId{head}, WorkspaceId: ws, Timestamp: nowRFC3339(), Payload: types.DestroyPayload()}
		if _, err := oplog.Append(objs, refs, ws, destroyOp, head); err != nil {
			return fmt.Errorf("append destroy operation: %w", err)
		}

		record := types.DestroyRecord{
			WorkspaceId:   ws,
			DestroyedAt:   nowRFC3339(),
			FinalHead:     head,
			CaptureMode:   types.CaptureModeNone,
			DirtyFiles:    []string{},
			BaseEpoch:     view.BaseEpoch,
			DestroyReason: types.DestroyReasonDestroy,
			ToolVersion:   Version,
		}
		if captured != nil {
			record.CaptureMode = captured.Mode
			record.SnapshotOid = captured.CommitOid
			record.SnapshotRef = captured.PinnedRef
			record.DirtyFiles = captured.DirtyPaths
		}
		if err := writeDestroyRecord(root, ws, record); err != nil {
			return err
		}

		if err := refs.Delete(types.RefWorkspaceState(ws)); err != nil {
			return fmt.Errorf("delete workspace state ref: %w", err)
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove worktree: %w", err)
		}

		fmt.Printf("✓ Workspace destroyed: %s\n", ws)
		fmt.Printf("  Capture mode: %s\n", record.CaptureMode)
		if record.SnapshotRef != "" {
			fmt.Printf("  Recovery ref: %s\n", record.SnapshotRef)
		}
		return nil
	},
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := rootDir(cmd)
		objs, refs, err := openStores(root)
		if err != nil {
			return err
		}
		defer objs.Close()
		defer refs.Close()

		names, err := refs.List(types.RefHeadPrefix)
		if err != nil {
			return fmt.Errorf("list workspaces: %w", err)
		}
		if len(names) == 0 {
			fmt.Println("No workspaces found")
			return nil
		}
		fmt.Printf("%-20s %s\n", "NAME", "HEAD")
		for _, name := range names {
			ws := strings.TrimPrefix(string(name), types.RefHeadPrefix)
			oid, _, _ := refs.Read(name)
			fmt.Printf("%-20s %s\n", ws, oid)
		}
		return nil
	},
}

var workspaceLogCmd = &cobra.Command{
	Use:   "log NAME",
	Short: "Print a workspace's operation log, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := rootDir(cmd)
		ws, err := types.NewWorkspaceId(args[0])
		if err != nil {
			return err
		}

		objs, refs, err := openStores(root)
		if err != nil {
			return err
		}
		defer objs.Close()
		defer refs.Close()

		head, ok, err := oplog.ReadHead(refs, ws)
		if err != nil {
			return fmt.Errorf("read head: %w", err)
		}
		if !ok {
			fmt.Println("No operations found")
			return nil
		}
		walk, err := oplog.Walk(objs, head, 0, nil)
		if err != nil {
			return fmt.Errorf("walk op log: %w", err)
		}
		for _, e := range walk {
			fmt.Printf("%s  %-10s %s\n", e.Oid, e.Op.Payload.Kind, e.Op.Timestamp)
		}
		return nil
	},
}

var workspaceDescribeCmd = &cobra.Command{
	Use:   "describe NAME MESSAGE",
	Short: "Attach a human-readable description to a workspace's head",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return appendWorkspaceOp(cmd, args[0], func(head types.ObjectId) types.OpPayload {
			return types.DescribePayload(args[1])
		})
	},
}

var workspaceAnnotateCmd = &cobra.Command{
	Use:   "annotate NAME KEY JSON",
	Short: "Attach an arbitrary key/JSON annotation to a workspace's head",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(args[2]), &data); err != nil {
			return fmt.Errorf("parse JSON annotation data: %w", err)
		}
		return appendWorkspaceOp(cmd, args[0], func(head types.ObjectId) types.OpPayload {
			return types.AnnotatePayload(args[1], data)
		})
	},
}

var workspaceRecoverCmd = &cobra.Command{
	Use:   "recover NAME",
	Short: "Materialize a destroyed workspace's captured state back onto disk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := rootDir(cmd)
		ts, _ := cmd.Flags().GetString("timestamp")
		dest, _ := cmd.Flags().GetString("dest")
		ws, err := types.NewWorkspaceId(args[0])
		if err != nil {
			return err
		}

		objs, refs, err := openStores(root)
		if err != nil {
			return err
		}
		defer objs.Close()
		defer refs.Close()

		var refName types.RefName
		if ts != "" {
			refName = types.RefRecovery(ws, strings.ReplaceAll(ts, ":", "-"))
		} else {
			var ok bool
			refName, ok, err = capture.LatestRecoveryRef(refs, ws)
			if err != nil {
				return fmt.Errorf("find latest recovery ref: %w", err)
			}
			if !ok {
				return fmt.Errorf("no recovery ref found for workspace %s", ws)
			}
		}
		if dest == "" {
			dest = workspaceDir(root, string(ws))
		}

		oid, err := capture.Recover(objs, refs, refName, dest)
		if err != nil {
			return fmt.Errorf("recover: %w", err)
		}

		fmt.Printf("✓ Workspace recovered: %s\n", ws)
		fmt.Printf("  From ref: %s (commit %s)\n", refName, oid)
		fmt.Printf("  To:       %s\n", dest)
		return nil
	},
}

func appendWorkspaceOp(cmd *cobra.Command, name string, payload func(head types.ObjectId) types.OpPayload) error {
	root := rootDir(cmd)
	ws, err := types.NewWorkspaceId(name)
	if err != nil {
		return err
	}

	objs, refs, err := openStores(root)
	if err != nil {
		return err
	}
	defer objs.Close()
	defer refs.Close()

	head, ok, err := oplog.ReadHead(refs, ws)
	if err != nil {
		return fmt.Errorf("read head: %w", err)
	}
	if !ok {
		return fmt.Errorf("no such workspace: %s", ws)
	}

	op := types.Operation{ParentIds: []types.ObjectId{head}, WorkspaceId: ws, Timestamp: nowRFC3339(), Payload: payload(head)}
	newHead, err := oplog.Append(objs, refs, ws, op, head)
	if err != nil {
		return fmt.Errorf("append operation: %w", err)
	}

	fmt.Printf("✓ Recorded %s for %s (new head %s)\n", op.Payload.Kind, ws, newHead)
	return nil
}

// scanWorktree is a standalone CLI-side copy of capture's unexported
// helper of the same name (pkg/capture/capture.go) — the CLI needs it
// to build a workspace's patch-set commit ahead of a merge.
func scanWorktree(objs objstore.Store, root string) (objstore.Tree, error) {
	tree := objstore.Tree{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == ".manifold" || strings.HasPrefix(rel, ".manifold/") {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		oid, err := objs.WriteBlob(data)
		if err != nil {
			return fmt.Errorf("write blob for %s: %w", p, err)
		}
		tree[rel] = oid
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan worktree: %w", err)
	}
	return tree, nil
}

// checkoutEpoch materializes epoch's commit tree onto a fresh worktree
// directory, the mirror image of merge.PreserveCheckout's write loop
// without the stale-path removal (there is nothing to remove yet).
func checkoutEpoch(objs objstore.Store, epoch types.EpochId, dest string) error {
	commit, err := objs.ReadCommit(epoch.ObjectId())
	if err != nil {
		return fmt.Errorf("read epoch commit: %w", err)
	}
	tree, err := objs.ReadTree(commit.Tree)
	if err != nil {
		return fmt.Errorf("read epoch tree: %w", err)
	}
	for path, oid := range tree {
		data, err := objs.ReadBlob(oid)
		if err != nil {
			return fmt.Errorf("read blob for %s: %w", path, err)
		}
		full := filepath.Join(dest, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("mkdir for %s: %w", path, err)
		}
		if err := os.WriteFile(full, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

// writeDestroyRecord mirrors pkg/merge/cleanup.go's unexported helper
// of the same name for the standalone (non-merge-driven) destroy path.
func writeDestroyRecord(root string, ws types.WorkspaceId, record types.DestroyRecord) error {
	dir := filepath.Join(root, ".manifold", "artifacts", "ws", string(ws), "destroy")
	safeTs := strings.ReplaceAll(record.DestroyedAt, ":", "-")
	if err := atomicfile.WriteJSON(filepath.Join(dir, safeTs+".json"), record); err != nil {
		return fmt.Errorf("write destroy record: %w", err)
	}
	latest := types.DestroyLatestPointer{Record: record, DestroyedAt: record.DestroyedAt}
	if err := atomicfile.WriteJSON(filepath.Join(dir, "latest.json"), latest); err != nil {
		return fmt.Errorf("write latest destroy pointer: %w", err)
	}
	return nil
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339) }

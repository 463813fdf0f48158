package merge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/manifold/pkg/atomicfile"
	"github.com/cuemby/manifold/pkg/capture"
	"github.com/cuemby/manifold/pkg/metrics"
	"github.com/cuemby/manifold/pkg/objstore"
	"github.com/cuemby/manifold/pkg/oplog"
	"github.com/cuemby/manifold/pkg/refstore"
	"github.com/cuemby/manifold/pkg/types"
)

// destroyArtifactDir builds the directory holding a workspace's
// destroy records (spec.md §6: .manifold/artifacts/ws/<ws>/destroy/).
func destroyArtifactDir(root string, ws types.WorkspaceId) string {
	return filepath.Join(root, ".manifold", "artifacts", "ws", string(ws), "destroy")
}

// CleanupSource captures, destroys, and records one merged source
// workspace during the CLEANUP phase (spec.md §4.5.4): if the
// workspace's worktree is dirty or ahead of the epoch it contributed,
// its state is pinned under a recovery ref first (capture subsystem,
// C4) so destruction never loses data; a Destroy operation is appended
// to its op log; and a DestroyRecord + latest.json pointer are written
// to the artifact directory.
//
// ws == defaultBranchWorkspace (the workspace checked out on the
// now-advanced branch) is handled by PreserveCheckout instead: its
// worktree is rewritten in place rather than destroyed.
func CleanupSource(root string, objs objstore.Store, refs refstore.Store, ws types.WorkspaceId, worktreeRoot string, baseEpoch types.EpochId, toolVersion string) (*types.DestroyRecord, error) {
	head, headOk, err := oplog.ReadHead(refs, ws)
	if err != nil {
		return nil, fmt.Errorf("merge: cleanup: read head for %s: %w", ws, err)
	}

	record := types.DestroyRecord{
		WorkspaceId:   ws,
		DestroyedAt:   nowRFC3339(),
		CaptureMode:   types.CaptureModeNone,
		DirtyFiles:    []string{},
		BaseEpoch:     baseEpoch,
		DestroyReason: types.DestroyReasonMergeDestroy,
		ToolVersion:   toolVersion,
	}
	if headOk {
		record.FinalHead = head
	}

	captureHead := baseEpoch.ObjectId()
	if headOk {
		entries, err := oplog.Walk(objs, head, 0, nil)
		if err != nil {
			return nil, fmt.Errorf("merge: cleanup: walk op log for %s: %w", ws, err)
		}
		view, err := oplog.Materialize(ws, entries)
		if err != nil {
			return nil, fmt.Errorf("merge: cleanup: materialize %s: %w", ws, err)
		}
		if n := len(view.PatchSetOids); n > 0 {
			captureHead = view.PatchSetOids[n-1]
		}
	}

	captured, err := capture.CaptureBeforeDestroy(objs, refs, ws, worktreeRoot, captureHead, baseEpoch)
	if err != nil {
		return nil, fmt.Errorf("merge: cleanup: capture %s: %w", ws, err)
	}
	if captured != nil {
		record.CaptureMode = captured.Mode
		record.SnapshotOid = captured.CommitOid
		record.SnapshotRef = captured.PinnedRef
		record.DirtyFiles = captured.DirtyPaths
	}

	destroyOp := types.Operation{
		WorkspaceId: ws,
		Timestamp:   nowRFC3339(),
		Payload:     types.DestroyPayload(),
	}
	if headOk {
		destroyOp.ParentIds = []types.ObjectId{head}
	}
	if _, err := oplog.Append(objs, refs, ws, destroyOp, head); err != nil {
		return nil, fmt.Errorf("merge: cleanup: append destroy op for %s: %w", ws, err)
	}

	if err := writeDestroyRecord(root, ws, record); err != nil {
		return nil, err
	}

	metrics.WorkspacesDestroyedTotal.WithLabelValues(string(record.CaptureMode)).Inc()

	if err := refs.Delete(types.RefWorkspaceState(ws)); err != nil {
		return nil, fmt.Errorf("merge: cleanup: delete workspace state ref for %s: %w", ws, err)
	}

	return &record, nil
}

func writeDestroyRecord(root string, ws types.WorkspaceId, record types.DestroyRecord) error {
	dir := destroyArtifactDir(root, ws)
	safeTs := filepathSafeTimestamp(record.DestroyedAt)
	recordPath := filepath.Join(dir, safeTs+".json")
	if err := atomicfile.WriteJSON(recordPath, record); err != nil {
		return fmt.Errorf("merge: cleanup: write destroy record for %s: %w", ws, err)
	}

	latest := types.DestroyLatestPointer{Record: record, DestroyedAt: record.DestroyedAt}
	latestPath := filepath.Join(dir, "latest.json")
	if err := atomicfile.WriteJSON(latestPath, latest); err != nil {
		return fmt.Errorf("merge: cleanup: write latest destroy pointer for %s: %w", ws, err)
	}
	return nil
}

func filepathSafeTimestamp(ts string) string {
	out := make([]byte, 0, len(ts))
	for i := 0; i < len(ts); i++ {
		if ts[i] == ':' {
			out = append(out, '-')
			continue
		}
		out = append(out, ts[i])
	}
	return string(out)
}

// PreserveCheckout rewrites the default workspace's worktree in place to
// match the new epoch, rather than destroying it (spec.md §4.5.4): the
// workspace that was checked out on the branch COMMIT just advanced
// must survive the merge with its working directory updated, not torn
// down like a merged source.
func PreserveCheckout(objs objstore.Store, worktreeRoot string, newEpoch types.EpochId) error {
	commit, err := objs.ReadCommit(newEpoch.ObjectId())
	if err != nil {
		return fmt.Errorf("merge: preserve checkout: read epoch commit: %w", err)
	}
	tree, err := objs.ReadTree(commit.Tree)
	if err != nil {
		return fmt.Errorf("merge: preserve checkout: read epoch tree: %w", err)
	}

	wanted := map[string]bool{}
	for path, oid := range tree {
		wanted[path] = true
		data, err := objs.ReadBlob(oid)
		if err != nil {
			return fmt.Errorf("merge: preserve checkout: read blob for %s: %w", path, err)
		}
		dest := filepath.Join(worktreeRoot, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("merge: preserve checkout: mkdir for %s: %w", path, err)
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return fmt.Errorf("merge: preserve checkout: write %s: %w", path, err)
		}
	}

	return removeStalePaths(worktreeRoot, wanted)
}

// removeStalePaths deletes any file under root that the new epoch's
// tree no longer names, skipping the .manifold control directory.
func removeStalePaths(root string, wanted map[string]bool) error {
	var stale []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
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
		if rel == ".manifold" || len(rel) > 10 && rel[:10] == ".manifold/" {
			return nil
		}
		if !wanted[rel] {
			stale = append(stale, p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("merge: preserve checkout: scan stale paths: %w", err)
	}
	for _, p := range stale {
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("merge: preserve checkout: remove stale %s: %w", p, err)
		}
	}
	return nil
}

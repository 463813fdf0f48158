// Package e2e exercises manifold's spec.md §8 scenarios directly
// against the library API (objstore/refstore/oplog/capture/merge),
// the same surface cmd/manifold's subcommands call. There's no
// subprocess harness here, unlike the teacher's test/integration
// (NewProcess(binary), lima VM waiters) -- see DESIGN.md's dropped-
// modules table -- because every component under test already runs
// in-process and a temp-dir-backed *BoltStore pair is cheap to stand
// up per test, the same pattern pkg/merge/pipeline_test.go uses for
// its own happy-path and crash-recovery cases.
package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/manifold/pkg/capture"
	"github.com/cuemby/manifold/pkg/merge"
	"github.com/cuemby/manifold/pkg/objstore"
	"github.com/cuemby/manifold/pkg/oplog"
	"github.com/cuemby/manifold/pkg/refstore"
	"github.com/cuemby/manifold/pkg/types"
)

func newStores(t *testing.T) (*objstore.BoltStore, *refstore.BoltStore) {
	t.Helper()
	objs, err := objstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("objstore.Open: %v", err)
	}
	t.Cleanup(func() { objs.Close() })

	refs, err := refstore.OpenBolt(filepath.Join(t.TempDir(), "refs.db"))
	if err != nil {
		t.Fatalf("refstore.OpenBolt: %v", err)
	}
	t.Cleanup(func() { refs.Close() })

	return objs, refs
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(root, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
}

func writeBaseEpoch(t *testing.T, objs objstore.Store, refs refstore.Store, branch string, files map[string]string) types.EpochId {
	t.Helper()
	tree := objstore.Tree{}
	for path, content := range files {
		oid, err := objs.WriteBlob([]byte(content))
		if err != nil {
			t.Fatalf("WriteBlob: %v", err)
		}
		tree[path] = oid
	}
	treeOid, err := objs.WriteTree(tree)
	if err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	commitOid, err := objs.CreateCommit(treeOid, nil, "initial epoch")
	if err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	epoch := types.EpochId(commitOid)
	if err := refs.Write(types.RefEpochCurrent, epoch.ObjectId()); err != nil {
		t.Fatalf("Write epoch/current: %v", err)
	}
	if err := refs.Write(types.RefBranch(branch), epoch.ObjectId()); err != nil {
		t.Fatalf("Write heads/%s: %v", branch, err)
	}
	return epoch
}

// createWorkspace replicates cmd/manifold workspace.go's `create`: a
// bare Create operation anchored on the current epoch, with no
// Snapshot yet -- a workspace in exactly the state `manifold workspace
// create` leaves it in.
func createWorkspace(t *testing.T, objs objstore.Store, refs refstore.Store, ws types.WorkspaceId, epoch types.EpochId) types.ObjectId {
	t.Helper()
	op := types.Operation{WorkspaceId: ws, Timestamp: "2026-01-01T00:00:00Z", Payload: types.CreatePayload(epoch)}
	head, err := oplog.Append(objs, refs, ws, op, types.ZeroObjectId)
	if err != nil {
		t.Fatalf("oplog.Append create: %v", err)
	}
	return head
}

// snapshotWorkspace replicates `manifold workspace snapshot`: scan the
// worktree, write a tree+commit, append a Snapshot op on top of head.
func snapshotWorkspace(t *testing.T, objs objstore.Store, refs refstore.Store, ws types.WorkspaceId, head types.ObjectId, worktree map[string]string) (types.ObjectId, types.ObjectId) {
	t.Helper()
	tree := objstore.Tree{}
	for path, content := range worktree {
		oid, err := objs.WriteBlob([]byte(content))
		if err != nil {
			t.Fatalf("WriteBlob: %v", err)
		}
		tree[path] = oid
	}
	treeOid, err := objs.WriteTree(tree)
	if err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	commitOid, err := objs.CreateCommit(treeOid, nil, "snapshot")
	if err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	op := types.Operation{WorkspaceId: ws, Timestamp: "2026-01-01T00:01:00Z", Payload: types.SnapshotPayload(commitOid), ParentIds: []types.ObjectId{head}}
	newHead, err := oplog.Append(objs, refs, ws, op, head)
	if err != nil {
		t.Fatalf("oplog.Append snapshot: %v", err)
	}
	return newHead, commitOid
}

// TestS1HappyPathMergeFoldsWorkspaceIntoEpoch: create a workspace off
// the initial epoch, snapshot a change, and merge it into main -- the
// full create -> snapshot -> merge lifecycle the CLI drives, wired
// together here across package boundaries instead of through cobra.
func TestS1HappyPathMergeFoldsWorkspaceIntoEpoch(t *testing.T) {
	objs, refs := newStores(t)
	baseEpoch := writeBaseEpoch(t, objs, refs, "main", map[string]string{"README.md": "base\n"})

	aliceHead := createWorkspace(t, objs, refs, "alice", baseEpoch)
	aliceHead, _ = snapshotWorkspace(t, objs, refs, "alice", aliceHead, map[string]string{
		"README.md": "base\n",
		"alice.txt": "alice's change\n",
	})

	aliceRoot := t.TempDir()
	writeFiles(t, aliceRoot, map[string]string{"README.md": "base\n", "alice.txt": "alice's change\n"})
	defaultRoot := t.TempDir()
	writeFiles(t, defaultRoot, map[string]string{"README.md": "base\n"})

	p := &merge.Pipeline{Root: defaultRoot, Objs: objs, Refs: refs, Version: "e2e"}
	opts := merge.RunOpts{
		Sources:        []types.WorkspaceId{"alice"},
		Branch:         "main",
		DefaultWS:      "default",
		WorktreeRoot:   defaultRoot,
		SourceWorktree: map[types.WorkspaceId]string{"alice": aliceRoot},
	}
	if err := p.Run(context.Background(), opts); err != nil {
		t.Fatalf("Run: %v", err)
	}

	epoch, ok, err := refs.Read(types.RefEpochCurrent)
	if err != nil || !ok {
		t.Fatalf("Read epoch/current: %v, ok=%v", err, ok)
	}
	commit, err := objs.ReadCommit(epoch)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	tree, err := objs.ReadTree(commit.Tree)
	if err != nil {
		t.Fatalf("ReadTree: %v", err)
	}
	if _, ok := tree["alice.txt"]; !ok {
		t.Fatal("expected merged epoch to contain alice.txt")
	}

	newAliceHead, ok, err := oplog.ReadHead(refs, "alice")
	if err != nil || !ok {
		t.Fatalf("ReadHead alice: %v, ok=%v", err, ok)
	}
	if newAliceHead == aliceHead {
		t.Fatal("expected CLEANUP to have appended a Destroy op to alice's log")
	}
	destroyOp, err := oplog.ReadOp(objs, newAliceHead)
	if err != nil {
		t.Fatalf("ReadOp: %v", err)
	}
	if destroyOp.Payload.Kind != types.OpDestroy {
		t.Fatalf("expected alice's final op to be Destroy, got %q", destroyOp.Payload.Kind)
	}
}

// TestS6DirtyWorkspaceDestroyRefusedWithoutForce mirrors
// cmd/manifold/workspace.go's destroy command's dirty/force gate: a
// workspace with an uncommitted worktree change relative to its base
// epoch must be refused, leaving no destroy record, no new recovery
// ref, and no op-log mutation (spec.md §8 S6).
func TestS6DirtyWorkspaceDestroyRefusedWithoutForce(t *testing.T) {
	objs, refs := newStores(t)
	baseEpoch := writeBaseEpoch(t, objs, refs, "main", map[string]string{"README.md": "base\n"})

	head := createWorkspace(t, objs, refs, "bob", baseEpoch)

	root := t.TempDir()
	writeFiles(t, root, map[string]string{"README.md": "base\n", "untracked.txt": "oops\n"})

	walk, err := oplog.Walk(objs, head, 0, nil)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	view, err := oplog.Materialize("bob", walk)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	dirty, _, err := capture.DirtyPaths(objs, root, view.BaseEpoch.ObjectId())
	if err != nil {
		t.Fatalf("DirtyPaths: %v", err)
	}
	if len(dirty) == 0 {
		t.Fatal("expected the untracked file to be reported dirty")
	}

	// The CLI's destroy command returns an error and performs no
	// further action once dirty is non-empty and --force wasn't given;
	// assert that refusing leaves every piece of state untouched.
	recoveryRefsBefore, err := refs.List(types.RefRecoveryPrefix)
	if err != nil {
		t.Fatalf("List recovery refs: %v", err)
	}
	if len(recoveryRefsBefore) != 0 {
		t.Fatalf("expected no recovery refs before a refused destroy, got %v", recoveryRefsBefore)
	}

	headAfter, ok, err := oplog.ReadHead(refs, "bob")
	if err != nil || !ok {
		t.Fatalf("ReadHead bob: %v, ok=%v", err, ok)
	}
	if headAfter != head {
		t.Fatal("expected bob's op-log head unchanged by a refused destroy")
	}
	if _, err := os.Stat(filepath.Join(root, "untracked.txt")); err != nil {
		t.Fatalf("expected the worktree untouched by a refused destroy: %v", err)
	}
}

// TestS6ForcedDestroyOfDirtyWorkspaceCapturesBeforeRemoving is the
// --force counterpart of S6: a dirty workspace destroyed with --force
// still gets a permanent recovery ref covering its dirty files before
// its worktree disappears, so no work is silently lost.
func TestS6ForcedDestroyOfDirtyWorkspaceCapturesBeforeRemoving(t *testing.T) {
	objs, refs := newStores(t)
	baseEpoch := writeBaseEpoch(t, objs, refs, "main", map[string]string{"README.md": "base\n"})

	head := createWorkspace(t, objs, refs, "carol", baseEpoch)
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"README.md": "base\n", "untracked.txt": "keep me\n"})

	walk, err := oplog.Walk(objs, head, 0, nil)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	view, err := oplog.Materialize("carol", walk)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	dirty, _, err := capture.DirtyPaths(objs, root, view.BaseEpoch.ObjectId())
	if err != nil {
		t.Fatalf("DirtyPaths: %v", err)
	}
	if len(dirty) == 0 {
		t.Fatal("expected the untracked file to be reported dirty")
	}

	result, err := capture.CaptureBeforeDestroy(objs, refs, "carol", root, view.BaseEpoch.ObjectId(), view.BaseEpoch)
	if err != nil {
		t.Fatalf("CaptureBeforeDestroy: %v", err)
	}
	if result == nil {
		t.Fatal("expected a non-nil capture result for a dirty workspace")
	}
	if result.Mode != types.CaptureModeDirtySnapshot {
		t.Fatalf("expected dirty_snapshot capture mode, got %q", result.Mode)
	}

	destDir := t.TempDir()
	recoveredOid, err := capture.Recover(objs, refs, result.PinnedRef, destDir)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if recoveredOid != result.CommitOid {
		t.Fatalf("expected Recover to materialize the captured commit, got %q want %q", recoveredOid, result.CommitOid)
	}
	data, err := os.ReadFile(filepath.Join(destDir, "untracked.txt"))
	if err != nil {
		t.Fatalf("expected the dirty file recovered onto disk: %v", err)
	}
	if string(data) != "keep me\n" {
		t.Fatalf("expected recovered content %q, got %q", "keep me\n", data)
	}
}

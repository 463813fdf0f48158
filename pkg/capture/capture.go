// Package capture implements the workspace capture/recovery subsystem
// (C4, spec.md §4.4): before a workspace is destroyed, its dirty state
// is pinned under a permanent recovery ref so destruction never loses
// data, generalized from the teacher's directory-owning volume driver
// (pkg/volume/local.go) and grounded on
// original_source/crates/maw-cli/src/workspace/capture.rs for the exact
// dirty/head-only/fail-safe algorithm.
//
// Unlike the original (which shells out to git), manifold's worktrees
// are plain directories and its commits are objstore.Commit objects, so
// "dirty" means "differs from the base epoch's tree", computed by
// walking the worktree and content-addressing each file.
package capture

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/manifold/pkg/objstore"
	"github.com/cuemby/manifold/pkg/refstore"
	"github.com/cuemby/manifold/pkg/types"
)

// Mode records how a workspace's state was captured (spec.md §4.4).
type Mode = types.CaptureMode

const (
	ModeDirtySnapshot = types.CaptureModeDirtySnapshot
	ModeHeadOnly      = types.CaptureModeHeadOnly
	ModeNone          = types.CaptureModeNone
)

// Result is the outcome of a successful Capture call.
type Result struct {
	CommitOid  types.ObjectId
	PinnedRef  types.RefName
	DirtyPaths []string
	Mode       Mode
}

// scanWorktree walks root and returns the content-addressed file set as
// a path -> ObjectId map, writing each file's blob as it goes.
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
		if strings.HasPrefix(rel, ".manifold/") || rel == ".manifold" {
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
		return nil, fmt.Errorf("capture: scan worktree: %w", err)
	}
	return tree, nil
}

// DirtyPaths reports every path whose content (or presence) differs
// between the worktree at root and base's tree, plus a diff of deletions.
// The returned list is sorted for determinism.
func DirtyPaths(objs objstore.Store, root string, base types.ObjectId) ([]string, objstore.Tree, error) {
	worktree, err := scanWorktree(objs, root)
	if err != nil {
		return nil, nil, err
	}

	var baseTree objstore.Tree
	if base != types.ZeroObjectId {
		commit, err := objs.ReadCommit(base)
		if err != nil {
			return nil, nil, fmt.Errorf("capture: read base commit %s: %w", base, err)
		}
		baseTree, err = objs.ReadTree(commit.Tree)
		if err != nil {
			return nil, nil, fmt.Errorf("capture: read base tree: %w", err)
		}
	}

	dirty := map[string]bool{}
	for path, oid := range worktree {
		if baseTree[path] != oid {
			dirty[path] = true
		}
	}
	for path := range baseTree {
		if _, ok := worktree[path]; !ok {
			dirty[path] = true
		}
	}

	paths := make([]string, 0, len(dirty))
	for p := range dirty {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, worktree, nil
}

// sanitizeTimestamp replaces colons with dashes so a timestamp is safe
// to use as a ref path component (spec.md §4.4, §6).
func sanitizeTimestamp(ts string) string {
	return strings.ReplaceAll(ts, ":", "-")
}

// nowISO8601 is overridable by tests that need a deterministic clock.
var nowISO8601 = func() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// CaptureBeforeDestroy implements spec.md §4.4's algorithm: enumerate
// dirty paths; if clean and at the base epoch, return (nil, nil) —
// nothing to preserve. If clean but ahead of the base epoch, pin the
// current head under a recovery ref (ModeHeadOnly). Otherwise snapshot
// the full worktree into a new tree+commit object and pin that
// (ModeDirtySnapshot). head is the workspace's current commit (not its
// op-log head): dirty paths are computed against its tree.
//
// Fail-safe rule (spec.md §4.4): if the workspace is dirty and capture
// fails partway, the caller must treat this as an abort signal and must
// NOT proceed with destruction — a partial capture is still reported as
// an error, never silently downgraded to "nothing to capture".
func CaptureBeforeDestroy(objs objstore.Store, refs refstore.Store, ws types.WorkspaceId, worktreeRoot string, head types.ObjectId, baseEpoch types.EpochId) (*Result, error) {
	dirtyPaths, worktree, err := DirtyPaths(objs, worktreeRoot, head)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	if len(dirtyPaths) == 0 {
		if head == baseEpoch.ObjectId() {
			return nil, nil
		}
		return pinHeadOnly(refs, ws, head)
	}

	return captureDirtyWorktree(objs, refs, ws, worktree, head, dirtyPaths)
}

func pinHeadOnly(refs refstore.Store, ws types.WorkspaceId, head types.ObjectId) (*Result, error) {
	ts := sanitizeTimestamp(nowISO8601())
	refName := types.RefRecovery(ws, ts)
	if err := refs.CAS(refName, types.ZeroObjectId, head); err != nil {
		return nil, fmt.Errorf("capture: pin head-only recovery ref: %w", err)
	}
	return &Result{
		CommitOid: head,
		PinnedRef: refName,
		Mode:      ModeHeadOnly,
	}, nil
}

func captureDirtyWorktree(objs objstore.Store, refs refstore.Store, ws types.WorkspaceId, worktree objstore.Tree, parent types.ObjectId, dirtyPaths []string) (*Result, error) {
	treeOid, err := objs.WriteTree(worktree)
	if err != nil {
		return nil, fmt.Errorf("capture: write worktree tree: %w", err)
	}

	var parents []types.ObjectId
	if parent != types.ZeroObjectId {
		parents = []types.ObjectId{parent}
	}
	commitOid, err := objs.CreateCommit(treeOid, parents, fmt.Sprintf("pre-destroy capture of %s", ws))
	if err != nil {
		return nil, fmt.Errorf("capture: create capture commit: %w", err)
	}

	// FP: a crash between the commit write above and the ref pin below
	// leaves the commit object written but unreachable (no ref points to
	// it yet) — harmless, since nothing has been destroyed, and the next
	// capture attempt simply writes an equivalent commit again.

	ts := sanitizeTimestamp(nowISO8601())
	refName := types.RefRecovery(ws, ts)
	if err := refs.CAS(refName, types.ZeroObjectId, commitOid); err != nil {
		return nil, fmt.Errorf("capture: pin recovery ref: %w", err)
	}

	return &Result{
		CommitOid:  commitOid,
		PinnedRef:  refName,
		DirtyPaths: dirtyPaths,
		Mode:       ModeDirtySnapshot,
	}, nil
}

// Recover materializes the tree pinned at ref back onto disk at
// destRoot, recreating the worktree layout captured at destroy time.
func Recover(objs objstore.Store, refs refstore.Store, refName types.RefName, destRoot string) (types.ObjectId, error) {
	oid, ok, err := refs.Read(refName)
	if err != nil {
		return "", fmt.Errorf("capture: recover: read %s: %w", refName, err)
	}
	if !ok {
		return "", fmt.Errorf("capture: recover: %w: no recovery ref %s", types.ErrNotFound, refName)
	}

	commit, err := objs.ReadCommit(oid)
	if err != nil {
		return "", fmt.Errorf("capture: recover: read commit %s: %w", oid, err)
	}
	tree, err := objs.ReadTree(commit.Tree)
	if err != nil {
		return "", fmt.Errorf("capture: recover: read tree: %w", err)
	}

	for path, blobOid := range tree {
		data, err := objs.ReadBlob(blobOid)
		if err != nil {
			return "", fmt.Errorf("capture: recover: read blob for %s: %w", path, err)
		}
		dest := filepath.Join(destRoot, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", fmt.Errorf("capture: recover: mkdir for %s: %w", path, err)
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return "", fmt.Errorf("capture: recover: write %s: %w", path, err)
		}
	}

	return oid, nil
}

// LatestRecoveryRef returns the most recent recovery ref for ws, or
// ok=false if none exists. Recovery ref timestamps sort lexicographically
// in capture order since they're RFC3339-derived.
func LatestRecoveryRef(refs refstore.Store, ws types.WorkspaceId) (types.RefName, bool, error) {
	prefix := types.RefRecoveryPrefix + string(ws) + "/"
	names, err := refs.List(prefix)
	if err != nil {
		return "", false, fmt.Errorf("capture: list recovery refs: %w", err)
	}
	if len(names) == 0 {
		return "", false, nil
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names[len(names)-1], true, nil
}

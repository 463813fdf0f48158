// Package merge implements the PREPARE/BUILD/VALIDATE/COMMIT/CLEANUP
// merge pipeline (C5, spec.md §4.5) — manifold's "hardest part of the
// system". It is grounded on the teacher's reconciler posture
// (pkg/reconciler/reconciler.go's phased, logged, metered control loop)
// and pkg/manager/manager.go's Apply-then-persist-state idiom, and on
// original_source/src/merge/commit.rs and
// original_source/src/workspace/merge.rs for the exact phase semantics,
// crash-recovery dispatch, and durability fences.
package merge

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/manifold/pkg/atomicfile"
	"github.com/cuemby/manifold/pkg/types"
)

const (
	mergeStateRelPath  = ".manifold/merge-state.json"
	commitStateRelPath = ".manifold/commit-state.json"
)

func mergeStatePath(root string) string  { return filepath.Join(root, mergeStateRelPath) }
func commitStatePath(root string) string { return filepath.Join(root, commitStateRelPath) }

// ReadMergeState reads .manifold/merge-state.json, or returns
// (zero, false, nil) if no merge is in flight.
func ReadMergeState(root string) (types.MergeStateFile, bool, error) {
	var state types.MergeStateFile
	path := mergeStatePath(root)
	if !atomicfile.Exists(path) {
		return state, false, nil
	}
	if err := atomicfile.ReadJSON(path, &state); err != nil {
		return state, false, fmt.Errorf("merge: read merge-state.json: %w: %w", types.ErrCorruptState, err)
	}
	return state, true, nil
}

// WriteMergeState persists .manifold/merge-state.json durably (write,
// fsync, rename, fsync parent dir — spec.md §4.5.1).
func WriteMergeState(root string, state types.MergeStateFile) error {
	state.UpdatedAt = nowRFC3339()
	if err := atomicfile.WriteJSON(mergeStatePath(root), state); err != nil {
		return fmt.Errorf("merge: write merge-state.json: %w", err)
	}
	return nil
}

// DeleteMergeState removes .manifold/merge-state.json once a merge
// reaches Complete or Aborted.
func DeleteMergeState(root string) error {
	if err := atomicfile.Remove(mergeStatePath(root)); err != nil {
		return fmt.Errorf("merge: delete merge-state.json: %w", err)
	}
	return nil
}

// ReadCommitState reads .manifold/commit-state.json, or returns
// (zero, false, nil) if the COMMIT phase hasn't started.
func ReadCommitState(root string) (types.CommitStateFile, bool, error) {
	var state types.CommitStateFile
	path := commitStatePath(root)
	if !atomicfile.Exists(path) {
		return state, false, nil
	}
	if err := atomicfile.ReadJSON(path, &state); err != nil {
		return state, false, fmt.Errorf("merge: read commit-state.json: %w: %w", types.ErrCorruptState, err)
	}
	return state, true, nil
}

// WriteCommitState persists .manifold/commit-state.json durably.
func WriteCommitState(root string, state types.CommitStateFile) error {
	state.UpdatedAtUnixMs = nowUnixMs()
	if err := atomicfile.WriteJSON(commitStatePath(root), state); err != nil {
		return fmt.Errorf("merge: write commit-state.json: %w", err)
	}
	return nil
}

// DeleteCommitState removes .manifold/commit-state.json once COMMIT
// has been finalized and folded back into the merge-state file.
func DeleteCommitState(root string) error {
	if err := atomicfile.Remove(commitStatePath(root)); err != nil {
		return fmt.Errorf("merge: delete commit-state.json: %w", err)
	}
	return nil
}

// nowRFC3339/nowUnixMs are overridable by tests needing a deterministic clock.
var (
	nowRFC3339 = func() string { return time.Now().UTC().Format(time.RFC3339) }
	nowUnixMs  = func() int64 { return time.Now().UnixMilli() }
)

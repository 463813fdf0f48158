package merge

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/cuemby/manifold/pkg/refstore"
	"github.com/cuemby/manifold/pkg/types"
)

func openTestRefs(t *testing.T) *refstore.BoltStore {
	t.Helper()
	refs, err := refstore.OpenBolt(filepath.Join(t.TempDir(), "refs.db"))
	if err != nil {
		t.Fatalf("refstore.OpenBolt: %v", err)
	}
	t.Cleanup(func() { refs.Close() })
	return refs
}

func TestRunCommitPhaseMovesBothRefs(t *testing.T) {
	refs := openTestRefs(t)
	root := t.TempDir()

	before := types.EpochId("e1")
	candidate := types.EpochId("e2")
	if err := refs.Write(types.RefEpochCurrent, before.ObjectId()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := refs.Write(types.RefBranch("main"), before.ObjectId()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := RunCommitPhase(root, refs, "main", before, candidate); err != nil {
		t.Fatalf("RunCommitPhase: %v", err)
	}

	epoch, _, _ := refs.Read(types.RefEpochCurrent)
	branch, _, _ := refs.Read(types.RefBranch("main"))
	if epoch != candidate.ObjectId() || branch != candidate.ObjectId() {
		t.Fatalf("expected both refs at %q, got epoch=%q branch=%q", candidate, epoch, branch)
	}

	state, ok, err := ReadCommitState(root)
	if err != nil || !ok {
		t.Fatalf("ReadCommitState: %v, ok=%v", err, ok)
	}
	if state.Phase != types.CommitPhaseCommitted {
		t.Fatalf("got phase %q, want committed", state.Phase)
	}
}

func TestRecoverCommitPhaseAlreadyCommitted(t *testing.T) {
	refs := openTestRefs(t)
	root := t.TempDir()

	before := types.EpochId("e1")
	candidate := types.EpochId("e2")
	refs.Write(types.RefEpochCurrent, candidate.ObjectId())
	refs.Write(types.RefBranch("main"), candidate.ObjectId())

	recovery, err := RecoverCommitPhase(root, refs, "main", before, candidate)
	if err != nil {
		t.Fatalf("RecoverCommitPhase: %v", err)
	}
	if recovery != AlreadyCommitted {
		t.Fatalf("got %q, want AlreadyCommitted", recovery)
	}
}

func TestRecoverCommitPhaseFinalizesBranch(t *testing.T) {
	refs := openTestRefs(t)
	root := t.TempDir()

	before := types.EpochId("e1")
	candidate := types.EpochId("e2")
	// Simulate a crash where only the epoch ref moved.
	refs.Write(types.RefEpochCurrent, candidate.ObjectId())
	refs.Write(types.RefBranch("main"), before.ObjectId())

	recovery, err := RecoverCommitPhase(root, refs, "main", before, candidate)
	if err != nil {
		t.Fatalf("RecoverCommitPhase: %v", err)
	}
	if recovery != FinalizeBranch {
		t.Fatalf("got %q, want FinalizeBranch", recovery)
	}

	branch, _, _ := refs.Read(types.RefBranch("main"))
	if branch != candidate.ObjectId() {
		t.Fatalf("expected branch ref finalized to %q, got %q", candidate, branch)
	}
}

func TestRecoverCommitPhaseNotCommitted(t *testing.T) {
	refs := openTestRefs(t)
	root := t.TempDir()

	before := types.EpochId("e1")
	candidate := types.EpochId("e2")
	refs.Write(types.RefEpochCurrent, before.ObjectId())
	refs.Write(types.RefBranch("main"), before.ObjectId())

	recovery, err := RecoverCommitPhase(root, refs, "main", before, candidate)
	if err != nil {
		t.Fatalf("RecoverCommitPhase: %v", err)
	}
	if recovery != NotCommitted {
		t.Fatalf("got %q, want NotCommitted", recovery)
	}
}

func TestRecoverCommitPhaseInconsistentState(t *testing.T) {
	refs := openTestRefs(t)
	root := t.TempDir()

	before := types.EpochId("e1")
	candidate := types.EpochId("e2")
	// Neither ref matches before nor candidate: a shape the dispatch
	// table does not recognize.
	refs.Write(types.RefEpochCurrent, "e999")
	refs.Write(types.RefBranch("main"), before.ObjectId())

	_, err := RecoverCommitPhase(root, refs, "main", before, candidate)
	if !errors.Is(err, types.ErrInconsistentRefState) {
		t.Fatalf("expected ErrInconsistentRefState, got %v", err)
	}
}

func TestRunCommitPhaseConcurrentEpochAdvanceSurfacesCasMismatch(t *testing.T) {
	refs := openTestRefs(t)
	root := t.TempDir()

	before := types.EpochId("e1")
	candidate := types.EpochId("e2")
	refs.Write(types.RefEpochCurrent, before.ObjectId())
	refs.Write(types.RefBranch("main"), before.ObjectId())

	// A second writer races epoch/current out from under this merge.
	if err := refs.CAS(types.RefEpochCurrent, before.ObjectId(), "racer-epoch"); err != nil {
		t.Fatalf("racing CAS: %v", err)
	}

	err := RunCommitPhase(root, refs, "main", before, candidate)
	if !errors.Is(err, types.ErrCasMismatch) {
		t.Fatalf("expected ErrCasMismatch, got %v", err)
	}
}

package merge

import (
	"errors"
	"fmt"

	"github.com/cuemby/manifold/pkg/metrics"
	"github.com/cuemby/manifold/pkg/refstore"
	"github.com/cuemby/manifold/pkg/types"
)

// CommitRecovery reports which of the three crash-recovery shapes a
// partially-applied COMMIT phase was found in (spec.md §4.5.3).
type CommitRecovery string

const (
	AlreadyCommitted CommitRecovery = "already_committed"
	FinalizeBranch   CommitRecovery = "finalize_branch"
	NotCommitted     CommitRecovery = "not_committed"
)

// RunCommitPhase executes COMMIT: persist commit-state.json in the
// Commit phase, atomically CAS-move both epoch/current and
// heads/<branch> from epochBefore to epochCandidate, then persist
// commit-state.json in the Committed phase (spec.md §4.5.3).
//
// refstore.BoltStore.AtomicUpdate applies both ref moves inside one
// bbolt transaction, so the two refs can never be observed half-moved
// on this ref store implementation; the persisted commit-state.json
// transition and RecoverCommitPhase's dispatch table exist regardless,
// both as the durable crash marker or a process exit between WriteJSON
// calls, and so a future ref store backend (e.g. one doing two
// sequential CAS calls over a network) can reuse the same recovery
// logic unchanged.
func RunCommitPhase(root string, refs refstore.Store, branch string, epochBefore, epochCandidate types.EpochId) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CommitDuration)

	state := types.CommitStateFile{
		Phase:          types.CommitPhaseCommit,
		EpochBefore:    epochBefore,
		EpochCandidate: epochCandidate,
	}
	if err := WriteCommitState(root, state); err != nil {
		return err
	}

	branchRef := types.RefBranch(branch)
	err := refs.AtomicUpdate([]refstore.Edit{
		{Name: types.RefEpochCurrent, OldOid: epochBefore.ObjectId(), NewOid: epochCandidate.ObjectId()},
		{Name: branchRef, OldOid: epochBefore.ObjectId(), NewOid: epochCandidate.ObjectId()},
	})
	if err != nil {
		if errors.Is(err, types.ErrCasMismatch) {
			metrics.CasMismatchTotal.WithLabelValues(string(branchRef)).Inc()
		}
		return fmt.Errorf("merge: commit: atomic ref update: %w", err)
	}

	state.Phase = types.CommitPhaseCommitted
	state.EpochRefUpdated = true
	state.BranchRefUpdated = true
	if err := WriteCommitState(root, state); err != nil {
		return err
	}

	return nil
}

// RecoverCommitPhase inspects ref state against the expected before/candidate
// pair and returns which recovery action was needed (or would be needed if
// this ref store allowed half-moved refs), finalizing the branch ref if
// only the epoch ref moved (spec.md §4.5.3's recovery table).
func RecoverCommitPhase(root string, refs refstore.Store, branch string, epochBefore, epochCandidate types.EpochId) (CommitRecovery, error) {
	branchRef := types.RefBranch(branch)
	epoch, epochOk, err := refs.Read(types.RefEpochCurrent)
	if err != nil {
		return "", fmt.Errorf("merge: recover commit: read epoch/current: %w", err)
	}
	branchHead, branchOk, err := refs.Read(branchRef)
	if err != nil {
		return "", fmt.Errorf("merge: recover commit: read %s: %w", branchRef, err)
	}

	switch {
	case epochOk && epoch == epochCandidate.ObjectId() && branchOk && branchHead == epochCandidate.ObjectId():
		recordRecoveryMetric(AlreadyCommitted)
		state := types.CommitStateFile{
			Phase:            types.CommitPhaseCommitted,
			EpochBefore:      epochBefore,
			EpochCandidate:   epochCandidate,
			EpochRefUpdated:  true,
			BranchRefUpdated: true,
		}
		if err := WriteCommitState(root, state); err != nil {
			return "", err
		}
		return AlreadyCommitted, nil

	case epochOk && epoch == epochCandidate.ObjectId() && branchOk && branchHead == epochBefore.ObjectId():
		if err := refs.CAS(branchRef, epochBefore.ObjectId(), epochCandidate.ObjectId()); err != nil {
			return "", fmt.Errorf("merge: recover commit: finalize %s: %w", branchRef, err)
		}
		state := types.CommitStateFile{
			Phase:            types.CommitPhaseCommitted,
			EpochBefore:      epochBefore,
			EpochCandidate:   epochCandidate,
			EpochRefUpdated:  true,
			BranchRefUpdated: true,
		}
		if err := WriteCommitState(root, state); err != nil {
			return "", err
		}
		recordRecoveryMetric(FinalizeBranch)
		return FinalizeBranch, nil

	case epochOk && epoch == epochBefore.ObjectId() && branchOk && branchHead == epochBefore.ObjectId():
		recordRecoveryMetric(NotCommitted)
		return NotCommitted, nil

	default:
		return "", fmt.Errorf("merge: recover commit: %w: epoch=%v(ok=%v) branch=%v(ok=%v)",
			types.ErrInconsistentRefState, epoch, epochOk, branchHead, branchOk)
	}
}

func recordRecoveryMetric(r CommitRecovery) {
	metrics.RecoveryRunsTotal.WithLabelValues(string(r)).Inc()
}

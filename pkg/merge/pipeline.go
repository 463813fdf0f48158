package merge

import (
	"context"
	"fmt"

	"github.com/cuemby/manifold/pkg/events"
	"github.com/cuemby/manifold/pkg/log"
	"github.com/cuemby/manifold/pkg/metrics"
	"github.com/cuemby/manifold/pkg/objstore"
	"github.com/cuemby/manifold/pkg/oplog"
	"github.com/cuemby/manifold/pkg/refstore"
	"github.com/cuemby/manifold/pkg/types"
)

// Pipeline drives one merge attempt through its full state machine,
// persisting merge-state.json at every phase transition so a crash at
// any point can be resumed by Recover (spec.md §4.5.1).
type Pipeline struct {
	Root    string
	Objs    objstore.Store
	Refs    refstore.Store
	Broker  *events.Broker
	Differ  Differ
	Version string
}

// RunOpts parameterizes one merge attempt.
type RunOpts struct {
	Sources        []types.WorkspaceId
	Branch         string
	DefaultWS      types.WorkspaceId // the workspace checked out on Branch, preserved rather than destroyed
	WorktreeRoot   string            // default workspace's worktree, rewritten by CLEANUP via PreserveCheckout
	SourceWorktree map[types.WorkspaceId]string
}

// Run executes PREPARE -> BUILD -> VALIDATE -> COMMIT -> CLEANUP for a
// fresh merge attempt. If a merge is already in flight (merge-state.json
// exists), callers must call Recover instead.
func (p *Pipeline) Run(ctx context.Context, opts RunOpts) error {
	logger := log.WithMergePhase(string(types.PhasePrepare))

	if _, inFlight, err := ReadMergeState(p.Root); err != nil {
		return err
	} else if inFlight {
		return fmt.Errorf("merge: a merge is already in flight in %s; call Recover", p.Root)
	}

	epochBefore, _, err := p.Refs.Read(types.RefEpochCurrent)
	if err != nil {
		return fmt.Errorf("merge: read epoch/current: %w", err)
	}

	state := types.MergeStateFile{
		Phase:       types.PhasePrepare,
		Sources:     opts.Sources,
		EpochBefore: types.EpochId(epochBefore),
		StartedAt:   nowRFC3339(),
	}
	if err := WriteMergeState(p.Root, state); err != nil {
		return err
	}
	logger.Info().Strs("sources", wsStrings(opts.Sources)).Msg("merge prepared")
	p.publish(events.EventMergePrepared, opts.Sources)

	return p.runFromBuild(ctx, opts, state)
}

func (p *Pipeline) runFromBuild(ctx context.Context, opts RunOpts, state types.MergeStateFile) error {
	timer := metrics.NewTimer()

	sourceTrees := make(map[types.WorkspaceId]types.ObjectId, len(opts.Sources))
	for _, ws := range opts.Sources {
		head, ok, err := oplog.ReadHead(p.Refs, ws)
		if err != nil {
			return p.abort(state, fmt.Errorf("merge: build: read head for %s: %w", ws, err))
		}
		if !ok {
			return p.abort(state, fmt.Errorf("merge: build: %s has no operations", ws))
		}
		walk, err := oplog.Walk(p.Objs, head, 0, nil)
		if err != nil {
			return p.abort(state, fmt.Errorf("merge: build: walk op log for %s: %w", ws, err))
		}
		view, err := oplog.Materialize(ws, walk)
		if err != nil {
			return p.abort(state, fmt.Errorf("merge: build: materialize %s: %w", ws, err))
		}
		if len(view.PatchSetOids) == 0 {
			return p.abort(state, fmt.Errorf("merge: build: %s has no snapshot to contribute", ws))
		}
		latestPatchSet := view.PatchSetOids[len(view.PatchSetOids)-1]
		commit, err := p.Objs.ReadCommit(latestPatchSet)
		if err != nil {
			return p.abort(state, fmt.Errorf("merge: build: read commit for %s: %w", ws, err))
		}
		sourceTrees[ws] = commit.Tree
	}

	buildResult, err := Build(p.Objs, p.Differ, state.EpochBefore, sourceTrees)
	if err != nil {
		return p.abort(state, err)
	}
	if len(buildResult.Conflicts) > 0 {
		return p.abort(state, fmt.Errorf("merge: build: %d unresolved conflicts", len(buildResult.Conflicts)))
	}

	var parents []types.ObjectId
	if state.EpochBefore != "" {
		parents = []types.ObjectId{state.EpochBefore.ObjectId()}
	}
	candidateEpoch, err := p.Objs.CreateCommit(buildResult.CandidateTree, parents, fmt.Sprintf("merge: %v", opts.Sources))
	if err != nil {
		return p.abort(state, fmt.Errorf("merge: build: create candidate commit: %w", err))
	}

	state.Phase = types.PhaseBuild
	state.EpochCandidate = types.EpochId(candidateEpoch)
	if err := WriteMergeState(p.Root, state); err != nil {
		return err
	}
	timer.ObserveDurationVec(metrics.MergePhaseDuration, string(types.PhaseBuild))
	log.WithMergePhase(string(types.PhaseBuild)).Info().Str("candidate_epoch", string(candidateEpoch)).Msg("merge built")
	p.publish(events.EventMergeBuilt, opts.Sources)

	return p.runFromValidate(ctx, opts, state)
}

func (p *Pipeline) runFromValidate(ctx context.Context, opts RunOpts, state types.MergeStateFile) error {
	timer := metrics.NewTimer()

	cfg, err := LoadValidateConfig(opts.WorktreeRoot)
	if err != nil {
		return p.abort(state, err)
	}
	result, err := Validate(ctx, cfg, opts.WorktreeRoot)
	if err != nil {
		return p.abort(state, err)
	}
	if !result.Passed {
		return p.abort(state, fmt.Errorf("merge: validate: a check failed"))
	}

	state.Phase = types.PhaseValidate
	if err := WriteMergeState(p.Root, state); err != nil {
		return err
	}
	timer.ObserveDurationVec(metrics.MergePhaseDuration, string(types.PhaseValidate))
	log.WithMergePhase(string(types.PhaseValidate)).Info().Msg("merge validated")
	p.publish(events.EventMergeValidated, opts.Sources)

	return p.runFromCommit(ctx, opts, state)
}

func (p *Pipeline) runFromCommit(ctx context.Context, opts RunOpts, state types.MergeStateFile) error {
	timer := metrics.NewTimer()

	// The phase must be persisted as "commit" before RunCommitPhase moves
	// any refs, not after: RunCommitPhase's AtomicUpdate is not re-entrant
	// once it has taken effect, so a crash between the ref move and this
	// write would otherwise strand Recover on a stale "validate" phase
	// that retries RunCommitPhase and hits ErrCasMismatch forever.
	state.Phase = types.PhaseCommit
	if err := WriteMergeState(p.Root, state); err != nil {
		return err
	}

	if err := RunCommitPhase(p.Root, p.Refs, opts.Branch, state.EpochBefore, state.EpochCandidate); err != nil {
		metrics.MergeAttemptsTotal.WithLabelValues("commit_failed").Inc()
		return fmt.Errorf("merge: commit phase failed, merge-state.json left in place for recovery: %w", err)
	}

	timer.ObserveDurationVec(metrics.MergePhaseDuration, string(types.PhaseCommit))
	log.WithMergePhase(string(types.PhaseCommit)).Info().Str("new_epoch", string(state.EpochCandidate)).Msg("merge committed")
	p.publish(events.EventMergeCommitted, opts.Sources)

	return p.runFromCleanup(ctx, opts, state)
}

func (p *Pipeline) runFromCleanup(_ context.Context, opts RunOpts, state types.MergeStateFile) error {
	timer := metrics.NewTimer()

	for _, ws := range opts.Sources {
		if ws == opts.DefaultWS {
			if err := PreserveCheckout(p.Objs, opts.WorktreeRoot, state.EpochCandidate); err != nil {
				return fmt.Errorf("merge: cleanup: preserve checkout for %s: %w", ws, err)
			}
			continue
		}
		wsRoot := opts.SourceWorktree[ws]
		if _, err := CleanupSource(p.Root, p.Objs, p.Refs, ws, wsRoot, state.EpochCandidate, p.Version); err != nil {
			return fmt.Errorf("merge: cleanup: %w", err)
		}
	}

	state.Phase = types.PhaseComplete
	if err := WriteMergeState(p.Root, state); err != nil {
		return err
	}
	if err := DeleteCommitState(p.Root); err != nil {
		return err
	}
	if err := DeleteMergeState(p.Root); err != nil {
		return err
	}

	timer.ObserveDurationVec(metrics.MergePhaseDuration, string(types.PhaseCleanup))
	metrics.MergeAttemptsTotal.WithLabelValues("success").Inc()
	log.WithMergePhase(string(types.PhaseCleanup)).Info().Msg("merge complete")
	p.publish(events.EventMergeCommitted, opts.Sources)

	return nil
}

// abort marks a merge aborted and deletes merge-state.json, since
// PREPARE/BUILD/VALIDATE failures happen strictly before any ref moves
// (spec.md §4.5.1: these phases are freely retryable/abortable).
func (p *Pipeline) abort(state types.MergeStateFile, cause error) error {
	state.Phase = types.PhaseAborted
	_ = WriteMergeState(p.Root, state)
	_ = DeleteMergeState(p.Root)
	metrics.MergeAttemptsTotal.WithLabelValues("aborted").Inc()
	log.WithMergePhase(string(types.PhaseAborted)).Warn().Err(cause).Msg("merge aborted")
	p.publish(events.EventMergeAborted, state.Sources)
	return fmt.Errorf("merge: aborted: %w", cause)
}

// Recover dispatches on a persisted merge-state.json's phase to resume
// (or finalize the abort of) a crashed merge attempt (spec.md §4.5.1's
// crash-recovery table):
//
//   - absent:              nothing to do.
//   - prepare/build:       no ref has moved yet; delete merge-state.json,
//     the attempt is abandoned.
//   - validate:            re-enter VALIDATE with the persisted candidate.
//   - commit:              delegate to RecoverCommitPhase (spec.md §4.5.3).
//   - cleanup:             idempotently re-run CLEANUP, then clear state.
//   - complete/aborted:    no-op; state should already be cleared.
func (p *Pipeline) Recover(ctx context.Context, opts RunOpts) error {
	state, inFlight, err := ReadMergeState(p.Root)
	if err != nil {
		return err
	}
	if !inFlight {
		return nil
	}

	log.WithMergePhase(string(state.Phase)).Info().Msg("recovering in-flight merge")

	switch state.Phase {
	case types.PhasePrepare, types.PhaseBuild:
		return DeleteMergeState(p.Root)

	case types.PhaseValidate:
		return p.runFromValidate(ctx, opts, state)

	case types.PhaseCommit:
		recovery, err := RecoverCommitPhase(p.Root, p.Refs, opts.Branch, state.EpochBefore, state.EpochCandidate)
		if err != nil {
			return fmt.Errorf("merge: recover: %w", err)
		}
		if recovery == NotCommitted {
			// COMMIT never took effect: safe to retry from COMMIT.
			return p.runFromCommit(ctx, opts, state)
		}
		// AlreadyCommitted or FinalizeBranch: both refs now point at the
		// candidate. Proceed to CLEANUP exactly as a normal run would.
		state.Phase = types.PhaseCommit
		if err := WriteMergeState(p.Root, state); err != nil {
			return err
		}
		return p.runFromCleanup(ctx, opts, state)

	case types.PhaseCleanup:
		return p.runFromCleanup(ctx, opts, state)

	case types.PhaseComplete, types.PhaseAborted:
		return DeleteMergeState(p.Root)

	default:
		return fmt.Errorf("merge: recover: %w: unknown phase %q", types.ErrCorruptState, state.Phase)
	}
}

func (p *Pipeline) publish(kind events.EventType, sources []types.WorkspaceId) {
	if p.Broker == nil {
		return
	}
	p.Broker.Publish(&events.Event{Type: kind, Message: fmt.Sprintf("sources=%v", sources)})
}

func wsStrings(ids []types.WorkspaceId) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

package transport

import (
	"fmt"
	"strings"

	"github.com/cuemby/manifold/pkg/events"
	"github.com/cuemby/manifold/pkg/log"
	"github.com/cuemby/manifold/pkg/objstore"
	"github.com/cuemby/manifold/pkg/refstore"
	"github.com/cuemby/manifold/pkg/types"
)

// category classifies a ref name by the ancestry rule that governs its
// integration (spec.md §4.6 / §6).
type category int

const (
	// categoryCommit points at a commit-shaped object (epoch/current,
	// heads/<branch>): ancestry via objstore.Store.IsAncestor.
	categoryCommit category = iota
	// categoryHead points at an Operation blob (manifold/head/<ws>):
	// ancestry via CompareOpLogAncestry, divergence synthesizes a
	// transport-merge Annotate op.
	categoryHead
	// categoryOther is blob/tree-valued with no ancestry concept
	// (manifold/ws/<ws>, manifold/snapshot/<ws>, manifold/recovery/*):
	// divergence just keeps the local value and logs a warning.
	categoryOther
)

func refCategory(name types.RefName) category {
	s := string(name)
	switch {
	case s == string(types.RefEpochCurrent):
		return categoryCommit
	case strings.HasPrefix(s, types.RefBranchPrefix):
		return categoryCommit
	case strings.HasPrefix(s, types.RefHeadPrefix):
		return categoryHead
	default:
		return categoryOther
	}
}

// StagingRef maps a remote ref name to the local ref it is staged under
// while being validated (manifold/remote/<name>, spec.md §4.6: "fetch
// into refs/manifold/remote/* before integrating").
func StagingRef(name types.RefName) types.RefName {
	return types.RefName(types.RefRemotePrefix + string(name))
}

// headWorkspaceId extracts the workspace id from a manifold/head/<ws>
// ref name.
func headWorkspaceId(name types.RefName) types.WorkspaceId {
	return types.WorkspaceId(strings.TrimPrefix(string(name), types.RefHeadPrefix))
}

// integrateRef dispatches a fetched ref to the integration rule
// matching its category and updates the local ref store accordingly.
func integrateRef(objs objstore.Store, refs refstore.Store, name types.RefName, remoteOid types.ObjectId) (Relation, error) {
	switch refCategory(name) {
	case categoryCommit:
		return integrateCommitRef(objs, refs, name, remoteOid)
	case categoryHead:
		return integrateOpLogRef(objs, refs, name, remoteOid)
	default:
		return integrateForceRef(refs, name, remoteOid)
	}
}

// integrateCommitRef handles epoch/current and heads/<branch>:
// fast-forward only. Divergence logs a warning and leaves the local ref
// untouched rather than synthesizing a merge (spec.md §4.6: "for
// epoch/current and heads/<branch>, this is fast-forward only").
func integrateCommitRef(objs objstore.Store, refs refstore.Store, name types.RefName, remoteOid types.ObjectId) (Relation, error) {
	local, ok, err := refs.Read(name)
	if err != nil {
		return "", fmt.Errorf("transport: read %s: %w", name, err)
	}
	if !ok {
		return casRef(refs, name, types.ZeroObjectId, remoteOid, RelationRemoteAhead)
	}
	if local == remoteOid {
		return RelationEqual, nil
	}

	localAhead, err := objs.IsAncestor(remoteOid, local)
	if err != nil {
		return "", fmt.Errorf("transport: ancestry for %s: %w", name, err)
	}
	if localAhead {
		return RelationLocalAhead, nil
	}

	remoteAhead, err := objs.IsAncestor(local, remoteOid)
	if err != nil {
		return "", fmt.Errorf("transport: ancestry for %s: %w", name, err)
	}
	if remoteAhead {
		return casRef(refs, name, local, remoteOid, RelationRemoteAhead)
	}

	log.WithComponent("transport").Warn().Str("ref", string(name)).Msg("pull: commit ref diverged from remote; not fast-forward, keeping local value")
	return RelationDiverged, nil
}

// integrateOpLogRef handles manifold/head/<ws>: compares ancestry over
// the op-log DAG and, on divergence, synthesizes a new Annotate
// operation recording the merge (spec.md §4.6 step 3).
func integrateOpLogRef(objs objstore.Store, refs refstore.Store, name types.RefName, remoteOid types.ObjectId) (Relation, error) {
	local, ok, err := refs.Read(name)
	if err != nil {
		return "", fmt.Errorf("transport: read %s: %w", name, err)
	}
	if !ok {
		return casRef(refs, name, types.ZeroObjectId, remoteOid, RelationRemoteAhead)
	}

	relation, err := CompareOpLogAncestry(objs, local, remoteOid)
	if err != nil {
		return "", fmt.Errorf("transport: ancestry for %s: %w", name, err)
	}

	switch relation {
	case RelationEqual, RelationLocalAhead:
		return relation, nil
	case RelationRemoteAhead:
		return casRef(refs, name, local, remoteOid, RelationRemoteAhead)
	case RelationDiverged:
		return synthesizeTransportMerge(objs, refs, name, local, remoteOid)
	default:
		return "", fmt.Errorf("transport: unreachable relation %q for %s", relation, name)
	}
}

// synthesizeTransportMerge appends a new Annotate operation over the
// diverged chains, parented on both heads, and advances the local head
// to it (spec.md §4.6 step 3, "Diverged -> synthesize a new operation").
func synthesizeTransportMerge(objs objstore.Store, refs refstore.Store, name types.RefName, local, remote types.ObjectId) (Relation, error) {
	ws := headWorkspaceId(name)
	op := types.Operation{
		ParentIds:   []types.ObjectId{local, remote},
		WorkspaceId: ws,
		Timestamp:   nowRFC3339(),
		Payload: types.AnnotatePayload("transport-merge", map[string]interface{}{
			"merge_kind":  "transport-pull",
			"local_head":  string(local),
			"remote_head": string(remote),
		}),
	}
	data, err := op.ToCanonicalJSON()
	if err != nil {
		return "", fmt.Errorf("transport: encode transport-merge op: %w", err)
	}
	mergeOid, err := objs.WriteBlob(data)
	if err != nil {
		return "", fmt.Errorf("transport: write transport-merge op: %w", err)
	}
	return casRef(refs, name, local, mergeOid, RelationDiverged)
}

// integrateForceRef handles blob-valued refs with no ancestry concept
// (manifold/ws/<ws>, manifold/snapshot/<ws>, manifold/recovery/*):
// a brand-new ref is adopted outright; divergence keeps the local value
// and only logs a warning (spec.md §6).
func integrateForceRef(refs refstore.Store, name types.RefName, remoteOid types.ObjectId) (Relation, error) {
	local, ok, err := refs.Read(name)
	if err != nil {
		return "", fmt.Errorf("transport: read %s: %w", name, err)
	}
	if !ok {
		return casRef(refs, name, types.ZeroObjectId, remoteOid, RelationRemoteAhead)
	}
	if local == remoteOid {
		return RelationEqual, nil
	}

	log.WithComponent("transport").Warn().Str("ref", string(name)).Msg("pull: blob-valued ref diverged from remote; keeping local value")
	return RelationDiverged, nil
}

// casRef applies one CAS, retrying the caller's intent is left to the
// caller; a concurrent local writer surfaces as ErrCasMismatch rather
// than silently clobbering a racing update.
func casRef(refs refstore.Store, name types.RefName, old, new types.ObjectId, relation Relation) (Relation, error) {
	if err := refs.CAS(name, old, new); err != nil {
		return "", fmt.Errorf("transport: cas %s: %w", name, err)
	}
	return relation, nil
}

// publish is a nil-safe event-broker helper shared by Pull and Push.
func publish(broker *events.Broker, kind events.EventType, name types.RefName) {
	if broker == nil {
		return
	}
	broker.Publish(&events.Event{Type: kind, Message: string(name)})
}

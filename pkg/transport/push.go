package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/manifold/pkg/events"
	"github.com/cuemby/manifold/pkg/log"
	"github.com/cuemby/manifold/pkg/objstore"
	"github.com/cuemby/manifold/pkg/refstore"
	"github.com/cuemby/manifold/pkg/types"
)

// ErrNonFastForward is returned by Push when a fast-forward-governed
// ref (epoch/current, heads/<branch>) would regress the remote's
// history. Unlike ErrCasMismatch, this is a policy rejection decided
// locally before any request reaches the remote (spec.md §6: "the epoch
// ref is pushed without force; a remote regression is rejected").
var ErrNonFastForward = errors.New("transport: push rejected: not a fast-forward")

// PushResult summarizes one push attempt: one outcome, or one
// rejection, per local ref that differed from the remote's.
type PushResult struct {
	Outcomes map[types.RefName]Relation
	Rejected map[types.RefName]error
}

// Push sends every local ref that differs from the remote's value, and
// the objects each transitively references that the remote doesn't
// already have, to remote. epoch/current and heads/<branch> are
// fast-forward-only, rejected client-side on regression without ever
// reaching the wire; manifold/head/<ws> and other blob-valued refs are
// pushed unconditionally, since they carry no ancestry (spec.md §6, the
// reverse direction of §4.6).
//
// Every ref write still goes through the remote's CAS endpoint against
// the value this Push last observed for it, so a third party racing the
// push between ListRefs and PushRef is still caught as ErrCasMismatch
// rather than silently clobbered -- "force" here means skipping the
// local fast-forward check, not skipping the remote's CAS.
func Push(ctx context.Context, objs objstore.Store, refs refstore.Store, remote RemoteStore, broker *events.Broker) (PushResult, error) {
	names, err := refs.List("")
	if err != nil {
		return PushResult{}, fmt.Errorf("transport: push: list local refs: %w", err)
	}
	remoteRefs, err := remote.ListRefs(ctx)
	if err != nil {
		return PushResult{}, fmt.Errorf("transport: push: list remote refs: %w", err)
	}

	result := PushResult{Outcomes: map[types.RefName]Relation{}, Rejected: map[types.RefName]error{}}

	for _, name := range names {
		local, ok, err := refs.Read(name)
		if err != nil || !ok {
			continue
		}
		remoteOid := remoteRefs[name]
		if local == remoteOid {
			result.Outcomes[name] = RelationEqual
			continue
		}

		if refCategory(name) == categoryCommit && remoteOid != types.ZeroObjectId {
			isFF, err := objs.IsAncestor(remoteOid, local)
			if err != nil {
				result.Rejected[name] = err
				continue
			}
			if !isFF {
				result.Rejected[name] = fmt.Errorf("%w: %s", ErrNonFastForward, name)
				log.WithComponent("transport").Warn().Str("ref", string(name)).Msg("push: remote would regress, rejected locally")
				publish(broker, events.EventTransportDiverged, name)
				continue
			}
		}

		if err := pushObjectTree(ctx, objs, remote, local); err != nil {
			result.Rejected[name] = err
			continue
		}
		if err := remote.PushRef(ctx, name, remoteOid, local); err != nil {
			result.Rejected[name] = err
			continue
		}

		if remoteOid == types.ZeroObjectId {
			result.Outcomes[name] = RelationRemoteAhead
		} else {
			result.Outcomes[name] = RelationLocalAhead
		}
	}

	publish(broker, events.EventTransportPushed, types.RefName("*"))
	log.WithComponent("transport").Info().Int("refs", len(names)).Int("rejected", len(result.Rejected)).Msg("push complete")
	return result, nil
}

// pushObjectTree breadth-first pushes root and everything it
// transitively references to remote, skipping objects remote already
// reports having. Implemented over an explicit queue, never recursion
// (spec.md §9), mirroring fetchObjectTree's traversal in reverse.
func pushObjectTree(ctx context.Context, objs objstore.Store, remote RemoteStore, root types.ObjectId) error {
	if root == types.ZeroObjectId {
		return nil
	}

	visited := map[types.ObjectId]bool{}
	queue := []types.ObjectId{root}

	for len(queue) > 0 {
		oid := queue[0]
		queue = queue[1:]
		if visited[oid] {
			continue
		}
		visited[oid] = true

		has, err := remote.HasObject(ctx, oid)
		if err != nil {
			return fmt.Errorf("transport: push: check remote %s: %w", oid, err)
		}
		if has {
			continue
		}

		kind, data, children, err := readObjectForPush(objs, oid)
		if err != nil {
			return fmt.Errorf("transport: push: read %s: %w", oid, err)
		}
		if err := remote.PushObject(ctx, kind, oid, data); err != nil {
			return fmt.Errorf("transport: push: send %s: %w", oid, err)
		}
		for _, child := range children {
			if !visited[child] {
				queue = append(queue, child)
			}
		}
	}
	return nil
}

// readObjectForPush determines which of the three object buckets oid
// lives in and returns its wire-encoded bytes and children. Trees and
// commits are re-marshaled with encoding/json, which produces the exact
// bytes objstore.WriteTree/CreateCommit originally hashed, so the
// remote recomputes the identical oid on receipt.
func readObjectForPush(objs objstore.Store, oid types.ObjectId) (ObjectKind, []byte, []types.ObjectId, error) {
	if data, err := objs.ReadBlob(oid); err == nil {
		return KindBlob, data, nil, nil
	}

	if tree, err := objs.ReadTree(oid); err == nil {
		data, err := encodeJSON(tree)
		if err != nil {
			return "", nil, nil, err
		}
		children := make([]types.ObjectId, 0, len(tree))
		for _, blobOid := range tree {
			children = append(children, blobOid)
		}
		return KindTree, data, children, nil
	}

	if commit, err := objs.ReadCommit(oid); err == nil {
		data, err := encodeJSON(commit)
		if err != nil {
			return "", nil, nil, err
		}
		children := append([]types.ObjectId{commit.Tree}, commit.Parents...)
		return KindCommit, data, children, nil
	}

	return "", nil, nil, fmt.Errorf("%w: %s", types.ErrNotFound, oid)
}

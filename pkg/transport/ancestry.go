package transport

import (
	"fmt"

	"github.com/cuemby/manifold/pkg/objstore"
	"github.com/cuemby/manifold/pkg/types"
)

// Relation is the result of comparing two chains' ancestry (spec.md
// §4.6 step 2).
type Relation string

const (
	RelationEqual       Relation = "equal"
	RelationLocalAhead  Relation = "local_ahead"
	RelationRemoteAhead Relation = "remote_ahead"
	RelationDiverged    Relation = "diverged"
)

// CompareOpLogAncestry compares two op-log head oids by walking
// Operation.ParentIds, the op-log DAG's own ancestry edge (distinct from
// objstore.Store.IsAncestor, which walks commit parents). Used for
// manifold/head/<ws> refs, which point at Operation blobs, not commits.
//
// Both ancestor sets are built with an explicit stack, never recursion
// (spec.md §9), mirroring oplog.Walk's work-queue discipline.
func CompareOpLogAncestry(objs objstore.Store, local, remote types.ObjectId) (Relation, error) {
	if local == remote {
		return RelationEqual, nil
	}

	localAncestors, err := opAncestorSet(objs, local)
	if err != nil {
		return "", fmt.Errorf("transport: ancestry: walk local chain: %w", err)
	}
	if localAncestors[remote] {
		// remote is an ancestor of local: local has strictly more history.
		return RelationLocalAhead, nil
	}

	remoteAncestors, err := opAncestorSet(objs, remote)
	if err != nil {
		return "", fmt.Errorf("transport: ancestry: walk remote chain: %w", err)
	}
	if remoteAncestors[local] {
		return RelationRemoteAhead, nil
	}

	return RelationDiverged, nil
}

// opAncestorSet returns every oid reachable from head by following
// Operation.ParentIds, head included. Implemented over an explicit
// stack with a visited set so diamond DAGs (produced by earlier
// transport merges) are never walked twice.
func opAncestorSet(objs objstore.Store, head types.ObjectId) (map[types.ObjectId]bool, error) {
	visited := map[types.ObjectId]bool{}
	if head == types.ZeroObjectId {
		return visited, nil
	}

	stack := []types.ObjectId{head}
	for len(stack) > 0 {
		n := len(stack) - 1
		cur := stack[n]
		stack = stack[:n]

		if visited[cur] {
			continue
		}
		visited[cur] = true

		data, err := objs.ReadBlob(cur)
		if err != nil {
			return nil, fmt.Errorf("read operation %s: %w", cur, err)
		}
		op, err := types.OperationFromJSON(data)
		if err != nil {
			return nil, fmt.Errorf("decode operation %s: %w", cur, err)
		}
		for _, p := range op.ParentIds {
			if !visited[p] {
				stack = append(stack, p)
			}
		}
	}
	return visited, nil
}

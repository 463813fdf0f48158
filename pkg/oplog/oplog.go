// Package oplog implements the operation log (C3, spec.md §4.3): a
// per-workspace append-only DAG of canonical-JSON Operation blobs, with
// append, chain-walk, and materialization.
//
// Grounded on pkg/manager/fsm.go's Command{Op, Data} tagged-dispatch
// idiom (generalized here to Operation's payload tagged union) and
// original_source/src/oplog/{types,write,read}.rs for the exact
// append/walk/replay semantics.
package oplog

import (
	"errors"
	"fmt"

	"github.com/cuemby/manifold/pkg/objstore"
	"github.com/cuemby/manifold/pkg/refstore"
	"github.com/cuemby/manifold/pkg/types"
)

// Append serializes op to canonical JSON, writes it as a blob, and
// advances the workspace's head ref via CAS (spec.md §4.3 write path).
//
// A CasMismatch here means two writers raced on the same workspace,
// which breaks the single-writer invariant (spec.md §5); it is
// surfaced as ErrInvariantViolation rather than retried.
func Append(objs objstore.Store, refs refstore.Store, ws types.WorkspaceId, op types.Operation, expectedHead types.ObjectId) (types.ObjectId, error) {
	data, err := EncodeOperation(op)
	if err != nil {
		return "", fmt.Errorf("oplog: encode operation: %w", err)
	}
	newOid, err := objs.WriteBlob(data)
	if err != nil {
		return "", fmt.Errorf("oplog: write operation blob: %w", err)
	}

	err = refs.CAS(types.RefHead(ws), expectedHead, newOid)
	if errors.Is(err, types.ErrCasMismatch) {
		return "", fmt.Errorf("oplog: %w: concurrent write to %s's op log head", types.ErrInvariantViolation, ws)
	}
	if err != nil {
		return "", fmt.Errorf("oplog: advance head for %s: %w", ws, err)
	}
	return newOid, nil
}

// ReadHead returns the current head operation id for ws, or ok=false if
// the workspace has no operations yet.
func ReadHead(refs refstore.Store, ws types.WorkspaceId) (types.ObjectId, bool, error) {
	oid, ok, err := refs.Read(types.RefHead(ws))
	if err != nil {
		return "", false, fmt.Errorf("oplog: read head for %s: %w", ws, err)
	}
	return oid, ok, nil
}

// ReadOp reads and decodes the operation blob at oid.
func ReadOp(objs objstore.Store, oid types.ObjectId) (types.Operation, error) {
	data, err := objs.ReadBlob(oid)
	if err != nil {
		return types.Operation{}, fmt.Errorf("oplog: read operation %s: %w", oid, err)
	}
	op, err := DecodeOperation(data)
	if err != nil {
		return types.Operation{}, fmt.Errorf("oplog: decode operation %s: %w", oid, err)
	}
	return op, nil
}

// Entry is one (oid, op) pair yielded by Walk.
type Entry struct {
	Oid types.ObjectId
	Op  types.Operation
}

// StopAt, when non-nil, is consulted for every visited entry; returning
// false suppresses enqueuing that entry's parents (the entry itself is
// still always yielded — spec.md §4.3).
type StopAt func(Entry) bool

// Walk performs a breadth-first traversal of the op log DAG starting
// from head, yielding entries in BFS order (head first). A visited set
// suppresses duplicates in diamond DAGs produced by transport merges.
// Implemented over an explicit work queue, never recursion (spec.md §9).
func Walk(objs objstore.Store, head types.ObjectId, maxDepth int, stopAt StopAt) ([]Entry, error) {
	if head == types.ZeroObjectId {
		return nil, nil
	}

	type queued struct {
		oid   types.ObjectId
		depth int
	}

	visited := map[types.ObjectId]bool{}
	queue := []queued{{oid: head, depth: 0}}
	var out []Entry

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if visited[cur.oid] {
			continue
		}
		visited[cur.oid] = true

		op, err := ReadOp(objs, cur.oid)
		if err != nil {
			return nil, fmt.Errorf("oplog: walk: %w", err)
		}
		entry := Entry{Oid: cur.oid, Op: op}
		out = append(out, entry)

		enqueueParents := stopAt == nil || stopAt(entry)
		if maxDepth > 0 && cur.depth >= maxDepth {
			enqueueParents = false
		}
		if enqueueParents {
			for _, p := range op.ParentIds {
				if !visited[p] {
					queue = append(queue, queued{oid: p, depth: cur.depth + 1})
				}
			}
		}
	}

	return out, nil
}

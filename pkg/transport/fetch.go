package transport

import (
	"context"
	"fmt"

	"github.com/cuemby/manifold/pkg/objstore"
	"github.com/cuemby/manifold/pkg/oplog"
	"github.com/cuemby/manifold/pkg/types"
)

// fetchObjectTree breadth-first fetches root and everything it
// transitively references from remote, storing each object locally as
// it arrives. Objects are content-addressed and write-once, so it's
// safe to store them before the owning ref has been validated or
// integrated (spec.md §5); only refs need the staging indirection.
//
// Each kind's children are discovered by decoding it: a tree's blob
// oids, a commit's tree oid and parent commit oids. Blobs are
// opportunistically sniffed with oplog.DecodeOperation to discover
// Operation.ParentIds, since the wire protocol has no separate
// "operation" kind -- an Operation is just a blob whose bytes happen to
// decode as one.
//
// Implemented over an explicit queue, never recursion (spec.md §9).
func fetchObjectTree(ctx context.Context, objs objstore.Store, remote RemoteStore, root types.ObjectId) error {
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

		if ok, err := objs.Exists(oid); err != nil {
			return fmt.Errorf("transport: fetch: check local %s: %w", oid, err)
		} else if ok {
			continue
		}

		kind, data, err := remote.FetchObject(ctx, oid)
		if err != nil {
			return fmt.Errorf("transport: fetch: remote object %s: %w", oid, err)
		}

		children, err := storeFetchedObject(objs, kind, oid, data)
		if err != nil {
			return fmt.Errorf("transport: fetch: store %s: %w", oid, err)
		}
		for _, child := range children {
			if !visited[child] {
				queue = append(queue, child)
			}
		}
	}
	return nil
}

// storeFetchedObject re-stores a fetched object through the normal
// objstore write path, which recomputes its content address: since
// canonical JSON encoding is deterministic, the recomputed oid always
// matches the one the remote reported for it. Returns oid's children
// for the BFS frontier.
func storeFetchedObject(objs objstore.Store, kind ObjectKind, oid types.ObjectId, data []byte) ([]types.ObjectId, error) {
	switch kind {
	case KindBlob:
		if _, err := objs.WriteBlob(data); err != nil {
			return nil, err
		}
		if op, err := oplog.DecodeOperation(data); err == nil {
			return op.ParentIds, nil
		}
		return nil, nil

	case KindTree:
		var tree objstore.Tree
		if err := decodeJSON(data, &tree); err != nil {
			return nil, fmt.Errorf("decode tree %s: %w", oid, err)
		}
		if _, err := objs.WriteTree(tree); err != nil {
			return nil, err
		}
		children := make([]types.ObjectId, 0, len(tree))
		for _, blobOid := range tree {
			children = append(children, blobOid)
		}
		return children, nil

	case KindCommit:
		var commit objstore.Commit
		if err := decodeJSON(data, &commit); err != nil {
			return nil, fmt.Errorf("decode commit %s: %w", oid, err)
		}
		if _, err := objs.CreateCommit(commit.Tree, commit.Parents, commit.Message); err != nil {
			return nil, err
		}
		children := append([]types.ObjectId{commit.Tree}, commit.Parents...)
		return children, nil

	default:
		return nil, fmt.Errorf("unknown object kind %q", kind)
	}
}

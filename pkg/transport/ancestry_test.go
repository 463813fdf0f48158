package transport

import (
	"testing"

	"github.com/cuemby/manifold/pkg/objstore"
	"github.com/cuemby/manifold/pkg/types"
)

// appendOp writes a standalone Operation blob (not through oplog.Append,
// since these tests exercise ancestry/integration logic directly against
// two independent stores rather than a single workspace's live head
// ref). tag varies the op's content so that two calls with identical
// parents still produce distinct oids, as two independently-authored
// operations would.
func appendOp(t *testing.T, objs objstore.Store, ws types.WorkspaceId, parents []types.ObjectId, tag string) types.ObjectId {
	t.Helper()
	op := types.Operation{ParentIds: parents, WorkspaceId: ws, Timestamp: "2026-01-01T00:00:00Z", Payload: types.DescribePayload(tag)}
	data, err := op.ToCanonicalJSON()
	if err != nil {
		t.Fatalf("ToCanonicalJSON: %v", err)
	}
	oid, err := objs.WriteBlob(data)
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	return oid
}

func TestCompareOpLogAncestryEqual(t *testing.T) {
	objs := openTestObjs(t)
	a := appendOp(t, objs, "alice", nil, "a")

	relation, err := CompareOpLogAncestry(objs, a, a)
	if err != nil {
		t.Fatalf("CompareOpLogAncestry: %v", err)
	}
	if relation != RelationEqual {
		t.Fatalf("got %q, want equal", relation)
	}
}

func TestCompareOpLogAncestryLocalAndRemoteAhead(t *testing.T) {
	objs := openTestObjs(t)
	base := appendOp(t, objs, "alice", nil, "base")
	ahead := appendOp(t, objs, "alice", []types.ObjectId{base}, "ahead")

	relation, err := CompareOpLogAncestry(objs, ahead, base)
	if err != nil {
		t.Fatalf("CompareOpLogAncestry: %v", err)
	}
	if relation != RelationLocalAhead {
		t.Fatalf("got %q, want local_ahead", relation)
	}

	relation, err = CompareOpLogAncestry(objs, base, ahead)
	if err != nil {
		t.Fatalf("CompareOpLogAncestry: %v", err)
	}
	if relation != RelationRemoteAhead {
		t.Fatalf("got %q, want remote_ahead", relation)
	}
}

func TestCompareOpLogAncestryDiverged(t *testing.T) {
	objs := openTestObjs(t)
	base := appendOp(t, objs, "alice", nil, "base")
	left := appendOp(t, objs, "alice", []types.ObjectId{base}, "left")
	right := appendOp(t, objs, "alice", []types.ObjectId{base}, "right")

	relation, err := CompareOpLogAncestry(objs, left, right)
	if err != nil {
		t.Fatalf("CompareOpLogAncestry: %v", err)
	}
	if relation != RelationDiverged {
		t.Fatalf("got %q, want diverged", relation)
	}
}

// openTestObjs mirrors pkg/merge/build_test.go's helper of the same name.
func openTestObjs(t *testing.T) *objstore.BoltStore {
	t.Helper()
	objs, err := objstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("objstore.Open: %v", err)
	}
	t.Cleanup(func() { objs.Close() })
	return objs
}

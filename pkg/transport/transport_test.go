package transport

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cuemby/manifold/pkg/objstore"
	"github.com/cuemby/manifold/pkg/refstore"
	"github.com/cuemby/manifold/pkg/types"
)

// inProcessRemote implements RemoteStore directly against a second
// objstore/refstore pair, standing in for HTTPClient in tests that
// exercise Pull/Push's integration logic without a network.
type inProcessRemote struct {
	objs objstore.Store
	refs refstore.Store
}

func (r *inProcessRemote) ListRefs(ctx context.Context) (map[types.RefName]types.ObjectId, error) {
	names, err := r.refs.List("")
	if err != nil {
		return nil, err
	}
	out := make(map[types.RefName]types.ObjectId, len(names))
	for _, name := range names {
		oid, ok, err := r.refs.Read(name)
		if err != nil {
			return nil, err
		}
		if ok {
			out[name] = oid
		}
	}
	return out, nil
}

func (r *inProcessRemote) FetchObject(ctx context.Context, oid types.ObjectId) (ObjectKind, []byte, error) {
	if data, err := r.objs.ReadBlob(oid); err == nil {
		return KindBlob, data, nil
	}
	if tree, err := r.objs.ReadTree(oid); err == nil {
		data, err := encodeJSON(tree)
		return KindTree, data, err
	}
	if commit, err := r.objs.ReadCommit(oid); err == nil {
		data, err := encodeJSON(commit)
		return KindCommit, data, err
	}
	return "", nil, errObjectNotFound
}

func (r *inProcessRemote) HasObject(ctx context.Context, oid types.ObjectId) (bool, error) {
	return r.objs.Exists(oid)
}

func (r *inProcessRemote) PushRef(ctx context.Context, name types.RefName, old, new types.ObjectId) error {
	return r.refs.CAS(name, old, new)
}

func (r *inProcessRemote) PushObject(ctx context.Context, kind ObjectKind, oid types.ObjectId, data []byte) error {
	switch kind {
	case KindBlob:
		_, err := r.objs.WriteBlob(data)
		return err
	case KindTree:
		var tree objstore.Tree
		if err := decodeJSON(data, &tree); err != nil {
			return err
		}
		_, err := r.objs.WriteTree(tree)
		return err
	case KindCommit:
		var commit objstore.Commit
		if err := decodeJSON(data, &commit); err != nil {
			return err
		}
		_, err := r.objs.CreateCommit(commit.Tree, commit.Parents, commit.Message)
		return err
	default:
		return errObjectNotFound
	}
}

// twoNodeFixture wires an independent objstore/refstore pair for
// "local" and "remote", each usable directly (local) or through
// inProcessRemote (remote).
type twoNodeFixture struct {
	localObjs, remoteObjs *objstore.BoltStore
	localRefs, remoteRefs *refstore.BoltStore
	remote                *inProcessRemote
}

func newTwoNodeFixture(t *testing.T) *twoNodeFixture {
	t.Helper()

	localObjs, err := objstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("objstore.Open: %v", err)
	}
	t.Cleanup(func() { localObjs.Close() })
	localRefs, err := refstore.OpenBolt(filepath.Join(t.TempDir(), "refs.db"))
	if err != nil {
		t.Fatalf("refstore.OpenBolt: %v", err)
	}
	t.Cleanup(func() { localRefs.Close() })

	remoteObjs, err := objstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("objstore.Open: %v", err)
	}
	t.Cleanup(func() { remoteObjs.Close() })
	remoteRefs, err := refstore.OpenBolt(filepath.Join(t.TempDir(), "refs.db"))
	if err != nil {
		t.Fatalf("refstore.OpenBolt: %v", err)
	}
	t.Cleanup(func() { remoteRefs.Close() })

	return &twoNodeFixture{
		localObjs:  localObjs,
		remoteObjs: remoteObjs,
		localRefs:  localRefs,
		remoteRefs: remoteRefs,
		remote:     &inProcessRemote{objs: remoteObjs, refs: remoteRefs},
	}
}

// writeCommit writes a one-file tree plus commit into store and returns
// the commit oid.
func writeCommit(t *testing.T, store objstore.Store, parents []types.ObjectId, path, content string) types.ObjectId {
	t.Helper()
	blobOid, err := store.WriteBlob([]byte(content))
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	treeOid, err := store.WriteTree(objstore.Tree{path: blobOid})
	if err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	commitOid, err := store.CreateCommit(treeOid, parents, "test commit")
	if err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	return commitOid
}

package transport

import (
	"context"
	"errors"

	"github.com/cuemby/manifold/pkg/types"
)

// ObjectKind discriminates the three shapes objstore.Store holds, 1:1
// with its three bbolt buckets, letting the wire protocol recurse into
// exactly the right children when walking an object's closure (spec.md
// §4.2's blob/tree/commit taxonomy).
type ObjectKind string

const (
	KindBlob   ObjectKind = "blob"
	KindTree   ObjectKind = "tree"
	KindCommit ObjectKind = "commit"
)

// errObjectNotFound is HTTPClient's sentinel for a 404 response,
// translated to RemoteStore.HasObject's ok=false rather than an error.
var errObjectNotFound = errors.New("transport: object not found on remote")

// RemoteStore is the contract Pull and Push need from a remote manifold
// node. HTTPClient implements it over mTLS HTTP/JSON; tests substitute
// an in-process fake wrapping a second objstore/refstore pair.
type RemoteStore interface {
	ListRefs(ctx context.Context) (map[types.RefName]types.ObjectId, error)
	FetchObject(ctx context.Context, oid types.ObjectId) (ObjectKind, []byte, error)
	HasObject(ctx context.Context, oid types.ObjectId) (bool, error)
	PushRef(ctx context.Context, name types.RefName, old, new types.ObjectId) error
	PushObject(ctx context.Context, kind ObjectKind, oid types.ObjectId, data []byte) error
}

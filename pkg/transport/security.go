package transport

import (
	"fmt"

	"github.com/cuemby/manifold/pkg/objstore"
	"github.com/cuemby/manifold/pkg/types"
)

// ValidateFetchedOperation implements spec.md §4.6 step 1's validation
// of a fetched manifold/head/<ws> ref before it is integrated: the
// object must be present locally (already true once fetchObjectTree has
// run), must deserialize as a well-formed Operation, every parent id
// must resolve to an object already present locally, and its
// WorkspaceId must be well-formed. Any failure is wrapped in
// ErrSecurityRejected, which is non-fatal to the overall pull: the
// caller skips this one ref and continues with the rest.
func ValidateFetchedOperation(objs objstore.Store, oid types.ObjectId) (types.Operation, error) {
	data, err := objs.ReadBlob(oid)
	if err != nil {
		return types.Operation{}, fmt.Errorf("%w: object %s not present locally: %v", types.ErrSecurityRejected, oid, err)
	}

	op, err := types.OperationFromJSON(data)
	if err != nil {
		return types.Operation{}, fmt.Errorf("%w: %s does not deserialize as a well-formed operation: %v", types.ErrSecurityRejected, oid, err)
	}

	for _, parent := range op.ParentIds {
		if ok, err := objs.Exists(parent); err != nil {
			return types.Operation{}, fmt.Errorf("%w: checking parent %s of %s: %v", types.ErrSecurityRejected, parent, oid, err)
		} else if !ok {
			return types.Operation{}, fmt.Errorf("%w: parent %s of %s does not resolve locally", types.ErrSecurityRejected, parent, oid)
		}
	}

	if _, err := types.NewWorkspaceId(string(op.WorkspaceId)); err != nil {
		return types.Operation{}, fmt.Errorf("%w: %s has an invalid workspace_id: %v", types.ErrSecurityRejected, oid, err)
	}

	return op, nil
}

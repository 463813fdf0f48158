package oplog

import "github.com/cuemby/manifold/pkg/types"

// EncodeOperation serializes op to canonical JSON (spec.md §3, §8
// property 6): fixed field order and sorted map keys, so two identical
// Operation values always produce identical bytes and therefore
// identical ObjectIds once written as a blob.
func EncodeOperation(op types.Operation) ([]byte, error) {
	return op.ToCanonicalJSON()
}

// DecodeOperation parses canonical JSON bytes back into an Operation,
// validating its WorkspaceId in the process.
func DecodeOperation(b []byte) (types.Operation, error) {
	return types.OperationFromJSON(b)
}

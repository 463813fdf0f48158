package types

import (
	"encoding/json"
	"fmt"
)

// OpKind is the discriminant tag used on the wire ("type" field) for
// OpPayload variants.
type OpKind string

const (
	OpCreate     OpKind = "create"
	OpDestroy    OpKind = "destroy"
	OpSnapshot   OpKind = "snapshot"
	OpMerge      OpKind = "merge"
	OpCompensate OpKind = "compensate"
	OpDescribe   OpKind = "describe"
	OpAnnotate   OpKind = "annotate"
)

// OpPayload is the tagged-union mutation carried by an Operation
// (spec.md §3). Exactly one of the embedded field groups is populated,
// selected by Kind.
type OpPayload struct {
	Kind OpKind

	// Create
	Epoch EpochId `json:"epoch,omitempty"`

	// Snapshot
	PatchSetOid ObjectId `json:"patch_set_oid,omitempty"`

	// Merge
	Sources     []WorkspaceId `json:"sources,omitempty"`
	EpochBefore EpochId       `json:"epoch_before,omitempty"`
	EpochAfter  EpochId       `json:"epoch_after,omitempty"`

	// Compensate
	TargetOp ObjectId `json:"target_op,omitempty"`
	Reason   string   `json:"reason,omitempty"`

	// Describe
	Message string `json:"message,omitempty"`

	// Annotate
	Key  string                 `json:"key,omitempty"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// Constructors keep call sites honest about which fields a variant uses.

func CreatePayload(epoch EpochId) OpPayload { return OpPayload{Kind: OpCreate, Epoch: epoch} }

func DestroyPayload() OpPayload { return OpPayload{Kind: OpDestroy} }

func SnapshotPayload(patchSetOid ObjectId) OpPayload {
	return OpPayload{Kind: OpSnapshot, PatchSetOid: patchSetOid}
}

func MergePayload(sources []WorkspaceId, before, after EpochId) OpPayload {
	return OpPayload{Kind: OpMerge, Sources: sources, EpochBefore: before, EpochAfter: after}
}

func CompensatePayload(targetOp ObjectId, reason string) OpPayload {
	return OpPayload{Kind: OpCompensate, TargetOp: targetOp, Reason: reason}
}

func DescribePayload(message string) OpPayload {
	return OpPayload{Kind: OpDescribe, Message: message}
}

func AnnotatePayload(key string, data map[string]interface{}) OpPayload {
	if data == nil {
		data = map[string]interface{}{}
	}
	return OpPayload{Kind: OpAnnotate, Key: key, Data: data}
}

// payloadJSON mirrors OpPayload's wire shape with field order matching
// the original Rust enum declaration (spec.md §3) so canonical encoding
// is deterministic independent of Go struct field order.
type payloadJSON struct {
	Type        OpKind                 `json:"type"`
	Epoch       EpochId                `json:"epoch,omitempty"`
	PatchSetOid ObjectId               `json:"patch_set_oid,omitempty"`
	Sources     []WorkspaceId          `json:"sources,omitempty"`
	EpochBefore EpochId                `json:"epoch_before,omitempty"`
	EpochAfter  EpochId                `json:"epoch_after,omitempty"`
	TargetOp    ObjectId               `json:"target_op,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Key         string                 `json:"key,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// MarshalJSON emits the canonical tagged-union form. Go's encoding/json
// already sorts map[string]interface{} keys when marshaling, which gives
// the Data field its required deterministic ordering without a custom
// sorted-map type.
func (p OpPayload) MarshalJSON() ([]byte, error) {
	w := payloadJSON{
		Type:        p.Kind,
		Epoch:       p.Epoch,
		PatchSetOid: p.PatchSetOid,
		Sources:     p.Sources,
		EpochBefore: p.EpochBefore,
		EpochAfter:  p.EpochAfter,
		TargetOp:    p.TargetOp,
		Reason:      p.Reason,
		Message:     p.Message,
		Key:         p.Key,
		Data:        p.Data,
	}
	if p.Kind == OpAnnotate && w.Data == nil {
		w.Data = map[string]interface{}{}
	}
	return json.Marshal(w)
}

func (p *OpPayload) UnmarshalJSON(b []byte) error {
	var w payloadJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*p = OpPayload{
		Kind:        w.Type,
		Epoch:       w.Epoch,
		PatchSetOid: w.PatchSetOid,
		Sources:     w.Sources,
		EpochBefore: w.EpochBefore,
		EpochAfter:  w.EpochAfter,
		TargetOp:    w.TargetOp,
		Reason:      w.Reason,
		Message:     w.Message,
		Key:         w.Key,
		Data:        w.Data,
	}
	return nil
}

// Operation is one immutable record in a workspace's append-only op log
// (spec.md §3). Its content-address (computed over its canonical JSON
// bytes) is its identity.
type Operation struct {
	ParentIds   []ObjectId  `json:"parent_ids"`
	WorkspaceId WorkspaceId `json:"workspace_id"`
	Timestamp   string      `json:"timestamp"`
	Payload     OpPayload   `json:"payload"`
}

// ToCanonicalJSON serializes op to canonical JSON: fixed field order
// (struct declaration order, which encoding/json already preserves),
// sorted map keys (encoding/json's built-in behavior for map values),
// and no extraneous whitespace (json.Marshal's compact default).
func (op Operation) ToCanonicalJSON() ([]byte, error) {
	if op.ParentIds == nil {
		op.ParentIds = []ObjectId{}
	}
	return json.Marshal(op)
}

// OperationFromJSON deserializes an Operation and validates that its
// WorkspaceId is well-formed (spec.md §8 property 5).
func OperationFromJSON(b []byte) (Operation, error) {
	var op Operation
	if err := json.Unmarshal(b, &op); err != nil {
		return Operation{}, fmt.Errorf("operation: unmarshal: %w", err)
	}
	if _, err := NewWorkspaceId(string(op.WorkspaceId)); err != nil {
		return Operation{}, fmt.Errorf("operation: %w", err)
	}
	return op, nil
}

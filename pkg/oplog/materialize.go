package oplog

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/manifold/pkg/objstore"
	"github.com/cuemby/manifold/pkg/types"
)

// View is a workspace's current materialized state, derived by
// replaying its op log chain (spec.md §4.3 materialization).
type View struct {
	WorkspaceId  types.WorkspaceId
	BaseEpoch    types.EpochId
	Destroyed    bool
	Description  string
	Annotations  map[string]map[string]interface{}
	PatchSetOids []types.ObjectId
	HeadOid      types.ObjectId
}

// Checkpoint is an advisory summary of a chain prefix: replay may start
// from View instead of the true chain origin, as long as the chain is
// then walked only up to (and not past) UpToOid. Checkpoints are never
// authoritative — a reader that ignores them and replays from scratch
// gets the identical result (spec.md §4.3).
type Checkpoint struct {
	UpToOid types.ObjectId `json:"up_to_oid"`
	View    View           `json:"view"`
}

// Materialize replays a BFS walk (newest-first, as produced by Walk)
// into a View. It handles Compensate by first collecting every
// compensated target so the canceled operation's effect is skipped
// during the oldest-to-newest replay pass.
func Materialize(ws types.WorkspaceId, walk []Entry) (View, error) {
	view := View{
		WorkspaceId: ws,
		Annotations: map[string]map[string]interface{}{},
	}
	if len(walk) == 0 {
		return view, nil
	}
	view.HeadOid = walk[0].Oid

	canceled := map[types.ObjectId]bool{}
	for _, e := range walk {
		if e.Op.Payload.Kind == types.OpCompensate {
			canceled[e.Op.Payload.TargetOp] = true
		}
	}

	// walk is newest-first (BFS from head); replay oldest-last entry
	// first so later operations override earlier ones.
	for i := len(walk) - 1; i >= 0; i-- {
		e := walk[i]
		if canceled[e.Oid] {
			continue
		}
		switch e.Op.Payload.Kind {
		case types.OpCreate:
			view.BaseEpoch = e.Op.Payload.Epoch
		case types.OpDestroy:
			view.Destroyed = true
		case types.OpSnapshot:
			view.PatchSetOids = append(view.PatchSetOids, e.Op.Payload.PatchSetOid)
		case types.OpMerge:
			view.BaseEpoch = e.Op.Payload.EpochAfter
		case types.OpCompensate:
			// No direct effect of its own beyond canceling its target.
		case types.OpDescribe:
			view.Description = e.Op.Payload.Message
		case types.OpAnnotate:
			view.Annotations[e.Op.Payload.Key] = e.Op.Payload.Data
		default:
			return View{}, fmt.Errorf("oplog: materialize: unknown payload kind %q", e.Op.Payload.Kind)
		}
	}

	return view, nil
}

// WriteCheckpoint stores a checkpoint as a blob so future replays of
// this chain can start from View instead of the chain origin.
func WriteCheckpoint(objs objstore.Store, cp Checkpoint) (types.ObjectId, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("oplog: marshal checkpoint: %w", err)
	}
	oid, err := objs.WriteBlob(data)
	if err != nil {
		return "", fmt.Errorf("oplog: write checkpoint: %w", err)
	}
	return oid, nil
}

// ReadCheckpoint reads back a checkpoint blob written by WriteCheckpoint.
func ReadCheckpoint(objs objstore.Store, oid types.ObjectId) (Checkpoint, error) {
	data, err := objs.ReadBlob(oid)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("oplog: read checkpoint %s: %w", oid, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("oplog: decode checkpoint %s: %w", oid, err)
	}
	return cp, nil
}

// MaterializeFromCheckpoint replays only the suffix of the chain after
// cp.UpToOid, then folds that onto cp.View. Walk's stopAt is used to
// halt descent once the checkpoint boundary is reached.
func MaterializeFromCheckpoint(ws types.WorkspaceId, objs objstore.Store, head types.ObjectId, cp Checkpoint) (View, error) {
	walk, err := Walk(objs, head, 0, func(e Entry) bool {
		return e.Oid != cp.UpToOid
	})
	if err != nil {
		return View{}, fmt.Errorf("oplog: materialize from checkpoint: %w", err)
	}

	// Drop the checkpoint boundary entry itself from the suffix replay;
	// its effects are already folded into cp.View.
	suffix := walk[:0:0]
	for _, e := range walk {
		if e.Oid == cp.UpToOid {
			continue
		}
		suffix = append(suffix, e)
	}

	delta, err := Materialize(ws, suffix)
	if err != nil {
		return View{}, err
	}

	merged := cp.View
	if delta.BaseEpoch != "" {
		merged.BaseEpoch = delta.BaseEpoch
	}
	if delta.Destroyed {
		merged.Destroyed = true
	}
	if delta.Description != "" {
		merged.Description = delta.Description
	}
	merged.PatchSetOids = append(append([]types.ObjectId{}, merged.PatchSetOids...), delta.PatchSetOids...)
	if merged.Annotations == nil {
		merged.Annotations = map[string]map[string]interface{}{}
	}
	for k, v := range delta.Annotations {
		merged.Annotations[k] = v
	}
	merged.HeadOid = head
	merged.WorkspaceId = ws

	return merged, nil
}

package types

// MergePhase is one of the merge-state machine's named states
// (spec.md §4.5.1).
type MergePhase string

const (
	PhasePrepare  MergePhase = "prepare"
	PhaseBuild    MergePhase = "build"
	PhaseValidate MergePhase = "validate"
	PhaseCommit   MergePhase = "commit"
	PhaseCleanup  MergePhase = "cleanup"
	PhaseComplete MergePhase = "complete"
	PhaseAborted  MergePhase = "aborted"
)

// MergeStateFile is the persisted shape of .manifold/merge-state.json
// (spec.md §3, §6). It exists only for the duration of an active or
// recovering merge.
type MergeStateFile struct {
	Phase          MergePhase    `json:"phase"`
	Sources        []WorkspaceId `json:"sources"`
	EpochBefore    EpochId       `json:"epoch_before"`
	EpochCandidate EpochId       `json:"epoch_candidate,omitempty"`
	StartedAt      string        `json:"started_at"`
	UpdatedAt      string        `json:"updated_at"`
}

// CommitPhase is the narrower phase tag used by commit-state.json,
// which only tracks the two-step atomic commit (spec.md §4.5.3).
type CommitPhase string

const (
	CommitPhaseCommit    CommitPhase = "commit"
	CommitPhaseCommitted CommitPhase = "committed"
)

// CommitStateFile is the persisted shape of .manifold/commit-state.json,
// written before and after the atomic multi-ref update.
type CommitStateFile struct {
	Phase            CommitPhase `json:"phase"`
	EpochBefore      EpochId     `json:"epoch_before"`
	EpochCandidate   EpochId     `json:"epoch_candidate"`
	EpochRefUpdated  bool        `json:"epoch_ref_updated"`
	BranchRefUpdated bool        `json:"branch_ref_updated"`
	UpdatedAtUnixMs  int64       `json:"updated_at_unix_ms"`
}

// CaptureMode records which of capture's three code paths produced a
// destroy record (spec.md §4.4, §3).
type CaptureMode string

const (
	CaptureModeDirtySnapshot CaptureMode = "dirty_snapshot"
	CaptureModeHeadOnly      CaptureMode = "head_only"
	CaptureModeNone          CaptureMode = "none"
)

// DestroyReason distinguishes a standalone "workspace destroy" from a
// merge pipeline's CLEANUP-phase destroy of a merged source.
type DestroyReason string

const (
	DestroyReasonDestroy      DestroyReason = "destroy"
	DestroyReasonMergeDestroy DestroyReason = "merge_destroy"
)

// DestroyRecord is the persisted shape of
// .manifold/artifacts/ws/<ws>/destroy/<ts>.json (spec.md §3, §6).
type DestroyRecord struct {
	WorkspaceId   WorkspaceId   `json:"workspace_id"`
	DestroyedAt   string        `json:"destroyed_at"`
	FinalHead     ObjectId      `json:"final_head,omitempty"`
	SnapshotOid   ObjectId      `json:"snapshot_oid,omitempty"`
	SnapshotRef   RefName       `json:"snapshot_ref,omitempty"`
	CaptureMode   CaptureMode   `json:"capture_mode"`
	DirtyFiles    []string      `json:"dirty_files"`
	BaseEpoch     EpochId       `json:"base_epoch"`
	DestroyReason DestroyReason `json:"destroy_reason"`
	ToolVersion   string        `json:"tool_version"`
}

// DestroyLatestPointer is the sibling latest.json shape: a copy of the
// most recent destroy record plus its timestamp, so readers don't need
// a directory scan in the common case (spec.md §6).
type DestroyLatestPointer struct {
	Record      DestroyRecord `json:"record"`
	DestroyedAt string        `json:"destroyed_at"`
}

// Conflict describes one path that BUILD could not merge cleanly
// (spec.md §4.5.2).
type Conflict struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

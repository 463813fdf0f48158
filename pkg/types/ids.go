// Package types holds the value types shared across manifold's core
// packages: content addresses, workspace/epoch identifiers, operation
// records, and the JSON-file shapes persisted by the merge pipeline.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ObjectId is the content address of a stored object: the hex-encoded
// SHA-256 digest of its bytes.
//
// spec.md describes a 40-hex-digit (SHA-1) address; this implementation
// uses SHA-256 (64 hex digits) instead — see SPEC_FULL.md's Open
// Questions for the rationale. Every place the spec's tables reference
// "ObjectId" applies unchanged to this wider encoding.
type ObjectId string

// ZeroObjectId is the sentinel used by cas() to assert ref non-existence.
const ZeroObjectId ObjectId = ""

// ObjectIdFromBytes computes the content address of a byte slice.
func ObjectIdFromBytes(b []byte) ObjectId {
	sum := sha256.Sum256(b)
	return ObjectId(hex.EncodeToString(sum[:]))
}

// Valid reports whether oid has the shape of a content address.
func (oid ObjectId) Valid() bool {
	if oid == ZeroObjectId {
		return true
	}
	if len(oid) != 64 {
		return false
	}
	for _, r := range string(oid) {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

func (oid ObjectId) String() string { return string(oid) }

// EpochId names a commit-shaped object that defines the canonical shared
// state of the repository at one moment.
type EpochId ObjectId

func (e EpochId) ObjectId() ObjectId { return ObjectId(e) }
func (e EpochId) String() string     { return string(e) }

// WorkspaceId is a short, non-empty workspace name. It is used verbatim
// as a ref path component, so it rejects anything that would escape a
// single path segment.
type WorkspaceId string

// NewWorkspaceId validates name and returns it as a WorkspaceId.
func NewWorkspaceId(name string) (WorkspaceId, error) {
	if name == "" {
		return "", fmt.Errorf("workspace id: empty name")
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return "", fmt.Errorf("workspace id %q: contains a path separator, backslash, or null byte", name)
	}
	if name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("workspace id %q: must not start with '.'", name)
	}
	return WorkspaceId(name), nil
}

func (w WorkspaceId) String() string { return string(w) }

// FileId is a random 128-bit identifier that preserves file identity
// across renames. Two Operation payloads referencing the same FileId
// refer to the same logical file regardless of its path at the time.
type FileId string

// NewFileId mints a fresh, random FileId.
func NewFileId() FileId {
	return FileId(uuid.NewString())
}

func (f FileId) String() string { return string(f) }

// RefName is a well-formed reference path, e.g. "epoch/current" or
// "manifold/recovery/worker/2026-07-31T12-00-00Z". Validation of the
// full namespace hierarchy (stable prefixes) is the ref store's
// contract (spec.md §4.1); RefName only rejects empty or
// path-traversal-shaped names.
type RefName string

// NewRefName validates name and returns it as a RefName.
func NewRefName(name string) (RefName, error) {
	if name == "" {
		return "", fmt.Errorf("ref name: empty")
	}
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("ref name %q: must not contain '..'", name)
	}
	return RefName(name), nil
}

func (r RefName) String() string { return string(r) }

// Well-known ref name builders (spec.md §3, §6).
const (
	RefEpochCurrent      = RefName("epoch/current")
	RefHeadPrefix        = "manifold/head/"
	RefWorkspaceStateFmt = "manifold/ws/"
	RefRecoveryPrefix    = "manifold/recovery/"
	RefSnapshotPrefix    = "manifold/snapshot/"
	RefRemotePrefix      = "manifold/remote/"
	RefBranchPrefix      = "heads/"
)

// RefHead builds the per-workspace operation-log head ref name.
func RefHead(ws WorkspaceId) RefName {
	return RefName(RefHeadPrefix + string(ws))
}

// RefWorkspaceState builds the per-workspace materialized-state ref name.
func RefWorkspaceState(ws WorkspaceId) RefName {
	return RefName(RefWorkspaceStateFmt + string(ws))
}

// RefRecovery builds a permanent pre-destroy recovery ref name. ts must
// already be filesystem/ref-safe (colons replaced with dashes).
func RefRecovery(ws WorkspaceId, ts string) RefName {
	return RefName(RefRecoveryPrefix + string(ws) + "/" + ts)
}

// RefSnapshot builds the short-lived in-flight snapshot ref name.
func RefSnapshot(ws WorkspaceId) RefName {
	return RefName(RefSnapshotPrefix + string(ws))
}

// RefBranch builds a branch head ref name, e.g. "heads/main".
func RefBranch(branch string) RefName {
	return RefName(RefBranchPrefix + branch)
}

package merge

import (
	"fmt"
	"sort"

	"github.com/cuemby/manifold/pkg/objstore"
	"github.com/cuemby/manifold/pkg/types"
)

// BuildResult is the outcome of a successful BUILD phase.
type BuildResult struct {
	CandidateTree types.ObjectId
	Conflicts     []types.Conflict
}

// Differ fuses a base tree and the per-workspace trees of every merge
// source into one candidate tree, reporting any unresolved conflicts.
// spec.md's Non-goals explicitly exclude a three-way content diff/merge
// algorithm — the default Differ only distinguishes "one side changed a
// path" (take it) from "more than one side changed the same path to
// different content" (conflict).
type Differ interface {
	Diff(base objstore.Tree, sources map[types.WorkspaceId]objstore.Tree) (objstore.Tree, []types.Conflict)
}

// TrivialDiffer implements Differ's minimal contract: a path changed by
// exactly one source relative to base is taken as-is; a path changed by
// more than one source to different content is reported as a conflict
// and excluded from the candidate tree (spec.md §4.5.2).
type TrivialDiffer struct{}

func (TrivialDiffer) Diff(base objstore.Tree, sources map[types.WorkspaceId]objstore.Tree) (objstore.Tree, []types.Conflict) {
	candidate := objstore.Tree{}
	for path, oid := range base {
		candidate[path] = oid
	}

	// changers[path] collects every distinct oid any source disagrees
	// with base on, so we can tell a clean single-side change from a
	// genuine conflict.
	changers := map[string]map[types.ObjectId]bool{}
	deleted := map[string]int{}

	wsNames := make([]types.WorkspaceId, 0, len(sources))
	for ws := range sources {
		wsNames = append(wsNames, ws)
	}
	sort.Slice(wsNames, func(i, j int) bool { return wsNames[i] < wsNames[j] })

	allPaths := map[string]bool{}
	for path := range base {
		allPaths[path] = true
	}
	for _, ws := range wsNames {
		for path := range sources[ws] {
			allPaths[path] = true
		}
	}

	for path := range allPaths {
		baseOid, inBase := base[path]
		for _, ws := range wsNames {
			tree := sources[ws]
			srcOid, inSrc := tree[path]
			switch {
			case inSrc && (!inBase || srcOid != baseOid):
				if changers[path] == nil {
					changers[path] = map[types.ObjectId]bool{}
				}
				changers[path][srcOid] = true
			case inBase && !inSrc:
				deleted[path]++
			}
		}
	}

	var conflicts []types.Conflict
	paths := make([]string, 0, len(allPaths))
	for p := range allPaths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		variants := changers[path]
		delCount := deleted[path]

		switch {
		case len(variants) == 0 && delCount == 0:
			// No source touched this path; base's entry (if any) stands.
		case len(variants) == 1 && delCount == 0:
			for oid := range variants {
				candidate[path] = oid
			}
		case len(variants) == 0 && delCount > 0:
			delete(candidate, path)
		default:
			conflicts = append(conflicts, types.Conflict{Path: path, Kind: "content"})
		}
	}

	return candidate, conflicts
}

// Build runs the BUILD phase: read the base epoch's tree and every
// source workspace's current tree, fuse them with differ, and write the
// result as a new (unreachable-until-commit) tree object.
//
// Build must be deterministic, total (it captures the full state of
// every dirty source, not just a diff), safe (it never mutates any
// existing ref or object), and idempotent on a clean source set (spec.md
// §4.5.2's BUILD contract).
func Build(objs objstore.Store, differ Differ, baseEpoch types.EpochId, sourceTrees map[types.WorkspaceId]types.ObjectId) (BuildResult, error) {
	if differ == nil {
		differ = TrivialDiffer{}
	}

	var baseTree objstore.Tree
	if baseEpoch != "" {
		baseCommit, err := objs.ReadCommit(baseEpoch.ObjectId())
		if err != nil {
			return BuildResult{}, fmt.Errorf("merge: build: read base epoch commit: %w", err)
		}
		baseTree, err = objs.ReadTree(baseCommit.Tree)
		if err != nil {
			return BuildResult{}, fmt.Errorf("merge: build: read base epoch tree: %w", err)
		}
	}

	sources := make(map[types.WorkspaceId]objstore.Tree, len(sourceTrees))
	for ws, treeOid := range sourceTrees {
		tree, err := objs.ReadTree(treeOid)
		if err != nil {
			return BuildResult{}, fmt.Errorf("merge: build: read tree for %s: %w", ws, err)
		}
		sources[ws] = tree
	}

	candidate, conflicts := differ.Diff(baseTree, sources)

	candidateOid, err := objs.WriteTree(candidate)
	if err != nil {
		return BuildResult{}, fmt.Errorf("merge: build: write candidate tree: %w", err)
	}

	return BuildResult{CandidateTree: candidateOid, Conflicts: conflicts}, nil
}

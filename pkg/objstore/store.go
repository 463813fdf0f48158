// Package objstore implements the content-addressed object store (C2,
// spec.md §4.2): write-once blobs, tree objects (path -> blob ObjectId
// maps), and commit-shaped objects (tree + parents + message), all
// keyed by the SHA-256 of their serialized bytes.
//
// C2 is specified as an external collaborator with "implementation
// freedom total" (spec.md §4.2); this package is one concrete choice,
// grounded on the teacher's bucket-per-collection bbolt CRUD style
// (pkg/storage/boltdb.go), generalized from typed records to raw
// content-addressed blobs.
package objstore

import (
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"sort"

	"github.com/cuemby/manifold/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketBlobs   = []byte("blobs")
	bucketTrees   = []byte("trees")
	bucketCommits = []byte("commits")
)

// Tree maps a relative file path to the ObjectId of the blob holding
// its contents. It is itself content-addressed: its canonical JSON
// encoding (sorted keys — free from encoding/json's map handling) is
// hashed to produce the tree's own ObjectId.
type Tree map[string]types.ObjectId

// Commit is a commit-shaped object: a tree plus ancestry and a message.
type Commit struct {
	Tree    types.ObjectId   `json:"tree"`
	Parents []types.ObjectId `json:"parents"`
	Message string           `json:"message"`
}

// Store is the object store's storage contract, held by the higher
// layers (oplog, capture, merge) as a narrow interface so tests can
// substitute an in-memory fake without pulling in bbolt.
type Store interface {
	WriteBlob(data []byte) (types.ObjectId, error)
	ReadBlob(oid types.ObjectId) ([]byte, error)
	Exists(oid types.ObjectId) (bool, error)

	WriteTree(tree Tree) (types.ObjectId, error)
	ReadTree(oid types.ObjectId) (Tree, error)

	CreateCommit(tree types.ObjectId, parents []types.ObjectId, message string) (types.ObjectId, error)
	ReadCommit(oid types.ObjectId) (Commit, error)

	IsAncestor(a, b types.ObjectId) (bool, error)
	ListTree(commit types.ObjectId) ([]string, error)
	ReadTreeFile(commit types.ObjectId, filePath string) ([]byte, error)

	Close() error
}

// BoltStore is a single-process Store backed by bbolt, one bucket per
// object class (pkg/storage/boltdb.go's bucket-per-collection shape).
type BoltStore struct {
	db *bolt.DB
}

// Open opens (creating if absent) the object store database under dataDir.
func Open(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "objects.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("objstore: open %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlobs, bucketTrees, bucketCommits} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

// WriteBlob stores data under its content address. Writing the same
// bytes twice is a safe no-op (spec.md §5: "concurrent writers of the
// same content yield the same oid").
func (s *BoltStore) WriteBlob(data []byte) (types.ObjectId, error) {
	oid := types.ObjectIdFromBytes(data)
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlobs).Put([]byte(oid), data)
	})
	if err != nil {
		return "", fmt.Errorf("objstore: write blob: %w", err)
	}
	return oid, nil
}

func (s *BoltStore) ReadBlob(oid types.ObjectId) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBlobs).Get([]byte(oid))
		if data == nil {
			return types.ErrNotFound
		}
		out = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("objstore: read blob %s: %w", oid, err)
	}
	return out, nil
}

func (s *BoltStore) Exists(oid types.ObjectId) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketBlobs).Get([]byte(oid)) != nil {
			found = true
			return nil
		}
		if tx.Bucket(bucketTrees).Get([]byte(oid)) != nil {
			found = true
			return nil
		}
		if tx.Bucket(bucketCommits).Get([]byte(oid)) != nil {
			found = true
		}
		return nil
	})
	return found, err
}

// WriteTree content-addresses and stores a tree object. Canonical
// encoding relies on encoding/json's built-in sorted-key output for map
// values, matching the canonical-JSON discipline used for Operations.
func (s *BoltStore) WriteTree(tree Tree) (types.ObjectId, error) {
	if tree == nil {
		tree = Tree{}
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("objstore: marshal tree: %w", err)
	}
	oid := types.ObjectIdFromBytes(data)
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTrees).Put([]byte(oid), data)
	})
	if err != nil {
		return "", fmt.Errorf("objstore: write tree: %w", err)
	}
	return oid, nil
}

func (s *BoltStore) ReadTree(oid types.ObjectId) (Tree, error) {
	var tree Tree
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTrees).Get([]byte(oid))
		if data == nil {
			return types.ErrNotFound
		}
		return json.Unmarshal(data, &tree)
	})
	if err != nil {
		return nil, fmt.Errorf("objstore: read tree %s: %w", oid, err)
	}
	return tree, nil
}

// CreateCommit content-addresses and stores a commit object.
func (s *BoltStore) CreateCommit(tree types.ObjectId, parents []types.ObjectId, message string) (types.ObjectId, error) {
	if parents == nil {
		parents = []types.ObjectId{}
	}
	commit := Commit{Tree: tree, Parents: parents, Message: message}
	data, err := json.Marshal(commit)
	if err != nil {
		return "", fmt.Errorf("objstore: marshal commit: %w", err)
	}
	oid := types.ObjectIdFromBytes(data)
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCommits).Put([]byte(oid), data)
	})
	if err != nil {
		return "", fmt.Errorf("objstore: write commit: %w", err)
	}
	return oid, nil
}

func (s *BoltStore) ReadCommit(oid types.ObjectId) (Commit, error) {
	var commit Commit
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCommits).Get([]byte(oid))
		if data == nil {
			return types.ErrNotFound
		}
		return json.Unmarshal(data, &commit)
	})
	if err != nil {
		return Commit{}, fmt.Errorf("objstore: read commit %s: %w", oid, err)
	}
	return commit, nil
}

// IsAncestor reports whether a is reachable from b by walking commit
// parents breadth-first with a visited set (spec.md §9: "never store
// parent pointers as owning references"; same work-queue discipline
// oplog.Walk uses for the operation DAG).
func (s *BoltStore) IsAncestor(a, b types.ObjectId) (bool, error) {
	if a == b {
		return true, nil
	}
	visited := map[types.ObjectId]bool{}
	queue := []types.ObjectId{b}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if cur == a {
			return true, nil
		}
		commit, err := s.ReadCommit(cur)
		if err != nil {
			continue
		}
		for _, p := range commit.Parents {
			if !visited[p] {
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}

// ListTree returns the sorted set of paths recorded in commit's tree.
func (s *BoltStore) ListTree(commit types.ObjectId) ([]string, error) {
	c, err := s.ReadCommit(commit)
	if err != nil {
		return nil, err
	}
	tree, err := s.ReadTree(c.Tree)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(tree))
	for p := range tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadTreeFile reads the contents of filePath as recorded by commit's tree.
func (s *BoltStore) ReadTreeFile(commit types.ObjectId, filePath string) ([]byte, error) {
	c, err := s.ReadCommit(commit)
	if err != nil {
		return nil, err
	}
	tree, err := s.ReadTree(c.Tree)
	if err != nil {
		return nil, err
	}
	oid, ok := tree[path.Clean(filePath)]
	if !ok {
		return nil, fmt.Errorf("objstore: %w: %s in tree of commit %s", types.ErrNotFound, filePath, commit)
	}
	return s.ReadBlob(oid)
}

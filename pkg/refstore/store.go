// Package refstore implements the ref store (C1, spec.md §4.1): atomic
// named-reference read/write with compare-and-swap and N-way atomic
// multi-ref update. Two implementations are provided: BoltStore for a
// single process, and RaftStore, which replicates the same operations
// through a hashicorp/raft log for a clustered `manifold serve`.
package refstore

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/manifold/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketRefs = []byte("refs")

// Edit is one entry in an AtomicUpdate call: a CAS edit against a single
// named ref (spec.md §4.1 atomic_update).
type Edit struct {
	Name   types.RefName
	OldOid types.ObjectId
	NewOid types.ObjectId
}

// Store is the ref store's contract (spec.md §4.1). Non-existence of a
// ref is not itself an error: Read returns ok=false.
type Store interface {
	Read(name types.RefName) (oid types.ObjectId, ok bool, err error)
	Write(name types.RefName, oid types.ObjectId) error
	CAS(name types.RefName, old, new types.ObjectId) error
	Delete(name types.RefName) error
	AtomicUpdate(edits []Edit) error
	List(prefix string) ([]types.RefName, error)
}

// BoltStore is a single-process Store backed by bbolt. CAS and
// AtomicUpdate are both implemented as single bbolt transactions, which
// gives them the all-or-nothing semantics spec.md requires without any
// extra locking (pkg/storage/boltdb.go's db.Update closure pattern).
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if absent) the ref store database at dbPath.
func OpenBolt(dbPath string) (*BoltStore, error) {
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("refstore: open %s: %w", dbPath, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRefs)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("refstore: create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) Read(name types.RefName) (types.ObjectId, bool, error) {
	var oid types.ObjectId
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRefs).Get([]byte(name))
		if v == nil {
			return nil
		}
		ok = true
		oid = types.ObjectId(v)
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("refstore: read %s: %w", name, err)
	}
	return oid, ok, nil
}

func (s *BoltStore) Write(name types.RefName, oid types.ObjectId) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRefs).Put([]byte(name), []byte(oid))
	})
	if err != nil {
		return fmt.Errorf("refstore: write %s: %w", name, err)
	}
	return nil
}

func (s *BoltStore) CAS(name types.RefName, old, new types.ObjectId) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return casInTx(tx, name, old, new)
	})
	if err != nil {
		return fmt.Errorf("refstore: cas %s: %w", name, err)
	}
	return nil
}

// casInTx applies one CAS edit inside an already-open bbolt transaction,
// shared by CAS and AtomicUpdate so both paths enforce the identical
// "current equals old" check.
func casInTx(tx *bolt.Tx, name types.RefName, old, new types.ObjectId) error {
	b := tx.Bucket(bucketRefs)
	current := b.Get([]byte(name))
	var currentOid types.ObjectId
	if current != nil {
		currentOid = types.ObjectId(current)
	}
	if currentOid != old {
		return types.ErrCasMismatch
	}
	if new == types.ZeroObjectId {
		return b.Delete([]byte(name))
	}
	return b.Put([]byte(name), []byte(new))
}

func (s *BoltStore) Delete(name types.RefName) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRefs).Delete([]byte(name))
	})
	if err != nil {
		return fmt.Errorf("refstore: delete %s: %w", name, err)
	}
	return nil
}

// AtomicUpdate applies every edit in one bbolt transaction: if any edit's
// CAS fails, the whole transaction rolls back and no ref moves
// (spec.md §4.1, and the two-step epoch/branch commit in §4.5.3).
func (s *BoltStore) AtomicUpdate(edits []Edit) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, e := range edits {
			if err := casInTx(tx, e.Name, e.OldOid, e.NewOid); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("refstore: atomic update: %w", err)
	}
	return nil
}

func (s *BoltStore) List(prefix string) ([]types.RefName, error) {
	var names []types.RefName
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRefs).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			names = append(names, types.RefName(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("refstore: list %s: %w", prefix, err)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names, nil
}

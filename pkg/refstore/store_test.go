package refstore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/cuemby/manifold/pkg/types"
)

func openTestBolt(t *testing.T) *BoltStore {
	t.Helper()
	s, err := OpenBolt(filepath.Join(t.TempDir(), "refs.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReadAbsentRefIsNotAnError(t *testing.T) {
	s := openTestBolt(t)
	_, ok, err := s.Read("epoch/current")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for an absent ref")
	}
}

func TestWriteThenRead(t *testing.T) {
	s := openTestBolt(t)
	if err := s.Write("epoch/current", "aaaa"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	oid, ok, err := s.Read("epoch/current")
	if err != nil || !ok || oid != "aaaa" {
		t.Fatalf("got (%q, %v, %v), want (aaaa, true, nil)", oid, ok, err)
	}
}

func TestCASCreateWithZeroOid(t *testing.T) {
	s := openTestBolt(t)
	if err := s.CAS("epoch/current", types.ZeroObjectId, "aaaa"); err != nil {
		t.Fatalf("CAS create: %v", err)
	}
	oid, ok, _ := s.Read("epoch/current")
	if !ok || oid != "aaaa" {
		t.Fatalf("got %q, %v", oid, ok)
	}
}

func TestCASMismatch(t *testing.T) {
	s := openTestBolt(t)
	if err := s.Write("epoch/current", "aaaa"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	err := s.CAS("epoch/current", "bbbb", "cccc")
	if !errors.Is(err, types.ErrCasMismatch) {
		t.Fatalf("expected ErrCasMismatch, got %v", err)
	}
	oid, _, _ := s.Read("epoch/current")
	if oid != "aaaa" {
		t.Fatalf("ref should be unchanged after a failed CAS, got %q", oid)
	}
}

func TestAtomicUpdateAllOrNothing(t *testing.T) {
	s := openTestBolt(t)
	if err := s.Write("epoch/current", "e1"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write("heads/main", "e1"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Second edit has a wrong old value: the whole update must roll back.
	err := s.AtomicUpdate([]Edit{
		{Name: "epoch/current", OldOid: "e1", NewOid: "e2"},
		{Name: "heads/main", OldOid: "wrong", NewOid: "e2"},
	})
	if !errors.Is(err, types.ErrCasMismatch) {
		t.Fatalf("expected ErrCasMismatch, got %v", err)
	}

	epoch, _, _ := s.Read("epoch/current")
	head, _, _ := s.Read("heads/main")
	if epoch != "e1" || head != "e1" {
		t.Fatalf("expected both refs unchanged, got epoch=%q heads/main=%q", epoch, head)
	}
}

func TestAtomicUpdateSucceedsTogether(t *testing.T) {
	s := openTestBolt(t)
	if err := s.Write("epoch/current", "e1"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write("heads/main", "e1"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	err := s.AtomicUpdate([]Edit{
		{Name: "epoch/current", OldOid: "e1", NewOid: "e2"},
		{Name: "heads/main", OldOid: "e1", NewOid: "e2"},
	})
	if err != nil {
		t.Fatalf("AtomicUpdate: %v", err)
	}

	epoch, _, _ := s.Read("epoch/current")
	head, _, _ := s.Read("heads/main")
	if epoch != "e2" || head != "e2" {
		t.Fatalf("expected both refs advanced, got epoch=%q heads/main=%q", epoch, head)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := openTestBolt(t)
	if err := s.Delete("manifold/snapshot/worker"); err != nil {
		t.Fatalf("Delete of absent ref should not error: %v", err)
	}
	if err := s.Write("manifold/snapshot/worker", "abc"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Delete("manifold/snapshot/worker"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, _ := s.Read("manifold/snapshot/worker")
	if ok {
		t.Fatal("expected ref to be gone after Delete")
	}
}

func TestListByPrefix(t *testing.T) {
	s := openTestBolt(t)
	for name, oid := range map[types.RefName]types.ObjectId{
		"manifold/head/worker":  "a",
		"manifold/head/default": "b",
		"epoch/current":         "c",
	} {
		if err := s.Write(name, oid); err != nil {
			t.Fatalf("Write %s: %v", name, err)
		}
	}

	names, err := s.List("manifold/head/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 refs under manifold/head/, got %v", names)
	}
}

package refstore

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/manifold/pkg/metrics"
	"github.com/cuemby/manifold/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// refCommandOp is the Raft log entry tag, mirroring
// pkg/manager/fsm.go's Command{Op string, Data json.RawMessage} shape.
type refCommandOp string

const (
	cmdWrite        refCommandOp = "write"
	cmdCAS          refCommandOp = "cas"
	cmdDelete       refCommandOp = "delete"
	cmdAtomicUpdate refCommandOp = "atomic_update"
)

// RefCommand is one Raft log entry: a single ref-store mutation applied
// identically on every replica via the FSM.
type RefCommand struct {
	Op     refCommandOp   `json:"op"`
	Name   types.RefName  `json:"name,omitempty"`
	OldOid types.ObjectId `json:"old_oid,omitempty"`
	NewOid types.ObjectId `json:"new_oid,omitempty"`
	Edits  []Edit         `json:"edits,omitempty"`
}

// refStoreFSM applies committed RefCommands to an underlying BoltStore,
// grounded on pkg/manager/fsm.go's WarrenFSM (Apply/Snapshot/Restore
// over a storage.Store).
type refStoreFSM struct {
	mu    sync.RWMutex
	store *BoltStore
}

func (f *refStoreFSM) Apply(log *raft.Log) interface{} {
	var cmd RefCommand
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("refstore fsm: unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case cmdWrite:
		return f.store.Write(cmd.Name, cmd.NewOid)
	case cmdCAS:
		return f.store.CAS(cmd.Name, cmd.OldOid, cmd.NewOid)
	case cmdDelete:
		return f.store.Delete(cmd.Name)
	case cmdAtomicUpdate:
		return f.store.AtomicUpdate(cmd.Edits)
	default:
		return fmt.Errorf("refstore fsm: unknown command op: %s", cmd.Op)
	}
}

// refStoreSnapshot is a point-in-time copy of every ref, used by Raft to
// compact the log (mirrors pkg/manager/fsm.go's WarrenSnapshot).
type refStoreSnapshot struct {
	Refs map[types.RefName]types.ObjectId
}

func (f *refStoreFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names, err := f.store.List("")
	if err != nil {
		return nil, fmt.Errorf("refstore fsm: list refs: %w", err)
	}
	refs := make(map[types.RefName]types.ObjectId, len(names))
	for _, n := range names {
		oid, ok, err := f.store.Read(n)
		if err != nil {
			return nil, fmt.Errorf("refstore fsm: read %s: %w", n, err)
		}
		if ok {
			refs[n] = oid
		}
	}
	return &refStoreSnapshot{Refs: refs}, nil
}

func (f *refStoreFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot refStoreSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("refstore fsm: decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for name, oid := range snapshot.Refs {
		if err := f.store.Write(name, oid); err != nil {
			return fmt.Errorf("refstore fsm: restore %s: %w", name, err)
		}
	}
	return nil
}

func (s *refStoreSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *refStoreSnapshot) Release() {}

// RaftStore replicates Store operations through hashicorp/raft so a
// `manifold serve` cluster shares one ref namespace. Local reads are
// served directly from the underlying BoltStore (read-your-writes on
// the leader; followers may lag until the next applied index).
type RaftStore struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft  *raft.Raft
	fsm   *refStoreFSM
	store *BoltStore
}

// RaftConfig configures a new RaftStore (mirrors pkg/manager.Config).
type RaftConfig struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewRaftStore opens the local BoltStore backing a RaftStore. Call
// Bootstrap or Join to start the Raft transport.
func NewRaftStore(cfg RaftConfig) (*RaftStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("refstore: create data dir: %w", err)
	}
	store, err := OpenBolt(filepath.Join(cfg.DataDir, "refs.db"))
	if err != nil {
		return nil, err
	}
	return &RaftStore{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		fsm:      &refStoreFSM{store: store},
		store:    store,
	}, nil
}

func (r *RaftStore) newRaft() (*raft.Raft, error) {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(r.nodeID)

	// Same LAN/edge-tuned timeouts as pkg/manager.Manager.Bootstrap,
	// favoring faster failure detection over WAN-safe defaults.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", r.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("refstore: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(r.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("refstore: create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(r.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("refstore: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(r.dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("refstore: create raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(r.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("refstore: create raft stable store: %w", err)
	}

	return raft.NewRaft(config, r.fsm, logStore, stableStore, snapshotStore, transport)
}

// Bootstrap initializes a new single-node Raft cluster, as the first
// server of a fresh `manifold serve` deployment.
func (r *RaftStore) Bootstrap() error {
	rf, err := r.newRaft()
	if err != nil {
		return err
	}
	r.raft = rf

	cfg := raft.Configuration{
		Servers: []raft.Server{{ID: raft.ServerID(r.nodeID), Address: raft.ServerAddress(r.bindAddr)}},
	}
	if err := r.raft.BootstrapCluster(cfg).Error(); err != nil {
		return fmt.Errorf("refstore: bootstrap cluster: %w", err)
	}
	return nil
}

// AddVoter adds a peer to the cluster. Only the leader can do this.
func (r *RaftStore) AddVoter(nodeID, address string) error {
	if r.raft == nil {
		return fmt.Errorf("refstore: raft not initialized")
	}
	if r.raft.State() != raft.Leader {
		return fmt.Errorf("refstore: not the leader, current leader: %s", r.raft.Leader())
	}
	future := r.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("refstore: add voter %s: %w", nodeID, err)
	}
	return nil
}

// Shutdown stops Raft and closes the underlying store.
func (r *RaftStore) Shutdown() error {
	if r.raft != nil {
		if err := r.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("refstore: raft shutdown: %w", err)
		}
	}
	return r.store.Close()
}

// apply submits one RefCommand through Raft and waits for it to commit,
// surfacing an FSM-returned error (mirrors pkg/manager.Manager.Apply).
func (r *RaftStore) apply(cmd RefCommand) error {
	if r.raft == nil {
		return fmt.Errorf("refstore: raft not initialized")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("refstore: marshal command: %w", err)
	}
	future := r.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("refstore: apply command: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

func (r *RaftStore) Read(name types.RefName) (types.ObjectId, bool, error) {
	return r.store.Read(name)
}

func (r *RaftStore) Write(name types.RefName, oid types.ObjectId) error {
	return r.apply(RefCommand{Op: cmdWrite, Name: name, NewOid: oid})
}

func (r *RaftStore) CAS(name types.RefName, old, new types.ObjectId) error {
	return r.apply(RefCommand{Op: cmdCAS, Name: name, OldOid: old, NewOid: new})
}

func (r *RaftStore) Delete(name types.RefName) error {
	return r.apply(RefCommand{Op: cmdDelete, Name: name})
}

func (r *RaftStore) AtomicUpdate(edits []Edit) error {
	return r.apply(RefCommand{Op: cmdAtomicUpdate, Edits: edits})
}

func (r *RaftStore) List(prefix string) ([]types.RefName, error) {
	return r.store.List(prefix)
}

// RaftStats implements metrics.ClusterObserver.
func (r *RaftStore) RaftStats() metrics.RaftStats {
	if r.raft == nil {
		return metrics.RaftStats{}
	}
	stats := metrics.RaftStats{
		IsLeader:     r.raft.State() == raft.Leader,
		LastLogIndex: r.raft.LastIndex(),
		AppliedIndex: r.raft.AppliedIndex(),
	}
	if cfg := r.raft.GetConfiguration(); cfg.Error() == nil {
		stats.Peers = len(cfg.Configuration().Servers)
	}
	return stats
}

var _ metrics.ClusterObserver = (*RaftStore)(nil)

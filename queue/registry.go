package queue

import (
	"context"
	"sync"
	"time"

	// Packages
	pg "github.com/koudelka/honeydew/pg"
	uuid "github.com/google/uuid"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES
//
// Registry replaces the design note's "global process groups used for
// discovery" (§9) with an explicit membership interface: local and
// cluster-global variants behind the same surface. A queue process
// registers itself under its name at startup and deregisters on
// shutdown; Manager consults the registry to route External calls
// (Enqueue, Suspend, Status, ...) to a running QueueHandle.

// QueueHandle is what a Registry tracks: the live components backing
// one named queue on this node.
type QueueHandle struct {
	Queue    string
	Source   *Source
	PollQueue *PollQueue
	Pipeline *Pipeline
}

// Registry is the membership surface. LocalRegistry satisfies every
// operation the current scope needs; ClusterRegistry additionally
// advertises presence to other nodes but still only resolves handles
// running on this process (spec's Non-goals explicitly exclude
// "distributed coordination outside the database" — cross-node job
// handoff is not in scope, only discovering where a queue is running).
type Registry interface {
	// Register advertises a queue as running under name.
	Register(ctx context.Context, name string, h *QueueHandle) error

	// Unregister withdraws a queue's advertisement.
	Unregister(ctx context.Context, name string) error

	// Lookup returns the handle registered under name on this process.
	Lookup(name string) (*QueueHandle, bool)

	// Names lists every queue name registered on this process.
	Names() []string
}

////////////////////////////////////////////////////////////////////////////////
// LOCAL REGISTRY

// LocalRegistry tracks queue membership within a single process. This is
// the only variant spec.md's scope requires end-to-end.
type LocalRegistry struct {
	mu   sync.RWMutex
	byName map[string]*QueueHandle
}

var _ Registry = (*LocalRegistry)(nil)

// NewLocalRegistry constructs an empty LocalRegistry.
func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{byName: make(map[string]*QueueHandle)}
}

func (r *LocalRegistry) Register(_ context.Context, name string, h *QueueHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return ErrBadParameter.Withf("queue %q is already registered", name)
	}
	r.byName[name] = h
	return nil
}

func (r *LocalRegistry) Unregister(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
	return nil
}

func (r *LocalRegistry) Lookup(name string) (*QueueHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byName[name]
	return h, ok
}

func (r *LocalRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}

////////////////////////////////////////////////////////////////////////////////
// CLUSTER REGISTRY
//
// ClusterRegistry embeds LocalRegistry for Lookup/Names (this node only
// ever dispatches to queue processes it hosts, per the Non-goal above)
// and additionally records presence rows in a shared table, so other
// nodes running Honeydew can discover which node currently hosts a
// given queue name. The presence row is advisory: losing a heartbeat
// does not revoke a node's reservations, it only ages out the row.

// ClusterRegistry is the cluster-global Registry variant: Lookup and
// Names are local-only (see Registry doc), but Register/Unregister also
// maintain a presence row in honeydew_registry keyed by (queue, node).
type ClusterRegistry struct {
	*LocalRegistry
	conn     pg.PoolConn
	nodeID   string
	heartbeat time.Duration
}

var _ Registry = (*ClusterRegistry)(nil)

// NewClusterRegistry constructs a ClusterRegistry. nodeID defaults to a
// fresh UUID if empty.
func NewClusterRegistry(conn pg.PoolConn, nodeID string, heartbeat time.Duration) *ClusterRegistry {
	if nodeID == "" {
		nodeID = uuid.New().String()
	}
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &ClusterRegistry{
		LocalRegistry: NewLocalRegistry(),
		conn:          conn,
		nodeID:        nodeID,
		heartbeat:     heartbeat,
	}
}

// NodeID returns this registry's node identity.
func (r *ClusterRegistry) NodeID() string {
	return r.nodeID
}

func (r *ClusterRegistry) Register(ctx context.Context, name string, h *QueueHandle) error {
	if err := r.LocalRegistry.Register(ctx, name, h); err != nil {
		return err
	}
	sql := `INSERT INTO honeydew_registry (queue_name, node_id, registered_at, updated_at)
VALUES (@queue_name, @node_id, now(), now())
ON CONFLICT (queue_name, node_id) DO UPDATE SET updated_at = now()`
	_, err := r.conn.With("queue_name", name, "node_id", r.nodeID).Exec(ctx, sql)
	return err
}

func (r *ClusterRegistry) Unregister(ctx context.Context, name string) error {
	if err := r.LocalRegistry.Unregister(ctx, name); err != nil {
		return err
	}
	sql := `DELETE FROM honeydew_registry WHERE queue_name = @queue_name AND node_id = @node_id`
	_, err := r.conn.With("queue_name", name, "node_id", r.nodeID).Exec(ctx, sql)
	return err
}

// RunHeartbeatLoop refreshes this node's presence rows on a fixed
// interval until ctx is cancelled, so other nodes can tell a live
// registration from an abandoned one.
func (r *ClusterRegistry) RunHeartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sql := `UPDATE honeydew_registry SET updated_at = now() WHERE node_id = @node_id`
			if _, err := r.conn.With("node_id", r.nodeID).Exec(ctx, sql); err != nil {
				return err
			}
		}
	}
}

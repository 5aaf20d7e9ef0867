package fileop

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamgarcia4/goLearning/hydfs/membership"
	"github.com/adamgarcia4/goLearning/hydfs/ring"
	"github.com/adamgarcia4/goLearning/hydfs/store"
)

// testCluster wires several coordinators to one shared ring and routes
// datagrams between them synchronously, so full request/response flows
// run without sockets or timeouts.
type testCluster struct {
	t     *testing.T
	ring  *ring.Ring
	nodes map[string]*testNode // addr -> node
}

type testNode struct {
	id    membership.NodeId
	store *store.FileStore
	coord *Coordinator
}

func newTestCluster(t *testing.T, ports ...string) *testCluster {
	t.Helper()
	cl := &testCluster{t: t, ring: ring.New(), nodes: make(map[string]*testNode)}
	for _, port := range ports {
		id := membership.NodeId{Host: "127.0.0.1", Port: port, Timestamp: 1700000000}
		st, err := store.Open(filepath.Join(t.TempDir(), "node-"+port), t.Logf)
		require.NoError(t, err)
		n := &testNode{id: id, store: st}
		n.coord = NewCoordinator(id, cl.ring, st, store.NewClientTracker(), cl.sendFrom(id), "", t.Logf)
		cl.ring.Add(id)
		cl.nodes[id.Addr()] = n
	}
	return cl
}

func (cl *testCluster) sendFrom(sender membership.NodeId) SendFunc {
	return func(addr string, payload []byte) {
		if n, ok := cl.nodes[addr]; ok {
			n.coord.HandleDatagram(payload, sender.Addr())
		}
	}
}

func (cl *testCluster) node(id membership.NodeId) *testNode {
	return cl.nodes[id.Addr()]
}

// nonReplica returns a node that is not in the file's replica set.
func (cl *testCluster) nonReplica(filename string) *testNode {
	replicas := cl.ring.FileReplicas(filename)
	for _, n := range cl.nodes {
		inSet := false
		for _, r := range replicas {
			if r == n.id {
				inSet = true
				break
			}
		}
		if !inSet {
			return n
		}
	}
	cl.t.Fatalf("every node replicates %s", filename)
	return nil
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCreatePlacesFileOnReplicasOnly(t *testing.T) {
	cl := newTestCluster(t, "9001", "9002", "9003", "9004", "9005")
	client := cl.nonReplica("alpha.txt")

	require.NoError(t, client.coord.Create(writeTemp(t, "hello"), "alpha.txt"))

	replicas := cl.ring.FileReplicas("alpha.txt")
	require.Len(t, replicas, 3)
	for _, r := range replicas {
		data, err := cl.node(r).store.Get("alpha.txt")
		require.NoError(t, err, "replica %s", r.Addr())
		assert.Equal(t, []byte("hello"), data)
	}
	assert.False(t, client.store.Has("alpha.txt"), "non-replica client stores nothing")
}

func TestCreateReplayIsIdempotent(t *testing.T) {
	cl := newTestCluster(t, "9001", "9002", "9003")
	client := cl.nodes["127.0.0.1:9001"]

	require.NoError(t, client.coord.Create(writeTemp(t, "first"), "f"))
	require.NoError(t, client.coord.Create(writeTemp(t, "second"), "f"), "re-create keeps the existing copy")

	for _, n := range cl.nodes {
		data, err := n.store.Get("f")
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), data)
	}
}

func TestGetFetchesFromRemoteReplica(t *testing.T) {
	cl := newTestCluster(t, "9001", "9002", "9003", "9004", "9005")
	client := cl.nonReplica("beta.txt")
	require.NoError(t, client.coord.Create(writeTemp(t, "payload"), "beta.txt"))

	out := filepath.Join(t.TempDir(), "out")
	require.NoError(t, client.coord.Get("beta.txt", out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestGetMissingFileFails(t *testing.T) {
	cl := newTestCluster(t, "9001", "9002", "9003", "9004")
	client := cl.nonReplica("ghost")
	err := client.coord.Get("ghost", filepath.Join(t.TempDir(), "out"))
	assert.Error(t, err)
}

func TestAppendFunnelsThroughCoordinatorAndReplicates(t *testing.T) {
	cl := newTestCluster(t, "9001", "9002", "9003", "9004", "9005")
	client := cl.nonReplica("gamma.txt")
	require.NoError(t, client.coord.Create(writeTemp(t, "one "), "gamma.txt"))
	require.NoError(t, client.coord.Append(writeTemp(t, "two"), "gamma.txt"))

	for _, r := range cl.ring.FileReplicas("gamma.txt") {
		meta, ok := cl.node(r).store.Metadata("gamma.txt")
		require.True(t, ok)
		assert.Len(t, meta.BlockIDs, 2, "replica %s", r.Addr())
		data, err := cl.node(r).store.Get("gamma.txt")
		require.NoError(t, err)
		assert.Equal(t, []byte("one two"), data)
	}
}

func TestAppendToMissingFileFails(t *testing.T) {
	cl := newTestCluster(t, "9001", "9002", "9003")
	client := cl.nodes["127.0.0.1:9002"]
	err := client.coord.Append(writeTemp(t, "x"), "never-created")
	assert.Error(t, err)
}

func TestReadMyWritesAfterAppend(t *testing.T) {
	cl := newTestCluster(t, "9001", "9002", "9003", "9004", "9005")
	client := cl.nonReplica("delta.txt")
	require.NoError(t, client.coord.Create(writeTemp(t, "base "), "delta.txt"))
	require.NoError(t, client.coord.Append(writeTemp(t, "mine"), "delta.txt"))

	out := filepath.Join(t.TempDir(), "out")
	require.NoError(t, client.coord.Get("delta.txt", out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("base mine"), data, "a client always sees its own appends")
}

func TestMergeConvergesReplicasOnOneOrder(t *testing.T) {
	cl := newTestCluster(t, "9001", "9002", "9003", "9004", "9005")
	client := cl.nonReplica("epsilon.txt")
	require.NoError(t, client.coord.Create(writeTemp(t, "a"), "epsilon.txt"))

	// two different writers append
	var other *testNode
	for _, n := range cl.nodes {
		if n != client {
			other = n
			break
		}
	}
	require.NoError(t, client.coord.Append(writeTemp(t, "b"), "epsilon.txt"))
	require.NoError(t, other.coord.Append(writeTemp(t, "c"), "epsilon.txt"))

	version, err := client.coord.Merge("epsilon.txt")
	require.NoError(t, err)
	assert.Greater(t, version, uint32(1))

	replicas := cl.ring.FileReplicas("epsilon.txt")
	first, ok := cl.node(replicas[0]).store.Metadata("epsilon.txt")
	require.True(t, ok)
	assert.Equal(t, version, first.Version)
	for _, r := range replicas[1:] {
		meta, ok := cl.node(r).store.Metadata("epsilon.txt")
		require.True(t, ok)
		assert.Equal(t, first.BlockIDs, meta.BlockIDs, "replica %s diverges", r.Addr())
		assert.Equal(t, version, meta.Version)
	}
}

func TestMergeOnCoordinatorItself(t *testing.T) {
	cl := newTestCluster(t, "9001", "9002", "9003")
	replicas := cl.ring.FileReplicas("zeta")
	coordNode := cl.node(replicas[0])

	require.NoError(t, coordNode.coord.Create(writeTemp(t, "x"), "zeta"))
	version, err := coordNode.coord.Merge("zeta")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), version)
}

func TestLsReportsEveryReplica(t *testing.T) {
	cl := newTestCluster(t, "9001", "9002", "9003", "9004", "9005")
	client := cl.nonReplica("eta.txt")
	require.NoError(t, client.coord.Create(writeTemp(t, "x"), "eta.txt"))

	entries, err := client.coord.Ls("eta.txt")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, "yes", e.Holds, "replica %s", e.Replica.Addr())
		assert.Equal(t, ring.NodePosition(e.Replica), e.RingID)
	}
}

func TestLsOnAbsentFile(t *testing.T) {
	cl := newTestCluster(t, "9001", "9002", "9003")
	entries, err := cl.nodes["127.0.0.1:9001"].coord.Ls("nothing")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, "no", e.Holds)
	}
}

func TestListStoreRemote(t *testing.T) {
	cl := newTestCluster(t, "9001", "9002", "9003")
	client := cl.nodes["127.0.0.1:9001"]
	require.NoError(t, client.coord.Create(writeTemp(t, "abc"), "theta"))

	replicas := cl.ring.FileReplicas("theta")
	resp, err := client.coord.ListStoreRemote(replicas[0].Addr())
	require.NoError(t, err)
	assert.Equal(t, ring.NodePosition(replicas[0]), resp.RingID)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "theta", resp.Entries[0].Filename)
	assert.Equal(t, uint64(3), resp.Entries[0].Size)
}

func TestGetFromReplicaBypassesSelection(t *testing.T) {
	cl := newTestCluster(t, "9001", "9002", "9003", "9004")
	client := cl.nonReplica("iota")
	require.NoError(t, client.coord.Create(writeTemp(t, "direct"), "iota"))

	replicas := cl.ring.FileReplicas("iota")
	out := filepath.Join(t.TempDir(), "out")
	require.NoError(t, client.coord.GetFromReplica(replicas[2].Addr(), "iota", out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("direct"), data)
}

func TestRecoverAfterRemovalRepopulatesReplicaSet(t *testing.T) {
	cl := newTestCluster(t, "9001", "9002", "9003", "9004", "9005")
	client := cl.nonReplica("kappa")
	require.NoError(t, client.coord.Create(writeTemp(t, "survive"), "kappa"))

	before := cl.ring.FileReplicas("kappa")
	lost := before[1]
	cl.ring.Remove(lost)

	after := cl.ring.FileReplicas("kappa")
	require.Equal(t, before[0], after[0], "coordinator survives the removal")
	var newcomer membership.NodeId
	for _, r := range after {
		if r != before[0] && r != before[2] {
			newcomer = r
		}
	}
	require.False(t, newcomer.IsZero())
	require.False(t, cl.node(newcomer).store.Has("kappa"))

	cl.node(after[0]).coord.RecoverAfterRemoval(lost)

	data, err := cl.node(newcomer).store.Get("kappa")
	require.NoError(t, err)
	assert.Equal(t, []byte("survive"), data)
	meta, ok := cl.node(newcomer).store.Metadata("kappa")
	require.True(t, ok)
	assert.Len(t, meta.BlockIDs, 1)
}

func TestLookupByAddrFallsBackToPort(t *testing.T) {
	responses := map[string]*int{}
	v := 7
	responses["127.0.0.1:9001"] = &v

	assert.Equal(t, &v, lookupByAddr(responses, "127.0.0.1:9001"))
	assert.Equal(t, &v, lookupByAddr(responses, "localhost:9001"), "spelling differences match by port")
	assert.Nil(t, lookupByAddr(responses, "127.0.0.1:9002"))
}

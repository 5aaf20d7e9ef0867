package fileop

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adamgarcia4/goLearning/hydfs/membership"
	"github.com/adamgarcia4/goLearning/hydfs/ring"
	"github.com/adamgarcia4/goLearning/hydfs/store"
)

/*
Coordinator

The file operation engine for one node. It plays both sides of the
protocol: the client side (create/get/append/merge/ls issued from the
command shell) and the server side (every file message arriving on the
socket, handled in handlers.go).

Placement comes from the ring: a file's replica set is the three
successors of its filename hash, and replicas[0] is its coordinator.
Appends funnel through the coordinator so it can order blocks; merge
runs on the coordinator so every replica converges on one layout.
*/

// Request/response timeouts. The transport is fire and forget, so every
// waiting operation owns a deadline.
const (
	getTimeout     = 5 * time.Second
	appendTimeout  = 5 * time.Second
	lsTimeout      = 3 * time.Second
	collectTimeout = 3 * time.Second
	mergeTimeout   = 10 * time.Second
)

// SendFunc transmits one datagram to host:port, best effort.
type SendFunc func(addr string, payload []byte)

// LsEntry is one replica's answer in an ls report.
type LsEntry struct {
	Replica membership.NodeId
	RingID  uint64
	// "yes" if the replica answered and has the file, "no" if it
	// answered without it, "?" if it never answered
	Holds string
}

// Coordinator ties the ring, the store, and the tracker to the wire.
type Coordinator struct {
	self     membership.NodeId
	ring     *ring.Ring
	store    *store.FileStore
	tracker  *store.ClientTracker
	send     SendFunc
	logf     func(format string, args ...interface{})
	filesDir string

	seqMu sync.Mutex
	seqs  map[string]uint32

	gets     *waiters[*GetFileResponse]
	appends  *waiters[*AppendAck]
	merges   *waiters[*MergeResponse]
	stores   *waiters[*ListStoreResponse]
	exists   *collector[*FileExistsResponse]
	collects *collector[*CollectBlocksResponse]
}

// NewCoordinator wires a coordinator. filesDir is where relative local
// filenames resolve; empty means the working directory.
func NewCoordinator(self membership.NodeId, rg *ring.Ring, st *store.FileStore, tracker *store.ClientTracker, send SendFunc, filesDir string, logf func(string, ...interface{})) *Coordinator {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Coordinator{
		self:     self,
		ring:     rg,
		store:    st,
		tracker:  tracker,
		send:     send,
		logf:     logf,
		filesDir: filesDir,
		seqs:     make(map[string]uint32),
		gets:     newWaiters[*GetFileResponse](),
		appends:  newWaiters[*AppendAck](),
		merges:   newWaiters[*MergeResponse](),
		stores:   newWaiters[*ListStoreResponse](),
		exists:   newCollector[*FileExistsResponse](),
		collects: newCollector[*CollectBlocksResponse](),
	}
}

// ClientID returns this node's identity as a writer.
func (c *Coordinator) ClientID() string {
	return c.self.String()
}

// RingID returns this node's ring position.
func (c *Coordinator) RingID() uint64 {
	return ring.NodePosition(c.self)
}

// Store exposes the local block store.
func (c *Coordinator) Store() *store.FileStore {
	return c.store
}

func (c *Coordinator) nextSeq(filename string) uint32 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	c.seqs[filename]++
	return c.seqs[filename]
}

// ResolveLocal maps a local filename to the node's files directory.
// Absolute paths pass through.
func (c *Coordinator) ResolveLocal(path string) string {
	if filepath.IsAbs(path) || c.filesDir == "" {
		return path
	}
	return filepath.Join(c.filesDir, path)
}

func (c *Coordinator) replicasFor(filename string) ([]membership.NodeId, error) {
	replicas := c.ring.FileReplicas(filename)
	if len(replicas) == 0 {
		return nil, fmt.Errorf("%s: no nodes on the ring", filename)
	}
	return replicas, nil
}

// Create reads a local file and installs it in HyDFS as a single first
// block, fanned out to every replica. Best effort: no acks are awaited,
// and a replica that already has the file keeps its copy.
func (c *Coordinator) Create(localPath, hydfsName string) error {
	data, err := os.ReadFile(c.ResolveLocal(localPath))
	if err != nil {
		return fmt.Errorf("read local file: %w", err)
	}
	replicas, err := c.replicasFor(hydfsName)
	if err != nil {
		return err
	}

	block := store.NewFileBlock(c.ClientID(), c.nextSeq(hydfsName), time.Now().UnixMilli(), data)
	req := &CreateFileRequest{Filename: hydfsName, Block: block}
	payload := req.Encode()

	for _, replica := range replicas {
		if replica == c.self {
			if err := c.store.Create(hydfsName, block); err != nil && err != store.ErrFileExists {
				return fmt.Errorf("local create: %w", err)
			}
			continue
		}
		c.send(replica.Addr(), payload)
	}
	c.logf("create %s (%d bytes) -> replicas %s", hydfsName, len(data), formatReplicas(replicas))
	return nil
}

// Get fetches a file into a local path. The local copy is used when it
// already shows all of this client's writes; otherwise one replica is
// asked and its answer is re-checked against the tracker before being
// accepted.
func (c *Coordinator) Get(hydfsName, localPath string) error {
	clientID := c.ClientID()
	if meta, ok := c.store.Metadata(hydfsName); ok && c.tracker.Satisfied(clientID, hydfsName, meta.BlockIDs) {
		data, err := c.store.Get(hydfsName)
		if err != nil {
			return err
		}
		c.logf("get %s served locally (%d bytes)", hydfsName, len(data))
		return os.WriteFile(c.ResolveLocal(localPath), data, 0o644)
	}

	replicas, err := c.replicasFor(hydfsName)
	if err != nil {
		return err
	}
	target := pickRemote(replicas, c.self)
	if target.IsZero() {
		return fmt.Errorf("get %s: %w", hydfsName, store.ErrFileNotFound)
	}
	resp, err := c.fetch(target.Addr(), hydfsName)
	if err != nil {
		return err
	}
	if !c.tracker.Satisfied(clientID, hydfsName, blockIDsOf(resp.Blocks)) {
		return fmt.Errorf("get %s: replica %s is missing this client's writes", hydfsName, target)
	}
	return os.WriteFile(c.ResolveLocal(localPath), assemble(resp.Blocks), 0o644)
}

// GetFromReplica fetches a specific replica's copy of a file, bypassing
// replica selection and the read-my-writes check. A debugging window
// into replica divergence.
func (c *Coordinator) GetFromReplica(addr, hydfsName, localPath string) error {
	resp, err := c.fetch(addr, hydfsName)
	if err != nil {
		return err
	}
	return os.WriteFile(c.ResolveLocal(localPath), assemble(resp.Blocks), 0o644)
}

func (c *Coordinator) fetch(addr, hydfsName string) (*GetFileResponse, error) {
	ch, ok := c.gets.register(hydfsName)
	if !ok {
		return nil, fmt.Errorf("get %s: request already in flight", hydfsName)
	}
	req := &GetFileRequest{Filename: hydfsName, ClientID: c.ClientID()}
	c.send(addr, req.Encode())

	select {
	case resp := <-ch:
		if resp.Status != StatusOK {
			return nil, fmt.Errorf("get %s: %s", hydfsName, resp.Status)
		}
		return resp, nil
	case <-time.After(getTimeout):
		c.gets.cancel(hydfsName)
		return nil, fmt.Errorf("get %s from %s: %s", hydfsName, addr, ErrorReplicaUnavailable)
	}
}

// Append sends a local file's contents as one new block through the
// file's coordinator, then records the block for read-my-writes.
func (c *Coordinator) Append(localPath, hydfsName string) error {
	data, err := os.ReadFile(c.ResolveLocal(localPath))
	if err != nil {
		return fmt.Errorf("read local file: %w", err)
	}
	replicas, err := c.replicasFor(hydfsName)
	if err != nil {
		return err
	}
	block := store.NewFileBlock(c.ClientID(), c.nextSeq(hydfsName), time.Now().UnixMilli(), data)

	coordinator := replicas[0]
	if coordinator == c.self {
		if err := c.applyAppend(hydfsName, block); err != nil {
			return err
		}
		c.tracker.RecordAppend(c.ClientID(), hydfsName, block.BlockID)
		return nil
	}

	ch, ok := c.appends.register(hydfsName)
	if !ok {
		return fmt.Errorf("append %s: request already in flight", hydfsName)
	}
	req := &AppendFileRequest{Filename: hydfsName, Block: block}
	c.send(coordinator.Addr(), req.Encode())

	select {
	case ack := <-ch:
		if ack.Status != StatusOK {
			return fmt.Errorf("append %s: %s", hydfsName, ack.Status)
		}
		c.tracker.RecordAppend(c.ClientID(), hydfsName, block.BlockID)
		return nil
	case <-time.After(appendTimeout):
		c.appends.cancel(hydfsName)
		return fmt.Errorf("append %s via %s: %s", hydfsName, coordinator, ErrorReplicaUnavailable)
	}
}

// Merge asks the file's coordinator to collapse all replica copies into
// one deterministic block order. Returns the merged version.
func (c *Coordinator) Merge(hydfsName string) (uint32, error) {
	replicas, err := c.replicasFor(hydfsName)
	if err != nil {
		return 0, err
	}
	coordinator := replicas[0]
	if coordinator == c.self {
		return c.runMerge(hydfsName)
	}

	ch, ok := c.merges.register(hydfsName)
	if !ok {
		return 0, fmt.Errorf("merge %s: request already in flight", hydfsName)
	}
	req := &MergeRequest{Filename: hydfsName}
	c.send(coordinator.Addr(), req.Encode())

	select {
	case resp := <-ch:
		return resp.Version, nil
	case <-time.After(mergeTimeout):
		c.merges.cancel(hydfsName)
		return 0, fmt.Errorf("merge %s via %s: %s", hydfsName, coordinator, ErrorReplicaUnavailable)
	}
}

// runMerge is the coordinator side of merge: collect every replica's
// blocks, order the union, install it everywhere. Replicas that never
// answer within the collect window are merged without.
func (c *Coordinator) runMerge(filename string) (uint32, error) {
	replicas, err := c.replicasFor(filename)
	if err != nil {
		return 0, err
	}
	others := withoutSelf(replicas, c.self)

	st := c.collects.open(filename, len(others))
	if st == nil {
		return 0, fmt.Errorf("merge %s: already running", filename)
	}
	req := &CollectBlocksRequest{Filename: filename}
	for _, replica := range others {
		c.send(replica.Addr(), req.Encode())
	}
	if len(others) > 0 {
		select {
		case <-st.done:
		case <-time.After(collectTimeout):
		}
	}
	responses := c.collects.close(filename)

	union := make(map[uint64]*store.FileBlock)
	var maxVersion uint32
	if meta, ok := c.store.Metadata(filename); ok {
		maxVersion = meta.Version
		blocks, err := c.store.Blocks(filename)
		if err == nil {
			for _, b := range blocks {
				union[b.BlockID] = b
			}
		}
	}
	for _, resp := range responses {
		if resp.Version > maxVersion {
			maxVersion = resp.Version
		}
		for _, b := range resp.Blocks {
			if _, ok := union[b.BlockID]; !ok {
				union[b.BlockID] = b
			}
		}
	}

	ordered := make([]*store.FileBlock, 0, len(union))
	for _, b := range union {
		ordered = append(ordered, b)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Less(ordered[j])
	})

	newVersion := maxVersion + 1
	if err := c.store.Merge(filename, ordered, newVersion); err != nil {
		return 0, fmt.Errorf("merge %s: %w", filename, err)
	}

	update := &MergeUpdateMessage{
		Filename:   filename,
		BlockIDs:   blockIDsOf(ordered),
		NewVersion: newVersion,
	}
	for _, replica := range others {
		// push every block first so the update can always be applied
		for _, b := range ordered {
			rep := &ReplicateBlockMessage{Filename: filename, Block: b}
			c.send(replica.Addr(), rep.Encode())
		}
		c.send(replica.Addr(), update.Encode())
	}
	c.logf("merged %s: %d blocks, version %d, %d/%d replicas answered",
		filename, len(ordered), newVersion, len(responses), len(others))
	return newVersion, nil
}

// Ls probes the file's three replicas and reports which of them hold
// it. Replicas that stay silent show up as "?".
func (c *Coordinator) Ls(hydfsName string) ([]LsEntry, error) {
	replicas, err := c.replicasFor(hydfsName)
	if err != nil {
		return nil, err
	}

	remote := withoutSelf(replicas, c.self)
	st := c.exists.open(hydfsName, len(remote))
	if st == nil {
		return nil, fmt.Errorf("ls %s: request already in flight", hydfsName)
	}
	req := &FileExistsRequest{Filename: hydfsName, RequesterID: c.ClientID()}
	for _, replica := range remote {
		c.send(replica.Addr(), req.Encode())
	}
	if len(remote) > 0 {
		select {
		case <-st.done:
		case <-time.After(lsTimeout):
		}
	}
	responses := c.exists.close(hydfsName)

	entries := make([]LsEntry, 0, len(replicas))
	for _, replica := range replicas {
		entry := LsEntry{Replica: replica, RingID: ring.NodePosition(replica), Holds: "?"}
		if replica == c.self {
			if c.store.Has(hydfsName) {
				entry.Holds = "yes"
			} else {
				entry.Holds = "no"
			}
		} else if resp := lookupByAddr(responses, replica.Addr()); resp != nil {
			if resp.Exists {
				entry.Holds = "yes"
			} else {
				entry.Holds = "no"
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ListStore returns the local store's contents.
func (c *Coordinator) ListStore() []*store.FileMetadata {
	return c.store.List()
}

// ListStoreRemote asks another node what it stores. One remote listing
// at a time.
func (c *Coordinator) ListStoreRemote(addr string) (*ListStoreResponse, error) {
	ch, ok := c.stores.register("liststore")
	if !ok {
		return nil, fmt.Errorf("liststore: request already in flight")
	}
	req := &ListStoreRequest{RequesterID: c.ClientID()}
	c.send(addr, req.Encode())

	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(lsTimeout):
		c.stores.cancel("liststore")
		return nil, fmt.Errorf("liststore %s: %s", addr, ErrorReplicaUnavailable)
	}
}

// RecoverAfterRemoval re-replicates files after a membership removal.
// For every local file whose coordinator this node now is, the full
// block set and layout are pushed to the other replicas; replicas that
// already hold the blocks absorb the push as no-ops.
func (c *Coordinator) RecoverAfterRemoval(removed membership.NodeId) {
	for _, meta := range c.store.List() {
		replicas := c.ring.FileReplicas(meta.Filename)
		if len(replicas) == 0 || replicas[0] != c.self {
			continue
		}
		blocks, err := c.store.Blocks(meta.Filename)
		if err != nil {
			c.logf("recovery: reading %s: %v", meta.Filename, err)
			continue
		}
		transfer := &TransferFilesMessage{Metadata: meta}
		for _, replica := range withoutSelf(replicas, c.self) {
			for _, b := range blocks {
				rep := &ReplicateBlockMessage{Filename: meta.Filename, Block: b}
				c.send(replica.Addr(), rep.Encode())
			}
			c.send(replica.Addr(), transfer.Encode())
		}
		c.logf("recovery: re-replicated %s (%d blocks) after %s was removed",
			meta.Filename, len(blocks), removed)
	}
}

// applyAppend is the coordinator-side append: store locally, then push
// the block to the other replicas.
func (c *Coordinator) applyAppend(filename string, block *store.FileBlock) error {
	if err := c.store.AppendBlock(filename, block); err != nil {
		return err
	}
	replicas, err := c.replicasFor(filename)
	if err != nil {
		return err
	}
	rep := &ReplicateBlockMessage{Filename: filename, Block: block}
	payload := rep.Encode()
	for _, replica := range withoutSelf(replicas, c.self) {
		c.send(replica.Addr(), payload)
	}
	return nil
}

func pickRemote(replicas []membership.NodeId, self membership.NodeId) membership.NodeId {
	for _, r := range replicas {
		if r != self {
			return r
		}
	}
	return membership.NodeId{}
}

func withoutSelf(replicas []membership.NodeId, self membership.NodeId) []membership.NodeId {
	result := make([]membership.NodeId, 0, len(replicas))
	for _, r := range replicas {
		if r != self {
			result = append(result, r)
		}
	}
	return result
}

func blockIDsOf(blocks []*store.FileBlock) []uint64 {
	ids := make([]uint64, 0, len(blocks))
	for _, b := range blocks {
		ids = append(ids, b.BlockID)
	}
	return ids
}

func assemble(blocks []*store.FileBlock) []byte {
	var data []byte
	for _, b := range blocks {
		data = append(data, b.Data...)
	}
	return data
}

func formatReplicas(replicas []membership.NodeId) string {
	parts := make([]string, 0, len(replicas))
	for _, r := range replicas {
		parts = append(parts, r.Addr())
	}
	return strings.Join(parts, ", ")
}

// lookupByAddr matches a response to a replica address. Exact match
// first, then by port: the kernel may report 127.0.0.1 where the config
// said localhost.
func lookupByAddr[T any](responses map[string]*T, addr string) *T {
	if resp, ok := responses[addr]; ok {
		return resp
	}
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return nil
	}
	port := addr[idx:]
	for from, resp := range responses {
		if strings.HasSuffix(from, port) {
			return resp
		}
	}
	return nil
}

package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adamgarcia4/goLearning/hydfs/fileop"
	"github.com/adamgarcia4/goLearning/hydfs/logger"
	"github.com/adamgarcia4/goLearning/hydfs/membership"
	"github.com/adamgarcia4/goLearning/hydfs/ring"
	"github.com/adamgarcia4/goLearning/hydfs/store"
	"github.com/adamgarcia4/goLearning/hydfs/transport"
)

// Node is one HyDFS process: a UDP endpoint, a failure detector, a ring
// view, a block store, and the file operation coordinator on top.
type Node struct {
	config   *Config
	id       membership.NodeId
	detector *membership.Detector
	ring     *ring.Ring
	store    *store.FileStore
	tracker  *store.ClientTracker
	coord    *fileop.Coordinator

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
	udp    *transport.UDP
}

// New creates a node with the given configuration. The store is opened
// (and recovered) here; the socket is not bound until Start.
func New(config *Config) (*Node, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	id := membership.NodeId{
		Host:      config.Host,
		Port:      config.Port,
		Timestamp: uint32(time.Now().Unix()),
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config: config,
		id:     id,
		ring:   ring.New(),
		ctx:    ctx,
		cancel: cancel,
	}

	fileStore, err := store.Open(config.StoreRoot, n.logf)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open store: %w", err)
	}
	n.store = fileStore
	n.tracker = store.NewClientTracker()

	n.detector = membership.NewDetector(id, config.Mode, n.sendDatagram, n.logf)
	n.detector.SetHooks(n.onMemberJoin, n.onMemberRemoved)
	n.ring.Add(id)

	n.coord = fileop.NewCoordinator(id, n.ring, fileStore, n.tracker, n.sendDatagram, config.FilesDir, n.logf)
	return n, nil
}

// Start binds the socket, joins the cluster through the introducer (or
// seeds it, if this node is the introducer), and launches the protocol
// loops. An unreachable introducer is returned as an error; the caller
// decides whether that is fatal.
func (n *Node) Start() error {
	n.mu.Lock()
	udp, err := transport.Listen(n.config.Host, n.config.Port, n.logf)
	if err != nil {
		n.mu.Unlock()
		return fmt.Errorf("bind udp socket: %w", err)
	}
	udp.SetDropRate(n.config.DropRate)
	udp.SetHandlers(n.handleMembershipDatagram, n.coord.HandleDatagram)
	udp.Start(n.ctx)
	n.udp = udp
	n.mu.Unlock()

	n.logf("listening on %s (node id %s)", n.config.Addr(), n.id)

	if n.config.IsIntroducer() {
		n.logf("acting as introducer, seeding the cluster")
	} else {
		if err := n.detector.Join(n.config.Introducer); err != nil {
			n.Stop()
			return err
		}
	}

	go n.detector.Run(n.ctx)
	return nil
}

// Stop leaves the cluster (if still in it) and tears the node down.
func (n *Node) Stop() error {
	if !n.detector.HasLeft() && n.detector.List().Len() > 1 {
		n.detector.Leave()
	}
	n.cancel()

	n.mu.Lock()
	udp := n.udp
	n.udp = nil
	n.mu.Unlock()
	if udp != nil {
		udp.Close()
	}
	n.logf("stopped")
	return nil
}

// Leave broadcasts a voluntary departure without tearing the node down;
// the process keeps running but stops participating.
func (n *Node) Leave() error {
	if n.detector.HasLeft() {
		return ErrAlreadyLeft
	}
	n.detector.Leave()
	return nil
}

// Join re-announces this node to the introducer. Used by the shell's
// join command; Start already joins once.
func (n *Node) Join() error {
	if n.config.IsIntroducer() {
		return fmt.Errorf("introducer cannot join itself")
	}
	if n.detector.HasLeft() {
		return ErrAlreadyLeft
	}
	return n.detector.Join(n.config.Introducer)
}

// ID returns the node's identity.
func (n *Node) ID() membership.NodeId {
	return n.id
}

// Config returns the node configuration.
func (n *Node) Config() *Config {
	return n.config
}

// Detector returns the failure detector.
func (n *Node) Detector() *membership.Detector {
	return n.detector
}

// Ring returns the node's ring view.
func (n *Node) Ring() *ring.Ring {
	return n.ring
}

// Coordinator returns the file operation coordinator.
func (n *Node) Coordinator() *fileop.Coordinator {
	return n.coord
}

// SetDropRate adjusts the outbound drop probability at runtime.
func (n *Node) SetDropRate(rate float64) {
	n.mu.RLock()
	udp := n.udp
	n.mu.RUnlock()
	if udp != nil {
		udp.SetDropRate(rate)
	}
}

func (n *Node) sendDatagram(addr string, payload []byte) {
	n.mu.RLock()
	udp := n.udp
	n.mu.RUnlock()
	if udp != nil {
		udp.Send(addr, payload)
	}
}

func (n *Node) handleMembershipDatagram(data []byte, from string) {
	msg, err := membership.DecodeMessage(data)
	if err != nil {
		n.logf("bad membership datagram from %s: %v", from, err)
		return
	}
	n.detector.Handle(msg)
}

func (n *Node) onMemberJoin(id membership.NodeId) {
	n.ring.Add(id)
}

// onMemberRemoved drops the node from the ring, then re-replicates any
// files this node now coordinates. Recovery runs off the detector's
// goroutine; it fans out blocks over the network.
func (n *Node) onMemberRemoved(id membership.NodeId) {
	n.ring.Remove(id)
	n.tracker.ClearClient(id.String())
	go n.coord.RecoverAfterRemoval(id)
}

// logf logs using the global logger (which handles both stdout and the
// TUI log buffer)
func (n *Node) logf(format string, args ...interface{}) {
	logger.Printf("[%s] %s", n.config.Addr(), fmt.Sprintf(format, args...))
}

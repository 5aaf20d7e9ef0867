package node

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/adamgarcia4/goLearning/hydfs/logger"
)

// firstPort is both the introducer's port and the start of the
// auto-assigned range.
const firstPort = 12345

// Manager runs an in-process cluster, one node per consecutive port.
// The node on firstPort seeds the cluster; everyone else joins through
// it. Slice order is creation order, which the TUI uses as row index.
type Manager struct {
	mu       sync.RWMutex
	nodes    []*Node
	nextPort int
	baseDir  string
}

// NewManager creates a manager whose nodes store data under baseDir.
func NewManager(baseDir string) *Manager {
	return &Manager{nextPort: firstPort, baseDir: baseDir}
}

// CreateNode starts a node on the next port of the range and appends it
// to the cluster. The port is not checked in advance; a port that is
// taken surfaces as a start error and the range still advances.
func (m *Manager) CreateNode() (*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	port := strconv.Itoa(m.nextPort)
	m.nextPort++

	cfg := DefaultConfig()
	cfg.Port = port
	cfg.Introducer = "127.0.0.1:" + strconv.Itoa(firstPort)
	cfg.StoreRoot = filepath.Join(m.baseDir, "node-"+port)

	n, err := New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create node on port %s: %w", port, err)
	}
	if err := n.Start(); err != nil {
		return nil, fmt.Errorf("start node on port %s: %w", port, err)
	}
	m.nodes = append(m.nodes, n)
	return n, nil
}

// DeleteNode removes the node at the given row index. The node is
// detached from the cluster immediately; the shutdown itself runs in
// the background so the UI never waits on it.
func (m *Manager) DeleteNode(index int) error {
	m.mu.Lock()
	if index < 0 || index >= len(m.nodes) {
		m.mu.Unlock()
		return fmt.Errorf("no node at index %d", index)
	}
	n := m.nodes[index]
	m.nodes = slices.Delete(m.nodes, index, index+1)
	m.mu.Unlock()

	go func() {
		if err := n.Stop(); err != nil {
			logger.Errorf("stopping %s: %v", n.Config().Addr(), err)
		}
	}()
	return nil
}

// GetNodes returns the nodes in creation order.
func (m *Manager) GetNodes() []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.nodes)
}

// StopAll shuts every node down and empties the cluster.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	nodes := m.nodes
	m.nodes = nil
	m.mu.Unlock()

	var errs []error
	for _, n := range nodes {
		if err := n.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", n.Config().Addr(), err))
		}
	}
	return errors.Join(errs...)
}

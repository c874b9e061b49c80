// Package lifecycle topologically initializes and shuts down the
// service graph: configuration first, then the logger, then leaf
// services, then the composites that depend on them.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/erfianugrah/image-resizer/internal/apperr"
)

// State is one phase of a node's lifecycle.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateDegraded      State = "degraded"
	StateShutdown      State = "shutdown"
	StateFailed        State = "failed"
)

// Service is anything the Manager can initialize and shut down.
type Service interface {
	Name() string
	Init(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Node tracks one service's place in the graph and its observed state.
type Node struct {
	Name      string
	DependsOn []string
	Critical  bool
	State     State
	Err       error
	InitMs    int64
	ShutMs    int64

	service Service
}

// Manager owns every registered Service exclusively; services hold
// only borrowed references to their dependencies, never to the
// Manager itself.
type Manager struct {
	logger      *slog.Logger
	initTimeout time.Duration
	shutTimeout time.Duration

	mu    sync.Mutex
	nodes map[string]*Node
	order []string
}

func NewManager(logger *slog.Logger, initTimeout, shutTimeout time.Duration) *Manager {
	if initTimeout <= 0 {
		initTimeout = 10 * time.Second
	}
	if shutTimeout <= 0 {
		shutTimeout = 10 * time.Second
	}
	return &Manager{
		logger:      logger,
		initTimeout: initTimeout,
		shutTimeout: shutTimeout,
		nodes:       map[string]*Node{},
	}
}

// Register adds svc to the graph with its dependency names. critical
// services that fail to initialize abort InitAll entirely; non-critical
// ones leave the graph running in a degraded state.
func (m *Manager) Register(svc Service, dependsOn []string, critical bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := svc.Name()
	if _, exists := m.nodes[name]; !exists {
		m.order = append(m.order, name)
	}
	m.nodes[name] = &Node{
		Name:      name,
		DependsOn: dependsOn,
		Critical:  critical,
		State:     StateUninitialized,
		service:   svc,
	}
}

// InitAll initializes every registered service in dependency order. A
// critical service's init failure or timeout aborts the whole sequence;
// a non-critical one is marked degraded and InitAll continues.
func (m *Manager) InitAll(ctx context.Context) error {
	sorted, err := m.topoSort()
	if err != nil {
		return err
	}

	for _, name := range sorted {
		node := m.nodes[name]

		node.State = StateInitializing
		start := time.Now()

		initCtx, cancel := context.WithTimeout(ctx, m.initTimeout)
		err := node.service.Init(initCtx)
		cancel()

		node.InitMs = time.Since(start).Milliseconds()

		if err != nil {
			node.Err = err
			if errors.Is(initCtx.Err(), context.DeadlineExceeded) {
				node.Err = apperr.LifecycleInitTimeout(fmt.Errorf("service %q: %w", name, err))
			}

			if node.Critical {
				node.State = StateFailed
				if m.logger != nil {
					m.logger.Error("lifecycle: critical service failed to initialize", "service", name, "error", node.Err)
				}
				return apperr.LifecycleCriticalServiceFailed(fmt.Errorf("service %q: %w", name, node.Err))
			}

			node.State = StateDegraded
			if m.logger != nil {
				m.logger.Warn("lifecycle: non-critical service degraded", "service", name, "error", node.Err)
			}
			continue
		}

		node.State = StateReady
		if m.logger != nil {
			m.logger.Info("lifecycle: service ready", "service", name, "init_ms", node.InitMs)
		}
	}

	return nil
}

// ShutdownAll shuts every initialized service down in reverse
// dependency order, best-effort: one failure does not prevent the
// rest from attempting shutdown.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	sorted, err := m.topoSort()
	if err != nil {
		return err
	}

	var errs []error
	for i := len(sorted) - 1; i >= 0; i-- {
		node := m.nodes[sorted[i]]
		if node.State != StateReady && node.State != StateDegraded {
			continue
		}

		start := time.Now()
		shutCtx, cancel := context.WithTimeout(ctx, m.shutTimeout)
		err := node.service.Shutdown(shutCtx)
		cancel()
		node.ShutMs = time.Since(start).Milliseconds()

		if err != nil {
			errs = append(errs, fmt.Errorf("service %q shutdown: %w", node.Name, err))
			if m.logger != nil {
				m.logger.Error("lifecycle: service shutdown failed", "service", node.Name, "error", err)
			}
			continue
		}
		node.State = StateShutdown
	}

	return errors.Join(errs...)
}

// Snapshot returns a copy of every node's current state, for a health
// or admin-status endpoint.
func (m *Manager) Snapshot() []Node {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Node, 0, len(m.order))
	for _, name := range m.order {
		n := *m.nodes[name]
		n.service = nil
		out = append(out, n)
	}
	return out
}

// topoSort returns registered service names in dependency order (Kahn's
// algorithm), erroring on an unknown dependency or a cycle.
func (m *Manager) topoSort() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	indegree := make(map[string]int, len(m.nodes))
	dependents := make(map[string][]string, len(m.nodes))

	for name, node := range m.nodes {
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
		for _, dep := range node.DependsOn {
			if _, ok := m.nodes[dep]; !ok {
				return nil, fmt.Errorf("lifecycle: service %q depends on unregistered service %q", name, dep)
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for _, name := range m.order {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	var sorted []string
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		sorted = append(sorted, name)

		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) != len(m.nodes) {
		return nil, errors.New("lifecycle: dependency cycle detected")
	}

	return sorted, nil
}

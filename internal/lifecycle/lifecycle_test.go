package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	name       string
	initErr    error
	shutErr    error
	initCalled bool
	shutCalled bool
	calls      *[]string
}

func (f *fakeService) Name() string { return f.name }
func (f *fakeService) Init(ctx context.Context) error {
	f.initCalled = true
	if f.calls != nil {
		*f.calls = append(*f.calls, f.name)
	}
	return f.initErr
}
func (f *fakeService) Shutdown(ctx context.Context) error {
	f.shutCalled = true
	if f.calls != nil {
		*f.calls = append(*f.calls, f.name)
	}
	return f.shutErr
}

func TestInitAllOrdersByDependency(t *testing.T) {
	m := NewManager(nil, time.Second, time.Second)

	var order []string
	record := func(name string) *fakeService {
		return &fakeService{name: name, calls: &order}
	}

	config := record("config")
	storage := record("storage")
	command := record("command")

	// Registered in reverse so the init order can only come from the
	// dependency graph.
	m.Register(command, []string{"storage"}, true)
	m.Register(storage, []string{"config"}, true)
	m.Register(config, nil, true)

	require.NoError(t, m.InitAll(context.Background()))

	for _, n := range m.Snapshot() {
		assert.Equal(t, StateReady, n.State)
	}
	assert.Equal(t, []string{"config", "storage", "command"}, order)
}

func TestInitAllCriticalFailureAborts(t *testing.T) {
	m := NewManager(nil, time.Second, time.Second)

	failing := &fakeService{name: "storage", initErr: errors.New("boom")}
	dependent := &fakeService{name: "command"}

	m.Register(failing, nil, true)
	m.Register(dependent, []string{"storage"}, true)

	err := m.InitAll(context.Background())
	require.Error(t, err)
	assert.False(t, dependent.initCalled)
}

func TestInitAllNonCriticalDegrades(t *testing.T) {
	m := NewManager(nil, time.Second, time.Second)

	failing := &fakeService{name: "metrics", initErr: errors.New("boom")}
	dependent := &fakeService{name: "command"}

	m.Register(failing, nil, false)
	m.Register(dependent, []string{"metrics"}, true)

	err := m.InitAll(context.Background())
	require.NoError(t, err)
	assert.True(t, dependent.initCalled)

	snap := m.Snapshot()
	assert.Equal(t, StateDegraded, snap[0].State)
}

func TestShutdownAllReverseOrder(t *testing.T) {
	m := NewManager(nil, time.Second, time.Second)

	var calls []string
	a := &fakeService{name: "a", calls: &calls}
	b := &fakeService{name: "b", calls: &calls}
	m.Register(a, nil, true)
	m.Register(b, []string{"a"}, true)

	require.NoError(t, m.InitAll(context.Background()))
	calls = nil
	require.NoError(t, m.ShutdownAll(context.Background()))

	assert.True(t, a.shutCalled)
	assert.True(t, b.shutCalled)
	assert.Equal(t, []string{"b", "a"}, calls)
}

func TestTopoSortCycle(t *testing.T) {
	m := NewManager(nil, time.Second, time.Second)
	m.Register(&fakeService{name: "a"}, []string{"b"}, true)
	m.Register(&fakeService{name: "b"}, []string{"a"}, true)

	_, err := m.topoSort()
	assert.Error(t, err)
}

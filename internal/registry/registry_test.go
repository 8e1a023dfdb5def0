package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/infra"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/metrics"
)

type fakeStore struct {
	mu      sync.Mutex
	descs   map[string]domain.ServiceDescriptor
	listErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{descs: make(map[string]domain.ServiceDescriptor)}
}

func (f *fakeStore) Upsert(_ context.Context, desc domain.ServiceDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.descs[desc.Name] = desc
	return nil
}

func (f *fakeStore) List(_ context.Context) ([]domain.ServiceDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.ServiceDescriptor, 0, len(f.descs))
	for _, d := range f.descs {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeStore) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.descs, name)
	return nil
}

func testRegistryConfig() infra.RegistryConfig {
	return infra.RegistryConfig{
		ProbeInterval:      10 * time.Millisecond,
		ProbeTimeout:       time.Second,
		HealthPath:         "/health",
		UnhealthyThreshold: 3,
		WaitPollInterval:   5 * time.Millisecond,
	}
}

func newTestRegistry(store DescriptorStore) *Registry {
	return NewRegistry(store, testRegistryConfig(), metrics.NewMetrics(nil), nil, zap.NewNop())
}

func markHealthy(r *Registry, name string) {
	r.applyProbeResult(name, true, 2*time.Millisecond)
}

func TestRegisterValidation(t *testing.T) {
	r := newTestRegistry(nil)

	cases := []struct {
		name string
		desc domain.ServiceDescriptor
	}{
		{"empty name", domain.ServiceDescriptor{BaseURL: "http://localhost:1"}},
		{"empty url", domain.ServiceDescriptor{Name: "api"}},
		{"url without scheme", domain.ServiceDescriptor{Name: "api", BaseURL: "localhost:8080"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, r.Register(context.Background(), tc.desc))
		})
	}
}

func TestRegisterDefaultsHealthPath(t *testing.T) {
	r := newTestRegistry(nil)

	require.NoError(t, r.Register(context.Background(), domain.ServiceDescriptor{
		Name:    "api",
		BaseURL: "http://localhost:9001",
	}))

	r.mu.RLock()
	defer r.mu.RUnlock()
	assert.Equal(t, "/health", r.services["api"].desc.HealthPath)
}

func TestRegisterIsIdempotentUpsert(t *testing.T) {
	r := newTestRegistry(nil)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, domain.ServiceDescriptor{
		Name: "api", BaseURL: "http://old:9001", Dependencies: []string{"db"},
	}))
	markHealthy(r, "api")

	// Повторная регистрация меняет адрес, но не роняет накопленное здоровье
	require.NoError(t, r.Register(ctx, domain.ServiceDescriptor{
		Name: "api", BaseURL: "http://new:9001", Dependencies: []string{"db", "cache"},
	}))

	url, err := r.ResolveBaseURL("api")
	require.NoError(t, err)
	assert.Equal(t, "http://new:9001", url)

	st, err := r.Status("api")
	require.NoError(t, err)
	assert.Equal(t, domain.ServiceHealthy, st.State)
	assert.Equal(t, []string{"db", "cache"}, st.Dependencies)
}

func TestDeregister(t *testing.T) {
	r := newTestRegistry(nil)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, domain.ServiceDescriptor{Name: "api", BaseURL: "http://localhost:9001"}))
	require.NoError(t, r.Deregister(ctx, "api"))

	_, err := r.Status("api")
	assert.ErrorIs(t, err, domain.ErrServiceNotFound)
	assert.ErrorIs(t, r.Deregister(ctx, "api"), domain.ErrServiceNotFound)
}

func TestResolveUnknownService(t *testing.T) {
	r := newTestRegistry(nil)
	_, err := r.ResolveBaseURL("ghost")
	assert.ErrorIs(t, err, domain.ErrServiceNotFound)
}

func TestStatusesSortedAndCopied(t *testing.T) {
	r := newTestRegistry(nil)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, domain.ServiceDescriptor{Name: "zeta", BaseURL: "http://localhost:1"}))
	require.NoError(t, r.Register(ctx, domain.ServiceDescriptor{
		Name: "alpha", BaseURL: "http://localhost:2", Dependencies: []string{"zeta"},
	}))

	statuses := r.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "alpha", statuses[0].Name)
	assert.Equal(t, "zeta", statuses[1].Name)

	// Возвращённый срез — копия, мутация не протекает в реестр
	statuses[0].Dependencies[0] = "mutated"
	st, err := r.Status("alpha")
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta"}, st.Dependencies)
}

func TestHealthyList(t *testing.T) {
	r := newTestRegistry(nil)
	ctx := context.Background()

	for _, name := range []string{"api", "db", "cache"} {
		require.NoError(t, r.Register(ctx, domain.ServiceDescriptor{Name: name, BaseURL: "http://localhost:1"}))
	}
	markHealthy(r, "db")
	markHealthy(r, "api")

	assert.Equal(t, []string{"api", "db"}, r.Healthy())
}

func TestTopology(t *testing.T) {
	r := newTestRegistry(nil)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, domain.ServiceDescriptor{
		Name: "api", BaseURL: "http://localhost:1", Dependencies: []string{"db", "cache"},
	}))
	require.NoError(t, r.Register(ctx, domain.ServiceDescriptor{Name: "db", BaseURL: "http://localhost:2"}))

	topo := r.Topology()
	assert.Equal(t, map[string][]string{
		"api": {"cache", "db"},
		"db":  {},
	}, topo)
}

func TestInitWarmStart(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.Upsert(context.Background(), domain.ServiceDescriptor{
		Name: "api", BaseURL: "http://localhost:1", HealthPath: "/health", Dependencies: []string{"db"},
	}))
	require.NoError(t, store.Upsert(context.Background(), domain.ServiceDescriptor{
		Name: "db", BaseURL: "http://localhost:2", HealthPath: "/health",
	}))

	r := newTestRegistry(store)
	require.NoError(t, r.Init(context.Background()))

	statuses := r.Statuses()
	require.Len(t, statuses, 2)
	// Здоровье из зеркала не восстанавливается
	for _, st := range statuses {
		assert.Equal(t, domain.ServiceUnknown, st.State)
	}

	url, err := r.ResolveBaseURL("api")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:1", url)
}

func TestInitWarmStartError(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("connection refused")

	r := newTestRegistry(store)
	assert.Error(t, r.Init(context.Background()))
}

func TestRegisterMirrorsDescriptor(t *testing.T) {
	store := newFakeStore()
	r := newTestRegistry(store)

	require.NoError(t, r.Register(context.Background(), domain.ServiceDescriptor{
		Name: "api", BaseURL: "http://localhost:1",
	}))
	store.mu.Lock()
	_, ok := store.descs["api"]
	store.mu.Unlock()
	assert.True(t, ok)

	require.NoError(t, r.Deregister(context.Background(), "api"))
	store.mu.Lock()
	_, ok = store.descs["api"]
	store.mu.Unlock()
	assert.False(t, ok)
}

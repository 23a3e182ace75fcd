package besteschule

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-vplan-cache/cache"
	"github.com/goliatone/go-vplan-cache/freshness"
	"github.com/goliatone/go-vplan-cache/internal/telemetry"
	"github.com/goliatone/go-vplan-cache/pkg/testsupport"
	"github.com/goliatone/go-vplan-cache/remote"
	"github.com/goliatone/go-vplan-cache/store"
)

var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

const (
	testAccount = 7
	testYear    = 2
	testToken   = "secret"
)

// backend is a fake grades API whose answers tests can swap at any time.
type backend struct {
	mu     sync.Mutex
	bodies map[string][]byte
	status map[string]int
	hits   map[string]int
	tokens []string
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	return &backend{
		bodies: map[string][]byte{
			"/api/years":       testsupport.LoadFixture(t, testsupport.FixturePath("years.json")),
			"/api/students/7":  testsupport.LoadFixture(t, testsupport.FixturePath("student.json")),
			"/api/grades":      testsupport.LoadFixture(t, testsupport.FixturePath("grades.json")),
			"/api/user":        testsupport.LoadFixture(t, testsupport.FixturePath("user.json")),
			"/api/finalgrades": testsupport.LoadFixture(t, testsupport.FixturePath("finalgrades.json")),
		},
		status: map[string]int{"/api/years/current": http.StatusNoContent},
		hits:   map[string]int{},
	}
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.hits[r.URL.Path]++
	b.tokens = append(b.tokens, r.Header.Get("Authorization"))
	code, hasCode := b.status[r.URL.Path]
	body, hasBody := b.bodies[r.URL.Path]
	b.mu.Unlock()

	switch {
	case hasCode:
		w.WriteHeader(code)
	case hasBody:
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (b *backend) serve(path string, body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.status, path)
	b.bodies[path] = body
}

func (b *backend) fail(path string, code int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status[path] = code
}

func (b *backend) lastToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.tokens) == 0 {
		return ""
	}
	return b.tokens[len(b.tokens)-1]
}

func (b *backend) count(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

type testEnv struct {
	store   *store.Store
	api     *backend
	clock   *testsupport.Clock
	metrics *telemetry.Metrics
	repos   *Repositories
	coord   *Coordinator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := store.Open(ctx, store.Config{Driver: store.DriverSQLite, DSN: testsupport.MemoryDSN()})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	st := store.New(db)
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	api := newBackend(t)
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	metrics := telemetry.New(prometheus.NewRegistry())
	svc, err := cache.NewCacheService(cache.DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create cache service: %v", err)
	}
	clock := testsupport.NewClock(testNow)
	nop := zerolog.Nop()
	engine := freshness.NewEngine(svc, freshness.WithClock(clock.Now), freshness.WithMetrics(metrics), freshness.WithLogger(nop))
	t.Cleanup(engine.Close)

	d := Deps{
		Store:       st,
		Client:      remote.NewClient(remote.Config{BaseURL: srv.URL, Timeout: 2 * time.Second}, remote.WithLogger(nop)),
		Engine:      engine,
		Metrics:     metrics,
		Log:         &nop,
		IdleTimeout: 50 * time.Millisecond,
	}
	repos := NewRepositories(d)
	t.Cleanup(repos.Close)

	return &testEnv{
		store:   st,
		api:     api,
		clock:   clock,
		metrics: metrics,
		repos:   repos,
		coord:   NewCoordinator(d, repos),
	}
}

// linked returns an env with the test account linked and its years cached.
func linked(t *testing.T) (*testEnv, *store.Credential) {
	t.Helper()
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.repos.Accounts.Link(ctx, testAccount, testToken); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	if _, err := env.coord.SyncYears(ctx, testAccount); err != nil {
		t.Fatalf("SyncYears failed: %v", err)
	}
	cred, err := env.repos.Accounts.Credential(ctx, testAccount)
	if err != nil {
		t.Fatalf("Credential failed: %v", err)
	}
	return env, cred
}

func count[E store.Entity[E]](t *testing.T, table *store.Table[E]) int {
	t.Helper()
	n, err := table.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	return n
}

func recv[T any](t *testing.T, ch <-chan freshness.Response[T]) freshness.Response[T] {
	t.Helper()
	select {
	case resp, ok := <-ch:
		if !ok {
			t.Fatal("stream closed unexpectedly")
		}
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emission")
	}
	panic("unreachable")
}

func intPtr(v int) *int { return &v }

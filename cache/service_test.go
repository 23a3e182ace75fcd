package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockCacheService records keys and returns a canned result.
type mockCacheService struct {
	mu     sync.Mutex
	keys   []string
	result any
	err    error
}

func (m *mockCacheService) GetOrFetch(ctx context.Context, key string, fetchFn FetchFn[any]) (any, error) {
	m.mu.Lock()
	m.keys = append(m.keys, key)
	m.mu.Unlock()
	return m.result, m.err
}

func (m *mockCacheService) Delete(ctx context.Context, key string) error {
	return nil
}

func (m *mockCacheService) DeleteByPrefix(ctx context.Context, prefix string) error {
	return nil
}

func TestGetOrFetch_NilInterfaceResult(t *testing.T) {
	mock := &mockCacheService{result: nil}

	type Source interface {
		Name() string
	}

	result, err := GetOrFetch[Source](context.Background(), mock, "source::1", func(ctx context.Context) (Source, error) {
		return nil, nil
	})

	if err != nil {
		t.Errorf("expected no error but got: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result but got: %v", result)
	}
}

func TestGetOrFetch_NilPointerResult(t *testing.T) {
	mock := &mockCacheService{result: (*string)(nil)}

	result, err := GetOrFetch[*string](context.Background(), mock, "student::1", func(ctx context.Context) (*string, error) {
		return nil, nil
	})

	if err != nil {
		t.Errorf("expected no error but got: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result but got: %v", result)
	}
}

func TestGetOrFetch_TypeAssertionFailure(t *testing.T) {
	mock := &mockCacheService{result: "wrong-type"}

	result, err := GetOrFetch[int](context.Background(), mock, "grades::1", func(ctx context.Context) (int, error) {
		return 42, nil
	})

	if !errors.Is(err, ErrInvalidResultType) {
		t.Errorf("expected ErrInvalidResultType but got: %v", err)
	}
	if result != 0 {
		t.Errorf("expected zero value (0) but got: %v", result)
	}
}

func TestGetOrFetch_PropagatesError(t *testing.T) {
	boom := errors.New("remote unavailable")
	mock := &mockCacheService{err: boom}

	_, err := GetOrFetch[[]int](context.Background(), mock, "grades::1", func(ctx context.Context) ([]int, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected %v, got %v", boom, err)
	}
}

func TestGetOrFetch_ValidResult(t *testing.T) {
	mock := &mockCacheService{result: []int{1, 2}}

	result, err := GetOrFetch[[]int](context.Background(), mock, "grades::1", func(ctx context.Context) ([]int, error) {
		return []int{1, 2}, nil
	})

	if err != nil {
		t.Errorf("expected no error but got: %v", err)
	}
	if len(result) != 2 {
		t.Errorf("expected two items but got: %v", result)
	}
	if len(mock.keys) != 1 || mock.keys[0] != "grades::1" {
		t.Errorf("expected key grades::1 to be requested, got %v", mock.keys)
	}
}

func newService(t *testing.T) CacheService {
	t.Helper()
	svc, err := NewCacheService(DefaultConfig())
	if err != nil {
		t.Fatalf("NewCacheService failed: %v", err)
	}
	return svc
}

func TestCacheService_CoalescesConcurrentFetches(t *testing.T) {
	svc := newService(t)

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "payload", nil
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := GetOrFetch(context.Background(), svc, "years::1", fetch)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
			}
			results[i] = v
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one fetch, got %d", got)
	}
	for i, v := range results {
		if v != "payload" {
			t.Errorf("caller %d got %q", i, v)
		}
	}
}

func TestCacheService_ErrorsAreNotMemoised(t *testing.T) {
	svc := newService(t)

	var calls atomic.Int32
	fetch := func(ctx context.Context) (int, error) {
		if calls.Add(1) == 1 {
			return 0, errors.New("first attempt fails")
		}
		return 7, nil
	}

	if _, err := GetOrFetch(context.Background(), svc, "subjects::1", fetch); err == nil {
		t.Fatal("expected first fetch to fail")
	}
	v, err := GetOrFetch(context.Background(), svc, "subjects::1", fetch)
	if err != nil || v != 7 {
		t.Fatalf("expected retry to succeed with 7, got %v, %v", v, err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected two fetches, got %d", got)
	}
}

func TestCacheService_DeleteForcesRefetch(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	var calls atomic.Int32
	fetch := func(ctx context.Context) (int32, error) {
		return calls.Add(1), nil
	}

	first, _ := GetOrFetch(ctx, svc, "grades::3", fetch)
	memo, _ := GetOrFetch(ctx, svc, "grades::3", fetch)
	if first != memo {
		t.Fatalf("expected memoised value %d, got %d", first, memo)
	}

	if err := svc.Delete(ctx, "grades::3"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	after, _ := GetOrFetch(ctx, svc, "grades::3", fetch)
	if after == first {
		t.Fatal("expected a new fetch after Delete")
	}
}

func TestCacheService_DeleteByPrefix(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	keys := NewDefaultKeySerializer()

	var calls atomic.Int32
	fetch := func(ctx context.Context) (int32, error) {
		return calls.Add(1), nil
	}

	gradeKey := keys.SerializeKey("Grades", 1)
	teacherKey := keys.SerializeKey("Teachers", 1)
	GetOrFetch(ctx, svc, gradeKey, fetch)
	GetOrFetch(ctx, svc, teacherKey, fetch)

	if err := svc.DeleteByPrefix(ctx, Prefix("Grades")); err != nil {
		t.Fatalf("DeleteByPrefix failed: %v", err)
	}

	GetOrFetch(ctx, svc, gradeKey, fetch)
	GetOrFetch(ctx, svc, teacherKey, fetch)
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected only the grades key to refetch (3 calls), got %d", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	cfg.TTL = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected zero TTL to be rejected")
	}
	if _, err := NewCacheService(cfg); err == nil {
		t.Fatal("expected NewCacheService to reject an invalid config")
	}
}

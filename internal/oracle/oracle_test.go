package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	customerrors "github.com/axellelanca/linkcloak/internal/errors"
	"github.com/axellelanca/linkcloak/internal/models"
)

func TestIPAPIClient_Lookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "status,message,countryCode,hosting", r.URL.Query().Get("fields"))
		switch r.URL.Path {
		case "/json/113.160.0.1":
			_, _ = w.Write([]byte(`{"status":"success","countryCode":"vn","hosting":false}`))
		case "/json/34.1.2.3":
			_, _ = w.Write([]byte(`{"status":"success","countryCode":"US","hosting":true}`))
		case "/json/10.0.0.1":
			_, _ = w.Write([]byte(`{"status":"fail","message":"private range"}`))
		case "/json/9.9.9.9":
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte(`{"status":"success","countryCode":"US"}`))
		case "/json/1.1.1.1":
			_, _ = w.Write([]byte(`not json`))
		default:
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	client := NewIPAPIClient(srv.URL + "/")

	t.Run("residential", func(t *testing.T) {
		rep, err := client.Lookup(context.Background(), "113.160.0.1")
		require.NoError(t, err)
		assert.Equal(t, models.Reputation{CountryCode: "VN", IsDatacenter: false}, rep)
	})

	t.Run("hosting", func(t *testing.T) {
		rep, err := client.Lookup(context.Background(), "34.1.2.3")
		require.NoError(t, err)
		assert.True(t, rep.IsDatacenter)
	})

	failures := []struct {
		name string
		ip   string
	}{
		{name: "upstream fail status", ip: "10.0.0.1"},
		{name: "non 200", ip: "5.5.5.5"},
		{name: "bad body", ip: "1.1.1.1"},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Lookup(context.Background(), tt.ip)
			assert.ErrorIs(t, err, customerrors.ErrOracleUnavailable)
		})
	}

	t.Run("deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := client.Lookup(ctx, "9.9.9.9")
		assert.ErrorIs(t, err, customerrors.ErrOracleUnavailable)
	})
}

func TestStatic(t *testing.T) {
	s := Static{"1.2.3.4": {CountryCode: "vn"}}

	rep, err := s.Lookup(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "VN", rep.CountryCode)

	_, err = s.Lookup(context.Background(), "4.3.2.1")
	assert.ErrorIs(t, err, customerrors.ErrOracleUnavailable)
}

func TestRateLimited(t *testing.T) {
	var calls atomic.Int32
	next := Func(func(ctx context.Context, ip string) (models.Reputation, error) {
		calls.Add(1)
		return models.Reputation{CountryCode: "VN"}, nil
	})
	limited := NewRateLimited(next, 0.001, 1)

	_, err := limited.Lookup(context.Background(), "1.2.3.4")
	require.NoError(t, err)

	_, err = limited.Lookup(context.Background(), "1.2.3.4")
	assert.ErrorIs(t, err, customerrors.ErrOracleRateLimited)
	assert.Equal(t, int32(1), calls.Load())
}

type memCache struct {
	mu   sync.Mutex
	data map[string]models.Reputation
}

func (m *memCache) Get(_ context.Context, ip string) (models.Reputation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep, ok := m.data[ip]
	return rep, ok, nil
}

func (m *memCache) Set(_ context.Context, ip string, rep models.Reputation, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[ip] = rep
	return nil
}

func TestCached_HitsCacheAfterFirstLookup(t *testing.T) {
	var calls atomic.Int32
	next := Func(func(ctx context.Context, ip string) (models.Reputation, error) {
		calls.Add(1)
		if ip == "bad" {
			return models.Reputation{}, customerrors.ErrOracleUnavailable
		}
		return models.Reputation{CountryCode: "VN"}, nil
	})
	cache := &memCache{data: map[string]models.Reputation{}}
	cached := NewCached(next, cache, time.Hour, zap.NewNop())

	for i := 0; i < 3; i++ {
		rep, err := cached.Lookup(context.Background(), "1.2.3.4")
		require.NoError(t, err)
		assert.Equal(t, "VN", rep.CountryCode)
	}
	assert.Equal(t, int32(1), calls.Load())

	// failures are never cached
	for i := 0; i < 2; i++ {
		_, err := cached.Lookup(context.Background(), "bad")
		assert.ErrorIs(t, err, customerrors.ErrOracleUnavailable)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestCached_CollapsesConcurrentLookups(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	next := Func(func(ctx context.Context, ip string) (models.Reputation, error) {
		calls.Add(1)
		<-release
		return models.Reputation{CountryCode: "VN"}, nil
	})
	cached := NewCached(next, nil, time.Hour, zap.NewNop())

	const callers = 10
	var ready, done sync.WaitGroup
	ready.Add(callers)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer done.Done()
			ready.Done()
			rep, err := cached.Lookup(context.Background(), "1.2.3.4")
			assert.NoError(t, err)
			assert.Equal(t, "VN", rep.CountryCode)
		}()
	}
	ready.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestCached_RespectsCallerDeadline(t *testing.T) {
	next := Func(func(ctx context.Context, ip string) (models.Reputation, error) {
		time.Sleep(100 * time.Millisecond)
		return models.Reputation{CountryCode: "VN"}, nil
	})
	cached := NewCached(next, nil, time.Hour, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := cached.Lookup(ctx, "1.2.3.4")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCached_EarlyDeadlineDoesNotFailLaterCallers(t *testing.T) {
	var calls atomic.Int32
	next := Func(func(ctx context.Context, ip string) (models.Reputation, error) {
		calls.Add(1)
		select {
		case <-time.After(60 * time.Millisecond):
			return models.Reputation{CountryCode: "VN"}, nil
		case <-ctx.Done():
			return models.Reputation{}, ctx.Err()
		}
	})
	cache := &memCache{data: map[string]models.Reputation{}}
	cached := NewCached(next, cache, time.Hour, zap.NewNop())

	var wg sync.WaitGroup
	var errA, errB error
	var repB models.Reputation

	wg.Add(2)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, errA = cached.Lookup(ctx, "113.161.1.1")
	}()
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		repB, errB = cached.Lookup(ctx, "113.161.1.1")
	}()
	wg.Wait()

	assert.ErrorIs(t, errA, context.DeadlineExceeded)
	require.NoError(t, errB)
	assert.Equal(t, "VN", repB.CountryCode)
	assert.Equal(t, int32(1), calls.Load())

	rep, ok, err := cache.Get(context.Background(), "113.161.1.1")
	require.NoError(t, err)
	assert.True(t, ok, "the shared result is cached even though the first caller left")
	assert.Equal(t, "VN", rep.CountryCode)
}

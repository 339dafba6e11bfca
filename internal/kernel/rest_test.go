package kernel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
)

// fakeKernels serves the /api/kernels surface from memory.
type fakeKernels struct {
	mu      sync.Mutex
	kernels map[string]restKernel
	calls   []string
	hits    atomic.Int32
	// fail, when set, answers every request with this status
	fail int
}

func newFakeKernels(ks ...restKernel) *fakeKernels {
	f := &fakeKernels{kernels: make(map[string]restKernel)}
	for _, k := range ks {
		f.kernels[k.ID] = k
	}
	return f
}

func (f *fakeKernels) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)

	if f.fail != 0 {
		http.Error(w, "failure", f.fail)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	path := strings.TrimPrefix(r.URL.Path, "/api/kernels")
	switch {
	case path == "" && r.Method == http.MethodGet:
		list := make([]restKernel, 0, len(f.kernels))
		for _, k := range f.kernels {
			list = append(list, k)
		}
		_ = json.NewEncoder(w).Encode(list)
	case path == "" && r.Method == http.MethodPost:
		var body struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		k := restKernel{ID: "k-new", Name: body.Name, ExecutionState: types.ExecutionStateStarting}
		f.kernels[k.ID] = k
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(k)
	case r.Method == http.MethodPost:
		parts := strings.Split(strings.Trim(path, "/"), "/")
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}
		if _, ok := f.kernels[parts[0]]; !ok {
			http.Error(w, `{"message":"Kernel does not exist"}`, http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeKernels) setFail(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = status
}

func newREST(t *testing.T, h http.Handler, opts Options) *RESTControl {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewRESTControl(srv.URL, opts)
	c.SetRetryMax(0)
	return c
}

func TestRESTControlOperations(t *testing.T) {
	fake := newFakeKernels(restKernel{ID: "k1", Name: "python3", ExecutionState: types.ExecutionStateIdle})
	metrics := monitoring.NewMetrics(nil)
	opts := DefaultOptions()
	opts.Metrics = metrics
	c := newREST(t, fake, opts)
	ctx := context.Background()

	list, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, types.KernelIdentity{ID: "k1", Name: "python3", Alive: true, ExecutionState: "idle"}, list[0])

	created, err := c.Create(ctx, "ir")
	require.NoError(t, err)
	assert.Equal(t, "k-new", created.ID)
	assert.Equal(t, "ir", created.Name)
	assert.True(t, created.Alive)

	require.NoError(t, c.Interrupt(ctx, "k1"))
	require.NoError(t, c.Restart(ctx, "k1"))

	assert.Equal(t, []string{
		"GET /api/kernels",
		"POST /api/kernels",
		"POST /api/kernels/k1/interrupt",
		"POST /api/kernels/k1/restart",
	}, fake.calls)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ControlCalls.WithLabelValues("rest", "list", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ControlCalls.WithLabelValues("rest", "restart", "ok")))
}

func TestRESTControlClassifiesStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, types.ErrBackendRejection},
		{"forbidden", http.StatusForbidden, types.ErrBackendRejection},
		{"request timeout", http.StatusRequestTimeout, types.ErrRequestTimeout},
		{"too many requests", http.StatusTooManyRequests, types.ErrTransport},
		{"server error", http.StatusInternalServerError, types.ErrTransport},
		{"unavailable", http.StatusServiceUnavailable, types.ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeKernels()
			fake.setFail(tt.status)
			c := newREST(t, fake, DefaultOptions())

			_, err := c.List(context.Background())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRESTControlUnknownKernelIsRejection(t *testing.T) {
	c := newREST(t, newFakeKernels(), DefaultOptions())

	err := c.Interrupt(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrBackendRejection)
	assert.Contains(t, err.Error(), "Kernel does not exist")
}

func TestRESTControlTimeout(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	opts := DefaultOptions()
	opts.Timeout = 50 * time.Millisecond
	c := newREST(t, slow, opts)

	start := time.Now()
	_, err := c.List(context.Background())
	assert.ErrorIs(t, err, types.ErrRequestTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRESTControlRateLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.RequestsPerSecond = 1
	opts.Timeout = 100 * time.Millisecond
	c := newREST(t, newFakeKernels(), opts)

	_, err := c.List(context.Background())
	require.NoError(t, err)

	_, err = c.List(context.Background())
	assert.ErrorIs(t, err, types.ErrRequestTimeout)
}

func TestRESTControlRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	flaky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	})
	srv := httptest.NewServer(flaky)
	defer srv.Close()

	c := NewRESTControl(srv.URL, DefaultOptions())
	c.SetRetryMax(1)

	list, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, int32(2), hits.Load())
}

func TestRESTControlBreaker(t *testing.T) {
	tripAfterTwo := &resilience.Settings{
		Timeout: time.Minute,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 2
		},
	}

	t.Run("server errors trip", func(t *testing.T) {
		fake := newFakeKernels()
		fake.setFail(http.StatusInternalServerError)
		opts := DefaultOptions()
		opts.Breaker = tripAfterTwo
		c := newREST(t, fake, opts)

		for i := 0; i < 2; i++ {
			_, err := c.List(context.Background())
			assert.ErrorIs(t, err, types.ErrTransport)
		}
		_, err := c.List(context.Background())
		assert.ErrorIs(t, err, types.ErrTransport)
		assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
		assert.Equal(t, int32(2), fake.hits.Load())
	})

	t.Run("rejections do not trip", func(t *testing.T) {
		fake := newFakeKernels()
		opts := DefaultOptions()
		opts.Breaker = tripAfterTwo
		c := newREST(t, fake, opts)

		for i := 0; i < 5; i++ {
			assert.ErrorIs(t, c.Restart(context.Background(), "missing"), types.ErrBackendRejection)
		}
		assert.Equal(t, int32(5), fake.hits.Load())
		assert.Equal(t, resilience.StateClosed, c.guard.breaker.State())
	})
}

func TestRESTControlSendsToken(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c, err := NewControl(config.KernelConfig{Protocol: config.ProtocolREST, Address: srv.URL, Token: "s3cret"}, DefaultOptions())
	require.NoError(t, err)

	_, err = c.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token s3cret", auth.Load())
}

package kernel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
)

// Control is the kernel control protocol.
type Control interface {
	List(ctx context.Context) ([]types.KernelIdentity, error)
	Create(ctx context.Context, name string) (types.KernelIdentity, error)
	Interrupt(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
}

// Options configures a Control implementation.
type Options struct {
	// Timeout bounds every control call
	Timeout time.Duration
	// RequestsPerSecond limits outgoing calls; 0 disables the limiter
	RequestsPerSecond float64
	Logger            *zap.Logger
	Metrics           *monitoring.Metrics
	Tracer            *tracing.Tracer
	// Breaker overrides the default circuit breaker settings
	Breaker *resilience.Settings
}

// DefaultOptions returns a 10s timeout and no rate limit.
func DefaultOptions() Options {
	return Options{Timeout: 10 * time.Second}
}

// NewControl builds the control implementation selected by cfg.
func NewControl(cfg config.KernelConfig, opts Options) (Control, error) {
	switch cfg.Protocol {
	case config.ProtocolREST, "":
		c := NewRESTControl(cfg.Address, opts)
		if cfg.Token != "" {
			c.SetToken(cfg.Token)
		}
		return c, nil
	case config.ProtocolGRPC:
		return NewGRPCControl(cfg.Address, opts)
	default:
		return nil, fmt.Errorf("unknown kernel protocol %q", cfg.Protocol)
	}
}

// guard applies timeout, rate limiting, the breaker and metrics to a call.
type guard struct {
	protocol string
	timeout  time.Duration
	limiter  *rate.Limiter
	breaker  *resilience.Breaker
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

func newGuard(protocol string, opts Options) *guard {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("kernel-control").With(zap.String("protocol", protocol))

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	settings := resilience.Settings{
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			// Trip if 5+ consecutive failures or 50% failure rate with 10+ requests
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.5)
		},
	}
	if opts.Breaker != nil {
		settings = *opts.Breaker
	}
	// A rejection is a healthy backend saying no
	settings.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, types.ErrBackendRejection)
	}
	settings.OnStateChange = func(name string, from, to resilience.State) {
		logger.Warn("Circuit breaker state change",
			zap.String("breaker", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	}

	return &guard{
		protocol: protocol,
		timeout:  opts.Timeout,
		limiter:  limiter,
		breaker:  resilience.New("kernel-"+protocol, settings),
		metrics:  opts.Metrics,
		logger:   logger,
	}
}

// guarded runs fn with the guard's policies and classifies its error.
func guarded[T any](g *guard, ctx context.Context, method string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	timer := monitoring.NewTimer(g.metrics, g.protocol, method)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		timer.Stop("timeout")
		return zero, fmt.Errorf("%s: %w: rate limited: %w", method, types.ErrRequestTimeout, err)
	}

	result, err := resilience.Call(g.breaker, func() (T, error) {
		return fn(ctx)
	})
	if err != nil {
		err = classify(ctx, err)
		timer.Stop(types.KindLabel(err))
		g.logger.Debug("Control call failed", zap.String("method", method), zap.Error(err))
		return zero, fmt.Errorf("%s: %w", method, err)
	}
	timer.Stop("ok")
	return result, nil
}

// classify maps err onto one of the control error kinds. Errors already
// carrying a kind are returned unchanged.
func classify(ctx context.Context, err error) error {
	switch {
	case types.KindOf(err) != nil:
		return err
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		return fmt.Errorf("%w: %w", types.ErrTransport, err)
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() == context.DeadlineExceeded:
		return fmt.Errorf("%w: %w", types.ErrRequestTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", types.ErrRequestTimeout, err)
	}
	return fmt.Errorf("%w: %w", types.ErrTransport, err)
}

// identityFromState fills Alive from the backend execution state.
func identityFromState(id, name, state string) types.KernelIdentity {
	return types.KernelIdentity{
		ID:             id,
		Name:           name,
		Alive:          types.AliveFromState(state),
		ExecutionState: state,
	}
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/paths"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/storage"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/stream"
)

// ErrUnknownSubscriber is returned by Unsubscribe for a token it never issued.
var ErrUnknownSubscriber = errors.New("registry: unknown subscriber")

const (
	DefaultGracePeriod      = 5 * time.Second
	DefaultSnapshotDebounce = 500 * time.Millisecond
	DefaultMaxErrors        = 50
	DefaultControlTimeout   = 10 * time.Second
)

// Options wires a Registry to its collaborators.
type Options struct {
	// Control resolves kernel identities; nil leaves kernels unresolved
	Control kernel.Control
	Dialer  stream.Dialer
	// Snapshots persists caches; nil disables persistence
	Snapshots *storage.Snapshots

	KernelName string
	// AutoCreate starts a kernel when none matches the uuid
	AutoCreate bool

	ControlTimeout   time.Duration
	GracePeriod      time.Duration
	SnapshotDebounce time.Duration
	MaxErrors        int
	Stream           stream.Options

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// OptionsFromConfig fills the tunables of Options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	streamOpts := stream.DefaultOptions()
	streamOpts.ConnectTimeout = cfg.Stream.ConnectTimeout.Std()
	streamOpts.Backoff.Initial = cfg.Stream.BackoffInitial.Std()
	streamOpts.Backoff.Max = cfg.Stream.BackoffMax.Std()
	streamOpts.Backoff.Jitter = cfg.Stream.BackoffJitter
	streamOpts.MaxReconnects = cfg.Stream.MaxReconnects

	return Options{
		KernelName:       cfg.Kernel.KernelName,
		AutoCreate:       cfg.Kernel.AutoCreate,
		ControlTimeout:   cfg.Kernel.RequestTimeout.Std(),
		GracePeriod:      cfg.Registry.GracePeriod.Std(),
		SnapshotDebounce: cfg.Registry.SnapshotDebounce.Std(),
		MaxErrors:        cfg.Registry.MaxErrors,
		Stream:           streamOpts,
	}
}

// TeardownOptions controls what happens to persisted state on Teardown.
type TeardownOptions struct {
	// DeleteSnapshot removes every persisted key of the uuid instead of
	// flushing a final snapshot
	DeleteSnapshot bool
}

// Registry is the single owner of per-uuid sessions.
type Registry struct {
	opts    Options
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	subscribers atomic.Int64
	group       singleflight.Group
}

// New creates a registry. Zero durations and limits take the package
// defaults; a negative GracePeriod closes connections immediately.
func New(opts Options) *Registry {
	if opts.ControlTimeout <= 0 {
		opts.ControlTimeout = DefaultControlTimeout
	}
	if opts.GracePeriod == 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.SnapshotDebounce <= 0 {
		opts.SnapshotDebounce = DefaultSnapshotDebounce
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxErrors
	}
	if opts.Stream.ConnectTimeout <= 0 {
		opts.Stream = stream.DefaultOptions()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	opts.Stream.Logger = opts.Logger
	opts.Stream.Metrics = opts.Metrics

	return &Registry{
		opts:    opts,
		logger:  opts.Logger.Named("registry"),
		metrics: opts.Metrics,
		entries: make(map[string]*entry),
	}
}

// Subscribe returns a new handle on uuid's entry, creating and starting the
// entry if needed. It fails only for an unusable uuid or a closed registry;
// problems reaching the backend show up in the handle's View.
func (r *Registry) Subscribe(ctx context.Context, uuid string) (*Handle, error) {
	if err := paths.ValidateUUID(uuid); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	for {
		e, created, err := r.acquire(uuid)
		if err != nil {
			return nil, err
		}

		if created {
			e.start(ctx)
		} else if err := e.waitReady(ctx); err != nil {
			return nil, fmt.Errorf("subscribe: %w", err)
		}

		h, reconnect, err := e.attach()
		if errors.Is(err, types.ErrSessionClosed) {
			// torn down between lookup and attach; start over
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("subscribe: %w", err)
		}
		r.metrics.SetSubscribersActive(int(r.subscribers.Add(1)))

		if reconnect {
			if err := e.conn.Connect(context.WithoutCancel(ctx)); err != nil {
				e.recordError(types.NewSessionError(uuid, "connect", types.ErrTransport, err))
			}
		}
		return h, nil
	}
}

// acquire returns uuid's entry, creating it when absent.
func (r *Registry) acquire(uuid string) (*entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false, types.ErrRegistryClosed
	}
	if e, ok := r.entries[uuid]; ok {
		return e, false, nil
	}
	e := newEntry(r, uuid)
	r.entries[uuid] = e
	r.metrics.SetSessionsActive(len(r.entries))
	return e, true, nil
}

// Unsubscribe releases token's reference on uuid. When no references remain
// the connection closes after the grace period. In-flight backend work is
// never cancelled.
func (r *Registry) Unsubscribe(uuid string, token id.SubscriberToken) error {
	r.mu.Lock()
	e, ok := r.entries[uuid]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSubscriber, token)
	}
	return r.release(e, token)
}

func (r *Registry) release(e *entry, token id.SubscriberToken) error {
	if !e.detach(token) {
		return fmt.Errorf("%w: %s", ErrUnknownSubscriber, token)
	}
	r.metrics.SetSubscribersActive(int(r.subscribers.Add(-1)))
	return nil
}

// Teardown closes uuid's connection and drops its entry. The snapshot is
// flushed, or deleted when opts.DeleteSnapshot is set. Handles on the entry
// fail with types.ErrSessionClosed afterwards.
func (r *Registry) Teardown(ctx context.Context, uuid string, opts TeardownOptions) error {
	r.mu.Lock()
	e, ok := r.entries[uuid]
	if ok {
		delete(r.entries, uuid)
		r.metrics.SetSessionsActive(len(r.entries))
	}
	r.mu.Unlock()

	if !ok {
		if opts.DeleteSnapshot && r.opts.Snapshots != nil {
			return r.opts.Snapshots.Purge(ctx, uuid)
		}
		return nil
	}

	released := e.teardown(ctx, opts)
	r.metrics.SetSubscribersActive(int(r.subscribers.Add(-int64(released.count))))
	return released.err
}

// Close tears down every entry, keeping snapshots, and rejects further
// subscriptions.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	uuids := make([]string, 0, len(r.entries))
	for uuid := range r.entries {
		uuids = append(uuids, uuid)
	}
	r.mu.Unlock()

	var errs []error
	for _, uuid := range uuids {
		if err := r.Teardown(ctx, uuid, TeardownOptions{}); err != nil {
			errs = append(errs, err)
		}
	}
	r.logger.Info("Registry closed", zap.Int("sessions", len(uuids)))
	return errors.Join(errs...)
}

// Peek returns uuid's current view without subscribing.
func (r *Registry) Peek(uuid string) (types.View, bool) {
	r.mu.Lock()
	e, ok := r.entries[uuid]
	r.mu.Unlock()
	if !ok {
		return types.View{}, false
	}
	return e.view(), true
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sessions returns the uuids of live entries in sorted order.
func (r *Registry) Sessions() []string {
	r.mu.Lock()
	uuids := make([]string, 0, len(r.entries))
	for uuid := range r.entries {
		uuids = append(uuids, uuid)
	}
	r.mu.Unlock()
	sort.Strings(uuids)
	return uuids
}

// Subscribers returns the number of open handles across all entries.
func (r *Registry) Subscribers() int {
	return int(r.subscribers.Load())
}

// Snapshots returns the persistence layer, or nil.
func (r *Registry) Snapshots() *storage.Snapshots {
	return r.opts.Snapshots
}

// PollLiveness refreshes every entry's kernel identity from one listing.
func (r *Registry) PollLiveness(ctx context.Context) error {
	if r.opts.Control == nil {
		return nil
	}
	listing, err := r.listKernels(ctx)
	if err != nil {
		r.logger.Warn("Liveness poll failed", zap.Error(err))
		return fmt.Errorf("poll liveness: %w", err)
	}

	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.refresh(listing)
	}
	return nil
}

// RunLivenessPoll calls PollLiveness every interval until ctx is done.
func (r *Registry) RunLivenessPoll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.PollLiveness(ctx)
		}
	}
}

// listKernels shares one in-flight listing between concurrent callers.
func (r *Registry) listKernels(ctx context.Context) ([]types.KernelIdentity, error) {
	v, err, _ := r.group.Do("list", func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.ControlTimeout)
		defer cancel()
		return r.opts.Control.List(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]types.KernelIdentity), nil
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/domain/cache"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/stream"
)

// entry is the shared state behind every handle for one uuid. Connection
// methods are never called with mu held: the connection delivers events on
// the caller's goroutine and the handlers take mu.
type entry struct {
	uuid    string
	reg     *Registry
	logger  *zap.Logger
	cache   *cache.MessageCache
	session *kernel.Session
	conn    *stream.Connection
	ready   chan struct{}

	mu           sync.Mutex
	handles      map[id.SubscriberToken]*Handle
	errors       []error
	status       types.StreamState
	loading      bool
	reconnecting bool
	closing      bool
	resets       uint64
	torn         bool
	graceGen     uint64
	graceTimer   *time.Timer
	saveTimer    *time.Timer
	savedVersion uint64
	reloaded     bool

	// saveMu orders snapshot writes against teardown
	saveMu sync.Mutex
}

func newEntry(r *Registry, uuid string) *entry {
	e := &entry{
		uuid:    uuid,
		reg:     r,
		logger:  r.logger.With(zap.String("uuid", uuid)),
		cache:   cache.New(uuid),
		ready:   make(chan struct{}),
		handles: make(map[id.SubscriberToken]*Handle),
		loading: true,
	}
	e.conn = stream.NewConnection(uuid, r.opts.Dialer, r.opts.Stream, stream.Handlers{
		OnFrame:      e.onFrame,
		OnTransition: e.onTransition,
		OnError:      e.onStreamError,
		OnReconnect:  e.onReconnect,
	})
	e.session = kernel.NewSession(uuid, r.opts.Control, e.conn, r.opts.ControlTimeout, r.logger)
	return e
}

// start restores the snapshot, resolves the kernel and connects. Only the
// creating subscriber runs it; everyone else waits on ready.
func (e *entry) start(ctx context.Context) {
	defer close(e.ready)

	e.restore(ctx)
	e.resolve(ctx)

	if err := e.conn.Connect(context.WithoutCancel(ctx)); err != nil {
		e.recordError(types.NewSessionError(e.uuid, "connect", types.ErrTransport, err))
	}
	e.logger.Info("Session started", zap.Int("restored", e.cache.Len()))
}

func (e *entry) waitReady(ctx context.Context) error {
	select {
	case <-e.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *entry) restore(ctx context.Context) {
	snaps := e.reg.opts.Snapshots
	if snaps == nil {
		return
	}
	msgs, ok, err := snaps.LoadMessages(ctx, e.uuid)
	if err != nil {
		e.logger.Warn("Failed to restore snapshot", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	e.cache.Replace(msgs)

	e.mu.Lock()
	e.savedVersion = e.cache.Version()
	e.reloaded = true
	e.mu.Unlock()

	if err := snaps.SetReloaded(ctx, e.uuid, true); err != nil {
		e.logger.Warn("Failed to set reload flag", zap.Error(err))
	}
	e.reg.metrics.IncSessionsRestored()
}

// clearReloaded drops the reload flag once the restored session executes.
func (e *entry) clearReloaded(ctx context.Context) {
	snaps := e.reg.opts.Snapshots
	if snaps == nil {
		return
	}
	e.mu.Lock()
	reloaded := e.reloaded
	e.reloaded = false
	e.mu.Unlock()
	if !reloaded {
		return
	}
	if err := snaps.SetReloaded(ctx, e.uuid, false); err != nil {
		e.logger.Warn("Failed to clear reload flag", zap.Error(err))
	}
}

// resolve binds the session to the uuid's kernel, creating one if allowed.
func (e *entry) resolve(ctx context.Context) {
	if e.reg.opts.Control == nil {
		return
	}
	listing, err := e.reg.listKernels(ctx)
	if err != nil {
		e.recordError(types.NewSessionError(e.uuid, "resolve", kindOr(err, types.ErrTransport), err))
		return
	}
	if e.session.Resolve(listing) || !e.reg.opts.AutoCreate {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.reg.opts.ControlTimeout)
	defer cancel()
	if _, err := e.session.Create(ctx, e.reg.opts.KernelName); err != nil {
		e.recordError(err)
	}
}

func (e *entry) refresh(listing []types.KernelIdentity) {
	before := e.session.Identity()
	beforeStatus := e.session.Status()
	e.session.Resolve(listing)
	if e.session.Identity() != before || e.session.Status() != beforeStatus {
		e.notify()
	}
}

// attach registers a new handle. reconnect reports whether the caller
// should reconnect an idle connection.
func (e *entry) attach() (*Handle, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.torn {
		return nil, false, types.ErrSessionClosed
	}
	h := newHandle(e)
	e.handles[h.token] = h
	e.graceGen++
	if e.graceTimer != nil {
		e.graceTimer.Stop()
		e.graceTimer = nil
	}

	idle := (e.status == types.StateClosed || e.status == types.StateUninstantiated) && !e.reconnecting
	if idle {
		e.loading = true
	}
	return h, idle, nil
}

// detach drops token; the last one out schedules the grace close.
func (e *entry) detach(token id.SubscriberToken) bool {
	e.mu.Lock()
	h, ok := e.handles[token]
	if !ok {
		e.mu.Unlock()
		return false
	}
	delete(e.handles, token)
	h.release()

	if len(e.handles) > 0 || e.torn {
		e.mu.Unlock()
		return true
	}
	e.graceGen++
	gen := e.graceGen
	grace := e.reg.opts.GracePeriod
	if grace > 0 {
		e.graceTimer = time.AfterFunc(grace, func() { e.graceExpired(gen) })
		e.mu.Unlock()
		return true
	}
	e.mu.Unlock()

	e.graceExpired(gen)
	return true
}

// graceExpired closes the connection unless a subscriber came back.
func (e *entry) graceExpired(gen uint64) {
	e.mu.Lock()
	if e.torn || gen != e.graceGen || len(e.handles) > 0 {
		e.mu.Unlock()
		return
	}
	e.graceTimer = nil
	e.closing = true
	e.mu.Unlock()

	if err := e.conn.Close(); err != nil {
		e.logger.Debug("Close after grace period", zap.Error(err))
	}
	e.mu.Lock()
	e.reconnecting = false
	e.loading = false
	e.mu.Unlock()
	e.notify()

	e.saveNow()
	e.logger.Info("Connection closed after grace period")
}

type releaseResult struct {
	count int
	err   error
}

// teardown closes everything and settles the snapshot.
func (e *entry) teardown(ctx context.Context, opts TeardownOptions) releaseResult {
	// let a concurrent start finish so its Connect cannot outlive us
	<-e.ready

	e.mu.Lock()
	e.torn = true
	e.closing = true
	if e.graceTimer != nil {
		e.graceTimer.Stop()
		e.graceTimer = nil
	}
	if e.saveTimer != nil {
		e.saveTimer.Stop()
		e.saveTimer = nil
	}
	released := len(e.handles)
	for token, h := range e.handles {
		h.release()
		delete(e.handles, token)
	}
	e.mu.Unlock()

	var errs []error
	if err := e.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}

	if snaps := e.reg.opts.Snapshots; snaps != nil {
		e.saveMu.Lock()
		if opts.DeleteSnapshot {
			if err := snaps.Purge(ctx, e.uuid); err != nil {
				errs = append(errs, err)
			}
		} else if err := e.save(ctx); err != nil {
			errs = append(errs, err)
		}
		e.saveMu.Unlock()
	}

	e.logger.Info("Session torn down",
		zap.Bool("delete_snapshot", opts.DeleteSnapshot),
		zap.Int("handles", released))
	return releaseResult{count: released, err: errors.Join(errs...)}
}

func (e *entry) onFrame(f stream.Frame) {
	env, err := stream.Decode(f.Data)
	if err != nil {
		e.recordError(types.NewSessionError(e.uuid, "decode", types.ErrTransport, err))
		return
	}

	if env.HasStatus() {
		e.session.ObserveLiveness(types.AliveFromState(env.ExecutionState), env.ExecutionState)
	}

	for i := range env.Messages {
		if env.Messages[i].Arrival == 0 {
			env.Messages[i].Arrival = f.Arrival
		}
		if env.Messages[i].ReceivedAt.IsZero() {
			env.Messages[i].ReceivedAt = f.ReceivedAt
		}
	}

	duplicates := 0
	switch env.Kind {
	case stream.KindHistory:
		e.cache.Replace(env.Messages)
		e.mu.Lock()
		e.resets++
		e.mu.Unlock()
	case stream.KindBatch, stream.KindMessage:
		added := e.cache.AppendCount(env.Messages)
		duplicates = len(env.Messages) - added
	}
	e.reg.metrics.RecordFrame(env.Kind.String(), duplicates)

	e.scheduleSave()
	e.notify()
}

func (e *entry) onTransition(t stream.Transition) {
	e.mu.Lock()
	e.status = t.To
	switch t.To {
	case types.StateConnecting:
		e.loading = true
		e.reconnecting = false
		e.closing = false
	case types.StateOpen:
		e.loading = false
	case types.StateClosed:
		// an unplanned close with unlimited retries always reconnects
		e.loading = e.reconnecting ||
			(!e.closing && e.reg.opts.Stream.MaxReconnects == 0)
	}
	e.mu.Unlock()
	e.notify()
}

func (e *entry) onStreamError(err error) {
	e.recordError(types.NewSessionError(e.uuid, "stream", types.ErrTransport, err))
}

func (e *entry) onReconnect(attempt int, delay time.Duration) {
	e.mu.Lock()
	e.reconnecting = true
	e.loading = true
	e.mu.Unlock()
	e.logger.Debug("Reconnect scheduled", zap.Int("attempt", attempt), zap.Duration("delay", delay))
	e.notify()
}

// recordError appends err to the bounded error list and notifies.
func (e *entry) recordError(err error) {
	e.reg.metrics.RecordSessionError(types.KindLabel(err))

	e.mu.Lock()
	e.errors = append(e.errors, err)
	if over := len(e.errors) - e.reg.opts.MaxErrors; over > 0 {
		e.errors = append([]error(nil), e.errors[over:]...)
	}
	e.mu.Unlock()
	e.notify()
}

func (e *entry) view() types.View {
	e.mu.Lock()
	v := types.View{
		UUID:    e.uuid,
		Errors:  append([]error(nil), e.errors...),
		Loading: e.loading,
		Status:  e.status,
		Resets:  e.resets,
	}
	e.mu.Unlock()

	v.Events = cache.Sequenced(e.cache.GetAll())
	v.Kernel = e.session.Identity()
	v.KernelStatus = e.session.Status()
	return v
}

// notify wakes every handle without blocking.
func (e *entry) notify() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range e.handles {
		h.signal()
	}
}

// scheduleSave arms the debounced snapshot write.
func (e *entry) scheduleSave() {
	if e.reg.opts.Snapshots == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.torn || e.saveTimer != nil {
		return
	}
	e.saveTimer = time.AfterFunc(e.reg.opts.SnapshotDebounce, func() {
		e.mu.Lock()
		e.saveTimer = nil
		e.mu.Unlock()
		e.saveNow()
	})
}

// saveNow writes the snapshot unless the entry is gone.
func (e *entry) saveNow() {
	if e.reg.opts.Snapshots == nil {
		return
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	torn := e.torn
	e.mu.Unlock()
	if torn {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.reg.opts.ControlTimeout)
	defer cancel()
	if err := e.save(ctx); err != nil {
		e.logger.Warn("Snapshot save failed", zap.Error(err))
	}
}

// save writes the cache if it changed since the last write. saveMu must be
// held.
func (e *entry) save(ctx context.Context) error {
	version := e.cache.Version()
	e.mu.Lock()
	unchanged := version == e.savedVersion
	e.mu.Unlock()
	if unchanged {
		return nil
	}

	err := e.reg.opts.Snapshots.SaveMessages(ctx, e.uuid, e.cache.GetAll())
	e.reg.metrics.RecordSnapshotSave(err)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.savedVersion = version
	e.mu.Unlock()
	return nil
}

// kindOr returns err's kind, or fallback when it has none.
func kindOr(err, fallback error) error {
	if kind := types.KindOf(err); kind != nil {
		return kind
	}
	return fallback
}

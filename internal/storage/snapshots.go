package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/paths"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
)

// snapshotVersion is bumped when messageSnapshot changes incompatibly.
const snapshotVersion = 1

// ErrSnapshotVersion is returned when a stored snapshot was written by an
// incompatible version.
var ErrSnapshotVersion = errors.New("storage: unsupported snapshot version")

type messageSnapshot struct {
	Version  int                   `json:"version"`
	UUID     string                `json:"uuid"`
	SavedAt  time.Time             `json:"saved_at"`
	Messages []types.OutputMessage `json:"messages"`
}

// Snapshots provides typed, per-uuid access to a Store.
type Snapshots struct {
	store  Store
	codec  Codec
	logger *zap.Logger
}

// NewSnapshots wraps store.
func NewSnapshots(store Store, codec Codec, logger *zap.Logger) *Snapshots {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshots{store: store, codec: codec, logger: logger}
}

// Store returns the underlying store.
func (s *Snapshots) Store() Store {
	return s.store
}

// SaveMessages replaces the message snapshot for uuid.
func (s *Snapshots) SaveMessages(ctx context.Context, uuid string, msgs []types.OutputMessage) error {
	if err := paths.ValidateUUID(uuid); err != nil {
		return err
	}

	data, err := s.codec.Marshal(messageSnapshot{
		Version:  snapshotVersion,
		UUID:     uuid,
		SavedAt:  time.Now().UTC(),
		Messages: msgs,
	})
	if err != nil {
		return err
	}

	if _, err := s.store.Set(ctx, paths.SessionPath(uuid).MessagesKey(), data); err != nil {
		return fmt.Errorf("save messages for %s: %w", uuid, err)
	}

	s.logger.Debug("Saved message snapshot",
		zap.String("session", uuid),
		zap.Int("messages", len(msgs)),
		zap.Int("bytes", len(data)))
	return nil
}

// LoadMessages returns the stored snapshot for uuid, if any.
func (s *Snapshots) LoadMessages(ctx context.Context, uuid string) ([]types.OutputMessage, bool, error) {
	if err := paths.ValidateUUID(uuid); err != nil {
		return nil, false, err
	}

	data, ok, err := s.store.Get(ctx, paths.SessionPath(uuid).MessagesKey())
	if err != nil || !ok {
		return nil, false, err
	}

	var snap messageSnapshot
	if err := s.codec.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("load messages for %s: %w", uuid, err)
	}
	if snap.Version != snapshotVersion {
		return nil, false, fmt.Errorf("load messages for %s: %w (%d)", uuid, ErrSnapshotVersion, snap.Version)
	}
	return snap.Messages, true, nil
}

// DeleteMessages removes the message snapshot for uuid.
func (s *Snapshots) DeleteMessages(ctx context.Context, uuid string) error {
	if err := paths.ValidateUUID(uuid); err != nil {
		return err
	}
	return s.store.Remove(ctx, paths.SessionPath(uuid).MessagesKey())
}

// SaveUIState stores UI interaction state, stamping UpdatedAt.
func (s *Snapshots) SaveUIState(ctx context.Context, uuid string, state types.UIState) (types.UIState, error) {
	if err := paths.ValidateUUID(uuid); err != nil {
		return types.UIState{}, err
	}

	state.UpdatedAt = time.Now().UTC()
	data, err := s.codec.Marshal(state)
	if err != nil {
		return types.UIState{}, err
	}
	if _, err := s.store.Set(ctx, paths.SessionPath(uuid).UIStateKey(), data); err != nil {
		return types.UIState{}, fmt.Errorf("save ui state for %s: %w", uuid, err)
	}
	return state, nil
}

// LoadUIState returns stored UI state for uuid, if any.
func (s *Snapshots) LoadUIState(ctx context.Context, uuid string) (types.UIState, bool, error) {
	if err := paths.ValidateUUID(uuid); err != nil {
		return types.UIState{}, false, err
	}

	data, ok, err := s.store.Get(ctx, paths.SessionPath(uuid).UIStateKey())
	if err != nil || !ok {
		return types.UIState{}, false, err
	}

	var state types.UIState
	if err := s.codec.Unmarshal(data, &state); err != nil {
		return types.UIState{}, false, fmt.Errorf("load ui state for %s: %w", uuid, err)
	}
	return state, true, nil
}

// SetReloaded records whether the uuid's UI has reloaded since its last
// execution. Clearing the flag removes the key.
func (s *Snapshots) SetReloaded(ctx context.Context, uuid string, reloaded bool) error {
	if err := paths.ValidateUUID(uuid); err != nil {
		return err
	}

	key := paths.SessionPath(uuid).ReloadedKey()
	if !reloaded {
		return s.store.Remove(ctx, key)
	}
	_, err := s.store.Set(ctx, key, []byte{1})
	return err
}

// Reloaded reports the reload flag for uuid.
func (s *Snapshots) Reloaded(ctx context.Context, uuid string) (bool, error) {
	if err := paths.ValidateUUID(uuid); err != nil {
		return false, err
	}

	_, ok, err := s.store.Get(ctx, paths.SessionPath(uuid).ReloadedKey())
	return ok, err
}

// Purge removes every key owned by uuid.
func (s *Snapshots) Purge(ctx context.Context, uuid string) error {
	if err := paths.ValidateUUID(uuid); err != nil {
		return err
	}

	var errs []error
	for _, key := range paths.SessionPath(uuid).Keys() {
		if err := s.store.Remove(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

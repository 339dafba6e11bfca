package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/config"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	file, err := NewFileStore(filepath.Join(t.TempDir(), "files"))
	require.NoError(t, err)

	lite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "kv.db"))
	require.NoError(t, err)

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"file":   file,
		"sqlite": lite,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.Get(ctx, "execstream/a/messages")
			require.NoError(t, err)
			assert.False(t, ok)

			got, err := store.Set(ctx, "execstream/a/messages", []byte("v1"))
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), got)

			// last writer wins
			_, err = store.Set(ctx, "execstream/a/messages", []byte("v2"))
			require.NoError(t, err)

			val, ok, err := store.Get(ctx, "execstream/a/messages")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("v2"), val)

			// keys are disjoint
			_, ok, err = store.Get(ctx, "execstream/b/messages")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.Remove(ctx, "execstream/a/messages"))
			require.NoError(t, store.Remove(ctx, "execstream/a/messages"))

			_, ok, err = store.Get(ctx, "execstream/a/messages")
			require.NoError(t, err)
			assert.False(t, ok)

			_, _, err = store.Get(ctx, "")
			assert.ErrorIs(t, err, ErrEmptyKey)
		})
	}
}

func TestStoreConcurrentWriters(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := store.Set(ctx, "execstream/shared/ui", []byte{byte(i)})
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			val, ok, err := store.Get(ctx, "execstream/shared/ui")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Len(t, val, 1)
		})
	}
}

func TestMemoryStoreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	in := []byte("abc")
	_, err := store.Set(ctx, "k", in)
	require.NoError(t, err)
	in[0] = 'x'

	out, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))
	out[0] = 'y'

	again, _, _ := store.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
	assert.Equal(t, 1, store.Len())
}

func TestStoreCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryStore().Set(ctx, "k", []byte("v"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewFileStore(dir)
	require.NoError(t, err)
	_, err = first.Set(ctx, "execstream/a/ui", []byte("state"))
	require.NoError(t, err)

	second, err := NewFileStore(dir)
	require.NoError(t, err)
	val, ok, err := second.Get(ctx, "execstream/a/ui")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "state", string(val))

	matches, err := filepath.Glob(filepath.Join(dir, ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestOpen(t *testing.T) {
	tests := []struct {
		backend string
		wantErr bool
	}{
		{config.BackendMemory, false},
		{config.BackendFile, false},
		{config.BackendSQLite, false},
		{"tape", true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			store, err := Open(config.StorageConfig{Backend: tt.backend, Path: t.TempDir()})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, store.Close())
		})
	}
}

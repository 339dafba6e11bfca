package id

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	gen := NewGenerator()

	assert.NotEqual(t, gen.Generate().String(), gen.Generate().String())
	assert.Len(t, gen.GenerateString(), 26)
}

func TestTypedIDGeneration(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		prefix string
	}{
		{"subscriber", NewSubscriberToken().String(), SubscriberPrefix},
		{"trace", NewTraceID().String(), TracePrefix},
		{"span", NewSpanID().String(), SpanPrefix},
		{"request", NewRequestID().String(), RequestPrefix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, strings.HasPrefix(tt.value, tt.prefix+"_"), tt.value)
			assert.True(t, IsValidPrefixed(tt.value, tt.prefix), tt.value)
			assert.False(t, IsValidPrefixed(tt.value, "other"))
		})
	}
}

func TestMessageID(t *testing.T) {
	a, b := NewMessageID(), NewMessageID()

	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	require.NoError(t, err)
}

func TestConcurrentGeneration(t *testing.T) {
	const workers, perWorker = 10, 100

	var (
		mu   sync.Mutex
		seen = make(map[SubscriberToken]bool, workers*perWorker)
		wg   sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tok := NewSubscriberToken()
				mu.Lock()
				seen[tok] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

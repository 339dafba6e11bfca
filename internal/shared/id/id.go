// Package id provides centralized ID generation for execstream.
//
// Locally minted identifiers (subscriber tokens, trace and span ids) are
// prefixed ULIDs so they sort by creation time and read well in logs.
// Message ids placed on the wire to the kernel are plain UUIDv4 strings,
// the format kernels expect for msg_id.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// SubscriberToken identifies one subscription to a uuid
type SubscriberToken string

// TraceID identifies a trace across gateway and control calls
type TraceID string

// SpanID identifies one span within a trace
type SpanID string

// RequestID identifies a gateway request
type RequestID string

const (
	SubscriberPrefix = "sub"
	TracePrefix      = "trace"
	SpanPrefix       = "span"
	RequestPrefix    = "req"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewSubscriberToken generates a new subscriber token
func NewSubscriberToken() SubscriberToken {
	return SubscriberToken(Default().GenerateWithPrefix(SubscriberPrefix))
}

// NewTraceID generates a new trace ID
func NewTraceID() TraceID {
	return TraceID(Default().GenerateWithPrefix(TracePrefix))
}

// NewSpanID generates a new span ID
func NewSpanID() SpanID {
	return SpanID(Default().GenerateWithPrefix(SpanPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewMessageID generates a kernel wire msg_id
func NewMessageID() string {
	return uuid.NewString()
}

func (t SubscriberToken) String() string { return string(t) }
func (t TraceID) String() string         { return string(t) }
func (s SpanID) String() string          { return string(s) }
func (r RequestID) String() string       { return string(r) }

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// IsValidPrefixed checks a "prefix_ULID" string
func IsValidPrefixed(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix+"_")
	return ok && IsValid(rest)
}

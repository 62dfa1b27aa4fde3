// Package id generates the sortable identifiers used across the sandbox
// service.
//
// Every ID is a ULID with a short type prefix (exec_*, req_*, client_*), so
// IDs sort by creation time and are recognizable in logs.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ExecutionID identifies one execute or inject run.
type ExecutionID string

// RequestID identifies an API request.
type RequestID string

// ClientID identifies an event stream subscriber.
type ClientID string

const (
	ExecutionPrefix = "exec"
	RequestPrefix   = "req"
	ClientPrefix    = "client"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source,
// for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string.
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewExecutionID generates a new execution ID.
func NewExecutionID() ExecutionID {
	return ExecutionID(Default().GenerateWithPrefix(ExecutionPrefix))
}

// NewRequestID generates a new request ID.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewClientID generates a new stream client ID.
func NewClientID() ClientID {
	return ClientID(Default().GenerateWithPrefix(ClientPrefix))
}

func (id ExecutionID) String() string { return string(id) }
func (id RequestID) String() string   { return string(id) }
func (id ClientID) String() string    { return string(id) }

// IsValid checks whether s is a ULID, with or without a type prefix.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Parse parses a ULID, stripping a type prefix when present.
func Parse(s string) (ulid.ULID, error) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	return ulid.Parse(s)
}

// Timestamp extracts the creation time from an ID.
func Timestamp(s string) (time.Time, error) {
	parsed, err := Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}

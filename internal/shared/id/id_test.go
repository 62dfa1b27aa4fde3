package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUnique(t *testing.T) {
	gen := NewGenerator()
	assert.NotEqual(t, gen.GenerateString(), gen.GenerateString())
	assert.Len(t, gen.GenerateString(), 26)
}

func TestTypedIDs(t *testing.T) {
	tests := []struct {
		id     string
		prefix string
	}{
		{NewExecutionID().String(), "exec_"},
		{NewRequestID().String(), "req_"},
		{NewClientID().String(), "client_"},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			assert.True(t, strings.HasPrefix(tt.id, tt.prefix))
			assert.True(t, IsValid(tt.id))
		})
	}
}

func TestSortable(t *testing.T) {
	gen := NewGenerator()
	first := gen.GenerateString()
	time.Sleep(2 * time.Millisecond)
	second := gen.GenerateString()
	assert.Less(t, first, second)
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts, err := Timestamp(NewExecutionID().String())
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	_, err = Timestamp("exec_not-a-ulid")
	assert.Error(t, err)
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()
	const n = 200

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := gen.GenerateString()
			mu.Lock()
			seen[s] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

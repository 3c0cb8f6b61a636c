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

	id1 := gen.Generate()
	id2 := gen.Generate()

	assert.NotEqual(t, id1.String(), id2.String())
	assert.Len(t, gen.GenerateString(), 26)
}

func TestTypedPrefixes(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		prefix string
	}{
		{"tab", NewTabID().String(), TabPrefix},
		{"session", NewSessionID().String(), SessionPrefix},
		{"request", NewRequestID().String(), RequestPrefix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, strings.HasPrefix(tt.value, tt.prefix+"_"))
			assert.True(t, IsValid(tt.value))
		})
	}
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	sess := NewSessionID()

	ts, err := Timestamp(sess.String())
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	_, err = Timestamp("sess_not-a-ulid")
	assert.Error(t, err)
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()
	seen := sync.Map{}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, dup := seen.LoadOrStore(gen.GenerateString(), true)
				assert.False(t, dup)
			}
		}()
	}
	wg.Wait()
}

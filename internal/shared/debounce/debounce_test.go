package debounce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllow(t *testing.T) {
	base := time.Unix(1000, 0)

	tests := []struct {
		name    string
		offsets []time.Duration
		want    []bool
	}{
		{
			name:    "first call accepted",
			offsets: []time.Duration{0},
			want:    []bool{true},
		},
		{
			name:    "second call inside window rejected",
			offsets: []time.Duration{0, 100 * time.Millisecond},
			want:    []bool{true, false},
		},
		{
			name:    "call at window boundary accepted",
			offsets: []time.Duration{0, 500 * time.Millisecond},
			want:    []bool{true, true},
		},
		{
			name:    "rejected call does not extend window",
			offsets: []time.Duration{0, 400 * time.Millisecond, 600 * time.Millisecond},
			want:    []bool{true, false, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(500 * time.Millisecond)
			for i, off := range tt.offsets {
				assert.Equal(t, tt.want[i], d.Allow("tab-1", base.Add(off)), "call %d", i)
			}
		})
	}
}

func TestKeysAreIndependent(t *testing.T) {
	d := New(time.Second)
	now := time.Unix(0, 0)

	assert.True(t, d.Allow("a", now))
	assert.True(t, d.Allow("b", now))
	assert.False(t, d.Allow("a", now.Add(time.Millisecond)))
}

func TestAllowWithinOverridesWindow(t *testing.T) {
	d := New(time.Second)
	now := time.Unix(0, 0)

	assert.True(t, d.Allow("a", now))
	assert.True(t, d.AllowWithin("a", now.Add(300*time.Millisecond), 250*time.Millisecond))
}

func TestForgetAndPrune(t *testing.T) {
	d := New(time.Second)
	now := time.Unix(0, 0)

	d.Allow("tab-1/sess-a", now)
	d.Allow("tab-1/sess-b", now)
	d.Allow("tab-2/sess-c", now.Add(10*time.Second))

	d.Forget("tab-1/")
	assert.Equal(t, 1, d.Len())

	assert.Equal(t, 1, d.Prune(now.Add(time.Minute), 30*time.Second))
	assert.Equal(t, 0, d.Len())
}

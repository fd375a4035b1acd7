package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimiterBurstPerClient(t *testing.T) {
	l := NewLimiter(60, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("10.0.0.1"))

	assert.True(t, l.Allow("10.0.0.2"), "other clients have their own bucket")
}

func TestLimiterTokens(t *testing.T) {
	l := NewLimiter(60, 5)

	assert.InDelta(t, 5, l.Tokens("a"), 0.01)
	l.Allow("a")
	assert.InDelta(t, 4, l.Tokens("a"), 0.1)
	assert.Equal(t, 60, l.Limit())
}

func TestLimiterReportsConfiguredLimit(t *testing.T) {
	for n := 1; n <= 1000; n++ {
		assert.Equal(t, n, NewLimiter(n, 1).Limit())
	}
}

func TestLimiterEvictsIdleClients(t *testing.T) {
	l := NewLimiter(60, 1)
	l.ttl = -1

	l.Allow("a")
	l.GetLimiter("b")

	l.mu.Lock()
	_, ok := l.limiters["a"]
	l.mu.Unlock()
	assert.False(t, ok)
}

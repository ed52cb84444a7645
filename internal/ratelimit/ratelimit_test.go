package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestAllowWithinLimit(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	l := New(NewMemoryWindowCounter(), logger)
	defer l.Stop()

	for i := 0; i < 5; i++ {
		d := l.Allow(context.Background(), "caller-1", "/v1/filter", 10, time.Minute)
		assert.True(t, d.Allowed)
	}
}

func TestAllowRejectsOverLimit(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	l := New(NewMemoryWindowCounter(), logger)
	defer l.Stop()

	var lastDecision Decision
	for i := 0; i < 101; i++ {
		lastDecision = l.Allow(context.Background(), "caller-1", "/v1/filter", 100, time.Minute)
	}
	assert.False(t, lastDecision.Allowed)
	assert.Equal(t, int64(0), lastDecision.Remaining)
	assert.Greater(t, lastDecision.RetryAfter, time.Duration(0))
}

func TestAllowSeparatesIdentifiers(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	l := New(NewMemoryWindowCounter(), logger)
	defer l.Stop()

	for i := 0; i < 100; i++ {
		l.Allow(context.Background(), "caller-a", "/v1/filter", 100, time.Minute)
	}
	d := l.Allow(context.Background(), "caller-b", "/v1/filter", 100, time.Minute)
	assert.True(t, d.Allowed)
}

package health_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streetlight-api/internal/health"
)

func TestManager_CheckNow(t *testing.T) {
	m := health.NewManager(time.Hour)
	m.Register(health.CheckFunc{N: "postgres", F: func(context.Context) error { return nil }})
	m.Register(health.CheckFunc{N: "nats", Optional: true, F: func(context.Context) error { return errors.New("no servers") }})

	// 首次探测前视为健康
	_, ready := m.Snapshot()
	assert.True(t, ready)

	m.CheckNow(context.Background())
	st, ready := m.Snapshot()
	assert.True(t, ready, "optional check must not block readiness")
	require.Len(t, st, 2)
	assert.Equal(t, "nats", st[0].Name)
	assert.False(t, st[0].Healthy)
	assert.Equal(t, "no servers", st[0].Error)
	assert.True(t, st[1].Healthy)
}

func TestManager_RequiredFailureNotReady(t *testing.T) {
	m := health.NewManager(time.Hour)
	m.Register(health.CheckFunc{N: "redis", F: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.CheckNow(ctx)
	_, ready := m.Snapshot()
	assert.False(t, ready)
}

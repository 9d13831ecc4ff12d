package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (c *countingRefresher) Refresh(ctx context.Context) (State, error) {
	c.calls.Add(1)
	return State{}, c.err
}

func TestPeriodicRefresh_RefreshesOnInterval(t *testing.T) {
	refresher := &countingRefresher{}
	service := NewPeriodicRefreshService(refresher, 10*time.Millisecond)

	require.NoError(t, service.StartPeriodicRefresh(context.Background()))
	assert.True(t, service.IsRunning())

	assert.Eventually(t, func() bool {
		return refresher.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	service.Stop()
	assert.False(t, service.IsRunning())

	calls := refresher.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, refresher.calls.Load(), "no refreshes after stop")

	service.Stop()
}

func TestPeriodicRefresh_KeepsGoingAfterErrors(t *testing.T) {
	refresher := &countingRefresher{err: errors.New("boom")}
	service := NewPeriodicRefreshService(refresher, 10*time.Millisecond)
	t.Cleanup(service.Stop)

	require.NoError(t, service.StartPeriodicRefresh(context.Background()))
	assert.Eventually(t, func() bool {
		return refresher.calls.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestPeriodicRefresh_DisabledWithZeroInterval(t *testing.T) {
	refresher := &countingRefresher{}
	service := NewPeriodicRefreshService(refresher, 0)

	require.NoError(t, service.StartPeriodicRefresh(context.Background()))
	assert.False(t, service.IsRunning())
	service.Stop()
}

func TestPeriodicRefresh_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	refresher := &countingRefresher{}
	service := NewPeriodicRefreshService(refresher, 10*time.Millisecond)

	require.NoError(t, service.StartPeriodicRefresh(ctx))
	require.NoError(t, service.StartPeriodicRefresh(ctx), "second start is a no-op")
	cancel()

	// Stop still returns once the loop has exited on its own
	done := make(chan struct{})
	go func() {
		service.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop did not return")
	}
}

func TestPeriodicRefresh_DrivesSession(t *testing.T) {
	gateway := &fakeGateway{}
	s := startSession(t, gateway, SessionOptions{})
	service := NewPeriodicRefreshService(s, 10*time.Millisecond)
	t.Cleanup(service.Stop)

	require.NoError(t, service.StartPeriodicRefresh(context.Background()))
	assert.Eventually(t, func() bool {
		return gateway.listCount() >= 2
	}, time.Second, 5*time.Millisecond)
}

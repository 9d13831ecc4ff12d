package services

import (
	"context"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"
)

// Refresher is the part of SurveySession the periodic refresh drives
type Refresher interface {
	Refresh(ctx context.Context) (State, error)
}

// PeriodicRefreshService re-fetches persisted polygons on an interval so
// records saved from other devices show up without a manual refresh
type PeriodicRefreshService struct {
	session  Refresher
	interval time.Duration

	// Background refresh control
	mu       sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
	running  bool
}

// NewPeriodicRefreshService creates a new periodic refresh service
func NewPeriodicRefreshService(session Refresher, interval time.Duration) *PeriodicRefreshService {
	return &PeriodicRefreshService{
		session:  session,
		interval: interval,
	}
}

// StartPeriodicRefresh begins refreshing in the background. A non-positive
// interval disables it.
func (p *PeriodicRefreshService) StartPeriodicRefresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.interval <= 0 {
		return nil
	}

	ctx = logging.EnsureLogger(ctx)
	p.running = true
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})

	logging.Infow(ctx, "Starting periodic property refresh", "interval", p.interval.String())

	go p.refreshLoop(ctx, p.stopChan, p.done)

	return nil
}

// Stop gracefully stops the periodic refresh
func (p *PeriodicRefreshService) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	done := p.done
	p.mu.Unlock()

	<-done
}

// IsRunning returns whether periodic refresh is active
func (p *PeriodicRefreshService) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *PeriodicRefreshService) refreshLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Infow(ctx, "Periodic refresh stopping due to context cancellation")
			return
		case <-stop:
			logging.Infow(ctx, "Periodic refresh stopping due to stop signal")
			return
		case <-ticker.C:
			if _, err := p.session.Refresh(ctx); err != nil {
				logging.Warnw(ctx, "Periodic refresh failed", "error", err)
			}
		}
	}
}

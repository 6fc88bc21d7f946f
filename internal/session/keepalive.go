package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/pulselink/internal/domain"
)

type refresher interface {
	CurrentIdentity() (domain.Session, bool)
	Refresh(ctx context.Context) (domain.Session, bool)
}

// KeepAlive refreshes a held session on a fixed interval so the backend's
// sliding expiry does not lapse while the client runs. A failed refresh
// clears the identity like any other refresh.
type KeepAlive struct {
	scheduler gocron.Scheduler
	cancel    context.CancelFunc
}

func NewKeepAlive(r refresher, interval time.Duration, clock clockwork.Clock) (*KeepAlive, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if _, ok := r.CurrentIdentity(); !ok {
				return
			}
			if _, ok := r.Refresh(ctx); !ok {
				slog.Warn("Session keep-alive lost the session")
			}
		}),
		gocron.WithName("session-keepalive"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("failed to schedule keep-alive: %w", err)
	}

	return &KeepAlive{scheduler: scheduler, cancel: cancel}, nil
}

func (k *KeepAlive) Start() {
	k.scheduler.Start()
}

// Stop cancels a refresh in flight and waits for the scheduler to exit.
func (k *KeepAlive) Stop() error {
	k.cancel()
	if err := k.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop keep-alive: %w", err)
	}
	return nil
}

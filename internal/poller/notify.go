package poller

import (
	"context"
	"time"

	"github.com/srg/vitalpoll/internal/groutine"
)

// startNotifications runs the notification task for one connection. The device pushes nothing
// the poller subscribes to; the task only idles until ctx ends. It returns a channel closed
// once the task has exited.
func (p *Poller) startNotifications(ctx context.Context) <-chan struct{} {
	interval := p.policy.NotifyInterval

	return groutine.Go(ctx, "vitals-notifications", func(ctx context.Context) {
		log := p.logger.WithField("goroutine", groutine.GetName(ctx))
		log.Debug("Notification task started")
		defer log.Debug("Notification task stopped")

		if interval <= 0 {
			<-ctx.Done()
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
}

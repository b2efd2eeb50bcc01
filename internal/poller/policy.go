package poller

import (
	"context"
	"time"

	"github.com/mcuadros/go-defaults"
)

// Sleeper waits for d or until ctx ends, whichever comes first.
// It returns nil after a full wait and the context's cause otherwise.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the wall-clock Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return context.Cause(ctx)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Policy holds the fixed delays and timeouts of the loop. Zero durations are replaced by the
// defaults below, except IOTimeout where zero means "block until the transport answers".
type Policy struct {
	PollInterval        time.Duration `default:"1s"`
	RetryDelay          time.Duration `default:"2s"`
	DiscoveryRetryDelay time.Duration `default:"5s"`
	ScanWindow          time.Duration `default:"5s"`
	ConnectTimeout      time.Duration `default:"10s"`
	IOTimeout           time.Duration
	NotifyInterval      time.Duration `default:"1s"`

	Sleep Sleeper
	Now   func() time.Time
}

// DefaultPolicy polls every second, retries two seconds after a failure and rescans
// five seconds after a miss.
func DefaultPolicy() Policy {
	var p Policy
	return p.withDefaults()
}

func (p Policy) withDefaults() Policy {
	defaults.SetDefaults(&p)
	if p.Sleep == nil {
		p.Sleep = SleepContext
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return p
}

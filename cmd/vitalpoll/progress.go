package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/srg/vitalpoll/internal/groutine"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// countdown redraws "<prefix> (Ns left, M found)" on one terminal line until stopped.
//
//	c := startCountdown(ctx, w, "Scanning", 5*time.Second, found)
//	defer c.Stop()
//
// A countdown is single-use.
type countdown struct {
	w        io.Writer
	prefix   string
	duration time.Duration
	found    func() int

	mu      sync.Mutex // serialises writes with the caller's own output
	cancel  context.CancelFunc
	done    <-chan struct{}
	stopped sync.Once
}

func startCountdown(ctx context.Context, w io.Writer, prefix string, duration time.Duration, found func() int) *countdown {
	ctx, cancel := context.WithCancel(ctx)
	c := &countdown{
		w:        w,
		prefix:   prefix,
		duration: duration,
		found:    found,
		cancel:   cancel,
	}

	start := time.Now()
	c.draw(c.remaining(start))

	c.done = groutine.Go(ctx, "scan-progress", func(ctx context.Context) {
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.draw(c.remaining(start))
			}
		}
	})
	return c
}

// remaining rounds to the nearest second and never goes below zero.
func (c *countdown) remaining(start time.Time) int {
	left := c.duration - time.Since(start)
	if left <= 0 {
		return 0
	}
	return int(left.Seconds() + 0.5)
}

func (c *countdown) draw(seconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "\r%s (%ds left, %d found)   ", c.prefix, seconds, c.found())
}

// Printf writes a full line above the progress line.
func (c *countdown) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.w, clearLineSequence)
	fmt.Fprintf(c.w, format, args...)
}

// Stop ends the redraw loop and clears the line. Safe to call more than once.
func (c *countdown) Stop() {
	c.stopped.Do(func() {
		c.cancel()
		<-c.done

		c.mu.Lock()
		defer c.mu.Unlock()
		fmt.Fprint(c.w, clearLineSequence)
	})
}

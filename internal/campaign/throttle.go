package campaign

import (
	"context"
	"time"
)

// Throttle keeps the loop under the transport's sustained send rate. Each
// stage has its own counter; after every Limit successful sends of a stage
// the loop sleeps for Pause.
type Throttle struct {
	Limit int
	Pause time.Duration
	// Sleep is replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error

	counts map[Stage]int
}

// NewThrottle returns a throttle with its counters at zero. A non-positive
// limit disables pausing.
func NewThrottle(limit int, pause time.Duration) *Throttle {
	return &Throttle{
		Limit:  limit,
		Pause:  pause,
		Sleep:  sleepContext,
		counts: make(map[Stage]int),
	}
}

// Sent records one successful send of stage. It reports whether it paused;
// the returned error is the context's if it was cancelled while paused.
func (t *Throttle) Sent(ctx context.Context, stage Stage) (bool, error) {
	if t.counts == nil {
		t.counts = make(map[Stage]int)
	}
	t.counts[stage]++
	if t.Limit <= 0 || t.counts[stage]%t.Limit != 0 {
		return false, nil
	}
	sleep := t.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return true, sleep(ctx, t.Pause)
}

// Count returns the sends recorded for stage.
func (t *Throttle) Count(stage Stage) int {
	return t.counts[stage]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package capture

import (
	"context"
	"time"
)

// Step is one scripted notification preceded by a delay.
type Step struct {
	Delay        time.Duration
	Notification Notification
}

// Scripted emits a fixed timeline of notifications and then idles until
// cancelled. Sleep defaults to a timer honouring ctx.
type Scripted struct {
	Steps []Step
	Sleep func(context.Context, time.Duration) error
	// Done, when set, is closed after the final step has been emitted.
	Done chan struct{}
}

// Stream implements Source.
func (s *Scripted) Stream(ctx context.Context, ready func(), emit func(Notification)) error {
	sleep := s.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	ready()
	for _, step := range s.Steps {
		if step.Delay > 0 {
			if err := sleep(ctx, step.Delay); err != nil {
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		emit(step.Notification)
	}
	if s.Done != nil {
		close(s.Done)
	}
	<-ctx.Done()
	return nil
}

func sleepContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

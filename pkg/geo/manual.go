package geo

import (
	"context"
	"time"
)

// Manual is a Locator fed by hand: from a configured position in headless
// mode, or by tests.
type Manual struct {
	*hub
	// Wait bounds CurrentPosition when ctx has no deadline. Zero means fail
	// immediately when no fix is known.
	Wait time.Duration
}

var _ Locator = (*Manual)(nil)

// NewManual returns a locator without a fix.
func NewManual() *Manual {
	return &Manual{hub: newHub()}
}

// Set publishes a new fix to watchers.
func (m *Manual) Set(f Fix) { m.publish(f) }

// Fail reports err to watchers.
func (m *Manual) Fail(err error) { m.fail(err) }

// Last returns the latest fix, if any.
func (m *Manual) Last() (Fix, bool) { return m.lastFix() }

// Watchers returns the number of live watch subscriptions.
func (m *Manual) Watchers() int { return m.watchers() }

func (m *Manual) CurrentPosition(ctx context.Context) (Fix, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		if m.Wait > 0 {
			ctx, cancel = context.WithTimeout(ctx, m.Wait)
		} else {
			ctx, cancel = context.WithCancel(ctx)
			cancel()
		}
		defer cancel()
	}
	if f, ok := m.lastFix(); ok {
		return f, nil
	}
	return m.current(ctx)
}

func (m *Manual) Watch(onUpdate func(Fix), onError func(error)) func() {
	return m.watch(onUpdate, onError)
}

package app

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/callbot/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickSubscriber
)

// Policy decides what happens to a subscriber whose send buffer is full.
type Policy interface {
	OnBackPressure(subscriber string, dropped int) BackpressureAction
}

// SimplePolicy drops frames for a while and kicks subscribers that keep
// falling behind.
type SimplePolicy struct {
	MaxDropped int
}

func (p SimplePolicy) OnBackPressure(_ string, dropped int) BackpressureAction {
	if p.MaxDropped > 0 && dropped < p.MaxDropped {
		return DropFrame
	}
	return KickSubscriber
}

const (
	DefaultScanAttempts  = 3
	DefaultScanBaseDelay = time.Second
)

// RetryPolicy bounds descriptor resolution inside join. The wait after the
// n-th failed attempt is n × BaseDelay.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultScanAttempts, BaseDelay: DefaultScanBaseDelay}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultScanAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	return p
}

func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return time.Duration(attempt) * p.BaseDelay
}

// Retryable reports whether a failed scan may succeed later. Chat state can
// lag behind a call start; an unknown room or a malformed locator will not heal.
func (p RetryPolicy) Retryable(err error) bool {
	return errors.Is(err, domain.ErrNoCallDescriptor)
}

// Do calls fn until it succeeds, fails with a non-retryable error or the
// attempts run out. It returns the last error and the number of attempts made.
func Do[T any](ctx context.Context, p RetryPolicy, fn func(attempt int) (T, error)) (T, int, error) {
	p = p.normalized()
	var (
		res T
		err error
	)
	for attempt := 1; ; attempt++ {
		res, err = fn(attempt)
		if err == nil || !p.Retryable(err) || attempt >= p.Attempts {
			return res, attempt, err
		}
		t := time.NewTimer(p.Delay(attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return res, attempt, context.Cause(ctx)
		}
	}
}

package schedule

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// asBackOff adapts a Schedule[struct{}, O] into a cenkalti/backoff/v4
// BackOff, the interface the sync client's reconnect loop and the rest
// of the ecosystem (SPEC_FULL.md's DOMAIN STACK) already know how to
// drive. The schedule's Output is discarded; only its delay stream and
// termination matter to BackOff.
type asBackOff[O any] struct {
	step Step[struct{}, O]
}

// ToBackOff compiles a Schedule into a backoff.BackOff, instantiating it
// once against deps. Each call to NextBackOff advances the schedule by
// one step.
func ToBackOff[O any](s Schedule[struct{}, O], deps Deps) backoff.BackOff {
	return &asBackOff[O]{step: s(deps)}
}

func (b *asBackOff[O]) NextBackOff() time.Duration {
	res, err := b.step(struct{}{})
	if err != nil || res.Done {
		return backoff.Stop
	}
	return res.Delay
}

func (b *asBackOff[O]) Reset() {}

// RetryStrategyAws is AWS SDK's default retry cadence: exponential
// backoff from 100ms with factor 2, capped at 20s, full jitter, stopping
// after 2 attempts.
func RetryStrategyAws() Schedule[struct{}, time.Duration] {
	return Take[struct{}, time.Duration](2,
		Jitter[struct{}, time.Duration](1.0,
			MaxDelay[struct{}, time.Duration](20*time.Second,
				Exponential[struct{}](100*time.Millisecond, 2))))
}

// RetryStrategyAwsThrottled is the slower cadence AWS SDKs use once a
// throttling error has been observed: exponential backoff from 1s,
// capped at 20s, full jitter, stopping after 2 attempts.
func RetryStrategyAwsThrottled() Schedule[struct{}, time.Duration] {
	return Take[struct{}, time.Duration](2,
		Jitter[struct{}, time.Duration](1.0,
			MaxDelay[struct{}, time.Duration](20*time.Second,
				Exponential[struct{}](1*time.Second, 2))))
}

// Run drives op to completion, retrying according to s's delay stream
// whenever op returns a non-nil error, until s is Done or ctx is
// cancelled.
func Run(ctx context.Context, s Schedule[struct{}, time.Duration], deps Deps, op func(context.Context) error) error {
	b := backoff.WithContext(ToBackOff[time.Duration](s, deps), ctx)
	return backoff.Retry(func() error {
		return op(ctx)
	}, b)
}

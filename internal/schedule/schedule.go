// Package schedule implements the composable backoff/retry algebra of
// SPEC_FULL.md §4.5: a Schedule is a factory over {time, rng} dependencies
// producing a stateful step function from Input to a (Output, delay) pair
// or a "done" signal. It backs the sync client's retry/reconnect logic.
package schedule

import (
	"math"
	"time"

	"github.com/evoluhq/evolu-go/internal/clock"
)

// Deps are the dependencies every Schedule factory closes over, letting
// tests substitute deterministic time and randomness (SPEC_FULL.md §4.5).
type Deps struct {
	Clock clock.Clock
	Rand  clock.Rand
}

// SystemDeps returns production Deps backed by the real clock and a
// cryptographically seeded Rand.
func SystemDeps() Deps {
	return Deps{Clock: clock.System{}, Rand: clock.CryptoRand{}}
}

// StepResult is what one invocation of a Step produces: either a value
// plus the delay to wait before the next step, or Done.
type StepResult[O any] struct {
	Done   bool
	Output O
	Delay  time.Duration
}

// Step is the stateful function a Schedule factory returns. Each call
// advances the schedule's internal state by one tick; callers must not
// share one Step across goroutines (SPEC_FULL.md §4.5: "Callers must not
// share a live step across threads").
type Step[I, O any] func(input I) (StepResult[O], error)

// Schedule is a factory: given Deps, it returns a fresh, independent Step
// stream. Two factory calls never share state (SPEC_FULL.md §8's testable
// property).
type Schedule[I, O any] func(deps Deps) Step[I, O]

// Forever emits (input-count, 0-delay) forever, counting invocations
// starting at 0.
func Forever[I any]() Schedule[I, int] {
	return func(_ Deps) Step[I, int] {
		n := -1
		return func(_ I) (StepResult[int], error) {
			n++
			return StepResult[int]{Output: n, Delay: 0}, nil
		}
	}
}

// Once emits a single output then is Done.
func Once[I any]() Schedule[I, int] {
	return func(_ Deps) Step[I, int] {
		fired := false
		return func(_ I) (StepResult[int], error) {
			if fired {
				return StepResult[int]{Done: true}, nil
			}
			fired = true
			return StepResult[int]{Output: 0, Delay: 0}, nil
		}
	}
}

// Recurs emits n outputs (0..n-1) then is Done.
func Recurs[I any](n int) Schedule[I, int] {
	return Take[I, int](n, Forever[I]())
}

// Spaced emits forever with a fixed delay between outputs.
func Spaced[I any](d time.Duration) Schedule[I, int] {
	return func(deps Deps) Step[I, int] {
		inner := Forever[I]()(deps)
		return func(input I) (StepResult[int], error) {
			res, err := inner(input)
			if err != nil || res.Done {
				return res, err
			}
			res.Delay = d
			return res, nil
		}
	}
}

// Exponential produces delays base, base*factor, base*factor^2, ... and
// outputs the delay itself.
func Exponential[I any](base time.Duration, factor float64) Schedule[I, time.Duration] {
	if factor <= 0 {
		factor = 2
	}
	return func(_ Deps) Step[I, time.Duration] {
		n := -1
		return func(_ I) (StepResult[time.Duration], error) {
			n++
			delay := time.Duration(float64(base) * math.Pow(factor, float64(n)))
			return StepResult[time.Duration]{Output: delay, Delay: delay}, nil
		}
	}
}

// Linear produces delays base, 2*base, 3*base, ...
func Linear[I any](base time.Duration) Schedule[I, time.Duration] {
	return func(_ Deps) Step[I, time.Duration] {
		n := 0
		return func(_ I) (StepResult[time.Duration], error) {
			n++
			delay := base * time.Duration(n)
			return StepResult[time.Duration]{Output: delay, Delay: delay}, nil
		}
	}
}

// Fibonacci produces delays following the Fibonacci sequence starting at
// init: init, init, 2*init, 3*init, 5*init, ...
func Fibonacci[I any](init time.Duration) Schedule[I, time.Duration] {
	return func(_ Deps) Step[I, time.Duration] {
		a, b := time.Duration(0), init
		first := true
		return func(_ I) (StepResult[time.Duration], error) {
			var out time.Duration
			if first {
				out = b
				first = false
			} else {
				a, b = b, a+b
				out = b
			}
			return StepResult[time.Duration]{Output: out, Delay: out}, nil
		}
	}
}

// Fixed emits at every interval-aligned boundary, skipping the delay
// entirely if the caller is already behind the next boundary
// (SPEC_FULL.md §4.5: "skips the delay if running behind").
func Fixed[I any](interval time.Duration) Schedule[I, int] {
	return func(deps Deps) Step[I, int] {
		var start int64
		started := false
		n := -1
		return func(_ I) (StepResult[int], error) {
			now := deps.Clock.NowMillis()
			if !started {
				start = now
				started = true
			}
			n++
			nextBoundary := start + int64(n+1)*interval.Milliseconds()
			delay := time.Duration(nextBoundary-now) * time.Millisecond
			if delay < 0 {
				delay = 0
			}
			return StepResult[int]{Output: n, Delay: delay}, nil
		}
	}
}

// Windowed always waits out the full interval, never compensating for
// being behind (unlike Fixed).
func Windowed[I any](interval time.Duration) Schedule[I, int] {
	return Spaced[I](interval)
}

// FromDelay emits the same fixed delay forever.
func FromDelay[I any](d time.Duration) Schedule[I, time.Duration] {
	return func(_ Deps) Step[I, time.Duration] {
		return func(_ I) (StepResult[time.Duration], error) {
			return StepResult[time.Duration]{Output: d, Delay: d}, nil
		}
	}
}

// FromDelays cycles through a fixed list of delays, repeating the last
// one forever once exhausted.
func FromDelays[I any](delays ...time.Duration) Schedule[I, time.Duration] {
	return func(_ Deps) Step[I, time.Duration] {
		n := -1
		return func(_ I) (StepResult[time.Duration], error) {
			n++
			idx := n
			if idx >= len(delays) {
				idx = len(delays) - 1
			}
			d := delays[idx]
			return StepResult[time.Duration]{Output: d, Delay: d}, nil
		}
	}
}

// Elapsed outputs the number of milliseconds since the step stream
// started, with zero delay.
func Elapsed[I any]() Schedule[I, time.Duration] {
	return func(deps Deps) Step[I, time.Duration] {
		var start int64
		started := false
		return func(_ I) (StepResult[time.Duration], error) {
			now := deps.Clock.NowMillis()
			if !started {
				start = now
				started = true
			}
			return StepResult[time.Duration]{Output: time.Duration(now-start) * time.Millisecond}, nil
		}
	}
}

// During continues only while the elapsed time since the first step is
// less than d.
func During[I any](d time.Duration) Schedule[I, time.Duration] {
	return func(deps Deps) Step[I, time.Duration] {
		elapsed := Elapsed[I]()(deps)
		return func(input I) (StepResult[time.Duration], error) {
			res, err := elapsed(input)
			if err != nil {
				return res, err
			}
			if res.Output >= d {
				return StepResult[time.Duration]{Done: true}, nil
			}
			return res, nil
		}
	}
}

// Succeed always outputs v with zero delay, forever.
func Succeed[I, O any](v O) Schedule[I, O] {
	return func(_ Deps) Step[I, O] {
		return func(_ I) (StepResult[O], error) {
			return StepResult[O]{Output: v}, nil
		}
	}
}

// Unfold outputs init, then next(init), then next(next(init)), ... with
// zero delay, forever.
func Unfold[I, O any](init O, next func(O) O) Schedule[I, O] {
	return func(_ Deps) Step[I, O] {
		cur := init
		first := true
		return func(_ I) (StepResult[O], error) {
			if first {
				first = false
				return StepResult[O]{Output: cur}, nil
			}
			cur = next(cur)
			return StepResult[O]{Output: cur}, nil
		}
	}
}

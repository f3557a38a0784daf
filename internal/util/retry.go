package util

import (
	"math/rand"
	"time"
)

type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Jitter       float64
}

// Retry runs fn up to Attempts times with exponential backoff and
// jitter between attempts, returning the last error if all fail.
func Retry(policy RetryPolicy, fn func() error) error {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	delay := policy.InitialDelay
	var err error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(jittered(delay, policy.Jitter))
			delay *= 2
			if policy.MaxDelay > 0 && delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}

// RetryValue is Retry for operations that produce a value.
func RetryValue[T any](policy RetryPolicy, fn func() (T, error)) (T, error) {
	var out T
	err := Retry(policy, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

func jittered(delay time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return delay
	}
	spread := float64(delay) * jitter
	return delay + time.Duration((rand.Float64()*2-1)*spread)
}

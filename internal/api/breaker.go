package api

import (
	"time"

	"github.com/sony/gobreaker"

	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

// KVBreaker trips on repeated storage failures so a degraded embedded
// store fails fast for callers instead of piling up blocked handlers.
type KVBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewKVBreaker builds a breaker tuned for short, synchronous KV calls.
// Only storage errors (IoError, NotFound) count toward tripping;
// integrity and arithmetic errors reflect caller input, not store
// health, and are excluded via IsSuccessful.
func NewKVBreaker(name string) *KVBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 4,
		Interval:    30 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 8 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !apperrors.IsRetryable(err)
		},
	}
	return &KVBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Do executes fn through the breaker.
func (k *KVBreaker) Do(fn func() (interface{}, error)) (interface{}, error) {
	return k.cb.Execute(fn)
}

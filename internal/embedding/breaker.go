package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/metrics"
)

// BreakerSettings tunes the circuit breaker around a Provider.
type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32        // failures in a row that open the circuit (default 5)
	OpenTimeout         time.Duration // time spent open before probing again (default 30s)
}

// BreakerProvider fails fast while the embedding service is down so frame
// requests do not pile up behind connection timeouts.
type BreakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker[[]Face]
}

func NewBreakerProvider(next Provider, s BreakerSettings) *BreakerProvider {
	if s.Name == "" {
		s.Name = "embedding"
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout == 0 {
		s.OpenTimeout = 30 * time.Second
	}

	metrics.CircuitBreakerState.WithLabelValues(s.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]Face](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		// Caller cancellation says nothing about the health of the service.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerProvider{next: next, cb: cb}
}

func (b *BreakerProvider) Embed(ctx context.Context, image []byte) ([]Face, error) {
	faces, err := b.cb.Execute(func() ([]Face, error) {
		return b.next.Embed(ctx, image)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return faces, err
}

func (b *BreakerProvider) EmbedSingle(ctx context.Context, image []byte) (facematch.Embedding, error) {
	return firstFace(b.Embed(ctx, image))
}

// State reports the breaker state: "closed", "half-open" or "open".
func (b *BreakerProvider) State() string {
	return b.cb.State().String()
}

// BreakerState returns the state of the first circuit breaker in a provider
// chain, or "" when the chain has none.
func BreakerState(p Provider) string {
	for p != nil {
		switch v := p.(type) {
		case *BreakerProvider:
			return v.State()
		case *PreprocessingProvider:
			p = v.next
		default:
			return ""
		}
	}
	return ""
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

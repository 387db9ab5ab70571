package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fee-engine/internal/metrics"

	"github.com/sony/gobreaker"
)

// Reader is the read side the reconciler depends on.
type Reader interface {
	GetLedgerTotals(ctx context.Context, clientID string, from, to time.Time) (Totals, error)
}

type BreakerSettings struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:         "ledger",
		MaxRequests:  3,
		Interval:     30 * time.Second,
		Timeout:      10 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
}

// BreakerReader guards a Reader with a circuit breaker. Every failure, including an
// open circuit, is reported as ErrUnavailable wrapping the cause.
type BreakerReader struct {
	next    Reader
	cb      *gobreaker.CircuitBreaker
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewBreakerReader(next Reader, s BreakerSettings, log *slog.Logger, m *metrics.Metrics) *BreakerReader {
	if log == nil {
		log = slog.Default()
	}
	br := &BreakerReader{next: next, log: log, metrics: m}
	br.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		// A caller giving up is not a ledger fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			br.log.Warn("ledger breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return br
}

func (b *BreakerReader) GetLedgerTotals(ctx context.Context, clientID string, from, to time.Time) (Totals, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.GetLedgerTotals(ctx, clientID, from, to)
	})
	if err != nil {
		b.metrics.IncLedgerError()
		return Totals{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return v.(Totals), nil
}

func (b *BreakerReader) State() gobreaker.State { return b.cb.State() }

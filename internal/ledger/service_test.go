package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"fee-engine/internal/metrics"
	"fee-engine/internal/money"
	"fee-engine/pkg/logger"

	"github.com/sony/gobreaker"
)

var march = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func post(t *testing.T, svc *Service, req PostRequest) Entry {
	t.Helper()
	e, _, err := svc.Post(context.Background(), req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return e
}

func TestService_Post_RejectsInvalidArgs(t *testing.T) {
	svc := NewService(NewMemoryRepo(), 2)
	ok := PostRequest{ClientID: "acme", TransactionID: "tx", Amount: money.MustParse("1.00"), IdempotencyKey: "k"}

	cases := map[string]func(r *PostRequest){
		"client":      func(r *PostRequest) { r.ClientID = " " },
		"transaction": func(r *PostRequest) { r.TransactionID = "" },
		"key":         func(r *PostRequest) { r.IdempotencyKey = "" },
		"zero":        func(r *PostRequest) { r.Amount = money.MustParse("0") },
		"negative":    func(r *PostRequest) { r.Amount = money.MustParse("-1") },
		"precision":   func(r *PostRequest) { r.Amount = money.MustParse("1.001") },
		"type":        func(r *PostRequest) { r.Type = "refund" },
	}
	for name, mutate := range cases {
		r := ok
		mutate(&r)
		if _, _, err := svc.Post(context.Background(), r); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("%s: expected ErrInvalidArgument, got %v", name, err)
		}
	}
}

func TestService_Post_IsIdempotentPerClient(t *testing.T) {
	svc := NewService(NewMemoryRepo(), 2)
	req := PostRequest{ClientID: "acme", TransactionID: "tx-1", Amount: money.MustParse("2.50"), IdempotencyKey: "k1", ChargedAt: march}

	first, created, err := svc.Post(context.Background(), req)
	if err != nil || !created {
		t.Fatalf("first post: created=%v err=%v", created, err)
	}
	again, created, err := svc.Post(context.Background(), req)
	if err != nil || created {
		t.Fatalf("retry: created=%v err=%v", created, err)
	}
	if again.ID != first.ID {
		t.Fatalf("retry returned a new entry %s != %s", again.ID, first.ID)
	}

	req.ClientID = "other"
	if _, created, _ := svc.Post(context.Background(), req); !created {
		t.Fatalf("same key under a different client must post")
	}
}

func TestService_TotalsNetReversalsWithinWindow(t *testing.T) {
	svc := NewService(NewMemoryRepo(), 2)
	post(t, svc, PostRequest{ClientID: "acme", TransactionID: "tx-1", Amount: money.MustParse("20.00"), IdempotencyKey: "a", ChargedAt: march.Add(time.Hour)})
	rev := post(t, svc, PostRequest{ClientID: "acme", TransactionID: "tx-1", Type: EntryTypeReversal, Amount: money.MustParse("5.00"), IdempotencyKey: "b", ChargedAt: march.Add(2 * time.Hour)})
	post(t, svc, PostRequest{ClientID: "acme", TransactionID: "tx-2", Amount: money.MustParse("1.25"), IdempotencyKey: "c", ChargedAt: march.Add(3 * time.Hour)})
	post(t, svc, PostRequest{ClientID: "acme", TransactionID: "tx-3", Amount: money.MustParse("9.99"), IdempotencyKey: "d", ChargedAt: march.AddDate(0, 1, 0)})
	post(t, svc, PostRequest{ClientID: "zeta", TransactionID: "tx-4", Amount: money.MustParse("9.99"), IdempotencyKey: "e", ChargedAt: march})

	if !rev.Amount.Equal(money.MustParse("-5.00")) {
		t.Fatalf("reversal stored as %s", rev.Amount)
	}

	tot, err := svc.GetLedgerTotals(context.Background(), "acme", march, march.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if !tot.TotalCharged.Equal(money.MustParse("16.25")) {
		t.Fatalf("total charged = %s", tot.TotalCharged)
	}
	if len(tot.PerTransaction) != 2 {
		t.Fatalf("expected 2 transactions, got %v", tot.PerTransaction)
	}
	if !tot.PerTransaction["tx-1"].Equal(money.MustParse("15.00")) {
		t.Fatalf("tx-1 = %s", tot.PerTransaction["tx-1"])
	}

	if _, err := svc.GetLedgerTotals(context.Background(), "acme", march, march); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("empty window must be rejected, got %v", err)
	}
}

type flakyReader struct {
	calls int
	err   error
}

func (f *flakyReader) GetLedgerTotals(ctx context.Context, clientID string, from, to time.Time) (Totals, error) {
	f.calls++
	if f.err != nil {
		return Totals{}, f.err
	}
	return Totals{TotalCharged: money.MustParse("1")}, nil
}

func TestBreakerReader_OpensAndReportsUnavailable(t *testing.T) {
	inner := &flakyReader{err: errors.New("connection refused")}
	m := metrics.New()
	br := NewBreakerReader(inner, BreakerSettings{
		Name:         "test",
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  2,
		FailureRatio: 0.5,
	}, logger.Discard(), m)

	for i := 0; i < 2; i++ {
		if _, err := br.GetLedgerTotals(context.Background(), "acme", march, march.AddDate(0, 1, 0)); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("call %d: expected ErrUnavailable, got %v", i, err)
		}
	}
	if br.State() != gobreaker.StateOpen {
		t.Fatalf("expected open breaker, got %s", br.State())
	}

	_, err := br.GetLedgerTotals(context.Background(), "acme", march, march.AddDate(0, 1, 0))
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open-state unavailability, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("open breaker must not reach the ledger, calls=%d", inner.calls)
	}
}

func TestBreakerReader_PassesThroughOnSuccess(t *testing.T) {
	br := NewBreakerReader(&flakyReader{}, DefaultBreakerSettings(), nil, nil)
	tot, err := br.GetLedgerTotals(context.Background(), "acme", march, march.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tot.TotalCharged.Equal(money.MustParse("1")) {
		t.Fatalf("total = %s", tot.TotalCharged)
	}
}

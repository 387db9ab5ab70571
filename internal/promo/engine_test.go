package promo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fee-engine/internal/money"
	"fee-engine/internal/pricing"
	"fee-engine/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	d   = money.MustParse
	now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
)

func int64Ptr(n int64) *int64 { return &n }

func basePromo(code string, disc Discount) PromotionalFee {
	return PromotionalFee{
		PromoCode:  code,
		Discount:   disc,
		ValidFrom:  now.Add(-24 * time.Hour),
		ValidUntil: now.Add(24 * time.Hour),
		Status:     StatusActive,
	}
}

func newEngine(t *testing.T, promos ...PromotionalFee) (*Engine, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	for _, p := range promos {
		_, err := store.CreatePromotion(context.Background(), p)
		require.NoError(t, err)
	}
	e := NewEngine(store, store, logger.Discard(), nil, 2)
	e.clock = func() time.Time { return now }
	return e, store
}

func req(code string, base string) Request {
	return Request{
		Code:              code,
		ClientID:          "acme",
		FeeType:           pricing.FeeTypeTransaction,
		PaymentMethod:     "card",
		TransactionAmount: d("1000.00"),
		BaseFee:           d(base),
	}
}

func TestApply_NoCodeReturnsBase(t *testing.T) {
	e, _ := newEngine(t)
	res := e.Apply(context.Background(), req("", "20.00"))
	assert.True(t, res.FinalFee.Equal(d("20.00")))
	assert.True(t, res.DiscountAmount.IsZero())
	assert.Empty(t, res.RejectionReason)
	assert.NoError(t, res.Err)
}

func TestApply_FlatExample(t *testing.T) {
	e, store := newEngine(t, basePromo("save5", FlatDiscount{Amount: d("5.00")}))
	res := e.Apply(context.Background(), req("SAVE5", "20.00"))

	require.NoError(t, res.Err)
	assert.True(t, res.FinalFee.Equal(d("15.00")), "got %s", res.FinalFee)
	assert.True(t, res.DiscountAmount.Equal(d("5.00")))
	assert.Equal(t, "SAVE5", res.PromoCode)

	p, _, _ := store.GetPromotion(context.Background(), "save5")
	assert.Equal(t, int64(1), p.UsedCount)
}

func TestApply_DiscountTypes(t *testing.T) {
	cases := []struct {
		name           string
		disc           Discount
		base           string
		final, discAmt string
		rebate         bool
	}{
		{"percentage", PercentageDiscount{Percent: d("10")}, "20.00", "18.00", "2.00", false},
		{"percentage capped", PercentageDiscount{Percent: d("50"), MaxAmount: money.Ptr(d("3.00"))}, "20.00", "17.00", "3.00", false},
		{"percentage rounds half even", PercentageDiscount{Percent: d("12.5")}, "0.20", "0.18", "0.02", false},
		{"flat capped at base", FlatDiscount{Amount: d("50.00")}, "20.00", "0.00", "20.00", false},
		{"waiver", Waiver{}, "20.00", "0.00", "20.00", false},
		{"cashback is a rebate", Cashback{Percent: d("10"), MaxAmount: money.Ptr(d("1.50"))}, "20.00", "20.00", "1.50", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, _ := newEngine(t, basePromo("P1", tc.disc))
			res := e.Apply(context.Background(), req("p1", tc.base))
			require.NoError(t, res.Err)
			assert.True(t, res.FinalFee.Equal(d(tc.final)), "final %s", res.FinalFee)
			assert.True(t, res.DiscountAmount.Equal(d(tc.discAmt)), "discount %s", res.DiscountAmount)
			assert.Equal(t, tc.rebate, res.Rebate)
		})
	}
}

func TestApply_NeverNegative(t *testing.T) {
	discounts := []Discount{
		FlatDiscount{Amount: d("1000")},
		PercentageDiscount{Percent: d("100")},
		Waiver{},
		Cashback{Percent: d("100")},
	}
	for _, disc := range discounts {
		for _, base := range []string{"0", "0.01", "3.33", "1000"} {
			o := Apply(disc, d(base), 2)
			assert.False(t, o.Final.IsNegative(), "%T on %s", disc, base)
			assert.False(t, o.Discount.GreaterThan(d(base)), "%T on %s", disc, base)
		}
	}
}

func TestApply_ValidationOrder(t *testing.T) {
	expired := basePromo("EXPIRED", Waiver{})
	expired.ValidUntil = now.Add(-time.Hour)

	notYet := basePromo("SOON", Waiver{})
	notYet.ValidFrom = now.Add(time.Hour)

	inactive := basePromo("OFF", Waiver{})
	inactive.Status = StatusInactive

	exhausted := basePromo("GONE", Waiver{})
	exhausted.UsageLimit = int64Ptr(3)
	exhausted.UsedCount = 3

	minAmt := basePromo("BIG", Waiver{})
	minAmt.MinimumTransactionAmount = money.Ptr(d("5000"))
	// Also fails the payment-method check; the amount check comes first.
	minAmt.ApplicablePaymentMethods = []string{"ach"}

	method := basePromo("ACHONLY", Waiver{})
	method.ApplicablePaymentMethods = []string{"ach"}

	feeType := basePromo("REFUNDS", Waiver{})
	feeType.ApplicableFeeTypes = []pricing.FeeType{pricing.FeeTypeRefund}

	other := basePromo("THEIRS", Waiver{})
	other.ClientID = strPtr("globex")

	e, _ := newEngine(t, expired, notYet, inactive, exhausted, minAmt, method, feeType, other)

	cases := map[string]RejectionReason{
		"missing": ReasonNotFound,
		"theirs":  ReasonNotFound,
		"off":     ReasonInactive,
		"expired": ReasonExpired,
		"gone":    ReasonExhausted,
		"soon":    ReasonOutsideWindow,
		"big":     ReasonBelowMinimumAmount,
		"achonly": ReasonPaymentMethod,
		"refunds": ReasonFeeType,
	}
	for code, want := range cases {
		res := e.Apply(context.Background(), req(code, "20.00"))
		assert.Equal(t, want, res.RejectionReason, code)
		assert.True(t, res.FinalFee.Equal(d("20.00")), code)
		assert.True(t, errors.Is(res.Err, ErrPromoRejected), code)
		assert.False(t, res.Applied(), code)
	}
}

func TestApply_PerClientLimit(t *testing.T) {
	p := basePromo("ONCE", FlatDiscount{Amount: d("1")})
	p.UsagePerClient = int64Ptr(1)
	e, store := newEngine(t, p)
	ctx := context.Background()

	first := e.Apply(ctx, req("once", "10.00"))
	require.NoError(t, first.Err)

	second := e.Apply(ctx, req("once", "10.00"))
	assert.Equal(t, ReasonClientLimitReached, second.RejectionReason)

	r := req("once", "10.00")
	r.ClientID = "globex"
	third := e.Apply(ctx, r)
	assert.NoError(t, third.Err)

	got, _, _ := store.GetPromotion(ctx, "ONCE")
	assert.Equal(t, int64(2), got.UsedCount, "rejections must not touch counters")
}

// racingCounter reports spare usage so every caller passes validation, then defers to
// the real conditional increment.
type racingCounter struct {
	*MemoryStore
}

func (racingCounter) Usage(context.Context, PromotionalFee, string) (Usage, error) {
	return Usage{}, nil
}

func TestApply_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	const limit = 20
	p := basePromo("RUSH", FlatDiscount{Amount: d("1.00")})
	p.UsageLimit = int64Ptr(limit)

	store := NewMemoryStore()
	_, err := store.CreatePromotion(context.Background(), p)
	require.NoError(t, err)
	e := NewEngine(store, racingCounter{store}, logger.Discard(), nil, 2)
	e.clock = func() time.Time { return now }

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		applied  int
		raceLost int
	)
	start := make(chan struct{})
	for i := 0; i < limit+5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res := e.Apply(context.Background(), req("rush", "10.00"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case res.Applied():
				applied++
			case errors.Is(res.Err, ErrPromoUsageRaceLost):
				raceLost++
			}
		}()
	}
	close(start)
	wg.Wait()

	got, _, _ := store.GetPromotion(context.Background(), "RUSH")
	assert.Equal(t, int64(limit), got.UsedCount)
	assert.Equal(t, limit, applied)
	assert.Equal(t, 5, raceLost)
}

func TestEngine_WithClockDrivesWindow(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.CreatePromotion(context.Background(), basePromo("SPRING", FlatDiscount{Amount: d("1.00")}))
	require.NoError(t, err)

	e := NewEngine(store, store, logger.Discard(), nil, 2).WithClock(func() time.Time { return now })
	assert.NoError(t, e.Apply(context.Background(), req("spring", "10.00")).Err)

	e.WithClock(func() time.Time { return now.Add(48 * time.Hour) })
	assert.Equal(t, ReasonExpired, e.Apply(context.Background(), req("spring", "10.00")).RejectionReason)
}

func TestEngine_ReleaseReturnsTheUse(t *testing.T) {
	p := basePromo("LAST", FlatDiscount{Amount: d("1.00")})
	p.UsageLimit = int64Ptr(1)
	p.UsagePerClient = int64Ptr(1)
	e, store := newEngine(t, p)
	ctx := context.Background()

	first := e.Apply(ctx, req("last", "10.00"))
	require.True(t, first.Applied())
	assert.Equal(t, ReasonExhausted, e.Apply(ctx, req("last", "10.00")).RejectionReason)

	require.NoError(t, e.Release(ctx, first, "acme"))
	u, err := store.Usage(ctx, p, "acme")
	require.NoError(t, err)
	assert.Equal(t, Usage{}, u)

	again := e.Apply(ctx, req("last", "10.00"))
	assert.True(t, again.Applied(), "the released use is available again")

	// Releasing a rejected result is a no-op, and counters never go negative.
	require.NoError(t, e.Release(ctx, Result{}, "acme"))
	require.NoError(t, store.ReleaseUsage(ctx, p, "acme"))
	require.NoError(t, store.ReleaseUsage(ctx, p, "acme"))
	got, _, _ := store.GetPromotion(ctx, "LAST")
	assert.Equal(t, int64(0), got.UsedCount)
}

func TestRedisUsage_MissingGlobalKeyResumesFromCatalog(t *testing.T) {
	u, err := usageFrom([]any{nil, nil}, 7)
	require.NoError(t, err)
	assert.Equal(t, Usage{Global: 7}, u)

	u, err = usageFrom([]any{"9", "2"}, 7)
	require.NoError(t, err)
	assert.Equal(t, Usage{Global: 9, Client: 2}, u)

	_, err = usageFrom([]any{"x", nil}, 0)
	assert.Error(t, err)
	_, err = usageFrom([]any{nil}, 0)
	assert.Error(t, err)
}

func TestMemoryStore_SyncUsedCount(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	p, err := store.CreatePromotion(ctx, basePromo("MIRROR", Waiver{}))
	require.NoError(t, err)

	require.NoError(t, store.SyncUsedCount(ctx, p.ID, 4))
	got, _, _ := store.GetPromotion(ctx, "MIRROR")
	assert.Equal(t, int64(4), got.UsedCount)

	assert.True(t, errors.Is(store.SyncUsedCount(ctx, 999, 1), ErrNotFound))
}

type brokenCatalog struct{}

func (brokenCatalog) GetPromotion(context.Context, string) (PromotionalFee, bool, error) {
	return PromotionalFee{}, false, errors.New("connection refused")
}

func TestApply_StoreErrorIsSoft(t *testing.T) {
	e := NewEngine(brokenCatalog{}, NewMemoryStore(), logger.Discard(), nil, 2)
	res := e.Apply(context.Background(), req("ANY", "20.00"))
	assert.Equal(t, ReasonStoreUnavailable, res.RejectionReason)
	assert.True(t, res.FinalFee.Equal(d("20.00")))
}

func TestMemoryStore_CodesAreCaseInsensitive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, err := store.CreatePromotion(ctx, basePromo("Summer", Waiver{}))
	require.NoError(t, err)

	_, err = store.CreatePromotion(ctx, basePromo("SUMMER", Waiver{}))
	assert.True(t, errors.Is(err, ErrDuplicateCode))

	_, found, err := store.GetPromotion(ctx, " summer ")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestPromotionalFee_EffectiveStatus(t *testing.T) {
	p := basePromo("X", Waiver{})
	p.UsageLimit = int64Ptr(2)

	assert.Equal(t, StatusActive, p.EffectiveStatus(now, 1))
	assert.Equal(t, StatusExhausted, p.EffectiveStatus(now, 2))
	assert.Equal(t, StatusExpired, p.EffectiveStatus(p.ValidUntil.Add(time.Second), 0))

	p.Status = StatusInactive
	assert.Equal(t, StatusInactive, p.EffectiveStatus(now, 0))
}

func TestPromotionalFee_Validate(t *testing.T) {
	p := basePromo("X", PercentageDiscount{Percent: d("150")})
	assert.True(t, errors.Is(p.Validate(), ErrInvalidPromotion))

	p = basePromo("", Waiver{})
	assert.Error(t, p.Validate())

	p = basePromo("X", FlatDiscount{Amount: decimal.NewFromInt(-1)})
	assert.Error(t, p.Validate())

	p = basePromo("X", Waiver{})
	p.Status = StatusExpired
	assert.Error(t, p.Validate(), "derived statuses are never written")
}

func strPtr(s string) *string { return &s }

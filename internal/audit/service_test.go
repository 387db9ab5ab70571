package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestService_AppendRequiresTypeAndActor(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventTypeConfigApproved}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{ActorUserID: "u"}); err == nil {
		t.Fatalf("expected error")
	}
	if len(repo.Events()) != 0 {
		t.Fatalf("expected nothing appended")
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	svc.clock = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

	actor := Actor{UserID: "u", Role: "finance", IP: "1.2.3.4"}
	if err := svc.LogReconciliationResolved(context.Background(), actor, "client-1", "rec-1", "ledger late posting"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].IPAddress != "1.2.3.4" {
		t.Fatalf("expected ip captured")
	}
	if evs[0].Type != EventTypeReconciliationResolved {
		t.Fatalf("expected reconciliation_resolved")
	}
	if evs[0].ID == "" || !evs[0].CreatedAt.Equal(svc.clock()) {
		t.Fatalf("expected id and timestamp to be filled, got %+v", evs[0])
	}
}

func TestService_LogConfigurationCarriesTarget(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogConfiguration(context.Background(), EventTypeConfigApproved, Actor{UserID: "admin"}, "", 42, "approved"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	ev := repo.Events()[0]
	if ev.ConfigurationID != 42 || ev.ClientID != "" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestService_NilServiceFails(t *testing.T) {
	var svc *Service
	if err := svc.Append(context.Background(), Event{Type: EventTypeManualCorrection, ActorUserID: "u"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMemoryRepo_RejectsDuplicateIDs(t *testing.T) {
	repo := NewMemoryRepo()
	ev := Event{ID: "ev-1", Type: EventTypeManualCorrection, ActorUserID: "u"}
	if err := repo.Append(context.Background(), ev); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := repo.Append(context.Background(), ev); !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := repo.Append(ctx, Event{ID: "ev-2"}); err == nil {
		t.Fatalf("expected error on canceled context")
	}
	if len(repo.Events()) != 1 {
		t.Fatalf("expected exactly one stored event")
	}
}

func TestMemoryRepo_FindFiltersAndOrders(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	svc.clock = func() time.Time {
		tick++
		return base.Add(-time.Duration(tick) * time.Minute)
	}

	actor := Actor{UserID: "fin-1", Role: "finance"}
	ctx := context.Background()
	if err := svc.LogManualCorrection(ctx, actor, "acme", "tx-1", "cap", ""); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := svc.LogManualCorrection(ctx, actor, "globex", "tx-2", "cap", ""); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := svc.LogReconciliationResolved(ctx, actor, "acme", "rec-1", "late posting"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	acme := repo.Find(Filter{ClientID: "acme"})
	if len(acme) != 2 {
		t.Fatalf("expected 2 acme events, got %d", len(acme))
	}
	if acme[0].Type != EventTypeReconciliationResolved {
		t.Fatalf("expected oldest first, got %+v", acme)
	}

	corrections := repo.Find(Filter{Type: EventTypeManualCorrection, TransactionID: "tx-2"})
	if len(corrections) != 1 || corrections[0].ClientID != "globex" {
		t.Fatalf("unexpected corrections: %+v", corrections)
	}
	if got := repo.Find(Filter{ReconciliationID: "rec-9"}); len(got) != 0 {
		t.Fatalf("expected no match, got %+v", got)
	}
}

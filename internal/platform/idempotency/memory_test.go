package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestReserveNewKey(t *testing.T) {
	store := NewMemoryStore()

	reservation, err := store.Reserve(context.Background(), "wallet:trans:1", testNow, time.Hour)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if reservation.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %v", reservation.State)
	}
	if reservation.Record.Status != StatusPending {
		t.Fatalf("expected pending record, got %s", reservation.Record.Status)
	}
	if !reservation.Record.ExpiresAt.Equal(testNow.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", reservation.Record.ExpiresAt)
	}
}

func TestReserveWhilePending(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Reserve(context.Background(), "wallet:trans:1", testNow, time.Hour); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	reservation, err := store.Reserve(context.Background(), "wallet:trans:1", testNow.Add(time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("second Reserve: %v", err)
	}
	if reservation.State != ReservationStatePending {
		t.Fatalf("expected pending, got %v", reservation.State)
	}
}

func TestReserveAfterComplete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "wallet:trans:1", testNow, time.Hour); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := store.Complete(ctx, "wallet:trans:1", "order-1", testNow, time.Hour); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	reservation, err := store.Reserve(ctx, "wallet:trans:1", testNow.Add(time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("Reserve after Complete: %v", err)
	}
	if reservation.State != ReservationStateCompleted {
		t.Fatalf("expected completed, got %v", reservation.State)
	}
	if reservation.Record.Result != "order-1" {
		t.Fatalf("expected stored result, got %q", reservation.Record.Result)
	}
}

func TestReserveAfterRelease(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "wallet:trans:1", testNow, time.Hour); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := store.Release(ctx, "wallet:trans:1"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	reservation, err := store.Reserve(ctx, "wallet:trans:1", testNow.Add(time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("Reserve after Release: %v", err)
	}
	if reservation.State != ReservationStateNew {
		t.Fatalf("expected fresh reservation after release, got %v", reservation.State)
	}
}

func TestReserveTakesOverExpiredRecord(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "wallet:trans:1", testNow, time.Minute); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	reservation, err := store.Reserve(ctx, "wallet:trans:1", testNow.Add(2*time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("Reserve after expiry: %v", err)
	}
	if reservation.State != ReservationStateNew {
		t.Fatalf("expected expired record to be replaced, got %v", reservation.State)
	}
}

func TestReserveRequiresKey(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Reserve(context.Background(), "  ", testNow, time.Hour); !errors.Is(err, ErrKeyRequired) {
		t.Fatalf("expected ErrKeyRequired, got %v", err)
	}
	if err := store.Complete(context.Background(), "", "result", testNow, time.Hour); !errors.Is(err, ErrKeyRequired) {
		t.Fatalf("expected ErrKeyRequired, got %v", err)
	}
}

func TestCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "wallet:trans:1", testNow, time.Minute); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := store.Reserve(ctx, "wallet:trans:2", testNow, time.Minute); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := store.Reserve(ctx, "wallet:trans:3", testNow, time.Hour); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	removed, err := store.CleanupExpired(ctx, testNow.Add(5*time.Minute), 10)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removals, got %d", removed)
	}

	// The surviving reservation is still pending.
	reservation, err := store.Reserve(ctx, "wallet:trans:3", testNow.Add(5*time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if reservation.State != ReservationStatePending {
		t.Fatalf("expected surviving reservation, got %v", reservation.State)
	}
}

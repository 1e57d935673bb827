package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Status represents the lifecycle state of an idempotency record.
type Status string

const (
	// DefaultTTL is the default duration that idempotency records are retained.
	DefaultTTL = 24 * time.Hour
	// StatusPending indicates that a caller has reserved the key but not yet completed its work.
	StatusPending Status = "pending"
	// StatusCompleted indicates the work behind the key finished and must not run again.
	StatusCompleted Status = "completed"
)

// ReservationState describes the outcome of attempting to reserve an idempotency key.
type ReservationState int

const (
	// ReservationStateNew means no existing reservation was found and the caller may continue processing.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means the work already ran; Record.Result identifies its outcome.
	ReservationStateCompleted
	// ReservationStatePending means another caller is currently processing this key.
	ReservationStatePending
)

// Reservation encapsulates the result of reserving a key, including the stored record if available.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record captures the persisted state for an idempotency key. Result carries a
// small caller-defined payload, typically the identifier of the entity the
// completed work produced.
type Record struct {
	Key       string
	Status    Status
	Result    string
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Store persists idempotency reservations.
type Store interface {
	Reserve(ctx context.Context, key string, now time.Time, ttl time.Duration) (Reservation, error)
	Complete(ctx context.Context, key, result string, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrKeyRequired is returned when a caller supplies a blank key.
var ErrKeyRequired = errors.New("idempotency: key is required")

func documentID(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// Package ledger aggregates abuse reports per device fingerprint.
//
// Each fingerprint gets an expiring report counter and a separately expiring
// ban flag. Counters decay on their own (a natural statute of limitations on
// abuse), while the ban flag, once set, runs out its own clock even if the
// counter that triggered it expires first. No identity material is ever
// stored, only digests and counters.
package ledger

import (
	"context"
	"time"
)

// Record is one report filed against a fingerprint. It carries ephemeral
// per-room identifiers only.
type Record struct {
	TargetPlayerID string    `json:"target_player_id"`
	Points         int       `json:"points"`
	Timestamp      time.Time `json:"timestamp"`
	RoomID         string    `json:"room_id"`
}

// Status is the authoritative standing of a fingerprint.
type Status struct {
	TotalPoints int
	ReportCount int
	Banned      bool
	UnlockTime  *time.Time // nil when not banned
	Reports     []Record   // oldest first
}

// Policy bundles the tunables shared by ledger implementations.
type Policy struct {
	Threshold  int           // reports within the window before a ban
	CountTTL   time.Duration // sliding decay window for the counter
	BanTTL     time.Duration // how long a ban lasts once set
	MaxRecords int           // recent records kept per fingerprint
}

// Ledger is the server-side report store. Implementations are safe for
// concurrent use, but Increment is not required to be atomic across callers:
// simultaneous reports against the same fingerprint may undercount by at most
// the degree of concurrency. The ban flag must still be set whenever the
// running count has reached the threshold.
type Ledger interface {
	// Increment adds one report against fp, refreshing the decay window, and
	// sets the ban flag once the running count reaches the policy threshold.
	// Returns the new count.
	Increment(ctx context.Context, fp string, rec Record) (int, error)

	// IsShadowBanned reports whether the ban flag for fp is currently set.
	IsShadowBanned(ctx context.Context, fp string) (bool, error)

	// Status returns counters, ban state, and recent records for fp.
	Status(ctx context.Context, fp string) (Status, error)
}

package ledger

import (
	"context"
	"sync"
	"time"
)

type memCount struct {
	n       int
	expires time.Time
}

// MemLedger is the in-process ledger used in dev mode (no redis) and by tests.
// A single mutex guards everything; expiry is checked lazily on access.
type MemLedger struct {
	mu      sync.Mutex
	policy  Policy
	counts  map[string]*memCount
	bans    map[string]time.Time
	recents map[string][]Record

	now func() time.Time
}

func NewMemLedger(policy Policy) *MemLedger {
	return &MemLedger{
		policy:  policy,
		counts:  make(map[string]*memCount),
		bans:    make(map[string]time.Time),
		recents: make(map[string][]Record),
		now:     time.Now,
	}
}

func (l *MemLedger) Increment(ctx context.Context, fp string, rec Record) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	c := l.counts[fp]
	if c == nil || now.After(c.expires) {
		c = &memCount{}
		l.counts[fp] = c
	}
	c.n++
	c.expires = now.Add(l.policy.CountTTL)

	recs := append(l.recents[fp], rec)
	if len(recs) > l.policy.MaxRecords {
		recs = recs[len(recs)-l.policy.MaxRecords:]
	}
	l.recents[fp] = recs

	if c.n >= l.policy.Threshold {
		l.bans[fp] = now.Add(l.policy.BanTTL)
	}

	return c.n, nil
}

func (l *MemLedger) IsShadowBanned(ctx context.Context, fp string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.bannedLocked(fp), nil
}

func (l *MemLedger) Status(ctx context.Context, fp string) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var status Status

	now := l.now()

	if c := l.counts[fp]; c != nil && !now.After(c.expires) {
		status.ReportCount = c.n
	}

	cutoff := now.Add(-l.policy.CountTTL)
	for _, rec := range l.recents[fp] {
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		status.Reports = append(status.Reports, rec)
		status.TotalPoints += rec.Points
	}

	if l.bannedLocked(fp) {
		status.Banned = true
		until := l.bans[fp]
		status.UnlockTime = &until
	}

	return status, nil
}

func (l *MemLedger) bannedLocked(fp string) bool {
	deadline, ok := l.bans[fp]
	if !ok {
		return false
	}
	if l.now().After(deadline) {
		delete(l.bans, fp)
		return false
	}
	return true
}

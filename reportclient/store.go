package reportclient

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const storeSchemaVersion = 1

// storeSnapshot is the on-disk shape of the daily report state. The set of
// reported targets travels as a plain array; membership is what matters,
// order carries no meaning.
type storeSnapshot struct {
	SchemaVersion int        `json:"schema_version"`
	Date          string     `json:"date"` // local date of the last reset
	DailyReports  []string   `json:"daily_reports"`
	DailyPoints   int        `json:"daily_points"`
	IsLocked      bool       `json:"is_locked"`
	LockUntil     *time.Time `json:"lock_until"`
}

// Store is the persisted, date-scoped local cache of "have I already reported
// X today" and "am I currently locked out". The duplicate guard is a courtesy
// to prevent double taps, never the authoritative abuse control; the lock
// fields mirror the server and are overwritten on every status sync. A single
// process owns the file, so no locking beyond whole-blob writes is needed.
type Store struct {
	path     string
	memOnly  bool // persistence unavailable, state lives for this session only
	snapshot struct {
		date         string
		dailyReports map[string]bool
		dailyPoints  int
		isLocked     bool
		lockUntil    *time.Time
	}

	now func() time.Time
}

// NewStore loads the blob at path, starting fresh when the file is missing,
// unreadable, or from an unknown schema version. A load or flush failure is
// never fatal: the store degrades to memory-only for the session.
func NewStore(path string) *Store {
	s := &Store{
		path: path,
		now:  time.Now,
	}
	s.snapshot.dailyReports = make(map[string]bool)
	s.snapshot.date = localDate(s.now())

	raw, err := os.ReadFile(path)
	if err != nil {
		return s
	}

	var snap storeSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil || snap.SchemaVersion != storeSchemaVersion {
		return s
	}

	s.snapshot.date = snap.Date
	s.snapshot.dailyPoints = snap.DailyPoints
	s.snapshot.isLocked = snap.IsLocked
	s.snapshot.lockUntil = snap.LockUntil
	for _, id := range snap.DailyReports {
		s.snapshot.dailyReports[id] = true
	}

	return s
}

// CanReport returns false when target was already reported today. Duplicate
// reports are rejected here, silently, before any network traffic.
func (s *Store) CanReport(targetPlayerID string) bool {
	s.CheckAndResetDaily()

	return !s.snapshot.dailyReports[targetPlayerID]
}

// AddReport records a successful report submission against target.
func (s *Store) AddReport(targetPlayerID string, points int) {
	s.CheckAndResetDaily()

	s.snapshot.dailyReports[targetPlayerID] = true
	s.snapshot.dailyPoints += points
	s.flush()
}

// SetLockStatus overwrites the lock fields with the server's authoritative
// answer. Server state always wins; local state never flows the other way.
func (s *Store) SetLockStatus(isLocked bool, lockUntil *time.Time) {
	s.snapshot.isLocked = isLocked
	s.snapshot.lockUntil = lockUntil
	s.flush()
}

// LockState returns the last reconciled lock flags.
func (s *Store) LockState() (bool, *time.Time) {
	s.CheckAndResetDaily()

	return s.snapshot.isLocked, s.snapshot.lockUntil
}

// DailyPoints returns the points accumulated since the last daily reset.
func (s *Store) DailyPoints() int {
	s.CheckAndResetDaily()

	return s.snapshot.dailyPoints
}

// CheckAndResetDaily clears the daily state once the local calendar date has
// advanced past the last recorded reset point.
func (s *Store) CheckAndResetDaily() {
	if localDate(s.now()) == s.snapshot.date {
		return
	}

	s.ResetDaily()
}

// ResetDaily unconditionally clears the set, points, and lock fields and
// stamps today as the new reset point.
func (s *Store) ResetDaily() {
	s.snapshot.date = localDate(s.now())
	s.snapshot.dailyReports = make(map[string]bool)
	s.snapshot.dailyPoints = 0
	s.snapshot.isLocked = false
	s.snapshot.lockUntil = nil
	s.flush()
}

// flush writes the whole blob via temp-file rename. Errors flip the store to
// memory-only; reporting must not crash the app over a bad disk.
func (s *Store) flush() {
	if s.memOnly || s.path == "" {
		return
	}

	reports := make([]string, 0, len(s.snapshot.dailyReports))
	for id := range s.snapshot.dailyReports {
		reports = append(reports, id)
	}
	sort.Strings(reports)

	raw, err := json.Marshal(storeSnapshot{
		SchemaVersion: storeSchemaVersion,
		Date:          s.snapshot.date,
		DailyReports:  reports,
		DailyPoints:   s.snapshot.dailyPoints,
		IsLocked:      s.snapshot.isLocked,
		LockUntil:     s.snapshot.lockUntil,
	})
	if err != nil {
		s.memOnly = true
		return
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.memOnly = true
		return
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		s.memOnly = true
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.memOnly = true
	}
}

func localDate(t time.Time) string {
	return t.Local().Format(time.DateOnly)
}

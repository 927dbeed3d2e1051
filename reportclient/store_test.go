package reportclient

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStoreDuplicateGuard(t *testing.T) {
	assert := assert.New(t)

	s := NewStore(filepath.Join(t.TempDir(), "reports.json"))

	assert.True(s.CanReport("p1"))
	s.AddReport("p1", 1)
	assert.False(s.CanReport("p1"))
	assert.True(s.CanReport("p2"))
	assert.Equal(1, s.DailyPoints())

	s.ResetDaily()
	assert.True(s.CanReport("p1"))
	assert.Equal(0, s.DailyPoints())
}

func TestStoreResetDaily(t *testing.T) {
	assert := assert.New(t)

	s := NewStore(filepath.Join(t.TempDir(), "reports.json"))

	until := time.Now().Add(time.Hour)
	s.AddReport("p1", 1)
	s.SetLockStatus(true, &until)

	s.ResetDaily()

	assert.True(s.CanReport("p1"))
	assert.Equal(0, s.DailyPoints())
	locked, lockUntil := s.LockState()
	assert.False(locked)
	assert.Nil(lockUntil)
}

func TestStoreDateRollover(t *testing.T) {
	assert := assert.New(t)

	s := NewStore(filepath.Join(t.TempDir(), "reports.json"))

	current := time.Date(2026, 3, 14, 23, 50, 0, 0, time.Local)
	s.now = func() time.Time { return current }
	s.ResetDaily()

	s.AddReport("p1", 1)
	assert.False(s.CanReport("p1"))

	// ten minutes later it is a new day
	current = current.Add(20 * time.Minute)
	assert.True(s.CanReport("p1"))
	assert.Equal(0, s.DailyPoints())
}

func TestStoreRoundTrip(t *testing.T) {
	assert := assert.New(t)

	for _, count := range []int{0, 1, 50} {
		path := filepath.Join(t.TempDir(), "reports.json")

		s := NewStore(path)
		want := make(map[string]bool, count)
		for i := 0; i < count; i++ {
			id := fmt.Sprintf("player-%02d", i)
			s.AddReport(id, 1)
			want[id] = true
		}
		s.flush()

		loaded := NewStore(path)
		assert.Equal(want, loaded.snapshot.dailyReports, "count=%d", count)
		assert.Equal(count, loaded.DailyPoints(), "count=%d", count)
	}
}

func TestStoreLockRoundTrip(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "reports.json")

	until := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	s := NewStore(path)
	s.SetLockStatus(true, &until)

	loaded := NewStore(path)
	locked, lockUntil := loaded.LockState()
	assert.True(locked)
	if assert.NotNil(lockUntil) {
		assert.True(until.Equal(*lockUntil))
	}
}

func TestStoreUnknownSchema(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "reports.json")

	s := NewStore(path)
	s.AddReport("p1", 1)

	// rewrite the blob with a future schema version; the load starts fresh
	// instead of misreading it
	raw := `{"schema_version":99,"date":"2026-01-01","daily_reports":["p1"],"daily_points":7}`
	assert.NoError(os.WriteFile(path, []byte(raw), 0o600))

	loaded := NewStore(path)
	assert.True(loaded.CanReport("p1"))
	assert.Equal(0, loaded.DailyPoints())
}

func TestStorePersistenceUnavailable(t *testing.T) {
	assert := assert.New(t)

	// pathless store: memory-only, still fully functional for the session
	s := NewStore("")
	s.AddReport("p1", 1)
	assert.False(s.CanReport("p1"))
	assert.Equal(1, s.DailyPoints())
}

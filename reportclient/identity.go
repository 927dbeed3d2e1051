// Package reportclient is the player-side half of the abuse-reporting
// subsystem: a layered install identity, a persisted daily report store, and
// the reporter that ties both to the server over the room channel.
package reportclient

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const deviceIDFile = "device_id"

// IdentityProvider derives the install identity used in place of any real
// account identifier. Three layers: a device id generated once and persisted
// under the state dir, a tab id that lives for one session, and a run id
// regenerated every process start. Construct one per process and pass it
// around; there is no ambient global.
type IdentityProvider struct {
	stateDir string
	multiTab bool

	deviceID string
	tabID    string
	runID    string
}

// NewIdentityProvider returns a provider rooted at stateDir. tabID may be
// empty, in which case a fresh one is generated. multiTab enables the debug
// identity layout "<device>.<tab>-<run>", which lets testers simulate several
// distinct players from one device while staying traceable to it; production
// uses the device id alone.
func NewIdentityProvider(stateDir, tabID string, multiTab bool) *IdentityProvider {
	if tabID == "" {
		tabID = uuid.NewString()
	}

	return &IdentityProvider{
		stateDir: stateDir,
		multiTab: multiTab,
		tabID:    tabID,
		runID:    uuid.NewString(),
	}
}

// InstallID returns the identity for this context, creating and persisting
// the device id on first call. Idempotent afterwards. If the state dir is
// unusable the device id is held in memory only for this process; attribution
// degrades, reporting keeps working.
func (p *IdentityProvider) InstallID() string {
	if p.deviceID == "" {
		p.deviceID = p.loadOrCreateDeviceID()
	}

	if !p.multiTab {
		return p.deviceID
	}

	return p.deviceID + "." + p.tabID + "-" + p.runID
}

func (p *IdentityProvider) loadOrCreateDeviceID() string {
	path := filepath.Join(p.stateDir, deviceIDFile)

	// an existing device id is never regenerated
	if raw, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id
		}
	}

	id := uuid.NewString()

	if err := os.MkdirAll(p.stateDir, 0o755); err != nil {
		return id
	}
	_ = os.WriteFile(path, []byte(id+"\n"), 0o600)

	return id
}

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		banDuration:     24 * time.Hour,
		bind:            "127.0.0.1",
		pepperEpoch:     "1",
		port:            8080,
		reportSecret:    "test-secret",
		reportThreshold: 3,
		reportWindow:    30 * 24 * time.Hour,
		sessionTimeout:  time.Hour,
	}
}

func newTestService(t *testing.T) *ReportService {
	t.Helper()

	svc, err := newReportService(testConfig())
	require.NoError(t, err)

	return svc
}

func TestRecordReportThreshold(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	svc := newTestService(t)

	const install = "device-1"

	assert.False(svc.isLocked(ctx, install))

	assert.Equal(1, svc.recordReport(ctx, "room1", install, "p1"))
	assert.Equal(2, svc.recordReport(ctx, "room1", install, "p1"))
	assert.False(svc.isLocked(ctx, install))

	assert.Equal(3, svc.recordReport(ctx, "room2", install, "p1"))
	assert.True(svc.isLocked(ctx, install))

	// a different install is unaffected
	assert.False(svc.isLocked(ctx, "device-2"))
}

func TestServeReportStatus(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cfg := testConfig()
	svc := newTestService(t)

	mux := httprouter.New()
	errs := make(chan error, 64)
	mux.GET("/report/status", serveReportStatus(cfg, svc, errs))

	// missing install_id is the only client error this endpoint has
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report/status", nil))
	assert.Equal(http.StatusBadRequest, rec.Code)

	// an unseen install gets the clean default
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report/status?install_id=device-1&seq=7", nil))
	assert.Equal(http.StatusOK, rec.Code)

	var status ReportStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal("device-1", status.InstallID)
	assert.False(status.IsLocked)
	assert.Nil(status.UnlockTime)
	assert.Equal(0, status.ReportCount)
	assert.NotNil(status.Reports)
	assert.Empty(status.Reports)
	assert.Equal(uint64(7), status.Seq)

	// cross the threshold and the same query reports the lock
	for i := 0; i < cfg.reportThreshold; i++ {
		svc.recordReport(ctx, "room1", "device-1", "p1")
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report/status?install_id=device-1&seq=8", nil))
	assert.Equal(http.StatusOK, rec.Code)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(status.IsLocked)
	assert.Equal(cfg.reportThreshold, status.ReportCount)
	assert.Equal(cfg.reportThreshold, status.TotalPoints)
	assert.Len(status.Reports, cfg.reportThreshold)
	if assert.NotNil(status.UnlockTime) {
		assert.WithinDuration(time.Now().Add(cfg.banDuration), *status.UnlockTime, time.Minute)
	}
}

func TestHubReportIntake(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cfg := testConfig()
	svc := newTestService(t)

	h := newHub("room1")
	h.installs["target-player"] = "device-t"

	reporter := &Client{
		send:     make(chan any, 8),
		playerID: "reporter-player",
	}
	h.clients[reporter] = true

	h.handleReport(cfg, svc, reportRequest{
		client: reporter,
		msg: ClientMessage{
			Type:           "report",
			TargetPlayerID: "target-player",
		},
	})

	// the reporter is acked and the target's install was counted
	msg := <-reporter.send
	ack, ok := msg.(ReportAckMessage)
	assert.True(ok)
	assert.True(ack.Accepted)

	status, err := svc.ledger.Status(ctx, svc.hasher.Fingerprint(reportRef, "device-t"))
	assert.NoError(err)
	assert.Equal(1, status.ReportCount)
	assert.Equal("target-player", status.Reports[0].TargetPlayerID)
	assert.Equal("room1", status.Reports[0].RoomID)
}

func TestHubReportUnknownTarget(t *testing.T) {
	assert := assert.New(t)

	cfg := testConfig()
	svc := newTestService(t)

	h := newHub("room1")

	reporter := &Client{
		send:     make(chan any, 8),
		playerID: "reporter-player",
	}
	h.clients[reporter] = true

	h.handleReport(cfg, svc, reportRequest{
		client: reporter,
		msg: ClientMessage{
			Type:           "report",
			TargetPlayerID: "nobody",
		},
	})

	// still acked: reporting never errors back at the sender
	msg := <-reporter.send
	ack, ok := msg.(ReportAckMessage)
	assert.True(ok)
	assert.True(ack.Accepted)
}

func TestHubChatShadowMute(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cfg := testConfig()
	svc := newTestService(t)

	h := newHub("room1")
	h.installs["muted-player"] = "device-m"
	h.installs["other-player"] = "device-o"

	muted := &Client{send: make(chan any, 8), playerID: "muted-player"}
	other := &Client{send: make(chan any, 8), playerID: "other-player"}
	h.clients[muted] = true
	h.clients[other] = true

	for i := 0; i < cfg.reportThreshold; i++ {
		svc.recordReport(ctx, "room1", "device-m", "muted-player")
	}

	h.handleChat(cfg, svc, chatRequest{
		client: muted,
		msg:    ClientMessage{Type: "chat", Text: "hello?"},
	})

	// the muted sender sees their own line come back, the room does not
	echo := <-muted.send
	chat, ok := echo.(ChatMessage)
	assert.True(ok)
	assert.Equal("hello?", chat.Text)
	assert.Empty(other.send)

	// an unrestricted sender reaches everyone
	h.handleChat(cfg, svc, chatRequest{
		client: other,
		msg:    ClientMessage{Type: "chat", Text: "anyone here"},
	})
	assert.Len(muted.send, 1)
	assert.Len(other.send, 1)
}

func TestConfigValidate(t *testing.T) {
	assert := assert.New(t)

	cfg := testConfig()
	assert.NoError(cfg.validate())

	cfg = testConfig()
	cfg.reportSecret = ""
	assert.Error(cfg.validate())

	cfg = testConfig()
	cfg.reportThreshold = 0
	assert.Error(cfg.validate())

	cfg = testConfig()
	cfg.tlsCert = "cert.pem"
	assert.Error(cfg.validate())

	cfg = testConfig()
	cfg.port = 0
	assert.Error(cfg.validate())
}

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/MIYOSHIMIYO/secret-wolf-sub001/ledger"
)

const (
	// accountOrDeviceRef mixed into every fingerprint; there are no accounts,
	// so every install hashes under the device namespace
	reportRef = "device"

	// weight of a single report
	reportPoints = 1

	// every ledger read/write is time-bounded; on expiry callers fall back
	// to the benign default rather than blocking play
	ledgerTimeout = 5 * time.Second
)

// ReportService glues the fingerprint hasher to the report ledger. One
// instance serves every room.
type ReportService struct {
	hasher *ledger.Hasher
	ledger ledger.Ledger
}

func newReportService(cfg *Config) (*ReportService, error) {
	hasher, err := ledger.NewHasher(cfg.reportSecret, cfg.pepperEpoch)
	if err != nil {
		return nil, err
	}

	policy := ledger.Policy{
		Threshold:  cfg.reportThreshold,
		CountTTL:   cfg.reportWindow,
		BanTTL:     cfg.banDuration,
		MaxRecords: 50,
	}

	var store ledger.Ledger
	if cfg.redisURL != "" {
		store, err = ledger.NewRedisLedger(cfg.redisURL, policy)
		if err != nil {
			return nil, err
		}
	} else {
		store = ledger.NewMemLedger(policy)
	}

	return &ReportService{
		hasher: hasher,
		ledger: store,
	}, nil
}

// isLocked reports whether installID is currently shadow-banned. Ledger
// trouble reads as "not locked": an outage must never restrict a player.
func (svc *ReportService) isLocked(ctx context.Context, installID string) bool {
	fp := svc.hasher.Fingerprint(reportRef, installID)

	banned, err := svc.ledger.IsShadowBanned(ctx, fp)
	if err != nil {
		return false
	}

	return banned
}

// recordReport counts one report against the target install. Returns the new
// count; errors stay here, the reporter is acked either way.
func (svc *ReportService) recordReport(ctx context.Context, roomID, targetInstallID, targetPlayerID string) int {
	fp := svc.hasher.Fingerprint(reportRef, targetInstallID)

	rec := ledger.Record{
		TargetPlayerID: targetPlayerID,
		Points:         reportPoints,
		Timestamp:      time.Now(),
		RoomID:         roomID,
	}

	count, err := svc.ledger.Increment(ctx, fp, rec)
	if err != nil {
		return 0
	}

	return count
}

// ReportStatus is the wire shape of the status query response.
type ReportStatus struct {
	InstallID   string          `json:"install_id"`
	TotalPoints int             `json:"total_points"`
	IsLocked    bool            `json:"is_locked"`
	UnlockTime  *time.Time      `json:"unlock_time"`
	ReportCount int             `json:"report_count"`
	Reports     []ledger.Record `json:"reports"`
	Seq         uint64          `json:"seq"`
}

// serveReportStatus answers GET /report/status?install_id=...&seq=... with
// the authoritative standing of that install. The seq parameter is echoed
// back so clients can discard responses a later call has already superseded.
func serveReportStatus(cfg *Config, svc *ReportService, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		installID := r.URL.Query().Get("install_id")
		if installID == "" {
			http.Error(w, "missing install_id", http.StatusBadRequest)
			return
		}

		seq, _ := strconv.ParseUint(r.URL.Query().Get("seq"), 10, 64)

		ctx, cancel := context.WithTimeout(r.Context(), ledgerTimeout)
		defer cancel()

		fp := svc.hasher.Fingerprint(reportRef, installID)

		status, err := svc.ledger.Status(ctx, fp)
		if err != nil {
			http.Error(w, "status unavailable", http.StatusInternalServerError)
			return
		}

		reports := status.Reports
		if reports == nil {
			reports = []ledger.Record{}
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		securityHeaders(cfg, w)

		err = json.NewEncoder(w).Encode(ReportStatus{
			InstallID:   installID,
			TotalPoints: status.TotalPoints,
			IsLocked:    status.Banned,
			UnlockTime:  status.UnlockTime,
			ReportCount: status.ReportCount,
			Reports:     reports,
			Seq:         seq,
		})
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Report status (%d reports) to %s in %s",
			status.ReportCount,
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

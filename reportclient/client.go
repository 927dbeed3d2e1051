package reportclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// statusTimeout bounds the status fetch so a stalled network never freezes
// the caller; on expiry the reporter hands back a benign default instead.
const statusTimeout = 5 * time.Second

var (
	ErrAlreadyReported  = errors.New("target already reported today")
	ErrLockedOut        = errors.New("reporting is currently locked")
	ErrNoPendingReport  = errors.New("no report is awaiting confirmation")
	ErrTargetMismatch   = errors.New("confirmation target does not match the pending report")
	ErrNotConnected     = errors.New("no room channel is connected")
	ErrRetriesExhausted = errors.New("report submission failed twice, flow closed")
)

// roomConn is the slice of the websocket connection the reporter needs.
// *websocket.Conn satisfies it.
type roomConn interface {
	WriteJSON(v any) error
}

type helloMessage struct {
	Type      string `json:"type"`
	InstallID string `json:"install_id"`
}

type reportMessage struct {
	Type           string `json:"type"`
	TargetPlayerID string `json:"target_player_id"`
	MessageID      string `json:"message_id,omitempty"`
	InstallID      string `json:"install_id"`
}

// ReportRecord mirrors one server-side record of a report involving this
// install.
type ReportRecord struct {
	TargetPlayerID string    `json:"target_player_id"`
	Points         int       `json:"points"`
	Timestamp      time.Time `json:"timestamp"`
	RoomID         string    `json:"room_id"`
}

// ServerStatus is the authoritative standing fetched from the server. The
// client never mutates it; it only mirrors the lock fields into local state.
type ServerStatus struct {
	InstallID   string         `json:"install_id"`
	TotalPoints int            `json:"total_points"`
	IsLocked    bool           `json:"is_locked"`
	UnlockTime  *time.Time     `json:"unlock_time"`
	ReportCount int            `json:"report_count"`
	Reports     []ReportRecord `json:"reports"`
	Seq         uint64         `json:"seq"`
}

// Reporter is the caller-facing report flow: a two-step confirmation gate in
// front of the room channel, the local duplicate guard, and the status sync
// that reconciles local lock state with the server. The surrounding UI is
// meant to go through BeginReport/SubmitReport and never around them.
type Reporter struct {
	baseURL  string
	identity *IdentityProvider
	store    *Store
	httpc    *http.Client

	conn roomConn

	pending string // target armed by BeginReport, "" when the gate is closed
	retried bool   // one transport failure already happened for the pending report

	syncSeq    atomic.Uint64 // sequence handed to the newest status request
	appliedSeq atomic.Uint64 // sequence of the newest response applied locally
}

// NewReporter wires the flow against the server at baseURL (scheme + host,
// e.g. "http://localhost:8080").
func NewReporter(baseURL string, identity *IdentityProvider, store *Store) *Reporter {
	return &Reporter{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		identity: identity,
		store:    store,
		httpc:    &http.Client{Timeout: statusTimeout},
	}
}

// ConnectRoom dials the room's websocket channel and announces this client's
// install id so the server can attribute reports against it later.
func (r *Reporter) ConnectRoom(ctx context.Context, roomID string) (*websocket.Conn, error) {
	wsURL := strings.Replace(r.baseURL, "http", "ws", 1) + "/room/" + roomID + "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}

	hello := helloMessage{
		Type:      "hello",
		InstallID: r.identity.InstallID(),
	}
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, err
	}

	r.conn = conn

	return conn, nil
}

// CanShowReportPrompt gates the UI entry point: false when the target was
// already reported today or when the server has locked this install out.
func (r *Reporter) CanShowReportPrompt(targetPlayerID string) bool {
	locked, _ := r.store.LockState()
	if locked {
		return false
	}

	return r.store.CanReport(targetPlayerID)
}

// BeginReport arms the confirmation gate for target. This is the first
// "report?" step; nothing touches the network until SubmitReport.
func (r *Reporter) BeginReport(targetPlayerID string) error {
	if r.pending != "" && r.pending != targetPlayerID {
		return fmt.Errorf("%w: %s", ErrTargetMismatch, r.pending)
	}

	if locked, _ := r.store.LockState(); locked {
		return ErrLockedOut
	}
	if !r.store.CanReport(targetPlayerID) {
		return ErrAlreadyReported
	}

	r.pending = targetPlayerID
	r.retried = false

	return nil
}

// SubmitReport is the second, irreversible step. The target must match the
// armed one. On success the report is recorded locally right away; the server
// does the actual counting asynchronously. A transport failure leaves the
// gate armed for exactly one more attempt, then closes the flow.
func (r *Reporter) SubmitReport(targetPlayerID, messageID string) error {
	if r.pending == "" {
		return ErrNoPendingReport
	}
	if r.pending != targetPlayerID {
		return ErrTargetMismatch
	}
	if r.conn == nil {
		return ErrNotConnected
	}

	msg := reportMessage{
		Type:           "report",
		TargetPlayerID: targetPlayerID,
		MessageID:      messageID,
		InstallID:      r.identity.InstallID(),
	}

	if err := r.conn.WriteJSON(msg); err != nil {
		if r.retried {
			r.pending = ""
			r.retried = false
			return ErrRetriesExhausted
		}
		r.retried = true
		return err
	}

	r.store.AddReport(targetPlayerID, 1)
	r.pending = ""
	r.retried = false

	return nil
}

// CancelReport disarms the gate without sending anything.
func (r *Reporter) CancelReport() {
	r.pending = ""
	r.retried = false
}

// CurrentLockState returns the locally mirrored lock flags for UI rendering.
func (r *Reporter) CurrentLockState() (bool, *time.Time) {
	return r.store.LockState()
}

// SyncStatus fetches the authoritative standing for this install and
// reconciles the local lock flags with it. Any transport trouble yields the
// benign zero status: a network outage must never lock a player out. Late
// responses from superseded calls are discarded so an old lock state can
// never overwrite a newer one.
func (r *Reporter) SyncStatus(ctx context.Context) ServerStatus {
	installID := r.identity.InstallID()
	seq := r.syncSeq.Add(1)

	fallback := ServerStatus{InstallID: installID}

	u := r.baseURL + "/report/status?" + url.Values{
		"install_id": {installID},
		"seq":        {strconv.FormatUint(seq, 10)},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fallback
	}

	resp, err := r.httpc.Do(req)
	if err != nil {
		return fallback
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fallback
	}

	var status ServerStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fallback
	}

	// last response wins: drop anything an in-flight later call already beat
	for {
		applied := r.appliedSeq.Load()
		if status.Seq <= applied {
			return status
		}
		if r.appliedSeq.CompareAndSwap(applied, status.Seq) {
			break
		}
	}

	r.store.SetLockStatus(status.IsLocked, status.UnlockTime)

	return status
}

// Secret-wolf room channel
//
// Per-room real-time channel that the abuse-reporting subsystem rides on.
// Rooms carry no game-phase state here; they are the transport surface for
// chat relay, install-id registration, and report intake.
//
// Features:
// - WebSockets per room ID: /room/:roomid/ws
// - Players identified by cookie (playerID)
// - Each connection announces its install id ("hello"), so the server can
//   attribute reports to a device without ever seeing an account
// - session_info answers with the caller's shadow-ban state
// - Chat relay; messages from shadow-banned senders are echoed back to the
//   sender only, never relayed (the "shadow" part)
// - Report messages feed the server-side ledger and are acked optimistically
// - Rooms auto-reaped after configurable idle timeout
// - Random 8-char room IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current room, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type           string `json:"type"`                       // "hello", "chat", "report"
	InstallID      string `json:"install_id,omitempty"`       // hello / report
	Text           string `json:"text,omitempty"`             // chat
	TargetPlayerID string `json:"target_player_id,omitempty"` // report
	MessageID      string `json:"message_id,omitempty"`       // report
}

// SessionInfoMessage is sent in answer to "hello" so the client knows its
// player id and whether this install is currently restricted. The restriction
// is stated without a cause.
type SessionInfoMessage struct {
	Type     string `json:"type"` // "session_info"
	PlayerID string `json:"player_id"`
	Locked   bool   `json:"locked"`
}

// ChatMessage is the relayed form of a chat line.
type ChatMessage struct {
	Type      string `json:"type"` // "chat"
	MessageID string `json:"message_id"`
	PlayerID  string `json:"player_id"`
	Text      string `json:"text"`
}

// ReportAckMessage closes the report flow on the client. Always optimistic;
// counting and threshold checks happen asynchronously server-side.
type ReportAckMessage struct {
	Type     string `json:"type"` // "report_ack"
	Accepted bool   `json:"accepted"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type helloRequest struct {
	client *Client
	msg    ClientMessage
}

type chatRequest struct {
	client *Client
	msg    ClientMessage
}

type reportRequest struct {
	client *Client
	msg    ClientMessage
}

type Hub struct {
	id       string
	clients  map[*Client]bool
	installs map[string]string // playerID -> installID, filled by "hello"

	register chan *Client
	unreg    chan *Client
	hellos   chan helloRequest
	chats    chan chatRequest
	reports  chan reportRequest

	mu sync.RWMutex

	createdAt  time.Time
	lastActive time.Time
}

func newHub(roomID string) *Hub {
	now := time.Now()
	return &Hub{
		id:         roomID,
		clients:    make(map[*Client]bool),
		installs:   make(map[string]string),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		hellos:     make(chan helloRequest),
		chats:      make(chan chatRequest),
		reports:    make(chan reportRequest),
		createdAt:  now,
		lastActive: now,
	}
}

func (h *Hub) run(cfg *Config, svc *ReportService) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.lastActive = time.Now()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unreg:
			h.mu.Lock()
			h.lastActive = time.Now()

			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			// the install registration outlives the connection so a report
			// against a player who just left can still be attributed
			h.mu.Unlock()

		case hr := <-h.hellos:
			h.handleHello(cfg, svc, hr)

		case cr := <-h.chats:
			h.handleChat(cfg, svc, cr)

		case rr := <-h.reports:
			h.handleReport(cfg, svc, rr)
		}
	}
}

// installFor resolves a player id to the install id it announced.
func (h *Hub) installFor(playerID string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.installs[playerID]
}

// handleHello registers the connection's install id and answers with
// session_info carrying the caller's own restriction state.
func (h *Hub) handleHello(cfg *Config, svc *ReportService, hr helloRequest) {
	c := hr.client
	msg := hr.msg

	if c.playerID == "" || msg.InstallID == "" {
		return
	}

	h.mu.Lock()
	h.lastActive = time.Now()
	h.installs[c.playerID] = msg.InstallID
	h.mu.Unlock()

	logf(cfg, "ROOMS: Player %s announced install in %s", c.playerID, h.id)

	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()

	locked := svc.isLocked(ctx, msg.InstallID)

	select {
	case c.send <- SessionInfoMessage{
		Type:     "session_info",
		PlayerID: c.playerID,
		Locked:   locked,
	}:
	default:
		h.dropClient(c)
	}
}

// handleChat relays a chat line. A shadow-banned sender sees their own
// message come back as usual; nobody else does.
func (h *Hub) handleChat(cfg *Config, svc *ReportService, cr chatRequest) {
	c := cr.client
	msg := cr.msg

	if c.playerID == "" || msg.Text == "" {
		return
	}

	installID := h.installFor(c.playerID)

	// ledger lookup happens before taking the hub lock; it may block for up
	// to the ledger timeout
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()
	muted := installID != "" && svc.isLocked(ctx, installID)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	relay := ChatMessage{
		Type:      "chat",
		MessageID: randomID(8),
		PlayerID:  c.playerID,
		Text:      msg.Text,
	}

	if muted {
		select {
		case c.send <- relay:
		default:
			h.dropClientLocked(c)
		}
		return
	}

	for client := range h.clients {
		select {
		case client.send <- relay:
		default:
			h.dropClientLocked(client)
		}
	}
}

// handleReport feeds one report into the ledger and acks the reporter.
// Reporting never surfaces an error to the sender: an unknown target is
// silently not counted, and threshold crossings reach the target only
// through its own next status sync.
func (h *Hub) handleReport(cfg *Config, svc *ReportService, rr reportRequest) {
	c := rr.client
	msg := rr.msg

	if c.playerID == "" || msg.TargetPlayerID == "" {
		return
	}

	h.mu.Lock()
	h.lastActive = time.Now()
	targetInstall := h.installs[msg.TargetPlayerID]
	h.mu.Unlock()

	if targetInstall != "" {
		ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
		svc.recordReport(ctx, h.id, targetInstall, msg.TargetPlayerID)
		cancel()
	} else {
		logf(cfg, "REPORT: Unknown target %q in %s, report dropped", msg.TargetPlayerID, h.id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case c.send <- ReportAckMessage{
		Type:     "report_ack",
		Accepted: true,
	}:
	default:
		h.dropClientLocked(c)
	}
}

func (h *Hub) dropClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dropClientLocked(c)
}

func (h *Hub) dropClientLocked(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// closeAll disconnects all clients of this hub (used by reaper).
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "secretwolf_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := randomID(16)
	if id == "" {
		return ""
	}

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

func randomID(bytes int) string {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	return hex.EncodeToString(buf)
}

// RoomManager holds a set of hubs keyed by room ID, so each /room/:roomid
// is its own isolated channel.
type RoomManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
}

func newRoomManager(idleTimeout time.Duration) *RoomManager {
	rm := &RoomManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
	}
	if idleTimeout > 0 {
		go rm.reaperLoop()
	}
	return rm
}

func (rm *RoomManager) getHub(cfg *Config, svc *ReportService, roomID string) *Hub {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if hub, ok := rm.hubs[roomID]; ok {
		return hub
	}

	hub := newHub(roomID)
	rm.hubs[roomID] = hub
	go hub.run(cfg, svc)
	return hub
}

// newRoomID generates a crypto-random room ID and ensures it doesn't
// collide with existing rooms.
func (rm *RoomManager) newRoomID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		rm.mu.Lock()
		_, exists := rm.hubs[id]
		rm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically removes hubs that have been idle longer than idleTimeout.
func (rm *RoomManager) reaperLoop() {
	ticker := time.NewTicker(rm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-rm.idleTimeout)

		rm.mu.Lock()
		for id, hub := range rm.hubs {
			hub.mu.RLock()
			last := hub.lastActive
			hub.mu.RUnlock()

			if last.Before(cutoff) {
				delete(rm.hubs, id)
				go hub.closeAll()
			}
		}
		rm.mu.Unlock()
	}
}

// WebSocket handler that picks the hub based on :roomid
func serveWSForRoom(cfg *Config, svc *ReportService, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		hub := rm.getHub(cfg, svc, roomID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: playerID,
		}

		hub.register <- client

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "hello":
			h.hellos <- helloRequest{
				client: c,
				msg:    msg,
			}
		case "chat":
			h.chats <- chatRequest{
				client: c,
				msg:    msg,
			}
		case "report":
			h.reports <- reportRequest{
				client: c,
				msg:    msg,
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// serveRoomInfo answers GET /room/:roomid with the endpoints a headless
// client needs to join the channel.
func serveRoomInfo(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		securityHeaders(cfg, w)

		err := json.NewEncoder(w).Encode(map[string]string{
			"room_id": roomID,
			"ws":      cfg.prefix + "/room/" + roomID + "/ws",
			"qr":      cfg.prefix + "/room/" + roomID + "/qr",
		})
		if err != nil {
			errs <- err

			return
		}
	}
}

// QR handler: generates a PNG QR code for the current room URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /room/:roomid/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// redirectNewRoom handles GET /room by generating a new random room ID
// (with server-side collision detection) and redirecting to /room/:roomid.
func redirectNewRoom(cfg *Config, path string, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := rm.newRoomID()
		logf(cfg, "ROOMS: Created room %s/%s", path, roomID)
		http.Redirect(w, r, path+"/"+roomID, http.StatusTemporaryRedirect)
	}
}

// registerReportChannel sets up routes so that:
//   - /room                  → redirects to new random room (8-char ID)
//   - /room/:roomid          → channel endpoints (JSON)
//   - /room/:roomid/ws       → WebSocket for that room
//   - /room/:roomid/qr       → PNG QR code for that room URL
func registerReportChannel(cfg *Config, svc *ReportService, path string, mux *httprouter.Router, errs chan<- error) {
	rm := newRoomManager(cfg.sessionTimeout)

	// Root path → redirect to new random room
	mux.GET(path, redirectNewRoom(cfg, path, rm))

	// Per-room channel info
	mux.GET(cfg.prefix+path+"/:roomid", serveRoomInfo(cfg, errs))

	// Per-room websocket
	mux.GET(cfg.prefix+path+"/:roomid/ws", serveWSForRoom(cfg, svc, rm))

	// Per-room QR code
	mux.GET(cfg.prefix+path+"/:roomid/qr", qrHandler)
}

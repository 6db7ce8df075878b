package room

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"
)

// Handler serves the room's HTTP surface: join, websocket
// subscription, diagnostics, and the browser-fallback join QR.
type Handler struct {
	hub       *Hub
	publicURL string
	log       *logrus.Entry
	upgrader  websocket.Upgrader
}

// NewHandler builds the HTTP handler for a hub. publicURL is the
// externally reachable base used in the join QR; empty disables the QR
// endpoint. The logger may be nil.
func NewHandler(hub *Hub, publicURL string, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{
		hub:       hub,
		publicURL: publicURL,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Mux returns the route table.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/join", h.handleJoin)
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/diagnostics", h.handleDiagnostics)
	mux.HandleFunc("/join-qr.png", h.handleJoinQR)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed join request", http.StatusBadRequest)
		return
	}
	if req.RoomCode != "" && req.RoomCode != h.hub.RoomCode() {
		http.Error(w, "unknown room", http.StatusNotFound)
		return
	}

	resp := h.hub.Join(req.ID, req.DisplayName)
	writeJSON(w, resp)
}

func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).WithField("participant", id).Warn("upgrade failed")
		return
	}

	sub, snapshot, ok := h.hub.Subscribe(id, conn)
	if !ok {
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown participant")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}

	initial := snapshotMessage{Type: "snapshot", Participants: snapshot, ServerTime: time.Now().UnixMilli()}
	data, err := json.Marshal(initial)
	if err != nil {
		h.log.WithError(err).WithField("participant", id).Error("failed to marshal snapshot")
		h.hub.Disconnect(id)
		return
	}
	if err := sub.write(data); err != nil {
		h.hub.Disconnect(id)
		return
	}

	h.readLoop(id, sub, conn)
}

// readLoop pumps one participant's inbound messages until the socket
// dies. Everything a client may do flows through here, which is what
// makes single-writer enforcement possible: the id was fixed at
// subscribe time and every mutation is applied to that id only.
func (h *Handler) readLoop(id string, sub *subscriber, conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.hub.Disconnect(id)
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.log.WithField("participant", id).Warn("discarding malformed message")
			continue
		}

		switch msg.Type {
		case "set":
			if !h.hub.SetFields(id, msg.Fields) {
				h.log.WithField("participant", id).Warn("set ignored for unknown participant")
			}
		case "action":
			h.hub.RelayAction(id, msg.Action)
		case "heartbeat":
			now := time.Now()
			rtt, ok := h.hub.UpdateHeartbeat(id, now, msg.SentAt)
			if !ok {
				continue
			}
			ack := heartbeatMessage{
				Type:       "heartbeat",
				ServerTime: now.UnixMilli(),
				ClientTime: msg.SentAt,
				RTTMillis:  rtt.Milliseconds(),
			}
			data, err := json.Marshal(ack)
			if err != nil {
				continue
			}
			if err := sub.write(data); err != nil {
				h.hub.Disconnect(id)
				return
			}
		default:
			h.log.WithFields(logrus.Fields{"participant": id, "type": msg.Type}).
				Debug("ignoring unknown message type")
		}
	}
}

func (h *Handler) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	payload := struct {
		Status       string                   `json:"status"`
		ServerTime   int64                    `json:"serverTime"`
		RoomCode     string                   `json:"roomCode"`
		Participants []diagnosticsParticipant `json:"participants"`
		Heartbeat    int64                    `json:"heartbeatMillis"`
	}{
		Status:       "ok",
		ServerTime:   time.Now().UnixMilli(),
		RoomCode:     h.hub.RoomCode(),
		Participants: h.hub.DiagnosticsSnapshot(),
		Heartbeat:    heartbeatInterval.Milliseconds(),
	}
	writeJSON(w, payload)
}

// handleJoinQR renders the browser-fallback join link as a QR code so
// a phone can hop into the room the desktop is hosting.
func (h *Handler) handleJoinQR(w http.ResponseWriter, _ *http.Request) {
	if h.publicURL == "" {
		http.Error(w, "no public url configured", http.StatusNotFound)
		return
	}
	link := h.publicURL + "/?room=" + h.hub.RoomCode()
	png, err := qrcode.Encode(link, qrcode.Medium, 256)
	if err != nil {
		http.Error(w, "failed to encode", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func writeJSON(w http.ResponseWriter, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "failed to encode", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

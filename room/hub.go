package room

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zachlandes/cozy-quest-hd/presence"
)

const (
	writeWait         = 10 * time.Second
	heartbeatInterval = 2 * time.Second
	disconnectAfter   = 3 * heartbeatInterval
	pruneInterval     = time.Second

	// Scene geometry. Avatars spawn on a ring around the campfire and
	// are kept inside the world bounds.
	worldWidth  = 800.0
	worldHeight = 600.0
	campfireX   = worldWidth / 2
	campfireY   = worldHeight / 2
	spawnRadius = 120.0
)

type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

type participantState struct {
	presence.ParticipantState
	joinedAt      time.Time
	lastHeartbeat time.Time
	lastRTT       time.Duration
}

// Hub owns the single persistent room: the participant set, their
// subscriber connections, and all event fanout. Every mutation happens
// under one mutex; broadcasts snapshot the subscriber list and write
// outside it.
type Hub struct {
	mu           sync.Mutex
	roomCode     string
	participants map[string]*participantState
	subscribers  map[string]*subscriber
	hostID       string
	nextSlot     int
	log          *logrus.Entry
}

// NewHub creates an empty room. An empty room code gets a generated
// one. The logger may be nil.
func NewHub(roomCode string, log *logrus.Entry) *Hub {
	if roomCode == "" {
		roomCode = uuid.New().String()[:8]
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Hub{
		roomCode:     roomCode,
		participants: make(map[string]*participantState),
		subscribers:  make(map[string]*subscriber),
		log:          log.WithField("room", roomCode),
	}
}

// RoomCode returns the room's join code.
func (h *Hub) RoomCode() string {
	return h.roomCode
}

// guestName derives a synthetic display name from a participant id.
// Client-supplied ids can be arbitrarily short.
func guestName(id string) string {
	suffix := id
	if len(suffix) > 4 {
		suffix = suffix[:4]
	}
	return "Wanderer-" + suffix
}

// spawnPosition places the nth joiner on the ring around the campfire.
func spawnPosition(slot int) presence.Position {
	angle := float64(slot) * (math.Pi * 2 / 8)
	return presence.Position{
		X: campfireX + spawnRadius*math.Cos(angle),
		Y: campfireY + spawnRadius*math.Sin(angle),
	}
}

// Join registers a participant and returns the room snapshot. Joining
// with an id already present is idempotent: the existing entry is
// returned and no duplicate join event is fanned out. The first
// participant becomes host.
func (h *Hub) Join(id, displayName string) joinResponse {
	now := time.Now()

	h.mu.Lock()
	if id != "" {
		if existing, ok := h.participants[id]; ok {
			existing.lastHeartbeat = now
			resp := joinResponse{
				ID:           id,
				DisplayName:  existing.DisplayName,
				Host:         h.hostID == id,
				RoomCode:     h.roomCode,
				Participants: h.snapshotLocked(),
			}
			h.mu.Unlock()
			return resp
		}
	} else {
		id = uuid.New().String()
	}
	if displayName == "" {
		displayName = guestName(id)
	}

	slot := h.nextSlot
	h.nextSlot++
	state := &participantState{
		ParticipantState: presence.ParticipantState{
			ID:                id,
			DisplayName:       displayName,
			Position:          spawnPosition(slot),
			Activity:          presence.ActivityIdle,
			ActivityStartedAt: now,
		},
		joinedAt:      now,
		lastHeartbeat: now,
	}
	h.participants[id] = state
	if h.hostID == "" {
		h.hostID = id
	}
	host := h.hostID == id
	snapshot := h.snapshotLocked()
	joined := state.ParticipantState
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{"participant": id, "name": displayName}).Info("participant joined")
	h.broadcastExcept(id, joinEventMessage{Type: "join", Participant: joined})

	return joinResponse{
		ID:           id,
		DisplayName:  displayName,
		Host:         host,
		RoomCode:     h.roomCode,
		Participants: snapshot,
	}
}

// Subscribe associates a socket with a joined participant and returns
// the initial snapshot. A second subscription replaces the first.
func (h *Hub) Subscribe(id string, conn *websocket.Conn) (*subscriber, []presence.ParticipantState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.participants[id]
	if !ok {
		return nil, nil, false
	}
	state.lastHeartbeat = time.Now()

	if existing, ok := h.subscribers[id]; ok {
		existing.conn.Close()
	}
	sub := &subscriber{conn: conn}
	h.subscribers[id] = sub
	return sub, h.snapshotLocked(), true
}

// SetFields applies a partial state update. The single-writer rule is
// enforced here as well as at the transport: only the named
// participant's own connection reaches this path, and unknown ids are
// rejected rather than created.
func (h *Hub) SetFields(id string, fields presence.StateFields) bool {
	now := time.Now()

	h.mu.Lock()
	state, ok := h.participants[id]
	if !ok {
		h.mu.Unlock()
		return false
	}
	if fields.Position != nil {
		fields.Position.X = math.Max(0, math.Min(worldWidth, fields.Position.X))
		fields.Position.Y = math.Max(0, math.Min(worldHeight, fields.Position.Y))
		state.Position = *fields.Position
	}
	if fields.DisplayName != nil && *fields.DisplayName != "" {
		state.DisplayName = *fields.DisplayName
	}
	if fields.Activity != nil {
		if activity, valid := presence.ParseActivity(string(*fields.Activity)); valid {
			state.Activity = activity
			if fields.ActivityStartedAt != nil {
				state.ActivityStartedAt = *fields.ActivityStartedAt
			} else {
				stamped := now
				state.ActivityStartedAt = stamped
				fields.ActivityStartedAt = &stamped
			}
		} else {
			fields.Activity = nil
		}
	}
	h.mu.Unlock()

	h.broadcastExcept(id, stateEventMessage{Type: "state", ID: id, Fields: fields})
	return true
}

// RelayAction forwards a transient action to every other member.
// Best-effort, at most once, no acknowledgement.
func (h *Hub) RelayAction(id, action string) bool {
	h.mu.Lock()
	_, ok := h.participants[id]
	h.mu.Unlock()
	if !ok {
		return false
	}
	h.broadcastExcept(id, actionEventMessage{Type: "action", ID: id, Action: action})
	return true
}

// UpdateHeartbeat records the most recent heartbeat time and RTT.
func (h *Hub) UpdateHeartbeat(id string, receivedAt time.Time, clientSent int64) (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.participants[id]
	if !ok {
		return 0, false
	}
	state.lastHeartbeat = receivedAt

	if clientSent > 0 {
		clientTime := time.UnixMilli(clientSent)
		if clientTime.Before(receivedAt.Add(5 * time.Second)) {
			rtt := receivedAt.Sub(clientTime)
			if rtt < 0 {
				rtt = 0
			}
			state.lastRTT = rtt
		}
	}
	return state.lastRTT, true
}

// Disconnect removes a participant, closes its socket, and fans the
// leave out to everyone else. Host moves to the longest-present
// remaining member.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	sub, subOK := h.subscribers[id]
	if subOK {
		delete(h.subscribers, id)
	}
	_, known := h.participants[id]
	delete(h.participants, id)
	if known && h.hostID == id {
		h.hostID = h.oldestParticipantLocked()
	}
	h.mu.Unlock()

	if subOK {
		sub.conn.Close()
	}
	if !known {
		return
	}
	h.log.WithField("participant", id).Info("participant left")
	h.broadcastExcept(id, leaveEventMessage{Type: "leave", ID: id})
}

func (h *Hub) oldestParticipantLocked() string {
	oldest := ""
	var oldestAt time.Time
	for id, state := range h.participants {
		if oldest == "" || state.joinedAt.Before(oldestAt) {
			oldest = id
			oldestAt = state.joinedAt
		}
	}
	return oldest
}

// Run prunes participants whose heartbeats stopped, until the stop
// channel closes. A pruned participant produces the same leave fanout
// as a clean disconnect.
func (h *Hub) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			h.pruneStale(now)
		}
	}
}

// pruneStale disconnects every participant whose last heartbeat is
// older than the timeout window.
func (h *Hub) pruneStale(now time.Time) {
	h.mu.Lock()
	stale := make([]string, 0)
	for id, state := range h.participants {
		if now.Sub(state.lastHeartbeat) > disconnectAfter {
			stale = append(stale, id)
		}
	}
	h.mu.Unlock()

	for _, id := range stale {
		h.log.WithField("participant", id).Warn("pruning after heartbeat timeout")
		h.Disconnect(id)
	}
}

// DiagnosticsSnapshot exposes heartbeat data for the diagnostics
// endpoint.
func (h *Hub) DiagnosticsSnapshot() []diagnosticsParticipant {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]diagnosticsParticipant, 0, len(h.participants))
	for _, state := range h.participants {
		out = append(out, diagnosticsParticipant{
			ID:            state.ID,
			DisplayName:   state.DisplayName,
			LastHeartbeat: state.lastHeartbeat.UnixMilli(),
			RTTMillis:     state.lastRTT.Milliseconds(),
		})
	}
	return out
}

func (h *Hub) snapshotLocked() []presence.ParticipantState {
	out := make([]presence.ParticipantState, 0, len(h.participants))
	for _, state := range h.participants {
		out = append(out, state.ParticipantState)
	}
	return out
}

// broadcastExcept marshals once and writes to every subscriber other
// than the origin. A failed write disconnects that subscriber.
func (h *Hub) broadcastExcept(origin string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.WithError(err).Error("failed to marshal event")
		return
	}

	h.mu.Lock()
	subs := make(map[string]*subscriber, len(h.subscribers))
	for id, sub := range h.subscribers {
		if id == origin {
			continue
		}
		subs[id] = sub
	}
	h.mu.Unlock()

	for id, sub := range subs {
		if err := sub.write(data); err != nil {
			h.log.WithError(err).WithField("participant", id).Warn("dropping unreachable subscriber")
			h.Disconnect(id)
		}
	}
}

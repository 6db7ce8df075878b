package wsservice

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zachlandes/cozy-quest-hd/presence"
)

// session is one live websocket subscription to the room.
type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	localID string
	host    bool

	events    chan presence.Event
	stop      chan struct{}
	closeOnce sync.Once
	log       *logrus.Entry
}

func (s *session) LocalID() string { return s.localID }
func (s *session) IsHost() bool    { return s.host }

func (s *session) Events() <-chan presence.Event { return s.events }

// SetFields publishes a partial state update for the local participant.
func (s *session) SetFields(fields presence.StateFields) error {
	return s.write(clientMessage{Type: "set", Fields: fields})
}

// Broadcast announces a transient action. Best-effort only.
func (s *session) Broadcast(action string) error {
	return s.write(clientMessage{Type: "action", Action: action})
}

// Close shuts the session down. Safe to call more than once.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.writeMu.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leaving"))
		s.writeMu.Unlock()
		s.conn.Close()
	})
	return nil
}

func (s *session) write(msg clientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop pumps server events into the events channel until the
// socket dies, then closes the channel. An unexpected loss is surfaced
// as a disconnected event first; a requested Close is silent.
// The join-time participant list is replayed as join events first, so
// the consumer sees one uniform delivery path.
func (s *session) readLoop(initial []presence.ParticipantState) {
	defer close(s.events)

	for _, state := range initial {
		s.deliver(joinEvent(state))
	}

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stop:
			default:
				s.log.WithError(err).Warn("room connection lost")
				s.deliver(presence.Event{Kind: presence.EventDisconnected})
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.log.Warn("discarding malformed server message")
			continue
		}

		switch msg.Type {
		case "snapshot":
			// Fresher than the join response; upserts every known
			// participant through the same join path. Duplicates are
			// idempotent downstream.
			for _, state := range msg.Participants {
				s.deliver(joinEvent(state))
			}
		case "join":
			s.deliver(joinEvent(msg.Participant))
		case "leave":
			s.deliver(presence.Event{Kind: presence.EventLeave, Participant: msg.ID})
		case "state":
			s.deliver(presence.Event{Kind: presence.EventState, Participant: msg.ID, Fields: msg.Fields})
		case "action":
			s.deliver(presence.Event{Kind: presence.EventAction, Participant: msg.ID, Action: msg.Action})
		case "heartbeat":
			// RTT echo; nothing to surface.
		default:
			s.log.WithField("type", msg.Type).Debug("ignoring unknown server message")
		}
	}
}

// deliver drops events on the floor if the consumer stopped draining;
// a dead consumer is about to close the session anyway.
func (s *session) deliver(event presence.Event) {
	select {
	case s.events <- event:
	case <-s.stop:
	}
}

func (s *session) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			msg := clientMessage{Type: "heartbeat", SentAt: time.Now().UnixMilli()}
			if err := s.write(msg); err != nil {
				return
			}
		}
	}
}

// joinEvent converts a wire participant snapshot into a join delivery.
func joinEvent(state presence.ParticipantState) presence.Event {
	position := state.Position
	fields := presence.StateFields{Position: &position}
	if state.Activity != "" {
		activity := state.Activity
		startedAt := state.ActivityStartedAt
		fields.Activity = &activity
		fields.ActivityStartedAt = &startedAt
	}
	return presence.Event{
		Kind:        presence.EventJoin,
		Participant: state.ID,
		DisplayName: state.DisplayName,
		Fields:      fields,
	}
}

package room

import "github.com/zachlandes/cozy-quest-hd/presence"

type joinRequest struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName"`
	RoomCode    string `json:"roomCode,omitempty"`
}

type joinResponse struct {
	ID           string                      `json:"id"`
	DisplayName  string                      `json:"displayName"`
	Host         bool                        `json:"host"`
	RoomCode     string                      `json:"roomCode"`
	Participants []presence.ParticipantState `json:"participants"`
}

// clientMessage is everything a connected participant may send over the
// socket.
type clientMessage struct {
	Type   string               `json:"type"`
	Fields presence.StateFields `json:"fields,omitempty"`
	Action string               `json:"action,omitempty"`
	SentAt int64                `json:"sentAt,omitempty"`
}

type joinEventMessage struct {
	Type        string                    `json:"type"`
	Participant presence.ParticipantState `json:"participant"`
}

type leaveEventMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type stateEventMessage struct {
	Type   string               `json:"type"`
	ID     string               `json:"id"`
	Fields presence.StateFields `json:"fields"`
}

type actionEventMessage struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Action string `json:"action"`
}

type snapshotMessage struct {
	Type         string                      `json:"type"`
	Participants []presence.ParticipantState `json:"participants"`
	ServerTime   int64                       `json:"serverTime"`
}

type heartbeatMessage struct {
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
	RTTMillis  int64  `json:"rtt"`
}

type diagnosticsParticipant struct {
	ID            string `json:"id"`
	DisplayName   string `json:"displayName"`
	LastHeartbeat int64  `json:"lastHeartbeat"`
	RTTMillis     int64  `json:"rttMillis"`
}

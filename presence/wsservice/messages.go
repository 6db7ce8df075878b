package wsservice

import "github.com/zachlandes/cozy-quest-hd/presence"

// Wire shapes mirror the room server's protocol. Each side keeps its
// own copy; the JSON is the contract.

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

type clientMessage struct {
	Type   string               `json:"type"`
	Fields presence.StateFields `json:"fields,omitempty"`
	Action string               `json:"action,omitempty"`
	SentAt int64                `json:"sentAt,omitempty"`
}

// serverMessage is the union of everything the room pushes; Type
// discriminates which fields are meaningful.
type serverMessage struct {
	Type         string                      `json:"type"`
	ID           string                      `json:"id,omitempty"`
	Participant  presence.ParticipantState   `json:"participant,omitempty"`
	Participants []presence.ParticipantState `json:"participants,omitempty"`
	Fields       presence.StateFields        `json:"fields,omitempty"`
	Action       string                      `json:"action,omitempty"`
	ServerTime   int64                       `json:"serverTime,omitempty"`
	ClientTime   int64                       `json:"clientTime,omitempty"`
	RTTMillis    int64                       `json:"rtt,omitempty"`
}

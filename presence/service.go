package presence

import "context"

// Mode selects how the session is addressed and where identity comes
// from. Under a Discord host the platform supplies identity and the
// activity instance pins the room; the browser fallback joins a shared
// developer-chosen room code with a lobby identity.
type Mode string

const (
	ModeDiscord Mode = "discord"
	ModeBrowser Mode = "browser"
)

// ConnectOptions carries everything a Service needs to establish a
// session.
type ConnectOptions struct {
	Mode        Mode
	RoomCode    string
	UserID      string
	DisplayName string
}

// EventKind discriminates Session events.
type EventKind string

const (
	EventJoin         EventKind = "join"
	EventLeave        EventKind = "leave"
	EventState        EventKind = "state"
	EventAction       EventKind = "action"
	EventDisconnected EventKind = "disconnected"
)

// Event is one normalized delivery from the presence service. The
// service guarantees a participant's join arrives before any of its
// state events, and its leave after the last one.
type Event struct {
	Kind        EventKind
	Participant string
	DisplayName string
	Fields      StateFields
	Action      string
}

// Session is a live connection to the presence service. Events is
// drained by a single consumer; the channel closes when the session
// ends, whatever the cause.
type Session interface {
	LocalID() string
	IsHost() bool
	SetFields(fields StateFields) error
	Broadcast(action string) error
	Events() <-chan Event
	Close() error
}

// Service is the external presence/session collaborator. The
// synchronizer treats it as a black box; production uses the websocket
// implementation in wsservice, tests use an in-memory fake.
type Service interface {
	Connect(ctx context.Context, opts ConnectOptions) (Session, error)
}

package presence

import "time"

// Activity is the closed set of things an avatar can be doing.
type Activity string

const (
	ActivityIdle    Activity = "idle"
	ActivityWalking Activity = "walking"
	ActivityWaving  Activity = "waving"

	defaultActivity Activity = ActivityIdle
)

// ParseActivity validates an activity string received from the service.
func ParseActivity(value string) (Activity, bool) {
	switch Activity(value) {
	case ActivityIdle, ActivityWalking, ActivityWaving:
		return Activity(value), true
	default:
		return "", false
	}
}

// OneShot reports whether the activity plays to completion and reverts
// to idle, as opposed to the continuous idle/walking states.
func (a Activity) OneShot() bool {
	return a == ActivityWaving
}

// Position is a point in world coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ParticipantState is the last-known network state for one connected
// identity. For remote participants it is a read-only mirror, one
// round-trip stale by construction; only the owning client's published
// updates ever change it.
type ParticipantState struct {
	ID                string    `json:"id"`
	DisplayName       string    `json:"displayName"`
	Position          Position  `json:"position"`
	Activity          Activity  `json:"activity"`
	ActivityStartedAt time.Time `json:"activityStartedAt"`
}

// StateFields is a partial update to the local participant's state.
// Nil fields are left untouched by a merge.
type StateFields struct {
	Position          *Position  `json:"position,omitempty"`
	Activity          *Activity  `json:"activity,omitempty"`
	ActivityStartedAt *time.Time `json:"activityStartedAt,omitempty"`
	DisplayName       *string    `json:"displayName,omitempty"`
}

// memberState is one membership-set entry. It embeds the wire-facing
// state plus bookkeeping that never leaves this package.
type memberState struct {
	ParticipantState
	joinedAt    time.Time
	hasActivity bool
}

// snapshot returns the mirror with deterministic defaults filled in.
// A participant that never published an activity reads as idle since
// join; the fill never mutates the entry, so repeated calls without an
// intervening publish return identical results.
func (m *memberState) snapshot() ParticipantState {
	state := m.ParticipantState
	if !m.hasActivity {
		state.Activity = defaultActivity
		state.ActivityStartedAt = m.joinedAt
	}
	if state.Activity == "" {
		state.Activity = defaultActivity
	}
	if state.ActivityStartedAt.IsZero() {
		state.ActivityStartedAt = m.joinedAt
	}
	return state
}

// merge applies a partial update to the entry.
func (m *memberState) merge(fields StateFields, now time.Time) {
	if fields.Position != nil {
		m.Position = *fields.Position
	}
	if fields.DisplayName != nil {
		m.DisplayName = *fields.DisplayName
	}
	if fields.Activity != nil {
		m.Activity = *fields.Activity
		m.hasActivity = true
		if fields.ActivityStartedAt != nil {
			m.ActivityStartedAt = *fields.ActivityStartedAt
		} else {
			m.ActivityStartedAt = now
		}
	} else if fields.ActivityStartedAt != nil {
		m.ActivityStartedAt = *fields.ActivityStartedAt
	}
}

package room

import (
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zachlandes/cozy-quest-hd/presence"
)

func quietLogger() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func newTestHub() *Hub {
	return NewHub("test-room", quietLogger())
}

func findParticipant(states []presence.ParticipantState, id string) *presence.ParticipantState {
	for i := range states {
		if states[i].ID == id {
			return &states[i]
		}
	}
	return nil
}

func TestJoinAssignsIdentityAndSpawn(t *testing.T) {
	hub := newTestHub()

	resp := hub.Join("", "")
	if resp.ID == "" {
		t.Fatalf("expected a generated participant id")
	}
	if resp.DisplayName == "" {
		t.Fatalf("expected a synthetic display name fallback")
	}
	if !resp.Host {
		t.Fatalf("first joiner should be host")
	}
	if resp.RoomCode != "test-room" {
		t.Fatalf("expected room code test-room, got %q", resp.RoomCode)
	}

	state := findParticipant(resp.Participants, resp.ID)
	if state == nil {
		t.Fatalf("join snapshot missing the joiner")
	}
	if state.Position.X < 0 || state.Position.X > worldWidth ||
		state.Position.Y < 0 || state.Position.Y > worldHeight {
		t.Fatalf("spawn position out of bounds: %+v", state.Position)
	}
	dist := math.Hypot(state.Position.X-campfireX, state.Position.Y-campfireY)
	if math.Abs(dist-spawnRadius) > 1e-9 {
		t.Fatalf("expected spawn on the campfire ring, got distance %v", dist)
	}
	if state.Activity != presence.ActivityIdle {
		t.Fatalf("expected idle spawn activity, got %q", state.Activity)
	}
}

func TestJoinWithShortClientIDDoesNotWedgeHub(t *testing.T) {
	hub := newTestHub()

	resp := hub.Join("ab", "")
	if resp.ID != "ab" {
		t.Fatalf("expected the supplied id to be kept, got %q", resp.ID)
	}
	if resp.DisplayName != "Wanderer-ab" {
		t.Fatalf("expected synthetic name for short id, got %q", resp.DisplayName)
	}

	// The hub mutex must still be free for the next joiner.
	done := make(chan joinResponse, 1)
	go func() { done <- hub.Join("", "Ember") }()
	select {
	case next := <-done:
		if len(next.Participants) != 2 {
			t.Fatalf("expected 2 participants after second join, got %d", len(next.Participants))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("second join blocked after short-id join")
	}
}

func TestJoinWithKnownIDIsIdempotent(t *testing.T) {
	hub := newTestHub()

	first := hub.Join("user-1", "Ember")
	second := hub.Join("user-1", "Ember")

	if second.ID != first.ID {
		t.Fatalf("duplicate join changed the id: %q vs %q", first.ID, second.ID)
	}
	if len(second.Participants) != 1 {
		t.Fatalf("duplicate join created a duplicate entry: %d participants", len(second.Participants))
	}
	if !second.Host {
		t.Fatalf("duplicate join lost host status")
	}
}

func TestHostMovesToLongestPresentOnLeave(t *testing.T) {
	hub := newTestHub()

	a := hub.Join("a", "A")
	hub.participants["a"].joinedAt = time.Now().Add(-3 * time.Minute)
	hub.Join("b", "B")
	hub.participants["b"].joinedAt = time.Now().Add(-2 * time.Minute)
	hub.Join("c", "C")

	if !a.Host {
		t.Fatalf("first joiner should start as host")
	}

	hub.Disconnect("a")
	if hub.hostID != "b" {
		t.Fatalf("expected host to move to b, got %q", hub.hostID)
	}
}

func TestSetFieldsRejectsUnknownParticipant(t *testing.T) {
	hub := newTestHub()

	position := presence.Position{X: 10, Y: 20}
	if hub.SetFields("ghost", presence.StateFields{Position: &position}) {
		t.Fatalf("set accepted for an unknown id")
	}
	if len(hub.participants) != 0 {
		t.Fatalf("rejected set created a participant")
	}
}

func TestSetFieldsClampsAndStamps(t *testing.T) {
	hub := newTestHub()
	hub.Join("a", "A")

	position := presence.Position{X: -50, Y: worldHeight + 50}
	waving := presence.ActivityWaving
	if !hub.SetFields("a", presence.StateFields{Position: &position, Activity: &waving}) {
		t.Fatalf("set rejected for a known id")
	}

	state := hub.participants["a"]
	if state.Position.X != 0 || state.Position.Y != worldHeight {
		t.Fatalf("expected clamped position, got %+v", state.Position)
	}
	if state.Activity != presence.ActivityWaving {
		t.Fatalf("expected waving, got %q", state.Activity)
	}
	if state.ActivityStartedAt.IsZero() {
		t.Fatalf("expected activity timestamp stamped on write")
	}
}

func TestSetFieldsDropsInvalidActivity(t *testing.T) {
	hub := newTestHub()
	hub.Join("a", "A")

	bogus := presence.Activity("backflip")
	hub.SetFields("a", presence.StateFields{Activity: &bogus})

	if hub.participants["a"].Activity != presence.ActivityIdle {
		t.Fatalf("invalid activity applied: %q", hub.participants["a"].Activity)
	}
}

func TestRelayActionRequiresMembership(t *testing.T) {
	hub := newTestHub()
	if hub.RelayAction("ghost", "wave") {
		t.Fatalf("relay accepted for an unknown id")
	}
	hub.Join("a", "A")
	if !hub.RelayAction("a", "wave") {
		t.Fatalf("relay rejected for a member")
	}
}

func TestHeartbeatTracksRTT(t *testing.T) {
	hub := newTestHub()
	hub.Join("a", "A")

	receivedAt := time.Now()
	sentAt := receivedAt.Add(-40 * time.Millisecond).UnixMilli()
	rtt, ok := hub.UpdateHeartbeat("a", receivedAt, sentAt)
	if !ok {
		t.Fatalf("heartbeat rejected for a member")
	}
	if rtt <= 0 || rtt > time.Second {
		t.Fatalf("implausible rtt %v", rtt)
	}
	if _, ok := hub.UpdateHeartbeat("ghost", receivedAt, sentAt); ok {
		t.Fatalf("heartbeat accepted for an unknown id")
	}
}

func TestPruneStaleDisconnectsSilentParticipants(t *testing.T) {
	hub := newTestHub()
	hub.Join("quiet", "Q")
	hub.Join("chatty", "C")

	now := time.Now()
	hub.participants["quiet"].lastHeartbeat = now.Add(-disconnectAfter - time.Second)
	hub.participants["chatty"].lastHeartbeat = now

	hub.pruneStale(now)

	if _, ok := hub.participants["quiet"]; ok {
		t.Fatalf("stale participant survived pruning")
	}
	if _, ok := hub.participants["chatty"]; !ok {
		t.Fatalf("live participant was pruned")
	}
}

func TestDiagnosticsSnapshot(t *testing.T) {
	hub := newTestHub()
	hub.Join("a", "A")
	hub.Join("b", "B")

	snapshot := hub.DiagnosticsSnapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 diagnostics rows, got %d", len(snapshot))
	}
	for _, row := range snapshot {
		if row.LastHeartbeat == 0 {
			t.Fatalf("missing heartbeat for %s", row.ID)
		}
	}
}

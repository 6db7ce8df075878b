package room

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zachlandes/cozy-quest-hd/presence"
	"github.com/zachlandes/cozy-quest-hd/presence/wsservice"
	"github.com/zachlandes/cozy-quest-hd/scene"
)

// startRoomWithHub spins up a full room server and returns the hub
// alongside its base URL.
func startRoomWithHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub("scenario", quietLogger())
	handler := NewHandler(hub, "", quietLogger())
	server := httptest.NewServer(handler.Mux())
	t.Cleanup(server.Close)
	return hub, server.URL
}

func startRoom(t *testing.T) string {
	t.Helper()
	_, baseURL := startRoomWithHub(t)
	return baseURL
}

func connectClient(t *testing.T, baseURL, name string) *presence.Synchronizer {
	t.Helper()
	client := presence.NewSynchronizer(wsservice.New(baseURL, quietLogger()), quietLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx, presence.ConnectOptions{
		Mode:        presence.ModeBrowser,
		RoomCode:    "scenario",
		DisplayName: name,
	}); err != nil {
		t.Fatalf("connect %s: %v", name, err)
	}
	t.Cleanup(client.Close)
	return client
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestTwoClientScenario walks the full published-state round trip:
// A publishes a position, B's mirror converges and its actor walks
// there, then A leaves and B forgets it.
func TestTwoClientScenario(t *testing.T) {
	baseURL := startRoom(t)

	a := connectClient(t, baseURL, "Ada")
	b := connectClient(t, baseURL, "Brig")

	waitUntil(t, "mutual visibility", func() bool {
		return len(a.AllStates()) == 2 && len(b.AllStates()) == 2
	})

	reconciler := scene.NewReconciler(b, quietLogger())
	b.OnJoin(func(id string, state presence.ParticipantState) {
		if id == b.LocalID() {
			return
		}
		reconciler.Attach(id, scene.NewSimActor(state.Position.X, state.Position.Y))
	})
	b.OnLeave(reconciler.Detach)

	aID := a.LocalID()
	if !reconciler.Attached(aID) {
		t.Fatalf("replay did not attach an actor for A")
	}

	position := presence.Position{X: 10, Y: 20}
	a.PublishLocalState(presence.StateFields{Position: &position})

	waitUntil(t, "B's mirror of A to converge", func() bool {
		state, ok := b.State(aID)
		return ok && state.Position == position
	})

	// One reconciliation tick starts the walk; advancing the sim actor
	// carries it to the reported position.
	reconciler.Tick()
	waitUntil(t, "B's actor to reach A's position", func() bool {
		var arrived bool
		reconciler.Each(func(id string, actor scene.Actor) {
			if id != aID {
				return
			}
			sim := actor.(*scene.SimActor)
			sim.Advance(1.0 / 15.0)
			x, y := sim.Position()
			arrived = x == position.X && y == position.Y
		})
		return arrived
	})

	a.Close()
	waitUntil(t, "B to drop A's membership", func() bool {
		_, ok := b.State(aID)
		return !ok && len(b.AllStates()) == 1
	})
	if reconciler.Attached(aID) {
		t.Fatalf("actor for A survived the leave")
	}
}

func TestActionRelayExcludesSender(t *testing.T) {
	baseURL := startRoom(t)

	a := connectClient(t, baseURL, "Ada")
	b := connectClient(t, baseURL, "Brig")
	waitUntil(t, "mutual visibility", func() bool {
		return len(a.AllStates()) == 2 && len(b.AllStates()) == 2
	})

	aGot := make(chan string, 4)
	bGot := make(chan string, 4)
	a.OnAction(func(_, action string) { aGot <- action })
	b.OnAction(func(_, action string) { bGot <- action })

	a.BroadcastAction("wave")

	select {
	case action := <-bGot:
		if action != "wave" {
			t.Fatalf("expected wave at B, got %q", action)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("B never received the wave")
	}
	select {
	case action := <-aGot:
		t.Fatalf("sender received its own broadcast %q", action)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestRejoinAfterReconnectGetsFreshSession covers the reconnect
// contract: a new connect produces a fresh membership set built from
// the service, not leftovers.
func TestRejoinAfterReconnectGetsFreshSession(t *testing.T) {
	baseURL := startRoom(t)

	a := connectClient(t, baseURL, "Ada")
	b := connectClient(t, baseURL, "Brig")
	waitUntil(t, "mutual visibility", func() bool {
		return len(a.AllStates()) == 2 && len(b.AllStates()) == 2
	})

	b.Close()
	waitUntil(t, "A to see B leave", func() bool { return len(a.AllStates()) == 1 })

	b2 := connectClient(t, baseURL, "Brig")
	waitUntil(t, "both sides converged after rejoin", func() bool {
		return len(a.AllStates()) == 2 && len(b2.AllStates()) == 2
	})
	if b2.LocalID() == "" {
		t.Fatalf("rejoined client has no identity")
	}
}

// TestServerSideDisconnectDegradesClient covers the unrequested-loss
// path: the room drops a participant and the client degrades to
// single-player with its identity accessors back at safe defaults.
func TestServerSideDisconnectDegradesClient(t *testing.T) {
	hub, baseURL := startRoomWithHub(t)

	a := connectClient(t, baseURL, "Ada")
	waitUntil(t, "join visible", func() bool {
		return a.IsConnected() && len(a.AllStates()) == 1
	})

	aID := a.LocalID()
	hub.Disconnect(aID)

	waitUntil(t, "client degrade", func() bool { return !a.IsConnected() })
	if got := a.LocalID(); got != "" {
		t.Fatalf("expected empty local id after server disconnect, got %q", got)
	}
	if a.IsHost() {
		t.Fatalf("host flag survived server disconnect")
	}
}

func TestActivityPropagatesWithTimestamp(t *testing.T) {
	baseURL := startRoom(t)

	a := connectClient(t, baseURL, "Ada")
	b := connectClient(t, baseURL, "Brig")
	waitUntil(t, "mutual visibility", func() bool {
		return len(a.AllStates()) == 2 && len(b.AllStates()) == 2
	})

	waving := presence.ActivityWaving
	a.PublishLocalState(presence.StateFields{Activity: &waving})

	aID := a.LocalID()
	waitUntil(t, "B to observe the wave", func() bool {
		state, ok := b.State(aID)
		return ok && state.Activity == presence.ActivityWaving && !state.ActivityStartedAt.IsZero()
	})
}

package wsservice

import (
	"testing"
	"time"

	"github.com/zachlandes/cozy-quest-hd/presence"
)

func TestHTTPToWS(t *testing.T) {
	if got := httpToWS("http://localhost:8080"); got != "ws://localhost:8080" {
		t.Fatalf("unexpected ws url %q", got)
	}
	if got := httpToWS("https://rooms.example.com"); got != "wss://rooms.example.com" {
		t.Fatalf("unexpected wss url %q", got)
	}
}

func TestJoinEventCarriesSnapshotFields(t *testing.T) {
	startedAt := time.UnixMilli(4000)
	event := joinEvent(presence.ParticipantState{
		ID:                "p",
		DisplayName:       "Ember",
		Position:          presence.Position{X: 5, Y: 6},
		Activity:          presence.ActivityWaving,
		ActivityStartedAt: startedAt,
	})

	if event.Kind != presence.EventJoin || event.Participant != "p" {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.Fields.Position == nil || event.Fields.Position.X != 5 {
		t.Fatalf("position missing from join fields")
	}
	if event.Fields.Activity == nil || *event.Fields.Activity != presence.ActivityWaving {
		t.Fatalf("activity missing from join fields")
	}
	if event.Fields.ActivityStartedAt == nil || !event.Fields.ActivityStartedAt.Equal(startedAt) {
		t.Fatalf("activity timestamp missing from join fields")
	}
}

func TestJoinEventOmitsUnpublishedActivity(t *testing.T) {
	event := joinEvent(presence.ParticipantState{ID: "p"})
	if event.Fields.Activity != nil {
		t.Fatalf("unpublished activity should stay unset so defaults apply downstream")
	}
}

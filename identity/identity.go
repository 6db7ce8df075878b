// Package identity supplies the opaque user id and display name that
// seed the local participant, either from the hosting platform or a
// locally generated guest profile.
package identity

import (
	"github.com/google/uuid"
)

// Identity is what the rest of the application knows about the local
// user at boot. Consumed once, to seed the initial display name
// fallback.
type Identity struct {
	UserID      string
	DisplayName string
}

// Provider yields a boot identity. Implementations never fail: if a
// platform identity cannot be obtained they fall back to a guest one.
type Provider interface {
	Identity() Identity
}

// GuestProvider mints a throwaway identity for the standalone-browser
// fallback: uuid user id, synthetic display name.
type GuestProvider struct{}

// Identity returns a fresh guest identity.
func (GuestProvider) Identity() Identity {
	id := uuid.New().String()
	return Identity{
		UserID:      id,
		DisplayName: "Wanderer-" + id[:4],
	}
}

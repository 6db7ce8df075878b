package identity

import (
	"time"

	"github.com/hugolgst/rich-go/client"
	"github.com/sirupsen/logrus"
)

// DiscordProvider wraps a platform-supplied identity (the embedded-app
// handshake happens in the hosting shell, outside this process) and
// mirrors the session onto Discord Rich Presence.
type DiscordProvider struct {
	appID    string
	identity Identity
	log      *logrus.Entry

	ready bool
	start time.Time
}

// NewDiscordProvider takes the identity the platform handed us. When
// either field is empty the guest fallback fills it, so a broken
// handshake still boots.
func NewDiscordProvider(appID, userID, displayName string, log *logrus.Entry) *DiscordProvider {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	guest := GuestProvider{}.Identity()
	if userID == "" {
		userID = guest.UserID
	}
	if displayName == "" {
		displayName = guest.DisplayName
	}
	return &DiscordProvider{
		appID:    appID,
		identity: Identity{UserID: userID, DisplayName: displayName},
		log:      log,
	}
}

// Identity returns the platform identity.
func (p *DiscordProvider) Identity() Identity {
	return p.identity
}

// StartPresence logs into the local Discord client and shows the
// campfire status. Failure is logged and ignored; presence is
// cosmetic.
func (p *DiscordProvider) StartPresence() {
	if p.appID == "" {
		return
	}
	if err := client.Login(p.appID); err != nil {
		p.log.WithError(err).Debug("discord rich presence unavailable")
		return
	}
	p.ready = true
	p.start = time.Now()
	p.SetStatus("sitting by the campfire", 1)
}

// SetStatus updates the rich presence detail line and party size.
func (p *DiscordProvider) SetStatus(detail string, partySize int) {
	if !p.ready {
		return
	}
	activity := client.Activity{
		State:   "Cozy Quest",
		Details: detail,
		Timestamps: &client.Timestamps{
			Start: &p.start,
		},
	}
	if partySize > 0 {
		activity.Party = &client.Party{
			ID:         "campfire",
			Players:    partySize,
			MaxPlayers: 8,
		}
	}
	if err := client.SetActivity(activity); err != nil {
		p.log.WithError(err).Debug("discord rich presence update failed")
	}
}

// StopPresence logs out of the local Discord client.
func (p *DiscordProvider) StopPresence() {
	if !p.ready {
		return
	}
	client.Logout()
	p.ready = false
}

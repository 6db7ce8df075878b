// Package config resolves runtime settings from a .env file and the
// environment. Invalid values log and fall back to defaults; nothing
// here is fatal.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/zachlandes/cozy-quest-hd/presence"
)

const (
	DefaultListenAddr = ":8080"
	DefaultRoomAddr   = "http://localhost:8080"
)

// Config is everything the composition roots need.
type Config struct {
	// ListenAddr is where the room server binds.
	ListenAddr string
	// RoomAddr is the room server base URL clients dial.
	RoomAddr string
	// RoomCode addresses the shared developer room in browser mode.
	RoomCode string
	// Mode selects the hosting surface.
	Mode presence.Mode
	// PublicURL is the externally reachable base for the join QR.
	PublicURL string
	// DiscordAppID enables rich presence when set.
	DiscordAppID string
	// DiscordUserID / DiscordUserName are the platform-supplied
	// identity in discord mode.
	DiscordUserID   string
	DiscordUserName string
	// LogLevel and LogFormat feed the logger ("info"/"debug"...,
	// "text"/"json").
	LogLevel  string
	LogFormat string
}

// Load reads .env (if present) and the environment.
func Load() Config {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:      getenv("COZY_LISTEN_ADDR", DefaultListenAddr),
		RoomAddr:        getenv("COZY_ROOM_ADDR", DefaultRoomAddr),
		RoomCode:        os.Getenv("COZY_ROOM_CODE"),
		PublicURL:       os.Getenv("COZY_PUBLIC_URL"),
		DiscordAppID:    os.Getenv("COZY_DISCORD_APP_ID"),
		DiscordUserID:   os.Getenv("COZY_DISCORD_USER_ID"),
		DiscordUserName: os.Getenv("COZY_DISCORD_USER_NAME"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogFormat:       strings.ToLower(os.Getenv("LOG_FORMAT")),
	}

	switch strings.ToLower(os.Getenv("COZY_MODE")) {
	case "discord":
		cfg.Mode = presence.ModeDiscord
	default:
		cfg.Mode = presence.ModeBrowser
	}
	return cfg
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

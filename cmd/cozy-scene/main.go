// Command cozy-scene is a headless scene client: it joins the room,
// wanders its avatar around the campfire, waves now and then, and
// reconciles everyone else's avatars each tick. A rendering front end
// replaces the sim actors with real ones; the wiring stays the same.
package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zachlandes/cozy-quest-hd/identity"
	"github.com/zachlandes/cozy-quest-hd/internal/config"
	"github.com/zachlandes/cozy-quest-hd/internal/logging"
	"github.com/zachlandes/cozy-quest-hd/presence"
	"github.com/zachlandes/cozy-quest-hd/presence/wsservice"
	"github.com/zachlandes/cozy-quest-hd/scene"
)

const (
	tickRate     = 15
	campfireX    = 400.0
	campfireY    = 300.0
	wanderRadius = 150.0
	wanderEvery  = 6 * time.Second
	waveEvery    = 11 * time.Second
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat).WithField("component", "scene")

	var provider identity.Provider
	var discord *identity.DiscordProvider
	if cfg.Mode == presence.ModeDiscord {
		discord = identity.NewDiscordProvider(cfg.DiscordAppID, cfg.DiscordUserID, cfg.DiscordUserName, log)
		discord.StartPresence()
		defer discord.StopPresence()
		provider = discord
	} else {
		provider = identity.GuestProvider{}
	}
	who := provider.Identity()

	client := presence.NewSynchronizer(wsservice.New(cfg.RoomAddr, log), log)
	reconciler := scene.NewReconciler(client, log)

	client.OnJoin(func(id string, state presence.ParticipantState) {
		if id == client.LocalID() {
			return
		}
		reconciler.Attach(id, scene.NewSimActor(state.Position.X, state.Position.Y))
		log.WithField("participant", state.DisplayName).Info("avatar entered the scene")
		refreshStatus(discord, client)
	})
	client.OnLeave(func(id string) {
		reconciler.Detach(id)
		log.WithField("participant", id).Info("avatar left the scene")
		refreshStatus(discord, client)
	})
	client.OnAction(func(id, action string) {
		log.WithField("participant", id).WithField("action", action).Info("wave received")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := client.Connect(ctx, presence.ConnectOptions{
		Mode:        cfg.Mode,
		RoomCode:    cfg.RoomCode,
		UserID:      who.UserID,
		DisplayName: who.DisplayName,
	})
	cancel()
	if err != nil {
		// Degraded single-player: the loop below still runs.
		log.Info("wandering alone by the campfire")
	}
	defer client.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	local := scene.NewSimActor(localSpawn(client))
	run(client, reconciler, local, interrupt)
}

// localSpawn starts the local avatar at its published spawn position
// when connected, or at the campfire when alone.
func localSpawn(client *presence.Synchronizer) (float64, float64) {
	if state, ok := client.State(client.LocalID()); ok {
		return state.Position.X, state.Position.Y
	}
	return campfireX, campfireY
}

// run is the render-loop stand-in: advance actors, reconcile remotes,
// drive the local avatar, publish its state.
func run(client *presence.Synchronizer, reconciler *scene.Reconciler, local *scene.SimActor, interrupt <-chan os.Signal) {
	ticker := time.NewTicker(time.Second / tickRate)
	defer ticker.Stop()

	wander := time.NewTicker(wanderEvery)
	defer wander.Stop()
	wave := time.NewTicker(waveEvery)
	defer wave.Stop()

	last := time.Now()
	wasWalking := false
	for {
		select {
		case <-interrupt:
			return
		case <-wander.C:
			angle := rand.Float64() * 2 * math.Pi
			radius := wanderRadius * (0.3 + 0.7*rand.Float64())
			local.WalkTo(campfireX+radius*math.Cos(angle), campfireY+radius*math.Sin(angle))
		case <-wave.C:
			local.PerformAction(presence.ActivityWaving)
			waving := presence.ActivityWaving
			client.PublishLocalState(presence.StateFields{Activity: &waving})
			client.BroadcastAction(string(presence.ActivityWaving))
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			if dt <= 0 {
				dt = 1.0 / float64(tickRate)
			}
			last = now

			local.Advance(dt)
			reconciler.Each(func(_ string, actor scene.Actor) {
				if sim, ok := actor.(*scene.SimActor); ok {
					sim.Advance(dt)
				}
			})
			reconciler.Tick()

			x, y := local.Position()
			position := presence.Position{X: x, Y: y}
			walking := local.Transitioning()
			fields := presence.StateFields{Position: &position}
			if walking != wasWalking {
				activity := presence.ActivityIdle
				if walking {
					activity = presence.ActivityWalking
				}
				fields.Activity = &activity
				wasWalking = walking
			}
			client.PublishLocalState(fields)
		}
	}
}

// refreshStatus mirrors the room size onto Discord Rich Presence.
func refreshStatus(discord *identity.DiscordProvider, client *presence.Synchronizer) {
	if discord == nil {
		return
	}
	count := len(client.AllStates())
	detail := "sitting by the campfire"
	if count > 1 {
		detail = fmt.Sprintf("around the campfire with %d others", count-1)
	}
	discord.SetStatus(detail, count)
}

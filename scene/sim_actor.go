package scene

import (
	"math"
	"sync"
	"time"

	"github.com/zachlandes/cozy-quest-hd/presence"
)

const (
	// walkSpeed is how fast avatars cross the scene, world units per
	// second.
	walkSpeed = 160.0

	// arriveRadius ends a walk once the remaining distance is within
	// it, so floating-point residue never leaves an actor stuck
	// transitioning.
	arriveRadius = 1.0

	// waveDuration is the fixed length of the wave one-shot when no
	// animation-complete signal exists.
	waveDuration = 1200 * time.Millisecond
)

// SimActor is a headless Actor: it walks toward targets at a fixed
// speed as Advance is called and plays one-shot actions on a fixed
// timer. The demo client and the tests drive it; a real renderer
// substitutes its own Actor.
type SimActor struct {
	mu       sync.Mutex
	x, y     float64
	targetX  float64
	targetY  float64
	walking  bool
	oneShot  presence.Activity
	doneCh   chan struct{}
	waveTime time.Duration
}

// NewSimActor places a sim actor at a starting position.
func NewSimActor(x, y float64) *SimActor {
	return &SimActor{x: x, y: y, waveTime: waveDuration}
}

// Position returns the current rendered position.
func (a *SimActor) Position() (float64, float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.x, a.y
}

// WalkTo begins a movement transition toward the target.
func (a *SimActor) WalkTo(x, y float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.targetX = x
	a.targetY = y
	a.walking = true
}

// Transitioning reports whether a walk is in flight.
func (a *SimActor) Transitioning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.walking
}

// PerformAction plays a one-shot action for a fixed duration. The
// returned channel closes on completion. Re-triggering the same kind
// mid-flight returns the in-flight completion.
func (a *SimActor) PerformAction(kind presence.Activity) <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.oneShot == kind && a.doneCh != nil {
		return a.doneCh
	}
	done := make(chan struct{})
	a.oneShot = kind
	a.doneCh = done
	wait := a.waveTime
	go func() {
		time.Sleep(wait)
		a.mu.Lock()
		if a.doneCh == done {
			a.oneShot = ""
			a.doneCh = nil
		}
		a.mu.Unlock()
		close(done)
	}()
	return done
}

// CurrentActivity reports what the actor is rendering right now: an
// in-flight one-shot wins, then walking, then idle.
func (a *SimActor) CurrentActivity() presence.Activity {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.oneShot != "" {
		return a.oneShot
	}
	if a.walking {
		return presence.ActivityWalking
	}
	return presence.ActivityIdle
}

// Advance moves the actor toward its target for one dt slice. The walk
// ends when the remaining distance falls inside the arrive radius.
func (a *SimActor) Advance(dt float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.walking || dt <= 0 {
		return
	}
	dx := a.targetX - a.x
	dy := a.targetY - a.y
	dist := math.Hypot(dx, dy)
	if dist <= arriveRadius {
		a.x = a.targetX
		a.y = a.targetY
		a.walking = false
		return
	}
	step := walkSpeed * dt
	if step >= dist {
		a.x = a.targetX
		a.y = a.targetY
		a.walking = false
		return
	}
	a.x += dx / dist * step
	a.y += dy / dist * step
}

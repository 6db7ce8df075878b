package scene

import "github.com/zachlandes/cozy-quest-hd/presence"

// Actor is the render-side representation of one participant. The
// reconciler depends only on this contract; the real renderer and the
// headless SimActor both satisfy it.
type Actor interface {
	// Position returns the currently rendered world position.
	Position() (x, y float64)

	// WalkTo begins a transition toward the target. Calling it while a
	// transition is in flight replaces the destination.
	WalkTo(x, y float64)

	// Transitioning reports whether a movement transition is in flight.
	Transitioning() bool

	// PerformAction plays a one-shot action. The returned channel
	// closes when the action completes, whether by fixed duration or
	// an animation-complete signal.
	PerformAction(kind presence.Activity) <-chan struct{}

	// CurrentActivity returns the activity the actor is rendering now.
	CurrentActivity() presence.Activity
}

package scene

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zachlandes/cozy-quest-hd/presence"
)

// WalkThreshold is the minimum straight-line distance, in world units,
// between a rendered position and a reported position before a new
// walk starts. Reports below it are treated as heartbeat noise; without
// the guard a participant standing still but re-publishing the same
// coordinates would restart its walk cycle every tick.
const WalkThreshold = 5.0

// StateSource is the slice of the presence synchronizer the reconciler
// reads each tick.
type StateSource interface {
	LocalID() string
	AllStates() []presence.ParticipantState
}

// episode identifies one activity occurrence. A changed StartedAt on
// the same kind is a fresh occurrence (a second wave mid-wave).
type episode struct {
	kind      presence.Activity
	startedAt time.Time
}

// Reconciler aligns render actors with last-known network state, once
// per render frame. Movement and one-shot actions are reconciled
// independently: a wave reported while the actor is walking still
// plays, only a same-category in-flight transition blocks re-entry.
type Reconciler struct {
	source StateSource
	log    *logrus.Entry

	// Attach/Detach arrive on the presence delivery path while Tick
	// runs on the render loop.
	mu     sync.Mutex
	actors map[string]Actor
	seen   map[string]episode
}

// NewReconciler builds a reconciler over a state source. The logger may
// be nil.
func NewReconciler(source StateSource, log *logrus.Entry) *Reconciler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reconciler{
		source: source,
		log:    log,
		actors: make(map[string]Actor),
		seen:   make(map[string]episode),
	}
}

// Attach associates a render actor with a participant id. Attaching an
// id twice replaces the actor, so a duplicate join never produces two
// avatars.
func (r *Reconciler) Attach(id string, actor Actor) {
	if id == "" || actor == nil {
		return
	}
	r.mu.Lock()
	r.actors[id] = actor
	r.mu.Unlock()
}

// Detach drops the actor for a departed participant along with its
// episode memory.
func (r *Reconciler) Detach(id string) {
	r.mu.Lock()
	delete(r.actors, id)
	delete(r.seen, id)
	r.mu.Unlock()
}

// Attached reports whether a participant currently has an actor.
func (r *Reconciler) Attached(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.actors[id]
	return ok
}

// Each visits every attached actor. The render loop uses it to advance
// actors it owns.
func (r *Reconciler) Each(fn func(id string, actor Actor)) {
	r.mu.Lock()
	actors := make(map[string]Actor, len(r.actors))
	for id, actor := range r.actors {
		actors[id] = actor
	}
	r.mu.Unlock()
	for id, actor := range actors {
		fn(id, actor)
	}
}

// Tick runs one reconciliation pass. The local participant is excluded
// by id: its movement is driven by input and published outward, never
// chased from its own stale report.
func (r *Reconciler) Tick() {
	localID := r.source.LocalID()
	for _, state := range r.source.AllStates() {
		if state.ID == localID {
			continue
		}
		r.mu.Lock()
		actor, ok := r.actors[state.ID]
		r.mu.Unlock()
		if !ok {
			continue
		}
		r.reconcileMovement(actor, state)
		r.reconcileAction(state.ID, actor, state)
	}
}

// reconcileMovement starts a walk toward the reported position when the
// actor is free and the gap exceeds the jitter threshold. An in-flight
// transition always runs to completion first.
func (r *Reconciler) reconcileMovement(actor Actor, state presence.ParticipantState) {
	if actor.Transitioning() {
		return
	}
	x, y := actor.Position()
	if math.Hypot(state.Position.X-x, state.Position.Y-y) <= WalkThreshold {
		return
	}
	actor.WalkTo(state.Position.X, state.Position.Y)
}

// reconcileAction edge-triggers one-shot actions. Repeated reports of
// the same activity episode never re-fire; a transition away and back,
// or a fresh StartedAt on the same kind, does.
func (r *Reconciler) reconcileAction(id string, actor Actor, state presence.ParticipantState) {
	current := episode{kind: state.Activity, startedAt: state.ActivityStartedAt}
	r.mu.Lock()
	last, known := r.seen[id]
	r.seen[id] = current
	r.mu.Unlock()

	if !state.Activity.OneShot() {
		return
	}
	if known && last == current {
		return
	}
	if actor.CurrentActivity() == state.Activity {
		// Same-category action already in flight; let it finish.
		return
	}
	r.log.WithFields(logrus.Fields{
		"participant": id,
		"activity":    state.Activity,
	}).Debug("one-shot action triggered")
	actor.PerformAction(state.Activity)
}

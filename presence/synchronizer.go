package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// JoinHandler receives a participant id and its state at join time.
type JoinHandler func(id string, state ParticipantState)

// LeaveHandler receives the id of a departed participant.
type LeaveHandler func(id string)

// ActionHandler receives transient action broadcasts from other members.
type ActionHandler func(id string, action string)

// publishesPerSecond bounds outbound state writes. Updates beyond the
// budget overwrite a pending snapshot that is flushed on the next
// permit, so the service always receives the latest value.
const publishesPerSecond = 10

// Synchronizer bridges the external presence service and the rest of
// the application. It is the single owner of the membership set: remote
// mirrors are mutated only by the service delivery path, and only the
// local participant's fields are ever written outward.
//
// Construct one per session scope and pass it in explicitly; there is
// no package-level instance.
type Synchronizer struct {
	svc Service
	log *logrus.Entry

	// dispatchMu serializes handler invocation so that replay-on-
	// subscribe completes before any later join fires. Handlers may
	// call back into query methods, which take only mu.
	dispatchMu sync.Mutex

	mu        sync.Mutex
	session   Session
	connected bool
	localID   string
	localName string
	host      bool
	members   map[string]*memberState
	pending   *StateFields
	done      chan struct{}

	joinHandlers   []JoinHandler
	leaveHandlers  []LeaveHandler
	actionHandlers []ActionHandler

	limiter *rate.Limiter
	kick    chan struct{}

	now func() time.Time
}

// NewSynchronizer wires a synchronizer to a presence service. The
// logger may be nil.
func NewSynchronizer(svc Service, log *logrus.Entry) *Synchronizer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Synchronizer{
		svc:     svc,
		log:     log,
		members: make(map[string]*memberState),
		limiter: rate.NewLimiter(rate.Limit(publishesPerSecond), 1),
		kick:    make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Connect establishes the session. A second call while connected is a
// no-op. On failure the synchronizer stays in a degraded disconnected
// state in which every query returns empty defaults and publishing is
// a no-op; the returned error is informational and safe to ignore.
func (s *Synchronizer) Connect(ctx context.Context, opts ConnectOptions) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	session, err := s.svc.Connect(ctx, opts)
	if err != nil {
		s.log.WithError(err).WithField("mode", opts.Mode).
			Warn("presence connect failed, running single-player")
		return fmt.Errorf("presence connect: %w", err)
	}

	done := make(chan struct{})

	s.mu.Lock()
	if s.connected {
		// Lost the race to a concurrent Connect.
		s.mu.Unlock()
		session.Close()
		return nil
	}
	s.session = session
	s.connected = true
	s.localID = session.LocalID()
	s.localName = opts.DisplayName
	s.host = session.IsHost()
	s.members = make(map[string]*memberState)
	s.pending = nil
	s.done = done
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"participant": s.localID,
		"room":        opts.RoomCode,
		"host":        s.host,
	}).Info("presence session established")

	// The local participant enters the membership set through the same
	// join path as everyone else; consumers exclude it by id.
	s.handleJoin(s.localID, opts.DisplayName, StateFields{})

	go s.deliverLoop(session, done)
	go s.flushLoop(session, done)
	return nil
}

// Close tears down the current session. Registered handlers stop
// firing; a later Connect starts a logically fresh session.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	session := s.session
	done := s.done
	s.session = nil
	s.connected = false
	s.localID = ""
	s.localName = ""
	s.host = false
	s.members = make(map[string]*memberState)
	s.pending = nil
	s.done = nil
	s.mu.Unlock()

	if done != nil {
		close(done)
	}
	if session != nil {
		session.Close()
	}
}

// OnJoin registers a join handler. The handler is invoked immediately,
// once per participant already present (the local participant
// included), before any future join can fire. The replay removes the
// subscription race between service delivery and listener setup.
func (s *Synchronizer) OnJoin(handler JoinHandler) {
	if handler == nil {
		return
	}
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	replay := make([]ParticipantState, 0, len(s.members))
	for _, member := range s.members {
		replay = append(replay, member.snapshot())
	}
	s.joinHandlers = append(s.joinHandlers, handler)
	s.mu.Unlock()

	for _, state := range replay {
		handler(state.ID, state)
	}
}

// OnLeave registers a leave handler; fired exactly once per departure,
// with no replay.
func (s *Synchronizer) OnLeave(handler LeaveHandler) {
	if handler == nil {
		return
	}
	s.mu.Lock()
	s.leaveHandlers = append(s.leaveHandlers, handler)
	s.mu.Unlock()
}

// OnAction registers a handler for transient action broadcasts from
// other members. Delivery is best-effort, at most once.
func (s *Synchronizer) OnAction(handler ActionHandler) {
	if handler == nil {
		return
	}
	s.mu.Lock()
	s.actionHandlers = append(s.actionHandlers, handler)
	s.mu.Unlock()
}

// PublishLocalState merges a partial update into the local
// participant's state and schedules it for the network. Safe to call
// before Connect resolves (no-op) and never blocks on the transport.
func (s *Synchronizer) PublishLocalState(fields StateFields) {
	s.mu.Lock()
	if !s.connected || s.localID == "" {
		s.mu.Unlock()
		return
	}
	member, ok := s.members[s.localID]
	if ok {
		member.merge(fields, s.now())
	}
	if s.pending == nil {
		s.pending = &StateFields{}
	}
	mergeFields(s.pending, fields)
	s.mu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// BroadcastAction announces a transient action to all other current
// members. Fire-and-forget: no acknowledgement, no retry.
func (s *Synchronizer) BroadcastAction(action string) {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session == nil {
		return
	}
	if err := session.Broadcast(action); err != nil {
		s.log.WithError(err).WithField("action", action).Warn("action broadcast dropped")
	}
}

// State returns the latest known mirror for a participant, with
// deterministic defaults filled for never-published fields. The second
// return is false when the id is unknown; callers treat that as an
// expected condition.
func (s *Synchronizer) State(id string) (ParticipantState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	member, ok := s.members[id]
	if !ok {
		return ParticipantState{}, false
	}
	return member.snapshot(), true
}

// AllStates returns a snapshot of every currently known participant.
// Order carries no meaning.
func (s *Synchronizer) AllStates() []ParticipantState {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make([]ParticipantState, 0, len(s.members))
	for _, member := range s.members {
		states = append(states, member.snapshot())
	}
	return states
}

// LocalID returns the local participant id, or "" when disconnected.
func (s *Synchronizer) LocalID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localID
}

// LocalDisplayName returns the local display name, or "" when
// disconnected. A name assigned by the service (empty lobby names get
// a synthetic one) arrives through the local mirror and wins over the
// empty requested name.
func (s *Synchronizer) LocalDisplayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localName != "" {
		return s.localName
	}
	if member, ok := s.members[s.localID]; ok && s.localID != "" {
		return member.DisplayName
	}
	return ""
}

// IsHost reports whether the local participant is the room host.
func (s *Synchronizer) IsHost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host
}

// IsConnected reports whether a live session exists.
func (s *Synchronizer) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// deliverLoop drains session events until the session or synchronizer
// ends. All ingestion and handler dispatch happens on this single
// goroutine; nothing else mutates remote mirrors.
func (s *Synchronizer) deliverLoop(session Session, done chan struct{}) {
	events := session.Events()
	for {
		select {
		case <-done:
			return
		case event, ok := <-events:
			if !ok {
				s.degrade()
				return
			}
			s.ingest(event)
		}
	}
}

func (s *Synchronizer) ingest(event Event) {
	switch event.Kind {
	case EventJoin:
		s.handleJoin(event.Participant, event.DisplayName, event.Fields)
	case EventLeave:
		s.handleLeave(event.Participant)
	case EventState:
		s.handleState(event.Participant, event.Fields)
	case EventAction:
		s.handleAction(event.Participant, event.Action)
	case EventDisconnected:
		s.degrade()
	}
}

// handleJoin inserts a membership entry and fires join handlers.
// A duplicate join for a known id refreshes the mirror without firing
// handlers again.
func (s *Synchronizer) handleJoin(id, displayName string, fields StateFields) {
	if id == "" {
		return
	}
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	now := s.now()
	s.mu.Lock()
	member, known := s.members[id]
	if !known {
		member = &memberState{
			ParticipantState: ParticipantState{ID: id, DisplayName: displayName},
			joinedAt:         now,
		}
		s.members[id] = member
	} else if displayName != "" {
		member.DisplayName = displayName
	}
	member.merge(fields, now)
	state := member.snapshot()
	handlers := append([]JoinHandler(nil), s.joinHandlers...)
	s.mu.Unlock()

	if known {
		return
	}
	s.log.WithField("participant", id).Debug("participant joined")
	for _, handler := range handlers {
		handler(id, state)
	}
}

func (s *Synchronizer) handleLeave(id string) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	_, known := s.members[id]
	delete(s.members, id)
	handlers := append([]LeaveHandler(nil), s.leaveHandlers...)
	s.mu.Unlock()

	if !known {
		return
	}
	s.log.WithField("participant", id).Debug("participant left")
	for _, handler := range handlers {
		handler(id)
	}
}

// handleState applies a remote participant's published update to its
// mirror. Updates for the local id are ignored: the local participant
// is driven by input, never reconciled from its own stale report.
func (s *Synchronizer) handleState(id string, fields StateFields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.localID {
		return
	}
	member, ok := s.members[id]
	if !ok {
		// Service contract says join precedes state; an unknown id
		// here means we already dropped it on leave.
		return
	}
	member.merge(fields, s.now())
}

func (s *Synchronizer) handleAction(id, action string) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if id == s.localID {
		s.mu.Unlock()
		return
	}
	handlers := append([]ActionHandler(nil), s.actionHandlers...)
	s.mu.Unlock()

	for _, handler := range handlers {
		handler(id, action)
	}
}

// degrade drops to disconnected single-player state after the service
// goes away underneath us.
func (s *Synchronizer) degrade() {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.session = nil
	s.localID = ""
	s.localName = ""
	s.host = false
	s.members = make(map[string]*memberState)
	s.pending = nil
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.mu.Unlock()

	if wasConnected {
		s.log.Warn("presence session lost, running single-player")
	}
}

// flushLoop pushes coalesced local-state updates to the service at the
// publish budget. The pending snapshot is last-write-wins, so a burst
// of movement collapses to the newest position.
func (s *Synchronizer) flushLoop(session Session, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-s.kick:
		}

		reservation := s.limiter.Reserve()
		if delay := reservation.Delay(); delay > 0 {
			select {
			case <-done:
				reservation.Cancel()
				return
			case <-time.After(delay):
			}
		}

		s.mu.Lock()
		fields := s.pending
		s.pending = nil
		s.mu.Unlock()
		if fields == nil {
			continue
		}

		if err := session.SetFields(*fields); err != nil {
			s.log.WithError(err).Warn("state publish dropped")
		}
	}
}

// mergeFields overlays src onto dst, keeping the newest value per
// field.
func mergeFields(dst *StateFields, src StateFields) {
	if src.Position != nil {
		dst.Position = src.Position
	}
	if src.Activity != nil {
		dst.Activity = src.Activity
	}
	if src.ActivityStartedAt != nil {
		dst.ActivityStartedAt = src.ActivityStartedAt
	}
	if src.DisplayName != nil {
		dst.DisplayName = src.DisplayName
	}
}

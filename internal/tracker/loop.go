package tracker

import (
	"time"

	"presencesync/internal/activity"
	"presencesync/internal/channel"
	"presencesync/internal/metrics"
	"presencesync/internal/models"
)

// event is a message for the run loop. All roster and state mutations
// happen while handling one of these, on the loop goroutine.
type event interface{}

type evStartup struct{}

type evPulse struct{ pulse activity.Pulse }

type evVisibility struct{ visible bool }

type evInboundRoster struct{ entries []models.PresenceEntry }

type evInboundStatus struct{ entry models.PresenceEntry }

type evHydrated struct {
	entries []models.PresenceEntry
	ok      bool
}

type evConn struct{ state channel.State }

type evLogin struct{}

type evLogout struct{}

type evForceResync struct{}

type evRosterQuery struct{ reply chan []models.PresenceEntry }

type statusReply struct {
	status models.Status
	known  bool
}

type evStatusQuery struct {
	userID string
	reply  chan statusReply
}

type evLocalQuery struct{ reply chan LocalState }

type timerKind int

const (
	timerThrottle timerKind = iota
	timerInactivity
	timerBatch
	timerEmit
)

type evTimerFired struct {
	kind timerKind
	gen  uint64
	emit string // event name for timerEmit
}

// loopTimer is a cancellable timer owned by the loop. The generation
// number makes fires that raced a cancel or re-arm detectable as stale.
type loopTimer struct {
	timer *time.Timer
	gen   uint64
	armed bool
}

// pendingEmit is a deferred outbound emit, cancellable until it fires
type pendingEmit struct {
	timer   *time.Timer
	gen     uint64
	payload any
}

// opposites pairs the transitions that supersede each other: scheduling
// one cancels a pending emit of the other.
var opposites = map[string]string{
	models.EventUserActive:   models.EventUserInactive,
	models.EventUserInactive: models.EventUserActive,
	models.EventLoginUser:    models.EventLogoutUser,
	models.EventLogoutUser:   models.EventLoginUser,
}

func (t *Tracker) run() {
	defer close(t.done)

	for {
		select {
		case ev := <-t.events:
			t.handle(ev)
		case <-t.quit:
			t.teardown()
			return
		}
	}
}

func (t *Tracker) handle(ev event) {
	switch e := ev.(type) {
	case evStartup:
		t.handleStartup()
	case evPulse:
		t.handlePulse(e.pulse)
	case evVisibility:
		t.handleVisibility(e.visible)
	case evInboundRoster:
		t.handleInboundRoster(e.entries)
	case evInboundStatus:
		t.handleInboundStatus(e.entry)
	case evHydrated:
		t.handleHydrated(e.entries, e.ok)
	case evConn:
		t.handleConn(e.state)
	case evLogin:
		t.handleLogin()
	case evLogout:
		t.handleLogout()
	case evForceResync:
		t.scheduleEmit(models.EventRefreshUserStatuses, struct{}{})
		t.scheduleEmit(models.EventGetUserStatuses, struct{}{})
	case evRosterQuery:
		e.reply <- t.snapshotRoster()
	case evStatusQuery:
		entry, known := t.roster[e.userID]
		e.reply <- statusReply{status: entry.Status, known: known}
	case evLocalQuery:
		e.reply <- t.local
	case evTimerFired:
		t.handleTimer(e)
	}
}

// handleStartup requests the authoritative roster and announces the login.
// Both ride the deferred-emit path so they clear the connect handshake.
func (t *Tracker) handleStartup() {
	t.scheduleEmit(models.EventGetUserStatuses, struct{}{})

	if t.local == LocalOffline {
		return
	}

	credential, _ := t.sess.Credential()
	t.scheduleEmit(models.EventLoginUser, models.CredentialPayload{Token: credential})
	t.armTimer(&t.inactivity, timerInactivity, t.cfg.InactivityTimeout)
}

// handlePulse throttles qualifying input to one evaluation per window.
// Trailing-edge anchored at the first pulse: pulses inside an armed window
// are absorbed, the evaluation runs when the timer fires. Sustained input
// therefore evaluates once per window, which keeps re-arming the
// inactivity timer; an extending window would postpone evaluation forever
// and let the inactivity timeout fire under continuous input.
func (t *Tracker) handlePulse(p activity.Pulse) {
	if t.local == LocalOffline {
		return
	}

	t.logger.Trace().Str("kind", string(p.Kind)).Msg("Activity pulse.")
	if !t.throttle.armed {
		t.armTimer(&t.throttle, timerThrottle, t.cfg.ThrottleInterval)
	}
}

func (t *Tracker) handleVisibility(visible bool) {
	t.visible = visible

	if !visible || t.local == LocalOffline {
		return
	}

	if t.local == LocalInactive {
		t.setLocal(LocalActive)
	}
	t.armTimer(&t.inactivity, timerInactivity, t.cfg.InactivityTimeout)
}

// evaluateActivity is the throttled state-machine evaluation
func (t *Tracker) evaluateActivity() {
	if t.local == LocalOffline {
		return
	}

	if t.local == LocalInactive {
		t.setLocal(LocalActive)
	}
	t.armTimer(&t.inactivity, timerInactivity, t.cfg.InactivityTimeout)
}

// setLocal applies a local-user transition and schedules its deferred emit
func (t *Tracker) setLocal(state LocalState) {
	if t.local == state {
		return
	}
	t.local = state

	credential, _ := t.sess.Credential()
	switch state {
	case LocalActive:
		t.scheduleEmit(models.EventUserActive, models.CredentialPayload{Token: credential})
	case LocalInactive:
		t.scheduleEmit(models.EventUserInactive, models.CredentialPayload{Token: credential})
	}

	t.logger.Debug().Str("local_state", string(state)).Msg("Local state changed.")
}

// handleInboundRoster applies the authoritative snapshot, replacing
// whatever roster was in place (cached or partial).
func (t *Tracker) handleInboundRoster(entries []models.PresenceEntry) {
	t.roster = make(map[string]models.PresenceEntry, len(entries))
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			t.logger.Warn().Err(err).Msg("Skipping invalid roster entry.")
			continue
		}
		t.roster[e.UserID] = e
	}
	t.authoritative = true

	t.afterRosterMutation()
	t.logger.Info().Int("entries", len(t.roster)).Msg("Authoritative roster applied.")
}

// handleInboundStatus applies a single remote update. Offline removes the
// user outright and flushes pending batched entries immediately; any other
// status upserts the roster and joins the batch buffer.
func (t *Tracker) handleInboundStatus(entry models.PresenceEntry) {
	if entry.Status == models.StatusOffline {
		if _, known := t.roster[entry.UserID]; known {
			delete(t.roster, entry.UserID)
			t.afterRosterMutation()
		}
		// Departures are not batched
		t.flushBatch()
		return
	}

	t.roster[entry.UserID] = entry
	t.afterRosterMutation()

	localID, _ := t.sess.UserID()
	if entry.UserID == localID {
		return
	}

	t.batch = append(t.batch, entry)
	if !t.batchTimer.armed {
		t.armTimer(&t.batchTimer, timerBatch, t.cfg.BatchInterval)
	}
}

// handleHydrated merges the cached roster, but only while no authoritative
// snapshot has arrived: network data always wins the hydration race.
func (t *Tracker) handleHydrated(entries []models.PresenceEntry, ok bool) {
	if !ok || t.authoritative {
		return
	}

	added := 0
	for _, e := range entries {
		if _, exists := t.roster[e.UserID]; exists {
			// A live update beat the cache read; keep the fresher entry
			continue
		}
		t.roster[e.UserID] = e
		added++
	}

	if added > 0 {
		t.afterRosterMutation()
	}
	t.logger.Debug().Int("entries", added).Msg("Provisional roster hydrated from cache.")
}

// handleConn reacts to channel state edges. A reconnect means the roster
// may have drifted for an unknown gap, so request a partial resync.
func (t *Tracker) handleConn(state channel.State) {
	if state != channel.StateConnected {
		return
	}

	if t.everConnected {
		t.scheduleEmit(models.EventGetUserStatuses, struct{}{})
		t.logger.Info().Msg("Channel reconnected, requesting roster resync.")
	}
	t.everConnected = true
}

func (t *Tracker) handleLogin() {
	if t.local != LocalOffline {
		return
	}
	t.local = LocalActive

	credential, _ := t.sess.Credential()
	t.scheduleEmit(models.EventLoginUser, models.CredentialPayload{Token: credential})
	t.scheduleEmit(models.EventGetUserStatuses, struct{}{})
	t.armTimer(&t.inactivity, timerInactivity, t.cfg.InactivityTimeout)
}

func (t *Tracker) handleLogout() {
	if t.local == LocalOffline {
		return
	}
	t.local = LocalOffline

	t.cancelTimer(&t.throttle)
	t.cancelTimer(&t.inactivity)
	t.cancelPending(models.EventUserActive)
	t.cancelPending(models.EventUserInactive)

	credential, _ := t.sess.Credential()
	t.scheduleEmit(models.EventLogoutUser, models.CredentialPayload{Token: credential})
}

func (t *Tracker) handleTimer(ev evTimerFired) {
	switch ev.kind {
	case timerThrottle:
		if !t.throttle.armed || ev.gen != t.throttle.gen {
			return
		}
		t.throttle.armed = false
		t.evaluateActivity()
	case timerInactivity:
		if !t.inactivity.armed || ev.gen != t.inactivity.gen {
			return
		}
		t.inactivity.armed = false
		if t.local == LocalActive {
			t.setLocal(LocalInactive)
		}
	case timerBatch:
		if !t.batchTimer.armed || ev.gen != t.batchTimer.gen {
			return
		}
		t.batchTimer.armed = false
		t.flushBatch()
	case timerEmit:
		p := t.pending[ev.emit]
		if p == nil || p.gen != ev.gen {
			return
		}
		delete(t.pending, ev.emit)
		t.emitNow(ev.emit, p.payload)
	}
}

// flushBatch emits the buffered remote updates as one batch and empties
// the buffer. A flush with nothing buffered just disarms the timer.
func (t *Tracker) flushBatch() {
	t.cancelTimer(&t.batchTimer)

	if len(t.batch) == 0 {
		return
	}

	entries := t.batch
	t.batch = nil

	t.emitNow(models.EventUserStatusesBatch, models.StatusBatch{Statuses: entries})
	metrics.RecordBatchFlush(len(entries))
}

// afterRosterMutation refreshes the durable snapshot and the size gauge
func (t *Tracker) afterRosterMutation() {
	t.queueRosterWrite(t.snapshotRoster())
	metrics.SetRosterSize(len(t.roster))
}

// scheduleEmit queues an outbound emit behind the uniform defer window.
// Scheduling the opposite transition cancels a pending one; rescheduling
// the same event restarts its delay with the fresh payload.
func (t *Tracker) scheduleEmit(eventName string, payload any) {
	if opp, ok := opposites[eventName]; ok {
		t.cancelPending(opp)
	}
	if p := t.pending[eventName]; p != nil {
		p.timer.Stop()
	}

	t.gen++
	g := t.gen
	pe := &pendingEmit{gen: g, payload: payload}
	pe.timer = time.AfterFunc(t.cfg.EmitDelay, func() {
		t.send(evTimerFired{kind: timerEmit, gen: g, emit: eventName})
	})
	t.pending[eventName] = pe
}

// cancelPending drops a deferred emit that has not fired yet
func (t *Tracker) cancelPending(eventName string) {
	p := t.pending[eventName]
	if p == nil {
		return
	}
	p.timer.Stop()
	delete(t.pending, eventName)
	metrics.RecordEmitCancelled()
}

// emitNow performs the actual channel write. Fire-and-forget: a failed
// emit is not retried, the next transition or timer re-attempts naturally.
func (t *Tracker) emitNow(eventName string, payload any) {
	if err := t.ch.Emit(eventName, payload); err != nil {
		t.logger.Debug().Err(err).Str("event", eventName).Msg("Emit failed.")
		return
	}
	metrics.RecordEmit(eventName)
}

// armTimer (re)starts a loop timer. Re-arming bumps the generation so an
// already-fired callback is recognized as stale.
func (t *Tracker) armTimer(lt *loopTimer, kind timerKind, d time.Duration) {
	if lt.timer != nil {
		lt.timer.Stop()
	}

	t.gen++
	g := t.gen
	lt.gen = g
	lt.armed = true
	lt.timer = time.AfterFunc(d, func() {
		t.send(evTimerFired{kind: kind, gen: g})
	})
}

func (t *Tracker) cancelTimer(lt *loopTimer) {
	if lt.timer != nil {
		lt.timer.Stop()
	}
	lt.armed = false
}

// teardown cancels every pending timer and deferred emit
func (t *Tracker) teardown() {
	t.cancelTimer(&t.throttle)
	t.cancelTimer(&t.inactivity)
	t.cancelTimer(&t.batchTimer)

	for _, p := range t.pending {
		p.timer.Stop()
	}
	t.pending = make(map[string]*pendingEmit)
}

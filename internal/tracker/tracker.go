// Package tracker owns the presence roster and the local activity state
// machine. All roster and buffer mutations funnel through a single
// goroutine via an event channel; there is no mutex on the roster, and no
// other component reads or writes it directly.
package tracker

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"presencesync/internal/activity"
	"presencesync/internal/cache"
	"presencesync/internal/channel"
	"presencesync/internal/models"
	"presencesync/internal/session"
)

// LocalState is the local user's presence state
type LocalState string

const (
	LocalActive   LocalState = "active"
	LocalInactive LocalState = "inactive"
	LocalOffline  LocalState = "offline"
)

// Config holds the tracker's timing policy. Zero values take defaults;
// tests shorten them to exercise the throttle/defer/batch behavior quickly.
type Config struct {
	RosterCacheKey    string        // durable cache key for the roster
	RosterTTL         time.Duration // cache TTL, refreshed on every roster write
	InactivityTimeout time.Duration // Active -> Inactive after this much quiet
	ThrottleInterval  time.Duration // trailing-edge window for input pulses
	EmitDelay         time.Duration // defer for outbound transition emits
	BatchInterval     time.Duration // flush window for relayed remote updates
}

func (c *Config) withDefaults() {
	if c.RosterCacheKey == "" {
		c.RosterCacheKey = "roster"
	}
	if c.RosterTTL == 0 {
		c.RosterTTL = 30 * time.Second
	}
	if c.InactivityTimeout == 0 {
		c.InactivityTimeout = 5 * time.Minute
	}
	if c.ThrottleInterval == 0 {
		c.ThrottleInterval = 3 * time.Second
	}
	if c.EmitDelay == 0 {
		c.EmitDelay = 3 * time.Second
	}
	if c.BatchInterval == 0 {
		c.BatchInterval = 3 * time.Second
	}
}

// RosterCache is the durable-capable cache holding the serialized roster
type RosterCache = cache.Cache[[]models.PresenceEntry]

// Tracker maintains the roster, runs the local activity state machine, and
// relays presence changes with bounded chatter.
type Tracker struct {
	cfg    Config
	cache  *RosterCache
	ch     channel.Channel
	sess   session.Provider
	src    activity.Source
	logger zerolog.Logger

	events      chan event
	cacheWrites chan []models.PresenceEntry
	quit        chan struct{}
	done        chan struct{}
	writerDone  chan struct{}
	startOnce   sync.Once
	stopOnce    sync.Once
	started     atomic.Bool

	ctx context.Context

	// Everything below is owned by the run loop. Do not touch elsewhere.
	roster        map[string]models.PresenceEntry
	batch         []models.PresenceEntry
	local         LocalState
	visible       bool
	authoritative bool
	everConnected bool
	gen           uint64
	throttle      loopTimer
	inactivity    loopTimer
	batchTimer    loopTimer
	pending       map[string]*pendingEmit
}

// New creates a tracker. Nothing runs until Start.
func New(cfg Config, rosterCache *RosterCache, ch channel.Channel, sess session.Provider, src activity.Source, logger zerolog.Logger) *Tracker {
	cfg.withDefaults()

	return &Tracker{
		cfg:         cfg,
		cache:       rosterCache,
		ch:          ch,
		sess:        sess,
		src:         src,
		logger:      logger.With().Str("component", "tracker").Logger(),
		events:      make(chan event, 256),
		cacheWrites: make(chan []models.PresenceEntry, 1),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		writerDone:  make(chan struct{}),
		roster:      make(map[string]models.PresenceEntry),
		visible:     true,
		pending:     make(map[string]*pendingEmit),
	}
}

// Start connects the channel, begins hydration, and launches the run loop.
// The initial local state is Active when a session credential is present,
// Offline otherwise. A channel that never connects is not an error: the
// tracker keeps serving whatever the cache provided.
func (t *Tracker) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		t.ctx = ctx

		credential, loggedIn := t.sess.Credential()
		if loggedIn {
			t.local = LocalActive
		} else {
			t.local = LocalOffline
		}

		if err := t.ch.Connect(ctx, credential); err != nil {
			// Degrade silently: cached data still serves queries, and the
			// channel keeps retrying underneath.
			t.logger.Warn().Err(err).Msg("Channel connect failed, continuing on cached data.")
		}

		rosterCh := t.ch.On(models.EventInitialUserStatuses)
		statusCh := t.ch.On(models.EventUserStatus)

		go t.forwardInbound(rosterCh, statusCh)
		go t.forwardActivity()
		go t.forwardStatus()
		go t.hydrateFromCache()
		go t.cacheWriter()

		go t.run()
		t.started.Store(true)

		t.send(evStartup{})

		t.logger.Info().Str("local_state", string(t.local)).Msg("Tracker started.")
	})
}

// Stop cancels all pending timers, stops consuming activity, deletes the
// durable roster snapshot, and shuts the loop down. Idempotent, and safe
// on a tracker that was never started.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.quit)
		if t.started.Load() {
			<-t.done
			<-t.writerDone
		}

		// The roster is too stateful to leave for the next session
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		t.cache.Remove(ctx, t.cfg.RosterCacheKey, true)

		t.logger.Info().Msg("Tracker stopped.")
	})
}

// Login transitions the local user Offline -> Active and announces the
// session on the channel.
func (t *Tracker) Login() {
	t.send(evLogin{})
}

// Logout transitions the local user to Offline and announces it
func (t *Tracker) Logout() {
	t.send(evLogout{})
}

// ForceResync requests a fresh authoritative roster from the backend
func (t *Tracker) ForceResync() {
	t.send(evForceResync{})
}

// Roster returns a snapshot of all known entries, sorted by user id
func (t *Tracker) Roster() []models.PresenceEntry {
	reply := make(chan []models.PresenceEntry, 1)
	if !t.send(evRosterQuery{reply: reply}) {
		return nil
	}
	select {
	case entries := <-reply:
		return entries
	case <-t.done:
		return nil
	}
}

// Status returns a user's current status and whether the user is known
func (t *Tracker) Status(userID string) (models.Status, bool) {
	reply := make(chan statusReply, 1)
	if !t.send(evStatusQuery{userID: userID, reply: reply}) {
		return models.StatusOffline, false
	}
	select {
	case r := <-reply:
		return r.status, r.known
	case <-t.done:
		return models.StatusOffline, false
	}
}

// LocalState returns the local user's current state
func (t *Tracker) LocalState() LocalState {
	reply := make(chan LocalState, 1)
	if !t.send(evLocalQuery{reply: reply}) {
		return LocalOffline
	}
	select {
	case s := <-reply:
		return s
	case <-t.done:
		return LocalOffline
	}
}

// send delivers an event to the loop unless the tracker is shutting down
func (t *Tracker) send(ev event) bool {
	select {
	case t.events <- ev:
		return true
	case <-t.quit:
		return false
	}
}

// forwardInbound decodes channel payloads into loop events
func (t *Tracker) forwardInbound(rosterCh, statusCh <-chan []byte) {
	for {
		select {
		case data := <-rosterCh:
			var entries []models.PresenceEntry
			if err := json.Unmarshal(data, &entries); err != nil {
				t.logger.Warn().Err(err).Msg("Dropping malformed roster snapshot.")
				continue
			}
			t.send(evInboundRoster{entries: entries})
		case data := <-statusCh:
			var entry models.PresenceEntry
			if err := json.Unmarshal(data, &entry); err != nil {
				t.logger.Warn().Err(err).Msg("Dropping malformed status update.")
				continue
			}
			if err := entry.Validate(); err != nil {
				t.logger.Warn().Err(err).Msg("Dropping invalid status update.")
				continue
			}
			t.send(evInboundStatus{entry: entry})
		case <-t.quit:
			return
		}
	}
}

// forwardActivity feeds input pulses and visibility changes into the loop
func (t *Tracker) forwardActivity() {
	for {
		select {
		case p := <-t.src.Pulses():
			t.send(evPulse{pulse: p})
		case visible := <-t.src.Visibility():
			t.send(evVisibility{visible: visible})
		case <-t.quit:
			return
		}
	}
}

// forwardStatus feeds channel connection edges into the loop
func (t *Tracker) forwardStatus() {
	for {
		select {
		case state := <-t.ch.Status():
			t.send(evConn{state: state})
		case <-t.quit:
			return
		}
	}
}

// hydrateFromCache reads the durable roster snapshot concurrently with the
// network roster request. The loop applies it only while no authoritative
// snapshot has arrived.
func (t *Tracker) hydrateFromCache() {
	entries, ok := t.cache.Get(t.ctx, t.cfg.RosterCacheKey, true)
	t.send(evHydrated{entries: entries, ok: ok})
}

// cacheWriter serializes roster write-through off the loop goroutine.
// The 1-slot queue coalesces bursts: only the newest snapshot is written.
func (t *Tracker) cacheWriter() {
	defer close(t.writerDone)

	for {
		select {
		case entries := <-t.cacheWrites:
			t.cache.Set(t.ctx, t.cfg.RosterCacheKey, entries, t.cfg.RosterTTL, true)
		case <-t.quit:
			return
		}
	}
}

// queueRosterWrite hands the latest roster snapshot to the cache writer,
// replacing any not-yet-written one.
func (t *Tracker) queueRosterWrite(entries []models.PresenceEntry) {
	for {
		select {
		case t.cacheWrites <- entries:
			return
		default:
			select {
			case <-t.cacheWrites:
			default:
			}
		}
	}
}

// snapshotRoster copies the roster into a sorted slice
func (t *Tracker) snapshotRoster() []models.PresenceEntry {
	entries := make([]models.PresenceEntry, 0, len(t.roster))
	for _, e := range t.roster {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UserID < entries[j].UserID
	})
	return entries
}

package activation

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/stwalsh4118/stories/internal/captions"
	"github.com/stwalsh4118/stories/internal/logger"
	"github.com/stwalsh4118/stories/internal/models"
	"github.com/stwalsh4118/stories/internal/netquality"
	"github.com/stwalsh4118/stories/internal/player"
)

// Default controller settings
const (
	DefaultActivateRatio      = 0.8
	DefaultResetRatio         = 0.2
	DefaultResetMinPosition   = 0.5
	DefaultWindowRadius       = 1
	DefaultMaxRetryAttempts   = 3
	DefaultRetryDelay         = 2 * time.Second
	DefaultStallTimeout       = 6 * time.Second
	DefaultUnmuteDelay        = 500 * time.Millisecond
	DefaultUnmuteHintDuration = 5 * time.Second
)

// Settings tunes activation thresholds and timers
type Settings struct {
	ActivateRatio      float64
	ResetRatio         float64
	ResetMinPosition   float64
	WindowRadius       int
	Preload            bool
	MaxRetryAttempts   int
	RetryDelay         time.Duration
	StallTimeout       time.Duration
	UnmuteDelay        time.Duration
	UnmuteHintDuration time.Duration
}

// DefaultSettings returns the stock thresholds and timers
func DefaultSettings() Settings {
	return Settings{
		ActivateRatio:      DefaultActivateRatio,
		ResetRatio:         DefaultResetRatio,
		ResetMinPosition:   DefaultResetMinPosition,
		WindowRadius:       DefaultWindowRadius,
		Preload:            true,
		MaxRetryAttempts:   DefaultMaxRetryAttempts,
		RetryDelay:         DefaultRetryDelay,
		StallTimeout:       DefaultStallTimeout,
		UnmuteDelay:        DefaultUnmuteDelay,
		UnmuteHintDuration: DefaultUnmuteHintDuration,
	}
}

// Metadata is everything fetched for one item before its player is built
type Metadata struct {
	Item       models.MediaItem
	Captions   captions.Track
	Renditions []player.QualityLevel
}

// Catalog resolves media ids to metadata
type Catalog interface {
	Media(ctx context.Context, mediaID string) (*Metadata, error)
}

// CatalogFunc adapts a function to Catalog
type CatalogFunc func(ctx context.Context, mediaID string) (*Metadata, error)

// Media calls f(ctx, mediaID)
func (f CatalogFunc) Media(ctx context.Context, mediaID string) (*Metadata, error) {
	return f(ctx, mediaID)
}

// ViewportSignal is one intersection observation
type ViewportSignal struct {
	ID           string  `json:"media_id"`
	Index        int     `json:"index"`
	Intersecting bool    `json:"intersecting"`
	Ratio        float64 `json:"ratio"`
}

// Preferences is the mute preference shared by every item of one widget
type Preferences struct {
	Muted       bool `json:"muted"`
	EverUnmuted bool `json:"ever_unmuted"`
	UnmuteHint  bool `json:"unmute_hint"`
}

// ScrollRequest asks the adapter to bring an item into view
type ScrollRequest struct {
	Index   int    `json:"index"`
	MediaID string `json:"media_id"`
	Reason  string `json:"reason"`
}

// Scroll reasons
const (
	ScrollReasonComplete = "complete"
	ScrollReasonNavigate = "navigate"
)

// Options configures a Controller
type Options struct {
	Settings   Settings
	Catalog    Catalog
	Factory    player.Factory
	Clock      clockwork.Clock
	Platform   netquality.Platform
	Advisor    *netquality.Advisor
	Connection *netquality.ConnectionInfo
	OnScroll   func(ScrollRequest)
	SessionID  string
}

type entry struct {
	state       ItemState
	meta        *Metadata
	handle      player.Handle
	unsubscribe func()
	fetching    bool
	gen         uint64

	// fetchGen is the token of the request this entry waits on, 0 while
	// queued behind a request issued for an evicted predecessor
	fetchGen uint64

	stall  clockwork.Timer
	retry  clockwork.Timer
	unmute clockwork.Timer
}

// Controller owns the registry of items and players for one widget. All
// state is confined to the goroutine running Run; public methods enqueue
// work and return immediately.
type Controller struct {
	settings Settings
	catalog  Catalog
	factory  player.Factory
	clock    clockwork.Clock
	platform netquality.Platform
	advisor  *netquality.Advisor
	onScroll func(ScrollRequest)
	log      zerolog.Logger

	mu      sync.Mutex
	queue   []func()
	closed  bool
	running bool
	wake    chan struct{}
	done    chan struct{}

	// owned by the Run goroutine
	ctx        context.Context
	ids        []string
	index      map[string]int
	entries    map[string]*entry
	active     int
	activeLeft bool
	prefs      Preferences
	conn       *netquality.ConnectionInfo
	advice     netquality.Advice
	hintTimer  clockwork.Timer
	dirty      bool
	version    uint64
	gens       uint64

	// inflight maps a media id to its outstanding metadata request. It
	// outlives eviction so a re-created entry never starts a second one.
	inflight map[string]uint64

	snapMu sync.RWMutex
	snap   Snapshot
	subs   map[int]chan Snapshot
	nextID int
}

// New creates a Controller. Call Run to start processing.
func New(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Advisor == nil {
		opts.Advisor = netquality.NewAdvisor(0, 0)
	}
	if opts.Settings.MaxRetryAttempts < 0 {
		opts.Settings.MaxRetryAttempts = 0
	}

	c := &Controller{
		settings: opts.Settings,
		catalog:  opts.Catalog,
		factory:  opts.Factory,
		clock:    opts.Clock,
		platform: opts.Platform,
		advisor:  opts.Advisor,
		onScroll: opts.OnScroll,
		log:      logger.Log.With().Str("session_id", opts.SessionID).Logger(),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		index:    make(map[string]int),
		entries:  make(map[string]*entry),
		inflight: make(map[string]uint64),
		active:   -1,
		prefs:    Preferences{Muted: true, UnmuteHint: true},
		conn:     opts.Connection,
		subs:     make(map[int]chan Snapshot),
	}
	c.advice = c.advisor.Advise(c.conn, c.platform)
	c.snap = c.buildSnapshot()
	return c
}

// Run processes queued work until ctx is cancelled or Close is called.
// All players are released before it returns.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	c.running = true
	if c.closed {
		c.mu.Unlock()
		close(c.done)
		return ErrControllerClosed
	}
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(c.done)
	c.ctx = ctx

	for {
		select {
		case <-ctx.Done():
			c.markClosed()
			c.shutdown()
			return ctx.Err()
		case <-c.wake:
		}

		for {
			batch := c.take()
			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				fn()
			}
		}
		if c.dirty {
			c.publish()
		}

		if c.isClosed() {
			c.shutdown()
			return nil
		}
	}
}

// Close stops the controller and waits for Run to release every player
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	running := c.running
	c.mu.Unlock()

	if !running {
		return nil
	}
	c.signal()
	<-c.done
	return nil
}

// Done is closed once Run has returned
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Load replaces the item list. Later duplicates of an id are dropped.
func (c *Controller) Load(ids []string) error {
	ids = append([]string(nil), ids...)
	return c.post(func() { c.handleLoad(ids) })
}

// Signals feeds a batch of viewport observations
func (c *Controller) Signals(signals ...ViewportSignal) error {
	batch := append([]ViewportSignal(nil), signals...)
	return c.post(func() { c.handleSignals(batch) })
}

// TogglePause pauses a playing item or resumes a paused one
func (c *Controller) TogglePause(id string) error {
	return c.post(func() {
		e := c.lookup(id)
		if e == nil {
			return
		}
		switch e.state.Phase {
		case PhasePlaying:
			c.apply(e, Event{Kind: EvUserPause})
		case PhasePaused:
			c.apply(e, Event{Kind: EvUserResume})
		}
	})
}

// Pause pauses id on behalf of the user
func (c *Controller) Pause(id string) error {
	return c.post(func() {
		if e := c.lookup(id); e != nil {
			c.apply(e, Event{Kind: EvUserPause})
		}
	})
}

// Resume resumes a user-paused item
func (c *Controller) Resume(id string) error {
	return c.post(func() {
		if e := c.lookup(id); e != nil {
			c.apply(e, Event{Kind: EvUserResume})
		}
	})
}

// Seek moves id to fraction (0..1) of its duration
func (c *Controller) Seek(id string, fraction float64) error {
	return c.post(func() {
		e := c.lookup(id)
		if e == nil {
			return
		}
		duration := e.state.Duration
		if e.handle != nil && e.handle.Duration() > 0 {
			duration = e.handle.Duration()
		}
		c.apply(e, Event{Kind: EvSeek, Position: SeekTarget(fraction, duration)})
	})
}

// ToggleMute flips the global mute preference and applies it to every player
func (c *Controller) ToggleMute() error {
	return c.post(c.handleToggleMute)
}

// Navigate requests a scroll by delta items. Ignored on mobile.
func (c *Controller) Navigate(delta int) error {
	return c.post(func() { c.handleNavigate(delta) })
}

// Retry manually retries a failed item, starting a new failure streak
func (c *Controller) Retry(id string) error {
	return c.post(func() {
		if e := c.lookup(id); e != nil {
			c.apply(e, Event{Kind: EvManualRetry})
		}
	})
}

// UpdateConnection re-evaluates quality advice and applies it to every player
func (c *Controller) UpdateConnection(info *netquality.ConnectionInfo) error {
	return c.post(func() { c.handleConnection(info) })
}

// Snapshot returns the most recently published state
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// Subscribe returns a channel that receives every newly published snapshot.
// Slow readers only see the latest one. The channel is closed on shutdown.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.snapMu.Lock()
	if c.subs == nil {
		c.snapMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	ch <- c.snap
	c.snapMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.snapMu.Lock()
			defer c.snapMu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

// SeekTarget maps a click fraction onto a position within duration
func SeekTarget(fraction, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return fraction * duration
}

// mailbox

func (c *Controller) post(fn func()) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	c.queue = append(c.queue, fn)
	c.mu.Unlock()
	c.signal()
	return nil
}

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) take() []func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := c.queue
	c.queue = nil
	return batch
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// handlers, run on the actor goroutine

func (c *Controller) handleLoad(ids []string) {
	c.disposeAll()

	seen := make(map[string]bool, len(ids))
	c.ids = c.ids[:0]
	c.index = make(map[string]int, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if seen[id] {
			c.log.Warn().Str("media_id", id).Msg("Dropping duplicate media id")
			continue
		}
		seen[id] = true
		c.index[id] = len(c.ids)
		c.ids = append(c.ids, id)
	}
	c.active = -1
	c.activeLeft = false
	c.dirty = true

	c.log.Info().Int("items", len(c.ids)).Msg("Playlist loaded")
}

func (c *Controller) handleSignals(signals []ViewportSignal) {
	best := -1
	bestRatio := 0.0

	for _, sig := range signals {
		idx, ok := c.resolve(sig)
		if !ok {
			continue
		}

		if sig.Intersecting && sig.Ratio >= c.settings.ActivateRatio && sig.Ratio > bestRatio {
			best = idx
			bestRatio = sig.Ratio
		}

		if !sig.Intersecting || sig.Ratio < c.settings.ResetRatio {
			if idx == c.active {
				c.activeLeft = true
				continue
			}
			if e := c.entries[c.ids[idx]]; e != nil {
				c.apply(e, Event{Kind: EvExitViewport})
			}
		}
	}

	if best >= 0 {
		c.activate(best)
	}
}

func (c *Controller) resolve(sig ViewportSignal) (int, bool) {
	if sig.ID != "" {
		idx, ok := c.index[sig.ID]
		return idx, ok
	}
	if sig.Index >= 0 && sig.Index < len(c.ids) {
		return sig.Index, true
	}
	return 0, false
}

func (c *Controller) activate(idx int) {
	prev := c.active
	fresh := prev != idx || c.activeLeft
	c.active = idx
	c.activeLeft = false

	if prev != idx && prev >= 0 && prev < len(c.ids) {
		if e := c.entries[c.ids[prev]]; e != nil {
			c.apply(e, Event{Kind: EvDeactivate})
		}
	}

	c.evictOutsideWindow(idx)

	e := c.ensure(idx)
	c.apply(e, Event{Kind: EvActivate, Fresh: fresh})

	if c.settings.Preload {
		for _, n := range c.window(idx) {
			if n == idx {
				continue
			}
			c.apply(c.ensure(n), Event{Kind: EvPrefetch})
		}
	}

	if prev == -1 && c.hintTimer == nil && c.prefs.UnmuteHint && c.settings.UnmuteHintDuration > 0 {
		c.hintTimer = c.clock.AfterFunc(c.settings.UnmuteHintDuration, func() {
			_ = c.post(c.hideUnmuteHint)
		})
	}

	if fresh {
		c.log.Debug().Int("index", idx).Str("media_id", c.ids[idx]).Msg("Item activated")
	}
}

func (c *Controller) window(idx int) []int {
	lo := idx - c.settings.WindowRadius
	if lo < 0 {
		lo = 0
	}
	hi := idx + c.settings.WindowRadius
	if hi > len(c.ids)-1 {
		hi = len(c.ids) - 1
	}
	out := make([]int, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, i)
	}
	return out
}

func (c *Controller) evictOutsideWindow(idx int) {
	for id, e := range c.entries {
		i := c.index[id]
		if i < idx-c.settings.WindowRadius || i > idx+c.settings.WindowRadius {
			c.apply(e, Event{Kind: EvEvict})
		}
	}
}

func (c *Controller) ensure(idx int) *entry {
	id := c.ids[idx]
	if e, ok := c.entries[id]; ok {
		return e
	}
	e := &entry{state: ItemState{ID: id, Index: idx, Phase: PhaseUnregistered}, gen: c.nextGen()}
	c.entries[id] = e
	return e
}

func (c *Controller) lookup(id string) *entry {
	e, ok := c.entries[id]
	if !ok {
		c.log.Debug().Str("media_id", id).Msg("Intent for item without player ignored")
		return nil
	}
	return e
}

func (c *Controller) handleToggleMute() {
	c.prefs.Muted = !c.prefs.Muted
	if !c.prefs.Muted {
		c.prefs.EverUnmuted = true
		c.hideUnmuteHint()
	}
	c.dirty = true

	for _, e := range c.entries {
		c.apply(e, Event{Kind: EvApplyMute})
	}
	c.log.Debug().Bool("muted", c.prefs.Muted).Msg("Mute preference toggled")
}

func (c *Controller) hideUnmuteHint() {
	if c.hintTimer != nil {
		c.hintTimer.Stop()
	}
	if c.prefs.UnmuteHint {
		c.prefs.UnmuteHint = false
		c.dirty = true
	}
}

func (c *Controller) handleNavigate(delta int) {
	if c.platform.Mobile || len(c.ids) == 0 || delta == 0 {
		return
	}
	from := c.active
	if from < 0 {
		from = 0
	}
	target := from + delta
	if target < 0 {
		target = 0
	}
	if target > len(c.ids)-1 {
		target = len(c.ids) - 1
	}
	if target == c.active {
		return
	}
	c.requestScroll(target, ScrollReasonNavigate)
}

func (c *Controller) handleConnection(info *netquality.ConnectionInfo) {
	c.conn = info
	c.advice = c.advisor.Advise(info, c.platform)
	c.dirty = true

	for _, e := range c.entries {
		if e.handle == nil {
			continue
		}
		e.handle.SetBandwidthEstimate(c.advice.BandwidthEstimate)
		if c.advice.HighQuality {
			if best := netquality.HighestQuality(e.handle.QualityLevels()); best >= 0 {
				e.handle.SetCurrentQuality(best)
			}
		}
	}
}

func (c *Controller) requestScroll(idx int, reason string) {
	if c.onScroll == nil || idx < 0 || idx >= len(c.ids) {
		return
	}
	c.onScroll(ScrollRequest{Index: idx, MediaID: c.ids[idx], Reason: reason})
}

func (c *Controller) env() Env {
	return Env{
		Mobile:           c.platform.Mobile,
		Muted:            c.prefs.Muted,
		MaxAttempts:      c.settings.MaxRetryAttempts,
		EverUnmuted:      c.prefs.EverUnmuted,
		ResetMinPosition: c.settings.ResetMinPosition,
	}
}

// apply runs Step for e and executes the resulting effects
func (c *Controller) apply(e *entry, ev Event) {
	prev := e.state.Phase
	next, effects := Step(e.state, ev, c.env())
	if prev != next.Phase {
		if !prev.CanTransitionTo(next.Phase) {
			c.log.Warn().
				Str("media_id", e.state.ID).
				Str("from", prev.String()).
				Str("to", next.Phase.String()).
				Msg("Unexpected phase transition")
		}
		c.log.Debug().
			Str("media_id", e.state.ID).
			Str("from", prev.String()).
			Str("to", next.Phase.String()).
			Int("attempt", next.Attempts).
			Msg("Phase changed")
	}
	e.state = next
	c.dirty = true

	for _, eff := range effects {
		c.execute(e, eff)
	}
}

func (c *Controller) execute(e *entry, eff Effect) {
	id := e.state.ID

	switch eff.Kind {
	case EffFetchMetadata:
		c.startFetch(e)

	case EffSetup:
		c.setup(e, eff.Mute)

	case EffPlay:
		if e.handle != nil {
			e.handle.Play()
		}

	case EffPause:
		if e.handle != nil {
			e.handle.Pause()
		}

	case EffSeek:
		if e.handle != nil {
			e.handle.Seek(eff.Position)
		}

	case EffSetMute:
		if e.handle != nil {
			e.handle.SetMute(eff.Mute)
		}

	case EffArmStall:
		stopTimer(e.stall)
		gen := e.gen
		e.stall = c.clock.AfterFunc(c.settings.StallTimeout, func() {
			_ = c.post(func() { c.onStall(id, gen) })
		})

	case EffDisarmStall:
		stopTimer(e.stall)
		e.stall = nil

	case EffScheduleRetry:
		stopTimer(e.retry)
		gen := e.gen
		e.retry = c.clock.AfterFunc(c.settings.RetryDelay, func() {
			_ = c.post(func() { c.onTimer(id, gen, EvRetryDue) })
		})

	case EffCancelRetry:
		stopTimer(e.retry)
		e.retry = nil

	case EffScheduleUnmute:
		stopTimer(e.unmute)
		gen := e.gen
		e.unmute = c.clock.AfterFunc(c.settings.UnmuteDelay, func() {
			_ = c.post(func() {
				if cur := c.entries[id]; cur != nil && cur.gen == gen {
					c.apply(cur, Event{Kind: EvUnmuteDue})
				}
			})
		})

	case EffCancelUnmute:
		stopTimer(e.unmute)
		e.unmute = nil

	case EffRelease:
		c.release(e)

	case EffDispose:
		c.release(e)
		e.fetching = false
		e.gen = c.nextGen()
		delete(c.entries, id)

	case EffScrollNext:
		c.requestScroll(e.state.Index+1, ScrollReasonComplete)

	case EffReportFailure:
		ev := c.log.Warn()
		if e.state.Phase == PhaseExhausted {
			ev = c.log.Error()
		}
		if f := e.state.LastError; f != nil {
			ev = ev.Str("kind", f.Kind.String()).Str("message", f.Message).AnErr("cause", f.Cause)
		}
		ev.Str("media_id", id).
			Str("phase", e.state.Phase.String()).
			Int("attempt", e.state.Attempts).
			Int("max_attempts", c.settings.MaxRetryAttempts).
			Msg("Item failed")
	}
}

func (c *Controller) nextGen() uint64 {
	c.gens++
	return c.gens
}

// startFetch requests metadata for e unless a request for the same id is
// already outstanding, in which case e waits for it to settle.
func (c *Controller) startFetch(e *entry) {
	if e.fetching {
		return
	}
	e.fetching = true
	id := e.state.ID
	if _, busy := c.inflight[id]; busy {
		e.fetchGen = 0
		c.log.Debug().Str("media_id", id).Msg("Metadata request already in flight, waiting")
		return
	}
	c.launchFetch(e)
}

func (c *Controller) launchFetch(e *entry) {
	token := c.nextGen()
	id := e.state.ID
	ctx := c.ctx
	e.fetchGen = token
	c.inflight[id] = token

	go func() {
		meta, err := c.catalog.Media(ctx, id)
		_ = c.post(func() { c.onMetadata(id, token, meta, err) })
	}()
}

func (c *Controller) onMetadata(id string, token uint64, meta *Metadata, err error) {
	if c.inflight[id] == token {
		delete(c.inflight, id)
	}

	e := c.entries[id]
	if e == nil || !e.fetching || e.fetchGen != token {
		c.log.Debug().Str("media_id", id).Msg("Discarding stale metadata response")
		if e != nil && e.fetching && e.fetchGen == 0 {
			c.launchFetch(e)
		}
		return
	}
	e.fetching = false
	e.fetchGen = 0

	if err != nil || meta == nil {
		c.apply(e, Event{
			Kind:    EvMetadataFailed,
			Failure: NewFailure(FailureNetwork, "metadata fetch failed", err),
		})
		return
	}
	e.meta = meta
	c.apply(e, Event{Kind: EvMetadataLoaded})
}

func (c *Controller) setup(e *entry, mute bool) {
	if c.factory == nil || e.meta == nil {
		return
	}
	c.release(e)

	id := e.state.ID
	gen := e.gen
	h := c.factory(id)
	e.handle = h
	e.unsubscribe = h.Subscribe(func(ev player.Event) {
		_ = c.post(func() { c.onPlayerEvent(id, gen, ev) })
	})

	startLevel := -1
	if c.advice.HighQuality {
		startLevel = netquality.HighestQuality(e.meta.Renditions)
	}

	preload := "metadata"
	if c.settings.Preload {
		preload = "auto"
	}

	h.Setup(player.Config{
		MediaID:           id,
		Title:             e.meta.Item.Title,
		Sources:           e.meta.Item.Sources,
		Tracks:            e.meta.Item.Tracks,
		Mute:              mute,
		Autostart:         false,
		Preload:           preload,
		Controls:          false,
		Stretching:        "fill",
		BandwidthEstimate: c.advice.BandwidthEstimate,
		StartQuality:      c.advice.StartQuality(),
		StartLevel:        startLevel,
	})

	// neighbours start buffering so a swipe lands on a warm player
	if c.settings.Preload && !e.state.Active {
		h.Load()
	}
}

func (c *Controller) release(e *entry) {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	if e.handle != nil {
		e.handle.Remove()
		e.handle = nil
		e.gen = c.nextGen()
	}
}

func (c *Controller) onPlayerEvent(id string, gen uint64, ev player.Event) {
	e := c.entries[id]
	if e == nil || e.gen != gen {
		return
	}

	switch ev.Kind {
	case player.EventReady:
		c.apply(e, Event{Kind: EvReady})
	case player.EventTime:
		c.apply(e, Event{Kind: EvTime, Position: ev.Position, Duration: ev.Duration})
	case player.EventBuffer:
		c.apply(e, Event{Kind: EvBuffer})
	case player.EventPlay:
		c.apply(e, Event{Kind: EvPlay})
	case player.EventComplete:
		c.apply(e, Event{Kind: EvComplete})
	case player.EventError:
		c.apply(e, Event{
			Kind:    EvPlayerError,
			Failure: NewFailure(FailurePlayback, ev.Message, nil),
		})
	case player.EventLevels:
		if c.advice.HighQuality && e.handle != nil {
			if best := netquality.HighestQuality(ev.Levels); best >= 0 {
				e.handle.SetCurrentQuality(best)
			}
		}
	}
}

func (c *Controller) onStall(id string, gen uint64) {
	e := c.entries[id]
	if e == nil || e.gen != gen || e.handle == nil {
		return
	}
	e.stall = nil
	c.apply(e, Event{
		Kind:      EvStallTimeout,
		Buffering: e.handle.State() == player.StateBuffering || e.state.Buffering,
		Position:  e.handle.Position(),
		Failure:   NewFailure(FailureStall, "no playback progress", nil),
	})
}

func (c *Controller) onTimer(id string, gen uint64, kind EventKind) {
	e := c.entries[id]
	if e == nil || e.gen != gen {
		return
	}
	e.retry = nil
	c.apply(e, Event{Kind: kind})
}

func (c *Controller) disposeAll() {
	for _, e := range c.entries {
		c.apply(e, Event{Kind: EvEvict})
	}
}

func (c *Controller) shutdown() {
	c.disposeAll()
	if c.hintTimer != nil {
		c.hintTimer.Stop()
	}
	c.publish()

	c.snapMu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subs = nil
	c.snapMu.Unlock()

	c.log.Debug().Msg("Controller stopped")
}

func stopTimer(t clockwork.Timer) {
	if t != nil {
		t.Stop()
	}
}

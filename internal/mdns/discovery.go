package mdns

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State identifies where a discovery session currently is.
type State int

// Session states, in the order a normal session moves through them.
const (
	StateIdle State = iota
	StateInitializing
	StateQuerying
	StateListening
	StateCollecting
	StateFiltering
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateQuerying:
		return "querying"
	case StateListening:
		return "listening"
	case StateCollecting:
		return "collecting"
	case StateFiltering:
		return "filtering"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ErrScanInProgress is returned when a second discovery session is requested
// while one is already running. Sessions are never queued.
var ErrScanInProgress = errors.New("mdns: discovery session already running")

// Session defaults.
const (
	DefaultSessionTimeout = 15 * time.Second
	defaultPollInterval   = 500 * time.Millisecond
	defaultMinCollectTime = 3 * time.Second
	defaultPlateauPolls   = 6
	defaultEventBuffer    = 64

	teardownWait  = 2 * time.Second
	teardownGrace = 100 * time.Millisecond
)

// Options configures a discovery engine. The zero value selects sensible
// defaults everywhere.
type Options struct {
	// SessionTimeout is the hard ceiling for one scan.
	SessionTimeout time.Duration

	// CacheTTL is the cross-session "recently observed" window.
	CacheTTL time.Duration

	// TargetSegment, when non-nil, drops replies from outside this network.
	TargetSegment *net.IPNet

	// Phases overrides the built-in query plan.
	Phases []ServicePhase

	// PollInterval is the collection-phase polling cadence.
	PollInterval time.Duration

	// MinCollectTime must elapse before the plateau detector may end a
	// session early.
	MinCollectTime time.Duration

	// PlateauPolls is how many consecutive polls without a new external
	// device end the session early.
	PlateauPolls int

	// EventBuffer sizes the subscription channel.
	EventBuffer int
}

func (o *Options) applyDefaults() {
	if o.SessionTimeout <= 0 {
		o.SessionTimeout = DefaultSessionTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.MinCollectTime <= 0 {
		o.MinCollectTime = defaultMinCollectTime
	}
	if o.PlateauPolls <= 0 {
		o.PlateauPolls = defaultPlateauPolls
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = defaultEventBuffer
	}
}

// Engine drives discovery sessions one at a time and maintains the
// cross-session device cache. Construct it once with NewEngine, subscribe to
// Events, and call Scan per session.
type Engine struct {
	log    *zap.Logger
	opts   Options
	cache  *Cache
	events chan Event

	// sem is the capacity-1 session guard.
	sem chan struct{}

	mu    sync.Mutex
	state State
}

// NewEngine creates an engine with an injected logger. The logger may be nil
// for silent operation.
func NewEngine(opts Options, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	opts.applyDefaults()

	e := &Engine{
		log:    log,
		opts:   opts,
		events: make(chan Event, opts.EventBuffer),
		sem:    make(chan struct{}, 1),
		state:  StateIdle,
	}
	e.cache = NewCache(opts.CacheTTL, log, func(dev Device) {
		e.emit(Event{Kind: EventExpired, Device: dev, Method: "cache"})
	})
	return e
}

// Events returns the subscription channel carrying discovered/updated/
// expired notifications. Events are dropped, never blocked on, when the
// subscriber falls behind.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// State returns the current session state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// KnownDevices returns the still-fresh devices from the cross-session cache.
func (e *Engine) KnownDevices() []Device {
	return e.cache.ListValid()
}

// Close releases the engine's cache. The engine must not be scanned after.
func (e *Engine) Close() {
	e.cache.Close()
}

// Scan runs one full discovery session: bring up sockets, query in phases
// while listening on every socket, collect until the plateau detector or the
// session timeout fires, then filter and return the device list sorted by
// address. A concurrent second call fails immediately with
// ErrScanInProgress. Network failure modes surface as an empty result, not
// an error.
func (e *Engine) Scan(ctx context.Context) ([]Device, error) {
	select {
	case e.sem <- struct{}{}:
	default:
		return nil, ErrScanInProgress
	}
	released := false
	release := func() {
		if !released {
			released = true
			<-e.sem
		}
	}
	defer release()

	e.setState(StateInitializing)
	nm := NewNetworkManager(e.log)
	if err := nm.Init(); err != nil {
		e.log.Warn("discovery cannot start", zap.Error(err))
		_ = nm.Close()
		e.setState(StateFiltering)
		e.setState(StateIdle)
		return []Device{}, nil
	}

	sctx, cancel := context.WithTimeout(ctx, e.opts.SessionTimeout)

	devices := newDeviceMap()
	var loops sync.WaitGroup

	// Listening starts before querying so no replies are missed during the
	// sending window.
	e.setState(StateListening)
	listener := NewListener(nm, devices, e.opts.TargetSegment, e.events, e.log)
	listener.Run(sctx, &loops)

	e.setState(StateQuerying)
	sender := NewQuerySender(nm, e.opts.Phases, e.log)
	loops.Add(1)
	go func() {
		defer loops.Done()
		if err := sender.Run(sctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			e.log.Debug("query sender stopped", zap.Error(err))
		}
	}()

	e.setState(StateCollecting)
	e.collect(sctx, func() int { return devices.countExternal(nm.IsLocal) })

	e.setState(StateFiltering)
	results := filterResults(devices.snapshot(), nm)
	for i := range results {
		e.cache.Upsert(&results[i])
	}

	if ctx.Err() != nil {
		e.setState(StateCancelled)
	} else {
		e.setState(StateIdle)
	}

	// Teardown happens off the session's critical path, after the guard is
	// released; its failures are logged, never returned.
	release()
	go e.teardown(cancel, &loops, nm)

	e.log.Info("discovery session finished",
		zap.Int("devices", len(results)),
		zap.Duration("timeout", e.opts.SessionTimeout))
	return results, nil
}

// collect polls the shared device count at a fixed cadence, ending early
// once the minimum collect time has passed and no new external device has
// appeared for PlateauPolls consecutive polls. It never outlives the
// session context.
func (e *Engine) collect(ctx context.Context, countExternal func() int) {
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	start := time.Now()
	lastCount := countExternal()
	stablePolls := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := countExternal()
			if count > lastCount {
				lastCount = count
				stablePolls = 0
				continue
			}
			stablePolls++
			if time.Since(start) >= e.opts.MinCollectTime && stablePolls >= e.opts.PlateauPolls {
				e.log.Debug("device plateau reached, ending collection early",
					zap.Int("devices", count),
					zap.Duration("elapsed", time.Since(start)))
				return
			}
		}
	}
}

// teardown cancels in-flight loops, waits a bounded time for them to exit,
// allows a short grace period for in-flight socket operations, then disposes
// the socket manager.
func (e *Engine) teardown(cancel context.CancelFunc, loops *sync.WaitGroup, nm *NetworkManager) {
	cancel()

	done := make(chan struct{})
	go func() {
		loops.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(teardownWait):
		e.log.Debug("listener loops slow to exit, disposing anyway")
	}

	time.Sleep(teardownGrace)
	if err := nm.Close(); err != nil {
		e.log.Debug("socket teardown failed", zap.Error(err))
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.log.Debug("discovery state", zap.String("state", s.String()))
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.log.Debug("event dropped", zap.String("kind", ev.Kind.String()))
	}
}

// filterResults suppresses self-discovery (devices at one of the host's own
// addresses) and sorts the remainder by address for deterministic output.
func filterResults(devices []Device, nm *NetworkManager) []Device {
	filtered := devices[:0]
	for _, dev := range devices {
		if ip := net.ParseIP(dev.IP); ip != nil && nm.IsLocal(ip) {
			continue
		}
		filtered = append(filtered, dev)
	}
	sortDevices(filtered)
	return filtered
}

// sortDevices orders by numeric IP, with service-keyed entries (no address)
// last, ordered by ID.
func sortDevices(devices []Device) {
	sort.Slice(devices, func(i, j int) bool {
		a := net.ParseIP(devices[i].IP)
		b := net.ParseIP(devices[j].IP)
		switch {
		case a == nil && b == nil:
			return devices[i].ID < devices[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return compareIPs(a, b) < 0
		}
	})
}

func compareIPs(a, b net.IP) int {
	a16 := a.To16()
	b16 := b.To16()
	for i := range a16 {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

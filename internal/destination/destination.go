package destination

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kvrouter/kvrouter/internal/stats"
	"github.com/kvrouter/kvrouter/internal/tko"
)

// State is the connectivity state of a destination as last reported by
// the transport, with StateTko overriding all of them while the shared
// tracker reports the destination knocked out.
type State int

const (
	StateNew State = iota
	StateUp
	StateDown
	StateClosed
	StateTko
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateUp:
		return "up"
	case StateDown:
		return "down"
	case StateClosed:
		return "closed"
	case StateTko:
		return "tko"
	default:
		return "unknown"
	}
}

func stateGauge(s State) stats.Gauge {
	switch s {
	case StateUp:
		return stats.GaugeServersUp
	case StateDown:
		return stats.GaugeServersDown
	case StateClosed:
		return stats.GaugeServersClosed
	default:
		return stats.GaugeServersNew
	}
}

const (
	defaultProbeDelayInitial = 10 * time.Second
	defaultProbeDelayMax     = time.Minute
	defaultLatencyWindowSize = 100
	defaultTimeout           = time.Second
)

// Options tune one destination handle.
type Options struct {
	// ProbeDelayInitial is the first recovery-probe delay after the
	// destination is knocked out.
	ProbeDelayInitial time.Duration
	// ProbeDelayMax caps the exponential backoff.
	ProbeDelayMax time.Duration
	// LatencyWindowSize sets the decay window of the latency average.
	LatencyWindowSize int
	// Timeout is the shortest request/probe timeout handed to the
	// transport. UpdateShortestTimeout can only lower it.
	Timeout time.Duration
	// MaxInflight/MaxPending throttle the connection when > 0.
	MaxInflight int
	MaxPending  int
	// TrackingDisabled turns off all TKO accounting for this handle.
	TrackingDisabled bool
}

func (o Options) withDefaults() Options {
	if o.ProbeDelayInitial <= 0 {
		o.ProbeDelayInitial = defaultProbeDelayInitial
	}
	if o.ProbeDelayMax <= 0 {
		o.ProbeDelayMax = defaultProbeDelayMax
	}
	if o.LatencyWindowSize <= 0 {
		o.LatencyWindowSize = defaultLatencyWindowSize
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	return o
}

// Deps are the collaborators a destination is wired with. Dialer and
// Tracker are required; the rest default to no-ops.
type Deps struct {
	Dialer  Dialer
	Tracker *tko.Tracker
	// TrackerRegistry, when set, is released on Close so the shared
	// tracker's reference count stays balanced.
	TrackerRegistry *tko.Registry
	Actives         ActiveList
	Stats           stats.Sink
	Events          EventSink
	Logger          *slog.Logger
	Clock           clock.Clock
	// Jitter overrides the probe jitter source with a function returning
	// values in [0, 1). Nil uses math/rand; tests inject a fixed source.
	Jitter func() float64
}

// magicDead marks a destroyed handle. Any asynchronous work holding a
// stale token observes it and exits without touching state.
const magicDead uint64 = 0xdeadbeef

var nextMagic atomic.Uint64

// Destination is the per-thread handle for one backend destination. It
// owns its transport connection exclusively and shares a tko.Tracker with
// every other handle targeting the same logical backend. All state is
// guarded by the handle mutex; reply handling and probing transitions
// happen as one atomic step per reply.
type Destination struct {
	key      string
	endpoint string
	pool     string
	opts     Options

	dialer          Dialer
	tracker         *tko.Tracker
	trackerRegistry *tko.Registry
	actives         ActiveList
	sink            stats.Sink
	events          EventSink
	logger          *slog.Logger
	clk             clock.Clock

	mutex       sync.Mutex
	state       State
	conn        Conn
	tearingDown bool

	probing         bool
	probeDelayNext  time.Duration
	probesSent      int
	probeInflight   bool
	probeTimer      *clock.Timer
	probeGeneration uint64
	randFloat       func() float64

	shortestTimeout time.Duration
	avgLatency      *stats.RunningAverage
	results         map[Outcome]uint64

	magic atomic.Uint64
}

// New creates a destination handle. The connection is dialed lazily on
// first send. The handle starts in StateNew and must be released with
// Close when configuration removes the destination.
func New(key, endpoint, pool string, deps Deps, opts Options) *Destination {
	if deps.Dialer == nil {
		panic("destination: Dialer is required")
	}
	if deps.Tracker == nil {
		panic("destination: Tracker is required")
	}
	if deps.Stats == nil {
		deps.Stats = stats.NopSink{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Jitter == nil {
		deps.Jitter = defaultJitterSource()
	}
	opts = opts.withDefaults()

	d := &Destination{
		key:             key,
		endpoint:        endpoint,
		pool:            pool,
		opts:            opts,
		dialer:          deps.Dialer,
		tracker:         deps.Tracker,
		trackerRegistry: deps.TrackerRegistry,
		actives:         deps.Actives,
		sink:            deps.Stats,
		events:          deps.Events,
		logger:          deps.Logger,
		clk:             deps.Clock,
		state:           StateNew,
		randFloat:       deps.Jitter,
		shortestTimeout: opts.Timeout,
		avgLatency:      stats.NewRunningAverage(opts.LatencyWindowSize),
		results:         make(map[Outcome]uint64),
	}
	d.magic.Store(nextMagic.Add(1))
	d.sink.Increment(stateGauge(StateNew))
	return d
}

// Key returns the stable destination key. It also satisfies tko.Owner.
func (d *Destination) Key() string {
	return d.key
}

// Endpoint returns the transport address of this destination.
func (d *Destination) Endpoint() string {
	return d.endpoint
}

// Pool returns the logical pool this destination belongs to.
func (d *Destination) Pool() string {
	return d.pool
}

// MaySend reports whether routing may select this destination. It is
// false exactly while the shared tracker reports the destination TKO.
func (d *Destination) MaySend() bool {
	return !d.tracker.IsTko()
}

// State returns the externally visible state: TKO takes priority over the
// raw connectivity state, which keeps evolving underneath.
func (d *Destination) State() State {
	if d.tracker.IsTko() {
		return StateTko
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.state
}

// Probing reports whether this handle currently owns recovery probing
// for its destination.
func (d *Destination) Probing() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.probing
}

// Send forwards one request through the owned connection, measuring
// latency and feeding the reply back into the health state machine.
func (d *Destination) Send(ctx context.Context, req *Request) Reply {
	d.mutex.Lock()
	d.assertAliveLocked()
	conn := d.connLocked()
	timeout := d.shortestTimeout
	d.mutex.Unlock()

	if conn == nil {
		reply := Reply{Result: OutcomeConnectError}
		d.RecordReply(reply, 0, false)
		return reply
	}

	start := d.clk.Now()
	reply := conn.Send(ctx, req, timeout)
	d.RecordReply(reply, d.clk.Since(start), false)
	return reply
}

// RecordReply is the central decision point, called for every completed
// request on this destination. It updates the latency average and the
// per-outcome counters unconditionally, then runs TKO accounting unless
// the handle is tearing down or tracking is disabled.
func (d *Destination) RecordReply(reply Reply, latency time.Duration, isProbe bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.assertAliveLocked()
	d.recordReplyLocked(reply, latency, isProbe)
}

func (d *Destination) recordReplyLocked(reply Reply, latency time.Duration, isProbe bool) {
	d.handleTkoLocked(reply, isProbe)
	d.results[reply.Result]++
	if latency > 0 {
		d.avgLatency.InsertSample(float64(latency.Microseconds()))
	}
}

func (d *Destination) handleTkoLocked(reply Reply, isProbe bool) {
	if d.tearingDown || d.opts.TrackingDisabled {
		return
	}

	responsible := false
	switch Classify(reply.Result) {
	case ClassHard:
		responsible = d.tracker.RecordHardFailure(d)
		if responsible {
			d.tkoEventLocked(EventMarkHardTko, reply.Result)
		}
	case ClassSoft:
		responsible = d.tracker.RecordSoftFailure(d)
		if responsible {
			d.tkoEventLocked(EventMarkSoftTko, reply.Result)
		}
	case ClassSuccess:
		// While probing, only the probe's own outcome may unmark the
		// destination: outstanding unrelated traffic must not clear TKO.
		if !d.probing || isProbe {
			d.unmarkTkoLocked(reply)
		}
	}
	if responsible {
		d.startProbingLocked()
	}
}

func (d *Destination) unmarkTkoLocked(reply Reply) {
	d.tracker.RecordSuccess(d)
	if d.probing {
		d.tkoEventLocked(EventUnmarkTko, reply.Result)
		d.stopProbingLocked()
	}
}

// onUp is the transport's connectivity-up callback.
func (d *Destination) onUp() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.deadLocked() {
		return
	}
	d.setStateLocked(StateUp)
	d.logger.Info("destination up",
		slog.String("key", d.key),
		slog.String("pool", d.pool))
}

// onDown is the transport's connectivity-down callback. Outside of
// teardown it synthesizes a connect-error reply through the hard-failure
// path so a dropped connection counts against the destination.
func (d *Destination) onDown(reason error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.deadLocked() {
		return
	}
	if d.tearingDown {
		d.setStateLocked(StateClosed)
		d.logger.Info("destination inactive",
			slog.String("key", d.key),
			slog.String("pool", d.pool))
		return
	}
	d.setStateLocked(StateDown)
	d.logger.Warn("destination down",
		slog.String("key", d.key),
		slog.String("pool", d.pool),
		slog.Any("reason", reason))
	d.handleTkoLocked(Reply{Result: OutcomeConnectError}, false)
}

func (d *Destination) setStateLocked(newState State) {
	if d.state == newState {
		return
	}
	d.sink.Decrement(stateGauge(d.state))
	d.sink.Increment(stateGauge(newState))
	d.state = newState
}

func (d *Destination) connLocked() Conn {
	if d.conn != nil {
		return d.conn
	}
	conn, err := d.dialer.Dial(d.endpoint, StatusCallbacks{
		OnUp:   d.onUp,
		OnDown: d.onDown,
	})
	if err != nil {
		d.logger.Error("failed to dial destination",
			slog.String("key", d.key),
			slog.String("endpoint", d.endpoint),
			slog.Any("err", err))
		return nil
	}
	if d.opts.MaxInflight > 0 {
		conn.SetThrottle(d.opts.MaxInflight, d.opts.MaxPending)
	}
	d.conn = conn
	return conn
}

// ResetInactive closes the owned connection of an idle destination. The
// teardown flag suppresses TKO accounting for failures the close itself
// causes; the connection is re-dialed on the next send.
func (d *Destination) ResetInactive() {
	d.mutex.Lock()
	d.assertAliveLocked()
	if d.conn == nil {
		d.mutex.Unlock()
		return
	}
	conn := d.conn
	d.conn = nil
	d.tearingDown = true
	d.mutex.Unlock()

	conn.Close()

	d.mutex.Lock()
	d.tearingDown = false
	d.mutex.Unlock()
}

// UpdateShortestTimeout lowers the request/probe timeout if the given one
// is shorter, propagating it to a live connection.
func (d *Destination) UpdateShortestTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.shortestTimeout == 0 || timeout < d.shortestTimeout {
		d.shortestTimeout = timeout
		if d.conn != nil {
			d.conn.UpdateTimeout(timeout)
		}
	}
}

// PendingCount returns the transport's pending request count, 0 without a
// connection.
func (d *Destination) PendingCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.conn == nil {
		return 0
	}
	return d.conn.PendingCount()
}

// InflightCount returns the transport's inflight request count, 0 without
// a connection.
func (d *Destination) InflightCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.conn == nil {
		return 0
	}
	return d.conn.InflightCount()
}

// Snapshot is a point-in-time view of one destination for observability.
type Snapshot struct {
	Key        string
	Pool       string
	State      State
	AvgLatency time.Duration
	Results    map[Outcome]uint64
	Pending    int
	Inflight   int
	ProbesSent int
}

// Stats returns a snapshot of latency, outcome histogram and queue depths.
func (d *Destination) Stats() Snapshot {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	state := d.state
	if d.tracker.IsTko() {
		state = StateTko
	}

	results := make(map[Outcome]uint64, len(d.results))
	for outcome, n := range d.results {
		results[outcome] = n
	}
	snap := Snapshot{
		Key:        d.key,
		Pool:       d.pool,
		State:      state,
		AvgLatency: time.Duration(d.avgLatency.Value()) * time.Microsecond,
		Results:    results,
		ProbesSent: d.probesSent,
	}
	if d.conn != nil {
		snap.Pending = d.conn.PendingCount()
		snap.Inflight = d.conn.InflightCount()
	}
	return snap
}

// Close destroys the handle: it deregisters from the tracker and the
// registry, stops probing, closes the owned connection immediately and
// tombstones the guard token. Any probe work still suspended in flight
// observes the tombstone and exits harmlessly. Close is idempotent.
func (d *Destination) Close() {
	d.mutex.Lock()
	if d.deadLocked() {
		d.mutex.Unlock()
		return
	}
	d.tearingDown = true
	if d.probing {
		d.tkoEventLocked(EventRemovedWhileTko, OutcomeOK)
	}
	d.stopProbingLocked()
	conn := d.conn
	d.conn = nil
	d.sink.Decrement(stateGauge(d.state))
	d.magic.Store(magicDead)
	d.mutex.Unlock()

	if d.trackerRegistry != nil {
		d.trackerRegistry.Release(d.tracker, d)
	} else {
		d.tracker.RemoveHandle(d)
	}
	if d.actives != nil {
		d.actives.Remove(d)
	}
	if conn != nil {
		conn.Close()
	}
}

func (d *Destination) deadLocked() bool {
	return d.magic.Load() == magicDead
}

// token snapshots the guard token for deferred work; aliveToken checks it
// without keeping the handle alive in any other sense.
func (d *Destination) token() uint64 {
	return d.magic.Load()
}

func (d *Destination) aliveTokenLocked(token uint64) bool {
	return token != magicDead && d.magic.Load() == token
}

func (d *Destination) assertAliveLocked() {
	if d.deadLocked() {
		panic("destination: use after Close: " + d.key)
	}
}

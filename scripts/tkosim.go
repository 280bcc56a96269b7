// Tkosim simulates a destination failing and recovering to show the
// health-tracking lifecycle end to end: consecutive failures knock the
// destination out, the responsible handle starts probing with exponential
// backoff, and a successful probe brings it back.
//
// Usage:
//
//	go run tkosim.go
//	go run tkosim.go -destinations 4 -hard-threshold 3 -probe-initial 200ms -probe-max 2s
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kvrouter/kvrouter/internal/destination"
	"github.com/kvrouter/kvrouter/internal/registry"
	"github.com/kvrouter/kvrouter/internal/stats"
	"github.com/kvrouter/kvrouter/internal/tko"
	"github.com/kvrouter/kvrouter/pkg/logger"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
)

// simConn is an in-memory transport whose health is flipped from the
// outside. While down every request fails with a connect error.
type simConn struct {
	down *atomic.Bool
}

func (c *simConn) Send(_ context.Context, _ *destination.Request, _ time.Duration) destination.Reply {
	// a few hundred microseconds of simulated service time
	time.Sleep(time.Duration(100+rand.IntN(400)) * time.Microsecond)
	if c.down.Load() {
		return destination.Reply{Result: destination.OutcomeConnectError}
	}
	return destination.Reply{Result: destination.OutcomeOK}
}

func (c *simConn) Close() error                { return nil }
func (c *simConn) SetThrottle(int, int)        {}
func (c *simConn) UpdateTimeout(time.Duration) {}
func (c *simConn) PendingCount() int           { return 0 }
func (c *simConn) InflightCount() int          { return 0 }

type simDialer struct {
	down *atomic.Bool
}

func (d *simDialer) Dial(string, destination.StatusCallbacks) (destination.Conn, error) {
	return &simConn{down: d.down}, nil
}

// consoleEvents prints every TKO transition as it happens.
type consoleEvents struct {
	mu sync.Mutex
}

func (e *consoleEvents) RecordTkoEvent(event destination.TkoEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	color := colorYellow
	switch event.Kind {
	case destination.EventUnmarkTko:
		color = colorGreen
	case destination.EventMarkHardTko, destination.EventMarkSoftTko:
		color = colorRed
	}
	fmt.Printf("%s  [event] %s %s (probes sent: %d, global hard TKOs: %d)%s\n",
		color, event.Key, event.Kind, event.ProbesSent, event.GlobalHardTkos, colorReset)
}

func main() {
	var (
		numDestinations = flag.Int("destinations", 2, "Number of simulated destinations")
		hardThreshold   = flag.Int("hard-threshold", 3, "Consecutive hard failures before TKO")
		softThreshold   = flag.Int("soft-threshold", 10, "Consecutive soft failures before TKO")
		probeInitial    = flag.Duration("probe-initial", 100*time.Millisecond, "Initial probe delay")
		probeMax        = flag.Duration("probe-max", time.Second, "Maximum probe delay")
		outageLength    = flag.Duration("outage", 2*time.Second, "How long the failing destination stays down")
		logLevel        = flag.String("log-level", "warn", "Log level for destination internals")
	)
	flag.Parse()

	log := logger.New(*logLevel, false, "dev")
	counts := stats.NewCounts()
	trackers := tko.NewRegistry(*hardThreshold, *softThreshold)
	destinations := registry.NewMap()
	events := &consoleEvents{}

	fmt.Println(colorCyan + "╔════════════════════════════════════════════════════════════════╗" + colorReset)
	fmt.Println(colorCyan + "║         DESTINATION HEALTH / TKO SIMULATION                    ║" + colorReset)
	fmt.Println(colorCyan + "╚════════════════════════════════════════════════════════════════╝" + colorReset)
	fmt.Println()

	opts := destination.Options{
		ProbeDelayInitial: *probeInitial,
		ProbeDelayMax:     *probeMax,
	}

	victimDown := &atomic.Bool{}
	for i := 0; i < *numDestinations; i++ {
		key := fmt.Sprintf("pool-a.shard-%d", i)
		down := &atomic.Bool{}
		if i == 0 {
			down = victimDown
		}
		dialer := &simDialer{down: down}
		destinations.GetOrCreate(key, func() *destination.Destination {
			return destination.New(key, fmt.Sprintf("10.0.0.%d:11211", i+1), "pool-a", destination.Deps{
				Dialer:          dialer,
				Tracker:         trackers.Acquire(key),
				TrackerRegistry: trackers,
				Actives:         destinations,
				Stats:           counts,
				Events:          events,
				Logger:          log,
			}, opts)
		})
	}
	victim := destinations.Get("pool-a.shard-0")

	// PHASE 1: all destinations healthy
	fmt.Println(colorBlue + "━━━ PHASE 1: Normal Operation ━━━" + colorReset)
	sendRound(destinations, 20)
	printStates(destinations)
	if victim.MaySend() {
		fmt.Println(colorGreen + "  ✓ All destinations healthy" + colorReset)
	} else {
		fmt.Println(colorRed + "  ✗ Victim unexpectedly knocked out" + colorReset)
		os.Exit(1)
	}
	fmt.Println()

	// PHASE 2: outage on one destination
	fmt.Println(colorBlue + "━━━ PHASE 2: Outage ━━━" + colorReset)
	fmt.Printf("Failing %s for %v...\n", victim.Key(), *outageLength)
	victimDown.Store(true)
	sendRound(destinations, 20)
	printStates(destinations)

	if victim.MaySend() {
		fmt.Println(colorRed + "  ✗ Victim still eligible after consecutive failures" + colorReset)
		os.Exit(1)
	}
	hard, soft := trackers.GlobalCounts()
	fmt.Printf(colorYellow+"  ⚠ %s knocked out (global: %d hard, %d soft)\n"+colorReset,
		victim.Key(), hard, soft)
	fmt.Println()

	// PHASE 3: probing brings it back
	fmt.Println(colorBlue + "━━━ PHASE 3: Recovery via Probing ━━━" + colorReset)
	fmt.Println("Waiting for the outage to end while probes back off...")
	time.Sleep(*outageLength)
	victimDown.Store(false)

	deadline := time.Now().Add(*probeMax * 4)
	for !victim.MaySend() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	printStates(destinations)
	if !victim.MaySend() {
		fmt.Println(colorRed + "  ✗ Victim never recovered, check probe settings" + colorReset)
		os.Exit(1)
	}
	fmt.Println(colorGreen + "  ✓ Probe succeeded, destination back in rotation" + colorReset)
	fmt.Println()

	// PHASE 4: final stats
	fmt.Println(colorBlue + "━━━ PHASE 4: Stats ━━━" + colorReset)
	for _, d := range destinations.Snapshot() {
		snap := d.Stats()
		fmt.Printf("  %s state=%s avg_latency=%v probes_sent=%d\n",
			snap.Key, snap.State, snap.AvgLatency, snap.ProbesSent)
		for outcome, n := range snap.Results {
			fmt.Printf("    %-16s %d\n", outcome, n)
		}
	}
	fmt.Printf("  gauges: new=%d up=%d down=%d closed=%d\n",
		counts.Get(stats.GaugeServersNew), counts.Get(stats.GaugeServersUp),
		counts.Get(stats.GaugeServersDown), counts.Get(stats.GaugeServersClosed))

	destinations.CloseAll()
	fmt.Println()
	fmt.Println(colorGreen + "Simulation complete." + colorReset)
}

func sendRound(m *registry.Map, requests int) {
	for _, d := range m.Snapshot() {
		for i := 0; i < requests; i++ {
			key := fmt.Sprintf("key-%d", i)
			d.Send(context.Background(), &destination.Request{Op: destination.OpGet, Key: []byte(key)})
		}
	}
}

func printStates(m *registry.Map) {
	fmt.Println("\n  Destination states:")
	for _, d := range m.Snapshot() {
		state := d.State()
		color := colorGreen
		if state == destination.StateTko || state == destination.StateDown {
			color = colorRed
		}
		fmt.Printf("    %s%s → %s%s\n", color, d.Key(), state, colorReset)
	}
}

package destination

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	probeExponentialFactor = 1.5
	probeJitterMin         = 0.05
	probeJitterMax         = 0.5
)

func defaultJitterSource() func() float64 {
	return rand.Float64
}

// startProbingLocked makes this handle the probing owner: it resets the
// backoff to the configured initial delay and schedules the first probe.
// Starting while already probing is a lifecycle bug and fails loudly.
func (d *Destination) startProbingLocked() {
	if d.probing {
		panic("destination: probing already in progress for " + d.key)
	}
	d.probing = true
	d.probeDelayNext = d.opts.ProbeDelayInitial
	d.scheduleNextProbeLocked()
}

// stopProbingLocked cancels the pending timer and resets probe
// bookkeeping. Idempotent; an outstanding probe keeps running and clears
// itself through its own token check.
func (d *Destination) stopProbingLocked() {
	d.probesSent = 0
	d.probing = false
	if d.probeTimer != nil {
		d.probeTimer.Stop()
		d.probeTimer = nil
	}
}

// scheduleNextProbeLocked arms the single pending probe timer. The fire
// delay is the current backoff value with jitter from
// [probeJitterMin, probeJitterMax) applied, spreading probes across
// destinations that failed in a correlated burst; the backoff then
// advances for the following tick.
func (d *Destination) scheduleNextProbeLocked() {
	delay := d.probeDelayNext
	if d.probeDelayNext < 2*time.Millisecond {
		// 1ms * 1.5 truncates back to 1ms, so advance to 2ms first
		d.probeDelayNext = 2 * time.Millisecond
	} else {
		d.probeDelayNext = time.Duration(float64(d.probeDelayNext) * probeExponentialFactor)
	}
	if d.probeDelayNext > d.opts.ProbeDelayMax {
		d.probeDelayNext = d.opts.ProbeDelayMax
	}

	jitter := d.randFloat()*(probeJitterMax-probeJitterMin) + probeJitterMin
	fireIn := time.Duration(float64(delay) * (1.0 + jitter))

	if d.probeTimer != nil {
		panic("destination: probe timer already pending for " + d.key)
	}
	d.probeGeneration++
	gen := d.probeGeneration
	d.probeTimer = d.clk.AfterFunc(fireIn, func() {
		d.onProbeTimer(gen)
	})
}

// onProbeTimer fires one scheduling tick. The generation number is
// captured when the timer is armed; a callback carrying a stale
// generation belongs to an earlier probing session and is ignored. If no
// probe is currently outstanding a new one is dispatched; either way the
// next tick is scheduled, so the backoff keeps advancing even while a
// slow probe is still in flight.
func (d *Destination) onProbeTimer(gen uint64) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.deadLocked() || !d.probing || gen != d.probeGeneration {
		return
	}
	d.probeTimer = nil
	if !d.probeInflight {
		d.probeInflight = true
		d.probesSent++
		go d.sendProbe(d.token())
	}
	d.scheduleNextProbeLocked()
}

// sendProbe dispatches one diagnostic request asynchronously. The guard
// token is re-checked after every suspension point: if the handle was
// closed while the probe was in flight the task exits without touching
// freed state.
func (d *Destination) sendProbe(token uint64) {
	d.mutex.Lock()
	if !d.aliveTokenLocked(token) {
		d.mutex.Unlock()
		return
	}
	conn := d.connLocked()
	timeout := d.shortestTimeout
	d.mutex.Unlock()

	// Keep the destination visible/eligible in the registry while it is
	// only carrying probe traffic.
	if d.actives != nil {
		d.actives.MarkActive(d)
	}

	reply := Reply{Result: OutcomeConnectError}
	var latency time.Duration
	if conn != nil {
		start := d.clk.Now()
		reply = conn.Send(context.Background(), &Request{Op: OpVersion}, timeout)
		latency = d.clk.Since(start)
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()
	if !d.aliveTokenLocked(token) {
		return
	}
	d.probeInflight = false
	d.recordReplyLocked(reply, latency, true)
}

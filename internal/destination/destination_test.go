package destination_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kvrouter/kvrouter/internal/destination"
	"github.com/kvrouter/kvrouter/internal/stats"
	"github.com/kvrouter/kvrouter/internal/tko"
)

var _ = Describe("Destination", func() {
	var f *fixture

	BeforeEach(func() {
		f = newFixture(1, 2, destination.Options{}, 0)
	})

	Describe("Send", func() {
		It("should dial lazily and forward the request", func() {
			Expect(f.dialer.dialCount()).To(BeZero())

			reply := f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet, Key: []byte("k")})
			Expect(reply.Result).To(Equal(destination.OutcomeOK))
			Expect(f.dialer.dialCount()).To(Equal(1))
			Expect(f.conn.sendCount()).To(Equal(1))
		})

		It("should reuse the owned connection", func() {
			f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet})
			f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet})
			Expect(f.dialer.dialCount()).To(Equal(1))
		})

		It("should apply the configured throttle at dial time", func() {
			f = newFixture(1, 2, destination.Options{MaxInflight: 8, MaxPending: 16}, 0)
			f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet})
			Expect(f.conn.throttle).To(Equal([2]int{8, 16}))
		})

		It("should treat a dial failure as a connect error", func() {
			f.dialer.err = errors.New("refused")
			f.dialer.conn = nil

			reply := f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet})
			Expect(reply.Result).To(Equal(destination.OutcomeConnectError))
			Expect(f.dest.MaySend()).To(BeFalse())
		})
	})

	Describe("RecordReply", func() {
		It("should count every outcome", func() {
			f.dest.RecordReply(destination.Reply{Result: destination.OutcomeOK}, 0, false)
			f.dest.RecordReply(destination.Reply{Result: destination.OutcomeOK}, 0, false)
			f.dest.RecordReply(destination.Reply{Result: destination.OutcomeNotFound}, 0, false)

			snap := f.dest.Stats()
			Expect(snap.Results).To(HaveKeyWithValue(destination.OutcomeOK, uint64(2)))
			Expect(snap.Results).To(HaveKeyWithValue(destination.OutcomeNotFound, uint64(1)))
		})

		It("should fold latency into the running average", func() {
			f.dest.RecordReply(destination.Reply{Result: destination.OutcomeOK}, 500*time.Microsecond, false)
			Expect(f.dest.Stats().AvgLatency).To(Equal(500 * time.Microsecond))
		})

		It("should update stats even for failures", func() {
			f.dest.RecordReply(destination.Reply{Result: destination.OutcomeTimeout}, time.Millisecond, false)
			snap := f.dest.Stats()
			Expect(snap.Results).To(HaveKeyWithValue(destination.OutcomeTimeout, uint64(1)))
			Expect(snap.AvgLatency).To(Equal(time.Millisecond))
		})
	})

	Describe("TKO transitions", func() {
		It("should knock out on a hard failure at threshold 1", func() {
			f.conn.replyWith(destination.OutcomeConnectError)
			f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet})

			Expect(f.dest.MaySend()).To(BeFalse())
			Expect(f.dest.State()).To(Equal(destination.StateTko))
			Expect(f.dest.Probing()).To(BeTrue())
			Expect(f.events.kinds()).To(Equal([]destination.TkoEventKind{destination.EventMarkHardTko}))
		})

		It("should knock out on repeated soft failures", func() {
			f.conn.replyWith(destination.OutcomeTimeout)
			f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet})
			Expect(f.dest.MaySend()).To(BeTrue())

			f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet})
			Expect(f.dest.MaySend()).To(BeFalse())
			Expect(f.events.kinds()).To(Equal([]destination.TkoEventKind{destination.EventMarkSoftTko}))
		})

		It("should ignore plain successes while probing", func() {
			f.conn.replyWith(destination.OutcomeConnectError)
			f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet})
			Expect(f.dest.Probing()).To(BeTrue())

			f.conn.replyWith(destination.OutcomeOK)
			f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet})

			Expect(f.dest.MaySend()).To(BeFalse())
			Expect(f.dest.Probing()).To(BeTrue())
		})

		It("should unmark on a probe success and stop probing", func() {
			f.conn.replyWith(destination.OutcomeConnectError)
			f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet})
			Expect(f.dest.Probing()).To(BeTrue())

			f.dest.RecordReply(destination.Reply{Result: destination.OutcomeOK}, 0, true)

			Expect(f.dest.MaySend()).To(BeTrue())
			Expect(f.dest.Probing()).To(BeFalse())
			hard, soft := f.tracker.Counts()
			Expect(hard).To(BeZero())
			Expect(soft).To(BeZero())
			Expect(f.events.kinds()).To(Equal([]destination.TkoEventKind{
				destination.EventMarkHardTko,
				destination.EventUnmarkTko,
			}))
		})

		It("should accept a plain success when not probing", func() {
			f = newFixture(2, 2, destination.Options{}, 0)
			f.conn.replyWith(destination.OutcomeConnectError)
			f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet})

			f.conn.replyWith(destination.OutcomeOK)
			f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet})

			hard, _ := f.tracker.Counts()
			Expect(hard).To(BeZero())
		})

		It("should suppress all accounting when tracking is disabled", func() {
			f = newFixture(1, 1, destination.Options{TrackingDisabled: true}, 0)
			f.conn.replyWith(destination.OutcomeConnectError)
			f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet})

			Expect(f.dest.MaySend()).To(BeTrue())
			Expect(f.dest.Probing()).To(BeFalse())
		})
	})

	Describe("connectivity callbacks", func() {
		BeforeEach(func() {
			// dial so the transport callbacks are registered
			f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet})
		})

		It("should transition to Up", func() {
			f.dialer.statusCallbacks().OnUp()
			Expect(f.dest.State()).To(Equal(destination.StateUp))
			Expect(f.counts.Get(stats.GaugeServersUp)).To(Equal(int64(1)))
			Expect(f.counts.Get(stats.GaugeServersNew)).To(BeZero())
		})

		It("should feed a synthesized connect error through the hard path on Down", func() {
			f.dialer.statusCallbacks().OnDown(errors.New("reset by peer"))

			Expect(f.dest.MaySend()).To(BeFalse())
			Expect(f.dest.State()).To(Equal(destination.StateTko))
			Expect(f.counts.Get(stats.GaugeServersDown)).To(Equal(int64(1)))
		})
	})

	Describe("ResetInactive", func() {
		It("should close the connection without TKO accounting and redial on demand", func() {
			f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet})
			callbacks := f.dialer.statusCallbacks()
			f.conn.onClose = func() { callbacks.OnDown(errors.New("closed")) }

			f.dest.ResetInactive()

			Expect(f.conn.isClosed()).To(BeTrue())
			Expect(f.dest.MaySend()).To(BeTrue())
			Expect(f.dest.State()).To(Equal(destination.StateClosed))

			f.dialer.conn = &fakeConn{}
			f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet})
			Expect(f.dialer.dialCount()).To(Equal(2))
		})
	})

	Describe("UpdateShortestTimeout", func() {
		It("should only ever lower the timeout", func() {
			f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet})

			f.dest.UpdateShortestTimeout(2 * time.Second)
			Expect(f.conn.timeouts).To(BeEmpty())

			f.dest.UpdateShortestTimeout(200 * time.Millisecond)
			Expect(f.conn.timeouts).To(Equal([]time.Duration{200 * time.Millisecond}))
		})
	})

	Describe("Stats", func() {
		It("should expose queue depths from the transport", func() {
			f.conn.pending = 4
			f.conn.inflight = 2
			f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet})

			snap := f.dest.Stats()
			Expect(snap.Pending).To(Equal(4))
			Expect(snap.Inflight).To(Equal(2))
			Expect(f.dest.PendingCount()).To(Equal(4))
			Expect(f.dest.InflightCount()).To(Equal(2))
		})
	})

	Describe("Close", func() {
		It("should close the connection and deregister", func() {
			f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet})
			f.dest.Close()

			Expect(f.conn.isClosed()).To(BeTrue())
			Expect(f.actives.removedCount()).To(Equal(1))
		})

		It("should be idempotent", func() {
			f.dest.Close()
			f.dest.Close()
			Expect(f.actives.removedCount()).To(Equal(1))
		})

		It("should emit RemovedWhileTko when closed while probing", func() {
			f.conn.replyWith(destination.OutcomeConnectError)
			f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet})
			Expect(f.dest.Probing()).To(BeTrue())

			f.dest.Close()
			Expect(f.events.kinds()).To(ContainElement(destination.EventRemovedWhileTko))
		})

		It("should release responsibility so another handle can take over", func() {
			f.conn.replyWith(destination.OutcomeConnectError)
			f.dest.Send(context.Background(), &destination.Request{Op: destination.OpGet})
			Expect(f.tracker.IsResponsible(f.dest)).To(BeTrue())

			f.dest.Close()
			Expect(f.tracker.IsResponsible(f.dest)).To(BeFalse())
			Expect(f.tracker.IsTko()).To(BeFalse())
		})

		It("should settle the server-state gauges", func() {
			Expect(f.counts.Get(stats.GaugeServersNew)).To(Equal(int64(1)))
			f.dest.Close()
			Expect(f.counts.Get(stats.GaugeServersNew)).To(BeZero())
		})

		It("should release the tracker registry reference", func() {
			trackers := tko.NewRegistry(1, 2)
			tracker := trackers.Acquire("pool-a.shard-1")
			d := destination.New("pool-a.shard-1", "10.0.0.2:11211", "pool-a", destination.Deps{
				Dialer:          f.dialer,
				Tracker:         tracker,
				TrackerRegistry: trackers,
			}, destination.Options{})

			d.Close()
			Expect(trackers.Len()).To(BeZero())
		})
	})

	Describe("shared tracker across handles", func() {
		It("should let exactly one of two handles become responsible", func() {
			other := destination.New("pool-a.shard-0", "10.0.0.1:11211", "pool-a", destination.Deps{
				Dialer:  &fakeDialer{conn: &fakeConn{}},
				Tracker: f.tracker,
				Clock:   f.clk,
				Jitter:  func() float64 { return 0 },
			}, destination.Options{})

			f.dest.RecordReply(destination.Reply{Result: destination.OutcomeConnectError}, 0, false)
			other.RecordReply(destination.Reply{Result: destination.OutcomeConnectError}, 0, false)

			Expect(f.dest.Probing()).To(BeTrue())
			Expect(other.Probing()).To(BeFalse())
			Expect(f.tracker.IsResponsible(f.dest)).To(BeTrue())
		})
	})
})

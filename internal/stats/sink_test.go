package stats_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kvrouter/kvrouter/internal/stats"
)

var _ = Describe("Counts", func() {
	var counts *stats.Counts

	BeforeEach(func() {
		counts = stats.NewCounts()
	})

	It("should start all gauges at zero", func() {
		snap := counts.Snapshot()
		Expect(snap).To(HaveKeyWithValue("new", int64(0)))
		Expect(snap).To(HaveKeyWithValue("up", int64(0)))
		Expect(snap).To(HaveKeyWithValue("down", int64(0)))
		Expect(snap).To(HaveKeyWithValue("closed", int64(0)))
	})

	It("should track increments and decrements per gauge", func() {
		counts.Increment(stats.GaugeServersNew)
		counts.Increment(stats.GaugeServersNew)
		counts.Decrement(stats.GaugeServersNew)
		counts.Increment(stats.GaugeServersUp)

		Expect(counts.Get(stats.GaugeServersNew)).To(Equal(int64(1)))
		Expect(counts.Get(stats.GaugeServersUp)).To(Equal(int64(1)))
		Expect(counts.Get(stats.GaugeServersDown)).To(BeZero())
	})

	It("should be safe under concurrent updates", func() {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				counts.Increment(stats.GaugeServersUp)
			}()
		}
		wg.Wait()
		Expect(counts.Get(stats.GaugeServersUp)).To(Equal(int64(50)))
	})
})

var _ = Describe("PrometheusSink", func() {
	It("should move the labeled gauge", func() {
		reg := prometheus.NewRegistry()
		sink := stats.NewPrometheusSink(reg)

		sink.Increment(stats.GaugeServersUp)
		sink.Increment(stats.GaugeServersUp)
		sink.Decrement(stats.GaugeServersUp)

		families, err := reg.Gather()
		Expect(err).NotTo(HaveOccurred())
		Expect(families).To(HaveLen(1))

		var upValue float64
		for _, metric := range families[0].GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "state" && label.GetValue() == "up" {
					upValue = metric.GetGauge().GetValue()
				}
			}
		}
		Expect(upValue).To(Equal(1.0))
	})
})

var _ = Describe("Gauge", func() {
	It("should render state names", func() {
		Expect(stats.GaugeServersNew.String()).To(Equal("new"))
		Expect(stats.GaugeServersUp.String()).To(Equal("up"))
		Expect(stats.GaugeServersDown.String()).To(Equal("down"))
		Expect(stats.GaugeServersClosed.String()).To(Equal("closed"))
	})
})

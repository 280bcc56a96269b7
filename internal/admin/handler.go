package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kvrouter/kvrouter/internal/registry"
	"github.com/kvrouter/kvrouter/internal/tko"
)

type destinationStatus struct {
	Key          string            `json:"key"`
	Pool         string            `json:"pool"`
	State        string            `json:"state"`
	AvgLatencyUs int64             `json:"avg_latency_us"`
	ProbesSent   int               `json:"probes_sent"`
	Pending      int               `json:"pending"`
	Inflight     int               `json:"inflight"`
	Results      map[string]uint64 `json:"results"`
}

type tkoStatus struct {
	GlobalHard int64           `json:"global_hard"`
	GlobalSoft int64           `json:"global_soft"`
	Trackers   map[string]bool `json:"trackers"`
}

type statusReport struct {
	Uptime       time.Duration       `json:"uptime_ns"`
	Destinations []destinationStatus `json:"destinations"`
	Tko          tkoStatus           `json:"tko"`
}

func destinationsHandler(destinations *registry.Map, trackers *tko.Registry) http.HandlerFunc {
	startTime := time.Now()

	return func(w http.ResponseWriter, r *http.Request) {
		report := statusReport{
			Uptime:       time.Since(startTime),
			Destinations: make([]destinationStatus, 0, destinations.Len()),
		}

		for _, d := range destinations.Snapshot() {
			snap := d.Stats()
			status := destinationStatus{
				Key:          snap.Key,
				Pool:         snap.Pool,
				State:        snap.State.String(),
				AvgLatencyUs: snap.AvgLatency.Microseconds(),
				ProbesSent:   snap.ProbesSent,
				Pending:      snap.Pending,
				Inflight:     snap.Inflight,
				Results:      make(map[string]uint64, len(snap.Results)),
			}
			for outcome, n := range snap.Results {
				status.Results[outcome.String()] = n
			}
			report.Destinations = append(report.Destinations, status)
		}

		hard, soft := trackers.GlobalCounts()
		report.Tko = tkoStatus{
			GlobalHard: hard,
			GlobalSoft: soft,
			Trackers:   trackers.Stats(),
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

package metrics

import (
	"math"
	"sort"
	"time"

	"serverwatch/internal/models"
)

// TargetUptime summarises reachability of a monitored target.
type TargetUptime struct {
	Name          string  `json:"name"`
	UptimePercent float64 `json:"uptime_percent"`
	TotalChecks   int     `json:"total_checks"`
	Passing       int     `json:"passing"`
	Failing       int     `json:"failing"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	LastOK        bool    `json:"last_ok"`
	LastUpdated   string  `json:"last_updated,omitempty"`
}

// ComputeUptime aggregates uptime statistics per target from archived samples.
func ComputeUptime(samples []models.Sample) []TargetUptime {
	type acc struct {
		name     string
		passing  int
		failing  int
		latency  int64
		lastOK   bool
		lastTime time.Time
	}
	state := make(map[string]*acc)
	for _, s := range samples {
		key := models.NameKey(s.Target)
		target := state[key]
		if target == nil {
			target = &acc{}
			state[key] = target
		}
		if s.OK {
			target.passing++
			target.latency += s.LatencyMs
		} else {
			target.failing++
		}
		if !s.CheckedAt.Before(target.lastTime) {
			target.name = s.Target
			target.lastOK = s.OK
			target.lastTime = s.CheckedAt
		}
	}
	if len(state) == 0 {
		return nil
	}

	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make([]TargetUptime, 0, len(keys))
	for _, key := range keys {
		data := state[key]
		total := data.passing + data.failing
		uptime := 0.0
		if total > 0 {
			uptime = float64(data.passing) / float64(total) * 100
		}
		avg := 0.0
		if data.passing > 0 {
			avg = float64(data.latency) / float64(data.passing)
		}

		result := TargetUptime{
			Name:          data.name,
			UptimePercent: round2(uptime),
			TotalChecks:   total,
			Passing:       data.passing,
			Failing:       data.failing,
			AvgLatencyMs:  round2(avg),
			LastOK:        data.lastOK,
		}
		if !data.lastTime.IsZero() {
			result.LastUpdated = data.lastTime.UTC().Format(time.RFC3339)
		}
		results = append(results, result)
	}
	return results
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

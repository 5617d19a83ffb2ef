package history

import (
	"sort"
	"strings"
	"time"

	"serverwatch/internal/models"
)

const (
	// DefaultTimelinePoints controls how many dots we generate per target.
	DefaultTimelinePoints = 80
	maxDetailsPerPoint    = 4
)

// BuildTimelines reduces archived samples into compact per-target timelines
// covering [start, end). Targets are ordered by name.
func BuildTimelines(samples []models.Sample, start, end time.Time, points int) []models.TargetTimeline {
	if points <= 0 {
		points = DefaultTimelinePoints
	}
	if !end.After(start) {
		end = start.Add(time.Minute)
	}

	nameMap := make(map[string]string)
	historyMap := make(map[string][]models.Sample)
	for _, s := range samples {
		key := models.NameKey(s.Target)
		if key == "" || s.CheckedAt.IsZero() {
			continue
		}
		if _, ok := nameMap[key]; !ok {
			nameMap[key] = s.Target
		}
		historyMap[key] = append(historyMap[key], s)
	}
	if len(nameMap) == 0 {
		return nil
	}

	keys := make([]string, 0, len(nameMap))
	for key := range nameMap {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]models.TargetTimeline, 0, len(keys))
	for _, key := range keys {
		result = append(result, models.TargetTimeline{
			Name:     nameMap[key],
			Timeline: buildTimeline(historyMap[key], start, end, points),
		})
	}
	return result
}

func buildTimeline(samples []models.Sample, start, end time.Time, points int) []models.TimelinePoint {
	output := make([]models.TimelinePoint, 0, points)
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].CheckedAt.Before(samples[j].CheckedAt)
	})

	bucketDuration := end.Sub(start) / time.Duration(points)
	if bucketDuration <= 0 {
		bucketDuration = time.Minute
	}

	cursor := 0
	for i := 0; i < points; i++ {
		bucketStart := start.Add(time.Duration(i) * bucketDuration)
		bucketEnd := bucketStart.Add(bucketDuration)
		if i == points-1 {
			bucketEnd = end
		}
		bucket, next := collectBucketSamples(samples, bucketStart, bucketEnd, cursor)
		cursor = next
		class, label, details := evaluateBucket(bucket)
		output = append(output, models.TimelinePoint{
			ClassName: class,
			Label:     label,
			Start:     bucketStart,
			End:       bucketEnd,
			Details:   details,
		})
	}
	return output
}

func collectBucketSamples(samples []models.Sample, start, end time.Time, cursor int) ([]models.Sample, int) {
	total := len(samples)
	if total == 0 || cursor >= total {
		return nil, cursor
	}

	i := cursor
	for i < total && samples[i].CheckedAt.Before(start) {
		i++
	}
	j := i
	for j < total && samples[j].CheckedAt.Before(end) {
		j++
	}
	if i >= j {
		return nil, j
	}
	return samples[i:j], j
}

// evaluateBucket marks a bucket as degraded when its probes disagree.
func evaluateBucket(entries []models.Sample) (className, label string, details []models.TimelineDetail) {
	if len(entries) == 0 {
		return "state-missing", "No data", nil
	}
	var passing, failing int
	for _, entry := range entries {
		if entry.OK {
			passing++
			continue
		}
		failing++
		if len(details) < maxDetailsPerPoint {
			details = append(details, models.TimelineDetail{
				Timestamp: entry.CheckedAt,
				State:     models.StateOffline,
				Error:     strings.TrimSpace(entry.Error),
			})
		}
	}

	switch {
	case failing == 0:
		return "state-success", "Reachable", nil
	case passing == 0:
		return "state-error", "Unreachable", details
	default:
		return "state-warning", "Intermittent", details
	}
}

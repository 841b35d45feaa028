package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/thebtf/liftlog/internal/storage"
	"github.com/thebtf/liftlog/pkg/models"
)

// GroupBy selects the time-bucketing granularity for statistics.
type GroupBy string

const (
	GroupByDay   GroupBy = "day"   // ISO date, 2006-01-02
	GroupByWeek  GroupBy = "week"  // ISO week start (Monday), 2006-01-02
	GroupByMonth GroupBy = "month" // 2006-01
)

// StatsQuery bounds and shapes a statistics computation.
type StatsQuery struct {
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`
	GroupBy  GroupBy    `json:"group_by,omitempty"`
}

// BucketStats aggregates the entries falling into one time bucket.
type BucketStats struct {
	Key             string  `json:"key"`
	Workouts        int     `json:"workouts"`
	TotalVolume     float64 `json:"total_volume"`
	DurationMinutes int     `json:"duration_minutes"`
}

// Statistics is the aggregate view over an owner's history.
type Statistics struct {
	Workouts          int            `json:"workouts"`
	TotalVolume       float64        `json:"total_volume"`
	TotalCalories     float64        `json:"total_calories"`
	DurationMinutes   int            `json:"duration_minutes"`
	AverageRating     float64        `json:"average_rating"`
	ExerciseFrequency map[string]int `json:"exercise_frequency"`
	Buckets           []BucketStats  `json:"buckets,omitempty"`
}

// Statistics computes totals, per-exercise frequency, and an optional
// time-bucketed series over the owner's history.
func (r *Repository) Statistics(ctx context.Context, ownerID string, query StatsQuery) (Statistics, error) {
	entries, err := r.Load(ctx, ownerID, 0)
	if err != nil {
		return Statistics{}, err
	}
	return Aggregate(entries, query)
}

// Aggregate computes statistics over entries. Pure; exposed for reuse
// against already-loaded collections.
func Aggregate(entries []models.HistoryEntry, query StatsQuery) (Statistics, error) {
	switch query.GroupBy {
	case "", GroupByDay, GroupByWeek, GroupByMonth:
	default:
		return Statistics{}, storage.Tagf(storage.KindValidation, "unknown group-by %q", query.GroupBy)
	}

	stats := Statistics{ExerciseFrequency: make(map[string]int)}
	buckets := make(map[string]*BucketStats)
	ratedCount := 0
	ratingSum := 0

	for _, entry := range entries {
		if !withinRange(entry.FinishedAt, query.DateFrom, query.DateTo) {
			continue
		}

		stats.Workouts++
		stats.TotalVolume += entry.TotalVolume
		stats.TotalCalories += entry.TotalCalories
		stats.DurationMinutes += entry.DurationMinutes
		if entry.Rating > 0 {
			ratedCount++
			ratingSum += entry.Rating
		}
		for _, exercise := range entry.Exercises {
			stats.ExerciseFrequency[exercise.Name]++
		}

		if query.GroupBy == "" {
			continue
		}
		key := bucketKey(entry.FinishedAt, query.GroupBy)
		bucket, ok := buckets[key]
		if !ok {
			bucket = &BucketStats{Key: key}
			buckets[key] = bucket
		}
		bucket.Workouts++
		bucket.TotalVolume += entry.TotalVolume
		bucket.DurationMinutes += entry.DurationMinutes
	}

	if ratedCount > 0 {
		stats.AverageRating = float64(ratingSum) / float64(ratedCount)
	}

	if len(buckets) > 0 {
		stats.Buckets = make([]BucketStats, 0, len(buckets))
		for _, bucket := range buckets {
			stats.Buckets = append(stats.Buckets, *bucket)
		}
		sort.Slice(stats.Buckets, func(i, j int) bool {
			return stats.Buckets[i].Key < stats.Buckets[j].Key
		})
	}
	return stats, nil
}

func bucketKey(t time.Time, groupBy GroupBy) string {
	switch groupBy {
	case GroupByDay:
		return t.Format("2006-01-02")
	case GroupByWeek:
		// Monday of the ISO week.
		offset := (int(t.Weekday()) + 6) % 7
		return t.AddDate(0, 0, -offset).Format("2006-01-02")
	case GroupByMonth:
		return t.Format("2006-01")
	}
	return fmt.Sprintf("invalid:%s", groupBy)
}

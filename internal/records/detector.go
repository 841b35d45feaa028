// Package records detects personal records by comparing a session's
// per-exercise aggregates against historical maxima.
package records

import (
	"time"

	"github.com/thebtf/liftlog/pkg/models"
)

// ImprovementThreshold is the minimum relative improvement over the
// historical maximum for a new record. Filters out trivial fluctuations.
const ImprovementThreshold = 1.05

// exerciseAggregates is one exercise's performance in a single session.
type exerciseAggregates struct {
	maxWeight   float64
	totalVolume float64
	maxReps     int
}

// Detect compares session against historical entries and returns new
// personal records. Pure: neither argument is mutated; appending the
// returned records to persistent state is the caller's job.
func Detect(session *models.Session, history []models.HistoryEntry) []models.PersonalRecord {
	achievedAt := session.StartedAt
	if session.FinishedAt != nil {
		achievedAt = *session.FinishedAt
	}

	var found []models.PersonalRecord
	for _, exercise := range session.Exercises {
		current := aggregate(exercise)
		if current.maxWeight == 0 && current.totalVolume == 0 && current.maxReps == 0 {
			continue // nothing completed
		}

		best := historicalBest(exercise.ExerciseID, history)
		found = append(found, compare(exercise, current, best, achievedAt)...)
	}
	return found
}

func aggregate(exercise models.SessionExercise) exerciseAggregates {
	return exerciseAggregates{
		maxWeight:   exercise.MaxCompletedWeight(),
		totalVolume: exercise.Volume(),
		maxReps:     exercise.MaxCompletedReps(),
	}
}

// historicalBest folds every past entry containing the exercise into a
// single set of maxima.
func historicalBest(exerciseID string, history []models.HistoryEntry) exerciseAggregates {
	var best exerciseAggregates
	for _, entry := range history {
		for _, exercise := range entry.Exercises {
			if exercise.ExerciseID != exerciseID {
				continue
			}
			past := aggregate(exercise)
			if past.maxWeight > best.maxWeight {
				best.maxWeight = past.maxWeight
			}
			if past.totalVolume > best.totalVolume {
				best.totalVolume = past.totalVolume
			}
			if past.maxReps > best.maxReps {
				best.maxReps = past.maxReps
			}
		}
	}
	return best
}

func compare(exercise models.SessionExercise, current, best exerciseAggregates, achievedAt time.Time) []models.PersonalRecord {
	var out []models.PersonalRecord

	if record, ok := newRecord(exercise, models.RecordMaxWeight, current.maxWeight, best.maxWeight, achievedAt); ok {
		out = append(out, record)
	}
	if record, ok := newRecord(exercise, models.RecordMaxVolume, current.totalVolume, best.totalVolume, achievedAt); ok {
		out = append(out, record)
	}
	if record, ok := newRecord(exercise, models.RecordMaxReps, float64(current.maxReps), float64(best.maxReps), achievedAt); ok {
		out = append(out, record)
	}
	return out
}

// newRecord applies the threshold. An exercise with no history yields no
// record: without a previous value there is nothing to improve on.
func newRecord(exercise models.SessionExercise, kind models.RecordKind, value, previous float64, achievedAt time.Time) (models.PersonalRecord, bool) {
	if previous <= 0 || value <= previous*ImprovementThreshold {
		return models.PersonalRecord{}, false
	}
	return models.PersonalRecord{
		ExerciseID:            exercise.ExerciseID,
		ExerciseName:          exercise.Name,
		Kind:                  kind,
		Value:                 value,
		PreviousValue:         previous,
		ImprovementPercentage: (value - previous) / previous * 100,
		AchievedAt:            achievedAt,
	}, true
}

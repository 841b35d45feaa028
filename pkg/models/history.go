package models

import (
	"fmt"
	"time"
)

// RecordKind classifies a personal record.
type RecordKind string

const (
	RecordMaxWeight RecordKind = "max_weight"
	RecordMaxVolume RecordKind = "max_volume"
	RecordMaxReps   RecordKind = "max_reps"
)

// PersonalRecord is a statistically significant improvement over a
// historical per-exercise maximum.
type PersonalRecord struct {
	ExerciseID            string     `json:"exercise_id"`
	ExerciseName          string     `json:"exercise_name"`
	Kind                  RecordKind `json:"kind"`
	Value                 float64    `json:"value"`
	PreviousValue         float64    `json:"previous_value"`
	ImprovementPercentage float64    `json:"improvement_percentage"`
	AchievedAt            time.Time  `json:"achieved_at"`
}

// HistoryEntry is a finished session persisted for later retrieval.
// Derived fields are frozen at finish time; mutations go through the
// history repository, which re-validates the merged record.
type HistoryEntry struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	StartedAt            time.Time         `json:"started_at"`
	FinishedAt           time.Time         `json:"finished_at"`
	DurationMinutes      int               `json:"duration_minutes"`
	Exercises            []SessionExercise `json:"exercises"`
	CompletionPercentage int               `json:"completion_percentage"`
	IsCompleted          bool              `json:"is_completed"`
	TotalVolume          float64           `json:"total_volume"`
	TotalCalories        float64           `json:"total_calories"`
	Rating               int               `json:"rating,omitempty"`
	Notes                string            `json:"notes,omitempty"`
	Records              []PersonalRecord  `json:"records,omitempty"`
}

// EntryFromSession freezes a finished session into a history entry.
func EntryFromSession(s *Session) HistoryEntry {
	finishedAt := time.Now()
	if s.FinishedAt != nil {
		finishedAt = *s.FinishedAt
	}
	completion := s.CompletionPercentage()
	return HistoryEntry{
		ID:                   s.ID,
		Name:                 s.Name,
		StartedAt:            s.StartedAt,
		FinishedAt:           finishedAt,
		DurationMinutes:      s.Stats.DurationMinutes,
		Exercises:            s.Exercises,
		CompletionPercentage: completion,
		IsCompleted:          completion == 100,
		TotalVolume:          s.Stats.Volume,
		TotalCalories:        s.Stats.Calories,
		Rating:               s.Rating,
		Notes:                s.Notes,
	}
}

// Validate checks structural integrity of a history entry.
func (h *HistoryEntry) Validate() error {
	if h.ID == "" {
		return fmt.Errorf("history entry: missing id")
	}
	if h.Name == "" {
		return fmt.Errorf("history entry %s: missing name", h.ID)
	}
	if h.FinishedAt.IsZero() {
		return fmt.Errorf("history entry %s: missing finish time", h.ID)
	}
	if h.CompletionPercentage < 0 || h.CompletionPercentage > 100 {
		return fmt.Errorf("history entry %s: completion %d out of range", h.ID, h.CompletionPercentage)
	}
	if h.DurationMinutes < 0 {
		return fmt.Errorf("history entry %s: negative duration", h.ID)
	}
	if h.TotalVolume < 0 {
		return fmt.Errorf("history entry %s: negative volume", h.ID)
	}
	if h.Rating < 0 || h.Rating > 5 {
		return fmt.Errorf("history entry %s: rating %d out of range", h.ID, h.Rating)
	}
	for i, e := range h.Exercises {
		if err := validateExercise(e, i); err != nil {
			return fmt.Errorf("history entry %s: %w", h.ID, err)
		}
	}
	return nil
}

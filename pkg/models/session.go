// Package models contains domain models for liftlog.
package models

import (
	"fmt"
	"math"
	"time"
)

// SessionStatus represents the lifecycle state of a workout session.
type SessionStatus string

const (
	SessionNotStarted SessionStatus = "not_started"
	SessionActive     SessionStatus = "active"
	SessionPaused     SessionStatus = "paused"
	SessionFinished   SessionStatus = "finished"
	SessionCancelled  SessionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionFinished || s == SessionCancelled
}

// SetStatus represents the state of a single set within an exercise.
type SetStatus string

const (
	SetPending   SetStatus = "pending"
	SetCompleted SetStatus = "completed"
	SetSkipped   SetStatus = "skipped"
)

// ExerciseKind classifies an exercise for rest-duration defaults.
type ExerciseKind string

const (
	KindStrength     ExerciseKind = "strength"
	KindPowerlifting ExerciseKind = "powerlifting"
	KindCardio       ExerciseKind = "cardio"
	KindEndurance    ExerciseKind = "endurance"
	KindCircuit      ExerciseKind = "circuit"
)

// SessionSet is one planned (and possibly performed) set.
// ActualReps/ActualWeight record what was really lifted when it differs
// from the plan; the Effective* accessors fall back to the planned values.
type SessionSet struct {
	ID           string     `json:"id"`
	Reps         int        `json:"reps"`
	Weight       float64    `json:"weight"`
	Status       SetStatus  `json:"status"`
	ActualReps   *int       `json:"actual_reps,omitempty"`
	ActualWeight *float64   `json:"actual_weight,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// EffectiveReps returns the performed rep count, falling back to the plan.
func (s SessionSet) EffectiveReps() int {
	if s.ActualReps != nil {
		return *s.ActualReps
	}
	return s.Reps
}

// EffectiveWeight returns the performed weight, falling back to the plan.
func (s SessionSet) EffectiveWeight() float64 {
	if s.ActualWeight != nil {
		return *s.ActualWeight
	}
	return s.Weight
}

// Volume returns the set's volume contribution. Only completed sets count.
func (s SessionSet) Volume() float64 {
	if s.Status != SetCompleted {
		return 0
	}
	return s.EffectiveWeight() * float64(s.EffectiveReps())
}

// SessionExercise is one exercise slot in a session, holding its ordered sets.
// Order must equal the exercise's position in the session after any reorder.
type SessionExercise struct {
	ID           string       `json:"id"`
	ExerciseID   string       `json:"exercise_id"`
	Name         string       `json:"name"`
	Kind         ExerciseKind `json:"kind,omitempty"`
	MuscleGroups []string     `json:"muscle_groups,omitempty"`
	Sets         []SessionSet `json:"sets"`
	Notes        string       `json:"notes,omitempty"`
	Order        int          `json:"order"`
}

// CompletedSets returns the number of sets marked completed.
func (e SessionExercise) CompletedSets() int {
	n := 0
	for _, set := range e.Sets {
		if set.Status == SetCompleted {
			n++
		}
	}
	return n
}

// Volume returns the summed volume of the exercise's completed sets.
func (e SessionExercise) Volume() float64 {
	var v float64
	for _, set := range e.Sets {
		v += set.Volume()
	}
	return v
}

// MaxCompletedWeight returns the heaviest completed set weight, 0 if none.
func (e SessionExercise) MaxCompletedWeight() float64 {
	var max float64
	for _, set := range e.Sets {
		if set.Status == SetCompleted && set.EffectiveWeight() > max {
			max = set.EffectiveWeight()
		}
	}
	return max
}

// MaxCompletedReps returns the highest completed rep count, 0 if none.
func (e SessionExercise) MaxCompletedReps() int {
	max := 0
	for _, set := range e.Sets {
		if set.Status == SetCompleted && set.EffectiveReps() > max {
			max = set.EffectiveReps()
		}
	}
	return max
}

// Stats is the derived snapshot of a session's progress.
type Stats struct {
	CompletedSets   int     `json:"completed_sets"`
	TotalSets       int     `json:"total_sets"`
	Volume          float64 `json:"volume"`
	Calories        float64 `json:"calories"`
	DurationMinutes int     `json:"duration_minutes"`
}

// Session is an in-progress workout being actively tracked.
type Session struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	Exercises            []SessionExercise `json:"exercises"`
	Status               SessionStatus     `json:"status"`
	StartedAt            time.Time         `json:"started_at"`
	PausedAt             *time.Time        `json:"paused_at,omitempty"`
	ResumedAt            *time.Time        `json:"resumed_at,omitempty"`
	FinishedAt           *time.Time        `json:"finished_at,omitempty"`
	CurrentExerciseIndex int               `json:"current_exercise_index"`
	CurrentSetIndex      int               `json:"current_set_index"`
	Stats                Stats             `json:"stats"`
	SourcePlanID         string            `json:"source_plan_id,omitempty"`
	Notes                string            `json:"notes,omitempty"`
	Rating               int               `json:"rating,omitempty"`
}

// TotalSets counts planned sets across all exercises.
func (s *Session) TotalSets() int {
	n := 0
	for _, e := range s.Exercises {
		n += len(e.Sets)
	}
	return n
}

// CompletedSets counts completed sets across all exercises.
func (s *Session) CompletedSets() int {
	n := 0
	for _, e := range s.Exercises {
		n += e.CompletedSets()
	}
	return n
}

// Volume sums completed-set volume across all exercises.
func (s *Session) Volume() float64 {
	var v float64
	for _, e := range s.Exercises {
		v += e.Volume()
	}
	return v
}

// Recalculate re-derives the stats snapshot from the authoritative per-set
// scan. Duration is left untouched; the controller owns elapsed time.
func (s *Session) Recalculate() {
	s.Stats.TotalSets = s.TotalSets()
	s.Stats.CompletedSets = s.CompletedSets()
	s.Stats.Volume = s.Volume()
	s.Stats.Calories = EstimateCalories(s.Stats.Volume, s.Stats.DurationMinutes)
}

// CompletionPercentage returns completed/total sets as a rounded percentage.
func (s *Session) CompletionPercentage() int {
	total := s.TotalSets()
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(s.CompletedSets()) / float64(total) * 100))
}

// EstimateCalories approximates energy burned from volume and duration.
// This is a rough estimate, not a physiological model.
func EstimateCalories(volume float64, durationMinutes int) float64 {
	return float64(durationMinutes)*6 + volume*0.02
}

// Validate checks structural integrity of a session.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session: missing id")
	}
	if s.Name == "" {
		return fmt.Errorf("session %s: missing name", s.ID)
	}
	switch s.Status {
	case SessionNotStarted, SessionActive, SessionPaused, SessionFinished, SessionCancelled:
	default:
		return fmt.Errorf("session %s: invalid status %q", s.ID, s.Status)
	}
	if len(s.Exercises) == 0 {
		if s.CurrentExerciseIndex != 0 {
			return fmt.Errorf("session %s: exercise index %d with no exercises", s.ID, s.CurrentExerciseIndex)
		}
	} else if s.CurrentExerciseIndex < 0 || s.CurrentExerciseIndex >= len(s.Exercises) {
		return fmt.Errorf("session %s: exercise index %d out of range", s.ID, s.CurrentExerciseIndex)
	}
	for i, e := range s.Exercises {
		if err := validateExercise(e, i); err != nil {
			return fmt.Errorf("session %s: %w", s.ID, err)
		}
	}
	if s.Stats.CompletedSets > s.Stats.TotalSets {
		return fmt.Errorf("session %s: completed sets %d exceed total %d",
			s.ID, s.Stats.CompletedSets, s.Stats.TotalSets)
	}
	return nil
}

func validateExercise(e SessionExercise, position int) error {
	if e.ID == "" {
		return fmt.Errorf("exercise at %d: missing id", position)
	}
	if e.Name == "" {
		return fmt.Errorf("exercise %s: missing name", e.ID)
	}
	if e.Order != position {
		return fmt.Errorf("exercise %s: order %d does not match position %d", e.ID, e.Order, position)
	}
	for _, set := range e.Sets {
		if set.ID == "" {
			return fmt.Errorf("exercise %s: set with missing id", e.ID)
		}
		switch set.Status {
		case SetPending, SetCompleted, SetSkipped:
		default:
			return fmt.Errorf("exercise %s: set %s has invalid status %q", e.ID, set.ID, set.Status)
		}
		if set.Reps < 0 || set.Weight < 0 {
			return fmt.Errorf("exercise %s: set %s has negative plan values", e.ID, set.ID)
		}
	}
	return nil
}

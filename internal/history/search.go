package history

import (
	"context"
	"strings"
	"time"

	"github.com/thebtf/liftlog/pkg/models"
)

// SearchCriteria narrows a history listing. All fields are optional and
// combine conjunctively.
type SearchCriteria struct {
	Text            string     `json:"text,omitempty"`
	DateFrom        *time.Time `json:"date_from,omitempty"`
	DateTo          *time.Time `json:"date_to,omitempty"`
	Rating          *int       `json:"rating,omitempty"`
	MinDurationMins *int       `json:"min_duration_minutes,omitempty"`
	MaxDurationMins *int       `json:"max_duration_minutes,omitempty"`
	MuscleGroups    []string   `json:"muscle_groups,omitempty"`
}

// Search loads the owner's history and filters it in memory.
func (r *Repository) Search(ctx context.Context, ownerID string, criteria SearchCriteria) ([]models.HistoryEntry, error) {
	entries, err := r.Load(ctx, ownerID, 0)
	if err != nil {
		return nil, err
	}
	return Filter(entries, criteria), nil
}

// Filter applies criteria to entries. Pure and side-effect-free.
func Filter(entries []models.HistoryEntry, criteria SearchCriteria) []models.HistoryEntry {
	var matched []models.HistoryEntry
	for _, entry := range entries {
		if matches(entry, criteria) {
			matched = append(matched, entry)
		}
	}
	return matched
}

func matches(entry models.HistoryEntry, c SearchCriteria) bool {
	if !withinRange(entry.FinishedAt, c.DateFrom, c.DateTo) {
		return false
	}
	if c.Rating != nil && entry.Rating != *c.Rating {
		return false
	}
	if c.MinDurationMins != nil && entry.DurationMinutes < *c.MinDurationMins {
		return false
	}
	if c.MaxDurationMins != nil && entry.DurationMinutes > *c.MaxDurationMins {
		return false
	}
	if c.Text != "" && !matchesText(entry, c.Text) {
		return false
	}
	if len(c.MuscleGroups) > 0 && !matchesMuscleGroups(entry, c.MuscleGroups) {
		return false
	}
	return true
}

// matchesText checks the query against name, notes, and exercise names,
// case-insensitively.
func matchesText(entry models.HistoryEntry, query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(entry.Name), q) {
		return true
	}
	if strings.Contains(strings.ToLower(entry.Notes), q) {
		return true
	}
	for _, exercise := range entry.Exercises {
		if strings.Contains(strings.ToLower(exercise.Name), q) {
			return true
		}
		if strings.Contains(strings.ToLower(exercise.Notes), q) {
			return true
		}
	}
	return false
}

// matchesMuscleGroups requires every requested group to appear in at
// least one exercise.
func matchesMuscleGroups(entry models.HistoryEntry, wanted []string) bool {
	present := make(map[string]bool)
	for _, exercise := range entry.Exercises {
		for _, group := range exercise.MuscleGroups {
			present[strings.ToLower(group)] = true
		}
	}
	for _, group := range wanted {
		if !present[strings.ToLower(group)] {
			return false
		}
	}
	return true
}

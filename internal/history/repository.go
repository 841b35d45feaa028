// Package history provides the repository for finished workout
// sessions: CRUD, search, import/export, and aggregate statistics over
// a single per-owner key in the persistence gateway.
package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/liftlog/internal/storage"
	"github.com/thebtf/liftlog/pkg/models"
)

const (
	// SaveCap bounds organically saved history per owner; the oldest
	// entries are evicted first.
	SaveCap = 100
	// ImportCap is the higher bound applied after a bulk import.
	ImportCap = 500
)

// Key returns the storage key holding an owner's history payload.
func Key(ownerID string) string {
	return "history:" + ownerID
}

// Repository owns the canonical history collection. All mutations go
// through it; callers never splice the persisted array directly.
// Every mutation is a read-modify-write of one owner key, so mutating
// operations serialize on a per-owner lock; reads are single atomic
// key reads and stay lock-free.
type Repository struct {
	gateway *storage.Gateway

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewRepository creates a repository over the given gateway.
func NewRepository(gateway *storage.Gateway) *Repository {
	return &Repository{
		gateway: gateway,
		locks:   make(map[string]*sync.Mutex),
	}
}

// ownerLock returns the mutex serializing mutations of ownerID's key.
func (r *Repository) ownerLock(ownerID string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	mu, ok := r.locks[ownerID]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[ownerID] = mu
	}
	return mu
}

// Load returns the owner's history, newest first. Invalid records are
// dropped, not surfaced. limit <= 0 means no truncation.
func (r *Repository) Load(ctx context.Context, ownerID string, limit int) ([]models.HistoryEntry, error) {
	entries, err := storage.Execute(ctx, r.gateway, "history.load", Key(ownerID),
		func(ctx context.Context) ([]models.HistoryEntry, error) {
			return r.readAll(ctx, ownerID)
		})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Save validates entry and prepends it to the owner's history,
// evicting the oldest entries beyond SaveCap. The write is a single
// atomic key replacement.
func (r *Repository) Save(ctx context.Context, ownerID string, entry models.HistoryEntry) error {
	if err := entry.Validate(); err != nil {
		return &storage.StorageError{
			Op: "history.save", Key: Key(ownerID), Kind: storage.KindValidation, Err: err,
		}
	}

	mu := r.ownerLock(ownerID)
	mu.Lock()
	defer mu.Unlock()

	_, err := storage.Execute(ctx, r.gateway, "history.save", Key(ownerID),
		func(ctx context.Context) (struct{}, error) {
			entries, err := r.readAll(ctx, ownerID)
			if err != nil {
				return struct{}{}, err
			}
			entries = append([]models.HistoryEntry{entry}, entries...)
			if len(entries) > SaveCap {
				entries = entries[:SaveCap]
			}
			return struct{}{}, r.writeAll(ctx, ownerID, entries)
		})
	return err
}

// Delete removes the entry with entryID. Returns false, not an error,
// when the id is absent.
func (r *Repository) Delete(ctx context.Context, ownerID, entryID string) (bool, error) {
	mu := r.ownerLock(ownerID)
	mu.Lock()
	defer mu.Unlock()

	return storage.Execute(ctx, r.gateway, "history.delete", Key(ownerID),
		func(ctx context.Context) (bool, error) {
			entries, err := r.readAll(ctx, ownerID)
			if err != nil {
				return false, err
			}
			kept := entries[:0]
			found := false
			for _, e := range entries {
				if e.ID == entryID {
					found = true
					continue
				}
				kept = append(kept, e)
			}
			if !found {
				return false, nil
			}
			return true, r.writeAll(ctx, ownerID, kept)
		})
}

// EntryPatch carries the updatable fields of a history entry. Nil
// fields are left untouched; the id is never changed.
type EntryPatch struct {
	Name            *string                   `json:"name,omitempty"`
	Notes           *string                   `json:"notes,omitempty"`
	Rating          *int                      `json:"rating,omitempty"`
	DurationMinutes *int                      `json:"duration_minutes,omitempty"`
	Exercises       *[]models.SessionExercise `json:"exercises,omitempty"`
}

// Update merges patch into the entry with entryID and re-validates the
// merged record, rejecting the write if it no longer validates.
// Returns false when the id is absent.
func (r *Repository) Update(ctx context.Context, ownerID, entryID string, patch EntryPatch) (bool, error) {
	mu := r.ownerLock(ownerID)
	mu.Lock()
	defer mu.Unlock()

	return storage.Execute(ctx, r.gateway, "history.update", Key(ownerID),
		func(ctx context.Context) (bool, error) {
			entries, err := r.readAll(ctx, ownerID)
			if err != nil {
				return false, err
			}
			for i := range entries {
				if entries[i].ID != entryID {
					continue
				}
				merged := applyPatch(entries[i], patch)
				if err := merged.Validate(); err != nil {
					return false, storage.Tag(storage.KindValidation, err)
				}
				entries[i] = merged
				return true, r.writeAll(ctx, ownerID, entries)
			}
			return false, nil
		})
}

func applyPatch(entry models.HistoryEntry, patch EntryPatch) models.HistoryEntry {
	if patch.Name != nil {
		entry.Name = *patch.Name
	}
	if patch.Notes != nil {
		entry.Notes = *patch.Notes
	}
	if patch.Rating != nil {
		entry.Rating = *patch.Rating
	}
	if patch.DurationMinutes != nil {
		entry.DurationMinutes = *patch.DurationMinutes
	}
	if patch.Exercises != nil {
		entry.Exercises = *patch.Exercises
		recalculateDerived(&entry)
	}
	return entry
}

// recalculateDerived refreshes the frozen aggregates after the exercise
// list changed under an update.
func recalculateDerived(entry *models.HistoryEntry) {
	totalSets, completedSets := 0, 0
	var volume float64
	for _, e := range entry.Exercises {
		totalSets += len(e.Sets)
		completedSets += e.CompletedSets()
		volume += e.Volume()
	}
	entry.TotalVolume = volume
	entry.TotalCalories = models.EstimateCalories(volume, entry.DurationMinutes)
	if totalSets == 0 {
		entry.CompletionPercentage = 0
	} else {
		entry.CompletionPercentage = int(float64(completedSets)/float64(totalSets)*100 + 0.5)
	}
	entry.IsCompleted = entry.CompletionPercentage == 100
}

// readAll reads and parses the owner's payload. A corrupt payload is
// purged and treated as empty: history degrades to nothing rather than
// wedging every subsequent operation. The purge is logged and counted
// so the data loss is observable.
func (r *Repository) readAll(ctx context.Context, ownerID string) ([]models.HistoryEntry, error) {
	key := Key(ownerID)
	raw, ok, err := r.gateway.Store().Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return nil, nil
	}

	payload, err := r.gateway.Decompress(raw)
	if err != nil {
		return r.purgeCorrupt(ctx, ownerID, err), nil
	}

	var entries []models.HistoryEntry
	if err := json.Unmarshal([]byte(payload), &entries); err != nil {
		return r.purgeCorrupt(ctx, ownerID, err), nil
	}

	entries = storage.CleanAndValidate("history.load", entries,
		func(e models.HistoryEntry) error { return e.Validate() })
	sortByFinish(entries)
	return entries, nil
}

func (r *Repository) purgeCorrupt(ctx context.Context, ownerID string, cause error) []models.HistoryEntry {
	key := Key(ownerID)
	log.Warn().Err(cause).Str("key", key).
		Msg("Purging corrupt history payload, history resets to empty")
	r.gateway.Metrics().RecordCorruptPurge()
	if err := r.gateway.Store().Remove(ctx, key); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to purge corrupt payload")
	}
	return nil
}

func (r *Repository) writeAll(ctx context.Context, ownerID string, entries []models.HistoryEntry) error {
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return storage.Tag(storage.KindValidation, err)
	}
	return r.gateway.Store().Set(ctx, Key(ownerID), r.gateway.CompressIfLarge(string(payload)))
}

func sortByFinish(entries []models.HistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].FinishedAt.After(entries[j].FinishedAt)
	})
}

// withinRange reports whether t falls inside the optional from/to bounds.
func withinRange(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}

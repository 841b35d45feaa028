package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/liftlog/internal/kv"
	"github.com/thebtf/liftlog/internal/storage"
	"github.com/thebtf/liftlog/pkg/models"
)

const testOwner = "guest"

// RepositorySuite exercises history CRUD over an in-memory store.
type RepositorySuite struct {
	suite.Suite
	ctx     context.Context
	store   *kv.MemoryStore
	gateway *storage.Gateway
	repo    *Repository
}

func (s *RepositorySuite) SetupTest() {
	s.ctx = context.Background()
	s.store = kv.NewMemoryStore()
	s.gateway = storage.New(s.store, storage.Config{
		Timeout:       time.Second,
		MaxRetries:    2,
		BaseDelay:     time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		BackoffFactor: 2,
	})
	s.repo = NewRepository(s.gateway)
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositorySuite))
}

func entryAt(id string, finished time.Time) models.HistoryEntry {
	return models.HistoryEntry{
		ID:              id,
		Name:            "Workout " + id,
		StartedAt:       finished.Add(-time.Hour),
		FinishedAt:      finished,
		DurationMinutes: 60,
		TotalVolume:     1000,
		Exercises: []models.SessionExercise{
			{
				ID: id + "-e1", ExerciseID: "bench", Name: "Bench Press", Order: 0,
				Sets: []models.SessionSet{
					{ID: id + "-s1", Reps: 5, Weight: 100, Status: models.SetCompleted},
				},
			},
		},
	}
}

func (s *RepositorySuite) TestSaveAndLoadNewestFirst() {
	older := entryAt("w1", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	newer := entryAt("w2", time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC))

	s.Require().NoError(s.repo.Save(s.ctx, testOwner, older))
	s.Require().NoError(s.repo.Save(s.ctx, testOwner, newer))

	entries, err := s.repo.Load(s.ctx, testOwner, 0)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal("w2", entries[0].ID)
	s.Equal("w1", entries[1].ID)
}

func (s *RepositorySuite) TestLoadLimit() {
	for i := 0; i < 5; i++ {
		e := entryAt(fmt.Sprintf("w%d", i), time.Date(2026, 1, i+1, 10, 0, 0, 0, time.UTC))
		s.Require().NoError(s.repo.Save(s.ctx, testOwner, e))
	}

	entries, err := s.repo.Load(s.ctx, testOwner, 3)
	s.Require().NoError(err)
	s.Len(entries, 3)
	s.Equal("w4", entries[0].ID)
}

func (s *RepositorySuite) TestLoadEmpty() {
	entries, err := s.repo.Load(s.ctx, "nobody", 0)
	s.NoError(err)
	s.Empty(entries)
}

func (s *RepositorySuite) TestSaveInvalidRejectedNonRetryable() {
	bad := entryAt("w1", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	bad.Name = ""

	err := s.repo.Save(s.ctx, testOwner, bad)
	var storageErr *storage.StorageError
	s.Require().ErrorAs(err, &storageErr)
	s.Equal(storage.KindValidation, storageErr.Kind)
	s.False(storageErr.Retryable())

	entries, loadErr := s.repo.Load(s.ctx, testOwner, 0)
	s.NoError(loadErr)
	s.Empty(entries)
}

func (s *RepositorySuite) TestSaveCapEvictsOldest() {
	for i := 0; i <= SaveCap; i++ {
		e := entryAt(fmt.Sprintf("w%03d", i), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i)*time.Hour))
		s.Require().NoError(s.repo.Save(s.ctx, testOwner, e))
	}

	entries, err := s.repo.Load(s.ctx, testOwner, 0)
	s.Require().NoError(err)
	s.Require().Len(entries, SaveCap)

	ids := make(map[string]bool, len(entries))
	for _, e := range entries {
		ids[e.ID] = true
	}
	s.False(ids["w000"], "oldest entry should be evicted")
	s.True(ids["w001"])
	s.True(ids[fmt.Sprintf("w%03d", SaveCap)])
}

func (s *RepositorySuite) TestDeleteMissReturnsFalse() {
	ok, err := s.repo.Delete(s.ctx, testOwner, "ghost")
	s.NoError(err)
	s.False(ok)
}

func (s *RepositorySuite) TestDeleteRemoves() {
	e := entryAt("w1", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	s.Require().NoError(s.repo.Save(s.ctx, testOwner, e))

	ok, err := s.repo.Delete(s.ctx, testOwner, "w1")
	s.NoError(err)
	s.True(ok)

	entries, err := s.repo.Load(s.ctx, testOwner, 0)
	s.NoError(err)
	s.Empty(entries)
}

func (s *RepositorySuite) TestUpdateMergesAndPreservesID() {
	e := entryAt("w1", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	s.Require().NoError(s.repo.Save(s.ctx, testOwner, e))

	name := "Renamed"
	rating := 5
	ok, err := s.repo.Update(s.ctx, testOwner, "w1", EntryPatch{Name: &name, Rating: &rating})
	s.Require().NoError(err)
	s.True(ok)

	entries, err := s.repo.Load(s.ctx, testOwner, 0)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("w1", entries[0].ID)
	s.Equal("Renamed", entries[0].Name)
	s.Equal(5, entries[0].Rating)
	s.Equal(1000.0, entries[0].TotalVolume, "untouched fields survive the merge")
}

func (s *RepositorySuite) TestUpdateInvalidMergeRejected() {
	e := entryAt("w1", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	s.Require().NoError(s.repo.Save(s.ctx, testOwner, e))

	rating := 11
	_, err := s.repo.Update(s.ctx, testOwner, "w1", EntryPatch{Rating: &rating})
	var storageErr *storage.StorageError
	s.Require().ErrorAs(err, &storageErr)
	s.Equal(storage.KindValidation, storageErr.Kind)

	entries, loadErr := s.repo.Load(s.ctx, testOwner, 0)
	s.NoError(loadErr)
	s.Equal(0, entries[0].Rating, "rejected update must not persist")
}

func (s *RepositorySuite) TestUpdateMissReturnsFalse() {
	ok, err := s.repo.Update(s.ctx, testOwner, "ghost", EntryPatch{})
	s.NoError(err)
	s.False(ok)
}

func (s *RepositorySuite) TestUpdateExercisesRecalculatesDerived() {
	e := entryAt("w1", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	s.Require().NoError(s.repo.Save(s.ctx, testOwner, e))

	exercises := []models.SessionExercise{
		{
			ID: "e1", ExerciseID: "squat", Name: "Squat", Order: 0,
			Sets: []models.SessionSet{
				{ID: "s1", Reps: 5, Weight: 140, Status: models.SetCompleted},
				{ID: "s2", Reps: 5, Weight: 140, Status: models.SetPending},
			},
		},
	}
	ok, err := s.repo.Update(s.ctx, testOwner, "w1", EntryPatch{Exercises: &exercises})
	s.Require().NoError(err)
	s.True(ok)

	entries, err := s.repo.Load(s.ctx, testOwner, 0)
	s.Require().NoError(err)
	s.Equal(700.0, entries[0].TotalVolume)
	s.Equal(50, entries[0].CompletionPercentage)
	s.False(entries[0].IsCompleted)
}

func (s *RepositorySuite) TestConcurrentMutationsSerializePerOwner() {
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	doomed := entryAt("doomed", base)
	s.Require().NoError(s.repo.Save(s.ctx, testOwner, doomed))

	// Concurrent saves and a delete of the same owner key must all
	// land; a lost read-modify-write would either drop a save or
	// resurrect the deleted entry.
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("c%02d", i)
		finished := base.Add(time.Duration(i+1) * time.Hour)
		g.Go(func() error {
			return s.repo.Save(s.ctx, testOwner, entryAt(id, finished))
		})
	}
	g.Go(func() error {
		found, err := s.repo.Delete(s.ctx, testOwner, "doomed")
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("deleted entry not found")
		}
		return nil
	})
	s.Require().NoError(g.Wait())

	entries, err := s.repo.Load(s.ctx, testOwner, 0)
	s.Require().NoError(err)
	s.Len(entries, 8)
	for _, e := range entries {
		s.NotEqual("doomed", e.ID)
	}
}

func (s *RepositorySuite) TestCorruptPayloadPurgedAndEmpty() {
	s.Require().NoError(s.store.Set(s.ctx, Key(testOwner), "{{{not json"))

	entries, err := s.repo.Load(s.ctx, testOwner, 0)
	s.NoError(err, "corrupt reads degrade to empty, never error")
	s.Empty(entries)

	_, ok, err := s.store.Get(s.ctx, Key(testOwner))
	s.NoError(err)
	s.False(ok, "corrupt payload should be purged")

	s.Equal(int64(1), s.gateway.Metrics().Snapshot().CorruptPurges)
}

func (s *RepositorySuite) TestLoadDropsInvalidRecords() {
	good := entryAt("w1", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	payload := fmt.Sprintf(
		`[{"id":"broken","name":"","finished_at":"2026-01-02T10:00:00Z"},
		  {"id":"%s","name":"%s","started_at":"%s","finished_at":"%s","duration_minutes":60}]`,
		good.ID, good.Name,
		good.StartedAt.Format(time.RFC3339), good.FinishedAt.Format(time.RFC3339))
	s.Require().NoError(s.store.Set(s.ctx, Key(testOwner), payload))

	entries, err := s.repo.Load(s.ctx, testOwner, 0)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("w1", entries[0].ID)
}

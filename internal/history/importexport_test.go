package history

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/liftlog/internal/kv"
	"github.com/thebtf/liftlog/internal/storage"
	"github.com/thebtf/liftlog/pkg/models"
)

// ImportExportSuite covers bulk import strategies and export formats.
type ImportExportSuite struct {
	suite.Suite
	ctx  context.Context
	repo *Repository
}

func (s *ImportExportSuite) SetupTest() {
	s.ctx = context.Background()
	gateway := storage.New(kv.NewMemoryStore(), storage.Config{
		Timeout:    time.Second,
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
	})
	s.repo = NewRepository(gateway)
}

func TestImportExportSuite(t *testing.T) {
	suite.Run(t, new(ImportExportSuite))
}

func (s *ImportExportSuite) seed(ids ...string) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range ids {
		s.Require().NoError(s.repo.Save(s.ctx, testOwner, entryAt(id, base.Add(time.Duration(i)*time.Hour))))
	}
}

func (s *ImportExportSuite) TestExportImportRoundTrip() {
	s.seed("w1", "w2", "w3")

	exported, err := s.repo.Export(s.ctx, testOwner, ExportJSON)
	s.Require().NoError(err)

	before, err := s.repo.Load(s.ctx, testOwner, 0)
	s.Require().NoError(err)

	report, err := s.repo.Import(s.ctx, testOwner, exported, ImportReplace)
	s.Require().NoError(err)
	s.Equal(3, report.Imported)
	s.Equal(0, report.Skipped)

	after, err := s.repo.Load(s.ctx, testOwner, 0)
	s.Require().NoError(err)
	s.Require().Len(after, len(before))
	for i := range before {
		s.Equal(before[i].ID, after[i].ID)
		s.Equal(before[i].TotalVolume, after[i].TotalVolume)
	}
}

func (s *ImportExportSuite) TestImportMergeImportedWins() {
	s.seed("w1", "w2")

	modified := entryAt("w1", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	modified.Name = "Imported Version"
	payload, err := json.Marshal([]models.HistoryEntry{modified})
	s.Require().NoError(err)

	report, err := s.repo.Import(s.ctx, testOwner, string(payload), ImportMerge)
	s.Require().NoError(err)
	s.Equal(1, report.Imported)

	entries, err := s.repo.Load(s.ctx, testOwner, 0)
	s.Require().NoError(err)
	s.Require().Len(entries, 2, "merge dedupes by id")

	byID := make(map[string]models.HistoryEntry)
	for _, e := range entries {
		byID[e.ID] = e
	}
	s.Equal("Imported Version", byID["w1"].Name)
}

func (s *ImportExportSuite) TestImportAppendConcatenates() {
	s.seed("w1")

	payload, err := json.Marshal([]models.HistoryEntry{entryAt("w2", time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))})
	s.Require().NoError(err)

	_, err = s.repo.Import(s.ctx, testOwner, string(payload), ImportAppend)
	s.Require().NoError(err)

	entries, err := s.repo.Load(s.ctx, testOwner, 0)
	s.Require().NoError(err)
	s.Len(entries, 2)
}

func (s *ImportExportSuite) TestImportAssignsSyntheticIDs() {
	e := entryAt("temp", time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	e.ID = ""
	payload, err := json.Marshal([]models.HistoryEntry{e})
	s.Require().NoError(err)

	report, err := s.repo.Import(s.ctx, testOwner, string(payload), ImportReplace)
	s.Require().NoError(err)
	s.Equal(1, report.Imported)

	entries, err := s.repo.Load(s.ctx, testOwner, 0)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.NotEmpty(entries[0].ID)
}

func (s *ImportExportSuite) TestImportReportsPerRecordFailures() {
	good := entryAt("w1", time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	payload := `[
		{"id":"bad1","name":""},
		` + mustJSON(s.T(), good) + `,
		"not an object"
	]`

	report, err := s.repo.Import(s.ctx, testOwner, payload, ImportReplace)
	s.Require().NoError(err, "per-record failures never abort the import")
	s.Equal(1, report.Imported)
	s.Equal(2, report.Skipped)
	s.Len(report.Errors, 2)
}

func (s *ImportExportSuite) TestImportRejectsNonArrayPayload() {
	_, err := s.repo.Import(s.ctx, testOwner, `{"id":"w1"}`, ImportReplace)
	var storageErr *storage.StorageError
	s.Require().ErrorAs(err, &storageErr)
	s.Equal(storage.KindValidation, storageErr.Kind, "bad client payload is a validation failure, not corrupt stored data")
}

func (s *ImportExportSuite) TestImportRejectsUnknownStrategy() {
	_, err := s.repo.Import(s.ctx, testOwner, `[]`, ImportStrategy("upsert"))
	var storageErr *storage.StorageError
	s.Require().ErrorAs(err, &storageErr)
	s.Equal(storage.KindValidation, storageErr.Kind)
}

func (s *ImportExportSuite) TestImportCapAppliesHigherBound() {
	var entries []models.HistoryEntry
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < ImportCap+10; i++ {
		entries = append(entries, entryAt(idFor(i), base.Add(time.Duration(i)*time.Minute)))
	}
	payload, err := json.Marshal(entries)
	s.Require().NoError(err)

	report, err := s.repo.Import(s.ctx, testOwner, string(payload), ImportReplace)
	s.Require().NoError(err)
	s.Equal(ImportCap, report.Imported, "records evicted by the cap are not reported as imported")

	stored, err := s.repo.Load(s.ctx, testOwner, 0)
	s.Require().NoError(err)
	s.Len(stored, ImportCap)
}

func (s *ImportExportSuite) TestImportReportCountsKeptRecordsOnMerge() {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < SaveCap; i++ {
		s.Require().NoError(s.repo.Save(s.ctx, testOwner, entryAt(idFor(i), base.Add(time.Duration(i)*time.Minute))))
	}

	// Newer than all existing entries, so nothing incoming is evicted.
	var entries []models.HistoryEntry
	for i := 0; i < ImportCap; i++ {
		entries = append(entries, entryAt(fmt.Sprintf("m%04d", i), base.Add(time.Duration(SaveCap+i)*time.Minute)))
	}
	payload, err := json.Marshal(entries)
	s.Require().NoError(err)

	report, err := s.repo.Import(s.ctx, testOwner, string(payload), ImportMerge)
	s.Require().NoError(err)
	s.Equal(ImportCap, report.Imported)

	stored, err := s.repo.Load(s.ctx, testOwner, 0)
	s.Require().NoError(err)
	s.Len(stored, ImportCap)
}

func (s *ImportExportSuite) TestExportCSVEscapesQuotes() {
	e := entryAt("w1", time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	e.Notes = `felt "strong" today`
	s.Require().NoError(s.repo.Save(s.ctx, testOwner, e))

	out, err := s.repo.Export(s.ctx, testOwner, ExportCSV)
	s.Require().NoError(err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	s.Require().Len(lines, 2)
	s.Equal("Date,Name,Duration,Rating,Volume,ExerciseCount,Notes", lines[0])
	s.Contains(lines[1], `"felt ""strong"" today"`)
	s.Contains(lines[1], "1000.00")
}

func (s *ImportExportSuite) TestExportJSONEmptyHistory() {
	out, err := s.repo.Export(s.ctx, testOwner, ExportJSON)
	s.Require().NoError(err)
	s.Equal("[]", strings.TrimSpace(out))
}

func (s *ImportExportSuite) TestExportUnknownFormat() {
	_, err := s.repo.Export(s.ctx, testOwner, ExportFormat("xml"))
	var storageErr *storage.StorageError
	s.Require().ErrorAs(err, &storageErr)
	s.Equal(storage.KindValidation, storageErr.Kind)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func idFor(i int) string {
	return fmt.Sprintf("w%04d", i)
}

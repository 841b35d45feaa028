package history

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/thebtf/liftlog/internal/storage"
	"github.com/thebtf/liftlog/pkg/models"
)

// ImportStrategy controls how imported entries combine with existing
// history.
type ImportStrategy string

const (
	// ImportReplace discards existing history.
	ImportReplace ImportStrategy = "replace"
	// ImportMerge dedupes by id; the imported record wins.
	ImportMerge ImportStrategy = "merge"
	// ImportAppend concatenates imported entries after existing ones.
	ImportAppend ImportStrategy = "append"
)

// ExportFormat selects the export serialization.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// ImportReport summarizes a bulk import. Per-record validation failures
// land in Errors instead of aborting the import.
type ImportReport struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// Import parses raw as a JSON array of history entries and merges them
// into the owner's history per strategy. Records missing an id get a
// synthetic one. Only an unparsable top-level payload or a non-array
// shape fails the whole import.
func (r *Repository) Import(ctx context.Context, ownerID, raw string, strategy ImportStrategy) (ImportReport, error) {
	switch strategy {
	case ImportReplace, ImportMerge, ImportAppend:
	default:
		return ImportReport{}, &storage.StorageError{
			Op: "history.import", Key: Key(ownerID), Kind: storage.KindValidation,
			Err: fmt.Errorf("unknown import strategy %q", strategy),
		}
	}

	var rawRecords []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &rawRecords); err != nil {
		return ImportReport{}, &storage.StorageError{
			Op: "history.import", Key: Key(ownerID), Kind: storage.KindValidation,
			Err: fmt.Errorf("payload is not a JSON array: %w", err),
		}
	}

	report := ImportReport{}
	var incoming []models.HistoryEntry
	for i, record := range rawRecords {
		var entry models.HistoryEntry
		if err := json.Unmarshal(record, &entry); err != nil {
			report.Skipped++
			report.Errors = append(report.Errors, fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if err := entry.Validate(); err != nil {
			report.Skipped++
			report.Errors = append(report.Errors, fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		incoming = append(incoming, entry)
	}

	mu := r.ownerLock(ownerID)
	mu.Lock()
	defer mu.Unlock()

	kept, err := storage.Execute(ctx, r.gateway, "history.import", Key(ownerID),
		func(ctx context.Context) (int, error) {
			existing, err := r.readAll(ctx, ownerID)
			if err != nil {
				return 0, err
			}
			merged := combine(existing, incoming, strategy)
			if len(merged) > ImportCap {
				merged = merged[:ImportCap]
			}
			return countImported(merged, incoming), r.writeAll(ctx, ownerID, merged)
		})
	if err != nil {
		return ImportReport{}, err
	}

	report.Imported = kept
	return report, nil
}

// countImported reports how many incoming records survived the merge
// and cap truncation.
func countImported(merged, incoming []models.HistoryEntry) int {
	ids := make(map[string]int, len(incoming))
	for _, e := range incoming {
		ids[e.ID]++
	}
	n := 0
	for _, e := range merged {
		if ids[e.ID] > 0 {
			ids[e.ID]--
			n++
		}
	}
	return n
}

func combine(existing, incoming []models.HistoryEntry, strategy ImportStrategy) []models.HistoryEntry {
	var merged []models.HistoryEntry
	switch strategy {
	case ImportReplace:
		merged = incoming
	case ImportAppend:
		merged = append(append([]models.HistoryEntry{}, existing...), incoming...)
	case ImportMerge:
		imported := make(map[string]bool, len(incoming))
		for _, e := range incoming {
			imported[e.ID] = true
		}
		merged = append([]models.HistoryEntry{}, incoming...)
		for _, e := range existing {
			if !imported[e.ID] {
				merged = append(merged, e)
			}
		}
	}
	sortByFinish(merged)
	return merged
}

// Export serializes the owner's current history. JSON output is
// pretty-printed; CSV output quote-escapes free-text fields.
func (r *Repository) Export(ctx context.Context, ownerID string, format ExportFormat) (string, error) {
	entries, err := r.Load(ctx, ownerID, 0)
	if err != nil {
		return "", err
	}

	switch format {
	case ExportJSON:
		if entries == nil {
			entries = []models.HistoryEntry{}
		}
		out, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return "", fmt.Errorf("serializing history: %w", err)
		}
		return string(out), nil
	case ExportCSV:
		return exportCSV(entries)
	default:
		return "", &storage.StorageError{
			Op: "history.export", Key: Key(ownerID), Kind: storage.KindValidation,
			Err: fmt.Errorf("unknown export format %q", format),
		}
	}
}

func exportCSV(entries []models.HistoryEntry) (string, error) {
	var buf strings.Builder
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"Date", "Name", "Duration", "Rating", "Volume", "ExerciseCount", "Notes"}); err != nil {
		return "", fmt.Errorf("writing csv header: %w", err)
	}
	for _, entry := range entries {
		row := []string{
			entry.FinishedAt.Format(time.RFC3339),
			entry.Name,
			strconv.Itoa(entry.DurationMinutes),
			strconv.Itoa(entry.Rating),
			strconv.FormatFloat(entry.TotalVolume, 'f', 2, 64),
			strconv.Itoa(len(entry.Exercises)),
			entry.Notes,
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("writing csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flushing csv: %w", err)
	}
	return buf.String(), nil
}

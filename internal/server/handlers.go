package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/thebtf/liftlog/internal/history"
	"github.com/thebtf/liftlog/internal/session"
	"github.com/thebtf/liftlog/internal/storage"
	"github.com/thebtf/liftlog/pkg/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrSessionActive),
		errors.Is(err, session.ErrFinishInFlight),
		errors.Is(err, storage.ErrInFlight):
		status = http.StatusConflict
	case errors.Is(err, session.ErrNoSession):
		status = http.StatusNotFound
	default:
		var storageErr *storage.StorageError
		var tagged *storage.TaggedError
		var kind storage.Kind
		if errors.As(err, &storageErr) {
			kind = storageErr.Kind
		} else if errors.As(err, &tagged) {
			kind = tagged.Kind
		}
		switch kind {
		case "":
		case storage.KindValidation:
			status = http.StatusBadRequest
		default:
			status = http.StatusBadGateway
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeOK(w http.ResponseWriter, ok bool) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": ok})
}

// --- session handlers ---

type startRequest struct {
	Name      string                   `json:"name"`
	Exercises []models.SessionExercise `json:"exercises,omitempty"`
	Session   *models.Session          `json:"session,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	var err error
	switch {
	case req.Session != nil:
		err = s.controller.Start(*req.Session)
	case len(req.Exercises) > 0:
		err = s.controller.StartCustom(req.Name, req.Exercises)
	default:
		err = s.controller.StartEmpty(req.Name)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	snapshot, _ := s.controller.Status()
	writeJSON(w, http.StatusCreated, snapshot)
}

func (s *Server) handleAddExercise(w http.ResponseWriter, r *http.Request) {
	var exercise models.SessionExercise
	if err := json.NewDecoder(r.Body).Decode(&exercise); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if err := s.controller.AddExercise(exercise); err != nil {
		writeError(w, err)
		return
	}
	snapshot, _ := s.controller.Status()
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleRemoveExercise(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.controller.RemoveExercise(chi.URLParam(r, "exerciseID")))
}

func (s *Server) handleReorderExercises(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From int `json:"from"`
		To   int `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	writeOK(w, s.controller.ReorderExercises(req.From, req.To))
}

func (s *Server) handleUpdateSet(w http.ResponseWriter, r *http.Request) {
	var patch session.SetPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	writeOK(w, s.controller.UpdateSet(chi.URLParam(r, "exerciseID"), chi.URLParam(r, "setID"), patch))
}

// handleNavigate dispatches the navigation verbs. Navigation never
// errors; out-of-range requests come back ok=false.
func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Op    string `json:"op"` // next_exercise | prev_exercise | goto_exercise | next_set | prev_set
		Index int    `json:"index,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	var ok bool
	switch req.Op {
	case "next_exercise":
		ok = s.controller.NextExercise()
	case "prev_exercise":
		ok = s.controller.PrevExercise()
	case "goto_exercise":
		ok = s.controller.GoToExercise(req.Index)
	case "next_set":
		ok = s.controller.NextSet()
	case "prev_set":
		ok = s.controller.PrevSet()
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown navigation op " + req.Op})
		return
	}
	writeOK(w, ok)
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, s.controller.Pause())
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, s.controller.Resume())
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	entry, err := s.controller.Finish(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, s.controller.Cancel())
}

// handleRest dispatches the rest-timer verbs.
func (s *Server) handleRest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Op      string `json:"op"` // start | auto | skip | pause | resume | adjust
		Seconds int    `json:"seconds,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	switch req.Op {
	case "start":
		s.controller.StartRest(req.Seconds)
	case "auto":
		s.controller.AutoRest()
	case "skip":
		s.controller.SkipRest()
	case "pause":
		s.controller.PauseRest()
	case "resume":
		s.controller.ResumeRest()
	case "adjust":
		s.controller.AdjustRest(req.Seconds)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown rest op " + req.Op})
		return
	}

	snapshot, _ := s.controller.Status()
	writeJSON(w, http.StatusOK, snapshot.Rest)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snapshot, ok := s.controller.Status()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no session"})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// --- history handlers ---

func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries, err := s.repo.Load(r.Context(), ownerFrom(r), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	ok, err := s.repo.Delete(r.Context(), ownerFrom(r), chi.URLParam(r, "entryID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, ok)
}

func (s *Server) handleHistoryUpdate(w http.ResponseWriter, r *http.Request) {
	var patch history.EntryPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	ok, err := s.repo.Update(r.Context(), ownerFrom(r), chi.URLParam(r, "entryID"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, ok)
}

func (s *Server) handleHistorySearch(w http.ResponseWriter, r *http.Request) {
	var criteria history.SearchCriteria
	if err := json.NewDecoder(r.Body).Decode(&criteria); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	entries, err := s.repo.Search(r.Context(), ownerFrom(r), criteria)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHistoryImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Strategy history.ImportStrategy `json:"strategy"`
		Payload  json.RawMessage        `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	report, err := s.repo.Import(r.Context(), ownerFrom(r), string(req.Payload), req.Strategy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHistoryExport(w http.ResponseWriter, r *http.Request) {
	format := history.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = history.ExportJSON
	}
	out, err := s.repo.Export(r.Context(), ownerFrom(r), format)
	if err != nil {
		writeError(w, err)
		return
	}
	if format == history.ExportCSV {
		w.Header().Set("Content-Type", "text/csv")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	query := history.StatsQuery{GroupBy: history.GroupBy(r.URL.Query().Get("group_by"))}
	if v := r.URL.Query().Get("date_from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			query.DateFrom = &t
		}
	}
	if v := r.URL.Query().Get("date_to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			query.DateTo = &t
		}
	}
	stats, err := s.repo.Statistics(r.Context(), ownerFrom(r), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStorageStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.Metrics().Snapshot())
}

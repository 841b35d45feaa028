package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/liftlog/internal/history"
	"github.com/thebtf/liftlog/internal/identity"
	"github.com/thebtf/liftlog/internal/records"
	"github.com/thebtf/liftlog/pkg/models"
)

var (
	// ErrSessionActive is returned by start operations while a session
	// is already running.
	ErrSessionActive = errors.New("a session is already active")
	// ErrNoSession is returned by operations that need an active or
	// paused session when none exists.
	ErrNoSession = errors.New("no active session")
	// ErrFinishInFlight is returned when Finish is called while a
	// previous Finish is still persisting.
	ErrFinishInFlight = errors.New("finish already in progress")
)

// Controller is the session state machine. It owns the currently
// active session and the rest timer; on finish, ownership of the
// session transfers to the history repository as a frozen entry.
//
// All state is guarded by one mutex, the Go rendering of the source
// model where every mutation happens on a single loop.
type Controller struct {
	mu       sync.Mutex
	session  *models.Session
	timer    *RestTimer
	repo     *history.Repository
	identity identity.Provider

	// Elapsed time is accounted in two pieces so pausing freezes the
	// clock: accumulated holds time from completed active stretches,
	// lastResumed marks the start of the current one.
	accumulated time.Duration
	lastResumed time.Time

	finishing bool

	now func() time.Time // test seam
}

// NewController creates a controller persisting through repo and
// resolving owners through provider.
func NewController(repo *history.Repository, provider identity.Provider) *Controller {
	if provider == nil {
		provider = identity.Static{}
	}
	return &Controller{
		timer:    NewRestTimer(),
		repo:     repo,
		identity: provider,
		now:      time.Now,
	}
}

// Start begins tracking a prepared session. Only valid when no session
// is active; a terminal session still referenced is overwritten.
func (c *Controller) Start(session models.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && !c.session.Status.Terminal() {
		return ErrSessionActive
	}

	normalize(&session)
	now := c.now()
	session.Status = models.SessionActive
	session.StartedAt = now
	session.CurrentExerciseIndex = 0
	session.CurrentSetIndex = 0
	session.Recalculate()

	c.session = &session
	c.accumulated = 0
	c.lastResumed = now
	c.finishing = false

	log.Info().Str("session", session.ID).Str("name", session.Name).
		Int("exercises", len(session.Exercises)).Msg("Session started")
	return nil
}

// StartCustom begins a session from an ad-hoc exercise list.
func (c *Controller) StartCustom(name string, exercises []models.SessionExercise) error {
	return c.Start(models.Session{Name: name, Exercises: exercises})
}

// StartEmpty begins a session with no exercises; they are added as the
// workout goes.
func (c *Controller) StartEmpty(name string) error {
	return c.Start(models.Session{Name: name})
}

// normalize fills missing identifiers, order fields, and set statuses.
func normalize(session *models.Session) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Name == "" {
		session.Name = "Workout"
	}
	for i := range session.Exercises {
		normalizeExercise(&session.Exercises[i], i)
	}
}

func normalizeExercise(exercise *models.SessionExercise, position int) {
	if exercise.ID == "" {
		exercise.ID = uuid.NewString()
	}
	exercise.Order = position
	for j := range exercise.Sets {
		if exercise.Sets[j].ID == "" {
			exercise.Sets[j].ID = uuid.NewString()
		}
		if exercise.Sets[j].Status == "" {
			exercise.Sets[j].Status = models.SetPending
		}
	}
}

// active reports whether a mutable session is present. Callers hold the
// lock.
func (c *Controller) active() bool {
	return c.session != nil && !c.session.Status.Terminal()
}

// AddExercise appends an exercise to the running session.
func (c *Controller) AddExercise(exercise models.SessionExercise) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active() {
		return ErrNoSession
	}
	normalizeExercise(&exercise, len(c.session.Exercises))
	c.session.Exercises = append(c.session.Exercises, exercise)
	c.session.Recalculate()
	return nil
}

// RemoveExercise deletes the exercise with the given id, re-clamping
// the navigation indices. Returns false if the id is absent.
func (c *Controller) RemoveExercise(exerciseID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active() {
		return false
	}

	index := -1
	for i, e := range c.session.Exercises {
		if e.ID == exerciseID {
			index = i
			break
		}
	}
	if index < 0 {
		return false
	}

	c.session.Exercises = append(c.session.Exercises[:index], c.session.Exercises[index+1:]...)
	for i := range c.session.Exercises {
		c.session.Exercises[i].Order = i
	}

	if index <= c.session.CurrentExerciseIndex && c.session.CurrentExerciseIndex > 0 {
		c.session.CurrentExerciseIndex--
	}
	c.clampIndices()
	c.session.Recalculate()
	return true
}

// ReorderExercises moves the exercise at from to position to. The
// current-exercise pointer follows the exercise it referred to.
// Out-of-range requests return false without mutating anything.
func (c *Controller) ReorderExercises(from, to int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active() {
		return false
	}
	n := len(c.session.Exercises)
	if from < 0 || from >= n || to < 0 || to >= n || from == to {
		return false
	}

	moved := c.session.Exercises[from]
	rest := append(c.session.Exercises[:from:from], c.session.Exercises[from+1:]...)
	reordered := make([]models.SessionExercise, 0, n)
	reordered = append(reordered, rest[:to]...)
	reordered = append(reordered, moved)
	reordered = append(reordered, rest[to:]...)
	for i := range reordered {
		reordered[i].Order = i
	}
	c.session.Exercises = reordered

	current := c.session.CurrentExerciseIndex
	switch {
	case current == from:
		c.session.CurrentExerciseIndex = to
	case from < current && to >= current:
		c.session.CurrentExerciseIndex--
	case from > current && to <= current:
		c.session.CurrentExerciseIndex++
	}
	return true
}

// SetPatch carries the updatable fields of a set. Weight and reps
// record the values actually performed.
type SetPatch struct {
	Weight    *float64 `json:"weight,omitempty"`
	Reps      *int     `json:"reps,omitempty"`
	Completed *bool    `json:"completed,omitempty"`
}

// UpdateSet is the only mutation path for set data. Completion toggles
// re-derive the stats snapshot from the full per-set scan, so the
// counters can never drift. Returns false if the ids are absent.
func (c *Controller) UpdateSet(exerciseID, setID string, patch SetPatch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active() {
		return false
	}

	for i := range c.session.Exercises {
		exercise := &c.session.Exercises[i]
		if exercise.ID != exerciseID {
			continue
		}
		for j := range exercise.Sets {
			set := &exercise.Sets[j]
			if set.ID != setID {
				continue
			}
			if patch.Weight != nil {
				set.ActualWeight = patch.Weight
			}
			if patch.Reps != nil {
				set.ActualReps = patch.Reps
			}
			if patch.Completed != nil {
				if *patch.Completed {
					set.Status = models.SetCompleted
					completedAt := c.now()
					set.CompletedAt = &completedAt
				} else {
					set.Status = models.SetPending
					set.CompletedAt = nil
				}
			}
			c.session.Recalculate()
			return true
		}
	}
	return false
}

// UpdateExerciseNotes replaces the free-text notes on an exercise.
func (c *Controller) UpdateExerciseNotes(exerciseID, notes string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active() {
		return false
	}
	for i := range c.session.Exercises {
		if c.session.Exercises[i].ID == exerciseID {
			c.session.Exercises[i].Notes = notes
			return true
		}
	}
	return false
}

// SetRating records the 1-5 rating carried into the history entry.
func (c *Controller) SetRating(rating int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active() || rating < 0 || rating > 5 {
		return false
	}
	c.session.Rating = rating
	return true
}

// NextExercise advances to the next exercise, resetting the set index
// and clearing any rest state. Returns false at the end of the list.
func (c *Controller) NextExercise() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gotoExerciseLocked(func() int { return c.session.CurrentExerciseIndex + 1 })
}

// PrevExercise moves to the previous exercise.
func (c *Controller) PrevExercise() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gotoExerciseLocked(func() int { return c.session.CurrentExerciseIndex - 1 })
}

// GoToExercise jumps to the exercise at index i.
func (c *Controller) GoToExercise(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gotoExerciseLocked(func() int { return i })
}

func (c *Controller) gotoExerciseLocked(target func() int) bool {
	if !c.active() {
		return false
	}
	i := target()
	if i < 0 || i >= len(c.session.Exercises) || i == c.session.CurrentExerciseIndex {
		return false
	}
	c.session.CurrentExerciseIndex = i
	c.session.CurrentSetIndex = 0
	c.timer.Stop()
	return true
}

// NextSet advances within the current exercise; at the last set it
// attempts the next exercise instead.
func (c *Controller) NextSet() bool {
	c.mu.Lock()
	if !c.active() || len(c.session.Exercises) == 0 {
		c.mu.Unlock()
		return false
	}
	exercise := c.session.Exercises[c.session.CurrentExerciseIndex]
	if c.session.CurrentSetIndex+1 < len(exercise.Sets) {
		c.session.CurrentSetIndex++
		c.mu.Unlock()
		return true
	}
	moved := c.gotoExerciseLocked(func() int { return c.session.CurrentExerciseIndex + 1 })
	c.mu.Unlock()
	return moved
}

// PrevSet steps back within the current exercise.
func (c *Controller) PrevSet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active() || c.session.CurrentSetIndex == 0 {
		return false
	}
	c.session.CurrentSetIndex--
	return true
}

// clampIndices forces the navigation indices back into bounds after a
// structural mutation. Callers hold the lock.
func (c *Controller) clampIndices() {
	if len(c.session.Exercises) == 0 {
		c.session.CurrentExerciseIndex = 0
		c.session.CurrentSetIndex = 0
		return
	}
	if c.session.CurrentExerciseIndex >= len(c.session.Exercises) {
		c.session.CurrentExerciseIndex = len(c.session.Exercises) - 1
	}
	if c.session.CurrentExerciseIndex < 0 {
		c.session.CurrentExerciseIndex = 0
	}
	sets := c.session.Exercises[c.session.CurrentExerciseIndex].Sets
	if c.session.CurrentSetIndex >= len(sets) {
		c.session.CurrentSetIndex = 0
	}
}

// Pause freezes the session and its elapsed-time accounting. No-op
// unless the session is active.
func (c *Controller) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.Status != models.SessionActive {
		return false
	}
	now := c.now()
	c.accumulated += now.Sub(c.lastResumed)
	c.session.Status = models.SessionPaused
	c.session.PausedAt = &now
	c.timer.Pause()
	return true
}

// Resume unfreezes a paused session. No-op unless paused.
func (c *Controller) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.Status != models.SessionPaused {
		return false
	}
	now := c.now()
	c.lastResumed = now
	c.session.Status = models.SessionActive
	c.session.ResumedAt = &now
	c.timer.Resume()
	return true
}

// elapsedLocked returns wall-clock time spent active.
func (c *Controller) elapsedLocked() time.Duration {
	elapsed := c.accumulated
	if c.session != nil && c.session.Status == models.SessionActive {
		elapsed += c.now().Sub(c.lastResumed)
	}
	return elapsed
}

// Finish freezes the session into a history entry, detects personal
// records against stored history, and persists the entry. On a storage
// failure the in-memory session is left intact so Finish can be
// retried; a concurrent Finish is rejected.
func (c *Controller) Finish(ctx context.Context) (models.HistoryEntry, error) {
	c.mu.Lock()
	if !c.active() {
		c.mu.Unlock()
		return models.HistoryEntry{}, ErrNoSession
	}
	if c.finishing {
		c.mu.Unlock()
		return models.HistoryEntry{}, ErrFinishInFlight
	}
	c.finishing = true

	now := c.now()
	if c.session.Status == models.SessionActive {
		c.accumulated += now.Sub(c.lastResumed)
		c.lastResumed = now
	}
	snapshot := c.cloneLocked()
	snapshot.Status = models.SessionFinished
	snapshot.FinishedAt = &now
	snapshot.Stats.DurationMinutes = int(c.accumulated.Minutes())
	snapshot.Recalculate()
	ownerID := c.identity.CurrentOwnerID()
	c.mu.Unlock()

	entry, err := c.persistFinished(ctx, ownerID, &snapshot)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishing = false
	if err != nil {
		// Session stays live so the caller can retry.
		log.Warn().Err(err).Str("session", snapshot.ID).Msg("Finish failed, session retained")
		return models.HistoryEntry{}, err
	}

	c.timer.Stop()
	c.session = nil
	c.accumulated = 0
	log.Info().Str("session", snapshot.ID).Int("completion", entry.CompletionPercentage).
		Int("records", len(entry.Records)).Msg("Session finished")
	return entry, nil
}

func (c *Controller) persistFinished(ctx context.Context, ownerID string, snapshot *models.Session) (models.HistoryEntry, error) {
	past, err := c.repo.Load(ctx, ownerID, 0)
	if err != nil {
		return models.HistoryEntry{}, err
	}

	entry := models.EntryFromSession(snapshot)
	entry.Records = records.Detect(snapshot, past)

	if err := c.repo.Save(ctx, ownerID, entry); err != nil {
		return models.HistoryEntry{}, err
	}
	return entry, nil
}

// Cancel discards the session without persisting.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active() {
		return false
	}
	log.Info().Str("session", c.session.ID).Msg("Session cancelled")
	c.discardLocked()
	return true
}

// Reset discards whatever session is referenced, terminal or not.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discardLocked()
}

func (c *Controller) discardLocked() {
	c.timer.Stop()
	c.session = nil
	c.accumulated = 0
	c.finishing = false
}

// StartRest begins a rest countdown of the given duration.
func (c *Controller) StartRest(durationSeconds int) {
	c.timer.Start(durationSeconds)
}

// AutoRest begins a rest countdown sized to the current exercise kind.
func (c *Controller) AutoRest() {
	c.mu.Lock()
	kind := models.ExerciseKind("")
	if c.active() && len(c.session.Exercises) > 0 {
		kind = c.session.Exercises[c.session.CurrentExerciseIndex].Kind
	}
	c.mu.Unlock()
	c.timer.AutoStart(kind)
}

// SkipRest ends the rest countdown immediately.
func (c *Controller) SkipRest() { c.timer.Skip() }

// PauseRest freezes the rest countdown.
func (c *Controller) PauseRest() { c.timer.Pause() }

// ResumeRest unfreezes the rest countdown.
func (c *Controller) ResumeRest() { c.timer.Resume() }

// AdjustRest adds deltaSeconds to the rest countdown.
func (c *Controller) AdjustRest(deltaSeconds int) { c.timer.Adjust(deltaSeconds) }

// StatusSnapshot is the read-only view handed to the UI. It carries
// plain values only; no timer handles or storage internals.
type StatusSnapshot struct {
	SessionID            string               `json:"session_id"`
	Name                 string               `json:"name"`
	Status               models.SessionStatus `json:"status"`
	DurationMinutes      int                  `json:"duration_minutes"`
	Progress             int                  `json:"progress"`
	CompletedSets        int                  `json:"completed_sets"`
	TotalSets            int                  `json:"total_sets"`
	Volume               float64              `json:"volume"`
	Calories             float64              `json:"calories"`
	CurrentExerciseIndex int                  `json:"current_exercise_index"`
	CurrentSetIndex      int                  `json:"current_set_index"`
	CanFinish            bool                 `json:"can_finish"`
	Rest                 TimerState           `json:"rest"`
}

// Status returns a snapshot of the running session. The second return
// is false when no session is referenced.
func (c *Controller) Status() (StatusSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return StatusSnapshot{}, false
	}

	duration := int(c.elapsedLocked().Minutes())
	return StatusSnapshot{
		SessionID:            c.session.ID,
		Name:                 c.session.Name,
		Status:               c.session.Status,
		DurationMinutes:      duration,
		Progress:             c.session.CompletionPercentage(),
		CompletedSets:        c.session.Stats.CompletedSets,
		TotalSets:            c.session.Stats.TotalSets,
		Volume:               c.session.Stats.Volume,
		Calories:             models.EstimateCalories(c.session.Stats.Volume, duration),
		CurrentExerciseIndex: c.session.CurrentExerciseIndex,
		CurrentSetIndex:      c.session.CurrentSetIndex,
		CanFinish:            c.session.Stats.CompletedSets > 0,
		Rest:                 c.timer.State(),
	}, true
}

// Session returns a deep copy of the active session for rendering.
// The second return is false when none exists.
func (c *Controller) Session() (models.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return models.Session{}, false
	}
	return c.cloneLocked(), true
}

// cloneLocked copies the session with its own exercise and set arrays,
// so the copy stays readable outside the lock while the live session
// keeps mutating.
func (c *Controller) cloneLocked() models.Session {
	copied := *c.session
	copied.Exercises = append([]models.SessionExercise(nil), c.session.Exercises...)
	for i := range copied.Exercises {
		copied.Exercises[i].Sets = append([]models.SessionSet(nil), copied.Exercises[i].Sets...)
	}
	return copied
}

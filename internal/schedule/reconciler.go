package schedule

import (
	"context"
	"log/slog"
	"time"

	"pushpoint/internal/types"
)

// DefaultSnoozeDelta is how far a snoozed occurrence is pushed forward.
const DefaultSnoozeDelta = 15 * time.Minute

// NotificationTitle is the push title used for every scheduled reminder.
const NotificationTitle = "Scheduled Notification"

// snoozedSuffix marks the body of a snoozed occurrence so the recipient can
// tell it apart from the regular reminder.
const snoozedSuffix = " (snoozed)"

// ScheduleStore is the persistence capability the reconciler requires.
// Implemented by db.ScheduleRepository. All mutating operations serialize
// per user so concurrent requests for the same user cannot lose updates.
type ScheduleStore interface {
	// UpsertDestination adds dest to the user's destination set, creating the
	// schedule document if it does not exist. Idempotent.
	UpsertDestination(ctx context.Context, userID, dest string) error

	// UpsertSlots merges the incoming rules into the stored sequence keyed on
	// (dayOfWeek, time): an existing slot with the same key has its message
	// replaced, new slots are appended. Retry-safe.
	UpsertSlots(ctx context.Context, userID string, rules []types.NotificationRule) error

	// RemoveSlot removes times[timeIndex] and messages[timeIndex] from the
	// rule matching dayOfWeek, dropping the rule entirely once its last
	// slot is gone. Returns not_found_slot if no matching rule/index exists.
	RemoveSlot(ctx context.Context, userID string, dayOfWeek, timeIndex int) error

	// ReplaceSlotTime swaps the (dayOfWeek, oldTime) slot for (dayOfWeek,
	// newTime) with the given message, as a single atomic store mutation.
	ReplaceSlotTime(ctx context.Context, userID string, dayOfWeek int, oldTime, newTime, message string) error

	FindByUser(ctx context.Context, userID string) (*types.Schedule, error)
	DeleteByUser(ctx context.Context, userID string) error

	// ListAll returns every stored schedule. Used by Resync to rebuild the
	// job engine's entries after a restart.
	ListAll(ctx context.Context) ([]*types.Schedule, error)
}

// JobEngine is the durable recurring-job capability the reconciler drives.
// Upsert registers or replaces the job identified by key; Cancel is
// idempotent and succeeds for unknown keys. Implemented by jobs.CronEngine.
type JobEngine interface {
	Upsert(ctx context.Context, key, cronSpec, timezone string, payload types.PushPayload) error
	Cancel(ctx context.Context, key string) error
}

// DestinationValidator is the push transport's own validity predicate,
// consulted before any mutation is attempted.
type DestinationValidator interface {
	IsValidDestination(token string) bool
}

// FailedJob describes one slot whose job registration failed during a batch
// register. These are advisory: the slot is still persisted and a later
// Resync pass repairs the missing job.
type FailedJob struct {
	DayOfWeek int    `json:"day_of_week"`
	Time      string `json:"time"`
	Reason    string `json:"reason"`
}

// RegisterResult is returned by Register: the persisted schedule plus any
// advisory job-registration failures.
type RegisterResult struct {
	Schedule   *types.Schedule `json:"schedule"`
	FailedJobs []FailedJob     `json:"failed_jobs,omitempty"`
}

// Reconciler keeps the schedule store (desired state) and the job engine
// (actual state) consistent. Every public operation is a short transaction
// of engine and store calls with a defined ordering: store mutations for
// delete and snooze happen only after the corresponding engine call
// succeeds, so a stored slot is never dropped while its job might still be
// live.
type Reconciler struct {
	store     ScheduleStore
	engine    JobEngine
	validator DestinationValidator
	timezone  string
	logger    *slog.Logger
}

// NewReconciler creates a Reconciler. timezone is the IANA zone handed to
// the job engine for every registration (e.g. "UTC").
func NewReconciler(store ScheduleStore, engine JobEngine, validator DestinationValidator, timezone string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:     store,
		engine:    engine,
		validator: validator,
		timezone:  timezone,
		logger:    logger,
	}
}

// Register processes a batch of incoming notification rules for a user:
// registers a recurring job per slot and persists the destination and slots.
//
// Ordering and failure policy:
//   - The destination is validated before any mutation (fail fast).
//   - A slot whose time cannot be turned into a cron spec, or whose job
//     upsert fails, is logged and skipped; the batch continues and the
//     failure is reported in the advisory FailedJobs list.
//   - Persistence runs after all job upserts and always reflects the full
//     request; a persistence failure is fatal to the call.
func (r *Reconciler) Register(ctx context.Context, userID, destination string, rules []types.NotificationRule) (*RegisterResult, error) {
	if !r.validator.IsValidDestination(destination) {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidDestination,
			"destination is not a well-formed push token",
			nil,
		)
	}
	if err := validateRuleShapes(rules); err != nil {
		return nil, err
	}

	var failed []FailedJob
	persistRules := make([]types.NotificationRule, 0, len(rules))

	for _, rule := range rules {
		persisted := types.NotificationRule{
			DayOfWeek: rule.DayOfWeek,
			Times:     make([]string, 0, len(rule.Times)),
			Messages:  make([]string, 0, len(rule.Messages)),
		}

		for i := range rule.Times {
			normalized, normErr := NormalizeTime(rule.Times[i])
			if normErr != nil {
				// Degrade, don't abort: the normalizer returned the input
				// unchanged, which may still be a canonical 24-hour time.
				r.logger.WarnContext(ctx, "time normalization failed, using raw value",
					"user_id", userID,
					"day_of_week", rule.DayOfWeek,
					"raw_time", rule.Times[i],
				)
			}

			// Stored state always reflects the request, even when the slot's
			// job cannot be registered.
			persisted.Times = append(persisted.Times, normalized)
			persisted.Messages = append(persisted.Messages, rule.Messages[i])

			cronSpec, err := CronSpec(rule.DayOfWeek, normalized)
			if err != nil {
				failed = append(failed, FailedJob{
					DayOfWeek: rule.DayOfWeek,
					Time:      normalized,
					Reason:    "unparseable time",
				})
				continue
			}

			key := JobKey(userID, rule.DayOfWeek, normalized)
			payload := types.PushPayload{
				Destination: destination,
				Title:       NotificationTitle,
				Body:        rule.Messages[i],
			}
			if err := r.engine.Upsert(ctx, key, cronSpec, r.timezone, payload); err != nil {
				r.logger.ErrorContext(ctx, "job upsert failed, slot persisted for resync repair",
					"user_id", userID,
					"job_key", key,
					"error", err,
				)
				failed = append(failed, FailedJob{
					DayOfWeek: rule.DayOfWeek,
					Time:      normalized,
					Reason:    "job engine upsert failed",
				})
			}
		}

		if len(persisted.Times) > 0 {
			persistRules = append(persistRules, persisted)
		}
	}

	if err := r.store.UpsertDestination(ctx, userID, destination); err != nil {
		return nil, err
	}
	if err := r.store.UpsertSlots(ctx, userID, persistRules); err != nil {
		return nil, err
	}

	sched, err := r.store.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "schedule registered",
		"user_id", userID,
		"rules", len(persistRules),
		"failed_jobs", len(failed),
	)

	return &RegisterResult{Schedule: sched, FailedJobs: failed}, nil
}

// RegisterToken adds a push destination for the user without touching rules,
// creating the schedule document if needed.
func (r *Reconciler) RegisterToken(ctx context.Context, userID, destination string) (*types.Schedule, error) {
	if !r.validator.IsValidDestination(destination) {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidDestination,
			"destination is not a well-formed push token",
			nil,
		)
	}
	if err := r.store.UpsertDestination(ctx, userID, destination); err != nil {
		return nil, err
	}
	return r.store.FindByUser(ctx, userID)
}

// Delete removes the (dayOfWeek, timeIndex) slot: it cancels the backing job
// first and mutates the store only once cancellation has succeeded. If
// cancellation fails the stored slot is retained so a later pass can retry;
// stored state is never dropped for a job that might still be live.
func (r *Reconciler) Delete(ctx context.Context, userID string, dayOfWeek, timeIndex int) error {
	sched, err := r.store.FindByUser(ctx, userID)
	if err != nil {
		return err
	}

	storedTime, ok := slotTime(sched, dayOfWeek, timeIndex)
	if !ok {
		return types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundSlot,
			"no notification slot at that day and index",
			nil,
			map[string]any{"day_of_week": dayOfWeek, "time_index": timeIndex},
		)
	}

	// The key is recomputed from the currently stored time, never from
	// caller-supplied raw text.
	key := JobKey(userID, dayOfWeek, storedTime)
	if err := r.engine.Cancel(ctx, key); err != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamJobEngine,
			"failed to cancel recurring job",
			err,
		)
	}

	return r.store.RemoveSlot(ctx, userID, dayOfWeek, timeIndex)
}

// Snooze shifts the (dayOfWeek, tm) slot forward by DefaultSnoozeDelta:
// cancel the old job, register the shifted one, then swap the stored slot.
// If either engine call fails the store is left untouched, so the prior
// state stays intact rather than recording a snooze that never fires.
// Returns the new canonical time.
func (r *Reconciler) Snooze(ctx context.Context, userID string, dayOfWeek int, tm, destination string) (string, error) {
	if !r.validator.IsValidDestination(destination) {
		return "", types.NewAppError(
			types.ErrCodeValidationInvalidDestination,
			"destination is not a well-formed push token",
			nil,
		)
	}

	// The slot time may arrive in either 12-hour or canonical form.
	oldTime, err := NormalizeTime(tm)
	if err != nil {
		oldTime = tm
	}

	sched, err := r.store.FindByUser(ctx, userID)
	if err != nil {
		return "", err
	}

	message, ok := slotMessage(sched, dayOfWeek, oldTime)
	if !ok {
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundSlot,
			"no notification slot at that day and time",
			nil,
			map[string]any{"day_of_week": dayOfWeek, "time": oldTime},
		)
	}

	newTime, err := ShiftTime(oldTime, int(DefaultSnoozeDelta.Minutes()))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeValidationMalformedTime, "cannot shift stored time", err)
	}

	oldKey := JobKey(userID, dayOfWeek, oldTime)
	if err := r.engine.Cancel(ctx, oldKey); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamJobEngine, "failed to cancel snoozed job", err)
	}

	cronSpec, err := CronSpec(dayOfWeek, newTime)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to derive cron spec", err)
	}

	newBody := message + snoozedSuffix
	newKey := JobKey(userID, dayOfWeek, newTime)
	payload := types.PushPayload{Destination: destination, Title: NotificationTitle, Body: newBody}
	if err := r.engine.Upsert(ctx, newKey, cronSpec, r.timezone, payload); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamJobEngine, "failed to register snoozed job", err)
	}

	if err := r.store.ReplaceSlotTime(ctx, userID, dayOfWeek, oldTime, newTime, newBody); err != nil {
		return "", err
	}

	r.logger.InfoContext(ctx, "slot snoozed",
		"user_id", userID,
		"day_of_week", dayOfWeek,
		"old_time", oldTime,
		"new_time", newTime,
	)

	return newTime, nil
}

// DeleteAll cancels every job derivable from the user's stored rules, then
// deletes the schedule document. Cancellations precede the store mutation
// for the same reason as Delete.
func (r *Reconciler) DeleteAll(ctx context.Context, userID string) error {
	sched, err := r.store.FindByUser(ctx, userID)
	if err != nil {
		return err
	}

	for _, rule := range sched.Rules {
		for _, t := range rule.Times {
			key := JobKey(userID, rule.DayOfWeek, t)
			if err := r.engine.Cancel(ctx, key); err != nil {
				return types.NewAppError(
					types.ErrCodeUpstreamJobEngine,
					"failed to cancel recurring job",
					err,
				)
			}
		}
	}

	return r.store.DeleteByUser(ctx, userID)
}

// Resync walks every stored schedule and upserts every derivable job,
// restoring the live-jobs == stored-slots invariant after a restart or
// after the advisory-failure window of a previous Register. Per-slot
// failures are logged and skipped so one bad document cannot block the
// rest of the pass. Returns the number of jobs upserted.
func (r *Reconciler) Resync(ctx context.Context) (int, error) {
	scheds, err := r.store.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	upserted := 0
	for _, sched := range scheds {
		dest := latestDestination(sched)
		if dest == "" {
			continue
		}

		for _, rule := range sched.Rules {
			for i := range rule.Times {
				if i >= len(rule.Messages) {
					break
				}
				cronSpec, err := CronSpec(rule.DayOfWeek, rule.Times[i])
				if err != nil {
					r.logger.WarnContext(ctx, "skipping unparseable stored slot during resync",
						"user_id", sched.UserID,
						"day_of_week", rule.DayOfWeek,
						"time", rule.Times[i],
					)
					continue
				}

				key := JobKey(sched.UserID, rule.DayOfWeek, rule.Times[i])
				payload := types.PushPayload{
					Destination: dest,
					Title:       NotificationTitle,
					Body:        rule.Messages[i],
				}
				if err := r.engine.Upsert(ctx, key, cronSpec, r.timezone, payload); err != nil {
					r.logger.ErrorContext(ctx, "resync upsert failed",
						"user_id", sched.UserID,
						"job_key", key,
						"error", err,
					)
					continue
				}
				upserted++
			}
		}
	}

	r.logger.InfoContext(ctx, "resync complete",
		"schedules", len(scheds),
		"jobs_upserted", upserted,
	)

	return upserted, nil
}

// validateRuleShapes rejects rules whose day is out of range or whose
// times/messages sequences are not parallel. Checked before any mutation.
func validateRuleShapes(rules []types.NotificationRule) error {
	for _, rule := range rules {
		if !types.ValidDayOfWeek(rule.DayOfWeek) {
			return types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidDayOfWeek,
				"day_of_week must be between 0 (Sunday) and 6 (Saturday)",
				nil,
				map[string]any{"day_of_week": rule.DayOfWeek},
			)
		}
		if len(rule.Times) != len(rule.Messages) {
			return types.NewAppErrorWithDetails(
				types.ErrCodeValidationRuleShape,
				"times and messages must be parallel sequences of equal length",
				nil,
				map[string]any{
					"day_of_week": rule.DayOfWeek,
					"times":       len(rule.Times),
					"messages":    len(rule.Messages),
				},
			)
		}
	}
	return nil
}

// slotTime resolves the stored time at (dayOfWeek, timeIndex), scanning all
// rules that match the day since duplicates may exist in a stored sequence.
func slotTime(sched *types.Schedule, dayOfWeek, timeIndex int) (string, bool) {
	if timeIndex < 0 {
		return "", false
	}
	for _, rule := range sched.Rules {
		if rule.DayOfWeek == dayOfWeek && timeIndex < len(rule.Times) {
			return rule.Times[timeIndex], true
		}
	}
	return "", false
}

// slotMessage resolves the stored message for the (dayOfWeek, time) slot.
func slotMessage(sched *types.Schedule, dayOfWeek int, tm string) (string, bool) {
	for _, rule := range sched.Rules {
		if rule.DayOfWeek != dayOfWeek {
			continue
		}
		for i, t := range rule.Times {
			if t == tm && i < len(rule.Messages) {
				return rule.Messages[i], true
			}
		}
	}
	return "", false
}

// latestDestination picks the most recently registered destination for a
// schedule (destinations are appended in registration order).
func latestDestination(sched *types.Schedule) string {
	if len(sched.Destinations) == 0 {
		return ""
	}
	return sched.Destinations[len(sched.Destinations)-1]
}

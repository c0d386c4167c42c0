package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pushpoint/internal/types"
)

// ScheduleRepository provides data access for the schedules table:
//
//	schedules(user_id text primary key,
//	          destinations text[],
//	          rules jsonb,
//	          created_at timestamptz,
//	          updated_at timestamptz)
//
// Rule mutations are read-modify-write on the jsonb column; they run inside
// a transaction holding a SELECT ... FOR UPDATE row lock so concurrent
// writers for the same user serialize instead of clobbering each other.
type ScheduleRepository struct {
	db DBTX
	tx TxRunner
}

// NewScheduleRepository creates a repository backed by a connection pool.
func NewScheduleRepository(pool *pgxpool.Pool) *ScheduleRepository {
	return &ScheduleRepository{db: pool, tx: &PoolTxRunner{Pool: pool}}
}

// NewScheduleRepositoryWithDB creates a repository over an arbitrary DBTX
// with no real transaction boundaries. Test use only.
func NewScheduleRepositoryWithDB(db DBTX) *ScheduleRepository {
	return &ScheduleRepository{db: db, tx: &PlainTxRunner{DB: db}}
}

// UpsertDestination adds dest to the user's destination set, creating the
// row if absent. A destination already present is left in place, so the
// call is idempotent.
func (r *ScheduleRepository) UpsertDestination(ctx context.Context, userID, dest string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO schedules (user_id, destinations, rules, created_at, updated_at)
		 VALUES ($1, ARRAY[$2], '[]'::jsonb, NOW(), NOW())
		 ON CONFLICT (user_id) DO UPDATE SET
			destinations = CASE
				WHEN $2 = ANY(schedules.destinations) THEN schedules.destinations
				ELSE array_append(schedules.destinations, $2)
			END,
			updated_at = NOW()`,
		userID,
		dest,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert destination", err)
	}
	return nil
}

// AppendRules appends the incoming rules to the user's stored sequence
// without merging. The stored sequence may then hold several entries for
// the same day.
func (r *ScheduleRepository) AppendRules(ctx context.Context, userID string, rules []types.NotificationRule) error {
	return r.mutateRules(ctx, userID, func(stored types.NotificationRules) (types.NotificationRules, error) {
		return append(stored, rules...), nil
	})
}

// UpsertSlots merges the incoming rules into the stored sequence keyed on
// (day_of_week, time): a slot with a matching key has its message replaced
// in place, new slots are appended. Re-running the same request converges
// instead of duplicating.
func (r *ScheduleRepository) UpsertSlots(ctx context.Context, userID string, rules []types.NotificationRule) error {
	return r.mutateRules(ctx, userID, func(stored types.NotificationRules) (types.NotificationRules, error) {
		for _, incoming := range rules {
			for i := range incoming.Times {
				if i >= len(incoming.Messages) {
					break
				}
				mergeOneSlot(&stored, incoming.DayOfWeek, incoming.Times[i], incoming.Messages[i])
			}
		}
		return stored, nil
	})
}

func mergeOneSlot(stored *types.NotificationRules, day int, tm, msg string) {
	for ri := range *stored {
		if (*stored)[ri].DayOfWeek != day {
			continue
		}
		for ti, existing := range (*stored)[ri].Times {
			if existing == tm {
				(*stored)[ri].Messages[ti] = msg
				return
			}
		}
	}
	// No matching slot; append to the first rule for the day, or start one.
	for ri := range *stored {
		if (*stored)[ri].DayOfWeek == day {
			(*stored)[ri].Times = append((*stored)[ri].Times, tm)
			(*stored)[ri].Messages = append((*stored)[ri].Messages, msg)
			return
		}
	}
	*stored = append(*stored, types.NotificationRule{
		DayOfWeek: day,
		Times:     []string{tm},
		Messages:  []string{msg},
	})
}

// RemoveSlot removes times[timeIndex] and messages[timeIndex] from the rule
// matching dayOfWeek. A rule left with no times is dropped from the document
// entirely; empty rules are never written back.
func (r *ScheduleRepository) RemoveSlot(ctx context.Context, userID string, dayOfWeek, timeIndex int) error {
	return r.mutateRules(ctx, userID, func(stored types.NotificationRules) (types.NotificationRules, error) {
		for ri := range stored {
			if stored[ri].DayOfWeek != dayOfWeek || timeIndex < 0 || timeIndex >= len(stored[ri].Times) {
				continue
			}
			stored[ri].Times = append(stored[ri].Times[:timeIndex], stored[ri].Times[timeIndex+1:]...)
			if timeIndex < len(stored[ri].Messages) {
				stored[ri].Messages = append(stored[ri].Messages[:timeIndex], stored[ri].Messages[timeIndex+1:]...)
			}
			if len(stored[ri].Times) == 0 {
				stored = append(stored[:ri], stored[ri+1:]...)
			}
			return stored, nil
		}
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundSlot,
			"no notification slot at that day and index",
			nil,
			map[string]any{"day_of_week": dayOfWeek, "time_index": timeIndex},
		)
	})
}

// ReplaceSlotTime swaps the (dayOfWeek, oldTime) slot for newTime with the
// given message, as one atomic mutation.
func (r *ScheduleRepository) ReplaceSlotTime(ctx context.Context, userID string, dayOfWeek int, oldTime, newTime, message string) error {
	return r.mutateRules(ctx, userID, func(stored types.NotificationRules) (types.NotificationRules, error) {
		for ri := range stored {
			if stored[ri].DayOfWeek != dayOfWeek {
				continue
			}
			for ti, tm := range stored[ri].Times {
				if tm == oldTime && ti < len(stored[ri].Messages) {
					stored[ri].Times[ti] = newTime
					stored[ri].Messages[ti] = message
					return stored, nil
				}
			}
		}
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundSlot,
			"no notification slot at that day and time",
			nil,
			map[string]any{"day_of_week": dayOfWeek, "time": oldTime},
		)
	})
}

// FindByUser loads the user's schedule.
func (r *ScheduleRepository) FindByUser(ctx context.Context, userID string) (*types.Schedule, error) {
	row := r.db.QueryRow(ctx,
		`SELECT user_id, destinations, rules, created_at, updated_at
		 FROM schedules
		 WHERE user_id = $1`,
		userID,
	)
	return scanSchedule(row)
}

// DeleteByUser removes the user's schedule document.
func (r *ScheduleRepository) DeleteByUser(ctx context.Context, userID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM schedules WHERE user_id = $1`, userID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete schedule", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSchedule, "no schedule for user", nil)
	}
	return nil
}

// ListAll returns every stored schedule, ordered by user for deterministic
// resync passes.
func (r *ScheduleRepository) ListAll(ctx context.Context) ([]*types.Schedule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id, destinations, rules, created_at, updated_at
		 FROM schedules
		 ORDER BY user_id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list schedules", err)
	}
	defer rows.Close()

	var results []*types.Schedule
	for rows.Next() {
		sched, scanErr := scanSchedule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		results = append(results, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating schedule rows", err)
	}
	return results, nil
}

// mutateRules loads the user's rules under a row lock, applies mutate, and
// writes the result back.
func (r *ScheduleRepository) mutateRules(ctx context.Context, userID string, mutate func(types.NotificationRules) (types.NotificationRules, error)) error {
	return r.tx.RunInTx(ctx, func(q DBTX) error {
		var raw []byte
		row := q.QueryRow(ctx,
			`SELECT rules FROM schedules WHERE user_id = $1 FOR UPDATE`,
			userID,
		)
		if err := row.Scan(&raw); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return types.NewAppError(types.ErrCodeNotFoundSchedule, "no schedule for user", nil)
			}
			return types.NewAppError(types.ErrCodeInternalDB, "failed to load schedule rules", err)
		}

		var stored types.NotificationRules
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &stored); err != nil {
				return types.NewAppError(types.ErrCodeInternalDB, "failed to decode stored rules", err)
			}
		}

		updated, err := mutate(stored)
		if err != nil {
			return err
		}

		if _, err := q.Exec(ctx,
			`UPDATE schedules SET rules = $1, updated_at = NOW() WHERE user_id = $2`,
			updated,
			userID,
		); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to update schedule rules", err)
		}
		return nil
	})
}

// scanSchedule scans one schedules row from either a pgx.Row or pgx.Rows.
func scanSchedule(row pgx.Row) (*types.Schedule, error) {
	var (
		sched     types.Schedule
		rawRules  []byte
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&sched.UserID, &sched.Destinations, &rawRules, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSchedule, "no schedule for user", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan schedule row", err)
	}
	if len(rawRules) > 0 {
		if err := json.Unmarshal(rawRules, &sched.Rules); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode stored rules", err)
		}
	}
	sched.CreatedAt = createdAt
	sched.UpdatedAt = updatedAt
	return &sched, nil
}

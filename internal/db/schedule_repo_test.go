package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pushpoint/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// rulesRow builds a mockRow serving a stored rules jsonb value for the
// SELECT ... FOR UPDATE in mutateRules.
func rulesRow(t *testing.T, rules types.NotificationRules) *mockRow {
	t.Helper()
	raw := mustJSON(t, rules)
	return &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*[]byte) = raw
			return nil
		},
	}
}

// ============================================================
// UpsertDestination Tests
// ============================================================

func TestScheduleRepository_UpsertDestination_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepositoryWithDB(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"user_1", "ExponentPushToken[a]"}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.UpsertDestination(ctx, "user_1", "ExponentPushToken[a]")
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestScheduleRepository_UpsertDestination_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepositoryWithDB(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection reset"))

	err := repo.UpsertDestination(ctx, "user_1", "ExponentPushToken[a]")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

// ============================================================
// UpsertSlots Tests
// ============================================================

func TestScheduleRepository_UpsertSlots_MergesByDayAndTime(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepositoryWithDB(db)
	ctx := context.Background()

	stored := types.NotificationRules{
		{DayOfWeek: 1, Times: []string{"09:00"}, Messages: []string{"old message"}},
	}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"user_1"}).
		Return(rulesRow(t, stored))

	var written types.NotificationRules
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			written = args.Get(2).([]any)[0].(types.NotificationRules)
		}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.UpsertSlots(ctx, "user_1", []types.NotificationRule{
		{DayOfWeek: 1, Times: []string{"09:00", "17:30"}, Messages: []string{"new message", "evening"}},
	})
	require.NoError(t, err)

	// Same (day, time) replaced in place; new slot appended.
	require.Len(t, written, 1)
	assert.Equal(t, []string{"09:00", "17:30"}, written[0].Times)
	assert.Equal(t, []string{"new message", "evening"}, written[0].Messages)
}

func TestScheduleRepository_UpsertSlots_NewDayAppendsRule(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepositoryWithDB(db)
	ctx := context.Background()

	stored := types.NotificationRules{
		{DayOfWeek: 1, Times: []string{"09:00"}, Messages: []string{"a"}},
	}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"user_1"}).
		Return(rulesRow(t, stored))

	var written types.NotificationRules
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			written = args.Get(2).([]any)[0].(types.NotificationRules)
		}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.UpsertSlots(ctx, "user_1", []types.NotificationRule{
		{DayOfWeek: 4, Times: []string{"12:00"}, Messages: []string{"lunch"}},
	})
	require.NoError(t, err)

	require.Len(t, written, 2)
	assert.Equal(t, 4, written[1].DayOfWeek)
	assert.Equal(t, []string{"12:00"}, written[1].Times)
}

func TestScheduleRepository_UpsertSlots_NoScheduleReturnsNotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepositoryWithDB(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"ghost"}).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	err := repo.UpsertSlots(ctx, "ghost", nil)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundSchedule, appErr.Code)
}

// ============================================================
// AppendRules Tests
// ============================================================

func TestScheduleRepository_AppendRules_AppendsWithoutMerging(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepositoryWithDB(db)
	ctx := context.Background()

	stored := types.NotificationRules{
		{DayOfWeek: 1, Times: []string{"09:00"}, Messages: []string{"a"}},
	}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"user_1"}).
		Return(rulesRow(t, stored))

	var written types.NotificationRules
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			written = args.Get(2).([]any)[0].(types.NotificationRules)
		}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.AppendRules(ctx, "user_1", []types.NotificationRule{
		{DayOfWeek: 1, Times: []string{"09:00"}, Messages: []string{"duplicate"}},
	})
	require.NoError(t, err)

	// Plain append: the stored sequence now holds two entries for day 1.
	require.Len(t, written, 2)
}

// ============================================================
// RemoveSlot Tests
// ============================================================

func TestScheduleRepository_RemoveSlot_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepositoryWithDB(db)
	ctx := context.Background()

	stored := types.NotificationRules{
		{DayOfWeek: 2, Times: []string{"08:00", "20:00"}, Messages: []string{"a", "b"}},
	}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"user_1"}).
		Return(rulesRow(t, stored))

	var written types.NotificationRules
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			written = args.Get(2).([]any)[0].(types.NotificationRules)
		}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.RemoveSlot(ctx, "user_1", 2, 0)
	require.NoError(t, err)

	require.Len(t, written, 1)
	assert.Equal(t, []string{"20:00"}, written[0].Times)
	assert.Equal(t, []string{"b"}, written[0].Messages)
}

func TestScheduleRepository_RemoveSlot_LastSlotDropsRule(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepositoryWithDB(db)
	ctx := context.Background()

	stored := types.NotificationRules{
		{DayOfWeek: 1, Times: []string{"09:00"}, Messages: []string{"stand up"}},
		{DayOfWeek: 3, Times: []string{"18:30"}, Messages: []string{"log off"}},
	}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"user_1"}).
		Return(rulesRow(t, stored))

	var written types.NotificationRules
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			written = args.Get(2).([]any)[0].(types.NotificationRules)
		}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.RemoveSlot(ctx, "user_1", 1, 0)
	require.NoError(t, err)

	// The emptied rule must not be written back; only day 3 survives.
	require.Len(t, written, 1)
	assert.Equal(t, 3, written[0].DayOfWeek)
	for _, rule := range written {
		assert.NotEmpty(t, rule.Times, "no rule may persist with an empty times sequence")
	}
}

func TestScheduleRepository_RemoveSlot_IndexOutOfRange(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepositoryWithDB(db)
	ctx := context.Background()

	stored := types.NotificationRules{
		{DayOfWeek: 2, Times: []string{"08:00"}, Messages: []string{"a"}},
	}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"user_1"}).
		Return(rulesRow(t, stored))

	err := repo.RemoveSlot(ctx, "user_1", 2, 3)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundSlot, appErr.Code)
}

func TestScheduleRepository_RemoveSlot_WrongDay(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepositoryWithDB(db)
	ctx := context.Background()

	stored := types.NotificationRules{
		{DayOfWeek: 2, Times: []string{"08:00"}, Messages: []string{"a"}},
	}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"user_1"}).
		Return(rulesRow(t, stored))

	err := repo.RemoveSlot(ctx, "user_1", 5, 0)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundSlot, appErr.Code)
}

// ============================================================
// ReplaceSlotTime Tests
// ============================================================

func TestScheduleRepository_ReplaceSlotTime_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepositoryWithDB(db)
	ctx := context.Background()

	stored := types.NotificationRules{
		{DayOfWeek: 2, Times: []string{"14:50"}, Messages: []string{"meds"}},
	}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"user_1"}).
		Return(rulesRow(t, stored))

	var written types.NotificationRules
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			written = args.Get(2).([]any)[0].(types.NotificationRules)
		}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.ReplaceSlotTime(ctx, "user_1", 2, "14:50", "15:05", "meds (snoozed)")
	require.NoError(t, err)

	assert.Equal(t, []string{"15:05"}, written[0].Times)
	assert.Equal(t, []string{"meds (snoozed)"}, written[0].Messages)
}

func TestScheduleRepository_ReplaceSlotTime_UnknownTime(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepositoryWithDB(db)
	ctx := context.Background()

	stored := types.NotificationRules{
		{DayOfWeek: 2, Times: []string{"14:50"}, Messages: []string{"meds"}},
	}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"user_1"}).
		Return(rulesRow(t, stored))

	err := repo.ReplaceSlotTime(ctx, "user_1", 2, "09:00", "09:15", "x")
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundSlot, appErr.Code)
}

// ============================================================
// FindByUser Tests
// ============================================================

func TestScheduleRepository_FindByUser_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepositoryWithDB(db)
	ctx := context.Background()

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	rawRules := mustJSON(t, types.NotificationRules{
		{DayOfWeek: 1, Times: []string{"09:00"}, Messages: []string{"stand up"}},
	})

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "user_1"
			*dest[1].(*[]string) = []string{"ExponentPushToken[a]"}
			*dest[2].(*[]byte) = rawRules
			*dest[3].(*time.Time) = now
			*dest[4].(*time.Time) = now
			return nil
		},
	}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"user_1"}).Return(row)

	sched, err := repo.FindByUser(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "user_1", sched.UserID)
	assert.Equal(t, []string{"ExponentPushToken[a]"}, sched.Destinations)
	require.Len(t, sched.Rules, 1)
	assert.Equal(t, []string{"09:00"}, sched.Rules[0].Times)
	assert.Equal(t, now, sched.CreatedAt)
}

func TestScheduleRepository_FindByUser_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepositoryWithDB(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"ghost"}).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.FindByUser(ctx, "ghost")
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundSchedule, appErr.Code)
}

// ============================================================
// DeleteByUser Tests
// ============================================================

func TestScheduleRepository_DeleteByUser_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepositoryWithDB(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"user_1"}).
		Return(pgconn.NewCommandTag("DELETE 1"), nil)

	require.NoError(t, repo.DeleteByUser(ctx, "user_1"))
	db.AssertExpectations(t)
}

func TestScheduleRepository_DeleteByUser_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepositoryWithDB(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"ghost"}).
		Return(pgconn.NewCommandTag("DELETE 0"), nil)

	err := repo.DeleteByUser(ctx, "ghost")
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundSchedule, appErr.Code)
}

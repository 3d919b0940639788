package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/anexgohan/pankha/internal/license"
	"github.com/anexgohan/pankha/internal/models"
	"github.com/anexgohan/pankha/internal/store"
)

var systemColumnNames = []string{
	"id", "agent_id", "name", "hostname", "platform", "agent_version", "capabilities", "auth_token_hash",
	"status", "update_interval_ms", "fan_step_percent", "hysteresis_c", "emergency_temp_c", "failsafe_speed_pct",
	"log_level", "enable_fan_control", "last_seen_at", "created_at", "updated_at",
}

func systemRow(rows *sqlmock.Rows, id string, createdAt time.Time) *sqlmock.Rows {
	return rows.AddRow(id, "agent-"+id, "name-"+id, "host", "linux", "1.0", []byte("{}"), "hash",
		models.SystemStatusOnline, 2000, 5, 3.0, 85.0, 100,
		"info", true, nil, createdAt, createdAt)
}

// setupRegistryTest wires a Registry against a community-tier (1 agent)
// license policy and a database of systemCount systems, queued to satisfy both the
// registry's own refresh query and the license policy's read-only scan
// that Refresh triggers internally.
func setupRegistryTest(t *testing.T, systemCount int) (*Registry, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectQuery("FROM licenses").WillReturnError(errors.New("no rows"))
	mock.ExpectExec("INSERT INTO licenses").WillReturnResult(sqlmock.NewResult(1, 1))

	database := store.NewDatabaseForTesting(mockDB)
	lic, err := license.New(database, nil)
	require.NoError(t, err)

	now := time.Now()
	buildRows := func() *sqlmock.Rows {
		rows := sqlmock.NewRows(systemColumnNames)
		for i := 0; i < systemCount; i++ {
			systemRow(rows, "sys-"+string(rune('1'+i)), now.Add(time.Duration(i)*time.Minute))
		}
		return rows
	}
	mock.ExpectQuery("FROM systems").WillReturnRows(buildRows())
	mock.ExpectQuery("FROM systems").WillReturnRows(buildRows())

	reg, err := New(database, lic)
	require.NoError(t, err)

	return reg, mock, func() { mockDB.Close() }
}

func TestNew_LoadsSystemsAndReadOnlyStatus(t *testing.T) {
	reg, mock, cleanup := setupRegistryTest(t, 2)
	defer cleanup()

	first, ok := reg.Get("sys-1")
	require.True(t, ok)
	require.False(t, first.ReadOnly, "first-registered system is writable under the community tier's 1-agent limit")

	second, ok := reg.Get("sys-2")
	require.True(t, ok)
	require.True(t, second.ReadOnly, "second system exceeds the community tier's agent limit")

	require.Len(t, reg.List(), 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTouchData_RecordsTimestampForKnownSystem(t *testing.T) {
	reg, _, cleanup := setupRegistryTest(t, 1)
	defer cleanup()

	reg.TouchData("sys-1")
	state, ok := reg.Get("sys-1")
	require.True(t, ok)
	require.False(t, state.LastDataReceivedAt.IsZero())
}

func TestTouchData_IgnoresUnknownSystem(t *testing.T) {
	reg, _, cleanup := setupRegistryTest(t, 1)
	defer cleanup()

	reg.TouchData("ghost")
	_, ok := reg.Get("ghost")
	require.False(t, ok)
}

func TestSetStatus_UpdatesInMemoryStatusOnly(t *testing.T) {
	reg, _, cleanup := setupRegistryTest(t, 1)
	defer cleanup()

	reg.SetStatus("sys-1", models.SystemStatusOffline)
	state, ok := reg.Get("sys-1")
	require.True(t, ok)
	require.Equal(t, models.SystemStatusOffline, state.System.Status)
}

func TestSetFanStepPercent_PersistsThenMirrors(t *testing.T) {
	reg, mock, cleanup := setupRegistryTest(t, 1)
	defer cleanup()

	mock.ExpectExec("UPDATE systems SET fan_step_percent").
		WithArgs("sys-1", 10, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := reg.SetFanStepPercent("sys-1", 10)
	require.NoError(t, err)

	state, ok := reg.Get("sys-1")
	require.True(t, ok)
	require.Equal(t, 10, state.System.FanStepPercent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRename_PersistsThenMirrors(t *testing.T) {
	reg, mock, cleanup := setupRegistryTest(t, 1)
	defer cleanup()

	mock.ExpectExec("UPDATE systems SET name").
		WithArgs("sys-1", "new-name", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, reg.Rename("sys-1", "new-name"))

	state, ok := reg.Get("sys-1")
	require.True(t, ok)
	require.Equal(t, "new-name", state.System.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefresh_PreservesLastDataReceivedAtAcrossReload(t *testing.T) {
	reg, mock, cleanup := setupRegistryTest(t, 1)
	defer cleanup()

	reg.TouchData("sys-1")
	before, _ := reg.Get("sys-1")
	touchedAt := before.LastDataReceivedAt

	now := time.Now()
	rows := sqlmock.NewRows(systemColumnNames)
	systemRow(rows, "sys-1", now)
	mock.ExpectQuery("FROM systems").WillReturnRows(rows)
	rows2 := sqlmock.NewRows(systemColumnNames)
	systemRow(rows2, "sys-1", now)
	mock.ExpectQuery("FROM systems").WillReturnRows(rows2)

	require.NoError(t, reg.Refresh())

	after, ok := reg.Get("sys-1")
	require.True(t, ok)
	require.Equal(t, touchedAt, after.LastDataReceivedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

package gateway

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/anexgohan/pankha/internal/auth"
	"github.com/anexgohan/pankha/internal/models"
	"github.com/anexgohan/pankha/internal/store"
)

func setupHandlerTest(t *testing.T) (*Handler, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	database := store.NewDatabaseForTesting(mockDB)
	hub := NewHub(database, make(chan Event, 8))
	h := NewHandler(hub, database)
	return h, mock, func() { mockDB.Close() }
}

var systemColumnNames = []string{
	"id", "agent_id", "name", "hostname", "platform", "agent_version", "capabilities", "auth_token_hash",
	"status", "update_interval_ms", "fan_step_percent", "hysteresis_c", "emergency_temp_c", "failsafe_speed_pct",
	"log_level", "enable_fan_control", "last_seen_at", "created_at", "updated_at",
}

func existingSystemRow(id, agentID, name, tokenHash string) *sqlmock.Rows {
	return sqlmock.NewRows(systemColumnNames).AddRow(
		id, agentID, name, "host", "linux", "1.0", []byte("{}"), tokenHash,
		models.SystemStatusOnline, 2000, 10, 4.0, 80.0, 90,
		"warn", false, nil, time.Now(), time.Now())
}

func TestAdmitSystem_NewAgentGetsFreshIdentityAndHashedToken(t *testing.T) {
	h, mock, cleanup := setupHandlerTest(t)
	defer cleanup()

	mock.ExpectQuery("FROM systems").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO systems").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FROM systems").WillReturnRows(
		existingSystemRow("new-id", "agent-new", "new-host", "some-hash"))

	sys, err := h.admitSystem(models.RegisterPayload{
		AgentID: "agent-new", Hostname: "new-host", AuthToken: "secret-token",
	})
	require.NoError(t, err)
	require.Equal(t, "new-id", sys.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmitSystem_ReregistrationPreservesNegotiatedSettingsAndName(t *testing.T) {
	h, mock, cleanup := setupHandlerTest(t)
	defer cleanup()

	hash, err := auth.HashAgentToken("correct-token")
	require.NoError(t, err)

	mock.ExpectQuery("FROM systems").WillReturnRows(
		existingSystemRow("existing-id", "agent-1", "user-renamed", hash))
	mock.ExpectExec("INSERT INTO systems").
		WithArgs("existing-id", "agent-1", "user-renamed", "new-hostname", sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), hash, models.SystemStatusOnline, sqlmock.AnyArg(),
			10, 4.0, 80.0, 90, "warn", false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FROM systems").WillReturnRows(
		existingSystemRow("existing-id", "agent-1", "user-renamed", hash))

	sys, err := h.admitSystem(models.RegisterPayload{
		AgentID: "agent-1", AgentName: "ignored-on-reregister", Hostname: "new-hostname", AuthToken: "correct-token",
	})
	require.NoError(t, err)
	require.Equal(t, "existing-id", sys.ID)
	require.Equal(t, "user-renamed", sys.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmitSystem_ReregistrationRejectsWrongToken(t *testing.T) {
	h, mock, cleanup := setupHandlerTest(t)
	defer cleanup()

	hash, err := auth.HashAgentToken("correct-token")
	require.NoError(t, err)

	mock.ExpectQuery("FROM systems").WillReturnRows(
		existingSystemRow("existing-id", "agent-1", "user-renamed", hash))

	_, err = h.admitSystem(models.RegisterPayload{
		AgentID: "agent-1", Hostname: "new-hostname", AuthToken: "wrong-token",
	})
	require.ErrorIs(t, err, errAuthTokenMismatch)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmitSystem_DefaultsUpdateIntervalWhenUnset(t *testing.T) {
	h, mock, cleanup := setupHandlerTest(t)
	defer cleanup()

	mock.ExpectQuery("FROM systems").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO systems").
		WithArgs(sqlmock.AnyArg(), "agent-2", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), models.SystemStatusOnline, 2000,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FROM systems").WillReturnRows(
		existingSystemRow("new-id-2", "agent-2", "host-2", "some-hash"))

	_, err := h.admitSystem(models.RegisterPayload{AgentID: "agent-2", Hostname: "host-2"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

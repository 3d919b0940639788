package dispatch

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/anexgohan/pankha/internal/gateway"
	"github.com/anexgohan/pankha/internal/models"
	"github.com/anexgohan/pankha/internal/store"
)

func setupDispatcherTest(t *testing.T) (*Dispatcher, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	database := store.NewDatabaseForTesting(mockDB)
	hub := gateway.NewHub(database, make(chan gateway.Event, 8))
	d := New(database, hub)

	return d, mock, func() { mockDB.Close() }
}

func TestEnqueue_FailsImmediatelyWhenAgentNotConnected(t *testing.T) {
	d, mock, cleanup := setupDispatcherTest(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO agent_commands").
		WithArgs(sqlmock.AnyArg(), "sys-1", models.ServerMsgSetFanSpeed, models.PriorityNormal, sqlmock.AnyArg(),
			models.CommandStatusFailed, 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	cmd, err := d.Enqueue("sys-1", "agent-1", models.PriorityNormal, models.ServerMsgSetFanSpeed,
		map[string]int{"speedPercent": 50}, "fan-1")
	require.NoError(t, err)
	require.Equal(t, models.CommandStatusFailed, cmd.Status)
	require.Equal(t, "agent is not connected", cmd.ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleCommandResponse_UnknownCommandIsIgnored(t *testing.T) {
	d, mock, cleanup := setupDispatcherTest(t)
	defer cleanup()

	d.HandleCommandResponse("sys-1", models.CommandResponsePayload{CommandID: "does-not-exist", Success: true})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleCommandResponse_ReconcilesTrackedCommand(t *testing.T) {
	d, mock, cleanup := setupDispatcherTest(t)
	defer cleanup()

	cmd := &models.Command{ID: "cmd-1", SystemID: "sys-1", Priority: models.PriorityNormal}
	d.trackPending(cmd, "sys-1:fan-1")

	mock.ExpectExec("UPDATE agent_commands").
		WithArgs("cmd-1", models.CommandStatusAcked, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	d.HandleCommandResponse("sys-1", models.CommandResponsePayload{CommandID: "cmd-1", Success: true})

	d.mu.Lock()
	_, stillTracked := d.inflight["cmd-1"]
	_, stillSuperseding := d.bySpeedKey["sys-1:fan-1"]
	d.mu.Unlock()
	require.False(t, stillTracked)
	require.False(t, stillSuperseding)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleCommandResponse_FailureIsRecordedWithError(t *testing.T) {
	d, mock, cleanup := setupDispatcherTest(t)
	defer cleanup()

	cmd := &models.Command{ID: "cmd-2", SystemID: "sys-1", Priority: models.PriorityNormal}
	d.trackPending(cmd, "")

	mock.ExpectExec("UPDATE agent_commands").
		WithArgs("cmd-2", models.CommandStatusFailed, "write failed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	d.HandleCommandResponse("sys-1", models.CommandResponsePayload{CommandID: "cmd-2", Success: false, Error: "write failed"})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSupersede_MarksPriorPendingCommandAsSuperseded(t *testing.T) {
	d, mock, cleanup := setupDispatcherTest(t)
	defer cleanup()

	prev := &models.Command{ID: "cmd-old", SystemID: "sys-1", Priority: models.PriorityNormal, Status: models.CommandStatusPending}
	d.trackPending(prev, "sys-1:fan-1")
	d.bySpeedKey["sys-1:fan-1"] = "cmd-old"

	mock.ExpectExec("UPDATE agent_commands").
		WithArgs("cmd-old", models.CommandStatusSuperseded, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	d.supersede("sys-1:fan-1", "cmd-new")

	d.mu.Lock()
	_, oldStillTracked := d.inflight["cmd-old"]
	current := d.bySpeedKey["sys-1:fan-1"]
	d.mu.Unlock()
	require.False(t, oldStillTracked)
	require.Equal(t, "cmd-new", current)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSupersede_LeavesAlreadySentCommandInFlight(t *testing.T) {
	d, mock, cleanup := setupDispatcherTest(t)
	defer cleanup()

	prev := &models.Command{ID: "cmd-old", SystemID: "sys-1", Priority: models.PriorityNormal, Status: models.CommandStatusSent}
	d.trackPending(prev, "sys-1:fan-1")
	d.bySpeedKey["sys-1:fan-1"] = "cmd-old"

	d.supersede("sys-1:fan-1", "cmd-new")

	d.mu.Lock()
	_, oldStillTracked := d.inflight["cmd-old"]
	current := d.bySpeedKey["sys-1:fan-1"]
	d.mu.Unlock()
	require.True(t, oldStillTracked, "a command already sent to the agent must not be superseded")
	require.Equal(t, "cmd-new", current)
	require.NoError(t, mock.ExpectationsWereMet(), "no UPDATE should be issued for a command that wasn't superseded")
}

package gateway

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/anexgohan/pankha/internal/store"
)

func setupHubTest(t *testing.T) (*Hub, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	database := store.NewDatabaseForTesting(mockDB)
	hub := NewHub(database, make(chan Event, 8))
	return hub, mock, func() { mockDB.Close() }
}

func TestHandleRegister_ReplacesExistingConnectionForSameAgent(t *testing.T) {
	hub, mock, cleanup := setupHubTest(t)
	defer cleanup()

	mock.ExpectExec("UPDATE systems SET status").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE systems SET status").WillReturnResult(sqlmock.NewResult(1, 1))

	first := &AgentConnection{AgentID: "agent-1", SystemID: "sys-1", Conn: &websocket.Conn{}, Send: make(chan []byte, 4)}
	hub.handleRegister(first)
	require.True(t, hub.IsAgentConnected("agent-1"))

	second := &AgentConnection{AgentID: "agent-1", SystemID: "sys-1", Conn: &websocket.Conn{}, Send: make(chan []byte, 4)}
	hub.handleRegister(second)

	require.True(t, hub.IsAgentConnected("agent-1"))
	require.Same(t, second, hub.GetConnection("agent-1"))

	_, open := <-first.Send
	require.False(t, open, "the replaced connection's send channel should be closed")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleUnregister_RemovesConnectionAndEmitsOfflineEvent(t *testing.T) {
	hub, mock, cleanup := setupHubTest(t)
	defer cleanup()

	mock.ExpectExec("UPDATE systems SET status").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE systems SET status").WillReturnResult(sqlmock.NewResult(1, 1))

	conn := &AgentConnection{AgentID: "agent-1", SystemID: "sys-1", Conn: &websocket.Conn{}, Send: make(chan []byte, 4)}
	hub.handleRegister(conn)
	hub.handleUnregister("agent-1")

	require.False(t, hub.IsAgentConnected("agent-1"))

	select {
	case ev := <-hub.events:
		require.Equal(t, EventAgentOffline, ev.Type)
		require.Equal(t, "agent-1", ev.AgentID)
	case <-time.After(time.Second):
		t.Fatal("expected an offline event")
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsAgentConnected_FalseForUnknownAgent(t *testing.T) {
	hub, _, cleanup := setupHubTest(t)
	defer cleanup()

	require.False(t, hub.IsAgentConnected("never-registered"))
	require.Nil(t, hub.GetConnection("never-registered"))
}

func TestRegisterAgent_RejectsEmptyAgentID(t *testing.T) {
	hub, _, cleanup := setupHubTest(t)
	defer cleanup()

	err := hub.RegisterAgent(&AgentConnection{AgentID: "", Conn: &websocket.Conn{}})
	require.Error(t, err)
}

func TestRegisterAgent_RejectsNilConnection(t *testing.T) {
	hub, _, cleanup := setupHubTest(t)
	defer cleanup()

	err := hub.RegisterAgent(&AgentConnection{AgentID: "agent-1", Conn: nil})
	require.Error(t, err)
}

func TestSendEnvelope_FailsWhenAgentNotConnected(t *testing.T) {
	hub, _, cleanup := setupHubTest(t)
	defer cleanup()

	err := hub.SendEnvelope("ghost", "command", map[string]string{"a": "b"})
	require.Error(t, err)
}

func TestCheckStaleConnections_EvictsConnectionPastStaleTimeout(t *testing.T) {
	hub, mock, cleanup := setupHubTest(t)
	defer cleanup()

	mock.ExpectExec("UPDATE systems SET status").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE systems SET status").WillReturnResult(sqlmock.NewResult(1, 1))

	conn := &AgentConnection{
		AgentID: "agent-1", SystemID: "sys-1", Conn: &websocket.Conn{}, Send: make(chan []byte, 4),
		UpdateIntervalMs: 1, LastPing: time.Now().Add(-time.Hour),
	}
	hub.handleRegister(conn)

	hub.checkStaleConnections()

	select {
	case agentID := <-hub.unregister:
		require.Equal(t, "agent-1", agentID)
		hub.handleUnregister(agentID)
	case <-time.After(time.Second):
		t.Fatal("expected the stale connection to be queued for eviction")
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

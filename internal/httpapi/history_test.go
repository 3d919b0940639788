package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/anexgohan/pankha/internal/models"
)

func TestGetHistory_NotFoundForUnknownSystem(t *testing.T) {
	api, _, cleanup := setupAPITest(t)
	defer cleanup()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/systems/ghost/history", nil)
	c.Params = gin.Params{{Key: "id", Value: "ghost"}}

	api.getHistory(c)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetHistory_ClampsFromToTierRetentionWindow(t *testing.T) {
	api, mock, cleanup := setupAPITest(t, models.SystemStatusOnline)
	defer cleanup()

	mock.ExpectQuery("FROM monitoring_data").
		WillReturnRows(sqlmock.NewRows([]string{"id", "recorded_at", "sensors", "fans", "cpu_usage", "memory_usage"}))

	tooEarly := time.Now().AddDate(0, 0, -365).Format(time.RFC3339)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/systems/sys-1/history?from="+tooEarly, nil)
	c.Params = gin.Params{{Key: "id", Value: "sys-1"}}

	api.getHistory(c)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	from, err := time.Parse(time.RFC3339, resp["from"].(string))
	require.NoError(t, err)
	require.True(t, from.After(time.Now().AddDate(0, 0, -365)))
	require.NoError(t, mock.ExpectationsWereMet())
}

package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/anexgohan/pankha/internal/middleware"
	"github.com/anexgohan/pankha/internal/store"
)

func setupSettingsTest(t *testing.T) (*API, sqlmock.Sqlmock, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	database := store.NewDatabaseForTesting(mockDB)
	api := &API{database: database, sanitizer: middleware.NewInputValidator()}
	return api, mock, func() { mockDB.Close() }
}

func TestGetSetting_RejectsKeyNotOnWhitelist(t *testing.T) {
	api, _, cleanup := setupSettingsTest(t)
	defer cleanup()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/settings/not_a_real_setting", nil)
	c.Params = gin.Params{{Key: "key", Value: "not_a_real_setting"}}

	api.getSetting(c)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSetting_ReturnsValueWhenPresent(t *testing.T) {
	api, mock, cleanup := setupSettingsTest(t)
	defer cleanup()

	mock.ExpectQuery("FROM backend_settings").
		WithArgs("accent_color").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`"#ff0000"`)))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/settings/accent_color", nil)
	c.Params = gin.Params{{Key: "key", Value: "accent_color"}}

	api.getSetting(c)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "#ff0000", resp["value"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutSetting_PersistsWhitelistedKey(t *testing.T) {
	api, mock, cleanup := setupSettingsTest(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO backend_settings").
		WithArgs("accent_color", []byte(`"#00ff00"`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	body, _ := json.Marshal(putSettingRequest{Value: "#00ff00"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPut, "/api/settings/accent_color", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "key", Value: "accent_color"}}

	api.putSetting(c)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutSettings_RejectsUnknownKeyInBatch(t *testing.T) {
	api, _, cleanup := setupSettingsTest(t)
	defer cleanup()

	body, _ := json.Marshal(map[string]interface{}{"rogue_key": "x"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPut, "/api/settings", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	api.putSettings(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

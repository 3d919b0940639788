package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anexgohan/pankha/internal/models"
)

// UpsertSystem creates a system row on first registration, or updates
// the mutable fields (name stays untouched — see SetSystemName) on a
// returning agent's registration.
func (d *Database) UpsertSystem(sys *models.System) error {
	caps, err := json.Marshal(sys.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}

	fanStepPercent := sys.FanStepPercent
	if fanStepPercent == 0 {
		fanStepPercent = 5
	}
	hysteresisC := sys.HysteresisC
	if hysteresisC == 0 {
		hysteresisC = 3.0
	}
	emergencyTempC := sys.EmergencyTempC
	if emergencyTempC == 0 {
		emergencyTempC = 85.0
	}
	failsafeSpeedPct := sys.FailsafeSpeedPct
	if failsafeSpeedPct == 0 {
		failsafeSpeedPct = 100
	}
	logLevel := sys.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}

	_, err = d.db.Exec(`
		INSERT INTO systems (
			id, agent_id, name, hostname, platform, agent_version, capabilities, auth_token_hash, status, update_interval_ms,
			fan_step_percent, hysteresis_c, emergency_temp_c, failsafe_speed_pct, log_level, enable_fan_control,
			last_seen_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
		ON CONFLICT (agent_id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			platform = EXCLUDED.platform,
			agent_version = EXCLUDED.agent_version,
			capabilities = EXCLUDED.capabilities,
			status = EXCLUDED.status,
			update_interval_ms = EXCLUDED.update_interval_ms,
			last_seen_at = EXCLUDED.last_seen_at,
			updated_at = EXCLUDED.last_seen_at
	`, sys.ID, sys.AgentID, sys.Name, sys.Hostname, sys.Platform, sys.AgentVersion, caps, sys.AuthTokenHash, sys.Status, sys.UpdateIntervalMs,
		fanStepPercent, hysteresisC, emergencyTempC, failsafeSpeedPct, logLevel, sys.EnableFanControl, sys.LastSeenAt, time.Now())
	return err
}

// SetFanStepPercent optimistically updates the negotiated fan-step
// setting, persisted immediately so reconnects see it even before the
// agent acknowledges the corresponding command.
func (d *Database) SetFanStepPercent(id string, percent int) error {
	_, err := d.db.Exec(`UPDATE systems SET fan_step_percent = $2, updated_at = $3 WHERE id = $1`, id, percent, time.Now())
	return err
}

// SetHysteresisC optimistically updates the negotiated hysteresis setting.
func (d *Database) SetHysteresisC(id string, hysteresisC float64) error {
	_, err := d.db.Exec(`UPDATE systems SET hysteresis_c = $2, updated_at = $3 WHERE id = $1`, id, hysteresisC, time.Now())
	return err
}

// SetEmergencyTempC optimistically updates the negotiated emergency threshold.
func (d *Database) SetEmergencyTempC(id string, tempC float64) error {
	_, err := d.db.Exec(`UPDATE systems SET emergency_temp_c = $2, updated_at = $3 WHERE id = $1`, id, tempC, time.Now())
	return err
}

// SetFailsafeSpeedPct optimistically updates the negotiated failsafe speed.
func (d *Database) SetFailsafeSpeedPct(id string, percent int) error {
	_, err := d.db.Exec(`UPDATE systems SET failsafe_speed_pct = $2, updated_at = $3 WHERE id = $1`, id, percent, time.Now())
	return err
}

// SetLogLevel optimistically updates the negotiated agent log level.
func (d *Database) SetLogLevel(id, level string) error {
	_, err := d.db.Exec(`UPDATE systems SET log_level = $2, updated_at = $3 WHERE id = $1`, id, level, time.Now())
	return err
}

// SetEnableFanControl optimistically toggles agent-side fan control.
func (d *Database) SetEnableFanControl(id string, enabled bool) error {
	_, err := d.db.Exec(`UPDATE systems SET enable_fan_control = $2, updated_at = $3 WHERE id = $1`, id, enabled, time.Now())
	return err
}

// GetSystemByAgentID fetches a system by its agent-supplied identifier.
func (d *Database) GetSystemByAgentID(agentID string) (*models.System, error) {
	row := d.db.QueryRow(`
		SELECT ` + systemColumns + `
		FROM systems WHERE agent_id = $1
	`, agentID)
	return scanSystem(row)
}

// GetSystem fetches a system by its primary key.
func (d *Database) GetSystem(id string) (*models.System, error) {
	row := d.db.QueryRow(`
		SELECT ` + systemColumns + `
		FROM systems WHERE id = $1
	`, id)
	return scanSystem(row)
}

// ListSystemsByCreationOrder returns every system ordered by
// (created_at, id) ascending — the canonical order used by the license
// admission policy to decide which systems are read-only.
func (d *Database) ListSystemsByCreationOrder() ([]*models.System, error) {
	rows, err := d.db.Query(`
		SELECT ` + systemColumns + `
		FROM systems ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.System
	for rows.Next() {
		sys, err := scanSystemRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sys)
	}
	return out, rows.Err()
}

// SetSystemStatus updates status (and updated_at); last_seen_at is left
// to TouchSystemHeartbeat.
func (d *Database) SetSystemStatus(id, status string) error {
	_, err := d.db.Exec(`UPDATE systems SET status = $2, updated_at = $3 WHERE id = $1`, id, status, time.Now())
	return err
}

// TouchSystemHeartbeat updates last_seen_at for a connected system.
func (d *Database) TouchSystemHeartbeat(id string) error {
	now := time.Now()
	_, err := d.db.Exec(`UPDATE systems SET last_seen_at = $2, status = $3, updated_at = $2 WHERE id = $1`, id, now, models.SystemStatusOnline)
	return err
}

// SetSystemName renames a system (the one user-editable identity field).
func (d *Database) SetSystemName(id, name string) error {
	_, err := d.db.Exec(`UPDATE systems SET name = $2, updated_at = $3 WHERE id = $1`, id, name, time.Now())
	return err
}

// SetSystemUpdateInterval persists the agent's reporting interval.
func (d *Database) SetSystemUpdateInterval(id string, ms int) error {
	_, err := d.db.Exec(`UPDATE systems SET update_interval_ms = $2, updated_at = $3 WHERE id = $1`, id, ms, time.Now())
	return err
}

const systemColumns = `id, agent_id, name, hostname, platform, agent_version, capabilities, auth_token_hash,
	status, update_interval_ms, fan_step_percent, hysteresis_c, emergency_temp_c, failsafe_speed_pct,
	log_level, enable_fan_control, last_seen_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSystem(row *sql.Row) (*models.System, error) {
	return scanSystemRows(row)
}

func scanSystemRows(row rowScanner) (*models.System, error) {
	var sys models.System
	var capsRaw []byte
	var lastSeen sql.NullTime
	err := row.Scan(
		&sys.ID, &sys.AgentID, &sys.Name, &sys.Hostname, &sys.Platform, &sys.AgentVersion, &capsRaw, &sys.AuthTokenHash,
		&sys.Status, &sys.UpdateIntervalMs, &sys.FanStepPercent, &sys.HysteresisC, &sys.EmergencyTempC, &sys.FailsafeSpeedPct,
		&sys.LogLevel, &sys.EnableFanControl, &lastSeen, &sys.CreatedAt, &sys.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(capsRaw) > 0 {
		_ = json.Unmarshal(capsRaw, &sys.Capabilities)
	}
	if lastSeen.Valid {
		sys.LastSeenAt = lastSeen.Time
	}
	return &sys, nil
}

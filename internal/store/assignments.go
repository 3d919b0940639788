package store

import "time"

// FanAssignmentRow mirrors models.FanAssignment for query convenience.
type FanAssignmentRow struct {
	ID        string
	SystemID  string
	FanID     string
	SensorID  string
	ProfileID string
}

// UpsertFanAssignment binds a fan to a sensor and profile, replacing any
// existing assignment for that fan.
func (d *Database) UpsertFanAssignment(a FanAssignmentRow) error {
	now := time.Now()
	_, err := d.db.Exec(`
		INSERT INTO fan_profile_assignments (id, system_id, fan_id, sensor_id, profile_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (system_id, fan_id) DO UPDATE SET
			sensor_id = EXCLUDED.sensor_id,
			profile_id = EXCLUDED.profile_id,
			updated_at = EXCLUDED.updated_at
	`, a.ID, a.SystemID, a.FanID, a.SensorID, a.ProfileID, now)
	return err
}

// ClearFanAssignment removes a fan's assignment, returning it to manual control.
func (d *Database) ClearFanAssignment(systemID, fanID string) error {
	_, err := d.db.Exec(`DELETE FROM fan_profile_assignments WHERE system_id = $1 AND fan_id = $2`, systemID, fanID)
	return err
}

// ListFanAssignments returns every assignment active on a system.
func (d *Database) ListFanAssignments(systemID string) ([]FanAssignmentRow, error) {
	rows, err := d.db.Query(`
		SELECT id, system_id, fan_id, sensor_id, profile_id FROM fan_profile_assignments WHERE system_id = $1
	`, systemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FanAssignmentRow
	for rows.Next() {
		var a FanAssignmentRow
		if err := rows.Scan(&a.ID, &a.SystemID, &a.FanID, &a.SensorID, &a.ProfileID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListAllActiveAssignments returns every assignment across every
// system, joined with the owning system's status and the fan's PWM
// capability, in one round trip — the controller tick's single query
// over every assignment it needs to evaluate.
func (d *Database) ListAllActiveAssignments() ([]ActiveAssignment, error) {
	rows, err := d.db.Query(`
		SELECT a.id, a.system_id, a.fan_id, a.sensor_id, a.profile_id, s.status, s.agent_id, f.has_pwm_control, f.min_speed_pct, f.max_speed_pct, f.last_speed_pct
		FROM fan_profile_assignments a
		JOIN systems s ON s.id = a.system_id
		JOIN fans f ON f.id = a.fan_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActiveAssignment
	for rows.Next() {
		var a ActiveAssignment
		if err := rows.Scan(&a.ID, &a.SystemID, &a.FanID, &a.SensorID, &a.ProfileID, &a.SystemStatus, &a.AgentID, &a.HasPWMControl, &a.MinSpeedPct, &a.MaxSpeedPct, &a.LastSpeedPct); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ActiveAssignment is one fan-profile binding with enough of its owning
// system and fan joined in to drive a controller tick without further
// queries.
type ActiveAssignment struct {
	ID            string
	SystemID      string
	FanID         string
	SensorID      string
	ProfileID     string
	SystemStatus  string
	AgentID       string
	HasPWMControl bool
	MinSpeedPct   int
	MaxSpeedPct   int
	LastSpeedPct  int
}

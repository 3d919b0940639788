package store

import (
	"time"

	"github.com/anexgohan/pankha/internal/models"
)

// InsertCommand records a dispatched command for audit and crash recovery.
func (d *Database) InsertCommand(c *models.Command) error {
	now := time.Now()
	_, err := d.db.Exec(`
		INSERT INTO agent_commands (id, system_id, type, priority, payload, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, c.ID, c.SystemID, c.Type, c.Priority, c.Payload, c.Status, c.Attempts, now)
	return err
}

// UpdateCommandStatus transitions a command's recorded status.
func (d *Database) UpdateCommandStatus(id, status, errMsg string) error {
	_, err := d.db.Exec(`
		UPDATE agent_commands SET status = $2, error_message = $3, updated_at = $4 WHERE id = $1
	`, id, status, errMsg, time.Now())
	return err
}

// IncrementCommandAttempts bumps a command's retry counter.
func (d *Database) IncrementCommandAttempts(id string) error {
	_, err := d.db.Exec(`UPDATE agent_commands SET attempts = attempts + 1, updated_at = $2 WHERE id = $1`, id, time.Now())
	return err
}

// ListPendingCommands returns commands left pending or sent across a
// restart, ordered for re-enqueue (oldest first).
func (d *Database) ListPendingCommands() ([]*models.Command, error) {
	rows, err := d.db.Query(`
		SELECT id, system_id, type, priority, payload, status, attempts, created_at, updated_at
		FROM agent_commands WHERE status IN ($1, $2) ORDER BY created_at ASC
	`, models.CommandStatusPending, models.CommandStatusSent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Command
	for rows.Next() {
		var c models.Command
		if err := rows.Scan(&c.ID, &c.SystemID, &c.Type, &c.Priority, &c.Payload, &c.Status, &c.Attempts, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

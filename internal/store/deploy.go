package store

import "time"

// DeploymentTemplate records a generated installer so its usage can be
// tracked; the bearer token handed to the operator is a signed JWT
// referencing the template id, not a column on this table.
type DeploymentTemplate struct {
	ID        string
	Name      string
	Platform  string
	Script    string
	UsedCount int
	CreatedAt time.Time
}

// CreateDeploymentTemplate persists a new installer template.
func (d *Database) CreateDeploymentTemplate(t *DeploymentTemplate) error {
	_, err := d.db.Exec(`
		INSERT INTO deployment_templates (id, name, platform, script, used_count, created_at)
		VALUES ($1, $2, $3, $4, 0, $5)
	`, t.ID, t.Name, t.Platform, t.Script, time.Now())
	return err
}

// GetDeploymentTemplate loads a template by id.
func (d *Database) GetDeploymentTemplate(id string) (*DeploymentTemplate, error) {
	var t DeploymentTemplate
	t.ID = id
	err := d.db.QueryRow(`
		SELECT name, platform, script, used_count, created_at FROM deployment_templates WHERE id = $1
	`, id).Scan(&t.Name, &t.Platform, &t.Script, &t.UsedCount, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// IncrementDeploymentUsedCount records one more installer download
// against a template, used for operator-facing usage counts.
func (d *Database) IncrementDeploymentUsedCount(id string) error {
	_, err := d.db.Exec(`UPDATE deployment_templates SET used_count = used_count + 1 WHERE id = $1`, id)
	return err
}

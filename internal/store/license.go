package store

import (
	"database/sql"
	"time"

	"github.com/anexgohan/pankha/internal/models"
)

// SaveLicenseCache upserts the single-row last-known-good license
// validation result. Callers key on a fixed ID ("current").
func (d *Database) SaveLicenseCache(l *models.LicenseCache) error {
	now := time.Now()
	_, err := d.db.Exec(`
		INSERT INTO licenses (id, license_key, tier, agent_limit, retention_days, valid, last_validated_at, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (id) DO UPDATE SET
			license_key = EXCLUDED.license_key,
			tier = EXCLUDED.tier,
			agent_limit = EXCLUDED.agent_limit,
			retention_days = EXCLUDED.retention_days,
			valid = EXCLUDED.valid,
			last_validated_at = EXCLUDED.last_validated_at,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`, l.ID, l.LicenseKey, string(l.Tier), l.AgentLimit, l.RetentionDays, l.Valid, l.LastValidatedAt, l.ExpiresAt, now)
	return err
}

// GetLicenseCache loads the cached license row, if one exists.
func (d *Database) GetLicenseCache(id string) (*models.LicenseCache, error) {
	var l models.LicenseCache
	var tier string
	var agentLimit sql.NullInt64
	var expiresAt sql.NullTime
	err := d.db.QueryRow(`
		SELECT id, license_key, tier, agent_limit, retention_days, valid, last_validated_at, expires_at, created_at, updated_at
		FROM licenses WHERE id = $1
	`, id).Scan(&l.ID, &l.LicenseKey, &tier, &agentLimit, &l.RetentionDays, &l.Valid, &l.LastValidatedAt, &expiresAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.Tier = models.LicenseTier(tier)
	if agentLimit.Valid {
		n := int(agentLimit.Int64)
		l.AgentLimit = &n
	}
	if expiresAt.Valid {
		l.ExpiresAt = &expiresAt.Time
	}
	return &l, nil
}

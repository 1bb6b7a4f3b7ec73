package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"helpdesk-sync/internal/models"
)

// CreateContactPoint registers an address for a user. Registering the same
// address twice is a no-op that reports false.
func (d *DB) CreateContactPoint(ctx context.Context, cp *models.ContactPoint) (bool, error) {
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.Status == "" {
		cp.Status = "active"
	}
	cp.CreatedAt = time.Now().UTC()

	res, err := d.ExecContext(ctx, d.q(`
	INSERT INTO contact_points (id, user_id, type, address, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (user_id, type, address) DO NOTHING`),
		cp.ID, cp.UserID, cp.Type, cp.Address, cp.Status, cp.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to create contact point: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetContactPointsByUserID returns the active contact points of a user of
// the given type.
func (d *DB) GetContactPointsByUserID(ctx context.Context, userID int64, typ string) ([]models.ContactPoint, error) {
	cps := []models.ContactPoint{}
	err := d.SelectContext(ctx, &cps, d.q(`
	SELECT id, user_id, type, address, status, created_at
	FROM contact_points WHERE user_id = ? AND type = ? AND status = 'active'
	ORDER BY created_at`), userID, typ)
	if err != nil {
		return nil, fmt.Errorf("failed to get contact points for user_id %d: %w", userID, err)
	}
	return cps, nil
}

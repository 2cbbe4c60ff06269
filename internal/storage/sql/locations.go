package sql

import (
	"context"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
)

// ============================================
// Locations
// ============================================

const locationColumns = `id, name, address, acl_enabled, acl_default_allow, created_at, updated_at`

func (q queries) CreateLocation(ctx context.Context, loc *domain.Location) error {
	err := q.db.GetContext(ctx, &loc.ID,
		`INSERT INTO locations (name, address, acl_enabled, acl_default_allow, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		loc.Name, loc.Address, loc.ACLEnabled, loc.ACLDefaultAllow, loc.CreatedAt, loc.UpdatedAt)
	return wrapUniqueError(err)
}

func (q queries) GetLocation(ctx context.Context, id int64) (*domain.Location, error) {
	var loc domain.Location
	err := q.db.GetContext(ctx, &loc, `SELECT `+locationColumns+` FROM locations WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &loc, nil
}

func (q queries) ListLocations(ctx context.Context) ([]*domain.Location, error) {
	var locs []*domain.Location
	err := q.db.SelectContext(ctx, &locs, `SELECT `+locationColumns+` FROM locations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return locs, nil
}

func (q queries) UpdateLocation(ctx context.Context, loc *domain.Location) error {
	result, err := q.db.ExecContext(ctx,
		`UPDATE locations SET name = $1, address = $2, acl_enabled = $3, acl_default_allow = $4, updated_at = $5
		 WHERE id = $6`,
		loc.Name, loc.Address, loc.ACLEnabled, loc.ACLDefaultAllow, loc.UpdatedAt, loc.ID)
	if err != nil {
		return wrapUniqueError(err)
	}
	return checkAffected(result)
}

func (q queries) DeleteLocation(ctx context.Context, id int64) error {
	result, err := q.db.ExecContext(ctx, `DELETE FROM locations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if err := checkAffected(result); err != nil {
		return err
	}
	if _, err := q.db.ExecContext(ctx,
		`DELETE FROM acl_rule_refs WHERE kind = $1 AND ref_id = $2`, refLocation, id); err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `DELETE FROM device_addresses WHERE location_id = $1`, id)
	return err
}

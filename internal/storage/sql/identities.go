package sql

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
)

// ============================================
// Identities
// ============================================

type memberRow struct {
	GroupID int64 `db:"group_id"`
	UserID  int64 `db:"user_id"`
}

type addressRow struct {
	DeviceID   int64  `db:"device_id"`
	LocationID int64  `db:"location_id"`
	Address    string `db:"address"`
}

func (q queries) GetIdentities(ctx context.Context) (*domain.Identities, error) {
	ids := &domain.Identities{
		Users:     []domain.User{},
		Groups:    []domain.Group{},
		Devices:   []domain.Device{},
		Addresses: []domain.DeviceAddress{},
	}
	if err := q.db.SelectContext(ctx, &ids.Users, `SELECT id, username, active FROM users ORDER BY id`); err != nil {
		return nil, err
	}
	if err := q.db.SelectContext(ctx, &ids.Groups, `SELECT id, name FROM user_groups ORDER BY id`); err != nil {
		return nil, err
	}
	if err := q.db.SelectContext(ctx, &ids.Devices, `SELECT id, name, user_id FROM devices ORDER BY id`); err != nil {
		return nil, err
	}

	var members []memberRow
	if err := q.db.SelectContext(ctx, &members,
		`SELECT group_id, user_id FROM group_members ORDER BY group_id, user_id`); err != nil {
		return nil, err
	}
	groupIdx := make(map[int64]int, len(ids.Groups))
	for i, g := range ids.Groups {
		groupIdx[g.ID] = i
	}
	for _, m := range members {
		if i, ok := groupIdx[m.GroupID]; ok {
			ids.Groups[i].Members = append(ids.Groups[i].Members, m.UserID)
		}
	}

	var addrs []addressRow
	if err := q.db.SelectContext(ctx, &addrs,
		`SELECT device_id, location_id, address FROM device_addresses ORDER BY device_id, location_id, seq`); err != nil {
		return nil, err
	}
	for _, row := range addrs {
		addr, err := netip.ParseAddr(row.Address)
		if err != nil {
			return nil, fmt.Errorf("device %d address %q: %w", row.DeviceID, row.Address, err)
		}
		n := len(ids.Addresses)
		if n > 0 && ids.Addresses[n-1].DeviceID == row.DeviceID && ids.Addresses[n-1].LocationID == row.LocationID {
			ids.Addresses[n-1].Addresses = append(ids.Addresses[n-1].Addresses, addr)
			continue
		}
		ids.Addresses = append(ids.Addresses, domain.DeviceAddress{
			DeviceID:   row.DeviceID,
			LocationID: row.LocationID,
			Addresses:  []netip.Addr{addr},
		})
	}
	return ids, nil
}

// ReplaceIdentities swaps the whole directory snapshot. Callers should run it
// inside a transaction.
func (q queries) ReplaceIdentities(ctx context.Context, ids *domain.Identities) error {
	for _, table := range []string{"device_addresses", "devices", "group_members", "user_groups", "users"} {
		if _, err := q.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	for _, u := range ids.Users {
		if _, err := q.db.ExecContext(ctx,
			`INSERT INTO users (id, username, active) VALUES ($1, $2, $3)`,
			u.ID, u.Username, u.Active); err != nil {
			return wrapUniqueError(err)
		}
	}
	for _, g := range ids.Groups {
		if _, err := q.db.ExecContext(ctx,
			`INSERT INTO user_groups (id, name) VALUES ($1, $2)`, g.ID, g.Name); err != nil {
			return wrapUniqueError(err)
		}
		for _, uid := range g.Members {
			if _, err := q.db.ExecContext(ctx,
				`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`, g.ID, uid); err != nil {
				return wrapUniqueError(err)
			}
		}
	}
	for _, d := range ids.Devices {
		if _, err := q.db.ExecContext(ctx,
			`INSERT INTO devices (id, name, user_id) VALUES ($1, $2, $3)`,
			d.ID, d.Name, d.UserID); err != nil {
			return wrapUniqueError(err)
		}
	}
	for _, da := range ids.Addresses {
		for i, addr := range da.Addresses {
			if _, err := q.db.ExecContext(ctx,
				`INSERT INTO device_addresses (device_id, location_id, address, seq) VALUES ($1, $2, $3, $4)`,
				da.DeviceID, da.LocationID, addr.String(), i); err != nil {
				return wrapUniqueError(err)
			}
		}
	}
	return nil
}

// ============================================
// Settings
// ============================================

func (q queries) GetSettings(ctx context.Context) (*domain.Settings, error) {
	var settings domain.Settings
	err := q.db.GetContext(ctx, &settings, `SELECT enterprise_enabled, updated_at FROM settings WHERE id = 1`)
	if err != nil {
		if notFound(err) == domain.ErrNotFound {
			return domain.DefaultSettings(), nil
		}
		return nil, err
	}
	return &settings, nil
}

func (q queries) UpdateSettings(ctx context.Context, settings *domain.Settings) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO settings (id, enterprise_enabled, updated_at) VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET enterprise_enabled = excluded.enterprise_enabled, updated_at = excluded.updated_at`,
		settings.EnterpriseEnabled, settings.UpdatedAt)
	return err
}

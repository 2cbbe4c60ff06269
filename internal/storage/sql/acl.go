package sql

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
)

// Reference kinds stored in acl_rule_refs.
const (
	refLocation      = "location"
	refAlias         = "alias"
	refAllowedUser   = "allowed_user"
	refDeniedUser    = "denied_user"
	refAllowedGroup  = "allowed_group"
	refDeniedGroup   = "denied_group"
	refAllowedDevice = "allowed_device"
	refDeniedDevice  = "denied_device"
)

// Destination row kinds stored in acl_rule_destinations and acl_alias_destinations.
const (
	destAddress  = "address"
	destPort     = "port"
	destProtocol = "protocol"
)

func ruleRefs(rule *domain.ACLRule) map[string]*[]int64 {
	return map[string]*[]int64{
		refLocation:      &rule.Locations,
		refAlias:         &rule.Aliases,
		refAllowedUser:   &rule.AllowedUsers,
		refDeniedUser:    &rule.DeniedUsers,
		refAllowedGroup:  &rule.AllowedGroups,
		refDeniedGroup:   &rule.DeniedGroups,
		refAllowedDevice: &rule.AllowedDevices,
		refDeniedDevice:  &rule.DeniedDevices,
	}
}

type refRow struct {
	RuleID int64  `db:"rule_id"`
	Kind   string `db:"kind"`
	RefID  int64  `db:"ref_id"`
}

type destinationRow struct {
	OwnerID int64  `db:"owner_id"`
	Kind    string `db:"kind"`
	Value   string `db:"value"`
}

func (q queries) insertRuleRefs(ctx context.Context, rule *domain.ACLRule) error {
	for kind, ids := range ruleRefs(rule) {
		for i, id := range *ids {
			_, err := q.db.ExecContext(ctx,
				`INSERT INTO acl_rule_refs (rule_id, kind, ref_id, seq) VALUES ($1, $2, $3, $4)`,
				rule.ID, kind, id, i)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// insertDestination writes the explicit values of d as child rows of table.
func (q queries) insertDestination(ctx context.Context, table, ownerColumn string, ownerID int64, d *domain.Destination) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (%s, kind, value, seq) VALUES ($1, $2, $3, $4)`, table, ownerColumn)
	seq := 0
	insert := func(kind, value string) error {
		_, err := q.db.ExecContext(ctx, stmt, ownerID, kind, value, seq)
		seq++
		return err
	}
	for _, a := range d.Addresses {
		if err := insert(destAddress, a.String()); err != nil {
			return err
		}
	}
	for _, p := range d.Ports {
		if err := insert(destPort, p.String()); err != nil {
			return err
		}
	}
	for _, p := range d.Protocols {
		if err := insert(destProtocol, strconv.Itoa(int(p))); err != nil {
			return err
		}
	}
	return nil
}

// loadDestinations reads child rows of table, keyed by owner id.
func (q queries) loadDestinations(ctx context.Context, table, ownerColumn string, ownerID *int64) (map[int64]*domain.Destination, error) {
	query := fmt.Sprintf(`SELECT %s AS owner_id, kind, value FROM %s`, ownerColumn, table)
	args := []any{}
	if ownerID != nil {
		query += fmt.Sprintf(` WHERE %s = $1`, ownerColumn)
		args = append(args, *ownerID)
	}
	query += fmt.Sprintf(` ORDER BY %s, seq`, ownerColumn)

	var rows []destinationRow
	if err := q.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	out := map[int64]*domain.Destination{}
	for _, row := range rows {
		d, ok := out[row.OwnerID]
		if !ok {
			d = &domain.Destination{}
			out[row.OwnerID] = d
		}
		switch row.Kind {
		case destAddress:
			r, err := domain.ParseAddressRange(row.Value)
			if err != nil {
				return nil, fmt.Errorf("%s row for %d: %w", table, row.OwnerID, err)
			}
			d.Addresses = append(d.Addresses, r)
		case destPort:
			p, err := domain.ParsePortRange(row.Value)
			if err != nil {
				return nil, fmt.Errorf("%s row for %d: %w", table, row.OwnerID, err)
			}
			d.Ports = append(d.Ports, p)
		case destProtocol:
			n, err := strconv.Atoi(row.Value)
			if err != nil {
				return nil, fmt.Errorf("%s row for %d: %w", table, row.OwnerID, err)
			}
			d.Protocols = append(d.Protocols, domain.Protocol(n))
		}
	}
	return out, nil
}

func applyDestination(dst *domain.Destination, loaded *domain.Destination) {
	if loaded == nil {
		return
	}
	dst.Addresses = loaded.Addresses
	dst.Ports = loaded.Ports
	dst.Protocols = loaded.Protocols
}

// ============================================
// ACL Rules
// ============================================

const aclRuleColumns = `id, parent_id, name, enabled, state, expires, all_locations,
	allow_all_users, deny_all_users, allow_all_network_devices, deny_all_network_devices,
	use_manual_destination_settings, any_address, any_port, any_protocol, created_at, updated_at`

func (q queries) CreateACLRule(ctx context.Context, rule *domain.ACLRule) error {
	err := q.db.GetContext(ctx, &rule.ID,
		`INSERT INTO acl_rules (parent_id, name, enabled, state, expires, all_locations,
			allow_all_users, deny_all_users, allow_all_network_devices, deny_all_network_devices,
			use_manual_destination_settings, any_address, any_port, any_protocol, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16) RETURNING id`,
		rule.ParentID, rule.Name, rule.Enabled, rule.State, rule.Expires, rule.AllLocations,
		rule.AllowAllUsers, rule.DenyAllUsers, rule.AllowAllNetworkDevices, rule.DenyAllNetworkDevices,
		rule.UseManualDestinationSettings, rule.AnyAddress, rule.AnyPort, rule.AnyProtocol,
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return wrapUniqueError(err)
	}
	if err := q.insertRuleRefs(ctx, rule); err != nil {
		return err
	}
	return q.insertDestination(ctx, "acl_rule_destinations", "rule_id", rule.ID, &rule.Destination)
}

// hydrateRules loads references and destinations for rules. When only one
// rule is given the child queries are scoped to it.
func (q queries) hydrateRules(ctx context.Context, rules []*domain.ACLRule) error {
	if len(rules) == 0 {
		return nil
	}
	var scope *int64
	refQuery := `SELECT rule_id, kind, ref_id FROM acl_rule_refs`
	args := []any{}
	if len(rules) == 1 {
		scope = &rules[0].ID
		refQuery += ` WHERE rule_id = $1`
		args = append(args, rules[0].ID)
	}
	refQuery += ` ORDER BY rule_id, kind, seq`

	var refs []refRow
	if err := q.db.SelectContext(ctx, &refs, refQuery, args...); err != nil {
		return err
	}
	dests, err := q.loadDestinations(ctx, "acl_rule_destinations", "rule_id", scope)
	if err != nil {
		return err
	}

	byID := make(map[int64]*domain.ACLRule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
		applyDestination(&r.Destination, dests[r.ID])
	}
	for _, ref := range refs {
		r, ok := byID[ref.RuleID]
		if !ok {
			continue
		}
		if list, ok := ruleRefs(r)[ref.Kind]; ok {
			*list = append(*list, ref.RefID)
		}
	}
	return nil
}

func (q queries) GetACLRule(ctx context.Context, id int64) (*domain.ACLRule, error) {
	var rule domain.ACLRule
	err := q.db.GetContext(ctx, &rule, `SELECT `+aclRuleColumns+` FROM acl_rules WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err)
	}
	if err := q.hydrateRules(ctx, []*domain.ACLRule{&rule}); err != nil {
		return nil, err
	}
	return &rule, nil
}

func (q queries) GetACLRuleDraft(ctx context.Context, parentID int64) (*domain.ACLRule, error) {
	var rule domain.ACLRule
	err := q.db.GetContext(ctx, &rule, `SELECT `+aclRuleColumns+` FROM acl_rules WHERE parent_id = $1`, parentID)
	if err != nil {
		return nil, notFound(err)
	}
	if err := q.hydrateRules(ctx, []*domain.ACLRule{&rule}); err != nil {
		return nil, err
	}
	return &rule, nil
}

func (q queries) ListACLRules(ctx context.Context) ([]*domain.ACLRule, error) {
	var rules []*domain.ACLRule
	err := q.db.SelectContext(ctx, &rules, `SELECT `+aclRuleColumns+` FROM acl_rules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	if err := q.hydrateRules(ctx, rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func (q queries) UpdateACLRule(ctx context.Context, rule *domain.ACLRule) error {
	result, err := q.db.ExecContext(ctx,
		`UPDATE acl_rules SET parent_id = $1, name = $2, enabled = $3, state = $4, expires = $5,
			all_locations = $6, allow_all_users = $7, deny_all_users = $8,
			allow_all_network_devices = $9, deny_all_network_devices = $10,
			use_manual_destination_settings = $11, any_address = $12, any_port = $13,
			any_protocol = $14, updated_at = $15
		 WHERE id = $16`,
		rule.ParentID, rule.Name, rule.Enabled, rule.State, rule.Expires,
		rule.AllLocations, rule.AllowAllUsers, rule.DenyAllUsers,
		rule.AllowAllNetworkDevices, rule.DenyAllNetworkDevices,
		rule.UseManualDestinationSettings, rule.AnyAddress, rule.AnyPort,
		rule.AnyProtocol, rule.UpdatedAt, rule.ID)
	if err != nil {
		return err
	}
	if err := checkAffected(result); err != nil {
		return err
	}
	if err := q.deleteRuleChildren(ctx, rule.ID); err != nil {
		return err
	}
	if err := q.insertRuleRefs(ctx, rule); err != nil {
		return err
	}
	return q.insertDestination(ctx, "acl_rule_destinations", "rule_id", rule.ID, &rule.Destination)
}

func (q queries) deleteRuleChildren(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM acl_rule_refs WHERE rule_id = $1`, id); err != nil {
		return err
	}
	_, err := q.db.ExecContext(ctx, `DELETE FROM acl_rule_destinations WHERE rule_id = $1`, id)
	return err
}

// DeleteACLRule removes a rule together with its pending draft.
func (q queries) DeleteACLRule(ctx context.Context, id int64) error {
	var drafts []int64
	if err := q.db.SelectContext(ctx, &drafts, `SELECT id FROM acl_rules WHERE parent_id = $1`, id); err != nil {
		return err
	}
	for _, draftID := range drafts {
		if err := q.deleteRuleChildren(ctx, draftID); err != nil {
			return err
		}
		if _, err := q.db.ExecContext(ctx, `DELETE FROM acl_rules WHERE id = $1`, draftID); err != nil {
			return err
		}
	}

	result, err := q.db.ExecContext(ctx, `DELETE FROM acl_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if err := checkAffected(result); err != nil {
		return err
	}
	return q.deleteRuleChildren(ctx, id)
}

// ============================================
// ACL Aliases
// ============================================

const aclAliasColumns = `id, parent_id, name, kind, state, any_address, any_port, any_protocol, created_at, updated_at`

func (q queries) CreateACLAlias(ctx context.Context, alias *domain.ACLAlias) error {
	err := q.db.GetContext(ctx, &alias.ID,
		`INSERT INTO acl_aliases (parent_id, name, kind, state, any_address, any_port, any_protocol, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		alias.ParentID, alias.Name, alias.Kind, alias.State,
		alias.AnyAddress, alias.AnyPort, alias.AnyProtocol, alias.CreatedAt, alias.UpdatedAt)
	if err != nil {
		return wrapUniqueError(err)
	}
	return q.insertDestination(ctx, "acl_alias_destinations", "alias_id", alias.ID, &alias.Destination)
}

func (q queries) hydrateAliases(ctx context.Context, aliases []*domain.ACLAlias) error {
	if len(aliases) == 0 {
		return nil
	}
	var scope *int64
	if len(aliases) == 1 {
		scope = &aliases[0].ID
	}
	dests, err := q.loadDestinations(ctx, "acl_alias_destinations", "alias_id", scope)
	if err != nil {
		return err
	}
	for _, a := range aliases {
		applyDestination(&a.Destination, dests[a.ID])
	}
	return nil
}

func (q queries) GetACLAlias(ctx context.Context, id int64) (*domain.ACLAlias, error) {
	var alias domain.ACLAlias
	err := q.db.GetContext(ctx, &alias, `SELECT `+aclAliasColumns+` FROM acl_aliases WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err)
	}
	if err := q.hydrateAliases(ctx, []*domain.ACLAlias{&alias}); err != nil {
		return nil, err
	}
	return &alias, nil
}

func (q queries) GetACLAliasDraft(ctx context.Context, parentID int64) (*domain.ACLAlias, error) {
	var alias domain.ACLAlias
	err := q.db.GetContext(ctx, &alias, `SELECT `+aclAliasColumns+` FROM acl_aliases WHERE parent_id = $1`, parentID)
	if err != nil {
		return nil, notFound(err)
	}
	if err := q.hydrateAliases(ctx, []*domain.ACLAlias{&alias}); err != nil {
		return nil, err
	}
	return &alias, nil
}

func (q queries) ListACLAliases(ctx context.Context) ([]*domain.ACLAlias, error) {
	var aliases []*domain.ACLAlias
	err := q.db.SelectContext(ctx, &aliases, `SELECT `+aclAliasColumns+` FROM acl_aliases ORDER BY id`)
	if err != nil {
		return nil, err
	}
	if err := q.hydrateAliases(ctx, aliases); err != nil {
		return nil, err
	}
	return aliases, nil
}

func (q queries) UpdateACLAlias(ctx context.Context, alias *domain.ACLAlias) error {
	result, err := q.db.ExecContext(ctx,
		`UPDATE acl_aliases SET parent_id = $1, name = $2, kind = $3, state = $4,
			any_address = $5, any_port = $6, any_protocol = $7, updated_at = $8
		 WHERE id = $9`,
		alias.ParentID, alias.Name, alias.Kind, alias.State,
		alias.AnyAddress, alias.AnyPort, alias.AnyProtocol, alias.UpdatedAt, alias.ID)
	if err != nil {
		return err
	}
	if err := checkAffected(result); err != nil {
		return err
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM acl_alias_destinations WHERE alias_id = $1`, alias.ID); err != nil {
		return err
	}
	return q.insertDestination(ctx, "acl_alias_destinations", "alias_id", alias.ID, &alias.Destination)
}

// DeleteACLAlias removes an alias, its pending draft and every rule link to it.
func (q queries) DeleteACLAlias(ctx context.Context, id int64) error {
	var drafts []int64
	if err := q.db.SelectContext(ctx, &drafts, `SELECT id FROM acl_aliases WHERE parent_id = $1`, id); err != nil {
		return err
	}
	for _, draftID := range drafts {
		if _, err := q.db.ExecContext(ctx, `DELETE FROM acl_alias_destinations WHERE alias_id = $1`, draftID); err != nil {
			return err
		}
		if _, err := q.db.ExecContext(ctx, `DELETE FROM acl_aliases WHERE id = $1`, draftID); err != nil {
			return err
		}
	}

	result, err := q.db.ExecContext(ctx, `DELETE FROM acl_aliases WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if err := checkAffected(result); err != nil {
		return err
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM acl_alias_destinations WHERE alias_id = $1`, id); err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `DELETE FROM acl_rule_refs WHERE kind = $1 AND ref_id = $2`, refAlias, id)
	return err
}

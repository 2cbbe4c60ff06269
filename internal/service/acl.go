package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"github.com/bcnelson/wireguard-acl-manager/internal/storage"
	"github.com/bcnelson/wireguard-acl-manager/internal/validation"
	"github.com/sirupsen/logrus"
)

// ACLService stages rule and alias changes and pushes applied changes to gateways.
//
// Edits of a deployed (Applied) row are kept in a child row pointing at it
// through ParentID until they are applied, so gateways keep enforcing the
// deployed definition in the meantime.
type ACLService struct {
	store      storage.Storage
	dispatcher *Dispatcher
	log        logrus.FieldLogger
	now        func() time.Time
}

// NewACLService creates an ACLService.
func NewACLService(store storage.Storage, dispatcher *Dispatcher, log logrus.FieldLogger) *ACLService {
	return &ACLService{store: store, dispatcher: dispatcher, log: log, now: time.Now}
}

// affected accumulates the locations whose firewall must be recomputed.
type affected struct {
	all bool
	ids []int64
}

func (a *affected) addRule(rule *domain.ACLRule) {
	if rule.AllLocations {
		a.all = true
		return
	}
	for _, id := range rule.Locations {
		if !slices.Contains(a.ids, id) {
			a.ids = append(a.ids, id)
		}
	}
}

func (a *affected) empty() bool { return !a.all && len(a.ids) == 0 }

// push recomputes affected locations. Failures are logged, never returned:
// the stored change has already been committed.
func (s *ACLService) push(ctx context.Context, a *affected) {
	if a.empty() {
		return
	}
	var err error
	if a.all {
		err = s.dispatcher.RecomputeAll(ctx)
	} else {
		slices.Sort(a.ids)
		err = s.dispatcher.RecomputeLocations(ctx, a.ids)
	}
	if err != nil {
		s.log.WithError(err).Error("Failed to push firewall changes")
	}
}

// withTx runs fn in a transaction and commits it when fn succeeds.
func (s *ACLService) withTx(ctx context.Context, fn func(tx storage.Transaction) error) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// checkRefs validates that referenced locations and aliases exist and that
// every alias has the kind expected by the rule's destination mode.
func (s *ACLService) checkRefs(ctx context.Context, rule *domain.ACLRule) error {
	var errs validation.ValidationErrors
	for i, id := range rule.Locations {
		if _, err := s.store.GetLocation(ctx, id); err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			errs.Add(fmt.Sprintf("locations[%d]", i), fmt.Sprint(id), "location does not exist")
		}
	}

	want := domain.AliasKindDestination
	if rule.UseManualDestinationSettings {
		want = domain.AliasKindComponent
	}
	for i, id := range rule.Aliases {
		alias, err := s.store.GetACLAlias(ctx, id)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			errs.Add(fmt.Sprintf("aliases[%d]", i), fmt.Sprint(id), "alias does not exist")
		case err != nil:
			return err
		case alias.ParentID != nil:
			errs.Add(fmt.Sprintf("aliases[%d]", i), fmt.Sprint(id), "alias is a pending modification")
		case alias.Kind != want:
			errs.Add(fmt.Sprintf("aliases[%d]", i), fmt.Sprint(id), fmt.Sprintf("alias must be of kind %q", want))
		}
	}
	return errs.Err()
}

// ============================================
// Rules
// ============================================

// ListRules returns every rule, drafts included, by id ascending.
func (s *ACLService) ListRules(ctx context.Context) ([]*domain.ACLRule, error) {
	return s.store.ListACLRules(ctx)
}

// GetRule returns one rule or draft.
func (s *ACLService) GetRule(ctx context.Context, id int64) (*domain.ACLRule, error) {
	return s.store.GetACLRule(ctx, id)
}

// CreateRule stores a new rule in state New. Nothing is pushed until it is applied.
func (s *ACLService) CreateRule(ctx context.Context, req *domain.ACLRuleRequest) (*domain.ACLRule, error) {
	now := s.now().UTC()
	rule, err := validation.ParseRuleRequest(req, now)
	if err != nil {
		return nil, err
	}
	if err := s.checkRefs(ctx, rule); err != nil {
		return nil, err
	}

	rule.State = domain.RuleStateNew
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := s.store.CreateACLRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// UpdateRule stages an edit. New and Modified rows are edited in place, an
// Applied rule gets (or reuses) a Modified draft, and an Expired rule is
// edited in place and goes back to New unless it still has a Modified draft,
// which is edited instead. The row holding the edit is returned.
func (s *ACLService) UpdateRule(ctx context.Context, id int64, req *domain.ACLRuleRequest) (*domain.ACLRule, error) {
	now := s.now().UTC()
	def, err := validation.ParseRuleRequest(req, now)
	if err != nil {
		return nil, err
	}
	if err := s.checkRefs(ctx, def); err != nil {
		return nil, err
	}

	var out *domain.ACLRule
	err = s.withTx(ctx, func(tx storage.Transaction) error {
		current, err := tx.GetACLRule(ctx, id)
		if err != nil {
			return err
		}

		switch current.State {
		case domain.RuleStateNew, domain.RuleStateModified:
			current.CopyDefinition(def)
			current.UpdatedAt = now
			out = current
			return tx.UpdateACLRule(ctx, current)

		case domain.RuleStateExpired:
			draft, err := tx.GetACLRuleDraft(ctx, current.ID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if draft != nil && draft.State == domain.RuleStateModified {
				draft.CopyDefinition(def)
				draft.UpdatedAt = now
				out = draft
				return tx.UpdateACLRule(ctx, draft)
			}
			current.CopyDefinition(def)
			current.State = domain.RuleStateNew
			current.UpdatedAt = now
			out = current
			return tx.UpdateACLRule(ctx, current)

		case domain.RuleStateApplied:
			draft, err := tx.GetACLRuleDraft(ctx, current.ID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if draft != nil {
				draft.CopyDefinition(def)
				draft.State = domain.RuleStateModified
				draft.UpdatedAt = now
				out = draft
				return tx.UpdateACLRule(ctx, draft)
			}
			parentID := current.ID
			draft = def
			draft.ParentID = &parentID
			draft.State = domain.RuleStateModified
			draft.CreatedAt = now
			draft.UpdatedAt = now
			out = draft
			return tx.CreateACLRule(ctx, draft)

		default:
			return fmt.Errorf("rule %d is pending deletion: %w", id, domain.ErrInvalidState)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteRule removes a rule that was never deployed, or stages the deletion
// of an Applied rule as a Deleted draft.
func (s *ACLService) DeleteRule(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx storage.Transaction) error {
		current, err := tx.GetACLRule(ctx, id)
		if err != nil {
			return err
		}
		if current.State != domain.RuleStateApplied {
			return tx.DeleteACLRule(ctx, id)
		}

		now := s.now().UTC()
		draft, err := tx.GetACLRuleDraft(ctx, current.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if draft != nil {
			draft.State = domain.RuleStateDeleted
			draft.UpdatedAt = now
			return tx.UpdateACLRule(ctx, draft)
		}
		parentID := current.ID
		draft = current.Clone()
		draft.ID = 0
		draft.ParentID = &parentID
		draft.State = domain.RuleStateDeleted
		draft.CreatedAt = now
		draft.UpdatedAt = now
		return tx.CreateACLRule(ctx, draft)
	})
}

// ApplyRules deploys the staged changes of the given rules and pushes the
// affected locations. An id may name a draft or the Applied or Expired rule
// it modifies. Applying a draft always leaves the rule Applied. Rules without
// drafts in either state are left untouched.
func (s *ACLService) ApplyRules(ctx context.Context, ids []int64) error {
	var hit affected
	err := s.withTx(ctx, func(tx storage.Transaction) error {
		now := s.now().UTC()
		for _, id := range ids {
			if err := s.applyRule(ctx, tx, id, now, &hit); err != nil {
				return fmt.Errorf("applying rule %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.push(ctx, &hit)
	return nil
}

func (s *ACLService) applyRule(ctx context.Context, tx storage.Transaction, id int64, now time.Time, hit *affected) error {
	rule, err := tx.GetACLRule(ctx, id)
	if err != nil {
		return err
	}

	if rule.State == domain.RuleStateApplied || rule.State == domain.RuleStateExpired {
		draft, err := tx.GetACLRuleDraft(ctx, rule.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		rule = draft
	}

	switch rule.State {
	case domain.RuleStateNew:
		rule.State = domain.RuleStateApplied
		rule.UpdatedAt = now
		hit.addRule(rule)
		return tx.UpdateACLRule(ctx, rule)

	case domain.RuleStateModified, domain.RuleStateDeleted:
		if rule.ParentID == nil {
			return fmt.Errorf("draft without parent: %w", domain.ErrInvalidState)
		}
		parent, err := tx.GetACLRule(ctx, *rule.ParentID)
		if err != nil {
			return err
		}
		hit.addRule(parent)
		if rule.State == domain.RuleStateDeleted {
			return tx.DeleteACLRule(ctx, parent.ID)
		}
		hit.addRule(rule)
		parent.CopyDefinition(rule)
		parent.State = domain.RuleStateApplied
		parent.UpdatedAt = now
		if err := tx.DeleteACLRule(ctx, rule.ID); err != nil {
			return err
		}
		return tx.UpdateACLRule(ctx, parent)

	default:
		return nil
	}
}

// ExpireRules flips Applied rules whose expiry has passed to Expired and
// pushes the affected locations. It returns how many rules expired.
func (s *ACLService) ExpireRules(ctx context.Context, now time.Time) (int, error) {
	var hit affected
	expired := 0
	err := s.withTx(ctx, func(tx storage.Transaction) error {
		rules, err := tx.ListACLRules(ctx)
		if err != nil {
			return err
		}
		for _, rule := range rules {
			if rule.ParentID != nil || rule.State != domain.RuleStateApplied || !rule.IsExpired(now) {
				continue
			}
			rule.State = domain.RuleStateExpired
			rule.UpdatedAt = now.UTC()
			if err := tx.UpdateACLRule(ctx, rule); err != nil {
				return fmt.Errorf("expiring rule %d: %w", rule.ID, err)
			}
			hit.addRule(rule)
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.log.WithField("count", expired).Info("Expired ACL rules")
	}
	s.push(ctx, &hit)
	return expired, nil
}

// ============================================
// Aliases
// ============================================

// ListAliases returns every alias, drafts included, by id ascending.
func (s *ACLService) ListAliases(ctx context.Context) ([]*domain.ACLAlias, error) {
	return s.store.ListACLAliases(ctx)
}

// GetAlias returns one alias or draft.
func (s *ACLService) GetAlias(ctx context.Context, id int64) (*domain.ACLAlias, error) {
	return s.store.GetACLAlias(ctx, id)
}

// CreateAlias stores a new alias. New aliases are Applied right away since no
// rule can reference them yet.
func (s *ACLService) CreateAlias(ctx context.Context, req *domain.ACLAliasRequest) (*domain.ACLAlias, error) {
	alias, err := validation.ParseAliasRequest(req)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	alias.State = domain.AliasStateApplied
	alias.CreatedAt = now
	alias.UpdatedAt = now
	if err := s.store.CreateACLAlias(ctx, alias); err != nil {
		return nil, err
	}
	return alias, nil
}

// checkAliasUnused returns ErrConflict when any rule or rule draft references the alias.
func checkAliasUnused(ctx context.Context, tx storage.Transaction, aliasID int64) error {
	rules, err := tx.ListACLRules(ctx)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if slices.Contains(rule.Aliases, aliasID) {
			return fmt.Errorf("alias %d is used by rule %d: %w", aliasID, rule.ID, domain.ErrConflict)
		}
	}
	return nil
}

// UpdateAlias stages an edit: an Applied alias gets (or reuses) a Modified
// draft, and a Modified draft is edited in place. The kind can only change
// while no rule references the alias.
func (s *ACLService) UpdateAlias(ctx context.Context, id int64, req *domain.ACLAliasRequest) (*domain.ACLAlias, error) {
	def, err := validation.ParseAliasRequest(req)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	var out *domain.ACLAlias
	err = s.withTx(ctx, func(tx storage.Transaction) error {
		current, err := tx.GetACLAlias(ctx, id)
		if err != nil {
			return err
		}
		base := current
		if current.ParentID != nil {
			if base, err = tx.GetACLAlias(ctx, *current.ParentID); err != nil {
				return err
			}
		}
		if def.Kind != base.Kind {
			if err := checkAliasUnused(ctx, tx, base.ID); err != nil {
				return err
			}
		}

		if current.State == domain.AliasStateModified {
			current.CopyDefinition(def)
			current.UpdatedAt = now
			out = current
			return tx.UpdateACLAlias(ctx, current)
		}

		draft, err := tx.GetACLAliasDraft(ctx, current.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if draft != nil {
			draft.CopyDefinition(def)
			draft.UpdatedAt = now
			out = draft
			return tx.UpdateACLAlias(ctx, draft)
		}
		parentID := current.ID
		draft = def
		draft.ParentID = &parentID
		draft.State = domain.AliasStateModified
		draft.CreatedAt = now
		draft.UpdatedAt = now
		out = draft
		return tx.CreateACLAlias(ctx, draft)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteAlias removes a draft, or an Applied alias that no rule references.
func (s *ACLService) DeleteAlias(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx storage.Transaction) error {
		alias, err := tx.GetACLAlias(ctx, id)
		if err != nil {
			return err
		}
		if alias.ParentID == nil {
			if err := checkAliasUnused(ctx, tx, id); err != nil {
				return err
			}
		}
		return tx.DeleteACLAlias(ctx, id)
	})
}

// ApplyAliases deploys pending alias drafts and pushes every location of
// every Applied rule that references them. An id may name a draft or the
// alias it modifies.
func (s *ACLService) ApplyAliases(ctx context.Context, ids []int64) error {
	var hit affected
	err := s.withTx(ctx, func(tx storage.Transaction) error {
		now := s.now().UTC()
		var applied []int64
		for _, id := range ids {
			alias, err := tx.GetACLAlias(ctx, id)
			if err != nil {
				return fmt.Errorf("applying alias %d: %w", id, err)
			}
			draft := alias
			if alias.ParentID == nil {
				draft, err = tx.GetACLAliasDraft(ctx, alias.ID)
				if errors.Is(err, domain.ErrNotFound) {
					continue
				}
				if err != nil {
					return fmt.Errorf("applying alias %d: %w", id, err)
				}
			}

			parent, err := tx.GetACLAlias(ctx, *draft.ParentID)
			if err != nil {
				return fmt.Errorf("applying alias %d: %w", id, err)
			}
			if draft.Kind != parent.Kind {
				if err := checkAliasUnused(ctx, tx, parent.ID); err != nil {
					return fmt.Errorf("applying alias %d: %w", id, err)
				}
			}
			parent.CopyDefinition(draft)
			parent.UpdatedAt = now
			if err := tx.DeleteACLAlias(ctx, draft.ID); err != nil {
				return fmt.Errorf("applying alias %d: %w", id, err)
			}
			if err := tx.UpdateACLAlias(ctx, parent); err != nil {
				return fmt.Errorf("applying alias %d: %w", id, err)
			}
			applied = append(applied, parent.ID)
		}

		if len(applied) == 0 {
			return nil
		}
		rules, err := tx.ListACLRules(ctx)
		if err != nil {
			return err
		}
		for _, rule := range rules {
			if rule.ParentID != nil || rule.State != domain.RuleStateApplied {
				continue
			}
			for _, aliasID := range applied {
				if slices.Contains(rule.Aliases, aliasID) {
					hit.addRule(rule)
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.push(ctx, &hit)
	return nil
}

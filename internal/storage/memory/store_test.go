package memory

import (
	"context"
	"testing"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CopiesValues(t *testing.T) {
	ctx := context.Background()
	s := New()

	rule := &domain.ACLRule{Name: "a", Locations: []int64{1}}
	require.NoError(t, s.CreateACLRule(ctx, rule))
	rule.Locations[0] = 99

	got, err := s.GetACLRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, got.Locations)

	got.Locations = append(got.Locations, 2)
	again, err := s.GetACLRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, again.Locations)
}

func TestStore_DraftsFollowParent(t *testing.T) {
	ctx := context.Background()
	s := New()

	parent := &domain.ACLRule{Name: "parent", State: domain.RuleStateApplied}
	require.NoError(t, s.CreateACLRule(ctx, parent))
	draft := &domain.ACLRule{Name: "draft", State: domain.RuleStateModified, ParentID: &parent.ID}
	require.NoError(t, s.CreateACLRule(ctx, draft))

	got, err := s.GetACLRuleDraft(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, draft.ID, got.ID)

	orphan := &domain.ACLRule{Name: "orphan", ParentID: new(int64)}
	*orphan.ParentID = 404
	assert.ErrorIs(t, s.CreateACLRule(ctx, orphan), domain.ErrNotFound)

	require.NoError(t, s.DeleteACLRule(ctx, parent.ID))
	rules, err := s.ListACLRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestStore_DeleteAliasUnlinksRules(t *testing.T) {
	ctx := context.Background()
	s := New()

	alias := &domain.ACLAlias{Name: "web", State: domain.AliasStateApplied}
	require.NoError(t, s.CreateACLAlias(ctx, alias))
	rule := &domain.ACLRule{Name: "r", Aliases: []int64{alias.ID}}
	require.NoError(t, s.CreateACLRule(ctx, rule))

	require.NoError(t, s.DeleteACLAlias(ctx, alias.ID))
	got, err := s.GetACLRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Aliases)
}

func TestStore_LocationNamesAreUnique(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CreateLocation(ctx, &domain.Location{Name: "office"}))
	assert.ErrorIs(t, s.CreateLocation(ctx, &domain.Location{Name: "office"}), domain.ErrAlreadyExists)
}

func TestStore_DefaultSettings(t *testing.T) {
	s := New()
	settings, err := s.GetSettings(context.Background())
	require.NoError(t, err)
	assert.True(t, settings.EnterpriseEnabled)
}

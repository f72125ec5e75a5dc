package application

import (
	"testing"

	"github.com/atvirokodosprendimai/authsource/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestResolverMostSpecificOrgScopeWins(t *testing.T) {
	// Bank(0) > Markets(1) > Equities(2); both rules cover Equities for the
	// same supplier, rows arrive deepest declared scope first.
	points := []domain.VantagePoint{
		{OrgUnitID: 3, OrgUnitLevel: 1, DataTypeID: 12, DataTypeLevel: 0, SupplierAppID: 100, ClassificationCode: "SECONDARY", RuleID: 2},
		{OrgUnitID: 3, OrgUnitLevel: 0, DataTypeID: 12, DataTypeLevel: 0, SupplierAppID: 100, ClassificationCode: "PRIMARY", RuleID: 1},
	}
	resolver := NewResolver(zap.NewNop(), points, nil)

	verdict, ok, err := resolver.Resolve(domain.MkRef(domain.KindApplication, 102), 3, 12, 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), verdict.RuleID)
	assert.Equal(t, "SECONDARY", verdict.ClassificationCode)
}

func TestResolverDeeperDataTypeBreaksOrgTie(t *testing.T) {
	points := []domain.VantagePoint{
		{OrgUnitID: 1, OrgUnitLevel: 0, DataTypeID: 11, DataTypeLevel: 1, SupplierAppID: 103, ClassificationCode: "SECONDARY", RuleID: 8},
		{OrgUnitID: 1, OrgUnitLevel: 0, DataTypeID: 11, DataTypeLevel: 0, SupplierAppID: 103, ClassificationCode: "PRIMARY", RuleID: 7},
	}
	resolver := NewResolver(zap.NewNop(), points, nil)

	verdict, ok, err := resolver.Resolve(domain.MkRef(domain.KindApplication, 104), 1, 11, 103)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(8), verdict.RuleID)
}

func TestResolverNoMatchLeavesNoOpinion(t *testing.T) {
	resolver := NewResolver(zap.NewNop(), nil, nil)

	_, ok, err := resolver.Resolve(domain.MkRef(domain.KindApplication, 102), 3, 12, 100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolverPointToPointBeatsOrgRule(t *testing.T) {
	consumer := domain.MkRef(domain.KindApplication, 104)
	points := []domain.VantagePoint{
		{OrgUnitID: 1, OrgUnitLevel: 0, DataTypeID: 11, DataTypeLevel: 0, SupplierAppID: 103, ClassificationCode: "PRIMARY", RuleID: 1},
	}
	p2p := []pointToPointVantage{
		{Consumer: consumer, DataTypeID: 11, Distance: 1, SupplierAppID: 103, ClassificationCode: "DISCOURAGED", RuleID: 9},
	}
	resolver := NewResolver(zap.NewNop(), points, p2p)

	verdict, ok, err := resolver.Resolve(consumer, 1, 11, 103)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(9), verdict.RuleID)
	assert.Equal(t, "DISCOURAGED", verdict.ClassificationCode)
}

func TestResolverPointToPointPrefersNearestDeclaredType(t *testing.T) {
	consumer := domain.MkRef(domain.KindActor, 7)
	p2p := []pointToPointVantage{
		{Consumer: consumer, DataTypeID: 11, Distance: 1, SupplierAppID: 103, ClassificationCode: "PRIMARY", RuleID: 4},
		{Consumer: consumer, DataTypeID: 11, Distance: 0, SupplierAppID: 103, ClassificationCode: "SECONDARY", RuleID: 5},
	}
	resolver := NewResolver(zap.NewNop(), nil, p2p)

	verdict, ok, err := resolver.Resolve(consumer, 0, 11, 103)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5), verdict.RuleID)
}

func TestResolverTieOnAllLevelsKeepsLowestRuleID(t *testing.T) {
	// Two rules with identical scopes bypass the uniqueness constraint only
	// when inserted directly; the resolver must still answer deterministically.
	points := []domain.VantagePoint{
		{OrgUnitID: 1, OrgUnitLevel: 0, DataTypeID: 12, DataTypeLevel: 0, SupplierAppID: 100, ClassificationCode: "PRIMARY", RuleID: 5},
		{OrgUnitID: 1, OrgUnitLevel: 0, DataTypeID: 12, DataTypeLevel: 0, SupplierAppID: 100, ClassificationCode: "SECONDARY", RuleID: 9},
	}
	resolver := NewResolver(zap.NewNop(), points, nil)

	verdict, ok, err := resolver.Resolve(domain.MkRef(domain.KindApplication, 104), 1, 12, 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5), verdict.RuleID)
	assert.Equal(t, "PRIMARY", verdict.ClassificationCode)
}

func TestResolverDuplicateRuleIDIsFatal(t *testing.T) {
	points := []domain.VantagePoint{
		{OrgUnitID: 1, OrgUnitLevel: 0, DataTypeID: 12, DataTypeLevel: 0, SupplierAppID: 100, ClassificationCode: "PRIMARY", RuleID: 5},
		{OrgUnitID: 1, OrgUnitLevel: 0, DataTypeID: 12, DataTypeLevel: 0, SupplierAppID: 100, ClassificationCode: "PRIMARY", RuleID: 5},
	}
	resolver := NewResolver(zap.NewNop(), points, nil)

	_, _, err := resolver.Resolve(domain.MkRef(domain.KindApplication, 104), 1, 12, 100)
	require.ErrorIs(t, err, domain.ErrConflictingRules)
}

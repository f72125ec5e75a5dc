package application

import (
	"context"
	"fmt"

	"github.com/atvirokodosprendimai/authsource/internal/domain"
	"go.uber.org/zap"
)

// ReportService serves the read-side reports: discouraged sources and
// rule consumers.
type ReportService struct {
	flows     domain.FlowRepository
	hierarchy domain.HierarchyRepository
	log       *zap.Logger
}

func NewReportService(flows domain.FlowRepository, hierarchy domain.HierarchyRepository, log *zap.Logger) *ReportService {
	return &ReportService{flows: flows, hierarchy: hierarchy, log: log}
}

// DiscouragedSources lists suppliers feeding live flows whose decorations
// ended up DISCOURAGED or unclassified, grouped by supplier and data type.
func (s *ReportService) DiscouragedSources(ctx context.Context, selector domain.DecorationSelector) ([]domain.DiscouragedSource, error) {
	return s.flows.DiscouragedSources(ctx, selector)
}

// DiscouragedSourcesForOrgUnit scopes the report to consumers inside one
// org-unit subtree.
func (s *ReportService) DiscouragedSourcesForOrgUnit(ctx context.Context, orgUnitID int64) ([]domain.DiscouragedSource, error) {
	if orgUnitID <= 0 {
		return nil, fmt.Errorf("%w: org unit id must be positive", domain.ErrInvalidInput)
	}
	nodes, err := s.hierarchy.Descendants(ctx, domain.KindOrgUnit, orgUnitID)
	if err != nil {
		return nil, err
	}
	orgIDs := make([]int64, 0, len(nodes))
	for _, node := range nodes {
		orgIDs = append(orgIDs, node.ID)
	}
	if len(orgIDs) == 0 {
		return nil, nil
	}
	return s.flows.DiscouragedSources(ctx, domain.DecorationSelector{ConsumerOrgUnitIDs: orgIDs})
}

// ConsumersForDataTypes lists the applications consuming data under any of
// the given data types, subtree-expanded.
func (s *ReportService) ConsumersForDataTypes(ctx context.Context, dataTypeIDs []int64) ([]domain.RuleConsumer, error) {
	if len(dataTypeIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one data type id required", domain.ErrInvalidInput)
	}

	seen := make(map[int64]struct{})
	expanded := make([]int64, 0, len(dataTypeIDs))
	for _, id := range dataTypeIDs {
		nodes, err := s.hierarchy.Descendants(ctx, domain.KindDataType, id)
		if err != nil {
			return nil, err
		}
		for _, node := range nodes {
			if _, ok := seen[node.ID]; !ok {
				seen[node.ID] = struct{}{}
				expanded = append(expanded, node.ID)
			}
		}
	}
	if len(expanded) == 0 {
		return nil, nil
	}
	return s.flows.ConsumersByDataType(ctx, expanded)
}

package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/atvirokodosprendimai/authsource/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultBatchSize  = 500
	defaultMaxRetries = 3
)

// SweepService owns every write to decoration ratings: the full sweep, the
// org-scoped sweep, and the point-to-point apply/reset pair.
type SweepService struct {
	rules     domain.RuleRepository
	flows     domain.FlowRepository
	hierarchy domain.HierarchyRepository
	catalog   domain.CatalogRepository
	changeLog domain.ChangeLogRepository
	log       *zap.Logger

	batchSize  int
	maxRetries uint64
}

type SweepOption func(*SweepService)

// WithBatchSize caps how many decoration rewrites share one transaction.
func WithBatchSize(n int) SweepOption {
	return func(s *SweepService) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithMaxRetries bounds the per-batch retry count on transient failures.
func WithMaxRetries(n uint64) SweepOption {
	return func(s *SweepService) { s.maxRetries = n }
}

func NewSweepService(
	rules domain.RuleRepository,
	flows domain.FlowRepository,
	hierarchy domain.HierarchyRepository,
	catalog domain.CatalogRepository,
	changeLog domain.ChangeLogRepository,
	log *zap.Logger,
	opts ...SweepOption,
) *SweepService {
	s := &SweepService{
		rules:      rules,
		flows:      flows,
		hierarchy:  hierarchy,
		catalog:    catalog,
		changeLog:  changeLog,
		log:        log,
		batchSize:  defaultBatchSize,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SweepService) classificationCodes(ctx context.Context) (map[int64]string, error) {
	classifications, err := s.catalog.ListClassifications(ctx)
	if err != nil {
		return nil, err
	}
	codes := make(map[int64]string, len(classifications))
	for _, c := range classifications {
		codes[c.ID] = c.Code
	}
	return codes, nil
}

// BuildResolver snapshots the vantage-point table (optionally restricted to
// the given consumer org units) plus the expanded point-to-point rules.
func (s *SweepService) BuildResolver(ctx context.Context, orgIDs []int64) (*Resolver, error) {
	var (
		vantagePoints []domain.VantagePoint
		err           error
	)
	if orgIDs == nil {
		vantagePoints, err = s.rules.VantagePoints(ctx)
	} else {
		vantagePoints, err = s.rules.VantagePointsForOrgUnits(ctx, orgIDs)
	}
	if err != nil {
		return nil, err
	}

	p2pRules, err := s.rules.PointToPointRules(ctx)
	if err != nil {
		return nil, err
	}

	var expanded []pointToPointVantage
	if len(p2pRules) > 0 {
		codes, err := s.classificationCodes(ctx)
		if err != nil {
			return nil, err
		}
		for _, rule := range p2pRules {
			code, ok := codes[rule.ClassificationID]
			if !ok {
				return nil, fmt.Errorf("rule %d references unknown classification %d: %w",
					rule.ID, rule.ClassificationID, domain.ErrNotFound)
			}
			subtree, err := s.hierarchy.Descendants(ctx, domain.KindDataType, rule.DataTypeID)
			if err != nil {
				return nil, err
			}
			for _, node := range subtree {
				expanded = append(expanded, pointToPointVantage{
					Consumer:           rule.Parent,
					DataTypeID:         node.ID,
					Distance:           node.Distance,
					SupplierAppID:      rule.SupplierAppID,
					ClassificationCode: code,
					RuleID:             rule.ID,
				})
			}
		}
	}

	return NewResolver(s.log, vantagePoints, expanded), nil
}

// Resolve answers a single ad-hoc authoritative-source query against the
// current rule and hierarchy state.
func (s *SweepService) Resolve(ctx context.Context, consumer domain.EntityRef, consumerOrgUnitID, dataTypeID, supplierAppID int64) (Verdict, bool, error) {
	resolver, err := s.BuildResolver(ctx, nil)
	if err != nil {
		return Verdict{}, false, err
	}
	return resolver.Resolve(consumer, consumerOrgUnitID, dataTypeID, supplierAppID)
}

// RunFullSweep recomputes every live decoration's rating from the current
// rule state. Idempotent: an immediate second run rewrites nothing.
func (s *SweepService) RunFullSweep(ctx context.Context) (domain.SweepReport, error) {
	return s.sweep(ctx, domain.DecorationSelector{}, nil)
}

// RunSweepForOrgUnits recomputes decorations whose consumer sits in any of
// the subtrees rooted at the given org units.
func (s *SweepService) RunSweepForOrgUnits(ctx context.Context, rootOrgIDs []int64) (domain.SweepReport, error) {
	orgIDs := make([]int64, 0)
	seen := make(map[int64]struct{})
	for _, root := range rootOrgIDs {
		nodes, err := s.hierarchy.Descendants(ctx, domain.KindOrgUnit, root)
		if err != nil {
			return domain.SweepReport{}, err
		}
		for _, node := range nodes {
			if _, ok := seen[node.ID]; !ok {
				seen[node.ID] = struct{}{}
				orgIDs = append(orgIDs, node.ID)
			}
		}
	}
	if len(orgIDs) == 0 {
		return domain.SweepReport{RunID: uuid.NewString()}, nil
	}
	return s.sweep(ctx, domain.DecorationSelector{ConsumerOrgUnitIDs: orgIDs}, orgIDs)
}

func (s *SweepService) sweep(ctx context.Context, selector domain.DecorationSelector, scopeOrgIDs []int64) (domain.SweepReport, error) {
	report := domain.SweepReport{RunID: uuid.NewString()}

	resolver, err := s.BuildResolver(ctx, scopeOrgIDs)
	if err != nil {
		return report, err
	}

	candidates, err := s.flows.SweepCandidates(ctx, selector)
	if err != nil {
		return report, err
	}
	report.RowsExamined = len(candidates)

	updates := make([]domain.DecorationUpdate, 0)
	for _, c := range candidates {
		verdict, ok, err := resolver.Resolve(c.Target, c.TargetOrgUnitID, c.DataTypeID, c.SourceAppID)
		if err != nil {
			s.log.Error("resolver failed, aborting sweep",
				zap.String("run_id", report.RunID),
				zap.Int64("decoration_id", c.DecorationID),
				zap.Error(err))
			return report, err
		}

		wantRating := domain.RatingNoOpinion
		var wantRule *int64
		if ok {
			wantRating = verdict.ClassificationCode
			ruleID := verdict.RuleID
			wantRule = &ruleID
		}
		if c.Rating != wantRating || !sameRuleID(c.RuleID, wantRule) {
			updates = append(updates, domain.DecorationUpdate{
				DecorationID: c.DecorationID,
				Rating:       wantRating,
				RuleID:       wantRule,
			})
		}
	}

	s.applyBatches(ctx, &report, updates)

	s.log.Info("decoration sweep finished",
		zap.String("run_id", report.RunID),
		zap.Int("rows_examined", report.RowsExamined),
		zap.Int("rows_updated", report.RowsUpdated),
		zap.Int("batches_failed", report.BatchesFailed),
		zap.Bool("cancelled", report.Cancelled))
	return report, nil
}

// applyBatches writes the pending updates in batchSize chunks. A transient
// batch failure is retried with backoff; a batch that keeps failing is
// logged and skipped. Cancellation between batches leaves a partial but
// internally consistent result.
func (s *SweepService) applyBatches(ctx context.Context, report *domain.SweepReport, updates []domain.DecorationUpdate) {
	for start := 0; start < len(updates); start += s.batchSize {
		if ctx.Err() != nil {
			report.Cancelled = true
			return
		}

		end := start + s.batchSize
		if end > len(updates) {
			end = len(updates)
		}
		batch := updates[start:end]

		var applied int64
		operation := func() error {
			n, err := s.flows.ApplyDecorationUpdates(ctx, batch)
			if err != nil {
				// Only contention is worth retrying; a deterministic
				// failure would fail the whole budget the same way.
				if errors.Is(err, domain.ErrTransient) {
					return err
				}
				return backoff.Permanent(err)
			}
			applied = n
			return nil
		}
		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)
		if err := backoff.Retry(operation, policy); err != nil {
			if ctx.Err() != nil {
				report.Cancelled = true
				return
			}
			report.BatchesFailed++
			s.log.Error("decoration batch failed",
				zap.String("run_id", report.RunID),
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			continue
		}

		report.RowsUpdated += int(applied)
		s.logBatch(ctx, report.RunID, domain.KindLogicalFlow, 0,
			fmt.Sprintf("rewrote %d flow decorations (run %s)", applied, report.RunID))
	}
}

// ApplyPointToPoint overwrites decorations on flows from the rule's supplier
// to the rule's consumer, for every data type in the rule's declared
// subtree. Candidates arrive shallow-first so parent types are rewritten
// before their children.
func (s *SweepService) ApplyPointToPoint(ctx context.Context, rule domain.FlowClassificationRule) (int, error) {
	if !rule.PointToPoint() {
		return 0, fmt.Errorf("%w: rule %d is not point-to-point", domain.ErrInvalidInput, rule.ID)
	}

	classification, err := s.catalog.GetClassification(ctx, rule.ClassificationID)
	if err != nil {
		return 0, err
	}

	candidates, err := s.flows.PointToPointCandidates(ctx, rule)
	if err != nil {
		return 0, err
	}

	ruleID := rule.ID
	updates := make([]domain.DecorationUpdate, 0, len(candidates))
	for _, c := range candidates {
		if c.Rating == classification.Code && sameRuleID(c.RuleID, &ruleID) {
			continue
		}
		updates = append(updates, domain.DecorationUpdate{
			DecorationID: c.DecorationID,
			Rating:       classification.Code,
			RuleID:       &ruleID,
		})
	}

	updated := 0
	for start := 0; start < len(updates); start += s.batchSize {
		end := start + s.batchSize
		if end > len(updates) {
			end = len(updates)
		}
		n, err := s.flows.ApplyDecorationUpdates(ctx, updates[start:end])
		if err != nil {
			return updated, err
		}
		updated += int(n)
	}

	if updated > 0 {
		s.logBatch(ctx, "", domain.KindFlowClassificationRule, rule.ID,
			fmt.Sprintf("point-to-point rule applied to %d decorations", updated))
	}
	return updated, nil
}

// ResetPointToPoint reverts decorations carrying a withdrawn point-to-point
// rule's classification to NO_OPINION. Finer explicit mappings clobbered
// here are restored by the next full sweep.
func (s *SweepService) ResetPointToPoint(ctx context.Context, rule domain.FlowClassificationRule) (int, error) {
	if !rule.PointToPoint() {
		return 0, fmt.Errorf("%w: rule %d is not point-to-point", domain.ErrInvalidInput, rule.ID)
	}

	classification, err := s.catalog.GetClassification(ctx, rule.ClassificationID)
	if err != nil {
		return 0, err
	}

	cleared, err := s.flows.ClearPointToPointRatings(ctx, rule, classification.Code)
	if err != nil {
		return 0, err
	}
	if cleared > 0 {
		s.logBatch(ctx, "", domain.KindFlowClassificationRule, rule.ID,
			fmt.Sprintf("point-to-point rule reset %d decorations to %s", cleared, domain.RatingNoOpinion))
	}
	return int(cleared), nil
}

func (s *SweepService) logBatch(ctx context.Context, runID string, kind domain.EntityKind, id int64, message string) {
	entry := domain.ChangeLogEntry{
		Actor:      "authsource",
		Operation:  domain.OperationUpdate,
		EntityKind: kind,
		EntityID:   id,
		Message:    message,
	}
	if err := s.changeLog.Append(ctx, entry); err != nil {
		s.log.Warn("change log append failed",
			zap.String("run_id", runID),
			zap.String("message", message),
			zap.Error(err))
	}
}

func sameRuleID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/atvirokodosprendimai/authsource/internal/domain"
	"go.uber.org/zap"
)

// RuleService is the write API for flow classification rules. Every mutation
// is validated, change-logged, and followed by the decoration rewrite the
// rule's scope calls for.
type RuleService struct {
	rules     domain.RuleRepository
	catalog   domain.CatalogRepository
	changeLog domain.ChangeLogRepository
	sweeper   *SweepService
	log       *zap.Logger
}

func NewRuleService(
	rules domain.RuleRepository,
	catalog domain.CatalogRepository,
	changeLog domain.ChangeLogRepository,
	sweeper *SweepService,
	log *zap.Logger,
) *RuleService {
	return &RuleService{
		rules:     rules,
		catalog:   catalog,
		changeLog: changeLog,
		sweeper:   sweeper,
		log:       log,
	}
}

func validParentKind(kind domain.EntityKind) bool {
	switch kind {
	case domain.KindOrgUnit, domain.KindApplication, domain.KindActor:
		return true
	}
	return false
}

// Create validates and stores a new rule, then rewrites the decorations it
// governs. Returns the new rule id.
func (s *RuleService) Create(ctx context.Context, cmd domain.RuleCreateCommand, actor string) (int64, error) {
	if !validParentKind(cmd.Parent.Kind) {
		return 0, fmt.Errorf("%w: parent kind %q", domain.ErrInvalidInput, cmd.Parent.Kind)
	}
	if cmd.Parent.ID <= 0 || cmd.SupplierAppID <= 0 || cmd.DataTypeID <= 0 || cmd.ClassificationID <= 0 {
		return 0, fmt.Errorf("%w: ids must be positive", domain.ErrInvalidInput)
	}

	supplier, err := s.catalog.GetApplication(ctx, cmd.SupplierAppID)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, fmt.Errorf("%w: unknown supplier application %d", domain.ErrInvalidInput, cmd.SupplierAppID)
	}
	if err != nil {
		return 0, err
	}
	if supplier.IsRemoved {
		return 0, fmt.Errorf("%w: supplier application %d is inactive", domain.ErrInvalidInput, cmd.SupplierAppID)
	}

	if _, err := s.catalog.GetDataType(ctx, cmd.DataTypeID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, fmt.Errorf("%w: unknown data type %d", domain.ErrInvalidInput, cmd.DataTypeID)
		}
		return 0, err
	}
	if _, err := s.catalog.GetClassification(ctx, cmd.ClassificationID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, fmt.Errorf("%w: unknown classification %d", domain.ErrInvalidInput, cmd.ClassificationID)
		}
		return 0, err
	}

	ruleID, err := s.rules.Insert(ctx, cmd, actor)
	if err != nil {
		return 0, err
	}
	s.appendChangeLog(ctx, actor, domain.OperationAdd, ruleID,
		fmt.Sprintf("classification rule created for %s, supplier %d, data type %d",
			cmd.Parent, cmd.SupplierAppID, cmd.DataTypeID))

	if err := s.refreshDecorations(ctx, ruleID); err != nil {
		return ruleID, err
	}
	return ruleID, nil
}

// Update changes a rule's classification and/or description in place and
// returns the rows-changed count.
func (s *RuleService) Update(ctx context.Context, cmd domain.RuleUpdateCommand, actor string) (int64, error) {
	if cmd.ClassificationID == nil && cmd.Description == nil {
		return 0, fmt.Errorf("%w: nothing to update", domain.ErrInvalidInput)
	}

	rule, err := s.rules.GetByID(ctx, cmd.RuleID)
	if err != nil {
		return 0, err
	}
	if rule.IsReadonly {
		return 0, fmt.Errorf("%w: rule %d", domain.ErrReadonlyRule, rule.ID)
	}
	if cmd.ClassificationID != nil {
		if _, err := s.catalog.GetClassification(ctx, *cmd.ClassificationID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return 0, fmt.Errorf("%w: unknown classification %d", domain.ErrInvalidInput, *cmd.ClassificationID)
			}
			return 0, err
		}
	}

	changed, err := s.rules.Update(ctx, cmd, actor)
	if err != nil {
		return 0, err
	}
	s.appendChangeLog(ctx, actor, domain.OperationUpdate, rule.ID, "classification rule updated")

	if err := s.refreshDecorations(ctx, rule.ID); err != nil {
		return changed, err
	}
	return changed, nil
}

// Delete removes a rule and reverts or recomputes the decorations it was
// governing.
func (s *RuleService) Delete(ctx context.Context, ruleID int64, actor string) error {
	rule, err := s.rules.GetByID(ctx, ruleID)
	if err != nil {
		return err
	}
	if rule.IsReadonly {
		return fmt.Errorf("%w: rule %d", domain.ErrReadonlyRule, rule.ID)
	}

	if _, err := s.rules.Delete(ctx, ruleID); err != nil {
		return err
	}
	s.appendChangeLog(ctx, actor, domain.OperationRemove, rule.ID, "classification rule removed")

	if rule.PointToPoint() {
		_, err = s.sweeper.ResetPointToPoint(ctx, rule)
		return err
	}
	_, err = s.sweeper.RunSweepForOrgUnits(ctx, []int64{rule.Parent.ID})
	return err
}

// CleanupOrphans removes rules referencing vanished org units or inactive
// suppliers and returns the bereaved references.
func (s *RuleService) CleanupOrphans(ctx context.Context, actor string) (domain.OrphanCleanupResult, error) {
	result, err := s.rules.CleanupOrphans(ctx)
	if err != nil {
		return domain.OrphanCleanupResult{}, err
	}
	for _, ruleID := range result.DeletedRuleIDs {
		s.appendChangeLog(ctx, actor, domain.OperationRemove, ruleID, "orphaned classification rule removed")
	}
	if len(result.DeletedRuleIDs) > 0 {
		s.log.Info("orphan cleanup removed rules",
			zap.Int("deleted", len(result.DeletedRuleIDs)),
			zap.Int("bereaved", len(result.Bereaved)))
	}
	return result, nil
}

func (s *RuleService) GetByID(ctx context.Context, ruleID int64) (domain.FlowClassificationRule, error) {
	if ruleID <= 0 {
		return domain.FlowClassificationRule{}, fmt.Errorf("%w: rule id must be positive", domain.ErrInvalidInput)
	}
	return s.rules.GetByID(ctx, ruleID)
}

func (s *RuleService) FindAll(ctx context.Context) ([]domain.FlowClassificationRule, error) {
	return s.rules.FindAll(ctx)
}

func (s *RuleService) FindByParent(ctx context.Context, ref domain.EntityRef) ([]domain.FlowClassificationRule, error) {
	if !validParentKind(ref.Kind) || ref.ID <= 0 {
		return nil, fmt.Errorf("%w: parent ref %s", domain.ErrInvalidInput, ref)
	}
	return s.rules.FindByParent(ctx, ref)
}

func (s *RuleService) FindByParentKind(ctx context.Context, kind domain.EntityKind) ([]domain.FlowClassificationRule, error) {
	if !validParentKind(kind) {
		return nil, fmt.Errorf("%w: parent kind %q", domain.ErrInvalidInput, kind)
	}
	return s.rules.FindByParentKind(ctx, kind)
}

func (s *RuleService) FindByApplication(ctx context.Context, appID int64) ([]domain.FlowClassificationRule, error) {
	if appID <= 0 {
		return nil, fmt.Errorf("%w: application id must be positive", domain.ErrInvalidInput)
	}
	return s.rules.FindByApplication(ctx, appID)
}

// CompanionAppRules returns other rules sharing this rule's supplier.
func (s *RuleService) CompanionAppRules(ctx context.Context, ruleID int64) ([]domain.FlowClassificationRule, error) {
	if ruleID <= 0 {
		return nil, fmt.Errorf("%w: rule id must be positive", domain.ErrInvalidInput)
	}
	return s.rules.CompanionAppRules(ctx, ruleID)
}

// CompanionDataTypeRules returns rules declared on ancestors of this rule's
// data type.
func (s *RuleService) CompanionDataTypeRules(ctx context.Context, ruleID int64) ([]domain.FlowClassificationRule, error) {
	if ruleID <= 0 {
		return nil, fmt.Errorf("%w: rule id must be positive", domain.ErrInvalidInput)
	}
	return s.rules.CompanionDataTypeRules(ctx, ruleID)
}

// refreshDecorations re-derives the decorations a rule governs: a targeted
// overwrite for point-to-point rules, a subtree sweep for org-unit rules.
func (s *RuleService) refreshDecorations(ctx context.Context, ruleID int64) error {
	rule, err := s.rules.GetByID(ctx, ruleID)
	if err != nil {
		return err
	}
	if rule.PointToPoint() {
		_, err = s.sweeper.ApplyPointToPoint(ctx, rule)
		return err
	}
	_, err = s.sweeper.RunSweepForOrgUnits(ctx, []int64{rule.Parent.ID})
	return err
}

func (s *RuleService) appendChangeLog(ctx context.Context, actor string, op domain.ChangeOperation, ruleID int64, message string) {
	if actor == "" {
		actor = "authsource"
	}
	entry := domain.ChangeLogEntry{
		Actor:      actor,
		Operation:  op,
		EntityKind: domain.KindFlowClassificationRule,
		EntityID:   ruleID,
		Message:    message,
	}
	if err := s.changeLog.Append(ctx, entry); err != nil {
		s.log.Warn("change log append failed", zap.Int64("rule_id", ruleID), zap.Error(err))
	}
}

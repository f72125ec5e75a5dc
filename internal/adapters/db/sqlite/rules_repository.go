package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/authsource/internal/domain"
	"gorm.io/gorm"
)

// RuleRepository implements domain.RuleRepository over the
// flow_classification_rule table.
type RuleRepository struct {
	db *gorm.DB
}

func NewRuleRepository(db *gorm.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

func ruleToDomain(m FlowClassificationRuleModel) domain.FlowClassificationRule {
	return domain.FlowClassificationRule{
		ID:               m.ID,
		Parent:           domain.MkRef(domain.EntityKind(m.ParentKind), m.ParentID),
		SupplierAppID:    m.ApplicationID,
		DataTypeID:       m.DataTypeID,
		ClassificationID: m.FlowClassificationID,
		Description:      m.Description,
		Provenance:       m.Provenance,
		ExternalID:       m.ExternalID,
		IsReadonly:       m.IsReadonly,
		LastUpdatedAt:    m.LastUpdatedAt,
		LastUpdatedBy:    m.LastUpdatedBy,
	}
}

func rulesToDomain(rows []FlowClassificationRuleModel) []domain.FlowClassificationRule {
	result := make([]domain.FlowClassificationRule, 0, len(rows))
	for _, m := range rows {
		result = append(result, ruleToDomain(m))
	}
	return result
}

func (r *RuleRepository) Insert(ctx context.Context, cmd domain.RuleCreateCommand, username string) (int64, error) {
	provenance := cmd.Provenance
	if provenance == "" {
		provenance = "authsource"
	}
	m := FlowClassificationRuleModel{
		ParentKind:           string(cmd.Parent.Kind),
		ParentID:             cmd.Parent.ID,
		ApplicationID:        cmd.SupplierAppID,
		DataTypeID:           cmd.DataTypeID,
		FlowClassificationID: cmd.ClassificationID,
		Description:          cmd.Description,
		Provenance:           provenance,
		ExternalID:           cmd.ExternalID,
		LastUpdatedAt:        time.Now().UTC(),
		LastUpdatedBy:        username,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return 0, err
	}
	return m.ID, nil
}

func (r *RuleRepository) Update(ctx context.Context, cmd domain.RuleUpdateCommand, username string) (int64, error) {
	changes := map[string]any{
		"last_updated_at": time.Now().UTC(),
		"last_updated_by": username,
	}
	if cmd.ClassificationID != nil {
		changes["flow_classification_id"] = *cmd.ClassificationID
	}
	if cmd.Description != nil {
		changes["description"] = *cmd.Description
	}

	res := r.db.WithContext(ctx).
		Model(&FlowClassificationRuleModel{}).
		Where("id = ?", cmd.RuleID).
		Updates(changes)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *RuleRepository) Delete(ctx context.Context, ruleID int64) (int64, error) {
	res := r.db.WithContext(ctx).Where("id = ?", ruleID).Delete(&FlowClassificationRuleModel{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *RuleRepository) GetByID(ctx context.Context, ruleID int64) (domain.FlowClassificationRule, error) {
	var m FlowClassificationRuleModel
	err := r.db.WithContext(ctx).First(&m, ruleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.FlowClassificationRule{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.FlowClassificationRule{}, err
	}
	return ruleToDomain(m), nil
}

func (r *RuleRepository) FindAll(ctx context.Context) ([]domain.FlowClassificationRule, error) {
	rows := make([]FlowClassificationRuleModel, 0)
	if err := r.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rulesToDomain(rows), nil
}

func (r *RuleRepository) FindByParent(ctx context.Context, ref domain.EntityRef) ([]domain.FlowClassificationRule, error) {
	rows := make([]FlowClassificationRuleModel, 0)
	err := r.db.WithContext(ctx).
		Where("parent_kind = ? AND parent_id = ?", string(ref.Kind), ref.ID).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rulesToDomain(rows), nil
}

func (r *RuleRepository) FindByParentKind(ctx context.Context, kind domain.EntityKind) ([]domain.FlowClassificationRule, error) {
	rows := make([]FlowClassificationRuleModel, 0)
	err := r.db.WithContext(ctx).
		Where("parent_kind = ?", string(kind)).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rulesToDomain(rows), nil
}

func (r *RuleRepository) FindByApplication(ctx context.Context, appID int64) ([]domain.FlowClassificationRule, error) {
	rows := make([]FlowClassificationRuleModel, 0)
	err := r.db.WithContext(ctx).
		Where("application_id = ?", appID).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rulesToDomain(rows), nil
}

// CompanionAppRules returns other rules that share this rule's supplier.
func (r *RuleRepository) CompanionAppRules(ctx context.Context, ruleID int64) ([]domain.FlowClassificationRule, error) {
	rows := make([]FlowClassificationRuleModel, 0)
	err := r.db.WithContext(ctx).
		Where("application_id = (SELECT application_id FROM flow_classification_rule WHERE id = ?) AND id <> ?", ruleID, ruleID).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rulesToDomain(rows), nil
}

// CompanionDataTypeRules returns other rules declared on an ancestor of this
// rule's data type.
func (r *RuleRepository) CompanionDataTypeRules(ctx context.Context, ruleID int64) ([]domain.FlowClassificationRule, error) {
	rows := make([]FlowClassificationRuleModel, 0)
	err := r.db.WithContext(ctx).Raw(`
SELECT other.*
FROM flow_classification_rule base
JOIN entity_hierarchy eh
  ON eh.kind = 'DATA_TYPE' AND eh.descendant_id = base.data_type_id
JOIN flow_classification_rule other
  ON other.data_type_id = eh.ancestor_id
WHERE base.id = ? AND other.id <> base.id
ORDER BY other.id
`, ruleID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rulesToDomain(rows), nil
}

type vantageRow struct {
	OrgUnitID          int64
	OrgUnitLevel       int
	DataTypeID         int64
	DataTypeLevel      int
	SupplierAppID      int64
	ClassificationCode string
	RuleID             int64
}

// vantageSelect joins org-scoped rules with both hierarchy closures and the
// classification table. Levels are declared-scope depths; the ordering is the
// precedence order consumed by the resolver.
const vantageSelect = `
SELECT eh_org.descendant_id   AS org_unit_id,
       eh_org.ancestor_level  AS org_unit_level,
       eh_dt.descendant_id    AS data_type_id,
       eh_dt.ancestor_level   AS data_type_level,
       fcr.application_id     AS supplier_app_id,
       fc.code                AS classification_code,
       fcr.id                 AS rule_id
FROM flow_classification_rule fcr
JOIN entity_hierarchy eh_org
  ON eh_org.kind = 'ORG_UNIT' AND eh_org.ancestor_id = fcr.parent_id
JOIN entity_hierarchy eh_dt
  ON eh_dt.kind = 'DATA_TYPE' AND eh_dt.ancestor_id = fcr.data_type_id
JOIN flow_classification fc
  ON fc.id = fcr.flow_classification_id
JOIN application supplier
  ON supplier.id = fcr.application_id AND supplier.is_removed = 0
WHERE fcr.parent_kind = 'ORG_UNIT'
`

const vantageOrder = `
ORDER BY eh_org.ancestor_level DESC, eh_dt.ancestor_level DESC,
         eh_org.descendant_id, eh_dt.descendant_id, fcr.id
`

func vantageToDomain(rows []vantageRow) []domain.VantagePoint {
	result := make([]domain.VantagePoint, 0, len(rows))
	for _, m := range rows {
		result = append(result, domain.VantagePoint{
			OrgUnitID:          m.OrgUnitID,
			OrgUnitLevel:       m.OrgUnitLevel,
			DataTypeID:         m.DataTypeID,
			DataTypeLevel:      m.DataTypeLevel,
			SupplierAppID:      m.SupplierAppID,
			ClassificationCode: m.ClassificationCode,
			RuleID:             m.RuleID,
		})
	}
	return result
}

func (r *RuleRepository) VantagePoints(ctx context.Context) ([]domain.VantagePoint, error) {
	rows := make([]vantageRow, 0)
	if err := r.db.WithContext(ctx).Raw(vantageSelect + vantageOrder).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return vantageToDomain(rows), nil
}

func (r *RuleRepository) VantagePointsForOrgUnits(ctx context.Context, orgIDs []int64) ([]domain.VantagePoint, error) {
	if len(orgIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, 0, len(orgIDs))
	args := make([]any, 0, len(orgIDs))
	for _, id := range orgIDs {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}
	q := vantageSelect +
		fmt.Sprintf("  AND eh_org.descendant_id IN (%s)\n", strings.Join(placeholders, ",")) +
		vantageOrder

	rows := make([]vantageRow, 0)
	if err := r.db.WithContext(ctx).Raw(q, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return vantageToDomain(rows), nil
}

func (r *RuleRepository) PointToPointRules(ctx context.Context) ([]domain.FlowClassificationRule, error) {
	rows := make([]FlowClassificationRuleModel, 0)
	err := r.db.WithContext(ctx).Raw(`
SELECT fcr.*
FROM flow_classification_rule fcr
JOIN application supplier
  ON supplier.id = fcr.application_id AND supplier.is_removed = 0
WHERE fcr.parent_kind IN ('APPLICATION', 'ACTOR')
ORDER BY fcr.id
`).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rulesToDomain(rows), nil
}

// CleanupOrphans removes rules pointing at vanished org units or at suppliers
// that no longer exist or are removed. The bereaved set names the surviving
// half of each broken rule for downstream notification.
func (r *RuleRepository) CleanupOrphans(ctx context.Context) (domain.OrphanCleanupResult, error) {
	result := domain.OrphanCleanupResult{
		Bereaved:       make([]domain.EntityRef, 0),
		DeletedRuleIDs: make([]int64, 0),
	}
	seen := make(map[domain.EntityRef]struct{})
	seenIDs := make(map[int64]struct{})
	collectID := func(id int64) {
		if _, ok := seenIDs[id]; !ok {
			seenIDs[id] = struct{}{}
			result.DeletedRuleIDs = append(result.DeletedRuleIDs, id)
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		const unknownOrgUnit = `
parent_kind = 'ORG_UNIT' AND parent_id NOT IN (SELECT id FROM org_unit)`
		const inactiveSupplier = `
application_id NOT IN (SELECT id FROM application WHERE is_removed = 0)`

		type supplierRow struct {
			ID            int64
			ApplicationID int64
		}
		supplierRows := make([]supplierRow, 0)
		if err := tx.Raw(`SELECT id, application_id FROM flow_classification_rule WHERE` + unknownOrgUnit).
			Scan(&supplierRows).Error; err != nil {
			return err
		}
		for _, row := range supplierRows {
			collectID(row.ID)
			ref := domain.MkRef(domain.KindApplication, row.ApplicationID)
			if _, ok := seen[ref]; !ok {
				seen[ref] = struct{}{}
				result.Bereaved = append(result.Bereaved, ref)
			}
		}

		type parentRow struct {
			ID         int64
			ParentKind string
			ParentID   int64
		}
		parentRows := make([]parentRow, 0)
		if err := tx.Raw(`SELECT id, parent_kind, parent_id FROM flow_classification_rule WHERE` + inactiveSupplier).
			Scan(&parentRows).Error; err != nil {
			return err
		}
		for _, row := range parentRows {
			collectID(row.ID)
			ref := domain.MkRef(domain.EntityKind(row.ParentKind), row.ParentID)
			if _, ok := seen[ref]; !ok {
				seen[ref] = struct{}{}
				result.Bereaved = append(result.Bereaved, ref)
			}
		}

		return tx.Exec(`DELETE FROM flow_classification_rule WHERE (` + unknownOrgUnit + `) OR (` + inactiveSupplier + `)`).Error
	})
	if err != nil {
		return domain.OrphanCleanupResult{}, err
	}
	return result, nil
}

package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/atvirokodosprendimai/authsource/internal/domain"
	"gorm.io/gorm"
)

// FlowRepository reads flows and their data-type decorations and applies the
// sweep's batched rewrites.
type FlowRepository struct {
	db *gorm.DB
}

func NewFlowRepository(db *gorm.DB) *FlowRepository {
	return &FlowRepository{db: db}
}

const flowNotRemoved = `flow.is_removed = 0 AND flow.entity_lifecycle_status <> 'REMOVED'`

// classifyWriteError tags lock contention as retryable. modernc.org/sqlite
// reports contention as SQLITE_BUSY / "database is locked".
func classifyWriteError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	return err
}

func inClause(column string, ids []int64, args *[]any) string {
	placeholders := make([]string, 0, len(ids))
	for _, id := range ids {
		placeholders = append(placeholders, "?")
		*args = append(*args, id)
	}
	return column + " IN (" + strings.Join(placeholders, ",") + ")"
}

type sweepCandidateRow struct {
	DecorationID    int64
	FlowID          int64
	SourceAppID     int64
	TargetKind      string
	TargetID        int64
	TargetOrgUnitID int64
	DataTypeID      int64
	Rating          string
	RuleID          *int64
}

// SweepCandidates returns every decoration of every live, application-sourced
// flow, joined with the consumer application's org unit where the consumer is
// an application.
func (r *FlowRepository) SweepCandidates(ctx context.Context, selector domain.DecorationSelector) ([]domain.SweepCandidate, error) {
	q := `
SELECT d.id                            AS decoration_id,
       flow.id                         AS flow_id,
       flow.source_id                  AS source_app_id,
       flow.target_kind                AS target_kind,
       flow.target_id                  AS target_id,
       COALESCE(consumer.org_unit_id, 0) AS target_org_unit_id,
       d.data_type_id                  AS data_type_id,
       d.rating                        AS rating,
       d.flow_classification_rule_id   AS rule_id
FROM logical_flow flow
JOIN flow_decoration d ON d.logical_flow_id = flow.id
LEFT JOIN application consumer
  ON flow.target_kind = 'APPLICATION' AND consumer.id = flow.target_id
WHERE flow.source_kind = 'APPLICATION'
  AND ` + flowNotRemoved

	args := make([]any, 0)
	if len(selector.ConsumerOrgUnitIDs) > 0 {
		q += "\n  AND " + inClause("consumer.org_unit_id", selector.ConsumerOrgUnitIDs, &args)
	}
	if len(selector.SupplierAppIDs) > 0 {
		q += "\n  AND " + inClause("flow.source_id", selector.SupplierAppIDs, &args)
	}
	q += "\nORDER BY d.id"

	rows := make([]sweepCandidateRow, 0)
	if err := r.db.WithContext(ctx).Raw(q, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]domain.SweepCandidate, 0, len(rows))
	for _, m := range rows {
		result = append(result, domain.SweepCandidate{
			DecorationID:    m.DecorationID,
			FlowID:          m.FlowID,
			SourceAppID:     m.SourceAppID,
			Target:          domain.MkRef(domain.EntityKind(m.TargetKind), m.TargetID),
			TargetOrgUnitID: m.TargetOrgUnitID,
			DataTypeID:      m.DataTypeID,
			Rating:          m.Rating,
			RuleID:          m.RuleID,
		})
	}
	return result, nil
}

// ApplyDecorationUpdates writes one batch of rewrites in a single
// transaction; a failure rolls the whole batch back.
func (r *FlowRepository) ApplyDecorationUpdates(ctx context.Context, updates []domain.DecorationUpdate) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	var changed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			res := tx.Exec(`
UPDATE flow_decoration
SET rating = ?, flow_classification_rule_id = ?
WHERE id = ?
`, u.Rating, u.RuleID, u.DecorationID)
			if res.Error != nil {
				return res.Error
			}
			changed += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, classifyWriteError(err)
	}
	return changed, nil
}

type p2pCandidateRow struct {
	DecorationID int64
	DataTypeID   int64
	Distance     int
	Rating       string
	RuleID       *int64
}

// PointToPointCandidates finds decorations of flows from the rule's supplier
// to the rule's parent whose data type sits in the declared subtree, shallow
// types first.
func (r *FlowRepository) PointToPointCandidates(ctx context.Context, rule domain.FlowClassificationRule) ([]domain.PointToPointCandidate, error) {
	rows := make([]p2pCandidateRow, 0)
	err := r.db.WithContext(ctx).Raw(`
SELECT d.id                          AS decoration_id,
       d.data_type_id                AS data_type_id,
       eh.descendant_level - eh.ancestor_level AS distance,
       d.rating                      AS rating,
       d.flow_classification_rule_id AS rule_id
FROM entity_hierarchy eh
JOIN flow_decoration d ON d.data_type_id = eh.descendant_id
JOIN logical_flow flow ON flow.id = d.logical_flow_id
WHERE eh.kind = 'DATA_TYPE'
  AND eh.ancestor_id = ?
  AND flow.source_kind = 'APPLICATION'
  AND flow.source_id = ?
  AND flow.target_kind = ?
  AND flow.target_id = ?
  AND `+flowNotRemoved+`
ORDER BY distance, d.id
`, rule.DataTypeID, rule.SupplierAppID, string(rule.Parent.Kind), rule.Parent.ID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]domain.PointToPointCandidate, 0, len(rows))
	for _, m := range rows {
		result = append(result, domain.PointToPointCandidate{
			DecorationID: m.DecorationID,
			DataTypeID:   m.DataTypeID,
			Distance:     m.Distance,
			Rating:       m.Rating,
			RuleID:       m.RuleID,
		})
	}
	return result, nil
}

// ClearPointToPointRatings reverts decorations that currently carry the
// withdrawn rule's classification code. Finer-grained explicit mappings may
// be wiped too; the next full sweep restores them.
func (r *FlowRepository) ClearPointToPointRatings(ctx context.Context, rule domain.FlowClassificationRule, code string) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
UPDATE flow_decoration
SET rating = 'NO_OPINION', flow_classification_rule_id = NULL
WHERE id IN (
    SELECT d.id
    FROM flow_decoration d
    JOIN logical_flow flow ON flow.id = d.logical_flow_id
    JOIN entity_hierarchy eh
      ON eh.kind = 'DATA_TYPE' AND eh.descendant_id = d.data_type_id AND eh.ancestor_id = ?
    WHERE flow.source_kind = 'APPLICATION'
      AND flow.source_id = ?
      AND flow.target_kind = ?
      AND flow.target_id = ?
      AND d.rating = ?
)
`, rule.DataTypeID, rule.SupplierAppID, string(rule.Parent.Kind), rule.Parent.ID, code)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

type discouragedRow struct {
	SupplierID int64
	DataTypeID int64
	FlowCount  int
}

// DiscouragedSources aggregates DISCOURAGED / NO_OPINION decorations on live
// flows between active applications, by supplier and data type.
func (r *FlowRepository) DiscouragedSources(ctx context.Context, selector domain.DecorationSelector) ([]domain.DiscouragedSource, error) {
	q := `
SELECT supplier.id    AS supplier_id,
       d.data_type_id AS data_type_id,
       COUNT(flow.id) AS flow_count
FROM application supplier
JOIN logical_flow flow
  ON flow.source_kind = 'APPLICATION' AND flow.source_id = supplier.id
JOIN flow_decoration d ON d.logical_flow_id = flow.id
JOIN application consumer
  ON flow.target_kind = 'APPLICATION' AND consumer.id = flow.target_id
WHERE ` + flowNotRemoved + `
  AND supplier.is_removed = 0
  AND consumer.is_removed = 0
  AND d.rating IN ('DISCOURAGED', 'NO_OPINION')`

	args := make([]any, 0)
	if len(selector.ConsumerOrgUnitIDs) > 0 {
		q += "\n  AND " + inClause("consumer.org_unit_id", selector.ConsumerOrgUnitIDs, &args)
	}
	if len(selector.SupplierAppIDs) > 0 {
		q += "\n  AND " + inClause("supplier.id", selector.SupplierAppIDs, &args)
	}
	q += "\nGROUP BY supplier.id, d.data_type_id\nORDER BY supplier.id, d.data_type_id"

	rows := make([]discouragedRow, 0)
	if err := r.db.WithContext(ctx).Raw(q, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]domain.DiscouragedSource, 0, len(rows))
	for _, m := range rows {
		result = append(result, domain.DiscouragedSource{
			Supplier:   domain.MkRef(domain.KindApplication, m.SupplierID),
			DataTypeID: m.DataTypeID,
			FlowCount:  m.FlowCount,
		})
	}
	return result, nil
}

type ruleConsumerRow struct {
	RuleID  int64
	AppID   int64
	AppName string
}

// ConsumersByDataType maps each rule covering the given data types to the
// applications consuming under it.
func (r *FlowRepository) ConsumersByDataType(ctx context.Context, dataTypeIDs []int64) ([]domain.RuleConsumer, error) {
	if len(dataTypeIDs) == 0 {
		return nil, nil
	}

	args := make([]any, 0, 2*len(dataTypeIDs))
	decorationIn := inClause("d.data_type_id", dataTypeIDs, &args)
	ruleIn := inClause("fcr.data_type_id", dataTypeIDs, &args)

	q := `
SELECT fcr.id        AS rule_id,
       consumer.id   AS app_id,
       consumer.name AS app_name
FROM logical_flow flow
JOIN flow_decoration d ON d.logical_flow_id = flow.id
JOIN flow_classification_rule fcr
  ON flow.source_kind = 'APPLICATION' AND fcr.application_id = flow.source_id
JOIN entity_hierarchy eh
  ON eh.kind = 'ORG_UNIT' AND eh.ancestor_id = fcr.parent_id
JOIN application consumer
  ON consumer.id = flow.target_id AND consumer.org_unit_id = eh.descendant_id
WHERE ` + decorationIn + `
  AND ` + ruleIn + `
  AND ` + flowNotRemoved + `
ORDER BY fcr.id, consumer.name
`

	rows := make([]ruleConsumerRow, 0)
	if err := r.db.WithContext(ctx).Raw(q, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]domain.RuleConsumer, 0, len(rows))
	for _, m := range rows {
		result = append(result, domain.RuleConsumer{RuleID: m.RuleID, AppID: m.AppID, AppName: m.AppName})
	}
	return result, nil
}

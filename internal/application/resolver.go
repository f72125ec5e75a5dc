package application

import (
	"fmt"

	"github.com/atvirokodosprendimai/authsource/internal/domain"
	"go.uber.org/zap"
)

// Verdict is the resolver's answer for one (consumer, data-type, supplier)
// triple.
type Verdict struct {
	RuleID             int64
	ClassificationCode string
}

type orgVantageKey struct {
	orgUnitID  int64
	dataTypeID int64
	supplierID int64
}

type pointToPointKey struct {
	consumer   domain.EntityRef
	dataTypeID int64
	supplierID int64
}

// pointToPointVantage is a point-to-point rule projected onto one data type
// of its declared subtree. Distance ranks specificity: the closer the
// declared type sits to the decorated type, the stronger the claim.
type pointToPointVantage struct {
	Consumer           domain.EntityRef
	DataTypeID         int64
	Distance           int
	SupplierAppID      int64
	ClassificationCode string
	RuleID             int64
}

// Resolver answers authoritative-source questions against one immutable
// snapshot of the vantage-point table and the point-to-point rules. Build a
// fresh one after rules or hierarchies change.
type Resolver struct {
	log *zap.Logger
	org map[orgVantageKey][]domain.VantagePoint
	p2p map[pointToPointKey][]pointToPointVantage
}

// NewResolver indexes the pre-ordered vantage rows. The slice order must be
// the expander's precedence order; rows are kept in that order per key.
func NewResolver(log *zap.Logger, vantagePoints []domain.VantagePoint, pointToPoint []pointToPointVantage) *Resolver {
	org := make(map[orgVantageKey][]domain.VantagePoint)
	for _, vp := range vantagePoints {
		key := orgVantageKey{orgUnitID: vp.OrgUnitID, dataTypeID: vp.DataTypeID, supplierID: vp.SupplierAppID}
		org[key] = append(org[key], vp)
	}

	p2p := make(map[pointToPointKey][]pointToPointVantage)
	for _, pv := range pointToPoint {
		key := pointToPointKey{consumer: pv.Consumer, dataTypeID: pv.DataTypeID, supplierID: pv.SupplierAppID}
		p2p[key] = append(p2p[key], pv)
	}

	return &Resolver{log: log, org: org, p2p: p2p}
}

// Resolve selects the single applicable rule for a decoration, or reports
// that none applies (the decoration then stays NO_OPINION).
//
// A point-to-point rule on the consumer itself always beats org-unit scoped
// rules. Otherwise the most specific declared scope wins: greatest org-unit
// level, then greatest data-type level, then lowest rule id.
func (r *Resolver) Resolve(consumer domain.EntityRef, consumerOrgUnitID, dataTypeID, supplierAppID int64) (Verdict, bool, error) {
	if rows, ok := r.p2p[pointToPointKey{consumer: consumer, dataTypeID: dataTypeID, supplierID: supplierAppID}]; ok {
		best := rows[0]
		for _, row := range rows[1:] {
			if row.Distance < best.Distance ||
				(row.Distance == best.Distance && row.RuleID < best.RuleID) {
				best = row
			}
		}
		return Verdict{RuleID: best.RuleID, ClassificationCode: best.ClassificationCode}, true, nil
	}

	rows, ok := r.org[orgVantageKey{orgUnitID: consumerOrgUnitID, dataTypeID: dataTypeID, supplierID: supplierAppID}]
	if !ok || len(rows) == 0 {
		return Verdict{}, false, nil
	}

	best := rows[0]
	if len(rows) > 1 {
		next := rows[1]
		if next.OrgUnitLevel == best.OrgUnitLevel && next.DataTypeLevel == best.DataTypeLevel {
			if next.RuleID == best.RuleID {
				return Verdict{}, false, fmt.Errorf("%w: rule %d appears twice at org unit %d, data type %d",
					domain.ErrConflictingRules, best.RuleID, consumerOrgUnitID, dataTypeID)
			}
			r.log.Warn("conflicting classification rules, keeping lowest rule id",
				zap.Int64("org_unit_id", consumerOrgUnitID),
				zap.Int64("data_type_id", dataTypeID),
				zap.Int64("supplier_app_id", supplierAppID),
				zap.Int64("kept_rule_id", best.RuleID),
				zap.Int64("shadowed_rule_id", next.RuleID))
		}
	}
	return Verdict{RuleID: best.RuleID, ClassificationCode: best.ClassificationCode}, true, nil
}

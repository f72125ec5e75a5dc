package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/atvirokodosprendimai/authsource/internal/domain"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	db, err := Open(filepath.Join(t.TempDir(), "authsource_test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return db
}

func ptrInt64(v int64) *int64 { return &v }

// seedTaxonomy loads the shared fixture: Bank > Markets > Equities org units,
// Reference > Party and Trades data types, and one application per org unit
// plus an AppA/AppB supplier pair under Bank.
func seedTaxonomy(t *testing.T, db *gorm.DB) {
	t.Helper()
	ctx := context.Background()

	orgUnits := []OrgUnitModel{
		{ID: 1, Name: "Bank"},
		{ID: 2, ParentID: ptrInt64(1), Name: "Markets"},
		{ID: 3, ParentID: ptrInt64(2), Name: "Equities"},
	}
	if err := db.Create(&orgUnits).Error; err != nil {
		t.Fatalf("seed org units: %v", err)
	}

	dataTypes := []DataTypeModel{
		{ID: 10, Name: "Reference", Code: "REFERENCE"},
		{ID: 11, ParentID: ptrInt64(10), Name: "Party", Code: "PARTY"},
		{ID: 12, Name: "Trades", Code: "TRADES"},
	}
	if err := db.Create(&dataTypes).Error; err != nil {
		t.Fatalf("seed data types: %v", err)
	}

	apps := []ApplicationModel{
		{ID: 100, OrgUnitID: 1, Name: "AppX"},
		{ID: 101, OrgUnitID: 2, Name: "AppY"},
		{ID: 102, OrgUnitID: 3, Name: "AppZ"},
		{ID: 103, OrgUnitID: 1, Name: "AppA"},
		{ID: 104, OrgUnitID: 1, Name: "AppB"},
	}
	if err := db.Create(&apps).Error; err != nil {
		t.Fatalf("seed applications: %v", err)
	}

	hierarchy := NewHierarchyRepository(db)
	if _, err := hierarchy.Rebuild(ctx, domain.KindOrgUnit); err != nil {
		t.Fatalf("rebuild org hierarchy: %v", err)
	}
	if _, err := hierarchy.Rebuild(ctx, domain.KindDataType); err != nil {
		t.Fatalf("rebuild data type hierarchy: %v", err)
	}
}

func classificationID(t *testing.T, db *gorm.DB, code string) int64 {
	t.Helper()
	var m FlowClassificationModel
	if err := db.Where("code = ?", code).First(&m).Error; err != nil {
		t.Fatalf("lookup classification %s: %v", code, err)
	}
	return m.ID
}

func insertRule(t *testing.T, db *gorm.DB, parentKind string, parentID, supplierID, dataTypeID, classificationID int64) int64 {
	t.Helper()
	ctx := context.Background()
	repo := NewRuleRepository(db)
	ruleID, err := repo.Insert(ctx, domain.RuleCreateCommand{
		Parent:           domain.MkRef(domain.EntityKind(parentKind), parentID),
		SupplierAppID:    supplierID,
		DataTypeID:       dataTypeID,
		ClassificationID: classificationID,
	}, "tester")
	if err != nil {
		t.Fatalf("insert rule: %v", err)
	}
	return ruleID
}

func TestHierarchyRebuildComputesDistances(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedTaxonomy(t, db)
	hierarchy := NewHierarchyRepository(db)

	ancestors, err := hierarchy.Ancestors(ctx, domain.KindOrgUnit, 3)
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	want := []domain.HierarchyNode{{ID: 3, Distance: 0}, {ID: 2, Distance: 1}, {ID: 1, Distance: 2}}
	if len(ancestors) != len(want) {
		t.Fatalf("expected %d ancestors, got %d", len(want), len(ancestors))
	}
	for i, node := range ancestors {
		if node != want[i] {
			t.Fatalf("ancestor %d: expected %+v, got %+v", i, want[i], node)
		}
	}

	descendants, err := hierarchy.Descendants(ctx, domain.KindOrgUnit, 1)
	if err != nil {
		t.Fatalf("descendants: %v", err)
	}
	if len(descendants) != 3 {
		t.Fatalf("expected 3 descendants of the root, got %d", len(descendants))
	}
	if descendants[0].ID != 1 || descendants[0].Distance != 0 {
		t.Fatalf("expected self at distance 0, got %+v", descendants[0])
	}

	rows, err := hierarchy.Rebuild(ctx, domain.KindOrgUnit)
	if err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	if rows != 6 {
		t.Fatalf("expected 6 closure rows for a 3-node chain, got %d", rows)
	}
}

func TestVantagePointsOrderMostSpecificFirst(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedTaxonomy(t, db)
	repo := NewRuleRepository(db)

	primary := classificationID(t, db, "PRIMARY")
	secondary := classificationID(t, db, "SECONDARY")

	bankRule := insertRule(t, db, "ORG_UNIT", 1, 100, 12, primary)
	marketsRule := insertRule(t, db, "ORG_UNIT", 2, 100, 12, secondary)

	points, err := repo.VantagePoints(ctx)
	if err != nil {
		t.Fatalf("vantage points: %v", err)
	}

	var forEquities []domain.VantagePoint
	for _, vp := range points {
		if vp.OrgUnitID == 3 && vp.DataTypeID == 12 && vp.SupplierAppID == 100 {
			forEquities = append(forEquities, vp)
		}
	}
	if len(forEquities) != 2 {
		t.Fatalf("expected both rules projected onto Equities, got %d", len(forEquities))
	}
	if forEquities[0].RuleID != marketsRule {
		t.Fatalf("expected deeper-scoped rule %d first, got %d", marketsRule, forEquities[0].RuleID)
	}
	if forEquities[0].OrgUnitLevel != 1 || forEquities[1].OrgUnitLevel != 0 {
		t.Fatalf("unexpected levels: %+v", forEquities)
	}
	if forEquities[1].RuleID != bankRule {
		t.Fatalf("expected root rule %d second, got %d", bankRule, forEquities[1].RuleID)
	}

	scoped, err := repo.VantagePointsForOrgUnits(ctx, []int64{2})
	if err != nil {
		t.Fatalf("scoped vantage points: %v", err)
	}
	for _, vp := range scoped {
		if vp.OrgUnitID != 2 {
			t.Fatalf("scoped query leaked org unit %d", vp.OrgUnitID)
		}
	}
}

func TestVantagePointsSkipRemovedSuppliers(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedTaxonomy(t, db)
	repo := NewRuleRepository(db)

	primary := classificationID(t, db, "PRIMARY")
	insertRule(t, db, "ORG_UNIT", 1, 100, 12, primary)
	if err := db.Model(&ApplicationModel{}).Where("id = ?", 100).Update("is_removed", true).Error; err != nil {
		t.Fatalf("remove supplier: %v", err)
	}

	points, err := repo.VantagePoints(ctx)
	if err != nil {
		t.Fatalf("vantage points: %v", err)
	}
	if len(points) != 0 {
		t.Fatalf("expected no vantage points for removed supplier, got %d", len(points))
	}
}

func TestCleanupOrphansIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedTaxonomy(t, db)
	repo := NewRuleRepository(db)

	inactive := ApplicationModel{ID: 77, OrgUnitID: 1, Name: "Legacy", IsRemoved: true}
	if err := db.Create(&inactive).Error; err != nil {
		t.Fatalf("seed inactive app: %v", err)
	}

	primary := classificationID(t, db, "PRIMARY")
	orphanOrg := insertRule(t, db, "ORG_UNIT", 99, 100, 12, primary)
	orphanSupplier := insertRule(t, db, "ORG_UNIT", 1, 77, 12, primary)
	valid := insertRule(t, db, "ORG_UNIT", 1, 100, 12, primary)

	result, err := repo.CleanupOrphans(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(result.DeletedRuleIDs) != 2 {
		t.Fatalf("expected 2 deleted rules, got %v", result.DeletedRuleIDs)
	}
	deleted := map[int64]bool{}
	for _, id := range result.DeletedRuleIDs {
		deleted[id] = true
	}
	if !deleted[orphanOrg] || !deleted[orphanSupplier] {
		t.Fatalf("expected rules %d and %d deleted, got %v", orphanOrg, orphanSupplier, result.DeletedRuleIDs)
	}

	bereaved := map[domain.EntityRef]bool{}
	for _, ref := range result.Bereaved {
		bereaved[ref] = true
	}
	if !bereaved[domain.MkRef(domain.KindApplication, 100)] {
		t.Fatalf("expected supplier of the unknown-org rule in bereaved set, got %v", result.Bereaved)
	}
	if !bereaved[domain.MkRef(domain.KindOrgUnit, 1)] {
		t.Fatalf("expected parent of the inactive-supplier rule in bereaved set, got %v", result.Bereaved)
	}

	if _, err := repo.GetByID(ctx, valid); err != nil {
		t.Fatalf("valid rule should survive: %v", err)
	}

	again, err := repo.CleanupOrphans(ctx)
	if err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
	if len(again.Bereaved) != 0 || len(again.DeletedRuleIDs) != 0 {
		t.Fatalf("expected empty second cleanup, got %+v", again)
	}
}

func TestCompanionRules(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedTaxonomy(t, db)
	repo := NewRuleRepository(db)

	primary := classificationID(t, db, "PRIMARY")
	partyRule := insertRule(t, db, "ORG_UNIT", 1, 103, 11, primary)
	referenceRule := insertRule(t, db, "ORG_UNIT", 2, 103, 10, primary)
	tradesRule := insertRule(t, db, "ORG_UNIT", 1, 100, 12, primary)

	byApp, err := repo.CompanionAppRules(ctx, partyRule)
	if err != nil {
		t.Fatalf("companion app rules: %v", err)
	}
	if len(byApp) != 1 || byApp[0].ID != referenceRule {
		t.Fatalf("expected only the shared-supplier rule, got %+v", byApp)
	}

	byDataType, err := repo.CompanionDataTypeRules(ctx, partyRule)
	if err != nil {
		t.Fatalf("companion data type rules: %v", err)
	}
	if len(byDataType) != 1 || byDataType[0].ID != referenceRule {
		t.Fatalf("expected the Reference ancestor rule, got %+v", byDataType)
	}

	byDataType, err = repo.CompanionDataTypeRules(ctx, tradesRule)
	if err != nil {
		t.Fatalf("companion data type rules for trades: %v", err)
	}
	if len(byDataType) != 0 {
		t.Fatalf("trades has no data-type companions, got %+v", byDataType)
	}
}

func TestPointToPointCandidatesOrderedShallowFirst(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedTaxonomy(t, db)
	flows := NewFlowRepository(db)

	flow := LogicalFlowModel{ID: 500, SourceKind: "APPLICATION", SourceID: 103, TargetKind: "APPLICATION", TargetID: 104}
	if err := db.Create(&flow).Error; err != nil {
		t.Fatalf("seed flow: %v", err)
	}
	decorations := []FlowDecorationModel{
		{LogicalFlowID: 500, DataTypeID: 11, Rating: "NO_OPINION"},
		{LogicalFlowID: 500, DataTypeID: 10, Rating: "NO_OPINION"},
	}
	if err := db.Create(&decorations).Error; err != nil {
		t.Fatalf("seed decorations: %v", err)
	}

	rule := domain.FlowClassificationRule{
		ID:            1,
		Parent:        domain.MkRef(domain.KindApplication, 104),
		SupplierAppID: 103,
		DataTypeID:    10,
	}
	candidates, err := flows.PointToPointCandidates(ctx, rule)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected both subtree decorations, got %d", len(candidates))
	}
	if candidates[0].DataTypeID != 10 || candidates[0].Distance != 0 {
		t.Fatalf("expected declared type first, got %+v", candidates[0])
	}
	if candidates[1].DataTypeID != 11 || candidates[1].Distance != 1 {
		t.Fatalf("expected child type second, got %+v", candidates[1])
	}
}

func TestDiscouragedSourcesCountsLiveFlowsOnly(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedTaxonomy(t, db)
	flows := NewFlowRepository(db)

	live := LogicalFlowModel{ID: 600, SourceKind: "APPLICATION", SourceID: 100, TargetKind: "APPLICATION", TargetID: 102}
	removed := LogicalFlowModel{ID: 601, SourceKind: "APPLICATION", SourceID: 100, TargetKind: "APPLICATION", TargetID: 104, IsRemoved: true, EntityLifecycleStatus: "REMOVED"}
	if err := db.Create(&[]LogicalFlowModel{live, removed}).Error; err != nil {
		t.Fatalf("seed flows: %v", err)
	}
	decorations := []FlowDecorationModel{
		{LogicalFlowID: 600, DataTypeID: 12, Rating: "DISCOURAGED"},
		{LogicalFlowID: 601, DataTypeID: 12, Rating: "DISCOURAGED"},
	}
	if err := db.Create(&decorations).Error; err != nil {
		t.Fatalf("seed decorations: %v", err)
	}

	report, err := flows.DiscouragedSources(ctx, domain.DecorationSelector{})
	if err != nil {
		t.Fatalf("discouraged sources: %v", err)
	}
	if len(report) != 1 {
		t.Fatalf("expected one aggregate row, got %d", len(report))
	}
	row := report[0]
	if row.Supplier != domain.MkRef(domain.KindApplication, 100) || row.DataTypeID != 12 || row.FlowCount != 1 {
		t.Fatalf("unexpected report row: %+v", row)
	}

	scoped, err := flows.DiscouragedSources(ctx, domain.DecorationSelector{SupplierAppIDs: []int64{101}})
	if err != nil {
		t.Fatalf("scoped report: %v", err)
	}
	if len(scoped) != 0 {
		t.Fatalf("expected empty report for other supplier, got %+v", scoped)
	}
}

func TestRuleCRUDRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedTaxonomy(t, db)
	repo := NewRuleRepository(db)

	primary := classificationID(t, db, "PRIMARY")
	secondary := classificationID(t, db, "SECONDARY")

	ruleID := insertRule(t, db, "ORG_UNIT", 1, 100, 12, primary)
	rule, err := repo.GetByID(ctx, ruleID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rule.Provenance != "authsource" || rule.LastUpdatedBy != "tester" {
		t.Fatalf("unexpected stamps: %+v", rule)
	}

	importedID, err := repo.Insert(ctx, domain.RuleCreateCommand{
		Parent:           domain.MkRef(domain.KindOrgUnit, 2),
		SupplierAppID:    100,
		DataTypeID:       12,
		ClassificationID: primary,
		Provenance:       "waltz-import",
	}, "tester")
	if err != nil {
		t.Fatalf("insert with provenance: %v", err)
	}
	imported, err := repo.GetByID(ctx, importedID)
	if err != nil {
		t.Fatalf("get imported: %v", err)
	}
	if imported.Provenance != "waltz-import" {
		t.Fatalf("expected caller-supplied provenance kept, got %q", imported.Provenance)
	}

	desc := "secondary now"
	changed, err := repo.Update(ctx, domain.RuleUpdateCommand{RuleID: ruleID, ClassificationID: &secondary, Description: &desc}, "editor")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if changed != 1 {
		t.Fatalf("expected one row changed, got %d", changed)
	}
	rule, err = repo.GetByID(ctx, ruleID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if rule.ClassificationID != secondary || rule.Description != desc || rule.LastUpdatedBy != "editor" {
		t.Fatalf("update not applied: %+v", rule)
	}

	deleted, err := repo.Delete(ctx, ruleID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected one row deleted, got %d", deleted)
	}
	if _, err := repo.GetByID(ctx, ruleID); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

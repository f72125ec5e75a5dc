package domain

import "context"

// RuleRepository owns all writes to flow_classification_rule rows. Readers
// receive value snapshots only.
type RuleRepository interface {
	Insert(ctx context.Context, cmd RuleCreateCommand, username string) (int64, error)
	Update(ctx context.Context, cmd RuleUpdateCommand, username string) (int64, error)
	Delete(ctx context.Context, ruleID int64) (int64, error)
	GetByID(ctx context.Context, ruleID int64) (FlowClassificationRule, error)
	FindAll(ctx context.Context) ([]FlowClassificationRule, error)
	FindByParent(ctx context.Context, ref EntityRef) ([]FlowClassificationRule, error)
	FindByParentKind(ctx context.Context, kind EntityKind) ([]FlowClassificationRule, error)
	FindByApplication(ctx context.Context, appID int64) ([]FlowClassificationRule, error)
	CompanionAppRules(ctx context.Context, ruleID int64) ([]FlowClassificationRule, error)
	CompanionDataTypeRules(ctx context.Context, ruleID int64) ([]FlowClassificationRule, error)

	// VantagePoints expands org-scoped rules across both hierarchies in
	// precedence order. Rules with inactive suppliers are omitted.
	VantagePoints(ctx context.Context) ([]VantagePoint, error)
	VantagePointsForOrgUnits(ctx context.Context, orgIDs []int64) ([]VantagePoint, error)

	// PointToPointRules returns rules whose parent is an application or
	// actor and whose supplier is still active.
	PointToPointRules(ctx context.Context) ([]FlowClassificationRule, error)

	// CleanupOrphans deletes rules whose org-unit parent vanished or whose
	// supplier is gone/removed.
	CleanupOrphans(ctx context.Context) (OrphanCleanupResult, error)
}

// HierarchyRepository reads the shared entity_hierarchy closure table.
// Rebuild regenerates one kind's closure from the parent pointers; taxonomy
// edits themselves happen elsewhere.
type HierarchyRepository interface {
	Ancestors(ctx context.Context, kind EntityKind, id int64) ([]HierarchyNode, error)
	Descendants(ctx context.Context, kind EntityKind, id int64) ([]HierarchyNode, error)
	Rebuild(ctx context.Context, kind EntityKind) (int64, error)
}

// FlowRepository reads flows and decorations and applies the sweep's batched
// decoration rewrites.
type FlowRepository interface {
	SweepCandidates(ctx context.Context, selector DecorationSelector) ([]SweepCandidate, error)
	ApplyDecorationUpdates(ctx context.Context, updates []DecorationUpdate) (int64, error)
	PointToPointCandidates(ctx context.Context, rule FlowClassificationRule) ([]PointToPointCandidate, error)
	// ClearPointToPointRatings resets matching decorations currently carrying
	// the given classification code to NO_OPINION with no rule.
	ClearPointToPointRatings(ctx context.Context, rule FlowClassificationRule, code string) (int64, error)
	DiscouragedSources(ctx context.Context, selector DecorationSelector) ([]DiscouragedSource, error)
	ConsumersByDataType(ctx context.Context, dataTypeIDs []int64) ([]RuleConsumer, error)
}

// CatalogRepository exposes the reference entities the engine validates
// against but never mutates.
type CatalogRepository interface {
	GetApplication(ctx context.Context, id int64) (Application, error)
	GetDataType(ctx context.Context, id int64) (DataType, error)
	GetClassification(ctx context.Context, id int64) (FlowClassification, error)
	ListClassifications(ctx context.Context) ([]FlowClassification, error)
	CreateClassification(ctx context.Context, value FlowClassification) (FlowClassification, error)
}

// ChangeLogRepository persists the engine's structured mutation events.
type ChangeLogRepository interface {
	Append(ctx context.Context, entry ChangeLogEntry) error
	List(ctx context.Context, limit int) ([]ChangeLogEntry, error)
}

// OrgHierarchy and DataTypeHierarchy are the typed views over the untyped
// closure table; they exist to keep the two taxonomies from being mixed up
// at call sites.
type OrgHierarchy struct{ Repo HierarchyRepository }

func (h OrgHierarchy) Ancestors(ctx context.Context, id int64) ([]HierarchyNode, error) {
	return h.Repo.Ancestors(ctx, KindOrgUnit, id)
}

func (h OrgHierarchy) Descendants(ctx context.Context, id int64) ([]HierarchyNode, error) {
	return h.Repo.Descendants(ctx, KindOrgUnit, id)
}

type DataTypeHierarchy struct{ Repo HierarchyRepository }

func (h DataTypeHierarchy) Ancestors(ctx context.Context, id int64) ([]HierarchyNode, error) {
	return h.Repo.Ancestors(ctx, KindDataType, id)
}

func (h DataTypeHierarchy) Descendants(ctx context.Context, id int64) ([]HierarchyNode, error) {
	return h.Repo.Descendants(ctx, KindDataType, id)
}

package domain

import (
	"fmt"
	"time"
)

// EntityKind discriminates references held in polymorphic (kind, id) columns.
type EntityKind string

const (
	KindOrgUnit                EntityKind = "ORG_UNIT"
	KindApplication            EntityKind = "APPLICATION"
	KindActor                  EntityKind = "ACTOR"
	KindDataType               EntityKind = "DATA_TYPE"
	KindLogicalFlow            EntityKind = "LOGICAL_FLOW"
	KindFlowClassificationRule EntityKind = "FLOW_CLASSIFICATION_RULE"
)

// LifecycleStatus tracks logical flow liveness; REMOVED flows are invisible
// to the sweep and the reports.
type LifecycleStatus string

const (
	LifecycleActive  LifecycleStatus = "ACTIVE"
	LifecyclePending LifecycleStatus = "PENDING"
	LifecycleRemoved LifecycleStatus = "REMOVED"
)

// ChangeOperation is the verb recorded on change-log entries.
type ChangeOperation string

const (
	OperationAdd    ChangeOperation = "ADD"
	OperationUpdate ChangeOperation = "UPDATE"
	OperationRemove ChangeOperation = "REMOVE"
)

// Well-known classification codes. Further codes are data-driven via the
// flow_classification table.
const (
	RatingNoOpinion   = "NO_OPINION"
	RatingDiscouraged = "DISCOURAGED"
)

// EntityRef is a typed reference into one of the catalog tables.
type EntityRef struct {
	Kind EntityKind
	ID   int64
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s/%d", r.Kind, r.ID)
}

func MkRef(kind EntityKind, id int64) EntityRef {
	return EntityRef{Kind: kind, ID: id}
}

type OrgUnit struct {
	ID       int64
	ParentID *int64
	Name     string
}

type DataType struct {
	ID       int64
	ParentID *int64
	Name     string
	Code     string
}

type Application struct {
	ID        int64
	OrgUnitID int64
	Name      string
	IsRemoved bool
}

type Actor struct {
	ID   int64
	Name string
}

type LogicalFlow struct {
	ID              int64
	Source          EntityRef
	Target          EntityRef
	IsRemoved       bool
	LifecycleStatus LifecycleStatus
}

// FlowDecoration is the (flow, data-type) row that carries the resolved
// classification. RuleID is set exactly when Rating was derived from a rule.
type FlowDecoration struct {
	ID         int64
	FlowID     int64
	DataTypeID int64
	Rating     string
	RuleID     *int64
}

type FlowClassification struct {
	ID         int64
	Code       string
	Name       string
	IsPositive bool
}

type FlowClassificationRule struct {
	ID               int64
	Parent           EntityRef
	SupplierAppID    int64
	DataTypeID       int64
	ClassificationID int64
	Description      string
	Provenance       string
	ExternalID       string
	IsReadonly       bool
	LastUpdatedAt    time.Time
	LastUpdatedBy    string
}

// PointToPoint reports whether the rule is scoped to a specific consumer
// rather than an org-unit subtree.
func (r FlowClassificationRule) PointToPoint() bool {
	return r.Parent.Kind == KindApplication || r.Parent.Kind == KindActor
}

// VantagePoint is one row of the expanded vantage-point table: a rule
// projected onto a (descendant org-unit, descendant data-type) pair. Levels
// are the depths of the rule's declared scopes, so a greater level means a
// more specific rule.
type VantagePoint struct {
	OrgUnitID          int64
	OrgUnitLevel       int
	DataTypeID         int64
	DataTypeLevel      int
	SupplierAppID      int64
	ClassificationCode string
	RuleID             int64
}

// HierarchyNode is an ancestor or descendant returned by the hierarchy index.
// Distance is hops from the queried node; 0 is the node itself.
type HierarchyNode struct {
	ID       int64
	Distance int
}

// RuleCreateCommand carries the inputs for a new rule. Provenance defaults
// to the system name when left empty.
type RuleCreateCommand struct {
	Parent           EntityRef
	SupplierAppID    int64
	DataTypeID       int64
	ClassificationID int64
	Description      string
	Provenance       string
	ExternalID       string
}

// RuleUpdateCommand mutates classification and/or description in place.
type RuleUpdateCommand struct {
	RuleID           int64
	ClassificationID *int64
	Description      *string
}

type ChangeLogEntry struct {
	ID         int64
	Actor      string
	Operation  ChangeOperation
	EntityKind EntityKind
	EntityID   int64
	Message    string
	CreatedAt  time.Time
}

// DiscouragedSource is one aggregate row of the discouraged-source report.
type DiscouragedSource struct {
	Supplier   EntityRef
	DataTypeID int64
	FlowCount  int
}

// RuleConsumer links a rule to one application consuming data under it.
type RuleConsumer struct {
	RuleID  int64
	AppID   int64
	AppName string
}

// DecorationSelector narrows sweep and report scope. The zero value selects
// everything.
type DecorationSelector struct {
	ConsumerOrgUnitIDs []int64
	SupplierAppIDs     []int64
}

// SweepReport summarises one decoration sweep.
type SweepReport struct {
	RunID         string
	RowsExamined  int
	RowsUpdated   int
	BatchesFailed int
	Cancelled     bool
}

// DecorationUpdate is a single pending rewrite computed by the resolver.
type DecorationUpdate struct {
	DecorationID int64
	Rating       string
	RuleID       *int64
}

// OrphanCleanupResult reports one orphan sweep: the rules removed and the
// surviving halves of each broken rule (the bereaved references) for
// downstream notification.
type OrphanCleanupResult struct {
	Bereaved       []EntityRef
	DeletedRuleIDs []int64
}

// SweepCandidate is one decoration row joined with its flow context, as
// consumed by the full sweep. TargetOrgUnitID is zero when the consumer is
// an actor.
type SweepCandidate struct {
	DecorationID    int64
	FlowID          int64
	SourceAppID     int64
	Target          EntityRef
	TargetOrgUnitID int64
	DataTypeID      int64
	Rating          string
	RuleID          *int64
}

// PointToPointCandidate is a decoration reachable from a point-to-point rule:
// same supplier/consumer pair, data type inside the rule's declared subtree.
// Distance orders parent data types before their children.
type PointToPointCandidate struct {
	DecorationID int64
	DataTypeID   int64
	Distance     int
	Rating       string
	RuleID       *int64
}

package sqlite

import "time"

type OrgUnitModel struct {
	ID       int64  `gorm:"primaryKey"`
	ParentID *int64 `gorm:"index"`
	Name     string `gorm:"not null"`
}

func (OrgUnitModel) TableName() string { return "org_unit" }

type DataTypeModel struct {
	ID       int64  `gorm:"primaryKey"`
	ParentID *int64 `gorm:"index"`
	Name     string `gorm:"not null"`
	Code     string `gorm:"not null;default:''"`
}

func (DataTypeModel) TableName() string { return "data_type" }

type ActorModel struct {
	ID   int64  `gorm:"primaryKey"`
	Name string `gorm:"not null"`
}

func (ActorModel) TableName() string { return "actor" }

type ApplicationModel struct {
	ID        int64  `gorm:"primaryKey"`
	OrgUnitID int64  `gorm:"not null;index"`
	Name      string `gorm:"not null"`
	IsRemoved bool   `gorm:"not null;default:false"`
}

func (ApplicationModel) TableName() string { return "application" }

type LogicalFlowModel struct {
	ID                    int64  `gorm:"primaryKey"`
	SourceKind            string `gorm:"not null"`
	SourceID              int64  `gorm:"not null"`
	TargetKind            string `gorm:"not null"`
	TargetID              int64  `gorm:"not null"`
	IsRemoved             bool   `gorm:"not null;default:false"`
	EntityLifecycleStatus string `gorm:"not null;default:'ACTIVE'"`
}

func (LogicalFlowModel) TableName() string { return "logical_flow" }

type FlowDecorationModel struct {
	ID                       int64  `gorm:"primaryKey"`
	LogicalFlowID            int64  `gorm:"not null;index:idx_flow_dt,unique"`
	DataTypeID               int64  `gorm:"not null;index:idx_flow_dt,unique"`
	Rating                   string `gorm:"not null;default:'NO_OPINION'"`
	FlowClassificationRuleID *int64
}

func (FlowDecorationModel) TableName() string { return "flow_decoration" }

type FlowClassificationModel struct {
	ID         int64  `gorm:"primaryKey"`
	Code       string `gorm:"uniqueIndex;not null"`
	Name       string `gorm:"not null"`
	IsPositive bool   `gorm:"not null;default:false"`
}

func (FlowClassificationModel) TableName() string { return "flow_classification" }

type FlowClassificationRuleModel struct {
	ID                   int64  `gorm:"primaryKey"`
	ParentKind           string `gorm:"not null;index:idx_rule_scope,unique"`
	ParentID             int64  `gorm:"not null;index:idx_rule_scope,unique"`
	ApplicationID        int64  `gorm:"not null;index:idx_rule_scope,unique"`
	DataTypeID           int64  `gorm:"not null;index:idx_rule_scope,unique"`
	FlowClassificationID int64  `gorm:"not null"`
	Description          string `gorm:"not null;default:''"`
	Provenance           string `gorm:"not null;default:'authsource'"`
	ExternalID           string `gorm:"not null;default:''"`
	IsReadonly           bool   `gorm:"not null;default:false"`
	LastUpdatedAt        time.Time
	LastUpdatedBy        string `gorm:"not null"`
}

func (FlowClassificationRuleModel) TableName() string { return "flow_classification_rule" }

type EntityHierarchyModel struct {
	Kind            string `gorm:"primaryKey"`
	AncestorID      int64  `gorm:"primaryKey"`
	DescendantID    int64  `gorm:"primaryKey"`
	AncestorLevel   int    `gorm:"not null"`
	DescendantLevel int    `gorm:"not null"`
}

func (EntityHierarchyModel) TableName() string { return "entity_hierarchy" }

type ChangeLogModel struct {
	ID         int64  `gorm:"primaryKey"`
	Actor      string `gorm:"not null"`
	Operation  string `gorm:"not null"`
	EntityKind string `gorm:"not null"`
	EntityID   int64  `gorm:"not null"`
	Message    string `gorm:"not null;default:''"`
	CreatedAt  time.Time
}

func (ChangeLogModel) TableName() string { return "change_log" }

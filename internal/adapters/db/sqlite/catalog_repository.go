package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/atvirokodosprendimai/authsource/internal/domain"
	"gorm.io/gorm"
)

// CatalogRepository reads the reference entities the engine validates
// against. The engine never writes these except for classifications, which
// are data-driven.
type CatalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) GetApplication(ctx context.Context, id int64) (domain.Application, error) {
	var m ApplicationModel
	err := r.db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Application{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Application{}, err
	}
	return domain.Application{ID: m.ID, OrgUnitID: m.OrgUnitID, Name: m.Name, IsRemoved: m.IsRemoved}, nil
}

func (r *CatalogRepository) GetDataType(ctx context.Context, id int64) (domain.DataType, error) {
	var m DataTypeModel
	err := r.db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.DataType{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.DataType{}, err
	}
	return domain.DataType{ID: m.ID, ParentID: m.ParentID, Name: m.Name, Code: m.Code}, nil
}

func (r *CatalogRepository) GetClassification(ctx context.Context, id int64) (domain.FlowClassification, error) {
	var m FlowClassificationModel
	err := r.db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.FlowClassification{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.FlowClassification{}, err
	}
	return domain.FlowClassification{ID: m.ID, Code: m.Code, Name: m.Name, IsPositive: m.IsPositive}, nil
}

func (r *CatalogRepository) ListClassifications(ctx context.Context) ([]domain.FlowClassification, error) {
	rows := make([]FlowClassificationModel, 0)
	if err := r.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.FlowClassification, 0, len(rows))
	for _, m := range rows {
		result = append(result, domain.FlowClassification{ID: m.ID, Code: m.Code, Name: m.Name, IsPositive: m.IsPositive})
	}
	return result, nil
}

func (r *CatalogRepository) CreateClassification(ctx context.Context, value domain.FlowClassification) (domain.FlowClassification, error) {
	m := FlowClassificationModel{Code: value.Code, Name: value.Name, IsPositive: value.IsPositive}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.FlowClassification{}, err
	}
	return domain.FlowClassification{ID: m.ID, Code: m.Code, Name: m.Name, IsPositive: m.IsPositive}, nil
}

// ChangeLogRepository persists the engine's structured mutation events.
type ChangeLogRepository struct {
	db *gorm.DB
}

func NewChangeLogRepository(db *gorm.DB) *ChangeLogRepository {
	return &ChangeLogRepository{db: db}
}

func (r *ChangeLogRepository) Append(ctx context.Context, entry domain.ChangeLogEntry) error {
	m := ChangeLogModel{
		Actor:      entry.Actor,
		Operation:  string(entry.Operation),
		EntityKind: string(entry.EntityKind),
		EntityID:   entry.EntityID,
		Message:    entry.Message,
		CreatedAt:  time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(&m).Error
}

func (r *ChangeLogRepository) List(ctx context.Context, limit int) ([]domain.ChangeLogEntry, error) {
	rows := make([]ChangeLogModel, 0)
	if err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.ChangeLogEntry, 0, len(rows))
	for _, m := range rows {
		result = append(result, domain.ChangeLogEntry{
			ID:         m.ID,
			Actor:      m.Actor,
			Operation:  domain.ChangeOperation(m.Operation),
			EntityKind: domain.EntityKind(m.EntityKind),
			EntityID:   m.EntityID,
			Message:    m.Message,
			CreatedAt:  m.CreatedAt,
		})
	}
	return result, nil
}

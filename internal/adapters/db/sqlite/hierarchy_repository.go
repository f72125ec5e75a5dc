package sqlite

import (
	"context"
	"fmt"

	"github.com/atvirokodosprendimai/authsource/internal/domain"
	"gorm.io/gorm"
)

// HierarchyRepository reads and rebuilds the shared closure table. Levels
// stored per row are depths from the tree root; the distance exposed to
// callers is the difference of the two.
type HierarchyRepository struct {
	db *gorm.DB
}

func NewHierarchyRepository(db *gorm.DB) *HierarchyRepository {
	return &HierarchyRepository{db: db}
}

type hierarchyRow struct {
	ID       int64
	Distance int
}

func hierarchyToDomain(rows []hierarchyRow) []domain.HierarchyNode {
	result := make([]domain.HierarchyNode, 0, len(rows))
	for _, m := range rows {
		result = append(result, domain.HierarchyNode{ID: m.ID, Distance: m.Distance})
	}
	return result
}

func (r *HierarchyRepository) Ancestors(ctx context.Context, kind domain.EntityKind, id int64) ([]domain.HierarchyNode, error) {
	rows := make([]hierarchyRow, 0)
	err := r.db.WithContext(ctx).Raw(`
SELECT ancestor_id AS id, descendant_level - ancestor_level AS distance
FROM entity_hierarchy
WHERE kind = ? AND descendant_id = ?
ORDER BY distance, id
`, string(kind), id).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return hierarchyToDomain(rows), nil
}

func (r *HierarchyRepository) Descendants(ctx context.Context, kind domain.EntityKind, id int64) ([]domain.HierarchyNode, error) {
	rows := make([]hierarchyRow, 0)
	err := r.db.WithContext(ctx).Raw(`
SELECT descendant_id AS id, descendant_level - ancestor_level AS distance
FROM entity_hierarchy
WHERE kind = ? AND ancestor_id = ?
ORDER BY distance, id
`, string(kind), id).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return hierarchyToDomain(rows), nil
}

// Rebuild regenerates the closure for one kind from the parent pointers of
// the backing taxonomy table, including the identity rows.
func (r *HierarchyRepository) Rebuild(ctx context.Context, kind domain.EntityKind) (int64, error) {
	var table string
	switch kind {
	case domain.KindOrgUnit:
		table = "org_unit"
	case domain.KindDataType:
		table = "data_type"
	default:
		return 0, fmt.Errorf("%w: no hierarchy for kind %s", domain.ErrInvalidInput, kind)
	}

	var written int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM entity_hierarchy WHERE kind = ?`, string(kind)).Error; err != nil {
			return err
		}

		res := tx.Exec(fmt.Sprintf(`
WITH RECURSIVE depth(id, level) AS (
    SELECT id, 0 FROM %[1]s WHERE parent_id IS NULL
    UNION ALL
    SELECT child.id, depth.level + 1
    FROM %[1]s child
    JOIN depth ON child.parent_id = depth.id
),
closure(ancestor_id, descendant_id) AS (
    SELECT id, id FROM %[1]s
    UNION ALL
    SELECT closure.ancestor_id, child.id
    FROM %[1]s child
    JOIN closure ON child.parent_id = closure.descendant_id
)
INSERT INTO entity_hierarchy (kind, ancestor_id, descendant_id, ancestor_level, descendant_level)
SELECT ?, closure.ancestor_id, closure.descendant_id, da.level, dd.level
FROM closure
JOIN depth da ON da.id = closure.ancestor_id
JOIN depth dd ON dd.id = closure.descendant_id
`, table), string(kind))
		if res.Error != nil {
			return res.Error
		}
		written = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

package repository

import (
	"context"
	"errors"

	"github.com/example/marketplace/pkg/catalog"
	"github.com/example/marketplace/pkg/models"
	"gorm.io/gorm"
)

// CatalogRepository reads one catalog table.
type CatalogRepository struct {
	db      *gorm.DB
	catalog models.Catalog
}

func NewCatalogRepository(db *gorm.DB, c models.Catalog) *CatalogRepository {
	return &CatalogRepository{db: db, catalog: c}
}

// CatalogLookups returns a lookup for every known catalog, keyed for
// catalog.NewResolver.
func CatalogLookups(db *gorm.DB) map[models.Catalog]catalog.Lookup {
	lookups := make(map[models.Catalog]catalog.Lookup, len(models.CatalogPriority))
	for _, c := range models.CatalogPriority {
		lookups[c] = NewCatalogRepository(db, c)
	}
	return lookups
}

func (r *CatalogRepository) GetByID(ctx context.Context, productID string) (*models.Product, error) {
	var p models.Product
	err := r.db.WithContext(ctx).
		Table(r.catalog.Table()).
		Where("id = ?", productID).
		Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"iaros/payee-enrichment-engine/internal/models"
)

// SupplierRepository reads the replicated known-supplier catalog. The
// catalog is refreshed out of band; this repository is read-only from
// the pipeline's perspective.
type SupplierRepository struct {
	db *gorm.DB
}

func NewSupplierRepository(db *gorm.DB) *SupplierRepository {
	return &SupplierRepository{db: db}
}

// Candidates returns suppliers matching normalizedName under any of the
// catalog's four lookup modes — exact normalized match, prefix, contains,
// and business-name variant (leading word) — as one bounded candidate set
// ahead of the matcher's full scoring pass. Exact and prefix ride the
// normalized_name index; contains and variant are the recall catch-alls.
func (r *SupplierRepository) Candidates(ctx context.Context, normalizedName string, candidateLen, limit int) ([]models.KnownSupplier, error) {
	prefix := normalizedName
	if len(prefix) > candidateLen {
		prefix = prefix[:candidateLen]
	}

	cond := r.db.
		Where("normalized_name = ?", normalizedName).
		Or("normalized_name LIKE ?", prefix+"%").
		Or("normalized_name LIKE ?", "%"+normalizedName+"%")
	if words := strings.Fields(normalizedName); len(words) > 1 {
		cond = cond.Or("normalized_name LIKE ?", words[0]+" %")
	}

	var suppliers []models.KnownSupplier
	err := r.db.WithContext(ctx).
		Where(cond).
		Limit(limit).
		Find(&suppliers).Error
	return suppliers, err
}

func (r *SupplierRepository) Get(ctx context.Context, supplierID string) (*models.KnownSupplier, error) {
	var s models.KnownSupplier
	err := r.db.WithContext(ctx).First(&s, "supplier_id = ?", supplierID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SupplierRepository) Upsert(ctx context.Context, s *models.KnownSupplier) error {
	return r.db.WithContext(ctx).Save(s).Error
}

func (r *SupplierRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.KnownSupplier{}).Count(&count).Error
	return count, err
}

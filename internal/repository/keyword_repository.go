package repository

import (
	"context"

	"gorm.io/gorm"

	"iaros/payee-enrichment-engine/internal/models"
)

// KeywordRepository persists the exclusion keyword admin list. The
// exclusion filter's in-memory active set (internal/exclusion) is
// refreshed from this table's ActiveKeywords query.
type KeywordRepository struct {
	db *gorm.DB
}

func NewKeywordRepository(db *gorm.DB) *KeywordRepository {
	return &KeywordRepository{db: db}
}

func (r *KeywordRepository) ActiveKeywords(ctx context.Context) ([]models.ExclusionKeyword, error) {
	var keywords []models.ExclusionKeyword
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Find(&keywords).Error
	return keywords, err
}

func (r *KeywordRepository) List(ctx context.Context) ([]models.ExclusionKeyword, error) {
	var keywords []models.ExclusionKeyword
	err := r.db.WithContext(ctx).Order("keyword ASC").Find(&keywords).Error
	return keywords, err
}

func (r *KeywordRepository) Create(ctx context.Context, k *models.ExclusionKeyword) error {
	return r.db.WithContext(ctx).Create(k).Error
}

func (r *KeywordRepository) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.ExclusionKeyword{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *KeywordRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&models.ExclusionKeyword{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

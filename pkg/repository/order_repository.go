package repository

import (
	"context"
	"errors"
	"time"

	"github.com/example/marketplace/pkg/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderRepository stores orders and their items in MySQL. Rows written by
// CreateDraft stay invisible to every read until Publish flips them.
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) CreateDraft(ctx context.Context, o *models.Order) error {
	o.Draft = true
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(o).Error; err != nil {
			return err
		}
		if len(o.Items) == 0 {
			return nil
		}
		return tx.Create(&o.Items).Error
	})
	return models.Persistence("create draft order", err)
}

func (r *OrderRepository) Publish(ctx context.Context, orderID string) error {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND draft = ?", orderID, true).
		Update("draft", false)
	if res.Error != nil {
		return models.Persistence("publish order", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrOrderNotFound
	}
	return nil
}

// Discard deletes a draft and its items. Published orders are never touched.
func (r *OrderRepository) Discard(ctx context.Context, orderID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND draft = ?", orderID, true).Delete(&models.Order{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.Where("order_id = ?", orderID).Delete(&models.OrderItem{}).Error
	})
	return models.Persistence("discard draft order", err)
}

func (r *OrderRepository) Get(ctx context.Context, orderID string) (*models.Order, error) {
	var o models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ? AND draft = ?", orderID, false).
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, models.Persistence("get order", err)
	}
	return &o, nil
}

func (r *OrderRepository) List(ctx context.Context, filter models.OrderFilter) ([]models.Order, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{}).Where("draft = ?", false)
	if filter.BuyerID != "" {
		query = query.Where("buyer_id = ?", filter.BuyerID)
	}
	if filter.SellerID != "" {
		query = query.Where("seller_id = ?", filter.SellerID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, models.Persistence("count orders", err)
	}

	page, size := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}

	var orders []models.Order
	err := query.
		Preload("Items").
		Order("created_at DESC").
		Order("id").
		Offset((page - 1) * size).
		Limit(size).
		Find(&orders).Error
	if err != nil {
		return nil, 0, models.Persistence("list orders", err)
	}
	return orders, total, nil
}

// CompareAndUpdate applies changes only while the order still matches guard.
// A mismatch is reported as models.ErrStaleOrder.
func (r *OrderRepository) CompareAndUpdate(ctx context.Context, orderID string, guard models.OrderGuard, changes map[string]interface{}) error {
	query := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND draft = ?", orderID, false)
	if guard.Status != "" {
		query = query.Where("status = ?", guard.Status)
	}
	if guard.PaymentStatus != "" {
		query = query.Where("payment_status = ?", guard.PaymentStatus)
	}

	res := query.Updates(changes)
	if res.Error != nil {
		return models.Persistence("update order", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND draft = ?", orderID, false).
		Count(&count).Error; err != nil {
		return models.Persistence("update order", err)
	}
	if count == 0 {
		return models.ErrOrderNotFound
	}
	return models.ErrStaleOrder
}

// PurgeDrafts deletes drafts created before olderThan and returns how many
// orders went away.
func (r *OrderRepository) PurgeDrafts(ctx context.Context, olderThan time.Time) (int64, error) {
	var purged int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&models.Order{}).
			Where("draft = ? AND created_at < ?", true, olderThan).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("order_id IN ?", ids).Delete(&models.OrderItem{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ? AND draft = ?", ids, true).Delete(&models.Order{})
		purged = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, models.Persistence("purge draft orders", err)
	}
	return purged, nil
}

package db

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/cache"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/models"
)

// ProductCatalog is implemented by both the Postgres and the in-memory product repositories.
type ProductCatalog interface {
	GetAll(ctx context.Context) ([]models.Product, error)
	FindByID(ctx context.Context, id int64) (*models.Product, error)
	Create(ctx context.Context, req models.CreateProductRequest) (*models.Product, error)
	Save(ctx context.Context, p *models.Product) error
	ReserveStock(ctx context.Context, id int64, quantity int) (*models.Product, error)
	ReleaseStock(ctx context.Context, id int64, quantity int) (*models.Product, error)
	DeductStock(ctx context.Context, id int64, quantity int) (models.StockChange, error)
	Delete(ctx context.Context, id int64) error
}

// Cache is the subset of cache.RedisCache the repository needs.
type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, keys ...string) error
}

type CachedProductRepository struct {
	repo   ProductCatalog
	cache  Cache
	logger *zap.Logger
}

func NewCachedProductRepository(repo ProductCatalog, c Cache, logger *zap.Logger) *CachedProductRepository {
	return &CachedProductRepository{
		repo:   repo,
		cache:  c,
		logger: logger,
	}
}

// Cache key helpers
func productKey(id int64) string {
	return fmt.Sprintf("product:%d", id)
}

func allProductsKey() string {
	return "products:all"
}

// GetAll returns all products (with caching)
func (r *CachedProductRepository) GetAll(ctx context.Context) ([]models.Product, error) {
	cacheKey := allProductsKey()

	// Try cache first
	var products []models.Product
	err := r.cache.Get(ctx, cacheKey, &products)
	if err == nil {
		r.logger.Debug("📦 Cache HIT: all products")
		return products, nil
	}
	r.logMissError(err)

	// Cache miss - get from database
	r.logger.Debug("💾 Cache MISS: all products - fetching from DB")
	products, err = r.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, cacheKey, products); err != nil {
		r.logger.Warn("⚠️ Failed to cache products", zap.Error(err))
	}

	return products, nil
}

// FindByID returns a single product (with caching)
func (r *CachedProductRepository) FindByID(ctx context.Context, id int64) (*models.Product, error) {
	cacheKey := productKey(id)

	var product models.Product
	err := r.cache.Get(ctx, cacheKey, &product)
	if err == nil {
		r.logger.Debug("📦 Cache HIT", zap.Int64("product_id", id))
		return &product, nil
	}
	r.logMissError(err)

	r.logger.Debug("💾 Cache MISS - fetching from DB", zap.Int64("product_id", id))
	p, err := r.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, cacheKey, p); err != nil {
		r.logger.Warn("⚠️ Failed to cache product", zap.Int64("product_id", id), zap.Error(err))
	}

	return p, nil
}

// Create inserts a new product and invalidates the list cache
func (r *CachedProductRepository) Create(ctx context.Context, req models.CreateProductRequest) (*models.Product, error) {
	product, err := r.repo.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	r.invalidate(ctx)
	return product, nil
}

func (r *CachedProductRepository) Save(ctx context.Context, p *models.Product) error {
	if err := r.repo.Save(ctx, p); err != nil {
		return err
	}
	r.invalidate(ctx, p.ID)
	return nil
}

func (r *CachedProductRepository) ReserveStock(ctx context.Context, id int64, quantity int) (*models.Product, error) {
	p, err := r.repo.ReserveStock(ctx, id, quantity)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, id)
	return p, nil
}

func (r *CachedProductRepository) ReleaseStock(ctx context.Context, id int64, quantity int) (*models.Product, error) {
	p, err := r.repo.ReleaseStock(ctx, id, quantity)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, id)
	return p, nil
}

func (r *CachedProductRepository) DeductStock(ctx context.Context, id int64, quantity int) (models.StockChange, error) {
	change, err := r.repo.DeductStock(ctx, id, quantity)
	if err != nil {
		return change, err
	}
	r.invalidate(ctx, id)
	return change, nil
}

// Delete removes a product and invalidates cache
func (r *CachedProductRepository) Delete(ctx context.Context, id int64) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

func (r *CachedProductRepository) invalidate(ctx context.Context, ids ...int64) {
	keys := []string{allProductsKey()}
	for _, id := range ids {
		keys = append(keys, productKey(id))
	}
	if err := r.cache.Delete(ctx, keys...); err != nil {
		r.logger.Warn("⚠️ Failed to invalidate cache", zap.Strings("keys", keys), zap.Error(err))
		return
	}
	r.logger.Debug("🗑️ Cache invalidated", zap.Strings("keys", keys))
}

func (r *CachedProductRepository) logMissError(err error) {
	if !errors.Is(err, cache.ErrMiss) {
		r.logger.Warn("⚠️ Cache error", zap.Error(err))
	}
}

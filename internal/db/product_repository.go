package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/apperr"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/models"
)

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(database *PostgresDB) *ProductRepository {
	return &ProductRepository{db: database.Conn}
}

const productColumns = "id, name, category, price, quantity, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Quantity, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetAll returns all products
func (r *ProductRepository) GetAll(ctx context.Context) ([]models.Product, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+productColumns+" FROM products ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}

	return products, rows.Err()
}

// FindByID returns a single product or a not-found error
func (r *ProductRepository) FindByID(ctx context.Context, id int64) (*models.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("product %d not found", id)
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

// Create inserts a new product
func (r *ProductRepository) Create(ctx context.Context, req models.CreateProductRequest) (*models.Product, error) {
	product, err := models.NewProduct(req)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO products (name, category, price, quantity)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + productColumns

	p, err := scanProduct(r.db.QueryRowContext(ctx, query, product.Name, product.Category, product.Price, product.Quantity))
	if err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}
	return p, nil
}

// Save writes every mutable column of p
func (r *ProductRepository) Save(ctx context.Context, p *models.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}

	query := `
		UPDATE products
		SET name = $2, category = $3, price = $4, quantity = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRowContext(ctx, query, p.ID, p.Name, p.Category, p.Price, p.Quantity).Scan(&p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("product %d not found", p.ID)
		}
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

// ReserveStock decrements only when enough stock is left, in one statement.
func (r *ProductRepository) ReserveStock(ctx context.Context, id int64, quantity int) (*models.Product, error) {
	query := `
		UPDATE products
		SET quantity = quantity - $2, updated_at = now()
		WHERE id = $1 AND quantity >= $2
		RETURNING ` + productColumns

	p, err := scanProduct(r.db.QueryRowContext(ctx, query, id, quantity))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to reserve stock: %w", err)
	}

	// no row updated: either the product is gone or stock ran out
	current, findErr := r.FindByID(ctx, id)
	if findErr != nil {
		return nil, findErr
	}
	return nil, apperr.InsufficientStock(id, quantity, current.Quantity)
}

// ReleaseStock adds quantity back
func (r *ProductRepository) ReleaseStock(ctx context.Context, id int64, quantity int) (*models.Product, error) {
	query := `
		UPDATE products
		SET quantity = quantity + $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + productColumns

	p, err := scanProduct(r.db.QueryRowContext(ctx, query, id, quantity))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("product %d not found", id)
		}
		return nil, fmt.Errorf("failed to release stock: %w", err)
	}
	return p, nil
}

// DeductStock subtracts without a sufficiency check and reports both levels
func (r *ProductRepository) DeductStock(ctx context.Context, id int64, quantity int) (models.StockChange, error) {
	query := `
		UPDATE products
		SET quantity = quantity - $2, updated_at = now()
		WHERE id = $1
		RETURNING quantity + $2, quantity`

	change := models.StockChange{ProductID: id}
	err := r.db.QueryRowContext(ctx, query, id, quantity).Scan(&change.PreviousStock, &change.NewStock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return change, apperr.NotFound("product %d not found", id)
		}
		return change, fmt.Errorf("failed to deduct stock: %w", err)
	}
	return change, nil
}

// Delete removes a product
func (r *ProductRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperr.NotFound("product %d not found", id)
	}

	return nil
}

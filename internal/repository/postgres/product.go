package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/solarshop412/solar-shop-sub003/internal/domain"
	"github.com/solarshop412/solar-shop-sub003/internal/repository"
	"github.com/solarshop412/solar-shop-sub003/pkg/database"
	apperrors "github.com/solarshop412/solar-shop-sub003/pkg/errors"
)

// ProductRepository implements repository.ProductProvider using PostgreSQL.
type ProductRepository struct {
	db database.DBTX
}

// NewProductRepository creates a new PostgreSQL-backed product provider.
func NewProductRepository(db database.DBTX) *ProductRepository {
	return &ProductRepository{db: db}
}

var _ repository.ProductProvider = (*ProductRepository)(nil)

// GetProduct loads a single product by id.
func (r *ProductRepository) GetProduct(ctx context.Context, productID string) (_ *domain.Product, err error) {
	query := `
		SELECT id, unit_price::text, min_quantity, max_quantity,
			   available_quantity, categories
		FROM products
		WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "get product", query)
	defer func() { end(err) }()

	var (
		rec            repository.ProductRecord
		price          string
		categoriesJSON []byte
	)
	err = r.db.QueryRow(ctx, query, productID).Scan(
		&rec.ID,
		&price,
		&rec.MinQuantity,
		&rec.MaxQuantity,
		&rec.AvailableQuantity,
		&categoriesJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("product", productID)
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}

	if rec.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse unit_price: %w", err)
	}
	if err = unmarshalList(categoriesJSON, &rec.Categories); err != nil {
		return nil, fmt.Errorf("unmarshal categories: %w", err)
	}

	return rec.ToDomain()
}

func unmarshalList(raw []byte, dst *[]string) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

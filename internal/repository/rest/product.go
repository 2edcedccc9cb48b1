package rest

import (
	"context"
	"fmt"
	"net/url"

	"github.com/solarshop412/solar-shop-sub003/internal/domain"
	"github.com/solarshop412/solar-shop-sub003/internal/repository"
	apperrors "github.com/solarshop412/solar-shop-sub003/pkg/errors"
)

// ProductRepository implements repository.ProductProvider against the
// products table.
type ProductRepository struct {
	client *Client
}

func NewProductRepository(client *Client) *ProductRepository {
	return &ProductRepository{client: client}
}

var _ repository.ProductProvider = (*ProductRepository)(nil)

func (r *ProductRepository) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	query := url.Values{}
	query.Set("select", "id,unit_price,min_quantity,max_quantity,available_quantity,categories")
	query.Set("id", "eq."+productID)
	query.Set("limit", "1")

	var rows []repository.ProductRecord
	if err := r.client.get(ctx, "products", query, &rows); err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if len(rows) == 0 {
		return nil, apperrors.NotFound("product", productID)
	}
	return rows[0].ToDomain()
}

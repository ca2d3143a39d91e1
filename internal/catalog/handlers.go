package catalog

import (
	"context"
	"fmt"

	"github.com/petrijr/prepare/pkg/api"
)

// ListQuery filters ListProducts.
type ListQuery struct {
	Category string `json:"category,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// RelatedQuery asks for products related to the one already resolved under
// the key From.
type RelatedQuery struct {
	From  string `json:"from"`
	Limit int    `json:"limit,omitempty"`
}

// Action creators served by Register.
var (
	ListProducts    = api.NewCreator[ListQuery, []Product]("catalog/LIST_PRODUCTS")
	GetProduct      = api.NewCreator[int64, Product]("catalog/GET_PRODUCT")
	CategorySummary = api.NewCreator[any, []CategoryCount]("catalog/CATEGORY_SUMMARY")
	RelatedProducts = api.NewCreator[RelatedQuery, []Product]("catalog/RELATED_PRODUCTS")
)

// Registrar is where Register installs handlers.
type Registrar interface {
	On(c api.Typed, fn api.HandlerFunc) error
}

// Register installs the catalog handlers on reg.
func (c *Catalog) Register(reg Registrar) error {
	handlers := []struct {
		creator api.Typed
		fn      api.HandlerFunc
	}{
		{ListProducts, api.Handle(c.handleList)},
		{GetProduct, api.Handle(c.handleGet)},
		{CategorySummary, api.Handle(c.handleSummary)},
		{RelatedProducts, api.Handle(c.handleRelated)},
	}
	for _, h := range handlers {
		if err := reg.On(h.creator, h.fn); err != nil {
			return fmt.Errorf("register catalog: %w", err)
		}
	}
	return nil
}

func (c *Catalog) handleList(ctx context.Context, p api.TypedProps[ListQuery]) ([]Product, error) {
	return c.List(ctx, p.Payload.Category, p.Payload.Limit)
}

func (c *Catalog) handleGet(ctx context.Context, p api.TypedProps[int64]) (Product, error) {
	return c.Get(ctx, p.Payload)
}

func (c *Catalog) handleSummary(ctx context.Context, p api.TypedProps[any]) ([]CategoryCount, error) {
	return c.Summary(ctx)
}

// handleRelated depends on an earlier sequential result, so it cannot run
// as a parallel action.
func (c *Catalog) handleRelated(ctx context.Context, p api.TypedProps[RelatedQuery]) ([]Product, error) {
	raw, ok := p.Accumulation[p.Payload.From]
	if !ok || raw == nil {
		return nil, fmt.Errorf("related products: %q is not resolved", p.Payload.From)
	}
	product, err := api.Convert[Product](raw)
	if err != nil {
		return nil, fmt.Errorf("related products: %w", err)
	}
	return c.Related(ctx, product, p.Payload.Limit)
}

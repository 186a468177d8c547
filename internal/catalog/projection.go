package catalog

import (
	"context"
	"fmt"
	"time"

	"squaresync/internal/logger"
	"squaresync/internal/services/square"

	gocache "github.com/patrickmn/go-cache"
)

const skuMapCacheKey = "skumap"

// Identity is the Square-side identity a SKU maps to.
type Identity struct {
	ItemID      string
	VariationID string
}

// Projection builds and caches the SKU to catalog identity map by scanning
// the full Square catalog. The cache TTL bounds API call volume; staleness
// within the TTL is tolerated. Concurrent refreshes may both scan and
// overwrite redundantly, which is harmless since the map is rebuilt from
// source truth each time.
type Projection struct {
	square *square.Client
	cache  *gocache.Cache
	ttl    time.Duration
	logger *logger.Logger
}

func NewProjection(squareClient *square.Client, ttl time.Duration, logger *logger.Logger) *Projection {
	return &Projection{
		square: squareClient,
		cache:  gocache.New(ttl, 2*ttl),
		ttl:    ttl,
		logger: logger,
	}
}

// Lookup resolves a SKU to its Square identity, refreshing the cached map
// when it has expired. The second return reports whether the SKU is present
// on the Square side at all.
func (p *Projection) Lookup(ctx context.Context, sku string) (Identity, bool, error) {
	skuMap, err := p.skuMap(ctx)
	if err != nil {
		return Identity{}, false, err
	}
	identity, ok := skuMap[sku]
	return identity, ok, nil
}

// Refresh unconditionally rebuilds the cached map. Used at startup and after
// catalog mutations that add or move SKUs.
func (p *Projection) Refresh(ctx context.Context) error {
	skuMap, err := p.build(ctx)
	if err != nil {
		return err
	}
	p.cache.Set(skuMapCacheKey, skuMap, p.ttl)
	return nil
}

// Invalidate drops the cached map so the next lookup rebuilds it.
func (p *Projection) Invalidate() {
	p.cache.Delete(skuMapCacheKey)
}

func (p *Projection) skuMap(ctx context.Context) (map[string]Identity, error) {
	if cached, ok := p.cache.Get(skuMapCacheKey); ok {
		return cached.(map[string]Identity), nil
	}

	skuMap, err := p.build(ctx)
	if err != nil {
		return nil, err
	}
	p.cache.Set(skuMapCacheKey, skuMap, p.ttl)
	return skuMap, nil
}

func (p *Projection) build(ctx context.Context) (map[string]Identity, error) {
	skuMap := make(map[string]Identity)
	cursor := ""

	for {
		objects, nextCursor, err := p.square.ListCatalog(ctx, square.TypeItem+","+square.TypeItemVariation, cursor)
		if err != nil {
			return nil, fmt.Errorf("catalog scan failed: %w", err)
		}

		for _, obj := range objects {
			switch obj.Type {
			case square.TypeItem:
				if obj.ItemData == nil {
					continue
				}
				for _, variation := range obj.ItemData.Variations {
					addVariation(skuMap, obj.ID, variation)
				}
			case square.TypeItemVariation:
				itemID := ""
				if obj.ItemVariationData != nil {
					itemID = obj.ItemVariationData.ItemID
				}
				addVariation(skuMap, itemID, obj)
			}
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	p.logger.Debug("catalog projection rebuilt: %d SKUs mapped", len(skuMap))
	return skuMap, nil
}

func addVariation(skuMap map[string]Identity, itemID string, variation square.CatalogObject) {
	if variation.ItemVariationData == nil || variation.ItemVariationData.SKU == "" {
		return
	}
	if itemID == "" {
		itemID = variation.ItemVariationData.ItemID
	}
	skuMap[variation.ItemVariationData.SKU] = Identity{
		ItemID:      itemID,
		VariationID: variation.ID,
	}
}

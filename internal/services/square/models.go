package square

import "time"

// Catalog object types we care about.
const (
	TypeItem          = "ITEM"
	TypeItemVariation = "ITEM_VARIATION"
)

// Inventory states.
const (
	StateInStock = "IN_STOCK"
	StateNone    = "NONE"
)

// Inventory change types.
const (
	ChangePhysicalCount = "PHYSICAL_COUNT"
	ChangeAdjustment    = "ADJUSTMENT"
)

type CatalogObject struct {
	ID                    string             `json:"id"`
	Type                  string             `json:"type"`
	Version               int64              `json:"version,omitempty"`
	IsDeleted             bool               `json:"is_deleted,omitempty"`
	PresentAtAllLocations bool               `json:"present_at_all_locations"`
	PresentAtLocationIDs  []string           `json:"present_at_location_ids,omitempty"`
	AbsentAtLocationIDs   []string           `json:"absent_at_location_ids,omitempty"`
	ItemData              *ItemData          `json:"item_data,omitempty"`
	ItemVariationData     *ItemVariationData `json:"item_variation_data,omitempty"`
}

type ItemData struct {
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Variations  []CatalogObject `json:"variations,omitempty"`
}

type ItemVariationData struct {
	ItemID            string             `json:"item_id,omitempty"`
	Name              string             `json:"name,omitempty"`
	SKU               string             `json:"sku,omitempty"`
	PriceMoney        *Money             `json:"price_money,omitempty"`
	PricingType       string             `json:"pricing_type,omitempty"`
	TrackInventory    *bool              `json:"track_inventory,omitempty"`
	Stockable         *bool              `json:"stockable,omitempty"`
	Sellable          *bool              `json:"sellable,omitempty"`
	LocationOverrides []LocationOverride `json:"location_overrides,omitempty"`
}

type LocationOverride struct {
	LocationID     string `json:"location_id"`
	TrackInventory *bool  `json:"track_inventory,omitempty"`
}

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type InventoryCount struct {
	CatalogObjectID string `json:"catalog_object_id"`
	LocationID      string `json:"location_id"`
	State           string `json:"state"`
	Quantity        string `json:"quantity"`
	CalculatedAt    string `json:"calculated_at,omitempty"`
}

type InventoryChange struct {
	Type          string         `json:"type"`
	PhysicalCount *PhysicalCount `json:"physical_count,omitempty"`
	Adjustment    *Adjustment    `json:"adjustment,omitempty"`
}

type PhysicalCount struct {
	CatalogObjectID string `json:"catalog_object_id"`
	State           string `json:"state"`
	LocationID      string `json:"location_id"`
	Quantity        string `json:"quantity"`
	OccurredAt      string `json:"occurred_at"`
}

type Adjustment struct {
	CatalogObjectID string `json:"catalog_object_id"`
	FromState       string `json:"from_state"`
	ToState         string `json:"to_state"`
	LocationID      string `json:"location_id"`
	Quantity        string `json:"quantity"`
	OccurredAt      string `json:"occurred_at"`
}

type Location struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// WebhookEvent is the envelope Square posts to the webhook endpoint.
type WebhookEvent struct {
	Type      string       `json:"type"`
	EventType string       `json:"event_type"`
	EventID   string       `json:"event_id"`
	CreatedAt time.Time    `json:"created_at"`
	Data      *WebhookData `json:"data"`
}

type WebhookData struct {
	Type   string         `json:"type"`
	ID     string         `json:"id"`
	Object *WebhookObject `json:"object"`
}

type WebhookObject struct {
	InventoryCounts []WebhookInventoryCount `json:"inventory_counts"`
}

type WebhookInventoryCount struct {
	CatalogObjectID string `json:"catalog_object_id"`
	LocationID      string `json:"location_id"`
	State           string `json:"state"`
	Quantity        string `json:"quantity"`
	OccurredAt      string `json:"occurred_at"`
	CalculatedAt    string `json:"calculated_at"`
}

// EventTypeName returns whichever of the two type fields is set.
func (e *WebhookEvent) EventTypeName() string {
	if e.Type != "" {
		return e.Type
	}
	return e.EventType
}

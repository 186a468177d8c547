package ecwid

// Product is the cart-side product record. A product either carries its own
// SKU/quantity (simple product) or a set of combinations each with their own.
type Product struct {
	ID           int64         `json:"id"`
	SKU          string        `json:"sku"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Price        float64       `json:"price"`
	Quantity     int           `json:"quantity"`
	Unlimited    bool          `json:"unlimited"`
	Enabled      bool          `json:"enabled"`
	Combinations []Combination `json:"combinations,omitempty"`
}

type Combination struct {
	ID        int64   `json:"id"`
	SKU       string  `json:"sku"`
	Price     float64 `json:"price,omitempty"`
	Quantity  int     `json:"quantity"`
	Unlimited bool    `json:"unlimited"`
}

// TracksInventory reports whether the cart manages a stock count for the
// product itself (combinations carry their own flag).
func (p *Product) TracksInventory() bool {
	return !p.Unlimited
}

func (c *Combination) TracksInventory() bool {
	return !c.Unlimited
}

type Order struct {
	ID        string          `json:"id"`
	OrderID   int64           `json:"orderNumber"`
	Items     []OrderLineItem `json:"items"`
}

type OrderLineItem struct {
	ProductID int64  `json:"productId"`
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	Name      string `json:"name"`
}

type searchResult struct {
	Total int       `json:"total"`
	Count int       `json:"count"`
	Items []Product `json:"items"`
}

// WebhookEvent is the envelope the cart posts to the webhook endpoint.
// Either a single object or the first element of an array.
type WebhookEvent struct {
	EventType string `json:"eventType"`
	Type      string `json:"type"`
	EventID   string `json:"eventId"`
	EntityID  int64  `json:"entityId"`
	ProductID int64  `json:"productId"`
	OrderID   int64  `json:"orderId"`
}

// EventTypeName returns whichever of the two type fields is set.
func (e *WebhookEvent) EventTypeName() string {
	if e.EventType != "" {
		return e.EventType
	}
	return e.Type
}

// EntityIDValue resolves the entity id across the accepted field spellings.
func (e *WebhookEvent) EntityIDValue() int64 {
	if e.EntityID != 0 {
		return e.EntityID
	}
	if e.ProductID != 0 {
		return e.ProductID
	}
	return e.OrderID
}

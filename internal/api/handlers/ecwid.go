package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"squaresync/internal/audit"
	"squaresync/internal/catalog"
	"squaresync/internal/config"
	"squaresync/internal/logger"
	"squaresync/internal/reconcile"
	"squaresync/internal/services/ecwid"
	"squaresync/internal/services/square"
	"squaresync/internal/state"

	"github.com/gin-gonic/gin"
)

// EcwidHandler ingests cart-origin webhooks: product updates push descriptive
// fields and inventory into Square, order events trigger a re-sync of the
// cart's authoritative quantities for the ordered SKUs.
type EcwidHandler struct {
	config     *config.Config
	logger     *logger.Logger
	ecwid      *ecwid.Client
	square     *square.Client
	projection *catalog.Projection
	repairer   *catalog.Repairer
	reconciler *reconcile.Reconciler
	dedup      *reconcile.Deduplicator
	audit      audit.Publisher
}

func NewEcwidHandler(cfg *config.Config, logger *logger.Logger, ecwidClient *ecwid.Client, squareClient *square.Client,
	projection *catalog.Projection, repairer *catalog.Repairer, reconciler *reconcile.Reconciler,
	dedup *reconcile.Deduplicator, auditPub audit.Publisher) *EcwidHandler {
	return &EcwidHandler{
		config:     cfg,
		logger:     logger,
		ecwid:      ecwidClient,
		square:     squareClient,
		projection: projection,
		repairer:   repairer,
		reconciler: reconciler,
		dedup:      dedup,
		audit:      auditPub,
	}
}

// variant is one sellable unit of a cart product: either the product itself
// (implicit variant) or one of its combinations.
type variant struct {
	SKU           string
	Name          string
	Price         float64
	Quantity      int
	Tracks        bool
	ProductID     int64
	CombinationID int64
}

func (h *EcwidHandler) Webhook(c *gin.Context) {
	if h.config.EcwidWebhookSecret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook secret not configured"})
		return
	}

	token := c.Query("token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.config.EcwidWebhookSecret)) != 1 {
		h.logger.Warn("cart webhook rejected: bad secret from %s", c.ClientIP())
		h.audit.Publish(c.Request.Context(), audit.Event{
			Event:     audit.EventWebhookRejected,
			Direction: audit.DirectionCartToPOS,
			Detail:    map[string]interface{}{"reason": "bad_secret"},
		})
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read payload"})
		return
	}

	events, err := parseCartEvents(payload)
	if err != nil || len(events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event payload"})
		return
	}
	event := events[0]

	entityID := event.EntityIDValue()
	if entityID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing entity id"})
		return
	}

	eventType := event.EventTypeName()
	var results map[string]SKUResult

	if strings.Contains(strings.ToLower(eventType), "product") {
		results, err = h.handleProductEvent(c, entityID)
	} else {
		results, err = h.handleOrderEvent(c, entityID)
	}
	if err != nil {
		h.logger.Error("cart webhook structural failure for %s %d: %v", eventType, entityID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"event_type": eventType,
		"entity_id":  entityID,
		"results":    results,
	})
}

// parseCartEvents decodes the body as an array of events first, then as a
// single event, yielding a uniform list.
func parseCartEvents(payload []byte) ([]ecwid.WebhookEvent, error) {
	var events []ecwid.WebhookEvent
	if err := json.Unmarshal(payload, &events); err == nil {
		return events, nil
	}
	var single ecwid.WebhookEvent
	if err := json.Unmarshal(payload, &single); err != nil {
		return nil, err
	}
	return []ecwid.WebhookEvent{single}, nil
}

func (h *EcwidHandler) handleProductEvent(c *gin.Context, productID int64) (map[string]SKUResult, error) {
	ctx := c.Request.Context()

	product, err := h.ecwid.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cart product %d: %w", productID, err)
	}

	results := make(map[string]SKUResult)
	for _, v := range sellableVariants(product) {
		results[v.SKU] = h.syncVariant(c, v, true)
	}
	return results, nil
}

func (h *EcwidHandler) handleOrderEvent(c *gin.Context, orderID int64) (map[string]SKUResult, error) {
	ctx := c.Request.Context()

	order, err := h.ecwid.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cart order %d: %w", orderID, err)
	}

	results := make(map[string]SKUResult)
	for _, item := range order.Items {
		if item.SKU == "" {
			continue
		}

		// The order is only the trigger; the cart product holds the
		// authoritative current quantity.
		product, err := h.ecwid.GetProductBySKU(ctx, item.SKU)
		if err != nil {
			h.logger.Warn("order %d: failed to fetch cart product for sku %s: %v", orderID, item.SKU, err)
			results[item.SKU] = errorResult(ReasonFetchFailed)
			continue
		}

		v, ok := variantForSKU(product, item.SKU)
		if !ok {
			results[item.SKU] = errorResult(ReasonFetchFailed)
			continue
		}
		if !v.Tracks {
			results[item.SKU] = skippedResult(ReasonNotTracked)
			continue
		}

		results[item.SKU] = h.syncVariant(c, v, false)
	}
	return results, nil
}

// syncVariant pushes one cart variant into Square: descriptive fields first
// (product events only), then presence/tracking repair, then inventory.
func (h *EcwidHandler) syncVariant(c *gin.Context, v variant, updateDescriptive bool) SKUResult {
	ctx := c.Request.Context()

	// A cart event echoing our own cart write carries the quantity we just
	// set; suppress it before touching the Square catalog at all.
	if v.Tracks && h.dedup.IsEcho(ctx, state.MarkerForSKU(v.SKU), v.Quantity) {
		return skippedResult(ReasonEcho)
	}

	identity, found, err := h.projection.Lookup(ctx, v.SKU)
	if err != nil {
		h.logger.Error("catalog lookup failed for sku %s: %v", v.SKU, err)
		return errorResult(ReasonFetchFailed)
	}
	if !found {
		h.logger.Warn("sku %s not present in Square catalog", v.SKU)
		return errorResult(ReasonSKUMissing)
	}

	if updateDescriptive {
		if err := h.updateVariationFields(c, identity, v); err != nil {
			h.logger.Warn("descriptive update failed for sku %s: %v", v.SKU, err)
		}
	}

	ready, err := h.repairer.EnsureReady(ctx, identity.VariationID, h.config.SquareLocationID)
	if err != nil || !ready {
		h.logger.Error("presence repair failed for sku %s: %v", v.SKU, err)
		return errorResult(ReasonRepairFailed)
	}

	if !v.Tracks {
		// Cart does not manage stock for this variant; leave Square alone.
		return skippedResult(ReasonNotTracked)
	}

	if h.dedup.IsEcho(ctx, state.MarkerForVariation(identity.VariationID), v.Quantity) {
		return skippedResult(ReasonEcho)
	}

	res, err := h.reconciler.Reconcile(ctx, identity, h.config.SquareLocationID, v.Quantity)
	if err != nil {
		h.logger.Error("reconcile failed for sku %s: %v", v.SKU, err)
		return errorResult(ReasonWriteFailed)
	}

	h.audit.Publish(ctx, audit.Event{
		Event:       audit.EventSyncResult,
		Direction:   audit.DirectionCartToPOS,
		SKU:         v.SKU,
		VariationID: identity.VariationID,
		Quantity:    &v.Quantity,
		Detail:      map[string]interface{}{"method": res.Method, "applied": res.Applied},
	})

	if !res.Applied {
		return noopResult(res.Method, res.After)
	}
	return okResult(res.Method, res.Before, res.After)
}

// updateVariationFields mirrors the cart's name/price/sku onto the Square
// variation. Catalog mutation invalidates the projection.
func (h *EcwidHandler) updateVariationFields(c *gin.Context, identity catalog.Identity, v variant) error {
	ctx := c.Request.Context()

	obj, _, err := h.square.RetrieveCatalogObject(ctx, identity.VariationID, false)
	if err != nil {
		return err
	}
	if obj.ItemVariationData == nil {
		return fmt.Errorf("catalog object %s is not a variation", identity.VariationID)
	}

	obj.ItemVariationData.Name = v.Name
	obj.ItemVariationData.SKU = v.SKU
	obj.ItemVariationData.PricingType = "FIXED_PRICING"
	obj.ItemVariationData.PriceMoney = &square.Money{
		Amount:   int64(v.Price*100 + 0.5),
		Currency: h.config.SquareCurrency,
	}

	if _, err := h.square.UpsertCatalogObject(ctx, obj); err != nil {
		return err
	}
	h.projection.Invalidate()
	return nil
}

// sellableVariants flattens a product into its SKU-bearing variants: each
// combination with a SKU, or the product itself when it has no combinations.
func sellableVariants(product *ecwid.Product) []variant {
	if len(product.Combinations) == 0 {
		if product.SKU == "" {
			return nil
		}
		return []variant{{
			SKU:       product.SKU,
			Name:      product.Name,
			Price:     product.Price,
			Quantity:  product.Quantity,
			Tracks:    product.TracksInventory(),
			ProductID: product.ID,
		}}
	}

	variants := make([]variant, 0, len(product.Combinations))
	for _, combo := range product.Combinations {
		if combo.SKU == "" {
			continue
		}
		price := combo.Price
		if price == 0 {
			price = product.Price
		}
		variants = append(variants, variant{
			SKU:           combo.SKU,
			Name:          product.Name,
			Price:         price,
			Quantity:      combo.Quantity,
			Tracks:        combo.TracksInventory(),
			ProductID:     product.ID,
			CombinationID: combo.ID,
		})
	}
	return variants
}

// variantForSKU finds the variant of a product carrying the SKU.
func variantForSKU(product *ecwid.Product, sku string) (variant, bool) {
	for _, v := range sellableVariants(product) {
		if v.SKU == sku {
			return v, true
		}
	}
	return variant{}, false
}

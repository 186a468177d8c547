package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"squaresync/internal/audit"
	"squaresync/internal/config"
	"squaresync/internal/logger"
	"squaresync/internal/reconcile"
	"squaresync/internal/services/ecwid"
	"squaresync/internal/services/square"
	"squaresync/internal/state"

	"github.com/gin-gonic/gin"
)

// Signature header variants accepted for compatibility.
var signatureHeaders = []string{"X-Square-Hmacsha256-Signature", "X-Square-Signature"}

// SquareHandler ingests POS-origin inventory count webhooks and mirrors the
// authoritative quantity back into the cart.
type SquareHandler struct {
	config *config.Config
	logger *logger.Logger
	ecwid  *ecwid.Client
	square *square.Client
	dedup  *reconcile.Deduplicator
	store  state.Store
	audit  audit.Publisher

	// RaceRetryDelay spaces the re-fetches used when a positive event
	// disagrees with a zero read.
	RaceRetryDelay time.Duration
}

func NewSquareHandler(cfg *config.Config, logger *logger.Logger, ecwidClient *ecwid.Client, squareClient *square.Client,
	dedup *reconcile.Deduplicator, store state.Store, auditPub audit.Publisher) *SquareHandler {
	return &SquareHandler{
		config:         cfg,
		logger:         logger,
		ecwid:          ecwidClient,
		square:         squareClient,
		dedup:          dedup,
		store:          store,
		audit:          auditPub,
		RaceRetryDelay: 500 * time.Millisecond,
	}
}

func (h *SquareHandler) Webhook(c *gin.Context) {
	if h.config.SquareSignatureKey == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signature key not configured"})
		return
	}

	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read payload"})
		return
	}

	if !h.verifySignature(c, payload) {
		h.logger.Warn("square webhook rejected: bad signature from %s", c.ClientIP())
		h.audit.Publish(c.Request.Context(), audit.Event{
			Event:     audit.EventWebhookRejected,
			Direction: audit.DirectionPOSToCart,
			Detail:    map[string]interface{}{"reason": "bad_signature"},
		})
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var event square.WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event payload"})
		return
	}

	eventType := event.EventTypeName()
	if !strings.EqualFold(eventType, "inventory.count.updated") {
		// Webhook subscriptions commonly deliver superset event types.
		c.JSON(http.StatusOK, gin.H{"ok": true, "type": eventType, "ignored": true})
		return
	}

	if event.Data == nil || event.Data.Object == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing inventory counts"})
		return
	}

	results := make(map[string]SKUResult)
	for _, count := range event.Data.Object.InventoryCounts {
		if count.LocationID != h.config.SquareLocationID || count.State != square.StateInStock {
			// Unrelated entries are omitted from results, not errors.
			continue
		}
		results[count.CatalogObjectID] = h.applyCount(c, count)
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "type": eventType, "results": results})
}

// verifySignature accepts an HMAC-SHA256 over the notification URL plus body
// or over the body alone, under either accepted header name.
func (h *SquareHandler) verifySignature(c *gin.Context, payload []byte) bool {
	var provided string
	for _, header := range signatureHeaders {
		if v := c.GetHeader(header); v != "" {
			provided = v
			break
		}
	}
	if provided == "" {
		return false
	}

	for _, base := range []string{h.config.SquareWebhookURL + string(payload), string(payload)} {
		mac := hmac.New(sha256.New, []byte(h.config.SquareSignatureKey))
		mac.Write([]byte(base))
		expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
		if subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1 {
			return true
		}
	}
	return false
}

func (h *SquareHandler) applyCount(c *gin.Context, count square.WebhookInventoryCount) SKUResult {
	ctx := c.Request.Context()
	variationID := count.CatalogObjectID

	var eventQty *int
	if count.Quantity != "" {
		if qty, err := strconv.Atoi(count.Quantity); err == nil {
			eventQty = &qty
		}
	}

	if eventQty != nil && h.dedup.IsEcho(ctx, state.MarkerForVariation(variationID), *eventQty) {
		h.logger.Debug("variation %s: quantity %d is an echo of our own write", variationID, *eventQty)
		return skippedResult(ReasonEcho)
	}

	// Resolve SKU from the variation. A direct lookup rather than the cached
	// projection: this path is rare and correctness beats latency here.
	obj, _, err := h.square.RetrieveCatalogObject(ctx, variationID, false)
	if err != nil {
		h.logger.Warn("failed to resolve variation %s: %v", variationID, err)
		return errorResult(ReasonFetchFailed)
	}
	if obj.ItemVariationData == nil || obj.ItemVariationData.SKU == "" {
		return errorResult(ReasonSKUMissing)
	}
	sku := obj.ItemVariationData.SKU

	occurredAt, err := time.Parse(time.RFC3339, count.OccurredAt)
	if err != nil {
		occurredAt = time.Now().UTC()
	}
	if h.isOutOfOrder(ctx, variationID, occurredAt) {
		h.logger.Debug("variation %s: event at %s is older than last applied", variationID, count.OccurredAt)
		return skippedResult(ReasonOutOfOrder)
	}

	quantity, ok := h.resolveAuthoritativeQuantity(c, variationID, eventQty)
	if !ok {
		return errorResult(ReasonFetchFailed)
	}

	product, err := h.ecwid.GetProductBySKU(ctx, sku)
	if err != nil {
		h.logger.Warn("no cart product for sku %s: %v", sku, err)
		return errorResult(ReasonSKUMissing)
	}

	if err := h.updateCartQuantity(c, product, sku, quantity); err != nil {
		h.logger.Error("cart quantity update failed for sku %s: %v", sku, err)
		return errorResult(ReasonWriteFailed)
	}

	if err := h.store.Set(ctx, state.LastApplied(variationID), occurredAt.UTC().Format(time.RFC3339Nano), 0); err != nil {
		h.logger.Warn("failed to persist last-applied timestamp for %s: %v", variationID, err)
	}
	if err := h.dedup.Mark(ctx, state.MarkerForSKU(sku), quantity); err != nil {
		h.logger.Warn("failed to record self-write marker for sku %s: %v", sku, err)
	}

	h.audit.Publish(ctx, audit.Event{
		Event:       audit.EventSyncResult,
		Direction:   audit.DirectionPOSToCart,
		SKU:         sku,
		VariationID: variationID,
		Quantity:    &quantity,
	})

	return okResult("cart_update", -1, quantity)
}

func (h *SquareHandler) isOutOfOrder(ctx context.Context, variationID string, occurredAt time.Time) bool {
	raw, ok, err := h.store.Get(ctx, state.LastApplied(variationID))
	if err != nil || !ok {
		return false
	}
	lastApplied, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false
	}
	return occurredAt.Before(lastApplied)
}

// resolveAuthoritativeQuantity picks the quantity treated as truth for this
// event. The event's own quantity is primary; a fresh fetch is the fallback
// when it is absent. Disagreements are resolved asymmetrically: a positive
// event contradicted by a zero read gets the race-retry dance and ultimately
// wins, while an event-reported zero is overridden by any nonzero read,
// since false zeroes are the known failure mode of zero transitions.
func (h *SquareHandler) resolveAuthoritativeQuantity(c *gin.Context, variationID string, eventQty *int) (int, bool) {
	ctx := c.Request.Context()

	if eventQty == nil {
		fetched, err := h.square.RetrieveInventoryCount(ctx, variationID, h.config.SquareLocationID)
		if err != nil {
			h.logger.Warn("no event quantity and count fetch failed for %s: %v", variationID, err)
			return 0, false
		}
		return fetched, true
	}

	if *eventQty > 0 {
		fetched, err := h.square.RetrieveInventoryCount(ctx, variationID, h.config.SquareLocationID)
		if err != nil || fetched != 0 {
			return *eventQty, true
		}
		// Possible propagation race: the read may be lagging the event.
		for attempt := 0; attempt < 2; attempt++ {
			time.Sleep(h.RaceRetryDelay)
			fetched, err = h.square.RetrieveInventoryCount(ctx, variationID, h.config.SquareLocationID)
			if err != nil || fetched != 0 {
				return *eventQty, true
			}
		}
		h.logger.Warn("variation %s: event reports %d but reads still show 0, trusting event", variationID, *eventQty)
		return *eventQty, true
	}

	// Event reports zero.
	fetched, err := h.square.RetrieveInventoryCount(ctx, variationID, h.config.SquareLocationID)
	if err == nil && fetched > 0 {
		h.logger.Warn("variation %s: event reports 0 but read shows %d, preferring the read", variationID, fetched)
		return fetched, true
	}
	return 0, true
}

// updateCartQuantity writes the quantity to whichever shape the cart record
// has: the product itself or the matching combination.
func (h *SquareHandler) updateCartQuantity(c *gin.Context, product *ecwid.Product, sku string, quantity int) error {
	ctx := c.Request.Context()

	if product.SKU == sku {
		return h.ecwid.UpdateProductQuantity(ctx, product.ID, quantity)
	}
	for _, combo := range product.Combinations {
		if combo.SKU == sku {
			return h.ecwid.UpdateCombinationQuantity(ctx, product.ID, combo.ID, quantity)
		}
	}
	return h.ecwid.UpdateProductQuantity(ctx, product.ID, quantity)
}

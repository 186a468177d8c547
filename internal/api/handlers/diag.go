package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"

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

// DiagHandler composes a read-only cross-system snapshot for one SKU. No
// side effects beyond logging the lookup.
type DiagHandler struct {
	config     *config.Config
	logger     *logger.Logger
	ecwid      *ecwid.Client
	square     *square.Client
	projection *catalog.Projection
	dedup      *reconcile.Deduplicator
	store      state.Store
	audit      audit.Publisher
}

func NewDiagHandler(cfg *config.Config, logger *logger.Logger, ecwidClient *ecwid.Client, squareClient *square.Client,
	projection *catalog.Projection, dedup *reconcile.Deduplicator, store state.Store, auditPub audit.Publisher) *DiagHandler {
	return &DiagHandler{
		config:     cfg,
		logger:     logger,
		ecwid:      ecwidClient,
		square:     squareClient,
		projection: projection,
		dedup:      dedup,
		store:      store,
		audit:      auditPub,
	}
}

type cartSnapshot struct {
	ProductID       int64 `json:"product_id"`
	CombinationID   int64 `json:"combination_id,omitempty"`
	Quantity        int   `json:"quantity"`
	TracksInventory bool  `json:"tracks_inventory"`
}

type squareSnapshot struct {
	ItemID                  string   `json:"item_id"`
	VariationID             string   `json:"variation_id"`
	Quantity                *int     `json:"quantity"`
	TrackInventory          *bool    `json:"track_inventory"`
	Stockable               *bool    `json:"stockable"`
	Sellable                *bool    `json:"sellable"`
	PresentAtAllLocations   bool     `json:"present_at_all_locations"`
	PresentAtLocationIDs    []string `json:"present_at_location_ids,omitempty"`
	PresentAtTargetLocation bool     `json:"present_at_target_location"`
	ParentPresentAtTarget   *bool    `json:"parent_present_at_target"`
}

type zeroAuditSnapshot struct {
	PreZeroQuantity *int                   `json:"pre_zero_quantity"`
	LastZeroAttempt *reconcile.ZeroAttempt `json:"last_zero_attempt"`
}

func (h *DiagHandler) SKU(c *gin.Context) {
	if h.config.AdminToken == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "admin token not configured"})
		return
	}
	token := c.GetHeader("X-Admin-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.config.AdminToken)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sku := c.Query("sku")
	if sku == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing sku parameter"})
		return
	}

	ctx := c.Request.Context()
	h.logger.Info("diagnostic lookup for sku %s", sku)
	h.audit.Publish(ctx, audit.Event{Event: audit.EventDiagLookup, SKU: sku})

	snapshot := gin.H{"sku": sku}

	var cart *cartSnapshot
	if product, err := h.ecwid.GetProductBySKU(ctx, sku); err == nil {
		if product.SKU == sku {
			cart = &cartSnapshot{
				ProductID:       product.ID,
				Quantity:        product.Quantity,
				TracksInventory: product.TracksInventory(),
			}
		} else {
			for _, combo := range product.Combinations {
				if combo.SKU == sku {
					cart = &cartSnapshot{
						ProductID:       product.ID,
						CombinationID:   combo.ID,
						Quantity:        combo.Quantity,
						TracksInventory: combo.TracksInventory(),
					}
					break
				}
			}
		}
	}
	snapshot["cart"] = cart

	var pos *squareSnapshot
	identity, found, err := h.projection.Lookup(ctx, sku)
	if err == nil && found {
		pos = h.squareSnapshot(c, identity)
	}
	snapshot["square"] = pos

	markers := gin.H{}
	if pos != nil {
		if marker, _ := h.dedup.Peek(ctx, state.MarkerForVariation(pos.VariationID)); marker != nil {
			markers["cart_to_pos"] = marker
		}
	}
	if marker, _ := h.dedup.Peek(ctx, state.MarkerForSKU(sku)); marker != nil {
		markers["pos_to_cart"] = marker
	}
	snapshot["self_write_markers"] = markers

	if pos != nil {
		snapshot["zero_audit"] = h.zeroAudit(c, pos.VariationID)
	}

	wouldForceZero := cart != nil && cart.TracksInventory && cart.Quantity == 0 &&
		pos != nil && pos.Quantity != nil && *pos.Quantity > 0
	snapshot["would_force_zero_now"] = wouldForceZero

	c.JSON(http.StatusOK, snapshot)
}

func (h *DiagHandler) squareSnapshot(c *gin.Context, identity catalog.Identity) *squareSnapshot {
	ctx := c.Request.Context()

	variation, related, err := h.square.RetrieveCatalogObject(ctx, identity.VariationID, true)
	if err != nil || variation.ItemVariationData == nil {
		return nil
	}

	snap := &squareSnapshot{
		ItemID:                  identity.ItemID,
		VariationID:             identity.VariationID,
		TrackInventory:          variation.ItemVariationData.TrackInventory,
		Stockable:               variation.ItemVariationData.Stockable,
		Sellable:                variation.ItemVariationData.Sellable,
		PresentAtAllLocations:   variation.PresentAtAllLocations,
		PresentAtLocationIDs:    variation.PresentAtLocationIDs,
		PresentAtTargetLocation: catalog.PresentAt(variation, h.config.SquareLocationID),
	}

	for i := range related {
		if related[i].Type == square.TypeItem && related[i].ID == identity.ItemID {
			present := catalog.PresentAt(&related[i], h.config.SquareLocationID)
			snap.ParentPresentAtTarget = &present
			break
		}
	}

	if qty, err := h.square.RetrieveInventoryCount(ctx, identity.VariationID, h.config.SquareLocationID); err == nil {
		snap.Quantity = &qty
	}
	return snap
}

func (h *DiagHandler) zeroAudit(c *gin.Context, variationID string) zeroAuditSnapshot {
	ctx := c.Request.Context()
	var snap zeroAuditSnapshot

	if raw, ok, err := h.store.Get(ctx, state.PreZeroQuantity(variationID)); err == nil && ok {
		if qty, err := strconv.Atoi(raw); err == nil {
			snap.PreZeroQuantity = &qty
		}
	}
	if raw, ok, err := h.store.Get(ctx, state.LastZeroAttempt(variationID)); err == nil && ok {
		var attempt reconcile.ZeroAttempt
		if err := json.Unmarshal([]byte(raw), &attempt); err == nil {
			snap.LastZeroAttempt = &attempt
		}
	}
	return snap
}

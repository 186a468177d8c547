package catalog

import (
	"context"
	"fmt"

	"squaresync/internal/audit"
	"squaresync/internal/logger"
	"squaresync/internal/services/square"
)

// Repairer makes a Square variation eligible for inventory writes: the
// variation and its parent item must be present at the target location and
// the variation must have inventory tracking enabled.
type Repairer struct {
	square *square.Client
	audit  audit.Publisher
	logger *logger.Logger
}

func NewRepairer(squareClient *square.Client, auditPub audit.Publisher, logger *logger.Logger) *Repairer {
	return &Repairer{square: squareClient, audit: auditPub, logger: logger}
}

// EnsureReady checks the variation and its parent item and applies the
// minimal subset of presence/tracking fixes. Returns whether the variation
// is ready for inventory writes afterwards.
func (r *Repairer) EnsureReady(ctx context.Context, variationID, locationID string) (bool, error) {
	variation, related, err := r.square.RetrieveCatalogObject(ctx, variationID, true)
	if err != nil {
		return false, fmt.Errorf("failed to fetch variation %s: %w", variationID, err)
	}
	if variation.ItemVariationData == nil {
		return false, fmt.Errorf("catalog object %s is not an item variation", variationID)
	}

	var parent *square.CatalogObject
	for i := range related {
		if related[i].Type == square.TypeItem && related[i].ID == variation.ItemVariationData.ItemID {
			parent = &related[i]
			break
		}
	}

	needsVariationPresence := !PresentAt(variation, locationID)
	needsTracking := !trackingEnabled(variation)
	needsParentPresence := parent != nil && !PresentAt(parent, locationID)

	if !needsVariationPresence && !needsTracking && !needsParentPresence {
		return true, nil
	}

	if needsParentPresence {
		before := fmt.Sprintf("all=%v ids=%v", parent.PresentAtAllLocations, parent.PresentAtLocationIDs)
		markPresent(parent, locationID)
		if _, err := r.square.UpsertCatalogObject(ctx, parent); err != nil {
			r.logger.Warn("parent item presence repair failed for %s: %v", parent.ID, err)
		} else {
			r.logger.Info("repaired parent item %s presence at %s (was %s)", parent.ID, locationID, before)
		}
	}

	if needsVariationPresence || needsTracking {
		before := fmt.Sprintf("all=%v ids=%v track=%v stockable=%v",
			variation.PresentAtAllLocations, variation.PresentAtLocationIDs,
			boolPtrString(variation.ItemVariationData.TrackInventory),
			boolPtrString(variation.ItemVariationData.Stockable))

		if needsVariationPresence {
			markPresent(variation, locationID)
		}
		if needsTracking {
			enabled := true
			variation.ItemVariationData.TrackInventory = &enabled
			variation.ItemVariationData.Stockable = &enabled
		}

		if _, err := r.square.UpsertCatalogObject(ctx, variation); err != nil {
			return false, fmt.Errorf("variation repair failed for %s: %w", variationID, err)
		}
		r.logger.Info("repaired variation %s at %s (was %s, presence=%v tracking=%v)",
			variationID, locationID, before, needsVariationPresence, needsTracking)
	}

	r.audit.Publish(ctx, audit.Event{
		Event:       audit.EventPresenceRepaired,
		Direction:   audit.DirectionCartToPOS,
		SKU:         variation.ItemVariationData.SKU,
		VariationID: variationID,
		Detail: map[string]interface{}{
			"location_id":     locationID,
			"parent_presence": needsParentPresence,
			"presence":        needsVariationPresence,
			"tracking":        needsTracking,
		},
	})

	return true, nil
}

// PresentAt reports whether the object is enabled at the location, either
// globally (and not explicitly absent) or via an explicit listing.
func PresentAt(obj *square.CatalogObject, locationID string) bool {
	for _, id := range obj.AbsentAtLocationIDs {
		if id == locationID {
			return false
		}
	}
	if obj.PresentAtAllLocations {
		return true
	}
	for _, id := range obj.PresentAtLocationIDs {
		if id == locationID {
			return true
		}
	}
	return false
}

func markPresent(obj *square.CatalogObject, locationID string) {
	kept := obj.AbsentAtLocationIDs[:0]
	for _, id := range obj.AbsentAtLocationIDs {
		if id != locationID {
			kept = append(kept, id)
		}
	}
	obj.AbsentAtLocationIDs = kept

	if obj.PresentAtAllLocations {
		return
	}
	for _, id := range obj.PresentAtLocationIDs {
		if id == locationID {
			return
		}
	}
	obj.PresentAtLocationIDs = append(obj.PresentAtLocationIDs, locationID)
}

func trackingEnabled(variation *square.CatalogObject) bool {
	data := variation.ItemVariationData
	if data.TrackInventory == nil || !*data.TrackInventory {
		return false
	}
	if data.Stockable != nil && !*data.Stockable {
		return false
	}
	return true
}

func boolPtrString(b *bool) string {
	if b == nil {
		return "unset"
	}
	return fmt.Sprintf("%v", *b)
}

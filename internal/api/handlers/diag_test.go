package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"squaresync/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagRequiresAdminToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/diag/sku?sku=APPLE-1", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.get(t, "/diag/sku?sku=APPLE-1", map[string]string{"X-Admin-Token": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.get(t, "/diag/sku", map[string]string{"X-Admin-Token": testAdminTok})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDiagSnapshotFields(t *testing.T) {
	env := newTestEnv(t)
	env.square.setCount("VAR1", 9)

	rec := env.get(t, "/diag/sku?sku=APPLE-1", map[string]string{"X-Admin-Token": testAdminTok})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		SKU  string `json:"sku"`
		Cart *struct {
			ProductID       int64 `json:"product_id"`
			Quantity        int   `json:"quantity"`
			TracksInventory bool  `json:"tracks_inventory"`
		} `json:"cart"`
		Square *struct {
			ItemID                  string `json:"item_id"`
			VariationID             string `json:"variation_id"`
			Quantity                *int   `json:"quantity"`
			TrackInventory          *bool  `json:"track_inventory"`
			PresentAtTargetLocation bool   `json:"present_at_target_location"`
			ParentPresentAtTarget   *bool  `json:"parent_present_at_target"`
		} `json:"square"`
		WouldForceZero bool `json:"would_force_zero_now"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "APPLE-1", resp.SKU)
	require.NotNil(t, resp.Cart)
	assert.Equal(t, int64(101), resp.Cart.ProductID)
	assert.Equal(t, 9, resp.Cart.Quantity)
	assert.True(t, resp.Cart.TracksInventory)

	require.NotNil(t, resp.Square)
	assert.Equal(t, "ITEM1", resp.Square.ItemID)
	assert.Equal(t, "VAR1", resp.Square.VariationID)
	require.NotNil(t, resp.Square.Quantity)
	assert.Equal(t, 9, *resp.Square.Quantity)
	assert.True(t, resp.Square.PresentAtTargetLocation)
	require.NotNil(t, resp.Square.ParentPresentAtTarget)
	assert.True(t, *resp.Square.ParentPresentAtTarget)

	assert.False(t, resp.WouldForceZero)
}

func TestDiagFlagsPendingForceZero(t *testing.T) {
	env := newTestEnv(t)
	env.square.setCount("VAR1", 12)
	env.ecwid.setProductQuantity(101, 0)

	rec := env.get(t, "/diag/sku?sku=APPLE-1", map[string]string{"X-Admin-Token": testAdminTok})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		WouldForceZero bool `json:"would_force_zero_now"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.WouldForceZero)
}

func TestDiagExposesSelfWriteMarkers(t *testing.T) {
	env := newTestEnv(t)
	env.square.setCount("VAR1", 5)
	require.NoError(t, env.dedup.Mark(context.Background(), state.MarkerForVariation("VAR1"), 5))
	require.NoError(t, env.dedup.Mark(context.Background(), state.MarkerForSKU("APPLE-1"), 5))

	rec := env.get(t, "/diag/sku?sku=APPLE-1", map[string]string{"X-Admin-Token": testAdminTok})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Markers map[string]struct {
			Quantity int `json:"quantity"`
		} `json:"self_write_markers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Markers, "cart_to_pos")
	require.Contains(t, resp.Markers, "pos_to_cart")
	assert.Equal(t, 5, resp.Markers["cart_to_pos"].Quantity)
}

func TestDiagUnknownSKU(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/diag/sku?sku=NOPE-1", map[string]string{"X-Admin-Token": testAdminTok})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Cart           json.RawMessage `json:"cart"`
		Square         json.RawMessage `json:"square"`
		WouldForceZero bool            `json:"would_force_zero_now"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "null", string(resp.Cart))
	assert.Equal(t, "null", string(resp.Square))
	assert.False(t, resp.WouldForceZero)
}

package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"squaresync/internal/audit"
	"squaresync/internal/catalog"
	"squaresync/internal/config"
	"squaresync/internal/logger"
	"squaresync/internal/reconcile"
	"squaresync/internal/services/ecwid"
	"squaresync/internal/services/square"
	"squaresync/internal/state"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const (
	testStoreID  = "12345"
	testSecret   = "hook-secret"
	testSigKey   = "sig-key"
	testHookURL  = "https://sync.example.com/webhooks/square"
	testLocation = "LOC1"
	testAdminTok = "admin-token"
)

// fakeSquareAPI serves the catalog and inventory endpoints against mutable
// in-memory state.
type fakeSquareAPI struct {
	mu      sync.Mutex
	objects map[string]square.CatalogObject // variations and items by id
	counts  map[string]int                  // variationID -> IN_STOCK qty
	upserts []square.CatalogObject
	changes []square.InventoryChange
}

func newFakeSquareAPI() *fakeSquareAPI {
	trueV := true
	return &fakeSquareAPI{
		objects: map[string]square.CatalogObject{
			"ITEM1": {
				ID: "ITEM1", Type: square.TypeItem, PresentAtAllLocations: true,
				ItemData: &square.ItemData{Name: "Apples"},
			},
			"VAR1": {
				ID: "VAR1", Type: square.TypeItemVariation, PresentAtAllLocations: true,
				ItemVariationData: &square.ItemVariationData{
					ItemID: "ITEM1", SKU: "APPLE-1",
					TrackInventory: &trueV, Stockable: &trueV,
				},
			},
			"ITEM2": {
				ID: "ITEM2", Type: square.TypeItem, PresentAtAllLocations: true,
				ItemData: &square.ItemData{Name: "Pears"},
			},
			"VAR2": {
				ID: "VAR2", Type: square.TypeItemVariation, PresentAtAllLocations: true,
				ItemVariationData: &square.ItemVariationData{
					ItemID: "ITEM2", SKU: "PEAR-S",
					TrackInventory: &trueV, Stockable: &trueV,
				},
			},
		},
		counts: map[string]int{},
	}
}

func (f *fakeSquareAPI) server() *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/v2/catalog/list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		objects := []square.CatalogObject{}
		for _, obj := range f.objects {
			objects = append(objects, obj)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"objects": objects})
	})

	mux.HandleFunc("/v2/catalog/object/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := strings.TrimPrefix(r.URL.Path, "/v2/catalog/object/")
		obj, ok := f.objects[id]
		if !ok {
			http.Error(w, `{"errors":[{"detail":"not found"}]}`, http.StatusNotFound)
			return
		}
		resp := map[string]interface{}{"object": obj}
		if r.URL.Query().Get("include_related_objects") == "true" && obj.ItemVariationData != nil {
			if parent, ok := f.objects[obj.ItemVariationData.ItemID]; ok {
				resp["related_objects"] = []square.CatalogObject{parent}
			}
		}
		json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/v2/catalog/object", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var req struct {
			Object square.CatalogObject `json:"object"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.upserts = append(f.upserts, req.Object)
		f.objects[req.Object.ID] = req.Object
		json.NewEncoder(w).Encode(map[string]interface{}{"catalog_object": req.Object})
	})

	mux.HandleFunc("/v2/inventory/counts/batch-retrieve", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var req struct {
			CatalogObjectIDs []string `json:"catalog_object_ids"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		counts := []square.InventoryCount{}
		for _, id := range req.CatalogObjectIDs {
			if qty, ok := f.counts[id]; ok {
				counts = append(counts, square.InventoryCount{
					CatalogObjectID: id, LocationID: testLocation,
					State: square.StateInStock, Quantity: strconv.Itoa(qty),
				})
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"counts": counts})
	})

	mux.HandleFunc("/v2/inventory/changes/batch-create", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var req struct {
			Changes []square.InventoryChange `json:"changes"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		for _, change := range req.Changes {
			f.changes = append(f.changes, change)
			switch change.Type {
			case square.ChangePhysicalCount:
				qty, _ := strconv.Atoi(change.PhysicalCount.Quantity)
				f.counts[change.PhysicalCount.CatalogObjectID] = qty
			case square.ChangeAdjustment:
				qty, _ := strconv.Atoi(change.Adjustment.Quantity)
				f.counts[change.Adjustment.CatalogObjectID] -= qty
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{})
	})

	mux.HandleFunc("/v2/locations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"locations": []square.Location{{ID: testLocation, Name: "Farm Stand", Status: "ACTIVE"}},
		})
	})

	return httptest.NewServer(mux)
}

func (f *fakeSquareAPI) count(variationID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[variationID]
}

func (f *fakeSquareAPI) setCount(variationID string, qty int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[variationID] = qty
}

func (f *fakeSquareAPI) changeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.changes)
}

func (f *fakeSquareAPI) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

// fakeEcwidAPI serves the cart product/order endpoints.
type fakeEcwidAPI struct {
	mu       sync.Mutex
	products map[int64]ecwid.Product
	orders   map[int64]ecwid.Order
	updates  []cartUpdate
}

type cartUpdate struct {
	ProductID     int64
	CombinationID int64
	Quantity      int
}

func newFakeEcwidAPI() *fakeEcwidAPI {
	return &fakeEcwidAPI{
		products: map[int64]ecwid.Product{
			101: {
				ID: 101, SKU: "APPLE-1", Name: "Honeycrisp Apples",
				Price: 4.50, Quantity: 9, Unlimited: false, Enabled: true,
			},
			102: {
				ID: 102, SKU: "PEAR-BASE", Name: "Pears",
				Price: 3.00, Unlimited: true, Enabled: true,
				Combinations: []ecwid.Combination{
					{ID: 201, SKU: "PEAR-S", Quantity: 4, Unlimited: false},
					{ID: 202, SKU: "PEAR-L", Quantity: 2, Unlimited: false},
				},
			},
		},
		orders: map[int64]ecwid.Order{
			900: {OrderID: 900, Items: []ecwid.OrderLineItem{
				{ProductID: 101, SKU: "APPLE-1", Quantity: 3, Name: "Honeycrisp Apples"},
			}},
		},
	}
}

func (f *fakeEcwidAPI) server() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		path := strings.TrimPrefix(r.URL.Path, "/"+testStoreID)
		parts := strings.Split(strings.Trim(path, "/"), "/")

		switch {
		case path == "/products" && r.Method == http.MethodGet:
			sku := r.URL.Query().Get("sku")
			items := []ecwid.Product{}
			for _, p := range f.products {
				if p.SKU == sku {
					items = append(items, p)
					continue
				}
				for _, combo := range p.Combinations {
					if combo.SKU == sku {
						items = append(items, p)
						break
					}
				}
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"total": len(items), "count": len(items), "items": items,
			})

		case len(parts) == 2 && parts[0] == "products" && r.Method == http.MethodGet:
			id, _ := strconv.ParseInt(parts[1], 10, 64)
			product, ok := f.products[id]
			if !ok {
				http.Error(w, `{"errorMessage":"not found"}`, http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(product)

		case len(parts) == 2 && parts[0] == "products" && r.Method == http.MethodPut:
			id, _ := strconv.ParseInt(parts[1], 10, 64)
			var body struct {
				Quantity int `json:"quantity"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			product := f.products[id]
			product.Quantity = body.Quantity
			f.products[id] = product
			f.updates = append(f.updates, cartUpdate{ProductID: id, Quantity: body.Quantity})
			json.NewEncoder(w).Encode(map[string]interface{}{"updateCount": 1})

		case len(parts) == 4 && parts[0] == "products" && parts[2] == "combinations" && r.Method == http.MethodPut:
			id, _ := strconv.ParseInt(parts[1], 10, 64)
			comboID, _ := strconv.ParseInt(parts[3], 10, 64)
			var body struct {
				Quantity int `json:"quantity"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			f.updates = append(f.updates, cartUpdate{ProductID: id, CombinationID: comboID, Quantity: body.Quantity})
			json.NewEncoder(w).Encode(map[string]interface{}{"updateCount": 1})

		case len(parts) == 2 && parts[0] == "orders" && r.Method == http.MethodGet:
			id, _ := strconv.ParseInt(parts[1], 10, 64)
			order, ok := f.orders[id]
			if !ok {
				http.Error(w, `{"errorMessage":"not found"}`, http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(order)

		default:
			http.Error(w, `{"errorMessage":"unexpected request"}`, http.StatusNotFound)
		}
	}))
}

func (f *fakeEcwidAPI) setProductQuantity(id int64, qty int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	product := f.products[id]
	product.Quantity = qty
	f.products[id] = product
}

func (f *fakeEcwidAPI) cartUpdates() []cartUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cartUpdate(nil), f.updates...)
}

type testEnv struct {
	router *gin.Engine
	square *fakeSquareAPI
	ecwid  *fakeEcwidAPI
	store  *state.MemoryStore
	dedup  *reconcile.Deduplicator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fakeSquare := newFakeSquareAPI()
	squareSrv := fakeSquare.server()
	t.Cleanup(squareSrv.Close)

	fakeEcwid := newFakeEcwidAPI()
	ecwidSrv := fakeEcwid.server()
	t.Cleanup(ecwidSrv.Close)

	cfg := &config.Config{
		EcwidStoreID:       testStoreID,
		EcwidToken:         "cart-token",
		EcwidWebhookSecret: testSecret,
		EcwidAPIBase:       ecwidSrv.URL,
		SquareAccessToken:  "pos-token",
		SquareEnvironment:  "sandbox",
		SquareSignatureKey: testSigKey,
		SquareWebhookURL:   testHookURL,
		SquareLocationID:   testLocation,
		SquareAPIBase:      squareSrv.URL,
		SquareCurrency:     "CAD",
		AdminToken:         testAdminTok,
	}

	log := logger.New("error")
	ecwidClient := ecwid.NewClient(cfg.EcwidAPIBase, cfg.EcwidStoreID, cfg.EcwidToken, log)
	squareClient := square.NewClient(cfg.SquareAccessToken, cfg.SquareEnvironment, cfg.SquareAPIBase, log)

	projection := catalog.NewProjection(squareClient, time.Minute, log)
	repairer := catalog.NewRepairer(squareClient, audit.NopPublisher{}, log)
	store := state.NewMemoryStore()
	dedup := reconcile.NewDeduplicator(store, 2*time.Minute)

	reconciler := reconcile.NewReconciler(squareClient, dedup, store, audit.NopPublisher{}, log)
	reconciler.WriteRetryDelay = 0
	reconciler.VerifyDelays = [2]time.Duration{0, 0}

	ecwidHandler := NewEcwidHandler(cfg, log, ecwidClient, squareClient, projection, repairer, reconciler, dedup, audit.NopPublisher{})
	squareHandler := NewSquareHandler(cfg, log, ecwidClient, squareClient, dedup, store, audit.NopPublisher{})
	squareHandler.RaceRetryDelay = 0
	diagHandler := NewDiagHandler(cfg, log, ecwidClient, squareClient, projection, dedup, store, audit.NopPublisher{})

	router := gin.New()
	router.POST("/webhooks/easyfarmcart", ecwidHandler.Webhook)
	router.POST("/webhooks/square", squareHandler.Webhook)
	router.GET("/diag/sku", diagHandler.SKU)

	return &testEnv{
		router: router,
		square: fakeSquare,
		ecwid:  fakeEcwid,
		store:  store,
		dedup:  dedup,
	}
}

func (e *testEnv) post(t *testing.T, url, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, url, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(t *testing.T, url string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func signSquare(base string) string {
	mac := hmac.New(sha256.New, []byte(testSigKey))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func decodeResults(t *testing.T, rec *httptest.ResponseRecorder) map[string]SKUResult {
	t.Helper()
	var resp struct {
		OK      bool                 `json:"ok"`
		Results map[string]SKUResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.OK)
	return resp.Results
}

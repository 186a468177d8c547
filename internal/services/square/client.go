package square

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"squaresync/internal/logger"

	"github.com/google/uuid"
)

const (
	productionBase = "https://connect.squareup.com"
	sandboxBase    = "https://connect.squareupsandbox.com"
	apiVersion     = "2024-01-18"
)

type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      *logger.Logger
}

func NewClient(accessToken, environment, baseOverride string, logger *logger.Logger) *Client {
	base := sandboxBase
	if environment == "production" {
		base = productionBase
	}
	if baseOverride != "" {
		base = baseOverride
	}
	return &Client{
		baseURL:     base,
		accessToken: accessToken,
		httpClient: &http.Client{
			Timeout: 25 * time.Second,
		},
		logger: logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Square-Version", apiVersion)
	req.Header.Set("Content-Type", "application/json")
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("square API request failed: %d - %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// ListCatalog fetches one page of catalog objects of the given types.
func (c *Client) ListCatalog(ctx context.Context, types, cursor string) ([]CatalogObject, string, error) {
	q := url.Values{}
	q.Set("types", types)
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var resp struct {
		Objects []CatalogObject `json:"objects"`
		Cursor  string          `json:"cursor"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/catalog/list", q, nil, &resp); err != nil {
		return nil, "", err
	}
	return resp.Objects, resp.Cursor, nil
}

// RetrieveCatalogObject fetches a catalog object, optionally with its related
// objects (a variation's parent item).
func (c *Client) RetrieveCatalogObject(ctx context.Context, objectID string, includeRelated bool) (*CatalogObject, []CatalogObject, error) {
	q := url.Values{}
	if includeRelated {
		q.Set("include_related_objects", "true")
	}

	var resp struct {
		Object         *CatalogObject  `json:"object"`
		RelatedObjects []CatalogObject `json:"related_objects"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/catalog/object/"+objectID, q, nil, &resp); err != nil {
		return nil, nil, err
	}
	if resp.Object == nil {
		return nil, nil, fmt.Errorf("catalog object %s not found in response", objectID)
	}
	return resp.Object, resp.RelatedObjects, nil
}

// UpsertCatalogObject writes a catalog object back to Square.
func (c *Client) UpsertCatalogObject(ctx context.Context, object *CatalogObject) (*CatalogObject, error) {
	payload := struct {
		IdempotencyKey string         `json:"idempotency_key"`
		Object         *CatalogObject `json:"object"`
	}{
		IdempotencyKey: uuid.New().String(),
		Object:         object,
	}

	var resp struct {
		CatalogObject *CatalogObject `json:"catalog_object"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/catalog/object", nil, payload, &resp); err != nil {
		return nil, err
	}
	return resp.CatalogObject, nil
}

// RetrieveInventoryCount fetches the IN_STOCK count for a variation at a
// location. A missing count record reads as zero on hand.
func (c *Client) RetrieveInventoryCount(ctx context.Context, variationID, locationID string) (int, error) {
	payload := struct {
		CatalogObjectIDs []string `json:"catalog_object_ids"`
		LocationIDs      []string `json:"location_ids"`
	}{
		CatalogObjectIDs: []string{variationID},
		LocationIDs:      []string{locationID},
	}

	var resp struct {
		Counts []InventoryCount `json:"counts"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/inventory/counts/batch-retrieve", nil, payload, &resp); err != nil {
		return 0, err
	}

	for _, count := range resp.Counts {
		if count.State != StateInStock {
			continue
		}
		var qty int
		if _, err := fmt.Sscanf(count.Quantity, "%d", &qty); err != nil {
			return 0, fmt.Errorf("unparseable quantity %q for %s: %w", count.Quantity, variationID, err)
		}
		return qty, nil
	}
	return 0, nil
}

// BatchChangeInventory submits inventory changes.
func (c *Client) BatchChangeInventory(ctx context.Context, changes []InventoryChange) error {
	payload := struct {
		IdempotencyKey string            `json:"idempotency_key"`
		Changes        []InventoryChange `json:"changes"`
	}{
		IdempotencyKey: uuid.New().String(),
		Changes:        changes,
	}
	return c.do(ctx, http.MethodPost, "/v2/inventory/changes/batch-create", nil, payload, nil)
}

// SetPhysicalCount submits an absolute PHYSICAL_COUNT for a variation.
func (c *Client) SetPhysicalCount(ctx context.Context, variationID, locationID string, quantity int) error {
	return c.BatchChangeInventory(ctx, []InventoryChange{{
		Type: ChangePhysicalCount,
		PhysicalCount: &PhysicalCount{
			CatalogObjectID: variationID,
			State:           StateInStock,
			LocationID:      locationID,
			Quantity:        fmt.Sprintf("%d", quantity),
			OccurredAt:      time.Now().UTC().Format(time.RFC3339),
		},
	}})
}

// AdjustToNone submits a relative IN_STOCK -> NONE adjustment, depleting
// quantity units from the location's ledger.
func (c *Client) AdjustToNone(ctx context.Context, variationID, locationID string, quantity int) error {
	return c.BatchChangeInventory(ctx, []InventoryChange{{
		Type: ChangeAdjustment,
		Adjustment: &Adjustment{
			CatalogObjectID: variationID,
			FromState:       StateInStock,
			ToState:         StateNone,
			LocationID:      locationID,
			Quantity:        fmt.Sprintf("%d", quantity),
			OccurredAt:      time.Now().UTC().Format(time.RFC3339),
		},
	}})
}

// ListLocations fetches all locations on the account.
func (c *Client) ListLocations(ctx context.Context) ([]Location, error) {
	var resp struct {
		Locations []Location `json:"locations"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/locations", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Locations, nil
}

package ecwid

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
)

type Client struct {
	baseURL    string
	storeID    string
	token      string
	httpClient *http.Client
	logger     *logger.Logger
}

func NewClient(baseURL, storeID, token string, logger *logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		storeID: storeID,
		token:   token,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
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

	fullURL := fmt.Sprintf("%s/%s%s", c.baseURL, c.storeID, path)
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if query == nil {
		query = url.Values{}
	}
	query.Set("token", c.token)
	req.URL.RawQuery = query.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cart API request failed: %d - %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// GetProduct fetches a single product by id.
func (c *Client) GetProduct(ctx context.Context, productID int64) (*Product, error) {
	var product Product
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/products/%d", productID), nil, nil, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductBySKU searches the catalog for the product carrying the SKU,
// either directly or on one of its combinations.
func (c *Client) GetProductBySKU(ctx context.Context, sku string) (*Product, error) {
	q := url.Values{}
	q.Set("sku", sku)

	var result searchResult
	if err := c.do(ctx, http.MethodGet, "/products", q, nil, &result); err != nil {
		return nil, err
	}
	if len(result.Items) == 0 {
		return nil, fmt.Errorf("no cart product found for sku %s", sku)
	}
	return &result.Items[0], nil
}

// GetOrder fetches a single order by id.
func (c *Client) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/orders/%d", orderID), nil, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateProductQuantity sets the absolute stock count on a simple product.
func (c *Client) UpdateProductQuantity(ctx context.Context, productID int64, quantity int) error {
	payload := map[string]interface{}{"quantity": quantity}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/products/%d", productID), nil, payload, nil)
}

// UpdateCombinationQuantity sets the absolute stock count on a variant
// combination of a product.
func (c *Client) UpdateCombinationQuantity(ctx context.Context, productID, combinationID int64, quantity int) error {
	payload := map[string]interface{}{"quantity": quantity}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/products/%d/combinations/%d", productID, combinationID), nil, payload, nil)
}

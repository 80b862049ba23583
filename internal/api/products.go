// Package api holds thin HTTP clients for the catalog and delivery
// services this service collaborates with.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type ProductClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewProductClient(productServiceURL string) *ProductClient {
	return &ProductClient{
		baseURL: strings.TrimRight(productServiceURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type product struct {
	ID        uint    `json:"id"`
	UnitPrice float64 `json:"unit_price"`
}

// GetUnitPrices resolves current unit prices for the given product ids.
// Unknown ids are simply absent from the result.
func (c *ProductClient) GetUnitPrices(ctx context.Context, ids []uint) (map[uint]float64, error) {
	if len(ids) == 0 {
		return map[uint]float64{}, nil
	}

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatUint(uint64(id), 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/products", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("ids", strings.Join(parts, ","))
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("product service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("product lookup failed with status: %d", resp.StatusCode)
	}

	var products []product
	if err := json.NewDecoder(resp.Body).Decode(&products); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	prices := make(map[uint]float64, len(products))
	for _, p := range products {
		prices[p.ID] = p.UnitPrice
	}
	return prices, nil
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrAddressOwnership is returned when a delivery address exists but
// belongs to a different patient.
var ErrAddressOwnership = errors.New("delivery address does not belong to patient")

type DeliveryClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewDeliveryClient(deliveryServiceURL string) *DeliveryClient {
	return &DeliveryClient{
		baseURL: strings.TrimRight(deliveryServiceURL, "/"),
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

// GetAddress fetches a delivery address and verifies it belongs to the
// given patient. The address body stays opaque to this service and is
// stored as-is on the order.
func (c *DeliveryClient) GetAddress(ctx context.Context, addressID uint, patientID uint) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/delivery-addresses/%d", c.baseURL, addressID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("delivery service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("delivery address lookup failed with status: %d", resp.StatusCode)
	}

	var address json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&address); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var owner struct {
		PatientID uint `json:"patient_id"`
	}
	if err := json.Unmarshal(address, &owner); err != nil {
		return nil, fmt.Errorf("decode address owner: %w", err)
	}
	if owner.PatientID != patientID {
		return nil, ErrAddressOwnership
	}

	return address, nil
}

package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/elastic/go-elasticsearch/v9"

	"github.com/medbook/order-service/internal/models"
)

type Config struct {
	URL      string
	Username string
	Password string
}

func NewClient(cfg Config) (*elasticsearch.Client, error) {
	esCfg := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("es: create client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("es: info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("es: info: %s: %s", res.Status(), body)
	}

	return client, nil
}

// IndexOrder upserts an order document. Callers treat failures as
// non-fatal: search lags behind the database, it never blocks a write.
func IndexOrder(ctx context.Context, client *elasticsearch.Client, index string, order models.Order) error {
	body, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("es: marshal order %d: %w", order.ID, err)
	}

	res, err := client.Index(
		index,
		bytes.NewReader(body),
		client.Index.WithContext(ctx),
		client.Index.WithDocumentID(strconv.FormatUint(uint64(order.ID), 10)),
	)
	if err != nil {
		return fmt.Errorf("es: index order %d: %w", order.ID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("es: index order %d: %s", order.ID, res.Status())
	}
	return nil
}

// Package consumers subscribes to the order lifecycle topics published by
// the inventory and delivery services and applies the resulting status
// changes to the orders table.
package consumers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

type HandlerFunc func(ctx context.Context, db *gorm.DB, payload []byte) error

type Consumer struct {
	Brokers []string
	GroupID string
	DB      *gorm.DB
	Log     *slog.Logger
}

// Run starts one reader per topic and blocks until ctx is cancelled and
// every reader has drained. Handler failures are logged and the message is
// not redelivered, matching the ack-on-receipt behavior of the upstream
// services.
func (c *Consumer) Run(ctx context.Context, handlers map[string]HandlerFunc) {
	var wg sync.WaitGroup
	for topic, h := range handlers {
		wg.Add(1)
		go func(topic string, h HandlerFunc) {
			defer wg.Done()
			c.consumeTopic(ctx, topic, h)
		}(topic, h)
	}
	wg.Wait()
}

func (c *Consumer) consumeTopic(ctx context.Context, topic string, h HandlerFunc) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.Brokers,
		GroupID:  c.GroupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	defer r.Close()

	log := c.Log.With("topic", topic)
	log.Info("consumer started")

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				log.Info("consumer stopped")
				return
			}
			log.Error("read message failed", "error", err)
			continue
		}

		if err := h(ctx, c.DB, m.Value); err != nil {
			log.Error("handle message failed", "offset", m.Offset, "error", err)
		}
	}
}

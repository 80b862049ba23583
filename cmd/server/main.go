package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/medbook/order-service/internal/api"
	"github.com/medbook/order-service/internal/config"
	"github.com/medbook/order-service/internal/consumers"
	"github.com/medbook/order-service/internal/es"
	"github.com/medbook/order-service/internal/handlers"
	"github.com/medbook/order-service/internal/handlers/cart"
	"github.com/medbook/order-service/internal/handlers/order"
	"github.com/medbook/order-service/internal/handlers/payment"
	"github.com/medbook/order-service/internal/logging"
	"github.com/medbook/order-service/internal/migrations"
	"github.com/medbook/order-service/internal/mykafka"
	"github.com/medbook/order-service/internal/outbox"
	httpserver "github.com/medbook/order-service/internal/transport/http"
	"github.com/medbook/order-service/pkg/db"
	loggingmw "github.com/medbook/order-service/pkg/middleware/logging"
)

const ordersIndex = "orders"

func main() {
	configuration, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	config.MustNonEmpty(configuration.DB_HOST, "DB_HOST")
	config.MustNonEmpty(configuration.JWT_SECRET, "JWT_SECRET")
	config.MustNonEmpty(configuration.KAFKA_BROKERS, "KAFKA_BROKERS")

	logger := logging.New(os.Getenv("LOG_LEVEL"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.Open(ctx, configuration.DatabaseDSN())
	if err != nil {
		log.Fatalf("database init error: %v", err)
	}

	applied, err := migrations.Run(database)
	if err != nil {
		log.Fatalf("migration error: %v", err)
	}
	logger.Info("migrations applied", "count", applied)

	jwtSecret := []byte(configuration.JWT_SECRET)
	brokers := configuration.Brokers()

	prod := mykafka.NewProducer(brokers)

	var esClient *elasticsearch.Client
	if configuration.ES_URL != "" {
		esClient, err = es.NewClient(es.Config{
			URL:      configuration.ES_URL,
			Username: configuration.ES_USER,
			Password: configuration.ES_PASSWORD,
		})
		if err != nil {
			log.Fatalf("elasticsearch init error: %v", err)
		}
	}

	products := api.NewProductClient(configuration.PRODUCT_API_URL)
	deliveries := api.NewDeliveryClient(configuration.DELIVERY_API_URL)

	e := echo.New()
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID(), loggingmw.RequestLogger(logger))

	deps := httpserver.Deps{
		DB:             database,
		CartHandler:    &cart.CartHandler{DB: database, Products: products, JWTSecret: jwtSecret},
		OrderHandler:   &order.OrderHandler{DB: database, Products: products, Deliveries: deliveries, ES: esClient, ESIndex: ordersIndex, JWTSecret: jwtSecret},
		PaymentHandler: &payment.PaymentHandler{DB: database},
		SearchHandler:  &handlers.SearchHandler{ES: esClient, Index: ordersIndex},
	}

	httpserver.Register(e, &deps)

	dispatcher := &outbox.Dispatcher{DB: database, Publisher: prod, Log: logger}
	go dispatcher.Start(ctx)

	consumer := &consumers.Consumer{
		Brokers: brokers,
		GroupID: configuration.CONSUMER_GROUP,
		DB:      database,
		Log:     logger,
	}
	go consumer.Run(ctx, consumers.OrderHandlers())

	srv := &http.Server{
		Addr:         ":" + configuration.SERVER_PORT,
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit

	log.Println("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	if sqlDB, err := database.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
	} else {
		log.Printf("db() error: %v", err)
	}

	if err := prod.Close(); err != nil {
		log.Printf("kafka close error: %v", err)
	}

	log.Println("shutdown complete")
}

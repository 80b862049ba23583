package consumers

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/medbook/order-service/internal/models"
)

func initTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Cart{}, &models.Order{}))
	return db
}

func seedOrder(t *testing.T, db *gorm.DB, status string) models.Order {
	cart := models.Cart{PatientID: 1}
	require.NoError(t, db.Create(&cart).Error)
	order := models.Order{CartID: cart.ID, PatientID: 1, Status: status}
	require.NoError(t, db.Create(&order).Error)
	return order
}

func fetchOrder(t *testing.T, db *gorm.DB, id uint) models.Order {
	var order models.Order
	require.NoError(t, db.First(&order, id).Error)
	return order
}

func TestOrderReserved(t *testing.T) {
	db := initTestDB(t)
	order := seedOrder(t, db, models.OrderStatusPending)

	payload := []byte(`{"order_id":1}`)
	require.NoError(t, OrderReserved(context.Background(), db, payload))
	require.Equal(t, models.OrderStatusReserved, fetchOrder(t, db, order.ID).Status)
}

func TestOrderRejected(t *testing.T) {
	db := initTestDB(t)
	order := seedOrder(t, db, models.OrderStatusPending)

	payload := []byte(`{"order_id":1,"reason":"out of stock"}`)
	require.NoError(t, OrderRejected(context.Background(), db, payload))
	require.Equal(t, models.OrderStatusRejected, fetchOrder(t, db, order.ID).Status)
}

func TestOrderCancelSuccess(t *testing.T) {
	db := initTestDB(t)
	order := seedOrder(t, db, models.OrderStatusCancelPending)

	payload := []byte(`{"order_id":1}`)
	require.NoError(t, OrderCancelSuccess(context.Background(), db, payload))
	require.Equal(t, models.OrderStatusCancelled, fetchOrder(t, db, order.ID).Status)
}

func TestDeliveryCreated(t *testing.T) {
	db := initTestDB(t)
	order := seedOrder(t, db, models.OrderStatusDeliveryPending)

	deliveryID := uuid.New()
	payload := []byte(`{"order_id":1,"delivery_id":"` + deliveryID.String() + `"}`)
	require.NoError(t, DeliveryCreated(context.Background(), db, payload))

	updated := fetchOrder(t, db, order.ID)
	require.NotNil(t, updated.DeliveryID)
	require.Equal(t, deliveryID, *updated.DeliveryID)
}

func TestDeliverySuccess(t *testing.T) {
	db := initTestDB(t)
	order := seedOrder(t, db, models.OrderStatusDeliveryPending)

	payload := []byte(`{"order_id":1}`)
	require.NoError(t, DeliverySuccess(context.Background(), db, payload))
	require.Equal(t, models.OrderStatusDelivered, fetchOrder(t, db, order.ID).Status)
}

func TestMalformedPayloadErrors(t *testing.T) {
	db := initTestDB(t)
	seedOrder(t, db, models.OrderStatusPending)

	err := OrderReserved(context.Background(), db, []byte(`not json`))
	require.Error(t, err)
	require.Equal(t, models.OrderStatusPending, fetchOrder(t, db, 1).Status)
}

func TestOrderHandlersCoversAllTopics(t *testing.T) {
	handlers := OrderHandlers()
	require.Len(t, handlers, 5)
	for topic, h := range handlers {
		require.NotEmpty(t, topic)
		require.NotNil(t, h)
	}
}

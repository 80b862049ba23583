package order

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/medbook/order-service/internal/api"
	"github.com/medbook/order-service/internal/events"
	"github.com/medbook/order-service/internal/models"
)

type testEnv struct {
	T  *testing.T
	E  *echo.Echo
	O  *OrderHandler
	DB *gorm.DB

	JWTSecret []byte
}

func initTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Exec("PRAGMA foreign_keys = ON").Error)

	err = db.AutoMigrate(
		&models.Cart{}, &models.CartItem{}, &models.Order{}, &models.Payment{}, &models.OutboxEvent{},
	)
	require.NoError(t, err)
	return db
}

func fakeProductServer(t *testing.T, prices map[uint]float64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		type product struct {
			ID        uint    `json:"id"`
			UnitPrice float64 `json:"unit_price"`
		}
		var out []product
		for _, raw := range strings.Split(r.URL.Query().Get("ids"), ",") {
			var id uint
			fmt.Sscanf(raw, "%d", &id)
			if price, ok := prices[id]; ok {
				out = append(out, product{ID: id, UnitPrice: price})
			}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(out))
	}))
}

// fakeDeliveryServer serves opaque addresses keyed by id, each owned by the
// given patient.
func fakeDeliveryServer(t *testing.T, ownerByAddress map[uint]uint) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id uint
		fmt.Sscanf(r.URL.Path, "/delivery-addresses/%d", &id)
		owner, ok := ownerByAddress[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":%d,"patient_id":%d,"line1":"12 Elm St"}`, id, owner)
	}))
}

func newTestEnv(t *testing.T, prices map[uint]float64, ownerByAddress map[uint]uint) *testEnv {
	db := initTestDB(t)
	secret := []byte("test_secret")

	products := fakeProductServer(t, prices)
	t.Cleanup(products.Close)
	deliveries := fakeDeliveryServer(t, ownerByAddress)
	t.Cleanup(deliveries.Close)

	return &testEnv{
		T:         t,
		E:         echo.New(),
		DB:        db,
		JWTSecret: secret,
		O: &OrderHandler{
			DB:         db,
			Products:   api.NewProductClient(products.URL),
			Deliveries: api.NewDeliveryClient(deliveries.URL),
			JWTSecret:  secret,
		},
	}
}

func accessCookie(t *testing.T, secret []byte, patientID uint) *http.Cookie {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": float64(patientID),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return &http.Cookie{Name: "accessToken", Value: signed, Path: "/"}
}

func (env *testEnv) doJSONRequest(method, path string, body interface{}, cookies ...*http.Cookie) (*httptest.ResponseRecorder, echo.Context) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(env.T, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	c := env.E.NewContext(req, rec)
	return rec, c
}

func (env *testEnv) seedCart(patientID uint, items ...models.CartItem) models.Cart {
	cart := models.Cart{PatientID: patientID}
	require.NoError(env.T, env.DB.Create(&cart).Error)
	for i := range items {
		items[i].CartID = cart.ID
		require.NoError(env.T, env.DB.Create(&items[i]).Error)
	}
	return cart
}

func TestCreateOrderDefaultsToPickup(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ck := accessCookie(t, env.JWTSecret, 1)

	cart := env.seedCart(1, models.CartItem{ProductID: 10, Quantity: 2})

	rec, c := env.doJSONRequest(http.MethodPost, "/patients/orders", map[string]uint{"cart_id": cart.ID}, ck)
	require.NoError(t, env.O.CreateOrder(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var order models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	require.Equal(t, models.OrderStatusPending, order.Status)
	require.Equal(t, models.OrderTypePickup, order.OrderType)
	require.Nil(t, order.DeliveryID)
	require.Nil(t, order.DeletedAt)
}

func TestCreateOrderStagesReservationEvent(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ck := accessCookie(t, env.JWTSecret, 1)

	cart := env.seedCart(1,
		models.CartItem{ProductID: 10, Quantity: 2},
		models.CartItem{ProductID: 11, Quantity: 1},
	)

	rec, c := env.doJSONRequest(http.MethodPost, "/patients/orders", map[string]uint{"cart_id": cart.ID}, ck)
	require.NoError(t, env.O.CreateOrder(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var row models.OutboxEvent
	require.NoError(t, env.DB.First(&row).Error)
	require.Equal(t, events.TopicReserveOrder, row.EventType)
	require.Equal(t, models.OutboxStatusPending, row.Status)

	var evt events.OrderRequestedEvent
	require.NoError(t, json.Unmarshal([]byte(row.Payload), &evt))
	require.Len(t, evt.OrderItems, 2)
}

func TestCreateOrderWithDeliveryAddress(t *testing.T) {
	env := newTestEnv(t, nil, map[uint]uint{44: 1})
	ck := accessCookie(t, env.JWTSecret, 1)

	cart := env.seedCart(1, models.CartItem{ProductID: 10, Quantity: 1})

	payload := map[string]uint{"cart_id": cart.ID, "delivery_address_id": 44}
	rec, c := env.doJSONRequest(http.MethodPost, "/patients/orders", payload, ck)
	require.NoError(t, env.O.CreateOrder(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var order models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	require.Equal(t, models.OrderTypeDelivery, order.OrderType)
	require.Contains(t, string(order.DeliveryAddress), "12 Elm St")
}

func TestCreateOrderRejectsForeignAddress(t *testing.T) {
	env := newTestEnv(t, nil, map[uint]uint{44: 2})
	ck := accessCookie(t, env.JWTSecret, 1)

	cart := env.seedCart(1, models.CartItem{ProductID: 10, Quantity: 1})

	payload := map[string]uint{"cart_id": cart.ID, "delivery_address_id": 44}
	_, c := env.doJSONRequest(http.MethodPost, "/patients/orders", payload, ck)

	err := env.O.CreateOrder(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusForbidden, he.Code)
}

func TestCreateOrderUnknownCart(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ck := accessCookie(t, env.JWTSecret, 1)

	_, c := env.doJSONRequest(http.MethodPost, "/patients/orders", map[string]uint{"cart_id": 99}, ck)

	err := env.O.CreateOrder(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusNotFound, he.Code)

	var count int64
	require.NoError(t, env.DB.Model(&models.OutboxEvent{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCancelOrderSoftDeletes(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ck := accessCookie(t, env.JWTSecret, 1)

	cart := env.seedCart(1, models.CartItem{ProductID: 10, Quantity: 1})
	order := models.Order{CartID: cart.ID, PatientID: 1, Status: models.OrderStatusReserved}
	require.NoError(t, env.DB.Create(&order).Error)

	rec, c := env.doJSONRequest(http.MethodDelete, "/patients/orders/1", nil, ck)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(order.ID))
	require.NoError(t, env.O.CancelOrder(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var updated models.Order
	require.NoError(t, env.DB.First(&updated, order.ID).Error)
	require.Equal(t, models.OrderStatusCancelPending, updated.Status)
	require.NotNil(t, updated.DeletedAt)

	var row models.OutboxEvent
	require.NoError(t, env.DB.First(&row).Error)
	require.Equal(t, events.TopicCancelOrder, row.EventType)
}

func TestCancelOrderOnlyReserved(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ck := accessCookie(t, env.JWTSecret, 1)

	cart := env.seedCart(1)
	order := models.Order{CartID: cart.ID, PatientID: 1, Status: models.OrderStatusPending}
	require.NoError(t, env.DB.Create(&order).Error)

	_, c := env.doJSONRequest(http.MethodDelete, "/patients/orders/1", nil, ck)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(order.ID))

	err := env.O.CancelOrder(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusNotFound, he.Code)
}

func TestCreatePaymentMovesOrderToPaymentPending(t *testing.T) {
	env := newTestEnv(t, map[uint]float64{10: 3.5}, nil)
	ck := accessCookie(t, env.JWTSecret, 1)

	cart := env.seedCart(1, models.CartItem{ProductID: 10, Quantity: 2})
	order := models.Order{CartID: cart.ID, PatientID: 1, Status: models.OrderStatusReserved}
	require.NoError(t, env.DB.Create(&order).Error)

	rec, c := env.doJSONRequest(http.MethodPost, "/patients/orders/1/payment", map[string]string{"provider": "qr_payment"}, ck)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(order.ID))
	require.NoError(t, env.O.CreatePayment(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var payment models.Payment
	require.NoError(t, env.DB.Where("order_id = ?", order.ID).First(&payment).Error)
	require.Equal(t, models.PaymentStatusPending, payment.Status)
	require.Equal(t, "qr_payment", payment.Provider)
	require.Equal(t, float64(7), payment.Amount)
	require.NotEqual(t, "00000000-0000-0000-0000-000000000000", payment.ID.String())

	var updated models.Order
	require.NoError(t, env.DB.First(&updated, order.ID).Error)
	require.Equal(t, models.OrderStatusPaymentPending, updated.Status)
}

func TestCreatePaymentDefaultsProvider(t *testing.T) {
	env := newTestEnv(t, map[uint]float64{10: 1}, nil)
	ck := accessCookie(t, env.JWTSecret, 1)

	cart := env.seedCart(1, models.CartItem{ProductID: 10, Quantity: 1})
	order := models.Order{CartID: cart.ID, PatientID: 1, Status: models.OrderStatusReserved}
	require.NoError(t, env.DB.Create(&order).Error)

	rec, c := env.doJSONRequest(http.MethodPost, "/patients/orders/1/payment", map[string]string{}, ck)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(order.ID))
	require.NoError(t, env.O.CreatePayment(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var payment models.Payment
	require.NoError(t, env.DB.Where("order_id = ?", order.ID).First(&payment).Error)
	require.Equal(t, models.PaymentProviderInternal, payment.Provider)
}

func TestCreatePaymentRejectsUnknownProvider(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ck := accessCookie(t, env.JWTSecret, 1)

	_, c := env.doJSONRequest(http.MethodPost, "/patients/orders/1/payment", map[string]string{"provider": "carrier_pigeon"}, ck)
	c.SetParamNames("id")
	c.SetParamValues("1")

	err := env.O.CreatePayment(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusBadRequest, he.Code)
}

func TestDeleteCartCascadesToOrdersAndPayments(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	cart := env.seedCart(1, models.CartItem{ProductID: 10, Quantity: 1})
	order := models.Order{CartID: cart.ID, PatientID: 1, Status: models.OrderStatusReserved}
	require.NoError(t, env.DB.Create(&order).Error)
	payment := models.Payment{OrderID: order.ID, Amount: 5, Status: models.PaymentStatusPending, Provider: models.PaymentProviderInternal}
	require.NoError(t, env.DB.Create(&payment).Error)

	require.NoError(t, env.DB.Delete(&models.Cart{}, cart.ID).Error)

	var orders, payments int64
	require.NoError(t, env.DB.Model(&models.Order{}).Count(&orders).Error)
	require.NoError(t, env.DB.Model(&models.Payment{}).Count(&payments).Error)
	require.Zero(t, orders)
	require.Zero(t, payments)
}

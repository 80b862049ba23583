package order

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/medbook/order-service/internal/api"
	"github.com/medbook/order-service/internal/es"
	"github.com/medbook/order-service/internal/events"
	"github.com/medbook/order-service/internal/handlers"
	"github.com/medbook/order-service/internal/models"
	"github.com/medbook/order-service/internal/outbox"
)

type OrderHandler struct {
	DB         *gorm.DB
	Products   *api.ProductClient
	Deliveries *api.DeliveryClient
	ES         *elasticsearch.Client
	ESIndex    string
	JWTSecret  []byte
}

type orderResponse struct {
	Order      models.Order      `json:"order"`
	OrderItems []models.CartItem `json:"order_items"`
	TotalPrice float64           `json:"total_price"`
}

// GetOrders lists every order in the system.
func (h *OrderHandler) GetOrders(c echo.Context) error {
	var orders []models.Order
	if err := h.DB.WithContext(c.Request().Context()).Find(&orders).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, orders)
}

// GetOrder returns one of the patient's orders with the items of the cart
// it was placed from and a priced total.
func (h *OrderHandler) GetOrder(c echo.Context) error {
	patientID, err := handlers.PatientID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	ctx := c.Request().Context()

	var order models.Order
	if err := h.DB.WithContext(ctx).
		Where("id = ? AND patient_id = ?", id, patientID).
		First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "order not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var items []models.CartItem
	if err := h.DB.WithContext(ctx).Where("cart_id = ?", order.CartID).Find(&items).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	total, err := h.totalPrice(c, items)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	return c.JSON(http.StatusOK, orderResponse{Order: order, OrderItems: items, TotalPrice: total})
}

// GetMyOrders returns the patient's orders, most recently updated first.
func (h *OrderHandler) GetMyOrders(c echo.Context) error {
	patientID, err := handlers.PatientID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()

	var orders []models.Order
	if err := h.DB.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("updated_at DESC").
		Find(&orders).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	cartIDs := make([]uint, 0, len(orders))
	for _, o := range orders {
		cartIDs = append(cartIDs, o.CartID)
	}

	var items []models.CartItem
	if len(cartIDs) > 0 {
		if err := h.DB.WithContext(ctx).Where("cart_id IN ?", cartIDs).Find(&items).Error; err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	prices, err := h.unitPrices(c, items)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	grouped := make(map[uint][]models.CartItem)
	for _, it := range items {
		grouped[it.CartID] = append(grouped[it.CartID], it)
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		orderItems := grouped[o.CartID]
		var total float64
		for _, it := range orderItems {
			total += float64(it.Quantity) * prices[it.ProductID]
		}
		resp = append(resp, orderResponse{Order: o, OrderItems: orderItems, TotalPrice: total})
	}

	return c.JSON(http.StatusOK, resp)
}

// CreateOrder places an order from one of the patient's carts. When a
// delivery address id is given the address is fetched (with an ownership
// check) and stored on the order, and the order type becomes DELIVERY.
// The inventory reservation request goes to the outbox in the same
// transaction as the insert.
func (h *OrderHandler) CreateOrder(c echo.Context) error {
	patientID, err := handlers.PatientID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	var req struct {
		CartID            uint `json:"cart_id"`
		DeliveryAddressID uint `json:"delivery_address_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()

	order := models.Order{
		CartID:    req.CartID,
		PatientID: patientID,
		Status:    models.OrderStatusPending,
		OrderType: models.OrderTypePickup,
	}
	if req.DeliveryAddressID != 0 {
		address, err := h.Deliveries.GetAddress(ctx, req.DeliveryAddressID, patientID)
		if err != nil {
			if errors.Is(err, api.ErrAddressOwnership) {
				return echo.NewHTTPError(http.StatusForbidden, "patient does not own this delivery address")
			}
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		order.OrderType = models.OrderTypeDelivery
		order.DeliveryAddress = address
	}

	txErr := h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cart models.Cart
		if err := tx.Where("id = ? AND patient_id = ?", req.CartID, patientID).First(&cart).Error; err != nil {
			return err
		}

		if err := tx.Create(&order).Error; err != nil {
			return err
		}

		var items []models.CartItem
		if err := tx.Where("cart_id = ?", order.CartID).Find(&items).Error; err != nil {
			return err
		}

		return outbox.Publish(tx, events.TopicReserveOrder, events.OrderRequestedEvent{
			OrderID:    order.ID,
			OrderItems: toEventItems(items),
		})
	})
	if txErr != nil {
		if errors.Is(txErr, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "cart not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, txErr.Error())
	}

	h.indexOrder(c, order)

	return c.JSON(http.StatusOK, order)
}

// CancelOrder soft-deletes a RESERVED order and asks the inventory service
// to release its stock. The row survives with status CANCEL_PENDING and a
// deleted_at timestamp; CANCELLED arrives later via the consumer.
func (h *OrderHandler) CancelOrder(c echo.Context) error {
	patientID, err := handlers.PatientID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var order models.Order
	txErr := h.DB.WithContext(c.Request().Context()).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Order{}).
			Where("id = ? AND patient_id = ? AND deleted_at IS NULL AND status = ?",
				id, patientID, models.OrderStatusReserved).
			Updates(map[string]interface{}{
				"status":     models.OrderStatusCancelPending,
				"deleted_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		if err := tx.First(&order, id).Error; err != nil {
			return err
		}

		var items []models.CartItem
		if err := tx.Where("cart_id = ?", order.CartID).Find(&items).Error; err != nil {
			return err
		}

		return outbox.Publish(tx, events.TopicCancelOrder, events.OrderCancelledEvent{
			OrderID:    order.ID,
			OrderItems: toEventItems(items),
		})
	})
	if txErr != nil {
		if errors.Is(txErr, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "order not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, txErr.Error())
	}

	h.indexOrder(c, order)

	return c.JSON(http.StatusOK, order)
}

// CreatePayment opens a payment for a RESERVED order and moves the order
// to PAYMENT_PENDING. The amount is the cart total priced at call time.
func (h *OrderHandler) CreatePayment(c echo.Context) error {
	patientID, err := handlers.PatientID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var req struct {
		Provider string `json:"provider"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Provider == "" {
		req.Provider = models.PaymentProviderInternal
	}
	switch req.Provider {
	case models.PaymentProviderInternal, "qr_payment":
	default:
		return echo.NewHTTPError(http.StatusBadRequest, req.Provider+" is not a valid payment provider")
	}

	ctx := c.Request().Context()

	var order models.Order
	if err := h.DB.WithContext(ctx).
		Where("id = ? AND patient_id = ? AND status = ?", id, patientID, models.OrderStatusReserved).
		First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "order not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var items []models.CartItem
	if err := h.DB.WithContext(ctx).Where("cart_id = ?", order.CartID).Find(&items).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	total, err := h.totalPrice(c, items)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	var payment models.Payment
	txErr := h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", order.ID, models.OrderStatusReserved).
			Update("status", models.OrderStatusPaymentPending)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		payment = models.Payment{
			OrderID:  order.ID,
			Amount:   total,
			Status:   models.PaymentStatusPending,
			Provider: req.Provider,
		}
		return tx.Create(&payment).Error
	})
	if txErr != nil {
		if errors.Is(txErr, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusConflict, "order is no longer payable")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, txErr.Error())
	}

	order.Status = models.OrderStatusPaymentPending
	h.indexOrder(c, order)

	return c.JSON(http.StatusOK, echo.Map{"payment": payment, "updated_order": order})
}

func (h *OrderHandler) indexOrder(c echo.Context, order models.Order) {
	if h.ES == nil {
		return
	}
	if err := es.IndexOrder(c.Request().Context(), h.ES, h.ESIndex, order); err != nil {
		c.Logger().Errorf("order index error: %v", err)
	}
}

func (h *OrderHandler) unitPrices(c echo.Context, items []models.CartItem) (map[uint]float64, error) {
	ids := make([]uint, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	return h.Products.GetUnitPrices(c.Request().Context(), ids)
}

func (h *OrderHandler) totalPrice(c echo.Context, items []models.CartItem) (float64, error) {
	prices, err := h.unitPrices(c, items)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, it := range items {
		total += float64(it.Quantity) * prices[it.ProductID]
	}
	return total, nil
}

func toEventItems(items []models.CartItem) []events.OrderItem {
	out := make([]events.OrderItem, 0, len(items))
	for _, it := range items {
		out = append(out, events.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}

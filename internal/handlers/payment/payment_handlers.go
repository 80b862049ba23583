package payment

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/medbook/order-service/internal/events"
	"github.com/medbook/order-service/internal/models"
	"github.com/medbook/order-service/internal/outbox"
)

type PaymentHandler struct {
	DB *gorm.DB
}

// MockPay settles a pending payment without a real provider round trip:
// the payment goes to PAID, its order to DELIVERY_PENDING, and a delivery
// request is staged in the outbox, all in one transaction.
func (h *PaymentHandler) MockPay(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payment id")
	}

	var (
		payment models.Payment
		order   models.Order
	)
	txErr := h.DB.WithContext(c.Request().Context()).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", id, models.PaymentStatusPending).
			Update("status", models.PaymentStatusPaid)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if err := tx.First(&payment, "id = ?", id).Error; err != nil {
			return err
		}

		res = tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", payment.OrderID, models.OrderStatusPaymentPending).
			Update("status", models.OrderStatusDeliveryPending)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if err := tx.First(&order, payment.OrderID).Error; err != nil {
			return err
		}

		return outbox.Publish(tx, events.TopicDeliveryOrderRequest, events.DeliveryOrderRequestEvent{
			OrderID:         order.ID,
			OrderType:       order.OrderType,
			DeliveryAddress: order.DeliveryAddress,
		})
	})
	if txErr != nil {
		if errors.Is(txErr, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "payment not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, txErr.Error())
	}

	return c.JSON(http.StatusOK, echo.Map{"updated_payment": payment, "updated_order": order})
}

package httpserver

import (
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/medbook/order-service/internal/handlers"
	"github.com/medbook/order-service/internal/handlers/cart"
	"github.com/medbook/order-service/internal/handlers/order"
	"github.com/medbook/order-service/internal/handlers/payment"
)

type Deps struct {
	DB             *gorm.DB
	CartHandler    *cart.CartHandler
	OrderHandler   *order.OrderHandler
	PaymentHandler *payment.PaymentHandler
	SearchHandler  *handlers.SearchHandler
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(200) })

	carts := e.Group("/patients/carts")

	carts.GET("", d.CartHandler.GetCarts)
	carts.POST("", d.CartHandler.CreateCart)
	carts.GET("/my-carts", d.CartHandler.GetMyCarts)
	carts.GET("/:id", d.CartHandler.GetCart)
	carts.PATCH("/:id", d.CartHandler.UpdateCart)
	carts.DELETE("/:id", d.CartHandler.DeleteCart)

	orders := e.Group("/patients/orders")

	orders.GET("", d.OrderHandler.GetOrders)
	orders.POST("", d.OrderHandler.CreateOrder)
	orders.GET("/my-orders", d.OrderHandler.GetMyOrders)
	orders.GET("/:id", d.OrderHandler.GetOrder)
	orders.DELETE("/:id", d.OrderHandler.CancelOrder)
	orders.POST("/:id/payment", d.OrderHandler.CreatePayment)

	e.PATCH("/payments/:id/mock-pay", d.PaymentHandler.MockPay)

	if d.SearchHandler != nil && d.SearchHandler.ES != nil {
		e.GET("/orders/search", d.SearchHandler.Search)
	}
}

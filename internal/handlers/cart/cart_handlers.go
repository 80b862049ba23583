package cart

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/medbook/order-service/internal/api"
	"github.com/medbook/order-service/internal/handlers"
	"github.com/medbook/order-service/internal/models"
)

type CartHandler struct {
	DB        *gorm.DB
	Products  *api.ProductClient
	JWTSecret []byte
}

type itemRequest struct {
	ProductID uint `json:"product_id"`
	Quantity  uint `json:"quantity"`
}

type cartRequest struct {
	CartItems []itemRequest `json:"cart_items"`
}

type cartResponse struct {
	Cart       models.Cart       `json:"cart"`
	CartItems  []models.CartItem `json:"cart_items"`
	TotalPrice float64           `json:"total_price"`
}

// GetCarts lists every cart in the system.
func (h *CartHandler) GetCarts(c echo.Context) error {
	var carts []models.Cart
	if err := h.DB.WithContext(c.Request().Context()).Find(&carts).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, carts)
}

// CreateCart creates a cart with its items in one transaction. Items with
// a zero quantity are dropped; the column itself has no lower bound.
func (h *CartHandler) CreateCart(c echo.Context) error {
	patientID, err := handlers.PatientID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	var req cartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var (
		cart  models.Cart
		items []models.CartItem
	)
	txErr := h.DB.WithContext(c.Request().Context()).Transaction(func(tx *gorm.DB) error {
		cart = models.Cart{PatientID: patientID}
		if err := tx.Create(&cart).Error; err != nil {
			return err
		}

		items = make([]models.CartItem, 0, len(req.CartItems))
		for _, it := range req.CartItems {
			if it.Quantity < 1 {
				continue
			}
			items = append(items, models.CartItem{
				CartID:    cart.ID,
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
			})
		}
		if len(items) == 0 {
			return nil
		}
		return tx.Create(&items).Error
	})
	if txErr != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, txErr.Error())
	}

	return c.JSON(http.StatusOK, echo.Map{"cart": cart, "cart_items": items})
}

// GetCart returns one of the patient's carts with items and a priced total.
func (h *CartHandler) GetCart(c echo.Context) error {
	patientID, err := handlers.PatientID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	ctx := c.Request().Context()

	var cart models.Cart
	if err := h.DB.WithContext(ctx).
		Where("id = ? AND patient_id = ?", id, patientID).
		First(&cart).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "cart not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var items []models.CartItem
	if err := h.DB.WithContext(ctx).Where("cart_id = ?", cart.ID).Find(&items).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	total, err := h.totalPrice(c, items)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	return c.JSON(http.StatusOK, cartResponse{Cart: cart, CartItems: items, TotalPrice: total})
}

// GetMyCarts returns all of the patient's carts, each with items and total.
func (h *CartHandler) GetMyCarts(c echo.Context) error {
	patientID, err := handlers.PatientID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()

	var carts []models.Cart
	if err := h.DB.WithContext(ctx).Where("patient_id = ?", patientID).Find(&carts).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	cartIDs := make([]uint, 0, len(carts))
	for _, cart := range carts {
		cartIDs = append(cartIDs, cart.ID)
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

	resp := make([]cartResponse, 0, len(carts))
	for _, cart := range carts {
		cartItems := grouped[cart.ID]
		var total float64
		for _, it := range cartItems {
			total += float64(it.Quantity) * prices[it.ProductID]
		}
		resp = append(resp, cartResponse{Cart: cart, CartItems: cartItems, TotalPrice: total})
	}

	return c.JSON(http.StatusOK, resp)
}

// UpdateCart reconciles the cart's items with the request: items absent
// from the request are removed, the rest are upserted with the requested
// quantity, and the cart row itself is touched.
func (h *CartHandler) UpdateCart(c echo.Context) error {
	patientID, err := handlers.PatientID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var req cartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var (
		cart         models.Cart
		updatedItems []models.CartItem
	)
	txErr := h.DB.WithContext(c.Request().Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND patient_id = ?", id, patientID).First(&cart).Error; err != nil {
			return err
		}

		keep := make([]uint, 0, len(req.CartItems))
		for _, it := range req.CartItems {
			keep = append(keep, it.ProductID)
		}

		del := tx.Where("cart_id = ?", id)
		if len(keep) > 0 {
			del = del.Where("product_id NOT IN ?", keep)
		}
		if err := del.Delete(&models.CartItem{}).Error; err != nil {
			return err
		}

		for _, it := range req.CartItems {
			item := models.CartItem{
				CartID:    uint(id),
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "cart_id"}, {Name: "product_id"}},
				DoUpdates: clause.Assignments(map[string]interface{}{"quantity": it.Quantity}),
			}).Create(&item).Error
			if err != nil {
				return err
			}
		}

		if err := tx.Model(&cart).Update("updated_at", time.Now().UTC()).Error; err != nil {
			return err
		}

		return tx.Where("cart_id = ?", id).Find(&updatedItems).Error
	})
	if txErr != nil {
		if errors.Is(txErr, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "cart not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, txErr.Error())
	}

	return c.JSON(http.StatusOK, echo.Map{"updated_cart": cart, "updated_items": updatedItems})
}

// DeleteCart removes one of the patient's carts; items go with it.
func (h *CartHandler) DeleteCart(c echo.Context) error {
	patientID, err := handlers.PatientID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	res := h.DB.WithContext(c.Request().Context()).
		Where("id = ? AND patient_id = ?", id, patientID).
		Delete(&models.Cart{})
	if res.Error != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, res.Error.Error())
	}
	if res.RowsAffected == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "cart not found")
	}

	return c.JSON(http.StatusOK, echo.Map{"deleted_cart": id})
}

func (h *CartHandler) unitPrices(c echo.Context, items []models.CartItem) (map[uint]float64, error) {
	ids := make([]uint, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	return h.Products.GetUnitPrices(c.Request().Context(), ids)
}

func (h *CartHandler) totalPrice(c echo.Context, items []models.CartItem) (float64, error) {
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

package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/railzwaylabs/stockflow/internal/domain/inventory"
	"github.com/railzwaylabs/stockflow/internal/usecase/reservation"
)

const defaultMovementLimit = 100

func (r *Router) CreateInventory(c *gin.Context) {
	var req reservation.CreateInventoryInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	rec, err := r.stock.CreateInventory(c.Request.Context(), req)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (r *Router) GetInventory(c *gin.Context) {
	productID, ok := uuidParam(c, "productId")
	if !ok {
		return
	}
	rec, err := r.stock.GetByProductID(c.Request.Context(), productID)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (r *Router) GetInventoryBySKU(c *gin.Context) {
	rec, err := r.stock.GetBySKU(c.Request.Context(), c.Param("sku"))
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (r *Router) ListInventory(c *gin.Context) {
	page, ok := intQuery(c, "page", 0)
	if !ok {
		return
	}
	size, ok := intQuery(c, "size", 0)
	if !ok {
		return
	}

	result, err := r.stock.ListInventory(c.Request.Context(), page, size)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (r *Router) UpdateInventory(c *gin.Context) {
	productID, ok := uuidParam(c, "productId")
	if !ok {
		return
	}
	var req reservation.UpdateInventoryInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	rec, err := r.stock.UpdateInventory(c.Request.Context(), productID, req)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (r *Router) DeleteInventory(c *gin.Context) {
	productID, ok := uuidParam(c, "productId")
	if !ok {
		return
	}
	if err := r.stock.DeleteInventory(c.Request.Context(), productID); err != nil {
		r.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Router) AddStock(c *gin.Context) {
	r.changeStock(c, r.stock.AddStock)
}

func (r *Router) AdjustStock(c *gin.Context) {
	r.changeStock(c, r.stock.AdjustStock)
}

func (r *Router) changeStock(c *gin.Context, apply func(context.Context, uuid.UUID, reservation.StockChangeInput) (*inventory.Record, error)) {
	productID, ok := uuidParam(c, "productId")
	if !ok {
		return
	}
	var req reservation.StockChangeInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	rec, err := apply(c.Request.Context(), productID, req)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (r *Router) CheckStock(c *gin.Context) {
	productID, ok := uuidParam(c, "productId")
	if !ok {
		return
	}
	quantity, err := strconv.Atoi(c.Query("quantity"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity is required"})
		return
	}

	check, err := r.stock.CheckStock(c.Request.Context(), productID, quantity)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

func (r *Router) CheckStockBatch(c *gin.Context) {
	var items []inventory.Item
	if err := c.ShouldBindJSON(&items); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	checks, err := r.stock.CheckStockBatch(c.Request.Context(), items)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, checks)
}

func (r *Router) ListLowStock(c *gin.Context) {
	items, err := r.stock.ListLowStock(c.Request.Context())
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (r *Router) ListMovements(c *gin.Context) {
	productID, ok := uuidParam(c, "productId")
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit", defaultMovementLimit)
	if !ok {
		return
	}

	movements, err := r.stock.ListMovements(c.Request.Context(), productID, limit)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, movements)
}

func (r *Router) ReserveStock(c *gin.Context) {
	orderID, err := uuid.Parse(c.Query("orderId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid orderId"})
		return
	}
	var items []inventory.Item
	if err := c.ShouldBindJSON(&items); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	reservations, err := r.stock.ReserveStock(c.Request.Context(), orderID, items)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reservations)
}

func (r *Router) GetReservations(c *gin.Context) {
	orderID, ok := uuidParam(c, "orderId")
	if !ok {
		return
	}
	reservations, err := r.stock.GetReservations(c.Request.Context(), orderID)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reservations)
}

func (r *Router) ConfirmReservation(c *gin.Context) {
	orderID, ok := uuidParam(c, "orderId")
	if !ok {
		return
	}
	reservations, err := r.stock.ConfirmReservation(c.Request.Context(), orderID)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reservations)
}

func (r *Router) ReleaseReservation(c *gin.Context) {
	orderID, ok := uuidParam(c, "orderId")
	if !ok {
		return
	}
	if _, err := r.stock.ReleaseReservation(c.Request.Context(), orderID); err != nil {
		r.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}

package httpserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"shopez/internal/cart"
	"shopez/internal/domain"
	"shopez/internal/localstore"
	"shopez/internal/remotestore"
)

type addItemRequest struct {
	ID    string  `json:"id" binding:"required"`
	Title string  `json:"title"`
	Price float64 `json:"price"`
	Image string  `json:"image"`
}

type updateItemRequest struct {
	// Pointer so an explicit zero (which removes the item) binds.
	Quantity *int `json:"quantity" binding:"required"`
}

func getCartHandler(s *cart.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		items := s.Items()
		if items == nil {
			items = []domain.LineItem{}
		}
		c.JSON(http.StatusOK, gin.H{
			"items":      items,
			"totalPrice": s.TotalPrice(),
			"totalItems": s.TotalItems(),
			"mode":       s.Mode().String(),
			"loading":    s.Loading(),
		})
	}
}

func addItemHandler(s *cart.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "product id required"})
			return
		}
		err := s.AddToCart(c.Request.Context(), domain.Product{
			ID:    req.ID,
			Title: req.Title,
			Price: req.Price,
			Image: req.Image,
		})
		if err != nil {
			writeCartError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func updateItemHandler(s *cart.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "quantity required"})
			return
		}
		if err := s.UpdateQuantity(c.Request.Context(), c.Param("id"), *req.Quantity); err != nil {
			writeCartError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func removeItemHandler(s *cart.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.RemoveFromCart(c.Request.Context(), c.Param("id")); err != nil {
			writeCartError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func clearCartHandler(s *cart.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.ClearCart(c.Request.Context()); err != nil {
			writeCartError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func writeCartError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	var writeErr *remotestore.WriteError
	var storageErr *localstore.StorageError
	if errors.As(err, &writeErr) || errors.As(err, &storageErr) {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

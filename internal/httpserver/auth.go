package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"shopez/internal/session"
)

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func registerHandler(s *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req credentialsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email and password required"})
			return
		}
		res := s.Register(c.Request.Context(), req.Email, req.Password)
		if !res.OK {
			c.JSON(http.StatusBadRequest, res)
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}

func loginHandler(s *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req credentialsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email and password required"})
			return
		}
		res := s.Login(c.Request.Context(), req.Email, req.Password)
		if !res.OK {
			c.JSON(http.StatusUnauthorized, res)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func logoutHandler(s *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.Logout(c.Request.Context())
		c.Status(http.StatusNoContent)
	}
}

func meHandler(s *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"identity": s.Identity(),
			"loading":  s.Loading(),
		})
	}
}

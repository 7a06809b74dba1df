package httpserver

import (
	"log"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// buildRouter wires routes for the app API.
func buildRouter(logger *log.Logger, deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.LoggerWithWriter(logger.Writer()), gin.Recovery(), cors.Default())

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(deps.DB))

	auth := router.Group("/auth")
	{
		auth.POST("/register", registerHandler(deps.Session))
		auth.POST("/login", loginHandler(deps.Session))
		auth.POST("/logout", logoutHandler(deps.Session))
		auth.GET("/me", meHandler(deps.Session))
	}

	products := router.Group("/products")
	{
		products.GET("", listProductsHandler(deps.Catalog))
		products.GET("/categories", listCategoriesHandler(deps.Catalog))
		products.GET("/category/:category", listByCategoryHandler(deps.Catalog))
	}

	cartRoutes := router.Group("/cart")
	{
		cartRoutes.GET("", getCartHandler(deps.Cart))
		cartRoutes.DELETE("", clearCartHandler(deps.Cart))
		cartRoutes.POST("/items", addItemHandler(deps.Cart))
		cartRoutes.PATCH("/items/:id", updateItemHandler(deps.Cart))
		cartRoutes.DELETE("/items/:id", removeItemHandler(deps.Cart))
	}

	return router
}

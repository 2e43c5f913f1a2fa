package middleware

import (
	"github.com/gin-gonic/gin"
)

var (
	RouteManager *routeParamsManager

	// CommonMiddlewares run on every route; AuthMiddlewares run only on
	// routes router.Init mounts behind authentication (spec.md §6's
	// requestContext.authorizer-bearing routes).
	CommonMiddlewares = []gin.HandlerFunc{}
	AuthMiddlewares   = []gin.HandlerFunc{}
)

// Register adds global middlewares that apply to all routes.
// Must be called before router.Init.
func Register(middlewares ...gin.HandlerFunc) {
	for _, m := range middlewares {
		if m != nil {
			CommonMiddlewares = append(CommonMiddlewares, m)
		}
	}
}

// RegisterAuth adds authentication/authorization middlewares.
// Must be called before router.Init.
func RegisterAuth(middlewares ...gin.HandlerFunc) {
	for _, m := range middlewares {
		if m != nil {
			AuthMiddlewares = append(AuthMiddlewares, m)
		}
	}
}

// Init prepares middleware-local state that doesn't belong to any single
// gin.HandlerFunc constructor.
func Init() error {
	RouteManager = NewRouteParamsManager()
	return nil
}

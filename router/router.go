// Package router generates the gateway's HTTP surface from the API Model
// Registry (spec.md §6): five CRUD routes per entity, one route per declared
// custom path operation, and the fixed POST /batch endpoint, all behind the
// same middleware chain the teacher's router built by hand per model.
package router

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/forbearing/querygate/config"
	"github.com/forbearing/querygate/internal/adapter"
	"github.com/forbearing/querygate/internal/apimodel"
	"github.com/forbearing/querygate/internal/operation"
	"github.com/forbearing/querygate/middleware"
	pkgzap "github.com/forbearing/querygate/logger/zap"
	"github.com/forbearing/querygate/service"
	"github.com/forbearing/querygate/types/gatewayerr"
)

var (
	root   *gin.Engine
	server *http.Server
)

// Init builds the gin engine, registers the common middleware chain, and
// generates routes for every entity the currently loaded spec document
// declares, every custom path operation, and /batch.
func Init() error {
	if config.App.AppInfo.Mode == config.ModeProd {
		gin.SetMode(gin.ReleaseMode)
	}
	root = gin.New()

	root.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.SecurityHeaders(nil),
		middleware.Timeout(config.App.Server.RequestTimeout),
		middleware.RequestSizeLimit(config.App.Server.MaxRequestBytes),
		middleware.RouteParams(),
	)
	root.Use(middleware.CommonMiddlewares...)
	if len(config.App.Server.TrustedProxies) > 0 {
		root.Use(middleware.IPFilter(&middleware.IPFilterConfig{
			Whitelist:      nil,
			Blacklist:      config.App.Server.BlockedIPs,
			TrustedProxies: config.App.Server.TrustedProxies,
		}))
	}

	root.GET("/-/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := root.Group("/")
	api.Use(middleware.Authz())
	api.Use(middleware.AuthMiddlewares...)

	api.POST("/batch", handleBatch)

	for name := range apimodel.All() {
		registerEntityRoutes(api, name)
	}
	for opName, spec := range apimodel.AllCustomOperations() {
		registerCustomRoute(api, opName, spec)
	}

	return nil
}

// Run starts the HTTP server and blocks until it stops or errors.
func Run() error {
	log := zap.S()
	addr := net.JoinHostPort(config.App.Server.Host, strconv.Itoa(config.App.Server.Port))
	log.Infow("query gateway listening", "addr", addr, "mode", config.App.AppInfo.Mode)

	server = &http.Server{
		Addr:         addr,
		Handler:      root,
		ReadTimeout:  config.App.Server.RequestTimeout,
		WriteTimeout: config.App.Server.RequestTimeout,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Errorw("gateway server failed", "error", err)
		return err
	}
	return nil
}

// Stop gracefully shuts the HTTP server down.
func Stop() {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		zap.S().Errorw("gateway server shutdown failed", "error", err)
	}
	server = nil
}

// registerEntityRoutes wires the five generated routes spec.md §6 names for
// one entity: GET (list), GET /:pk (get), POST (create), PUT /:pk (update),
// DELETE /:pk (delete).
func registerEntityRoutes(group *gin.RouterGroup, entity string) {
	path := "/" + entity
	pkPath := path + "/:pk"

	handler := func(c *gin.Context) {
		op, err := adapter.Unmarshal(c, entity)
		if err != nil {
			adapter.Marshal(c, nil, err)
			return
		}
		if pk := c.Param("pk"); pk != "" {
			if schema, err := apimodel.Get(entity); err == nil {
				op.QueryParams[schema.PrimaryKey] = pk
			}
		}
		data, err := service.Dispatch(c.Request.Context(), op)
		adapter.Marshal(c, data, err)
	}

	group.GET(path, handler)
	group.GET(pkPath, handler)
	group.POST(path, handler)
	group.PUT(pkPath, handler)
	group.DELETE(pkPath, handler)

	pkgzap.Router.Debugw("registered entity routes", "entity", entity, "path", path)
}

// registerCustomRoute wires one declared path_operation (spec.md §4.4.5) at
// its own method/path, converting the OpenAPI `{param}` path-template style
// to gin's `:param` style.
func registerCustomRoute(group *gin.RouterGroup, name string, spec *apimodel.CustomOperationSpec) {
	ginPath := toGinPath(spec.Path)
	handler := func(c *gin.Context) {
		op := adapter.UnmarshalCustom(c, name)
		data, err := service.Dispatch(c.Request.Context(), op)
		adapter.Marshal(c, data, err)
	}

	switch spec.Method {
	case http.MethodGet:
		group.GET(ginPath, handler)
	case http.MethodPost:
		group.POST(ginPath, handler)
	case http.MethodPut:
		group.PUT(ginPath, handler)
	case http.MethodPatch:
		group.PATCH(ginPath, handler)
	case http.MethodDelete:
		group.DELETE(ginPath, handler)
	default:
		zap.S().Warnw("custom path operation declares unsupported method, skipped", "name", name, "method", spec.Method)
		return
	}
	pkgzap.Router.Debugw("registered custom path operation", "name", name, "path", ginPath)
}

func handleBatch(c *gin.Context) {
	op, err := adapter.UnmarshalBatch(c)
	if err != nil {
		adapter.Marshal(c, nil, err)
		return
	}
	if op.Action != operation.ActionCreate {
		adapter.Marshal(c, nil, gatewayerr.New(gatewayerr.BadRequest, "batch endpoint accepts POST only"))
		return
	}
	data, err := service.Dispatch(c.Request.Context(), op)
	adapter.Marshal(c, data, err)
}

// toGinPath rewrites an OpenAPI `{param}` path template to gin's `:param` style.
func toGinPath(openAPIPath string) string {
	out := make([]byte, 0, len(openAPIPath))
	for i := 0; i < len(openAPIPath); i++ {
		switch openAPIPath[i] {
		case '{':
			out = append(out, ':')
		case '}':
			// skip
		default:
			out = append(out, openAPIPath[i])
		}
	}
	return string(out)
}

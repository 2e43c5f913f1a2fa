package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	authnjwt "github.com/forbearing/querygate/authn/jwt"
	"github.com/forbearing/querygate/config"
	pkgzap "github.com/forbearing/querygate/logger/zap"
	"github.com/forbearing/querygate/types/claims"
	"github.com/forbearing/querygate/types/consts"
	"github.com/forbearing/querygate/types/gatewayerr"
)

// Authz authenticates the bearer token and runs the coarse scope gate
// spec.md's Open Question on scope enforcement resolves as additive to,
// not a replacement for, the Permission Resolver's fine-grained
// property/row filtering: failing this gate short-circuits with Forbidden
// before the resolver (and its per-row WHERE templates) ever runs.
//
// In a deployment fronted by an API-Gateway-style authorizer, claims are
// already verified upstream and arrive in event.requestContext.authorizer;
// this middleware is the fallback path when the gateway is reached
// directly (see authn/jwt's package doc).
func Authz() gin.HandlerFunc {
	return func(c *gin.Context) {
		callerClaims, err := authnjwt.ParseTokenFromHeader(c.Request.Header)
		if err != nil {
			pkgzap.Runtime.Warnw("token validation failed", "error", err, "path", c.Request.URL.Path)
			gwErr := gatewayerr.Wrap(gatewayerr.Unauthorized, err, "invalid credentials")
			c.JSON(gwErr.Status(), gin.H{"error": gwErr.Message})
			c.Abort()
			return
		}

		c.Set(consts.CtxClaims, callerClaims)
		c.Set(consts.CtxUsername, callerClaims.Subject)
		c.Set(consts.CtxUserID, callerClaims.Subject)

		if !config.App.Auth.ScopeEnforcement {
			c.Next()
			return
		}

		entity := entityFromPath(c.Request.URL.Path)
		action := actionFromMethod(c.Request.Method)
		c.Set(consts.CtxEntity, entity)

		if entity == "batch" {
			// A batch request's individual steps each carry their own
			// entity/action, so the request is not scope-checked here; the
			// orchestrator does not scope-check its steps either.
			c.Next()
			return
		}

		if !callerClaims.MatchesScope(action, entity) {
			zap.S().Infow("scope gate denied request", "sub", callerClaims.Subject, "entity", entity, "action", action)
			gwErr := gatewayerr.New(gatewayerr.Forbidden, "caller's scopes do not permit this operation")
			c.JSON(gwErr.Status(), gin.H{"error": gwErr.Message})
			c.Abort()
			return
		}

		c.Next()
	}
}

// entityFromPath takes the first non-empty path segment as the entity name
// ("/orders/42" -> "orders"), matching router.Init's per-entity route shape.
func entityFromPath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 {
		return ""
	}
	return segments[0]
}

// actionFromMethod maps an HTTP verb to the coarse scope action vocabulary
// claims.MatchesScope expects (spec.md §4.3).
func actionFromMethod(method string) string {
	switch method {
	case "GET":
		return "read"
	case "POST":
		return "create"
	case "PUT", "PATCH":
		return "update"
	case "DELETE":
		return "delete"
	default:
		return "read"
	}
}

// CallerClaims reads back the Claims Authz attached to the gin context.
func CallerClaims(c *gin.Context) *claims.Claims {
	v, ok := c.Get(consts.CtxClaims)
	if !ok {
		return nil
	}
	cl, _ := v.(*claims.Claims)
	return cl
}

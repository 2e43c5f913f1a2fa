// Package consts holds the small set of gin-context keys and framework-wide
// literals shared across packages. Kept deliberately tiny: most constants in
// this gateway live next to the code that defines their meaning (actions in
// internal/operation, error kinds in types/gatewayerr, operators in
// internal/sqlhandler) rather than in one grab-bag file.
package consts

const FrameworkName = "querygate"

// gin.Context keys set by middleware and read back by the adapter/service layer.
const (
	CtxRoute        = "ctx_route"
	CtxUsername     = "ctx_username"
	CtxUserID       = "ctx_user_id"
	CtxRequiresAuth = "ctx_requires_auth"
	CtxClaims       = "ctx_claims"
	CtxEntity       = "ctx_entity"
	RequestID       = "request_id"
	TraceID         = "trace_id"
	Params          = "route_params"
)

// DefaultPageSize is used when __limit is absent and DEFAULT_PAGE_SIZE is unset.
const DefaultPageSize = 50

// MaxBatchSize is the spec's fixed batch-size ceiling (spec.md §3, §8).
const MaxBatchSize = 100

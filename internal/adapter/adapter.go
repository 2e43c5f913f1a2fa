// Package adapter implements the Request Adapter (spec.md §4.3):
// unmarshal(request) -> Operation and marshal(result_or_error) -> response
// envelope. The inbound event is carried over net/http via gin (SPEC_FULL.md
// §4.3), so Unmarshal reads a *gin.Context instead of a raw Lambda-proxy
// event map, but produces the exact same Operation shape either way.
package adapter

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stoewer/go-strcase"

	"github.com/forbearing/querygate/internal/operation"
	"github.com/forbearing/querygate/middleware"
	"github.com/forbearing/querygate/response"
	"github.com/forbearing/querygate/types/consts"
	"github.com/forbearing/querygate/types/gatewayerr"
)

// actionByMethod maps an HTTP verb to its dispatchable Action (spec.md §4.3).
var actionByMethod = map[string]operation.Action{
	"GET":    operation.ActionRead,
	"POST":   operation.ActionCreate,
	"PUT":    operation.ActionUpdate,
	"PATCH":  operation.ActionUpdate,
	"DELETE": operation.ActionDelete,
}

// Unmarshal builds an Operation for an entity-CRUD route: entity comes from
// the route's registered name (not re-derived from the path, since gin
// already dispatched on it), the path's `:pk` parameter and the query
// string merge into QueryParams (snake_cased; `__`-prefixed keys go to
// MetadataParams instead), and the body JSON-decodes into StoreParams for
// writes. Claims come back out of the context Authz already attached.
func Unmarshal(c *gin.Context, entity string) (*operation.Operation, error) {
	action, ok := actionByMethod[c.Request.Method]
	if !ok {
		return nil, gatewayerr.Newf(gatewayerr.BadRequest, "unsupported method %q", c.Request.Method)
	}

	op := &operation.Operation{
		Entity:         entity,
		Action:         action,
		QueryParams:    map[string]string{},
		MetadataParams: map[string]string{},
		Claims:         middleware.CallerClaims(c),
	}

	for _, p := range c.Params {
		assignParam(op, p.Key, p.Value)
	}
	for key, values := range c.Request.URL.Query() {
		if len(values) == 0 {
			continue
		}
		assignParam(op, key, values[0])
	}

	if c.Request.Body != nil && (action == operation.ActionCreate || action == operation.ActionUpdate) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return nil, gatewayerr.Wrap(gatewayerr.BadRequest, err, "reading request body")
		}
		if len(body) > 0 {
			store, err := decodeStoreParams(body)
			if err != nil {
				return nil, err
			}
			op.StoreParams = store
		}
	}

	return op, nil
}

// UnmarshalBatch builds the (entity="batch", action="create") Operation
// spec.md §4.3's special case describes: the decoded POST /batch body is
// carried verbatim as StoreParams for the Batch Orchestrator to interpret.
func UnmarshalBatch(c *gin.Context) (*operation.Operation, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.BadRequest, err, "reading batch request body")
	}
	store, err := decodeStoreParams(body)
	if err != nil {
		return nil, err
	}
	return &operation.Operation{
		Entity:      "batch",
		Action:      operation.ActionCreate,
		StoreParams: store,
		Claims:      middleware.CallerClaims(c),
	}, nil
}

// UnmarshalCustom builds an ActionCustom Operation for a declared path
// operation: path/query parameters become CustomBindings (spec.md §4.4.5
// named bind parameters), snake_cased the same way entity routes are.
func UnmarshalCustom(c *gin.Context, operationName string) *operation.Operation {
	bindings := make(map[string]any, len(c.Params)+4)
	for _, p := range c.Params {
		bindings[strcase.SnakeCase(p.Key)] = p.Value
	}
	for key, values := range c.Request.URL.Query() {
		if len(values) == 0 {
			continue
		}
		bindings[strcase.SnakeCase(key)] = values[0]
	}
	return &operation.Operation{
		Entity:         "__custom__",
		Action:         operation.ActionCustom,
		CustomSQLName:  operationName,
		CustomBindings: bindings,
		Claims:         middleware.CallerClaims(c),
	}
}

// assignParam routes one path/query parameter into an Operation's
// QueryParams or MetadataParams, snake_casing its key (spec.md §4.3
// "Field name case conversion (snake <-> camel) is applied at the boundary").
func assignParam(op *operation.Operation, key, value string) {
	if strings.HasPrefix(key, "__") {
		op.MetadataParams[key] = value
		return
	}
	op.QueryParams[strcase.SnakeCase(key)] = value
}

// decodeStoreParams JSON-decodes a request body and snake_cases every
// top-level key, so a client sending camelCase field names (the boundary
// convention spec.md §4.3 describes) lands on the internal snake_case
// representation the API Model Registry declares properties under.
func decodeStoreParams(body []byte) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.BadRequest, err, "decoding request body")
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[strcase.SnakeCase(k)] = v
	}
	return out, nil
}

// Marshal renders a DAO/batch result or error as the gateway's outbound
// envelope (spec.md §6), camelCasing top-level response keys back for the
// client and writing it to the gin response writer.
func Marshal(c *gin.Context, data any, err error) {
	requestID := c.GetString(consts.RequestID)

	if err != nil {
		_ = c.Error(err)
		envelope := response.JSON(response.FromError(err), requestID, nil)
		writeEnvelope(c, envelope)
		return
	}

	envelope := response.JSON(response.Success, requestID, camelizeTop(data))
	writeEnvelope(c, envelope)
}

func writeEnvelope(c *gin.Context, envelope response.Envelope) {
	for k, v := range envelope.Headers {
		c.Header(k, v)
	}
	c.Data(envelope.StatusCode, "application/json; charset=utf-8", []byte(envelope.Body))
}

// camelizeTop converts the top-level (and, for row maps, per-row) keys of a
// DAO/batch result from the internal snake_case representation to camelCase
// for the client, mirroring decodeStoreParams' inbound conversion.
func camelizeTop(data any) any {
	switch v := data.(type) {
	case []map[string]any:
		out := make([]map[string]any, len(v))
		for i, row := range v {
			out[i] = camelizeMap(row)
		}
		return out
	case map[string]any:
		return camelizeMap(v)
	default:
		return data
	}
}

func camelizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[strcase.LowerCamelCase(k)] = v
	}
	return out
}

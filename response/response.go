// Package response renders a gatewayerr.Kind (or a plain success) as the
// gateway's outbound envelope. It keeps the teacher's Code/Responder split
// but closes the registry over exactly the seven kinds types/gatewayerr
// defines instead of an open, app-specific code table.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/forbearing/querygate/types/consts"
	"github.com/forbearing/querygate/types/gatewayerr"
)

// Responder is anything that can render a status code and a message, the
// way the teacher's response.Code/CodeInstance pair did.
type Responder interface {
	Status() int
	Msg() string
}

// success renders CodeSuccess-equivalent: HTTP 200 with an empty message.
type success struct{}

func (success) Status() int { return http.StatusOK }
func (success) Msg() string { return "" }

// Success is the zero-value Responder for a request that produced no error.
var Success Responder = success{}

// FromError adapts a gatewayerr.Error (or any error KindOf can classify)
// into a Responder.
func FromError(err error) Responder {
	kind := gatewayerr.KindOf(err)
	return errorResponder{kind: kind, msg: err.Error()}
}

type errorResponder struct {
	kind gatewayerr.Kind
	msg  string
}

func (r errorResponder) Status() int { return r.kind.Status() }
func (r errorResponder) Msg() string { return r.msg }

// Envelope is the gateway's outbound response shape (spec.md §6): the shape
// an API-Gateway-style Lambda proxy integration expects, and the shape
// internal/adapter.Marshal produces from a DAO/batch result or error.
type Envelope struct {
	IsBase64Encoded bool              `json:"isBase64Encoded"`
	StatusCode      int               `json:"statusCode"`
	Headers         map[string]string `json:"headers"`
	Body            string            `json:"body"`
}

// JSON builds an Envelope carrying data (or, for an error Responder, an
// {"error": msg} body) as its JSON-encoded body.
func JSON(responder Responder, requestID string, data any) Envelope {
	headers := map[string]string{
		"Content-Type":    "application/json; charset=utf-8",
		consts.RequestID: requestID,
	}

	var payload any
	if responder.Status() >= http.StatusBadRequest {
		payload = map[string]any{"error": responder.Msg()}
	} else {
		payload = data
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{
			StatusCode: http.StatusInternalServerError,
			Headers:    headers,
			Body:       `{"error":"failed to encode response body"}`,
		}
	}

	return Envelope{
		StatusCode: responder.Status(),
		Headers:    headers,
		Body:       string(body),
	}
}

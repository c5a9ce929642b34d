// Package jsonrpc models the wire envelopes this relay speaks and the
// dynamic params tree rewrites operate on.
package jsonrpc

import "encoding/json"

// defaultID is substituted when a client omits the id field, per the
// relay's rule that it never forwards a request with no id.
var defaultID = json.RawMessage("0")

// Request is the envelope the relay both accepts from clients and sends
// upstream. Params is kept as raw bytes until a handler needs the decoded
// tree; most requests never need it touched at all.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCError is the error object of a JSON-RPC 2.0 response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the envelope returned for errors the relay itself
// originates: NoHealthyEndpoints, UpstreamError, and an unreadable
// request body.
type ErrorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *RPCError       `json:"error"`
}

// upstreamEnvelope is the shape used to pull just the result (or error) out
// of an upstream reply, for calls where only that is needed (probes, the
// nonce pre-check) as opposed to the full verbatim body.
type upstreamEnvelope struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// ParseRequest decodes an inbound HTTP body into a Request, applying the
// relay's defaults for a missing method, params, or id rather than
// rejecting the request — malformed input is a deliberate pass-through;
// the upstream provider is left to reject it.
func ParseRequest(body []byte) Request {
	var req Request
	_ = json.Unmarshal(body, &req)
	if len(req.ID) == 0 {
		req.ID = defaultID
	}
	if len(req.Params) == 0 {
		req.Params = json.RawMessage("[]")
	}
	req.JSONRPC = "2.0"
	return req
}

// NewErrorResponse builds the error envelope the relay returns for its own
// faults (no healthy endpoint, upstream forwarding failure, unreadable
// request body).
func NewErrorResponse(id json.RawMessage, code int, message string) ErrorResponse {
	if len(id) == 0 {
		id = defaultID
	}
	return ErrorResponse{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}

// UnwrapResult extracts the result field from an upstream reply, returning
// an error if the reply carries a JSON-RPC error object instead.
func UnwrapResult(body json.RawMessage) (json.RawMessage, error) {
	var env upstreamEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	if env.Error != nil {
		return nil, &rpcError{code: env.Error.Code, message: env.Error.Message}
	}
	return env.Result, nil
}

type rpcError struct {
	code    int
	message string
}

func (e *rpcError) Error() string {
	return e.message
}

// RewriteID returns a copy of a stored response with its top-level id
// field swapped for the caller's id. Every other member keeps its JSON
// value, but the copy is re-encoded by encoding/json, so it is not
// byte-identical to what was stored: members come out sorted by key,
// insignificant whitespace inside values is dropped, and <, > and & inside
// strings are written as \u escapes.
func RewriteID(response json.RawMessage, id json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(response, &fields); err != nil {
		return nil, err
	}
	if len(id) == 0 {
		id = defaultID
	}
	fields["id"] = id
	return json.Marshal(fields)
}

// Package httprpc implements the RpcClient capability the core relay
// depends on only through an interface: a pooled client taking an
// explicit per-call context deadline, since probes, the nonce pre-check,
// and forwards each need a different bound.
package httprpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/you/eth-rpc-relay/internal/jsonrpc"
	"github.com/you/eth-rpc-relay/internal/logging"
)

// RpcClient is the outbound capability the core relay depends on. Probes
// and the nonce pre-check use Call (just the result); the main forwarding
// path uses Forward, which returns the upstream body verbatim regardless
// of whether it carries a JSON-RPC error object.
type RpcClient interface {
	Call(ctx context.Context, url, method string, params any) (json.RawMessage, error)
	Forward(ctx context.Context, url string, req jsonrpc.Request) (json.RawMessage, error)
}

// Client is the *http.Client-backed RpcClient. Its Transport is sized for
// at least 100 concurrent connections per endpoint, per the relay's
// concurrency model.
type Client struct {
	http *http.Client
}

// New builds a Client with a connection pool sized for concurrent relay
// traffic. Timeouts are supplied per call via context, not here.
func New() *Client {
	transport := &http.Transport{
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{http: &http.Client{Transport: transport}}
}

type outboundRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// probeID is the id used for calls with no client request behind them
// (health probes, the nonce pre-check).
const probeID = 1

// Call issues a JSON-RPC request and returns just its result field,
// erroring if the upstream reply carries a JSON-RPC error object or the
// request failed outright. Used by the health monitor's probes and the
// handler's nonce pre-check, neither of which needs the full envelope.
func (c *Client) Call(ctx context.Context, url, method string, params any) (json.RawMessage, error) {
	body, err := c.post(ctx, url, outboundRequest{JSONRPC: "2.0", ID: probeID, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	return jsonrpc.UnwrapResult(body)
}

// Forward sends req upstream and returns the full response body exactly
// as received — including any embedded JSON-RPC error object, which is
// the relay's job to pass through, not interpret. req.ID is forwarded
// verbatim, so the upstream's reply carries the client's own id (the
// relay never rewrites it on the happy path — only cache hits and its
// own error envelopes need an explicit rewrite). An error here means the
// transport itself failed (timeout, connection refused, non-2xx status),
// surfaced by the caller as UpstreamError.
func (c *Client) Forward(ctx context.Context, url string, req jsonrpc.Request) (json.RawMessage, error) {
	return c.post(ctx, url, outboundRequest{JSONRPC: "2.0", ID: req.ID, Method: req.Method, Params: req.Params})
}

func (c *Client) post(ctx context.Context, url string, payload any) (json.RawMessage, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", logging.RedactURL(url), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", logging.RedactURL(url), err)
	}

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("non-2xx status %d from %s", resp.StatusCode, logging.RedactURL(url))
	}

	return body, nil
}

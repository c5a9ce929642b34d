package httprpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/eth-rpc-relay/internal/jsonrpc"
)

func TestCallReturnsResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x10"}`))
	}))
	defer srv.Close()

	c := New()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	result, err := c.Call(ctx, srv.URL, "eth_blockNumber", []any{})
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"0x10"`), result)
}

func TestCallReturnsErrorOnRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-1,"message":"nope"}}`))
	}))
	defer srv.Close()

	c := New()
	_, err := c.Call(context.Background(), srv.URL, "eth_blockNumber", []any{})
	require.Error(t, err)
	assert.Equal(t, "nope", err.Error())
}

func TestForwardReturnsBodyVerbatimEvenWithEmbeddedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":5,"error":{"code":-32601,"message":"method not found"}}`))
	}))
	defer srv.Close()

	c := New()
	body, err := c.Forward(context.Background(), srv.URL, jsonrpc.Request{Method: "eth_foo", Params: json.RawMessage(`[]`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":5,"error":{"code":-32601,"message":"method not found"}}`, string(body))
}

func TestForwardErrorsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New()
	_, err := c.Forward(context.Background(), srv.URL, jsonrpc.Request{Method: "eth_foo", Params: json.RawMessage(`[]`)})
	require.Error(t, err)
}

func TestCallRespectsContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	c := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Call(ctx, srv.URL, "eth_blockNumber", []any{})
	require.Error(t, err)
}

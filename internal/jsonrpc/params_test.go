package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeParamsAbsentIsEmptyArray(t *testing.T) {
	v, err := DecodeParams(nil)
	require.NoError(t, err)
	assert.True(t, IsArray(v))
	assert.Equal(t, 0, ArrayLen(v))
}

func TestRewritePendingNonceCollapsesTail(t *testing.T) {
	params, err := DecodeParams(json.RawMessage(`["0xabc", "latest", "extra"]`))
	require.NoError(t, err)

	rewritten := RewritePendingNonce("eth_getTransactionCount", params)

	require.Equal(t, 2, ArrayLen(rewritten))
	first, _ := ArrayIndex(rewritten, 0)
	second, _ := ArrayIndex(rewritten, 1)
	assert.Equal(t, "0xabc", first)
	assert.Equal(t, "pending", second)
}

func TestRewritePendingNonceIgnoresOtherMethods(t *testing.T) {
	params, err := DecodeParams(json.RawMessage(`["0xabc", "latest"]`))
	require.NoError(t, err)

	rewritten := RewritePendingNonce("eth_call", params)
	assert.Equal(t, params, rewritten)
}

func TestRewritePendingNonceIgnoresShortArrays(t *testing.T) {
	params, err := DecodeParams(json.RawMessage(`[]`))
	require.NoError(t, err)

	rewritten := RewritePendingNonce("eth_getTransactionCount", params)
	assert.Equal(t, 0, ArrayLen(rewritten))
}

func TestCanonicalizeSortsKeysAtEveryLevel(t *testing.T) {
	a, err := DecodeParams(json.RawMessage(`[{"b":1,"a":{"z":1,"y":2}}]`))
	require.NoError(t, err)
	b, err := DecodeParams(json.RawMessage(`[{"a":{"y":2,"z":1},"b":1}]`))
	require.NoError(t, err)

	ca, err := Canonicalize(a)
	require.NoError(t, err)
	cb, err := Canonicalize(b)
	require.NoError(t, err)

	assert.JSONEq(t, string(ca), string(cb))
	assert.Equal(t, ca, cb)
}

package idempotency

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONSortsObjectKeys(t *testing.T) {
	a, err := CanonicalJSON(json.RawMessage(`{"b":2,"a":1}`))
	require.NoError(t, err)
	b, err := CanonicalJSON(json.RawMessage(`{"a":1,"b":2}`))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.JSONEq(t, `{"a":1,"b":2}`, string(a))
}

func TestCanonicalJSONNestedAndWhitespace(t *testing.T) {
	a, err := CanonicalJSON(json.RawMessage(`{ "outer": { "y": [1, 2], "x": "v" } }`))
	require.NoError(t, err)
	b, err := CanonicalJSON(json.RawMessage(`{"outer":{"x":"v","y":[1,2]}}`))
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestCanonicalJSONPreservesNumbers(t *testing.T) {
	out, err := CanonicalJSON(json.RawMessage(`{"big":9007199254740993,"rate":0.1}`))
	require.NoError(t, err)

	assert.Contains(t, string(out), "9007199254740993")
	assert.Contains(t, string(out), "0.1")
}

func TestCanonicalJSONRejectsInvalidInput(t *testing.T) {
	_, err := CanonicalJSON(json.RawMessage(`{"broken`))
	assert.Error(t, err)
}

func TestKeyIsDeterministic(t *testing.T) {
	payload := json.RawMessage(`{"text":"hello","channel":"#ops"}`)

	k1, err := Key("slack", "send_message", "order-42", payload)
	require.NoError(t, err)
	k2, err := Key("slack", "send_message", "order-42", payload)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
}

func TestKeyIgnoresFieldOrder(t *testing.T) {
	k1, err := Key("slack", "send_message", "order-42", json.RawMessage(`{"a":1,"b":2}`))
	require.NoError(t, err)
	k2, err := Key("slack", "send_message", "order-42", json.RawMessage(`{"b":2,"a":1}`))
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
}

func TestKeySensitiveToEveryInput(t *testing.T) {
	payload := json.RawMessage(`{"a":1}`)
	base, err := Key("slack", "send_message", "order-42", payload)
	require.NoError(t, err)

	variants := []struct {
		integration string
		operation   string
		resource    string
		payload     json.RawMessage
	}{
		{"resend", "send_message", "order-42", payload},
		{"slack", "update_message", "order-42", payload},
		{"slack", "send_message", "order-43", payload},
		{"slack", "send_message", "order-42", json.RawMessage(`{"a":2}`)},
	}
	for _, v := range variants {
		k, err := Key(v.integration, v.operation, v.resource, v.payload)
		require.NoError(t, err)
		assert.NotEqual(t, base, k)
	}
}

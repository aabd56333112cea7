package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	t.Run("bytes pass through as octet-stream", func(t *testing.T) {
		body, ct, err := Encode([]byte{0x01, 0x02, 0xff}, "")
		require.NoError(t, err)
		assert.Equal(t, OctetStream, ct)
		assert.Equal(t, []byte{0x01, 0x02, 0xff}, body)
	})

	t.Run("string encodes as text/string", func(t *testing.T) {
		body, ct, err := Encode("hello", "")
		require.NoError(t, err)
		assert.Equal(t, Text, ct)
		assert.Equal(t, "hello", string(body))
	})

	t.Run("integers encode as decimal text/number", func(t *testing.T) {
		body, ct, err := Encode(42, "")
		require.NoError(t, err)
		assert.Equal(t, Number, ct)
		assert.Equal(t, "42", string(body))
	})

	t.Run("floats encode as decimal text/number", func(t *testing.T) {
		body, ct, err := Encode(1.5, "")
		require.NoError(t, err)
		assert.Equal(t, Number, ct)
		assert.Equal(t, "1.5", string(body))
	})

	t.Run("float32 encodes without double-precision artifacts", func(t *testing.T) {
		body, ct, err := Encode(float32(1.1), "")
		require.NoError(t, err)
		assert.Equal(t, Number, ct)
		assert.Equal(t, "1.1", string(body))
	})

	t.Run("objects encode as json", func(t *testing.T) {
		body, ct, err := Encode(map[string]any{"a": 1}, "")
		require.NoError(t, err)
		assert.Equal(t, JSON, ct)
		assert.JSONEq(t, `{"a":1}`, string(body))
	})

	t.Run("slices encode as json", func(t *testing.T) {
		body, ct, err := Encode([]int{1, 2, 3}, "")
		require.NoError(t, err)
		assert.Equal(t, JSON, ct)
		assert.JSONEq(t, `[1,2,3]`, string(body))
	})

	t.Run("explicit tag overrides the inferred one", func(t *testing.T) {
		body, ct, err := Encode("hello", OctetStream)
		require.NoError(t, err)
		assert.Equal(t, OctetStream, ct)
		// Encoding is still chosen by the value's type.
		assert.Equal(t, "hello", string(body))
	})

	t.Run("unmarshalable value fails", func(t *testing.T) {
		_, _, err := Encode(make(chan int), "")
		assert.Error(t, err)
	})
}

func TestDecode(t *testing.T) {
	t.Run("json decodes to generic value", func(t *testing.T) {
		v, err := Decode([]byte(`{"foo":{"test":[1,2,3]},"bar":false}`), JSON)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"foo": map[string]any{"test": []any{1.0, 2.0, 3.0}},
			"bar": false,
		}, v)
	})

	t.Run("text decodes to string", func(t *testing.T) {
		v, err := Decode([]byte("hello"), Text)
		require.NoError(t, err)
		assert.Equal(t, "hello", v)
	})

	t.Run("number decodes to float64", func(t *testing.T) {
		v, err := Decode([]byte("3.25"), Number)
		require.NoError(t, err)
		assert.Equal(t, 3.25, v)
	})

	t.Run("octet-stream passes through", func(t *testing.T) {
		v, err := Decode([]byte{0xde, 0xad}, OctetStream)
		require.NoError(t, err)
		assert.Equal(t, []byte{0xde, 0xad}, v)
	})

	t.Run("unknown tag passes through", func(t *testing.T) {
		v, err := Decode([]byte("raw"), "application/x-custom")
		require.NoError(t, err)
		assert.Equal(t, []byte("raw"), v)
	})

	t.Run("missing tag passes through", func(t *testing.T) {
		v, err := Decode([]byte("raw"), "")
		require.NoError(t, err)
		assert.Equal(t, []byte("raw"), v)
	})

	t.Run("malformed json returns raw bytes with error", func(t *testing.T) {
		v, err := Decode([]byte("{not json"), JSON)
		assert.Error(t, err)
		assert.Equal(t, []byte("{not json"), v)
	})

	t.Run("malformed number returns raw bytes with error", func(t *testing.T) {
		v, err := Decode([]byte("NaN-ish"), Number)
		assert.Error(t, err)
		assert.Equal(t, []byte("NaN-ish"), v)
	})
}

func TestRoundTrip(t *testing.T) {
	t.Run("bytes", func(t *testing.T) {
		body, ct, err := Encode([]byte("payload"), "")
		require.NoError(t, err)
		v, err := Decode(body, ct)
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), v)
	})

	t.Run("string", func(t *testing.T) {
		body, ct, err := Encode("payload", "")
		require.NoError(t, err)
		v, err := Decode(body, ct)
		require.NoError(t, err)
		assert.Equal(t, "payload", v)
	})

	t.Run("number", func(t *testing.T) {
		body, ct, err := Encode(12.75, "")
		require.NoError(t, err)
		v, err := Decode(body, ct)
		require.NoError(t, err)
		assert.Equal(t, 12.75, v)
	})

	t.Run("object", func(t *testing.T) {
		body, ct, err := Encode(map[string]any{"k": "v", "n": 2.0}, "")
		require.NoError(t, err)
		v, err := Decode(body, ct)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"k": "v", "n": 2.0}, v)
	})
}

func TestDetect(t *testing.T) {
	ct := Detect([]byte(`{"a": 1}`))
	assert.Contains(t, ct, "json")
}

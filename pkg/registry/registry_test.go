package registry

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStrictUnmarshal 验证严格解码逻辑。
func TestStrictUnmarshal(t *testing.T) {
	type opt struct {
		A int `json:"a"`
	}
	var o opt
	require.NoError(t, strictUnmarshal(nil, &o))
	assert.Zero(t, o.A)
	require.NoError(t, strictUnmarshal(json.RawMessage(`{"a":1}`), &o))
	assert.Equal(t, 1, o.A)
	assert.Error(t, strictUnmarshal(json.RawMessage(`{"a":1,"b":2}`), &o))
}

// TestFactories 每个注册项：默认选项可构造，未知字段被拒绝。
func TestFactories(t *testing.T) {
	unknown := json.RawMessage(`{"x":1}`)

	for name, f := range Reader {
		_, err := f(nil)
		assert.NoError(t, err, "reader %s", name)
		_, err = f(unknown)
		assert.Error(t, err, "reader %s", name)
	}
	for name, f := range Detector {
		_, err := f(json.RawMessage(`{"comment":"//"}`))
		assert.NoError(t, err, "detector %s", name)
		_, err = f(unknown)
		assert.Error(t, err, "detector %s", name)
	}
	for name, f := range Assembler {
		_, err := f(json.RawMessage(`{}`))
		assert.NoError(t, err, "assembler %s", name)
		_, err = f(unknown)
		assert.Error(t, err, "assembler %s", name)
	}
	for name, f := range Formatter {
		_, err := f(nil)
		assert.NoError(t, err, "formatter %s", name)
	}
	_, err := Formatter["darklua"](unknown)
	assert.Error(t, err)
}

// TestWriterFactories 写出目标的必填项校验。
func TestWriterFactories(t *testing.T) {
	_, err := Writer["fs"](json.RawMessage(`{"dir":"` + t.TempDir() + `"}`))
	assert.NoError(t, err)
	_, err = Writer["fs"](json.RawMessage(`{}`))
	assert.Error(t, err)

	_, err = Writer["s3"](json.RawMessage(`{"endpoint":"localhost:9000","access_key":"a","secret_key":"b","bucket":"c"}`))
	assert.NoError(t, err)
	_, err = Writer["s3"](json.RawMessage(`{"endpoint":"localhost:9000"}`))
	assert.Error(t, err)

	w, err := Writer["websocket"](json.RawMessage(`{"addr":"127.0.0.1:0"}`))
	require.NoError(t, err)
	if c, ok := w.(io.Closer); assert.True(t, ok) {
		assert.NoError(t, c.Close())
	}
	_, err = Writer["websocket"](json.RawMessage(`{"path":"nope"}`))
	assert.Error(t, err)
}

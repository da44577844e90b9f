package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMessageSetsTypeHeader(t *testing.T) {
	msg, err := toMessage(Event{Key: "7", Type: "search", Value: map[string]int{"returned": 3}})
	require.NoError(t, err)

	assert.Equal(t, []byte("7"), msg.Key)
	assert.JSONEq(t, `{"returned":3}`, string(msg.Value))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, typeHeader, msg.Headers[0].Key)
	assert.Equal(t, "search", string(msg.Headers[0].Value))
}

func TestToMessageRejectsUnmarshalable(t *testing.T) {
	_, err := toMessage(Event{Value: make(chan int)})
	assert.Error(t, err)
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Kind string `json:"kind"`
	}
	got, err := DecodeJSON[payload]([]byte(`{"kind":"class"}`))
	require.NoError(t, err)
	assert.Equal(t, "class", got.Kind)

	_, err = DecodeJSON[payload]([]byte(`{`))
	assert.Error(t, err)
}

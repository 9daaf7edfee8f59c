package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageTypeNamespaces(t *testing.T) {
	t.Run("pri types are trusted only", func(t *testing.T) {
		assert.True(t, MsgAccountsCreateSuri.IsTrusted())
		assert.False(t, MsgAccountsCreateSuri.IsPublic())
	})

	t.Run("pub types are public only", func(t *testing.T) {
		assert.True(t, MsgTabBytesSign.IsPublic())
		assert.False(t, MsgTabBytesSign.IsTrusted())
	})

	t.Run("arbitrary strings belong to neither", func(t *testing.T) {
		unknown := MessageType("made.up")
		assert.False(t, unknown.IsTrusted())
		assert.False(t, unknown.IsPublic())
	})
}

func TestSkipsAuthorization(t *testing.T) {
	assert.True(t, MsgTabAuthorize.SkipsAuthorization())
	assert.True(t, MsgTabPhishingRedirect.SkipsAuthorization())

	gated := []MessageType{
		MsgTabAccountsList,
		MsgTabAccountsSubscribe,
		MsgTabAccountsUnsubscribe,
		MsgTabBytesSign,
		MsgTabExtrinsicSign,
		MsgTabMetadataList,
		MsgTabMetadataProvide,
	}
	for _, mt := range gated {
		assert.False(t, mt.SkipsAuthorization(), string(mt))
	}
}

func TestResponseFrames(t *testing.T) {
	t.Run("success carries only id and response", func(t *testing.T) {
		frame := NewResponse("req-1", true)
		assert.False(t, frame.IsError())

		data, err := json.Marshal(frame)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"req-1","response":true}`, string(data))
	})

	t.Run("error carries message and code", func(t *testing.T) {
		frame := NewErrorResponse("req-1", "unauthorized", "Rejected")
		assert.True(t, frame.IsError())

		data, err := json.Marshal(frame)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"req-1","error":"Rejected","code":"unauthorized"}`, string(data))
	})

	t.Run("subscription push reuses the subscribe id", func(t *testing.T) {
		frame := NewSubscriptionPush("sub-1", []string{"a"})
		assert.False(t, frame.IsError())

		data, err := json.Marshal(frame)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"sub-1","subscription":["a"]}`, string(data))
	})
}

func TestRequestFrameDecoding(t *testing.T) {
	raw := `{"id":"7","type":"pub(bytes.sign)","payload":{"address":"0xabc","data":"0x01"}}`

	var frame RequestFrame
	require.NoError(t, json.Unmarshal([]byte(raw), &frame))
	assert.Equal(t, "7", frame.ID)
	assert.Equal(t, MsgTabBytesSign, frame.Type)
	assert.NotEmpty(t, frame.Payload)
}

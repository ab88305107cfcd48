package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palemoky/danmaku-sync/internal/danmaku"
	"github.com/palemoky/danmaku-sync/internal/protocol"
)

func TestEncodeDecode_SendDanmaku(t *testing.T) {
	t.Parallel()

	msg := MustNewMessage(protocol.MsgSendDanmaku, protocol.SendDanmakuPayload{
		VideoTime: 12.5,
		Text:      "前方高能",
		Color:     "red",
		ClientRef: "c-1",
	})

	data, err := Encode(msg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "\n")

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgSendDanmaku, decoded.Type)

	payload, err := ParsePayload[protocol.SendDanmakuPayload](decoded)
	require.NoError(t, err)
	assert.Equal(t, 12.5, payload.VideoTime)
	assert.Equal(t, "前方高能", payload.Text)
	assert.Equal(t, "c-1", payload.ClientRef)
}

func TestEncode_OmitsUnsetScore(t *testing.T) {
	t.Parallel()

	msg := MustNewMessage(protocol.MsgDanmaku, protocol.DanmakuPayload{
		Danmaku: danmaku.Message{ID: 3, VideoID: "v1", Text: "hi", VideoTime: 1},
	})
	data, err := Encode(msg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "score")
	assert.NotContains(t, string(data), "is_highlight")

	scored := danmaku.Message{ID: 3, Text: "hi"}.WithScore(0.5, false)
	data, err = Encode(MustNewMessage(protocol.MsgDanmaku, protocol.DanmakuPayload{Danmaku: scored}))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"score":0.5`)
	assert.Contains(t, string(data), `"is_highlight":false`)
}

func TestDecode_Invalid(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte("{not json"))
	assert.Error(t, err)
}

func TestDecodePooled_ResetOnReturn(t *testing.T) {
	t.Parallel()

	data, err := Encode(MustNewMessage(protocol.MsgPing, protocol.PingPayload{Timestamp: 7}))
	require.NoError(t, err)

	msg, err := DecodePooled(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgPing, msg.Type)
	assert.NotEmpty(t, msg.Payload)

	PutMessage(msg)
	assert.Empty(t, msg.Type)
	assert.Nil(t, msg.Payload)

	_, err = DecodePooled([]byte("{not json"))
	assert.Error(t, err)
}

func TestDecode_OwnedByCaller(t *testing.T) {
	t.Parallel()

	data, err := Encode(MustNewMessage(protocol.MsgPing, protocol.PingPayload{Timestamp: 7}))
	require.NoError(t, err)

	a, err := Decode(data)
	require.NoError(t, err)
	b, err := Decode(data)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, a, b)
}

func TestParsePayload_Empty(t *testing.T) {
	t.Parallel()

	payload, err := ParsePayload[protocol.HistoryPayload](&protocol.Message{Type: protocol.MsgHistory})
	require.NoError(t, err)
	assert.Zero(t, payload.From)
}

func TestNewErrorMessage(t *testing.T) {
	t.Parallel()

	msg := NewErrorMessage(protocol.ErrCodeValidation)
	assert.Equal(t, protocol.MsgError, msg.Type)

	payload, err := ParsePayload[protocol.ErrorPayload](msg)
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrCodeValidation, payload.Code)
	assert.Equal(t, protocol.ErrorMessages[protocol.ErrCodeValidation], payload.Message)

	withRef := NewErrorMessageWithRef(protocol.ErrCodeForbidden, "muted", "ref-9")
	p2, err := ParsePayload[protocol.ErrorPayload](withRef)
	require.NoError(t, err)
	assert.Equal(t, "ref-9", p2.ClientRef)
}

package rocketchat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ddp "github.com/zdypro888/rasta"
)

func TestParseStreamEvent(t *testing.T) {
	event := ddp.Event{
		Kind:       ddp.MsgChanged,
		Collection: StreamNotifyUser,
		ID:         "id",
		Fields:     json.RawMessage(`{"eventName":"u1/rooms-changed","args":["inserted",{"_id":"GENERAL","t":"c","name":"general"}]}`),
	}
	stream, err := ParseStreamEvent(event)
	require.NoError(t, err)
	assert.Equal(t, "u1/rooms-changed", stream.EventName)
	require.Len(t, stream.Args, 2)

	var action string
	require.NoError(t, stream.Payload(&action))
	assert.Equal(t, "inserted", action)

	var room Room
	require.NoError(t, json.Unmarshal(stream.Args[1], &room))
	assert.Equal(t, "general", room.Name)
}

func TestParseStreamEventErrors(t *testing.T) {
	tests := []ddp.Event{
		{Kind: ddp.MsgReady, Subs: []string{"a"}},
		{Kind: ddp.MsgChanged, Collection: StreamNotifyUser},
		{Kind: ddp.MsgChanged, Collection: StreamNotifyUser, Fields: json.RawMessage(`{"args":[]}`)},
		{Kind: ddp.MsgChanged, Collection: StreamNotifyUser, Fields: json.RawMessage(`[1]`)},
	}
	for _, event := range tests {
		_, err := ParseStreamEvent(event)
		assert.Error(t, err, event.String())
	}

	stream := &StreamEvent{EventName: "u1/message"}
	_, err := stream.Message()
	assert.Error(t, err)
}

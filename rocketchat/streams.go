package rocketchat

import (
	"encoding/json"
	"errors"
	"fmt"

	ddp "github.com/zdypro888/rasta"
)

// StreamEvent 是流推送的 fields：{"eventName": ..., "args": [payload, extra...]}
type StreamEvent struct {
	Stream    string            `json:"-"`
	EventName string            `json:"eventName"`
	Args      []json.RawMessage `json:"args"`
}

// ParseStreamEvent 从 changed 事件中解析流推送，其它事件返回错误
func ParseStreamEvent(event ddp.Event) (*StreamEvent, error) {
	if event.Kind != ddp.MsgChanged {
		return nil, fmt.Errorf("not a stream event: %s", event.Kind)
	}
	if len(event.Fields) == 0 {
		return nil, errors.New("stream event without fields")
	}
	stream := &StreamEvent{Stream: event.Collection}
	if err := json.Unmarshal(event.Fields, stream); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", event.Collection, err)
	}
	if stream.EventName == "" {
		return nil, fmt.Errorf("%s event without eventName", event.Collection)
	}
	return stream, nil
}

// Payload 将第一个参数解码到 v
func (e *StreamEvent) Payload(v any) error {
	if len(e.Args) == 0 {
		return fmt.Errorf("%s: empty args", e.EventName)
	}
	return json.Unmarshal(e.Args[0], v)
}

// Message 将第一个参数解码为消息，用于 <uid>/message 和 stream-room-messages
func (e *StreamEvent) Message() (*Message, error) {
	msg := &Message{}
	if err := e.Payload(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

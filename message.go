package ddp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// 消息类型，对应帧中的 msg 字段
const (
	MsgConnect     = "connect"
	MsgConnected   = "connected"
	MsgFailed      = "failed"
	MsgPing        = "ping"
	MsgPong        = "pong"
	MsgMethod      = "method"
	MsgResult      = "result"
	MsgUpdated     = "updated"
	MsgSub         = "sub"
	MsgUnsub       = "unsub"
	MsgNosub       = "nosub"
	MsgReady       = "ready"
	MsgAdded       = "added"
	MsgChanged     = "changed"
	MsgRemoved     = "removed"
	MsgAddedBefore = "addedBefore"
	MsgMovedBefore = "movedBefore"
	MsgError       = "error"

	// msgServerID 是服务端的版本确认帧，它没有 msg 字段，只有 server_id
	msgServerID = "server_id"
)

// ProtocolVersion 是握手时请求的协议版本
const ProtocolVersion = "1"

// SupportedVersions 是握手时声明支持的协议版本
var SupportedVersions = []string{"1", "pre2", "pre1"}

// Message 是所有 DDP 帧的公共接口。
// 每个具体类型对应一个 msg 标签。
type Message interface {
	Type() string
}

// ConnectMsg 由客户端发起握手
type ConnectMsg struct {
	Version string
	Support []string
}

// ServerID 是握手后服务端发送的版本确认
type ServerID struct {
	ID string
}

// Connected 表示握手成功
type Connected struct {
	Session string
}

// Failed 表示服务端拒绝了请求的版本
type Failed struct {
	Version string
}

// Ping 心跳请求，ID 可为空
type Ping struct {
	ID string
}

// Pong 心跳回应，回显 Ping 的 ID
type Pong struct {
	ID string
}

// Method 是一次方法调用
type Method struct {
	ID     string
	Method string
	Params []any
}

// Result 是方法调用的结果。
// Error 非空表示失败，此时 Result 无意义。
type Result struct {
	ID     string
	Result json.RawMessage
	Error  json.RawMessage
}

// Failed 判断结果是否为错误
func (r Result) Failed() bool {
	return len(r.Error) > 0
}

// Sub 订阅请求
type Sub struct {
	ID     string
	Name   string
	Params []any
}

// Unsub 取消订阅
type Unsub struct {
	ID string
}

// Event 是服务端主动推送的消息（added/changed/removed/ready/nosub/updated/error 等）。
// Kind 即 msg 字段。
type Event struct {
	Kind       string          `json:"msg"`
	Collection string          `json:"collection,omitempty"`
	ID         string          `json:"id,omitempty"`
	Fields     json.RawMessage `json:"fields,omitempty"`
	Cleared    []string        `json:"cleared,omitempty"`
	Subs       []string        `json:"subs,omitempty"`
	Methods    []string        `json:"methods,omitempty"`
	Before     *string         `json:"before,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

func (ConnectMsg) Type() string { return MsgConnect }
func (ServerID) Type() string { return msgServerID }
func (Connected) Type() string { return MsgConnected }
func (Failed) Type() string { return MsgFailed }
func (Ping) Type() string { return MsgPing }
func (Pong) Type() string { return MsgPong }
func (Method) Type() string { return MsgMethod }
func (Result) Type() string { return MsgResult }
func (Sub) Type() string { return MsgSub }
func (Unsub) Type() string { return MsgUnsub }
func (e Event) Type() string { return e.Kind }

func (e Event) String() string {
	if e.Collection != "" {
		return fmt.Sprintf("%s %s/%s %s", e.Kind, e.Collection, e.ID, e.Fields)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.ID)
}

// frame 是线上所有字段的并集，用于解码
type frame struct {
	Msg        string          `json:"msg,omitempty"`
	ServerID   *string         `json:"server_id,omitempty"`
	ID         string          `json:"id,omitempty"`
	Session    string          `json:"session,omitempty"`
	Version    string          `json:"version,omitempty"`
	Support    []string        `json:"support,omitempty"`
	Method     string          `json:"method,omitempty"`
	Name       string          `json:"name,omitempty"`
	Params     []any           `json:"params,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
	Collection string          `json:"collection,omitempty"`
	Fields     json.RawMessage `json:"fields,omitempty"`
	Cleared    []string        `json:"cleared,omitempty"`
	Subs       []string        `json:"subs,omitempty"`
	Methods    []string        `json:"methods,omitempty"`
	Before     *string         `json:"before,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

func nonNil(params []any) []any {
	if params == nil {
		return []any{}
	}
	return params
}

func (m ConnectMsg) MarshalJSON() ([]byte, error) {
	return json.Marshal(&frame{Msg: MsgConnect, Version: m.Version, Support: m.Support})
}

func (m ServerID) MarshalJSON() ([]byte, error) {
	return json.Marshal(&frame{ServerID: &m.ID})
}

func (m Connected) MarshalJSON() ([]byte, error) {
	return json.Marshal(&frame{Msg: MsgConnected, Session: m.Session})
}

func (m Failed) MarshalJSON() ([]byte, error) {
	return json.Marshal(&frame{Msg: MsgFailed, Version: m.Version})
}

func (m Ping) MarshalJSON() ([]byte, error) {
	return json.Marshal(&frame{Msg: MsgPing, ID: m.ID})
}

func (m Pong) MarshalJSON() ([]byte, error) {
	return json.Marshal(&frame{Msg: MsgPong, ID: m.ID})
}

func (m Method) MarshalJSON() ([]byte, error) {
	// params 必须是列表，不能省略
	return json.Marshal(&struct {
		Msg    string `json:"msg"`
		ID     string `json:"id"`
		Method string `json:"method"`
		Params []any  `json:"params"`
	}{MsgMethod, m.ID, m.Method, nonNil(m.Params)})
}

func (m Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(&frame{Msg: MsgResult, ID: m.ID, Result: m.Result, Error: m.Error})
}

func (m Sub) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		Msg    string `json:"msg"`
		ID     string `json:"id"`
		Name   string `json:"name"`
		Params []any  `json:"params"`
	}{MsgSub, m.ID, m.Name, nonNil(m.Params)})
}

func (m Unsub) MarshalJSON() ([]byte, error) {
	return json.Marshal(&frame{Msg: MsgUnsub, ID: m.ID})
}

// EncodeMessage 将消息编码为一个文本帧
func EncodeMessage(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("message is nil")
	}
	return json.Marshal(m)
}

// notNull 将字面量 null 视为字段不存在
func notNull(raw json.RawMessage) json.RawMessage {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return raw
}

// DecodeMessage 将一个文本帧解析为具体的消息类型。
// 缺少 msg 或 msg 未知时返回 ErrProtocolViolation。
func DecodeMessage(data []byte) (Message, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: malformed frame: %v", ErrProtocolViolation, err)
	}
	switch f.Msg {
	case "":
		if f.ServerID != nil {
			return ServerID{ID: *f.ServerID}, nil
		}
		return nil, fmt.Errorf("%w: frame without msg", ErrProtocolViolation)
	case MsgConnect:
		return ConnectMsg{Version: f.Version, Support: f.Support}, nil
	case MsgConnected:
		return Connected{Session: f.Session}, nil
	case MsgFailed:
		return Failed{Version: f.Version}, nil
	case MsgPing:
		return Ping{ID: f.ID}, nil
	case MsgPong:
		return Pong{ID: f.ID}, nil
	case MsgMethod:
		return Method{ID: f.ID, Method: f.Method, Params: nonNil(f.Params)}, nil
	case MsgResult:
		if f.ID == "" {
			return nil, fmt.Errorf("%w: result without id", ErrProtocolViolation)
		}
		return Result{ID: f.ID, Result: notNull(f.Result), Error: notNull(f.Error)}, nil
	case MsgSub:
		return Sub{ID: f.ID, Name: f.Name, Params: nonNil(f.Params)}, nil
	case MsgUnsub:
		return Unsub{ID: f.ID}, nil
	case MsgAdded, MsgChanged, MsgRemoved, MsgAddedBefore, MsgMovedBefore,
		MsgReady, MsgNosub, MsgUpdated, MsgError:
		return Event{
			Kind:       f.Msg,
			Collection: f.Collection,
			ID:         f.ID,
			Fields:     f.Fields,
			Cleared:    f.Cleared,
			Subs:       f.Subs,
			Methods:    f.Methods,
			Before:     f.Before,
			Error:      f.Error,
			Reason:     f.Reason,
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown msg %q", ErrProtocolViolation, f.Msg)
}

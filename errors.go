package ddp

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrHandshakeFailed 握手失败，不会产生 Client
	ErrHandshakeFailed = errors.New("ddp: handshake failed")
	// ErrConnectionClosed 连接已关闭，所有未完成的调用都会收到此错误
	ErrConnectionClosed = errors.New("ddp: connection closed")
	// ErrProtocolViolation 帧格式错误或 id 未知，连接继续运行
	ErrProtocolViolation = errors.New("ddp: protocol violation")
	// ErrExhausted 未完成的调用数达到上限
	ErrExhausted = errors.New("ddp: too many outstanding calls")
)

// RPCError 是服务端对某次调用返回的错误。
// Payload 保留原始内容，其余字段从 Meteor.Error 的常见字段解析。
type RPCError struct {
	Payload   json.RawMessage
	Code      string
	Reason    string
	Message   string
	ErrorType string
}

func newRPCError(payload json.RawMessage) *RPCError {
	rpcErr := &RPCError{Payload: payload}
	var body struct {
		Error     json.RawMessage `json:"error"`
		Reason    string          `json:"reason"`
		Message   string          `json:"message"`
		ErrorType string          `json:"errorType"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return rpcErr
	}
	rpcErr.Reason = body.Reason
	rpcErr.Message = body.Message
	rpcErr.ErrorType = body.ErrorType
	// error 可能是字符串也可能是数字
	var code string
	if err := json.Unmarshal(body.Error, &code); err == nil {
		rpcErr.Code = code
	} else if len(body.Error) > 0 {
		rpcErr.Code = string(body.Error)
	}
	return rpcErr
}

func (e *RPCError) Error() string {
	switch {
	case e.Message != "":
		return "ddp: rpc error: " + e.Message
	case e.Reason != "" && e.Code != "":
		return fmt.Sprintf("ddp: rpc error: %s [%s]", e.Reason, e.Code)
	case e.Reason != "":
		return "ddp: rpc error: " + e.Reason
	case e.Code != "":
		return "ddp: rpc error: " + e.Code
	}
	return "ddp: rpc error: " + string(e.Payload)
}

// Package ddptest 提供一个内存中的 DDP 服务端，用于测试客户端。
package ddptest

import (
	"container/list"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	ddp "github.com/zdypro888/rasta"
)

// MethodHandler 处理一次方法调用，返回 *Error 时作为错误结果发送
type MethodHandler func(session *Session, params []any) (any, error)

// Error 是服务端返回给客户端的 Meteor.Error
type Error struct {
	Code    any    `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	Type    string `json:"errorType,omitempty"`
}

func (e *Error) Error() string {
	return e.Reason
}

// Server 是一个 DDP 测试服务端，可以直接挂在 httptest.Server 上
type Server struct {
	locker   sync.Mutex
	sessions *list.List // 已完成握手的会话，按连接顺序
	handlers map[string]MethodHandler
	subs     []ddp.Sub
	upgrader websocket.Upgrader
	seq      atomic.Int64

	// Reject 非空时握手以 failed 结束
	Reject string
}

// NewServer 创建测试服务端
func NewServer() *Server {
	return &Server{
		sessions: list.New(),
		handlers: make(map[string]MethodHandler),
	}
}

// Handle 注册方法
func (server *Server) Handle(method string, handler MethodHandler) {
	server.locker.Lock()
	defer server.locker.Unlock()
	server.handlers[method] = handler
}

// ServeHTTP 升级为 websocket 并处理连接
func (server *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := server.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	server.OnConnection(conn)
}

// OnConnection 完成握手后循环处理客户端的帧，直到连接断开
func (server *Server) OnConnection(conn *websocket.Conn) {
	session := &Session{Id: server.seq.Add(1), Conn: conn}
	defer session.Close()

	// 设置读取超时，防止握手阶段卡住
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	msg, err := session.read()
	if err != nil {
		return
	}
	conn.SetReadDeadline(time.Time{})
	if _, ok := msg.(ddp.ConnectMsg); !ok {
		return
	}
	if err := session.Send(ddp.ServerID{ID: "0"}); err != nil {
		return
	}
	if server.Reject != "" {
		session.Send(ddp.Failed{Version: server.Reject})
		return
	}
	if err := session.Send(ddp.Connected{Session: "session-" + strconv.FormatInt(session.Id, 10)}); err != nil {
		return
	}

	server.locker.Lock()
	element := server.sessions.PushBack(session)
	server.locker.Unlock()
	defer func() {
		server.locker.Lock()
		server.sessions.Remove(element)
		server.locker.Unlock()
	}()

	for {
		msg, err := session.read()
		if errors.Is(err, ddp.ErrProtocolViolation) {
			continue
		}
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case ddp.Ping:
			session.Send(ddp.Pong{ID: m.ID})
		case ddp.Method:
			go server.call(session, m)
		case ddp.Sub:
			server.locker.Lock()
			server.subs = append(server.subs, m)
			server.locker.Unlock()
			session.Send(ddp.Event{Kind: ddp.MsgReady, Subs: []string{m.ID}})
		case ddp.Unsub:
			session.Send(ddp.Event{Kind: ddp.MsgNosub, ID: m.ID})
		}
	}
}

func (server *Server) call(session *Session, m ddp.Method) {
	server.locker.Lock()
	handler, ok := server.handlers[m.Method]
	server.locker.Unlock()
	if !ok {
		session.SendError(m.ID, &Error{Code: 404, Reason: "Method '" + m.Method + "' not found", Type: "Meteor.Error"})
		return
	}
	result, err := handler(session, m.Params)
	if err != nil {
		var serverErr *Error
		if !errors.As(err, &serverErr) {
			serverErr = &Error{Code: 500, Reason: err.Error()}
		}
		session.SendError(m.ID, serverErr)
		return
	}
	session.SendResult(m.ID, result)
}

// Subscriptions 返回收到的所有订阅请求
func (server *Server) Subscriptions() []ddp.Sub {
	server.locker.Lock()
	defer server.locker.Unlock()
	subs := make([]ddp.Sub, len(server.subs))
	copy(subs, server.subs)
	return subs
}

// Broadcast 向所有会话推送消息
func (server *Server) Broadcast(msg ddp.Message) {
	server.locker.Lock()
	sessions := make([]*Session, 0, server.sessions.Len())
	for e := server.sessions.Front(); e != nil; e = e.Next() {
		sessions = append(sessions, e.Value.(*Session))
	}
	server.locker.Unlock()
	for _, session := range sessions {
		session.Send(msg)
	}
}

// ConnectionCount 返回当前连接数
func (server *Server) ConnectionCount() int {
	server.locker.Lock()
	defer server.locker.Unlock()
	return server.sessions.Len()
}

// CloseAll 关闭所有连接
func (server *Server) CloseAll() {
	server.locker.Lock()
	defer server.locker.Unlock()
	for e := server.sessions.Front(); e != nil; e = e.Next() {
		e.Value.(*Session).Close()
	}
}

// Session 是服务端一侧的连接
type Session struct {
	Id   int64
	Conn *websocket.Conn

	writeLocker sync.Mutex
}

func (s *Session) read() (ddp.Message, error) {
	_, data, err := s.Conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return ddp.DecodeMessage(data)
}

// Send 发送一条消息，可并发调用
func (s *Session) Send(msg ddp.Message) error {
	data, err := ddp.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return s.SendRaw(data)
}

// SendRaw 发送原始帧
func (s *Session) SendRaw(data []byte) error {
	s.writeLocker.Lock()
	defer s.writeLocker.Unlock()
	return s.Conn.WriteMessage(websocket.TextMessage, data)
}

// SendResult 发送成功结果
func (s *Session) SendResult(id string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.Send(ddp.Result{ID: id, Result: data})
}

// SendError 发送错误结果
func (s *Session) SendError(id string, serverErr *Error) error {
	data, err := json.Marshal(serverErr)
	if err != nil {
		return err
	}
	return s.Send(ddp.Result{ID: id, Error: data})
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

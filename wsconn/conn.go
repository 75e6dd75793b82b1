// Package wsconn 提供基于 websocket 的 ddp.Conn 实现。
package wsconn

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var idCSeq atomic.Int64

// Conn 是一条 websocket 连接，每个文本消息对应一个帧
type Conn struct {
	Id   int64
	Conn *websocket.Conn

	writeLocker sync.Mutex
}

// Option 配置 Dial
type Option func(*websocket.Dialer, http.Header)

// WithTLSConfig 设置 TLS 配置
func WithTLSConfig(config *tls.Config) Option {
	return func(dialer *websocket.Dialer, _ http.Header) {
		dialer.TLSClientConfig = config
	}
}

// WithProxy 通过代理拨号
func WithProxy(proxy *Proxy) Option {
	return func(dialer *websocket.Dialer, _ http.Header) {
		if proxy != nil {
			dialer.NetDialContext = proxy.DialContext
		}
	}
}

// WithHeader 添加握手请求头
func WithHeader(key, value string) Option {
	return func(_ *websocket.Dialer, header http.Header) {
		header.Add(key, value)
	}
}

// WithHandshakeTimeout 设置 websocket 握手超时
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(dialer *websocket.Dialer, _ http.Header) {
		dialer.HandshakeTimeout = timeout
	}
}

// Dial 连接到 url（ws:// 或 wss://）。
// 如果 ctx 实现了 ProxyContext，使用其中的代理拨号。
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 30 * time.Second,
	}
	header := make(http.Header)
	if pctx, ok := ctx.(ProxyContext); ok {
		if proxy := pctx.WithProxy(); proxy != nil {
			dialer.NetDialContext = proxy.DialContext
		}
	}
	for _, opt := range opts {
		opt(dialer, header)
	}
	if dialer.NetDialContext != nil {
		// 已经由代理拨号，不再使用环境变量中的代理
		dialer.Proxy = nil
	}
	wsConn, response, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if response != nil {
			response.Body.Close()
		}
		return nil, err
	}
	return New(wsConn), nil
}

// New 包装一条已经建立的 websocket 连接
func New(wsConn *websocket.Conn) *Conn {
	return &Conn{Id: idCSeq.Add(1), Conn: wsConn}
}

// Read 读取下一个消息。对端正常关闭时返回 io.EOF。
// ctx 的截止时间和取消都会中断阻塞的读取。
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	deadline, _ := ctx.Deadline()
	if err := c.Conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		c.Conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, message, err := c.Conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	return message, nil
}

// Write 写入一个文本消息，可并发调用
func (c *Conn) Write(ctx context.Context, frame []byte) error {
	c.writeLocker.Lock()
	defer c.writeLocker.Unlock()
	deadline, _ := ctx.Deadline()
	if err := c.Conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.Conn.WriteMessage(websocket.TextMessage, frame)
}

// Close 发送关闭帧后关闭底层连接
func (c *Conn) Close(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(time.Second)
	}
	// 对端可能已经断开，关闭帧发送失败不影响关闭
	c.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	if err := c.Conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (c *Conn) LocalAddr() net.Addr {
	return c.Conn.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.Conn.RemoteAddr()
}

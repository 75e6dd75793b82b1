package rocketchat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	ddp "github.com/zdypro888/rasta"
	"github.com/zdypro888/rasta/wsconn"
)

// 推送流名称
const (
	StreamNotifyUser   = "stream-notify-user"
	StreamNotifyLogged = "stream-notify-logged"
	StreamRoomMessages = "stream-room-messages"
)

// 用户个人流的事件
var userEvents = []string{"message", "rooms-changed", "subscriptions-changed"}

type dialOptions struct {
	url     string
	logger  *slog.Logger
	ddpOpts []ddp.Option
	wsOpts  []wsconn.Option
}

// DialOption 配置 Dial
type DialOption func(*dialOptions)

// WithURL 覆盖默认的 wss://host/websocket
func WithURL(url string) DialOption {
	return func(o *dialOptions) { o.url = url }
}

// WithLogger 设置日志
func WithLogger(logger *slog.Logger) DialOption {
	return func(o *dialOptions) { o.logger = logger }
}

// WithDDPOptions 传递 DDP 客户端选项
func WithDDPOptions(opts ...ddp.Option) DialOption {
	return func(o *dialOptions) { o.ddpOpts = append(o.ddpOpts, opts...) }
}

// WithConnOptions 传递 websocket 连接选项
func WithConnOptions(opts ...wsconn.Option) DialOption {
	return func(o *dialOptions) { o.wsOpts = append(o.wsOpts, opts...) }
}

// Client 是 Rocket.Chat 的实时 API 客户端
type Client struct {
	ddp    *ddp.Client
	logger *slog.Logger

	locker  sync.Mutex
	entropy *ulid.MonotonicEntropy
	userID  string
}

// Dial 连接 host 并完成 DDP 握手。ctx 控制连接的生命周期。
func Dial(ctx context.Context, host string, opts ...DialOption) (*Client, error) {
	o := &dialOptions{url: "wss://" + host + "/websocket", logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(o)
	}
	conn, err := wsconn.Dial(ctx, o.url, o.wsOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", o.url, err)
	}
	ddpOpts := append([]ddp.Option{ddp.WithLogger(o.logger)}, o.ddpOpts...)
	client, err := ddp.Connect(ctx, conn, ddpOpts...)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Client{
		ddp:     client,
		logger:  o.logger.With("host", host),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(now.UnixNano())), 0),
	}, nil
}

// DDP 返回底层的 DDP 客户端
func (c *Client) DDP() *ddp.Client {
	return c.ddp
}

// UserID 返回登录用户的 id，未登录时为空
func (c *Client) UserID() string {
	c.locker.Lock()
	defer c.locker.Unlock()
	return c.userID
}

// newID 生成订阅 id
func (c *Client) newID() string {
	c.locker.Lock()
	defer c.locker.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), c.entropy).String()
}

// Login 使用凭据登录。服务端拒绝时返回包装了 *ddp.RPCError 的 ErrLoginFailed。
func (c *Client) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	result := &LoginResult{}
	if err := c.ddp.CallResult(ctx, result, "login", creds.LoginParams()); err != nil {
		var rpcErr *ddp.RPCError
		if errors.As(err, &rpcErr) {
			return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
		}
		return nil, err
	}
	c.locker.Lock()
	c.userID = result.ID
	c.locker.Unlock()
	c.logger.Info("logged in", "user", result.ID)
	return result, nil
}

// Rooms 返回登录用户可见的房间
func (c *Client) Rooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	if err := c.ddp.CallResult(ctx, &rooms, "rooms/get"); err != nil {
		return nil, err
	}
	return rooms, nil
}

// subscribe 订阅一个流事件，返回订阅 id
func (c *Client) subscribe(ctx context.Context, stream, event string) (string, error) {
	id := c.newID()
	if err := c.ddp.Subscribe(ctx, id, stream, event, false); err != nil {
		return "", fmt.Errorf("subscribe %s %s: %w", stream, event, err)
	}
	c.logger.Debug("subscribed", "stream", stream, "event", event, "id", id)
	return id, nil
}

// SubscribeUser 订阅用户的个人流：消息、房间变化、订阅变化。返回订阅 id。
func (c *Client) SubscribeUser(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, errors.New("subscribe user: empty user id")
	}
	ids := make([]string, 0, len(userEvents))
	for _, event := range userEvents {
		id, err := c.subscribe(ctx, StreamNotifyUser, userID+"/"+event)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SubscribeRoomMessages 订阅房间的消息流
func (c *Client) SubscribeRoomMessages(ctx context.Context, roomID string) (string, error) {
	return c.subscribe(ctx, StreamRoomMessages, roomID)
}

// SubscribeLogged 订阅所有登录用户共享的流，例如 user-status
func (c *Client) SubscribeLogged(ctx context.Context, event string) (string, error) {
	return c.subscribe(ctx, StreamNotifyLogged, event)
}

// Unsubscribe 取消订阅
func (c *Client) Unsubscribe(ctx context.Context, id string) error {
	return c.ddp.Unsubscribe(ctx, id)
}

// Events 返回推送事件通道，连接结束时关闭
func (c *Client) Events() <-chan ddp.Event {
	return c.ddp.Events()
}

// Done 在连接结束时关闭
func (c *Client) Done() <-chan struct{} {
	return c.ddp.Done()
}

// Err 返回连接结束的原因
func (c *Client) Err() error {
	return c.ddp.Err()
}

// Close 关闭连接
func (c *Client) Close() error {
	return c.ddp.Close()
}

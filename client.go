package ddp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// State 是 Client 的生命周期状态
type State int32

const (
	StateHandshaking State = iota
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Client 是一个 DDP 连接上的多路复用客户端。
//
// 特性：
//   - 方法调用通过整数 id 匹配结果，结果顺序与调用顺序无关
//   - 订阅推送按到达顺序进入有界事件队列，队列满时处理协程等待而不丢弃
//   - 服务端的 ping 由处理协程立即回应
//   - 线程安全，*Client 可在多个协程中并发使用
//
// 架构：
//   - receiveGo: 接收协程，唯一调用 Conn.Read 的地方
//   - asyncGo: 处理协程，唯一写入 Conn、唯一访问槽位表的地方
//
// 使用示例：
//
//	client, err := Connect(ctx, conn)
//	defer client.Close()
//
//	result, err := client.Call(ctx, "login", params)
//	err = client.Subscribe(ctx, "sub-1", "stream-notify-user", "uid/message", false)
//	for event := range client.Events() { ... }
type Client struct {
	locker    sync.Mutex
	waiter    sync.WaitGroup
	cancel    context.CancelFunc
	closeOnce sync.Once

	conn      Conn
	logger    *slog.Logger
	opts      *options
	session   string
	state     atomic.Int32
	lastError error

	heartCount atomic.Uint64
	heartTime  time.Time // 下次心跳时间

	sendchan   chan *sendEvent
	cancelchan chan *pendingCall // 调用方放弃的调用
	events     chan Event
	stopChan   chan struct{} // 关闭后表示连接已结束
}

// receiveEvent 封装从连接接收到的帧
type receiveEvent struct {
	Data  []byte
	Error error
}

// sendEvent 封装发送请求。
// Call 非空时需要分配 id 并等待结果，否则写入后通过 Done 返回。
type sendEvent struct {
	Message Message
	Call    *pendingCall
	Done    chan error
}

// Connect 在 conn 上完成握手并启动工作协程。
// ctx 控制 Client 的生命周期，取消 ctx 会关闭连接。
// 握手失败时关闭 conn，返回 ErrHandshakeFailed。
func Connect(ctx context.Context, conn Conn, opts ...Option) (*Client, error) {
	o := newOptions(opts)
	client := &Client{
		conn:   conn,
		opts:   o,
		logger: o.logger,
	}
	client.state.Store(int32(StateHandshaking))

	session, err := handshake(ctx, conn, o.handshakeTimeout, o.logger)
	if err != nil {
		client.state.Store(int32(StateClosed))
		conn.Close(context.Background())
		return nil, err
	}
	client.session = session
	client.logger = o.logger.With("session", session)
	client.onConnected(ctx)
	client.logger.Info("ddp connected")
	return client, nil
}

// onConnected 初始化通道并启动工作协程
func (client *Client) onConnected(ctx context.Context) {
	client.sendchan = make(chan *sendEvent, 16)
	client.cancelchan = make(chan *pendingCall, 16)
	client.events = make(chan Event, client.opts.eventBuffer)
	client.stopChan = make(chan struct{})
	recvchan := make(chan *receiveEvent, 16)

	cctx, cancel := context.WithCancel(ctx)
	client.cancel = cancel
	client.heartTime = time.Now().Add(client.opts.heartbeat)
	client.state.Store(int32(StateRunning))

	client.waiter.Add(2)
	go client.asyncGo(cctx, client.conn, recvchan)
	go client.receiveGo(cctx, client.conn, recvchan)
}

// Session 返回握手得到的会话 id
func (client *Client) Session() string {
	return client.session
}

// State 返回当前状态
func (client *Client) State() State {
	return State(client.state.Load())
}

// Events 返回推送事件队列。连接结束后队列被关闭。
func (client *Client) Events() <-chan Event {
	return client.events
}

// Done 在连接结束后关闭
func (client *Client) Done() <-chan struct{} {
	return client.stopChan
}

// Err 返回导致连接结束的错误。
// 连接仍在运行或由 Close 主动关闭时返回 nil。
func (client *Client) Err() error {
	client.locker.Lock()
	defer client.locker.Unlock()
	return client.lastError
}

// Close 关闭连接并等待所有协程退出。
// 所有未完成的调用都会收到 ErrConnectionClosed。
func (client *Client) Close() error {
	client.closeOnce.Do(client.cancel)
	client.waiter.Wait()
	return client.Err()
}

// receiveGo 是接收协程，负责从连接读取帧。
// 读取到的帧发送到 recvchan 供 asyncGo 处理，读取出错后退出。
func (client *Client) receiveGo(ctx context.Context, conn Conn, recvchan chan<- *receiveEvent) {
	defer client.waiter.Done()
	defer close(recvchan)
	for {
		data, err := conn.Read(ctx)
		select {
		case recvchan <- &receiveEvent{Data: data, Error: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// asyncGo 是处理协程，负责：
// 1. 处理发送队列，为方法调用分配 id 并登记到槽位表
// 2. 按到达顺序分发接收到的帧：结果、推送事件、心跳
// 3. 连接结束时向所有等待中的调用广播 ErrConnectionClosed
func (client *Client) asyncGo(ctx context.Context, conn Conn, recvchan <-chan *receiveEvent) {
	defer client.waiter.Done()
	table := newSlots(client.opts.maxPending)

	// 收到帧只推后 heartTime，定时器触发时再决定是否 ping
	var heartTimer *time.Timer
	var heartchan <-chan time.Time
	if client.opts.heartbeat > 0 {
		heartTimer = time.NewTimer(time.Until(client.heartTime))
		defer heartTimer.Stop()
		heartchan = heartTimer.C
	}

	var cause error
	for cause == nil {
		select {
		case <-ctx.Done():
			cause = ctx.Err()

		case recv, ok := <-recvchan:
			if !ok {
				cause = io.EOF
			} else if recv.Error != nil {
				cause = recv.Error
			} else {
				client.heartTime = time.Now().Add(client.opts.heartbeat)
				cause = client.dispatch(ctx, conn, table, recv.Data)
			}

		case send := <-client.sendchan:
			cause = client.write(ctx, conn, table, send)

		case call := <-client.cancelchan:
			if table.abandon(call) {
				client.logger.Debug("ddp call abandoned", "id", call.slot)
			}

		case <-heartchan:
			if wait := time.Until(client.heartTime); wait > 0 {
				heartTimer.Reset(wait)
				continue
			}
			ping := Ping{ID: "hb-" + strconv.FormatUint(client.heartCount.Add(1), 10)}
			client.heartTime = time.Now().Add(client.opts.heartbeat)
			heartTimer.Reset(client.opts.heartbeat)
			cause = client.writeMessage(ctx, conn, ping)
		}
	}

	// 退出清理
	client.state.Store(int32(StateClosed))
	client.cancel()
	conn.Close(context.Background())

	closed := ErrConnectionClosed
	if !errors.Is(cause, context.Canceled) {
		client.locker.Lock()
		client.lastError = cause
		client.locker.Unlock()
		closed = fmt.Errorf("%w: %v", ErrConnectionClosed, cause)
		client.logger.Info("ddp connection ended", "error", cause)
	} else {
		client.logger.Info("ddp connection closed")
	}
	if n := table.drainAll(closed); n > 0 {
		client.logger.Debug("ddp pending calls drained", "count", n)
	}
	close(client.events)
	close(client.stopChan)
}

// dispatch 处理一个接收到的帧。
// 只有写入失败或被取消时返回错误，协议错误只记录日志。
func (client *Client) dispatch(ctx context.Context, conn Conn, table *slots, data []byte) error {
	client.logger.Debug("ddp frame received", "frame", string(data))
	msg, err := DecodeMessage(data)
	if err != nil {
		client.logger.Warn("ddp frame discarded", "error", err)
		return nil
	}
	switch m := msg.(type) {
	case Ping:
		// 先回应心跳，再处理后续的帧
		return client.writeMessage(ctx, conn, Pong{ID: m.ID})

	case Pong:
		client.logger.Debug("ddp pong", "id", m.ID)

	case Result:
		client.complete(table, m)

	case Event:
		select {
		case client.events <- m:
		case <-ctx.Done():
			return ctx.Err()
		}

	default:
		client.logger.Warn("ddp unexpected message", "msg", msg.Type())
	}
	return nil
}

func (client *Client) complete(table *slots, m Result) {
	id, err := strconv.Atoi(m.ID)
	if err != nil {
		client.logger.Warn("ddp result discarded", "error", ErrProtocolViolation, "id", m.ID)
		return
	}
	call, ok := table.complete(id)
	if !ok {
		client.logger.Warn("ddp result for unknown id", "error", ErrProtocolViolation, "id", id)
		return
	}
	if call == nil {
		client.logger.Debug("ddp late result for abandoned call", "id", id)
		return
	}
	if m.Failed() {
		call.resolve(&outcome{Error: newRPCError(m.Error)})
	} else {
		call.resolve(&outcome{Result: m.Result})
	}
}

// write 处理一个发送请求。
// 编码错误只影响该请求，写入错误会结束连接。
func (client *Client) write(ctx context.Context, conn Conn, table *slots, send *sendEvent) error {
	call := send.Call
	if call == nil {
		data, err := EncodeMessage(send.Message)
		if err != nil {
			send.Done <- fmt.Errorf("ddp: encode %s: %w", send.Message.Type(), err)
			return nil
		}
		client.logger.Debug("ddp frame sent", "frame", string(data))
		err = conn.Write(ctx, data)
		send.Done <- err
		return err
	}

	if call.abandoned.Load() {
		// 调用方已放弃，不再写入
		call.resolve(&outcome{Error: context.Canceled})
		return nil
	}
	id, err := table.allocate(call)
	if err != nil {
		call.resolve(&outcome{Error: err})
		return nil
	}
	method := send.Message.(Method)
	method.ID = strconv.Itoa(id)
	data, err := EncodeMessage(method)
	if err != nil {
		table.complete(id)
		call.resolve(&outcome{Error: fmt.Errorf("ddp: encode %s: %w", method.Method, err)})
		return nil
	}
	client.logger.Debug("ddp frame sent", "frame", string(data))
	// 写入失败时，调用仍在槽位表中，由退出清理统一通知
	return conn.Write(ctx, data)
}

func (client *Client) writeMessage(ctx context.Context, conn Conn, msg Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	client.logger.Debug("ddp frame sent", "frame", string(data))
	return conn.Write(ctx, data)
}

// closedError 返回连接结束后给调用方的错误
func (client *Client) closedError() error {
	if err := client.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return ErrConnectionClosed
}

// enqueue 将请求放入发送队列
func (client *Client) enqueue(ctx context.Context, send *sendEvent) error {
	if client.State() != StateRunning {
		return client.closedError()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case client.sendchan <- send:
		return nil
	case <-client.stopChan:
		return client.closedError()
	}
}

// Call 调用服务端方法并等待结果。
// 服务端返回错误时返回 *RPCError；连接结束时返回 ErrConnectionClosed。
// ctx 结束时立即返回，对应的 id 在结果到达或连接结束后才会被复用。
// 线程安全，可并发调用。
func (client *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	call := newPendingCall()
	send := &sendEvent{Message: Method{Method: method, Params: params}, Call: call}
	if err := client.enqueue(ctx, send); err != nil {
		return nil, err
	}

	select {
	case resp := <-call.response:
		return resp.Result, resp.Error
	case <-ctx.Done():
		select {
		case resp := <-call.response:
			return resp.Result, resp.Error
		default:
		}
		call.abandoned.Store(true)
		select {
		case client.cancelchan <- call:
		default:
			// 队列已满时槽位保留到结果到达或连接结束
		}
		return nil, ctx.Err()
	case <-client.stopChan:
		select {
		case resp := <-call.response:
			return resp.Result, resp.Error
		default:
			return nil, client.closedError()
		}
	}
}

// CallResult 调用服务端方法并将结果解码到 reply
func (client *Client) CallResult(ctx context.Context, reply any, method string, params ...any) error {
	result, err := client.Call(ctx, method, params...)
	if err != nil {
		return err
	}
	if reply == nil || len(result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result, reply); err != nil {
		return fmt.Errorf("ddp: decode %s result: %w", method, err)
	}
	return nil
}

// send 写入一个不需要等待结果的消息，阻塞直到写入完成
func (client *Client) send(ctx context.Context, msg Message) error {
	send := &sendEvent{Message: msg, Done: make(chan error, 1)}
	if err := client.enqueue(ctx, send); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-send.Done:
		return err
	case <-client.stopChan:
		select {
		case err := <-send.Done:
			return err
		default:
			return client.closedError()
		}
	}
}

// Subscribe 发送订阅请求，不等待 ready。
// 推送的事件从 Events 中读取。相同 id 的重复订阅不会去重。
func (client *Client) Subscribe(ctx context.Context, id, name string, params ...any) error {
	return client.send(ctx, Sub{ID: id, Name: name, Params: params})
}

// Unsubscribe 取消订阅，不等待 nosub
func (client *Client) Unsubscribe(ctx context.Context, id string) error {
	return client.send(ctx, Unsub{ID: id})
}

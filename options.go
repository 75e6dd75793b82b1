package ddp

import (
	"io"
	"log/slog"
	"time"
)

const (
	DefaultMaxPending       = 1024
	DefaultEventBuffer      = 16
	DefaultHandshakeTimeout = 10 * time.Second
)

// Option 配置 Client
type Option func(*options)

type options struct {
	logger           *slog.Logger
	maxPending       int
	eventBuffer      int
	handshakeTimeout time.Duration
	heartbeat        time.Duration
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxPending:       DefaultMaxPending,
		eventBuffer:      DefaultEventBuffer,
		handshakeTimeout: DefaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger 设置日志
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxPending 设置同时等待结果的调用上限
func WithMaxPending(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPending = n
		}
	}
}

// WithEventBuffer 设置推送事件队列的容量，队列满时处理协程会等待
func WithEventBuffer(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.eventBuffer = n
		}
	}
}

// WithHandshakeTimeout 设置握手超时
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

// WithHeartbeat 在连接空闲 d 之后主动发送 ping，0 表示关闭
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) { o.heartbeat = d }
}

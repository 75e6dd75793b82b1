// Package ddp 实现 Meteor DDP 协议的客户端核心。
// 在一条持久的双工文本连接上复用方法调用、订阅推送和心跳。
package ddp

import (
	"context"
)

// Conn 定义了 DDP 客户端所需的底层传输。
// Client 只在单个读协程中调用 Read，只在单个处理协程中调用 Write。
type Conn interface {
	// Close 关闭连接并释放资源。
	// 调用后，Read 应当立即返回错误。
	Close(ctx context.Context) error

	// Read 从连接中读取一个完整的文本帧。
	// 阻塞直到有数据可读或连接关闭，流结束时返回 io.EOF。
	Read(ctx context.Context) ([]byte, error)

	// Write 向连接写入一个完整的文本帧。
	Write(ctx context.Context, frame []byte) error
}

package ddp

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// handshake 发送 connect，然后严格按顺序读取两个确认帧：
// 先是 server_id 版本确认，再是 connected。
// 任何乱序帧或提前结束都返回 ErrHandshakeFailed。
func handshake(ctx context.Context, conn Conn, timeout time.Duration, logger *slog.Logger) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := EncodeMessage(ConnectMsg{Version: ProtocolVersion, Support: SupportedVersions})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if err := conn.Write(ctx, data); err != nil {
		return "", fmt.Errorf("%w: send connect: %v", ErrHandshakeFailed, err)
	}

	msg, err := readHandshake(ctx, conn)
	if err != nil {
		return "", err
	}
	serverID, ok := msg.(ServerID)
	if !ok {
		return "", unexpectedHandshake(msg, msgServerID)
	}
	logger.Debug("ddp version acknowledged", "server_id", serverID.ID)

	if msg, err = readHandshake(ctx, conn); err != nil {
		return "", err
	}
	switch m := msg.(type) {
	case Connected:
		return m.Session, nil
	case Failed:
		return "", fmt.Errorf("%w: server requires version %q", ErrHandshakeFailed, m.Version)
	}
	return "", unexpectedHandshake(msg, MsgConnected)
}

func readHandshake(ctx context.Context, conn Conn) (Message, error) {
	data, err := conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	msg, err := DecodeMessage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	return msg, nil
}

func unexpectedHandshake(msg Message, want string) error {
	if failed, ok := msg.(Failed); ok {
		return fmt.Errorf("%w: server requires version %q", ErrHandshakeFailed, failed.Version)
	}
	return fmt.Errorf("%w: got %q, want %q", ErrHandshakeFailed, msg.Type(), want)
}

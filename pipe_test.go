package ddp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errPipeClosed = errors.New("pipe closed")

// pipeConn 是内存中的 Conn，in 是发给客户端的帧，out 是客户端写出的帧
type pipeConn struct {
	in      chan []byte
	out     chan []byte
	closed  chan struct{}
	once    sync.Once
	endOnce sync.Once
}

func newPipe() *pipeConn {
	return &pipeConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (p *pipeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-p.in:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-p.closed:
		return nil, errPipeClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeConn) Write(ctx context.Context, frame []byte) error {
	select {
	case <-p.closed:
		return errPipeClosed
	default:
	}
	select {
	case p.out <- frame:
		return nil
	case <-p.closed:
		return errPipeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Close(ctx context.Context) error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeConn) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// fakeServer 驱动 pipeConn 的另一端
type fakeServer struct {
	t    *testing.T
	pipe *pipeConn
}

func (s *fakeServer) sendRaw(frame string) {
	s.pipe.in <- []byte(frame)
}

func (s *fakeServer) send(msg Message) {
	data, err := EncodeMessage(msg)
	require.NoError(s.t, err)
	s.pipe.in <- data
}

// end 模拟传输层流结束
func (s *fakeServer) end() {
	s.pipe.endOnce.Do(func() { close(s.pipe.in) })
}

func (s *fakeServer) recvRaw() string {
	s.t.Helper()
	select {
	case data := <-s.pipe.out:
		return string(data)
	case <-time.After(2 * time.Second):
		s.t.Fatal("timeout waiting for client frame")
	}
	return ""
}

func (s *fakeServer) recv() Message {
	s.t.Helper()
	msg, err := DecodeMessage([]byte(s.recvRaw()))
	require.NoError(s.t, err)
	return msg
}

func (s *fakeServer) recvMethod() Method {
	s.t.Helper()
	msg := s.recv()
	method, ok := msg.(Method)
	require.True(s.t, ok, "want method, got %T", msg)
	return method
}

func (s *fakeServer) reply(id string, result any) {
	data, err := json.Marshal(result)
	require.NoError(s.t, err)
	s.send(Result{ID: id, Result: data})
}

// sync 发送 ping 并等待 pong，保证之前的帧都已被处理
func (s *fakeServer) sync() {
	s.t.Helper()
	s.send(Ping{ID: "sync"})
	for {
		if pong, ok := s.recv().(Pong); ok && pong.ID == "sync" {
			return
		}
	}
}

func newFakeServer(t *testing.T) *fakeServer {
	return &fakeServer{t: t, pipe: newPipe()}
}

// acceptHandshake 完成服务端一侧的握手。
// 可能在其它协程中运行，所以失败通过返回值报告。
func (s *fakeServer) acceptHandshake(session string) error {
	select {
	case data := <-s.pipe.out:
		msg, err := DecodeMessage(data)
		if err != nil {
			return err
		}
		if msg.Type() != MsgConnect {
			return fmt.Errorf("want connect, got %s", msg.Type())
		}
	case <-time.After(2 * time.Second):
		return errors.New("timeout waiting for connect")
	}
	for _, msg := range []Message{ServerID{ID: "0"}, Connected{Session: session}} {
		data, err := EncodeMessage(msg)
		if err != nil {
			return err
		}
		s.pipe.in <- data
	}
	return nil
}

func connectPipe(t *testing.T, opts ...Option) (*Client, *fakeServer) {
	t.Helper()
	server := newFakeServer(t)
	accepted := make(chan error, 1)
	go func() { accepted <- server.acceptHandshake("session-1") }()
	client, err := Connect(context.Background(), server.pipe, opts...)
	require.NoError(t, <-accepted)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, server
}

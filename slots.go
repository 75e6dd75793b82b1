package ddp

import (
	"encoding/json"
	"sync/atomic"
)

// outcome 封装一次调用的结果或错误
type outcome struct {
	Result json.RawMessage
	Error  error
}

// pendingCall 是一个等待结果的调用。
// response 容量为 1，处理协程投递时永不阻塞。
type pendingCall struct {
	slot      int
	response  chan *outcome
	abandoned atomic.Bool // 调用方已放弃等待
}

func newPendingCall() *pendingCall {
	return &pendingCall{slot: -1, response: make(chan *outcome, 1)}
}

func (call *pendingCall) resolve(result *outcome) {
	call.response <- result
	close(call.response)
}

type slotState uint8

const (
	slotFree slotState = iota
	slotLive
	slotAbandoned // 调用方已放弃，但结果尚未到达，id 不可复用
)

type slot struct {
	state slotState
	call  *pendingCall
}

// slots 是一个稠密的可复用槽位表，下标即关联 id。
// 只由处理协程访问，不需要加锁。
type slots struct {
	entries []slot
	free    []int // 空闲下标栈
	max     int
	used    int
}

func newSlots(max int) *slots {
	return &slots{max: max}
}

// allocate 为 call 分配一个 id，O(1)
func (s *slots) allocate(call *pendingCall) (int, error) {
	var id int
	if n := len(s.free); n > 0 {
		id = s.free[n-1]
		s.free = s.free[:n-1]
	} else if len(s.entries) < s.max {
		id = len(s.entries)
		s.entries = append(s.entries, slot{})
	} else {
		return -1, ErrExhausted
	}
	s.entries[id] = slot{state: slotLive, call: call}
	s.used++
	call.slot = id
	return id, nil
}

func (s *slots) release(id int) {
	s.entries[id] = slot{}
	s.free = append(s.free, id)
	s.used--
}

// complete 取出 id 对应的调用并释放槽位。
// id 空闲或越界时 ok 为 false；槽位已被放弃时 call 为 nil，ok 为 true。
func (s *slots) complete(id int) (call *pendingCall, ok bool) {
	if id < 0 || id >= len(s.entries) {
		return nil, false
	}
	entry := s.entries[id]
	switch entry.state {
	case slotLive:
		s.release(id)
		return entry.call, true
	case slotAbandoned:
		s.release(id)
		return nil, true
	}
	return nil, false
}

// abandon 丢弃调用方已放弃的调用，id 保留到迟到的结果到达为止
func (s *slots) abandon(call *pendingCall) bool {
	id := call.slot
	if id < 0 || id >= len(s.entries) {
		return false
	}
	entry := &s.entries[id]
	if entry.state != slotLive || entry.call != call {
		return false
	}
	entry.state = slotAbandoned
	entry.call = nil
	return true
}

// drainAll 向所有仍在等待的调用投递 err，每个调用恰好一次，并清空整个表
func (s *slots) drainAll(err error) int {
	count := 0
	for id := range s.entries {
		if s.entries[id].state == slotLive {
			s.entries[id].call.resolve(&outcome{Error: err})
			count++
		}
	}
	s.entries = nil
	s.free = nil
	s.used = 0
	return count
}

// len 返回被占用的槽位数（包括已放弃的）
func (s *slots) len() int {
	return s.used
}

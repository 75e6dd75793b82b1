package rocketchat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp 兼容字符串时间和 {"$date": 毫秒}
type Timestamp struct {
	time.Time
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var date struct {
		Date *int64 `json:"$date"`
	}
	if len(data) > 0 && data[0] == '{' {
		if err := json.Unmarshal(data, &date); err != nil {
			return err
		}
		if date.Date == nil {
			return fmt.Errorf("timestamp without $date: %s", data)
		}
		ts.Time = time.UnixMilli(*date.Date).UTC()
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		return err
	}
	ts.Time = t
	return nil
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]int64{"$date": ts.UnixMilli()})
}

// User 是完整的用户信息
type User struct {
	ID        string    `json:"_id"`
	CreatedAt Timestamp `json:"createdAt"`
	Roles     []string  `json:"roles"`
	Type      string    `json:"type"`
	Active    bool      `json:"active"`
	Username  string    `json:"username,omitempty"`
	Name      string    `json:"name,omitempty"`
}

// ShortUser 是消息和成员列表中的用户摘要
type ShortUser struct {
	ID       string `json:"_id"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Message 是一条聊天消息
type Message struct {
	ID        string    `json:"_id"`
	RoomID    string    `json:"rid"`
	Msg       string    `json:"msg"`
	Ts        Timestamp `json:"ts"`
	User      ShortUser `json:"u"`
	UpdatedAt Timestamp `json:"_updatedAt"`
}

// RoomType 是房间的类型标签，对应 t 字段
type RoomType string

const (
	RoomDirect   RoomType = "d"
	RoomChat     RoomType = "c"
	RoomPrivate  RoomType = "p"
	RoomLiveChat RoomType = "l"
)

// Room 是按 t 字段区分的房间。
// 只有 chat 和 private 房间有名字，只有 private 房间有只读标记。
type Room struct {
	Type     RoomType `json:"t"`
	ID       string   `json:"_id"`
	Name     string   `json:"name,omitempty"`
	Topic    string   `json:"topic,omitempty"`
	Muted    []string `json:"muted,omitempty"`
	ReadOnly bool     `json:"ro,omitempty"`
}

func (room *Room) UnmarshalJSON(data []byte) error {
	type plain Room
	var raw plain
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case RoomChat, RoomPrivate:
		if raw.Name == "" {
			return fmt.Errorf("room %s: type %q requires a name", raw.ID, raw.Type)
		}
	case RoomDirect, RoomLiveChat:
		raw.Name = ""
	default:
		return fmt.Errorf("room %s: unknown type %q", raw.ID, raw.Type)
	}
	if raw.ID == "" {
		return fmt.Errorf("room without _id")
	}
	if raw.Type != RoomPrivate {
		raw.ReadOnly = false
	}
	if raw.Type != RoomChat && raw.Type != RoomPrivate {
		raw.Topic = ""
		raw.Muted = nil
	}
	*room = Room(raw)
	return nil
}

// Named 判断房间是否有名字
func (room *Room) Named() bool {
	return room.Type == RoomChat || room.Type == RoomPrivate
}

// LoginResult 是 DDP login 的结果
type LoginResult struct {
	ID           string    `json:"id"`
	Token        string    `json:"token"`
	TokenExpires Timestamp `json:"tokenExpires"`
	Type         string    `json:"type,omitempty"`
}

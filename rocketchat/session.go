package rocketchat

import "context"

// Session 缓存登录用户可见的房间
type Session struct {
	Rooms []Room
}

// NewSession 通过 rooms/get 加载房间
func NewSession(ctx context.Context, client *Client) (*Session, error) {
	rooms, err := client.Rooms(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{Rooms: rooms}, nil
}

// RoomByID 按 id 查找房间
func (s *Session) RoomByID(id string) (*Room, bool) {
	for i := range s.Rooms {
		if s.Rooms[i].ID == id {
			return &s.Rooms[i], true
		}
	}
	return nil, false
}

// RoomByName 按名字查找房间，只匹配 chat 和 private 房间
func (s *Session) RoomByName(name string) (*Room, bool) {
	for i := range s.Rooms {
		if s.Rooms[i].Named() && s.Rooms[i].Name == name {
			return &s.Rooms[i], true
		}
	}
	return nil, false
}

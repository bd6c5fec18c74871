package domain

// Roster 是某个房间当前在线用户的快照。
type Roster struct {
	Room  string   `json:"room"`
	Count int      `json:"count"`
	Names []string `json:"users"`
}

// Reactions 是消息的表情多重集合: emoji -> 次数
type Reactions map[string]int64

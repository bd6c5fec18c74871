package redisstate

import "fmt"

// --- Key Generation Helpers ---

func reactionsKey(prefix, room, messageID string) string {
	return fmt.Sprintf("%sroom:%s:msg:%s:reactions", prefix, room, messageID)
}

func rosterKey(prefix, room string) string {
	return fmt.Sprintf("%sroom:%s:roster", prefix, room)
}

func normalizePrefix(keyPrefix string) string {
	if keyPrefix == "" {
		return "chat:" // 默认前缀
	}
	return keyPrefix
}

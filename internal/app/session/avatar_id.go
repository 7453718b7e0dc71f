package session

import (
	"strings"

	"liveavatar-agent-golang/constants"
)

// ResolveAvatarID 从房间名解析数字人 id
// 房间名格式 liveavatar-<avatar id>-<x>-<y>，至少 4 段才解析，否则用默认值
func ResolveAvatarID(roomName, defaultID string) string {
	if strings.HasPrefix(roomName, constants.RoomPrefix) {
		parts := strings.Split(roomName, "-")
		if len(parts) >= 4 {
			if id := strings.Join(parts[1:len(parts)-2], "-"); id != "" {
				return id
			}
		}
	}
	return defaultID
}

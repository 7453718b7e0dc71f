package worker

import (
	"context"

	"liveavatar-agent-golang/internal/domain/rtc"
)

// ConnectedRoom 已加入的房间
type ConnectedRoom interface {
	rtc.Room
	// 房间断开后关闭
	Disconnected() <-chan struct{}
	Disconnect()
}

// RoomConnector 以 agent 身份加入房间
type RoomConnector interface {
	Connect(ctx context.Context, roomName, identity, name string) (ConnectedRoom, error)
}

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveAvatarID(t *testing.T) {
	const def = "josh_lite3_20230714"
	tests := []struct {
		room string
		want string
	}{
		{room: "liveavatar-josh-lite3-sessionid-extra", want: "josh-lite3"},
		{room: "liveavatar-josh_lite3-sess123-abc", want: "josh_lite3"},
		{room: "liveavatar-josh-extra", want: def},
		{room: "liveavatar-a-b", want: def},
		{room: "random-room", want: def},
		{room: "random-josh-a-b", want: def},
		{room: "liveavatar--a-b", want: def},
		{room: "liveavatar-anna-x-y", want: "anna"},
		{room: "", want: def},
	}
	for _, tt := range tests {
		t.Run(tt.room, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveAvatarID(tt.room, def))
		})
	}
}

func TestResolveAvatarIDCustomDefault(t *testing.T) {
	assert.Equal(t, "custom_avatar", ResolveAvatarID("liveavatar-josh-extra", "custom_avatar"))
}

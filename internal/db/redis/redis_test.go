package redis

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func miniConfig(t *testing.T) *Config {
	s := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Host = s.Host()
	port, err := strconv.Atoi(s.Port())
	require.NoError(t, err)
	cfg.Port = port
	return cfg
}

func TestInitAndClose(t *testing.T) {
	client, err := Init(context.Background(), miniConfig(t))
	require.NoError(t, err)
	assert.Same(t, client, GetClient())

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	assert.Equal(t, "v", client.Get(context.Background(), "k").Val())

	require.NoError(t, Close())
	assert.Nil(t, GetClient())
	assert.NoError(t, Close())
}

func TestInitUnreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 1
	cfg.MaxRetries = -1
	_, err := Init(context.Background(), cfg)
	assert.Error(t, err)
}

func TestGetKeyWithPrefix(t *testing.T) {
	assert.Equal(t, "liveavatar:webhook:EV_1", GetKeyWithPrefix("liveavatar:webhook", "EV_1"))
	assert.Equal(t, "EV_1", GetKeyWithPrefix("", "EV_1"))
}

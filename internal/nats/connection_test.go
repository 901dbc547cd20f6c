package nats

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConnectionConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("HERALD_NATS_URL", "")
		config := LoadConnectionConfig()
		assert.Equal(t, nats.DefaultURL, config.URL)
		assert.Equal(t, "herald", config.Name)
		assert.Equal(t, 10, config.MaxReconnects)
	})

	t.Run("env", func(t *testing.T) {
		t.Setenv("HERALD_NATS_URL", "nats://bus:4222")
		t.Setenv("HERALD_NATS_NAME", "herald-worker")
		t.Setenv("HERALD_NATS_MAX_RECONNECTS", "-1")
		t.Setenv("HERALD_NATS_TOKEN", "s3cret")
		config := LoadConnectionConfig()
		assert.Equal(t, "nats://bus:4222", config.URL)
		assert.Equal(t, "herald-worker", config.Name)
		assert.Equal(t, -1, config.MaxReconnects)
		assert.Equal(t, "s3cret", config.Token)
	})
}

func TestConnect_InvalidConfig(t *testing.T) {
	_, err := Connect(context.Background(), nil, nil)
	assert.Error(t, err)

	_, err = Connect(context.Background(), &ConnectionConfig{}, nil)
	assert.Error(t, err)
}

func TestConnect_Unreachable(t *testing.T) {
	config := DefaultConnectionConfig("nats://127.0.0.1:1")
	config.Timeout = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Connect(ctx, config, nil)
	require.Error(t, err)
	assert.Nil(t, conn)
}

func TestNilConnection(t *testing.T) {
	assert.NoError(t, Close(nil))
	assert.False(t, IsConnected(nil))
}

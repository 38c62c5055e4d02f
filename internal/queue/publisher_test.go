package queue

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDialConfig_BoundsConnect(t *testing.T) {
	cfg := dialConfig()
	require.NotNil(t, cfg.Dial)
	assert.Equal(t, 10*time.Second, cfg.Heartbeat)
	assert.Equal(t, "en_US", cfg.Locale)
}

func TestPublish_BrokerDownReturnsError(t *testing.T) {
	// grab a free port and close it so nothing listens there
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	p := NewPublisher("amqp://guest:guest@"+addr+"/", "", zap.NewNop())
	defer p.Close()

	start := time.Now()
	err = p.Publish(context.Background(), ReservationEvent{Type: EventReserved, ReservationID: 1})
	require.Error(t, err)
	assert.Less(t, time.Since(start), DialTimeout+time.Second)
	assert.Nil(t, p.ch)
	assert.Equal(t, DefaultQueue, p.queue)
}

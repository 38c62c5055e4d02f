package queue

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DialTimeout bounds the TCP connect and AMQP handshake. amqp.Dial would
// otherwise wait 30s on an unreachable broker.
const DialTimeout = 5 * time.Second

// dialConfig is the connection config used by the publisher and consumer.
func dialConfig() amqp.Config {
	return amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(DialTimeout),
	}
}

func dial(url string) (*amqp.Connection, error) {
	return amqp.DialConfig(url, dialConfig())
}

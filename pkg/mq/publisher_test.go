package mq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

// Producer and consumer both declare the notification queue; a broker
// rejects inequivalent re-declares, so the arguments must come out of
// QueueArgs identically on both sides.
func TestQueueArgs(t *testing.T) {
	assert.Equal(t, amqp.Table{"x-dead-letter-exchange": "notifications.dlx"}, QueueArgs("notifications.dlx"))
	assert.Nil(t, QueueArgs(""))
}

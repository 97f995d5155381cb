package amqp

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ibs-source/queue-resender/internal/message"
)

// Headers carrying message attributes AMQP has no property for
const (
	headerDMQEligible  = "x-dmq-eligible"
	headerDeliveryMode = "x-delivery-mode"
	headerDeath        = "x-death"
)

// encodePublishing maps msg onto AMQP properties. Direct messages are sent
// transient; the exact mode is kept in a header.
func encodePublishing(msg *message.Message) amqp.Publishing {
	mode := msg.DeliveryMode
	if mode == "" {
		mode = message.Persistent
	}

	headers := amqp.Table{
		headerDMQEligible:  msg.DMQEligible,
		headerDeliveryMode: string(mode),
	}
	for k, v := range msg.Properties {
		headers[k] = v
	}

	pub := amqp.Publishing{
		Headers:      headers,
		DeliveryMode: amqp.Transient,
		MessageId:    msg.ID,
		Priority:     msg.Priority,
		Timestamp:    msg.SenderTime,
		Body:         msg.Payload,
	}
	if mode == message.Persistent {
		pub.DeliveryMode = amqp.Persistent
	}
	if msg.TimeToLive > 0 {
		pub.Expiration = strconv.FormatInt(msg.TimeToLive.Milliseconds(), 10)
	}
	return pub
}

// decodeDelivery builds the broker-neutral message of d
func decodeDelivery(d amqp.Delivery) *message.Message {
	msg := &message.Message{
		ID:           d.MessageId,
		Payload:      d.Body,
		Destination:  originalDestination(d),
		DeliveryMode: message.NonPersistent,
		DMQEligible:  true,
		Priority:     d.Priority,
		SenderTime:   d.Timestamp,
	}
	if msg.ID == "" {
		msg.ID = strconv.FormatUint(d.DeliveryTag, 10)
	}
	if d.DeliveryMode == amqp.Persistent {
		msg.DeliveryMode = message.Persistent
	}
	if ms, err := strconv.ParseInt(d.Expiration, 10, 64); err == nil && ms > 0 {
		msg.TimeToLive = time.Duration(ms) * time.Millisecond
	}

	for k, v := range d.Headers {
		switch {
		case k == headerDMQEligible:
			if b, ok := v.(bool); ok {
				msg.DMQEligible = b
			}
		case k == headerDeliveryMode:
			if s, ok := v.(string); ok {
				if mode, err := message.ParseDeliveryMode(s); err == nil {
					msg.DeliveryMode = mode
				}
			}
		case brokerHeader(k):
		default:
			if msg.Properties == nil {
				msg.Properties = make(map[string]string)
			}
			msg.Properties[k] = headerString(v)
		}
	}
	return msg
}

// originalDestination is the queue a delivery was first sent to. A
// dead-lettered message names it in its most recent x-death entry, a message
// published through the default exchange in its routing key. Anything routed
// by another exchange came through a subscription and has no known queue.
func originalDestination(d amqp.Delivery) *message.Destination {
	if deaths, ok := d.Headers[headerDeath].([]interface{}); ok && len(deaths) > 0 {
		if entry, ok := deaths[0].(amqp.Table); ok {
			if q, ok := entry["queue"].(string); ok && q != "" {
				return message.Queue(q)
			}
		}
	}
	if d.Exchange == "" {
		if d.RoutingKey == "" {
			return nil
		}
		return message.Queue(d.RoutingKey)
	}
	return message.Topic(d.Exchange + "/" + d.RoutingKey)
}

// brokerHeader reports headers added by RabbitMQ dead-lettering
func brokerHeader(k string) bool {
	return k == headerDeath || strings.HasPrefix(k, "x-first-death-") || strings.HasPrefix(k, "x-last-death-")
}

func headerString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	}
	return fmt.Sprint(v)
}

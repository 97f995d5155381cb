package redis

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibs-source/queue-resender/internal/message"
)

func TestEncodeFields(t *testing.T) {
	sent := time.UnixMilli(1700000000123)
	msg := &message.Message{
		Payload:      []byte("hello"),
		Destination:  message.Queue("Q2"),
		DeliveryMode: message.NonPersistent,
		TimeToLive:   1500 * time.Millisecond,
		DMQEligible:  true,
		Properties:   map[string]string{"x-resent-from": "Q1"},
		SenderTime:   sent,
	}

	values := encodeFields(msg)

	assert.Equal(t, map[string]interface{}{
		"payload":            "hello",
		"dest":               "Q2",
		"dest_kind":          "queue",
		"delivery_mode":      "non-persistent",
		"ttl_ms":             "1500",
		"dmq_eligible":       "true",
		"sender_ts":          "1700000000123",
		"prop:x-resent-from": "Q1",
	}, values)
}

func TestEncodeFields_Defaults(t *testing.T) {
	values := encodeFields(&message.Message{Payload: []byte("x")})

	assert.Equal(t, "persistent", values[fieldDeliveryMode])
	assert.Equal(t, "0", values[fieldTTL])
	assert.NotContains(t, values, fieldDest)
	assert.NotContains(t, values, fieldSenderTime)
}

func TestDecodeEntry(t *testing.T) {
	e := redis.XMessage{
		ID: "1700000000000-0",
		Values: map[string]interface{}{
			"payload":       "hello",
			"dest":          "orders/created",
			"dest_kind":     "topic",
			"delivery_mode": "direct",
			"ttl_ms":        "2000",
			"dmq_eligible":  "false",
			"sender_ts":     "1700000000123",
			"prop:trace":    "abc",
			"unrelated":     "ignored",
		},
	}

	msg := decodeEntry(e)

	assert.Equal(t, "1700000000000-0", msg.ID)
	assert.Equal(t, []byte("hello"), msg.Payload)
	require.NotNil(t, msg.Destination)
	assert.Equal(t, message.KindTopic, msg.Destination.Kind)
	_, ok := msg.OriginalQueue()
	assert.False(t, ok)
	assert.Equal(t, message.Direct, msg.DeliveryMode)
	assert.Equal(t, 2*time.Second, msg.TimeToLive)
	assert.False(t, msg.DMQEligible)
	assert.Equal(t, int64(1700000000123), msg.SenderTime.UnixMilli())
	assert.Equal(t, map[string]string{"trace": "abc"}, msg.Properties)
}

func TestDecodeEntry_Malformed(t *testing.T) {
	msg := decodeEntry(redis.XMessage{
		ID: "1-0",
		Values: map[string]interface{}{
			"dest":          "Q1",
			"delivery_mode": "bogus",
			"ttl_ms":        "soon",
			"dmq_eligible":  "maybe",
		},
	})

	q, ok := msg.OriginalQueue()
	assert.True(t, ok, "missing dest_kind is a queue")
	assert.Equal(t, "Q1", q)
	assert.Equal(t, message.Persistent, msg.DeliveryMode)
	assert.Zero(t, msg.TimeToLive)
	assert.False(t, msg.DMQEligible)
	assert.Nil(t, msg.Properties)
}

func TestDecodeEntry_NoDestination(t *testing.T) {
	msg := decodeEntry(redis.XMessage{ID: "1-0", Values: map[string]interface{}{"payload": "x"}})
	assert.Nil(t, msg.Destination)
}

func TestCodec_RoundTrip(t *testing.T) {
	orig := &message.Message{
		Payload:      []byte{0x00, 0xff, 'a'},
		Destination:  message.Queue("Q2"),
		DeliveryMode: message.Persistent,
		DMQEligible:  true,
		Properties:   map[string]string{"k": "v"},
	}

	values := encodeFields(orig)
	got := decodeEntry(redis.XMessage{ID: "5-1", Values: values})

	assert.Equal(t, orig.Payload, got.Payload)
	assert.Equal(t, orig.Destination, got.Destination)
	assert.Equal(t, orig.Properties, got.Properties)
	assert.True(t, got.DMQEligible)
}

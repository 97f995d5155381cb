package redis

import (
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ibs-source/queue-resender/internal/message"
)

// Stream entry fields
const (
	fieldPayload      = "payload"
	fieldDest         = "dest"
	fieldDestKind     = "dest_kind"
	fieldDeliveryMode = "delivery_mode"
	fieldTTL          = "ttl_ms"
	fieldDMQ          = "dmq_eligible"
	fieldSenderTime   = "sender_ts"
	propPrefix        = "prop:"
)

// encodeFields flattens msg into stream entry values
func encodeFields(msg *message.Message) map[string]interface{} {
	values := make(map[string]interface{}, 7+len(msg.Properties))
	values[fieldPayload] = string(msg.Payload)
	if msg.Destination != nil {
		values[fieldDest] = msg.Destination.Name
		values[fieldDestKind] = string(msg.Destination.Kind)
	}
	mode := msg.DeliveryMode
	if mode == "" {
		mode = message.Persistent
	}
	values[fieldDeliveryMode] = string(mode)
	values[fieldTTL] = strconv.FormatInt(msg.TimeToLive.Milliseconds(), 10)
	values[fieldDMQ] = strconv.FormatBool(msg.DMQEligible)
	if !msg.SenderTime.IsZero() {
		values[fieldSenderTime] = strconv.FormatInt(msg.SenderTime.UnixMilli(), 10)
	}
	for k, v := range msg.Properties {
		values[propPrefix+k] = v
	}
	return values
}

// decodeEntry rebuilds a message from a stream entry. Unknown or malformed
// attribute fields fall back to their zero value; the entry ID becomes the
// message ID.
func decodeEntry(e redis.XMessage) *message.Message {
	msg := &message.Message{
		ID:           e.ID,
		DeliveryMode: message.Persistent,
	}

	var dest, kind string
	for k, raw := range e.Values {
		v, ok := raw.(string)
		if !ok {
			continue
		}
		switch k {
		case fieldPayload:
			msg.Payload = []byte(v)
		case fieldDest:
			dest = v
		case fieldDestKind:
			kind = v
		case fieldDeliveryMode:
			if mode, err := message.ParseDeliveryMode(v); err == nil {
				msg.DeliveryMode = mode
			}
		case fieldTTL:
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
				msg.TimeToLive = time.Duration(ms) * time.Millisecond
			}
		case fieldDMQ:
			msg.DMQEligible, _ = strconv.ParseBool(v)
		case fieldSenderTime:
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
				msg.SenderTime = time.UnixMilli(ms)
			}
		default:
			if name, found := strings.CutPrefix(k, propPrefix); found {
				if msg.Properties == nil {
					msg.Properties = make(map[string]string)
				}
				msg.Properties[name] = v
			}
		}
	}

	if dest != "" {
		switch message.DestinationKind(kind) {
		case message.KindTopic:
			msg.Destination = message.Topic(dest)
		default:
			msg.Destination = message.Queue(dest)
		}
	}
	return msg
}

// Package message provides the broker-neutral message model shared by the resend engine and the broker backends.
package message

import (
	"fmt"
	"time"
)

// Payload is the canonical alias for raw message body
type Payload = []byte

// DestinationKind tells whether a destination is a queue or a topic
type DestinationKind string

const (
	// KindQueue is a point-to-point queue destination
	KindQueue DestinationKind = "queue"
	// KindTopic is a publish/subscribe topic destination
	KindTopic DestinationKind = "topic"
)

// DeliveryMode mirrors the broker delivery guarantees of a message
type DeliveryMode string

const (
	// Persistent messages are spooled by the broker
	Persistent DeliveryMode = "persistent"
	// NonPersistent messages are guaranteed but not spooled to disk
	NonPersistent DeliveryMode = "non-persistent"
	// Direct messages are best effort
	Direct DeliveryMode = "direct"
)

// ParseDeliveryMode converts a configuration string into a DeliveryMode
func ParseDeliveryMode(s string) (DeliveryMode, error) {
	switch DeliveryMode(s) {
	case Persistent, NonPersistent, Direct:
		return DeliveryMode(s), nil
	}
	return "", fmt.Errorf("unknown delivery mode %q", s)
}

// Destination is the place a message was originally published to
type Destination struct {
	Name string
	Kind DestinationKind
}

// Queue returns a queue destination
func Queue(name string) *Destination {
	return &Destination{Name: name, Kind: KindQueue}
}

// Topic returns a topic destination
func Topic(name string) *Destination {
	return &Destination{Name: name, Kind: KindTopic}
}

func (d *Destination) String() string {
	if d == nil {
		return "<none>"
	}
	return string(d.Kind) + ":" + d.Name
}

// Message is a message delivered by the broker to a consumer binding.
// It is treated as immutable once received.
type Message struct {
	ID           string
	Payload      Payload
	Destination  *Destination
	DeliveryMode DeliveryMode
	TimeToLive   time.Duration // 0 means no expiry
	DMQEligible  bool
	Priority     uint8
	Properties   map[string]string
	SenderTime   time.Time
}

// OriginalQueue returns the queue the message was originally sent to.
// ok is false when the message was attracted through a topic subscription.
func (m *Message) OriginalQueue() (name string, ok bool) {
	if m.Destination == nil || m.Destination.Kind != KindQueue {
		return "", false
	}
	return m.Destination.Name, true
}

// ResendOptions are the attributes overridden on every resent message
type ResendOptions struct {
	TimeToLive   time.Duration
	DMQEligible  bool
	DeliveryMode DeliveryMode
	// Annotations are added to the clone's properties, replacing existing keys.
	Annotations map[string]string
}

// Clone builds the message to resend to target. Payload and properties are
// copied so the clone never aliases buffers owned by the received message.
// The sender timestamp and priority are kept as in the original message.
func (m *Message) Clone(opts ResendOptions, target string) *Message {
	payload := make([]byte, len(m.Payload))
	copy(payload, m.Payload)

	props := make(map[string]string, len(m.Properties)+len(opts.Annotations))
	for k, v := range m.Properties {
		props[k] = v
	}
	for k, v := range opts.Annotations {
		props[k] = v
	}

	mode := opts.DeliveryMode
	if mode == "" {
		mode = Persistent
	}

	return &Message{
		ID:           m.ID,
		Payload:      payload,
		Destination:  Queue(target),
		DeliveryMode: mode,
		TimeToLive:   opts.TimeToLive,
		DMQEligible:  opts.DMQEligible,
		Priority:     m.Priority,
		Properties:   props,
		SenderTime:   m.SenderTime,
	}
}

// Dump renders the message for debug logging, truncating the payload preview
func (m *Message) Dump(maxPayload int) string {
	preview := m.Payload
	suffix := ""
	if maxPayload > 0 && len(preview) > maxPayload {
		preview = preview[:maxPayload]
		suffix = "..."
	}
	return fmt.Sprintf("id=%s destination=%s mode=%s ttl=%s dmq=%t props=%v size=%d payload=%q%s",
		m.ID, m.Destination, m.DeliveryMode, m.TimeToLive, m.DMQEligible, m.Properties, len(m.Payload), preview, suffix)
}

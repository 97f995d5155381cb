package mqtt

import (
	"context"
	"fmt"

	"github.com/ibs-source/queue-resender/internal/message"
	"github.com/ibs-source/queue-resender/internal/resend"
)

// Publisher sends raw payloads to the report topic
type Publisher interface {
	Publish(ctx context.Context, payload message.Payload) error
	Close() error
}

// Reporter publishes run outcomes
type Reporter struct {
	pub Publisher
}

// NewReporter wraps pub
func NewReporter(pub Publisher) *Reporter {
	return &Reporter{pub: pub}
}

// Report encodes out and publishes it
func (r *Reporter) Report(ctx context.Context, out resend.Outcome) error {
	if err := r.pub.Publish(ctx, EncodeOutcome(out)); err != nil {
		return fmt.Errorf("publish outcome of run %s: %w", out.RunID, err)
	}
	return nil
}

// Close closes the underlying publisher
func (r *Reporter) Close() error {
	return r.pub.Close()
}

// Ensure Client implements Publisher
var _ Publisher = (*Client)(nil)
